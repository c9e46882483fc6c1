package charter

// Paging bounds for list operations.
const (
	DefaultPageLimit = 50
	MaxPageLimit     = 500
)

// Page is one window of a listing.
type Page[T any] struct {
	Items  []T `json:"items"`
	Total  int `json:"total"`
	Count  int `json:"count"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
	// Remaining is the number of matching items after this page.
	Remaining int `json:"remaining"`
}

func clampPage(limit, offset int) (int, int) {
	switch {
	case limit <= 0:
		limit = DefaultPageLimit
	case limit > MaxPageLimit:
		limit = MaxPageLimit
	}
	return limit, max(0, offset)
}

func newPage[T any](items []T, total, limit, offset int) *Page[T] {
	if items == nil {
		items = []T{}
	}
	return &Page[T]{
		Items:     items,
		Total:     total,
		Count:     len(items),
		Limit:     limit,
		Offset:    offset,
		Remaining: max(0, total-offset-len(items)),
	}
}
