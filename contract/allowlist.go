package contract

import (
	"encoding/json"
	"slices"

	"github.com/xraph/charter/wallet"
)

// AllowList restricts which wallets may subscribe to an offer.
//
// A nil *AllowList means the offer is unrestricted. A non-nil, empty list
// means nobody may subscribe. The two states must never be conflated.
type AllowList struct {
	members []wallet.ID
}

// NewAllowList builds a sorted, de-duplicated allow list. Calling it with no
// arguments yields the empty "nobody" list, not an unrestricted one.
func NewAllowList(ids ...wallet.ID) *AllowList {
	members := slices.Clone(ids)
	slices.Sort(members)
	return &AllowList{members: slices.Compact(members)}
}

// Permits reports membership. A nil list permits everyone.
func (a *AllowList) Permits(w wallet.ID) bool {
	if a == nil {
		return true
	}
	_, found := slices.BinarySearch(a.members, w)
	return found
}

// Members returns a copy of the member IDs in ascending order.
func (a *AllowList) Members() []wallet.ID {
	if a == nil {
		return nil
	}
	return slices.Clone(a.members)
}

// Len returns the number of members. A nil list reports zero.
func (a *AllowList) Len() int {
	if a == nil {
		return 0
	}
	return len(a.members)
}

// MarshalJSON encodes the list as a JSON array ([] for the empty list).
func (a AllowList) MarshalJSON() ([]byte, error) {
	if a.members == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(a.members)
}

// UnmarshalJSON decodes a JSON array of wallet IDs.
func (a *AllowList) UnmarshalJSON(data []byte) error {
	var ids []wallet.ID
	if err := json.Unmarshal(data, &ids); err != nil {
		return err
	}
	*a = *NewAllowList(ids...)
	return nil
}
