package charge

import "time"

// SweepReport summarizes one pass of the billing executor.
type SweepReport struct {
	Scanned  int           `json:"scanned"`
	Charged  int           `json:"charged"`
	Declined int           `json:"declined"`
	Deferred int           `json:"deferred"`
	Lapsed   int           `json:"lapsed"`
	Skipped  int           `json:"skipped"`
	Failed   int           `json:"failed"`
	Elapsed  time.Duration `json:"elapsed"`
}

// Merge adds o's counters into r. Elapsed is left alone.
func (r *SweepReport) Merge(o SweepReport) {
	r.Scanned += o.Scanned
	r.Charged += o.Charged
	r.Declined += o.Declined
	r.Deferred += o.Deferred
	r.Lapsed += o.Lapsed
	r.Skipped += o.Skipped
	r.Failed += o.Failed
}

// Advanced reports whether the sweep moved any billing cursor forward.
func (r SweepReport) Advanced() bool {
	return r.Charged+r.Declined > 0
}
