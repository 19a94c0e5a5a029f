package models

import "time"

// CategoryState is a step of the per-category harvest state machine.
type CategoryState string

const (
	StatePending    CategoryState = "pending"
	StateFetching   CategoryState = "fetching"
	StateExtracting CategoryState = "extracting"
	StateValidating CategoryState = "validating"
	StatePersisting CategoryState = "persisting"
	StateDone       CategoryState = "done"
	StateFailed     CategoryState = "failed"
)

// CategoryOutcome summarises one category job after a run.
type CategoryOutcome struct {
	Name       string
	State      CategoryState
	Reason     string
	Err        error `json:"-"`
	Pages      int
	Extracted  int
	Rejected   int
	Duplicates int
	New        int
	Updated    int
	Prices     int
	Duration   time.Duration
}

// RunResult holds the overall result of a harvest run.
type RunResult struct {
	RunID      string
	StartTime  time.Time
	EndTime    time.Time
	Categories []CategoryOutcome
}

// Succeeded reports whether every category reached StateDone.
func (r *RunResult) Succeeded() bool {
	for _, c := range r.Categories {
		if c.State != StateDone {
			return false
		}
	}
	return true
}

// Totals aggregates record counts across categories.
func (r *RunResult) Totals() (done, failed, newProducts, updated, prices int) {
	for _, c := range r.Categories {
		if c.State == StateDone {
			done++
		} else {
			failed++
		}
		newProducts += c.New
		updated += c.Updated
		prices += c.Prices
	}
	return done, failed, newProducts, updated, prices
}
