package pipeline

import (
	"fmt"
	"time"

	"github.com/Sternrassler/census-etl/pkg/census"
	"github.com/google/uuid"
)

// Status is the outcome of one group.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusPartial   Status = "partial"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
	StatusCancelled Status = "cancelled"
)

// GroupResult is the outcome of one group task.
type GroupResult struct {
	Group    string
	Status   Status
	Table    *census.Table
	Rows     int
	Failures []census.UnitError
	Err      error
	Written  bool
	Duration time.Duration
}

// Report gathers the results of a run in the order groups were given.
type Report struct {
	RunID    uuid.UUID
	Started  time.Time
	Finished time.Time
	Results  []GroupResult
}

// Count returns the number of results with status s.
func (r *Report) Count(s Status) int {
	n := 0
	for _, res := range r.Results {
		if res.Status == s {
			n++
		}
	}
	return n
}

// Rows returns the number of rows written to the sink.
func (r *Report) Rows() int {
	n := 0
	for _, res := range r.Results {
		if res.Written {
			n += res.Rows
		}
	}
	return n
}

// Duration returns the wall time of the run.
func (r *Report) Duration() time.Duration {
	return r.Finished.Sub(r.Started)
}

// Err summarises failed and cancelled groups, or returns nil.
func (r *Report) Err() error {
	failed := r.Count(StatusFailed)
	cancelled := r.Count(StatusCancelled)
	if failed == 0 && cancelled == 0 {
		return nil
	}
	for _, res := range r.Results {
		if res.Status == StatusFailed {
			return fmt.Errorf("%d of %d groups failed, %d cancelled (first: %s: %w)",
				failed, len(r.Results), cancelled, res.Group, res.Err)
		}
	}
	return fmt.Errorf("%d of %d groups cancelled", cancelled, len(r.Results))
}

// Progress is a snapshot of a running pipeline.
type Progress struct {
	RunID    string    `json:"run_id"`
	Started  time.Time `json:"started"`
	Total    int       `json:"total"`
	Done     int       `json:"done"`
	Failed   int       `json:"failed"`
	Rows     int       `json:"rows"`
	Running  []string  `json:"running"`
	Finished bool      `json:"finished"`
}
