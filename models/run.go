package models

import "time"

type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusAborted   RunStatus = "aborted"
	RunStatusFailed    RunStatus = "failed"
)

type ScrapeRun struct {
	ID         int64        `json:"id" db:"id"`
	SiteID     string       `json:"site_id" db:"site_id"`
	StartedAt  time.Time    `json:"started_at" db:"started_at"`
	FinishedAt *time.Time   `json:"finished_at" db:"finished_at"`
	Status     RunStatus    `json:"status" db:"status"`
	Summary    BatchSummary `json:"summary" db:"summary"`
}

// BatchSummary is what a caller gets back from a batch: counts by outcome, never a single pass/fail.
type BatchSummary struct {
	Discovered  int           `json:"discovered"`
	Fetched     int           `json:"fetched"`
	Extracted   int           `json:"extracted"`
	Normalized  int           `json:"normalized"`
	Geocoded    int           `json:"geocoded"`
	Persisted   int           `json:"persisted"`
	Inserted    int           `json:"inserted"`
	Updated     int           `json:"updated"`
	Skipped     map[Stage]int `json:"skipped"`
	Aborted     bool          `json:"aborted"`
	AbortReason string        `json:"abort_reason,omitempty"`
	Cancelled   bool          `json:"cancelled"`
	Localities  int           `json:"localities"`
	Rated       int           `json:"rated"`
}

func NewBatchSummary() *BatchSummary {
	return &BatchSummary{Skipped: make(map[Stage]int)}
}

func (s *BatchSummary) Skip(stage Stage) {
	if s.Skipped == nil {
		s.Skipped = make(map[Stage]int)
	}
	s.Skipped[stage]++
}

func (s *BatchSummary) SkippedTotal() int {
	total := 0
	for _, n := range s.Skipped {
		total += n
	}
	return total
}

// Add folds another site's summary into s.
func (s *BatchSummary) Add(o *BatchSummary) {
	s.Discovered += o.Discovered
	s.Fetched += o.Fetched
	s.Extracted += o.Extracted
	s.Normalized += o.Normalized
	s.Geocoded += o.Geocoded
	s.Persisted += o.Persisted
	s.Inserted += o.Inserted
	s.Updated += o.Updated
	s.Localities += o.Localities
	s.Rated += o.Rated
	for stage, n := range o.Skipped {
		s.Skipped[stage] += n
	}
	s.Cancelled = s.Cancelled || o.Cancelled
	if o.Aborted {
		s.Aborted = true
		s.AbortReason = o.AbortReason
	}
}
