package tracker

import "time"

// OutcomeStatus is the final state of one URL in a cycle.
type OutcomeStatus string

// Outcome states.
const (
	StatusOK        OutcomeStatus = "ok"
	StatusFailed    OutcomeStatus = "failed"
	StatusCancelled OutcomeStatus = "cancelled"
	StatusSkipped   OutcomeStatus = "skipped"
)

// Outcome reports what happened to one product URL.
type Outcome struct {
	Product     string        `json:"product_name"`
	URL         string        `json:"url"`
	Domain      string        `json:"domain,omitempty"`
	Status      OutcomeStatus `json:"status"`
	Observation *Observation  `json:"observation,omitempty"`
	Baseline    bool          `json:"baseline,omitempty"`
	Persisted   bool          `json:"persisted"`
	Class       Class         `json:"error_class,omitempty"`
	Kind        Kind          `json:"error_kind,omitempty"`
	Error       string        `json:"error,omitempty"`
	Attempts    int           `json:"attempts"`
	Cached      bool          `json:"cached,omitempty"`
	SnapshotURI string        `json:"snapshot_uri,omitempty"`
	Alerts      []Alert       `json:"alerts,omitempty"`
}

// Summary aggregates outcome counters.
type Summary struct {
	Total                int `json:"total"`
	Succeeded            int `json:"succeeded"`
	Failed               int `json:"failed"`
	Cancelled            int `json:"cancelled"`
	Skipped              int `json:"skipped"`
	Alerts               int `json:"alerts"`
	NotificationFailures int `json:"notification_failures"`
	StoreFailures        int `json:"store_failures"`
}

// CycleReport enumerates the per-URL outcomes of one cycle.
type CycleReport struct {
	ID         string    `json:"id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	TimedOut   bool      `json:"timed_out"`
	Outcomes   []Outcome `json:"outcomes"`
	Summary    Summary   `json:"summary"`
}

// Summarize recomputes the summary counters from the outcomes.
func (r *CycleReport) Summarize(notificationFailures, storeFailures int) {
	s := Summary{
		Total:                len(r.Outcomes),
		NotificationFailures: notificationFailures,
		StoreFailures:        storeFailures,
	}
	for _, o := range r.Outcomes {
		switch o.Status {
		case StatusOK:
			s.Succeeded++
		case StatusFailed:
			s.Failed++
		case StatusCancelled:
			s.Cancelled++
		case StatusSkipped:
			s.Skipped++
		}
		s.Alerts += len(o.Alerts)
	}
	r.Summary = s
}
