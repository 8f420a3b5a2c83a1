package refresh

import "time"

// Outcome classifies what happened to one candidate during a cycle.
type Outcome string

const (
	// OutcomeUpdated means a new combined rating was written back.
	OutcomeUpdated Outcome = "updated"
	// OutcomeSkipped means the item was left unchanged: no usable
	// ratings, sources rate limited, or the stored rating already
	// matched the combined value.
	OutcomeSkipped Outcome = "skipped"
	// OutcomeFailed means the library store rejected the write.
	OutcomeFailed Outcome = "failed"
)

// ItemResult records the per-item outcome for the run report.
type ItemResult struct {
	ItemID  int64   `json:"itemId"`
	Title   string  `json:"title"`
	Outcome Outcome `json:"outcome"`
	Reason  string  `json:"reason,omitempty"`
	Rating  float64 `json:"rating,omitempty"`
	Votes   int64   `json:"votes,omitempty"`
}

// Report summarizes one refresh cycle for the log viewer and the run
// history.
type Report struct {
	RunID      string       `json:"runId"`
	Trigger    string       `json:"trigger"`
	StartedAt  time.Time    `json:"startedAt"`
	FinishedAt time.Time    `json:"finishedAt"`
	Selected   int          `json:"selected"`
	Updated    int          `json:"updated"`
	Skipped    int          `json:"skipped"`
	Failed     int          `json:"failed"`
	Items      []ItemResult `json:"items,omitempty"`
}

func (r *Report) record(res ItemResult) {
	r.Items = append(r.Items, res)
	switch res.Outcome {
	case OutcomeUpdated:
		r.Updated++
	case OutcomeSkipped:
		r.Skipped++
	case OutcomeFailed:
		r.Failed++
	}
}
