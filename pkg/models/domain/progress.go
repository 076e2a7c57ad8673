package domain

import "time"

type EventKind string

const (
	EventKindProgress EventKind = "progress"
	EventKindStatus   EventKind = "status"
)

// ProgressEvent is published to the hub as a run advances. Percent is
// monotonically non-decreasing for a given run; a status event for a
// terminal state is always the last event of a run.
type ProgressEvent struct {
	Kind      EventKind `json:"kind"`
	RunID     string    `json:"run_id"`
	BatchID   string    `json:"batch_id,omitempty"`
	CheckID   string    `json:"check_id,omitempty"`
	Percent   int       `json:"percent"`
	Status    RunStatus `json:"status,omitempty"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
