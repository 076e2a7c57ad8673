package store

import "time"

// Finding is the persisted copy of a domain finding. Stored records own
// their findings in full; nothing is shared with the run that wrote them.
type Finding struct {
	ResourceID     string `json:"resource_id"`
	ResourceType   string `json:"resource_type"`
	Issue          string `json:"issue"`
	Recommendation string `json:"recommendation"`
	Severity       int    `json:"severity"`
}

// CurrentRecord is the latest-state view for one (account, check, scope).
// It is overwritten in full on every new run of that check; the write is
// last-writer-wins and its timestamp must never regress.
type CurrentRecord struct {
	AccountID        string
	CheckID          string
	Scope            string
	RunID            string
	Findings         []Finding
	ResourcesScanned int
	ScannedAt        time.Time
}

// ItemRecord is the latest state of one audited resource under a check.
// One is written per finding-bearing resource; the run id records which
// run produced it.
type ItemRecord struct {
	AccountID  string
	CheckID    string
	Scope      string
	ResourceID string
	RunID      string
	Finding    Finding
	ScannedAt  time.Time
}

// HistoryRecord is the append-only view, one per (account, check, scope,
// run). Immutable once written. Reconstructed marks records rebuilt by the
// repairer from surviving item records rather than written by the run.
type HistoryRecord struct {
	AccountID        string
	CheckID          string
	Scope            string
	RunID            string
	Findings         []Finding
	ResourcesScanned int
	Score            int
	ScannedAt        time.Time
	Partial          bool
	Reconstructed    bool
}

// RunRecord is the ledger row for one run. The ledger is the authority on
// whether a run is known to have completed.
type RunRecord struct {
	ID         string
	BatchID    string
	AccountID  string
	CheckID    string
	Scope      string
	Status     string
	StartedAt  time.Time
	FinishedAt *time.Time
	Error      *string
}
