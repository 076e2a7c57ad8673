package domain

import "time"

type RunStatus string

const (
	RunStatusPending    RunStatus = "PENDING"
	RunStatusInProgress RunStatus = "IN_PROGRESS"
	RunStatusCompleted  RunStatus = "COMPLETED"
	RunStatusFailed     RunStatus = "FAILED"
)

// Terminal reports whether the status is final. Terminal runs are immutable.
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed
}

type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Finding is one discovered issue. Findings are owned by the run that
// produced them and are copied, never referenced, into persisted records.
type Finding struct {
	ResourceID     string
	ResourceType   string
	Issue          string
	Recommendation string
	Severity       Severity
}

// RunScope selects which checks a run executes and the sub-scope the
// resulting records are filed under. An empty CheckID means a full sweep
// over the catalog. An empty Scope defaults to the account id.
type RunScope struct {
	CheckID string
	Scope   string
}

func (s RunScope) Sweep() bool { return s.CheckID == "" }

// Run is one execution of a check or check-set against one account.
// It is owned by the run controller for its lifetime and becomes immutable
// once Status is terminal.
type Run struct {
	ID               string
	BatchID          string
	AccountID        string
	Scope            RunScope
	Status           RunStatus
	StartedAt        time.Time
	FinishedAt       time.Time
	Duration         time.Duration
	CredentialRef    string
	Findings         []Finding
	ResourcesScanned int
	Partial          bool
	Error            *string
}

// CheckResult is the outcome of one check within a run.
type CheckResult struct {
	CheckID          string
	Scope            string
	Findings         []Finding
	ResourcesScanned int
	CompletedAt      time.Time
}
