package api

import "time"

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

type Finding struct {
	ResourceID     string   `json:"resource_id"`
	ResourceType   string   `json:"resource_type"`
	Issue          string   `json:"issue"`
	Recommendation string   `json:"recommendation,omitempty"`
	Severity       Severity `json:"severity"`
}

type StartRunRequest struct {
	CheckID string `json:"check_id"`
	Scope   string `json:"scope,omitempty"`
}

type StartRunResponse struct {
	RunID string `json:"run_id"`
}

type StartBatchRequest struct {
	CheckIDs []string `json:"check_ids"`
}

type StartBatchResponse struct {
	BatchID string   `json:"batch_id"`
	RunIDs  []string `json:"run_ids"`
}

type Run struct {
	ID         string     `json:"id"`
	BatchID    string     `json:"batch_id,omitempty"`
	AccountID  string     `json:"account_id"`
	CheckID    string     `json:"check_id,omitempty"`
	Scope      string     `json:"scope,omitempty"`
	Status     string     `json:"status"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Error      *string    `json:"error,omitempty"`
}

type CurrentResult struct {
	CheckID          string    `json:"check_id"`
	Scope            string    `json:"scope"`
	RunID            string    `json:"run_id"`
	Findings         []Finding `json:"findings"`
	ResourcesScanned int       `json:"resources_scanned"`
	ScannedAt        time.Time `json:"scanned_at"`
}

type HistoryEntry struct {
	RunID            string    `json:"run_id"`
	Findings         []Finding `json:"findings"`
	ResourcesScanned int       `json:"resources_scanned"`
	Score            int       `json:"score"`
	ScannedAt        time.Time `json:"scanned_at"`
	Partial          bool      `json:"partial,omitempty"`
	Reconstructed    bool      `json:"reconstructed,omitempty"`
}

type CheckList struct {
	Checks []string `json:"checks"`
}
