package consistency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/de-tools/cloud-sentry/pkg/models/domain"
	"github.com/de-tools/cloud-sentry/pkg/models/store"
	"github.com/de-tools/cloud-sentry/pkg/store/duckdb/runs"
	resultstore "github.com/de-tools/cloud-sentry/pkg/store/result"
)

// DefaultTolerance is the allowed skew between the current-side and
// history-side timestamps of one run before they count as divergent. The
// two writes happen back to back, so anything beyond this means one of
// them is not from the run it claims.
const DefaultTolerance = 60 * time.Second

type IssueKind int

const (
	// IssueMissingHistory: the ledger says the run completed but no history
	// record exists for it.
	IssueMissingHistory IssueKind = iota + 1
	// IssueMissingItems: the history record carries findings but no per-item
	// records exist for the run.
	IssueMissingItems
	// IssueStaleCurrent: the run is the newest completed one for its key but
	// the current record is absent, from another run, or diverges in time.
	IssueStaleCurrent
)

func (k IssueKind) String() string {
	switch k {
	case IssueMissingHistory:
		return "missing_history"
	case IssueMissingItems:
		return "missing_items"
	case IssueStaleCurrent:
		return "stale_current"
	default:
		return "unknown"
	}
}

// Issue is one detected divergence between the run ledger and the stored
// views. Recoverable issues can be repaired from a surviving record;
// unrecoverable ones have no source left and are reported only.
type Issue struct {
	Kind        IssueKind `json:"kind"`
	AccountID   string    `json:"account_id"`
	CheckID     string    `json:"check_id"`
	Scope       string    `json:"scope"`
	RunID       string    `json:"run_id"`
	Detail      string    `json:"detail"`
	Recoverable bool      `json:"recoverable"`
}

type Report struct {
	AccountID  string  `json:"account_id"`
	RunID      string  `json:"run_id"`
	Consistent bool    `json:"consistent"`
	Issues     []Issue `json:"issues,omitempty"`
}

// Validator cross-checks the dual views of the result store against the run
// ledger. It never writes; repairs live on Repairer.
type Validator struct {
	results   resultstore.Store
	ledger    runs.Store
	sweep     []string
	tolerance time.Duration
}

// NewValidator builds a validator. sweepChecks is the catalog's check id
// list, used to expand runs recorded without an explicit check id.
func NewValidator(results resultstore.Store, ledger runs.Store, sweepChecks []string, tolerance time.Duration) *Validator {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return &Validator{
		results:   results,
		ledger:    ledger,
		sweep:     sweepChecks,
		tolerance: tolerance,
	}
}

// ValidateRun inspects every view a completed run should have written.
// Non-completed runs are vacuously consistent: failed runs never promise a
// current-side write and in-flight runs have not written yet.
func (v *Validator) ValidateRun(ctx context.Context, accountID, runID string) (*Report, error) {
	rec, err := v.ledger.GetRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("load run %s: %w", runID, err)
	}
	if rec.AccountID != accountID {
		return nil, fmt.Errorf("run %s belongs to account %s, not %s", runID, rec.AccountID, accountID)
	}

	report := &Report{AccountID: accountID, RunID: runID, Consistent: true}
	if rec.Status != string(domain.RunStatusCompleted) {
		return report, nil
	}

	for _, checkID := range v.runChecks(rec) {
		issues, err := v.validateCheck(ctx, accountID, checkID, v.runScope(rec), runID)
		if err != nil {
			return nil, err
		}
		report.Issues = append(report.Issues, issues...)
	}
	report.Consistent = len(report.Issues) == 0
	return report, nil
}

// ValidateAccount validates the newest completed run per (check, scope).
// Older completed runs only own their history record, which ValidateRun
// checks when asked explicitly; the account-wide pass focuses on the runs
// whose latest-state views must still be live.
func (v *Validator) ValidateAccount(ctx context.Context, accountID string) ([]*Report, error) {
	records, err := v.ledger.ListRuns(ctx, accountID, []string{string(domain.RunStatusCompleted)})
	if err != nil {
		return nil, fmt.Errorf("list completed runs: %w", err)
	}

	type key struct{ checkID, scope string }
	seen := make(map[key]struct{})
	var reports []*Report

	// ListRuns is newest-first, so the first run per key wins.
	for i := range records {
		rec := &records[i]
		k := key{checkID: rec.CheckID, scope: v.runScope(rec)}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}

		report, err := v.ValidateRun(ctx, accountID, rec.ID)
		if err != nil {
			return nil, err
		}
		reports = append(reports, report)
	}
	return reports, nil
}

func (v *Validator) runChecks(rec *store.RunRecord) []string {
	if rec.CheckID != "" {
		return []string{rec.CheckID}
	}
	return v.sweep
}

func (v *Validator) runScope(rec *store.RunRecord) string {
	if rec.Scope != "" {
		return rec.Scope
	}
	return rec.AccountID
}

func (v *Validator) validateCheck(ctx context.Context, accountID, checkID, scope, runID string) ([]Issue, error) {
	issue := func(kind IssueKind, detail string, recoverable bool) Issue {
		return Issue{
			Kind:        kind,
			AccountID:   accountID,
			CheckID:     checkID,
			Scope:       scope,
			RunID:       runID,
			Detail:      detail,
			Recoverable: recoverable,
		}
	}

	hist, err := v.results.FindHistory(ctx, accountID, checkID, scope, runID)
	if errors.Is(err, resultstore.ErrNotFound) {
		recoverable, source, err := v.historySource(ctx, accountID, checkID, scope, runID)
		if err != nil {
			return nil, err
		}
		detail := "completed run has no history record and no surviving source to rebuild it from"
		if recoverable {
			detail = fmt.Sprintf("completed run has no history record; rebuildable from %s", source)
		}
		return []Issue{issue(IssueMissingHistory, detail, recoverable)}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find history %s/%s: %w", checkID, runID, err)
	}

	newest, err := v.newestComplete(ctx, accountID, checkID, scope)
	if err != nil {
		return nil, err
	}
	if newest == nil || newest.RunID != runID {
		// A newer completed run owns the latest-state views now; only the
		// history record belongs to this run, and it exists.
		return nil, nil
	}

	var issues []Issue

	if len(hist.Findings) > 0 {
		owned, err := v.ownedItems(ctx, accountID, checkID, scope, runID)
		if err != nil {
			return nil, err
		}
		if owned == 0 {
			issues = append(issues, issue(IssueMissingItems,
				fmt.Sprintf("history carries %d findings but no per-item records exist", len(hist.Findings)),
				true))
		}
	}

	cur, err := v.results.GetCurrent(ctx, accountID, checkID, scope)
	switch {
	case errors.Is(err, resultstore.ErrNotFound):
		issues = append(issues, issue(IssueStaleCurrent,
			"newest completed run has no current record", true))
	case err != nil:
		return nil, fmt.Errorf("get current %s/%s: %w", checkID, scope, err)
	case cur.RunID != runID:
		issues = append(issues, issue(IssueStaleCurrent,
			fmt.Sprintf("current record belongs to run %s", cur.RunID), true))
	case absDuration(cur.ScannedAt.Sub(hist.ScannedAt)) > v.tolerance:
		issues = append(issues, issue(IssueStaleCurrent,
			fmt.Sprintf("current and history timestamps diverge by %s", absDuration(cur.ScannedAt.Sub(hist.ScannedAt))),
			true))
	}

	return issues, nil
}

// historySource looks for a record the repairer could rebuild a missing
// history entry from: the run's own current record, or its per-item
// records.
func (v *Validator) historySource(ctx context.Context, accountID, checkID, scope, runID string) (bool, string, error) {
	cur, err := v.results.GetCurrent(ctx, accountID, checkID, scope)
	if err != nil && !errors.Is(err, resultstore.ErrNotFound) {
		return false, "", fmt.Errorf("get current %s/%s: %w", checkID, scope, err)
	}
	if cur != nil && cur.RunID == runID {
		return true, "current record", nil
	}

	owned, err := v.ownedItems(ctx, accountID, checkID, scope, runID)
	if err != nil {
		return false, "", err
	}
	if owned > 0 {
		return true, "item records", nil
	}
	return false, "", nil
}

func (v *Validator) ownedItems(ctx context.Context, accountID, checkID, scope, runID string) (int, error) {
	items, err := v.results.ListItems(ctx, accountID, checkID, scope)
	if err != nil {
		return 0, fmt.Errorf("list items %s/%s: %w", checkID, scope, err)
	}
	owned := 0
	for _, item := range items {
		if item.RunID == runID {
			owned++
		}
	}
	return owned, nil
}

// newestComplete returns the newest history record not flagged partial.
// Partial records come from failed runs, which never wrote the
// latest-state views, so they do not claim ownership of them.
func (v *Validator) newestComplete(ctx context.Context, accountID, checkID, scope string) (*store.HistoryRecord, error) {
	records, err := v.results.QueryHistory(ctx, accountID, checkID, scope, 0)
	if err != nil {
		return nil, fmt.Errorf("query history %s/%s: %w", checkID, scope, err)
	}
	for i := range records {
		if !records[i].Partial {
			return &records[i], nil
		}
	}
	return nil, nil
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
