package consistency

import (
	"context"
	"errors"
	"fmt"

	"github.com/de-tools/cloud-sentry/pkg/adapters"
	"github.com/de-tools/cloud-sentry/pkg/models/store"
	resultstore "github.com/de-tools/cloud-sentry/pkg/store/result"
	"github.com/rs/zerolog"
)

// RepairReport records what one repair pass did. Skipped collects the
// unrecoverable issues, which stay in the report until an operator
// intervenes.
type RepairReport struct {
	Report   *Report `json:"report"`
	Repaired []Issue `json:"repaired,omitempty"`
	Skipped  []Issue `json:"skipped,omitempty"`
}

// Repairer rebuilds divergent views from whichever side survived. Every
// repair path writes through the store's idempotent primitives, so running
// a repair twice, or concurrently with a fresh run, cannot corrupt state:
// history appends are no-ops when the record exists and current repairs
// rewrite the same authoritative content.
type Repairer struct {
	validator *Validator
	results   resultstore.Store
}

func NewRepairer(validator *Validator, results resultstore.Store) *Repairer {
	return &Repairer{validator: validator, results: results}
}

// RepairRun re-validates the run and repairs every recoverable issue found.
func (r *Repairer) RepairRun(ctx context.Context, accountID, runID string) (*RepairReport, error) {
	report, err := r.validator.ValidateRun(ctx, accountID, runID)
	if err != nil {
		return nil, err
	}

	out := &RepairReport{Report: report}
	logger := zerolog.Ctx(ctx)

	for _, issue := range report.Issues {
		if !issue.Recoverable {
			out.Skipped = append(out.Skipped, issue)
			logger.Warn().
				Str("kind", issue.Kind.String()).
				Str("check", issue.CheckID).
				Str("run_id", issue.RunID).
				Msg("issue has no surviving source, skipping")
			continue
		}
		if err := r.repair(ctx, issue); err != nil {
			return nil, fmt.Errorf("repair %s for run %s: %w", issue.Kind, issue.RunID, err)
		}
		out.Repaired = append(out.Repaired, issue)
		logger.Info().
			Str("kind", issue.Kind.String()).
			Str("check", issue.CheckID).
			Str("run_id", issue.RunID).
			Msg("repaired divergent view")
	}
	return out, nil
}

// RepairAccount runs the account-wide validation pass and repairs each
// inconsistent run.
func (r *Repairer) RepairAccount(ctx context.Context, accountID string) ([]*RepairReport, error) {
	reports, err := r.validator.ValidateAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	var out []*RepairReport
	for _, report := range reports {
		if report.Consistent {
			out = append(out, &RepairReport{Report: report})
			continue
		}
		repaired, err := r.RepairRun(ctx, accountID, report.RunID)
		if err != nil {
			return nil, err
		}
		out = append(out, repaired)
	}
	return out, nil
}

func (r *Repairer) repair(ctx context.Context, issue Issue) error {
	switch issue.Kind {
	case IssueMissingHistory:
		return r.rebuildHistory(ctx, issue)
	case IssueMissingItems:
		return r.rebuildItems(ctx, issue)
	case IssueStaleCurrent:
		return r.rebuildCurrent(ctx, issue)
	default:
		return fmt.Errorf("no repair path for issue kind %d", issue.Kind)
	}
}

// rebuildHistory reconstructs the missing history record from the run's
// current record when it owns one, falling back to its per-item records.
// The rebuilt record is flagged so consumers know it was not written by
// the run itself.
func (r *Repairer) rebuildHistory(ctx context.Context, issue Issue) error {
	rec := store.HistoryRecord{
		AccountID:     issue.AccountID,
		CheckID:       issue.CheckID,
		Scope:         issue.Scope,
		RunID:         issue.RunID,
		Reconstructed: true,
	}

	cur, err := r.results.GetCurrent(ctx, issue.AccountID, issue.CheckID, issue.Scope)
	if err != nil && !errors.Is(err, resultstore.ErrNotFound) {
		return err
	}

	if cur != nil && cur.RunID == issue.RunID {
		rec.Findings = cur.Findings
		rec.ResourcesScanned = cur.ResourcesScanned
		rec.ScannedAt = cur.ScannedAt
	} else {
		items, err := r.results.ListItems(ctx, issue.AccountID, issue.CheckID, issue.Scope)
		if err != nil {
			return err
		}
		for _, item := range items {
			if item.RunID != issue.RunID {
				continue
			}
			rec.Findings = append(rec.Findings, item.Finding)
			if item.ScannedAt.After(rec.ScannedAt) {
				rec.ScannedAt = item.ScannedAt
			}
		}
		if len(rec.Findings) == 0 {
			return fmt.Errorf("no surviving source for history of run %s", issue.RunID)
		}
		// Item records only exist for finding-bearing resources, so this
		// undercounts the original scan. The flag above tells readers the
		// totals are reconstructed.
		rec.ResourcesScanned = len(rec.Findings)
	}

	rec.Score = adapters.ScoreFindings(rec.Findings)
	return r.results.PutHistory(ctx, rec)
}

func (r *Repairer) rebuildItems(ctx context.Context, issue Issue) error {
	hist, err := r.results.FindHistory(ctx, issue.AccountID, issue.CheckID, issue.Scope, issue.RunID)
	if err != nil {
		return err
	}

	items := make([]store.ItemRecord, 0, len(hist.Findings))
	for _, f := range hist.Findings {
		items = append(items, store.ItemRecord{
			AccountID:  issue.AccountID,
			CheckID:    issue.CheckID,
			Scope:      issue.Scope,
			ResourceID: f.ResourceID,
			RunID:      issue.RunID,
			Finding:    f,
			ScannedAt:  hist.ScannedAt,
		})
	}
	// Clear whatever survived first so stale resources from the damaged
	// write do not mix with the regenerated set.
	if err := r.results.DeleteItems(ctx, issue.AccountID, issue.CheckID, issue.Scope); err != nil {
		return err
	}
	return r.results.PutItems(ctx, items)
}

func (r *Repairer) rebuildCurrent(ctx context.Context, issue Issue) error {
	hist, err := r.results.FindHistory(ctx, issue.AccountID, issue.CheckID, issue.Scope, issue.RunID)
	if err != nil {
		return err
	}

	return r.results.RepairCurrent(ctx, store.CurrentRecord{
		AccountID:        issue.AccountID,
		CheckID:          issue.CheckID,
		Scope:            issue.Scope,
		RunID:            issue.RunID,
		Findings:         hist.Findings,
		ResourcesScanned: hist.ResourcesScanned,
		ScannedAt:        hist.ScannedAt,
	})
}
