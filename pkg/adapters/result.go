package adapters

import (
	"time"

	"github.com/de-tools/cloud-sentry/pkg/models/domain"
	"github.com/de-tools/cloud-sentry/pkg/models/store"
)

func MapDomainFindingToStore(f domain.Finding) store.Finding {
	return store.Finding{
		ResourceID:     f.ResourceID,
		ResourceType:   f.ResourceType,
		Issue:          f.Issue,
		Recommendation: f.Recommendation,
		Severity:       int(f.Severity),
	}
}

func MapStoreFindingToDomain(f store.Finding) domain.Finding {
	return domain.Finding{
		ResourceID:     f.ResourceID,
		ResourceType:   f.ResourceType,
		Issue:          f.Issue,
		Recommendation: f.Recommendation,
		Severity:       domain.Severity(f.Severity),
	}
}

func MapDomainFindingsToStore(findings []domain.Finding) []store.Finding {
	out := make([]store.Finding, 0, len(findings))
	for _, f := range findings {
		out = append(out, MapDomainFindingToStore(f))
	}
	return out
}

// ScoreFindings grades one check result 0-100 by finding severity.
func ScoreFindings(findings []store.Finding) int {
	score := 100
	for _, f := range findings {
		switch domain.Severity(f.Severity) {
		case domain.SeverityCritical:
			score -= 25
		case domain.SeverityHigh:
			score -= 15
		case domain.SeverityMedium:
			score -= 10
		default:
			score -= 5
		}
	}
	if score < 0 {
		score = 0
	}
	return score
}

// MapCheckResultToCurrent builds the check-level latest-state record for a
// finished run.
func MapCheckResultToCurrent(run *domain.Run, res domain.CheckResult, at time.Time) store.CurrentRecord {
	return store.CurrentRecord{
		AccountID:        run.AccountID,
		CheckID:          res.CheckID,
		Scope:            res.Scope,
		RunID:            run.ID,
		Findings:         MapDomainFindingsToStore(res.Findings),
		ResourcesScanned: res.ResourcesScanned,
		ScannedAt:        at,
	}
}

// MapCheckResultToItems builds one per-item record per finding.
func MapCheckResultToItems(run *domain.Run, res domain.CheckResult, at time.Time) []store.ItemRecord {
	items := make([]store.ItemRecord, 0, len(res.Findings))
	for _, f := range res.Findings {
		items = append(items, store.ItemRecord{
			AccountID:  run.AccountID,
			CheckID:    res.CheckID,
			Scope:      res.Scope,
			ResourceID: f.ResourceID,
			RunID:      run.ID,
			Finding:    MapDomainFindingToStore(f),
			ScannedAt:  at,
		})
	}
	return items
}

// MapCheckResultToHistory builds the append-only record for a finished run.
func MapCheckResultToHistory(run *domain.Run, res domain.CheckResult, at time.Time, partial bool) store.HistoryRecord {
	findings := MapDomainFindingsToStore(res.Findings)
	return store.HistoryRecord{
		AccountID:        run.AccountID,
		CheckID:          res.CheckID,
		Scope:            res.Scope,
		RunID:            run.ID,
		Findings:         findings,
		ResourcesScanned: res.ResourcesScanned,
		Score:            ScoreFindings(findings),
		ScannedAt:        at,
		Partial:          partial,
	}
}

func MapDomainRunToStore(run *domain.Run) store.RunRecord {
	return store.RunRecord{
		ID:        run.ID,
		BatchID:   run.BatchID,
		AccountID: run.AccountID,
		CheckID:   run.Scope.CheckID,
		Scope:     run.Scope.Scope,
		Status:    string(run.Status),
		StartedAt: run.StartedAt,
	}
}
