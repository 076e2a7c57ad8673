package adapters

import (
	"github.com/de-tools/cloud-sentry/pkg/models/api"
	"github.com/de-tools/cloud-sentry/pkg/models/domain"
	"github.com/de-tools/cloud-sentry/pkg/models/store"
)

func MapStoreFindingToAPI(f store.Finding) api.Finding {
	return api.Finding{
		ResourceID:     f.ResourceID,
		ResourceType:   f.ResourceType,
		Issue:          f.Issue,
		Recommendation: f.Recommendation,
		Severity:       api.Severity(domain.Severity(f.Severity).String()),
	}
}

func MapStoreFindingsToAPI(findings []store.Finding) []api.Finding {
	out := make([]api.Finding, 0, len(findings))
	for _, f := range findings {
		out = append(out, MapStoreFindingToAPI(f))
	}
	return out
}

func MapCurrentToAPI(rec *store.CurrentRecord) api.CurrentResult {
	return api.CurrentResult{
		CheckID:          rec.CheckID,
		Scope:            rec.Scope,
		RunID:            rec.RunID,
		Findings:         MapStoreFindingsToAPI(rec.Findings),
		ResourcesScanned: rec.ResourcesScanned,
		ScannedAt:        rec.ScannedAt,
	}
}

func MapHistoryToAPI(rec store.HistoryRecord) api.HistoryEntry {
	return api.HistoryEntry{
		RunID:            rec.RunID,
		Findings:         MapStoreFindingsToAPI(rec.Findings),
		ResourcesScanned: rec.ResourcesScanned,
		Score:            rec.Score,
		ScannedAt:        rec.ScannedAt,
		Partial:          rec.Partial,
		Reconstructed:    rec.Reconstructed,
	}
}

func MapRunRecordToAPI(rec *store.RunRecord) api.Run {
	return api.Run{
		ID:         rec.ID,
		BatchID:    rec.BatchID,
		AccountID:  rec.AccountID,
		CheckID:    rec.CheckID,
		Scope:      rec.Scope,
		Status:     rec.Status,
		StartedAt:  rec.StartedAt,
		FinishedAt: rec.FinishedAt,
		Error:      rec.Error,
	}
}
