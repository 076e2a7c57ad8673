package consistency

import (
	"context"
	"testing"
	"time"

	"github.com/de-tools/cloud-sentry/pkg/models/store"
	"github.com/de-tools/cloud-sentry/pkg/services/checks"
	"github.com/de-tools/cloud-sentry/pkg/store/duckdb"
	duckdbresult "github.com/de-tools/cloud-sentry/pkg/store/duckdb/result"
	duckdbruns "github.com/de-tools/cloud-sentry/pkg/store/duckdb/runs"
	resultstore "github.com/de-tools/cloud-sentry/pkg/store/result"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testAccount = "111122223333"
	testCheck   = "public-access"
)

type fixture struct {
	results  resultstore.Store
	ledger   duckdbruns.Store
	validate *Validator
	repair   *Repairer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := duckdb.NewDB(duckdb.Settings{DbPath: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	results, err := duckdbresult.NewStore(db)
	require.NoError(t, err)
	ledger, err := duckdbruns.NewStore(db)
	require.NoError(t, err)

	validator := NewValidator(results, ledger, checks.NewCatalog().IDs(), 0)
	return &fixture{
		results:  results,
		ledger:   ledger,
		validate: validator,
		repair:   NewRepairer(validator, results),
	}
}

func (fx *fixture) completedRun(t *testing.T, runID string, finishedAt time.Time) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, fx.ledger.CreateRun(ctx, store.RunRecord{
		ID:        runID,
		AccountID: testAccount,
		CheckID:   testCheck,
		Scope:     testAccount,
		Status:    "PENDING",
		StartedAt: finishedAt.Add(-time.Minute),
	}))
	require.NoError(t, fx.ledger.FinishRun(ctx, runID, "COMPLETED", finishedAt, nil))
}

func (fx *fixture) failedRun(t *testing.T, runID string, finishedAt time.Time) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, fx.ledger.CreateRun(ctx, store.RunRecord{
		ID:        runID,
		AccountID: testAccount,
		CheckID:   testCheck,
		Scope:     testAccount,
		Status:    "PENDING",
		StartedAt: finishedAt.Add(-time.Minute),
	}))
	msg := "provider unavailable"
	require.NoError(t, fx.ledger.FinishRun(ctx, runID, "FAILED", finishedAt, &msg))
}

func sampleFindings() []store.Finding {
	return []store.Finding{
		{ResourceID: "bucket-1", ResourceType: "s3", Issue: "bucket allows public reads", Severity: 2},
		{ResourceID: "bucket-2", ResourceType: "s3", Issue: "no public access block", Severity: 1},
	}
}

func (fx *fixture) writeCurrent(t *testing.T, runID string, at time.Time) {
	t.Helper()
	require.NoError(t, fx.results.RepairCurrent(context.Background(), store.CurrentRecord{
		AccountID:        testAccount,
		CheckID:          testCheck,
		Scope:            testAccount,
		RunID:            runID,
		Findings:         sampleFindings(),
		ResourcesScanned: 5,
		ScannedAt:        at,
	}))
}

func (fx *fixture) writeItems(t *testing.T, runID string, at time.Time) {
	t.Helper()
	var items []store.ItemRecord
	for _, f := range sampleFindings() {
		items = append(items, store.ItemRecord{
			AccountID:  testAccount,
			CheckID:    testCheck,
			Scope:      testAccount,
			ResourceID: f.ResourceID,
			RunID:      runID,
			Finding:    f,
			ScannedAt:  at,
		})
	}
	require.NoError(t, fx.results.PutItems(context.Background(), items))
}

func (fx *fixture) writeHistory(t *testing.T, runID string, at time.Time) {
	t.Helper()
	require.NoError(t, fx.results.PutHistory(context.Background(), store.HistoryRecord{
		AccountID:        testAccount,
		CheckID:          testCheck,
		Scope:            testAccount,
		RunID:            runID,
		Findings:         sampleFindings(),
		ResourcesScanned: 5,
		Score:            75,
		ScannedAt:        at,
	}))
}

// writeAll seeds the three views a healthy completed run leaves behind.
func (fx *fixture) writeAll(t *testing.T, runID string, at time.Time) {
	t.Helper()
	fx.writeItems(t, runID, at)
	fx.writeCurrent(t, runID, at)
	fx.writeHistory(t, runID, at)
}

func issueKinds(report *Report) []IssueKind {
	kinds := make([]IssueKind, 0, len(report.Issues))
	for _, issue := range report.Issues {
		kinds = append(kinds, issue.Kind)
	}
	return kinds
}

func TestValidateHealthyRun(t *testing.T) {
	fx := newFixture(t)
	at := time.Unix(1_700_000_000, 0).UTC()
	fx.completedRun(t, "r1", at)
	fx.writeAll(t, "r1", at)

	report, err := fx.validate.ValidateRun(context.Background(), testAccount, "r1")
	require.NoError(t, err)
	assert.True(t, report.Consistent)
	assert.Empty(t, report.Issues)
}

func TestValidateMissingHistory(t *testing.T) {
	fx := newFixture(t)
	at := time.Unix(1_700_000_000, 0).UTC()
	fx.completedRun(t, "r1", at)
	fx.writeItems(t, "r1", at)
	fx.writeCurrent(t, "r1", at)

	report, err := fx.validate.ValidateRun(context.Background(), testAccount, "r1")
	require.NoError(t, err)
	assert.False(t, report.Consistent)
	require.Len(t, report.Issues, 1)
	assert.Equal(t, IssueMissingHistory, report.Issues[0].Kind)
	assert.True(t, report.Issues[0].Recoverable)
}

func TestValidateMissingHistoryNoSource(t *testing.T) {
	fx := newFixture(t)
	at := time.Unix(1_700_000_000, 0).UTC()
	fx.completedRun(t, "r1", at)

	report, err := fx.validate.ValidateRun(context.Background(), testAccount, "r1")
	require.NoError(t, err)
	require.Len(t, report.Issues, 1)
	assert.Equal(t, IssueMissingHistory, report.Issues[0].Kind)
	assert.False(t, report.Issues[0].Recoverable)
}

func TestValidateMissingItems(t *testing.T) {
	fx := newFixture(t)
	at := time.Unix(1_700_000_000, 0).UTC()
	fx.completedRun(t, "r1", at)
	fx.writeCurrent(t, "r1", at)
	fx.writeHistory(t, "r1", at)

	report, err := fx.validate.ValidateRun(context.Background(), testAccount, "r1")
	require.NoError(t, err)
	assert.Equal(t, []IssueKind{IssueMissingItems}, issueKinds(report))
}

func TestValidateStaleCurrent(t *testing.T) {
	at := time.Unix(1_700_000_000, 0).UTC()

	t.Run("missing", func(t *testing.T) {
		fx := newFixture(t)
		fx.completedRun(t, "r1", at)
		fx.writeItems(t, "r1", at)
		fx.writeHistory(t, "r1", at)

		report, err := fx.validate.ValidateRun(context.Background(), testAccount, "r1")
		require.NoError(t, err)
		assert.Equal(t, []IssueKind{IssueStaleCurrent}, issueKinds(report))
	})

	t.Run("owned by another run", func(t *testing.T) {
		fx := newFixture(t)
		fx.completedRun(t, "r2", at)
		fx.writeItems(t, "r2", at)
		fx.writeHistory(t, "r2", at)
		fx.writeCurrent(t, "r1", at.Add(-time.Hour))

		report, err := fx.validate.ValidateRun(context.Background(), testAccount, "r2")
		require.NoError(t, err)
		assert.Equal(t, []IssueKind{IssueStaleCurrent}, issueKinds(report))
	})

	t.Run("timestamps diverge", func(t *testing.T) {
		fx := newFixture(t)
		fx.completedRun(t, "r1", at)
		fx.writeItems(t, "r1", at)
		fx.writeHistory(t, "r1", at)
		fx.writeCurrent(t, "r1", at.Add(2*time.Minute))

		report, err := fx.validate.ValidateRun(context.Background(), testAccount, "r1")
		require.NoError(t, err)
		assert.Equal(t, []IssueKind{IssueStaleCurrent}, issueKinds(report))
	})

	t.Run("within tolerance", func(t *testing.T) {
		fx := newFixture(t)
		fx.completedRun(t, "r1", at)
		fx.writeItems(t, "r1", at)
		fx.writeHistory(t, "r1", at)
		fx.writeCurrent(t, "r1", at.Add(30*time.Second))

		report, err := fx.validate.ValidateRun(context.Background(), testAccount, "r1")
		require.NoError(t, err)
		assert.True(t, report.Consistent)
	})
}

func TestValidateOlderRunOwnsOnlyHistory(t *testing.T) {
	fx := newFixture(t)
	older := time.Unix(1_700_000_000, 0).UTC()
	newer := older.Add(time.Hour)

	fx.completedRun(t, "r1", older)
	fx.writeHistory(t, "r1", older)
	fx.completedRun(t, "r2", newer)
	fx.writeAll(t, "r2", newer)

	report, err := fx.validate.ValidateRun(context.Background(), testAccount, "r1")
	require.NoError(t, err)
	assert.True(t, report.Consistent)
}

func TestValidateNonCompletedRuns(t *testing.T) {
	fx := newFixture(t)
	at := time.Unix(1_700_000_000, 0).UTC()
	fx.failedRun(t, "r1", at)

	report, err := fx.validate.ValidateRun(context.Background(), testAccount, "r1")
	require.NoError(t, err)
	assert.True(t, report.Consistent)
}

func TestValidateIgnoresPartialHistoryForOwnership(t *testing.T) {
	fx := newFixture(t)
	at := time.Unix(1_700_000_000, 0).UTC()

	fx.completedRun(t, "r1", at)
	fx.writeAll(t, "r1", at)

	// A later failed run leaves a partial history record. It never wrote
	// the latest-state views, so r1 still owns them.
	fx.failedRun(t, "r2", at.Add(time.Hour))
	require.NoError(t, fx.results.PutHistory(context.Background(), store.HistoryRecord{
		AccountID: testAccount,
		CheckID:   testCheck,
		Scope:     testAccount,
		RunID:     "r2",
		Findings:  sampleFindings()[:1],
		Score:     90,
		ScannedAt: at.Add(time.Hour),
		Partial:   true,
	}))

	report, err := fx.validate.ValidateRun(context.Background(), testAccount, "r1")
	require.NoError(t, err)
	assert.True(t, report.Consistent)
}

func TestValidateUnknownRun(t *testing.T) {
	fx := newFixture(t)
	_, err := fx.validate.ValidateRun(context.Background(), testAccount, "missing")
	require.Error(t, err)
}

func TestValidateWrongAccount(t *testing.T) {
	fx := newFixture(t)
	at := time.Unix(1_700_000_000, 0).UTC()
	fx.completedRun(t, "r1", at)

	_, err := fx.validate.ValidateRun(context.Background(), "999988887777", "r1")
	require.Error(t, err)
}

func TestValidateAccountPicksNewestPerCheck(t *testing.T) {
	fx := newFixture(t)
	older := time.Unix(1_700_000_000, 0).UTC()
	newer := older.Add(time.Hour)

	// r1 is superseded by r2; only r2's views matter account-wide.
	fx.completedRun(t, "r1", older)
	fx.writeHistory(t, "r1", older)
	fx.completedRun(t, "r2", newer)
	fx.writeAll(t, "r2", newer)

	reports, err := fx.validate.ValidateAccount(context.Background(), testAccount)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, "r2", reports[0].RunID)
	assert.True(t, reports[0].Consistent)
}
