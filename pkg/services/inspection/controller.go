package inspection

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/de-tools/cloud-sentry/pkg/adapters"
	"github.com/de-tools/cloud-sentry/pkg/models/domain"
	"github.com/de-tools/cloud-sentry/pkg/services/credentials"
	"github.com/de-tools/cloud-sentry/pkg/services/progress"
	"github.com/de-tools/cloud-sentry/pkg/store/duckdb/runs"
	resultstore "github.com/de-tools/cloud-sentry/pkg/store/result"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type Settings struct {
	// SoftTimeout bounds one run. It is checked at check boundaries only;
	// an in-flight provider call is never aborted.
	SoftTimeout time.Duration
}

func DefaultSettings() Settings {
	return Settings{SoftTimeout: 5 * time.Minute}
}

type runDescriptor struct {
	run  *domain.Run
	done chan struct{}
}

// Controller owns run lifecycles: it sequences credential validation,
// check execution, progress publication and the terminal dual write. Any
// number of runs may execute concurrently; checks within one run are
// sequential.
type Controller struct {
	runner   *CheckRunner
	creds    credentials.Provider
	results  resultstore.Store
	ledger   runs.Store
	hub      *progress.Hub
	settings Settings
	now      func() time.Time

	// mu guards active and every write to a shared run struct; ActiveRun
	// snapshots runs from other goroutines.
	mu     sync.Mutex
	active map[string]*runDescriptor
}

func NewController(
	runner *CheckRunner,
	creds credentials.Provider,
	results resultstore.Store,
	ledger runs.Store,
	hub *progress.Hub,
	settings Settings,
) *Controller {
	if settings.SoftTimeout <= 0 {
		settings.SoftTimeout = DefaultSettings().SoftTimeout
	}
	return &Controller{
		runner:   runner,
		creds:    creds,
		results:  results,
		ledger:   ledger,
		hub:      hub,
		settings: settings,
		now:      time.Now,
		active:   make(map[string]*runDescriptor),
	}
}

func (c *Controller) newRun(accountID string, scope domain.RunScope, batchID string) *domain.Run {
	return &domain.Run{
		ID:        uuid.NewString(),
		BatchID:   batchID,
		AccountID: accountID,
		Scope:     scope,
		Status:    domain.RunStatusPending,
		StartedAt: c.now(),
	}
}

// StartRun launches one run asynchronously and returns its id. The run
// proceeds to a terminal state even if every subscriber disconnects; there
// is no mid-run cancellation.
func (c *Controller) StartRun(ctx context.Context, accountID string, scope domain.RunScope) (string, error) {
	run := c.newRun(accountID, scope, "")
	if err := c.ledger.CreateRun(ctx, adapters.MapDomainRunToStore(run)); err != nil {
		return "", err
	}

	c.launch(ctx, run)
	return run.ID, nil
}

// StartBatch launches one run per check id, grouped under a shared batch
// id. Each run's subscribers are remapped onto the batch so one
// subscription observes the whole set.
func (c *Controller) StartBatch(ctx context.Context, accountID string, checkIDs []string) (string, []string, error) {
	if len(checkIDs) == 0 {
		return "", nil, fmt.Errorf("batch requires at least one check id")
	}

	batchID := uuid.NewString()
	batch := make([]*domain.Run, 0, len(checkIDs))
	runIDs := make([]string, 0, len(checkIDs))

	for _, checkID := range checkIDs {
		run := c.newRun(accountID, domain.RunScope{CheckID: checkID}, batchID)
		if err := c.ledger.CreateRun(ctx, adapters.MapDomainRunToStore(run)); err != nil {
			return "", nil, err
		}
		batch = append(batch, run)
		runIDs = append(runIDs, run.ID)
	}

	for _, run := range batch {
		c.hub.Remap(run.ID, batchID)
		c.launch(ctx, run)
	}
	return batchID, runIDs, nil
}

// GroupIntoBatch remaps the subscribers of already-running runs onto one
// batch id mid-flight.
func (c *Controller) GroupIntoBatch(runIDs []string, batchID string) {
	c.mu.Lock()
	for _, runID := range runIDs {
		if desc, ok := c.active[runID]; ok {
			desc.run.BatchID = batchID
		}
	}
	c.mu.Unlock()

	for _, runID := range runIDs {
		c.hub.Remap(runID, batchID)
	}
}

// Execute runs one inspection synchronously and returns the terminal run.
func (c *Controller) Execute(ctx context.Context, accountID string, scope domain.RunScope) (*domain.Run, error) {
	run := c.newRun(accountID, scope, "")
	if err := c.ledger.CreateRun(ctx, adapters.MapDomainRunToStore(run)); err != nil {
		return nil, err
	}
	c.execute(ctx, run)
	return run, nil
}

// ActiveRun returns a snapshot of the in-flight run for an id, if any.
func (c *Controller) ActiveRun(runID string) (*domain.Run, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	desc, ok := c.active[runID]
	if !ok {
		return nil, false
	}
	snapshot := *desc.run
	return &snapshot, true
}

// Wait blocks until a launched run reaches a terminal state. Unknown run
// ids return immediately.
func (c *Controller) Wait(runID string) {
	c.mu.Lock()
	desc, ok := c.active[runID]
	c.mu.Unlock()
	if ok {
		<-desc.done
	}
}

func (c *Controller) launch(ctx context.Context, run *domain.Run) {
	desc := &runDescriptor{run: run, done: make(chan struct{})}

	c.mu.Lock()
	c.active[run.ID] = desc
	c.mu.Unlock()

	// The run outlives the caller's request; only its values are kept.
	runCtx := context.WithoutCancel(ctx)

	go func() {
		defer func() {
			c.mu.Lock()
			delete(c.active, run.ID)
			c.mu.Unlock()
			close(desc.done)
		}()
		c.execute(runCtx, run)
	}()
}

func (c *Controller) execute(ctx context.Context, run *domain.Run) {
	logger := zerolog.Ctx(ctx).With().
		Str("run_id", run.ID).
		Str("account", run.AccountID).
		Logger()
	ctx = logger.WithContext(ctx)

	start := c.now()
	c.mu.Lock()
	run.StartedAt = start
	c.mu.Unlock()

	creds, err := c.creds.Assume(ctx, run.AccountID)
	if err != nil {
		c.fail(ctx, run, nil, fmt.Errorf("credential validation: %w", err))
		return
	}

	c.mu.Lock()
	run.CredentialRef = creds.Reference
	run.Status = domain.RunStatusInProgress
	c.mu.Unlock()
	c.publishProgress(run, "", 0, "inspection started")
	logger.Info().Str("check", run.Scope.CheckID).Msg("run started")

	checkIDs := []string{run.Scope.CheckID}
	if run.Scope.Sweep() {
		checkIDs = c.runner.catalog.IDs()
	}
	scope := run.Scope.Scope
	if scope == "" {
		scope = run.AccountID
	}

	var results []domain.CheckResult
	lastPct := 0
	for i, checkID := range checkIDs {
		if c.now().Sub(start) > c.settings.SoftTimeout {
			c.fail(ctx, run, results, fmt.Errorf("run exceeded soft timeout of %s", c.settings.SoftTimeout))
			return
		}

		res, err := c.runner.RunCheck(ctx, creds, checkID, scope)
		if err != nil {
			if len(res.Findings) > 0 {
				results = append(results, res)
			}
			c.fail(ctx, run, results, fmt.Errorf("check %s: %w", checkID, err))
			return
		}
		results = append(results, res)

		pct := (i + 1) * 100 / len(checkIDs)
		if pct < lastPct {
			pct = lastPct
		}
		lastPct = pct
		c.publishProgress(run, checkID, pct, fmt.Sprintf("check %s finished", checkID))
	}

	c.complete(ctx, run, results)
}

func (c *Controller) complete(ctx context.Context, run *domain.Run, results []domain.CheckResult) {
	logger := zerolog.Ctx(ctx)

	c.finalize(run, results, domain.RunStatusCompleted, nil)
	c.publishStatus(run)
	if err := c.ledger.FinishRun(ctx, run.ID, string(run.Status), run.FinishedAt, nil); err != nil {
		logger.Error().Err(err).Msg("failed to finalize run ledger entry")
	}
	c.dualWrite(ctx, run, results, false)

	logger.Info().
		Int("findings", len(run.Findings)).
		Int("resources", run.ResourcesScanned).
		Dur("duration", run.Duration).
		Msg("run completed")
}

// fail moves the run to FAILED, keeping the findings accumulated so far as
// an explicit partial result. The history side of completed checks is still
// written so downstream consumers have something to render; the current
// side is left to the last successful run.
func (c *Controller) fail(ctx context.Context, run *domain.Run, results []domain.CheckResult, runErr error) {
	logger := zerolog.Ctx(ctx)

	c.finalize(run, results, domain.RunStatusFailed, runErr)
	c.publishStatus(run)
	if err := c.ledger.FinishRun(ctx, run.ID, string(run.Status), run.FinishedAt, run.Error); err != nil {
		logger.Error().Err(err).Msg("failed to finalize run ledger entry")
	}
	c.dualWrite(ctx, run, results, true)

	logger.Warn().Err(runErr).Int("findings", len(run.Findings)).Msg("run failed")
}

// finalize applies the terminal transition in one critical section so a
// concurrent ActiveRun snapshot never observes a half-written state.
func (c *Controller) finalize(run *domain.Run, results []domain.CheckResult, status domain.RunStatus, runErr error) {
	end := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	run.FinishedAt = end
	run.Duration = end.Sub(run.StartedAt)
	run.Status = status

	run.Findings = run.Findings[:0]
	run.ResourcesScanned = 0
	for _, res := range results {
		run.Findings = append(run.Findings, res.Findings...)
		run.ResourcesScanned += res.ResourcesScanned
	}

	if runErr != nil {
		msg := runErr.Error()
		run.Error = &msg
		run.Partial = len(run.Findings) > 0
	}
}

// dualWrite persists both denormalized views of every check result. The
// writes are independent network operations; a failure here leaves the run
// terminal and is logged, and the consistency validator covers the gap.
func (c *Controller) dualWrite(ctx context.Context, run *domain.Run, results []domain.CheckResult, partial bool) {
	logger := zerolog.Ctx(ctx)
	at := run.FinishedAt

	for _, res := range results {
		if !partial {
			items := adapters.MapCheckResultToItems(run, res, at)
			if err := c.results.DeleteItems(ctx, run.AccountID, res.CheckID, res.Scope); err != nil {
				logger.Error().Err(err).Str("check", res.CheckID).Msg("item cleanup failed")
			}
			if err := c.results.PutItems(ctx, items); err != nil {
				logger.Error().Err(err).Str("check", res.CheckID).Msg("item write failed")
			}
			if err := c.results.PutCurrent(ctx, adapters.MapCheckResultToCurrent(run, res, at)); err != nil {
				logger.Error().Err(err).Str("check", res.CheckID).Msg("current write failed")
			}
		}
		if err := c.results.PutHistory(ctx, adapters.MapCheckResultToHistory(run, res, at, partial)); err != nil {
			logger.Error().Err(err).Str("check", res.CheckID).Msg("history write failed")
		}
	}
}

func (c *Controller) publishProgress(run *domain.Run, checkID string, percent int, message string) {
	c.publish(run, domain.ProgressEvent{
		Kind:      domain.EventKindProgress,
		RunID:     run.ID,
		CheckID:   checkID,
		Percent:   percent,
		Message:   message,
		Timestamp: c.now(),
	})
}

func (c *Controller) publishStatus(run *domain.Run) {
	percent := 100
	message := "inspection finished"
	if run.Status == domain.RunStatusFailed {
		message = "inspection failed"
		if run.Error != nil {
			message = *run.Error
		}
	}
	c.publish(run, domain.ProgressEvent{
		Kind:      domain.EventKindStatus,
		RunID:     run.ID,
		Percent:   percent,
		Status:    run.Status,
		Message:   message,
		Timestamp: c.now(),
	})
}

func (c *Controller) publish(run *domain.Run, event domain.ProgressEvent) {
	event.BatchID = c.batchID(run)
	c.hub.Publish(run.ID, event)
	if event.BatchID != "" {
		c.hub.Publish(event.BatchID, event)
	}
}

// batchID reads under the controller lock since GroupIntoBatch may assign
// it mid-run.
func (c *Controller) batchID(run *domain.Run) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return run.BatchID
}
