package inspection

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"

	"github.com/de-tools/cloud-sentry/pkg/adapters"
	"github.com/de-tools/cloud-sentry/pkg/models/api"
	"github.com/de-tools/cloud-sentry/pkg/models/domain"
	"github.com/de-tools/cloud-sentry/pkg/services/checks"
	"github.com/de-tools/cloud-sentry/pkg/services/consistency"
	"github.com/de-tools/cloud-sentry/pkg/services/inspection"
	"github.com/de-tools/cloud-sentry/pkg/services/progress"
	"github.com/de-tools/cloud-sentry/pkg/store/duckdb/runs"
	resultstore "github.com/de-tools/cloud-sentry/pkg/store/result"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

const defaultHistoryLimit = 20

type Handler struct {
	controller *inspection.Controller
	catalog    *checks.Catalog
	results    resultstore.Store
	ledger     runs.Store
	validator  *consistency.Validator
	repairer   *consistency.Repairer
	hub        *progress.Hub
}

func NewHandler(
	controller *inspection.Controller,
	catalog *checks.Catalog,
	results resultstore.Store,
	ledger runs.Store,
	validator *consistency.Validator,
	repairer *consistency.Repairer,
	hub *progress.Hub,
) *Handler {
	return &Handler{
		controller: controller,
		catalog:    catalog,
		results:    results,
		ledger:     ledger,
		validator:  validator,
		repairer:   repairer,
		hub:        hub,
	}
}

func (h *Handler) ListChecks(w http.ResponseWriter, r *http.Request) {
	writeJSON(r.Context(), w, api.CheckList{Checks: h.catalog.IDs()})
}

func (h *Handler) StartRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	account := chi.URLParam(r, "account")

	var req api.StartRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}

	runID, err := h.controller.StartRun(ctx, account, domain.RunScope{CheckID: req.CheckID, Scope: req.Scope})
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("account", account).Msg("failed to start run")
		http.Error(w, "failed to start run", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	if err := json.NewEncoder(w).Encode(api.StartRunResponse{RunID: runID}); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to encode response")
	}
}

func (h *Handler) StartBatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	account := chi.URLParam(r, "account")

	var req api.StartBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}
	if len(req.CheckIDs) == 0 {
		http.Error(w, "check_ids must not be empty", http.StatusBadRequest)
		return
	}

	batchID, runIDs, err := h.controller.StartBatch(ctx, account, req.CheckIDs)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("account", account).Msg("failed to start batch")
		http.Error(w, "failed to start batch", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	if err := json.NewEncoder(w).Encode(api.StartBatchResponse{BatchID: batchID, RunIDs: runIDs}); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to encode response")
	}
}

func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	account := chi.URLParam(r, "account")

	var statuses []string
	if status := r.URL.Query().Get("status"); status != "" {
		statuses = []string{status}
	}

	records, err := h.ledger.ListRuns(ctx, account, statuses)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("account", account).Msg("failed to list runs")
		http.Error(w, "failed to list runs", http.StatusInternalServerError)
		return
	}

	response := make([]api.Run, 0, len(records))
	for i := range records {
		response = append(response, adapters.MapRunRecordToAPI(&records[i]))
	}
	writeJSON(ctx, w, response)
}

func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	runID := chi.URLParam(r, "run")

	rec, err := h.ledger.GetRun(ctx, runID)
	if errors.Is(err, runs.ErrRunNotFound) {
		http.Error(w, "run not found", http.StatusNotFound)
		return
	}
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("run_id", runID).Msg("failed to load run")
		http.Error(w, "failed to load run", http.StatusInternalServerError)
		return
	}
	writeJSON(ctx, w, adapters.MapRunRecordToAPI(rec))
}

func (h *Handler) GetCurrent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	account := chi.URLParam(r, "account")
	check := chi.URLParam(r, "check")
	scope := r.URL.Query().Get("scope")
	if scope == "" {
		scope = account
	}

	rec, err := h.results.GetCurrent(ctx, account, check, scope)
	if errors.Is(err, resultstore.ErrNotFound) {
		http.Error(w, "no result for this check", http.StatusNotFound)
		return
	}
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("check", check).Msg("failed to load current result")
		http.Error(w, "failed to load current result", http.StatusInternalServerError)
		return
	}
	writeJSON(ctx, w, adapters.MapCurrentToAPI(rec))
}

func (h *Handler) ListHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	account := chi.URLParam(r, "account")
	check := chi.URLParam(r, "check")
	scope := r.URL.Query().Get("scope")
	if scope == "" {
		scope = account
	}

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			http.Error(w, "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	records, err := h.results.QueryHistory(ctx, account, check, scope, limit)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("check", check).Msg("failed to query history")
		http.Error(w, "failed to query history", http.StatusInternalServerError)
		return
	}

	response := make([]api.HistoryEntry, 0, len(records))
	for _, rec := range records {
		response = append(response, adapters.MapHistoryToAPI(rec))
	}
	writeJSON(ctx, w, response)
}

func (h *Handler) ValidateRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	account := chi.URLParam(r, "account")
	runID := chi.URLParam(r, "run")

	report, err := h.validator.ValidateRun(ctx, account, runID)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("run_id", runID).Msg("validation failed")
		http.Error(w, "validation failed", http.StatusInternalServerError)
		return
	}
	writeJSON(ctx, w, report)
}

func (h *Handler) RepairRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	account := chi.URLParam(r, "account")
	runID := chi.URLParam(r, "run")

	report, err := h.repairer.RepairRun(ctx, account, runID)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("run_id", runID).Msg("repair failed")
		http.Error(w, "repair failed", http.StatusInternalServerError)
		return
	}
	writeJSON(ctx, w, report)
}

func (h *Handler) RepairAccount(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	account := chi.URLParam(r, "account")

	reports, err := h.repairer.RepairAccount(ctx, account)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("account", account).Msg("account repair failed")
		http.Error(w, "account repair failed", http.StatusInternalServerError)
		return
	}
	writeJSON(ctx, w, reports)
}

// StreamEvents subscribes the caller to a run's progress feed over
// server-sent events. The stream stays open until the client disconnects;
// run completion does not close it, since the same subscription may be
// remapped onto a batch.
func (h *Handler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "run")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	conn := &sseConn{w: w, flusher: flusher}
	h.hub.Subscribe(conn, runID)
	defer h.hub.Disconnect(conn)
	defer conn.close()

	<-r.Context().Done()
}

var errStreamClosed = errors.New("event stream closed")

// sseConn adapts one HTTP response to the hub's connection contract. Writes
// are serialized; the hub may publish from several runs at once. The
// ResponseWriter must not be touched after the handler returns, so close
// is called before StreamEvents exits and a publish that captured the
// connection earlier fails instead of writing.
type sseConn struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
	closed  bool
}

func (c *sseConn) close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *sseConn) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return errStreamClosed
	}
	if _, err := c.w.Write([]byte("data: ")); err != nil {
		return err
	}
	if _, err := c.w.Write(payload); err != nil {
		return err
	}
	if _, err := c.w.Write([]byte("\n\n")); err != nil {
		return err
	}
	c.flusher.Flush()
	return nil
}

func writeJSON(ctx context.Context, w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to encode response")
	}
}
