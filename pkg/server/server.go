package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	handlers "github.com/de-tools/cloud-sentry/pkg/handlers/inspection"
	"github.com/de-tools/cloud-sentry/pkg/services/checks"
	"github.com/de-tools/cloud-sentry/pkg/services/consistency"
	"github.com/de-tools/cloud-sentry/pkg/services/inspection"
	"github.com/de-tools/cloud-sentry/pkg/services/progress"
	"github.com/de-tools/cloud-sentry/pkg/store/duckdb/runs"
	resultstore "github.com/de-tools/cloud-sentry/pkg/store/result"

	sentrymiddleware "github.com/de-tools/cloud-sentry/pkg/server/middleware"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

type WebAPI struct {
	router *chi.Mux
	logger *zerolog.Logger
	server *http.Server
}

type Dependencies struct {
	Controller *inspection.Controller
	Catalog    *checks.Catalog
	Results    resultstore.Store
	Ledger     runs.Store
	Validator  *consistency.Validator
	Repairer   *consistency.Repairer
	Hub        *progress.Hub
}

type Config struct {
	Addr            string
	ShutdownTimeout time.Duration
	Dependencies    Dependencies
}

func NewWebAPI(logger zerolog.Logger, config Config) *WebAPI {
	deps := config.Dependencies
	handler := handlers.NewHandler(
		deps.Controller,
		deps.Catalog,
		deps.Results,
		deps.Ledger,
		deps.Validator,
		deps.Repairer,
		deps.Hub,
	)

	router := chi.NewRouter()

	router.Use(sentrymiddleware.Logger(&logger))
	router.Use(middleware.Recoverer)

	router.Route("/api/v1", func(r chi.Router) {
		r.Get("/checks", handler.ListChecks)

		r.Route("/accounts/{account}", func(r chi.Router) {
			r.Post("/runs", handler.StartRun)
			r.Get("/runs", handler.ListRuns)
			r.Get("/runs/{run}", handler.GetRun)
			r.Get("/runs/{run}/events", handler.StreamEvents)
			r.Get("/runs/{run}/validation", handler.ValidateRun)
			r.Post("/runs/{run}/repair", handler.RepairRun)

			r.Post("/batches", handler.StartBatch)
			r.Post("/repair", handler.RepairAccount)

			r.Get("/checks/{check}/current", handler.GetCurrent)
			r.Get("/checks/{check}/history", handler.ListHistory)
		})
	})

	return &WebAPI{
		router: router,
		logger: &logger,
		server: &http.Server{
			Addr:    config.Addr,
			Handler: router,
		},
	}
}

func (w *WebAPI) Start() error {
	serverErrors := make(chan error, 1)
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	go func() {
		w.logger.Info().Str("addr", w.server.Addr).Msg("starting server")
		serverErrors <- w.server.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		return err
	case <-shutdown:
		w.logger.Info().Msg("shutdown initiated")

		// Give outstanding requests a deadline for completion.
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		err := w.server.Shutdown(ctx)
		if err != nil {
			w.logger.Error().Err(err).Msg("graceful shutdown failed")
			err = w.server.Close()
		}

		if err != nil {
			return err
		}
	}

	return nil
}
