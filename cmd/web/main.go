package main

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"os"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/de-tools/cloud-sentry/pkg/server"
	"github.com/de-tools/cloud-sentry/pkg/services/checks"
	"github.com/de-tools/cloud-sentry/pkg/services/config"
	"github.com/de-tools/cloud-sentry/pkg/services/consistency"
	"github.com/de-tools/cloud-sentry/pkg/services/credentials"
	"github.com/de-tools/cloud-sentry/pkg/services/inspection"
	"github.com/de-tools/cloud-sentry/pkg/services/progress"
	"github.com/de-tools/cloud-sentry/pkg/store/duckdb"
	duckdbresult "github.com/de-tools/cloud-sentry/pkg/store/duckdb/result"
	duckdbruns "github.com/de-tools/cloud-sentry/pkg/store/duckdb/runs"
	dynamoresult "github.com/de-tools/cloud-sentry/pkg/store/dynamo/result"
	resultstore "github.com/de-tools/cloud-sentry/pkg/store/result"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var cfgPath string

func main() {
	var rootCmd = &cobra.Command{
		Use:   "web",
		Short: "Start the Cloud Sentry audit server",
		RunE:  runServer,
	}

	rootCmd.Flags().StringVarP(&cfgPath, "config", "c", "",
		"Path to the settings file (optional, SENTRY_* env vars also apply)")

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func runServer(cmd *cobra.Command, _ []string) error {
	if err := godotenv.Load(); err != nil {
		fmt.Printf("Error loading .env file: %v\n", err)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	ctx := logger.WithContext(cmd.Context())

	settings, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}

	provider, err := credentials.NewSTSProvider(ctx, settings.AWSProfile, settings.RoleName)
	if err != nil {
		return fmt.Errorf("failed to initialize credentials provider: %w", err)
	}

	db, err := duckdb.NewDB(duckdb.Settings{DbPath: settings.DBPath})
	if err != nil {
		return fmt.Errorf("failed to create DuckDB instance: %w", err)
	}

	ledger, err := duckdbruns.NewStore(db)
	if err != nil {
		return fmt.Errorf("failed to create run ledger: %w", err)
	}

	results, err := newResultStore(ctx, settings, db)
	if err != nil {
		return fmt.Errorf("failed to create result store: %w", err)
	}

	catalog := checks.NewCatalog()
	hub := progress.NewHub()
	runner := inspection.NewCheckRunner(catalog, nil)
	controller := inspection.NewController(runner, provider, results, ledger, hub,
		inspection.Settings{SoftTimeout: settings.SoftTimeout})
	validator := consistency.NewValidator(results, ledger, catalog.IDs(), 0)
	repairer := consistency.NewRepairer(validator, results)

	logger.Info().
		Str("backend", settings.Backend).
		Strs("checks", catalog.IDs()).
		Msg("audit engine initialized")

	if settings.ReconcileInterval > 0 {
		go reconcileLoop(ctx, repairer, settings.ReconcileAccounts, settings.ReconcileInterval)
	}

	webAPI := server.NewWebAPI(logger, server.Config{
		Addr:            net.JoinHostPort(settings.Host, settings.Port),
		ShutdownTimeout: 10 * time.Second,
		Dependencies: server.Dependencies{
			Controller: controller,
			Catalog:    catalog,
			Results:    results,
			Ledger:     ledger,
			Validator:  validator,
			Repairer:   repairer,
			Hub:        hub,
		},
	})

	return webAPI.Start()
}

func newResultStore(ctx context.Context, settings *config.Settings, db *sql.DB) (resultstore.Store, error) {
	switch settings.Backend {
	case config.BackendDynamo:
		cfg, err := awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithSharedConfigProfile(settings.AWSProfile))
		if err != nil {
			return nil, fmt.Errorf("unable to load AWS SDK config: %w", err)
		}
		return dynamoresult.NewStore(dynamodb.NewFromConfig(cfg), settings.DynamoTable)
	default:
		return duckdbresult.NewStore(db)
	}
}

// reconcileLoop periodically re-validates and repairs the configured
// accounts so divergence between the stored views is bounded by the
// interval rather than discovered on read.
func reconcileLoop(ctx context.Context, repairer *consistency.Repairer, accounts []string, interval time.Duration) {
	logger := zerolog.Ctx(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, account := range accounts {
				reports, err := repairer.RepairAccount(ctx, account)
				if err != nil {
					logger.Error().Err(err).Str("account", account).Msg("reconciliation pass failed")
					continue
				}
				repaired := 0
				for _, report := range reports {
					repaired += len(report.Repaired)
				}
				if repaired > 0 {
					logger.Info().Str("account", account).Int("repaired", repaired).Msg("reconciled divergent views")
				}
			}
		}
	}
}
