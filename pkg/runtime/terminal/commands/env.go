package commands

import (
	"database/sql"
	"fmt"

	"github.com/de-tools/cloud-sentry/pkg/services/checks"
	"github.com/de-tools/cloud-sentry/pkg/services/consistency"
	"github.com/de-tools/cloud-sentry/pkg/store/duckdb"
	duckdbresult "github.com/de-tools/cloud-sentry/pkg/store/duckdb/result"
	duckdbruns "github.com/de-tools/cloud-sentry/pkg/store/duckdb/runs"
	resultstore "github.com/de-tools/cloud-sentry/pkg/store/result"
)

const defaultDBPath = "cloud-sentry.db"

// env bundles the stores every command needs. The CLI always works against
// the local DuckDB file; auditing through DynamoDB is the server's job.
type env struct {
	db      *sql.DB
	results resultstore.Store
	ledger  duckdbruns.Store
	catalog *checks.Catalog
}

func openEnv(dbPath string) (*env, error) {
	db, err := duckdb.NewDB(duckdb.Settings{DbPath: dbPath})
	if err != nil {
		return nil, fmt.Errorf("failed to open database at %s: %w", dbPath, err)
	}

	results, err := duckdbresult.NewStore(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	ledger, err := duckdbruns.NewStore(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &env{
		db:      db,
		results: results,
		ledger:  ledger,
		catalog: checks.NewCatalog(),
	}, nil
}

func (e *env) close() {
	_ = e.db.Close()
}

func (e *env) consistency() (*consistency.Validator, *consistency.Repairer) {
	validator := consistency.NewValidator(e.results, e.ledger, e.catalog.IDs(), 0)
	return validator, consistency.NewRepairer(validator, e.results)
}
