package duckdb

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"

	"github.com/marcboeker/go-duckdb/v2"
)

const RunLedgerSchema = `
	CREATE TABLE IF NOT EXISTS runs (
		id VARCHAR NOT NULL,
		batch_id VARCHAR,
		account VARCHAR NOT NULL,
		check_id VARCHAR,
		scope VARCHAR,
		status VARCHAR NOT NULL,
		started_at TIMESTAMP NOT NULL,
		finished_at TIMESTAMP NULL,
		error VARCHAR NULL,
		PRIMARY KEY (id)
	);
`

const ResultRecordsSchema = `
	CREATE TABLE IF NOT EXISTS result_records (
		account VARCHAR NOT NULL,
		sort_key VARCHAR NOT NULL,
		run_id VARCHAR,
		payload JSON,
		resources_scanned INTEGER,
		score INTEGER,
		partial BOOLEAN DEFAULT FALSE,
		reconstructed BOOLEAN DEFAULT FALSE,
		scanned_at TIMESTAMP NOT NULL,
		PRIMARY KEY (account, sort_key)
	);
`

var bootQueries = []string{
	RunLedgerSchema,
	ResultRecordsSchema,
}

type Settings struct {
	DbPath string
}

func NewDB(settings Settings) (*sql.DB, error) {
	c, err := duckdb.NewConnector(fmt.Sprintf("%s?threads=4", settings.DbPath), func(exec driver.ExecerContext) error {
		bootQueries := append([]string{}, bootQueries...)

		for _, query := range bootQueries {
			_, err := exec.ExecContext(context.Background(), query, nil)
			if err != nil {
				return err
			}
		}
		return nil
	})

	if err != nil {
		return nil, err
	}

	db := sql.OpenDB(c)
	return db, nil
}
