package result

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/de-tools/cloud-sentry/pkg/models/store"
	"github.com/de-tools/cloud-sentry/pkg/store/duckdb"
	resultstore "github.com/de-tools/cloud-sentry/pkg/store/result"
)

// rangeUpper bounds a prefix scan. Key segments are '#'-separated printable
// strings, so appending 0xFF covers every key under the prefix.
const rangeUpper = "\xff"

type resultStore struct {
	db *sql.DB
}

// NewStore returns a result.Store backed by the embedded DuckDB database.
// Records live in the result_records table keyed by (account, sort_key).
func NewStore(db *sql.DB) (resultstore.Store, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is nil")
	}
	return &resultStore{db: db}, nil
}

func (s *resultStore) exec(ctx context.Context, query string, args ...any) error {
	tx := duckdb.GetTransaction(ctx)
	var err error
	if tx == nil {
		_, err = s.db.ExecContext(ctx, query, args...)
	} else {
		_, err = tx.ExecContext(ctx, query, args...)
	}
	return err
}

func (s *resultStore) PutCurrent(ctx context.Context, rec store.CurrentRecord) error {
	key, err := resultstore.CurrentKey(rec.CheckID, rec.Scope)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(rec.Findings)
	if err != nil {
		return fmt.Errorf("marshal findings: %w", err)
	}

	query := `
		INSERT INTO result_records (account, sort_key, run_id, payload, resources_scanned, score, scanned_at)
		VALUES (?, ?, ?, ?, ?, 0, ?)
		ON CONFLICT (account, sort_key) DO UPDATE SET
			run_id = excluded.run_id,
			payload = excluded.payload,
			resources_scanned = excluded.resources_scanned,
			scanned_at = excluded.scanned_at
		WHERE excluded.scanned_at >= result_records.scanned_at`

	if err := s.exec(ctx, query,
		rec.AccountID, key, rec.RunID, string(payload), rec.ResourcesScanned, rec.ScannedAt.UTC(),
	); err != nil {
		return fmt.Errorf("put current record: %w", err)
	}
	return nil
}

func (s *resultStore) RepairCurrent(ctx context.Context, rec store.CurrentRecord) error {
	key, err := resultstore.CurrentKey(rec.CheckID, rec.Scope)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(rec.Findings)
	if err != nil {
		return fmt.Errorf("marshal findings: %w", err)
	}

	query := `
		INSERT INTO result_records (account, sort_key, run_id, payload, resources_scanned, score, scanned_at)
		VALUES (?, ?, ?, ?, ?, 0, ?)
		ON CONFLICT (account, sort_key) DO UPDATE SET
			run_id = excluded.run_id,
			payload = excluded.payload,
			resources_scanned = excluded.resources_scanned,
			scanned_at = excluded.scanned_at`

	if err := s.exec(ctx, query,
		rec.AccountID, key, rec.RunID, string(payload), rec.ResourcesScanned, rec.ScannedAt.UTC(),
	); err != nil {
		return fmt.Errorf("repair current record: %w", err)
	}
	return nil
}

func (s *resultStore) PutItems(ctx context.Context, items []store.ItemRecord) error {
	if len(items) == 0 {
		return nil
	}

	query := `
		INSERT INTO result_records (account, sort_key, run_id, payload, resources_scanned, score, scanned_at)
		VALUES (?, ?, ?, ?, 1, 0, ?)
		ON CONFLICT (account, sort_key) DO UPDATE SET
			run_id = excluded.run_id,
			payload = excluded.payload,
			scanned_at = excluded.scanned_at`

	for _, item := range items {
		key, err := resultstore.ItemKey(item.CheckID, item.Scope, item.ResourceID)
		if err != nil {
			return err
		}
		payload, err := json.Marshal(item.Finding)
		if err != nil {
			return fmt.Errorf("marshal item finding: %w", err)
		}
		if err := s.exec(ctx, query,
			item.AccountID, key, item.RunID, string(payload), item.ScannedAt.UTC(),
		); err != nil {
			return fmt.Errorf("put item record %s: %w", item.ResourceID, err)
		}
	}
	return nil
}

func (s *resultStore) DeleteItems(ctx context.Context, accountID, checkID, scope string) error {
	prefix, err := resultstore.ItemPrefix(checkID, scope)
	if err != nil {
		return err
	}

	query := `
		DELETE FROM result_records
		WHERE account = ? AND sort_key >= ? AND sort_key < ?`

	if err := s.exec(ctx, query, accountID, prefix, prefix+rangeUpper); err != nil {
		return fmt.Errorf("delete item records: %w", err)
	}
	return nil
}

func (s *resultStore) PutHistory(ctx context.Context, rec store.HistoryRecord) error {
	key, err := resultstore.HistoryKey(rec.CheckID, rec.Scope, rec.ScannedAt, rec.RunID)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(rec.Findings)
	if err != nil {
		return fmt.Errorf("marshal findings: %w", err)
	}

	// History records are immutable; rewriting the same run's record is a
	// no-op so repair stays idempotent.
	query := `
		INSERT INTO result_records (account, sort_key, run_id, payload, resources_scanned, score, partial, reconstructed, scanned_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (account, sort_key) DO NOTHING`

	if err := s.exec(ctx, query,
		rec.AccountID, key, rec.RunID, string(payload),
		rec.ResourcesScanned, rec.Score, rec.Partial, rec.Reconstructed, rec.ScannedAt.UTC(),
	); err != nil {
		return fmt.Errorf("put history record: %w", err)
	}
	return nil
}

func (s *resultStore) GetCurrent(ctx context.Context, accountID, checkID, scope string) (*store.CurrentRecord, error) {
	key, err := resultstore.CurrentKey(checkID, scope)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT run_id, payload, resources_scanned, scanned_at
		FROM result_records
		WHERE account = ? AND sort_key = ?`

	var (
		runID     string
		payload   []byte
		scanned   int
		scannedAt sql.NullTime
	)
	err = s.db.QueryRowContext(ctx, query, accountID, key).Scan(&runID, &payload, &scanned, &scannedAt)
	if err == sql.ErrNoRows {
		return nil, resultstore.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get current record: %w", err)
	}

	findings, err := unmarshalFindings(payload)
	if err != nil {
		return nil, err
	}
	return &store.CurrentRecord{
		AccountID:        accountID,
		CheckID:          checkID,
		Scope:            scope,
		RunID:            runID,
		Findings:         findings,
		ResourcesScanned: scanned,
		ScannedAt:        scannedAt.Time.UTC(),
	}, nil
}

func (s *resultStore) ListItems(ctx context.Context, accountID, checkID, scope string) ([]store.ItemRecord, error) {
	prefix, err := resultstore.ItemPrefix(checkID, scope)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT sort_key, run_id, payload, scanned_at
		FROM result_records
		WHERE account = ? AND sort_key >= ? AND sort_key < ?
		ORDER BY sort_key ASC`

	rows, err := s.db.QueryContext(ctx, query, accountID, prefix, prefix+rangeUpper)
	if err != nil {
		return nil, fmt.Errorf("list item records: %w", err)
	}
	defer rows.Close()

	items := make([]store.ItemRecord, 0)
	for rows.Next() {
		var (
			rawKey    string
			runID     string
			payload   []byte
			scannedAt sql.NullTime
		)
		if err := rows.Scan(&rawKey, &runID, &payload, &scannedAt); err != nil {
			return nil, err
		}
		key, err := resultstore.ParseKey(rawKey)
		if err != nil {
			return nil, err
		}
		var finding store.Finding
		if err := json.Unmarshal(payload, &finding); err != nil {
			return nil, fmt.Errorf("unmarshal item finding: %w", err)
		}
		items = append(items, store.ItemRecord{
			AccountID:  accountID,
			CheckID:    key.CheckID,
			Scope:      key.Scope,
			ResourceID: key.ResourceID,
			RunID:      runID,
			Finding:    finding,
			ScannedAt:  scannedAt.Time.UTC(),
		})
	}
	return items, rows.Err()
}

func (s *resultStore) QueryHistory(ctx context.Context, accountID, checkID, scope string, limit int) ([]store.HistoryRecord, error) {
	prefix, err := resultstore.HistoryPrefix(checkID, scope)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT sort_key, run_id, payload, resources_scanned, score, partial, reconstructed, scanned_at
		FROM result_records
		WHERE account = ? AND sort_key >= ? AND sort_key < ?
		ORDER BY sort_key ASC`
	args := []any{accountID, prefix, prefix + rangeUpper}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query history records: %w", err)
	}
	defer rows.Close()

	records := make([]store.HistoryRecord, 0)
	for rows.Next() {
		rec, err := scanHistoryRow(rows, accountID)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *resultStore) FindHistory(ctx context.Context, accountID, checkID, scope, runID string) (*store.HistoryRecord, error) {
	records, err := s.QueryHistory(ctx, accountID, checkID, scope, 0)
	if err != nil {
		return nil, err
	}
	for i := range records {
		if records[i].RunID == runID {
			return &records[i], nil
		}
	}
	return nil, resultstore.ErrNotFound
}

func scanHistoryRow(rows *sql.Rows, accountID string) (store.HistoryRecord, error) {
	var (
		rawKey        string
		runID         string
		payload       []byte
		scanned       int
		score         int
		partial       bool
		reconstructed bool
		scannedAt     sql.NullTime
	)
	if err := rows.Scan(&rawKey, &runID, &payload, &scanned, &score, &partial, &reconstructed, &scannedAt); err != nil {
		return store.HistoryRecord{}, err
	}
	key, err := resultstore.ParseKey(rawKey)
	if err != nil {
		return store.HistoryRecord{}, err
	}
	findings, err := unmarshalFindings(payload)
	if err != nil {
		return store.HistoryRecord{}, err
	}
	return store.HistoryRecord{
		AccountID:        accountID,
		CheckID:          key.CheckID,
		Scope:            key.Scope,
		RunID:            runID,
		Findings:         findings,
		ResourcesScanned: scanned,
		Score:            score,
		ScannedAt:        scannedAt.Time.UTC(),
		Partial:          partial,
		Reconstructed:    reconstructed,
	}, nil
}

func unmarshalFindings(payload []byte) ([]store.Finding, error) {
	findings := make([]store.Finding, 0)
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &findings); err != nil {
			return nil, fmt.Errorf("unmarshal findings: %w", err)
		}
	}
	return findings, nil
}
