package runs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/de-tools/cloud-sentry/pkg/models/store"
)

var ErrRunNotFound = errors.New("run not found")

// Store is the run ledger. The controller writes a row when a run starts
// and finalizes it at the terminal transition, before the dual write to the
// result store begins. The validator reads the ledger to learn which runs
// are known to have completed.
type Store interface {
	CreateRun(ctx context.Context, rec store.RunRecord) error
	FinishRun(ctx context.Context, runID, status string, finishedAt time.Time, runErr *string) error
	GetRun(ctx context.Context, runID string) (*store.RunRecord, error)
	ListRuns(ctx context.Context, accountID string, statuses []string) ([]store.RunRecord, error)
}

type defaultStore struct {
	db *sql.DB
}

func NewStore(db *sql.DB) (Store, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is nil")
	}
	return &defaultStore{db: db}, nil
}

func (s *defaultStore) CreateRun(ctx context.Context, rec store.RunRecord) error {
	query := `
		INSERT INTO runs (id, batch_id, account, check_id, scope, status, started_at, finished_at, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, NULL, NULL)`

	_, err := s.db.ExecContext(ctx, query,
		rec.ID, rec.BatchID, rec.AccountID, rec.CheckID, rec.Scope, rec.Status, rec.StartedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("create run %s: %w", rec.ID, err)
	}
	return nil
}

func (s *defaultStore) FinishRun(ctx context.Context, runID, status string, finishedAt time.Time, runErr *string) error {
	query := `UPDATE runs SET status = ?, finished_at = ?, error = ? WHERE id = ?`

	res, err := s.db.ExecContext(ctx, query, status, finishedAt.UTC(), runErr, runID)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", runID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("finish run %s: %w", runID, ErrRunNotFound)
	}
	return nil
}

func (s *defaultStore) GetRun(ctx context.Context, runID string) (*store.RunRecord, error) {
	query := `
		SELECT id, batch_id, account, check_id, scope, status, started_at, finished_at, error
		FROM runs WHERE id = ?`

	rec, err := scanRunRow(s.db.QueryRowContext(ctx, query, runID))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run %s: %w", runID, ErrRunNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", runID, err)
	}
	return rec, nil
}

func (s *defaultStore) ListRuns(ctx context.Context, accountID string, statuses []string) ([]store.RunRecord, error) {
	query := `
		SELECT id, batch_id, account, check_id, scope, status, started_at, finished_at, error
		FROM runs WHERE account = ?`
	args := []any{accountID}

	if len(statuses) > 0 {
		placeholders := make([]string, len(statuses))
		for i, status := range statuses {
			placeholders[i] = "?"
			args = append(args, status)
		}
		query += fmt.Sprintf(" AND status IN (%s)", strings.Join(placeholders, ","))
	}
	query += " ORDER BY started_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	records := make([]store.RunRecord, 0)
	for rows.Next() {
		rec, err := scanRunRow(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRunRow(row rowScanner) (*store.RunRecord, error) {
	var (
		rec        store.RunRecord
		batchID    sql.NullString
		checkID    sql.NullString
		scope      sql.NullString
		startedAt  time.Time
		finishedAt sql.NullTime
		runErr     sql.NullString
	)
	if err := row.Scan(&rec.ID, &batchID, &rec.AccountID, &checkID, &scope,
		&rec.Status, &startedAt, &finishedAt, &runErr); err != nil {
		return nil, err
	}
	rec.BatchID = batchID.String
	rec.CheckID = checkID.String
	rec.Scope = scope.String
	rec.StartedAt = startedAt.UTC()
	if finishedAt.Valid {
		t := finishedAt.Time.UTC()
		rec.FinishedAt = &t
	}
	if runErr.Valid {
		msg := runErr.String
		rec.Error = &msg
	}
	return &rec, nil
}
