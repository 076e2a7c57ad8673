package runs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/de-tools/cloud-sentry/pkg/models/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateRunPropagatesDBError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO runs").
		WillReturnError(errors.New("disk full"))

	s, err := NewStore(db)
	require.NoError(t, err)

	err = s.CreateRun(context.Background(), store.RunRecord{
		ID:        "r1",
		AccountID: "a1",
		Status:    "PENDING",
		StartedAt: time.Now(),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListRunsPropagatesDBError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT id, batch_id, account").
		WillReturnError(errors.New("connection reset"))

	s, err := NewStore(db)
	require.NoError(t, err)

	_, err = s.ListRuns(context.Background(), "a1", nil)
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFinishRunPropagatesDBError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("UPDATE runs SET status").
		WillReturnError(errors.New("read-only transaction"))

	s, err := NewStore(db)
	require.NoError(t, err)

	err = s.FinishRun(context.Background(), "r1", "COMPLETED", time.Now(), nil)
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
