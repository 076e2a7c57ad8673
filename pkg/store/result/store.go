package result

import (
	"context"
	"errors"

	"github.com/de-tools/cloud-sentry/pkg/models/store"
)

// ErrNotFound is returned by point reads that match no record.
var ErrNotFound = errors.New("result record not found")

// Store is the partitioned result store. The partition key is the account
// id; sort keys follow the grammar in keys.go and range scans are ascending,
// which makes history queries newest-first.
//
// The current-side and history-side writes of one run are independent
// operations with no cross-record transaction; callers accept that either
// may fail while the other succeeds. The consistency validator covers that
// seam.
type Store interface {
	// PutCurrent overwrites the check-level latest-state record. The write
	// is dropped without error when the stored record carries a newer
	// timestamp, so stale writers cannot regress time.
	PutCurrent(ctx context.Context, rec store.CurrentRecord) error

	// RepairCurrent overwrites the check-level record unconditionally.
	// Reserved for the repairer, which writes from an authoritative
	// history record.
	RepairCurrent(ctx context.Context, rec store.CurrentRecord) error

	// PutItems overwrites per-item latest-state records.
	PutItems(ctx context.Context, items []store.ItemRecord) error

	// DeleteItems removes every per-item record under (account, check,
	// scope). Writers call it before PutItems so resources that stopped
	// matching a check do not linger in the latest-state view.
	DeleteItems(ctx context.Context, accountID, checkID, scope string) error

	// PutHistory appends one immutable history record.
	PutHistory(ctx context.Context, rec store.HistoryRecord) error

	GetCurrent(ctx context.Context, accountID, checkID, scope string) (*store.CurrentRecord, error)

	// ListItems returns every per-item record under (account, check, scope).
	ListItems(ctx context.Context, accountID, checkID, scope string) ([]store.ItemRecord, error)

	// QueryHistory range-scans history records newest-first. A limit of 0
	// means no limit.
	QueryHistory(ctx context.Context, accountID, checkID, scope string, limit int) ([]store.HistoryRecord, error)

	// FindHistory locates the history record a specific run wrote.
	FindHistory(ctx context.Context, accountID, checkID, scope, runID string) (*store.HistoryRecord, error)
}
