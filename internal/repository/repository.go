// Package repository declares the storage interfaces the services depend
// on. The sqlite subpackage implements them; tests substitute in-memory
// mocks. Repositories are storage only: authorization and validation live
// in the service and session layers.
package repository

import (
	"context"
	"time"

	"github.com/sakif/seriescope/internal/model"
)

// UserRepository persists user accounts.
//
// It is role-agnostic by design: it enforces structural invariants that
// belong to the data (username uniqueness, last-admin protection) but never
// asks who is calling. "May this caller do this?" is the session layer's
// question.
type UserRepository interface {
	Create(ctx context.Context, user *model.User) error
	GetByID(ctx context.Context, id string) (*model.User, error)
	GetByUsername(ctx context.Context, username string) (*model.User, error)
	List(ctx context.Context) ([]model.User, error)
	Count(ctx context.Context) (int, error)
	CountAdmins(ctx context.Context) (int, error)
	UpdatePasswordHash(ctx context.Context, id, hash string) error
	UpdateLastLogin(ctx context.Context, id string, at time.Time) error
	SetActive(ctx context.Context, id string, active bool) error
	Delete(ctx context.Context, id string) error
}

// VaultEntry is a stored ciphertext blob. The repository never sees
// plaintext; encryption happens one layer up in internal/vault.
type VaultEntry struct {
	UserID     string
	Ciphertext []byte
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// VaultRepository persists one opaque ciphertext per user.
type VaultRepository interface {
	Upsert(ctx context.Context, userID string, ciphertext []byte) error
	Get(ctx context.Context, userID string) (*VaultEntry, error)
	// Delete is idempotent: deleting an absent entry is not an error.
	Delete(ctx context.Context, userID string) error
}

// HistoryRepository persists immutable analysis snapshots.
//
// Every method takes a userID and filters on it; snapshot data is strictly
// per-user. There is deliberately no update method: snapshots are written
// once in a single transaction and only ever deleted whole.
type HistoryRepository interface {
	// SaveSnapshot inserts the snapshot and all its records atomically.
	// A duplicate (user_id, run_timestamp) fails with ErrInvalidSnapshot.
	SaveSnapshot(ctx context.Context, snapshot *model.Snapshot) error
	GetSnapshot(ctx context.Context, userID string, runTimestamp time.Time) (*model.Snapshot, error)
	// ListSnapshots returns metadata (no records) newest-first.
	ListSnapshots(ctx context.Context, userID string) ([]model.Snapshot, error)
	SeriesTrend(ctx context.Context, userID, seriesName string) ([]model.TrendPoint, error)
	GlobalTrend(ctx context.Context, userID string) ([]model.GlobalTrendPoint, error)
	// DeleteSnapshot removes one snapshot (and its records) by exact run
	// timestamp. SnapshotNotFound when the user has no snapshot there.
	DeleteSnapshot(ctx context.Context, userID string, runTimestamp time.Time) error
	// DeleteOlderThan removes snapshots strictly older than the cutoff
	// for one user and returns how many snapshots were deleted.
	DeleteOlderThan(ctx context.Context, userID string, cutoff time.Time) (int, error)
	// DeleteAllForUser removes every snapshot belonging to one user.
	DeleteAllForUser(ctx context.Context, userID string) (int, error)
}
