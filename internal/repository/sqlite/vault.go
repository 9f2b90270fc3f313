package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sakif/seriescope/internal/apperror"
	"github.com/sakif/seriescope/internal/repository"
)

// Compile-time check that *VaultDB implements repository.VaultRepository.
var _ repository.VaultRepository = (*VaultDB)(nil)

// VaultDB is the credential store: one SQLite file holding one ciphertext
// blob per user. It stores and returns bytes it cannot read; the cipher
// lives in internal/vault and the key never comes anywhere near this file.
type VaultDB struct {
	conn *sql.DB
}

// NewVaultDB opens (or creates) the vault store at dbPath.
//
// user_id is the primary key: the schema itself guarantees at most one
// entry per user, which is what makes the isolation invariant (load(A)
// can never return B's ciphertext) a lookup property rather than a
// filtering discipline.
func NewVaultDB(dbPath string) (*VaultDB, error) {
	conn, err := open(dbPath)
	if err != nil {
		return nil, err
	}

	_, err = conn.Exec(`
		CREATE TABLE IF NOT EXISTS vault_entries (
			user_id    TEXT PRIMARY KEY,
			ciphertext BLOB NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);
	`)
	if err != nil {
		conn.Close()
		return nil, apperror.StorageUnavailable(fmt.Errorf("migrating vault table: %w", err))
	}

	return &VaultDB{conn: conn}, nil
}

// Close closes the connection pool.
func (db *VaultDB) Close() error {
	return db.conn.Close()
}

// Upsert inserts or replaces the ciphertext for one user. ON CONFLICT
// keeps created_at from the original insert and bumps only updated_at.
func (db *VaultDB) Upsert(ctx context.Context, userID string, ciphertext []byte) error {
	now := time.Now().UTC()

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO vault_entries (user_id, ciphertext, created_at, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET
		   ciphertext = excluded.ciphertext,
		   updated_at = excluded.updated_at`,
		userID, ciphertext, now, now,
	)
	if err != nil {
		return fmt.Errorf("sqlite: upserting vault entry for %s: %w", userID, err)
	}
	return nil
}

// Get returns the stored entry for one user, or ErrNotFound.
func (db *VaultDB) Get(ctx context.Context, userID string) (*repository.VaultEntry, error) {
	entry := repository.VaultEntry{UserID: userID}

	err := db.conn.QueryRowContext(ctx,
		`SELECT ciphertext, created_at, updated_at FROM vault_entries WHERE user_id = ?`,
		userID,
	).Scan(&entry.Ciphertext, &entry.CreatedAt, &entry.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("vault entry", userID)
		}
		return nil, fmt.Errorf("sqlite: getting vault entry for %s: %w", userID, err)
	}

	return &entry, nil
}

// Delete removes the entry for one user. Idempotent: deleting an absent
// entry succeeds, which lets the user-delete cascade run without first
// asking whether the user ever saved credentials.
func (db *VaultDB) Delete(ctx context.Context, userID string) error {
	_, err := db.conn.ExecContext(ctx,
		`DELETE FROM vault_entries WHERE user_id = ?`, userID)
	if err != nil {
		return fmt.Errorf("sqlite: deleting vault entry for %s: %w", userID, err)
	}
	return nil
}
