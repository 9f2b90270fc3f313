package sqlite

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/sakif/seriescope/internal/apperror"
)

func newTestVaultDB(t *testing.T) *VaultDB {
	t.Helper()
	db, err := NewVaultDB(filepath.Join(t.TempDir(), "vault.db"))
	if err != nil {
		t.Fatalf("NewVaultDB() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestVaultUpsertAndGet(t *testing.T) {
	db := newTestVaultDB(t)
	ctx := context.Background()

	blob := []byte{0x01, 0x02, 0x03, 0xff}
	if err := db.Upsert(ctx, "user-a", blob); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	entry, err := db.Get(ctx, "user-a")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !bytes.Equal(entry.Ciphertext, blob) {
		t.Errorf("Ciphertext = %x, want %x", entry.Ciphertext, blob)
	}
	if entry.CreatedAt.IsZero() || entry.UpdatedAt.IsZero() {
		t.Error("timestamps not set on insert")
	}
}

func TestVaultUpsert_ReplaceKeepsCreatedAt(t *testing.T) {
	db := newTestVaultDB(t)
	ctx := context.Background()

	if err := db.Upsert(ctx, "user-a", []byte("v1")); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	first, err := db.Get(ctx, "user-a")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	if err := db.Upsert(ctx, "user-a", []byte("v2")); err != nil {
		t.Fatalf("second Upsert() error = %v", err)
	}
	second, err := db.Get(ctx, "user-a")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	if string(second.Ciphertext) != "v2" {
		t.Errorf("Ciphertext = %q, want %q", second.Ciphertext, "v2")
	}
	if !second.CreatedAt.Equal(first.CreatedAt) {
		t.Errorf("CreatedAt changed on update: %v → %v", first.CreatedAt, second.CreatedAt)
	}
}

func TestVaultGet_NotFound(t *testing.T) {
	db := newTestVaultDB(t)

	_, err := db.Get(context.Background(), "nobody")
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestVaultDelete_Idempotent(t *testing.T) {
	db := newTestVaultDB(t)
	ctx := context.Background()

	if err := db.Upsert(ctx, "user-a", []byte("secret")); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	if err := db.Delete(ctx, "user-a"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	// Deleting again (and deleting a user that never saved) must succeed.
	if err := db.Delete(ctx, "user-a"); err != nil {
		t.Errorf("second Delete() error = %v", err)
	}
	if err := db.Delete(ctx, "never-saved"); err != nil {
		t.Errorf("Delete(never-saved) error = %v", err)
	}

	if _, err := db.Get(ctx, "user-a"); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("Get() after delete error = %v, want ErrNotFound", err)
	}
}

func TestVaultEntriesAreKeyedPerUser(t *testing.T) {
	db := newTestVaultDB(t)
	ctx := context.Background()

	if err := db.Upsert(ctx, "user-a", []byte("a-secret")); err != nil {
		t.Fatalf("Upsert(a) error = %v", err)
	}
	if err := db.Upsert(ctx, "user-b", []byte("b-secret")); err != nil {
		t.Fatalf("Upsert(b) error = %v", err)
	}

	a, err := db.Get(ctx, "user-a")
	if err != nil {
		t.Fatalf("Get(a) error = %v", err)
	}
	b, err := db.Get(ctx, "user-b")
	if err != nil {
		t.Fatalf("Get(b) error = %v", err)
	}

	if bytes.Equal(a.Ciphertext, b.Ciphertext) {
		t.Error("two users' ciphertexts should be independent")
	}
	if string(a.Ciphertext) != "a-secret" || string(b.Ciphertext) != "b-secret" {
		t.Error("ciphertexts crossed between users")
	}
}
