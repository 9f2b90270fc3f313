package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/sakif/seriescope/internal/apperror"
	"github.com/sakif/seriescope/internal/model"
)

// newTestUserDB opens a fresh identity store in a per-test temp directory.
// A real file (not :memory:) because database/sql may open more than one
// connection, and each in-memory connection would be its own empty database.
func newTestUserDB(t *testing.T) *UserDB {
	t.Helper()
	db, err := NewUserDB(filepath.Join(t.TempDir(), "users.db"))
	if err != nil {
		t.Fatalf("NewUserDB() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// createTestUser inserts a user and fails the test on error.
func createTestUser(t *testing.T, db *UserDB, username string, role model.Role) *model.User {
	t.Helper()
	user := &model.User{
		Username:     username,
		PasswordHash: "$2a$04$fakehashfakehashfakehashfakehashfakehashfakehashfak",
		Role:         role,
		IsActive:     true,
	}
	if err := db.Create(context.Background(), user); err != nil {
		t.Fatalf("failed to create test user %q: %v", username, err)
	}
	return user
}

func TestUserCreate(t *testing.T) {
	db := newTestUserDB(t)

	user := createTestUser(t, db, "alice", model.RoleAdmin)

	if user.ID == "" {
		t.Error("Create() did not set user.ID")
	}
	if user.CreatedAt.IsZero() {
		t.Error("Create() did not set user.CreatedAt")
	}
	if user.LastLoginAt != nil {
		t.Error("a fresh user should have no LastLoginAt")
	}
}

func TestUserCreate_DuplicateUsername(t *testing.T) {
	db := newTestUserDB(t)
	createTestUser(t, db, "alice", model.RoleAdmin)

	dup := &model.User{Username: "alice", PasswordHash: "x", Role: model.RoleReadOnly, IsActive: true}
	err := db.Create(context.Background(), dup)
	if !errors.Is(err, apperror.ErrDuplicateUsername) {
		t.Errorf("Create() error = %v, want ErrDuplicateUsername", err)
	}
}

func TestUserCreate_UsernameIsCaseSensitive(t *testing.T) {
	db := newTestUserDB(t)
	createTestUser(t, db, "alice", model.RoleAdmin)

	// "Alice" is a distinct account; only the exact same casing conflicts.
	other := createTestUser(t, db, "Alice", model.RoleReadOnly)

	found, err := db.GetByUsername(context.Background(), "Alice")
	if err != nil {
		t.Fatalf("GetByUsername() error = %v", err)
	}
	if found.ID != other.ID {
		t.Errorf("GetByUsername(Alice) = %s, want %s", found.ID, other.ID)
	}
}

func TestUserGetByID_NotFound(t *testing.T) {
	db := newTestUserDB(t)

	_, err := db.GetByID(context.Background(), "nonexistent")
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("GetByID() error = %v, want ErrNotFound", err)
	}
}

func TestUserCounts(t *testing.T) {
	db := newTestUserDB(t)
	ctx := context.Background()

	createTestUser(t, db, "alice", model.RoleAdmin)
	createTestUser(t, db, "bob", model.RoleReadOnly)
	createTestUser(t, db, "carol", model.RoleAdmin)

	total, err := db.Count(ctx)
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if total != 3 {
		t.Errorf("Count() = %d, want 3", total)
	}

	admins, err := db.CountAdmins(ctx)
	if err != nil {
		t.Fatalf("CountAdmins() error = %v", err)
	}
	if admins != 2 {
		t.Errorf("CountAdmins() = %d, want 2", admins)
	}
}

func TestUserUpdateLastLogin(t *testing.T) {
	db := newTestUserDB(t)
	ctx := context.Background()
	user := createTestUser(t, db, "alice", model.RoleAdmin)

	at := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	if err := db.UpdateLastLogin(ctx, user.ID, at); err != nil {
		t.Fatalf("UpdateLastLogin() error = %v", err)
	}

	found, err := db.GetByID(ctx, user.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if found.LastLoginAt == nil {
		t.Fatal("LastLoginAt is still nil after UpdateLastLogin()")
	}
	if !found.LastLoginAt.Equal(at) {
		t.Errorf("LastLoginAt = %v, want %v", found.LastLoginAt, at)
	}
}

func TestUserUpdatePasswordHash(t *testing.T) {
	db := newTestUserDB(t)
	ctx := context.Background()
	user := createTestUser(t, db, "alice", model.RoleAdmin)

	if err := db.UpdatePasswordHash(ctx, user.ID, "new-hash"); err != nil {
		t.Fatalf("UpdatePasswordHash() error = %v", err)
	}

	found, err := db.GetByID(ctx, user.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if found.PasswordHash != "new-hash" {
		t.Errorf("PasswordHash = %q, want %q", found.PasswordHash, "new-hash")
	}

	if err := db.UpdatePasswordHash(ctx, "nonexistent", "h"); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("UpdatePasswordHash(nonexistent) error = %v, want ErrNotFound", err)
	}
}

func TestUserDelete_LastAdminProtected(t *testing.T) {
	db := newTestUserDB(t)
	ctx := context.Background()

	admin := createTestUser(t, db, "alice", model.RoleAdmin)
	reader := createTestUser(t, db, "bob", model.RoleReadOnly)

	// Sole admin cannot be deleted, whoever asks.
	if err := db.Delete(ctx, admin.ID); !errors.Is(err, apperror.ErrForbidden) {
		t.Errorf("Delete(last admin) error = %v, want ErrForbidden", err)
	}

	// A read-only user can go.
	if err := db.Delete(ctx, reader.ID); err != nil {
		t.Errorf("Delete(readonly) error = %v", err)
	}

	// With a second admin present, the first becomes deletable.
	createTestUser(t, db, "carol", model.RoleAdmin)
	if err := db.Delete(ctx, admin.ID); err != nil {
		t.Errorf("Delete(admin with another admin present) error = %v", err)
	}
}

func TestUserSetActive_LastActiveAdminProtected(t *testing.T) {
	db := newTestUserDB(t)
	ctx := context.Background()

	admin := createTestUser(t, db, "alice", model.RoleAdmin)
	other := createTestUser(t, db, "carol", model.RoleAdmin)

	// Two active admins: either can be disabled.
	if err := db.SetActive(ctx, other.ID, false); err != nil {
		t.Fatalf("SetActive(other, false) error = %v", err)
	}

	// Now alice is the last active admin.
	if err := db.SetActive(ctx, admin.ID, false); !errors.Is(err, apperror.ErrForbidden) {
		t.Errorf("SetActive(last active admin, false) error = %v, want ErrForbidden", err)
	}

	// Re-enable carol; alice becomes disableable again.
	if err := db.SetActive(ctx, other.ID, true); err != nil {
		t.Fatalf("SetActive(other, true) error = %v", err)
	}
	if err := db.SetActive(ctx, admin.ID, false); err != nil {
		t.Errorf("SetActive(admin, false) error = %v", err)
	}
}

func TestUserList_NewestFirst(t *testing.T) {
	db := newTestUserDB(t)
	ctx := context.Background()

	createTestUser(t, db, "alice", model.RoleAdmin)
	createTestUser(t, db, "bob", model.RoleReadOnly)
	createTestUser(t, db, "carol", model.RoleReadOnly)

	users, err := db.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(users) != 3 {
		t.Fatalf("List() returned %d users, want 3", len(users))
	}
	// xid is time-ordered, so the newest-first tiebreak on id holds even
	// when created_at timestamps collide within one test run.
	if users[0].Username != "carol" || users[2].Username != "alice" {
		t.Errorf("List() order = [%s %s %s], want newest first",
			users[0].Username, users[1].Username, users[2].Username)
	}
}
