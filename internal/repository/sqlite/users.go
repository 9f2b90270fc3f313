package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/seriescope/internal/apperror"
	"github.com/sakif/seriescope/internal/model"
	"github.com/sakif/seriescope/internal/repository"
)

// Compile-time check that *UserDB implements repository.UserRepository.
var _ repository.UserRepository = (*UserDB)(nil)

// UserDB is the identity store: one SQLite file holding the users table.
type UserDB struct {
	conn *sql.DB
}

// NewUserDB opens (or creates) the identity store at dbPath and runs its
// migration. The CHECK constraint on role is a second line of defence; the
// service layer validates roles before they ever reach SQL.
func NewUserDB(dbPath string) (*UserDB, error) {
	conn, err := open(dbPath)
	if err != nil {
		return nil, err
	}

	_, err = conn.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			id            TEXT PRIMARY KEY,
			username      TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			role          TEXT NOT NULL CHECK(role IN ('admin', 'readonly')),
			is_active     INTEGER NOT NULL DEFAULT 1,
			created_at    DATETIME NOT NULL,
			last_login_at DATETIME
		);
		CREATE INDEX IF NOT EXISTS idx_users_username ON users(username);
	`)
	if err != nil {
		conn.Close()
		return nil, apperror.StorageUnavailable(fmt.Errorf("migrating users table: %w", err))
	}

	return &UserDB{conn: conn}, nil
}

// Close closes the connection pool.
func (db *UserDB) Close() error {
	return db.conn.Close()
}

// Create inserts a new user. The ID (xid) and CreatedAt are assigned here
// and written back into the caller's struct. Username uniqueness is
// enforced by the UNIQUE constraint, not a pre-check, so two concurrent
// creates with the same name race safely: exactly one wins, the other gets
// ErrDuplicateUsername.
func (db *UserDB) Create(ctx context.Context, user *model.User) error {
	user.ID = xid.New().String()
	user.CreatedAt = time.Now().UTC()

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO users (id, username, password_hash, role, is_active, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		user.ID,
		user.Username,
		user.PasswordHash,
		string(user.Role),
		user.IsActive,
		user.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err, "users.username") {
			return apperror.DuplicateUsername(user.Username)
		}
		return fmt.Errorf("sqlite: inserting user %q: %w", user.Username, err)
	}

	return nil
}

const userColumns = `id, username, password_hash, role, is_active, created_at, last_login_at`

func scanUser(row interface{ Scan(...any) error }) (*model.User, error) {
	var (
		u         model.User
		role      string
		lastLogin sql.NullTime
	)
	err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &role, &u.IsActive, &u.CreatedAt, &lastLogin)
	if err != nil {
		return nil, err
	}
	u.Role = model.Role(role)
	if lastLogin.Valid {
		t := lastLogin.Time
		u.LastLoginAt = &t
	}
	return &u, nil
}

// GetByID retrieves a user by internal ID.
func (db *UserDB) GetByID(ctx context.Context, id string) (*model.User, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id)

	user, err := scanUser(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("user", id)
		}
		return nil, fmt.Errorf("sqlite: getting user %s: %w", id, err)
	}
	return user, nil
}

// GetByUsername retrieves a user by exact, case-sensitive username.
// SQLite's default BINARY collation on TEXT gives case sensitivity for
// free; "Alice" and "alice" are distinct accounts.
func (db *UserDB) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE username = ?`, username)

	user, err := scanUser(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("user", username)
		}
		return nil, fmt.Errorf("sqlite: getting user by username: %w", err)
	}
	return user, nil
}

// List returns all users ordered by creation time, newest first.
func (db *UserDB) List(ctx context.Context) ([]model.User, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing users: %w", err)
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning user row: %w", err)
		}
		users = append(users, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating users: %w", err)
	}

	return users, nil
}

// Count returns the total number of users.
func (db *UserDB) Count(ctx context.Context) (int, error) {
	var n int
	err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("sqlite: counting users: %w", err)
	}
	return n, nil
}

// CountAdmins returns the number of admin users (active or not).
func (db *UserDB) CountAdmins(ctx context.Context) (int, error) {
	var n int
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM users WHERE role = ?`, string(model.RoleAdmin)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("sqlite: counting admins: %w", err)
	}
	return n, nil
}

// UpdatePasswordHash replaces the stored hash for one user.
func (db *UserDB) UpdatePasswordHash(ctx context.Context, id, hash string) error {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE users SET password_hash = ? WHERE id = ?`, hash, id)
	if err != nil {
		return fmt.Errorf("sqlite: updating password hash for %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperror.NotFound("user", id)
	}
	return nil
}

// UpdateLastLogin records a successful login time.
func (db *UserDB) UpdateLastLogin(ctx context.Context, id string, at time.Time) error {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE users SET last_login_at = ? WHERE id = ?`, at.UTC(), id)
	if err != nil {
		return fmt.Errorf("sqlite: updating last login for %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperror.NotFound("user", id)
	}
	return nil
}

// SetActive enables or disables an account. Disabling the last active
// admin is refused: an all-readonly system would be unmanageable, the same
// invariant Delete protects. The check and the update run in one
// transaction so two concurrent disables cannot both slip past the count.
func (db *UserDB) SetActive(ctx context.Context, id string, active bool) error {
	if active {
		// Re-enabling can never violate the invariant.
		res, err := db.conn.ExecContext(ctx,
			`UPDATE users SET is_active = 1 WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("sqlite: activating user %s: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return apperror.NotFound("user", id)
		}
		return nil
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: beginning deactivate tx: %w", err)
	}
	defer tx.Rollback()

	var role string
	err = tx.QueryRowContext(ctx, `SELECT role FROM users WHERE id = ?`, id).Scan(&role)
	if err != nil {
		if err == sql.ErrNoRows {
			return apperror.NotFound("user", id)
		}
		return fmt.Errorf("sqlite: loading user %s: %w", id, err)
	}

	if model.Role(role) == model.RoleAdmin {
		var others int
		err = tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM users WHERE role = ? AND is_active = 1 AND id != ?`,
			string(model.RoleAdmin), id).Scan(&others)
		if err != nil {
			return fmt.Errorf("sqlite: counting other active admins: %w", err)
		}
		if others == 0 {
			return apperror.Forbidden()
		}
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE users SET is_active = 0 WHERE id = ?`, id); err != nil {
		return fmt.Errorf("sqlite: deactivating user %s: %w", id, err)
	}

	return tx.Commit()
}

// Delete removes a user row. The last remaining admin cannot be deleted,
// enforced here in a transaction so the invariant holds even under
// concurrent deletes. Cascading cleanup of the user's vault entry and
// history lives in the session layer; those are separate store files.
func (db *UserDB) Delete(ctx context.Context, id string) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: beginning delete tx: %w", err)
	}
	defer tx.Rollback()

	var role string
	err = tx.QueryRowContext(ctx, `SELECT role FROM users WHERE id = ?`, id).Scan(&role)
	if err != nil {
		if err == sql.ErrNoRows {
			return apperror.NotFound("user", id)
		}
		return fmt.Errorf("sqlite: loading user %s: %w", id, err)
	}

	if model.Role(role) == model.RoleAdmin {
		var others int
		err = tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM users WHERE role = ? AND id != ?`,
			string(model.RoleAdmin), id).Scan(&others)
		if err != nil {
			return fmt.Errorf("sqlite: counting other admins: %w", err)
		}
		if others == 0 {
			return apperror.Forbidden()
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id); err != nil {
		return fmt.Errorf("sqlite: deleting user %s: %w", id, err)
	}

	return tx.Commit()
}
