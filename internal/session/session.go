// Package session is the façade the UI collaborator talks to. It combines
// the identity service, the credential vault, and the history service
// behind a two-state machine:
//
//	Anonymous ──login──▶ Authenticated ──logout──▶ Anonymous
//
// While Anonymous, only Login (and, before any user exists, BootstrapAdmin)
// is permitted. While Authenticated, operations are gated by the session's
// role: write-class operations require admin; read-class operations require
// any valid session and only ever touch the session owner's own data.
//
// Sessions are local to this one process. Each Login creates a server-side
// entry holding the user and their decrypted vault credentials; the caller
// gets back a signed token that references the entry. Logout (or expiry)
// removes the entry, so a token alone can never reach the decrypted secret
// again.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/seriescope/internal/apperror"
	"github.com/sakif/seriescope/internal/auth"
	"github.com/sakif/seriescope/internal/model"
	"github.com/sakif/seriescope/internal/service"
	"github.com/sakif/seriescope/internal/vault"
)

// state is one live session.
//
// Entries are immutable once published: an update replaces the whole map
// value under the lock, eviction is a plain delete, and the structs that
// user and creds point to are never written after publication. A state read
// under RLock therefore stays safe to use after the lock is released, and a
// concurrent logout can never be observed as a half-cleared session.
//
// creds is nil when the user has no vault entry (or it could not be
// decrypted); that is tolerated, not fatal: the user can re-save
// credentials from within the session.
type state struct {
	user      *model.User
	creds     *model.Credentials
	expiresAt time.Time
}

// Manager is the session registry and authorization gate.
type Manager struct {
	identity *service.IdentityService
	vault    *vault.Vault
	history  *service.HistoryService
	tokens   *auth.TokenService
	logger   *slog.Logger

	// purgeHistory is the deployment's retention policy for user deletion:
	// when true, deleting a user also deletes their snapshots.
	purgeHistory bool

	ttl time.Duration

	mu       sync.RWMutex
	sessions map[string]state
}

// Config collects the Manager's dependencies.
type Config struct {
	Identity *service.IdentityService
	Vault    *vault.Vault
	History  *service.HistoryService
	Tokens   *auth.TokenService
	Logger   *slog.Logger

	SessionTTL           time.Duration
	PurgeHistoryOnDelete bool
}

// NewManager creates the façade.
func NewManager(cfg Config) *Manager {
	return &Manager{
		identity:     cfg.Identity,
		vault:        cfg.Vault,
		history:      cfg.History,
		tokens:       cfg.Tokens,
		logger:       cfg.Logger,
		purgeHistory: cfg.PurgeHistoryOnDelete,
		ttl:          cfg.SessionTTL,
		sessions:     make(map[string]state),
	}
}

// ---------------------------------------------------------------------
// Anonymous operations
// ---------------------------------------------------------------------

// NeedsBootstrap reports whether no users exist yet.
func (m *Manager) NeedsBootstrap(ctx context.Context) (bool, error) {
	return m.identity.NeedsBootstrap(ctx)
}

// BootstrapAdmin creates the initial admin account. Permitted only while
// the system has no users; afterwards account creation requires an admin
// session (CreateUser).
func (m *Manager) BootstrapAdmin(ctx context.Context, username, password string) (*model.User, error) {
	empty, err := m.identity.NeedsBootstrap(ctx)
	if err != nil {
		return nil, err
	}
	if !empty {
		return nil, apperror.Forbidden()
	}
	return m.identity.CreateUser(ctx, username, password, model.RoleAdmin)
}

// Login authenticates and opens a session, returning the token the caller
// presents on every subsequent operation.
//
// The user's vault entry is decrypted into the session now, once: a missing
// entry is fine (new user), and a failing one is logged and tolerated; the
// session still opens so the user can re-save credentials. Only storage
// failures abort the login.
func (m *Manager) Login(ctx context.Context, username, password string) (string, error) {
	user, err := m.identity.Authenticate(ctx, username, password)
	if err != nil {
		return "", err
	}

	var creds *model.Credentials
	creds, err = m.vault.Load(ctx, user.ID)
	if err != nil {
		switch {
		case errors.Is(err, apperror.ErrNotFound):
			creds = nil
		case errors.Is(err, apperror.ErrDecryptionFailed):
			m.logger.Warn("vault entry undecryptable at login; credentials must be re-saved",
				slog.String("userID", user.ID))
			creds = nil
		default:
			return "", err
		}
	}

	sessionID := xid.New().String()
	token, err := m.tokens.Generate(sessionID)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	m.sessions[sessionID] = state{
		user:      user,
		creds:     creds,
		expiresAt: time.Now().Add(m.ttl),
	}
	m.mu.Unlock()

	m.logger.Info("session opened",
		slog.String("userID", user.ID),
		slog.String("sessionID", sessionID),
	)
	return token, nil
}

// Logout destroys the session; the registry drops its reference to the
// decrypted secret. Safe to call with an invalid or already-expired token.
func (m *Manager) Logout(token string) {
	sessionID, err := m.tokens.Validate(token)
	if err != nil {
		return
	}

	m.mu.Lock()
	_, ok := m.sessions[sessionID]
	delete(m.sessions, sessionID)
	m.mu.Unlock()

	if ok {
		m.logger.Info("session closed", slog.String("sessionID", sessionID))
	}
}

// ---------------------------------------------------------------------
// Session resolution and role gates
// ---------------------------------------------------------------------

// authenticated resolves a token to a snapshot of its live session, taken
// under the lock. Because published entries are immutable (see state), the
// snapshot stays consistent even if the session is logged out a moment
// later; the operation in flight completes against the state it resolved.
// Invalid, expired, and unknown tokens all come back as the same
// ErrAuthenticationFailed: the caller is Anonymous, whatever the reason.
func (m *Manager) authenticated(token string) (string, state, error) {
	sessionID, err := m.tokens.Validate(token)
	if err != nil {
		return "", state{}, apperror.AuthenticationFailed()
	}

	m.mu.RLock()
	st, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if !ok {
		return "", state{}, apperror.AuthenticationFailed()
	}

	if time.Now().After(st.expiresAt) {
		m.mu.Lock()
		delete(m.sessions, sessionID)
		m.mu.Unlock()
		return "", state{}, apperror.AuthenticationFailed()
	}

	return sessionID, st, nil
}

// admin is the write-class gate: a read-only session is rejected with
// ErrForbidden before any store is touched.
func (m *Manager) admin(token string) (string, state, error) {
	sessionID, st, err := m.authenticated(token)
	if err != nil {
		return "", state{}, err
	}
	if !st.user.IsAdmin() {
		return "", state{}, apperror.Forbidden()
	}
	return sessionID, st, nil
}

// CurrentUser returns the session's user.
func (m *Manager) CurrentUser(token string) (*model.User, error) {
	_, st, err := m.authenticated(token)
	if err != nil {
		return nil, err
	}
	return st.user, nil
}

// ---------------------------------------------------------------------
// Vault operations (any authenticated user, own entry only)
// ---------------------------------------------------------------------

// Credentials returns the session's decrypted credentials, or ErrNotFound
// if none are loaded.
func (m *Manager) Credentials(token string) (*model.Credentials, error) {
	_, st, err := m.authenticated(token)
	if err != nil {
		return nil, err
	}
	if st.creds == nil {
		return nil, apperror.NotFound("credentials", st.user.ID)
	}
	c := *st.creds
	return &c, nil
}

// SaveCredentials encrypts and stores the session user's credentials and
// refreshes the in-session copy with exactly what the vault encrypted.
func (m *Manager) SaveCredentials(ctx context.Context, token string, creds model.Credentials) error {
	sessionID, st, err := m.authenticated(token)
	if err != nil {
		return err
	}
	if creds.BaseURL == "" || creds.APIKey == "" {
		return apperror.ValidationFailed("credentials", "base URL and API key must not be empty")
	}

	stored, err := m.vault.Save(ctx, st.user.ID, creds)
	if err != nil {
		return err
	}

	// Replace the registry entry rather than mutating it; the session may
	// also have been closed while the vault wrote, in which case there is
	// nothing to refresh.
	m.mu.Lock()
	if cur, ok := m.sessions[sessionID]; ok {
		cur.creds = stored
		m.sessions[sessionID] = cur
	}
	m.mu.Unlock()
	return nil
}

// DeleteCredentials removes the session user's vault entry.
func (m *Manager) DeleteCredentials(ctx context.Context, token string) error {
	sessionID, st, err := m.authenticated(token)
	if err != nil {
		return err
	}

	if err := m.vault.Delete(ctx, st.user.ID); err != nil {
		return err
	}

	m.mu.Lock()
	if cur, ok := m.sessions[sessionID]; ok {
		cur.creds = nil
		m.sessions[sessionID] = cur
	}
	m.mu.Unlock()
	return nil
}

// ---------------------------------------------------------------------
// Analysis operations
// ---------------------------------------------------------------------

// RunAnalysis persists a new snapshot from raw per-series numbers supplied
// by the collaborator that polled the media server. Write-class: admin only.
func (m *Manager) RunAnalysis(ctx context.Context, token string, runTimestamp time.Time, inputs []model.SeriesInput, opts service.OutlierOptions) (*model.Snapshot, error) {
	_, st, err := m.admin(token)
	if err != nil {
		return nil, err
	}
	return m.history.SaveSnapshot(ctx, st.user.ID, runTimestamp, inputs, opts)
}

// ListSnapshots returns the session user's snapshot metadata, newest first.
func (m *Manager) ListSnapshots(ctx context.Context, token string) ([]model.Snapshot, error) {
	_, st, err := m.authenticated(token)
	if err != nil {
		return nil, err
	}
	return m.history.ListSnapshots(ctx, st.user.ID)
}

// LoadSnapshot returns one of the session user's snapshots with records.
func (m *Manager) LoadSnapshot(ctx context.Context, token string, runTimestamp time.Time) (*model.Snapshot, error) {
	_, st, err := m.authenticated(token)
	if err != nil {
		return nil, err
	}
	return m.history.LoadSnapshot(ctx, st.user.ID, runTimestamp)
}

// Compare diffs two of the session user's snapshots.
func (m *Manager) Compare(ctx context.Context, token string, timestampA, timestampB time.Time) (*model.Comparison, error) {
	_, st, err := m.authenticated(token)
	if err != nil {
		return nil, err
	}
	return m.history.Compare(ctx, st.user.ID, timestampA, timestampB)
}

// SeriesTrend returns the session user's history for one series.
func (m *Manager) SeriesTrend(ctx context.Context, token, seriesName string) ([]model.TrendPoint, error) {
	_, st, err := m.authenticated(token)
	if err != nil {
		return nil, err
	}
	return m.history.SeriesTrend(ctx, st.user.ID, seriesName)
}

// GlobalTrend returns the session user's per-run summaries, oldest first.
func (m *Manager) GlobalTrend(ctx context.Context, token string) ([]model.GlobalTrendPoint, error) {
	_, st, err := m.authenticated(token)
	if err != nil {
		return nil, err
	}
	return m.history.GlobalTrend(ctx, st.user.ID)
}

// ExportComparisonCSV runs Compare and renders the result as CSV.
func (m *Manager) ExportComparisonCSV(ctx context.Context, token string, timestampA, timestampB time.Time) (string, error) {
	cmp, err := m.Compare(ctx, token, timestampA, timestampB)
	if err != nil {
		return "", err
	}
	return service.ExportComparisonCSV(cmp)
}

// ExportTrendCSV runs SeriesTrend and renders the result as CSV.
func (m *Manager) ExportTrendCSV(ctx context.Context, token, seriesName string) (string, error) {
	points, err := m.SeriesTrend(ctx, token, seriesName)
	if err != nil {
		return "", err
	}
	return service.ExportTrendCSV(seriesName, points)
}

// DeleteSnapshot removes one of the session user's snapshots by its exact
// run timestamp. Write-class: admin only.
func (m *Manager) DeleteSnapshot(ctx context.Context, token string, runTimestamp time.Time) error {
	_, st, err := m.admin(token)
	if err != nil {
		return err
	}
	return m.history.DeleteSnapshot(ctx, st.user.ID, runTimestamp)
}

// DeleteAnalysisData deletes the session user's snapshots older than the
// cutoff. Write-class: admin only. Returns the number deleted.
func (m *Manager) DeleteAnalysisData(ctx context.Context, token string, olderThan time.Time) (int, error) {
	_, st, err := m.admin(token)
	if err != nil {
		return 0, err
	}
	return m.history.Cleanup(ctx, st.user.ID, olderThan)
}

// ---------------------------------------------------------------------
// User management (admin only)
// ---------------------------------------------------------------------

// CreateUser creates an account. Admin only.
func (m *Manager) CreateUser(ctx context.Context, token, username, password string, role model.Role) (*model.User, error) {
	if _, _, err := m.admin(token); err != nil {
		return nil, err
	}
	return m.identity.CreateUser(ctx, username, password, role)
}

// ListUsers returns all accounts. Admin only.
func (m *Manager) ListUsers(ctx context.Context, token string) ([]model.User, error) {
	if _, _, err := m.admin(token); err != nil {
		return nil, err
	}
	return m.identity.ListUsers(ctx)
}

// SetUserActive enables or disables an account. Admin only.
func (m *Manager) SetUserActive(ctx context.Context, token, userID string, active bool) error {
	_, st, err := m.admin(token)
	if err != nil {
		return err
	}
	return m.identity.SetUserActive(ctx, userID, active, st.user.ID)
}

// ChangePassword changes the session user's own password, verifying the
// old one first. Any authenticated user; it is their own account.
func (m *Manager) ChangePassword(ctx context.Context, token, oldPassword, newPassword string) error {
	_, st, err := m.authenticated(token)
	if err != nil {
		return err
	}
	return m.identity.ChangePassword(ctx, st.user.ID, oldPassword, newPassword)
}

// DeleteUser removes an account and coordinates the cross-store cascade.
// Admin only; the last remaining admin cannot be deleted.
//
// CASCADE ORDER AND PARTIAL FAILURE:
// The three stores are independent SQLite files, so there is no transaction
// spanning them. The vault entry goes first (the most sensitive data), then
// the identity row, then history per the retention policy. If a later step
// fails after an earlier one succeeded, the error is returned and the
// completed steps stay completed; the log records how far the cascade got.
// A half-deleted user can simply be deleted again.
func (m *Manager) DeleteUser(ctx context.Context, token, userID string) error {
	_, st, err := m.admin(token)
	if err != nil {
		return err
	}

	// The identity checks run first so an undeletable user (last admin,
	// nonexistent ID) doesn't lose their vault entry to a doomed cascade.
	target, err := m.identity.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if target.IsAdmin() {
		// Delegate the authoritative last-admin check to the store, but
		// fail before the vault delete if it would obviously refuse.
		users, err := m.identity.ListUsers(ctx)
		if err != nil {
			return err
		}
		admins := 0
		for _, u := range users {
			if u.Role == model.RoleAdmin {
				admins++
			}
		}
		if admins <= 1 {
			return apperror.Forbidden()
		}
	}

	if err := m.vault.Delete(ctx, userID); err != nil {
		return fmt.Errorf("session: deleting vault entry for %s: %w", userID, err)
	}

	if err := m.identity.DeleteUser(ctx, userID, st.user.ID); err != nil {
		m.logger.Error("user delete cascade stopped after vault delete",
			slog.String("userID", userID),
			slog.String("error", err.Error()),
		)
		return err
	}

	if m.purgeHistory {
		n, err := m.history.PurgeUserHistory(ctx, userID)
		if err != nil {
			m.logger.Error("user delete cascade stopped before history purge",
				slog.String("userID", userID),
				slog.String("error", err.Error()),
			)
			return err
		}
		m.logger.Info("user history purged",
			slog.String("userID", userID),
			slog.Int("snapshots", n),
		)
	}

	m.closeSessionsFor(userID)
	return nil
}

// closeSessionsFor destroys any live sessions belonging to a deleted user
// so their token stops working immediately, not at expiry.
func (m *Manager) closeSessionsFor(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, st := range m.sessions {
		if st.user.ID == userID {
			delete(m.sessions, id)
		}
	}
}
