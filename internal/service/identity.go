// Package service holds the business logic between the session façade and
// the repositories: identity rules here, snapshot statistics in history.go,
// CSV rendering in export.go.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sakif/seriescope/internal/apperror"
	"github.com/sakif/seriescope/internal/auth"
	"github.com/sakif/seriescope/internal/model"
	"github.com/sakif/seriescope/internal/repository"
)

const (
	minUsernameLen = 3
	maxUsernameLen = 64
	minPasswordLen = 8
)

// IdentityService owns the account rules: username and password validation,
// bootstrap gating, authentication with timing-equalized failure paths, and
// the requester-side checks for destructive operations.
//
// It performs no session-level authorization beyond what the operations
// themselves require (delete and activate take a requesting user); "may
// this session call this at all" is the session layer's job.
type IdentityService struct {
	users     repository.UserRepository
	passwords *auth.PasswordService
	logger    *slog.Logger
}

// NewIdentityService creates an IdentityService with its dependencies.
func NewIdentityService(users repository.UserRepository, passwords *auth.PasswordService, logger *slog.Logger) *IdentityService {
	return &IdentityService{
		users:     users,
		passwords: passwords,
		logger:    logger,
	}
}

// NeedsBootstrap reports whether the system has no users yet, in which
// case the only permitted operation is creating the initial admin.
func (s *IdentityService) NeedsBootstrap(ctx context.Context) (bool, error) {
	n, err := s.users.Count(ctx)
	if err != nil {
		return false, fmt.Errorf("service/identity: counting users: %w", err)
	}
	return n == 0, nil
}

// CreateUser validates and creates a new account. The plaintext password is
// hashed here and never reaches the repository, the database, or a log line.
//
// First-run bootstrap: while zero users exist, the only creatable account
// is an admin; anything else fails with ErrBootstrapRequired.
func (s *IdentityService) CreateUser(ctx context.Context, username, password string, role model.Role) (*model.User, error) {
	if len(username) < minUsernameLen || len(username) > maxUsernameLen {
		return nil, apperror.ValidationFailed("username",
			fmt.Sprintf("username must be between %d and %d characters", minUsernameLen, maxUsernameLen))
	}
	if !role.Valid() {
		return nil, apperror.InvalidRole(string(role))
	}
	if len(password) < minPasswordLen {
		return nil, apperror.WeakPassword(
			fmt.Sprintf("password must be at least %d characters", minPasswordLen))
	}

	empty, err := s.NeedsBootstrap(ctx)
	if err != nil {
		return nil, err
	}
	if empty && role != model.RoleAdmin {
		return nil, apperror.BootstrapRequired()
	}

	hash, err := s.passwords.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("service/identity: hashing password: %w", err)
	}

	user := &model.User{
		Username:     username,
		PasswordHash: hash,
		Role:         role,
		IsActive:     true,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}

	s.logger.Info("user created",
		slog.String("userID", user.ID),
		slog.String("username", user.Username),
		slog.String("role", string(user.Role)),
	)

	return user, nil
}

// Authenticate verifies a username/password pair and records the login time.
//
// TIMING:
// All failure paths cost one bcrypt comparison. Unknown usernames are
// compared against a precomputed dummy hash, and inactive accounts are
// verified before being rejected, so response time does not separate
// "no such user" from "wrong password" from "disabled account". The error
// is the same generic ErrAuthenticationFailed in every case.
func (s *IdentityService) Authenticate(ctx context.Context, username, password string) (*model.User, error) {
	empty, err := s.NeedsBootstrap(ctx)
	if err != nil {
		return nil, err
	}
	if empty {
		return nil, apperror.BootstrapRequired()
	}

	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			_ = s.passwords.VerifyDummy(password)
			return nil, apperror.AuthenticationFailed()
		}
		return nil, err
	}

	if err := s.passwords.Verify(user.PasswordHash, password); err != nil {
		return nil, apperror.AuthenticationFailed()
	}

	if !user.IsActive {
		return nil, apperror.AuthenticationFailed()
	}

	now := time.Now().UTC()
	if err := s.users.UpdateLastLogin(ctx, user.ID, now); err != nil {
		return nil, err
	}
	user.LastLoginAt = &now

	s.logger.Info("user authenticated", slog.String("userID", user.ID))
	return user, nil
}

// ChangePassword verifies the old password with the same semantics as
// Authenticate, applies the strength rule to the new one, and re-hashes.
func (s *IdentityService) ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}

	if err := s.passwords.Verify(user.PasswordHash, oldPassword); err != nil {
		return apperror.AuthenticationFailed()
	}

	if len(newPassword) < minPasswordLen {
		return apperror.WeakPassword(
			fmt.Sprintf("password must be at least %d characters", minPasswordLen))
	}

	hash, err := s.passwords.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("service/identity: hashing new password: %w", err)
	}

	if err := s.users.UpdatePasswordHash(ctx, userID, hash); err != nil {
		return err
	}

	s.logger.Info("password changed", slog.String("userID", userID))
	return nil
}

// DeleteUser removes an account. The requester must be an admin; the last
// remaining admin is protected by the repository regardless of requester.
// Cascading cleanup of the vault entry and history belongs to the session
// layer, which owns all three stores.
func (s *IdentityService) DeleteUser(ctx context.Context, userID, requestingUserID string) error {
	requester, err := s.users.GetByID(ctx, requestingUserID)
	if err != nil {
		return err
	}
	if !requester.IsAdmin() {
		return apperror.Forbidden()
	}

	if err := s.users.Delete(ctx, userID); err != nil {
		return err
	}

	s.logger.Info("user deleted",
		slog.String("userID", userID),
		slog.String("requestedBy", requestingUserID),
	)
	return nil
}

// SetUserActive enables or disables an account. Admin-only; the last active
// admin cannot be disabled (enforced by the repository).
func (s *IdentityService) SetUserActive(ctx context.Context, userID string, active bool, requestingUserID string) error {
	requester, err := s.users.GetByID(ctx, requestingUserID)
	if err != nil {
		return err
	}
	if !requester.IsAdmin() {
		return apperror.Forbidden()
	}

	if err := s.users.SetActive(ctx, userID, active); err != nil {
		return err
	}

	s.logger.Info("user active flag changed",
		slog.String("userID", userID),
		slog.Bool("active", active),
	)
	return nil
}

// GetUser returns one user by ID.
func (s *IdentityService) GetUser(ctx context.Context, userID string) (*model.User, error) {
	return s.users.GetByID(ctx, userID)
}

// ListUsers returns all accounts, newest first. This method is
// role-agnostic; the session layer restricts it to admins.
func (s *IdentityService) ListUsers(ctx context.Context) ([]model.User, error) {
	return s.users.List(ctx)
}
