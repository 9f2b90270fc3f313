// Package apperror defines the typed error taxonomy shared by every layer.
//
// Each failure mode callers are expected to branch on gets a sentinel error.
// Services wrap the sentinel in an *AppError carrying a human-readable
// message; callers test the kind with errors.Is:
//
//	if errors.Is(err, apperror.ErrAuthenticationFailed) { ... }
//
// The messages for authentication, authorization, and vault decryption
// failures are deliberately generic: they must not reveal whether a
// username exists, which check rejected a login, or whether a ciphertext
// was corrupted versus encrypted under a different key.
package apperror

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateUsername: a user with that exact (case-sensitive) username exists.
	ErrDuplicateUsername = errors.New("duplicate username")
	// ErrWeakPassword: password fails the minimum strength rule.
	ErrWeakPassword = errors.New("weak password")
	// ErrInvalidRole: role outside the closed {admin, readonly} set.
	ErrInvalidRole = errors.New("invalid role")
	// ErrAuthenticationFailed: unknown username or wrong password, undistinguished.
	ErrAuthenticationFailed = errors.New("authentication failed")
	// ErrBootstrapRequired: no users exist yet; only the bootstrap admin creation is allowed.
	ErrBootstrapRequired = errors.New("bootstrap required")
	// ErrForbidden: the caller's role does not permit the operation.
	ErrForbidden = errors.New("forbidden")
	// ErrNotFound: the requested record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDecryptionFailed: ciphertext corrupt or master key changed, undistinguished.
	ErrDecryptionFailed = errors.New("decryption failed")
	// ErrInvalidSnapshot: empty input, duplicate series names, or a duplicate (user, timestamp).
	ErrInvalidSnapshot = errors.New("invalid snapshot")
	// ErrSnapshotNotFound: no snapshot at that timestamp for that user.
	ErrSnapshotNotFound = errors.New("snapshot not found")
	// ErrStorageUnavailable: a backing store cannot be opened or is corrupt.
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrValidation: input fails a structural rule (length, format).
	ErrValidation = errors.New("validation error")
)

// AppError pairs a sentinel with a message (and optionally the field that
// caused a validation failure). Error() returns only the message; the
// sentinel travels through Unwrap for errors.Is checks.
type AppError struct {
	Err     error  // sentinel from the list above
	Message string // human-readable error message
	Field   string // optional: field causing the error
}

func (e *AppError) Error() string {
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func DuplicateUsername(username string) *AppError {
	return &AppError{
		Err:     ErrDuplicateUsername,
		Message: fmt.Sprintf("username %q is already taken", username),
		Field:   "username",
	}
}

func WeakPassword(message string) *AppError {
	return &AppError{
		Err:     ErrWeakPassword,
		Message: message,
		Field:   "password",
	}
}

func InvalidRole(role string) *AppError {
	return &AppError{
		Err:     ErrInvalidRole,
		Message: fmt.Sprintf("role %q is not a valid role", role),
		Field:   "role",
	}
}

// AuthenticationFailed always carries the same message regardless of which
// check rejected the login. Do not add detail here.
func AuthenticationFailed() *AppError {
	return &AppError{
		Err:     ErrAuthenticationFailed,
		Message: "invalid credentials",
	}
}

func BootstrapRequired() *AppError {
	return &AppError{
		Err:     ErrBootstrapRequired,
		Message: "no users exist yet; create the initial admin account first",
	}
}

// Forbidden always carries the same message regardless of which rule denied
// the operation.
func Forbidden() *AppError {
	return &AppError{
		Err:     ErrForbidden,
		Message: "not permitted",
	}
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

// DecryptionFailed always carries the same message whether the ciphertext
// was tampered with or the master key changed. Authenticated encryption
// gives no oracle, so neither do we.
func DecryptionFailed() *AppError {
	return &AppError{
		Err:     ErrDecryptionFailed,
		Message: "stored credentials could not be decrypted",
	}
}

func InvalidSnapshot(message string) *AppError {
	return &AppError{
		Err:     ErrInvalidSnapshot,
		Message: message,
	}
}

func SnapshotNotFound(timestamp string) *AppError {
	return &AppError{
		Err:     ErrSnapshotNotFound,
		Message: fmt.Sprintf("no snapshot exists for %s", timestamp),
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

func StorageUnavailable(err error) *AppError {
	return &AppError{
		Err:     ErrStorageUnavailable,
		Message: fmt.Sprintf("storage unavailable: %v", err),
	}
}
