// Package auth provides password hashing and session token utilities.
//
// WHY BCRYPT?
// bcrypt is a password hashing function specifically designed to be slow.
// That slowness is a security feature: it makes brute-force attacks expensive.
//
// bcrypt automatically:
//   - Generates a random salt (so two users with the same password get different hashes)
//   - Embeds the salt in the output hash (no separate salt column needed)
//   - Controls the work factor via "cost" (higher = slower = harder to crack)
//
// NEVER store passwords in plain text or with fast hashes (MD5, SHA-256).
// bcrypt with cost 12 takes ~250ms on current hardware: negligible for a
// login, brutal for an offline attacker.
package auth

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// DefaultCost is the bcrypt work factor for production use.
//
// COST TUNING RULE OF THUMB:
// Set cost so that hashing takes ~200-300ms on your production hardware.
// Too low and hashes are cheap to crack; too high and every login burns CPU.
const DefaultCost = 12

// PasswordService provides bcrypt hashing and verification.
//
// It's a struct (not free functions) so that the cost can be injected in
// tests: cost 4 (the bcrypt minimum) makes tests run fast without changing
// the logic being tested.
type PasswordService struct {
	cost int

	// dummyHash is a valid bcrypt hash of random data, compared against
	// when a login names an unknown username. Doing the same bcrypt work
	// on both the found and not-found paths keeps their timing close
	// enough that response time does not reveal whether a username exists.
	dummyHash string
}

// NewPasswordService creates a PasswordService with the given cost.
// Pass DefaultCost in production; tests use bcrypt.MinCost.
func NewPasswordService(cost int) (*PasswordService, error) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("auth: bcrypt cost %d out of range [%d, %d]", cost, bcrypt.MinCost, bcrypt.MaxCost)
	}

	s := &PasswordService{cost: cost}

	// The dummy hash only needs to cost the same as a real comparison,
	// so any fixed input works. Hashing at construction time (once per
	// process) keeps Login free of conditional work.
	dummy, err := bcrypt.GenerateFromPassword([]byte("seriescope-no-such-user"), cost)
	if err != nil {
		return nil, fmt.Errorf("auth: generating dummy hash: %w", err)
	}
	s.dummyHash = string(dummy)

	return s, nil
}

// Hash hashes the given plaintext password with bcrypt.
//
// The output is a self-contained string (version, cost, salt, digest) that
// is stored directly in the users table. Returns an error for passwords
// longer than 72 bytes, which bcrypt would otherwise silently truncate.
func (p *PasswordService) Hash(plaintext string) (string, error) {
	if len(plaintext) > 72 {
		return "", fmt.Errorf("auth: password must be 72 bytes or fewer")
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(plaintext), p.cost)
	if err != nil {
		return "", fmt.Errorf("auth: hashing password: %w", err)
	}

	return string(hashed), nil
}

// Verify checks whether a plaintext password matches a stored bcrypt hash.
// Returns nil on match. bcrypt's comparison is constant-time internally.
func (p *PasswordService) Verify(hash, plaintext string) error {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext))
	if err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return fmt.Errorf("auth: invalid password")
		}
		return fmt.Errorf("auth: comparing password hash: %w", err)
	}
	return nil
}

// VerifyDummy burns one bcrypt comparison against the precomputed dummy
// hash and always reports failure. The identity service calls this on the
// unknown-username path so that path costs the same as a real mismatch.
func (p *PasswordService) VerifyDummy(plaintext string) error {
	_ = bcrypt.CompareHashAndPassword([]byte(p.dummyHash), []byte(plaintext))
	return fmt.Errorf("auth: invalid password")
}
