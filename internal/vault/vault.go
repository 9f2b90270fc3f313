package vault

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/sakif/seriescope/internal/apperror"
	"github.com/sakif/seriescope/internal/model"
	"github.com/sakif/seriescope/internal/repository"
)

// Vault encrypts and decrypts per-user credentials.
//
// CIPHERTEXT FORMAT: nonce || AES-256-GCM(sealed JSON payload)
// The 12-byte nonce is generated fresh per encryption and prefixed to the
// sealed bytes, so each stored blob is self-describing: nothing outside the
// blob (besides the master key) is needed to decrypt it. GCM's tag, carried
// inside the sealed bytes, authenticates the whole payload; a flipped bit
// anywhere makes Open fail.
//
// WHY AEAD AND NOT PLAIN AES?
// Confidentiality alone would let an attacker who can write to vault.db
// splice ciphertext around undetected. Authenticated encryption turns any
// tampering (and any key mismatch) into a single indistinguishable
// DecryptionFailed, which is exactly the no-oracle behaviour we want.
//
// The key is injected at construction, never read from ambient state, so
// tests run against a throwaway in-memory key.
type Vault struct {
	aead   cipher.AEAD
	repo   repository.VaultRepository
	logger *slog.Logger
}

// New creates a Vault keyed by a KeySize-byte master key.
func New(key []byte, repo repository.VaultRepository, logger *slog.Logger) (*Vault, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("vault: key is %d bytes, want %d", len(key), KeySize)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("vault: creating cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("vault: creating GCM: %w", err)
	}

	return &Vault{aead: aead, repo: repo, logger: logger}, nil
}

// Save serializes, encrypts, and upserts one user's credentials. It returns
// the exact form that was encrypted (schema version stamped here, so callers
// cannot forget it); callers caching a plaintext copy must cache this value,
// not their input, or the cache drifts from what the vault holds.
func (v *Vault) Save(ctx context.Context, userID string, creds model.Credentials) (*model.Credentials, error) {
	creds.SchemaVersion = model.CredentialsSchemaVersion

	plaintext, err := json.Marshal(creds)
	if err != nil {
		return nil, fmt.Errorf("vault: marshaling credentials: %w", err)
	}

	nonce := make([]byte, v.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("vault: generating nonce: %w", err)
	}

	// Seal appends to its first argument, so this yields nonce||sealed.
	ciphertext := v.aead.Seal(nonce, nonce, plaintext, nil)

	if err := v.repo.Upsert(ctx, userID, ciphertext); err != nil {
		return nil, err
	}

	v.logger.Info("vault entry saved", slog.String("userID", userID))
	return &creds, nil
}

// Load decrypts and deserializes one user's credentials.
//
// Returns ErrNotFound when the user never saved credentials, and
// ErrDecryptionFailed for everything else that can go wrong with the blob:
// truncation, tampering, a changed master key, or an unknown payload
// version. The caller cannot (and must not be able to) tell those apart.
func (v *Vault) Load(ctx context.Context, userID string) (*model.Credentials, error) {
	entry, err := v.repo.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	nonceSize := v.aead.NonceSize()
	if len(entry.Ciphertext) < nonceSize {
		return nil, apperror.DecryptionFailed()
	}

	nonce, sealed := entry.Ciphertext[:nonceSize], entry.Ciphertext[nonceSize:]
	plaintext, err := v.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, apperror.DecryptionFailed()
	}

	var creds model.Credentials
	if err := json.Unmarshal(plaintext, &creds); err != nil {
		return nil, apperror.DecryptionFailed()
	}
	if creds.SchemaVersion != model.CredentialsSchemaVersion {
		return nil, apperror.DecryptionFailed()
	}

	return &creds, nil
}

// Delete removes one user's entry. Idempotent.
func (v *Vault) Delete(ctx context.Context, userID string) error {
	if err := v.repo.Delete(ctx, userID); err != nil {
		return err
	}
	v.logger.Info("vault entry deleted", slog.String("userID", userID))
	return nil
}

// HasEntry reports whether the user has saved credentials, without
// decrypting anything.
func (v *Vault) HasEntry(ctx context.Context, userID string) (bool, error) {
	_, err := v.repo.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
