// Package vault encrypts per-user credential blobs with a process-wide
// master key.
//
// THREAT MODEL IN ONE PARAGRAPH:
// The vault protects credentials at rest: someone who copies vault.db gets
// AES-256-GCM ciphertext they cannot read or undetectably modify without
// master.key. It does NOT protect against an attacker who can read the
// running process's memory or the key file itself; the key file relies on
// 0600 permissions and the deployment keeping the data directory private.
// Losing the key makes every entry permanently undecryptable. That is
// accepted by design; there is no recovery path, users re-save their
// credentials.
package vault

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io/fs"
	"os"
)

// KeySize is 32 bytes: AES-256, comfortably past the 128-bit minimum
// security level required for the vault.
const KeySize = 32

// LoadOrCreateKey idempotently loads the master key from path, generating
// and persisting a fresh one on first startup.
//
// Generation uses crypto/rand and writes with O_EXCL so that two processes
// racing on first startup cannot both "win" with different keys: the loser
// fails to create and reads the winner's file. Permissions are 0600,
// owner-only, matching how the credential files were handled before the
// vault moved into a database.
func LoadOrCreateKey(path string) ([]byte, error) {
	key, err := os.ReadFile(path)
	if err == nil {
		if len(key) != KeySize {
			return nil, fmt.Errorf("vault: master key at %s is %d bytes, want %d (corrupt key file?)",
				path, len(key), KeySize)
		}
		return key, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("vault: reading master key: %w", err)
	}

	key = make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("vault: generating master key: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			// Lost the creation race; the other writer's key is canonical.
			return LoadOrCreateKey(path)
		}
		return nil, fmt.Errorf("vault: creating master key file: %w", err)
	}

	if _, err := f.Write(key); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("vault: writing master key: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("vault: closing master key file: %w", err)
	}

	return key, nil
}
