// Package store handles Shepherd's per-account on-disk state: remembered
// login keys, device fingerprints, redemption ledgers, and key-import files.
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/shepherd-project/shepherd/internal/util"
)

const loginKeyFile = "login_key"

// LoginKeyStore persists one remembered login key per account, optionally
// encrypted at rest. Absence is a valid state; callers fall back to
// password login.
type LoginKeyStore struct {
	dir    string
	scheme util.EncryptionScheme
}

// NewLoginKeyStore creates a store rooted at the account's data directory.
func NewLoginKeyStore(dir string, scheme util.EncryptionScheme) *LoginKeyStore {
	return &LoginKeyStore{dir: dir, scheme: scheme}
}

// Save writes the login key, encrypted per the configured scheme.
func (s *LoginKeyStore) Save(key string) error {
	stored, err := util.Encrypt(s.scheme, key)
	if err != nil {
		return fmt.Errorf("failed to encrypt login key: %w", err)
	}
	path := filepath.Join(s.dir, loginKeyFile)
	if err := os.WriteFile(path, []byte(stored), 0600); err != nil {
		return fmt.Errorf("failed to write login key: %w", err)
	}
	return nil
}

// Load returns the stored login key, or "" when none exists or it cannot
// be decrypted.
func (s *LoginKeyStore) Load() string {
	data, err := os.ReadFile(filepath.Join(s.dir, loginKeyFile))
	if err != nil {
		return ""
	}
	key, err := util.Decrypt(s.scheme, strings.TrimSpace(string(data)))
	if err != nil {
		return ""
	}
	return key
}

// Clear removes the stored login key. Used when the remote side reports
// the key invalid.
func (s *LoginKeyStore) Clear() {
	os.Remove(filepath.Join(s.dir, loginKeyFile))
}
