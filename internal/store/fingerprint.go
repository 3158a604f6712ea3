package store

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	fingerprintFile = "fingerprint.bin"
	fingerprintSize = 32
)

// FingerprintStore persists the device fingerprint hash that proves this
// machine previously completed device approval. The file holds raw hash
// bytes and is rewritten in place on every remote update.
type FingerprintStore struct {
	dir string
}

// NewFingerprintStore creates a store rooted at the account's data directory.
func NewFingerprintStore(dir string) *FingerprintStore {
	return &FingerprintStore{dir: dir}
}

// Save rewrites the fingerprint file with the given hash.
func (s *FingerprintStore) Save(hash []byte) error {
	path := filepath.Join(s.dir, fingerprintFile)
	if err := os.WriteFile(path, hash, 0600); err != nil {
		return fmt.Errorf("failed to write fingerprint: %w", err)
	}
	return nil
}

// Load returns the stored fingerprint hash. A corrupted or unreadable file
// is treated as absent: it is deleted so the remote side re-issues a
// fingerprint on the next login.
func (s *FingerprintStore) Load() []byte {
	path := filepath.Join(s.dir, fingerprintFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	if len(data) != fingerprintSize {
		os.Remove(path)
		return nil
	}
	return data
}
