package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shepherd-project/shepherd/internal/util"
)

func TestLoginKeyRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := NewLoginKeyStore(dir, util.SchemeAES)

	assert.Empty(t, s.Load())

	require.NoError(t, s.Save("remember-me-token"))
	assert.Equal(t, "remember-me-token", s.Load())

	// Stored form must not be the plaintext
	raw, err := os.ReadFile(filepath.Join(dir, loginKeyFile))
	require.NoError(t, err)
	assert.NotEqual(t, "remember-me-token", string(raw))

	s.Clear()
	assert.Empty(t, s.Load())
}

func TestFingerprintCorruptTreatedAsAbsent(t *testing.T) {
	dir := t.TempDir()
	s := NewFingerprintStore(dir)

	hash := make([]byte, fingerprintSize)
	for i := range hash {
		hash[i] = byte(i)
	}
	require.NoError(t, s.Save(hash))
	assert.Equal(t, hash, s.Load())

	// Truncate the file; next load must delete it and report absent
	path := filepath.Join(dir, fingerprintFile)
	require.NoError(t, os.WriteFile(path, []byte("short"), 0600))
	assert.Nil(t, s.Load())
	assert.NoFileExists(t, path)
}

func TestLedgerRowFormat(t *testing.T) {
	dir := t.TempDir()
	l := NewLedger(dir)

	require.NoError(t, l.AppendUsed("alice", "OK", []string{"Portal 2", "Half-Life 2"}, "AAAA-1111"))
	require.NoError(t, l.AppendUsed("alice", "BadActivationCode", nil, "BBBB-2222"))

	data, err := os.ReadFile(filepath.Join(dir, usedLedgerFile))
	require.NoError(t, err)

	assert.Equal(t,
		"alice\t[OK]\tPortal 2\tHalf-Life 2\tAAAA-1111\n"+
			"alice\t[BadActivationCode]\tBBBB-2222\n",
		string(data))
}

func TestImportKeysVariants(t *testing.T) {
	path := filepath.Join(t.TempDir(), "import.txt")
	content := "AAAA-1111\n" +
		"Portal 2\tBBBB-2222\n" +
		"Half-Life 2\tunused column\tCCCC-3333\n" +
		"\n" +
		"too\tmany\tcolumns\there\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	keys, err := ImportKeys(path, zerolog.Nop())
	require.NoError(t, err)

	require.Len(t, keys, 3)
	assert.Equal(t, ImportedKey{Name: "AAAA-1111", Key: "AAAA-1111"}, keys[0])
	assert.Equal(t, ImportedKey{Name: "Portal 2", Key: "BBBB-2222"}, keys[1])
	assert.Equal(t, ImportedKey{Name: "Half-Life 2", Key: "CCCC-3333"}, keys[2])

	// File is deleted after import
	assert.NoFileExists(t, path)
}

func TestImportKeysMissingFile(t *testing.T) {
	keys, err := ImportKeys(filepath.Join(t.TempDir(), "absent.txt"), zerolog.Nop())
	require.NoError(t, err)
	assert.Nil(t, keys)
}
