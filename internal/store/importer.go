package store

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// ImportedKey is one (display-name, key) pair read from a key-import file.
type ImportedKey struct {
	Name string
	Key  string
}

// ImportKeys reads a key-import file and deletes it after a successful
// import. Rows are tab-separated with 1 to 3 fields:
//
//	key
//	name <TAB> key
//	name <TAB> ignored <TAB> key
//
// Malformed lines are skipped with a warning.
func ImportKeys(path string, logger zerolog.Logger) ([]ImportedKey, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open import file %s: %w", path, err)
	}

	var keys []ImportedKey
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), "\r\n")
		if line == "" {
			continue
		}

		fields := strings.Split(line, "\t")
		var imported ImportedKey
		switch len(fields) {
		case 1:
			imported = ImportedKey{Name: fields[0], Key: fields[0]}
		case 2:
			imported = ImportedKey{Name: fields[0], Key: fields[1]}
		case 3:
			imported = ImportedKey{Name: fields[0], Key: fields[2]}
		default:
			logger.Warn().Int("line", lineNo).Msg("skipping malformed import line")
			continue
		}

		if imported.Key == "" {
			logger.Warn().Int("line", lineNo).Msg("skipping import line with empty key")
			continue
		}
		keys = append(keys, imported)
	}

	if err := scanner.Err(); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to read import file %s: %w", path, err)
	}
	f.Close()

	if err := os.Remove(path); err != nil {
		return nil, fmt.Errorf("failed to delete import file %s: %w", path, err)
	}

	logger.Info().Int("keys", len(keys)).Str("file", path).Msg("key import complete")
	return keys, nil
}
