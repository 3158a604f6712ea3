package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const (
	usedLedgerFile   = "keys_used.tsv"
	unusedLedgerFile = "keys_unused.tsv"
)

// Ledger appends redemption outcomes to an account's append-only ledger
// files. Used keys (redeemed or permanently rejected) and unused keys go to
// separate files. Each row is tab-separated:
//
//	name <TAB> [result] <TAB> resolved-names... <TAB> key
type Ledger struct {
	mu  sync.Mutex
	dir string
}

// NewLedger creates a ledger rooted at the account's data directory.
func NewLedger(dir string) *Ledger {
	return &Ledger{dir: dir}
}

// AppendUsed records a key that reached a terminal outcome.
func (l *Ledger) AppendUsed(name, result string, productNames []string, key string) error {
	return l.append(usedLedgerFile, name, result, productNames, key)
}

// AppendUnused records a key that was never attempted (e.g. the account was
// removed with entries still queued).
func (l *Ledger) AppendUnused(name, result string, productNames []string, key string) error {
	return l.append(unusedLedgerFile, name, result, productNames, key)
}

func (l *Ledger) append(file, name, result string, productNames []string, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	fields := []string{name, "[" + result + "]"}
	fields = append(fields, productNames...)
	fields = append(fields, key)
	line := strings.Join(fields, "\t") + "\n"

	path := filepath.Join(l.dir, file)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open ledger %s: %w", path, err)
	}
	defer f.Close()

	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("failed to append to ledger %s: %w", path, err)
	}
	return nil
}
