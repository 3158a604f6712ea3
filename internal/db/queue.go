package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// QueuedKey is one pending activation key for one account.
type QueuedKey struct {
	ID         int64     `json:"id"`
	Account    string    `json:"account"`
	Name       string    `json:"name"`
	Key        string    `json:"key"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// RedemptionRecord is one completed redemption attempt.
type RedemptionRecord struct {
	ID         int64     `json:"id"`
	Account    string    `json:"account"`
	Key        string    `json:"key"`
	Result     string    `json:"result"`
	Items      string    `json:"items"`
	RedeemedAt time.Time `json:"redeemed_at"`
}

// KeyQueue manages the durable key-redemption queue. Keys survive restarts
// and are handed out in enqueue order per account.
type KeyQueue struct {
	db *Database
}

// NewKeyQueue creates and migrates the key queue on an open database.
func NewKeyQueue(database *Database) (*KeyQueue, error) {
	kq := &KeyQueue{db: database}
	if err := kq.migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate key queue: %w", err)
	}
	return kq, nil
}

// migrate creates the queue schema.
func (kq *KeyQueue) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS redeem_queue (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			account TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			key TEXT NOT NULL,
			enqueued_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);

		CREATE INDEX IF NOT EXISTS idx_redeem_queue_account ON redeem_queue(account);

		CREATE TABLE IF NOT EXISTS redeem_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			account TEXT NOT NULL,
			key TEXT NOT NULL,
			result TEXT NOT NULL,
			items TEXT NOT NULL DEFAULT '',
			redeemed_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);
	`

	if _, err := kq.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Enqueue appends a key with its display name to an account's queue.
func (kq *KeyQueue) Enqueue(account, name, key string) (int64, error) {
	if name == "" {
		name = key
	}
	result, err := kq.db.Exec(
		"INSERT INTO redeem_queue (account, name, key) VALUES (?, ?, ?)",
		account, name, key,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to enqueue key: %w", err)
	}
	id, _ := result.LastInsertId()
	log.Debug().Str("account", account).Int64("id", id).Msg("key enqueued")
	return id, nil
}

// Next returns the oldest pending key for an account, or (nil, nil) when
// the queue is empty.
func (kq *KeyQueue) Next(account string) (*QueuedKey, error) {
	row := kq.db.QueryRow(
		"SELECT id, account, name, key, enqueued_at FROM redeem_queue WHERE account = ? ORDER BY id LIMIT 1",
		account,
	)

	var qk QueuedKey
	if err := row.Scan(&qk.ID, &qk.Account, &qk.Name, &qk.Key, &qk.EnqueuedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read queue: %w", err)
	}
	return &qk, nil
}

// Remove deletes a key from the queue after its outcome has been recorded.
func (kq *KeyQueue) Remove(id int64) error {
	if _, err := kq.db.Exec("DELETE FROM redeem_queue WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to remove key %d: %w", id, err)
	}
	return nil
}

// Count returns the number of pending keys for an account.
func (kq *KeyQueue) Count(account string) (int, error) {
	var count int
	row := kq.db.QueryRow("SELECT COUNT(*) FROM redeem_queue WHERE account = ?", account)
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count queue: %w", err)
	}
	return count, nil
}

// Pending lists all pending keys for an account in queue order.
func (kq *KeyQueue) Pending(account string) ([]QueuedKey, error) {
	rows, err := kq.db.Query(
		"SELECT id, account, name, key, enqueued_at FROM redeem_queue WHERE account = ? ORDER BY id",
		account,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list queue: %w", err)
	}
	defer rows.Close()

	var keys []QueuedKey
	for rows.Next() {
		var qk QueuedKey
		if err := rows.Scan(&qk.ID, &qk.Account, &qk.Name, &qk.Key, &qk.EnqueuedAt); err != nil {
			return nil, fmt.Errorf("failed to scan queue row: %w", err)
		}
		keys = append(keys, qk)
	}
	return keys, rows.Err()
}

// RecordOutcome appends a completed redemption attempt to the history log.
func (kq *KeyQueue) RecordOutcome(account, key, result, items string) error {
	_, err := kq.db.Exec(
		"INSERT INTO redeem_history (account, key, result, items) VALUES (?, ?, ?, ?)",
		account, key, result, items,
	)
	if err != nil {
		return fmt.Errorf("failed to record redemption outcome: %w", err)
	}
	return nil
}

// History returns the most recent redemption attempts for an account.
func (kq *KeyQueue) History(account string, limit int) ([]RedemptionRecord, error) {
	rows, err := kq.db.Query(
		"SELECT id, account, key, result, items, redeemed_at FROM redeem_history WHERE account = ? ORDER BY id DESC LIMIT ?",
		account, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}
	defer rows.Close()

	var records []RedemptionRecord
	for rows.Next() {
		var r RedemptionRecord
		if err := rows.Scan(&r.ID, &r.Account, &r.Key, &r.Result, &r.Items, &r.RedeemedAt); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}
