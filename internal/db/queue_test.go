package db

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testQueue(t *testing.T) *KeyQueue {
	t.Helper()
	database, err := NewDatabase(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	kq, err := NewKeyQueue(database)
	require.NoError(t, err)
	return kq
}

func TestQueueFIFOOrder(t *testing.T) {
	kq := testQueue(t)

	for _, key := range []string{"AAAA-1111", "BBBB-2222", "CCCC-3333"} {
		_, err := kq.Enqueue("alice", "", key)
		require.NoError(t, err)
	}

	var drained []string
	for {
		next, err := kq.Next("alice")
		require.NoError(t, err)
		if next == nil {
			break
		}
		drained = append(drained, next.Key)
		require.NoError(t, kq.Remove(next.ID))
	}

	assert.Equal(t, []string{"AAAA-1111", "BBBB-2222", "CCCC-3333"}, drained)
}

func TestQueueIsolatedPerAccount(t *testing.T) {
	kq := testQueue(t)

	_, err := kq.Enqueue("alice", "Portal 2", "AAAA-1111")
	require.NoError(t, err)
	_, err = kq.Enqueue("bob", "", "BBBB-2222")
	require.NoError(t, err)

	next, err := kq.Next("bob")
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, "BBBB-2222", next.Key)

	count, err := kq.Count("alice")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestQueueEmptyReturnsNil(t *testing.T) {
	kq := testQueue(t)

	next, err := kq.Next("nobody")
	require.NoError(t, err)
	assert.Nil(t, next)
}

func TestHistoryRecordsOutcomes(t *testing.T) {
	kq := testQueue(t)

	require.NoError(t, kq.RecordOutcome("alice", "AAAA-1111", "OK", "Half-Life 3"))
	require.NoError(t, kq.RecordOutcome("alice", "BBBB-2222", "BadActivationCode", ""))

	records, err := kq.History("alice", 10)
	require.NoError(t, err)
	require.Len(t, records, 2)

	// Most recent first
	assert.Equal(t, "BBBB-2222", records[0].Key)
	assert.Equal(t, "BadActivationCode", records[0].Result)
	assert.Equal(t, "Half-Life 3", records[1].Items)
}
