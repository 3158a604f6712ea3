package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shepherd-project/shepherd/internal/config"
	"github.com/shepherd-project/shepherd/internal/db"
	"github.com/shepherd-project/shepherd/internal/events"
	"github.com/shepherd-project/shepherd/internal/protocol"
	"github.com/shepherd-project/shepherd/internal/ratelimit"
	"github.com/shepherd-project/shepherd/internal/store"
)

// cannedLink replies to correlated calls with a fixed sequence of payloads.
type cannedLink struct {
	mu      sync.Mutex
	replies []interface{}
	calls   int
}

func (c *cannedLink) Connect() error              { return nil }
func (c *cannedLink) Disconnect()                 {}
func (c *cannedLink) IsConnected() bool           { return true }
func (c *cannedLink) Send(protocol.Frame) error   { return nil }
func (c *cannedLink) Events() <-chan *events.Event { return nil }

func (c *cannedLink) Call(build func(jobID uint64) protocol.Frame, _ time.Duration) (*events.Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	build(uint64(c.calls + 1))
	if c.calls >= len(c.replies) {
		return nil, errors.New("no canned reply left")
	}
	payload := c.replies[c.calls]
	c.calls++
	return &events.Event{Payload: payload}, nil
}

func testSession(t *testing.T, link netLink) (*Session, *db.KeyQueue, string) {
	t.Helper()
	dir := t.TempDir()

	database, err := db.NewDatabase(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	kq, err := db.NewKeyQueue(database)
	require.NoError(t, err)

	s := &Session{
		name:          "alice",
		logger:        zerolog.Nop(),
		adapter:       link,
		limiter:       ratelimit.NewLimiter(ratelimit.Config{}),
		pacing:        config.PacingConfig{RedeemCooldownHours: 8, LivenessTimeoutSec: 60},
		queue:         kq,
		ledger:        store.NewLedger(dir),
		notifications: NewNotificationCache(),
		state:         StateAuthenticated,
	}
	s.keepRunning.Store(true)
	s.ctx, s.cancel = context.WithCancel(context.Background())
	t.Cleanup(func() {
		s.cancel()
		s.cancelTimers()
	})
	return s, kq, dir
}

func TestRedeemPassStopsAtRateLimit(t *testing.T) {
	link := &cannedLink{replies: []interface{}{
		events.RedeemResultPayload{Result: events.ResultOK, Items: map[uint32]string{10: "Portal 2"}},
		events.RedeemResultPayload{Result: events.ResultFail, Detail: events.DetailRateLimited},
	}}
	s, kq, dir := testSession(t, link)

	for _, key := range []string{"AAAA", "BBBB", "CCCC"} {
		_, err := kq.Enqueue("alice", "", key)
		require.NoError(t, err)
	}

	s.redeemPass()

	// First key redeemed and removed; second stayed at the head after the
	// rate limit; third never attempted.
	assert.Equal(t, 2, link.calls)
	pending, err := kq.Pending("alice")
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "BBBB", pending[0].Key)
	assert.Equal(t, "CCCC", pending[1].Key)

	data, err := os.ReadFile(filepath.Join(dir, "keys_used.tsv"))
	require.NoError(t, err)
	assert.Equal(t, "AAAA\t[ok]\tPortal 2\tAAAA\n", string(data))
}

func TestRedeemPassLogsRejectionsAndContinues(t *testing.T) {
	link := &cannedLink{replies: []interface{}{
		events.RedeemResultPayload{Result: events.ResultFail, Detail: events.DetailBadActivationCode},
		events.RedeemResultPayload{Result: events.ResultOK},
	}}
	s, kq, dir := testSession(t, link)

	_, err := kq.Enqueue("alice", "Bad Key", "AAAA")
	require.NoError(t, err)
	_, err = kq.Enqueue("alice", "Good Key", "BBBB")
	require.NoError(t, err)

	s.redeemPass()

	count, err := kq.Count("alice")
	require.NoError(t, err)
	assert.Zero(t, count)

	data, err := os.ReadFile(filepath.Join(dir, "keys_used.tsv"))
	require.NoError(t, err)
	assert.Equal(t,
		"Bad Key\t[BadActivationCode]\tAAAA\n"+
			"Good Key\t[ok]\tBBBB\n",
		string(data))
}

func TestRedeemWalletFallback(t *testing.T) {
	link := &cannedLink{replies: []interface{}{
		events.RedeemResultPayload{Result: events.ResultFail, Detail: events.DetailCannotRedeemFromClient},
		events.WalletResultPayload{Result: events.ResultOK},
	}}
	s, kq, _ := testSession(t, link)
	s.walletCurrency = "EUR"

	_, err := kq.Enqueue("alice", "", "WALLET-CODE")
	require.NoError(t, err)

	s.redeemPass()

	// The wallet result was folded back into the primary outcome.
	assert.Equal(t, 2, link.calls)
	count, err := kq.Count("alice")
	require.NoError(t, err)
	assert.Zero(t, count)

	history, err := kq.History("alice", 1)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "ok", history[0].Result)
}

func TestRedeemWalletFallbackSkippedWithoutCurrency(t *testing.T) {
	link := &cannedLink{replies: []interface{}{
		events.RedeemResultPayload{Result: events.ResultFail, Detail: events.DetailCannotRedeemFromClient},
	}}
	s, kq, _ := testSession(t, link)

	_, err := kq.Enqueue("alice", "", "WALLET-CODE")
	require.NoError(t, err)

	s.redeemPass()

	assert.Equal(t, 1, link.calls)
	count, err := kq.Count("alice")
	require.NoError(t, err)
	assert.Zero(t, count, "rejection without wallet fallback is terminal")
}

func TestTriggerRedemptionDuplicateIsNoOp(t *testing.T) {
	s, _, _ := testSession(t, &cannedLink{})

	s.redeemMu.Lock()
	defer s.redeemMu.Unlock()

	// Worker lock held: trigger must not block or start a second pass.
	done := make(chan struct{})
	go func() {
		s.TriggerRedemption()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("TriggerRedemption blocked on a busy worker")
	}
}
