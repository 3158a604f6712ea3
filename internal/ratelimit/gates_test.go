package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPacedGateSerializesHolders(t *testing.T) {
	g := NewPacedGate(0)

	require.NoError(t, g.Acquire(context.Background()))
	assert.False(t, g.TryAcquire())

	g.Release()
	assert.True(t, g.TryAcquire())
	g.Release()
}

func TestPacedGateDelaysRelease(t *testing.T) {
	g := NewPacedGate(50 * time.Millisecond)

	require.NoError(t, g.Acquire(context.Background()))
	start := time.Now()
	g.Release()

	require.NoError(t, g.Acquire(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	g.Release()
}

func TestAcquireCancelled(t *testing.T) {
	g := NewPacedGate(0)
	require.NoError(t, g.Acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := g.Acquire(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPenalizeLoginsBlocksAllSessions(t *testing.T) {
	l := NewLimiter(Config{})
	l.PenalizeLogins(60 * time.Millisecond)

	start := time.Now()
	require.NoError(t, l.AcquireLogin(context.Background()))
	l.ReleaseLogin()

	assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
}

func TestPenalizeLoginsNeverShortensWindow(t *testing.T) {
	l := NewLimiter(Config{})
	l.PenalizeLogins(80 * time.Millisecond)
	l.PenalizeLogins(10 * time.Millisecond)

	start := time.Now()
	require.NoError(t, l.AcquireLogin(context.Background()))
	l.ReleaseLogin()

	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestAcquireLoginCancelledDuringCooldown(t *testing.T) {
	l := NewLimiter(Config{})
	l.PenalizeLogins(time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := l.AcquireLogin(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// The slot must have been returned so a later caller is not deadlocked.
	assert.True(t, l.login.TryAcquire())
}
