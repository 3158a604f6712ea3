package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shepherd-project/shepherd/internal/config"
	"github.com/shepherd-project/shepherd/internal/events"
)

func TestClassifyLogOnResultTable(t *testing.T) {
	tests := []struct {
		name             string
		code             events.ResultCode
		usedLoginKey     bool
		hasPassword      bool
		hasAuthenticator bool
		want             loginAction
	}{
		{"success", events.ResultOK, false, true, false, actionProceed},
		{"banned is permanent", events.ResultBanned, false, true, false, actionStop},
		{"disabled is permanent", events.ResultAccountDisabled, false, true, false, actionStop},
		{"bad password no fallback", events.ResultInvalidPassword, false, true, false, actionStop},
		{"bad login key with password drops key", events.ResultInvalidPassword, true, true, false, actionDropKey},
		{"bad login key without password", events.ResultInvalidPassword, true, false, false, actionStop},
		{"guard code prompts", events.ResultGuardCodeRequired, false, true, false, actionPromptGuard},
		{"wrong guard code prompts again", events.ResultInvalidGuardCode, false, true, false, actionPromptGuard},
		{"two-factor without authenticator prompts", events.ResultTwoFactorRequired, false, true, false, actionPromptTwoFactor},
		{"two-factor mismatch with authenticator", events.ResultTwoFactorMismatch, false, true, true, actionTwoFactorMismatch},
		{"two-factor mismatch without authenticator", events.ResultTwoFactorMismatch, false, true, false, actionPromptTwoFactor},
		{"no connection is transient", events.ResultNoConnection, false, true, false, actionRetryTransient},
		{"timeout is transient", events.ResultTimeout, false, true, false, actionRetryTransient},
		{"try another server is transient", events.ResultTryAnotherServer, false, true, false, actionRetryTransient},
		{"service unavailable is transient", events.ResultServiceUnavailable, false, true, false, actionRetryTransient},
		{"logged in elsewhere is transient", events.ResultLoggedInElsewhere, false, true, false, actionRetryTransient},
		{"rate limited", events.ResultRateLimitExceeded, false, true, false, actionRateLimited},
		{"unknown code retries", events.ResultCode(200), false, true, false, actionRetryTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifyLogOnResult(tt.code, tt.usedLoginKey, tt.hasPassword, tt.hasAuthenticator)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPermanentCodesNeverReconnect(t *testing.T) {
	permanent := []events.ResultCode{events.ResultBanned, events.ResultAccountDisabled}
	for _, code := range permanent {
		assert.Equal(t, actionStop, classifyLogOnResult(code, false, true, true),
			"code %s must stop the session", code)
	}

	retryable := []events.ResultCode{
		events.ResultNoConnection, events.ResultTimeout,
		events.ResultTryAnotherServer, events.ResultServiceUnavailable,
		events.ResultRateLimitExceeded,
	}
	for _, code := range retryable {
		got := classifyLogOnResult(code, false, true, true)
		assert.NotEqual(t, actionStop, got, "code %s must eventually reconnect", code)
	}
}

func TestStripNonASCII(t *testing.T) {
	assert.Equal(t, "hunter2", stripNonASCII("hunter2"))
	assert.Equal(t, "hntr2", stripNonASCII("hüntér2"))
	assert.Equal(t, "", stripNonASCII("пароль"))
	assert.Equal(t, "pass word", stripNonASCII("pass word"))
}

func TestHeartbeatThreshold(t *testing.T) {
	assert.Equal(t, 1, heartbeatThreshold(60*time.Second))
	assert.Equal(t, 2, heartbeatThreshold(90*time.Second))
	assert.Equal(t, 5, heartbeatThreshold(5*time.Minute))
	assert.Equal(t, 1, heartbeatThreshold(0))
}

func TestClassifyRedeemResult(t *testing.T) {
	assert.Equal(t, redeemSucceeded, classifyRedeemResult(events.ResultOK, events.DetailNoDetail))
	assert.Equal(t, redeemRateLimited, classifyRedeemResult(events.ResultRateLimitExceeded, events.DetailNoDetail))
	assert.Equal(t, redeemRateLimited, classifyRedeemResult(events.ResultFail, events.DetailRateLimited))
	assert.Equal(t, redeemRejected, classifyRedeemResult(events.ResultFail, events.DetailBadActivationCode))
	assert.Equal(t, redeemRejected, classifyRedeemResult(events.ResultOK, events.DetailAlreadyPurchased))
}

func TestStateStrings(t *testing.T) {
	assert.Equal(t, "disconnected", StateDisconnected.String())
	assert.Equal(t, "authenticated", StateAuthenticated.String())
	assert.Equal(t, "stopped", StatePermanentlyStopped.String())
	assert.Equal(t, "unknown", State(99).String())
}

// stickyLink is a cannedLink whose connected state is driven by the test.
type stickyLink struct {
	cannedLink
	connMu    sync.Mutex
	connected bool
}

func (l *stickyLink) IsConnected() bool {
	l.connMu.Lock()
	defer l.connMu.Unlock()
	return l.connected
}

func (l *stickyLink) setConnected(v bool) {
	l.connMu.Lock()
	defer l.connMu.Unlock()
	l.connected = v
}

func TestRestartWhileConnectedReplacesEventLoop(t *testing.T) {
	link := &stickyLink{connected: true}
	s, _, _ := testSession(t, link)
	s.keepRunning.Store(false)
	s.state = StateDisconnected

	s.Start()
	first := s.Done()
	s.Stop()

	// The transport is still up, so the first loop keeps draining. An
	// immediate restart must hand the loop over cleanly: one live loop,
	// each closing only its own done channel.
	s.Start()
	second := s.Done()
	require.NotEqual(t, first, second)

	select {
	case <-first:
	case <-time.After(3 * time.Second):
		t.Fatal("superseded event loop never exited")
	}

	link.setConnected(false)
	s.Stop()
	select {
	case <-second:
	case <-time.After(3 * time.Second):
		t.Fatal("event loop did not exit after stop")
	}
}

func TestReconnectWhileDisconnectedDoesNotArmForcedFlag(t *testing.T) {
	s, _, _ := testSession(t, &stickyLink{})

	s.Reconnect()

	s.mu.Lock()
	forced := s.forceReconnect
	s.mu.Unlock()
	assert.False(t, forced, "forced-reconnect flag must not outlive a dead transport")
}

func TestJoinMasterGroupPacedByMetadataGate(t *testing.T) {
	link := &cannedLink{replies: []interface{}{
		events.GroupInfoPayload{ChatGroupID: 777, Member: true},
	}}
	s, _, _ := testSession(t, link)
	cfg := config.DefaultConfig()
	cfg.Accounts = []config.AccountConfig{{Name: "alice", MasterGroupID: 42}}
	s.cfgRoot = cfg

	s.joinMasterGroup()
	assert.Equal(t, uint64(777), s.MasterChatGroupID())
	assert.Equal(t, 1, link.calls)

	// The metadata slot must be free again after the resolution.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.limiter.AcquireMetadata(ctx))
	s.limiter.ReleaseMetadata()
}
