package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/shepherd-project/shepherd/internal/config"
	"github.com/shepherd-project/shepherd/internal/db"
	"github.com/shepherd-project/shepherd/internal/events"
	"github.com/shepherd-project/shepherd/internal/protocol"
	"github.com/shepherd-project/shepherd/internal/ratelimit"
	"github.com/shepherd-project/shepherd/internal/store"
	"github.com/shepherd-project/shepherd/internal/util"
)

// netLink is the slice of the protocol adapter the session depends on.
type netLink interface {
	Connect() error
	Disconnect()
	IsConnected() bool
	Send(protocol.Frame) error
	Call(build func(jobID uint64) protocol.Frame, timeout time.Duration) (*events.Event, error)
	Events() <-chan *events.Event
}

// Session drives one account: its connection, authentication state machine,
// event loop, chat sender, heartbeat, and redemption worker.
type Session struct {
	name   string
	logger zerolog.Logger

	adapter netLink
	limiter *ratelimit.Limiter
	cfgRoot *config.Config
	pacing  config.PacingConfig

	keys        *store.LoginKeyStore
	fingerprint *store.FingerprintStore
	ledger      *store.Ledger
	queue       *db.KeyQueue

	// respawn is invoked by the connect watchdog when a connection attempt
	// is completely stuck; the registry replaces this session with a fresh
	// one.
	respawn func(name string)

	keepRunning atomic.Bool
	ctx         context.Context
	cancel      context.CancelFunc
	loopDone    chan struct{}

	// Dedicated non-reentrant locks: a slow chat send must not interleave
	// with another, and a login retry must not race an explicit reconnect.
	loginMu  sync.Mutex
	sendMu   sync.Mutex
	redeemMu sync.Mutex

	notifications *NotificationCache
	handlers      map[events.EventType]func(*events.Event)

	mu                sync.Mutex
	state             State
	attemptID         string
	accountID         uint64
	lastAction        loginAction
	usedLoginKey      bool
	guardCode         string
	twoFactorCode     string
	twoFactorFailures int
	heartbeatFailures int
	masterChatGroupID uint64
	walletCurrency    string
	playingBlocked    bool
	libraryLocked     bool
	forceReconnect    bool
	loginGateHeld     bool

	watchdogTimer  *time.Timer
	graceTimer     *time.Timer
	reconnectTimer *time.Timer
	redeemTimer    *time.Timer
}

// Deps bundles the collaborators a session needs.
type Deps struct {
	Adapter netLink
	Limiter *ratelimit.Limiter
	Config  *config.Config
	Queue   *db.KeyQueue
	DataDir string
	Respawn func(name string)
}

// NewSession creates a session for one account. It does not connect.
func NewSession(name string, deps Deps) *Session {
	acct, _ := deps.Config.Account(name)
	scheme := util.EncryptionScheme(acct.PasswordScheme)

	s := &Session{
		name:          name,
		logger:        util.SessionLogger("session", name),
		adapter:       deps.Adapter,
		limiter:       deps.Limiter,
		cfgRoot:       deps.Config,
		pacing:        deps.Config.GetPacing(),
		keys:          store.NewLoginKeyStore(deps.DataDir, scheme),
		fingerprint:   store.NewFingerprintStore(deps.DataDir),
		ledger:        store.NewLedger(deps.DataDir),
		queue:         deps.Queue,
		respawn:       deps.Respawn,
		notifications: NewNotificationCache(),
		state:         StateDisconnected,
	}

	s.handlers = map[events.EventType]func(*events.Event){
		events.EventConnected:      s.handleConnected,
		events.EventDisconnected:   s.handleDisconnected,
		events.EventLogOnResult:    s.handleLogOnResult,
		events.EventLoggedOff:      s.handleLoggedOff,
		events.EventLoginKey:       s.handleLoginKey,
		events.EventMachineAuth:    s.handleMachineAuth,
		events.EventNotifications:  s.handleNotifications,
		events.EventWalletInfo:     s.handleWalletInfo,
		events.EventPlayingSession: s.handlePlayingSession,
		events.EventLibraryLock:    s.handleLibraryLock,
	}
	return s
}

// Name returns the account name.
func (s *Session) Name() string { return s.name }

// Status is a point-in-time snapshot for the API and CLI.
type Status struct {
	Name           string `json:"name"`
	State          string `json:"state"`
	AccountID      uint64 `json:"account_id,omitempty"`
	PlayingBlocked bool   `json:"playing_blocked"`
	LibraryLocked  bool   `json:"library_locked"`
	WalletCurrency string `json:"wallet_currency,omitempty"`
	QueuedKeys     int    `json:"queued_keys"`
}

// Status returns a snapshot of the session.
func (s *Session) Status() Status {
	s.mu.Lock()
	st := Status{
		Name:           s.name,
		State:          s.state.String(),
		AccountID:      s.accountID,
		PlayingBlocked: s.playingBlocked,
		LibraryLocked:  s.libraryLocked,
		WalletCurrency: s.walletCurrency,
	}
	s.mu.Unlock()

	if s.queue != nil {
		if n, err := s.queue.Count(s.name); err == nil {
			st.QueuedKeys = n
		}
	}
	return st
}

// State returns the current connection state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start flags the session to run, launches the event loop, and kicks off
// the first connection attempt.
func (s *Session) Start() {
	if !s.keepRunning.CompareAndSwap(false, true) {
		return
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	done := make(chan struct{})
	s.mu.Lock()
	s.loopDone = done
	if s.state == StatePermanentlyStopped {
		s.state = StateDisconnected
	}
	s.mu.Unlock()

	go s.run(done)
	go s.Connect()
	s.logger.Info().Msg("session started")
}

// Stop flags the session to stop and requests a transport disconnect.
// The event loop keeps running until the final disconnect event has been
// observed.
func (s *Session) Stop() {
	if !s.keepRunning.CompareAndSwap(true, false) {
		return
	}
	s.cancel()
	s.cancelTimers()
	if s.adapter.IsConnected() {
		s.mu.Lock()
		s.state = StateDisconnecting
		s.mu.Unlock()
		s.adapter.Disconnect()
	}
	s.logger.Info().Msg("session stopping")
}

// Done is closed once the event loop has fully drained and exited.
func (s *Session) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loopDone
}

// run is the per-session cooperative event loop. It runs while the session
// is flagged to run OR the transport is connected, so the final disconnect
// event is always observed. Each loop owns the done channel it was started
// with: a restart installs a fresh channel, and a loop that finds itself
// superseded exits without touching the replacement.
func (s *Session) run(done chan struct{}) {
	defer close(done)

	recheck := time.NewTicker(time.Second)
	defer recheck.Stop()

	for {
		s.mu.Lock()
		superseded := s.loopDone != done
		s.mu.Unlock()
		if superseded {
			return
		}
		if !s.keepRunning.Load() && !s.adapter.IsConnected() {
			return
		}
		select {
		case ev := <-s.adapter.Events():
			s.dispatch(ev)
		case <-recheck.C:
		}
	}
}

// dispatch routes one event through the handler table. Handlers must
// return quickly; anything slow is spawned onto a background goroutine.
func (s *Session) dispatch(ev *events.Event) {
	handler, ok := s.handlers[ev.Type]
	if !ok {
		s.logger.Debug().Str("type", string(ev.Type)).Msg("no handler for event")
		return
	}
	handler(ev)
}

// Connect establishes the connection. It is a no-op when not flagged to
// run or already past the Disconnected state.
func (s *Session) Connect() {
	if !s.keepRunning.Load() {
		return
	}

	s.loginMu.Lock()
	defer s.loginMu.Unlock()

	s.mu.Lock()
	if s.state != StateDisconnected {
		s.mu.Unlock()
		return
	}
	s.state = StateConnecting
	s.attemptID = uuid.NewString()
	attempt := s.attemptID
	s.mu.Unlock()

	s.logger.Info().Str("attempt", attempt).Msg("connecting")

	if err := s.limiter.AcquireLogin(s.ctx); err != nil {
		s.setState(StateDisconnected)
		return
	}
	s.mu.Lock()
	s.loginGateHeld = true
	s.mu.Unlock()

	s.armWatchdog(attempt)

	if err := s.adapter.Connect(); err != nil {
		s.logger.Error().Err(err).Msg("connection failed")
		s.releaseLoginGate()
		s.disarmWatchdog()
		s.setState(StateDisconnected)
		s.scheduleReconnect(transientReconnectDelay)
		return
	}
}

// Reconnect forces a disconnect that is flagged to reconnect rather than
// stop. Without a live transport there is no disconnect event to consume
// the flag, so the call is a no-op then.
func (s *Session) Reconnect() {
	if !s.adapter.IsConnected() {
		return
	}
	s.mu.Lock()
	s.forceReconnect = true
	s.mu.Unlock()
	s.adapter.Disconnect()
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// armWatchdog starts the connection-failure watchdog: if this attempt
// never reaches Authenticated within a multiple of the liveness timeout,
// the session is torn down and re-registered fresh.
func (s *Session) armWatchdog(attempt string) {
	deadline := time.Duration(connectWatchdogMultiplier*s.pacing.LivenessTimeoutSec) * time.Second

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watchdogTimer != nil {
		s.watchdogTimer.Stop()
	}
	s.watchdogTimer = time.AfterFunc(deadline, func() {
		s.mu.Lock()
		stuck := s.attemptID == attempt && s.state != StateAuthenticated
		s.mu.Unlock()
		if !stuck {
			return
		}
		s.logger.Warn().Str("attempt", attempt).Msg("connection attempt stuck, respawning session")
		if s.respawn != nil {
			s.respawn(s.name)
		}
	})
}

func (s *Session) disarmWatchdog() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watchdogTimer != nil {
		s.watchdogTimer.Stop()
		s.watchdogTimer = nil
	}
}

// cancelTimers releases every timer owned by the session so no periodic
// work fires against a dead session.
func (s *Session) cancelTimers() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range []*time.Timer{s.watchdogTimer, s.graceTimer, s.reconnectTimer, s.redeemTimer} {
		if t != nil {
			t.Stop()
		}
	}
	s.watchdogTimer, s.graceTimer, s.reconnectTimer, s.redeemTimer = nil, nil, nil, nil
}

func (s *Session) scheduleReconnect(delay time.Duration) {
	if !s.keepRunning.Load() {
		return
	}
	s.mu.Lock()
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
	}
	s.reconnectTimer = time.AfterFunc(delay, s.Connect)
	s.mu.Unlock()
}

func (s *Session) releaseLoginGate() {
	s.mu.Lock()
	held := s.loginGateHeld
	s.loginGateHeld = false
	s.mu.Unlock()
	if held {
		s.limiter.ReleaseLogin()
	}
}

// handleConnected submits the login request once the transport is up.
func (s *Session) handleConnected(_ *events.Event) {
	s.setState(StateAwaitingLoginResult)

	req, usedKey := s.buildLogOnRequest()
	s.mu.Lock()
	s.usedLoginKey = usedKey
	s.mu.Unlock()

	if err := s.adapter.Send(protocol.BuildLogOn(req)); err != nil {
		s.logger.Error().Err(err).Msg("failed to submit login request")
		s.adapter.Disconnect()
		return
	}
	s.logger.Info().Bool("login_key", usedKey).Msg("login submitted")
}

// handleDisconnected clears ephemeral state and decides whether to
// reconnect based on the last login outcome.
func (s *Session) handleDisconnected(ev *events.Event) {
	payload, _ := ev.Payload.(events.DisconnectedPayload)

	s.disarmWatchdog()
	s.releaseLoginGate()
	s.notifications.Clear()

	s.mu.Lock()
	if s.graceTimer != nil {
		s.graceTimer.Stop()
		s.graceTimer = nil
	}
	s.accountID = 0
	s.masterChatGroupID = 0
	s.walletCurrency = ""
	s.playingBlocked = false
	s.libraryLocked = false
	s.heartbeatFailures = 0
	s.state = StateDisconnected
	lastAction := s.lastAction
	s.lastAction = actionNone
	forced := s.forceReconnect
	s.forceReconnect = false
	s.mu.Unlock()

	s.logger.Info().
		Bool("requested", payload.Requested).
		Bool("forced_reconnect", forced).
		Msg("disconnected")

	if payload.Requested && !forced {
		// A restart may have raced the requested disconnect; the schedule
		// is a no-op unless the session is flagged to run again.
		s.scheduleReconnect(transientReconnectDelay)
		return
	}

	switch lastAction {
	case actionStop:
		s.setState(StatePermanentlyStopped)
		s.keepRunning.Store(false)
		s.logger.Error().Msg("permanent login failure, session stopped")
	case actionPromptGuard, actionPromptTwoFactor:
		s.setState(StatePermanentlyStopped)
		s.keepRunning.Store(false)
		s.logger.Warn().Msg("interactive code required, session stopped until supplied")
	case actionDropKey:
		s.keys.Clear()
		s.logger.Warn().Msg("remembered login key rejected, retrying with password")
		s.scheduleReconnect(transientReconnectDelay)
	case actionRateLimited:
		// The shared cooldown gate was already penalized; AcquireLogin
		// waits it out on the next attempt.
		s.scheduleReconnect(transientReconnectDelay)
	default:
		s.scheduleReconnect(transientReconnectDelay)
	}
}

// handleLoggedOff records a server-initiated logoff; the follow-up
// disconnect event drives the actual recovery.
func (s *Session) handleLoggedOff(ev *events.Event) {
	payload, ok := ev.Payload.(events.LoggedOffPayload)
	if !ok {
		return
	}
	s.logger.Warn().Str("result", payload.Result.String()).Msg("logged off by remote")

	s.mu.Lock()
	s.lastAction = classifyLogOnResult(payload.Result, s.usedLoginKey, s.hasPassword(), s.hasAuthenticator())
	s.mu.Unlock()
}

// handleLoginKey persists a freshly issued remembered login key and
// acknowledges it.
func (s *Session) handleLoginKey(ev *events.Event) {
	payload, ok := ev.Payload.(events.LoginKeyPayload)
	if !ok {
		return
	}
	if err := s.keys.Save(payload.Key); err != nil {
		s.logger.Error().Err(err).Msg("failed to persist login key")
		return
	}
	s.adapter.Send(protocol.BuildLoginKeyAck(payload.UniqueID))
	s.logger.Debug().Msg("login key updated")
}

// handleMachineAuth rewrites the device fingerprint and acknowledges with
// its digest.
func (s *Session) handleMachineAuth(ev *events.Event) {
	payload, ok := ev.Payload.(events.MachineAuthPayload)
	if !ok {
		return
	}
	err := s.fingerprint.Save(payload.Hash)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to persist fingerprint")
	}
	s.adapter.Send(protocol.BuildMachineAck(err == nil, payload.Hash))
}

func (s *Session) handleWalletInfo(ev *events.Event) {
	payload, ok := ev.Payload.(events.WalletInfoPayload)
	if !ok {
		return
	}
	s.mu.Lock()
	s.walletCurrency = payload.Currency
	s.mu.Unlock()
}

// handlePlayingSession tracks the remote playing-blocked flag. When the
// block clears and stays clear through a grace window, the account is
// announced free and queued work resumes.
func (s *Session) handlePlayingSession(ev *events.Event) {
	payload, ok := ev.Payload.(events.PlayingSessionPayload)
	if !ok {
		return
	}

	s.mu.Lock()
	was := s.playingBlocked
	s.playingBlocked = payload.Blocked
	if payload.Blocked {
		if s.graceTimer != nil {
			s.graceTimer.Stop()
			s.graceTimer = nil
		}
	} else if was {
		if s.graceTimer != nil {
			s.graceTimer.Stop()
		}
		s.graceTimer = time.AfterFunc(occupationGraceDelay, func() {
			s.logger.Info().Msg("account no longer occupied")
			s.TriggerRedemption()
		})
	}
	s.mu.Unlock()

	if payload.Blocked && !was {
		s.logger.Info().Msg("account occupied by another session")
	}
}

func (s *Session) handleLibraryLock(ev *events.Event) {
	payload, ok := ev.Payload.(events.LibraryLockPayload)
	if !ok {
		return
	}
	s.mu.Lock()
	s.libraryLocked = payload.Locked
	s.mu.Unlock()
	s.logger.Debug().Bool("locked", payload.Locked).Uint64("locker", payload.LockerID).Msg("library lock changed")
}
