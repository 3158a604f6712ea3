package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/shepherd-project/shepherd/internal/config"
	"github.com/shepherd-project/shepherd/internal/connector"
	"github.com/shepherd-project/shepherd/internal/db"
	"github.com/shepherd-project/shepherd/internal/ratelimit"
	"github.com/shepherd-project/shepherd/internal/store"
	"github.com/shepherd-project/shepherd/internal/util"
)

// Registry owns the account-name to session mapping and session
// lifecycles. It is constructed explicitly and passed to whatever needs
// it; there is no process-wide implicit map.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session

	cfg          *config.Config
	limiter      *ratelimit.Limiter
	queue        *db.KeyQueue
	newTransport func() connector.Transport
	logger       zerolog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg *config.Config, limiter *ratelimit.Limiter, queue *db.KeyQueue, newTransport func() connector.Transport) *Registry {
	return &Registry{
		sessions:     make(map[string]*Session),
		cfg:          cfg,
		limiter:      limiter,
		queue:        queue,
		newTransport: newTransport,
		logger:       util.ComponentLogger("registry"),
	}
}

// Add registers and returns a session for the named account.
func (r *Registry) Add(name string) (*Session, error) {
	acct, found := r.cfg.Account(name)
	if !found {
		return nil, fmt.Errorf("account %q is not configured", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.sessions[name]; ok {
		return existing, nil
	}

	s := r.build(name)
	r.sessions[name] = s
	r.logger.Info().Str("account", name).Bool("enabled", acct.Enabled).Msg("session registered")
	return s, nil
}

// build assembles a session and its collaborators. Callers hold r.mu.
func (r *Registry) build(name string) *Session {
	adapter := connector.NewAdapter(name, r.newTransport())
	return NewSession(name, Deps{
		Adapter: adapter,
		Limiter: r.limiter,
		Config:  r.cfg,
		Queue:   r.queue,
		DataDir: r.cfg.AccountDataDir(name),
		Respawn: r.Respawn,
	})
}

// Get returns the session for an account, if registered.
func (r *Registry) Get(name string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[name]
	return s, ok
}

// List returns all registered sessions.
func (r *Registry) List() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Statuses returns a snapshot of every session, in configured order.
func (r *Registry) Statuses() []Status {
	var out []Status
	for _, name := range r.cfg.AccountNames() {
		if s, ok := r.Get(name); ok {
			out = append(out, s.Status())
		}
	}
	return out
}

// Remove stops and unregisters a session. Pending queued keys are written
// to the unused ledger so nothing is silently lost.
func (r *Registry) Remove(name string) {
	r.mu.Lock()
	s, ok := r.sessions[name]
	delete(r.sessions, name)
	r.mu.Unlock()
	if !ok {
		return
	}

	s.Stop()

	pending, err := r.queue.Pending(name)
	if err != nil {
		r.logger.Error().Err(err).Str("account", name).Msg("failed to read pending keys")
		return
	}
	ledger := store.NewLedger(r.cfg.AccountDataDir(name))
	for _, qk := range pending {
		if err := ledger.AppendUnused(qk.Name, "Unattempted", nil, qk.Key); err != nil {
			r.logger.Error().Err(err).Msg("failed to write unused ledger entry")
			continue
		}
		r.queue.Remove(qk.ID)
	}
	r.logger.Info().Str("account", name).Int("unused_keys", len(pending)).Msg("session removed")
}

// Respawn replaces a wedged session with a fresh instance and starts it.
// The connect watchdog calls this when an attempt never completes.
func (r *Registry) Respawn(name string) {
	r.mu.Lock()
	old, ok := r.sessions[name]
	if ok {
		delete(r.sessions, name)
	}
	r.mu.Unlock()

	if ok {
		old.Stop()
	}

	if _, found := r.cfg.Account(name); !found {
		return
	}

	r.mu.Lock()
	fresh := r.build(name)
	r.sessions[name] = fresh
	r.mu.Unlock()

	r.logger.Warn().Str("account", name).Msg("session respawned")
	fresh.Start()
}

// StartAll registers and starts a session for every enabled account.
func (r *Registry) StartAll() {
	for _, name := range r.cfg.AccountNames() {
		acct, _ := r.cfg.Account(name)
		s, err := r.Add(name)
		if err != nil {
			r.logger.Error().Err(err).Str("account", name).Msg("failed to register session")
			continue
		}
		if acct.Enabled {
			s.Start()
		}
	}
}

// StopAll stops every session and waits up to the deadline for their event
// loops to drain.
func (r *Registry) StopAll(deadline time.Duration) {
	sessions := r.List()
	for _, s := range sessions {
		s.Stop()
	}

	timeout := time.After(deadline)
	for _, s := range sessions {
		done := s.Done()
		if done == nil {
			continue
		}
		select {
		case <-done:
		case <-timeout:
			r.logger.Warn().Msg("shutdown deadline reached with sessions still draining")
			return
		}
	}
	r.logger.Info().Int("sessions", len(sessions)).Msg("all sessions stopped")
}
