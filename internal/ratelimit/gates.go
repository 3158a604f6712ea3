// Package ratelimit implements the process-wide pacing gates shared by all
// sessions: login pacing, gift/guest-pass redemption pacing, and product
// metadata query pacing. Pacing and mutual exclusion are deliberately
// separate concerns: a gate is a single-slot lock whose release is delayed,
// while the cooldown is a shared wall-clock barrier.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// PacedGate is a single-slot gate whose release is deferred by a fixed delay,
// so consecutive holders are spaced at least that far apart.
type PacedGate struct {
	slot  chan struct{}
	delay time.Duration
}

// NewPacedGate creates a gate with the given inter-holder delay.
func NewPacedGate(delay time.Duration) *PacedGate {
	g := &PacedGate{
		slot:  make(chan struct{}, 1),
		delay: delay,
	}
	g.slot <- struct{}{}
	return g
}

// Acquire blocks until the slot is free or the context is cancelled.
func (g *PacedGate) Acquire(ctx context.Context) error {
	select {
	case <-g.slot:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryAcquire attempts to take the slot without blocking.
func (g *PacedGate) TryAcquire() bool {
	select {
	case <-g.slot:
		return true
	default:
		return false
	}
}

// Release returns the slot after the configured delay has elapsed.
func (g *PacedGate) Release() {
	if g.delay <= 0 {
		g.slot <- struct{}{}
		return
	}
	time.AfterFunc(g.delay, func() {
		g.slot <- struct{}{}
	})
}

// Limiter bundles the shared gates. Its lifetime is tied to the process, but
// it is constructed explicitly and passed to whatever owns session lifecycles.
type Limiter struct {
	login    *PacedGate
	redeem   *PacedGate
	metadata *PacedGate

	mu                sync.Mutex
	loginBlockedUntil time.Time
}

// Config holds the pacing delays, sourced from external configuration.
type Config struct {
	LoginDelay    time.Duration
	RedeemDelay   time.Duration
	MetadataDelay time.Duration
}

// NewLimiter creates the shared limiter.
func NewLimiter(cfg Config) *Limiter {
	return &Limiter{
		login:    NewPacedGate(cfg.LoginDelay),
		redeem:   NewPacedGate(cfg.RedeemDelay),
		metadata: NewPacedGate(cfg.MetadataDelay),
	}
}

// AcquireLogin takes the global login slot, waiting out any active rate-limit
// cooldown first. The abuse signal on the remote side is account-family-wide,
// so the cooldown applies to every session, not just the offender.
func (l *Limiter) AcquireLogin(ctx context.Context) error {
	if err := l.login.Acquire(ctx); err != nil {
		return err
	}

	for {
		l.mu.Lock()
		wait := time.Until(l.loginBlockedUntil)
		l.mu.Unlock()

		if wait <= 0 {
			return nil
		}

		log.Debug().Dur("wait", wait).Msg("login gate held by rate-limit cooldown")
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			l.login.Release()
			return ctx.Err()
		}
	}
}

// ReleaseLogin frees the login slot after the configured inter-attempt delay.
func (l *Limiter) ReleaseLogin() {
	l.login.Release()
}

// PenalizeLogins blocks all logins for the given cooldown window. Extending
// an already-active window is a no-op if the new deadline is earlier.
func (l *Limiter) PenalizeLogins(cooldown time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	until := time.Now().Add(cooldown)
	if until.After(l.loginBlockedUntil) {
		l.loginBlockedUntil = until
		log.Warn().Time("until", until).Msg("global login cooldown engaged")
	}
}

// AcquireRedeem takes the shared gift/guest-pass redemption slot.
func (l *Limiter) AcquireRedeem(ctx context.Context) error {
	return l.redeem.Acquire(ctx)
}

// ReleaseRedeem frees the redemption slot after its pacing delay.
func (l *Limiter) ReleaseRedeem() {
	l.redeem.Release()
}

// AcquireMetadata takes the shared product-metadata query slot.
func (l *Limiter) AcquireMetadata(ctx context.Context) error {
	return l.metadata.Acquire(ctx)
}

// ReleaseMetadata frees the metadata slot after its pacing delay.
func (l *Limiter) ReleaseMetadata() {
	l.metadata.Release()
}
