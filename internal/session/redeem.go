package session

import (
	"sort"
	"strings"
	"time"

	"github.com/shepherd-project/shepherd/internal/events"
	"github.com/shepherd-project/shepherd/internal/protocol"
	"github.com/shepherd-project/shepherd/internal/store"
)

// redeemClass is the terminal classification of one redemption attempt.
type redeemClass int

const (
	redeemSucceeded redeemClass = iota
	redeemRejected
	redeemRateLimited
)

// classifyRedeemResult folds a result code and purchase detail into the
// worker's three-way decision.
func classifyRedeemResult(result events.ResultCode, detail events.PurchaseDetail) redeemClass {
	if result == events.ResultRateLimitExceeded || detail == events.DetailRateLimited {
		return redeemRateLimited
	}
	if result == events.ResultOK && detail == events.DetailNoDetail {
		return redeemSucceeded
	}
	return redeemRejected
}

// TriggerRedemption starts the background redemption worker unless one is
// already running for this session; duplicate triggers are no-ops.
func (s *Session) TriggerRedemption() {
	if s.queue == nil {
		return
	}
	if !s.redeemMu.TryLock() {
		return
	}
	go func() {
		defer s.redeemMu.Unlock()
		s.redeemPass()
	}()
}

// redeemPass drains the account's key queue one entry at a time, in order.
// A rate-limited response aborts the pass, leaves the entry at the head,
// and schedules a retry after the configured multi-hour cooldown.
func (s *Session) redeemPass() {
	for s.keepRunning.Load() && s.adapter.IsConnected() {
		entry, err := s.queue.Next(s.name)
		if err != nil {
			s.logger.Error().Err(err).Msg("failed to read redemption queue")
			return
		}
		if entry == nil {
			return
		}

		if err := s.limiter.AcquireRedeem(s.ctx); err != nil {
			return
		}
		result, callErr := s.redeemOnce(entry.Key)
		s.limiter.ReleaseRedeem()

		if callErr != nil {
			// Transient: leave the entry at the head for the next pass.
			s.logger.Warn().Err(callErr).Msg("redemption attempt failed")
			return
		}

		switch classifyRedeemResult(result.Result, result.Detail) {
		case redeemRateLimited:
			cooldown := time.Duration(s.pacing.RedeemCooldownHours) * time.Hour
			s.logger.Warn().Dur("cooldown", cooldown).Msg("redemption rate limited, pausing worker")
			s.scheduleRedeemRetry(cooldown)
			return

		case redeemSucceeded, redeemRejected:
			label := result.Result.String()
			if result.Detail != events.DetailNoDetail {
				label = result.Detail.String()
			}
			names := sortedItemNames(result.Items)

			// Ledger first, removal second: a crash between the two loses
			// at most a duplicate ledger line, never a queued key.
			if err := s.ledger.AppendUsed(entry.Name, label, names, entry.Key); err != nil {
				s.logger.Error().Err(err).Msg("ledger append failed, leaving key queued")
				return
			}
			if err := s.queue.RecordOutcome(s.name, entry.Key, label, strings.Join(names, ", ")); err != nil {
				s.logger.Warn().Err(err).Msg("failed to record redemption history")
			}
			if err := s.queue.Remove(entry.ID); err != nil {
				s.logger.Error().Err(err).Msg("failed to remove redeemed key from queue")
				return
			}
			s.logger.Info().Str("result", label).Strs("items", names).Msg("key processed")
		}
	}
}

// redeemOnce submits one key, falling back to the wallet-credit path when
// the remote side says the key cannot be redeemed as a product and the
// session knows its wallet currency.
func (s *Session) redeemOnce(key string) (events.RedeemResultPayload, error) {
	ev, err := s.adapter.Call(func(jobID uint64) protocol.Frame {
		return protocol.BuildRedeemKey(jobID, key)
	}, callTimeout)
	if err != nil {
		return events.RedeemResultPayload{}, err
	}

	result, ok := ev.Payload.(events.RedeemResultPayload)
	if !ok {
		return events.RedeemResultPayload{Result: events.ResultFail}, nil
	}

	s.mu.Lock()
	currency := s.walletCurrency
	s.mu.Unlock()

	if result.Detail == events.DetailCannotRedeemFromClient && currency != "" {
		wev, werr := s.adapter.Call(func(jobID uint64) protocol.Frame {
			return protocol.BuildRedeemWallet(jobID, key)
		}, callTimeout)
		if werr != nil {
			return result, nil
		}
		if wallet, ok := wev.Payload.(events.WalletResultPayload); ok {
			result.Result = wallet.Result
			result.Detail = wallet.Detail
		}
	}

	return result, nil
}

func (s *Session) scheduleRedeemRetry(cooldown time.Duration) {
	if !s.keepRunning.Load() {
		return
	}
	s.mu.Lock()
	if s.redeemTimer != nil {
		s.redeemTimer.Stop()
	}
	s.redeemTimer = time.AfterFunc(cooldown, s.TriggerRedemption)
	s.mu.Unlock()
}

func sortedItemNames(items map[uint32]string) []string {
	if len(items) == 0 {
		return nil
	}
	names := make([]string, 0, len(items))
	for _, name := range items {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// EnqueueKey adds an activation key to this account's durable queue and
// nudges the worker.
func (s *Session) EnqueueKey(name, key string) error {
	if name == "" {
		name = key
	}
	if _, err := s.queue.Enqueue(s.name, name, key); err != nil {
		return err
	}
	if s.State() == StateAuthenticated {
		s.TriggerRedemption()
	}
	return nil
}

// ImportQueuedKeys drains an import file into the durable queue.
func (s *Session) ImportQueuedKeys(keys []store.ImportedKey) error {
	for _, k := range keys {
		if _, err := s.queue.Enqueue(s.name, k.Name, k.Key); err != nil {
			return err
		}
	}
	if len(keys) > 0 && s.State() == StateAuthenticated {
		s.TriggerRedemption()
	}
	return nil
}
