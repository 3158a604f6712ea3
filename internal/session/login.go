package session

import (
	"strings"
	"time"

	"github.com/shepherd-project/shepherd/internal/events"
	"github.com/shepherd-project/shepherd/internal/protocol"
	"github.com/shepherd-project/shepherd/internal/util"
)

// loginAction is the recovery decision for one login result code.
type loginAction int

const (
	actionNone loginAction = iota
	actionProceed
	actionStop
	actionPromptGuard
	actionPromptTwoFactor
	actionTwoFactorMismatch
	actionRetryTransient
	actionRateLimited
	actionDropKey
)

// classifyLogOnResult maps a remote result code onto a recovery action.
// The mapping depends on what credentials the session holds: a rejected
// password is only permanent when there is no remembered key to drop, and
// a two-factor rejection only counts as a mismatch when a local
// authenticator produced the code.
func classifyLogOnResult(code events.ResultCode, usedLoginKey, hasPassword, hasAuthenticator bool) loginAction {
	switch code {
	case events.ResultOK:
		return actionProceed

	case events.ResultInvalidPassword:
		if usedLoginKey && hasPassword {
			return actionDropKey
		}
		return actionStop

	case events.ResultBanned, events.ResultAccountDisabled:
		return actionStop

	case events.ResultGuardCodeRequired, events.ResultInvalidGuardCode:
		return actionPromptGuard

	case events.ResultTwoFactorRequired:
		if hasAuthenticator {
			return actionTwoFactorMismatch
		}
		return actionPromptTwoFactor

	case events.ResultTwoFactorMismatch:
		if hasAuthenticator {
			return actionTwoFactorMismatch
		}
		return actionPromptTwoFactor

	case events.ResultRateLimitExceeded:
		return actionRateLimited

	case events.ResultNoConnection, events.ResultTimeout,
		events.ResultTryAnotherServer, events.ResultServiceUnavailable,
		events.ResultLoggedInElsewhere, events.ResultFail:
		return actionRetryTransient

	default:
		// Unknown codes get the forward-compatible treatment: retry.
		return actionRetryTransient
	}
}

// stripNonASCII removes every rune above 0x7F; the remote protocol only
// accepts 7-bit ASCII credentials.
func stripNonASCII(s string) string {
	return strings.Map(func(r rune) rune {
		if r > 127 {
			return -1
		}
		return r
	}, s)
}

func (s *Session) hasPassword() bool {
	acct, _ := s.cfgRoot.Account(s.name)
	return acct.Password != ""
}

func (s *Session) hasAuthenticator() bool {
	acct, _ := s.cfgRoot.Account(s.name)
	return acct.TOTPSecret != ""
}

// buildLogOnRequest assembles the login request from the credential bundle.
// A remembered login key is preferred over the password when present and no
// fresh one-shot code is pending. A time-based code is attached whenever an
// authenticator exists, even if the previous attempt did not demand one.
func (s *Session) buildLogOnRequest() (protocol.LogOnRequest, bool) {
	acct, _ := s.cfgRoot.Account(s.name)

	s.mu.Lock()
	guardCode := s.guardCode
	manualTwoFactor := s.twoFactorCode
	s.mu.Unlock()

	req := protocol.LogOnRequest{
		Username:    stripNonASCII(acct.Name),
		GuardCode:   guardCode,
		MachineHash: s.fingerprint.Load(),
	}

	loginKey := ""
	if acct.UseLoginKey {
		loginKey = s.keys.Load()
	}

	usedKey := loginKey != "" && guardCode == "" && manualTwoFactor == ""
	if usedKey {
		req.LoginKey = loginKey
	} else {
		password, err := util.Decrypt(util.EncryptionScheme(acct.PasswordScheme), acct.Password)
		if err != nil {
			s.logger.Error().Err(err).Msg("failed to decrypt password")
			password = ""
		}
		req.Password = stripNonASCII(password)
	}

	switch {
	case manualTwoFactor != "":
		req.TwoFactorCode = manualTwoFactor
	case acct.TOTPSecret != "":
		code, err := util.GenerateTOTP(acct.TOTPSecret, time.Now())
		if err != nil {
			s.logger.Error().Err(err).Msg("failed to generate one-time code")
		} else {
			req.TwoFactorCode = code
		}
	}

	return req, usedKey
}

// consumeOneShotCodes clears the guard and manual two-factor codes. They
// are single-use regardless of the attempt's outcome.
func (s *Session) consumeOneShotCodes() {
	s.mu.Lock()
	s.guardCode = ""
	s.twoFactorCode = ""
	s.mu.Unlock()
}

// SupplyGuardCode provides an email guard code and restarts a session that
// stopped waiting for one.
func (s *Session) SupplyGuardCode(code string) {
	s.mu.Lock()
	s.guardCode = code
	s.mu.Unlock()
	s.Start()
}

// SupplyTwoFactorCode provides a manual two-factor code and restarts a
// session that stopped waiting for one.
func (s *Session) SupplyTwoFactorCode(code string) {
	s.mu.Lock()
	s.twoFactorCode = code
	s.mu.Unlock()
	s.Start()
}

// handleLogOnResult drives the state machine off the remote result code.
func (s *Session) handleLogOnResult(ev *events.Event) {
	payload, ok := ev.Payload.(events.LogOnResultPayload)
	if !ok {
		return
	}

	s.releaseLoginGate()
	defer s.consumeOneShotCodes()

	s.mu.Lock()
	usedKey := s.usedLoginKey
	s.mu.Unlock()

	action := classifyLogOnResult(payload.Result, usedKey, s.hasPassword(), s.hasAuthenticator())

	if action == actionTwoFactorMismatch {
		s.mu.Lock()
		s.twoFactorFailures++
		failures := s.twoFactorFailures
		s.mu.Unlock()
		if failures >= twoFactorMismatchThreshold {
			s.logger.Error().Int("failures", failures).Msg("authenticator looks invalid, stopping")
			action = actionStop
		} else {
			action = actionRetryTransient
		}
	}

	s.logger.Info().
		Str("result", payload.Result.String()).
		Uint64("account_id", payload.AccountID).
		Msg("login result")

	if action == actionProceed {
		s.disarmWatchdog()
		s.mu.Lock()
		s.state = StateAuthenticated
		s.accountID = payload.AccountID
		s.lastAction = actionProceed
		s.twoFactorFailures = 0
		s.heartbeatFailures = 0
		s.playingBlocked = false
		s.mu.Unlock()

		go s.postLogin()
		go s.heartbeatLoop()
		s.TriggerRedemption()
		return
	}

	s.mu.Lock()
	s.lastAction = action
	s.mu.Unlock()

	if action == actionRateLimited {
		cooldown := time.Duration(s.pacing.RateLimitCooldownMin) * time.Minute
		s.logger.Warn().Dur("cooldown", cooldown).Msg("login rate limited, penalizing shared gate")
		s.limiter.PenalizeLogins(cooldown)
	}

	// The remote side usually drops the link after a failed login; force
	// the issue so the disconnect handler runs the recovery branch.
	s.mu.Lock()
	s.forceReconnect = true
	s.mu.Unlock()
	s.adapter.Disconnect()
}

// postLogin runs the fire-and-forget post-authentication sequence off the
// dispatch loop.
func (s *Session) postLogin() {
	s.evaluateParentalGate()

	// Fresh web-session nonce; failure is soft.
	if _, err := s.adapter.Call(func(jobID uint64) protocol.Frame {
		return protocol.BuildWebNonce(jobID)
	}, callTimeout); err != nil {
		s.logger.Warn().Err(err).Msg("web nonce request failed")
	}

	s.joinMasterGroup()

	s.adapter.Send(protocol.BuildReqNotifications())

	acct, _ := s.cfgRoot.Account(s.name)
	if acct.OnlineStatus != "offline" {
		status := events.PresenceOnline
		if acct.OnlineStatus == "invisible" {
			status = events.PresenceInvisible
		}
		s.adapter.Send(protocol.BuildPresence(status))
	}
}

// evaluateParentalGate verifies the configured parental code against the
// account's recoverable hash; a missing or wrong code is re-derived and
// persisted.
func (s *Session) evaluateParentalGate() {
	acct, _ := s.cfgRoot.Account(s.name)
	if !acct.ParentalActive {
		return
	}

	salt, hash := acct.ParentalSaltBytes(), acct.ParentalHashBytes()
	if len(salt) == 0 || len(hash) == 0 {
		return
	}

	if acct.ParentalCode != "" && util.VerifyParentalCode(acct.ParentalCode, salt, hash) {
		return
	}

	code := util.RecoverParentalCode(salt, hash)
	if code == "" {
		s.logger.Warn().Msg("could not recover parental code")
		return
	}

	acct.ParentalCode = code
	s.cfgRoot.SetAccount(acct)
	if err := s.cfgRoot.Save(); err != nil {
		s.logger.Error().Err(err).Msg("failed to persist recovered parental code")
		return
	}
	s.logger.Info().Msg("parental code recovered")
}

// joinMasterGroup resolves the configured master group's chat identifier,
// caches it, and joins when not already a member.
func (s *Session) joinMasterGroup() {
	acct, _ := s.cfgRoot.Account(s.name)
	if acct.MasterGroupID == 0 {
		return
	}

	// Group resolution is a product-metadata query and shares that pacing
	// slot across every session.
	if err := s.limiter.AcquireMetadata(s.ctx); err != nil {
		return
	}
	ev, err := s.adapter.Call(func(jobID uint64) protocol.Frame {
		return protocol.BuildGroupInfo(jobID, acct.MasterGroupID)
	}, callTimeout)
	s.limiter.ReleaseMetadata()
	if err != nil {
		s.logger.Warn().Err(err).Msg("master group resolution failed")
		return
	}

	payload, ok := ev.Payload.(events.GroupInfoPayload)
	if !ok {
		return
	}

	s.mu.Lock()
	s.masterChatGroupID = payload.ChatGroupID
	s.mu.Unlock()

	if !payload.Member {
		s.adapter.Send(protocol.BuildJoinGroup(payload.ChatGroupID))
		s.logger.Info().Uint64("group", acct.MasterGroupID).Msg("joining master group")
	}
}

// MasterChatGroupID returns the cached chat identifier of the master
// group, resolving it on first use.
func (s *Session) MasterChatGroupID() uint64 {
	s.mu.Lock()
	cached := s.masterChatGroupID
	s.mu.Unlock()
	if cached != 0 {
		return cached
	}
	s.joinMasterGroup()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.masterChatGroupID
}
