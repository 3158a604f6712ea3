// Package events defines the typed events exchanged between the protocol
// adapter and the per-account session event loops.
package events

// EventType identifies the kind of event posted to a session's event loop.
type EventType string

const (
	// Transport lifecycle
	EventConnected    EventType = "connected"
	EventDisconnected EventType = "disconnected"

	// Authentication
	EventLogOnResult EventType = "logon_result"
	EventLoggedOff   EventType = "logged_off"
	EventLoginKey    EventType = "login_key"
	EventMachineAuth EventType = "machine_auth"

	// Account state pushed by the network
	EventNotifications  EventType = "notifications"
	EventWalletInfo     EventType = "wallet_info"
	EventPlayingSession EventType = "playing_session"
	EventLibraryLock    EventType = "library_lock"

	// Correlated replies (routed by job ID, consumed by the adapter's
	// pending-job table rather than the session loop)
	EventHeartbeatAck EventType = "heartbeat_ack"
	EventChatAck      EventType = "chat_ack"
	EventRedeemResult EventType = "redeem_result"
	EventWalletResult EventType = "wallet_result"
	EventWebNonce     EventType = "web_nonce"
	EventGroupInfo    EventType = "group_info"
)

// ResultCode is the closed set of result codes the network attaches to
// authentication and operation replies. Values outside this set are carried
// through verbatim and interpreted best-effort.
type ResultCode uint8

const (
	ResultInvalid            ResultCode = 0
	ResultOK                 ResultCode = 1
	ResultFail               ResultCode = 2
	ResultNoConnection       ResultCode = 3
	ResultInvalidPassword    ResultCode = 5
	ResultLoggedInElsewhere  ResultCode = 6
	ResultTimeout            ResultCode = 16
	ResultBanned             ResultCode = 17
	ResultAccountDisabled    ResultCode = 18
	ResultServiceUnavailable ResultCode = 20
	ResultTryAnotherServer   ResultCode = 48
	ResultGuardCodeRequired  ResultCode = 63
	ResultInvalidGuardCode   ResultCode = 65
	ResultRateLimitExceeded  ResultCode = 84
	ResultTwoFactorRequired  ResultCode = 85
	ResultTwoFactorMismatch  ResultCode = 88
)

// resultStrings maps ResultCode values to their log representation.
var resultStrings = map[ResultCode]string{
	ResultInvalid:            "invalid",
	ResultOK:                 "ok",
	ResultFail:               "fail",
	ResultNoConnection:       "no_connection",
	ResultInvalidPassword:    "invalid_password",
	ResultLoggedInElsewhere:  "logged_in_elsewhere",
	ResultTimeout:            "timeout",
	ResultBanned:             "banned",
	ResultAccountDisabled:    "account_disabled",
	ResultServiceUnavailable: "service_unavailable",
	ResultTryAnotherServer:   "try_another_server",
	ResultGuardCodeRequired:  "guard_code_required",
	ResultInvalidGuardCode:   "invalid_guard_code",
	ResultRateLimitExceeded:  "rate_limit_exceeded",
	ResultTwoFactorRequired:  "two_factor_required",
	ResultTwoFactorMismatch:  "two_factor_mismatch",
}

// String returns the string representation of a ResultCode.
func (r ResultCode) String() string {
	if s, ok := resultStrings[r]; ok {
		return s
	}
	return "unknown"
}

// PurchaseDetail refines a redemption result.
type PurchaseDetail uint8

const (
	DetailNoDetail                PurchaseDetail = 0
	DetailAlreadyPurchased        PurchaseDetail = 9
	DetailRestrictedCountry       PurchaseDetail = 13
	DetailBadActivationCode       PurchaseDetail = 14
	DetailDuplicateActivationCode PurchaseDetail = 15
	DetailDoesNotOwnRequiredApp   PurchaseDetail = 24
	DetailCannotRedeemFromClient  PurchaseDetail = 50
	DetailRateLimited             PurchaseDetail = 53
)

// String returns the string representation of a PurchaseDetail.
func (d PurchaseDetail) String() string {
	switch d {
	case DetailNoDetail:
		return "NoDetail"
	case DetailAlreadyPurchased:
		return "AlreadyPurchased"
	case DetailRestrictedCountry:
		return "RestrictedCountry"
	case DetailBadActivationCode:
		return "BadActivationCode"
	case DetailDuplicateActivationCode:
		return "DuplicateActivationCode"
	case DetailDoesNotOwnRequiredApp:
		return "DoesNotOwnRequiredApp"
	case DetailCannotRedeemFromClient:
		return "CannotRedeemFromClient"
	case DetailRateLimited:
		return "RateLimited"
	default:
		return "Unknown"
	}
}

// NotificationCategory is the closed set of notification categories the
// session tracks. Raw codes outside the set are logged once and dropped.
type NotificationCategory int

const (
	NotificationTrading NotificationCategory = iota
	NotificationComments
	NotificationItems
	NotificationInvites
	NotificationGifts
	NotificationChat
	NotificationAccountAlerts
)

// notificationStrings maps categories to their log representation.
var notificationStrings = map[NotificationCategory]string{
	NotificationTrading:       "trading",
	NotificationComments:      "comments",
	NotificationItems:         "items",
	NotificationInvites:       "invites",
	NotificationGifts:         "gifts",
	NotificationChat:          "chat",
	NotificationAccountAlerts: "account_alerts",
}

// String returns the string representation of a NotificationCategory.
func (c NotificationCategory) String() string {
	if s, ok := notificationStrings[c]; ok {
		return s
	}
	return "unknown"
}

// PresenceStatus is the presence broadcast after login.
type PresenceStatus uint8

const (
	PresenceOffline   PresenceStatus = 0
	PresenceOnline    PresenceStatus = 1
	PresenceInvisible PresenceStatus = 7
)

// Event is a single decoded protocol event. JobID is nonzero for correlated
// replies; those resolve a pending outbound call instead of reaching the
// session dispatch table.
type Event struct {
	Type    EventType
	Source  string
	JobID   uint64
	Payload interface{}
}

// DisconnectedPayload reports a transport disconnect.
type DisconnectedPayload struct {
	Requested bool
}

// LogOnResultPayload carries the outcome of a login attempt.
type LogOnResultPayload struct {
	Result    ResultCode
	AccountID uint64
}

// LoggedOffPayload carries a server-initiated logoff.
type LoggedOffPayload struct {
	Result ResultCode
}

// LoginKeyPayload delivers a freshly issued remembered login key.
type LoginKeyPayload struct {
	UniqueID uint32
	Key      string
}

// MachineAuthPayload delivers updated device fingerprint bytes.
type MachineAuthPayload struct {
	Hash []byte
}

// NotificationsPayload carries the per-category counters reported by the
// network. Counters are absolute values, not deltas.
type NotificationsPayload struct {
	Counts map[NotificationCategory]uint32
}

// WalletInfoPayload reports wallet presence and currency. Currency is the
// ISO 4217 code resolved from the wire value; empty when the wire code is
// not recognized.
type WalletInfoPayload struct {
	HasWallet bool
	Currency  string
}

// PlayingSessionPayload reports whether another session occupies the account.
type PlayingSessionPayload struct {
	Blocked bool
}

// LibraryLockPayload reports a shared-library lock held by another borrower.
type LibraryLockPayload struct {
	Locked   bool
	LockerID uint64
}

// ChatAckPayload acknowledges an outbound chat message.
type ChatAckPayload struct {
	Result ResultCode
}

// RedeemResultPayload carries the outcome of a key redemption. Items maps
// product ID to display name; it is nil when the embedded receipt could not
// be decoded unambiguously.
type RedeemResultPayload struct {
	Result ResultCode
	Detail PurchaseDetail
	Items  map[uint32]string
}

// WalletResultPayload carries the outcome of a wallet-code redemption.
type WalletResultPayload struct {
	Result ResultCode
	Detail PurchaseDetail
}

// WebNoncePayload carries a fresh web-session nonce.
type WebNoncePayload struct {
	Result ResultCode
	Nonce  string
}

// GroupInfoPayload resolves a configured group to its chat identifier and
// reports current membership.
type GroupInfoPayload struct {
	ChatGroupID uint64
	Member      bool
}
