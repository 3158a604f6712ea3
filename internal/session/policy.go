// Package session implements the per-account session manager: the
// authentication state machine, the event loop, the chat sender, the
// heartbeat watchdog, and the background key-redemption worker.
package session

import "time"

// Policy constants carried over from long-running operational tuning.
// They are deliberately named rather than derived.
const (
	// twoFactorMismatchThreshold is how many consecutive two-factor
	// mismatches are tolerated before the local authenticator is treated
	// as invalid and the session stops.
	twoFactorMismatchThreshold = 3

	// transientReconnectDelay spaces reconnect attempts after transient
	// network or server failures.
	transientReconnectDelay = 5 * time.Second

	// chatSendPacing precedes every outbound chat chunk to avoid
	// server-side rapid-message anomalies.
	chatSendPacing = 500 * time.Millisecond

	// chatSendRetries bounds retries of a transiently failed chunk send.
	chatSendRetries = 5

	// chatSendRetryDelay spaces those retries.
	chatSendRetryDelay = 5 * time.Second

	// connectWatchdogMultiplier scales the liveness timeout into the
	// connection-failure watchdog deadline.
	connectWatchdogMultiplier = 3

	// heartbeatInterval spaces liveness probes while authenticated.
	heartbeatInterval = 60 * time.Second

	// occupationGraceDelay is how long a cleared occupation flag must
	// stay clear before the account is announced free.
	occupationGraceDelay = 2 * time.Minute

	// callTimeout bounds every correlated request/reply round trip.
	callTimeout = 10 * time.Second

	// maxMessageLength is the remote service's hard cap on one outbound
	// chat message, in bytes.
	maxMessageLength = 2503

	// continuationEllipsis is appended to every non-final chunk.
	continuationEllipsis = "..."
)

// State is the connection state of a session.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateAwaitingLoginResult
	StateAuthenticated
	StateDisconnecting
	StatePermanentlyStopped
)

var stateStrings = map[State]string{
	StateDisconnected:        "disconnected",
	StateConnecting:          "connecting",
	StateAwaitingLoginResult: "awaiting_login_result",
	StateAuthenticated:       "authenticated",
	StateDisconnecting:       "disconnecting",
	StatePermanentlyStopped:  "stopped",
}

// String returns the string representation of a State.
func (s State) String() string {
	if str, ok := stateStrings[s]; ok {
		return str
	}
	return "unknown"
}
