// Package protocol implements the binary frame codec for communication with
// the game-distribution network. All frames use little-endian byte order with
// a 2-byte length prefix followed by a 2-byte message-type tag.
package protocol

// Message-type tags for Session <-> Network communication.
const (
	// Authentication
	MsgLogOn        uint16 = 0x0101 // Login request with credential bundle
	MsgLogOnResult  uint16 = 0x0102 // Login outcome (result code + account ID)
	MsgLoggedOff    uint16 = 0x0103 // Server-initiated logoff
	MsgLoginKey     uint16 = 0x0104 // Freshly issued remembered login key
	MsgLoginKeyAck  uint16 = 0x0105 // Acknowledge acceptance of a login key
	MsgMachineAuth  uint16 = 0x0106 // Device fingerprint update
	MsgMachineAck   uint16 = 0x0107 // Acknowledge fingerprint write

	// Liveness
	MsgHeartbeat    uint16 = 0x0201 // Correlated liveness probe
	MsgHeartbeatAck uint16 = 0x0202 // Probe reply

	// Chat
	MsgChatMessage uint16 = 0x0301 // Correlated outbound chat message
	MsgChatAck     uint16 = 0x0302 // Send acknowledgement with result
	MsgGroupInfo   uint16 = 0x0303 // Correlated group resolution request
	MsgGroupReply  uint16 = 0x0304 // Group chat ID + membership flag
	MsgJoinGroup   uint16 = 0x0305 // Join a chat group (fire and forget)

	// Redemption
	MsgRedeemKey    uint16 = 0x0401 // Correlated key redemption
	MsgRedeemResult uint16 = 0x0402 // Result + detail + embedded receipt
	MsgRedeemWallet uint16 = 0x0403 // Correlated wallet-code redemption
	MsgWalletResult uint16 = 0x0404 // Wallet redemption outcome
	MsgWalletInfo   uint16 = 0x0405 // Wallet presence + currency push

	// Account state
	MsgNotifications    uint16 = 0x0501 // Per-category notification counters
	MsgReqNotifications uint16 = 0x0502 // Request counter refresh
	MsgWebNonce         uint16 = 0x0503 // Correlated web-session nonce request
	MsgWebNonceReply    uint16 = 0x0504 // Nonce reply
	MsgPresence         uint16 = 0x0505 // Presence broadcast
	MsgPlayingSession   uint16 = 0x0601 // Playing-blocked state push
	MsgLibraryLock      uint16 = 0x0602 // Shared-library lock state push
)

// MaxFrameSize is the maximum allowed size for a single frame payload.
const MaxFrameSize = 65535

// LengthPrefixSize is the size of the length prefix in bytes.
const LengthPrefixSize = 2

// Frame represents a raw binary frame with a message-type tag and payload.
type Frame struct {
	Tag     uint16
	Payload []byte
}
