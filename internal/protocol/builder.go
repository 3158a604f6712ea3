package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/shepherd-project/shepherd/internal/events"
)

// FrameBuilder constructs binary frame payloads for sending to the network.
type FrameBuilder struct {
	buf bytes.Buffer
}

// NewFrameBuilder creates a new FrameBuilder.
func NewFrameBuilder() *FrameBuilder {
	return &FrameBuilder{}
}

// Reset clears the builder for reuse.
func (b *FrameBuilder) Reset() {
	b.buf.Reset()
}

// WriteByte writes a single byte.
func (b *FrameBuilder) WriteByte(v byte) *FrameBuilder {
	b.buf.WriteByte(v)
	return b
}

// WriteUint16 writes a uint16 in little-endian order.
func (b *FrameBuilder) WriteUint16(v uint16) *FrameBuilder {
	binary.Write(&b.buf, binary.LittleEndian, v)
	return b
}

// WriteUint32 writes a uint32 in little-endian order.
func (b *FrameBuilder) WriteUint32(v uint32) *FrameBuilder {
	binary.Write(&b.buf, binary.LittleEndian, v)
	return b
}

// WriteUint64 writes a uint64 in little-endian order.
func (b *FrameBuilder) WriteUint64(v uint64) *FrameBuilder {
	binary.Write(&b.buf, binary.LittleEndian, v)
	return b
}

// WriteString writes a length-prefixed string.
// Format: [length:2 LE][string bytes...]
func (b *FrameBuilder) WriteString(s string) *FrameBuilder {
	data := []byte(s)
	binary.Write(&b.buf, binary.LittleEndian, uint16(len(data)))
	b.buf.Write(data)
	return b
}

// WriteNullString writes a null-terminated string.
func (b *FrameBuilder) WriteNullString(s string) *FrameBuilder {
	b.buf.WriteString(s)
	b.buf.WriteByte(0)
	return b
}

// WriteBytes writes raw bytes.
func (b *FrameBuilder) WriteBytes(data []byte) *FrameBuilder {
	b.buf.Write(data)
	return b
}

// Build returns the constructed payload bytes.
func (b *FrameBuilder) Build() []byte {
	return b.buf.Bytes()
}

// Len returns the current size of the payload being built.
func (b *FrameBuilder) Len() int {
	return b.buf.Len()
}

// String returns a hex dump of the current payload for debugging.
func (b *FrameBuilder) String() string {
	data := b.buf.Bytes()
	return fmt.Sprintf("FrameBuilder[%d bytes]: %x", len(data), data)
}

// ---- Pre-built frame constructors ----

// LogOnRequest carries everything a login attempt submits.
type LogOnRequest struct {
	Username      string
	Password      string
	LoginKey      string
	GuardCode     string
	TwoFactorCode string
	MachineHash   []byte
}

// BuildLogOn creates a login request frame (0x0101).
// Format: [username][password][login_key][guard_code][totp] as null strings,
// followed by [hash_len:1][hash bytes...].
func BuildLogOn(req LogOnRequest) Frame {
	b := NewFrameBuilder()
	b.WriteNullString(req.Username)
	b.WriteNullString(req.Password)
	b.WriteNullString(req.LoginKey)
	b.WriteNullString(req.GuardCode)
	b.WriteNullString(req.TwoFactorCode)
	hash := req.MachineHash
	if len(hash) > 255 {
		hash = hash[:255]
	}
	b.WriteByte(byte(len(hash)))
	b.WriteBytes(hash)
	return Frame{Tag: MsgLogOn, Payload: b.Build()}
}

// BuildHeartbeat creates a correlated liveness probe (0x0201).
func BuildHeartbeat(jobID uint64) Frame {
	b := NewFrameBuilder()
	b.WriteUint64(jobID)
	return Frame{Tag: MsgHeartbeat, Payload: b.Build()}
}

// BuildChatMessage creates a correlated chat message frame (0x0301).
// Format: [job_id:8][chat_group_id:8][message:len_str]
func BuildChatMessage(jobID, chatGroupID uint64, message string) Frame {
	b := NewFrameBuilder()
	b.WriteUint64(jobID)
	b.WriteUint64(chatGroupID)
	b.WriteString(message)
	return Frame{Tag: MsgChatMessage, Payload: b.Build()}
}

// BuildGroupInfo creates a correlated group resolution request (0x0303).
func BuildGroupInfo(jobID, groupID uint64) Frame {
	b := NewFrameBuilder()
	b.WriteUint64(jobID)
	b.WriteUint64(groupID)
	return Frame{Tag: MsgGroupInfo, Payload: b.Build()}
}

// BuildJoinGroup creates a join-group frame (0x0305).
func BuildJoinGroup(chatGroupID uint64) Frame {
	b := NewFrameBuilder()
	b.WriteUint64(chatGroupID)
	return Frame{Tag: MsgJoinGroup, Payload: b.Build()}
}

// BuildRedeemKey creates a correlated key redemption frame (0x0401).
func BuildRedeemKey(jobID uint64, key string) Frame {
	b := NewFrameBuilder()
	b.WriteUint64(jobID)
	b.WriteNullString(key)
	return Frame{Tag: MsgRedeemKey, Payload: b.Build()}
}

// BuildRedeemWallet creates a correlated wallet-code redemption frame (0x0403).
func BuildRedeemWallet(jobID uint64, key string) Frame {
	b := NewFrameBuilder()
	b.WriteUint64(jobID)
	b.WriteNullString(key)
	return Frame{Tag: MsgRedeemWallet, Payload: b.Build()}
}

// BuildLoginKeyAck creates a login-key acceptance frame (0x0105).
func BuildLoginKeyAck(uniqueID uint32) Frame {
	b := NewFrameBuilder()
	b.WriteUint32(uniqueID)
	return Frame{Tag: MsgLoginKeyAck, Payload: b.Build()}
}

// BuildMachineAck acknowledges a device fingerprint write (0x0107).
// Format: [ok:1][hash_len:1][sha of written bytes...]
func BuildMachineAck(ok bool, digest []byte) Frame {
	b := NewFrameBuilder()
	if ok {
		b.WriteByte(1)
	} else {
		b.WriteByte(0)
	}
	if len(digest) > 255 {
		digest = digest[:255]
	}
	b.WriteByte(byte(len(digest)))
	b.WriteBytes(digest)
	return Frame{Tag: MsgMachineAck, Payload: b.Build()}
}

// BuildReqNotifications creates a notification counter refresh request (0x0502).
func BuildReqNotifications() Frame {
	return Frame{Tag: MsgReqNotifications}
}

// BuildWebNonce creates a correlated web-session nonce request (0x0503).
func BuildWebNonce(jobID uint64) Frame {
	b := NewFrameBuilder()
	b.WriteUint64(jobID)
	return Frame{Tag: MsgWebNonce, Payload: b.Build()}
}

// BuildPresence creates a presence broadcast frame (0x0505).
func BuildPresence(status events.PresenceStatus) Frame {
	b := NewFrameBuilder()
	b.WriteByte(byte(status))
	return Frame{Tag: MsgPresence, Payload: b.Build()}
}
