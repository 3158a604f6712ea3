package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/shepherd-project/shepherd/internal/events"
)

// Parser decodes inbound frames into typed events for one session.
type Parser struct {
	logger zerolog.Logger

	// Raw notification codes we have already warned about, so unrecognized
	// categories are logged once per session rather than per frame.
	unknownNotifications map[uint32]struct{}
}

// NewParser creates a parser for one account's inbound frames.
func NewParser(account string) *Parser {
	return &Parser{
		logger:               log.With().Str("component", "parser").Str("account", account).Logger(),
		unknownNotifications: make(map[uint32]struct{}),
	}
}

// ReadFrame reads a single length-prefixed frame from a reader.
// Wire format: [2-byte LE length][2-byte LE tag][payload bytes...]
func ReadFrame(r io.Reader) (Frame, error) {
	var length uint16
	if err := binary.Read(r, binary.LittleEndian, &length); err != nil {
		return Frame{}, fmt.Errorf("failed to read frame length: %w", err)
	}

	if length < 2 {
		return Frame{}, fmt.Errorf("frame too short: %d bytes", length)
	}
	if length > MaxFrameSize {
		return Frame{}, fmt.Errorf("frame too large: %d bytes (max %d)", length, MaxFrameSize)
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return Frame{}, fmt.Errorf("failed to read frame body (%d bytes): %w", length, err)
	}

	return Frame{
		Tag:     binary.LittleEndian.Uint16(data[:2]),
		Payload: data[2:],
	}, nil
}

// WriteFrame writes a length-prefixed frame to a writer.
func WriteFrame(w io.Writer, f Frame) error {
	length := uint16(2 + len(f.Payload))
	header := make([]byte, 4)
	binary.LittleEndian.PutUint16(header[:2], length)
	binary.LittleEndian.PutUint16(header[2:], f.Tag)
	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("failed to write frame header: %w", err)
	}
	if _, err := w.Write(f.Payload); err != nil {
		return fmt.Errorf("failed to write frame payload: %w", err)
	}
	return nil
}

// Parse processes a raw frame and returns a structured event.
func (p *Parser) Parse(f Frame) (*events.Event, error) {
	r := bytes.NewReader(f.Payload)

	switch f.Tag {
	case MsgLogOnResult:
		return p.parseLogOnResult(r)
	case MsgLoggedOff:
		return p.parseLoggedOff(r)
	case MsgLoginKey:
		return p.parseLoginKey(r)
	case MsgMachineAuth:
		return p.parseMachineAuth(f.Payload)
	case MsgHeartbeatAck:
		return p.parseHeartbeatAck(r)
	case MsgChatAck:
		return p.parseChatAck(r)
	case MsgGroupReply:
		return p.parseGroupReply(r)
	case MsgRedeemResult:
		return p.parseRedeemResult(r, f.Payload)
	case MsgWalletResult:
		return p.parseWalletResult(r)
	case MsgWalletInfo:
		return p.parseWalletInfo(r)
	case MsgNotifications:
		return p.parseNotifications(r)
	case MsgWebNonceReply:
		return p.parseWebNonce(r)
	case MsgPlayingSession:
		return p.parsePlayingSession(r)
	case MsgLibraryLock:
		return p.parseLibraryLock(r)
	default:
		p.logger.Warn().
			Uint16("tag", f.Tag).
			Int("payload_len", len(f.Payload)).
			Msg("unknown frame tag")
		return nil, fmt.Errorf("unknown frame tag: 0x%04X", f.Tag)
	}
}

// parseLogOnResult handles frame 0x0102: login outcome.
// Format: [result:1][account_id:8]
func (p *Parser) parseLogOnResult(r *bytes.Reader) (*events.Event, error) {
	var result uint8
	var accountID uint64

	if err := binary.Read(r, binary.LittleEndian, &result); err != nil {
		return nil, fmt.Errorf("failed to parse logon result code: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &accountID); err != nil {
		return nil, fmt.Errorf("failed to parse logon account id: %w", err)
	}

	p.logger.Debug().
		Str("result", events.ResultCode(result).String()).
		Uint64("account_id", accountID).
		Msg("logon result")

	return &events.Event{
		Type:   events.EventLogOnResult,
		Source: "network",
		Payload: events.LogOnResultPayload{
			Result:    events.ResultCode(result),
			AccountID: accountID,
		},
	}, nil
}

// parseLoggedOff handles frame 0x0103: server-initiated logoff.
func (p *Parser) parseLoggedOff(r *bytes.Reader) (*events.Event, error) {
	var result uint8
	if err := binary.Read(r, binary.LittleEndian, &result); err != nil {
		return nil, fmt.Errorf("failed to parse logoff result: %w", err)
	}

	p.logger.Info().Str("result", events.ResultCode(result).String()).Msg("logged off by server")

	return &events.Event{
		Type:    events.EventLoggedOff,
		Source:  "network",
		Payload: events.LoggedOffPayload{Result: events.ResultCode(result)},
	}, nil
}

// parseLoginKey handles frame 0x0104: new remembered login key.
// Format: [unique_id:4][key:null_str]
func (p *Parser) parseLoginKey(r *bytes.Reader) (*events.Event, error) {
	var uniqueID uint32
	if err := binary.Read(r, binary.LittleEndian, &uniqueID); err != nil {
		return nil, fmt.Errorf("failed to parse login key unique id: %w", err)
	}

	key, err := readCString(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse login key: %w", err)
	}

	return &events.Event{
		Type:   events.EventLoginKey,
		Source: "network",
		Payload: events.LoginKeyPayload{
			UniqueID: uniqueID,
			Key:      key,
		},
	}, nil
}

// parseMachineAuth handles frame 0x0106: device fingerprint update.
// The payload is the raw fingerprint bytes.
func (p *Parser) parseMachineAuth(payload []byte) (*events.Event, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("empty machine auth payload")
	}

	hash := make([]byte, len(payload))
	copy(hash, payload)

	p.logger.Debug().Int("bytes", len(hash)).Msg("machine auth update")

	return &events.Event{
		Type:    events.EventMachineAuth,
		Source:  "network",
		Payload: events.MachineAuthPayload{Hash: hash},
	}, nil
}

// parseHeartbeatAck handles frame 0x0202.
func (p *Parser) parseHeartbeatAck(r *bytes.Reader) (*events.Event, error) {
	var jobID uint64
	if err := binary.Read(r, binary.LittleEndian, &jobID); err != nil {
		return nil, fmt.Errorf("failed to parse heartbeat ack: %w", err)
	}

	return &events.Event{
		Type:   events.EventHeartbeatAck,
		Source: "network",
		JobID:  jobID,
	}, nil
}

// parseChatAck handles frame 0x0302: outbound chat acknowledgement.
// Format: [job_id:8][result:1]
func (p *Parser) parseChatAck(r *bytes.Reader) (*events.Event, error) {
	var jobID uint64
	var result uint8

	if err := binary.Read(r, binary.LittleEndian, &jobID); err != nil {
		return nil, fmt.Errorf("failed to parse chat ack job id: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &result); err != nil {
		return nil, fmt.Errorf("failed to parse chat ack result: %w", err)
	}

	return &events.Event{
		Type:    events.EventChatAck,
		Source:  "network",
		JobID:   jobID,
		Payload: events.ChatAckPayload{Result: events.ResultCode(result)},
	}, nil
}

// parseGroupReply handles frame 0x0304: group resolution reply.
// Format: [job_id:8][chat_group_id:8][member:1]
func (p *Parser) parseGroupReply(r *bytes.Reader) (*events.Event, error) {
	var jobID, chatGroupID uint64
	var member uint8

	if err := binary.Read(r, binary.LittleEndian, &jobID); err != nil {
		return nil, fmt.Errorf("failed to parse group reply job id: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &chatGroupID); err != nil {
		return nil, fmt.Errorf("failed to parse group chat id: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &member); err != nil {
		return nil, fmt.Errorf("failed to parse group membership flag: %w", err)
	}

	return &events.Event{
		Type:   events.EventGroupInfo,
		Source: "network",
		JobID:  jobID,
		Payload: events.GroupInfoPayload{
			ChatGroupID: chatGroupID,
			Member:      member == 1,
		},
	}, nil
}

// parseRedeemResult handles frame 0x0402: key redemption outcome.
// Format: [job_id:8][result:1][detail:1][receipt kv document...]
func (p *Parser) parseRedeemResult(r *bytes.Reader, payload []byte) (*events.Event, error) {
	var jobID uint64
	var result, detail uint8

	if err := binary.Read(r, binary.LittleEndian, &jobID); err != nil {
		return nil, fmt.Errorf("failed to parse redeem job id: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &result); err != nil {
		return nil, fmt.Errorf("failed to parse redeem result: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &detail); err != nil {
		return nil, fmt.Errorf("failed to parse redeem detail: %w", err)
	}

	// Whatever remains is the embedded receipt document; decoding failures
	// degrade to a nil item map rather than failing the whole event.
	var items map[uint32]string
	if rest := payload[len(payload)-r.Len():]; len(rest) > 0 {
		items = p.decodeReceipt(rest)
	}

	return &events.Event{
		Type:   events.EventRedeemResult,
		Source: "network",
		JobID:  jobID,
		Payload: events.RedeemResultPayload{
			Result: events.ResultCode(result),
			Detail: events.PurchaseDetail(detail),
			Items:  items,
		},
	}, nil
}

// parseWalletResult handles frame 0x0404.
// Format: [job_id:8][result:1][detail:1]
func (p *Parser) parseWalletResult(r *bytes.Reader) (*events.Event, error) {
	var jobID uint64
	var result, detail uint8

	if err := binary.Read(r, binary.LittleEndian, &jobID); err != nil {
		return nil, fmt.Errorf("failed to parse wallet result job id: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &result); err != nil {
		return nil, fmt.Errorf("failed to parse wallet result: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &detail); err != nil {
		return nil, fmt.Errorf("failed to parse wallet detail: %w", err)
	}

	return &events.Event{
		Type:   events.EventWalletResult,
		Source: "network",
		JobID:  jobID,
		Payload: events.WalletResultPayload{
			Result: events.ResultCode(result),
			Detail: events.PurchaseDetail(detail),
		},
	}, nil
}

// parseWalletInfo handles frame 0x0405: wallet presence push.
// Format: [has_wallet:1][currency:1]
func (p *Parser) parseWalletInfo(r *bytes.Reader) (*events.Event, error) {
	var hasWallet, currency uint8

	if err := binary.Read(r, binary.LittleEndian, &hasWallet); err != nil {
		return nil, fmt.Errorf("failed to parse wallet flag: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &currency); err != nil {
		return nil, fmt.Errorf("failed to parse wallet currency: %w", err)
	}

	return &events.Event{
		Type:   events.EventWalletInfo,
		Source: "network",
		Payload: events.WalletInfoPayload{
			HasWallet: hasWallet == 1,
			Currency:  walletCurrencies[currency],
		},
	}, nil
}

// walletCurrencies maps wire currency codes to ISO 4217 codes. Codes
// outside the map resolve to an empty currency, which keeps the session
// from attempting wallet-credit fallbacks it cannot price.
var walletCurrencies = map[uint8]string{
	1:  "USD",
	2:  "GBP",
	3:  "EUR",
	4:  "CHF",
	5:  "RUB",
	6:  "PLN",
	7:  "BRL",
	8:  "JPY",
	9:  "NOK",
	10: "IDR",
	11: "MYR",
	12: "PHP",
	13: "SGD",
	14: "THB",
	15: "VND",
	16: "KRW",
	17: "TRY",
	18: "UAH",
	19: "MXN",
	20: "CAD",
	21: "AUD",
	22: "NZD",
	23: "CNY",
	24: "INR",
	25: "CLP",
	26: "PEN",
	27: "COP",
	28: "ZAR",
	29: "HKD",
	30: "TWD",
	31: "SAR",
	32: "AED",
	34: "ARS",
	35: "ILS",
	37: "KZT",
	38: "KWD",
	39: "QAR",
	40: "CRC",
	41: "UYU",
}

// rawNotificationCategories maps wire codes to known categories.
var rawNotificationCategories = map[uint32]events.NotificationCategory{
	1:  events.NotificationTrading,
	4:  events.NotificationComments,
	5:  events.NotificationItems,
	6:  events.NotificationInvites,
	8:  events.NotificationGifts,
	9:  events.NotificationChat,
	11: events.NotificationAccountAlerts,
}

// parseNotifications handles frame 0x0501: notification counters.
// Format: [count:1]{[code:4][value:4]}*
func (p *Parser) parseNotifications(r *bytes.Reader) (*events.Event, error) {
	var count uint8
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, fmt.Errorf("failed to parse notification count: %w", err)
	}

	counts := make(map[events.NotificationCategory]uint32)
	for i := uint8(0); i < count; i++ {
		var code, value uint32
		if err := binary.Read(r, binary.LittleEndian, &code); err != nil {
			return nil, fmt.Errorf("failed to parse notification code: %w", err)
		}
		if err := binary.Read(r, binary.LittleEndian, &value); err != nil {
			return nil, fmt.Errorf("failed to parse notification value: %w", err)
		}

		category, ok := rawNotificationCategories[code]
		if !ok {
			if _, warned := p.unknownNotifications[code]; !warned {
				p.unknownNotifications[code] = struct{}{}
				p.logger.Warn().Uint32("code", code).Msg("unrecognized notification category")
			}
			continue
		}
		counts[category] = value
	}

	return &events.Event{
		Type:    events.EventNotifications,
		Source:  "network",
		Payload: events.NotificationsPayload{Counts: counts},
	}, nil
}

// parseWebNonce handles frame 0x0504.
// Format: [job_id:8][result:1][nonce:null_str]
func (p *Parser) parseWebNonce(r *bytes.Reader) (*events.Event, error) {
	var jobID uint64
	var result uint8

	if err := binary.Read(r, binary.LittleEndian, &jobID); err != nil {
		return nil, fmt.Errorf("failed to parse web nonce job id: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &result); err != nil {
		return nil, fmt.Errorf("failed to parse web nonce result: %w", err)
	}

	nonce, err := readCString(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse web nonce: %w", err)
	}

	return &events.Event{
		Type:   events.EventWebNonce,
		Source: "network",
		JobID:  jobID,
		Payload: events.WebNoncePayload{
			Result: events.ResultCode(result),
			Nonce:  nonce,
		},
	}, nil
}

// parsePlayingSession handles frame 0x0601.
func (p *Parser) parsePlayingSession(r *bytes.Reader) (*events.Event, error) {
	var blocked uint8
	if err := binary.Read(r, binary.LittleEndian, &blocked); err != nil {
		return nil, fmt.Errorf("failed to parse playing session state: %w", err)
	}

	return &events.Event{
		Type:    events.EventPlayingSession,
		Source:  "network",
		Payload: events.PlayingSessionPayload{Blocked: blocked == 1},
	}, nil
}

// parseLibraryLock handles frame 0x0602.
// Format: [locked:1][locker_id:8]
func (p *Parser) parseLibraryLock(r *bytes.Reader) (*events.Event, error) {
	var locked uint8
	var lockerID uint64

	if err := binary.Read(r, binary.LittleEndian, &locked); err != nil {
		return nil, fmt.Errorf("failed to parse library lock state: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &lockerID); err != nil {
		return nil, fmt.Errorf("failed to parse library locker id: %w", err)
	}

	return &events.Event{
		Type:   events.EventLibraryLock,
		Source: "network",
		Payload: events.LibraryLockPayload{
			Locked:   locked == 1,
			LockerID: lockerID,
		},
	}, nil
}
