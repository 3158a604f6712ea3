package protocol

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shepherd-project/shepherd/internal/events"
)

func TestReadFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer

	in := Frame{Tag: MsgChatMessage, Payload: []byte{1, 2, 3, 4}}
	require.NoError(t, WriteFrame(&buf, in))

	out, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, in.Tag, out.Tag)
	assert.Equal(t, in.Payload, out.Payload)
}

func TestReadFrameRejectsShortFrame(t *testing.T) {
	// Length prefix of 1 byte cannot even hold the tag.
	_, err := ReadFrame(bytes.NewReader([]byte{1, 0, 0}))
	require.Error(t, err)
}

func TestParseLogOnResult(t *testing.T) {
	b := NewFrameBuilder()
	b.WriteByte(byte(events.ResultRateLimitExceeded))
	b.WriteUint64(76561198000000001)

	p := NewParser("test")
	ev, err := p.Parse(Frame{Tag: MsgLogOnResult, Payload: b.Build()})
	require.NoError(t, err)

	require.Equal(t, events.EventLogOnResult, ev.Type)
	payload, ok := ev.Payload.(events.LogOnResultPayload)
	require.True(t, ok)
	assert.Equal(t, events.ResultRateLimitExceeded, payload.Result)
	assert.Equal(t, uint64(76561198000000001), payload.AccountID)
}

func TestParseNotificationsIgnoresUnknownCodes(t *testing.T) {
	b := NewFrameBuilder()
	b.WriteByte(3)
	b.WriteUint32(8) // gifts
	b.WriteUint32(2)
	b.WriteUint32(9999) // unknown category
	b.WriteUint32(7)
	b.WriteUint32(1) // trading
	b.WriteUint32(5)

	p := NewParser("test")
	ev, err := p.Parse(Frame{Tag: MsgNotifications, Payload: b.Build()})
	require.NoError(t, err)

	payload, ok := ev.Payload.(events.NotificationsPayload)
	require.True(t, ok)
	assert.Len(t, payload.Counts, 2)
	assert.Equal(t, uint32(2), payload.Counts[events.NotificationGifts])
	assert.Equal(t, uint32(5), payload.Counts[events.NotificationTrading])
}

func TestParseChatAckCarriesJobID(t *testing.T) {
	b := NewFrameBuilder()
	b.WriteUint64(42)
	b.WriteByte(byte(events.ResultOK))

	p := NewParser("test")
	ev, err := p.Parse(Frame{Tag: MsgChatAck, Payload: b.Build()})
	require.NoError(t, err)

	assert.Equal(t, uint64(42), ev.JobID)
	payload, ok := ev.Payload.(events.ChatAckPayload)
	require.True(t, ok)
	assert.Equal(t, events.ResultOK, payload.Result)
}

func TestParseWalletInfoResolvesCurrency(t *testing.T) {
	b := NewFrameBuilder()
	b.WriteByte(1) // has wallet
	b.WriteByte(3) // EUR

	p := NewParser("test")
	ev, err := p.Parse(Frame{Tag: MsgWalletInfo, Payload: b.Build()})
	require.NoError(t, err)

	payload, ok := ev.Payload.(events.WalletInfoPayload)
	require.True(t, ok)
	assert.True(t, payload.HasWallet)
	assert.Equal(t, "EUR", payload.Currency)
}

func TestParseWalletInfoUnknownCurrencyIsEmpty(t *testing.T) {
	b := NewFrameBuilder()
	b.WriteByte(1)
	b.WriteByte(250)

	p := NewParser("test")
	ev, err := p.Parse(Frame{Tag: MsgWalletInfo, Payload: b.Build()})
	require.NoError(t, err)

	payload, ok := ev.Payload.(events.WalletInfoPayload)
	require.True(t, ok)
	assert.Empty(t, payload.Currency)
}

func TestParseUnknownTag(t *testing.T) {
	p := NewParser("test")
	_, err := p.Parse(Frame{Tag: 0x7F7F, Payload: nil})
	require.Error(t, err)
}

func receiptDoc(items ...*KeyValue) []byte {
	return EncodeKeyValue(&KeyValue{
		Name: "purchase_receipt_info",
		Children: []*KeyValue{
			{Name: "lineitems", Children: items},
		},
	})
}

func redeemFrame(t *testing.T, receipt []byte) Frame {
	t.Helper()
	b := NewFrameBuilder()
	b.WriteUint64(7)
	b.WriteByte(byte(events.ResultOK))
	b.WriteByte(byte(events.DetailNoDetail))
	b.WriteBytes(receipt)
	return Frame{Tag: MsgRedeemResult, Payload: b.Build()}
}

func TestDecodeReceipt(t *testing.T) {
	receipt := receiptDoc(
		&KeyValue{Name: "0", Children: []*KeyValue{
			{Name: "PackageID", Int: 1234},
			{Name: "ItemDescription", Value: "Space Farm &amp; Friends"},
		}},
		&KeyValue{Name: "1", Children: []*KeyValue{
			{Name: "ItemAppID", Int: 5678},
			{Name: "ItemDescription", Value: "Coupon"},
		}},
	)

	p := NewParser("test")
	ev, err := p.Parse(redeemFrame(t, receipt))
	require.NoError(t, err)

	payload, ok := ev.Payload.(events.RedeemResultPayload)
	require.True(t, ok)
	require.Len(t, payload.Items, 2)
	assert.Equal(t, "Space Farm & Friends", payload.Items[1234])
	assert.Equal(t, "Coupon", payload.Items[5678])
}

func TestDecodeReceiptMissingIdentifierYieldsNoItems(t *testing.T) {
	// One valid item plus one with neither PackageID nor ItemAppID: the
	// entire receipt must be discarded, not partially decoded.
	receipt := receiptDoc(
		&KeyValue{Name: "0", Children: []*KeyValue{
			{Name: "PackageID", Int: 1234},
			{Name: "ItemDescription", Value: "Valid"},
		}},
		&KeyValue{Name: "1", Children: []*KeyValue{
			{Name: "ItemDescription", Value: "Orphan"},
		}},
	)

	p := NewParser("test")
	ev, err := p.Parse(redeemFrame(t, receipt))
	require.NoError(t, err)

	payload, ok := ev.Payload.(events.RedeemResultPayload)
	require.True(t, ok)
	assert.Nil(t, payload.Items)
}

func TestDecodeReceiptMissingNameYieldsNoItems(t *testing.T) {
	receipt := receiptDoc(
		&KeyValue{Name: "0", Children: []*KeyValue{
			{Name: "PackageID", Int: 1234},
		}},
	)

	p := NewParser("test")
	ev, err := p.Parse(redeemFrame(t, receipt))
	require.NoError(t, err)

	payload, ok := ev.Payload.(events.RedeemResultPayload)
	require.True(t, ok)
	assert.Nil(t, payload.Items)
}

func TestDecodeReceiptGarbageYieldsNoItems(t *testing.T) {
	p := NewParser("test")
	ev, err := p.Parse(redeemFrame(t, []byte{0xDE, 0xAD, 0xBE, 0xEF}))
	require.NoError(t, err)

	payload, ok := ev.Payload.(events.RedeemResultPayload)
	require.True(t, ok)
	assert.Nil(t, payload.Items)
}
