package connector

import (
	"encoding/binary"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shepherd-project/shepherd/internal/events"
	"github.com/shepherd-project/shepherd/internal/protocol"
)

// fakeTransport feeds canned inbound frames and records outbound ones.
type fakeTransport struct {
	mu        sync.Mutex
	inbound   chan protocol.Frame
	written   []protocol.Frame
	closeOnce sync.Once
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{inbound: make(chan protocol.Frame, 16)}
}

func (f *fakeTransport) Dial() error { return nil }

func (f *fakeTransport) ReadFrame() (protocol.Frame, error) {
	frame, ok := <-f.inbound
	if !ok {
		return protocol.Frame{}, io.EOF
	}
	return frame, nil
}

func (f *fakeTransport) WriteFrame(frame protocol.Frame) error {
	f.mu.Lock()
	f.written = append(f.written, frame)
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) Close() error {
	f.closeOnce.Do(func() { close(f.inbound) })
	return nil
}

func (f *fakeTransport) lastWritten(t *testing.T) protocol.Frame {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.written)
	return f.written[len(f.written)-1]
}

func heartbeatAckFrame(jobID uint64) protocol.Frame {
	payload := make([]byte, 8)
	binary.LittleEndian.PutUint64(payload, jobID)
	return protocol.Frame{Tag: protocol.MsgHeartbeatAck, Payload: payload}
}

func waitEvent(t *testing.T, a *Adapter, want events.EventType) *events.Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-a.Events():
			if ev.Type == want {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", want)
		}
	}
}

func TestConnectPostsConnectedEvent(t *testing.T) {
	ft := newFakeTransport()
	a := NewAdapter("alice", ft)

	require.NoError(t, a.Connect())
	waitEvent(t, a, events.EventConnected)
	assert.True(t, a.IsConnected())
}

func TestCallResolvesMatchingReply(t *testing.T) {
	ft := newFakeTransport()
	a := NewAdapter("alice", ft)
	require.NoError(t, a.Connect())

	var sentJobID uint64
	done := make(chan struct{})
	go func() {
		defer close(done)
		// Echo the heartbeat back once it shows up on the wire
		for {
			ft.mu.Lock()
			n := len(ft.written)
			ft.mu.Unlock()
			if n > 0 {
				break
			}
			time.Sleep(5 * time.Millisecond)
		}
		ft.inbound <- heartbeatAckFrame(sentJobID)
	}()

	ev, err := a.Call(func(jobID uint64) protocol.Frame {
		sentJobID = jobID
		return protocol.BuildHeartbeat(jobID)
	}, 2*time.Second)
	<-done

	require.NoError(t, err)
	assert.Equal(t, events.EventHeartbeatAck, ev.Type)
	assert.Equal(t, sentJobID, ev.JobID)
	assert.Equal(t, protocol.MsgHeartbeat, ft.lastWritten(t).Tag)
}

func TestCallTimesOutAndCleansUp(t *testing.T) {
	ft := newFakeTransport()
	a := NewAdapter("alice", ft)
	require.NoError(t, a.Connect())

	_, err := a.Call(func(jobID uint64) protocol.Frame {
		return protocol.BuildHeartbeat(jobID)
	}, 50*time.Millisecond)
	require.ErrorIs(t, err, ErrJobTimeout)

	a.mu.Lock()
	pending := len(a.pending)
	a.mu.Unlock()
	assert.Zero(t, pending)
}

func TestCallWhileDisconnected(t *testing.T) {
	ft := newFakeTransport()
	a := NewAdapter("alice", ft)

	_, err := a.Call(func(jobID uint64) protocol.Frame {
		return protocol.BuildHeartbeat(jobID)
	}, time.Second)
	require.ErrorIs(t, err, ErrNotConnected)
}

func TestSendWhileDisconnectedIsNoOp(t *testing.T) {
	ft := newFakeTransport()
	a := NewAdapter("alice", ft)

	require.NoError(t, a.Send(protocol.BuildReqNotifications()))
	ft.mu.Lock()
	defer ft.mu.Unlock()
	assert.Empty(t, ft.written)
}

func TestDisconnectFailsOutstandingCalls(t *testing.T) {
	ft := newFakeTransport()
	a := NewAdapter("alice", ft)
	require.NoError(t, a.Connect())

	errCh := make(chan error, 1)
	go func() {
		_, err := a.Call(func(jobID uint64) protocol.Frame {
			return protocol.BuildHeartbeat(jobID)
		}, 5*time.Second)
		errCh <- err
	}()

	// Let the call register before tearing down
	time.Sleep(50 * time.Millisecond)
	a.Disconnect()

	require.ErrorIs(t, <-errCh, ErrNotConnected)

	ev := waitEvent(t, a, events.EventDisconnected)
	payload, ok := ev.Payload.(events.DisconnectedPayload)
	require.True(t, ok)
	assert.True(t, payload.Requested)
	assert.False(t, a.IsConnected())
}

func TestUncorrelatedFrameReachesEventChannel(t *testing.T) {
	ft := newFakeTransport()
	a := NewAdapter("alice", ft)
	require.NoError(t, a.Connect())

	b := protocol.NewFrameBuilder()
	b.WriteByte(1)   // one pair
	b.WriteUint32(9) // chat messages category
	b.WriteUint32(3)
	ft.inbound <- protocol.Frame{Tag: protocol.MsgNotifications, Payload: b.Build()}

	ev := waitEvent(t, a, events.EventNotifications)
	payload, ok := ev.Payload.(events.NotificationsPayload)
	require.True(t, ok)
	assert.Equal(t, uint32(3), payload.Counts[events.NotificationChat])
}
