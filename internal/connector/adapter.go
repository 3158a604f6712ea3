package connector

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/shepherd-project/shepherd/internal/events"
	"github.com/shepherd-project/shepherd/internal/protocol"
	"github.com/shepherd-project/shepherd/internal/util"
)

var (
	// ErrNotConnected is returned by correlated calls attempted without a
	// live connection. Fire-and-forget sends silently no-op instead.
	ErrNotConnected = errors.New("not connected")

	// ErrJobTimeout is returned when a correlated call's reply did not
	// arrive within its deadline.
	ErrJobTimeout = errors.New("request timed out")
)

// eventBufferSize bounds the per-session event channel. The session event
// loop drains it continuously; a full buffer means the loop is wedged and
// dropping is safer than blocking the read pump.
const eventBufferSize = 64

// Adapter sits between a Transport and a session. It runs the read pump,
// parses frames into typed events, resolves correlated replies against the
// pending-job table, and posts everything else to the session's event channel.
type Adapter struct {
	transport Transport
	parser    *protocol.Parser
	logger    zerolog.Logger

	eventCh chan *events.Event

	mu        sync.Mutex
	pending   map[uint64]chan *events.Event
	connected bool

	nextJobID uint64
	requested atomic.Bool
}

// NewAdapter wires an adapter for one account over the given transport.
func NewAdapter(account string, transport Transport) *Adapter {
	return &Adapter{
		transport: transport,
		parser:    protocol.NewParser(account),
		logger:    util.SessionLogger("adapter", account),
		eventCh:   make(chan *events.Event, eventBufferSize),
		pending:   make(map[uint64]chan *events.Event),
	}
}

// Events is the session's inbound event channel. Connected, Disconnected,
// and all uncorrelated protocol events arrive here.
func (a *Adapter) Events() <-chan *events.Event {
	return a.eventCh
}

// IsConnected reports whether the read pump is live.
func (a *Adapter) IsConnected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connected
}

// Connect dials the transport and starts the read pump. An EventConnected
// is posted once the link is up.
func (a *Adapter) Connect() error {
	a.mu.Lock()
	if a.connected {
		a.mu.Unlock()
		return nil
	}
	a.mu.Unlock()

	if err := a.transport.Dial(); err != nil {
		return err
	}

	a.mu.Lock()
	a.connected = true
	a.mu.Unlock()
	a.requested.Store(false)

	go a.readPump()

	a.post(&events.Event{Type: events.EventConnected})
	return nil
}

// Disconnect closes the transport. The read pump observes the closed
// connection and performs the teardown, tagging the resulting
// Disconnected event as operator-requested.
func (a *Adapter) Disconnect() {
	a.requested.Store(true)
	a.transport.Close()
}

// Send transmits a frame without expecting a reply. Sending while
// disconnected is a no-op.
func (a *Adapter) Send(f protocol.Frame) error {
	a.mu.Lock()
	connected := a.connected
	a.mu.Unlock()
	if !connected {
		a.logger.Debug().Uint16("tag", f.Tag).Msg("dropping send while disconnected")
		return nil
	}
	return a.transport.WriteFrame(f)
}

// Call sends a correlated request and waits for its reply. The build
// function receives the allocated correlation ID and must embed it in the
// outgoing frame. The pending slot is removed on every exit path.
func (a *Adapter) Call(build func(jobID uint64) protocol.Frame, timeout time.Duration) (*events.Event, error) {
	a.mu.Lock()
	if !a.connected {
		a.mu.Unlock()
		return nil, ErrNotConnected
	}
	a.nextJobID++
	jobID := a.nextJobID
	resultCh := make(chan *events.Event, 1)
	a.pending[jobID] = resultCh
	a.mu.Unlock()

	if err := a.transport.WriteFrame(build(jobID)); err != nil {
		a.dropPending(jobID)
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ev, ok := <-resultCh:
		if !ok {
			return nil, ErrNotConnected
		}
		return ev, nil
	case <-timer.C:
		a.dropPending(jobID)
		return nil, ErrJobTimeout
	}
}

func (a *Adapter) dropPending(jobID uint64) {
	a.mu.Lock()
	delete(a.pending, jobID)
	a.mu.Unlock()
}

// readPump reads frames until the connection dies, routing correlated
// replies to their pending slots and everything else to the event channel.
func (a *Adapter) readPump() {
	for {
		frame, err := a.transport.ReadFrame()
		if err != nil {
			a.teardown(err)
			return
		}

		ev, err := a.parser.Parse(frame)
		if err != nil {
			a.logger.Warn().Err(err).Uint16("tag", frame.Tag).Msg("failed to parse frame")
			continue
		}
		if ev == nil {
			continue
		}

		if ev.JobID != 0 {
			a.mu.Lock()
			resultCh, found := a.pending[ev.JobID]
			if found {
				delete(a.pending, ev.JobID)
			}
			a.mu.Unlock()
			if found {
				resultCh <- ev
				continue
			}
			// Late reply after timeout; fall through to the event channel
			// so the session can still observe it.
		}

		a.post(ev)
	}
}

// teardown marks the adapter disconnected, fails all outstanding correlated
// calls, and posts the Disconnected event.
func (a *Adapter) teardown(cause error) {
	a.mu.Lock()
	a.connected = false
	for jobID, resultCh := range a.pending {
		close(resultCh)
		delete(a.pending, jobID)
	}
	a.mu.Unlock()

	a.transport.Close()

	requested := a.requested.Load()
	if !requested {
		a.logger.Warn().Err(cause).Msg("connection lost")
	}
	a.post(&events.Event{
		Type:    events.EventDisconnected,
		Payload: events.DisconnectedPayload{Requested: requested},
	})
}

// post delivers an event to the session channel without ever blocking the
// read pump. Overflow is logged and dropped.
func (a *Adapter) post(ev *events.Event) {
	select {
	case a.eventCh <- ev:
	default:
		a.logger.Error().Str("type", string(ev.Type)).Msg("event channel full, dropping event")
	}
}
