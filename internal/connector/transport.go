// Package connector manages the network link to the remote service: the
// raw TCP transport and the protocol adapter that turns frames into typed
// events and correlates request/reply pairs.
package connector

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/shepherd-project/shepherd/internal/protocol"
)

// Transport is a framed, connection-oriented link to the remote service.
// Implementations must be safe for one concurrent reader and any number of
// concurrent writers.
type Transport interface {
	Dial() error
	ReadFrame() (protocol.Frame, error)
	WriteFrame(protocol.Frame) error
	Close() error
}

// TCPTransport is the production Transport over a plain TCP connection.
type TCPTransport struct {
	addr    string
	timeout time.Duration

	mu   sync.Mutex
	conn net.Conn
}

// NewTCPTransport creates a transport targeting addr (host:port).
func NewTCPTransport(addr string, connectTimeout time.Duration) *TCPTransport {
	return &TCPTransport{
		addr:    addr,
		timeout: connectTimeout,
	}
}

// Dial establishes the TCP connection, replacing any previous one.
func (t *TCPTransport) Dial() error {
	dialer := net.Dialer{Timeout: t.timeout}
	conn, err := dialer.Dial("tcp", t.addr)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", t.addr, err)
	}

	t.mu.Lock()
	if t.conn != nil {
		t.conn.Close()
	}
	t.conn = conn
	t.mu.Unlock()
	return nil
}

// ReadFrame reads the next frame. It blocks until a frame arrives, the
// connection fails, or Close is called.
func (t *TCPTransport) ReadFrame() (protocol.Frame, error) {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return protocol.Frame{}, ErrNotConnected
	}
	return protocol.ReadFrame(conn)
}

// WriteFrame writes one frame to the connection.
func (t *TCPTransport) WriteFrame(f protocol.Frame) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return ErrNotConnected
	}
	return protocol.WriteFrame(t.conn, f)
}

// Close tears down the connection. A blocked ReadFrame returns with an error.
func (t *TCPTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	return err
}
