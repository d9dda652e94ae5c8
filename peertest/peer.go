// Package peertest provides an in-process uploading peer for exercising
// downloads over real loopback TCP connections.
package peertest

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/opd-ai/slskpeer/limits"
	"github.com/opd-ai/slskpeer/transport"
	"github.com/sirupsen/logrus"
)

// DefaultLingerTimeout bounds how long the peer waits for the downloader to
// close its side after the payload has been sent.
const DefaultLingerTimeout = 10 * time.Second

// Config describes how the fake peer behaves on its single connection.
type Config struct {
	// Pierce expects a PierceFirewall message and answers with Token as the
	// first 4 bytes. Otherwise a PeerInit message is expected.
	Pierce bool
	Token  transport.Token

	// Payload is the file content to send.
	Payload []byte

	// TokenWithPayload is how many payload bytes travel in the same write as
	// the token in pierce mode.
	TokenWithPayload int

	// ChunkSize splits the payload into writes of this size; 0 sends it at once.
	ChunkSize int

	// WaitForAck reads the 8-byte handshake ack before sending payload in
	// no-pierce mode. Pierce mode always waits for it.
	WaitForAck bool

	// Extra is written after the payload, past the expected size.
	Extra []byte

	// CloseAfterSend closes the connection right after sending instead of
	// waiting for the downloader to end it.
	CloseAfterSend bool

	// ResetAfterSend aborts the connection with a TCP reset after sending.
	ResetAfterSend bool

	// LingerTimeout overrides DefaultLingerTimeout.
	LingerTimeout time.Duration
}

// Peer is a fake uploader accepting exactly one connection.
type Peer struct {
	cfg      Config
	listener net.Listener

	mu       sync.Mutex
	init     *transport.Message
	ack      []byte
	trailing []byte
	sawEOF   bool
	err      error

	done chan struct{}
}

// NewPeer starts a peer listening on an ephemeral loopback port.
func NewPeer(cfg Config) (*Peer, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("failed to listen: %w", err)
	}
	if cfg.LingerTimeout <= 0 {
		cfg.LingerTimeout = DefaultLingerTimeout
	}

	p := &Peer{
		cfg:      cfg,
		listener: listener,
		done:     make(chan struct{}),
	}

	logrus.WithFields(logrus.Fields{
		"function":     "NewPeer",
		"addr":         listener.Addr().String(),
		"pierce":       cfg.Pierce,
		"payload_size": len(cfg.Payload),
	}).Debug("Fake peer listening")

	go p.acceptOne()
	return p, nil
}

// Host returns the listening host.
func (p *Peer) Host() string {
	return p.listener.Addr().(*net.TCPAddr).IP.String()
}

// Port returns the listening port.
func (p *Peer) Port() int {
	return p.listener.Addr().(*net.TCPAddr).Port
}

// Close stops listening.
func (p *Peer) Close() error {
	return p.listener.Close()
}

// Done is closed once the peer has finished with its connection.
func (p *Peer) Done() <-chan struct{} {
	return p.done
}

// InitMessage returns the peer-init message the downloader sent.
func (p *Peer) InitMessage() *transport.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.init
}

// Ack returns the handshake ack bytes read before the payload was sent.
func (p *Peer) Ack() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ack
}

// Trailing returns bytes the downloader sent after the payload.
func (p *Peer) Trailing() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.trailing
}

// SawEOF reports whether the downloader ended its side of the connection.
func (p *Peer) SawEOF() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sawEOF
}

// Err returns the first protocol error the peer hit.
func (p *Peer) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *Peer) acceptOne() {
	defer close(p.done)

	conn, err := p.listener.Accept()
	if err != nil {
		if !errors.Is(err, net.ErrClosed) {
			p.setErr(err)
		}
		return
	}
	defer conn.Close()

	if err := p.serve(conn); err != nil {
		p.setErr(err)
		logrus.WithFields(logrus.Fields{
			"function": "acceptOne",
			"error":    err.Error(),
		}).Debug("Fake peer stopped")
	}
}

func (p *Peer) serve(conn net.Conn) error {
	msg, err := transport.ReadMessage(conn)
	if err != nil {
		return fmt.Errorf("read init: %w", err)
	}
	p.mu.Lock()
	p.init = msg
	p.mu.Unlock()

	payload := p.cfg.Payload
	if p.cfg.Pierce {
		if _, err := transport.ParsePierceFirewall(msg); err != nil {
			return err
		}
		n := min(p.cfg.TokenWithPayload, len(payload))
		first := append(append([]byte{}, p.cfg.Token[:]...), payload[:n]...)
		if _, err := conn.Write(first); err != nil {
			return fmt.Errorf("write token: %w", err)
		}
		payload = payload[n:]
		if err := p.readAck(conn); err != nil {
			return err
		}
	} else {
		if _, err := transport.ParsePeerInit(msg); err != nil {
			return err
		}
		if p.cfg.WaitForAck {
			if err := p.readAck(conn); err != nil {
				return err
			}
		}
	}

	if err := p.sendChunks(conn, payload); err != nil {
		return err
	}
	if len(p.cfg.Extra) > 0 {
		if _, err := conn.Write(p.cfg.Extra); err != nil {
			return fmt.Errorf("write extra: %w", err)
		}
	}

	switch {
	case p.cfg.ResetAfterSend:
		if tcp, ok := conn.(*net.TCPConn); ok {
			tcp.SetLinger(0)
		}
		return nil
	case p.cfg.CloseAfterSend:
		return nil
	}

	return p.linger(conn)
}

func (p *Peer) readAck(conn net.Conn) error {
	ack := make([]byte, limits.HandshakeAckSize)
	if _, err := io.ReadFull(conn, ack); err != nil {
		return fmt.Errorf("read ack: %w", err)
	}
	p.mu.Lock()
	p.ack = ack
	p.mu.Unlock()
	return nil
}

func (p *Peer) sendChunks(conn net.Conn, payload []byte) error {
	size := p.cfg.ChunkSize
	if size <= 0 {
		size = len(payload)
	}
	for len(payload) > 0 {
		n := min(size, len(payload))
		if _, err := conn.Write(payload[:n]); err != nil {
			return fmt.Errorf("write payload: %w", err)
		}
		payload = payload[n:]
	}
	return nil
}

// linger drains whatever the downloader still sends until it ends its side.
func (p *Peer) linger(conn net.Conn) error {
	conn.SetReadDeadline(time.Now().Add(p.cfg.LingerTimeout))
	rest, err := io.ReadAll(conn)

	p.mu.Lock()
	p.trailing = rest
	p.sawEOF = err == nil
	p.mu.Unlock()

	if err != nil {
		return fmt.Errorf("linger: %w", err)
	}
	return nil
}

func (p *Peer) setErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err == nil {
		p.err = err
	}
}
