package file

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/opd-ai/slskpeer/limits"
	"github.com/opd-ai/slskpeer/transport"
	"github.com/sirupsen/logrus"
)

// progressLogInterval is how many payload chunks pass between progress logs.
const progressLogInterval = 10

// Mode selects which side speaks first on a file connection.
type Mode uint8

const (
	// ModePierce answers an indirect connection request: send PierceFirewall
	// and expect the token back as the first 4 inbound bytes.
	ModePierce Mode = iota
	// ModeNoPierce opens a direct connection: send PeerInit, then the zero
	// acknowledgment after AckDelay.
	ModeNoPierce
)

// ModeFromNoPierce maps the noPierce flag used by callers to a Mode.
func ModeFromNoPierce(noPierce bool) Mode {
	if noPierce {
		return ModeNoPierce
	}
	return ModePierce
}

// String returns a readable name for the mode.
func (m Mode) String() string {
	switch m {
	case ModePierce:
		return "pierce"
	case ModeNoPierce:
		return "no-pierce"
	default:
		return fmt.Sprintf("Mode(%d)", uint8(m))
	}
}

// TransferState represents the current state of a file transfer.
type TransferState uint8

const (
	// StateConnecting indicates the TCP connection is being opened.
	StateConnecting TransferState = iota
	// StateAwaitingToken indicates a pierce-mode transfer waiting for the token prefix.
	StateAwaitingToken
	// StateStreaming indicates the token is settled and payload is flowing.
	StateStreaming
	// StateClosed indicates the connection ended without a socket error.
	StateClosed
	// StateFailed indicates the connection ended with a socket error.
	StateFailed
)

// String returns a readable name for the state.
func (s TransferState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAwaitingToken:
		return "awaiting-token"
	case StateStreaming:
		return "streaming"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("TransferState(%d)", uint8(s))
	}
}

// Request identifies one file connection to open.
type Request struct {
	Host  string
	Port  int
	Token transport.Token
	User  string
	Mode  Mode
}

// environment is the set of collaborators a transfer runs with.
type environment struct {
	login        string
	cfg          Config
	registry     Registry
	dialer       transport.Dialer
	factory      transport.MessageFactory
	timeProvider TimeProvider
}

// Transfer is one download over one peer file connection.
type Transfer struct {
	id   string
	req  Request
	addr string
	env  environment
	log  *logrus.Entry

	// Written only by the reader goroutine.
	lookedUp bool

	mu            sync.Mutex
	state         TransferState
	conn          net.Conn
	ackTimer      Timer
	tokenBuf      []byte
	tokenResolved bool
	resolvedToken transport.Token
	tok           *TokenInfo
	down          *DownloadState
	sink          io.WriteCloser
	buf           []byte
	chunks        int
	ending        bool
	delivered     bool
	err           error
	startTime     time.Time

	writeMu sync.Mutex
	done    chan struct{}
}

// newTransfer creates a transfer in the connecting state.
func newTransfer(req Request, env environment) *Transfer {
	id := uuid.NewString()
	addr := transport.JoinHostPort(req.Host, req.Port)

	return &Transfer{
		id:        id,
		req:       req,
		addr:      addr,
		env:       env,
		state:     StateConnecting,
		startTime: env.timeProvider.Now(),
		done:      make(chan struct{}),
		log: logrus.WithFields(logrus.Fields{
			"transfer_id": id,
			"user":        req.User,
			"addr":        addr,
			"mode":        req.Mode.String(),
			"token":       req.Token.String(),
		}),
	}
}

// ID returns the unique identifier assigned to this transfer.
func (t *Transfer) ID() string { return t.id }

// Request returns the parameters the transfer was started with.
func (t *Transfer) Request() Request { return t.req }

// State returns the current state.
func (t *Transfer) State() TransferState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// ResolvedToken returns the token used for the registry lookup and whether it
// is known yet. In no-pierce mode it is the requested token; in pierce mode it
// is the 4-byte prefix sent by the peer.
func (t *Transfer) ResolvedToken() (transport.Token, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.resolvedToken, t.tokenResolved
}

// Received returns the number of payload bytes accumulated so far.
func (t *Transfer) Received() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.buf)
}

// Err returns the outcome once Done is closed: nil on success, a
// *TransferError on a socket failure, or ErrUnknownToken.
func (t *Transfer) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Done is closed when the transfer has finished and any callback has returned.
func (t *Transfer) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the transfer finishes or ctx is done.
func (t *Transfer) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run drives the transfer from connect to completion. It returns once the
// connection is gone and the outcome has been delivered.
func (t *Transfer) run(ctx context.Context) {
	defer t.finish()

	t.log.WithField("function", "run").Info("Opening peer file connection")

	conn, err := t.env.dialer.DialContext(ctx, "tcp", t.addr)
	if err != nil {
		t.fail("dial", err)
		return
	}

	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()

	if err := t.openHandshake(conn); err != nil {
		t.fail("handshake", err)
		return
	}

	t.readLoop(conn)
}

// openHandshake writes the first message for the mode and moves the state
// machine out of StateConnecting.
func (t *Transfer) openHandshake(conn net.Conn) error {
	switch t.req.Mode {
	case ModeNoPierce:
		msg, err := t.env.factory.PeerInit(t.env.login, transport.ConnTypeFile, t.req.Token)
		if err != nil {
			return err
		}
		if err := t.write(conn, msg.Bytes()); err != nil {
			return err
		}

		t.mu.Lock()
		t.resolvedToken = t.req.Token
		t.tokenResolved = true
		t.state = StateStreaming
		t.mu.Unlock()

		timer := t.env.timeProvider.AfterFunc(t.env.cfg.AckDelay, t.sendDelayedAck)
		t.mu.Lock()
		t.ackTimer = timer
		t.mu.Unlock()

		t.log.WithFields(logrus.Fields{
			"function":  "openHandshake",
			"ack_delay": t.env.cfg.AckDelay,
		}).Debug("PeerInit sent, handshake ack scheduled")

	default:
		msg := t.env.factory.PierceFirewall(t.req.Token)
		if err := t.write(conn, msg.Bytes()); err != nil {
			return err
		}

		t.mu.Lock()
		t.state = StateAwaitingToken
		t.mu.Unlock()

		t.log.WithField("function", "openHandshake").Debug("PierceFirewall sent, awaiting token")
	}
	return nil
}

// sendDelayedAck writes the zero acknowledgment unless the connection has
// already been torn down or is ending.
func (t *Transfer) sendDelayedAck() {
	t.mu.Lock()
	conn := t.conn
	skip := conn == nil || t.ending || t.state == StateClosed || t.state == StateFailed
	t.mu.Unlock()

	if skip {
		t.log.WithField("function", "sendDelayedAck").Debug("Connection already closed, skipping handshake ack")
		return
	}

	t.log.WithField("function", "sendDelayedAck").Debug("Sending handshake ack")
	if err := t.write(conn, transport.NewHandshakeAck()); err != nil {
		t.fail("ack", err)
	}
}

// write serializes writes from the reader goroutine and the ack timer.
func (t *Transfer) write(conn net.Conn, data []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	_, err := conn.Write(data)
	return err
}

// readLoop processes inbound chunks in arrival order until the connection ends.
func (t *Transfer) readLoop(conn net.Conn) {
	chunk := make([]byte, t.env.cfg.ReadChunkSize)
	for {
		n, err := conn.Read(chunk)
		if n > 0 {
			if herr := t.handleChunk(conn, chunk[:n]); herr != nil {
				t.fail("ack", herr)
				return
			}
		}
		if err != nil {
			if t.isOrderlyClose(err) {
				t.log.WithField("function", "readLoop").Debug("Peer file connection closed")
				return
			}
			t.fail("read", err)
			return
		}
	}
}

// isOrderlyClose reports whether a read error ends the transfer normally:
// EOF from the peer, or the drain deadline / local close after we ended it.
func (t *Transfer) isOrderlyClose(err error) bool {
	if errors.Is(err, io.EOF) {
		return true
	}

	t.mu.Lock()
	ending := t.ending
	t.mu.Unlock()
	if !ending {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, net.ErrClosed)
}

// handleChunk runs one inbound chunk through the state machine.
func (t *Transfer) handleChunk(conn net.Conn, data []byte) error {
	if t.State() == StateAwaitingToken {
		rest, resolved := t.consumeToken(data)
		if !resolved {
			return nil
		}
		if err := t.write(conn, transport.NewHandshakeAck()); err != nil {
			return err
		}
		data = rest
	}

	t.resolveRecord()

	if len(data) > 0 {
		t.appendPayload(data)
	}

	t.checkExpectedSize(conn)
	return nil
}

// consumeToken collects the 4-byte token prefix in pierce mode. It returns the
// bytes following the token and true once the token is complete.
func (t *Transfer) consumeToken(data []byte) ([]byte, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	need := limits.TokenSize - len(t.tokenBuf)
	if len(data) < need {
		t.tokenBuf = append(t.tokenBuf, data...)
		return nil, false
	}

	t.tokenBuf = append(t.tokenBuf, data[:need]...)
	copy(t.resolvedToken[:], t.tokenBuf)
	t.tokenResolved = true
	t.state = StateStreaming

	t.log.WithFields(logrus.Fields{
		"function":       "consumeToken",
		"resolved_token": t.resolvedToken.String(),
	}).Info("Token received from peer")

	return data[need:], true
}

// resolveRecord looks up the registry entry for the resolved token. It runs
// once, on the first chunk handled after the token is known.
func (t *Transfer) resolveRecord() {
	if t.lookedUp {
		return
	}
	t.lookedUp = true

	token, _ := t.ResolvedToken()
	key := token.String()

	info, ok := t.env.registry.LookupToken(key)
	if !ok || info == nil {
		t.log.WithFields(logrus.Fields{
			"function":       "resolveRecord",
			"resolved_token": key,
		}).Warn("Download token not found in registry")
		return
	}

	downKey := DownloadKey(info.User, info.File)
	down, ok := t.env.registry.LookupDownload(downKey)
	if !ok || down == nil {
		t.log.WithFields(logrus.Fields{
			"function":     "resolveRecord",
			"download_key": downKey,
		}).Warn("Download state not found in registry")
		return
	}

	t.mu.Lock()
	t.tok = info
	t.down = down
	t.sink = down.Stream
	grown := make([]byte, len(t.buf), max(len(t.buf), limits.PreallocationFor(info.Size)))
	copy(grown, t.buf)
	t.buf = grown
	t.mu.Unlock()

	t.log.WithFields(logrus.Fields{
		"function":  "resolveRecord",
		"file":      info.File,
		"file_size": info.Size,
		"streaming": down.Stream != nil,
	}).Info("Download record resolved")
}

// appendPayload buffers a chunk and forwards it to the live sink.
func (t *Transfer) appendPayload(data []byte) {
	t.mu.Lock()
	t.buf = append(t.buf, data...)
	t.chunks++
	sink := t.sink
	chunks := t.chunks
	received := len(t.buf)
	tok := t.tok
	t.mu.Unlock()

	if sink != nil {
		if _, err := sink.Write(data); err != nil {
			t.log.WithFields(logrus.Fields{
				"function": "appendPayload",
				"error":    err.Error(),
			}).Warn("Live stream rejected chunk, detaching it")
			t.mu.Lock()
			t.sink = nil
			t.mu.Unlock()
		}
	}

	if tok != nil && (chunks-1)%progressLogInterval == 0 {
		t.log.WithFields(logrus.Fields{
			"function": "appendPayload",
			"received": received,
			"size":     tok.Size,
		}).Debug("File data")
	}
}

// checkExpectedSize ends the connection once the expected size has arrived.
// The peer may keep sending otherwise.
func (t *Transfer) checkExpectedSize(conn net.Conn) {
	t.mu.Lock()
	if t.tok == nil || t.ending || uint64(len(t.buf)) < t.tok.Size {
		t.mu.Unlock()
		return
	}
	t.ending = true
	received, size := len(t.buf), t.tok.Size
	t.mu.Unlock()

	t.log.WithFields(logrus.Fields{
		"function": "checkExpectedSize",
		"received": received,
		"size":     size,
	}).Info("Expected size reached, ending connection")

	t.endGracefully(conn)
}

// endGracefully half-closes conn and keeps reading for at most DrainTimeout.
// Connections that cannot half-close are closed outright.
func (t *Transfer) endGracefully(conn net.Conn) {
	ok, err := transport.HalfClose(conn)
	if !ok || err != nil {
		if err != nil {
			t.log.WithFields(logrus.Fields{
				"function": "endGracefully",
				"error":    err.Error(),
			}).Debug("Half-close failed, closing connection")
		}
		conn.Close()
		return
	}

	if d := t.env.cfg.DrainTimeout; d > 0 {
		if err := conn.SetReadDeadline(time.Now().Add(d)); err != nil {
			conn.Close()
		}
	}
}

// fail tears the connection down after a socket error and, if the registry
// entry is known, reports the error through its callback. Errors after the
// transfer has already ended are ignored.
func (t *Transfer) fail(op string, cause error) {
	t.mu.Lock()
	if t.state == StateClosed || t.state == StateFailed {
		t.mu.Unlock()
		t.log.WithFields(logrus.Fields{
			"function": "fail",
			"op":       op,
			"error":    cause.Error(),
		}).Debug("Ignoring error after teardown")
		return
	}

	terr := newTransferError(op, t.addr, t.req.User, cause)
	t.state = StateFailed
	t.err = terr
	conn := t.conn
	down := t.down
	sink := t.sink
	deliver := down != nil && !t.delivered
	if deliver {
		t.delivered = true
	}
	t.mu.Unlock()

	t.log.WithFields(logrus.Fields{
		"function": "fail",
		"op":       op,
		"error":    cause.Error(),
	}).Error("File connection error, destroying")

	if conn != nil {
		conn.Close()
	}
	t.stopAckTimer()

	if deliver {
		abortSink(sink, terr)
		if down.Callback != nil {
			down.Callback(nil, terr)
		}
	}
}

// finish is the close path. It delivers the buffer if the registry entry was
// resolved and no outcome has been delivered yet.
func (t *Transfer) finish() {
	defer close(t.done)
	t.stopAckTimer()

	t.mu.Lock()
	if t.state != StateFailed {
		t.state = StateClosed
	}
	conn := t.conn
	down := t.down
	sink := t.sink
	buf := t.buf
	deliver := down != nil && !t.delivered
	if deliver {
		t.delivered = true
	}
	if down == nil && t.err == nil {
		t.err = ErrUnknownToken
	}
	err := t.err
	t.mu.Unlock()

	if conn != nil {
		conn.Close()
	}

	elapsed := t.env.timeProvider.Since(t.startTime)

	switch {
	case down == nil:
		token, _ := t.ResolvedToken()
		t.log.WithFields(logrus.Fields{
			"function":       "finish",
			"resolved_token": token.String(),
			"buffer_size":    len(buf),
			"elapsed":        elapsed,
		}).Error("Download token does not exist, transfer result discarded")

	case !deliver:
		// Already reported by fail.

	case err != nil:
		abortSink(sink, err)
		if down.Callback != nil {
			down.Callback(nil, err)
		}

	default:
		if sink != nil {
			if cerr := sink.Close(); cerr != nil {
				t.log.WithFields(logrus.Fields{
					"function": "finish",
					"error":    cerr.Error(),
				}).Warn("Failed to close live stream")
			}
		}
		down.Buffer = buf

		t.log.WithFields(logrus.Fields{
			"function":    "finish",
			"buffer_size": len(buf),
			"elapsed":     elapsed,
		}).Info("File download complete")

		if down.Callback != nil {
			down.Callback(down, nil)
		}
	}
}

// stopAckTimer cancels a pending handshake ack.
func (t *Transfer) stopAckTimer() {
	t.mu.Lock()
	timer := t.ackTimer
	t.mu.Unlock()
	if timer != nil {
		timer.Stop()
	}
}

// abortSink ends a live stream after a failure, passing the error on when
// the sink supports it (as *io.PipeWriter does).
func abortSink(sink io.WriteCloser, err error) {
	if sink == nil {
		return
	}
	if cwe, ok := sink.(interface{ CloseWithError(error) error }); ok {
		cwe.CloseWithError(err)
		return
	}
	sink.Close()
}
