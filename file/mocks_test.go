package file

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"
)

// mockTimeProvider provides deterministic time and manually fired timers.
type mockTimeProvider struct {
	mu          sync.Mutex
	currentTime time.Time
	timers      []*mockTimer
}

type mockTimer struct {
	delay   time.Duration
	fn      func()
	stopped bool
	mu      sync.Mutex
}

func (m *mockTimer) Stop() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	wasActive := !m.stopped
	m.stopped = true
	return wasActive
}

func (m *mockTimer) isStopped() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopped
}

func newMockTimeProvider() *mockTimeProvider {
	return &mockTimeProvider{
		currentTime: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (m *mockTimeProvider) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentTime
}

func (m *mockTimeProvider) Since(t time.Time) time.Duration {
	return m.Now().Sub(t)
}

func (m *mockTimeProvider) AfterFunc(d time.Duration, f func()) Timer {
	m.mu.Lock()
	defer m.mu.Unlock()
	timer := &mockTimer{delay: d, fn: f}
	m.timers = append(m.timers, timer)
	return timer
}

func (m *mockTimeProvider) timerCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.timers)
}

func (m *mockTimeProvider) timer(i int) *mockTimer {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.timers[i]
}

// fire runs a timer's function regardless of Stop, like a timer that had
// already begun firing when it was stopped.
func (m *mockTimeProvider) fire(i int) {
	m.timer(i).fn()
}

// readStep is one result returned by scriptedConn.Read.
type readStep struct {
	data []byte
	err  error
}

func chunk(data []byte) readStep { return readStep{data: data} }

func eof() readStep { return readStep{err: io.EOF} }

func failure(err error) readStep { return readStep{err: err} }

// scriptedConn is a net.Conn whose reads follow a script. CloseWrite queues
// io.EOF behind any steps already queued, like a peer closing after it sees
// our FIN.
type scriptedConn struct {
	steps     chan readStep
	closed    chan struct{}
	closeOnce sync.Once

	mu         sync.Mutex
	writes     [][]byte
	writeErr   error
	halfClosed bool
}

func newScriptedConn(steps ...readStep) *scriptedConn {
	c := &scriptedConn{
		steps:  make(chan readStep, 64),
		closed: make(chan struct{}),
	}
	for _, s := range steps {
		c.steps <- s
	}
	return c
}

func (c *scriptedConn) push(s readStep) {
	c.steps <- s
}

func (c *scriptedConn) Read(b []byte) (int, error) {
	select {
	case <-c.closed:
		return 0, net.ErrClosed
	default:
	}

	select {
	case s := <-c.steps:
		if s.err != nil {
			return 0, s.err
		}
		return copy(b, s.data), nil
	case <-c.closed:
		return 0, net.ErrClosed
	}
}

func (c *scriptedConn) Write(b []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-c.closed:
		return 0, net.ErrClosed
	default:
	}
	if c.writeErr != nil {
		return 0, c.writeErr
	}
	c.writes = append(c.writes, append([]byte(nil), b...))
	return len(b), nil
}

func (c *scriptedConn) CloseWrite() error {
	c.mu.Lock()
	c.halfClosed = true
	c.mu.Unlock()
	c.steps <- eof()
	return nil
}

func (c *scriptedConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *scriptedConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *scriptedConn) setWriteErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeErr = err
}

func (c *scriptedConn) written() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.writes...)
}

func (c *scriptedConn) wasHalfClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.halfClosed
}

func (c *scriptedConn) LocalAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 50000}
}

func (c *scriptedConn) RemoteAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: testPort}
}

func (c *scriptedConn) SetDeadline(t time.Time) error      { return nil }
func (c *scriptedConn) SetReadDeadline(t time.Time) error  { return nil }
func (c *scriptedConn) SetWriteDeadline(t time.Time) error { return nil }

// mockDialer hands out a prepared connection or error.
type mockDialer struct {
	conn net.Conn
	err  error

	mu    sync.Mutex
	addrs []string
}

func (d *mockDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	d.mu.Lock()
	d.addrs = append(d.addrs, address)
	d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	return d.conn, nil
}

func (d *mockDialer) dialed() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.addrs...)
}

// recordingSink is a live stream that remembers every chunk.
type recordingSink struct {
	mu       sync.Mutex
	chunks   [][]byte
	closed   bool
	abortErr error
	writeErr error
}

func (s *recordingSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return 0, s.writeErr
	}
	s.chunks = append(s.chunks, append([]byte(nil), p...))
	return len(p), nil
}

func (s *recordingSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *recordingSink) CloseWithError(err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.abortErr = err
	return nil
}

func (s *recordingSink) joined() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []byte
	for _, c := range s.chunks {
		out = append(out, c...)
	}
	return out
}

func (s *recordingSink) chunkCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.chunks)
}

func (s *recordingSink) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// callbackRecorder counts completion callbacks.
type callbackRecorder struct {
	mu    sync.Mutex
	calls int
	down  *DownloadState
	err   error
}

func (r *callbackRecorder) callback(down *DownloadState, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	r.down = down
	r.err = err
}

func (r *callbackRecorder) result() (int, *DownloadState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls, r.down, r.err
}

var errConnReset = errors.New("read: connection reset by peer")
