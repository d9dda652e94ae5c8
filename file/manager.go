package file

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/opd-ai/slskpeer/limits"
	"github.com/opd-ai/slskpeer/transport"
	"github.com/sirupsen/logrus"
)

// Manager launches peer file downloads and tracks the ones in flight.
type Manager struct {
	login        string
	cfg          Config
	registry     Registry
	dialer       transport.Dialer
	factory      transport.MessageFactory
	timeProvider TimeProvider
	transfers    map[string]*Transfer
	wg           sync.WaitGroup
	mu           sync.RWMutex
}

// NewManager creates a download manager that identifies itself as login on
// direct connections and resolves tokens through registry.
func NewManager(login string, registry Registry, cfg Config) (*Manager, error) {
	logrus.WithFields(logrus.Fields{
		"function": "NewManager",
		"login":    login,
	}).Info("Creating new file download manager")

	if err := limits.ValidateUsername(login); err != nil {
		return nil, fmt.Errorf("invalid login: %w", err)
	}
	if registry == nil {
		return nil, ErrNilRegistry
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	m := &Manager{
		login:        login,
		cfg:          cfg,
		registry:     registry,
		dialer:       transport.NewTCPDialer(cfg.DialTimeout),
		factory:      transport.DefaultMessageFactory{},
		timeProvider: defaultTimeProvider,
		transfers:    make(map[string]*Transfer),
	}

	logrus.WithFields(logrus.Fields{
		"function":     "NewManager",
		"dial_timeout": cfg.DialTimeout,
		"ack_delay":    cfg.AckDelay,
	}).Info("File download manager created")

	return m, nil
}

// SetDialer replaces the dialer used for new transfers.
func (m *Manager) SetDialer(d transport.Dialer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d == nil {
		d = transport.NewTCPDialer(m.cfg.DialTimeout)
	}
	m.dialer = d
}

// SetMessageFactory replaces the message factory used for new transfers.
func (m *Manager) SetMessageFactory(f transport.MessageFactory) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f == nil {
		f = transport.DefaultMessageFactory{}
	}
	m.factory = f
}

// SetTimeProvider sets a custom time provider for deterministic testing.
func (m *Manager) SetTimeProvider(tp TimeProvider) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timeProvider = getTimeProvider(tp)
}

// DownloadPeerFile connects to a peer and downloads the file negotiated under
// token. It returns immediately; the outcome is delivered through the
// Callback of the DownloadState the resolved token maps to. The returned
// Transfer can be used to observe progress or wait for completion.
func (m *Manager) DownloadPeerFile(host string, port int, token transport.Token, user string, noPierce bool) *Transfer {
	return m.Start(Request{
		Host:  host,
		Port:  port,
		Token: token,
		User:  user,
		Mode:  ModeFromNoPierce(noPierce),
	})
}

// Start launches a transfer for req.
func (m *Manager) Start(req Request) *Transfer {
	logrus.WithFields(logrus.Fields{
		"function": "Start",
		"user":     req.User,
		"host":     req.Host,
		"port":     req.Port,
		"mode":     req.Mode.String(),
	}).Info("Starting peer file download")

	m.mu.Lock()
	t := newTransfer(req, environment{
		login:        m.login,
		cfg:          m.cfg,
		registry:     m.registry,
		dialer:       m.dialer,
		factory:      m.factory,
		timeProvider: m.timeProvider,
	})
	m.transfers[t.id] = t
	m.wg.Add(1)
	m.mu.Unlock()

	if req.Port <= 0 || req.Port > 65535 {
		// Surfaces as a dial failure like any other unreachable address.
		t.env.dialer = &failingDialer{err: fmt.Errorf("%w: %d", ErrInvalidPort, req.Port)}
	}

	m.runDetached(context.Background(), t)
	return t
}

// runDetached runs t on its own goroutine and forgets it when done.
func (m *Manager) runDetached(ctx context.Context, t *Transfer) {
	go func() {
		defer m.wg.Done()
		defer m.remove(t.id)
		t.run(ctx)
	}()
}

// remove forgets a finished transfer.
func (m *Manager) remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.transfers, id)
}

// GetTransfer retrieves an in-flight transfer by id.
func (m *Manager) GetTransfer(id string) (*Transfer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, exists := m.transfers[id]
	if !exists {
		return nil, fmt.Errorf("transfer not found: %s", id)
	}
	return t, nil
}

// ActiveTransfers returns the transfers that have not finished yet.
func (m *Manager) ActiveTransfers() []*Transfer {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Transfer, 0, len(m.transfers))
	for _, t := range m.transfers {
		out = append(out, t)
	}
	return out
}

// Wait blocks until every transfer started so far has finished or ctx is done.
func (m *Manager) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// failingDialer rejects every dial with a fixed error.
type failingDialer struct {
	err error
}

func (d *failingDialer) DialContext(context.Context, string, string) (net.Conn, error) {
	return nil, d.err
}
