package slskpeer

import (
	"context"
	"errors"
	"time"

	"github.com/opd-ai/slskpeer/file"
	"github.com/opd-ai/slskpeer/limits"
	"github.com/opd-ai/slskpeer/transport"
	"github.com/sirupsen/logrus"
)

// ErrNoLogin indicates Options.Login was left empty.
var ErrNoLogin = errors.New("login is required")

// Options contains the settings for a Peer.
type Options struct {
	// Login is the local username sent in PeerInit on direct connections.
	Login string

	// Registry resolves transfer tokens. When nil, a MemoryRegistry is
	// created and exposed through Peer.Registry.
	Registry file.Registry

	DialTimeout   time.Duration
	AckDelay      time.Duration
	DrainTimeout  time.Duration
	ReadChunkSize int

	// Proxy routes peer connections through a SOCKS5 or HTTP CONNECT proxy.
	// It is ignored when Dialer is set.
	Proxy *transport.ProxyConfig

	// Dialer and TimeProvider override the network and clock; nil keeps the defaults.
	Dialer       transport.Dialer
	TimeProvider file.TimeProvider
}

// NewOptions creates a new default Options.
func NewOptions() *Options {
	return &Options{
		DialTimeout:   transport.DefaultDialTimeout,
		AckDelay:      file.DefaultAckDelay,
		DrainTimeout:  file.DefaultDrainTimeout,
		ReadChunkSize: limits.DefaultReadChunkSize,
	}
}

// config maps the options onto the transfer configuration.
func (o *Options) config() file.Config {
	return file.Config{
		DialTimeout:   o.DialTimeout,
		AckDelay:      o.AckDelay,
		DrainTimeout:  o.DrainTimeout,
		ReadChunkSize: o.ReadChunkSize,
	}
}

// Peer is the downloading side of a peer file network client.
type Peer struct {
	options  *Options
	registry file.Registry
	manager  *file.Manager
}

// New creates a Peer with the given options.
func New(options *Options) (*Peer, error) {
	if options == nil {
		options = NewOptions()
	}
	if options.Login == "" {
		return nil, ErrNoLogin
	}

	registry := options.Registry
	if registry == nil {
		registry = file.NewMemoryRegistry()
	}

	manager, err := file.NewManager(options.Login, registry, options.config())
	if err != nil {
		return nil, err
	}
	switch {
	case options.Dialer != nil:
		manager.SetDialer(options.Dialer)
	case options.Proxy != nil:
		dialer, err := transport.NewProxyDialer(options.Proxy, options.DialTimeout)
		if err != nil {
			return nil, err
		}
		manager.SetDialer(dialer)
	}
	if options.TimeProvider != nil {
		manager.SetTimeProvider(options.TimeProvider)
	}

	logrus.WithFields(logrus.Fields{
		"function": "New",
		"login":    options.Login,
	}).Info("Peer created")

	return &Peer{
		options:  options,
		registry: registry,
		manager:  manager,
	}, nil
}

// Login returns the local username.
func (p *Peer) Login() string {
	return p.options.Login
}

// Registry returns the registry transfers resolve tokens through.
func (p *Peer) Registry() file.Registry {
	return p.registry
}

// Manager returns the underlying download manager.
func (p *Peer) Manager() *file.Manager {
	return p.manager
}

// DownloadPeerFile opens a file connection to host:port and downloads the
// file negotiated under token from user. With noPierce the connection is
// opened directly with PeerInit; otherwise it answers an indirect request with
// PierceFirewall. It returns without waiting; the result arrives through the
// Callback of the matching DownloadState.
func (p *Peer) DownloadPeerFile(host string, port int, token transport.Token, user string, noPierce bool) *file.Transfer {
	return p.manager.DownloadPeerFile(host, port, token, user, noPierce)
}

// Wait blocks until all started downloads have finished or ctx is done.
func (p *Peer) Wait(ctx context.Context) error {
	return p.manager.Wait(ctx)
}
