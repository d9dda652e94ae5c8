package transport

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultDialTimeout bounds how long a file connection attempt may take.
const DefaultDialTimeout = 10 * time.Second

// DefaultKeepAlive is the TCP keep-alive period for file connections.
const DefaultKeepAlive = 30 * time.Second

// Dialer opens stream connections. *net.Dialer and *TCPDialer satisfy it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// TCPDialer opens direct TCP connections to remote peers.
type TCPDialer struct {
	dialer *net.Dialer
}

// NewTCPDialer creates a dialer with the given connect timeout.
// A zero timeout selects DefaultDialTimeout.
func NewTCPDialer(timeout time.Duration) *TCPDialer {
	if timeout <= 0 {
		timeout = DefaultDialTimeout
	}
	return &TCPDialer{
		dialer: &net.Dialer{
			Timeout:   timeout,
			KeepAlive: DefaultKeepAlive,
		},
	}
}

// Timeout returns the configured connect timeout.
func (d *TCPDialer) Timeout() time.Duration {
	return d.dialer.Timeout
}

// DialContext connects to address on the named network.
func (d *TCPDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	logrus.WithFields(logrus.Fields{
		"function": "DialContext",
		"network":  network,
		"address":  address,
		"timeout":  d.dialer.Timeout,
	}).Debug("Dialing peer")

	conn, err := d.dialer.DialContext(ctx, network, address)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "DialContext",
			"address":  address,
			"error":    err.Error(),
		}).Debug("Dial failed")
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function":    "DialContext",
		"local_addr":  conn.LocalAddr().String(),
		"remote_addr": conn.RemoteAddr().String(),
	}).Debug("Peer connection established")

	return conn, nil
}

// JoinHostPort formats a host and numeric port as a dial address.
func JoinHostPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// halfCloser is implemented by *net.TCPConn and *net.UnixConn.
type halfCloser interface {
	CloseWrite() error
}

// HalfClose ends the write side of conn so the peer sees EOF while reads
// continue. It reports false when conn cannot half-close; the caller must
// then close the connection fully.
func HalfClose(conn net.Conn) (bool, error) {
	hc, ok := conn.(halfCloser)
	if !ok {
		return false, nil
	}
	return true, hc.CloseWrite()
}
