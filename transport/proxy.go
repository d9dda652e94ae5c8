package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/proxy"
)

// Supported proxy types.
const (
	ProxyTypeSOCKS5 = "socks5"
	ProxyTypeHTTP   = "http"
)

// ErrUnsupportedProxy indicates a ProxyConfig with an unknown Type.
var ErrUnsupportedProxy = errors.New("unsupported proxy type")

// ProxyConfig contains configuration for proxied peer connections.
type ProxyConfig struct {
	Type     string // "socks5" or "http"
	Host     string
	Port     uint16
	Username string
	Password string
}

// Addr returns the proxy's dial address.
func (c *ProxyConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(int(c.Port)))
}

// ProxyDialer opens peer connections through a SOCKS5 or HTTP CONNECT proxy.
type ProxyDialer struct {
	proxyType string
	proxyAddr string
	forward   *net.Dialer
	socks     proxy.ContextDialer
	proxyURL  *url.URL
}

// NewProxyDialer creates a dialer for the given proxy. timeout bounds the
// connection to the proxy and the proxy handshake; zero selects
// DefaultDialTimeout.
func NewProxyDialer(config *ProxyConfig, timeout time.Duration) (*ProxyDialer, error) {
	if config == nil {
		return nil, fmt.Errorf("proxy config cannot be nil")
	}
	if timeout <= 0 {
		timeout = DefaultDialTimeout
	}

	d := &ProxyDialer{
		proxyType: config.Type,
		proxyAddr: config.Addr(),
		forward:   &net.Dialer{Timeout: timeout, KeepAlive: DefaultKeepAlive},
	}

	logrus.WithFields(logrus.Fields{
		"function":   "NewProxyDialer",
		"proxy_type": config.Type,
		"proxy_addr": d.proxyAddr,
	}).Info("Creating proxy dialer")

	switch config.Type {
	case ProxyTypeSOCKS5:
		var auth *proxy.Auth
		if config.Username != "" || config.Password != "" {
			auth = &proxy.Auth{
				User:     config.Username,
				Password: config.Password,
			}
		}

		dialer, err := proxy.SOCKS5("tcp", d.proxyAddr, auth, d.forward)
		if err != nil {
			return nil, fmt.Errorf("failed to create SOCKS5 dialer: %w", err)
		}
		cd, ok := dialer.(proxy.ContextDialer)
		if !ok {
			return nil, fmt.Errorf("SOCKS5 dialer does not support contexts")
		}
		d.socks = cd

	case ProxyTypeHTTP:
		var userInfo *url.Userinfo
		if config.Username != "" {
			if config.Password != "" {
				userInfo = url.UserPassword(config.Username, config.Password)
			} else {
				userInfo = url.User(config.Username)
			}
		}
		d.proxyURL = &url.URL{Scheme: "http", Host: d.proxyAddr, User: userInfo}

	default:
		return nil, fmt.Errorf("%w: %q (must be %q or %q)", ErrUnsupportedProxy, config.Type, ProxyTypeSOCKS5, ProxyTypeHTTP)
	}

	return d, nil
}

// DialContext connects to address via the proxy.
func (d *ProxyDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	logrus.WithFields(logrus.Fields{
		"function":   "ProxyDialer.DialContext",
		"address":    address,
		"proxy_type": d.proxyType,
		"proxy_addr": d.proxyAddr,
	}).Debug("Dialing via proxy")

	var (
		conn net.Conn
		err  error
	)
	if d.socks != nil {
		conn, err = d.socks.DialContext(ctx, network, address)
	} else {
		conn, err = d.dialConnect(ctx, network, address)
	}
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":   "ProxyDialer.DialContext",
			"address":    address,
			"proxy_type": d.proxyType,
			"error":      err.Error(),
		}).Error("Failed to dial via proxy")
		return nil, fmt.Errorf("proxy dial failed: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function":   "ProxyDialer.DialContext",
		"address":    address,
		"proxy_type": d.proxyType,
		"local_addr": conn.LocalAddr().String(),
	}).Debug("Proxy connection established")

	return conn, nil
}

// dialConnect opens a tunnel with an HTTP CONNECT request.
func (d *ProxyDialer) dialConnect(ctx context.Context, network, addr string) (net.Conn, error) {
	if network != "tcp" {
		return nil, fmt.Errorf("HTTP CONNECT proxy only supports TCP, got: %s", network)
	}

	proxyConn, err := d.forward.DialContext(ctx, "tcp", d.proxyURL.Host)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to proxy: %w", err)
	}

	connectReq := &http.Request{
		Method: http.MethodConnect,
		URL:    &url.URL{Opaque: addr},
		Host:   addr,
		Header: make(http.Header),
	}
	if d.proxyURL.User != nil {
		username := d.proxyURL.User.Username()
		password, _ := d.proxyURL.User.Password()
		connectReq.SetBasicAuth(username, password)
	}

	if deadline, ok := ctx.Deadline(); ok {
		proxyConn.SetDeadline(deadline)
	} else {
		proxyConn.SetDeadline(time.Now().Add(d.forward.Timeout))
	}

	if err := connectReq.Write(proxyConn); err != nil {
		proxyConn.Close()
		return nil, fmt.Errorf("failed to write CONNECT request: %w", err)
	}

	br := bufio.NewReader(proxyConn)
	resp, err := http.ReadResponse(br, connectReq)
	if err != nil {
		proxyConn.Close()
		return nil, fmt.Errorf("failed to read CONNECT response: %w", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		proxyConn.Close()
		return nil, fmt.Errorf("proxy returned non-200 status: %s", resp.Status)
	}

	proxyConn.SetDeadline(time.Time{})

	if br.Buffered() > 0 {
		return &bufferedConn{Conn: proxyConn, r: br}, nil
	}
	return proxyConn, nil
}

// bufferedConn replays bytes read past the CONNECT response.
type bufferedConn struct {
	net.Conn
	r *bufio.Reader
}

func (c *bufferedConn) Read(b []byte) (int, error) {
	return c.r.Read(b)
}

// CloseWrite keeps half-close available through the wrapper.
func (c *bufferedConn) CloseWrite() error {
	if hc, ok := c.Conn.(halfCloser); ok {
		return hc.CloseWrite()
	}
	return c.Conn.Close()
}
