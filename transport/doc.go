// Package transport implements the wire layer used when a downloader opens a
// file connection to a remote peer.
//
// # Peer-Init Messages
//
// Every file connection begins with exactly one peer-init message, framed as
//
//	[length (uint32 LE)][code (uint8)][body]
//
// where length covers the code and body. Two messages are used:
//
//   - PierceFirewall (code 0): body is the 4-byte token. Sent when the remote
//     side asked us to connect back through its firewall.
//   - PeerInit (code 1): body is [string username][string type][token (4 bytes)], with
//     strings encoded as [uint32 LE length][bytes]. Sent on a direct connection.
//
// The MessageFactory interface lets callers substitute their own encoder:
//
//	factory := transport.DefaultMessageFactory{}
//	msg, err := factory.PeerInit(login, transport.ConnTypeFile, token)
//	pierce := factory.PierceFirewall(token)
//
// # Tokens
//
// A Token is 4 raw bytes. Its String form (8 lowercase hex characters) is the
// key used to correlate a connection with a negotiated transfer:
//
//	token, err := transport.ParseToken("0a0b0c0d")
//	key := token.String()
//
// # Handshake Acknowledgment
//
// NewHandshakeAck returns the 8 zero bytes written once the token is settled.
//
// # Dialing
//
// TCPDialer wraps net.Dialer with a connect timeout, keep-alive and structured
// logging. HalfClose ends the write side of a TCP connection so the remote
// peer observes EOF while the local side keeps reading.
//
// ProxyDialer satisfies the same Dialer interface but tunnels each connection
// through a SOCKS5 or HTTP CONNECT proxy:
//
//	dialer, err := transport.NewProxyDialer(&transport.ProxyConfig{
//	    Type: transport.ProxyTypeSOCKS5,
//	    Host: "127.0.0.1",
//	    Port: 9050,
//	}, 0)
package transport
