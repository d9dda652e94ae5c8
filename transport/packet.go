package transport

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/opd-ai/slskpeer/limits"
)

// MessageCode identifies the type of a peer-init message.
type MessageCode uint8

const (
	// MessagePierceFirewall answers an indirect connection request with only the token.
	MessagePierceFirewall MessageCode = iota
	// MessagePeerInit opens a direct connection and identifies the sender.
	MessagePeerInit
)

// String returns a readable name for the message code.
func (c MessageCode) String() string {
	switch c {
	case MessagePierceFirewall:
		return "PierceFirewall"
	case MessagePeerInit:
		return "PeerInit"
	default:
		return fmt.Sprintf("MessageCode(%d)", uint8(c))
	}
}

// Connection types carried by PeerInit.
const (
	ConnTypePeer        = "P"
	ConnTypeFile        = "F"
	ConnTypeDistributed = "D"
)

// headerSize is the length prefix plus the message code.
const headerSize = 4 + 1

// ErrInvalidToken indicates a token string or byte slice of the wrong shape.
var ErrInvalidToken = errors.New("invalid token")

// Token is the 4-byte value correlating a connection with a negotiated transfer.
type Token [limits.TokenSize]byte

// String returns the lowercase hex form used as the registry lookup key.
func (t Token) String() string {
	return hex.EncodeToString(t[:])
}

// Uint32 interprets the token bytes as a little-endian integer.
func (t Token) Uint32() uint32 {
	return binary.LittleEndian.Uint32(t[:])
}

// TokenFromUint32 builds a token from its little-endian integer form.
func TokenFromUint32(v uint32) Token {
	var t Token
	binary.LittleEndian.PutUint32(t[:], v)
	return t
}

// TokenFromBytes copies the first TokenSize bytes of b into a Token.
func TokenFromBytes(b []byte) (Token, error) {
	var t Token
	if len(b) < limits.TokenSize {
		return t, fmt.Errorf("%w: need %d bytes, got %d", ErrInvalidToken, limits.TokenSize, len(b))
	}
	copy(t[:], b[:limits.TokenSize])
	return t, nil
}

// ParseToken parses the 8-character hex form of a token.
func ParseToken(s string) (Token, error) {
	var t Token
	if len(s) != 2*limits.TokenSize {
		return t, fmt.Errorf("%w: %q is not %d hex characters", ErrInvalidToken, s, 2*limits.TokenSize)
	}
	if _, err := hex.Decode(t[:], []byte(s)); err != nil {
		return t, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return t, nil
}

// NewHandshakeAck returns the 8-byte zero block that flushes the transfer handshake.
func NewHandshakeAck() []byte {
	return make([]byte, limits.HandshakeAckSize)
}

// Message is a peer-init message.
type Message struct {
	Code MessageCode
	Data []byte
}

// Bytes returns the framed encoding:
// [length (4 bytes LE, covers code and data)][code (1 byte)][data]
func (m *Message) Bytes() []byte {
	out := make([]byte, headerSize+len(m.Data))
	binary.LittleEndian.PutUint32(out[0:4], uint32(1+len(m.Data)))
	out[4] = byte(m.Code)
	copy(out[headerSize:], m.Data)
	return out
}

// MessageFactory builds the messages a downloader sends when a file connection opens.
type MessageFactory interface {
	// PeerInit identifies the local user and the transfer on a direct connection.
	PeerInit(login, connType string, token Token) (*Message, error)

	// PierceFirewall answers an indirect connection request.
	PierceFirewall(token Token) *Message
}

// DefaultMessageFactory encodes messages in the standard peer-init layout.
type DefaultMessageFactory struct{}

// PeerInit builds a PeerInit message: [string login][string connType][token (4 bytes)].
func (DefaultMessageFactory) PeerInit(login, connType string, token Token) (*Message, error) {
	if err := limits.ValidateUsername(login); err != nil {
		return nil, err
	}
	if err := limits.ValidateMessageSize([]byte(connType), limits.MaxConnectionTypeLength); err != nil {
		return nil, fmt.Errorf("connection type: %w", err)
	}

	data := make([]byte, 0, 4+len(login)+4+len(connType)+limits.TokenSize)
	data = appendString(data, login)
	data = appendString(data, connType)
	data = append(data, token[:]...)

	return &Message{Code: MessagePeerInit, Data: data}, nil
}

// PierceFirewall builds a PierceFirewall message carrying only the token.
func (DefaultMessageFactory) PierceFirewall(token Token) *Message {
	data := make([]byte, limits.TokenSize)
	copy(data, token[:])
	return &Message{Code: MessagePierceFirewall, Data: data}
}

// appendString writes a length-prefixed string: [length (4 bytes LE)][bytes]
func appendString(dst []byte, s string) []byte {
	var n [4]byte
	binary.LittleEndian.PutUint32(n[:], uint32(len(s)))
	dst = append(dst, n[:]...)
	return append(dst, s...)
}
