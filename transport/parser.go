package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/opd-ai/slskpeer/limits"
)

var (
	// ErrMessageTruncated indicates a message body ended before a field was complete.
	ErrMessageTruncated = errors.New("message truncated")

	// ErrUnexpectedMessage indicates a message with a different code than the caller expected.
	ErrUnexpectedMessage = errors.New("unexpected message code")
)

// PeerInitMessage is the decoded body of a PeerInit message.
type PeerInitMessage struct {
	Username string
	ConnType string
	Token    Token
}

// ReadMessage reads one framed peer-init message from r.
// Partial reads are handled with io.ReadFull.
func ReadMessage(r io.Reader) (*Message, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return nil, err
	}

	length := binary.LittleEndian.Uint32(prefix[:])
	if length == 0 {
		return nil, fmt.Errorf("%w: zero-length frame", limits.ErrMessageEmpty)
	}
	if length > limits.MaxMessageSize {
		return nil, fmt.Errorf("%w: frame size %d exceeds limit %d", limits.ErrMessageTooLarge, length, limits.MaxMessageSize)
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMessageTruncated, err)
	}

	return &Message{Code: MessageCode(body[0]), Data: body[1:]}, nil
}

// ParsePeerInit decodes a PeerInit message.
func ParsePeerInit(m *Message) (*PeerInitMessage, error) {
	if m.Code != MessagePeerInit {
		return nil, fmt.Errorf("%w: got %s, want %s", ErrUnexpectedMessage, m.Code, MessagePeerInit)
	}

	username, rest, err := readString(m.Data)
	if err != nil {
		return nil, fmt.Errorf("username: %w", err)
	}
	connType, rest, err := readString(rest)
	if err != nil {
		return nil, fmt.Errorf("connection type: %w", err)
	}
	token, err := TokenFromBytes(rest)
	if err != nil {
		return nil, fmt.Errorf("%w: token: %v", ErrMessageTruncated, err)
	}

	return &PeerInitMessage{Username: username, ConnType: connType, Token: token}, nil
}

// ParsePierceFirewall decodes a PierceFirewall message and returns its token.
func ParsePierceFirewall(m *Message) (Token, error) {
	if m.Code != MessagePierceFirewall {
		return Token{}, fmt.Errorf("%w: got %s, want %s", ErrUnexpectedMessage, m.Code, MessagePierceFirewall)
	}
	token, err := TokenFromBytes(m.Data)
	if err != nil {
		return Token{}, fmt.Errorf("%w: token: %v", ErrMessageTruncated, err)
	}
	return token, nil
}

// readString decodes a length-prefixed string and returns the remaining bytes.
func readString(data []byte) (string, []byte, error) {
	if len(data) < 4 {
		return "", nil, ErrMessageTruncated
	}
	n := binary.LittleEndian.Uint32(data[0:4])
	if uint64(len(data)-4) < uint64(n) {
		return "", nil, ErrMessageTruncated
	}
	return string(data[4 : 4+n]), data[4+n:], nil
}
