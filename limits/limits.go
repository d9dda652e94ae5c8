// Package limits provides centralized size limits for the peer transfer protocol.
// This ensures consistent validation across different components of the system.
package limits

import (
	"errors"
	"fmt"
)

const (
	// TokenSize is the fixed size of a transfer token on the wire.
	TokenSize = 4

	// HandshakeAckSize is the size of the zero acknowledgment block
	// (two 4-byte zero fields) that flushes the transfer handshake.
	HandshakeAckSize = 8

	// MaxUsernameLength bounds the local identity carried in a PeerInit message.
	MaxUsernameLength = 255

	// MaxConnectionTypeLength bounds the connection type string of a PeerInit message.
	MaxConnectionTypeLength = 8

	// MaxMessageSize is the largest framed peer-init message accepted by ReadMessage.
	// Peer-init messages are tiny; anything larger is a protocol violation.
	MaxMessageSize = 4096

	// DefaultReadChunkSize is the read buffer used per socket read (64KB)
	DefaultReadChunkSize = 64 * 1024

	// MaxReadChunkSize caps a configured read chunk size (1MB)
	MaxReadChunkSize = 1024 * 1024

	// MaxPreallocation caps the capacity reserved up front for a payload buffer,
	// so a peer advertising a huge size cannot force a huge allocation
	// before any data arrives (64MB).
	MaxPreallocation = 64 * 1024 * 1024
)

var (
	// ErrMessageEmpty indicates an empty message was provided
	ErrMessageEmpty = errors.New("empty message")

	// ErrMessageTooLarge indicates message exceeds maximum size
	ErrMessageTooLarge = errors.New("message too large")

	// ErrInvalidChunkSize indicates a read chunk size outside (0, MaxReadChunkSize]
	ErrInvalidChunkSize = errors.New("invalid read chunk size")
)

// ValidateMessageSize validates a message against the specified maximum size.
// Returns an error with context including the actual and maximum sizes.
func ValidateMessageSize(message []byte, maxSize int) error {
	if len(message) == 0 {
		return ErrMessageEmpty
	}
	if len(message) > maxSize {
		return fmt.Errorf("%w: size %d exceeds limit %d", ErrMessageTooLarge, len(message), maxSize)
	}
	return nil
}

// ValidateUsername checks a local identity before it is placed in a PeerInit message.
func ValidateUsername(name string) error {
	if err := ValidateMessageSize([]byte(name), MaxUsernameLength); err != nil {
		return fmt.Errorf("username: %w", err)
	}
	return nil
}

// ValidateReadChunkSize checks a configured socket read size.
func ValidateReadChunkSize(size int) error {
	if size <= 0 || size > MaxReadChunkSize {
		return fmt.Errorf("%w: %d (limit %d)", ErrInvalidChunkSize, size, MaxReadChunkSize)
	}
	return nil
}

// PreallocationFor returns the buffer capacity to reserve for a payload of the
// expected size, bounded by MaxPreallocation.
func PreallocationFor(expected uint64) int {
	if expected > MaxPreallocation {
		return MaxPreallocation
	}
	return int(expected)
}
