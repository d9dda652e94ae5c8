package file

import (
	"errors"
	"time"

	"github.com/opd-ai/slskpeer/limits"
	"github.com/opd-ai/slskpeer/transport"
)

// DefaultAckDelay is how long a direct (no-pierce) connection waits before
// writing the zero acknowledgment block.
const DefaultAckDelay = 1000 * time.Millisecond

// DefaultDrainTimeout bounds how long a transfer keeps reading after it has
// half-closed a connection because the expected size arrived.
const DefaultDrainTimeout = 5 * time.Second

// Config controls the timing and buffering of file transfers.
type Config struct {
	DialTimeout   time.Duration
	AckDelay      time.Duration
	DrainTimeout  time.Duration // 0 waits for the peer indefinitely
	ReadChunkSize int
}

// DefaultConfig returns the standard transfer configuration.
func DefaultConfig() Config {
	return Config{
		DialTimeout:   transport.DefaultDialTimeout,
		AckDelay:      DefaultAckDelay,
		DrainTimeout:  DefaultDrainTimeout,
		ReadChunkSize: limits.DefaultReadChunkSize,
	}
}

// Validate checks that every field is usable.
func (c Config) Validate() error {
	if c.DialTimeout < 0 {
		return errors.New("dial timeout cannot be negative")
	}
	if c.AckDelay < 0 {
		return errors.New("ack delay cannot be negative")
	}
	if c.DrainTimeout < 0 {
		return errors.New("drain timeout cannot be negative")
	}
	return limits.ValidateReadChunkSize(c.ReadChunkSize)
}
