package file

import (
	"errors"
	"fmt"
)

var (
	// ErrConnection matches every *TransferError via errors.Is.
	ErrConnection = errors.New("connection error during download")

	// ErrUnknownToken indicates the connection closed without the resolved token
	// ever matching a registry entry. No completion callback exists for this case;
	// it is only observable through logs and Transfer.Err.
	ErrUnknownToken = errors.New("download token not found in registry")

	// ErrNilRegistry indicates a Manager was created without a registry.
	ErrNilRegistry = errors.New("registry cannot be nil")

	// ErrInvalidPort indicates a port outside 1-65535.
	ErrInvalidPort = errors.New("invalid port")
)

// TransferError is a socket-level failure during a download, reported to the
// completion callback when a registry entry had already been resolved.
type TransferError struct {
	Op   string // dial, handshake, read, ack
	Addr string // remote address
	User string // remote peer name
	Err  error  // underlying error
}

func (e *TransferError) Error() string {
	if e.Addr != "" {
		return fmt.Sprintf("%s: %s %s: %v", ErrConnection, e.Op, e.Addr, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", ErrConnection, e.Op, e.Err)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

// Is reports ErrConnection as a match so callers need not type-assert.
func (e *TransferError) Is(target error) bool {
	return target == ErrConnection
}

// newTransferError creates a new TransferError
func newTransferError(op, addr, user string, err error) *TransferError {
	return &TransferError{
		Op:   op,
		Addr: addr,
		User: user,
		Err:  err,
	}
}
