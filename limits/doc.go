// Package limits provides centralized size constants and validation functions
// for the peer transfer protocol. This package ensures consistent size enforcement
// across the transport and file components.
//
// # Wire Sizes
//
//   - TokenSize (4 bytes): the transfer token, both inside handshake messages and
//     as the prefix of the first inbound chunk in pierce mode.
//   - HandshakeAckSize (8 bytes): the zero acknowledgment block.
//   - MaxMessageSize (4KB): the largest framed peer-init message ReadMessage accepts.
//
// # Buffers
//
//   - DefaultReadChunkSize / MaxReadChunkSize: bounds for the per-read socket buffer.
//   - MaxPreallocation: cap on the payload capacity reserved once the expected file
//     size is known. The payload itself may still grow past it.
//
// # Validation Functions
//
//	if err := limits.ValidateUsername(login); err != nil {
//	    // ErrMessageEmpty or ErrMessageTooLarge
//	}
//
// Errors are wrapped with context and can be matched with errors.Is.
package limits
