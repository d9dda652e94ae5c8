// Package file implements the downloading side of peer file connections,
// receiving one file per TCP connection from a remote peer.
//
// # Overview
//
// The file package provides two primary components:
//
//   - Transfer: owns one connection. It performs the opening handshake,
//     settles the transfer token, accumulates the payload and reports the
//     outcome exactly once
//   - Manager: starts transfers on their own goroutines and tracks the ones
//     still in flight
//
// # Connection Modes
//
// The noPierce flag of DownloadPeerFile selects who identified the transfer:
//
//	// Direct connection: we send PeerInit with our login and the token,
//	// then an 8-byte zero block after Config.AckDelay (1s by default).
//	manager.DownloadPeerFile(host, port, token, "bob", true)
//
//	// Indirect connection: we send PierceFirewall with the token and the
//	// peer answers with the transfer token as the first 4 bytes. That token,
//	// not the one we sent, is used for the registry lookup.
//	manager.DownloadPeerFile(host, port, token, "bob", false)
//
// # Registry
//
// Transfers resolve tokens through a caller-owned Registry. A token maps to a
// TokenInfo (user, file, expected size); DownloadKey(user, file) maps to the
// DownloadState that receives the result:
//
//	registry := file.NewMemoryRegistry()
//	registry.AddToken(token.String(), &file.TokenInfo{User: "bob", File: "a.flac", Size: 1 << 20})
//	registry.AddDownload("bob", "a.flac", &file.DownloadState{
//	    Stream: pipeWriter, // optional live sink
//	    Callback: func(down *file.DownloadState, err error) {
//	        if err != nil {
//	            log.Println(err)
//	            return
//	        }
//	        os.WriteFile("a.flac", down.Buffer, 0o644)
//	    },
//	})
//
// The lookup happens once, on the first chunk after the token is known. A
// connection whose token never matches an entry is logged and discarded; no
// callback exists to report it, though Transfer.Err returns ErrUnknownToken.
//
// # Completion
//
// When the expected size has arrived the transfer half-closes the connection
// and waits up to Config.DrainTimeout for the peer to close. Bytes arriving in
// the meantime are kept. A socket error reaches the callback as a
// *TransferError matching ErrConnection, with no partial buffer.
//
// # Time Handling
//
// The handshake ack timer goes through a TimeProvider so tests can fire it by
// hand:
//
//	manager.SetTimeProvider(mockTime)
package file
