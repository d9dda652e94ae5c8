// Package slskpeer implements the downloading side of Soulseek-style peer
// file connections.
//
// A file transfer between two peers runs over its own TCP connection. The
// downloader either connects directly and introduces itself with PeerInit, or
// answers an indirect connection request with PierceFirewall, in which case
// the uploader names the transfer by sending its 4-byte token first. Payload
// bytes follow until the expected size has arrived or the peer closes.
//
// # Getting Started
//
//	options := slskpeer.NewOptions()
//	options.Login = "alice"
//
//	peer, err := slskpeer.New(options)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	registry := peer.Registry().(*file.MemoryRegistry)
//	registry.AddToken(token.String(), &file.TokenInfo{User: "bob", File: "song.mp3", Size: size})
//	registry.AddDownload("bob", "song.mp3", &file.DownloadState{
//	    Callback: func(down *file.DownloadState, err error) {
//	        // down.Buffer holds the file on success
//	    },
//	})
//
//	transfer := peer.DownloadPeerFile("203.0.113.7", 2234, token, "bob", true)
//	<-transfer.Done()
//
// # Packages
//
//   - file: transfers, the download manager and the token registry
//   - transport: peer-init framing, tokens and TCP dialing
//   - limits: protocol size limits
//   - peertest: an in-process uploading peer for tests
//
// # Logging
//
// All packages log through logrus with a "function" field on every entry.
// Configure the level and output with the standard logrus functions.
package slskpeer
