package file

import "github.com/opd-ai/slskpeer/transport"

// Test identity and addressing constants.
const (
	testLogin    = "downloader"
	testPeerUser = "uploader"
	testFileName = "music/track.flac"
	testHost     = "127.0.0.1"
	testPort     = 2234
)

// Test tokens. testTokenPierce is what a remote peer echoes back; it differs
// from testToken so lookups prove which token was used.
var (
	testToken       = transport.Token{0x01, 0x02, 0x03, 0x04}
	testTokenPierce = transport.Token{0x0a, 0x0b, 0x0c, 0x0d}
)
