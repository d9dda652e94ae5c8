package peertest

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/opd-ai/slskpeer/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dial(t *testing.T, p *Peer) net.Conn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", transport.JoinHostPort(p.Host(), p.Port()), time.Second)
	require.NoError(t, err)
	return conn
}

func waitDone(t *testing.T, p *Peer) {
	t.Helper()
	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("peer did not finish")
	}
}

func TestPeer_PierceHandshake(t *testing.T) {
	token := transport.Token{1, 2, 3, 4}
	p, err := NewPeer(Config{
		Pierce:           true,
		Token:            token,
		Payload:          []byte("hello world"),
		TokenWithPayload: 5,
		CloseAfterSend:   true,
	})
	require.NoError(t, err)
	defer p.Close()

	conn := dial(t, p)
	defer conn.Close()

	_, err = conn.Write(transport.DefaultMessageFactory{}.PierceFirewall(token).Bytes())
	require.NoError(t, err)

	first := make([]byte, 9)
	_, err = io.ReadFull(conn, first)
	require.NoError(t, err)
	assert.Equal(t, append(token[:], []byte("hello")...), first)

	_, err = conn.Write(transport.NewHandshakeAck())
	require.NoError(t, err)

	rest, err := io.ReadAll(conn)
	require.NoError(t, err)
	assert.Equal(t, []byte(" world"), rest)

	waitDone(t, p)
	assert.NoError(t, p.Err())
	assert.Equal(t, transport.NewHandshakeAck(), p.Ack())
}

func TestPeer_DirectHandshakeLingers(t *testing.T) {
	p, err := NewPeer(Config{Payload: []byte("data"), WaitForAck: true})
	require.NoError(t, err)
	defer p.Close()

	conn := dial(t, p)
	defer conn.Close()

	msg, err := transport.DefaultMessageFactory{}.PeerInit("me", transport.ConnTypeFile, transport.Token{9, 9, 9, 9})
	require.NoError(t, err)
	_, err = conn.Write(msg.Bytes())
	require.NoError(t, err)
	_, err = conn.Write(transport.NewHandshakeAck())
	require.NoError(t, err)

	got := make([]byte, 4)
	_, err = io.ReadFull(conn, got)
	require.NoError(t, err)
	assert.Equal(t, []byte("data"), got)

	ok, err := transport.HalfClose(conn)
	require.True(t, ok)
	require.NoError(t, err)

	waitDone(t, p)
	assert.NoError(t, p.Err())
	assert.True(t, p.SawEOF())
	assert.Equal(t, transport.MessagePeerInit, p.InitMessage().Code)
}

func TestPeer_RejectsWrongInitMessage(t *testing.T) {
	p, err := NewPeer(Config{Pierce: true})
	require.NoError(t, err)
	defer p.Close()

	conn := dial(t, p)
	defer conn.Close()

	msg, err := transport.DefaultMessageFactory{}.PeerInit("me", transport.ConnTypeFile, transport.Token{})
	require.NoError(t, err)
	_, err = conn.Write(msg.Bytes())
	require.NoError(t, err)

	waitDone(t, p)
	assert.ErrorIs(t, p.Err(), transport.ErrUnexpectedMessage)
}
