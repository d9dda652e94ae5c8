package file

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/opd-ai/slskpeer/limits"
	"github.com/opd-ai/slskpeer/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewManager(t *testing.T) {
	tests := []struct {
		name     string
		login    string
		registry Registry
		cfg      Config
		wantErr  error
	}{
		{
			name:     "valid",
			login:    testLogin,
			registry: NewMemoryRegistry(),
			cfg:      DefaultConfig(),
		},
		{
			name:     "empty login",
			login:    "",
			registry: NewMemoryRegistry(),
			cfg:      DefaultConfig(),
			wantErr:  limits.ErrMessageEmpty,
		},
		{
			name:     "oversized login",
			login:    strings.Repeat("x", limits.MaxUsernameLength+1),
			registry: NewMemoryRegistry(),
			cfg:      DefaultConfig(),
			wantErr:  limits.ErrMessageTooLarge,
		},
		{
			name:    "nil registry",
			login:   testLogin,
			cfg:     DefaultConfig(),
			wantErr: ErrNilRegistry,
		},
		{
			name:     "zero read chunk",
			login:    testLogin,
			registry: NewMemoryRegistry(),
			cfg:      Config{AckDelay: DefaultAckDelay},
			wantErr:  limits.ErrInvalidChunkSize,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := NewManager(tt.login, tt.registry, tt.cfg)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, m)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, m)
			assert.Empty(t, m.ActiveTransfers())
		})
	}
}

func newTestManager(t *testing.T, conn *scriptedConn) (*Manager, *mockTimeProvider) {
	t.Helper()
	m, err := NewManager(testLogin, NewMemoryRegistry(), DefaultConfig())
	require.NoError(t, err)
	tp := newMockTimeProvider()
	m.SetTimeProvider(tp)
	m.SetDialer(&mockDialer{conn: conn})
	return m, tp
}

func TestManager_InvalidPortFailsAsDial(t *testing.T) {
	for _, port := range []int{0, -1, 65536} {
		m, _ := newTestManager(t, newScriptedConn())

		tr := m.DownloadPeerFile(testHost, port, testToken, testPeerUser, true)
		waitTransfer(t, tr)

		var terr *TransferError
		require.True(t, errors.As(tr.Err(), &terr), "port %d", port)
		assert.Equal(t, "dial", terr.Op)
		assert.ErrorIs(t, tr.Err(), ErrInvalidPort)
	}
}

func TestManager_TracksActiveTransfers(t *testing.T) {
	conn := newScriptedConn()
	m, _ := newTestManager(t, conn)

	tr := m.DownloadPeerFile(testHost, testPort, testToken, testPeerUser, false)
	assert.Equal(t, ModePierce, tr.Request().Mode)

	got, err := m.GetTransfer(tr.ID())
	require.NoError(t, err)
	assert.Same(t, tr, got)
	assert.Len(t, m.ActiveTransfers(), 1)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, m.Wait(ctx), context.DeadlineExceeded)

	conn.push(eof())

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	require.NoError(t, m.Wait(ctx2))

	_, err = m.GetTransfer(tr.ID())
	assert.Error(t, err)
	assert.Empty(t, m.ActiveTransfers())
	assert.ErrorIs(t, tr.Err(), ErrUnknownToken)
}

func TestManager_UsesInjectedCollaborators(t *testing.T) {
	conn := newScriptedConn(eof())
	m, tp := newTestManager(t, conn)
	m.SetMessageFactory(prefixFactory{})

	tr := m.DownloadPeerFile(testHost, testPort, testToken, testPeerUser, true)
	waitTransfer(t, tr)

	writes := conn.written()
	require.NotEmpty(t, writes)
	assert.Equal(t, prefixFactory{}.frame(transport.MessagePeerInit), writes[0])
	assert.Equal(t, 1, tp.timerCount())
}

func TestManager_NilSettersRestoreDefaults(t *testing.T) {
	m, err := NewManager(testLogin, NewMemoryRegistry(), DefaultConfig())
	require.NoError(t, err)

	m.SetDialer(nil)
	m.SetMessageFactory(nil)
	m.SetTimeProvider(nil)

	dialer, ok := m.dialer.(*transport.TCPDialer)
	require.True(t, ok)
	assert.Equal(t, transport.DefaultDialTimeout, dialer.Timeout())
	assert.IsType(t, transport.DefaultMessageFactory{}, m.factory)
	assert.IsType(t, DefaultTimeProvider{}, m.timeProvider)
}

// prefixFactory emits fixed bodies instead of real handshake messages.
type prefixFactory struct{}

func (prefixFactory) PeerInit(string, string, transport.Token) (*transport.Message, error) {
	return &transport.Message{Code: transport.MessagePeerInit, Data: []byte("custom")}, nil
}

func (prefixFactory) PierceFirewall(transport.Token) *transport.Message {
	return &transport.Message{Code: transport.MessagePierceFirewall, Data: []byte("custom")}
}

func (prefixFactory) frame(code transport.MessageCode) []byte {
	return (&transport.Message{Code: code, Data: []byte("custom")}).Bytes()
}
