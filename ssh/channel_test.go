package ssh

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestClientState(t *testing.T) *clientState {
	t.Helper()
	cfg := Config{}
	cfg.setDefaults()
	return &clientState{
		stream:  &bytes.Buffer{},
		send:    newSendPipe(),
		recv:    newRecvPipe(),
		conn:    newConnState(),
		auth:    newAuthState(),
		config:  &cfg,
		logger:  cfg.Logger,
		metrics: NewMetrics(nil),
	}
}

func TestLookupChannelUnknown(t *testing.T) {
	c := newTestClientState(t)
	_, err := lookupChannel(c, 42)
	require.Error(t, err)
}

func TestChannelDataRespectsLocalWindow(t *testing.T) {
	c := newTestClientState(t)
	ch := newChannelState(0)
	ch.remoteID = 1
	ch.localWindow = 4
	c.conn.channels[0] = ch

	msg := &channelDataMsg{RecipientChannel: 0, Data: []byte("12345")}
	err := recvChannelData(c, msg.marshal())
	require.Error(t, err, "data exceeding the advertised window must be rejected")
}

func TestChannelDataDeliversAndShrinksWindow(t *testing.T) {
	c := newTestClientState(t)
	ch := newChannelState(0)
	ch.remoteID = 1
	c.conn.channels[0] = ch

	msg := &channelDataMsg{RecipientChannel: 0, Data: []byte("hi")}
	require.NoError(t, recvChannelData(c, msg.marshal()))
	require.Equal(t, []byte("hi"), <-ch.dataCh)
	require.Equal(t, uint32(defaultWindowSize-2), ch.localWindow)
}

func TestMaybeAdjustWindowReplenishesBelowHalf(t *testing.T) {
	c := newTestClientState(t)
	ch := newChannelState(0)
	ch.remoteID = 7
	ch.localWindow = defaultWindowSize/2 - 1
	c.conn.channels[0] = ch

	maybeAdjustWindow(c, ch)
	require.Equal(t, uint32(defaultWindowSize), ch.localWindow)
}

func TestMaybeAdjustWindowNoOpAboveHalf(t *testing.T) {
	c := newTestClientState(t)
	ch := newChannelState(0)
	ch.remoteID = 7
	ch.localWindow = defaultWindowSize

	maybeAdjustWindow(c, ch)
	require.Equal(t, uint32(defaultWindowSize), ch.localWindow)
}

func TestChannelEOFClosesDataChannels(t *testing.T) {
	c := newTestClientState(t)
	ch := newChannelState(0)
	ch.remoteID = 3
	c.conn.channels[0] = ch

	require.NoError(t, recvChannelEOF(c, marshalChannelEOF(0)))
	_, ok := <-ch.dataCh
	require.False(t, ok)
	require.True(t, ch.remoteEOF)
}
