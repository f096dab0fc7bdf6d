package ssh

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRecvUserAuthSuccessReleasesParkedOpens(t *testing.T) {
	c := newTestClientState(t)
	resultCh := make(chan error, 1)
	c.auth.current = &authAttempt{method: "password", resultCh: resultCh}

	openResult := make(chan openChannelResult, 1)
	c.conn.parkedOpens = append(c.conn.parkedOpens, &pendingChannelOpen{channelType: "session", resultCh: openResult})

	require.NoError(t, recvUserAuthSuccess(c, []byte{msgUserAuthSuccess}))

	require.NoError(t, <-resultCh)
	require.True(t, c.auth.authenticated)
	require.Empty(t, c.conn.parkedOpens)
	// sendChannelOpen assigns local id 0 and records the channel, even
	// though no OPEN_CONFIRMATION has arrived (the CHANNEL_OPEN is written
	// into the test's bytes.Buffer stream).
	require.Contains(t, c.conn.channels, uint32(0))
}

func TestRecvUserAuthFailureAbortsCurrentAttempt(t *testing.T) {
	c := newTestClientState(t)
	resultCh := make(chan error, 1)
	c.auth.current = &authAttempt{method: "password", resultCh: resultCh}

	msg := &userAuthFailureMsg{MethodsCanContinue: []string{"publickey"}, PartialSuccess: false}
	payload := marshalUserAuthFailureForTest(msg)

	require.NoError(t, recvUserAuthFailure(c, payload))
	err := <-resultCh
	var failErr *AuthFailureError
	require.ErrorAs(t, err, &failErr)
	require.Equal(t, []string{"publickey"}, failErr.MethodsCanContinue)
	require.Nil(t, c.auth.current)
}

func TestStartAuthAbortsPriorAttempt(t *testing.T) {
	c := newTestClientState(t)
	first := make(chan error, 1)
	require.NoError(t, startAuthNone(c, "alice", first))

	second := make(chan error, 1)
	require.NoError(t, startAuthPassword(c, "alice", "secret", second, nil))

	require.ErrorIs(t, <-first, ErrAuthAborted)
}

func marshalUserAuthFailureForTest(m *userAuthFailureMsg) []byte {
	e := newEncoder()
	e.PutU8(msgUserAuthFailure)
	e.PutNameList(m.MethodsCanContinue)
	e.PutBool(m.PartialSuccess)
	return e.Bytes()
}
