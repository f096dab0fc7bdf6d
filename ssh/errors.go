package ssh

import (
	"fmt"

	"github.com/pkg/errors"
)

// ProtocolError means the peer violated RFC 4253/4252/4254; fatal.
type ProtocolError struct {
	Reason string
	cause  error
}

func (e *ProtocolError) Error() string { return fmt.Sprintf("ssh: protocol error: %s", e.Reason) }
func (e *ProtocolError) Unwrap() error { return e.cause }

func errProtocol(reason string) error {
	return errors.WithStack(&ProtocolError{Reason: reason})
}

func errProtocolf(format string, args ...interface{}) error {
	return errProtocol(fmt.Sprintf(format, args...))
}

// CryptoError wraps a MAC/AEAD/signature/primitive failure; fatal.
type CryptoError struct {
	Reason string
	cause  error
}

func (e *CryptoError) Error() string { return fmt.Sprintf("ssh: crypto error: %s", e.Reason) }
func (e *CryptoError) Unwrap() error { return e.cause }

func errCrypto(reason string, cause error) error {
	return errors.WithStack(&CryptoError{Reason: reason, cause: cause})
}

// DecodeError means a payload was malformed; fatal.
type DecodeError struct {
	Reason string
	cause  error
}

func (e *DecodeError) Error() string { return fmt.Sprintf("ssh: decode error: %s", e.Reason) }
func (e *DecodeError) Unwrap() error { return e.cause }

func errDecode(reason string, cause error) error {
	return errors.WithStack(&DecodeError{Reason: reason, cause: cause})
}

// AlgoNegotiateError means no algorithm overlap existed for one algorithm
// kind; fatal before the connection is usable.
type AlgoNegotiateError struct {
	AlgoKind string
	Ours     []string
	Theirs   []string
}

func (e *AlgoNegotiateError) Error() string {
	return fmt.Sprintf("ssh: no overlap for %s: ours=%v theirs=%v", e.AlgoKind, e.Ours, e.Theirs)
}

func errAlgoNegotiate(kind string, ours, theirs []string) error {
	return errors.WithStack(&AlgoNegotiateError{AlgoKind: kind, Ours: ours, Theirs: theirs})
}

// ErrAuthAborted is returned to an authentication attempt that was
// superseded by a newer one before it resolved.
var ErrAuthAborted = errors.New("ssh: authentication attempt aborted")

// AuthFailureError carries the server's USERAUTH_FAILURE payload; the
// caller may retry authentication.
type AuthFailureError struct {
	MethodsCanContinue []string
	PartialSuccess     bool
}

func (e *AuthFailureError) Error() string {
	return fmt.Sprintf("ssh: authentication failed, methods remaining: %v", e.MethodsCanContinue)
}

// ErrChannelClosed is returned by channel reads once the peer has sent
// CHANNEL_EOF or CHANNEL_CLOSE and no data remains, and by channel writes
// once either side has sent CHANNEL_CLOSE.
var ErrChannelClosed = errors.New("ssh: channel closed")

// ChannelFailureError carries a negative reply: an
// SSH_MSG_CHANNEL_OPEN_FAILURE (with its reason code), an
// SSH_MSG_CHANNEL_FAILURE to a channel request, or an
// SSH_MSG_REQUEST_FAILURE to a global request (both with reason 0). It is
// local to that request; other channels are unaffected.
type ChannelFailureError struct {
	Reason      uint32
	Description string
}

func (e *ChannelFailureError) Error() string {
	return fmt.Sprintf("ssh: channel failure (reason %d): %s", e.Reason, e.Description)
}

// DisconnectError reports a clean shutdown initiated by either side.
type DisconnectError struct {
	Reason      uint32
	Description string
}

func (e *DisconnectError) Error() string {
	return fmt.Sprintf("ssh: disconnected (reason %d): %s", e.Reason, e.Description)
}

// ErrClientClosed is returned to callers who invoke handle methods after
// the connection has ended.
var ErrClientClosed = errors.New("ssh: client closed")

// ErrRekeyRejected is delivered only to callers awaiting completion of a
// rekey that the peer rejected with SSH_MSG_UNIMPLEMENTED; the connection
// itself continues running.
var ErrRekeyRejected = errors.New("ssh: peer rejected rekey")

// ErrPubkeyRejected is returned when the application rejects the server's
// host key with ClientEvent.Accept(false). An EventServerPubkey that is
// never answered is not treated as a rejection: the key exchange keeps
// waiting for Accept.
var ErrPubkeyRejected = errors.New("ssh: server public key rejected")
