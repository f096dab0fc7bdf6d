package ssh

// authPhase tracks the authentication protocol's sub-state: requesting
// the ssh-userauth service, waiting for it to be granted, idle between
// attempts, waiting for a reply to an in-flight request, or authenticated.
type authPhase int

const (
	authPhaseServiceRequest authPhase = iota
	authPhaseServiceWait
	authPhaseIdle
	authPhaseWaitReply
	authPhaseAuthenticated
)

// authAttempt is one in-flight USERAUTH_REQUEST; resultCh receives nil on
// USERAUTH_SUCCESS, an *AuthFailureError on USERAUTH_FAILURE, or
// ErrAuthAborted if superseded before either arrives.
type authAttempt struct {
	method    string
	resultCh  chan error
	bannerCh  chan string // optional; forwards USERAUTH_BANNER text, best-effort
	changeReq chan string // optional; forwards USERAUTH_PASSWD_CHANGEREQ prompt
}

type authState struct {
	phase         authPhase
	username      string
	authenticated bool
	current       *authAttempt
	pendingSend   func(c *clientState) error
}

func newAuthState() *authState {
	return &authState{phase: authPhaseServiceRequest}
}

const serviceNameUserAuth = "ssh-userauth"
const serviceNameConnection = "ssh-connection"

// pumpAuth advances authentication by one step, mirroring pumpNegotiate's
// contract: returns true if it made progress and should be called again
// before the driver blocks on I/O.
func pumpAuth(c *clientState) (bool, error) {
	as := c.auth
	if !isNegotiateReady(c) && as.phase == authPhaseServiceRequest {
		return false, nil // wait for the first kex to finish before authenticating
	}

	switch as.phase {
	case authPhaseServiceRequest:
		if _, err := c.send.writePacket(c.stream, marshalServiceRequest(serviceNameUserAuth)); err != nil {
			return false, err
		}
		as.phase = authPhaseServiceWait
		return true, nil

	case authPhaseServiceWait:
		return false, nil

	case authPhaseIdle:
		if as.current == nil {
			return false, nil
		}
		if as.pendingSend != nil {
			send := as.pendingSend
			as.pendingSend = nil
			if err := send(c); err != nil {
				return false, err
			}
			as.phase = authPhaseWaitReply
			return true, nil
		}
		return false, nil

	case authPhaseWaitReply:
		return false, nil

	case authPhaseAuthenticated:
		return false, nil
	}
	return false, nil
}

func recvServiceAccept(c *clientState, payload []byte) error {
	as := c.auth
	if as.phase != authPhaseServiceWait {
		return errProtocol("received unexpected SSH_MSG_SERVICE_ACCEPT")
	}
	d := newDecoder(payload)
	if _, err := d.U8(); err != nil {
		return errDecode("malformed SSH_MSG_SERVICE_ACCEPT", err)
	}
	name, err := d.StringS()
	if err != nil || name != serviceNameUserAuth {
		return errProtocolf("unexpected service accepted: %q", name)
	}
	as.phase = authPhaseIdle
	c.logger.Debug("ssh-userauth service accepted")
	return nil
}

// startAuthNone begins "none" authentication, typically used to learn the
// set of methods the server accepts.
func startAuthNone(c *clientState, username string, resultCh chan error) error {
	return startAuth(c, username, "none", resultCh, nil, nil, func(c *clientState) error {
		e := marshalUserAuthRequestHeader(username, serviceNameConnection, "none")
		_, err := c.send.writePacket(c.stream, e.Bytes())
		return err
	})
}

// startAuthPassword begins password authentication; changeReq, if non-nil,
// receives the server's prompt on SSH_MSG_USERAUTH_PASSWD_CHANGEREQ.
func startAuthPassword(c *clientState, username, password string, resultCh chan error, changeReq chan string) error {
	return startAuth(c, username, "password", resultCh, nil, changeReq, func(c *clientState) error {
		e := marshalUserAuthRequestHeader(username, serviceNameConnection, "password")
		e.PutBool(false)
		e.PutStringS(password)
		_, err := c.send.writePacket(c.stream, e.Bytes())
		return err
	})
}

func startAuth(c *clientState, username, method string, resultCh chan error, bannerCh chan string, changeReq chan string, send func(c *clientState) error) error {
	as := c.auth
	if as.authenticated {
		return errProtocol("authentication already completed")
	}
	if as.current != nil {
		as.current.resultCh <- ErrAuthAborted
		if as.current.bannerCh != nil {
			close(as.current.bannerCh)
		}
		if as.current.changeReq != nil {
			close(as.current.changeReq)
		}
	}
	as.username = username
	as.current = &authAttempt{method: method, resultCh: resultCh, bannerCh: bannerCh, changeReq: changeReq}
	as.pendingSend = send
	if as.phase == authPhaseWaitReply || as.phase == authPhaseIdle {
		as.phase = authPhaseIdle
	}
	return nil
}

func recvUserAuthFailure(c *clientState, payload []byte) error {
	as := c.auth
	if as.current == nil {
		return errProtocol("received SSH_MSG_USERAUTH_FAILURE with no pending request")
	}
	msg, err := parseUserAuthFailureMsg(payload)
	if err != nil {
		return errDecode("malformed SSH_MSG_USERAUTH_FAILURE", err)
	}
	current := as.current
	as.current = nil
	as.phase = authPhaseIdle
	current.resultCh <- &AuthFailureError{MethodsCanContinue: msg.MethodsCanContinue, PartialSuccess: msg.PartialSuccess}
	if current.bannerCh != nil {
		close(current.bannerCh)
	}
	if current.changeReq != nil {
		close(current.changeReq)
	}
	return nil
}

func recvUserAuthSuccess(c *clientState, payload []byte) error {
	as := c.auth
	if as.current == nil {
		return errProtocol("received SSH_MSG_USERAUTH_SUCCESS with no pending request")
	}
	current := as.current
	as.current = nil
	as.authenticated = true
	as.phase = authPhaseAuthenticated
	current.resultCh <- nil
	if current.bannerCh != nil {
		close(current.bannerCh)
	}
	if current.changeReq != nil {
		close(current.changeReq)
	}
	releaseParkedChannelOpens(c)
	return nil
}

func recvUserAuthBanner(c *clientState, payload []byte) error {
	msg, err := parseUserAuthBannerMsg(payload)
	if err != nil {
		return errDecode("malformed SSH_MSG_USERAUTH_BANNER", err)
	}
	if as := c.auth; as.current != nil && as.current.bannerCh != nil {
		select {
		case as.current.bannerCh <- msg.Message:
		default:
		}
	}
	return nil
}

func recvUserAuthPasswdChangeReq(c *clientState, payload []byte) error {
	as := c.auth
	if as.current == nil || as.current.method != "password" {
		return errProtocol("received SSH_MSG_USERAUTH_PASSWD_CHANGEREQ outside password auth")
	}
	msg, err := parseUserAuthPasswdChangeReqMsg(payload)
	if err != nil {
		return errDecode("malformed SSH_MSG_USERAUTH_PASSWD_CHANGEREQ", err)
	}
	if as.current.changeReq != nil {
		select {
		case as.current.changeReq <- msg.Prompt:
		default:
		}
	}
	// The server will follow up with either USERAUTH_FAILURE or
	// USERAUTH_SUCCESS; this core does not itself retry with a new
	// password (that decision belongs to the application).
	return nil
}
