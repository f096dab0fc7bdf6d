package ssh

import (
	"bufio"
	"context"
	"io"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Config configures a Client; zero-value fields fall back to a
// conservative default algorithm set. Set Compat to use a broader,
// interop-oriented set instead.
type Config struct {
	// ClientIdent is this side's identification string, e.g.
	// "SSH-2.0-mymodule_1.0". It must not contain CR or LF.
	ClientIdent string

	Compat bool

	KexAlgos     []*KexAlgo
	HostKeyAlgos []*PubkeyAlgo
	CipherAlgos  []*CipherAlgo
	MacAlgos     []*MacAlgo

	// RekeyAfterBytes and RekeyAfterDuration bound how much traffic or
	// time elapses before the driver starts an unsolicited rekey; zero
	// means "use the RFC 4253-recommended default" rather than "never".
	RekeyAfterBytes    uint64
	RekeyAfterDuration time.Duration

	Logger  *logrus.Entry
	Metrics *Metrics
}

const (
	defaultRekeyAfterBytes    = 1 << 30 // 1 GiB, RFC 4253 §9's guidance
	defaultRekeyAfterDuration = time.Hour
)

func (cfg *Config) setDefaults() {
	if cfg.ClientIdent == "" {
		cfg.ClientIdent = "SSH-2.0-gossh_1.0"
	}
	if len(cfg.KexAlgos) == 0 {
		cfg.KexAlgos = defaultKexAlgos()
	}
	if len(cfg.HostKeyAlgos) == 0 {
		if cfg.Compat {
			cfg.HostKeyAlgos = compatiblePubkeyAlgos()
		} else {
			cfg.HostKeyAlgos = defaultPubkeyAlgos()
		}
	}
	if len(cfg.CipherAlgos) == 0 {
		if cfg.Compat {
			cfg.CipherAlgos = compatibleCipherAlgos()
		} else {
			cfg.CipherAlgos = defaultCipherAlgos()
		}
	}
	if len(cfg.MacAlgos) == 0 {
		if cfg.Compat {
			cfg.MacAlgos = compatibleMacAlgos()
		} else {
			cfg.MacAlgos = defaultMacAlgos()
		}
	}
	if cfg.RekeyAfterBytes == 0 {
		cfg.RekeyAfterBytes = defaultRekeyAfterBytes
	}
	if cfg.RekeyAfterDuration == 0 {
		cfg.RekeyAfterDuration = defaultRekeyAfterDuration
	}
	if cfg.Logger == nil {
		cfg.Logger = nopLogger()
	}
}

// EventKind tags the variants of ClientEvent delivered on Client's event
// channel.
type EventKind int

const (
	// EventServerPubkey is emitted once per key exchange, immediately
	// after signature verification succeeds; the application must call
	// Accept to let the handshake proceed.
	EventServerPubkey EventKind = iota
	// EventDebug carries an SSH_MSG_DEBUG line for logging purposes.
	EventDebug
)

// ClientEvent is delivered on the channel returned by Open, capacity 1, so
// a slow or absent consumer applies backpressure to the driver rather than
// being silently dropped.
type ClientEvent struct {
	Kind   EventKind
	Pubkey Pubkey
	Debug  string
	accept chan bool
	client *Client
}

// Accept resolves an EventServerPubkey event; it must be called exactly
// once. Rejecting aborts the connection with ErrPubkeyRejected. The
// decision is submitted through the driver's command channel, the same
// path every other handle method uses, so the driver wakes up and acts
// on it immediately instead of waiting for some unrelated packet or
// command to arrive first.
func (e ClientEvent) Accept(accepted bool) {
	if e.accept == nil {
		return
	}
	acceptCh := e.accept
	_ = e.client.submit(context.Background(), func(c *clientState) error {
		select {
		case acceptCh <- accepted:
		default:
		}
		return nil
	})
}

// clientState is the driver goroutine's private world; every field here is
// touched only from the driver goroutine or from closures it executes via
// commands, so it needs no locking of its own.
type clientState struct {
	stream  io.Writer
	netConn net.Conn

	ourIdent   []byte
	theirIdent []byte
	sessionID  []byte

	send *sendPipe
	recv *recvPipe

	negotiate *negotiateState
	auth      *authState
	conn      *connState

	config  *Config
	logger  *logrus.Entry
	metrics *Metrics

	lastKex lastKex

	commands chan func(*clientState) error
	events   chan ClientEvent

	windowGrewGen chan struct{}

	// selfHandle lets code running on the driver goroutine (negotiate.go's
	// pendingEvent construction) hand the application a way to submit a
	// decision back through commands; it is never read by the driver
	// itself.
	selfHandle *Client
}

// Client is the application-facing handle to a running SSH connection.
// All exported methods are safe for concurrent use.
type Client struct {
	commands chan func(*clientState) error
	events   chan ClientEvent
	closed   chan struct{}

	doneErr error
	doneMu  sync.Mutex
	done    chan struct{}
}

// Open performs the SSH identification exchange over conn, then starts a
// driver goroutine that runs the first key exchange, and returns a handle
// plus the event channel the application must service (see ClientEvent).
func Open(ctx context.Context, conn net.Conn, config Config) (*Client, <-chan ClientEvent, error) {
	config.setDefaults()
	if config.Metrics == nil {
		config.Metrics = NewMetrics(nil)
	}

	ourIdent := []byte(config.ClientIdent)
	if _, err := conn.Write(append(ourIdent, '\r', '\n')); err != nil {
		return nil, nil, err
	}

	br := bufio.NewReader(conn)
	theirIdent, err := readIdentLine(br)
	if err != nil {
		return nil, nil, err
	}

	cs := &clientState{
		stream:        conn,
		netConn:       conn,
		ourIdent:      ourIdent,
		theirIdent:    theirIdent,
		send:          newSendPipe(),
		recv:          newRecvPipe(),
		negotiate:     newNegotiateState(),
		auth:          newAuthState(),
		conn:          newConnState(),
		config:        &config,
		logger:        config.Logger,
		metrics:       config.Metrics,
		commands:      make(chan func(*clientState) error),
		events:        make(chan ClientEvent, 1),
		windowGrewGen: make(chan struct{}),
	}

	cl := &Client{
		commands: cs.commands,
		events:   cs.events,
		closed:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	cs.selfHandle = cl

	go driverLoop(cs, br, cl)

	return cl, cs.events, nil
}

// readIdentLine reads the peer's "SSH-2.0-..." line, tolerating leading
// non-SSH lines as RFC 4253 §4.2 permits, up to a sane bound.
func readIdentLine(br *bufio.Reader) ([]byte, error) {
	for i := 0; i < 50; i++ {
		line, err := br.ReadString('\n')
		if err != nil {
			return nil, errProtocol("connection closed before SSH identification string")
		}
		if len(line) >= 4 && line[:4] == "SSH-" {
			for len(line) > 0 && (line[len(line)-1] == '\n' || line[len(line)-1] == '\r') {
				line = line[:len(line)-1]
			}
			return []byte(line), nil
		}
	}
	return nil, errProtocol("too many lines before SSH identification string")
}

type rawPacket struct {
	msgID   byte
	payload []byte
	err     error
}

func driverLoop(c *clientState, br *bufio.Reader, handle *Client) {
	packets := make(chan rawPacket, 1)
	go func() {
		for {
			payload, err := c.recv.readPacket(br)
			if err != nil {
				packets <- rawPacket{err: err}
				return
			}
			if len(payload) == 0 {
				packets <- rawPacket{err: errProtocol("received empty packet payload")}
				return
			}
			packets <- rawPacket{msgID: payload[0], payload: payload}
		}
	}()

	err := runDriver(c, packets)
	finishDriver(c, handle, err)
}

func finishDriver(c *clientState, handle *Client, err error) {
	if de, ok := err.(*DisconnectError); ok {
		c.logger.WithField("reason", de.Reason).Info("ssh: connection closed")
	} else if err != nil {
		c.logger.WithError(err).Warn("ssh: connection terminating")
	}
	handle.doneMu.Lock()
	handle.doneErr = err
	handle.doneMu.Unlock()
	close(handle.closed)
	close(handle.done)
	c.netConn.Close()
}

// runDriver is the single select loop that owns the connection: it
// alternates between pumping the negotiate/auth state machines to a fixed
// point and waiting for the next input (an incoming packet or a command
// submitted by a handle).
func runDriver(c *clientState, packets chan rawPacket) error {
	var sentSeen, recvdSeen uint64
	reportMetrics := func() {
		if sent := c.send.sentBytesCount(); sent > sentSeen {
			c.metrics.sent(int(sent - sentSeen))
			sentSeen = sent
		}
		if recvd := c.recv.recvdBytesCount(); recvd > recvdSeen {
			c.metrics.recvd(int(recvd - recvdSeen))
			recvdSeen = recvd
		}
	}
	for {
		for {
			progressed, err := pumpNegotiate(c)
			if err != nil {
				return err
			}
			progressedAuth, err := pumpAuth(c)
			if err != nil {
				return err
			}
			if !progressed && !progressedAuth {
				break
			}
		}

		select {
		case pkt := <-packets:
			if pkt.err != nil {
				return pkt.err
			}
			if err := dispatchPacket(c, pkt.msgID, pkt.payload); err != nil {
				if de, ok := err.(*DisconnectError); ok {
					return de
				}
				writeDisconnect(c, DisconnectProtocolError, err.Error())
				return err
			}

		case cmd := <-c.commands:
			if err := cmd(c); err != nil {
				return err
			}
		}
		reportMetrics()
	}
}

func writeDisconnect(c *clientState, reason uint32, desc string) {
	msg := &disconnectMsg{Reason: reason, Description: desc}
	c.send.writePacket(c.stream, msg.marshal())
	c.metrics.disconnect(reason)
}

func dispatchPacket(c *clientState, msgID byte, payload []byte) error {
	switch msgID {
	case msgDisconnect:
		msg, err := parseDisconnectMsg(payload)
		if err != nil {
			return err
		}
		return &DisconnectError{Reason: msg.Reason, Description: msg.Description}

	case msgIgnore:
		return nil

	case msgDebug:
		d := newDecoder(payload)
		if err := d.Skip(2); err != nil { // message number, always_display
			return errDecode("malformed SSH_MSG_DEBUG", err)
		}
		message, err := d.StringS()
		if err != nil {
			return errDecode("malformed SSH_MSG_DEBUG", err)
		}
		c.events <- ClientEvent{Kind: EventDebug, Debug: message}
		return nil

	case msgUnimplemented:
		msg, err := parseUnimplementedMsg(payload)
		if err != nil {
			return err
		}
		_, err = recvUnimplemented(c, msg.PacketSeq)
		return err

	case msgServiceAccept:
		return recvServiceAccept(c, payload)

	case msgExtInfo:
		return nil // no extensions are currently consumed

	case msgKexInit:
		return recvKexInit(c, payload)

	case msgNewKeys:
		return recvNewKeys(c, payload)

	case msgKexECDHInit, msgKexECDHReply:
		return recvKexPacket(c, msgID, payload)

	case msgUserAuthFailure:
		return recvUserAuthFailure(c, payload)

	case msgUserAuthSuccess:
		return recvUserAuthSuccess(c, payload)

	case msgUserAuthBanner:
		return recvUserAuthBanner(c, payload)

	case msgUserAuthPasswdChReq:
		return recvUserAuthPasswdChangeReq(c, payload)

	case msgGlobalRequest:
		return recvGlobalRequest(c, payload)

	case msgRequestSuccess:
		return recvRequestSuccess(c, payload)

	case msgRequestFailure:
		return recvRequestFailure(c, payload)

	case msgChannelOpen:
		return recvChannelOpenFromPeer(c, payload)

	case msgChannelOpenConfirm:
		return recvChannelOpenConfirm(c, payload)

	case msgChannelOpenFailure:
		return recvChannelOpenFailure(c, payload)

	case msgChannelWindowAdjust:
		if err := recvChannelWindowAdjust(c, payload); err != nil {
			return err
		}
		broadcastWindowGrew(c)
		return nil

	case msgChannelData:
		return recvChannelData(c, payload)

	case msgChannelExtendedData:
		return recvChannelExtendedData(c, payload)

	case msgChannelEOF:
		return recvChannelEOF(c, payload)

	case msgChannelClose:
		return recvChannelClose(c, payload)

	case msgChannelRequest:
		return recvChannelRequest(c, payload)

	case msgChannelSuccess:
		if err := recvChannelSuccess(c, payload); err != nil {
			return err
		}
		broadcastWindowGrew(c)
		return nil

	case msgChannelFailure:
		return recvChannelFailure(c, payload)

	default:
		return sendUnimplemented(c)
	}
}

func sendUnimplemented(c *clientState) error {
	e := newEncoder()
	e.PutU8(msgUnimplemented)
	e.PutU32(c.recv.seq - 1)
	_, err := c.send.writePacket(c.stream, e.Bytes())
	return err
}

// broadcastWindowGrew wakes any ChannelHandle.Write blocked in waitWindow;
// the generation-channel-close/replace pattern gives a broadcast signal
// without tracking individual waiters.
func broadcastWindowGrew(c *clientState) {
	close(c.windowGrewGen)
	c.windowGrewGen = make(chan struct{})
}

// submit hands fn to the driver goroutine and waits for it to run,
// returning its error; this is the single channel through which handle
// goroutines mutate clientState.
func (cl *Client) submit(ctx context.Context, fn func(c *clientState) error) error {
	resultCh := make(chan error, 1)
	wrapped := func(c *clientState) error {
		err := fn(c)
		resultCh <- err
		if _, ok := err.(*DisconnectError); ok {
			return err
		}
		return nil
	}
	select {
	case cl.commands <- wrapped:
	case <-ctx.Done():
		return ctx.Err()
	case <-cl.closed:
		return ErrClientClosed
	}
	select {
	case err := <-resultCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-cl.closed:
		return ErrClientClosed
	}
}

// Wait blocks until the connection ends, returning the terminal error (a
// *DisconnectError for a clean peer-initiated shutdown).
func (cl *Client) Wait(ctx context.Context) error {
	select {
	case <-cl.done:
		cl.doneMu.Lock()
		defer cl.doneMu.Unlock()
		return cl.doneErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Disconnect sends SSH_MSG_DISCONNECT and ends the connection.
func (cl *Client) Disconnect(ctx context.Context, reason uint32, description string) error {
	return cl.submit(ctx, func(c *clientState) error {
		writeDisconnect(c, reason, description)
		return &DisconnectError{Reason: reason, Description: description}
	})
}

// AuthNone attempts the "none" authentication method, commonly used only
// to discover which methods the server will accept.
func (cl *Client) AuthNone(ctx context.Context, username string) error {
	resultCh := make(chan error, 1)
	if err := cl.submit(ctx, func(c *clientState) error {
		return startAuthNone(c, username, resultCh)
	}); err != nil {
		return err
	}
	return waitAuthResult(ctx, cl, resultCh)
}

// AuthPassword attempts password authentication; changeReq, if non-nil,
// receives the server's prompt text on SSH_MSG_USERAUTH_PASSWD_CHANGEREQ.
func (cl *Client) AuthPassword(ctx context.Context, username, password string, changeReq chan string) error {
	resultCh := make(chan error, 1)
	if err := cl.submit(ctx, func(c *clientState) error {
		return startAuthPassword(c, username, password, resultCh, changeReq)
	}); err != nil {
		return err
	}
	return waitAuthResult(ctx, cl, resultCh)
}

func waitAuthResult(ctx context.Context, cl *Client, resultCh chan error) error {
	select {
	case err := <-resultCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-cl.closed:
		return ErrClientClosed
	}
}

// OpenChannel opens a new multiplexed channel; if authentication has not
// completed yet, the request is parked and sent once it does.
func (cl *Client) OpenChannel(ctx context.Context, channelType string, extraData []byte) (*ChannelHandle, error) {
	resultCh := make(chan openChannelResult, 1)
	if err := cl.submit(ctx, func(c *clientState) error {
		requestChannelOpen(c, channelType, extraData, resultCh)
		return nil
	}); err != nil {
		return nil, err
	}
	select {
	case res := <-resultCh:
		if res.err != nil {
			return nil, res.err
		}
		return &ChannelHandle{client: cl, ch: res.channel}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-cl.closed:
		return nil, ErrClientClosed
	}
}

// OpenSession opens a "session" channel, the type used to run a shell,
// exec a command, or request a subsystem; it is a convenience wrapper
// around OpenChannel for that one well-known channel type.
func (cl *Client) OpenSession(ctx context.Context) (*ChannelHandle, error) {
	return cl.OpenChannel(ctx, "session", nil)
}

// IsAuthenticated reports whether a USERAUTH_SUCCESS has been received.
func (cl *Client) IsAuthenticated() bool {
	var authenticated bool
	if err := cl.submit(context.Background(), func(c *clientState) error {
		authenticated = c.auth.authenticated
		return nil
	}); err != nil {
		return false
	}
	return authenticated
}

// Rekey starts an immediate key exchange and blocks until it completes, or
// returns ErrRekeyRejected if the peer rejects it via SSH_MSG_UNIMPLEMENTED.
func (cl *Client) Rekey(ctx context.Context) error {
	doneCh := make(chan error, 1)
	if err := cl.submit(ctx, func(c *clientState) error {
		startKex(c, doneCh)
		return nil
	}); err != nil {
		return err
	}
	select {
	case err := <-doneCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-cl.closed:
		return ErrClientClosed
	}
}
