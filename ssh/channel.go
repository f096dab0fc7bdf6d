package ssh

// Default flow-control parameters. 2 MiB matches the window OpenSSH
// itself offers.
const (
	defaultWindowSize    = 2 * 1024 * 1024
	defaultMaxPacketSize = 32 * 1024
)

type channelOpenState int

const (
	channelOpening channelOpenState = iota
	channelOpen
	channelClosing
	channelClosed
)

// channelRequest is a pending CHANNEL_REQUEST awaiting CHANNEL_SUCCESS or
// CHANNEL_FAILURE; replies arrive in FIFO order regardless of which
// request they answer, so channelState keeps a plain queue.
type channelRequest struct {
	resultCh chan error
}

// channelState is one multiplexed channel's driver-side record. All
// fields are only ever touched from the driver
// goroutine; handle goroutines interact with it exclusively through the
// channels embedded in ChannelHandle.
type channelState struct {
	localID  uint32
	remoteID uint32

	openState channelOpenState
	openResultCh chan error // delivered once on OPEN_CONFIRMATION/FAILURE

	localWindow  uint32
	remoteWindow uint32
	maxPacket    uint32

	localEOF   bool
	remoteEOF  bool
	localClose bool
	remoteClose bool

	dataCh    chan []byte // buffered; driver pushes, handle reads
	extDataCh chan extendedData
	closedCh  chan struct{} // closed once both directions have closed

	requests []*channelRequest

	incomingRequests chan *incomingChannelRequest
}

type extendedData struct {
	typeCode uint32
	data     []byte
}

// incomingChannelRequest surfaces a server-initiated CHANNEL_REQUEST (e.g.
// "exit-status") to the application; Reply must be called if WantReply.
// Reply hands its write back to the driver goroutine via commands, since
// only the driver ever touches the wire.
type incomingChannelRequest struct {
	RequestType string
	Payload     []byte
	WantReply   bool
	remoteID    uint32
	commands    chan<- func(*clientState) error
}

func (r *incomingChannelRequest) Reply(success bool) {
	if !r.WantReply {
		return
	}
	remoteID := r.remoteID
	r.commands <- func(c *clientState) error {
		msgID := byte(msgChannelFailure)
		if success {
			msgID = msgChannelSuccess
		}
		e := newEncoder()
		e.PutU8(msgID)
		e.PutU32(remoteID)
		_, err := c.send.writePacket(c.stream, e.Bytes())
		return err
	}
}

// pendingChannelOpen is a client-initiated channel open awaiting a reply,
// or parked until authentication completes and released FIFO.
type pendingChannelOpen struct {
	channelType string
	extraData   []byte
	resultCh    chan openChannelResult
}

type openChannelResult struct {
	channel *channelState
	err     error
}

type connState struct {
	nextLocalID  uint32
	channels     map[uint32]*channelState
	parkedOpens  []*pendingChannelOpen
	globalReqs   []chan globalRequestResult // FIFO for our own global requests awaiting reply
}

type globalRequestResult struct {
	success bool
	payload []byte
}

func newConnState() *connState {
	return &connState{channels: make(map[uint32]*channelState)}
}

func newChannelState(localID uint32) *channelState {
	return &channelState{
		localID:      localID,
		localWindow:  defaultWindowSize,
		maxPacket:    defaultMaxPacketSize,
		dataCh:       make(chan []byte, 64),
		extDataCh:    make(chan extendedData, 64),
		closedCh:     make(chan struct{}),
		incomingRequests: make(chan *incomingChannelRequest, 8),
	}
}

// requestChannelOpen starts opening a channel; if authentication has not
// completed yet, the request is parked and released FIFO on
// USERAUTH_SUCCESS.
func requestChannelOpen(c *clientState, channelType string, extraData []byte, resultCh chan openChannelResult) {
	po := &pendingChannelOpen{channelType: channelType, extraData: extraData, resultCh: resultCh}
	if !c.auth.authenticated {
		c.conn.parkedOpens = append(c.conn.parkedOpens, po)
		return
	}
	sendChannelOpen(c, po)
}

func releaseParkedChannelOpens(c *clientState) {
	parked := c.conn.parkedOpens
	c.conn.parkedOpens = nil
	for _, po := range parked {
		sendChannelOpen(c, po)
	}
}

func sendChannelOpen(c *clientState, po *pendingChannelOpen) {
	conn := c.conn
	localID := conn.nextLocalID
	conn.nextLocalID++

	ch := newChannelState(localID)
	ch.openState = channelOpening
	ch.openResultCh = make(chan error, 1)
	conn.channels[localID] = ch

	go func() {
		err := <-ch.openResultCh
		if err != nil {
			po.resultCh <- openChannelResult{err: err}
			return
		}
		po.resultCh <- openChannelResult{channel: ch}
	}()

	msg := &channelOpenMsg{
		ChannelType:   po.channelType,
		SenderChannel: localID,
		WindowSize:    defaultWindowSize,
		MaxPacketSize: defaultMaxPacketSize,
		Payload:       po.extraData,
	}
	if _, err := c.send.writePacket(c.stream, msg.marshal()); err != nil {
		delete(conn.channels, localID)
		ch.openResultCh <- err
	}
}

func recvChannelOpenConfirm(c *clientState, payload []byte) error {
	msg, err := parseChannelOpenConfirmMsg(payload)
	if err != nil {
		return errDecode("malformed SSH_MSG_CHANNEL_OPEN_CONFIRMATION", err)
	}
	ch, ok := c.conn.channels[msg.RecipientChannel]
	if !ok || ch.openState != channelOpening {
		return errProtocolf("SSH_MSG_CHANNEL_OPEN_CONFIRMATION for unknown channel %d", msg.RecipientChannel)
	}
	ch.remoteID = msg.SenderChannel
	ch.remoteWindow = msg.WindowSize
	ch.maxPacket = minU32(ch.maxPacket, msg.MaxPacketSize)
	ch.openState = channelOpen
	ch.openResultCh <- nil
	return nil
}

func recvChannelOpenFailure(c *clientState, payload []byte) error {
	msg, err := parseChannelOpenFailureMsg(payload)
	if err != nil {
		return errDecode("malformed SSH_MSG_CHANNEL_OPEN_FAILURE", err)
	}
	ch, ok := c.conn.channels[msg.RecipientChannel]
	if !ok || ch.openState != channelOpening {
		return errProtocolf("SSH_MSG_CHANNEL_OPEN_FAILURE for unknown channel %d", msg.RecipientChannel)
	}
	delete(c.conn.channels, msg.RecipientChannel)
	ch.openResultCh <- &ChannelFailureError{Reason: msg.Reason, Description: msg.Description}
	return nil
}

func recvChannelWindowAdjust(c *clientState, payload []byte) error {
	msg, err := parseChannelWindowAdjustMsg(payload)
	if err != nil {
		return errDecode("malformed SSH_MSG_CHANNEL_WINDOW_ADJUST", err)
	}
	ch, err := lookupChannel(c, msg.RecipientChannel)
	if err != nil {
		return err
	}
	ch.remoteWindow += msg.BytesToAdd
	return nil
}

func recvChannelData(c *clientState, payload []byte) error {
	msg, err := parseChannelDataMsg(payload)
	if err != nil {
		return errDecode("malformed SSH_MSG_CHANNEL_DATA", err)
	}
	ch, err := lookupChannel(c, msg.RecipientChannel)
	if err != nil {
		return err
	}
	if ch.remoteEOF || ch.remoteClose {
		return errProtocol("channel data received after the peer's CHANNEL_EOF")
	}
	if uint32(len(msg.Data)) > ch.localWindow {
		return errProtocol("peer sent more channel data than the advertised window allows")
	}
	ch.localWindow -= uint32(len(msg.Data))
	ch.dataCh <- msg.Data
	maybeAdjustWindow(c, ch)
	return nil
}

func recvChannelExtendedData(c *clientState, payload []byte) error {
	msg, err := parseChannelExtendedDataMsg(payload)
	if err != nil {
		return errDecode("malformed SSH_MSG_CHANNEL_EXTENDED_DATA", err)
	}
	ch, err := lookupChannel(c, msg.RecipientChannel)
	if err != nil {
		return err
	}
	if ch.remoteEOF || ch.remoteClose {
		return errProtocol("extended channel data received after the peer's CHANNEL_EOF")
	}
	if uint32(len(msg.Data)) > ch.localWindow {
		return errProtocol("peer sent more extended channel data than the advertised window allows")
	}
	ch.localWindow -= uint32(len(msg.Data))
	ch.extDataCh <- extendedData{typeCode: msg.DataTypeCode, data: msg.Data}
	maybeAdjustWindow(c, ch)
	return nil
}

// maybeAdjustWindow tops the local window back up once it has fallen below
// half its starting size, the common OpenSSH-client heuristic: windows
// stay non-negative and are periodically replenished.
func maybeAdjustWindow(c *clientState, ch *channelState) {
	if ch.localEOF || ch.localClose {
		return
	}
	if ch.localWindow >= defaultWindowSize/2 {
		return
	}
	add := uint32(defaultWindowSize) - ch.localWindow
	if add == 0 {
		return
	}
	if _, err := c.send.writePacket(c.stream, (&channelWindowAdjustMsg{RecipientChannel: ch.remoteID, BytesToAdd: add}).marshal()); err == nil {
		ch.localWindow += add
	}
	c.metrics.windowGauge("local", ch.localWindow)
}

func recvChannelEOF(c *clientState, payload []byte) error {
	recipient, err := parseRecipientOnly(payload)
	if err != nil {
		return errDecode("malformed SSH_MSG_CHANNEL_EOF", err)
	}
	ch, err := lookupChannel(c, recipient)
	if err != nil {
		return err
	}
	ch.remoteEOF = true
	close(ch.dataCh)
	close(ch.extDataCh)
	return nil
}

func recvChannelClose(c *clientState, payload []byte) error {
	recipient, err := parseRecipientOnly(payload)
	if err != nil {
		return errDecode("malformed SSH_MSG_CHANNEL_CLOSE", err)
	}
	ch, err := lookupChannel(c, recipient)
	if err != nil {
		return err
	}
	ch.remoteClose = true
	if !ch.remoteEOF {
		ch.remoteEOF = true
		close(ch.dataCh)
		close(ch.extDataCh)
	}
	if !ch.localClose {
		if _, werr := c.send.writePacket(c.stream, marshalChannelClose(ch.remoteID)); werr != nil {
			return werr
		}
		ch.localClose = true
	}
	delete(c.conn.channels, ch.localID)
	close(ch.closedCh)
	return nil
}

func recvChannelRequest(c *clientState, payload []byte) error {
	msg, err := parseChannelRequestMsg(payload)
	if err != nil {
		return errDecode("malformed SSH_MSG_CHANNEL_REQUEST", err)
	}
	ch, err := lookupChannel(c, msg.RecipientChannel)
	if err != nil {
		return err
	}
	ir := &incomingChannelRequest{
		RequestType: msg.RequestType,
		Payload:     msg.Payload,
		WantReply:   msg.WantReply,
		remoteID:    ch.remoteID,
		commands:    c.commands,
	}
	select {
	case ch.incomingRequests <- ir:
	default:
		if msg.WantReply {
			ir.Reply(false)
		}
	}
	return nil
}

func recvChannelSuccess(c *clientState, payload []byte) error {
	return resolveChannelRequest(c, payload, nil)
}

func recvChannelFailure(c *clientState, payload []byte) error {
	return resolveChannelRequest(c, payload, ErrChannelClosed)
}

func resolveChannelRequest(c *clientState, payload []byte, failureErr error) error {
	recipient, err := parseRecipientOnly(payload)
	if err != nil {
		return errDecode("malformed channel request reply", err)
	}
	ch, err := lookupChannel(c, recipient)
	if err != nil {
		return err
	}
	if len(ch.requests) == 0 {
		return errProtocolf("unexpected channel request reply on channel %d", ch.localID)
	}
	req := ch.requests[0]
	ch.requests = ch.requests[1:]
	if failureErr != nil {
		req.resultCh <- &ChannelFailureError{Description: "channel request denied"}
	} else {
		req.resultCh <- nil
	}
	return nil
}

func lookupChannel(c *clientState, localID uint32) (*channelState, error) {
	ch, ok := c.conn.channels[localID]
	if !ok {
		return nil, errProtocolf("message referenced unknown channel %d", localID)
	}
	return ch, nil
}

func minU32(a, b uint32) uint32 {
	if a < b {
		return a
	}
	return b
}
