package ssh

import "context"

// This core is a pure SSH client: it does not implement any server-side
// channel types (no "forwarded-tcpip", no agent forwarding listener), so
// peer-initiated global requests and channel opens are answered negatively
// rather than surfaced to the application. A reverse-forwarding consumer
// would extend recvGlobalRequest/recvChannelOpenFromPeer to dispatch by
// name instead of always failing.

func recvGlobalRequest(c *clientState, payload []byte) error {
	msg, err := parseGlobalRequestMsg(payload)
	if err != nil {
		return errDecode("malformed SSH_MSG_GLOBAL_REQUEST", err)
	}
	c.logger.WithField("request", msg.Name).Debug("rejecting unsupported global request")
	if !msg.WantReply {
		return nil
	}
	e := newEncoder()
	e.PutU8(msgRequestFailure)
	_, err = c.send.writePacket(c.stream, e.Bytes())
	return err
}

func recvChannelOpenFromPeer(c *clientState, payload []byte) error {
	msg, err := parseChannelOpenMsg(payload)
	if err != nil {
		return errDecode("malformed SSH_MSG_CHANNEL_OPEN", err)
	}
	reply := &channelOpenFailureMsg{
		RecipientChannel: msg.SenderChannel,
		Reason:           ChannelOpenAdministrativelyProhibited,
		Description:      "this client does not accept peer-initiated channels",
	}
	e := newEncoder()
	e.PutU8(msgChannelOpenFailure)
	e.PutU32(reply.RecipientChannel)
	e.PutU32(reply.Reason)
	e.PutStringS(reply.Description)
	e.PutStringS("")
	_, err = c.send.writePacket(c.stream, e.Bytes())
	return err
}

func recvRequestSuccess(c *clientState, payload []byte) error {
	return resolveGlobalRequest(c, globalRequestResult{success: true, payload: payload[1:]})
}

func recvRequestFailure(c *clientState, payload []byte) error {
	return resolveGlobalRequest(c, globalRequestResult{success: false})
}

func resolveGlobalRequest(c *clientState, res globalRequestResult) error {
	reqs := c.conn.globalReqs
	if len(reqs) == 0 {
		return errProtocol("unexpected SSH_MSG_REQUEST_SUCCESS/FAILURE with no pending global request")
	}
	ch := reqs[0]
	c.conn.globalReqs = reqs[1:]
	ch <- globalRequestResult{success: res.success, payload: res.payload}
	close(ch)
	return nil
}

// GlobalRequest sends an SSH_MSG_GLOBAL_REQUEST; if wantReply, it blocks
// for SSH_MSG_REQUEST_SUCCESS/FAILURE and returns the success payload.
func (cl *Client) GlobalRequest(ctx context.Context, name string, wantReply bool, payload []byte) ([]byte, error) {
	var replyCh chan globalRequestResult
	if wantReply {
		replyCh = make(chan globalRequestResult, 1)
	}
	if err := cl.submit(ctx, func(c *clientState) error {
		e := newEncoder()
		e.PutU8(msgGlobalRequest)
		e.PutStringS(name)
		e.PutBool(wantReply)
		e.PutRaw(payload)
		if _, err := c.send.writePacket(c.stream, e.Bytes()); err != nil {
			return err
		}
		if wantReply {
			c.conn.globalReqs = append(c.conn.globalReqs, replyCh)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	if !wantReply {
		return nil, nil
	}
	select {
	case res := <-replyCh:
		if !res.success {
			return nil, &ChannelFailureError{Description: "global request denied"}
		}
		return res.payload, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-cl.closed:
		return nil, ErrClientClosed
	}
}
