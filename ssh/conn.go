package ssh

import (
	"context"
)

// ChannelHandle is the application-facing side of a multiplexed channel.
// All methods are safe for concurrent use and communicate with the
// driver goroutine exclusively through channels, never by touching
// channelState fields directly.
type ChannelHandle struct {
	client *Client
	ch     *channelState
}

// Read returns the next chunk of ordinary channel data, or io.EOF-shaped
// ErrChannelClosed once the peer has sent CHANNEL_EOF and no data remains.
func (h *ChannelHandle) Read(ctx context.Context) ([]byte, error) {
	select {
	case data, ok := <-h.ch.dataCh:
		if !ok {
			return nil, ErrChannelClosed
		}
		return data, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-h.client.closed:
		return nil, ErrClientClosed
	}
}

// ReadExtended returns the next chunk of extended data (e.g. stderr).
func (h *ChannelHandle) ReadExtended(ctx context.Context) (typeCode uint32, data []byte, err error) {
	select {
	case ext, ok := <-h.ch.extDataCh:
		if !ok {
			return 0, nil, ErrChannelClosed
		}
		return ext.typeCode, ext.data, nil
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	case <-h.client.closed:
		return 0, nil, ErrClientClosed
	}
}

// Write sends channel data, fragmenting to the negotiated max packet size
// and blocking until the remote window has room.
func (h *ChannelHandle) Write(ctx context.Context, data []byte) error {
	for len(data) > 0 {
		chunk := data
		err := h.client.submit(ctx, func(c *clientState) error {
			ch := h.ch
			if ch.localClose || ch.remoteClose {
				return ErrChannelClosed
			}
			n := len(chunk)
			if n > int(ch.maxPacket) {
				n = int(ch.maxPacket)
			}
			if uint32(n) > ch.remoteWindow {
				n = int(ch.remoteWindow)
			}
			if n == 0 {
				return errWindowExhausted
			}
			msg := &channelDataMsg{RecipientChannel: ch.remoteID, Data: chunk[:n]}
			if _, err := c.send.writePacket(c.stream, msg.marshal()); err != nil {
				return err
			}
			ch.remoteWindow -= uint32(n)
			chunk = chunk[n:]
			return nil
		})
		if err != nil {
			if err == errWindowExhausted {
				if waitErr := h.waitWindow(ctx, h.ch); waitErr != nil {
					return waitErr
				}
				continue
			}
			return err
		}
		data = chunk
	}
	return nil
}

// SendEOF signals CHANNEL_EOF; no more data will be written by this side.
func (h *ChannelHandle) SendEOF(ctx context.Context) error {
	return h.client.submit(ctx, func(c *clientState) error {
		if h.ch.localEOF {
			return nil
		}
		if _, err := c.send.writePacket(c.stream, marshalChannelEOF(h.ch.remoteID)); err != nil {
			return err
		}
		h.ch.localEOF = true
		return nil
	})
}

// Close sends CHANNEL_CLOSE if not already sent; the handle remains valid
// for reading until the peer's own CLOSE arrives.
func (h *ChannelHandle) Close(ctx context.Context) error {
	return h.client.submit(ctx, func(c *clientState) error {
		if h.ch.localClose {
			return nil
		}
		if _, err := c.send.writePacket(c.stream, marshalChannelClose(h.ch.remoteID)); err != nil {
			return err
		}
		h.ch.localClose = true
		return nil
	})
}

// Request sends a CHANNEL_REQUEST (e.g. "exec", "pty-req", "shell"); if
// wantReply, it blocks for CHANNEL_SUCCESS/FAILURE.
func (h *ChannelHandle) Request(ctx context.Context, requestType string, wantReply bool, payload []byte) error {
	resultCh := make(chan error, 1)
	err := h.client.submit(ctx, func(c *clientState) error {
		msg := &channelRequestMsg{RecipientChannel: h.ch.remoteID, RequestType: requestType, WantReply: wantReply, Payload: payload}
		if _, err := c.send.writePacket(c.stream, msg.marshal()); err != nil {
			return err
		}
		if wantReply {
			h.ch.requests = append(h.ch.requests, &channelRequest{resultCh: resultCh})
		}
		return nil
	})
	if err != nil {
		return err
	}
	if !wantReply {
		return nil
	}
	select {
	case err := <-resultCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-h.client.closed:
		return ErrClientClosed
	}
}

// Requests returns the channel through which server-initiated
// CHANNEL_REQUESTs (e.g. "exit-status") are delivered.
func (h *ChannelHandle) Requests() <-chan *incomingChannelRequest {
	return h.ch.incomingRequests
}

// Done is closed once both directions of the channel have closed.
func (h *ChannelHandle) Done() <-chan struct{} { return h.ch.closedCh }

var errWindowExhausted = errProtocol("remote channel window exhausted")

// waitWindow blocks until the remote window for ch is non-zero: it checks
// the window through the command channel and, while it is still zero,
// sleeps on the driver's windowGrewGen broadcast before checking again,
// bounded by ctx.
func (h *ChannelHandle) waitWindow(ctx context.Context, ch *channelState) error {
	for {
		type snapshot struct {
			grown bool
			gen   chan struct{}
		}
		snapCh := make(chan snapshot, 1)
		err := h.client.submit(ctx, func(c *clientState) error {
			snapCh <- snapshot{grown: ch.remoteWindow > 0, gen: c.windowGrewGen}
			return nil
		})
		if err != nil {
			return err
		}
		snap := <-snapCh
		if snap.grown {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-h.client.closed:
			return ErrClientClosed
		case <-snap.gen:
		}
	}
}
