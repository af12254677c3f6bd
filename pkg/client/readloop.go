package client

import (
	"encoding/json"

	"github.com/coder/websocket"

	"github.com/lensrpc/lens/pkg/patch"
	"github.com/lensrpc/lens/pkg/protocol"
)

// readLoop owns conn until it errors (closed locally, closed by the
// server, or a transport failure) and dispatches every incoming frame.
// Exactly one readLoop runs per live connection.
func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(c.backgroundCtx())
		if err != nil {
			c.onDisconnect(err)
			return
		}
		c.handleFrame(data)
	}
}

func (c *Client) handleFrame(data []byte) {
	var env protocol.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		c.logger.Error("lens: malformed frame from server", "error", err)
		return
	}

	switch env.Type {
	case protocol.FrameResult:
		var frame protocol.ResultFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.logger.Error("lens: malformed result frame", "error", err)
			return
		}
		c.resolvePending(frame.ID, frame)
	case protocol.FrameError:
		var frame protocol.ErrorFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.logger.Error("lens: malformed error frame", "error", err)
			return
		}
		c.handleErrorFrame(frame)
	case protocol.FrameUpdate:
		var frame protocol.UpdateFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.logger.Error("lens: malformed update frame", "error", err)
			return
		}
		c.handleUpdateFrame(frame)
	case protocol.FrameReconnectAck:
		var frame protocol.ReconnectAckFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.logger.Error("lens: malformed reconnect ack", "error", err)
			return
		}
		c.resolveReconnectAck(frame)
	default:
		c.logger.Warn("lens: unhandled frame type from server", "type", env.Type)
	}
}

func (c *Client) resolvePending(id string, frame protocol.ResultFrame) {
	c.pendingMu.Lock()
	pc, ok := c.pending[id]
	c.pendingMu.Unlock()
	if !ok {
		return
	}
	select {
	case pc.resultCh <- frame:
	default:
	}
}

func (c *Client) handleErrorFrame(frame protocol.ErrorFrame) {
	c.pendingMu.Lock()
	pc, isPending := c.pending[frame.ID]
	c.pendingMu.Unlock()
	if isPending {
		select {
		case pc.errCh <- protocol.NewError(frame.Error.Code, frame.Error.Message):
		default:
		}
		return
	}

	c.subsMu.Lock()
	sub, isSub := c.subs[frame.ID]
	c.subsMu.Unlock()
	if isSub {
		sub.deliverError(protocol.NewError(frame.Error.Code, frame.Error.Message))
		return
	}

	c.logger.Error("lens: connection-level error from server", "code", frame.Error.Code, "message", frame.Error.Message)
}

func (c *Client) handleUpdateFrame(frame protocol.UpdateFrame) {
	c.subsMu.Lock()
	sub, ok := c.subs[frame.SubscriptionID]
	c.subsMu.Unlock()
	if !ok {
		return
	}

	version := 0
	if frame.Version != nil {
		version = *frame.Version
	}

	if len(frame.Patch) > 0 {
		var ops []patch.Op
		if err := json.Unmarshal(frame.Patch, &ops); err != nil {
			c.logger.Error("lens: malformed patch", "subscription", frame.SubscriptionID, "error", err)
			return
		}
		next, err := patch.Apply(sub.LastData(), ops)
		if err != nil {
			c.logger.Error("lens: patch apply failed", "subscription", frame.SubscriptionID, "error", err)
			return
		}
		sub.applyPatch(next, version)
		return
	}

	var data map[string]any
	if len(frame.Data) > 0 {
		if err := json.Unmarshal(frame.Data, &data); err != nil {
			c.logger.Error("lens: malformed snapshot", "subscription", frame.SubscriptionID, "error", err)
			return
		}
	}
	sub.setSnapshot(data, version)
}
