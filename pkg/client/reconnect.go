package client

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/coder/websocket"

	"github.com/lensrpc/lens/pkg/patch"
	"github.com/lensrpc/lens/pkg/protocol"
)

// backgroundCtx is the context the read loop blocks on. It is canceled
// when the client is closed, unblocking the in-flight Read so the loop
// can exit instead of leaking.
func (c *Client) backgroundCtx() context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connCtx
}

// onDisconnect runs once per dropped connection: every pending call and
// active subscription is put on notice, then, if reconnecting is
// enabled, a single reconnect loop is started.
func (c *Client) onDisconnect(err error) {
	select {
	case <-c.closed:
		return
	default:
	}

	c.logger.Warn("lens: connection lost", "error", err)

	c.pendingMu.Lock()
	for id, pc := range c.pending {
		select {
		case pc.errCh <- protocol.NewError(protocol.CodeInternalError, "connection lost"):
		default:
		}
		delete(c.pending, id)
	}
	c.pendingMu.Unlock()

	c.subsMu.Lock()
	subs := make([]*Subscription, 0, len(c.subs))
	for _, sub := range c.subs {
		subs = append(subs, sub)
	}
	c.subsMu.Unlock()

	if !c.cfg.Reconnect.Enabled {
		c.setState(StateDisconnected)
		for _, sub := range subs {
			sub.markClosed()
		}
		return
	}

	for _, sub := range subs {
		sub.markReconnecting()
	}
	c.setState(StateReconnecting)
	go c.reconnectLoop()
}

// reconnectLoop re-dials, re-handshakes, and replays every reconnecting
// subscription in a single reconnect frame, following the exponential
// backoff shape production retry loops in this codebase use: bounded
// retries rather than a bounded elapsed time, since a caller-visible
// attempt count is what operators reason about.
func (c *Client) reconnectLoop() {
	cfg := c.cfg.Reconnect
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cfg.BaseDelay
	if bo.InitialInterval <= 0 {
		bo.InitialInterval = time.Second
	}
	bo.MaxElapsedTime = 0
	if !cfg.Jitter {
		bo.RandomizationFactor = 0
	}
	bounded := backoff.WithMaxRetries(bo, uint64(maxAttempts(cfg.MaxAttempts)))

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		select {
		case <-c.closed:
			return backoff.Permanent(fmt.Errorf("client: closed"))
		default:
		}
		if rerr := c.attemptReconnect(); rerr != nil {
			c.logger.Warn("lens: reconnect attempt failed", "attempt", attempt, "error", rerr)
			return rerr
		}
		return nil
	}, bounded)

	if err != nil {
		c.logger.Error("lens: reconnect exhausted", "attempts", attempt, "error", err)
		c.setState(StateDisconnected)
		c.subsMu.Lock()
		subs := make([]*Subscription, 0, len(c.subs))
		for _, sub := range c.subs {
			subs = append(subs, sub)
		}
		c.subsMu.Unlock()
		for _, sub := range subs {
			sub.markClosed()
		}
		return
	}
	c.setState(StateConnected)
}

func maxAttempts(configured int) int {
	if configured > 0 {
		return configured
	}
	return 5
}

func (c *Client) attemptReconnect() error {
	c.setState(StateConnecting)
	ctx, cancel := context.WithTimeout(context.Background(), c.operationTimeout())
	defer cancel()

	conn, _, err := websocket.Dial(ctx, c.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("client: reconnect dial failed: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	if err := c.handshake(ctx); err != nil {
		_ = conn.Close(websocket.StatusInternalError, "handshake failed")
		return err
	}

	if err := c.replaySubscriptions(ctx); err != nil {
		_ = conn.Close(websocket.StatusInternalError, "reconnect replay failed")
		return err
	}

	go c.readLoop(conn)
	return nil
}

func (c *Client) replaySubscriptions(ctx context.Context) error {
	c.subsMu.Lock()
	reconnecting := make([]*Subscription, 0, len(c.subs))
	for _, sub := range c.subs {
		if sub.State() == SubReconnecting {
			reconnecting = append(reconnecting, sub)
		}
	}
	c.subsMu.Unlock()

	if len(reconnecting) == 0 {
		return nil
	}

	reconnectID := newID()
	entries := make([]protocol.ReconnectSubscription, 0, len(reconnecting))
	byID := make(map[string]*Subscription, len(reconnecting))
	for _, sub := range reconnecting {
		id, _, input, fields, version, lastData, entity, entityID := sub.snapshotFields()
		hash := ""
		if lastData != nil {
			if h, herr := patch.DataHash(lastData); herr == nil {
				hash = h
			}
		}
		var encodedInput json.RawMessage
		if input != nil {
			encoded, ierr := json.Marshal(input)
			if ierr != nil {
				return fmt.Errorf("client: encoding reconnect input: %w", ierr)
			}
			encodedInput = encoded
		}
		entries = append(entries, protocol.ReconnectSubscription{
			ID: id, Entity: entity, EntityID: entityID, Fields: fields,
			Version: version, DataHash: hash, Input: encodedInput,
		})
		byID[id] = sub
	}

	ackCh := make(chan protocol.ReconnectAckFrame, 1)
	c.reconnectMu.Lock()
	c.pendingReconnect[reconnectID] = ackCh
	c.reconnectMu.Unlock()
	defer func() {
		c.reconnectMu.Lock()
		delete(c.pendingReconnect, reconnectID)
		c.reconnectMu.Unlock()
	}()

	frame := protocol.ReconnectFrame{Type: protocol.FrameReconnect, ReconnectID: reconnectID, Subscriptions: entries}
	if err := c.writeFrame(frame); err != nil {
		return err
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		var ack protocol.ReconnectAckFrame
		if json.Unmarshal(data, &ack) == nil && ack.Type == protocol.FrameReconnectAck && ack.ReconnectID == reconnectID {
			c.applyReconnectAck(ack, byID)
			return nil
		}
		c.handleFrame(data)
	}
}

func (c *Client) applyReconnectAck(ack protocol.ReconnectAckFrame, byID map[string]*Subscription) {
	for _, result := range ack.Results {
		sub, ok := byID[result.ID]
		if !ok {
			continue
		}
		switch result.Status {
		case protocol.ReconnectUnchanged:
			sub.mu.Lock()
			sub.state = SubActive
			sub.mu.Unlock()
		case protocol.ReconnectSnapshot:
			var data map[string]any
			if len(result.Data) > 0 {
				if err := json.Unmarshal(result.Data, &data); err != nil {
					c.logger.Error("lens: malformed reconnect snapshot", "subscription", result.ID, "error", err)
					continue
				}
			}
			sub.setSnapshot(data, result.Version)
		case protocol.ReconnectPatched:
			next := sub.LastData()
			for _, raw := range result.Patches {
				var ops []patch.Op
				if err := json.Unmarshal(raw, &ops); err != nil {
					c.logger.Error("lens: malformed reconnect patch", "subscription", result.ID, "error", err)
					continue
				}
				applied, err := patch.Apply(next, ops)
				if err != nil {
					c.logger.Error("lens: reconnect patch apply failed", "subscription", result.ID, "error", err)
					continue
				}
				next = applied
			}
			sub.applyPatch(next, result.Version)
		case protocol.ReconnectGone:
			sub.markClosed()
			sub.deliverError(protocol.NewError(protocol.CodeNotFound, "subscription target no longer exists"))
		}
	}
	if c.cfg.OnReconnect != nil {
		c.cfg.OnReconnect(ack.Results)
	}
}

func (c *Client) resolveReconnectAck(frame protocol.ReconnectAckFrame) {
	c.reconnectMu.Lock()
	ch, ok := c.pendingReconnect[frame.ReconnectID]
	c.reconnectMu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- frame:
	default:
	}
}
