package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/lensrpc/lens/pkg/protocol"
)

// Subscribe opens a long-lived subscription to path, delivering every
// reconciled value to observer.Next and any terminal error to
// observer.Error. The returned Subscription is registered in the
// client's registry and replayed automatically on reconnect.
func (c *Client) Subscribe(ctx context.Context, path string, input any, fields protocol.FieldsSelector, observer Observer) (*Subscription, error) {
	id := newID()

	entity := ""
	c.metaMu.Lock()
	if meta, ok := c.meta[path]; ok {
		entity = meta.ReturnType
	}
	c.metaMu.Unlock()

	sub := &Subscription{
		client:   c,
		id:       id,
		path:     path,
		input:    input,
		fields:   fields,
		state:    SubActive,
		entity:   entity,
		observer: observer,
	}

	c.subsMu.Lock()
	c.subs[id] = sub
	c.subsMu.Unlock()

	pc := c.registerPending(id)
	defer c.removePending(id)

	encoded, err := json.Marshal(input)
	if err != nil {
		c.removeSubscription(id)
		return nil, fmt.Errorf("client: encoding input: %w", err)
	}

	frame := protocol.CallFrame{Type: protocol.FrameSubscribe, ID: id, Operation: path, Input: encoded, Fields: &fields}
	if err := c.writeFrame(frame); err != nil {
		c.removeSubscription(id)
		return nil, err
	}

	select {
	case result := <-pc.resultCh:
		var data map[string]any
		if len(result.Data) > 0 {
			if err := json.Unmarshal(result.Data, &data); err != nil {
				c.removeSubscription(id)
				return nil, fmt.Errorf("client: decoding subscribe result: %w", err)
			}
		}
		if entityID, ok := data["id"].(string); ok {
			sub.mu.Lock()
			sub.entityID = entityID
			sub.mu.Unlock()
		}
		sub.setSnapshot(data, 0)
		return sub, nil
	case opErr := <-pc.errCh:
		c.removeSubscription(id)
		return nil, opErr
	case <-ctx.Done():
		c.removeSubscription(id)
		return nil, ctx.Err()
	case <-c.closed:
		c.removeSubscription(id)
		return nil, fmt.Errorf("client: closed")
	}
}

func (c *Client) removeSubscription(id string) {
	c.subsMu.Lock()
	delete(c.subs, id)
	c.subsMu.Unlock()
}

// Unsubscribe ends subscription id, notifying the server and dropping
// it from the client's registry.
func (c *Client) Unsubscribe(id string) error {
	c.subsMu.Lock()
	sub, ok := c.subs[id]
	delete(c.subs, id)
	c.subsMu.Unlock()
	if ok {
		sub.markClosed()
	}
	return c.writeFrame(protocol.UnsubscribeFrame{Type: protocol.FrameUnsubscribe, ID: id})
}

// UpdateFields renegotiates subscription id's tracked field set. A
// non-nil set replaces the field set outright; otherwise add/remove
// are applied on the server (the client records only the net effect of
// a full replace locally — see DESIGN.md for why incremental add/remove
// tracking is not replicated client-side).
func (c *Client) UpdateFields(id string, set *protocol.FieldsSelector, add, remove []string) error {
	c.subsMu.Lock()
	sub, ok := c.subs[id]
	c.subsMu.Unlock()
	if !ok {
		return fmt.Errorf("client: unknown subscription %q", id)
	}
	if set != nil {
		sub.setFields(*set)
	}
	return c.writeFrame(protocol.UpdateFieldsFrame{Type: protocol.FrameUpdateFields, ID: id, SetFields: set, AddFields: add, RemoveFields: remove})
}
