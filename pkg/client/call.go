package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/lensrpc/lens/pkg/protocol"
)

func (c *Client) registerPending(id string) pendingCall {
	pc := pendingCall{resultCh: make(chan protocol.ResultFrame, 1), errCh: make(chan *protocol.Error, 1)}
	c.pendingMu.Lock()
	c.pending[id] = pc
	c.pendingMu.Unlock()
	return pc
}

func (c *Client) removePending(id string) {
	c.pendingMu.Lock()
	delete(c.pending, id)
	c.pendingMu.Unlock()
}

func (c *Client) call(ctx context.Context, frameType protocol.FrameType, path string, input any, fields protocol.FieldsSelector) (map[string]any, error) {
	id := newID()
	pc := c.registerPending(id)
	defer c.removePending(id)

	encoded, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("client: encoding input: %w", err)
	}

	frame := protocol.CallFrame{Type: frameType, ID: id, Operation: path, Input: encoded, Fields: &fields}
	if err := c.writeFrame(frame); err != nil {
		return nil, err
	}

	select {
	case result := <-pc.resultCh:
		var data map[string]any
		if len(result.Data) > 0 {
			if err := json.Unmarshal(result.Data, &data); err != nil {
				return nil, fmt.Errorf("client: decoding result: %w", err)
			}
		}
		return data, nil
	case opErr := <-pc.errCh:
		return nil, opErr
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.closed:
		return nil, fmt.Errorf("client: closed")
	}
}

// Query invokes path as a one-shot query and waits for its result.
func (c *Client) Query(ctx context.Context, path string, input any, fields protocol.FieldsSelector) (map[string]any, error) {
	return c.call(ctx, protocol.FrameQuery, path, input, fields)
}

// Mutation invokes path as a mutation and waits for its result.
func (c *Client) Mutation(ctx context.Context, path string, input any, fields protocol.FieldsSelector) (map[string]any, error) {
	return c.call(ctx, protocol.FrameMutation, path, input, fields)
}
