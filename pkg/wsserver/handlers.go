package wsserver

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/lensrpc/lens/pkg/engine"
	"github.com/lensrpc/lens/pkg/observable"
	"github.com/lensrpc/lens/pkg/plugin"
	"github.com/lensrpc/lens/pkg/protocol"
	"github.com/lensrpc/lens/pkg/router"
	"github.com/lensrpc/lens/pkg/schema"
)

func decodeCallFrame(data []byte) (protocol.CallFrame, error) {
	var frame protocol.CallFrame
	err := json.Unmarshal(data, &frame)
	return frame, err
}

func decodeInput(raw json.RawMessage) (any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}

func selectorOrAll(f *protocol.FieldsSelector) protocol.FieldsSelector {
	if f == nil {
		return protocol.AllFields()
	}
	return *f
}

// filterTopLevelFields returns a copy of data restricted to the named
// top-level fields, always keeping "id" regardless of whether it was
// named — a client that selected specific fields still needs the
// entity's identity to correlate the update.
func filterTopLevelFields(data map[string]any, fields []string) map[string]any {
	out := make(map[string]any, len(fields)+1)
	if id, ok := data["id"]; ok {
		out["id"] = id
	}
	for _, f := range fields {
		if v, ok := data[f]; ok {
			out[f] = v
		}
	}
	return out
}

func (c *connection) handleHandshake(data []byte) {
	var frame protocol.HandshakeFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		c.send(errorFrame("", protocol.CodeInvalidInput, "malformed handshake: "+err.Error()))
		return
	}
	meta := c.server.engine.Table().Metadata(1)
	ops := make(map[string]protocol.OpMeta, len(meta.Operations))
	for path, op := range meta.Operations {
		ops[path] = protocol.OpMeta{Type: op.Type, ReturnType: op.ReturnType, Optimistic: op.Optimistic}
	}
	c.send(protocol.HandshakeFrame{Type: protocol.FrameHandshake, Version: meta.Version, Operations: ops})
}

func (c *connection) handleCall(frameType protocol.FrameType, data []byte) {
	frame, err := decodeCallFrame(data)
	if err != nil {
		c.send(errorFrame("", protocol.CodeInvalidInput, "malformed frame: "+err.Error()))
		return
	}
	input, err := decodeInput(frame.Input)
	if err != nil {
		c.send(errorFrame(frame.ID, protocol.CodeInvalidInput, "malformed input: "+err.Error()))
		return
	}

	ctx := c.ctx
	if frameType == protocol.FrameMutation {
		ctx = withOrigin(ctx, originInfo{ConnID: c.id, Kind: router.Mutation})
	}

	req := engine.Request{Path: frame.Operation, Input: input, Fields: selectorOrAll(frame.Fields)}
	result, err := observable.FirstValueFrom(c.server.engine.Execute(ctx, req))
	if err != nil {
		c.send(errorFrame(frame.ID, protocol.CodeInternalError, err.Error()))
		return
	}
	if result.Err != nil {
		c.send(protocol.ErrorFrame{Type: protocol.FrameError, ID: frame.ID, Error: result.Err.Detail()})
		return
	}

	encoded, err := json.Marshal(result.Data)
	if err != nil {
		c.send(errorFrame(frame.ID, protocol.CodeInternalError, "result marshal failed: "+err.Error()))
		return
	}
	c.send(protocol.ResultFrame{Type: protocol.FrameResult, ID: frame.ID, Data: encoded})
}

func (c *connection) handleSubscribe(data []byte) {
	frame, err := decodeCallFrame(data)
	if err != nil {
		c.send(errorFrame("", protocol.CodeInvalidInput, "malformed frame: "+err.Error()))
		return
	}
	if c.server.cfg.MaxSubscriptionsPerClient > 0 && c.subscriptionCount() >= c.server.cfg.MaxSubscriptionsPerClient {
		c.send(errorFrame(frame.ID, protocol.CodeSubscriptionLimit, "subscription limit reached"))
		return
	}
	input, err := decodeInput(frame.Input)
	if err != nil {
		c.send(errorFrame(frame.ID, protocol.CodeInvalidInput, "malformed input: "+err.Error()))
		return
	}
	fields := selectorOrAll(frame.Fields)

	op, _ := c.server.engine.Table().Lookup(frame.Operation)
	entityName := ""
	if op != nil {
		entityName = op.ReturnEntity
	}

	ev := plugin.SubscribeEvent{ClientID: c.id, SubID: frame.ID, Path: frame.Operation, Input: input, Fields: fields, Entity: entityName}
	if !c.server.plugins.Subscribe(c.ctx, ev) {
		c.send(errorFrame(frame.ID, protocol.CodeSubscriptionLimit, "subscription refused"))
		return
	}

	if old := c.removeSubscription(frame.ID); old != nil {
		c.server.index.Unregister(subRef{connID: c.id, subID: frame.ID})
		old.cancel()
	}

	req := engine.Request{Path: frame.Operation, Input: input, Fields: fields}
	hasEntity := entityName != ""
	sentFirst := false

	var engineSub *observable.Subscription
	engineSub = c.server.engine.Execute(c.ctx, req).Subscribe(observable.Observer[engine.Result]{
		Next: func(result engine.Result) {
			if result.Err != nil {
				c.send(protocol.ErrorFrame{Type: protocol.FrameError, ID: frame.ID, Error: result.Err.Detail()})
				return
			}

			if !sentFirst {
				sentFirst = true
				if hasEntity {
					if changes, err := engine.ExtractEntities(c.server.engine.SchemaRegistry(), entityName, result.Data); err == nil {
						keys := make([]entityKey, 0, len(changes))
						for _, ch := range changes {
							keys = append(keys, entityKey{entity: ch.Entity, id: ch.ID})
						}
						c.server.index.Register(subRef{connID: c.id, subID: frame.ID}, keys)
					} else {
						c.server.logger.Error("lens: subscribe entity extraction failed", "operation", frame.Operation, "error", err)
					}
				}
				encoded, merr := json.Marshal(result.Data)
				if merr != nil {
					c.send(errorFrame(frame.ID, protocol.CodeInternalError, "result marshal failed: "+merr.Error()))
					return
				}
				c.send(protocol.ResultFrame{Type: protocol.FrameResult, ID: frame.ID, Data: encoded})
				return
			}

			// Entities declared on the operation's return type route their
			// subsequent emits through Server.onEntityChange's broadcast
			// fan-out instead of being forwarded here directly, so every
			// subscriber (including this one) observes one consistent
			// sequence of versioned updates. Operations with no declared
			// entity have no broadcast path to ride, so their later emits
			// are forwarded as snapshot updates directly.
			if hasEntity {
				return
			}
			encoded, merr := json.Marshal(result.Data)
			if merr != nil {
				c.server.logger.Error("lens: subscribe update marshal failed", "operation", frame.Operation, "error", merr)
				return
			}
			c.send(protocol.UpdateFrame{Type: protocol.FrameUpdate, SubscriptionID: frame.ID, Data: encoded})
		},
		Error: func(err error) {
			c.send(errorFrame(frame.ID, protocol.CodeExecutionError, err.Error()))
		},
	})

	cancel := func() {
		engineSub.Unsubscribe()
		c.server.index.Unregister(subRef{connID: c.id, subID: frame.ID})
	}
	c.addSubscription(&subscription{id: frame.ID, path: frame.Operation, entity: entityName, fields: fields, cancel: cancel})
}

func (c *connection) handleUpdateFields(data []byte) {
	var frame protocol.UpdateFieldsFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		c.send(errorFrame("", protocol.CodeInvalidInput, "malformed frame: "+err.Error()))
		return
	}
	current, ok := c.subscriptionFields(frame.ID)
	if !ok {
		c.send(errorFrame(frame.ID, protocol.CodeNotFound, "unknown subscription"))
		return
	}

	ev := plugin.UpdateFieldsEvent{ClientID: c.id, SubID: frame.ID, Fields: current}
	if !c.server.plugins.UpdateFields(c.ctx, ev) {
		c.send(errorFrame(frame.ID, protocol.CodeSubscriptionLimit, "field update refused"))
		return
	}

	entityName := c.subscriptionEntity(frame.ID)
	next := applyFieldDeltas(c.server.engine.SchemaRegistry(), entityName, current, frame.SetFields, frame.AddFields, frame.RemoveFields)
	c.setSubscriptionFields(frame.ID, next)
}

func (c *connection) handleUnsubscribe(data []byte) {
	var frame protocol.UnsubscribeFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		c.send(errorFrame("", protocol.CodeInvalidInput, "malformed frame: "+err.Error()))
		return
	}
	if !c.server.plugins.Unsubscribe(c.ctx, plugin.UnsubscribeEvent{ClientID: c.id, SubID: frame.ID}) {
		return
	}
	if sub := c.removeSubscription(frame.ID); sub != nil {
		sub.cancel()
	}
}

func (c *connection) handleReconnect(data []byte) {
	start := time.Now()
	var frame protocol.ReconnectFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		c.send(errorFrame("", protocol.CodeInvalidInput, "malformed frame: "+err.Error()))
		return
	}

	rc := plugin.ReconnectContext{ClientID: c.id, Subscriptions: frame.Subscriptions}
	results, err := c.server.plugins.Reconnect(c.ctx, rc)
	if err != nil {
		c.send(errorFrame("", protocol.CodeReconnectError, "reconnect failed: "+err.Error()))
		return
	}

	byID := make(map[string]protocol.ReconnectSubscription, len(frame.Subscriptions))
	for _, sub := range frame.Subscriptions {
		byID[sub.ID] = sub
	}

	out := make([]protocol.ReconnectResult, 0, len(results))
	for _, r := range results {
		sub, known := byID[r.ID]
		if !known {
			continue
		}

		if r.Status != protocol.ReconnectGone {
			cancel := c.reconnectCancel(sub.ID)
			c.addSubscription(&subscription{id: sub.ID, path: "", entity: sub.Entity, fields: sub.Fields, cancel: cancel})
			c.server.index.Register(subRef{connID: c.id, subID: sub.ID}, []entityKey{{entity: sub.Entity, id: sub.EntityID}})
		}

		wire := protocol.ReconnectResult{ID: r.ID, Entity: sub.Entity, EntityID: sub.EntityID, Status: r.Status, Version: r.Version}
		if r.Data != nil {
			encoded, merr := json.Marshal(r.Data)
			if merr != nil {
				c.send(errorFrame("", protocol.CodeInternalError, "reconnect data marshal failed: "+merr.Error()))
				return
			}
			wire.Data = encoded
		}
		if len(r.Patches) > 0 {
			patches := make([]json.RawMessage, len(r.Patches))
			for i, p := range r.Patches {
				patches[i] = p
			}
			wire.Patches = patches
		}
		out = append(out, wire)
	}

	c.send(protocol.ReconnectAckFrame{
		Type:           protocol.FrameReconnectAck,
		ReconnectID:    frame.ReconnectID,
		Results:        out,
		ServerTime:     nowMillis(),
		ProcessingTime: time.Since(start).Milliseconds(),
	})
}

// reconnectCancel builds the teardown for a subscription reinstated by
// handleReconnect, which has no live engine.Execute call backing it —
// only an index entry waiting for the next broadcast.
func (c *connection) reconnectCancel(subID string) func() {
	return func() {
		c.server.index.Unregister(subRef{connID: c.id, subID: subID})
	}
}

func applyFieldDeltas(registry *schema.Registry, entityName string, current protocol.FieldsSelector, setFields *protocol.FieldsSelector, add, remove []string) protocol.FieldsSelector {
	if setFields != nil {
		return *setFields
	}
	if len(add) == 0 && len(remove) == 0 {
		return current
	}

	fields := current.Fields
	if current.All {
		if entity, ok := registry.Lookup(entityName); ok {
			fields = entity.FieldNames()
		}
	}

	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	for _, f := range add {
		if f == "*" {
			return protocol.AllFields()
		}
		set[f] = struct{}{}
	}
	for _, f := range remove {
		delete(set, f)
	}

	out := make([]string, 0, len(set))
	for f := range set {
		out = append(out, f)
	}
	sort.Strings(out)
	return protocol.SomeFields(out...)
}
