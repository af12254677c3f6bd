// Package plugin defines the extension points the protocol handler and
// engine expose to integrations — admission control, subscription
// policy, payload transforms, and the operation-log/broadcast and
// reconnect integration points. The engine and wsserver implement no
// policy of their own beyond invoking these hooks in installation
// order.
//
// A Plugin is any value that implements one or more of the hook
// interfaces below; unimplemented hooks are simply skipped, the same
// optional-interface pattern the standard library uses for io.Closer
// or http.Flusher. Chain composes a list of plugins and walks them in
// installation order for each hook point.
package plugin

import (
	"context"

	"github.com/lensrpc/lens/pkg/protocol"
)

// ConnectContext describes a new connection to onConnect hooks.
type ConnectContext struct {
	ClientID string
	Send     func(frame any) error
}

// ConnectHook runs when a connection is admitted. Returning false vetoes
// the connection; the caller is expected to close it.
type ConnectHook interface {
	OnConnect(ctx context.Context, c ConnectContext) bool
}

// DisconnectHook runs after a connection is torn down. It cannot veto —
// the connection is already gone.
type DisconnectHook interface {
	OnDisconnect(ctx context.Context, clientID string, subscriptionCount int)
}

// SubscribeEvent describes a client's subscribe/call request.
type SubscribeEvent struct {
	ClientID string
	SubID    string
	Path     string
	Input    any
	Fields   protocol.FieldsSelector
	Entity   string
	EntityID string
}

// SubscribeHook runs before a subscription or call is executed.
// Returning false vetoes it.
type SubscribeHook interface {
	OnSubscribe(ctx context.Context, ev SubscribeEvent) bool
}

// UnsubscribeEvent describes a client's unsubscribe request.
type UnsubscribeEvent struct {
	ClientID string
	SubID    string
}

// UnsubscribeHook runs before a subscription is torn down by client
// request. Returning false vetoes the unsubscribe (the subscription
// stays live).
type UnsubscribeHook interface {
	OnUnsubscribe(ctx context.Context, ev UnsubscribeEvent) bool
}

// UpdateFieldsEvent describes a client's updateFields request.
type UpdateFieldsEvent struct {
	ClientID string
	SubID    string
	Fields   protocol.FieldsSelector
}

// UpdateFieldsHook runs before a subscription's field set changes.
// Returning false vetoes the change.
type UpdateFieldsHook interface {
	OnUpdateFields(ctx context.Context, ev UpdateFieldsEvent) bool
}

// BeforeSendHook transforms an outgoing frame before it is written to
// the wire. Plugins run in installation order, each receiving the
// previous plugin's output.
type BeforeSendHook interface {
	BeforeSend(ctx context.Context, clientID string, frame any) (any, error)
}

// AfterSendHook observes a frame once it has been written.
type AfterSendHook interface {
	AfterSend(ctx context.Context, clientID string, frame any)
}

// BroadcastEvent is one changed entity instance an operation's result
// produced.
type BroadcastEvent struct {
	Entity   string
	EntityID string
	Data     map[string]any
}

// BroadcastResult is what an onBroadcast hook decides for one changed
// entity: either a versioned patch (Patch non-nil) or a full snapshot
// (Data non-nil).
type BroadcastResult struct {
	Version int
	Patch   []byte
	Data    map[string]any
}

// BroadcastHook is the operation log's integration point: it decides
// whether a broadcast carries a patch or a full snapshot, and assigns
// the version clients use to detect gaps. The first installed
// BroadcastHook to return a non-nil result wins; later hooks do not
// run for that event.
type BroadcastHook interface {
	OnBroadcast(ctx context.Context, ev BroadcastEvent) (*BroadcastResult, error)
}

// ReconnectContext bundles a reconnecting client's replay request. It
// reuses protocol.ReconnectSubscription directly rather than redeclaring
// an equivalent shape.
type ReconnectContext struct {
	ClientID      string
	Subscriptions []protocol.ReconnectSubscription
}

// ReconnectResult is one subscription's resume outcome, in Go-native
// form — wsserver marshals Data/Patches into the wire
// protocol.ReconnectResult. Patches is the dense sequence of per-version
// patch arrays from the client's version to current, one []byte per
// version step (mirrors the wire's patches: patch[][]).
type ReconnectResult struct {
	ID      string
	Status  protocol.ReconnectStatus
	Version int
	Patches [][]byte
	Data    any
}

// ReconnectHook computes per-subscription resume results for a
// reconnecting client. The first installed ReconnectHook to return a
// non-nil slice wins.
type ReconnectHook interface {
	OnReconnect(ctx context.Context, rc ReconnectContext) ([]ReconnectResult, error)
}

// Chain composes an ordered list of plugins and dispatches each hook
// point to whichever plugins implement it, in installation order.
type Chain struct {
	plugins []any
}

// NewChain builds a Chain from plugins in installation order.
func NewChain(plugins ...any) *Chain {
	return &Chain{plugins: plugins}
}

// Connect runs every installed ConnectHook. The first veto (false)
// short-circuits the remaining hooks.
func (c *Chain) Connect(ctx context.Context, cc ConnectContext) bool {
	for _, p := range c.plugins {
		if h, ok := p.(ConnectHook); ok {
			if !h.OnConnect(ctx, cc) {
				return false
			}
		}
	}
	return true
}

// Disconnect runs every installed DisconnectHook.
func (c *Chain) Disconnect(ctx context.Context, clientID string, subscriptionCount int) {
	for _, p := range c.plugins {
		if h, ok := p.(DisconnectHook); ok {
			h.OnDisconnect(ctx, clientID, subscriptionCount)
		}
	}
}

// Subscribe runs every installed SubscribeHook. The first veto
// short-circuits the remaining hooks.
func (c *Chain) Subscribe(ctx context.Context, ev SubscribeEvent) bool {
	for _, p := range c.plugins {
		if h, ok := p.(SubscribeHook); ok {
			if !h.OnSubscribe(ctx, ev) {
				return false
			}
		}
	}
	return true
}

// Unsubscribe runs every installed UnsubscribeHook. The first veto
// short-circuits the remaining hooks.
func (c *Chain) Unsubscribe(ctx context.Context, ev UnsubscribeEvent) bool {
	for _, p := range c.plugins {
		if h, ok := p.(UnsubscribeHook); ok {
			if !h.OnUnsubscribe(ctx, ev) {
				return false
			}
		}
	}
	return true
}

// UpdateFields runs every installed UpdateFieldsHook. The first veto
// short-circuits the remaining hooks.
func (c *Chain) UpdateFields(ctx context.Context, ev UpdateFieldsEvent) bool {
	for _, p := range c.plugins {
		if h, ok := p.(UpdateFieldsHook); ok {
			if !h.OnUpdateFields(ctx, ev) {
				return false
			}
		}
	}
	return true
}

// BeforeSend threads frame through every installed BeforeSendHook in
// order, each receiving the prior hook's output.
func (c *Chain) BeforeSend(ctx context.Context, clientID string, frame any) (any, error) {
	for _, p := range c.plugins {
		if h, ok := p.(BeforeSendHook); ok {
			next, err := h.BeforeSend(ctx, clientID, frame)
			if err != nil {
				return nil, err
			}
			frame = next
		}
	}
	return frame, nil
}

// AfterSend runs every installed AfterSendHook.
func (c *Chain) AfterSend(ctx context.Context, clientID string, frame any) {
	for _, p := range c.plugins {
		if h, ok := p.(AfterSendHook); ok {
			h.AfterSend(ctx, clientID, frame)
		}
	}
}

// Broadcast runs installed BroadcastHooks in order and returns the
// first non-nil result. A nil result (no BroadcastHook installed, or
// none chose to handle this event) tells the caller to keep its own
// payload; the engine then broadcasts the operation log's version and
// patch unchanged.
func (c *Chain) Broadcast(ctx context.Context, ev BroadcastEvent) (*BroadcastResult, error) {
	for _, p := range c.plugins {
		h, ok := p.(BroadcastHook)
		if !ok {
			continue
		}
		result, err := h.OnBroadcast(ctx, ev)
		if err != nil {
			return nil, err
		}
		if result != nil {
			return result, nil
		}
	}
	return nil, nil
}

// Reconnect runs installed ReconnectHooks in order and returns the
// first non-nil result slice.
func (c *Chain) Reconnect(ctx context.Context, rc ReconnectContext) ([]ReconnectResult, error) {
	for _, p := range c.plugins {
		h, ok := p.(ReconnectHook)
		if !ok {
			continue
		}
		results, err := h.OnReconnect(ctx, rc)
		if err != nil {
			return nil, err
		}
		if results != nil {
			return results, nil
		}
	}
	return nil, nil
}
