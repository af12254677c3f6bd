// Package wsserver implements Lens's framed WebSocket protocol handler:
// connection admission, per-connection rate limiting and message-size
// limits, the client→server frame dispatch, and entity-keyed broadcast
// fan-out across connections.
package wsserver

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/lensrpc/lens/pkg/engine"
	"github.com/lensrpc/lens/pkg/oplog"
	"github.com/lensrpc/lens/pkg/plugin"
	"github.com/lensrpc/lens/pkg/protocol"
	"github.com/lensrpc/lens/pkg/router"
)

// Server manages WebSocket connections and dispatches frames against an
// Engine. One Server per process; HandleConnection is safe to call
// concurrently for many connections.
type Server struct {
	engine  *engine.Engine
	plugins *plugin.Chain
	cfg     Config
	logger  *slog.Logger
	index   *broadcastIndex

	mu          sync.RWMutex
	connections map[string]*connection
}

// New builds a Server bound to eng. It wires eng's broadcast callback
// to this Server's fan-out, so entity changes produced by any
// operation reach every connection subscribed to that entity.
func New(eng *engine.Engine, plugins *plugin.Chain, cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if plugins == nil {
		plugins = plugin.NewChain()
	}
	s := &Server{
		engine:      eng,
		plugins:     plugins,
		cfg:         cfg,
		logger:      logger,
		index:       newBroadcastIndex(),
		connections: make(map[string]*connection),
	}
	eng.SetBroadcast(s.onEntityChange)
	return s
}

// ActiveConnections returns the number of currently admitted connections.
func (s *Server) ActiveConnections() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.connections)
}

// Handler returns an http.HandlerFunc that upgrades to WebSocket and
// runs HandleConnection, suitable for mounting on any net/http mux or
// echo route.
func (s *Server) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			s.logger.Warn("lens: websocket accept failed", "error", err)
			return
		}
		s.HandleConnection(r.Context(), conn)
	}
}

// HandleConnection admits, serves, and tears down a single connection.
// It blocks until the connection closes.
func (s *Server) HandleConnection(parentCtx context.Context, wsConn *websocket.Conn) {
	if s.ActiveConnections() >= s.cfg.MaxConnections && s.cfg.MaxConnections > 0 {
		_ = wsConn.Close(websocket.StatusCode(protocol.CloseServerAtCapacity), "server at capacity")
		return
	}

	ctx, cancel := context.WithCancel(parentCtx)
	c := newConnection(uuid.New().String(), wsConn, s, ctx, cancel)

	if !s.plugins.Connect(ctx, plugin.ConnectContext{ClientID: c.id, Send: c.sendRawJSON}) {
		cancel()
		_ = wsConn.Close(websocket.StatusCode(protocol.CloseServerAtCapacity), "connection refused")
		return
	}

	s.registerConnection(c)
	defer s.unregisterConnection(c)

	c.serve()
}

func (s *Server) registerConnection(c *connection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connections[c.id] = c
}

func (s *Server) unregisterConnection(c *connection) {
	s.mu.Lock()
	delete(s.connections, c.id)
	s.mu.Unlock()

	c.mu.Lock()
	subCount := len(c.subs)
	for _, sub := range c.subs {
		sub.cancel()
	}
	c.subs = nil
	c.mu.Unlock()

	s.index.UnregisterConnection(c.id)
	s.plugins.Disconnect(c.ctx, c.id, subCount)
	c.cancel()
	_ = c.conn.Close(websocket.StatusNormalClosure, "")
}

// originKey carries the connection that triggered an entity change, and
// the kind of operation it ran, through to onEntityChange, so a mutation's own
// originator can be excluded from its broadcast fan-out (spec.md §4.7:
// "the originator of a mutation receives its direct result and is
// excluded from the broadcast for those entity keys").
type originKey struct{}

type originInfo struct {
	ConnID string
	Kind   router.Kind
}

func withOrigin(ctx context.Context, info originInfo) context.Context {
	return context.WithValue(ctx, originKey{}, info)
}

func originFrom(ctx context.Context) (originInfo, bool) {
	info, ok := ctx.Value(originKey{}).(originInfo)
	return info, ok
}

// onEntityChange is the engine's BroadcastFunc: it fans an entity
// change out to every subscription depending on that entity, excluding
// every subscription on the originating connection only when the change
// came from a mutation (subscriptions' own emits are expected to reach themselves
// too, via the same path other connections observe them through).
//
// A subscription tracking every field (the common case) gets the
// operation log's versioned patch unchanged. A subscription that
// narrowed its fields via updateFields gets a filtered full snapshot
// instead: computing a correct patch against each recipient's own
// last-delivered (and field-filtered) state would mean re-running the
// diff per recipient against a state this server doesn't keep, so a
// narrowed subscription trades patch efficiency for a simple,
// always-correct snapshot.
func (s *Server) onEntityChange(ctx context.Context, change engine.EntityChange, result oplog.EmitResult) {
	origin, hasOrigin := originFrom(ctx)
	key := entityKey{entity: change.Entity, id: change.ID}

	patchJSON, err := json.Marshal(result.Patch)
	if err != nil {
		s.logger.Error("lens: patch marshal failed", "entity", change.Entity, "id", change.ID, "error", err)
		return
	}

	for _, ref := range s.index.Lookup(key) {
		if hasOrigin && origin.Kind == router.Mutation && ref.connID == origin.ConnID {
			continue
		}
		s.mu.RLock()
		c := s.connections[ref.connID]
		s.mu.RUnlock()
		if c == nil {
			continue
		}

		fields, ok := c.subscriptionFields(ref.subID)
		version := result.Version
		if ok && !fields.All {
			filtered := filterTopLevelFields(change.Data, fields.Fields)
			encoded, merr := json.Marshal(filtered)
			if merr != nil {
				s.logger.Error("lens: filtered snapshot marshal failed", "entity", change.Entity, "id", change.ID, "error", merr)
				continue
			}
			c.send(protocol.UpdateFrame{Type: protocol.FrameUpdate, SubscriptionID: ref.subID, Version: &version, Data: encoded})
			continue
		}

		c.send(protocol.UpdateFrame{Type: protocol.FrameUpdate, SubscriptionID: ref.subID, Version: &version, Patch: patchJSON})
	}
}

func errorFrame(id string, code protocol.Code, rawMessage string) protocol.ErrorFrame {
	return protocol.ErrorFrame{
		Type: protocol.FrameError,
		ID:   id,
		Error: protocol.ErrorDetail{
			Code:    code,
			Message: protocol.Sanitize(code, rawMessage),
		},
	}
}

func nowMillis() int64 { return time.Now().UnixMilli() }
