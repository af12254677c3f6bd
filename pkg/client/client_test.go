package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lensrpc/lens/pkg/engine"
	"github.com/lensrpc/lens/pkg/oplog"
	"github.com/lensrpc/lens/pkg/plugin"
	"github.com/lensrpc/lens/pkg/protocol"
	"github.com/lensrpc/lens/pkg/router"
	"github.com/lensrpc/lens/pkg/schema"
	"github.com/lensrpc/lens/pkg/wsserver"
)

func userRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	reg := schema.NewRegistry()
	require.NoError(t, reg.Register(schema.NewEntity("User", schema.Scalar("id"), schema.Scalar("name"), schema.Scalar("status"))))
	return reg
}

func getOp() router.Operation {
	return router.Operation{
		ReturnEntity: "User",
		Resolve: func(ctx schema.ReactiveContext, input any) (any, error) {
			in, _ := input.(map[string]any)
			id, _ := in["id"].(string)
			return map[string]any{"id": id, "name": "Alice", "status": "online"}, nil
		},
	}
}

func renameOp() router.Operation {
	return router.Operation{
		ReturnEntity: "User",
		Resolve: func(ctx schema.ReactiveContext, input any) (any, error) {
			in := input.(map[string]any)
			return map[string]any{"id": in["id"], "name": in["name"], "status": "online"}, nil
		},
	}
}

func buildEngine(t *testing.T, build func(r *router.Router), log *oplog.MemoryStorage) *engine.Engine {
	t.Helper()
	r := router.New()
	build(r)
	tbl, err := r.Flatten()
	require.NoError(t, err)

	var entityLog engine.EntityStore
	if log != nil {
		entityLog = log
	}
	return engine.New(engine.Options{
		Table:     tbl,
		Schema:    userRegistry(t),
		Resolvers: schema.NewResolverRegistry(),
		Log:       entityLog,
	})
}

func newLensServer(t *testing.T, eng *engine.Engine, plugins *plugin.Chain) *httptest.Server {
	t.Helper()
	s := wsserver.New(eng, plugins, wsserver.DefaultConfig(), nil)
	hs := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			t.Logf("accept error: %v", err)
			return
		}
		s.HandleConnection(r.Context(), conn)
	}))
	t.Cleanup(hs.Close)
	return hs
}

func wsURL(hs *httptest.Server) string { return "ws" + hs.URL[len("http"):] }

func newClient(t *testing.T, hs *httptest.Server) *Client {
	t.Helper()
	c := New(Config{URL: wsURL(hs), Timeout: 5 * time.Second, Reconnect: ReconnectConfig{Enabled: false}})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Connect(ctx))
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestClient_ConnectHandshakeReturnsOperationMetadata(t *testing.T) {
	log := oplog.NewMemoryStorage(oplog.DefaultBounds())
	eng := buildEngine(t, func(r *router.Router) {
		r.Query("user.get", getOp())
		r.Mutation("user.rename", renameOp())
	}, log)
	hs := newLensServer(t, eng, nil)

	c := newClient(t, hs)
	meta := c.Metadata()
	assert.Contains(t, meta, "user.get")
	assert.Contains(t, meta, "user.rename")
	assert.Equal(t, "User", meta["user.get"].ReturnType)
}

func TestClient_QueryRoundTrip(t *testing.T) {
	log := oplog.NewMemoryStorage(oplog.DefaultBounds())
	eng := buildEngine(t, func(r *router.Router) {
		r.Query("user.get", getOp())
	}, log)
	hs := newLensServer(t, eng, nil)
	c := newClient(t, hs)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	data, err := c.Query(ctx, "user.get", map[string]any{"id": "u1"}, protocol.AllFields())
	require.NoError(t, err)
	assert.Equal(t, "Alice", data["name"])
}

func TestClient_QueryUnknownOperationReturnsError(t *testing.T) {
	log := oplog.NewMemoryStorage(oplog.DefaultBounds())
	eng := buildEngine(t, func(r *router.Router) {}, log)
	hs := newLensServer(t, eng, nil)
	c := newClient(t, hs)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := c.Query(ctx, "nope", nil, protocol.AllFields())
	require.Error(t, err)
	var protoErr *protocol.Error
	require.ErrorAs(t, err, &protoErr)
	assert.Equal(t, protocol.CodeNotFound, protoErr.Code)
}

func TestClient_SubscribeReceivesSnapshotThenBroadcastUpdate(t *testing.T) {
	log := oplog.NewMemoryStorage(oplog.DefaultBounds())
	eng := buildEngine(t, func(r *router.Router) {
		r.Query("user.get", getOp())
		r.Mutation("user.rename", renameOp())
	}, log)
	hs := newLensServer(t, eng, nil)
	subscriber := newClient(t, hs)
	mutator := newClient(t, hs)

	updates := make(chan map[string]any, 4)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sub, err := subscriber.Subscribe(ctx, "user.get", map[string]any{"id": "u1"}, protocol.AllFields(), Observer{
		Next: func(data map[string]any) { updates <- data },
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	select {
	case first := <-updates:
		assert.Equal(t, "Alice", first["name"])
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for initial snapshot")
	}

	_, err = mutator.Mutation(ctx, "user.rename", map[string]any{"id": "u1", "name": "Bob"}, protocol.AllFields())
	require.NoError(t, err)

	select {
	case next := <-updates:
		assert.Equal(t, "Bob", next["name"])
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for broadcast update")
	}
}

func TestClient_UnsubscribeStopsFurtherDelivery(t *testing.T) {
	log := oplog.NewMemoryStorage(oplog.DefaultBounds())
	eng := buildEngine(t, func(r *router.Router) {
		r.Query("user.get", getOp())
		r.Mutation("user.rename", renameOp())
	}, log)
	hs := newLensServer(t, eng, nil)
	subscriber := newClient(t, hs)
	mutator := newClient(t, hs)

	var deliveries int32
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sub, err := subscriber.Subscribe(ctx, "user.get", map[string]any{"id": "u1"}, protocol.AllFields(), Observer{
		Next: func(data map[string]any) { atomic.AddInt32(&deliveries, 1) },
	})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return atomic.LoadInt32(&deliveries) == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, sub.Unsubscribe())
	assert.Equal(t, SubClosed, sub.State())

	_, err = mutator.Mutation(ctx, "user.rename", map[string]any{"id": "u1", "name": "Carol"}, protocol.AllFields())
	require.NoError(t, err)

	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&deliveries), "unsubscribed subscription should not receive further updates")
}

// reconnectServer accepts exactly two connections: the first is closed
// right after replying to the client's subscribe call, the second
// answers the handshake and then replies to the resulting reconnect
// frame with a canned "unchanged" result.
func reconnectServer(t *testing.T) *httptest.Server {
	t.Helper()
	var attempt int32
	hs := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			return
		}
		n := atomic.AddInt32(&attempt, 1)
		ctx := r.Context()

		readEnvelope := func() (protocol.Envelope, []byte) {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return protocol.Envelope{}, nil
			}
			var env protocol.Envelope
			_ = json.Unmarshal(data, &env)
			return env, data
		}
		write := func(frame any) {
			data, _ := json.Marshal(frame)
			_ = conn.Write(ctx, websocket.MessageText, data)
		}

		if n == 1 {
			env, data := readEnvelope()
			if env.Type != protocol.FrameHandshake {
				return
			}
			write(protocol.HandshakeFrame{Type: protocol.FrameHandshake, Version: 1, Operations: map[string]protocol.OpMeta{
				"user.get": {Type: "query", ReturnType: "User"},
			}})

			env, data = readEnvelope()
			if env.Type != protocol.FrameSubscribe {
				return
			}
			var call protocol.CallFrame
			_ = json.Unmarshal(data, &call)
			write(protocol.ResultFrame{Type: protocol.FrameResult, ID: call.ID, Data: json.RawMessage(`{"id":"u1","name":"Alice"}`)})

			_ = conn.Close(websocket.StatusAbnormalClosure, "simulated drop")
			return
		}

		env, data := readEnvelope()
		if env.Type != protocol.FrameHandshake {
			return
		}
		write(protocol.HandshakeFrame{Type: protocol.FrameHandshake, Version: 1, Operations: map[string]protocol.OpMeta{
			"user.get": {Type: "query", ReturnType: "User"},
		}})

		env, data = readEnvelope()
		if env.Type != protocol.FrameReconnect {
			return
		}
		var rec protocol.ReconnectFrame
		_ = json.Unmarshal(data, &rec)
		results := make([]protocol.ReconnectResult, 0, len(rec.Subscriptions))
		for _, s := range rec.Subscriptions {
			results = append(results, protocol.ReconnectResult{ID: s.ID, Status: protocol.ReconnectUnchanged, Version: s.Version})
		}
		write(protocol.ReconnectAckFrame{Type: protocol.FrameReconnectAck, ReconnectID: rec.ReconnectID, Results: results})

		<-ctx.Done()
	}))
	t.Cleanup(hs.Close)
	return hs
}

func TestClient_ReconnectReplaysSubscriptionsAfterDrop(t *testing.T) {
	hs := reconnectServer(t)

	var states []State
	c := New(Config{
		URL:       wsURL(hs),
		Timeout:   5 * time.Second,
		Reconnect: ReconnectConfig{Enabled: true, BaseDelay: 10 * time.Millisecond, MaxAttempts: 5},
		OnStateChange: func(s State) { states = append(states, s) },
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Connect(ctx))
	t.Cleanup(func() { _ = c.Close() })

	updates := make(chan map[string]any, 4)
	sub, err := c.Subscribe(ctx, "user.get", map[string]any{"id": "u1"}, protocol.AllFields(), Observer{
		Next: func(data map[string]any) { updates <- data },
	})
	require.NoError(t, err)

	select {
	case <-updates:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for initial snapshot")
	}

	require.Eventually(t, func() bool {
		return sub.State() == SubActive && c.State() == StateConnected
	}, 3*time.Second, 10*time.Millisecond, "client should recover to connected state after reconnecting")
}
