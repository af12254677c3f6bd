// Package client is the Lens client-side transport: it keeps one
// WebSocket connection alive, tracks pending query/mutation calls,
// maintains a subscription registry with last-known data and version
// per subscription, and replays subscription intents on reconnect so
// the server can answer with patches or snapshots.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/lensrpc/lens/pkg/protocol"
)

// State is the client transport's connection lifecycle, observable via
// Config.OnStateChange.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
)

// ReconnectConfig mirrors the wire-level "reconnect.*" options: base
// delay and jitter feed an exponential backoff, maxAttempts bounds the
// number of retries (not elapsed time — see DESIGN.md).
type ReconnectConfig struct {
	Enabled     bool
	BaseDelay   time.Duration
	MaxAttempts int
	Jitter      bool
}

// DefaultReconnectConfig matches the teacher corpus's own conservative
// retry defaults (few attempts, short base delay).
func DefaultReconnectConfig() ReconnectConfig {
	return ReconnectConfig{Enabled: true, BaseDelay: time.Second, MaxAttempts: 5, Jitter: true}
}

// Config configures a Client.
type Config struct {
	URL       string
	Timeout   time.Duration // per-operation query/mutation timeout
	Reconnect ReconnectConfig
	Logger    *slog.Logger

	// OnStateChange, if set, is invoked (from the transport's own
	// goroutines) whenever the connection state changes.
	OnStateChange func(State)
	// OnReconnect, if set, receives the raw reconnect_ack results for
	// instrumentation once a reconnect attempt completes.
	OnReconnect func([]protocol.ReconnectResult)
}

type pendingCall struct {
	resultCh chan protocol.ResultFrame
	errCh    chan *protocol.Error
}

// Client is a single logical connection to a Lens server. Safe for
// concurrent use.
type Client struct {
	cfg    Config
	logger *slog.Logger

	mu         sync.Mutex
	conn       *websocket.Conn
	state      State
	connCtx    context.Context
	connCancel context.CancelFunc

	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]pendingCall

	subsMu sync.Mutex
	subs   map[string]*Subscription

	metaMu sync.Mutex
	meta   map[string]protocol.OpMeta

	reconnectMu      sync.Mutex
	pendingReconnect map[string]chan protocol.ReconnectAckFrame

	closed    chan struct{}
	closeOnce sync.Once
}

// New builds a Client. Call Connect to open the connection.
func New(cfg Config) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:              cfg,
		logger:           logger,
		state:            StateDisconnected,
		pending:          make(map[string]pendingCall),
		subs:             make(map[string]*Subscription),
		meta:             make(map[string]protocol.OpMeta),
		pendingReconnect: make(map[string]chan protocol.ReconnectAckFrame),
		closed:           make(chan struct{}),
	}
}

// State returns the client's current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	if c.cfg.OnStateChange != nil {
		c.cfg.OnStateChange(s)
	}
}

// Connect dials the server, performs the handshake, and starts the
// background read loop. Returns once the handshake reply arrives.
func (c *Client) Connect(ctx context.Context) error {
	c.setState(StateConnecting)
	conn, _, err := websocket.Dial(ctx, c.cfg.URL, nil)
	if err != nil {
		c.setState(StateDisconnected)
		return fmt.Errorf("client: dial failed: %w", err)
	}

	connCtx, connCancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.conn = conn
	c.connCtx = connCtx
	c.connCancel = connCancel
	c.mu.Unlock()

	if err := c.handshake(ctx); err != nil {
		_ = conn.Close(websocket.StatusInternalError, "handshake failed")
		c.setState(StateDisconnected)
		return err
	}

	c.setState(StateConnected)
	go c.readLoop(conn)
	return nil
}

func (c *Client) handshake(ctx context.Context) error {
	if err := c.writeFrame(protocol.HandshakeFrame{Type: protocol.FrameHandshake}); err != nil {
		return err
	}
	_, data, err := c.conn.Read(ctx)
	if err != nil {
		return fmt.Errorf("client: handshake read failed: %w", err)
	}
	var frame protocol.HandshakeFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return fmt.Errorf("client: malformed handshake reply: %w", err)
	}
	c.metaMu.Lock()
	c.meta = frame.Operations
	c.metaMu.Unlock()
	return nil
}

// Metadata returns the operation metadata document received on the
// last successful handshake.
func (c *Client) Metadata() map[string]protocol.OpMeta {
	c.metaMu.Lock()
	defer c.metaMu.Unlock()
	out := make(map[string]protocol.OpMeta, len(c.meta))
	for k, v := range c.meta {
		out[k] = v
	}
	return out
}

// Close tears down the connection without reconnecting.
func (c *Client) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	c.mu.Lock()
	conn := c.conn
	cancel := c.connCancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	c.setState(StateDisconnected)
	if conn == nil {
		return nil
	}
	return conn.Close(websocket.StatusNormalClosure, "")
}

func (c *Client) writeFrame(frame any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("client: not connected")
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), c.operationTimeout())
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}

func (c *Client) operationTimeout() time.Duration {
	if c.cfg.Timeout > 0 {
		return c.cfg.Timeout
	}
	return 30 * time.Second
}

func newID() string { return uuid.NewString() }
