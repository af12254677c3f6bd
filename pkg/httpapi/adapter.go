// Package httpapi adapts the reactive engine to plain HTTP: a single
// POST endpoint for query/mutation calls, a metadata document matching
// the WebSocket handshake, a health check, and an SSE stream for
// subscriptions for clients that can't hold a WebSocket open.
package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/lensrpc/lens/pkg/engine"
	"github.com/lensrpc/lens/pkg/observable"
	"github.com/lensrpc/lens/pkg/plugin"
	"github.com/lensrpc/lens/pkg/protocol"
	"github.com/lensrpc/lens/pkg/version"
)

// Adapter exposes an Engine over plain HTTP and SSE, mountable on any
// echo.Echo instance alongside pkg/wsserver's WebSocket route.
type Adapter struct {
	engine    *engine.Engine
	plugins   *plugin.Chain
	logger    *slog.Logger
	startedAt time.Time
}

// NewAdapter builds an Adapter bound to eng.
func NewAdapter(eng *engine.Engine, plugins *plugin.Chain, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	if plugins == nil {
		plugins = plugin.NewChain()
	}
	return &Adapter{engine: eng, plugins: plugins, logger: logger, startedAt: time.Now()}
}

// RegisterRoutes mounts POST / and the /__lens/* routes on e.
func (a *Adapter) RegisterRoutes(e *echo.Echo) {
	e.POST("/", a.handleCall)
	e.GET("/__lens/metadata", a.handleMetadata)
	e.GET("/__lens/health", a.handleHealth)
	e.GET("/__lens/sse", a.handleSSE)
}

type callRequest struct {
	Operation string                  `json:"operation"`
	Input     json.RawMessage         `json:"input,omitempty"`
	Fields    *protocol.FieldsSelector `json:"fields,omitempty"`
}

type callResponse struct {
	Data  json.RawMessage      `json:"data,omitempty"`
	Error *protocol.ErrorDetail `json:"error,omitempty"`
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

func httpStatusFor(code protocol.Code) int {
	switch code {
	case protocol.CodeInvalidInput:
		return http.StatusBadRequest
	case protocol.CodeNotFound:
		return http.StatusNotFound
	case protocol.CodeSubscriptionLimit, protocol.CodeRateLimited:
		return http.StatusTooManyRequests
	case protocol.CodeMessageTooLarge:
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusInternalServerError
	}
}

// handleCall answers POST / — a single query or mutation request,
// resolved exactly like a WebSocket query/mutation frame.
func (a *Adapter) handleCall(c *echo.Context) error {
	var req callRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body: "+err.Error())
	}

	input, err := decodeInput(req.Input)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed input: "+err.Error())
	}

	result, err := observable.FirstValueFrom(a.engine.Execute(c.Request().Context(), engine.Request{
		Path:   req.Operation,
		Input:  input,
		Fields: selectorOrAll(req.Fields),
	}))
	if err != nil {
		a.logger.Error("lens: http call failed", "operation", req.Operation, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
	if result.Err != nil {
		detail := result.Err.Detail()
		return c.JSON(httpStatusFor(detail.Code), callResponse{Error: &detail})
	}

	encoded, err := json.Marshal(result.Data)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "result marshal failed")
	}
	return c.JSON(http.StatusOK, callResponse{Data: encoded})
}

// handleMetadata answers GET /__lens/metadata with the same document
// sent on a WebSocket handshake.
func (a *Adapter) handleMetadata(c *echo.Context) error {
	meta := a.engine.Table().Metadata(1)
	ops := make(map[string]protocol.OpMeta, len(meta.Operations))
	for path, op := range meta.Operations {
		ops[path] = protocol.OpMeta{Type: op.Type, ReturnType: op.ReturnType, Optimistic: op.Optimistic}
	}
	return c.JSON(http.StatusOK, protocol.HandshakeFrame{Type: protocol.FrameHandshake, Version: meta.Version, Operations: ops})
}

const healthStatusHealthy = "healthy"

// healthResponse is returned by GET /__lens/health.
type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Dirty   bool   `json:"dirty"`
	Uptime  int64  `json:"uptimeSeconds"`
}

// handleHealth answers GET /__lens/health — an engine with no storage
// backend wired in has nothing external to check, so uptime plus the
// running build's version is the whole signal. Dirty is surfaced
// separately from Version so a monitoring rule can alert on it without
// parsing the "-dirty" suffix out of the version string.
func (a *Adapter) handleHealth(c *echo.Context) error {
	return c.JSON(http.StatusOK, healthResponse{
		Status:  healthStatusHealthy,
		Version: version.Full(),
		Dirty:   version.Dirty,
		Uptime:  int64(time.Since(a.startedAt).Seconds()),
	})
}
