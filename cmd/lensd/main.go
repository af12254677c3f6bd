// Command lensd runs a standalone Lens server: it loads configuration,
// declares a small demo operation table, and serves the reactive engine
// over both the framed WebSocket protocol and the plain HTTP/SSE adapter
// on one echo.Echo instance.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	echo "github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"

	"github.com/lensrpc/lens/pkg/config"
	"github.com/lensrpc/lens/pkg/engine"
	"github.com/lensrpc/lens/pkg/httpapi"
	"github.com/lensrpc/lens/pkg/oplog"
	"github.com/lensrpc/lens/pkg/plugin"
	"github.com/lensrpc/lens/pkg/router"
	"github.com/lensrpc/lens/pkg/schema"
	"github.com/lensrpc/lens/pkg/version"
	"github.com/lensrpc/lens/pkg/wsserver"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir", getEnv("CONFIG_DIR", "./deploy/config"), "Path to configuration directory")
	flag.Parse()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		log.Printf("lensd: could not load %s: %v (continuing with existing environment)", envPath, err)
	} else {
		log.Printf("lensd: loaded environment from %s", envPath)
	}

	cfg, err := config.Load(filepath.Join(*configDir, "lens.yaml"))
	if err != nil {
		log.Fatalf("lensd: failed to load configuration: %v", err)
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)
	logger.Info("lensd: starting", "version", version.Full())

	storage := oplog.NewMemoryStorage(oplog.DefaultBounds())
	plugins := plugin.NewChain(&oplog.ReconnectPlugin{Storage: storage})

	eng := engine.New(engine.Options{
		Table:     demoTable(),
		Schema:    demoSchema(),
		Resolvers: schema.NewResolverRegistry(),
		Log:       storage,
		Plugins:   plugins,
		Logger:    logger,
	})

	wsCfg := wsserver.DefaultConfig()
	wsCfg.MaxConnections = cfg.MaxConnections
	wsCfg.MaxMessageSize = cfg.MaxMessageSize
	wsCfg.MaxSubscriptionsPerClient = cfg.MaxSubscriptionsPerClient
	wsCfg.RateLimitMaxMessages = cfg.RateLimit.MaxMessages
	wsCfg.RateLimitWindow = cfg.RateLimit.Window
	wsCfg.OperationTimeout = cfg.Timeout

	ws := wsserver.New(eng, plugins, wsCfg, logger)
	http1 := httpapi.NewAdapter(eng, plugins, logger)

	e := echo.New()
	e.Use(middleware.BodyLimit(2 * 1024 * 1024))
	if cfg.CORS.Origin != "" {
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{AllowOrigins: []string{cfg.CORS.Origin}}))
	}

	e.GET("/ws", echo.WrapHandler(ws.Handler()))
	http1.RegisterRoutes(e)

	addr := ":" + getEnv("HTTP_PORT", "8080")
	httpServer := &http.Server{Addr: addr, Handler: e}

	go func() {
		logger.Info("lensd: listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("lensd: server stopped unexpectedly", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("lensd: shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("lensd: graceful shutdown failed", "error", err)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

// demoSchema declares the single entity the bundled demo operations
// resolve against, so lensd boots into something a client can exercise
// immediately rather than an empty table.
func demoSchema() *schema.Registry {
	reg := schema.NewRegistry()
	if err := reg.Register(schema.NewEntity("User",
		schema.Scalar("id"),
		schema.Scalar("name"),
		schema.Scalar("status"),
	)); err != nil {
		log.Fatalf("lensd: demo schema registration failed: %v", err)
	}
	return reg
}

// demoTable declares a minimal user.get / user.rename operation pair —
// enough for a client to query, mutate, and subscribe against a running
// lensd without any external storage configured.
func demoTable() *router.Table {
	users := map[string]map[string]any{
		"1": {"id": "1", "name": "Alice", "status": "online"},
	}

	r := router.New()
	userRouter := r.Sub("user")
	userRouter.Query("get", router.Operation{
		ReturnEntity: "User",
		Resolve: func(_ schema.ReactiveContext, input any) (any, error) {
			in, _ := input.(map[string]any)
			id, _ := in["id"].(string)
			u, ok := users[id]
			if !ok {
				return nil, nil
			}
			return u, nil
		},
	})
	userRouter.Mutation("rename", router.Operation{
		ReturnEntity: "User",
		Resolve: func(_ schema.ReactiveContext, input any) (any, error) {
			in := input.(map[string]any)
			id, _ := in["id"].(string)
			name, _ := in["name"].(string)
			u, ok := users[id]
			if !ok {
				u = map[string]any{"id": id, "status": "online"}
			}
			u["name"] = name
			users[id] = u
			return u, nil
		},
	})

	tbl, err := r.Flatten()
	if err != nil {
		log.Fatalf("lensd: demo table flatten failed: %v", err)
	}
	return tbl
}
