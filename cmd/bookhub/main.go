// Command bookhub reconstructs live order books from a SignalR-style
// realtime hub across multiple exchange dialects (DeltaOnly,
// SnapshotThenDelta, FullEachTime) and serves a read-only status view
// over HTTP/WebSocket.
//
// Architecture:
//
//	main.go                 — entry point: loads config, starts the app, waits for SIGINT/SIGTERM
//	internal/app            — orchestrator: wires hub, registry, reconciler, and the status server
//	internal/hub            — realtime hub client: Registry, Manager, Handle, WebSocketTransport
//	internal/wire           — Wire Decoder: base64 + deflate payload decoding
//	internal/bookparser     — Book Parser: positional/keyed wire shapes into OrderBook
//	internal/reconciler     — per-symbol dialect reconciliation into a monotonic full book
//	internal/dispatch       — Exchange Dispatch Directory: exchange → dialect/max_count
//	internal/snapshot       — REST snapshot collaborator for the DeltaOnly dialect
//	internal/authctx        — hub authentication (GetAuthContext/Authenticate/Sign)
//	internal/rpcinvoker     — control-plane RPC (subscribe/auth invocations) over HTTP
//	internal/observe        — read-only status server: /healthz, /api/books, /api/hub, /ws
//	internal/config         — configuration loading and validation
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"bookhub/internal/app"
	"bookhub/internal/authctx"
	"bookhub/internal/bookparser"
	"bookhub/internal/config"
	"bookhub/internal/dispatch"
	"bookhub/internal/hub"
	"bookhub/internal/observe"
	"bookhub/internal/reconciler"
	"bookhub/internal/rpcinvoker"
	"bookhub/internal/snapshot"
	"bookhub/pkg/booktypes"
)

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("BOOKHUB_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(newLogHandler(cfg.Logging))

	directory := dispatch.New()
	for name, entry := range cfg.Exchanges {
		dialect, err := entry.ParseDialect()
		if err != nil {
			logger.Error("failed to parse exchange dialect", "exchange", name, "error", err)
			os.Exit(1)
		}
		directory.Register(name, dispatch.Entry{Dialect: dialect, MaxCount: entry.MaxCount})
	}

	invoker := rpcinvoker.New(cfg.Hub.URL, logger)
	registry := hub.NewRegistry(nil, nil)
	newTransport := func() hub.RealtimeTransport {
		return hub.NewWebSocketTransport(cfg.Hub.URL, nil, logger)
	}
	manager := hub.NewManager(newTransport, invoker.InvokeSubscribe, registry, logger, hubManagerOptions(cfg.Hub)...)

	var fetcher reconciler.SnapshotFetcher
	if cfg.Snapshot.BaseURL != "" {
		fetcher = snapshot.NewClient(cfg.Snapshot.BaseURL, logger,
			snapshot.WithRateLimit(cfg.Snapshot.RateLimitCapacity, cfg.Snapshot.RateLimitPerSec))
	}

	a := app.New(directory, registry, manager, fetcher, nil, logger)

	if cfg.Observe.Enabled {
		a = a.WithObserver(observe.NewServer(cfg.Observe, a, logger))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := a.Start(ctx); err != nil {
		logger.Error("failed to start app", "error", err)
		os.Exit(1)
	}

	if cfg.Auth.APIKey != "" && cfg.Auth.APISecret != "" {
		if err := authenticate(ctx, invoker, cfg.Auth); err != nil {
			logger.Error("hub authentication failed", "error", err)
			os.Exit(1)
		}
		logger.Info("authenticated with hub")
	}

	for name, entry := range cfg.Exchanges {
		name, entry := name, entry
		maxCount := entry.MaxCount
		for _, symbol := range entry.Symbols {
			paramSets := [][]any{{symbol}}
			parse := func(token map[string]any, symbol string, maxCount int) (booktypes.OrderBook, error) {
				return bookparser.ParseKeyed(token, symbol, bookparser.FieldNames{}, maxCount)
			}
			_, err := a.Track(ctx, name, entry.FunctionName, symbol, paramSets, parse, maxCount, cfg.Hub.DelayBetweenInvokes)
			if err != nil {
				logger.Error("failed to track symbol", "exchange", name, "symbol", symbol, "error", err)
				os.Exit(1)
			}
			logger.Info("tracking symbol", "exchange", name, "symbol", symbol)
		}
	}

	if cfg.Observe.Enabled {
		logger.Info("status server started", "addr", cfg.Observe.Addr)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	if err := a.Close(); err != nil {
		logger.Error("failed to close app cleanly", "error", err)
	}
}

func hubManagerOptions(cfg config.HubConfig) []hub.ManagerOption {
	var opts []hub.ManagerOption
	switch cfg.Backoff {
	case "exponential":
		opts = append(opts, hub.WithBackoff(hub.ExponentialBackoff{Base: cfg.ExponentialBase, Max: cfg.ExponentialMax}))
	default:
		opts = append(opts, hub.WithBackoff(hub.FixedBackoff{Delay_: cfg.FixedBackoffDelay}))
	}
	if cfg.HealthThreshold > 0 {
		opts = append(opts, hub.WithHealthThreshold(cfg.HealthThreshold, cfg.HealthWindow))
	}
	return opts
}

func authenticate(ctx context.Context, invoker *rpcinvoker.Invoker, cfg config.AuthConfig) error {
	auth := authctx.New(invoker)
	challenge, err := auth.GetAuthContext(ctx, cfg.APIKey)
	if err != nil {
		return fmt.Errorf("get auth context: %w", err)
	}
	signed := authctx.Sign(cfg.APISecret, challenge)
	ok, err := auth.Authenticate(ctx, cfg.APIKey, signed)
	if err != nil {
		return fmt.Errorf("authenticate: %w", err)
	}
	if !ok {
		return fmt.Errorf("hub rejected authentication")
	}
	return nil
}

func newLogHandler(cfg config.LoggingConfig) slog.Handler {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Level)}
	if cfg.Format == "text" {
		return slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.NewJSONHandler(os.Stdout, opts)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
