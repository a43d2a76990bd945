package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/queuelink/internal/api"
	"github.com/rickgao/queuelink/internal/auth"
	"github.com/rickgao/queuelink/internal/buffer"
	"github.com/rickgao/queuelink/internal/config"
	"github.com/rickgao/queuelink/internal/connection"
	"github.com/rickgao/queuelink/internal/database"
	"github.com/rickgao/queuelink/internal/hub"
	"github.com/rickgao/queuelink/internal/metrics"
	"github.com/rickgao/queuelink/internal/poller"
	"github.com/rickgao/queuelink/internal/router"
	"github.com/rickgao/queuelink/internal/version"
	"github.com/rickgao/queuelink/internal/writer"
)

// errStreamFailed ends watch when --exit-on-failure is set.
var errStreamFailed = errors.New("stream connection failed")

type watchOptions struct {
	relayAddr     string
	exitOnFailure bool
}

func watchCmd(configPath *string) *cobra.Command {
	var opts watchOptions

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Connect to the queue stream and route its updates",
		Long: `Connect to the queue stream and keep the connection alive.

Updates are routed by type. With archive.enabled they are written to
PostgreSQL; with --relay-addr they are rebroadcast to local hub clients.
With api.email set the stream dial carries a bearer token, and api.poll
fills gaps from the REST API.

Examples:
  queuelink watch --config configs/queuelink.yaml
  queuelink watch --relay-addr :8101 --exit-on-failure`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			logger := newLogger(cfg.Log)
			return runWatch(signalContext(logger), cfg, opts, logger)
		},
	}

	cmd.Flags().StringVar(&opts.relayAddr, "relay-addr", "", "serve a local hub that rebroadcasts stream updates")
	cmd.Flags().BoolVar(&opts.exitOnFailure, "exit-on-failure", false, "exit non-zero once reconnect attempts are exhausted")

	return cmd
}

func runWatch(ctx context.Context, cfg *config.Config, opts watchOptions, logger *slog.Logger) error {
	logger.Info("starting watch",
		"version", version.Version,
		"commit", version.Commit,
		"instance_id", cfg.Instance.ID,
	)

	endpoint, err := cfg.Stream.URL()
	if err != nil {
		return fmt.Errorf("stream url: %w", err)
	}

	connOpts := []connection.Option{
		connection.WithLogger(logger),
		connection.WithRetryPolicy(retryPolicy(cfg.Stream)),
	}

	var session *auth.Session
	if cfg.API.Authenticated() {
		creds, err := auth.LoadCredentials(cfg.API.Email, cfg.API.Password, cfg.API.PasswordFile)
		if err != nil {
			return fmt.Errorf("api credentials: %w", err)
		}
		session = auth.NewSession(cfg.API.BaseURL, *creds, auth.WithLogger(logger))
		connOpts = append(connOpts, connection.WithHeaderFunc(session.Header))
	}

	mgr, err := connection.New(connectionConfig(cfg.Stream, endpoint), connOpts...)
	if err != nil {
		return err
	}
	defer mgr.Close()

	collector := metrics.NewCollector()
	collector.SetConnection(mgr.Stats)

	routerCfg := router.DefaultRouterConfig()
	routerCfg.InputBufferSize = cfg.Archive.BufferSize
	rtr := router.NewRouter(routerCfg, logger.With("component", "router"))
	if err := rtr.Start(ctx); err != nil {
		return fmt.Errorf("start router: %w", err)
	}
	collector.SetRouter(rtr.Stats)
	mgr.OnMessage(rtr.Handle)

	failed := make(chan struct{}, 1)
	mgr.OnStateChange(func(sc connection.StateChange) {
		logger.Info("stream state changed",
			"from", sc.From,
			"to", sc.To,
			"attempt", sc.Attempt,
		)
		if sc.To == connection.StateFailed {
			logger.Error("stream connection failed", "error", mgr.LastError())
			select {
			case failed <- struct{}{}:
			default:
			}
		}
	})

	// Archive writers, or log sinks when archiving is off.
	stopSinks, err := startSinks(ctx, cfg.Archive, rtr.Buffers(), collector, logger)
	if err != nil {
		rtr.Stop(context.Background())
		return err
	}

	var snapshots *poller.Poller
	if cfg.API.Poll != config.PollOff && session != nil {
		client := api.NewClient(cfg.API.BaseURL, session,
			api.WithTimeout(cfg.API.Timeout),
			api.WithLogger(logger),
			api.WithUserAgent(version.UserAgent()),
		)
		if health, err := client.Health(ctx); err != nil {
			logger.Warn("queue api health check failed", "error", err)
		} else {
			logger.Info("queue api reachable", "status", health.Status)
		}

		pollCfg := poller.Config{
			Interval:  cfg.API.PollInterval,
			Timeout:   cfg.API.Timeout,
			Analytics: cfg.API.PollAnalytics,
		}
		if cfg.API.Poll == config.PollFallback {
			pollCfg.Gate = func() bool { return mgr.State() != connection.StateConnected }
		}
		snapshots = poller.New(pollCfg, client, poller.BufferHandler{Buffers: rtr.Buffers()}, logger)
		if err := snapshots.Start(ctx); err != nil {
			return fmt.Errorf("start poller: %w", err)
		}
		collector.SetPoller(snapshots.Stats)
	}

	metricsServer := metrics.NewServer(cfg.Metrics, metrics.NewRegistry(collector), logger)
	if err := metricsServer.Start(); err != nil {
		rtr.Stop(context.Background())
		stopSinks(context.Background())
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	var relay *hub.Hub
	var relayServer *http.Server
	if opts.relayAddr != "" {
		relay = hub.New(hubConfig(cfg.Hub), logger.With("component", "relay"))
		collector.SetHub(relay.Stats)
		mgr.OnMessage(func(msg connection.Message) { relayMessage(relay, msg, logger) })

		relayServer = &http.Server{Addr: opts.relayAddr, Handler: relay.Routes()}
		g.Go(func() error {
			logger.Info("relay hub listening", "addr", opts.relayAddr)
			if err := relayServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("relay hub: %w", err)
			}
			return nil
		})
	}

	if err := mgr.Connect(); err != nil {
		return err
	}

	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case <-failed:
			if opts.exitOnFailure {
				return fmt.Errorf("%w: %v", errStreamFailed, mgr.LastError())
			}
			<-gctx.Done()
			return nil
		}
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		mgr.Disconnect("shutdown")
		if relay != nil {
			relay.Shutdown(shutdownCtx)
			relayServer.Shutdown(shutdownCtx)
		}
		if snapshots != nil {
			snapshots.Stop(shutdownCtx)
		}
		if err := rtr.Stop(shutdownCtx); err != nil {
			logger.Warn("router stop", "error", err)
		}
		stopSinks(shutdownCtx)
		metricsServer.Stop(shutdownCtx)
		return nil
	})

	err = g.Wait()
	stats := mgr.Stats()
	logger.Info("watch stopped",
		"opens", stats.Opens,
		"messages", stats.MessagesReceived,
		"decode_errors", stats.DecodeErrors,
	)
	return err
}

func connectionConfig(s config.StreamConfig, endpoint string) connection.Config {
	return connection.Config{
		Endpoint:             endpoint,
		MaxReconnectAttempts: s.Attempts(),
		ReconnectInterval:    s.ReconnectInterval,
		HandshakeTimeout:     s.HandshakeTimeout,
		WriteTimeout:         s.WriteTimeout,
		PingInterval:         s.PingInterval,
		PingTimeout:          s.PingTimeout,
	}
}

func retryPolicy(s config.StreamConfig) connection.RetryPolicy {
	if s.Backoff == config.BackoffExponential {
		return connection.ExponentialBackoff{Initial: s.ReconnectInterval, Max: s.MaxReconnectInterval}
	}
	return connection.FixedDelay(s.ReconnectInterval)
}

// startSinks attaches consumers to every router output and returns a func
// that stops them.
func startSinks(
	ctx context.Context,
	cfg config.ArchiveConfig,
	bufs router.RouterBuffers,
	collector *metrics.Collector,
	logger *slog.Logger,
) (func(context.Context), error) {
	if !cfg.Enabled {
		var wg sync.WaitGroup
		wg.Add(3)
		go logSink(&wg, bufs.Queue, logger, func(m router.QueueMsg) []any {
			return []any{"type", router.TypeQueueUpdate, "entries", len(m.Entries)}
		})
		go logSink(&wg, bufs.Token, logger, func(m router.TokenMsg) []any {
			return []any{"type", router.TypeTokenUpdate, "token", m.Token.TokenNumber, "status", m.Token.Status}
		})
		go logSink(&wg, bufs.Analytics, logger, func(m router.AnalyticsMsg) []any {
			return []any{"type", router.TypeAnalyticsUpdate, "active_tokens", m.Analytics.ActiveTokens}
		})
		// Sinks exit once the router closes its outputs.
		return func(context.Context) { wg.Wait() }, nil
	}

	logger.Info("connecting to archive database",
		"host", cfg.Database.Host,
		"port", cfg.Database.Port,
		"database", cfg.Database.Name,
	)
	pool, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	if err := database.EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	writerCfg := writer.WriterConfig{BatchSize: cfg.BatchSize, FlushInterval: cfg.FlushInterval}
	tokens := writer.NewTokenWriter(writerCfg, bufs.Token, pool, logger)
	queues := writer.NewQueueWriter(writerCfg, bufs.Queue, pool, logger)
	analytics := writer.NewAnalyticsWriter(writerCfg, bufs.Analytics, pool, logger)

	type startStopper interface {
		Start(context.Context) error
		Stop(context.Context) error
	}
	writers := []startStopper{tokens, queues, analytics}
	for i, w := range writers {
		if err := w.Start(ctx); err != nil {
			for _, started := range writers[:i] {
				started.Stop(context.Background())
			}
			pool.Close()
			return nil, err
		}
	}

	collector.AddWriter("token_events", tokens.Stats)
	collector.AddWriter("queue_snapshots", queues.Stats)
	collector.AddWriter("analytics_snapshots", analytics.Stats)
	logger.Info("archive writers started")

	return func(ctx context.Context) {
		for _, w := range writers {
			if err := w.Stop(ctx); err != nil {
				logger.Warn("writer stop", "error", err)
			}
		}
		pool.Close()
	}, nil
}

// logSink drains q, logging each item, until q is closed.
func logSink[T any](wg *sync.WaitGroup, q *buffer.Queue[T], logger *slog.Logger, attrs func(T) []any) {
	defer wg.Done()
	for {
		item, ok := q.Receive()
		if !ok {
			return
		}
		logger.Info("update", attrs(item)...)
	}
}

// relayMessage rebroadcasts a stream message to local hub clients, keeping
// the stream's routing rules.
func relayMessage(h *hub.Hub, msg connection.Message, logger *slog.Logger) {
	var err error
	switch msg.Type {
	case router.TypeQueueUpdate:
		_, err = h.SendQueueUpdate(msg.Data)
	case router.TypeAnalyticsUpdate:
		_, err = h.SendAnalyticsUpdate(msg.Data)
	case router.TypeTokenUpdate:
		var owner struct {
			PatientID string `json:"patient_id"`
		}
		// Without an owner the update still reaches staff and admin.
		_ = msg.DecodeData(&owner)
		_, err = h.SendTokenUpdate(msg.Data, owner.PatientID)
	default:
		h.BroadcastAll(msg.Raw)
	}
	if err != nil {
		logger.Warn("relay failed", "type", msg.Type, "error", err)
	}
}
