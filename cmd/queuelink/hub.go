package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/queuelink/internal/auth"
	"github.com/rickgao/queuelink/internal/config"
	"github.com/rickgao/queuelink/internal/hub"
	"github.com/rickgao/queuelink/internal/metrics"
	"github.com/rickgao/queuelink/internal/version"
)

func hubCmd(configPath *string) *cobra.Command {
	var listenAddr string

	cmd := &cobra.Command{
		Use:   "hub",
		Short: "Serve the queue broadcast hub",
		Long: `Serve the WebSocket hub that patients, staff and admins connect to.

Backend services publish over HTTP:
  POST /updates/queue
  POST /updates/token?user_id=<patient>
  POST /updates/analytics
  POST /broadcast/{role|all}`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			if listenAddr != "" {
				cfg.Hub.ListenAddr = listenAddr
			}
			logger := newLogger(cfg.Log)
			return runHub(signalContext(logger), cfg, logger)
		},
	}

	cmd.Flags().StringVar(&listenAddr, "listen", "", "listen address (overrides hub.listen_addr)")

	return cmd
}

func runHub(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	logger.Info("starting hub",
		"version", version.Version,
		"commit", version.Commit,
		"instance_id", cfg.Instance.ID,
		"addr", cfg.Hub.ListenAddr,
	)

	h := hub.New(hubConfig(cfg.Hub), logger.With("component", "hub"))

	collector := metrics.NewCollector()
	collector.SetHub(h.Stats)
	metricsServer := metrics.NewServer(cfg.Metrics, metrics.NewRegistry(collector), logger)
	if err := metricsServer.Start(); err != nil {
		return err
	}

	server := &http.Server{
		Addr:              cfg.Hub.ListenAddr,
		Handler:           h.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("hub server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		// Close WebSockets first; Shutdown does not wait for hijacked connections.
		if err := h.Shutdown(shutdownCtx); err != nil {
			logger.Warn("hub shutdown", "error", err)
		}
		server.Shutdown(shutdownCtx)
		metricsServer.Stop(shutdownCtx)
		return nil
	})

	err := g.Wait()
	logger.Info("hub stopped")
	return err
}

func hubConfig(cfg config.HubConfig) hub.Config {
	hc := hub.DefaultConfig()
	hc.AllowedOrigins = cfg.AllowedOrigins
	if cfg.WriteTimeout > 0 {
		hc.WriteTimeout = cfg.WriteTimeout
	}
	if cfg.JWTSecret != "" {
		hc.Verifier = auth.NewVerifier(cfg.JWTSecret)
	}
	return hc
}

func tokenCmd(configPath *string) *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a hub access token signed with hub.jwt_secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			if cfg.Hub.JWTSecret == "" {
				return errors.New("hub.jwt_secret is not set")
			}
			token, err := auth.Issue(cfg.Hub.JWTSecret, subject, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "", "user ID the token is issued for")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	cmd.MarkFlagRequired("subject")

	return cmd
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext(logger *slog.Logger) context.Context {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	return ctx
}
