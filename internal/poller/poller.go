package poller

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rickgao/queuelink/internal/model"
	"github.com/rickgao/queuelink/internal/router"
)

// Source fetches snapshots. *api.Client implements it.
type Source interface {
	GetQueueEntries(ctx context.Context) ([]model.QueueEntry, error)
	GetDashboardAnalytics(ctx context.Context) (*model.Analytics, error)
}

// Handler receives fetched snapshots.
type Handler interface {
	HandleQueue(msg router.QueueMsg)
	HandleAnalytics(msg router.AnalyticsMsg)
}

// Config holds poller configuration.
type Config struct {
	Interval  time.Duration // Poll interval (default: 1m)
	Timeout   time.Duration // Per-request timeout (default: 10s)
	Analytics bool          // Also fetch dashboard analytics (staff/admin only)

	// Gate is checked before each cycle; the cycle is skipped when it
	// returns false. Nil polls every cycle.
	Gate func() bool
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval: time.Minute,
		Timeout:  10 * time.Second,
	}
}

// Stats holds poller counters.
type Stats struct {
	Cycles  int64 // Cycles run
	Skipped int64 // Cycles skipped by Gate
	Fetched int64 // Successful fetches
	Errors  int64 // Failed fetches
}

// Poller periodically fetches snapshots via the REST API.
type Poller struct {
	cfg     Config
	source  Source
	handler Handler
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	cycles  atomic.Int64
	skipped atomic.Int64
	fetched atomic.Int64
	errors  atomic.Int64
}

// New creates a new Poller.
func New(cfg Config, source Source, handler Handler, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	defaults := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = defaults.Interval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	return &Poller{
		cfg:     cfg,
		source:  source,
		handler: handler,
		logger:  logger.With("component", "poller"),
	}
}

// Start begins the polling loop.
func (p *Poller) Start(ctx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go p.run()

	p.logger.Info("snapshot poller started",
		"interval", p.cfg.Interval,
		"analytics", p.cfg.Analytics,
		"gated", p.cfg.Gate != nil,
	)

	return nil
}

// Stop gracefully shuts down the poller.
func (p *Poller) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("snapshot poller stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns current counters.
func (p *Poller) Stats() Stats {
	return Stats{
		Cycles:  p.cycles.Load(),
		Skipped: p.skipped.Load(),
		Fetched: p.fetched.Load(),
		Errors:  p.errors.Load(),
	}
}

// run is the main polling loop.
func (p *Poller) run() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	// Poll immediately on start.
	p.poll()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.poll()
		}
	}
}

// poll runs one cycle, fetching the queue and analytics concurrently.
func (p *Poller) poll() {
	if p.cfg.Gate != nil && !p.cfg.Gate() {
		p.skipped.Add(1)
		p.logger.Debug("poll skipped")
		return
	}
	p.cycles.Add(1)
	start := time.Now()

	// Fetch errors are counted and logged, never returned, so one failing
	// endpoint does not cancel the other.
	var g errgroup.Group
	g.Go(func() error {
		p.fetch("queue", p.pollQueue)
		return nil
	})
	if p.cfg.Analytics {
		g.Go(func() error {
			p.fetch("analytics", p.pollAnalytics)
			return nil
		})
	}
	g.Wait()

	p.logger.Debug("poll cycle complete", "duration", time.Since(start))
}

func (p *Poller) fetch(what string, fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(p.ctx, p.cfg.Timeout)
	defer cancel()

	if err := fn(ctx); err != nil {
		p.errors.Add(1)
		p.logger.Warn("poll failed", "what", what, "error", err)
		return
	}
	p.fetched.Add(1)
}

func (p *Poller) pollQueue(ctx context.Context) error {
	entries, err := p.source.GetQueueEntries(ctx)
	if err != nil {
		return err
	}
	p.handler.HandleQueue(router.QueueMsg{Entries: entries, ReceivedAt: time.Now()})
	return nil
}

func (p *Poller) pollAnalytics(ctx context.Context) error {
	a, err := p.source.GetDashboardAnalytics(ctx)
	if err != nil {
		return err
	}
	p.handler.HandleAnalytics(router.AnalyticsMsg{Analytics: *a, ReceivedAt: time.Now()})
	return nil
}
