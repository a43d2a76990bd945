package writer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/rickgao/queuelink/internal/buffer"
)

var errNoDatabase = errors.New("writer has no database")

// batchWriter consumes M from a router buffer, turns each into zero or more
// rows and inserts them in batches. The typed writers wrap it.
type batchWriter[M, R any] struct {
	name   string
	cfg    WriterConfig
	logger *slog.Logger

	// Input from Message Router
	input *buffer.Queue[M]

	// Database
	db Batcher

	rows  func(M) []R
	queue func(b *pgx.Batch, r R)

	// Batching
	batch       []R
	batchMu     sync.Mutex
	flushTicker *time.Ticker

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Metrics
	metrics WriterMetrics
}

func newBatchWriter[M, R any](
	name string,
	cfg WriterConfig,
	input *buffer.Queue[M],
	db Batcher,
	logger *slog.Logger,
	rows func(M) []R,
	queue func(*pgx.Batch, R),
) *batchWriter[M, R] {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 1
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultWriterConfig().FlushInterval
	}
	return &batchWriter[M, R]{
		name:   name,
		cfg:    cfg,
		input:  input,
		db:     db,
		logger: logger.With("writer", name),
		rows:   rows,
		queue:  queue,
		batch:  make([]R, 0, cfg.BatchSize),
	}
}

// Start begins consuming messages and writing to the database.
func (w *batchWriter[M, R]) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.flushTicker = time.NewTicker(w.cfg.FlushInterval)

	// Consumer goroutine
	w.wg.Add(1)
	go w.consumeLoop()

	// Flush ticker goroutine
	w.wg.Add(1)
	go w.flushLoop()

	w.logger.Info("writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop gracefully shuts down the writer. Messages still in the input buffer
// are drained and flushed using ctx.
func (w *batchWriter[M, R]) Stop(ctx context.Context) error {
	w.logger.Info("stopping writer")

	if w.cancel != nil {
		w.cancel()
	}

	if w.flushTicker != nil {
		w.flushTicker.Stop()
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info("writer stopped")
	case <-ctx.Done():
		w.logger.Warn("writer stop timed out")
	}

	for _, msg := range w.input.DrainTo(w.input.Len()) {
		w.add(msg)
	}
	w.flush(ctx)

	return nil
}

// Stats returns current metrics.
func (w *batchWriter[M, R]) Stats() WriterMetrics {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return w.metrics
}

// consumeLoop reads from the input buffer and accumulates batches.
func (w *batchWriter[M, R]) consumeLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		default:
			msg, ok := w.input.TryReceive()
			if !ok {
				// Buffer empty, wait a bit before trying again
				select {
				case <-w.ctx.Done():
					return
				case <-time.After(10 * time.Millisecond):
					continue
				}
			}

			w.handleMessage(msg)
		}
	}
}

// flushLoop periodically flushes the batch.
func (w *batchWriter[M, R]) flushLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.flushTicker.C:
			w.flush(w.ctx)
		}
	}
}

// handleMessage adds a message's rows to the batch and flushes when full.
func (w *batchWriter[M, R]) handleMessage(msg M) {
	if w.add(msg) {
		w.flush(w.ctx)
	}
}

// add appends msg's rows and reports whether the batch is full.
func (w *batchWriter[M, R]) add(msg M) bool {
	rows := w.rows(msg)

	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	w.batch = append(w.batch, rows...)
	return len(w.batch) >= w.cfg.BatchSize
}

// flush writes the current batch to the database.
func (w *batchWriter[M, R]) flush(ctx context.Context) {
	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return
	}

	// Take ownership of current batch
	batch := w.batch
	w.batch = make([]R, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	start := time.Now()

	conflicts, err := w.batchInsert(ctx, batch)
	if err != nil {
		w.logger.Error("batch insert failed", "error", err, "count", len(batch))
		w.batchMu.Lock()
		w.metrics.Errors++
		w.batchMu.Unlock()
		return
	}

	w.batchMu.Lock()
	w.metrics.Inserts += int64(len(batch) - conflicts)
	w.metrics.Conflicts += int64(conflicts)
	w.metrics.Flushes++
	w.batchMu.Unlock()

	w.logger.Debug("flushed rows",
		"count", len(batch),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
}

// batchInsert sends rows in one pgx.Batch. Rows affected 0 is counted as an
// ON CONFLICT DO NOTHING skip.
func (w *batchWriter[M, R]) batchInsert(ctx context.Context, rows []R) (conflicts int, err error) {
	if w.db == nil {
		return 0, errNoDatabase
	}
	if ctx == nil || ctx.Err() != nil {
		ctx = context.Background()
	}

	batch := &pgx.Batch{}
	for _, r := range rows {
		w.queue(batch, r)
	}

	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}

	return conflicts, nil
}
