package writer

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
)

// WriterConfig contains configuration for batch writers.
type WriterConfig struct {
	// BatchSize is the number of rows to accumulate before flushing.
	BatchSize int

	// FlushInterval is the maximum time between flushes.
	FlushInterval time.Duration
}

// DefaultWriterConfig returns sensible defaults.
func DefaultWriterConfig() WriterConfig {
	return WriterConfig{
		BatchSize:     500,
		FlushInterval: 2 * time.Second,
	}
}

// WriterMetrics holds metrics for a writer.
type WriterMetrics struct {
	Inserts   int64
	Conflicts int64
	Errors    int64
	Flushes   int64
}

// Batcher sends a pgx batch. *pgxpool.Pool satisfies it.
type Batcher interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// tokenRow represents a row for the token_events table.
type tokenRow struct {
	EventID           string // UUID derived from token id + updated_at
	ReceivedAt        int64  // Microseconds
	UpdatedAt         int64  // Microseconds
	TokenID           string
	TokenNumber       string
	PatientID         string
	PriorityLevel     int
	Category          string
	Status            string
	Position          int
	EstimatedWaitTime int // Minutes
}

// queueSnapshotRow represents a row for the queue_snapshots table.
type queueSnapshotRow struct {
	SnapshotID  string // UUID
	ReceivedAt  int64  // Microseconds
	EntryCount  int
	ActiveCount int
	Entries     []byte // JSONB: [{token_id, token_number, priority_level, position, estimated_wait_time, status}, ...]
}

// analyticsRow represents a row for the analytics_snapshots table.
type analyticsRow struct {
	SnapshotID           string // UUID
	ReceivedAt           int64  // Microseconds
	TotalTokensToday     int
	ActiveTokens         int
	CompletedTokensToday int
	AverageWaitTime      float64
	PriorityDistribution []byte // JSONB
}
