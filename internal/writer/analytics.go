package writer

import (
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/rickgao/queuelink/internal/buffer"
	"github.com/rickgao/queuelink/internal/router"
)

// AnalyticsWriter consumes AnalyticsMsg and writes to the
// analytics_snapshots table.
type AnalyticsWriter struct {
	*batchWriter[router.AnalyticsMsg, analyticsRow]
}

// NewAnalyticsWriter creates a new AnalyticsWriter.
func NewAnalyticsWriter(
	cfg WriterConfig,
	input *buffer.Queue[router.AnalyticsMsg],
	db Batcher,
	logger *slog.Logger,
) *AnalyticsWriter {
	return &AnalyticsWriter{newBatchWriter("analytics", cfg, input, db, logger,
		func(msg router.AnalyticsMsg) []analyticsRow { return []analyticsRow{transformAnalytics(msg)} },
		queueAnalyticsRow,
	)}
}

// transformAnalytics converts an AnalyticsMsg to an analyticsRow.
func transformAnalytics(msg router.AnalyticsMsg) analyticsRow {
	a := msg.Analytics
	dist := a.PriorityDistribution
	if dist == nil {
		dist = map[string]int{}
	}
	distJSON, _ := json.Marshal(dist)

	return analyticsRow{
		SnapshotID:           uuid.NewString(),
		ReceivedAt:           toMicros(msg.ReceivedAt),
		TotalTokensToday:     a.TotalTokensToday,
		ActiveTokens:         a.ActiveTokens,
		CompletedTokensToday: a.CompletedTokensToday,
		AverageWaitTime:      a.AverageWaitTime,
		PriorityDistribution: distJSON,
	}
}

func queueAnalyticsRow(b *pgx.Batch, r analyticsRow) {
	b.Queue(`
		INSERT INTO analytics_snapshots (snapshot_id, received_at, total_tokens_today, active_tokens,
			completed_tokens_today, average_wait_time, priority_distribution)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (snapshot_id) DO NOTHING
	`, r.SnapshotID, r.ReceivedAt, r.TotalTokensToday, r.ActiveTokens,
		r.CompletedTokensToday, r.AverageWaitTime, r.PriorityDistribution)
}
