package writer

import (
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/rickgao/queuelink/internal/buffer"
	"github.com/rickgao/queuelink/internal/router"
)

// QueueWriter consumes QueueMsg snapshots and writes one row per snapshot
// to the queue_snapshots table.
type QueueWriter struct {
	*batchWriter[router.QueueMsg, queueSnapshotRow]
}

// NewQueueWriter creates a new QueueWriter.
func NewQueueWriter(
	cfg WriterConfig,
	input *buffer.Queue[router.QueueMsg],
	db Batcher,
	logger *slog.Logger,
) *QueueWriter {
	return &QueueWriter{newBatchWriter("queue", cfg, input, db, logger,
		func(msg router.QueueMsg) []queueSnapshotRow { return []queueSnapshotRow{transformQueue(msg)} },
		queueSnapshot,
	)}
}

// transformQueue converts a QueueMsg to a queueSnapshotRow.
func transformQueue(msg router.QueueMsg) queueSnapshotRow {
	return queueSnapshotRow{
		SnapshotID:  uuid.NewString(),
		ReceivedAt:  toMicros(msg.ReceivedAt),
		EntryCount:  len(msg.Entries),
		ActiveCount: countActive(msg.Entries),
		Entries:     queueEntriesToJSONB(msg.Entries),
	}
}

func queueSnapshot(b *pgx.Batch, r queueSnapshotRow) {
	b.Queue(`
		INSERT INTO queue_snapshots (snapshot_id, received_at, entry_count, active_count, entries)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (snapshot_id) DO NOTHING
	`, r.SnapshotID, r.ReceivedAt, r.EntryCount, r.ActiveCount, r.Entries)
}
