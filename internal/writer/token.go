package writer

import (
	"log/slog"

	"github.com/jackc/pgx/v5"

	"github.com/rickgao/queuelink/internal/buffer"
	"github.com/rickgao/queuelink/internal/router"
)

// TokenWriter consumes TokenMsg from the router buffer and writes to the
// token_events table. Duplicate token versions are skipped.
type TokenWriter struct {
	*batchWriter[router.TokenMsg, tokenRow]
}

// NewTokenWriter creates a new TokenWriter.
func NewTokenWriter(
	cfg WriterConfig,
	input *buffer.Queue[router.TokenMsg],
	db Batcher,
	logger *slog.Logger,
) *TokenWriter {
	return &TokenWriter{newBatchWriter("token", cfg, input, db, logger,
		func(msg router.TokenMsg) []tokenRow { return []tokenRow{transformToken(msg)} },
		queueTokenRow,
	)}
}

// transformToken converts a TokenMsg to a tokenRow.
func transformToken(msg router.TokenMsg) tokenRow {
	tok := msg.Token
	return tokenRow{
		EventID:           tokenEventID(tok),
		ReceivedAt:        toMicros(msg.ReceivedAt),
		UpdatedAt:         toMicros(tok.UpdatedAt),
		TokenID:           tok.ID,
		TokenNumber:       tok.TokenNumber,
		PatientID:         tok.PatientID,
		PriorityLevel:     int(tok.PriorityLevel),
		Category:          tok.Category,
		Status:            tok.Status,
		Position:          tok.Position,
		EstimatedWaitTime: tok.EstimatedWaitTime,
	}
}

func queueTokenRow(b *pgx.Batch, r tokenRow) {
	b.Queue(`
		INSERT INTO token_events (event_id, received_at, updated_at, token_id, token_number, patient_id,
			priority_level, category, status, position, estimated_wait_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (event_id) DO NOTHING
	`, r.EventID, r.ReceivedAt, r.UpdatedAt, r.TokenID, r.TokenNumber, r.PatientID,
		r.PriorityLevel, r.Category, r.Status, r.Position, r.EstimatedWaitTime)
}
