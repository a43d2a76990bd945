package writer

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/queuelink/internal/model"
)

// tokenEventNamespace scopes token event IDs so that the same token version
// received twice (for example across a reconnect) maps to one row.
var tokenEventNamespace = uuid.MustParse("6f1c7c52-8f0e-4b7e-9a55-2f3b1d4e9c10")

// tokenEventID derives a stable event ID from a token's id and updated_at.
func tokenEventID(tok model.Token) string {
	key := tok.ID + "|" + tok.UpdatedAt.UTC().Format(time.RFC3339Nano)
	return uuid.NewSHA1(tokenEventNamespace, []byte(key)).String()
}

// toMicros converts a timestamp to Unix microseconds; zero stays zero.
func toMicros(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMicro()
}

// queueEntryJSON is the JSONB shape of one archived queue position.
type queueEntryJSON struct {
	TokenID           string `json:"token_id"`
	TokenNumber       string `json:"token_number"`
	PriorityLevel     int    `json:"priority_level"`
	Position          int    `json:"position"`
	EstimatedWaitTime int    `json:"estimated_wait_time"`
	Status            string `json:"status"`
}

// queueEntriesToJSONB converts queue entries to JSONB bytes. Patient names
// are not archived.
func queueEntriesToJSONB(entries []model.QueueEntry) []byte {
	result := make([]queueEntryJSON, len(entries))
	for i, e := range entries {
		result[i] = queueEntryJSON{
			TokenID:           e.TokenID,
			TokenNumber:       e.TokenNumber,
			PriorityLevel:     int(e.PriorityLevel),
			Position:          e.Position,
			EstimatedWaitTime: e.EstimatedWaitTime,
			Status:            e.Status,
		}
	}
	data, _ := json.Marshal(result)
	return data
}

// countActive returns how many entries are still active.
func countActive(entries []model.QueueEntry) int {
	n := 0
	for _, e := range entries {
		if e.Status == model.StatusActive {
			n++
		}
	}
	return n
}
