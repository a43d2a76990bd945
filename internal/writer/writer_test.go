package writer

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/rickgao/queuelink/internal/buffer"
	"github.com/rickgao/queuelink/internal/model"
	"github.com/rickgao/queuelink/internal/router"
)

// fakeDB records batches. A repeated first argument is reported as a
// conflict, like ON CONFLICT DO NOTHING on the key column.
type fakeDB struct {
	mu      sync.Mutex
	seen    map[any]bool
	queries []*pgx.QueuedQuery
	batches int
	err     error
}

func newFakeDB() *fakeDB {
	return &fakeDB{seen: make(map[any]bool)}
}

func (f *fakeDB) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.batches++
	res := &fakeResults{err: f.err}
	for _, q := range b.QueuedQueries {
		f.queries = append(f.queries, q)
		key := q.Arguments[0]
		if f.seen[key] {
			res.tags = append(res.tags, pgconn.NewCommandTag("INSERT 0 0"))
		} else {
			f.seen[key] = true
			res.tags = append(res.tags, pgconn.NewCommandTag("INSERT 0 1"))
		}
	}
	return res
}

func (f *fakeDB) queryCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queries)
}

type fakeResults struct {
	tags []pgconn.CommandTag
	err  error
}

func (r *fakeResults) Exec() (pgconn.CommandTag, error) {
	if r.err != nil {
		return pgconn.CommandTag{}, r.err
	}
	tag := r.tags[0]
	r.tags = r.tags[1:]
	return tag, nil
}

func (r *fakeResults) Query() (pgx.Rows, error) { return nil, errors.New("not supported") }
func (r *fakeResults) QueryRow() pgx.Row        { return nil }
func (r *fakeResults) Close() error             { return nil }

func sampleToken(id string, updated time.Time) model.Token {
	symptoms := "fever"
	return model.Token{
		ID:                id,
		TokenNumber:       "M012",
		PatientID:         "pat-1",
		PatientName:       "Kiran",
		PatientPhone:      "555-0101",
		PriorityLevel:     model.PriorityMediumLow,
		Category:          "consultation",
		Status:            model.StatusActive,
		Symptoms:          &symptoms,
		Position:          4,
		EstimatedWaitTime: 40,
		CreatedBy:         "staff-2",
		CreatedAt:         updated.Add(-time.Hour),
		UpdatedAt:         updated,
	}
}

func TestDefaultWriterConfig(t *testing.T) {
	cfg := DefaultWriterConfig()

	if cfg.BatchSize != 500 {
		t.Errorf("BatchSize = %d, want 500", cfg.BatchSize)
	}
	if cfg.FlushInterval != 2*time.Second {
		t.Errorf("FlushInterval = %v, want 2s", cfg.FlushInterval)
	}
}

func TestTransformToken(t *testing.T) {
	receivedAt := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	updated := receivedAt.Add(-time.Second)
	msg := router.TokenMsg{Token: sampleToken("tok-1", updated), ReceivedAt: receivedAt}

	row := transformToken(msg)

	if row.TokenID != "tok-1" {
		t.Errorf("TokenID = %s, want tok-1", row.TokenID)
	}
	if row.ReceivedAt != receivedAt.UnixMicro() {
		t.Errorf("ReceivedAt = %d, want %d", row.ReceivedAt, receivedAt.UnixMicro())
	}
	if row.UpdatedAt != updated.UnixMicro() {
		t.Errorf("UpdatedAt = %d, want %d", row.UpdatedAt, updated.UnixMicro())
	}
	if row.PriorityLevel != 4 {
		t.Errorf("PriorityLevel = %d, want 4", row.PriorityLevel)
	}
	if row.Position != 4 || row.EstimatedWaitTime != 40 {
		t.Errorf("Position/EstimatedWaitTime = %d/%d, want 4/40", row.Position, row.EstimatedWaitTime)
	}

	// Same version, same event id; a newer version gets a new one.
	again := transformToken(router.TokenMsg{Token: sampleToken("tok-1", updated), ReceivedAt: time.Now()})
	if again.EventID != row.EventID {
		t.Errorf("EventID changed for the same token version: %s vs %s", again.EventID, row.EventID)
	}
	newer := transformToken(router.TokenMsg{Token: sampleToken("tok-1", updated.Add(time.Minute))})
	if newer.EventID == row.EventID {
		t.Error("EventID should differ for a newer token version")
	}
}

func TestTransformQueue(t *testing.T) {
	msg := router.QueueMsg{
		Entries: []model.QueueEntry{
			{TokenID: "a", TokenNumber: "C001", PatientName: "Asha", PriorityLevel: 1, Position: 1, Status: model.StatusActive},
			{TokenID: "b", TokenNumber: "M002", PatientName: "Ravi", PriorityLevel: 4, Position: 2, EstimatedWaitTime: 20, Status: model.StatusActive},
			{TokenID: "c", TokenNumber: "R003", PatientName: "Lena", PriorityLevel: 5, Position: 3, Status: model.StatusCompleted},
		},
		ReceivedAt: time.Now(),
	}

	row := transformQueue(msg)

	if row.EntryCount != 3 || row.ActiveCount != 2 {
		t.Errorf("EntryCount/ActiveCount = %d/%d, want 3/2", row.EntryCount, row.ActiveCount)
	}
	if row.SnapshotID == "" {
		t.Error("SnapshotID should be set")
	}

	var entries []map[string]any
	if err := json.Unmarshal(row.Entries, &entries); err != nil {
		t.Fatalf("entries JSONB: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("entries = %d, want 3", len(entries))
	}
	if _, ok := entries[0]["patient_name"]; ok {
		t.Error("patient names must not be archived")
	}
	if entries[1]["estimated_wait_time"] != float64(20) {
		t.Errorf("entry[1] wait = %v, want 20", entries[1]["estimated_wait_time"])
	}
}

func TestTransformQueue_Empty(t *testing.T) {
	row := transformQueue(router.QueueMsg{})
	if string(row.Entries) != "[]" {
		t.Errorf("Entries = %s, want []", row.Entries)
	}
	if row.ReceivedAt != 0 {
		t.Errorf("ReceivedAt = %d, want 0 for zero time", row.ReceivedAt)
	}
}

func TestTransformAnalytics(t *testing.T) {
	row := transformAnalytics(router.AnalyticsMsg{Analytics: model.Analytics{
		TotalTokensToday: 12,
		AverageWaitTime:  7.25,
	}})

	if row.TotalTokensToday != 12 || row.AverageWaitTime != 7.25 {
		t.Errorf("row = %+v", row)
	}
	if string(row.PriorityDistribution) != "{}" {
		t.Errorf("PriorityDistribution = %s, want {}", row.PriorityDistribution)
	}
}

func TestTokenWriter_Lifecycle(t *testing.T) {
	cfg := WriterConfig{
		BatchSize:     10,
		FlushInterval: 100 * time.Millisecond,
	}
	input := buffer.New[router.TokenMsg](10)

	// No database: lifecycle only
	w := NewTokenWriter(cfg, input, nil, nil)

	ctx := context.Background()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	time.Sleep(20 * time.Millisecond)

	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := w.Stop(stopCtx); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
}

func TestTokenWriter_HandleMessage_AddsToBatch(t *testing.T) {
	cfg := WriterConfig{
		BatchSize:     100, // Large batch so no auto-flush
		FlushInterval: time.Hour,
	}
	input := buffer.New[router.TokenMsg](10)
	w := NewTokenWriter(cfg, input, nil, nil)

	w.handleMessage(router.TokenMsg{Token: sampleToken("tok-1", time.Now()), ReceivedAt: time.Now()})

	w.batchMu.Lock()
	batchLen := len(w.batch)
	w.batchMu.Unlock()

	if batchLen != 1 {
		t.Errorf("batch length = %d, want 1", batchLen)
	}
}

func TestTokenWriter_FlushesOnBatchSize(t *testing.T) {
	db := newFakeDB()
	cfg := WriterConfig{BatchSize: 2, FlushInterval: time.Hour}
	input := buffer.New[router.TokenMsg](10)
	w := NewTokenWriter(cfg, input, db, nil)

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	updated := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	input.Send(router.TokenMsg{Token: sampleToken("tok-1", updated), ReceivedAt: time.Now()})
	input.Send(router.TokenMsg{Token: sampleToken("tok-2", updated), ReceivedAt: time.Now()})

	deadline := time.Now().Add(time.Second)
	for w.Stats().Flushes == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	stats := w.Stats()
	if stats.Flushes != 1 || stats.Inserts != 2 {
		t.Errorf("stats = %+v, want 1 flush and 2 inserts", stats)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	w.Stop(ctx)
}

func TestTokenWriter_DuplicateVersionIsConflict(t *testing.T) {
	db := newFakeDB()
	cfg := WriterConfig{BatchSize: 100, FlushInterval: time.Hour}
	input := buffer.New[router.TokenMsg](10)
	w := NewTokenWriter(cfg, input, db, nil)

	updated := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	tok := sampleToken("tok-1", updated)
	w.handleMessage(router.TokenMsg{Token: tok, ReceivedAt: time.Now()})
	w.handleMessage(router.TokenMsg{Token: tok, ReceivedAt: time.Now()})
	w.flush(context.Background())

	stats := w.Stats()
	if stats.Inserts != 1 || stats.Conflicts != 1 {
		t.Errorf("stats = %+v, want 1 insert and 1 conflict", stats)
	}
	if db.queryCount() != 2 {
		t.Errorf("queries = %d, want 2", db.queryCount())
	}
}

func TestWriter_StopDrainsInput(t *testing.T) {
	db := newFakeDB()
	cfg := WriterConfig{BatchSize: 100, FlushInterval: time.Hour}
	input := buffer.New[router.AnalyticsMsg](10)
	w := NewAnalyticsWriter(cfg, input, db, nil)

	// Never started: everything is picked up by Stop.
	for i := 0; i < 3; i++ {
		input.Send(router.AnalyticsMsg{Analytics: model.Analytics{ActiveTokens: i}})
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	w.Stop(ctx)

	if got := w.Stats().Inserts; got != 3 {
		t.Errorf("Inserts = %d, want 3", got)
	}
	if input.Len() != 0 {
		t.Errorf("input Len = %d, want 0", input.Len())
	}
}

func TestWriter_InsertErrorCounted(t *testing.T) {
	db := newFakeDB()
	db.err = errors.New("connection reset")
	cfg := WriterConfig{BatchSize: 100, FlushInterval: time.Hour}
	w := NewQueueWriter(cfg, buffer.New[router.QueueMsg](1), db, nil)

	w.handleMessage(router.QueueMsg{Entries: []model.QueueEntry{{TokenID: "a"}}})
	w.flush(context.Background())

	stats := w.Stats()
	if stats.Errors != 1 || stats.Inserts != 0 {
		t.Errorf("stats = %+v, want 1 error", stats)
	}
}

func TestWriter_NoDatabaseCountsError(t *testing.T) {
	cfg := WriterConfig{BatchSize: 100, FlushInterval: time.Hour}
	w := NewQueueWriter(cfg, buffer.New[router.QueueMsg](1), nil, nil)

	w.handleMessage(router.QueueMsg{})
	w.flush(context.Background())

	if got := w.Stats().Errors; got != 1 {
		t.Errorf("Errors = %d, want 1", got)
	}
}

func TestWriter_Stats(t *testing.T) {
	w := NewTokenWriter(DefaultWriterConfig(), buffer.New[router.TokenMsg](10), nil, nil)

	stats := w.Stats()

	if stats.Inserts != 0 {
		t.Errorf("initial Inserts = %d, want 0", stats.Inserts)
	}
	if stats.Errors != 0 {
		t.Errorf("initial Errors = %d, want 0", stats.Errors)
	}
}
