package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"atrium-backend/internal/store"
)

// Event is one audit trail entry: a write or read performed by an actor
// against a tenant's data.
type Event struct {
	TenantID int64
	Entity   string
	Action   string // create, update, delete, list, read
	RecordID string
	Actor    string
	Metadata map[string]any
}

// Execer is the slice of *sql.DB the buffer needs.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Buffer collects audit events in memory and periodically flushes them to
// the _audit_events table in a batch insert. Losing a batch on crash is
// accepted; audit writes must never slow down or fail the request path.
type Buffer struct {
	mu      sync.Mutex
	events  []Event
	db      Execer
	dialect store.Dialect
	maxSize int
	ticker  *time.Ticker
	done    chan struct{}
}

// NewBuffer creates a buffer that flushes on a timer or when full.
func NewBuffer(db Execer, dialect store.Dialect, maxSize int, flushIntervalMs int) *Buffer {
	if maxSize <= 0 {
		maxSize = 500
	}
	if flushIntervalMs <= 0 {
		flushIntervalMs = 100
	}
	b := &Buffer{
		db:      db,
		dialect: dialect,
		maxSize: maxSize,
		done:    make(chan struct{}),
	}
	b.ticker = time.NewTicker(time.Duration(flushIntervalMs) * time.Millisecond)
	go b.run()
	return b
}

func (b *Buffer) run() {
	for {
		select {
		case <-b.done:
			return
		case <-b.ticker.C:
			b.Flush()
		}
	}
}

// Record adds an event to the buffer. A full buffer triggers an
// asynchronous flush.
func (b *Buffer) Record(event Event) {
	b.mu.Lock()
	b.events = append(b.events, event)
	shouldFlush := len(b.events) >= b.maxSize
	b.mu.Unlock()
	if shouldFlush {
		go b.Flush()
	}
}

// Flush writes all buffered events in a single batch insert. Flushing runs
// on the pool directly, outside any tenant session; the audit table is not
// row-security scoped.
func (b *Buffer) Flush() {
	b.mu.Lock()
	if len(b.events) == 0 {
		b.mu.Unlock()
		return
	}
	batch := b.events
	b.events = nil
	b.mu.Unlock()

	cols := []string{"id", "tenant_id", "entity", "action", "record_id", "actor", "metadata"}
	pb := b.dialect.NewParamBuilder()
	rows := make([]string, 0, len(batch))
	for _, e := range batch {
		var metaJSON any
		if e.Metadata != nil {
			raw, _ := json.Marshal(e.Metadata)
			metaJSON = string(raw)
		}
		phs := []string{
			pb.Add(uuid.New().String()),
			pb.Add(e.TenantID),
			pb.Add(e.Entity),
			pb.Add(e.Action),
			pb.Add(e.RecordID),
			pb.Add(e.Actor),
			pb.Add(metaJSON),
		}
		rows = append(rows, "("+strings.Join(phs, ",")+")")
	}

	sqlStr := fmt.Sprintf("INSERT INTO _audit_events (%s) VALUES %s",
		strings.Join(cols, ","), strings.Join(rows, ","))
	if _, err := b.db.ExecContext(context.Background(), sqlStr, pb.Params()...); err != nil {
		log.Printf("ERROR: audit buffer insert: %v", err)
	}
}

// Pending returns the number of buffered, unflushed events.
func (b *Buffer) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}

// Stop halts the background ticker and flushes remaining events.
func (b *Buffer) Stop() {
	if b.ticker != nil {
		b.ticker.Stop()
	}
	close(b.done)
	b.Flush()
}
