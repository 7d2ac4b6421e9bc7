package audit

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"testing"
	"time"

	"atrium-backend/internal/store"
)

type fakeExecer struct {
	mu    sync.Mutex
	stmts []string
	args  [][]any
}

func (f *fakeExecer) ExecContext(_ context.Context, query string, args ...any) (sql.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stmts = append(f.stmts, query)
	f.args = append(f.args, args)
	return nil, nil
}

func (f *fakeExecer) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.stmts)
}

func newTestBuffer(db Execer, maxSize int) *Buffer {
	// Long interval so only explicit flushes run during the test.
	return NewBuffer(db, &store.PostgresDialect{}, maxSize, 60_000)
}

func TestBuffer_FlushBatchesEvents(t *testing.T) {
	db := &fakeExecer{}
	b := newTestBuffer(db, 100)
	defer b.Stop()

	b.Record(Event{TenantID: 1, Entity: "document", Action: "create", RecordID: "a", Actor: "admin"})
	b.Record(Event{TenantID: 1, Entity: "document", Action: "delete", RecordID: "b", Actor: "admin",
		Metadata: map[string]any{"reason": "cleanup"}})

	if b.Pending() != 2 {
		t.Fatalf("pending = %d", b.Pending())
	}
	b.Flush()

	if db.calls() != 1 {
		t.Fatalf("exec calls = %d, want one batch insert", db.calls())
	}
	stmt := db.stmts[0]
	if !strings.HasPrefix(stmt, "INSERT INTO _audit_events (id,tenant_id,entity,action,record_id,actor,metadata) VALUES") {
		t.Errorf("stmt = %q", stmt)
	}
	if strings.Count(stmt, "(") != 3 { // column list + two value tuples
		t.Errorf("stmt = %q, want two value tuples", stmt)
	}
	if len(db.args[0]) != 14 {
		t.Errorf("args = %d, want 7 per event", len(db.args[0]))
	}
	if b.Pending() != 0 {
		t.Errorf("pending = %d after flush", b.Pending())
	}
}

func TestBuffer_FlushEmptyIsNoop(t *testing.T) {
	db := &fakeExecer{}
	b := newTestBuffer(db, 100)
	defer b.Stop()

	b.Flush()
	if db.calls() != 0 {
		t.Errorf("exec calls = %d, want none", db.calls())
	}
}

func TestBuffer_FullBufferTriggersFlush(t *testing.T) {
	db := &fakeExecer{}
	b := newTestBuffer(db, 2)
	defer b.Stop()

	b.Record(Event{TenantID: 1, Entity: "document", Action: "create"})
	b.Record(Event{TenantID: 1, Entity: "document", Action: "create"})

	deadline := time.Now().Add(2 * time.Second)
	for db.calls() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if db.calls() == 0 {
		t.Fatal("full buffer did not flush")
	}
}

func TestBuffer_StopFlushesRemainder(t *testing.T) {
	db := &fakeExecer{}
	b := newTestBuffer(db, 100)

	b.Record(Event{TenantID: 2, Entity: "document", Action: "update", RecordID: "c"})
	b.Stop()

	if db.calls() != 1 {
		t.Errorf("exec calls = %d, want final flush", db.calls())
	}
}
