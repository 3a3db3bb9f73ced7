package batch

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jacentio/arbor/entity"
	"github.com/jacentio/arbor/store"
)

type updateCall struct {
	table string
	key   store.Item
	ops   []store.Op
}

// fakeStore applies Set/Remove ops in memory and can be told to fail
// specific entity identifiers.
type fakeStore struct {
	mu      sync.Mutex
	calls   []updateCall
	failIDs map[string]error

	inFlight    int
	maxInFlight int
}

func (f *fakeStore) Config() store.Config { return store.DefaultConfig() }

func (f *fakeStore) Update(ctx context.Context, table string, key store.Item, ops []store.Op, cond *store.Condition) (store.Item, error) {
	f.mu.Lock()
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	f.calls = append(f.calls, updateCall{table: table, key: key, ops: ops})
	err := f.failIDs[key.GetString(store.AttrEntity)]
	f.mu.Unlock()

	time.Sleep(time.Millisecond)

	f.mu.Lock()
	f.inFlight--
	f.mu.Unlock()

	if err != nil {
		return nil, err
	}
	item := store.Item{}
	for k, v := range key {
		item[k] = v
	}
	for _, op := range ops {
		switch op.Kind {
		case store.OpSet:
			item[op.Name] = op.Value
		case store.OpRemove:
			delete(item, op.Name)
		}
	}
	return item, nil
}

func (f *fakeStore) callsFor(entityID string) []updateCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []updateCall
	for _, c := range f.calls {
		if c.key.GetString(store.AttrEntity) == entityID {
			out = append(out, c)
		}
	}
	return out
}

func taskSchema() *entity.Schema {
	return &entity.Schema{
		Name:     "task",
		IDPrefix: "TASK",
		Attributes: []entity.Attribute{
			{Name: "title", Required: true},
			{Name: "status", Default: "todo"},
		},
	}
}

func newTestEngine(fake *fakeStore) *Engine {
	e := New(fake, taskSchema(), nil)
	e.now = func() time.Time { return time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC) }
	return e
}

func findOp(ops []store.Op, name string) (store.Op, bool) {
	for _, op := range ops {
		if op.Name == name {
			return op, true
		}
	}
	return store.Op{}, false
}

func TestExecute_FulfillsEveryUnit(t *testing.T) {
	fake := &fakeStore{}
	e := newTestEngine(fake)

	result := e.Execute(context.Background(), []Request{
		{Type: TypeCreate, EntityID: "TASK_a", Properties: map[string]any{"title": "one"}},
		{Type: TypeUpdate, EntityID: "TASK_b", Properties: map[string]any{"title": "two"}},
		{Type: TypeDelete, EntityID: "TASK_c"},
	}, Options{WorkspaceID: "WS_1"})

	if len(result.Fulfilled) != 3 || len(result.Rejected) != 0 {
		t.Fatalf("expected 3 fulfilled / 0 rejected, got %d / %d", len(result.Fulfilled), len(result.Rejected))
	}
	if len(fake.calls) != 3 {
		t.Errorf("expected 3 store calls, got %d", len(fake.calls))
	}
	for _, c := range fake.calls {
		if c.table != "arbor_entities" {
			t.Errorf("expected writes against the entity table, got %q", c.table)
		}
		if c.key.GetString(store.AttrWorkspace) != "WS_1" {
			t.Errorf("expected default workspace on key, got %v", c.key)
		}
	}
}

func TestExecute_LastWriteWins(t *testing.T) {
	fake := &fakeStore{}
	e := newTestEngine(fake)

	result := e.Execute(context.Background(), []Request{
		{Type: TypeUpdate, EntityID: "TASK_a", Properties: map[string]any{"title": "first"}},
		{Type: TypeUpdate, EntityID: "TASK_b", Properties: map[string]any{"title": "other"}},
		{Type: TypeUpdate, EntityID: "TASK_a", Properties: map[string]any{"title": "second"}},
	}, Options{WorkspaceID: "WS_1"})

	if n := len(result.Fulfilled) + len(result.Rejected); n != 2 {
		t.Fatalf("expected 2 surviving units after dedup, got %d", n)
	}

	calls := fake.callsFor("TASK_a")
	if len(calls) != 1 {
		t.Fatalf("expected exactly one write for the duplicated id, got %d", len(calls))
	}
	op, ok := findOp(calls[0].ops, "title")
	if !ok || op.Value != "second" {
		t.Errorf("expected the last submitted unit to win, got %+v", op)
	}
}

func TestExecute_GeneratesCreateIDs(t *testing.T) {
	fake := &fakeStore{}
	e := newTestEngine(fake)

	result := e.Execute(context.Background(), []Request{
		{Type: TypeCreate, Properties: map[string]any{"title": "one"}},
		{Type: TypeCreate, Properties: map[string]any{"title": "two"}},
	}, Options{WorkspaceID: "WS_1"})

	if len(result.Fulfilled) != 2 {
		t.Fatalf("expected both id-less creates to survive, got %+v", result)
	}
	ids := map[string]bool{}
	for _, out := range result.Fulfilled {
		if !strings.HasPrefix(out.EntityID, "TASK_") {
			t.Errorf("expected generated id with schema prefix, got %q", out.EntityID)
		}
		ids[out.EntityID] = true
	}
	if len(ids) != 2 {
		t.Errorf("expected distinct generated ids, got %v", ids)
	}
}

func TestExecute_PartialFailureIsolation(t *testing.T) {
	fake := &fakeStore{failIDs: map[string]error{
		"TASK_b": errors.New("throughput exceeded"),
	}}
	e := newTestEngine(fake)

	result := e.Execute(context.Background(), []Request{
		{Type: TypeUpdate, EntityID: "TASK_a", Properties: map[string]any{"title": "a"}},
		{Type: TypeUpdate, EntityID: "TASK_b", Properties: map[string]any{"title": "b"}},
		{Type: TypeUpdate, EntityID: "TASK_c", Properties: map[string]any{"title": "c"}},
	}, Options{WorkspaceID: "WS_1"})

	if len(result.Fulfilled) != 2 {
		t.Errorf("expected the siblings of a failed unit to proceed, got %+v", result.Fulfilled)
	}
	if len(result.Rejected) != 1 {
		t.Fatalf("expected 1 rejected unit, got %+v", result.Rejected)
	}
	rej := result.Rejected[0]
	if rej.EntityID != "TASK_b" {
		t.Errorf("expected TASK_b rejected, got %q", rej.EntityID)
	}
	if !strings.Contains(rej.Reason, "throughput exceeded") {
		t.Errorf("expected the store error as reason, got %q", rej.Reason)
	}
}

func TestExecute_ValidationRejectsBeforeWrite(t *testing.T) {
	fake := &fakeStore{}
	e := newTestEngine(fake)

	result := e.Execute(context.Background(), []Request{
		{Type: TypeCreate, EntityID: "TASK_a", Properties: map[string]any{}},
		{Type: TypeCreate, EntityID: "TASK_b", Properties: map[string]any{"title": "ok"}},
	}, Options{WorkspaceID: "WS_1"})

	if len(result.Rejected) != 1 || result.Rejected[0].EntityID != "TASK_a" {
		t.Fatalf("expected TASK_a rejected for validation, got %+v", result.Rejected)
	}
	if !strings.Contains(result.Rejected[0].Reason, "title") {
		t.Errorf("expected the missing field named in the reason, got %q", result.Rejected[0].Reason)
	}
	if calls := fake.callsFor("TASK_a"); len(calls) != 0 {
		t.Errorf("invalid unit must not reach the store, got %d calls", len(calls))
	}
	if len(result.Fulfilled) != 1 {
		t.Errorf("expected the valid sibling to proceed, got %+v", result.Fulfilled)
	}
}

func TestExecute_DeleteArchivesWithExpiry(t *testing.T) {
	fake := &fakeStore{}
	e := newTestEngine(fake)

	e.Execute(context.Background(), []Request{
		{Type: TypeDelete, EntityID: "TASK_a"},
	}, Options{WorkspaceID: "WS_1", Source: entity.SourceExternal})

	calls := fake.callsFor("TASK_a")
	if len(calls) != 1 {
		t.Fatalf("expected one write, got %d", len(calls))
	}
	ops := calls[0].ops

	if op, ok := findOp(ops, entity.FieldStatus); !ok || op.Value != string(entity.StatusArchived) {
		t.Errorf("expected status set to ARCHIVED, got %+v", op)
	}
	if op, ok := findOp(ops, entity.FieldSource); !ok || op.Value != string(entity.SourceExternal) {
		t.Errorf("expected provenance stamped, got %+v", op)
	}
	op, ok := findOp(ops, entity.FieldTTL)
	if !ok || op.Kind != store.OpSet {
		t.Fatalf("expected expiry set on delete, got %+v", op)
	}
	expected := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, 30).Unix()
	if op.Value != expected {
		t.Errorf("expected expiry %d (30 days out), got %v", expected, op.Value)
	}
}

func TestExecute_LiveWriteClearsExpiry(t *testing.T) {
	fake := &fakeStore{}
	e := newTestEngine(fake)

	e.Execute(context.Background(), []Request{
		{Type: TypeUpdate, EntityID: "TASK_a", UserID: "USER_1", Properties: map[string]any{"title": "back"}},
	}, Options{WorkspaceID: "WS_1"})

	ops := fake.callsFor("TASK_a")[0].ops
	op, ok := findOp(ops, entity.FieldTTL)
	if !ok || op.Kind != store.OpRemove {
		t.Fatalf("expected expiry removed on a live write, got %+v", op)
	}
	if op, ok := findOp(ops, entity.FieldStatus); !ok || op.Value != string(entity.StatusActive) {
		t.Errorf("expected status reset to ACTIVE, got %+v", op)
	}
	if op, ok := findOp(ops, entity.FieldUser); !ok || op.Value != "USER_1" {
		t.Errorf("expected acting user stamped, got %+v", op)
	}
}

func TestExecute_ChunksBoundConcurrency(t *testing.T) {
	fake := &fakeStore{}
	e := newTestEngine(fake)

	requests := make([]Request, 60)
	for i := range requests {
		requests[i] = Request{Type: TypeCreate, Properties: map[string]any{"title": "t"}}
	}

	result := e.Execute(context.Background(), requests, Options{WorkspaceID: "WS_1"})

	if len(result.Fulfilled) != 60 {
		t.Fatalf("expected all 60 units fulfilled, got %d", len(result.Fulfilled))
	}
	if fake.maxInFlight > store.MaxBatchWriteItems {
		t.Errorf("expected at most %d concurrent writes, observed %d", store.MaxBatchWriteItems, fake.maxInFlight)
	}
}
