// Package batch implements the bulk mutation engine: heterogeneous lists of
// create/update/delete units executed against the entity table in capped-size
// chunks, with per-unit success and failure reporting instead of
// all-or-nothing semantics.
package batch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jacentio/arbor/entity"
	"github.com/jacentio/arbor/store"
)

// Type discriminates a request unit.
type Type string

const (
	TypeCreate Type = "CREATE"
	TypeUpdate Type = "UPDATE"
	TypeDelete Type = "DELETE"
)

// Request is one unit of a bulk mutation.
type Request struct {
	Type        Type
	WorkspaceID string

	// EntityID identifies the record; generated from the schema for CREATE
	// units that omit it. Duplicate identifiers within one call collapse to
	// the unit submitted last.
	EntityID string

	// UserID is the acting principal.
	UserID string

	// Properties is the entity payload for CREATE and UPDATE units.
	Properties map[string]any
}

// Outcome is the per-unit result of a bulk mutation.
type Outcome struct {
	WorkspaceID string
	EntityID    string

	// Attributes holds the record as it stands after a fulfilled write.
	Attributes store.Item

	// Reason is the failure description for a rejected unit.
	Reason string
}

// Result partitions every surviving (post-dedup) unit into fulfilled and
// rejected. len(Fulfilled)+len(Rejected) always equals the surviving count.
type Result struct {
	Fulfilled []Outcome
	Rejected  []Outcome
}

// Store is the subset of the store adapter the engine uses.
type Store interface {
	Config() store.Config
	Update(ctx context.Context, table string, key store.Item, ops []store.Op, cond *store.Condition) (store.Item, error)
}

// Options apply to one Execute call.
type Options struct {
	// WorkspaceID is the default workspace for units that omit one.
	WorkspaceID string

	// Source is the write provenance stamped on every unit; defaults to
	// INTERNAL.
	Source entity.Source
}

// Engine executes bulk mutations for one entity type.
type Engine struct {
	store  Store
	schema *entity.Schema
	logger *slog.Logger

	// now is swapped in tests to pin the archival TTL.
	now func() time.Time
}

// New creates an Engine. A nil logger falls back to slog.Default().
func New(st Store, schema *entity.Schema, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:  st,
		schema: schema,
		logger: logger,
		now:    time.Now,
	}
}

// unit is a request after dedup and transformation, ready to execute.
type unit struct {
	workspaceID string
	entityID    string
	ops         []store.Op

	// invalid holds a validation failure detected before any write.
	invalid error
}

// Execute runs the requests and returns a complete per-unit accounting. It
// never fails as a whole for per-unit store errors: a rejected unit is
// recorded and its siblings proceed.
//
// Duplicate entity identifiers are resolved last-write-wins: the list is
// walked in reverse and only the first unit seen for each identifier (the
// last submitted) survives. Units are then executed in chunks of the store's
// batch cardinality; chunk N+1 does not start until every unit of chunk N
// has settled, while units within a chunk run concurrently.
func (e *Engine) Execute(ctx context.Context, requests []Request, opts Options) Result {
	units := e.prepare(requests, opts)

	var result Result
	for start := 0; start < len(units); start += store.MaxBatchWriteItems {
		end := start + store.MaxBatchWriteItems
		if end > len(units) {
			end = len(units)
		}
		e.executeChunk(ctx, units[start:end], &result)
	}

	e.logger.Info("bulk mutation settled",
		"entityType", e.schema.Name,
		"fulfilled", len(result.Fulfilled),
		"rejected", len(result.Rejected),
	)
	return result
}

// prepare deduplicates and transforms the raw requests.
func (e *Engine) prepare(requests []Request, opts Options) []unit {
	source := opts.Source
	if source == "" {
		source = entity.SourceInternal
	}

	seen := make(map[string]bool, len(requests))
	units := make([]unit, 0, len(requests))
	for i := len(requests) - 1; i >= 0; i-- {
		req := requests[i]
		if req.EntityID == "" && req.Type == TypeCreate {
			req.EntityID = e.schema.NewID()
		}
		if seen[req.EntityID] {
			continue
		}
		seen[req.EntityID] = true
		units = append(units, e.transform(req, opts.WorkspaceID, source))
	}
	return units
}

// transform maps one request unit onto store update operations: the type
// discriminator is stripped, provenance is stamped, and the expiry field is
// either cleared (live writes must not carry a stale expiry) or set to the
// archival grace period.
func (e *Engine) transform(req Request, defaultWorkspace string, source entity.Source) unit {
	workspaceID := req.WorkspaceID
	if workspaceID == "" {
		workspaceID = defaultWorkspace
	}
	u := unit{workspaceID: workspaceID, entityID: req.EntityID}

	switch req.Type {
	case TypeDelete:
		u.ops = []store.Op{
			store.Set(entity.FieldSource, string(source)),
			store.Set(entity.FieldStatus, string(entity.StatusArchived)),
			store.Set(entity.FieldTTL, entity.ArchiveTTL(e.now())),
		}
	default: // CREATE and UPDATE share the write shape
		item, err := e.schema.Apply(req.Properties)
		if err != nil {
			u.invalid = err
			return u
		}
		ops := make([]store.Op, 0, len(item)+4)
		for name, value := range item {
			ops = append(ops, store.Set(name, value))
		}
		if req.UserID != "" {
			ops = append(ops, store.Set(entity.FieldUser, req.UserID))
		}
		ops = append(ops,
			store.Set(entity.FieldSource, string(source)),
			store.Set(entity.FieldStatus, string(entity.StatusActive)),
			store.Remove(entity.FieldTTL),
		)
		u.ops = ops
	}
	return u
}

// executeChunk dispatches every unit of one chunk concurrently and waits for
// all of them to settle before returning. One unit's failure never aborts its
// siblings.
func (e *Engine) executeChunk(ctx context.Context, units []unit, result *Result) {
	outcomes := make([]Outcome, len(units))
	fulfilled := make([]bool, len(units))

	table := e.store.Config().Table
	var wg sync.WaitGroup
	for i, u := range units {
		outcomes[i] = Outcome{WorkspaceID: u.workspaceID, EntityID: u.entityID}
		if u.invalid != nil {
			outcomes[i].Reason = u.invalid.Error()
			continue
		}

		wg.Add(1)
		go func(i int, u unit) {
			defer wg.Done()

			attrs, err := e.store.Update(ctx, table, store.Item{
				store.AttrWorkspace: u.workspaceID,
				store.AttrEntity:    u.entityID,
			}, u.ops, nil)
			if err != nil {
				outcomes[i].Reason = err.Error()
				return
			}
			outcomes[i].Attributes = attrs
			fulfilled[i] = true
		}(i, u)
	}
	wg.Wait()

	for i, out := range outcomes {
		if fulfilled[i] {
			result.Fulfilled = append(result.Fulfilled, out)
		} else {
			result.Rejected = append(result.Rejected, out)
		}
	}
}
