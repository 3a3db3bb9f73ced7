// Package hierarchy implements the materialized-path tree engine.
//
// Each tree-structured entity owns one record in the tree-index table mapping
// its identifier to the delimiter-joined path of its ancestors, rooted at the
// entity type name. Paths make subtree listings a single prefix query on the
// (tree, path) index and make cycle detection a membership test on the
// ancestor chain, at the cost of path rewrites on move.
//
// Node creation is atomic across the tree record and the entity record.
// Subtree delete and move span arbitrarily many rows and are deliberately not
// transactional: every row mutation is idempotent and the operation is
// retried with backoff, so repeated invocations converge to the same end
// state (at-least-once semantics).
package hierarchy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jacentio/arbor/entity"
	"github.com/jacentio/arbor/internal/treepath"
	"github.com/jacentio/arbor/store"
)

// Store is the subset of the store adapter the engine uses. *store.Store
// satisfies it; tests supply an in-memory fake.
type Store interface {
	Config() store.Config
	Get(ctx context.Context, table string, key store.Item) (store.Item, error)
	Put(ctx context.Context, table string, item store.Item, cond *store.Condition) error
	Delete(ctx context.Context, table string, key store.Item) error
	QueryAll(ctx context.Context, in store.QueryInput) ([]store.Item, error)
	BatchWrite(ctx context.Context, writes []store.WriteRequest) error
	TransactWrite(ctx context.Context, items []store.TransactItem) error
}

// Engine maintains one forest per (entity type, workspace).
type Engine struct {
	store  Store
	schema *entity.Schema
	logger *slog.Logger
}

// New creates an Engine for one entity type. A nil logger falls back to
// slog.Default().
func New(st Store, schema *entity.Schema, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:  st,
		schema: schema,
		logger: logger,
	}
}

// Node is the merged view of a hierarchy record and its entity record.
type Node struct {
	EntityID    string
	WorkspaceID string

	// Path is the stored ancestor chain, root token first, excluding the
	// node itself.
	Path string

	// Attributes is the full entity record.
	Attributes store.Item
}

// Depth is the number of ancestors above the node.
func (n Node) Depth() int {
	return treepath.Parse(n.Path).Depth()
}

// treeRecord is one row of the tree-index table.
type treeRecord struct {
	entityID string
	tree     string
	path     treepath.Path
}

func (e *Engine) treeRecord(ctx context.Context, entityID string) (treeRecord, error) {
	item, err := e.store.Get(ctx, e.store.Config().TreeTable, store.Item{
		store.AttrEntity: entityID,
	})
	if err != nil {
		return treeRecord{}, err
	}
	return treeRecord{
		entityID: entityID,
		tree:     item.GetString(store.AttrTree),
		path:     treepath.Parse(item.GetString(store.AttrPath)),
	}, nil
}

// AddRequest describes a node to insert into the hierarchy.
type AddRequest struct {
	// EntityID is the node identifier; generated from the schema when empty.
	EntityID string

	// WorkspaceID scopes the node's tree.
	WorkspaceID string

	// ParentID attaches the node under an existing node. Empty attaches it
	// directly under the type root.
	ParentID string

	// UserID is the acting principal.
	UserID string

	// Source is the write provenance; defaults to INTERNAL.
	Source entity.Source

	// Properties is the entity-type-specific payload.
	Properties map[string]any
}

// AddItem inserts a node and its entity record in a single transaction:
// either both rows are persisted or neither is. It fails with ErrNotFound
// when the parent is absent, ErrCircularReference when the node would become
// its own ancestor, and ErrAlreadyExists when the identifier is taken.
func (e *Engine) AddItem(ctx context.Context, req AddRequest) (Node, error) {
	entityID := req.EntityID
	if entityID == "" {
		entityID = e.schema.NewID()
	}

	candidate := treepath.Root(e.schema.Name)
	if req.ParentID != "" {
		parent, err := e.treeRecord(ctx, req.ParentID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return Node{}, fmt.Errorf("parent %s: %w", req.ParentID, ErrNotFound)
			}
			return Node{}, err
		}
		candidate = parent.path.Child(req.ParentID)
	}
	if candidate.Contains(entityID) {
		return Node{}, fmt.Errorf("%s would be its own ancestor: %w", entityID, ErrCircularReference)
	}

	item, err := e.schema.Apply(req.Properties)
	if err != nil {
		return Node{}, err
	}
	source := req.Source
	if source == "" {
		source = entity.SourceInternal
	}
	item[store.AttrWorkspace] = req.WorkspaceID
	item[store.AttrEntity] = entityID
	item[entity.FieldUser] = req.UserID
	item[entity.FieldSource] = string(source)
	item[entity.FieldStatus] = string(entity.StatusActive)

	cfg := e.store.Config()
	err = e.store.TransactWrite(ctx, []store.TransactItem{
		{
			Table: cfg.TreeTable,
			Put: store.Item{
				store.AttrEntity: entityID,
				store.AttrTree:   req.WorkspaceID,
				store.AttrPath:   candidate.String(),
			},
			PutCondition: store.AttributeNotExists(store.AttrEntity),
		},
		{
			Table: cfg.Table,
			Put:   item,
		},
	})
	if err != nil {
		var canceled *store.TransactionCanceledError
		if errors.As(err, &canceled) && canceled.FailedIndex == 0 {
			return Node{}, fmt.Errorf("%s: %w", entityID, ErrAlreadyExists)
		}
		return Node{}, err
	}

	e.logger.Info("hierarchy node added",
		"entityId", entityID,
		"workspaceId", req.WorkspaceID,
		"path", candidate.String(),
	)

	return Node{
		EntityID:    entityID,
		WorkspaceID: req.WorkspaceID,
		Path:        candidate.String(),
		Attributes:  item,
	}, nil
}

// GetItem fetches the merged node view. It fails with ErrNotFound when the
// tree record or the entity record is absent, or when the entity is archived.
func (e *Engine) GetItem(ctx context.Context, entityID string) (Node, error) {
	rec, err := e.treeRecord(ctx, entityID)
	if err != nil {
		return Node{}, err
	}

	item, err := e.store.Get(ctx, e.store.Config().Table, store.Item{
		store.AttrWorkspace: rec.tree,
		store.AttrEntity:    entityID,
	})
	if err != nil {
		return Node{}, err
	}
	if entity.IsArchived(item) {
		return Node{}, fmt.Errorf("%s is archived: %w", entityID, ErrNotFound)
	}

	return Node{
		EntityID:    entityID,
		WorkspaceID: rec.tree,
		Path:        rec.path.String(),
		Attributes:  item,
	}, nil
}

// descendants returns the tree records of every node below prefix, at any
// depth. Prefix matching is re-checked segment-wise because begins_with on
// the stored string would also match sibling identifiers sharing a leading
// substring.
func (e *Engine) descendants(ctx context.Context, tree string, prefix treepath.Path) ([]treeRecord, error) {
	cfg := e.store.Config()
	rows, err := e.store.QueryAll(ctx, store.QueryInput{
		Table:          cfg.TreeTable,
		Index:          cfg.TreePathIndex,
		Partition:      store.AttrTree,
		PartitionValue: tree,
		SortAttr:       store.AttrPath,
		SortBeginsWith: prefix.String(),
	})
	if err != nil {
		return nil, err
	}

	records := make([]treeRecord, 0, len(rows))
	for _, row := range rows {
		p := treepath.Parse(row.GetString(store.AttrPath))
		if !p.HasPrefix(prefix) {
			continue
		}
		records = append(records, treeRecord{
			entityID: row.GetString(store.AttrEntity),
			tree:     tree,
			path:     p,
		})
	}
	return records, nil
}
