package hierarchy

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/jacentio/arbor/entity"
	"github.com/jacentio/arbor/internal/treepath"
	"github.com/jacentio/arbor/store"
)

// GetItemAncestors returns the node's ancestor chain in strict root-to-parent
// order. With includeSelf the node itself is appended, so the result length
// equals depth+1. Ancestor fetches are data-independent once the path is
// known and run concurrently.
func (e *Engine) GetItemAncestors(ctx context.Context, entityID string, includeSelf bool) ([]Node, error) {
	node, err := e.GetItem(ctx, entityID)
	if err != nil {
		return nil, err
	}

	ids := treepath.Parse(node.Path).Ancestors()
	ancestors := make([]Node, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			n, err := e.GetItem(gctx, id)
			if err != nil {
				return err
			}
			ancestors[i] = n
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if includeSelf {
		ancestors = append(ancestors, node)
	}
	return ancestors, nil
}

// GetItemChildren returns the node's full descendant subtree, hydrated from
// the entity table. This is a prefix scan, not a single-level listing;
// ordering within the subtree is whatever the index returns and must be
// treated as unordered. Archived descendants are omitted.
func (e *Engine) GetItemChildren(ctx context.Context, entityID string, includeSelf bool) ([]Node, error) {
	node, err := e.GetItem(ctx, entityID)
	if err != nil {
		return nil, err
	}

	prefix := treepath.Parse(node.Path).Child(entityID)
	records, err := e.descendants(ctx, node.WorkspaceID, prefix)
	if err != nil {
		return nil, err
	}

	hydrated := make([]Node, len(records))
	live := make([]bool, len(records))
	table := e.store.Config().Table

	g, gctx := errgroup.WithContext(ctx)
	for i, rec := range records {
		i, rec := i, rec
		g.Go(func() error {
			item, err := e.store.Get(gctx, table, store.Item{
				store.AttrWorkspace: rec.tree,
				store.AttrEntity:    rec.entityID,
			})
			if err != nil {
				return err
			}
			if entity.IsArchived(item) {
				return nil
			}
			hydrated[i] = Node{
				EntityID:    rec.entityID,
				WorkspaceID: rec.tree,
				Path:        rec.path.String(),
				Attributes:  item,
			}
			live[i] = true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var children []Node
	if includeSelf {
		children = append(children, node)
	}
	for i, ok := range live {
		if ok {
			children = append(children, hydrated[i])
		}
	}
	return children, nil
}

// GraphEntry is one (entityId, path) pair of a workspace forest.
type GraphEntry struct {
	EntityID string
	Path     string
}

// GetGraph returns the full forest for this entity type within one workspace
// as a flat list. Reconstructing tree shape from the paths is the caller's
// responsibility.
func (e *Engine) GetGraph(ctx context.Context, workspaceID string) ([]GraphEntry, error) {
	records, err := e.descendants(ctx, workspaceID, treepath.Root(e.schema.Name))
	if err != nil {
		return nil, err
	}

	entries := make([]GraphEntry, 0, len(records))
	for _, rec := range records {
		entries = append(entries, GraphEntry{
			EntityID: rec.entityID,
			Path:     rec.path.String(),
		})
	}
	return entries, nil
}
