package hierarchy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/jacentio/arbor/internal/treepath"
	"github.com/jacentio/arbor/store"
)

// subtreeBackoff governs the convergent retry of multi-row subtree
// mutations. The store cannot make an arbitrary-size subtree write atomic,
// so delete and move are at-least-once: every row mutation is idempotent and
// a failed attempt is retried until the subtree reaches the target state.
func subtreeBackoff() retry.Backoff {
	return retry.WithMaxRetries(3, retry.NewExponential(200*time.Millisecond))
}

// DeleteItem removes a node and its entire subtree: every descendant's tree
// record and entity record, then the node's own two rows last. It fails with
// ErrNotFound when the node has no tree record. Re-invoking on a partially
// deleted subtree converges, since deleting an absent row is a no-op.
func (e *Engine) DeleteItem(ctx context.Context, entityID string) error {
	rec, err := e.treeRecord(ctx, entityID)
	if err != nil {
		return err
	}

	cfg := e.store.Config()
	prefix := rec.path.Child(entityID)

	err = retry.Do(ctx, subtreeBackoff(), func(ctx context.Context) error {
		descendants, err := e.descendants(ctx, rec.tree, prefix)
		if err != nil {
			return retry.RetryableError(err)
		}

		writes := make([]store.WriteRequest, 0, 2*len(descendants))
		for _, d := range descendants {
			writes = append(writes,
				store.WriteRequest{Table: cfg.TreeTable, Delete: store.Item{
					store.AttrEntity: d.entityID,
				}},
				store.WriteRequest{Table: cfg.Table, Delete: store.Item{
					store.AttrWorkspace: d.tree,
					store.AttrEntity:    d.entityID,
				}},
			)
		}
		if err := e.store.BatchWrite(ctx, writes); err != nil {
			return retry.RetryableError(err)
		}

		// The node's own rows go last so an interrupted delete never strands
		// descendants without a reachable root.
		if err := e.store.Delete(ctx, cfg.TreeTable, store.Item{
			store.AttrEntity: entityID,
		}); err != nil {
			return retry.RetryableError(err)
		}
		if err := e.store.Delete(ctx, cfg.Table, store.Item{
			store.AttrWorkspace: rec.tree,
			store.AttrEntity:    entityID,
		}); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete subtree %s: %w", entityID, err)
	}

	e.logger.Info("hierarchy subtree deleted",
		"entityId", entityID,
		"workspaceId", rec.tree,
	)
	return nil
}

// RefactorItem re-parents a node, rewriting its own path and every
// descendant's path so relative positions under the node are preserved. It
// fails with ErrNotFound when either node is absent and ErrCircularReference
// when the node would become its own ancestor. Like DeleteItem it is
// at-least-once: re-writing an already-correct path is a no-op, so retries
// and re-invocations converge.
func (e *Engine) RefactorItem(ctx context.Context, entityID, newParentID string) error {
	rec, err := e.treeRecord(ctx, entityID)
	if err != nil {
		return err
	}
	parent, err := e.treeRecord(ctx, newParentID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("new parent %s: %w", newParentID, ErrNotFound)
		}
		return err
	}

	newPath := parent.path.Child(newParentID)
	if newPath.Contains(entityID) {
		return fmt.Errorf("%s would be its own ancestor: %w", entityID, ErrCircularReference)
	}
	if rec.path.String() == newPath.String() {
		return nil // already under the requested parent
	}

	cfg := e.store.Config()
	oldPrefix := rec.path.Child(entityID)
	newPrefix := newPath.Child(entityID)

	err = retry.Do(ctx, subtreeBackoff(), func(ctx context.Context) error {
		descendants, err := e.descendants(ctx, rec.tree, oldPrefix)
		if err != nil {
			return retry.RetryableError(err)
		}

		writes := make([]store.WriteRequest, 0, len(descendants))
		for _, d := range descendants {
			rebased, ok := treepath.Rebase(d.path, oldPrefix, newPrefix)
			if !ok {
				continue // already rewritten by a prior attempt
			}
			writes = append(writes, store.WriteRequest{
				Table: cfg.TreeTable,
				Put: store.Item{
					store.AttrEntity: d.entityID,
					store.AttrTree:   d.tree,
					store.AttrPath:   rebased.String(),
				},
			})
		}
		if err := e.store.BatchWrite(ctx, writes); err != nil {
			return retry.RetryableError(err)
		}

		// The moved node's own record goes last: until it is rewritten the
		// subtree is still reachable at its old position.
		if err := e.store.Put(ctx, cfg.TreeTable, store.Item{
			store.AttrEntity: entityID,
			store.AttrTree:   rec.tree,
			store.AttrPath:   newPath.String(),
		}, nil); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("refactor subtree %s: %w", entityID, err)
	}

	e.logger.Info("hierarchy subtree moved",
		"entityId", entityID,
		"workspaceId", rec.tree,
		"newParentId", newParentID,
	)
	return nil
}
