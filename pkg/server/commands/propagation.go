// Package commands contains the engine operations. Each command wraps one
// mutating or reading operation against the datastore; mutations run inside a
// single transaction so a subtree's worth of membership writes applies
// all-or-nothing.
package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/inkwell-hq/inkwell/pkg/access"
	"github.com/inkwell-hq/inkwell/pkg/id"
	"github.com/inkwell-hq/inkwell/pkg/logger"
	"github.com/inkwell-hq/inkwell/pkg/storage"
)

// Propagator fans a root membership out over the subtree below its resource,
// and undoes that fan-out when the root membership is deleted.
//
// Propagate is deliberately never run as a repair pass: it re-creates sourced
// rows that an administrator explicitly deleted, so it runs only in direct
// response to the root membership's own creation or permission change.
type Propagator struct {
	logger logger.Logger
}

func NewPropagator(l logger.Logger) *Propagator {
	return &Propagator{logger: l}
}

// PropagationResult reports what a traversal wrote.
type PropagationResult struct {
	Created int
	Updated int
	Deleted int

	// Touched lists the resources whose membership rows changed, for
	// read-through cache invalidation.
	Touched []access.Resource
}

func (r *PropagationResult) touch(resource access.Resource) {
	r.Touched = append(r.Touched, resource)
}

// Propagate walks the subtree under root.Resource breadth-first and
// reconciles the sourced membership on every eligible descendant: creating a
// missing row, updating the permission of a row already sourced from root,
// and re-sourcing a stale row left behind by an earlier re-parenting. A
// descendant holding its own root membership for the principal ends the
// descent; its subtree is governed by that override.
func (p *Propagator) Propagate(ctx context.Context, tx storage.Tx, root *access.Membership) (*PropagationResult, error) {
	if !root.IsRoot() {
		return nil, fmt.Errorf("refusing to propagate sourced membership %s", root.ID)
	}

	collectionID, err := subtreeCollectionID(ctx, tx, root.Resource)
	if err != nil {
		return nil, err
	}

	result := &PropagationResult{}
	now := time.Now().UTC()

	queue, err := tx.GetChildren(ctx, root.Resource)
	if err != nil {
		return nil, err
	}

	for len(queue) > 0 {
		descendant := queue[0]
		queue = queue[1:]

		existing, err := tx.GetMembership(ctx, root.Principal, descendant)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			sourced := &access.Membership{
				ID:           id.MustNewString(),
				Principal:    root.Principal,
				Resource:     descendant,
				CollectionID: collectionID,
				Permission:   root.Permission,
				SourceID:     root.ID,
				CreatedByID:  root.CreatedByID,
				CreatedAt:    now,
				UpdatedAt:    now,
			}
			if err := tx.InsertMembership(ctx, sourced); err != nil {
				return nil, err
			}
			result.Created++
			result.touch(descendant)

		case err != nil:
			return nil, err

		case existing.IsRoot():
			// Override boundary: this subtree is governed by the
			// descendant's own root grant.
			continue

		default:
			if existing.SourceID != root.ID || existing.Permission != root.Permission || existing.CollectionID != collectionID {
				existing.SourceID = root.ID
				existing.Permission = root.Permission
				existing.CollectionID = collectionID
				existing.UpdatedAt = now
				if err := tx.UpdateMembership(ctx, existing); err != nil {
					return nil, err
				}
				result.Updated++
				result.touch(descendant)
			}
		}

		children, err := tx.GetChildren(ctx, descendant)
		if err != nil {
			return nil, err
		}
		queue = append(queue, children...)
	}

	p.logger.DebugWithContext(ctx, "propagated root membership",
		zap.String("membership_id", root.ID),
		zap.String("principal", root.Principal.String()),
		zap.String("resource", root.Resource.String()),
		zap.Int("created", result.Created),
		zap.Int("updated", result.Updated),
	)

	return result, nil
}

// Unpropagate walks the same subtree as Propagate and deletes every sourced
// membership fanned out from root, leaving overrides and their subtrees
// untouched. The guarded delete skips a row that stopped being sourced from
// root since it was read.
func (p *Propagator) Unpropagate(ctx context.Context, tx storage.Tx, root *access.Membership) (*PropagationResult, error) {
	if !root.IsRoot() {
		return nil, fmt.Errorf("refusing to unpropagate sourced membership %s", root.ID)
	}

	result := &PropagationResult{}

	queue, err := tx.GetChildren(ctx, root.Resource)
	if err != nil {
		return nil, err
	}

	for len(queue) > 0 {
		descendant := queue[0]
		queue = queue[1:]

		existing, err := tx.GetMembership(ctx, root.Principal, descendant)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			// No row here; descend in case deeper rows remain.

		case err != nil:
			return nil, err

		case existing.IsRoot():
			continue

		case existing.SourceID == root.ID:
			deleted, err := tx.DeleteIfSourced(ctx, root.Principal, descendant, root.ID)
			if err != nil {
				return nil, err
			}
			if deleted {
				result.Deleted++
				result.touch(descendant)
			}
		}

		children, err := tx.GetChildren(ctx, descendant)
		if err != nil {
			return nil, err
		}
		queue = append(queue, children...)
	}

	p.logger.DebugWithContext(ctx, "unpropagated root membership",
		zap.String("membership_id", root.ID),
		zap.String("principal", root.Principal.String()),
		zap.String("resource", root.Resource.String()),
		zap.Int("deleted", result.Deleted),
	)

	return result, nil
}

// UpdateFanout rewrites the permission on every row fanned out from root
// without traversing the tree. Permission changes on an existing root grant
// take this path instead of Propagate so an explicitly deleted inherited row
// stays deleted.
func (p *Propagator) UpdateFanout(ctx context.Context, tx storage.Tx, root *access.Membership) (*PropagationResult, error) {
	if !root.IsRoot() {
		return nil, fmt.Errorf("refusing to update fan-out of sourced membership %s", root.ID)
	}

	result := &PropagationResult{}
	now := time.Now().UTC()

	rows, err := tx.ListMembershipsBySource(ctx, root.Principal.Kind, root.ID)
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		if row.Permission == root.Permission {
			continue
		}
		row.Permission = root.Permission
		row.UpdatedAt = now
		if err := tx.UpdateMembership(ctx, row); err != nil {
			return nil, err
		}
		result.Updated++
		result.touch(row.Resource)
	}

	return result, nil
}

// subtreeCollectionID resolves the collection a subtree belongs to. Callers
// run after any structural mutation, so the subtree root's persisted
// collection is authoritative for the whole subtree.
func subtreeCollectionID(ctx context.Context, tx storage.TreeReader, resource access.Resource) (string, error) {
	if resource.Kind == access.ResourceCollection {
		return resource.ID, nil
	}
	document, err := tx.GetDocument(ctx, resource.ID)
	if err != nil {
		return "", err
	}
	return document.CollectionID, nil
}
