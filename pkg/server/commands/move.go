package commands

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/inkwell-hq/inkwell/pkg/access"
	"github.com/inkwell-hq/inkwell/pkg/authz"
	"github.com/inkwell-hq/inkwell/pkg/logger"
	serverErrors "github.com/inkwell-hq/inkwell/pkg/server/errors"
	"github.com/inkwell-hq/inkwell/pkg/storage"
)

// MoveDocumentCommand re-parents a document and reconciles the memberships
// the move invalidated. The recalculation scope is deliberately narrow: only
// root memberships sitting directly on the moved document are re-propagated.
// Root memberships on ancestors are never touched, so an inherited grant an
// administrator explicitly revoked elsewhere in the tree stays revoked.
// Pruning is wider than re-propagation: every sourced row across the moved
// subtree is checked against the new ancestor chain, because a revoked row on
// the moved document itself leaves inherited rows below it that nothing else
// references.
type MoveDocumentCommand struct {
	datastore  storage.Datastore
	authorizer authz.Authorizer
	propagator *Propagator
	logger     logger.Logger
}

func NewMoveDocumentCommand(datastore storage.Datastore, authorizer authz.Authorizer, l logger.Logger) *MoveDocumentCommand {
	return &MoveDocumentCommand{
		datastore:  datastore,
		authorizer: authorizer,
		propagator: NewPropagator(l),
		logger:     l,
	}
}

type MoveDocumentRequest struct {
	DocumentID string

	// NewParentDocumentID nests the document under another document. Empty
	// moves it to the top level of NewCollectionID.
	NewParentDocumentID string

	// NewCollectionID is required for a top-level move; when a parent
	// document is given the collection is derived from the parent.
	NewCollectionID string

	ActorID string
}

type MoveDocumentResponse struct {
	Document *access.Document

	// RecalculatedRoots counts the root memberships on the moved document
	// whose fan-out was re-run.
	RecalculatedRoots int

	// PrunedMemberships counts inherited rows deleted because their source
	// is no longer on the document's ancestor chain.
	PrunedMemberships int

	Propagation *PropagationResult
}

func (c *MoveDocumentCommand) Execute(ctx context.Context, req *MoveDocumentRequest) (*MoveDocumentResponse, error) {
	if req.DocumentID == "" {
		return nil, serverErrors.Validation("document id is required")
	}
	if req.NewParentDocumentID == "" && req.NewCollectionID == "" {
		return nil, serverErrors.Validation("a new parent document or collection is required")
	}
	if req.NewParentDocumentID == req.DocumentID {
		return nil, serverErrors.Validation("document cannot be its own parent")
	}
	if req.ActorID == "" {
		return nil, serverErrors.Validation("actor id is required")
	}

	resource := access.NewDocumentResource(req.DocumentID)

	allowed, err := c.authorizer.CanManage(ctx, req.ActorID, resource)
	if err != nil {
		return nil, serverErrors.HandleError("", err)
	}
	if !allowed {
		return nil, serverErrors.Unauthorized("user %q cannot manage access on %s", req.ActorID, resource)
	}

	response := &MoveDocumentResponse{Propagation: &PropagationResult{}}
	err = c.datastore.RunInTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		document, err := tx.GetDocument(ctx, req.DocumentID)
		if errors.Is(err, storage.ErrNotFound) {
			return serverErrors.NotFound("document", req.DocumentID)
		}
		if err != nil {
			return err
		}

		targetCollection, err := c.resolveTarget(ctx, tx, document, req)
		if err != nil {
			return err
		}

		collectionChanged := targetCollection != document.CollectionID

		if err := tx.SetDocumentParent(ctx, document.ID, targetCollection, req.NewParentDocumentID); err != nil {
			return err
		}
		if collectionChanged {
			if err := c.cascadeCollection(ctx, tx, resource, targetCollection); err != nil {
				return err
			}
		}

		ancestors, err := tx.Ancestors(ctx, document.ID)
		if err != nil {
			return err
		}

		// A sourced row is still valid when its granting membership sits on
		// the new ancestor chain or inside the moved subtree itself.
		subtree := []access.Resource{resource}
		for i := 0; i < len(subtree); i++ {
			children, err := tx.GetChildren(ctx, subtree[i])
			if err != nil {
				return err
			}
			subtree = append(subtree, children...)
		}
		validSources := make(map[access.Resource]struct{}, len(ancestors)+len(subtree))
		for _, ancestor := range ancestors {
			validSources[ancestor] = struct{}{}
		}
		for _, node := range subtree {
			validSources[node] = struct{}{}
		}

		for _, node := range subtree {
			for _, kind := range access.PrincipalKinds {
				if err := c.recalculate(ctx, tx, kind, node, resource, targetCollection, validSources, response); err != nil {
					return err
				}
			}
		}

		document.CollectionID = targetCollection
		document.ParentDocumentID = req.NewParentDocumentID
		response.Document = document
		return nil
	})
	if err != nil {
		return nil, commandError(err)
	}

	c.logger.InfoWithContext(ctx, "moved document",
		zap.String("document_id", req.DocumentID),
		zap.String("collection_id", response.Document.CollectionID),
		zap.Int("recalculated_roots", response.RecalculatedRoots),
		zap.Int("pruned_memberships", response.PrunedMemberships),
	)

	return response, nil
}

// resolveTarget validates the destination and rejects moves that would place
// a document under its own descendant.
func (c *MoveDocumentCommand) resolveTarget(ctx context.Context, tx storage.Tx, document *access.Document, req *MoveDocumentRequest) (string, error) {
	if req.NewParentDocumentID == "" {
		_, err := tx.GetCollection(ctx, req.NewCollectionID)
		if errors.Is(err, storage.ErrNotFound) {
			return "", serverErrors.NotFound("collection", req.NewCollectionID)
		}
		if err != nil {
			return "", err
		}
		return req.NewCollectionID, nil
	}

	parent, err := tx.GetDocument(ctx, req.NewParentDocumentID)
	if errors.Is(err, storage.ErrNotFound) {
		return "", serverErrors.NotFound("document", req.NewParentDocumentID)
	}
	if err != nil {
		return "", err
	}
	if req.NewCollectionID != "" && req.NewCollectionID != parent.CollectionID {
		return "", serverErrors.Validation("parent document %q is not in collection %q", parent.ID, req.NewCollectionID)
	}

	ancestors, err := tx.Ancestors(ctx, parent.ID)
	if err != nil {
		return "", err
	}
	for _, ancestor := range ancestors {
		if ancestor.Kind == access.ResourceDocument && ancestor.ID == document.ID {
			return "", serverErrors.Validation("cannot move document %q under its own descendant %q", document.ID, parent.ID)
		}
	}

	return parent.CollectionID, nil
}

// cascadeCollection rewrites the persisted collection on every descendant of
// the moved document; the subtree moves between collections as a unit.
func (c *MoveDocumentCommand) cascadeCollection(ctx context.Context, tx storage.Tx, from access.Resource, collectionID string) error {
	queue, err := tx.GetChildren(ctx, from)
	if err != nil {
		return err
	}
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]

		child, err := tx.GetDocument(ctx, next.ID)
		if err != nil {
			return err
		}
		if err := tx.SetDocumentParent(ctx, child.ID, collectionID, child.ParentDocumentID); err != nil {
			return err
		}

		children, err := tx.GetChildren(ctx, next)
		if err != nil {
			return err
		}
		queue = append(queue, children...)
	}
	return nil
}

// recalculate reconciles the membership rows on one node of the moved
// subtree: root rows on the moved document re-propagate, root rows on
// descendants only refresh their denormalized collection, and sourced rows
// whose source fell off the valid set are pruned together with their copies
// further down.
func (c *MoveDocumentCommand) recalculate(
	ctx context.Context,
	tx storage.Tx,
	kind access.PrincipalKind,
	node access.Resource,
	moved access.Resource,
	targetCollection string,
	validSources map[access.Resource]struct{},
	response *MoveDocumentResponse,
) error {
	memberships, err := tx.ListMemberships(ctx, kind, node)
	if err != nil {
		return err
	}

	for _, membership := range memberships {
		if membership.IsRoot() {
			if membership.CollectionID != targetCollection {
				membership.CollectionID = targetCollection
				if err := tx.UpdateMembership(ctx, membership); err != nil {
					return err
				}
			}
			if node != moved {
				continue
			}
			result, err := c.propagator.Propagate(ctx, tx, membership)
			if err != nil {
				return err
			}
			response.RecalculatedRoots++
			response.Propagation.Created += result.Created
			response.Propagation.Updated += result.Updated
			response.Propagation.Touched = append(response.Propagation.Touched, result.Touched...)
			continue
		}

		source, err := tx.GetMembershipByID(ctx, kind, membership.SourceID)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return err
		}
		if err == nil {
			if _, ok := validSources[source.Resource]; ok {
				// The granting membership still covers us; the inherited
				// row survives the move with its collection refreshed.
				if membership.CollectionID != targetCollection {
					membership.CollectionID = targetCollection
					if err := tx.UpdateMembership(ctx, membership); err != nil {
						return err
					}
				}
				continue
			}
		}

		pruned, err := c.pruneFanout(ctx, tx, membership.Principal, node, membership.SourceID, response.Propagation)
		if err != nil {
			return err
		}
		response.PrunedMemberships += pruned
	}

	return nil
}

// pruneFanout deletes the rows sourced from sourceID across the subtree
// rooted at from, inclusive. The guarded delete leaves root grants and rows
// from other sources alone.
func (c *MoveDocumentCommand) pruneFanout(ctx context.Context, tx storage.Tx, principal access.Principal, from access.Resource, sourceID string, result *PropagationResult) (int, error) {
	pruned := 0
	queue := []access.Resource{from}
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]

		deleted, err := tx.DeleteIfSourced(ctx, principal, next, sourceID)
		if err != nil {
			return pruned, err
		}
		if deleted {
			pruned++
			result.Deleted++
			result.touch(next)
		}

		children, err := tx.GetChildren(ctx, next)
		if err != nil {
			return pruned, err
		}
		queue = append(queue, children...)
	}
	return pruned, nil
}
