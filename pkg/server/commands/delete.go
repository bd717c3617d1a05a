package commands

import (
	"context"

	"go.uber.org/zap"

	"github.com/inkwell-hq/inkwell/pkg/access"
	"github.com/inkwell-hq/inkwell/pkg/authz"
	"github.com/inkwell-hq/inkwell/pkg/logger"
	serverErrors "github.com/inkwell-hq/inkwell/pkg/server/errors"
	"github.com/inkwell-hq/inkwell/pkg/storage"
)

// DeleteResourceCommand removes a document or collection together with its
// descendants, their membership rows and their access requests. Root
// memberships on surviving ancestors are not touched; only their fan-out
// into the deleted subtree disappears with the subtree.
type DeleteResourceCommand struct {
	datastore  storage.Datastore
	authorizer authz.Authorizer
	logger     logger.Logger
}

func NewDeleteResourceCommand(datastore storage.Datastore, authorizer authz.Authorizer, l logger.Logger) *DeleteResourceCommand {
	return &DeleteResourceCommand{
		datastore:  datastore,
		authorizer: authorizer,
		logger:     l,
	}
}

type DeleteResourceRequest struct {
	Resource access.Resource
	ActorID  string
}

type DeleteResourceResponse struct {
	// Resources lists every deleted resource, the target first.
	Resources []access.Resource

	DeletedMemberships    int
	DeletedAccessRequests int
}

func (c *DeleteResourceCommand) Execute(ctx context.Context, req *DeleteResourceRequest) (*DeleteResourceResponse, error) {
	if !req.Resource.Kind.Valid() || req.Resource.ID == "" {
		return nil, serverErrors.Validation("invalid resource %q", req.Resource)
	}
	if req.ActorID == "" {
		return nil, serverErrors.Validation("actor id is required")
	}

	allowed, err := c.authorizer.CanManage(ctx, req.ActorID, req.Resource)
	if err != nil {
		return nil, serverErrors.HandleError("", err)
	}
	if !allowed {
		return nil, serverErrors.Unauthorized("user %q cannot manage access on %s", req.ActorID, req.Resource)
	}

	response := &DeleteResourceResponse{}
	err = c.datastore.RunInTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		if err := resolveResource(ctx, tx, req.Resource); err != nil {
			return err
		}

		// Breadth-first order, then deleted in reverse so children go
		// before parents and fanned-out rows before their source.
		subtree := []access.Resource{req.Resource}
		for i := 0; i < len(subtree); i++ {
			children, err := tx.GetChildren(ctx, subtree[i])
			if err != nil {
				return err
			}
			subtree = append(subtree, children...)
		}

		for i := len(subtree) - 1; i >= 0; i-- {
			resource := subtree[i]

			for _, kind := range access.PrincipalKinds {
				deleted, err := tx.DeleteMembershipsOnResource(ctx, kind, resource)
				if err != nil {
					return err
				}
				response.DeletedMemberships += deleted
			}

			deleted, err := tx.DeleteAccessRequestsOnResource(ctx, resource)
			if err != nil {
				return err
			}
			response.DeletedAccessRequests += deleted

			switch resource.Kind {
			case access.ResourceDocument:
				if err := tx.DeleteDocument(ctx, resource.ID); err != nil {
					return err
				}
			case access.ResourceCollection:
				if err := tx.DeleteCollection(ctx, resource.ID); err != nil {
					return err
				}
			}
		}
		response.Resources = subtree

		return nil
	})
	if err != nil {
		return nil, commandError(err)
	}

	c.logger.InfoWithContext(ctx, "deleted resource subtree",
		zap.String("resource", req.Resource.String()),
		zap.Int("resources", len(response.Resources)),
		zap.Int("memberships", response.DeletedMemberships),
		zap.Int("access_requests", response.DeletedAccessRequests),
	)

	return response, nil
}
