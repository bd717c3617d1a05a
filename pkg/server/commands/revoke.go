package commands

import (
	"context"
	"errors"

	"github.com/inkwell-hq/inkwell/pkg/access"
	"github.com/inkwell-hq/inkwell/pkg/authz"
	"github.com/inkwell-hq/inkwell/pkg/logger"
	serverErrors "github.com/inkwell-hq/inkwell/pkg/server/errors"
	"github.com/inkwell-hq/inkwell/pkg/storage"
)

// RevokeCommand deletes the membership for (principal, resource). Revoking a
// root membership also withdraws its fan-out; revoking an inherited row
// deletes only that row, a terminal local decision that no unrelated
// operation may undo.
type RevokeCommand struct {
	datastore  storage.Datastore
	authorizer authz.Authorizer
	propagator *Propagator
	logger     logger.Logger
}

func NewRevokeCommand(datastore storage.Datastore, authorizer authz.Authorizer, l logger.Logger) *RevokeCommand {
	return &RevokeCommand{
		datastore:  datastore,
		authorizer: authorizer,
		propagator: NewPropagator(l),
		logger:     l,
	}
}

type RevokeRequest struct {
	Principal access.Principal
	Resource  access.Resource
	ActorID   string
}

type RevokeResponse struct {
	Propagation *PropagationResult
	Events      []access.Event
}

func (c *RevokeCommand) Execute(ctx context.Context, req *RevokeRequest) (*RevokeResponse, error) {
	if !req.Principal.Kind.Valid() || req.Principal.ID == "" {
		return nil, serverErrors.Validation("invalid principal %q", req.Principal)
	}
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

	response := &RevokeResponse{}
	err = c.datastore.RunInTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		membership, err := tx.GetMembershipForUpdate(ctx, req.Principal, req.Resource)
		if errors.Is(err, storage.ErrNotFound) {
			return serverErrors.NotFound("membership", req.Principal.String()+" on "+req.Resource.String())
		}
		if err != nil {
			return err
		}

		result := &PropagationResult{}
		if membership.IsRoot() {
			result, err = c.propagator.Unpropagate(ctx, tx, membership)
			if err != nil {
				return err
			}
		}

		if err := tx.DeleteMembership(ctx, membership.Principal.Kind, membership.ID); err != nil {
			return err
		}
		result.Deleted++
		result.touch(req.Resource)

		response.Propagation = result
		return nil
	})
	if err != nil {
		return nil, commandError(err)
	}

	response.Events = []access.Event{{
		Name:      access.EventMembershipRevoked,
		Principal: req.Principal,
		Resource:  req.Resource,
		ActorID:   req.ActorID,
	}}

	return response, nil
}
