package commands

import (
	"context"
	"errors"
	"time"

	"github.com/inkwell-hq/inkwell/pkg/access"
	"github.com/inkwell-hq/inkwell/pkg/authz"
	"github.com/inkwell-hq/inkwell/pkg/logger"
	serverErrors "github.com/inkwell-hq/inkwell/pkg/server/errors"
	"github.com/inkwell-hq/inkwell/pkg/storage"
)

// ResolveAccessRequestCommand moves an access request out of the pending
// state. Approval creates the requester's root membership and fans it out;
// dismissal records the decision with no membership side effect. Both
// transitions happen exactly once.
type ResolveAccessRequestCommand struct {
	datastore  storage.Datastore
	authorizer authz.Authorizer
	propagator *Propagator
	logger     logger.Logger
}

func NewResolveAccessRequestCommand(datastore storage.Datastore, authorizer authz.Authorizer, l logger.Logger) *ResolveAccessRequestCommand {
	return &ResolveAccessRequestCommand{
		datastore:  datastore,
		authorizer: authorizer,
		propagator: NewPropagator(l),
		logger:     l,
	}
}

type ApproveAccessRequestRequest struct {
	AccessRequestID string

	// Permission is optional; empty grants the requested level, falling
	// back to read_write when the requester left it open.
	Permission access.Permission

	ActorID string
}

type DismissAccessRequestRequest struct {
	AccessRequestID string
	ActorID         string
}

type ResolveAccessRequestResponse struct {
	AccessRequest *access.AccessRequest

	// Membership is the root grant created on approval, nil on dismissal.
	Membership  *access.Membership
	Propagation *PropagationResult

	Events []access.Event
}

func (c *ResolveAccessRequestCommand) Approve(ctx context.Context, req *ApproveAccessRequestRequest) (*ResolveAccessRequestResponse, error) {
	if req.AccessRequestID == "" {
		return nil, serverErrors.Validation("access request id is required")
	}
	if req.Permission != "" && !req.Permission.Valid() {
		return nil, serverErrors.Validation("invalid permission %q", req.Permission)
	}
	if req.ActorID == "" {
		return nil, serverErrors.Validation("actor id is required")
	}

	if err := c.authorize(ctx, req.AccessRequestID, req.ActorID); err != nil {
		return nil, err
	}

	response := &ResolveAccessRequestResponse{}
	err := c.datastore.RunInTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		request, err := c.lockPending(ctx, tx, req.AccessRequestID)
		if err != nil {
			return err
		}

		permission := req.Permission
		if permission == "" {
			permission = request.RequestedPermission
		}
		if permission == "" {
			permission = access.DefaultApprovedPermission
		}

		membership, result, err := applyGrant(ctx, tx, c.propagator, request.Requester, request.Resource, permission, req.ActorID)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		request.Status = access.AccessRequestApproved
		request.ResponderID = req.ActorID
		request.RespondedAt = now
		request.GrantedPermission = permission
		request.UpdatedAt = now
		if err := tx.UpdateAccessRequest(ctx, request); err != nil {
			return err
		}

		response.AccessRequest = request
		response.Membership = membership
		response.Propagation = result
		return nil
	})
	if err != nil {
		return nil, commandError(err)
	}

	request := response.AccessRequest
	response.Events = []access.Event{
		{
			Name:                access.EventAccessRequestResolved,
			Principal:           request.Requester,
			Resource:            request.Resource,
			ActorID:             req.ActorID,
			AccessRequestID:     request.ID,
			AccessRequestStatus: access.AccessRequestApproved,
		},
		{
			Name:       access.EventMembershipGranted,
			Principal:  request.Requester,
			Resource:   request.Resource,
			ActorID:    req.ActorID,
			Permission: request.GrantedPermission,
		},
	}

	return response, nil
}

func (c *ResolveAccessRequestCommand) Dismiss(ctx context.Context, req *DismissAccessRequestRequest) (*ResolveAccessRequestResponse, error) {
	if req.AccessRequestID == "" {
		return nil, serverErrors.Validation("access request id is required")
	}
	if req.ActorID == "" {
		return nil, serverErrors.Validation("actor id is required")
	}

	if err := c.authorize(ctx, req.AccessRequestID, req.ActorID); err != nil {
		return nil, err
	}

	response := &ResolveAccessRequestResponse{}
	err := c.datastore.RunInTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		request, err := c.lockPending(ctx, tx, req.AccessRequestID)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		request.Status = access.AccessRequestDismissed
		request.ResponderID = req.ActorID
		request.RespondedAt = now
		request.UpdatedAt = now
		if err := tx.UpdateAccessRequest(ctx, request); err != nil {
			return err
		}

		response.AccessRequest = request
		return nil
	})
	if err != nil {
		return nil, commandError(err)
	}

	request := response.AccessRequest
	response.Events = []access.Event{{
		Name:                access.EventAccessRequestResolved,
		Principal:           request.Requester,
		Resource:            request.Resource,
		ActorID:             req.ActorID,
		AccessRequestID:     request.ID,
		AccessRequestStatus: access.AccessRequestDismissed,
	}}

	return response, nil
}

// authorize checks manage rights on the request's target resource before the
// resolving transaction begins.
func (c *ResolveAccessRequestCommand) authorize(ctx context.Context, requestID, actorID string) error {
	request, err := c.datastore.GetAccessRequest(ctx, requestID)
	if errors.Is(err, storage.ErrNotFound) {
		return serverErrors.NotFound("access request", requestID)
	}
	if err != nil {
		return serverErrors.HandleError("", err)
	}

	allowed, err := c.authorizer.CanManage(ctx, actorID, request.Resource)
	if err != nil {
		return serverErrors.HandleError("", err)
	}
	if !allowed {
		return serverErrors.Unauthorized("user %q cannot manage access on %s", actorID, request.Resource)
	}
	return nil
}

// lockPending re-reads the request under a row lock so concurrent
// resolutions serialize, and rejects one that already left pending.
func (c *ResolveAccessRequestCommand) lockPending(ctx context.Context, tx storage.Tx, requestID string) (*access.AccessRequest, error) {
	request, err := tx.GetAccessRequestForUpdate(ctx, requestID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, serverErrors.NotFound("access request", requestID)
	}
	if err != nil {
		return nil, err
	}
	if !request.IsPending() {
		return nil, &serverErrors.AlreadyResolvedError{
			RequestID: request.ID,
			Status:    string(request.Status),
		}
	}
	return request, nil
}
