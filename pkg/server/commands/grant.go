package commands

import (
	"context"
	"errors"
	"time"

	"github.com/inkwell-hq/inkwell/pkg/access"
	"github.com/inkwell-hq/inkwell/pkg/authz"
	"github.com/inkwell-hq/inkwell/pkg/id"
	"github.com/inkwell-hq/inkwell/pkg/logger"
	serverErrors "github.com/inkwell-hq/inkwell/pkg/server/errors"
	"github.com/inkwell-hq/inkwell/pkg/storage"
)

// GrantCommand creates or updates a root membership and fans it out over the
// resource's subtree.
type GrantCommand struct {
	datastore  storage.Datastore
	authorizer authz.Authorizer
	propagator *Propagator
	logger     logger.Logger
}

func NewGrantCommand(datastore storage.Datastore, authorizer authz.Authorizer, l logger.Logger) *GrantCommand {
	return &GrantCommand{
		datastore:  datastore,
		authorizer: authorizer,
		propagator: NewPropagator(l),
		logger:     l,
	}
}

type GrantRequest struct {
	Principal  access.Principal
	Resource   access.Resource
	Permission access.Permission

	// ActorID is the user performing the grant.
	ActorID string
}

type GrantResponse struct {
	Membership  *access.Membership
	Propagation *PropagationResult
	Events      []access.Event
}

func (c *GrantCommand) Execute(ctx context.Context, req *GrantRequest) (*GrantResponse, error) {
	if err := validateGrantRequest(req); err != nil {
		return nil, err
	}

	allowed, err := c.authorizer.CanManage(ctx, req.ActorID, req.Resource)
	if err != nil {
		return nil, serverErrors.HandleError("", err)
	}
	if !allowed {
		return nil, serverErrors.Unauthorized("user %q cannot manage access on %s", req.ActorID, req.Resource)
	}

	response := &GrantResponse{}
	err = c.datastore.RunInTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		if err := resolveResource(ctx, tx, req.Resource); err != nil {
			return err
		}

		membership, result, err := applyGrant(ctx, tx, c.propagator, req.Principal, req.Resource, req.Permission, req.ActorID)
		if err != nil {
			return err
		}

		response.Membership = membership
		response.Propagation = result
		return nil
	})
	if err != nil {
		return nil, commandError(err)
	}

	response.Events = []access.Event{{
		Name:       access.EventMembershipGranted,
		Principal:  req.Principal,
		Resource:   req.Resource,
		ActorID:    req.ActorID,
		Permission: response.Membership.Permission,
	}}

	return response, nil
}

func validateGrantRequest(req *GrantRequest) error {
	if !req.Principal.Kind.Valid() || req.Principal.ID == "" {
		return serverErrors.Validation("invalid principal %q", req.Principal)
	}
	if !req.Resource.Kind.Valid() || req.Resource.ID == "" {
		return serverErrors.Validation("invalid resource %q", req.Resource)
	}
	if !req.Permission.Valid() {
		return serverErrors.Validation("invalid permission %q", req.Permission)
	}
	if req.ActorID == "" {
		return serverErrors.Validation("actor id is required")
	}
	return nil
}

// applyGrant upserts the root membership for (principal, resource) and
// reconciles its fan-out. A new root grant (including one promoting an
// inherited row) propagates over the whole subtree; a permission change on
// an existing root grant rewrites only the rows it already fanned out, so an
// inherited row an administrator explicitly deleted stays deleted.
// Re-granting an identical permission is a no-op.
func applyGrant(
	ctx context.Context,
	tx storage.Tx,
	propagator *Propagator,
	principal access.Principal,
	resource access.Resource,
	permission access.Permission,
	actorID string,
) (*access.Membership, *PropagationResult, error) {
	now := time.Now().UTC()

	collectionID, err := subtreeCollectionID(ctx, tx, resource)
	if err != nil {
		return nil, nil, err
	}

	membership, err := tx.GetMembershipForUpdate(ctx, principal, resource)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		membership = &access.Membership{
			ID:           id.MustNewString(),
			Principal:    principal,
			Resource:     resource,
			CollectionID: collectionID,
			Permission:   permission,
			CreatedByID:  actorID,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := tx.InsertMembership(ctx, membership); err != nil {
			return nil, nil, err
		}

	case err != nil:
		return nil, nil, err

	case membership.IsRoot() && membership.Permission == permission:
		// Idempotent re-grant, nothing to write or propagate.
		return membership, &PropagationResult{}, nil

	case membership.IsRoot():
		membership.Permission = permission
		membership.UpdatedAt = now
		if err := tx.UpdateMembership(ctx, membership); err != nil {
			return nil, nil, err
		}
		result, err := propagator.UpdateFanout(ctx, tx, membership)
		if err != nil {
			return nil, nil, err
		}
		return membership, result, nil

	default:
		// Promote the inherited row into an authoritative local grant.
		membership.Permission = permission
		membership.SourceID = ""
		membership.CollectionID = collectionID
		membership.UpdatedAt = now
		if err := tx.UpdateMembership(ctx, membership); err != nil {
			return nil, nil, err
		}
	}

	result, err := propagator.Propagate(ctx, tx, membership)
	if err != nil {
		return nil, nil, err
	}
	return membership, result, nil
}

// resolveResource verifies the resource exists, mapping a missing row onto
// the public NotFoundError.
func resolveResource(ctx context.Context, tx storage.TreeReader, resource access.Resource) error {
	var err error
	switch resource.Kind {
	case access.ResourceCollection:
		_, err = tx.GetCollection(ctx, resource.ID)
	case access.ResourceDocument:
		_, err = tx.GetDocument(ctx, resource.ID)
	}
	if errors.Is(err, storage.ErrNotFound) {
		return serverErrors.NotFound(string(resource.Kind), resource.ID)
	}
	return err
}

// commandError passes through taxonomy errors produced inside a transaction
// and maps storage failures onto the public taxonomy.
func commandError(err error) error {
	var (
		validation      *serverErrors.ValidationError
		notFound        *serverErrors.NotFoundError
		conflict        *serverErrors.ConflictError
		unauthorized    *serverErrors.AuthorizationError
		alreadyResolved *serverErrors.AlreadyResolvedError
	)
	if errors.As(err, &validation) ||
		errors.As(err, &notFound) ||
		errors.As(err, &conflict) ||
		errors.As(err, &unauthorized) ||
		errors.As(err, &alreadyResolved) {
		return err
	}
	return serverErrors.HandleError("", err)
}
