package commands

import (
	"context"
	"errors"
	"time"

	"github.com/inkwell-hq/inkwell/pkg/access"
	"github.com/inkwell-hq/inkwell/pkg/id"
	"github.com/inkwell-hq/inkwell/pkg/logger"
	serverErrors "github.com/inkwell-hq/inkwell/pkg/server/errors"
	"github.com/inkwell-hq/inkwell/pkg/storage"
)

// CreateAccessRequestCommand records a user's ask for access to a resource.
// At most one pending request exists per (requester, resource); a repeat ask
// returns the existing record instead of stacking duplicates.
type CreateAccessRequestCommand struct {
	datastore storage.Datastore
	logger    logger.Logger
}

func NewCreateAccessRequestCommand(datastore storage.Datastore, l logger.Logger) *CreateAccessRequestCommand {
	return &CreateAccessRequestCommand{datastore: datastore, logger: l}
}

type CreateAccessRequestRequest struct {
	// RequesterID is the asking user. Groups do not file requests.
	RequesterID string

	Resource access.Resource

	// RequestedPermission is optional; empty leaves the level to the
	// approver.
	RequestedPermission access.Permission
}

type CreateAccessRequestResponse struct {
	AccessRequest *access.AccessRequest

	// Existing is true when a pending request already covered the ask and
	// was returned instead of a new record.
	Existing bool

	Events []access.Event
}

func (c *CreateAccessRequestCommand) Execute(ctx context.Context, req *CreateAccessRequestRequest) (*CreateAccessRequestResponse, error) {
	if req.RequesterID == "" {
		return nil, serverErrors.Validation("requester id is required")
	}
	if !req.Resource.Kind.Valid() || req.Resource.ID == "" {
		return nil, serverErrors.Validation("invalid resource %q", req.Resource)
	}
	if req.RequestedPermission != "" && !req.RequestedPermission.Valid() {
		return nil, serverErrors.Validation("invalid permission %q", req.RequestedPermission)
	}

	requester := access.NewUserPrincipal(req.RequesterID)

	response := &CreateAccessRequestResponse{}
	err := c.datastore.RunInTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		if err := resolveResource(ctx, tx, req.Resource); err != nil {
			return err
		}

		existing, err := tx.FindPendingAccessRequest(ctx, requester, req.Resource)
		if err == nil {
			response.AccessRequest = existing
			response.Existing = true
			return nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return err
		}

		now := time.Now().UTC()
		request := &access.AccessRequest{
			ID:                  id.MustNewString(),
			Requester:           requester,
			Resource:            req.Resource,
			RequestedPermission: req.RequestedPermission,
			Status:              access.AccessRequestPending,
			CreatedAt:           now,
			UpdatedAt:           now,
		}
		if err := tx.InsertAccessRequest(ctx, request); err != nil {
			return err
		}

		response.AccessRequest = request
		return nil
	})
	if err != nil {
		return nil, commandError(err)
	}

	if !response.Existing {
		response.Events = []access.Event{{
			Name:            access.EventAccessRequestCreated,
			Principal:       requester,
			Resource:        req.Resource,
			ActorID:         req.RequesterID,
			AccessRequestID: response.AccessRequest.ID,
		}}
	}

	return response, nil
}
