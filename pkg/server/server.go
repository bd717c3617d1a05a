// Package server exposes the engine's public operations behind a single
// facade wiring the datastore, the policy collaborator, the post-commit event
// gateway and the read-through access cache.
package server

import (
	"context"
	"errors"

	"github.com/Yiling-J/theine-go"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/inkwell-hq/inkwell/internal/gateway"
	"github.com/inkwell-hq/inkwell/pkg/access"
	"github.com/inkwell-hq/inkwell/pkg/authz"
	"github.com/inkwell-hq/inkwell/pkg/logger"
	"github.com/inkwell-hq/inkwell/pkg/server/commands"
	serverErrors "github.com/inkwell-hq/inkwell/pkg/server/errors"
	"github.com/inkwell-hq/inkwell/pkg/storage"
)

var (
	membershipsPropagated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "inkwell",
		Name:      "memberships_propagated_total",
		Help:      "The total number of sourced membership rows created or updated by propagation.",
	})

	membershipsPruned = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "inkwell",
		Name:      "memberships_pruned_total",
		Help:      "The total number of membership rows deleted by revocation, moves and resource deletion.",
	})
)

// Server is the engine facade. All mutating operations run one transaction,
// publish their events after it commits, and invalidate the cached access
// lists of every resource the transaction touched.
type Server struct {
	datastore  storage.Datastore
	authorizer authz.Authorizer
	transport  gateway.Transport
	logger     logger.Logger

	cache *theine.Cache[access.Resource, []access.EffectiveAccess]

	grant         *commands.GrantCommand
	revoke        *commands.RevokeCommand
	move          *commands.MoveDocumentCommand
	delete        *commands.DeleteResourceCommand
	listAccess    *commands.ListEffectiveAccessQuery
	createRequest *commands.CreateAccessRequestCommand
	resolve       *commands.ResolveAccessRequestCommand
}

// ServerOption configures the facade.
type ServerOption func(s *Server)

// WithAuthorizer sets the policy collaborator. The default authorizes users
// holding an admin membership on the target resource.
func WithAuthorizer(a authz.Authorizer) ServerOption {
	return func(s *Server) {
		s.authorizer = a
	}
}

// WithTransport sets the post-commit event destination. Default discards.
func WithTransport(t gateway.Transport) ServerOption {
	return func(s *Server) {
		s.transport = t
	}
}

func WithLogger(l logger.Logger) ServerOption {
	return func(s *Server) {
		s.logger = l
	}
}

// NewServer builds the facade. cacheSize bounds the effective-access cache
// in entries; 0 disables caching.
func NewServer(datastore storage.Datastore, cacheSize int64, opts ...ServerOption) (*Server, error) {
	s := &Server{
		datastore: datastore,
		transport: gateway.NewNoopTransport(),
		logger:    logger.NewNoopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.authorizer == nil {
		s.authorizer = authz.NewMembershipAuthorizer(datastore)
	}

	if cacheSize > 0 {
		cache, err := theine.NewBuilder[access.Resource, []access.EffectiveAccess](cacheSize).Build()
		if err != nil {
			return nil, err
		}
		s.cache = cache
	}

	s.grant = commands.NewGrantCommand(datastore, s.authorizer, s.logger)
	s.revoke = commands.NewRevokeCommand(datastore, s.authorizer, s.logger)
	s.move = commands.NewMoveDocumentCommand(datastore, s.authorizer, s.logger)
	s.delete = commands.NewDeleteResourceCommand(datastore, s.authorizer, s.logger)
	s.listAccess = commands.NewListEffectiveAccessQuery(datastore, s.logger)
	s.createRequest = commands.NewCreateAccessRequestCommand(datastore, s.logger)
	s.resolve = commands.NewResolveAccessRequestCommand(datastore, s.authorizer, s.logger)

	return s, nil
}

// Close drains in-flight event deliveries and releases the cache. The
// datastore is owned by the caller and stays open.
func (s *Server) Close() {
	s.transport.Close()
	if s.cache != nil {
		s.cache.Close()
	}
}

// Grant creates or updates an explicit grant and fans it out over the
// resource's subtree.
func (s *Server) Grant(ctx context.Context, req *commands.GrantRequest) (*commands.GrantResponse, error) {
	resp, err := s.grant.Execute(ctx, req)
	if err != nil {
		return nil, err
	}
	membershipsPropagated.Add(float64(resp.Propagation.Created + resp.Propagation.Updated))
	s.afterWrite(ctx, append(resp.Propagation.Touched, req.Resource), resp.Events)
	return resp, nil
}

// Revoke deletes a grant; revoking an explicit grant also withdraws its
// fan-out.
func (s *Server) Revoke(ctx context.Context, req *commands.RevokeRequest) (*commands.RevokeResponse, error) {
	resp, err := s.revoke.Execute(ctx, req)
	if err != nil {
		return nil, err
	}
	membershipsPruned.Add(float64(resp.Propagation.Deleted))
	s.afterWrite(ctx, resp.Propagation.Touched, resp.Events)
	return resp, nil
}

// ListEffectiveAccess resolves who can do what on a resource, served from
// the cache when possible.
func (s *Server) ListEffectiveAccess(ctx context.Context, req *commands.ListEffectiveAccessRequest) (*commands.ListEffectiveAccessResponse, error) {
	if s.cache != nil {
		if entries, ok := s.cache.Get(req.Resource); ok {
			return &commands.ListEffectiveAccessResponse{Entries: cloneEntries(entries)}, nil
		}
	}

	resp, err := s.listAccess.Execute(ctx, req)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		s.cache.Set(req.Resource, cloneEntries(resp.Entries), int64(len(resp.Entries)+1))
	}
	return resp, nil
}

// MoveDocument re-parents a document and reconciles the grants the move
// invalidated.
func (s *Server) MoveDocument(ctx context.Context, req *commands.MoveDocumentRequest) (*commands.MoveDocumentResponse, error) {
	resp, err := s.move.Execute(ctx, req)
	if err != nil {
		return nil, err
	}
	membershipsPropagated.Add(float64(resp.Propagation.Created + resp.Propagation.Updated))
	membershipsPruned.Add(float64(resp.Propagation.Deleted))
	s.afterWrite(ctx, append(resp.Propagation.Touched, access.NewDocumentResource(req.DocumentID)), nil)
	return resp, nil
}

// DeleteResource removes a resource subtree with its grants and requests.
func (s *Server) DeleteResource(ctx context.Context, req *commands.DeleteResourceRequest) (*commands.DeleteResourceResponse, error) {
	resp, err := s.delete.Execute(ctx, req)
	if err != nil {
		return nil, err
	}
	membershipsPruned.Add(float64(resp.DeletedMemberships))
	s.afterWrite(ctx, resp.Resources, nil)
	return resp, nil
}

// CreateAccessRequest files a pending request, or returns the existing one.
func (s *Server) CreateAccessRequest(ctx context.Context, req *commands.CreateAccessRequestRequest) (*commands.CreateAccessRequestResponse, error) {
	resp, err := s.createRequest.Execute(ctx, req)
	if err != nil {
		return nil, err
	}
	s.afterWrite(ctx, nil, resp.Events)
	return resp, nil
}

// ApproveAccessRequest grants the requester access and resolves the request.
func (s *Server) ApproveAccessRequest(ctx context.Context, req *commands.ApproveAccessRequestRequest) (*commands.ResolveAccessRequestResponse, error) {
	resp, err := s.resolve.Approve(ctx, req)
	if err != nil {
		return nil, err
	}
	membershipsPropagated.Add(float64(resp.Propagation.Created + resp.Propagation.Updated))
	s.afterWrite(ctx, append(resp.Propagation.Touched, resp.AccessRequest.Resource), resp.Events)
	return resp, nil
}

// DismissAccessRequest resolves the request with no grant side effect.
func (s *Server) DismissAccessRequest(ctx context.Context, req *commands.DismissAccessRequestRequest) (*commands.ResolveAccessRequestResponse, error) {
	resp, err := s.resolve.Dismiss(ctx, req)
	if err != nil {
		return nil, err
	}
	s.afterWrite(ctx, nil, resp.Events)
	return resp, nil
}

// AccessRequestInfoRequest identifies a request by id, or by its pending
// (requester, resource) pair. Exactly one of the two forms must be set.
type AccessRequestInfoRequest struct {
	AccessRequestID string

	RequesterID string
	Resource    access.Resource
}

// AccessRequestInfo looks a request up for display.
func (s *Server) AccessRequestInfo(ctx context.Context, req *AccessRequestInfoRequest) (*access.AccessRequest, error) {
	byID := req.AccessRequestID != ""
	byPair := req.RequesterID != "" && !req.Resource.IsZero()
	if byID == byPair {
		return nil, serverErrors.Validation("exactly one of an access request id or a (requester, resource) pair is required")
	}

	var (
		request    *access.AccessRequest
		identifier string
		err        error
	)
	if byID {
		identifier = req.AccessRequestID
		request, err = s.datastore.GetAccessRequest(ctx, req.AccessRequestID)
	} else {
		identifier = req.RequesterID + " on " + req.Resource.String()
		request, err = s.datastore.FindPendingAccessRequest(ctx, access.NewUserPrincipal(req.RequesterID), req.Resource)
	}
	if errors.Is(err, storage.ErrNotFound) {
		return nil, serverErrors.NotFound("access request", identifier)
	}
	if err != nil {
		return nil, serverErrors.HandleError("", err)
	}
	return request, nil
}

// CreateCollection adds a new tree root for embedding applications.
func (s *Server) CreateCollection(ctx context.Context, name string) (*access.Collection, error) {
	if name == "" {
		return nil, serverErrors.Validation("collection name is required")
	}

	collection := &access.Collection{ID: uuid.NewString(), Name: name}
	err := s.datastore.RunInTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		return tx.CreateCollection(ctx, collection)
	})
	if err != nil {
		return nil, serverErrors.HandleError("", err)
	}
	return collection, nil
}

// CreateDocument adds a document under a collection, optionally nested below
// a parent document in that collection.
func (s *Server) CreateDocument(ctx context.Context, collectionID, parentDocumentID, title string) (*access.Document, error) {
	if collectionID == "" {
		return nil, serverErrors.Validation("collection id is required")
	}

	document := &access.Document{
		ID:               uuid.NewString(),
		CollectionID:     collectionID,
		ParentDocumentID: parentDocumentID,
		Title:            title,
	}
	err := s.datastore.RunInTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		if _, err := tx.GetCollection(ctx, collectionID); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return serverErrors.NotFound("collection", collectionID)
			}
			return err
		}
		if parentDocumentID != "" {
			parent, err := tx.GetDocument(ctx, parentDocumentID)
			if err != nil {
				if errors.Is(err, storage.ErrNotFound) {
					return serverErrors.NotFound("document", parentDocumentID)
				}
				return err
			}
			if parent.CollectionID != collectionID {
				return serverErrors.Validation("parent document %q is not in collection %q", parentDocumentID, collectionID)
			}
		}
		return tx.CreateDocument(ctx, document)
	})
	if err != nil {
		return nil, commandErrorPassthrough(err)
	}
	return document, nil
}

// afterWrite publishes the committed events and drops the cached access
// lists of every touched resource.
func (s *Server) afterWrite(ctx context.Context, touched []access.Resource, events []access.Event) {
	if s.cache != nil {
		for _, resource := range touched {
			s.cache.Delete(resource)
		}
	}
	if len(events) == 0 {
		return
	}

	// Deliveries outlive the producing request; sinks must not observe its
	// cancellation.
	ctx = context.WithoutCancel(ctx)
	for _, event := range events {
		s.transport.Publish(ctx, event)
	}
}

// cloneEntries isolates cached access lists from caller mutation.
func cloneEntries(entries []access.EffectiveAccess) []access.EffectiveAccess {
	return append([]access.EffectiveAccess(nil), entries...)
}

func commandErrorPassthrough(err error) error {
	var (
		validation *serverErrors.ValidationError
		notFound   *serverErrors.NotFoundError
	)
	if errors.As(err, &validation) || errors.As(err, &notFound) {
		return err
	}
	return serverErrors.HandleError("", err)
}
