// Package storage contains the datastore interfaces and shared types backing
// the membership propagation engine.
package storage

import (
	"context"

	"github.com/inkwell-hq/inkwell/pkg/access"
)

// TreeReader answers structural questions about the resource forest. It is
// backed by the persisted parent pointers on documents.
type TreeReader interface {
	GetCollection(ctx context.Context, id string) (*access.Collection, error)

	GetDocument(ctx context.Context, id string) (*access.Document, error)

	// GetChildren returns the immediate children of a resource in a stable
	// order: top-level documents for a collection, nested documents for a
	// document.
	GetChildren(ctx context.Context, resource access.Resource) ([]access.Resource, error)

	// Ancestors returns the chain above a document, nearest parent first,
	// ending with the owning collection. The resource tree is acyclic by
	// construction; callers guard moves with an explicit cycle check.
	Ancestors(ctx context.Context, documentID string) ([]access.Resource, error)
}

// TreeWriter mutates the resource forest. All methods participate in the
// caller's transaction.
type TreeWriter interface {
	CreateCollection(ctx context.Context, collection *access.Collection) error

	CreateDocument(ctx context.Context, document *access.Document) error

	// SetDocumentParent re-parents a document. An empty parentDocumentID
	// places the document at the top level of the collection.
	SetDocumentParent(ctx context.Context, documentID, collectionID, parentDocumentID string) error

	DeleteDocument(ctx context.Context, id string) error

	DeleteCollection(ctx context.Context, id string) error
}

// MembershipReader reads grant rows. Every method is parametrized by the
// principal kind, selecting the user or group membership table.
type MembershipReader interface {
	// GetMembership returns the single row for (principal, resource)
	// whether root or sourced, or ErrNotFound.
	GetMembership(ctx context.Context, principal access.Principal, resource access.Resource) (*access.Membership, error)

	GetMembershipByID(ctx context.Context, kind access.PrincipalKind, id string) (*access.Membership, error)

	// ListMemberships returns every row on a resource, root and sourced.
	ListMemberships(ctx context.Context, kind access.PrincipalKind, resource access.Resource) ([]*access.Membership, error)

	// ListRootMemberships returns the rows on a resource with no source,
	// i.e. the explicit grants made directly on it.
	ListRootMemberships(ctx context.Context, kind access.PrincipalKind, resource access.Resource) ([]*access.Membership, error)

	// ListMembershipsBySource returns every row fanned out from the given
	// root membership.
	ListMembershipsBySource(ctx context.Context, kind access.PrincipalKind, sourceID string) ([]*access.Membership, error)
}

// MembershipWriter mutates grant rows inside the caller's transaction.
type MembershipWriter interface {
	// GetMembershipForUpdate reads the row for (principal, resource) with a
	// row-level lock, serializing concurrent recalculations of the same
	// grant.
	GetMembershipForUpdate(ctx context.Context, principal access.Principal, resource access.Resource) (*access.Membership, error)

	// InsertMembership writes a new row. Returns ErrCollision when a row
	// for (principal, resource) already exists.
	InsertMembership(ctx context.Context, membership *access.Membership) error

	// UpdateMembership rewrites the permission, source and denormalized
	// collection of an existing row.
	UpdateMembership(ctx context.Context, membership *access.Membership) error

	DeleteMembership(ctx context.Context, kind access.PrincipalKind, id string) error

	// DeleteIfSourced removes the row for (principal, resource) only when
	// it is currently sourced from expectedSourceID. It reports whether a
	// row was removed. The guard prevents clobbering a root grant created
	// concurrently on the same resource.
	DeleteIfSourced(ctx context.Context, principal access.Principal, resource access.Resource, expectedSourceID string) (bool, error)

	// DeleteMembershipsOnResource removes every row, root and sourced, on
	// the resource. Used by resource deletion.
	DeleteMembershipsOnResource(ctx context.Context, kind access.PrincipalKind, resource access.Resource) (int, error)
}

// AccessRequestReader reads access request rows.
type AccessRequestReader interface {
	GetAccessRequest(ctx context.Context, id string) (*access.AccessRequest, error)

	// FindPendingAccessRequest returns the pending request for
	// (requester, resource), or ErrNotFound.
	FindPendingAccessRequest(ctx context.Context, requester access.Principal, resource access.Resource) (*access.AccessRequest, error)
}

// AccessRequestWriter mutates access request rows inside the caller's
// transaction.
type AccessRequestWriter interface {
	// GetAccessRequestForUpdate reads a request with a row-level lock so
	// that two concurrent resolutions serialize.
	GetAccessRequestForUpdate(ctx context.Context, id string) (*access.AccessRequest, error)

	InsertAccessRequest(ctx context.Context, request *access.AccessRequest) error

	UpdateAccessRequest(ctx context.Context, request *access.AccessRequest) error

	DeleteAccessRequestsOnResource(ctx context.Context, resource access.Resource) (int, error)
}

// Tx is the transactional view of the datastore. Every engine operation runs
// against exactly one Tx; the propagator's traversal and writes join the
// same transaction so a subtree's worth of writes applies all-or-nothing.
type Tx interface {
	TreeReader
	TreeWriter
	MembershipReader
	MembershipWriter
	AccessRequestReader
	AccessRequestWriter
}

// ReadinessStatus represents the readiness status of the datastore.
type ReadinessStatus struct {
	// Message is a human-friendly status message for the current datastore status.
	Message string

	IsReady bool
}

// Datastore is the full storage contract. Reads outside a transaction go
// through the embedded reader interfaces; all mutation happens via RunInTx.
type Datastore interface {
	TreeReader
	MembershipReader
	AccessRequestReader

	// RunInTx executes fn inside a single transaction and commits when fn
	// returns nil. Any error rolls the whole transaction back; a failed
	// propagation must leave no partial fan-out behind.
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	// IsReady reports whether the datastore is ready to accept traffic.
	IsReady(ctx context.Context) (ReadinessStatus, error)

	// Close closes the datastore and cleans up any residual resources.
	Close()
}
