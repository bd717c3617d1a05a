package commands

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/inkwell-hq/inkwell/pkg/access"
	"github.com/inkwell-hq/inkwell/pkg/authz"
	"github.com/inkwell-hq/inkwell/pkg/logger"
	"github.com/inkwell-hq/inkwell/pkg/storage"
	"github.com/inkwell-hq/inkwell/pkg/storage/memory"
)

// fixture wires every command against a fresh memory datastore with an
// allow-all policy.
type fixture struct {
	t   *testing.T
	ctx context.Context
	ds  storage.Datastore

	grant         *GrantCommand
	revoke        *RevokeCommand
	move          *MoveDocumentCommand
	deleteCmd     *DeleteResourceCommand
	list          *ListEffectiveAccessQuery
	createRequest *CreateAccessRequestCommand
	resolve       *ResolveAccessRequestCommand
}

func newFixture(t *testing.T) *fixture {
	ds := memory.New()
	l := logger.NewNoopLogger()
	var auth authz.Authorizer = authz.AllowAll{}

	return &fixture{
		t:             t,
		ctx:           context.Background(),
		ds:            ds,
		grant:         NewGrantCommand(ds, auth, l),
		revoke:        NewRevokeCommand(ds, auth, l),
		move:          NewMoveDocumentCommand(ds, auth, l),
		deleteCmd:     NewDeleteResourceCommand(ds, auth, l),
		list:          NewListEffectiveAccessQuery(ds, l),
		createRequest: NewCreateAccessRequestCommand(ds, l),
		resolve:       NewResolveAccessRequestCommand(ds, auth, l),
	}
}

func (f *fixture) collection(id string) access.Resource {
	f.t.Helper()
	err := f.ds.RunInTx(f.ctx, func(ctx context.Context, tx storage.Tx) error {
		return tx.CreateCollection(ctx, &access.Collection{ID: id, Name: id})
	})
	require.NoError(f.t, err)
	return access.NewCollectionResource(id)
}

func (f *fixture) document(id, collectionID, parentDocumentID string) access.Resource {
	f.t.Helper()
	err := f.ds.RunInTx(f.ctx, func(ctx context.Context, tx storage.Tx) error {
		return tx.CreateDocument(ctx, &access.Document{
			ID:               id,
			CollectionID:     collectionID,
			ParentDocumentID: parentDocumentID,
			Title:            id,
		})
	})
	require.NoError(f.t, err)
	return access.NewDocumentResource(id)
}

func (f *fixture) mustGrant(principal access.Principal, resource access.Resource, permission access.Permission) *GrantResponse {
	f.t.Helper()
	resp, err := f.grant.Execute(f.ctx, &GrantRequest{
		Principal:  principal,
		Resource:   resource,
		Permission: permission,
		ActorID:    "actor",
	})
	require.NoError(f.t, err)
	return resp
}

func (f *fixture) mustRevoke(principal access.Principal, resource access.Resource) *RevokeResponse {
	f.t.Helper()
	resp, err := f.revoke.Execute(f.ctx, &RevokeRequest{
		Principal: principal,
		Resource:  resource,
		ActorID:   "actor",
	})
	require.NoError(f.t, err)
	return resp
}

// membershipOrNil returns the single row for (principal, resource), or nil.
func (f *fixture) membershipOrNil(principal access.Principal, resource access.Resource) *access.Membership {
	f.t.Helper()
	m, err := f.ds.GetMembership(f.ctx, principal, resource)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	require.NoError(f.t, err)
	return m
}

func (f *fixture) requireMembership(principal access.Principal, resource access.Resource) *access.Membership {
	f.t.Helper()
	m := f.membershipOrNil(principal, resource)
	require.NotNil(f.t, m, "expected a membership for %s on %s", principal, resource)
	return m
}

func (f *fixture) membershipCount(principal access.Principal, resource access.Resource) int {
	f.t.Helper()
	rows, err := f.ds.ListMemberships(f.ctx, principal.Kind, resource)
	require.NoError(f.t, err)
	count := 0
	for _, row := range rows {
		if row.Principal == principal {
			count++
		}
	}
	return count
}

// denyAll rejects every management check.
type denyAll struct{}

func (denyAll) CanManage(context.Context, string, access.Resource) (bool, error) {
	return false, nil
}
