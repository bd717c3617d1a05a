// Package test contains the datastore conformance suite run against every
// storage engine.
package test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/inkwell-hq/inkwell/pkg/access"
	"github.com/inkwell-hq/inkwell/pkg/id"
	"github.com/inkwell-hq/inkwell/pkg/storage"
)

// RunAllTests runs the storage conformance suite against the datastore.
func RunAllTests(t *testing.T, ds storage.Datastore) {
	t.Run("TestResourceTree", func(t *testing.T) { ResourceTreeTest(t, ds) })
	t.Run("TestMemberships", func(t *testing.T) { MembershipTest(t, ds) })
	t.Run("TestAccessRequests", func(t *testing.T) { AccessRequestTest(t, ds) })
	t.Run("TestTransactionRollback", func(t *testing.T) { TransactionRollbackTest(t, ds) })
}

func mustCreateCollection(t *testing.T, ds storage.Datastore, collectionID string) {
	t.Helper()
	err := ds.RunInTx(context.Background(), func(ctx context.Context, tx storage.Tx) error {
		return tx.CreateCollection(ctx, &access.Collection{ID: collectionID, Name: collectionID})
	})
	require.NoError(t, err)
}

func mustCreateDocument(t *testing.T, ds storage.Datastore, documentID, collectionID, parentDocumentID string) {
	t.Helper()
	err := ds.RunInTx(context.Background(), func(ctx context.Context, tx storage.Tx) error {
		return tx.CreateDocument(ctx, &access.Document{
			ID:               documentID,
			CollectionID:     collectionID,
			ParentDocumentID: parentDocumentID,
			Title:            documentID,
		})
	})
	require.NoError(t, err)
}

func newMembership(principal access.Principal, resource access.Resource, collectionID string, permission access.Permission, sourceID string) *access.Membership {
	now := time.Now().UTC()
	return &access.Membership{
		ID:           id.MustNewString(),
		Principal:    principal,
		Resource:     resource,
		CollectionID: collectionID,
		Permission:   permission,
		SourceID:     sourceID,
		CreatedByID:  "actor",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// ResourceTreeTest exercises the tree index: children ordering, ancestor
// chains and re-parenting.
func ResourceTreeTest(t *testing.T, ds storage.Datastore) {
	ctx := context.Background()

	mustCreateCollection(t, ds, "tree-col")
	mustCreateDocument(t, ds, "tree-a", "tree-col", "")
	mustCreateDocument(t, ds, "tree-b", "tree-col", "tree-a")
	mustCreateDocument(t, ds, "tree-c", "tree-col", "tree-b")
	mustCreateDocument(t, ds, "tree-d", "tree-col", "")

	collection, err := ds.GetCollection(ctx, "tree-col")
	require.NoError(t, err)
	require.Equal(t, "tree-col", collection.Name)

	_, err = ds.GetCollection(ctx, "tree-missing")
	require.ErrorIs(t, err, storage.ErrNotFound)

	document, err := ds.GetDocument(ctx, "tree-b")
	require.NoError(t, err)
	require.Equal(t, "tree-col", document.CollectionID)
	require.Equal(t, "tree-a", document.ParentDocumentID)

	children, err := ds.GetChildren(ctx, access.NewCollectionResource("tree-col"))
	require.NoError(t, err)
	require.Equal(t, []access.Resource{
		access.NewDocumentResource("tree-a"),
		access.NewDocumentResource("tree-d"),
	}, children)

	children, err = ds.GetChildren(ctx, access.NewDocumentResource("tree-a"))
	require.NoError(t, err)
	require.Equal(t, []access.Resource{access.NewDocumentResource("tree-b")}, children)

	ancestors, err := ds.Ancestors(ctx, "tree-c")
	require.NoError(t, err)
	require.Equal(t, []access.Resource{
		access.NewDocumentResource("tree-b"),
		access.NewDocumentResource("tree-a"),
		access.NewCollectionResource("tree-col"),
	}, ancestors)

	err = ds.RunInTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		return tx.SetDocumentParent(ctx, "tree-b", "tree-col", "")
	})
	require.NoError(t, err)

	ancestors, err = ds.Ancestors(ctx, "tree-c")
	require.NoError(t, err)
	require.Equal(t, []access.Resource{
		access.NewDocumentResource("tree-b"),
		access.NewCollectionResource("tree-col"),
	}, ancestors)
}

// MembershipTest exercises membership CRUD, the uniqueness constraint and
// the guarded delete.
func MembershipTest(t *testing.T, ds storage.Datastore) {
	ctx := context.Background()

	mustCreateCollection(t, ds, "mem-col")
	mustCreateDocument(t, ds, "mem-doc", "mem-col", "")

	alice := access.NewUserPrincipal("mem-alice")
	collection := access.NewCollectionResource("mem-col")
	document := access.NewDocumentResource("mem-doc")

	root := newMembership(alice, collection, "mem-col", access.PermissionReadWrite, "")
	err := ds.RunInTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		return tx.InsertMembership(ctx, root)
	})
	require.NoError(t, err)

	// Second row for the same (principal, resource) violates uniqueness.
	err = ds.RunInTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		return tx.InsertMembership(ctx, newMembership(alice, collection, "mem-col", access.PermissionRead, ""))
	})
	require.ErrorIs(t, err, storage.ErrCollision)

	got, err := ds.GetMembership(ctx, alice, collection)
	require.NoError(t, err)
	require.Equal(t, root.ID, got.ID)
	require.True(t, got.IsRoot())
	require.Equal(t, access.PermissionReadWrite, got.Permission)

	got, err = ds.GetMembershipByID(ctx, access.PrincipalUser, root.ID)
	require.NoError(t, err)
	require.Equal(t, collection, got.Resource)

	sourced := newMembership(alice, document, "mem-col", access.PermissionReadWrite, root.ID)
	err = ds.RunInTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		return tx.InsertMembership(ctx, sourced)
	})
	require.NoError(t, err)

	roots, err := ds.ListRootMemberships(ctx, access.PrincipalUser, document)
	require.NoError(t, err)
	require.Empty(t, roots)

	all, err := ds.ListMemberships(ctx, access.PrincipalUser, document)
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, root.ID, all[0].SourceID)

	bySource, err := ds.ListMembershipsBySource(ctx, access.PrincipalUser, root.ID)
	require.NoError(t, err)
	require.Len(t, bySource, 1)
	require.Equal(t, sourced.ID, bySource[0].ID)

	err = ds.RunInTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		got, err := tx.GetMembershipForUpdate(ctx, alice, document)
		if err != nil {
			return err
		}
		got.Permission = access.PermissionAdmin
		return tx.UpdateMembership(ctx, got)
	})
	require.NoError(t, err)

	got, err = ds.GetMembership(ctx, alice, document)
	require.NoError(t, err)
	require.Equal(t, access.PermissionAdmin, got.Permission)

	// The guarded delete only fires when the row is sourced as expected.
	err = ds.RunInTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		deleted, err := tx.DeleteIfSourced(ctx, alice, document, "some-other-source")
		require.NoError(t, err)
		require.False(t, deleted)

		deleted, err = tx.DeleteIfSourced(ctx, alice, collection, root.ID)
		require.NoError(t, err)
		require.False(t, deleted, "a root membership must survive the guarded delete")

		deleted, err = tx.DeleteIfSourced(ctx, alice, document, root.ID)
		require.NoError(t, err)
		require.True(t, deleted)
		return nil
	})
	require.NoError(t, err)

	_, err = ds.GetMembership(ctx, alice, document)
	require.ErrorIs(t, err, storage.ErrNotFound)

	err = ds.RunInTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		removed, err := tx.DeleteMembershipsOnResource(ctx, access.PrincipalUser, collection)
		require.NoError(t, err)
		require.Equal(t, 1, removed)
		return nil
	})
	require.NoError(t, err)

	_, err = ds.GetMembership(ctx, alice, collection)
	require.ErrorIs(t, err, storage.ErrNotFound)
}

// AccessRequestTest exercises the request store and the pending lookup.
func AccessRequestTest(t *testing.T, ds storage.Datastore) {
	ctx := context.Background()

	mustCreateCollection(t, ds, "req-col")
	mustCreateDocument(t, ds, "req-doc", "req-col", "")

	bob := access.NewUserPrincipal("req-bob")
	document := access.NewDocumentResource("req-doc")

	now := time.Now().UTC()
	request := &access.AccessRequest{
		ID:                  id.MustNewString(),
		Requester:           bob,
		Resource:            document,
		RequestedPermission: access.PermissionRead,
		Status:              access.AccessRequestPending,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	err := ds.RunInTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		return tx.InsertAccessRequest(ctx, request)
	})
	require.NoError(t, err)

	pending, err := ds.FindPendingAccessRequest(ctx, bob, document)
	require.NoError(t, err)
	require.Equal(t, request.ID, pending.ID)
	require.Equal(t, access.PermissionRead, pending.RequestedPermission)

	_, err = ds.FindPendingAccessRequest(ctx, access.NewUserPrincipal("req-nobody"), document)
	require.ErrorIs(t, err, storage.ErrNotFound)

	err = ds.RunInTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		locked, err := tx.GetAccessRequestForUpdate(ctx, request.ID)
		if err != nil {
			return err
		}
		locked.Status = access.AccessRequestApproved
		locked.ResponderID = "req-admin"
		locked.RespondedAt = time.Now().UTC()
		locked.GrantedPermission = access.PermissionReadWrite
		return tx.UpdateAccessRequest(ctx, locked)
	})
	require.NoError(t, err)

	resolved, err := ds.GetAccessRequest(ctx, request.ID)
	require.NoError(t, err)
	require.Equal(t, access.AccessRequestApproved, resolved.Status)
	require.Equal(t, "req-admin", resolved.ResponderID)
	require.Equal(t, access.PermissionReadWrite, resolved.GrantedPermission)
	require.False(t, resolved.RespondedAt.IsZero())

	// A resolved request no longer blocks a new pending one.
	_, err = ds.FindPendingAccessRequest(ctx, bob, document)
	require.ErrorIs(t, err, storage.ErrNotFound)

	err = ds.RunInTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		removed, err := tx.DeleteAccessRequestsOnResource(ctx, document)
		require.NoError(t, err)
		require.Equal(t, 1, removed)
		return nil
	})
	require.NoError(t, err)

	_, err = ds.GetAccessRequest(ctx, request.ID)
	require.ErrorIs(t, err, storage.ErrNotFound)
}

// TransactionRollbackTest verifies a failing transaction leaves no partial
// writes behind.
func TransactionRollbackTest(t *testing.T, ds storage.Datastore) {
	ctx := context.Background()

	boom := errors.New("boom")
	err := ds.RunInTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		if err := tx.CreateCollection(ctx, &access.Collection{ID: "rb-col", Name: "rb-col"}); err != nil {
			return err
		}
		alice := access.NewUserPrincipal("rb-alice")
		if err := tx.InsertMembership(ctx, newMembership(alice, access.NewCollectionResource("rb-col"), "rb-col", access.PermissionRead, "")); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = ds.GetCollection(ctx, "rb-col")
	require.ErrorIs(t, err, storage.ErrNotFound)

	_, err = ds.GetMembership(ctx, access.NewUserPrincipal("rb-alice"), access.NewCollectionResource("rb-col"))
	require.ErrorIs(t, err, storage.ErrNotFound)
}
