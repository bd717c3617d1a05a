package commands

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/inkwell-hq/inkwell/pkg/access"
	"github.com/inkwell-hq/inkwell/pkg/logger"
	serverErrors "github.com/inkwell-hq/inkwell/pkg/server/errors"
)

func TestGrantValidation(t *testing.T) {
	f := newFixture(t)
	col := f.collection("col")

	tests := []struct {
		name string
		req  *GrantRequest
	}{
		{
			name: "missing_principal",
			req:  &GrantRequest{Resource: col, Permission: access.PermissionRead, ActorID: "actor"},
		},
		{
			name: "unknown_principal_kind",
			req: &GrantRequest{
				Principal:  access.Principal{Kind: "robot", ID: "r2"},
				Resource:   col,
				Permission: access.PermissionRead,
				ActorID:    "actor",
			},
		},
		{
			name: "missing_resource",
			req: &GrantRequest{
				Principal:  access.NewUserPrincipal("alice"),
				Permission: access.PermissionRead,
				ActorID:    "actor",
			},
		},
		{
			name: "invalid_permission",
			req: &GrantRequest{
				Principal:  access.NewUserPrincipal("alice"),
				Resource:   col,
				Permission: "owner",
				ActorID:    "actor",
			},
		},
		{
			name: "missing_actor",
			req: &GrantRequest{
				Principal:  access.NewUserPrincipal("alice"),
				Resource:   col,
				Permission: access.PermissionRead,
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.grant.Execute(f.ctx, tc.req)
			var validationError *serverErrors.ValidationError
			require.ErrorAs(t, err, &validationError)
		})
	}
}

func TestGrantUnknownResource(t *testing.T) {
	f := newFixture(t)

	_, err := f.grant.Execute(f.ctx, &GrantRequest{
		Principal:  access.NewUserPrincipal("alice"),
		Resource:   access.NewDocumentResource("ghost"),
		Permission: access.PermissionRead,
		ActorID:    "actor",
	})
	var notFound *serverErrors.NotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestGrantRequiresManageRights(t *testing.T) {
	f := newFixture(t)
	col := f.collection("col")

	denied := NewGrantCommand(f.ds, denyAll{}, logger.NewNoopLogger())
	_, err := denied.Execute(f.ctx, &GrantRequest{
		Principal:  access.NewUserPrincipal("alice"),
		Resource:   col,
		Permission: access.PermissionRead,
		ActorID:    "mallory",
	})
	var authErr *serverErrors.AuthorizationError
	require.ErrorAs(t, err, &authErr)
}

func TestGrantEmitsEvent(t *testing.T) {
	f := newFixture(t)
	col := f.collection("col")

	alice := access.NewUserPrincipal("alice")
	resp := f.mustGrant(alice, col, access.PermissionReadWrite)

	require.Len(t, resp.Events, 1)
	event := resp.Events[0]
	require.Equal(t, access.EventMembershipGranted, event.Name)
	require.Equal(t, alice, event.Principal)
	require.Equal(t, col, event.Resource)
	require.Equal(t, "actor", event.ActorID)
	require.Equal(t, access.PermissionReadWrite, event.Permission)
}

func TestRevokeRootWithdrawsFanout(t *testing.T) {
	f := newFixture(t)

	col := f.collection("col")
	docA := f.document("a", "col", "")
	docB := f.document("b", "col", "a")

	alice := access.NewUserPrincipal("alice")
	f.mustGrant(alice, col, access.PermissionReadWrite)

	resp := f.mustRevoke(alice, col)
	require.Equal(t, 3, resp.Propagation.Deleted)
	require.Len(t, resp.Events, 1)
	require.Equal(t, access.EventMembershipRevoked, resp.Events[0].Name)

	require.Nil(t, f.membershipOrNil(alice, col))
	require.Nil(t, f.membershipOrNil(alice, docA))
	require.Nil(t, f.membershipOrNil(alice, docB))
}

func TestRevokeRootStopsAtOverride(t *testing.T) {
	f := newFixture(t)

	col := f.collection("col")
	docA := f.document("a", "col", "")
	docB := f.document("b", "col", "a")

	alice := access.NewUserPrincipal("alice")
	override := f.mustGrant(alice, docA, access.PermissionAdmin)
	f.mustGrant(alice, col, access.PermissionRead)

	f.mustRevoke(alice, col)

	// The override and its own fan-out survive the ancestor's revocation.
	require.NotNil(t, f.membershipOrNil(alice, docA))
	onB := f.requireMembership(alice, docB)
	require.Equal(t, override.Membership.ID, onB.SourceID)
}

func TestRevokeInheritedRowIsTerminal(t *testing.T) {
	f := newFixture(t)

	col := f.collection("col")
	docA := f.document("a", "col", "")
	docB := f.document("b", "col", "")

	alice := access.NewUserPrincipal("alice")
	f.mustGrant(alice, col, access.PermissionReadWrite)

	resp := f.mustRevoke(alice, docA)
	require.Equal(t, 1, resp.Propagation.Deleted)

	require.Nil(t, f.membershipOrNil(alice, docA))
	require.NotNil(t, f.membershipOrNil(alice, col))
	require.NotNil(t, f.membershipOrNil(alice, docB))
}

func TestRevokeUnknownMembership(t *testing.T) {
	f := newFixture(t)
	col := f.collection("col")

	_, err := f.revoke.Execute(f.ctx, &RevokeRequest{
		Principal: access.NewUserPrincipal("alice"),
		Resource:  col,
		ActorID:   "actor",
	})
	var notFound *serverErrors.NotFoundError
	require.ErrorAs(t, err, &notFound)
}

// TestEffectiveAccessEndToEnd walks the full lifecycle: a collection grant is
// inherited everywhere, a single document's inherited grant is revoked, and a
// later permission change on the collection leaves that revocation intact.
func TestEffectiveAccessEndToEnd(t *testing.T) {
	f := newFixture(t)

	col := f.collection("col")
	doc1 := f.document("doc1", "col", "")
	doc2 := f.document("doc2", "col", "")
	revokedDoc := f.document("doc3", "col", "")

	alice := access.NewUserPrincipal("alice")
	f.mustGrant(alice, col, access.PermissionReadWrite)

	listed, err := f.list.Execute(f.ctx, &ListEffectiveAccessRequest{Resource: doc1})
	require.NoError(t, err)
	require.Len(t, listed.Entries, 1)
	require.Equal(t, alice, listed.Entries[0].Principal)
	require.Equal(t, access.PermissionReadWrite, listed.Entries[0].Permission)
	require.True(t, listed.Entries[0].IsInherited)
	require.Equal(t, "col", listed.Entries[0].SourceResourceID)

	f.mustRevoke(alice, revokedDoc)

	listed, err = f.list.Execute(f.ctx, &ListEffectiveAccessRequest{Resource: revokedDoc})
	require.NoError(t, err)
	require.Empty(t, listed.Entries)

	listed, err = f.list.Execute(f.ctx, &ListEffectiveAccessRequest{Resource: col})
	require.NoError(t, err)
	require.Len(t, listed.Entries, 1)
	require.False(t, listed.Entries[0].IsInherited)

	f.mustGrant(alice, col, access.PermissionAdmin)

	for _, doc := range []access.Resource{doc1, doc2} {
		listed, err = f.list.Execute(f.ctx, &ListEffectiveAccessRequest{Resource: doc})
		require.NoError(t, err)
		require.Len(t, listed.Entries, 1)
		require.Equal(t, access.PermissionAdmin, listed.Entries[0].Permission)
	}

	listed, err = f.list.Execute(f.ctx, &ListEffectiveAccessRequest{Resource: revokedDoc})
	require.NoError(t, err)
	require.Empty(t, listed.Entries)
}
