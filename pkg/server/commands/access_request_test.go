package commands

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/inkwell-hq/inkwell/pkg/access"
	"github.com/inkwell-hq/inkwell/pkg/logger"
	serverErrors "github.com/inkwell-hq/inkwell/pkg/server/errors"
)

func TestCreateAccessRequest(t *testing.T) {
	f := newFixture(t)
	col := f.collection("col")

	resp, err := f.createRequest.Execute(f.ctx, &CreateAccessRequestRequest{
		RequesterID:         "bob",
		Resource:            col,
		RequestedPermission: access.PermissionRead,
	})
	require.NoError(t, err)
	require.False(t, resp.Existing)
	require.True(t, resp.AccessRequest.IsPending())
	require.Equal(t, access.NewUserPrincipal("bob"), resp.AccessRequest.Requester)
	require.Equal(t, access.PermissionRead, resp.AccessRequest.RequestedPermission)

	require.Len(t, resp.Events, 1)
	require.Equal(t, access.EventAccessRequestCreated, resp.Events[0].Name)
	require.Equal(t, resp.AccessRequest.ID, resp.Events[0].AccessRequestID)
}

func TestCreateAccessRequestDeduplicates(t *testing.T) {
	f := newFixture(t)
	col := f.collection("col")

	first, err := f.createRequest.Execute(f.ctx, &CreateAccessRequestRequest{
		RequesterID: "bob",
		Resource:    col,
	})
	require.NoError(t, err)

	second, err := f.createRequest.Execute(f.ctx, &CreateAccessRequestRequest{
		RequesterID: "bob",
		Resource:    col,
	})
	require.NoError(t, err)
	require.True(t, second.Existing)
	require.Equal(t, first.AccessRequest.ID, second.AccessRequest.ID)
	require.Empty(t, second.Events, "a repeated ask must not re-announce itself")

	// A different requester on the same resource is a distinct request.
	other, err := f.createRequest.Execute(f.ctx, &CreateAccessRequestRequest{
		RequesterID: "carol",
		Resource:    col,
	})
	require.NoError(t, err)
	require.False(t, other.Existing)
}

func TestCreateAccessRequestValidation(t *testing.T) {
	f := newFixture(t)
	col := f.collection("col")

	tests := []struct {
		name string
		req  *CreateAccessRequestRequest
	}{
		{
			name: "missing_requester",
			req:  &CreateAccessRequestRequest{Resource: col},
		},
		{
			name: "missing_resource",
			req:  &CreateAccessRequestRequest{RequesterID: "bob"},
		},
		{
			name: "invalid_permission",
			req:  &CreateAccessRequestRequest{RequesterID: "bob", Resource: col, RequestedPermission: "owner"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.createRequest.Execute(f.ctx, tc.req)
			var validationError *serverErrors.ValidationError
			require.ErrorAs(t, err, &validationError)
		})
	}

	t.Run("unknown_resource", func(t *testing.T) {
		_, err := f.createRequest.Execute(f.ctx, &CreateAccessRequestRequest{
			RequesterID: "bob",
			Resource:    access.NewDocumentResource("ghost"),
		})
		var notFound *serverErrors.NotFoundError
		require.ErrorAs(t, err, &notFound)
	})
}

func TestApproveGrantsAndPropagates(t *testing.T) {
	f := newFixture(t)

	col := f.collection("col")
	docA := f.document("a", "col", "")

	created, err := f.createRequest.Execute(f.ctx, &CreateAccessRequestRequest{
		RequesterID: "bob",
		Resource:    col,
	})
	require.NoError(t, err)

	resp, err := f.resolve.Approve(f.ctx, &ApproveAccessRequestRequest{
		AccessRequestID: created.AccessRequest.ID,
		Permission:      access.PermissionAdmin,
		ActorID:         "actor",
	})
	require.NoError(t, err)

	require.Equal(t, access.AccessRequestApproved, resp.AccessRequest.Status)
	require.Equal(t, "actor", resp.AccessRequest.ResponderID)
	require.Equal(t, access.PermissionAdmin, resp.AccessRequest.GrantedPermission)

	require.NotNil(t, resp.Membership)
	require.True(t, resp.Membership.IsRoot())
	require.Equal(t, 1, resp.Propagation.Created)

	bob := access.NewUserPrincipal("bob")
	require.Equal(t, access.PermissionAdmin, f.requireMembership(bob, col).Permission)
	require.Equal(t, access.PermissionAdmin, f.requireMembership(bob, docA).Permission)

	require.Len(t, resp.Events, 2)
	require.Equal(t, access.EventAccessRequestResolved, resp.Events[0].Name)
	require.Equal(t, access.AccessRequestApproved, resp.Events[0].AccessRequestStatus)
	require.Equal(t, access.EventMembershipGranted, resp.Events[1].Name)
}

func TestApprovePermissionFallback(t *testing.T) {
	f := newFixture(t)
	col := f.collection("col")
	bob := access.NewUserPrincipal("bob")

	t.Run("requested_level_wins", func(t *testing.T) {
		created, err := f.createRequest.Execute(f.ctx, &CreateAccessRequestRequest{
			RequesterID:         "bob",
			Resource:            col,
			RequestedPermission: access.PermissionRead,
		})
		require.NoError(t, err)

		resp, err := f.resolve.Approve(f.ctx, &ApproveAccessRequestRequest{
			AccessRequestID: created.AccessRequest.ID,
			ActorID:         "actor",
		})
		require.NoError(t, err)
		require.Equal(t, access.PermissionRead, resp.AccessRequest.GrantedPermission)
		require.Equal(t, access.PermissionRead, f.requireMembership(bob, col).Permission)
	})

	t.Run("open_request_defaults_to_read_write", func(t *testing.T) {
		other := f.collection("other")
		created, err := f.createRequest.Execute(f.ctx, &CreateAccessRequestRequest{
			RequesterID: "bob",
			Resource:    other,
		})
		require.NoError(t, err)

		resp, err := f.resolve.Approve(f.ctx, &ApproveAccessRequestRequest{
			AccessRequestID: created.AccessRequest.ID,
			ActorID:         "actor",
		})
		require.NoError(t, err)
		require.Equal(t, access.DefaultApprovedPermission, resp.AccessRequest.GrantedPermission)
		require.Equal(t, access.PermissionReadWrite, f.requireMembership(bob, other).Permission)
	})
}

func TestDismissLeavesNoMembership(t *testing.T) {
	f := newFixture(t)
	col := f.collection("col")

	created, err := f.createRequest.Execute(f.ctx, &CreateAccessRequestRequest{
		RequesterID: "bob",
		Resource:    col,
	})
	require.NoError(t, err)

	resp, err := f.resolve.Dismiss(f.ctx, &DismissAccessRequestRequest{
		AccessRequestID: created.AccessRequest.ID,
		ActorID:         "actor",
	})
	require.NoError(t, err)

	require.Equal(t, access.AccessRequestDismissed, resp.AccessRequest.Status)
	require.Nil(t, resp.Membership)
	require.Nil(t, f.membershipOrNil(access.NewUserPrincipal("bob"), col))

	require.Len(t, resp.Events, 1)
	require.Equal(t, access.EventAccessRequestResolved, resp.Events[0].Name)
	require.Equal(t, access.AccessRequestDismissed, resp.Events[0].AccessRequestStatus)
}

func TestResolveIsExactlyOnce(t *testing.T) {
	f := newFixture(t)
	col := f.collection("col")

	t.Run("approve_then_dismiss", func(t *testing.T) {
		created, err := f.createRequest.Execute(f.ctx, &CreateAccessRequestRequest{
			RequesterID: "bob",
			Resource:    col,
		})
		require.NoError(t, err)

		_, err = f.resolve.Approve(f.ctx, &ApproveAccessRequestRequest{
			AccessRequestID: created.AccessRequest.ID,
			ActorID:         "actor",
		})
		require.NoError(t, err)

		_, err = f.resolve.Dismiss(f.ctx, &DismissAccessRequestRequest{
			AccessRequestID: created.AccessRequest.ID,
			ActorID:         "actor",
		})
		var alreadyResolved *serverErrors.AlreadyResolvedError
		require.ErrorAs(t, err, &alreadyResolved)
		require.Equal(t, string(access.AccessRequestApproved), alreadyResolved.Status)
	})

	t.Run("dismiss_then_approve", func(t *testing.T) {
		created, err := f.createRequest.Execute(f.ctx, &CreateAccessRequestRequest{
			RequesterID: "carol",
			Resource:    col,
		})
		require.NoError(t, err)

		_, err = f.resolve.Dismiss(f.ctx, &DismissAccessRequestRequest{
			AccessRequestID: created.AccessRequest.ID,
			ActorID:         "actor",
		})
		require.NoError(t, err)

		_, err = f.resolve.Approve(f.ctx, &ApproveAccessRequestRequest{
			AccessRequestID: created.AccessRequest.ID,
			ActorID:         "actor",
		})
		var alreadyResolved *serverErrors.AlreadyResolvedError
		require.ErrorAs(t, err, &alreadyResolved)
	})
}

func TestResolveUnknownRequest(t *testing.T) {
	f := newFixture(t)

	_, err := f.resolve.Approve(f.ctx, &ApproveAccessRequestRequest{
		AccessRequestID: "ghost",
		ActorID:         "actor",
	})
	var notFound *serverErrors.NotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestResolveRequiresManageRights(t *testing.T) {
	f := newFixture(t)
	col := f.collection("col")

	created, err := f.createRequest.Execute(f.ctx, &CreateAccessRequestRequest{
		RequesterID: "bob",
		Resource:    col,
	})
	require.NoError(t, err)

	denied := NewResolveAccessRequestCommand(f.ds, denyAll{}, logger.NewNoopLogger())
	_, err = denied.Approve(f.ctx, &ApproveAccessRequestRequest{
		AccessRequestID: created.AccessRequest.ID,
		ActorID:         "mallory",
	})
	var authErr *serverErrors.AuthorizationError
	require.ErrorAs(t, err, &authErr)
}
