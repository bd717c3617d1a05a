// Package authz decides whether an acting user may manage access on a
// resource.
package authz

import (
	"context"
	"errors"

	"github.com/inkwell-hq/inkwell/pkg/access"
	"github.com/inkwell-hq/inkwell/pkg/storage"
)

// Authorizer answers management permission checks for engine operations that
// change grants: granting, revoking and resolving access requests.
type Authorizer interface {
	// CanManage reports whether the actor may administer grants on the
	// resource.
	CanManage(ctx context.Context, actorID string, resource access.Resource) (bool, error)
}

// MembershipAuthorizer grants management rights to users holding an admin
// membership on the resource. Because inherited grants are fanned out onto
// every descendant row, a single row lookup answers the check without
// walking ancestors.
type MembershipAuthorizer struct {
	reader storage.MembershipReader
}

var _ Authorizer = (*MembershipAuthorizer)(nil)

func NewMembershipAuthorizer(reader storage.MembershipReader) *MembershipAuthorizer {
	return &MembershipAuthorizer{reader: reader}
}

func (a *MembershipAuthorizer) CanManage(ctx context.Context, actorID string, resource access.Resource) (bool, error) {
	membership, err := a.reader.GetMembership(ctx, access.NewUserPrincipal(actorID), resource)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return membership.Permission.AtLeast(access.PermissionAdmin), nil
}

// AllowAll approves every check. Used by deployments that enforce
// authorization upstream, and by tests.
type AllowAll struct{}

var _ Authorizer = (*AllowAll)(nil)

func (AllowAll) CanManage(context.Context, string, access.Resource) (bool, error) {
	return true, nil
}
