// Package access defines the domain model for the membership propagation
// engine: principals, resources, permission levels, membership grants and
// access requests.
package access

import "fmt"

// PrincipalKind discriminates the two grantee variants. User and group
// memberships live in parallel tables with identical shape; the propagation
// algorithm is written once against this discriminant.
type PrincipalKind string

const (
	PrincipalUser  PrincipalKind = "user"
	PrincipalGroup PrincipalKind = "group"
)

// PrincipalKinds lists every valid kind, in a stable order.
var PrincipalKinds = []PrincipalKind{PrincipalUser, PrincipalGroup}

func (k PrincipalKind) Valid() bool {
	return k == PrincipalUser || k == PrincipalGroup
}

// Principal identifies a user or group that can hold a grant.
type Principal struct {
	Kind PrincipalKind
	ID   string
}

func NewUserPrincipal(id string) Principal {
	return Principal{Kind: PrincipalUser, ID: id}
}

func NewGroupPrincipal(id string) Principal {
	return Principal{Kind: PrincipalGroup, ID: id}
}

func (p Principal) String() string {
	return fmt.Sprintf("%s:%s", p.Kind, p.ID)
}
