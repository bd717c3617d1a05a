package access

import "time"

// Membership is one grant of a permission level for a principal on a
// resource. A row with an empty SourceID is a root membership, created
// directly by a grant action. A row with SourceID set was fanned out by
// propagating the root membership it points at, and is deleted or rewritten
// whenever that root membership changes.
//
// At most one membership exists per (principal, resource) pair; it is either
// root or sourced, never both.
type Membership struct {
	ID        string
	Principal Principal
	Resource  Resource

	// CollectionID is the collection the resource currently belongs to,
	// denormalized onto the row and refreshed on propagation. Equal to
	// Resource.ID when the resource is itself a collection.
	CollectionID string

	Permission Permission

	// SourceID points at the membership whose propagation created this row.
	// Empty for root memberships.
	SourceID string

	// CreatedByID records the user that authorized the grant, for audit.
	CreatedByID string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsRoot reports whether the membership is an explicit grant rather than one
// inherited from an ancestor.
func (m *Membership) IsRoot() bool {
	return m.SourceID == ""
}

// EffectiveAccess is one entry of a resource's resolved access list.
type EffectiveAccess struct {
	Principal   Principal
	Permission  Permission
	IsInherited bool

	// SourceResourceID is the resource carrying the root membership this
	// entry is inherited from. Empty when IsInherited is false.
	SourceResourceID string
}
