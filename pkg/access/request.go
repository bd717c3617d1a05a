package access

import "time"

// AccessRequestStatus is the lifecycle state of an access request. Pending is
// the only state that accepts transitions; approved and dismissed are
// terminal.
type AccessRequestStatus string

const (
	AccessRequestPending   AccessRequestStatus = "pending"
	AccessRequestApproved  AccessRequestStatus = "approved"
	AccessRequestDismissed AccessRequestStatus = "dismissed"
)

// AccessRequest is a user's ask for access to a document or collection. On
// approval it produces a root membership for the requester; dismissal has no
// membership side effect. Requests are immutable once resolved.
type AccessRequest struct {
	ID        string
	Requester Principal
	Resource  Resource

	// RequestedPermission is optional; users may leave the level to the
	// resource manager's discretion.
	RequestedPermission Permission

	Status AccessRequestStatus

	// Response metadata, set exactly once when the request leaves Pending.
	ResponderID string
	RespondedAt time.Time

	// GrantedPermission is the level actually granted on approval.
	GrantedPermission Permission

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (r *AccessRequest) IsPending() bool {
	return r.Status == AccessRequestPending
}
