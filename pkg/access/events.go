package access

// EventName identifies one entry of the engine's outbound event stream. The
// stream feeds notification delivery; events are published only after the
// transaction that produced them commits.
type EventName string

const (
	EventMembershipGranted     EventName = "membership.granted"
	EventMembershipRevoked     EventName = "membership.revoked"
	EventAccessRequestCreated  EventName = "access_request.created"
	EventAccessRequestResolved EventName = "access_request.resolved"
)

// Event carries the identifiers downstream delivery needs. Formatting and
// transport are out of scope for the engine.
type Event struct {
	Name      EventName
	Principal Principal
	Resource  Resource

	// ActorID is the user that triggered the event.
	ActorID string

	// Permission is set for membership.granted.
	Permission Permission

	// AccessRequestID is set for the access_request events.
	AccessRequestID string

	// AccessRequestStatus is set for access_request.resolved.
	AccessRequestStatus AccessRequestStatus
}
