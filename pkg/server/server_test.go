package server

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/inkwell-hq/inkwell/pkg/access"
	"github.com/inkwell-hq/inkwell/pkg/authz"
	"github.com/inkwell-hq/inkwell/pkg/server/commands"
	serverErrors "github.com/inkwell-hq/inkwell/pkg/server/errors"
	"github.com/inkwell-hq/inkwell/pkg/storage"
	"github.com/inkwell-hq/inkwell/pkg/storage/memory"
)

// recordingTransport captures published events and their delivery contexts
// for assertions.
type recordingTransport struct {
	mu       sync.Mutex
	events   []access.Event
	contexts []context.Context
}

func (t *recordingTransport) Publish(ctx context.Context, event access.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = append(t.events, event)
	t.contexts = append(t.contexts, ctx)
}

func (t *recordingTransport) Close() {}

func (t *recordingTransport) recorded() []access.Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]access.Event(nil), t.events...)
}

func (t *recordingTransport) recordedContexts() []context.Context {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]context.Context(nil), t.contexts...)
}

func newTestServer(t *testing.T, cacheSize int64) (*Server, storage.Datastore, *recordingTransport) {
	t.Helper()

	ds := memory.New()
	transport := &recordingTransport{}
	srv, err := NewServer(ds, cacheSize,
		WithAuthorizer(authz.AllowAll{}),
		WithTransport(transport),
	)
	require.NoError(t, err)
	t.Cleanup(srv.Close)
	return srv, ds, transport
}

func seedCollection(t *testing.T, ds storage.Datastore, id string) access.Resource {
	t.Helper()
	err := ds.RunInTx(context.Background(), func(ctx context.Context, tx storage.Tx) error {
		return tx.CreateCollection(ctx, &access.Collection{ID: id, Name: id})
	})
	require.NoError(t, err)
	return access.NewCollectionResource(id)
}

func seedDocument(t *testing.T, ds storage.Datastore, id, collectionID, parentID string) access.Resource {
	t.Helper()
	err := ds.RunInTx(context.Background(), func(ctx context.Context, tx storage.Tx) error {
		return tx.CreateDocument(ctx, &access.Document{
			ID:               id,
			CollectionID:     collectionID,
			ParentDocumentID: parentID,
			Title:            id,
		})
	})
	require.NoError(t, err)
	return access.NewDocumentResource(id)
}

func TestServerGrantInvalidatesCachedAccessLists(t *testing.T) {
	srv, ds, _ := newTestServer(t, 1000)
	ctx := context.Background()

	col := seedCollection(t, ds, "col")
	doc := seedDocument(t, ds, "doc", "col", "")

	// Prime the cache while the document has no grants.
	listed, err := srv.ListEffectiveAccess(ctx, &commands.ListEffectiveAccessRequest{Resource: doc})
	require.NoError(t, err)
	require.Empty(t, listed.Entries)

	_, err = srv.Grant(ctx, &commands.GrantRequest{
		Principal:  access.NewUserPrincipal("alice"),
		Resource:   col,
		Permission: access.PermissionReadWrite,
		ActorID:    "actor",
	})
	require.NoError(t, err)

	// The fan-out touched the document, so the stale empty list is gone.
	listed, err = srv.ListEffectiveAccess(ctx, &commands.ListEffectiveAccessRequest{Resource: doc})
	require.NoError(t, err)
	require.Len(t, listed.Entries, 1)
	require.True(t, listed.Entries[0].IsInherited)

	_, err = srv.Revoke(ctx, &commands.RevokeRequest{
		Principal: access.NewUserPrincipal("alice"),
		Resource:  col,
		ActorID:   "actor",
	})
	require.NoError(t, err)

	listed, err = srv.ListEffectiveAccess(ctx, &commands.ListEffectiveAccessRequest{Resource: doc})
	require.NoError(t, err)
	require.Empty(t, listed.Entries)
}

func TestServerMoveInvalidatesPrunedDocuments(t *testing.T) {
	srv, ds, _ := newTestServer(t, 1000)
	ctx := context.Background()

	col := seedCollection(t, ds, "col-one")
	seedCollection(t, ds, "col-two")
	doc := seedDocument(t, ds, "doc", "col-one", "")

	_, err := srv.Grant(ctx, &commands.GrantRequest{
		Principal:  access.NewUserPrincipal("alice"),
		Resource:   col,
		Permission: access.PermissionRead,
		ActorID:    "actor",
	})
	require.NoError(t, err)

	listed, err := srv.ListEffectiveAccess(ctx, &commands.ListEffectiveAccessRequest{Resource: doc})
	require.NoError(t, err)
	require.Len(t, listed.Entries, 1)

	_, err = srv.MoveDocument(ctx, &commands.MoveDocumentRequest{
		DocumentID:      "doc",
		NewCollectionID: "col-two",
		ActorID:         "actor",
	})
	require.NoError(t, err)

	// The inherited grant was pruned with the move; the cache must not keep
	// serving it.
	listed, err = srv.ListEffectiveAccess(ctx, &commands.ListEffectiveAccessRequest{Resource: doc})
	require.NoError(t, err)
	require.Empty(t, listed.Entries)
}

func TestServerDeleteInvalidatesSubtree(t *testing.T) {
	srv, ds, _ := newTestServer(t, 1000)
	ctx := context.Background()

	col := seedCollection(t, ds, "col")
	doc := seedDocument(t, ds, "doc", "col", "")

	_, err := srv.Grant(ctx, &commands.GrantRequest{
		Principal:  access.NewUserPrincipal("alice"),
		Resource:   col,
		Permission: access.PermissionRead,
		ActorID:    "actor",
	})
	require.NoError(t, err)

	listed, err := srv.ListEffectiveAccess(ctx, &commands.ListEffectiveAccessRequest{Resource: doc})
	require.NoError(t, err)
	require.Len(t, listed.Entries, 1)

	_, err = srv.DeleteResource(ctx, &commands.DeleteResourceRequest{Resource: doc, ActorID: "actor"})
	require.NoError(t, err)

	_, err = srv.ListEffectiveAccess(ctx, &commands.ListEffectiveAccessRequest{Resource: doc})
	var notFound *serverErrors.NotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestServerPublishesEventsAfterCommit(t *testing.T) {
	srv, ds, transport := newTestServer(t, 0)
	ctx := context.Background()

	col := seedCollection(t, ds, "col")

	_, err := srv.Grant(ctx, &commands.GrantRequest{
		Principal:  access.NewUserPrincipal("alice"),
		Resource:   col,
		Permission: access.PermissionReadWrite,
		ActorID:    "actor",
	})
	require.NoError(t, err)

	created, err := srv.CreateAccessRequest(ctx, &commands.CreateAccessRequestRequest{
		RequesterID: "bob",
		Resource:    col,
	})
	require.NoError(t, err)

	_, err = srv.ApproveAccessRequest(ctx, &commands.ApproveAccessRequestRequest{
		AccessRequestID: created.AccessRequest.ID,
		ActorID:         "actor",
	})
	require.NoError(t, err)

	names := make([]access.EventName, 0)
	for _, event := range transport.recorded() {
		names = append(names, event.Name)
	}
	require.Equal(t, []access.EventName{
		access.EventMembershipGranted,
		access.EventAccessRequestCreated,
		access.EventAccessRequestResolved,
		access.EventMembershipGranted,
	}, names)

	// A failed operation publishes nothing.
	_, err = srv.Grant(ctx, &commands.GrantRequest{
		Principal:  access.NewUserPrincipal("alice"),
		Resource:   access.NewDocumentResource("ghost"),
		Permission: access.PermissionRead,
		ActorID:    "actor",
	})
	require.Error(t, err)
	require.Len(t, transport.recorded(), 4)
}

func TestServerCachedAccessListsAreIsolated(t *testing.T) {
	srv, ds, _ := newTestServer(t, 1000)
	ctx := context.Background()

	col := seedCollection(t, ds, "col")

	_, err := srv.Grant(ctx, &commands.GrantRequest{
		Principal:  access.NewUserPrincipal("alice"),
		Resource:   col,
		Permission: access.PermissionRead,
		ActorID:    "actor",
	})
	require.NoError(t, err)

	listed, err := srv.ListEffectiveAccess(ctx, &commands.ListEffectiveAccessRequest{Resource: col})
	require.NoError(t, err)
	require.Len(t, listed.Entries, 1)

	// Mutating a returned list must not corrupt what later callers see.
	listed.Entries[0].Permission = access.PermissionAdmin

	listed, err = srv.ListEffectiveAccess(ctx, &commands.ListEffectiveAccessRequest{Resource: col})
	require.NoError(t, err)
	require.Equal(t, access.PermissionRead, listed.Entries[0].Permission)
}

func TestServerEventContextOutlivesRequest(t *testing.T) {
	srv, ds, transport := newTestServer(t, 0)

	col := seedCollection(t, ds, "col")

	ctx, cancel := context.WithCancel(context.Background())
	_, err := srv.Grant(ctx, &commands.GrantRequest{
		Principal:  access.NewUserPrincipal("alice"),
		Resource:   col,
		Permission: access.PermissionRead,
		ActorID:    "actor",
	})
	require.NoError(t, err)
	cancel()

	contexts := transport.recordedContexts()
	require.Len(t, contexts, 1)
	require.NoError(t, contexts[0].Err(), "delivery context must survive the request's cancellation")
}

func TestAccessRequestInfo(t *testing.T) {
	srv, ds, _ := newTestServer(t, 0)
	ctx := context.Background()

	col := seedCollection(t, ds, "col")

	created, err := srv.CreateAccessRequest(ctx, &commands.CreateAccessRequestRequest{
		RequesterID: "bob",
		Resource:    col,
	})
	require.NoError(t, err)

	t.Run("by_id", func(t *testing.T) {
		found, err := srv.AccessRequestInfo(ctx, &AccessRequestInfoRequest{
			AccessRequestID: created.AccessRequest.ID,
		})
		require.NoError(t, err)
		require.Equal(t, created.AccessRequest.ID, found.ID)
	})

	t.Run("by_pair", func(t *testing.T) {
		found, err := srv.AccessRequestInfo(ctx, &AccessRequestInfoRequest{
			RequesterID: "bob",
			Resource:    col,
		})
		require.NoError(t, err)
		require.Equal(t, created.AccessRequest.ID, found.ID)
	})

	t.Run("exactly_one_form", func(t *testing.T) {
		var validationError *serverErrors.ValidationError

		_, err := srv.AccessRequestInfo(ctx, &AccessRequestInfoRequest{})
		require.ErrorAs(t, err, &validationError)

		_, err = srv.AccessRequestInfo(ctx, &AccessRequestInfoRequest{
			AccessRequestID: created.AccessRequest.ID,
			RequesterID:     "bob",
			Resource:        col,
		})
		require.ErrorAs(t, err, &validationError)
	})

	t.Run("not_found", func(t *testing.T) {
		var notFound *serverErrors.NotFoundError
		_, err := srv.AccessRequestInfo(ctx, &AccessRequestInfoRequest{AccessRequestID: "ghost"})
		require.ErrorAs(t, err, &notFound)
	})
}

func TestCreateCollectionAndDocument(t *testing.T) {
	srv, _, _ := newTestServer(t, 0)
	ctx := context.Background()

	col, err := srv.CreateCollection(ctx, "Engineering")
	require.NoError(t, err)
	require.NotEmpty(t, col.ID)

	doc, err := srv.CreateDocument(ctx, col.ID, "", "Handbook")
	require.NoError(t, err)
	require.Equal(t, col.ID, doc.CollectionID)

	nested, err := srv.CreateDocument(ctx, col.ID, doc.ID, "Onboarding")
	require.NoError(t, err)
	require.Equal(t, doc.ID, nested.ParentDocumentID)

	t.Run("validation", func(t *testing.T) {
		var validationError *serverErrors.ValidationError

		_, err := srv.CreateCollection(ctx, "")
		require.ErrorAs(t, err, &validationError)

		_, err = srv.CreateDocument(ctx, "", "", "Untitled")
		require.ErrorAs(t, err, &validationError)
	})

	t.Run("unknown_collection", func(t *testing.T) {
		var notFound *serverErrors.NotFoundError
		_, err := srv.CreateDocument(ctx, "ghost", "", "Untitled")
		require.ErrorAs(t, err, &notFound)
	})

	t.Run("parent_outside_collection", func(t *testing.T) {
		other, err := srv.CreateCollection(ctx, "Design")
		require.NoError(t, err)

		var validationError *serverErrors.ValidationError
		_, err = srv.CreateDocument(ctx, other.ID, doc.ID, "Untitled")
		require.ErrorAs(t, err, &validationError)
	})
}
