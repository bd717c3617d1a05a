// Package memory provides an ephemeral datastore used by tests and the
// `memory` engine.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/inkwell-hq/inkwell/pkg/access"
	"github.com/inkwell-hq/inkwell/pkg/storage"
)

// StorageOption defines a function type used for configuring a [MemoryBackend] instance.
type StorageOption func(dataStore *MemoryBackend)

// MemoryBackend provides an ephemeral memory-backed implementation of
// [storage.Datastore]. Instances may be safely shared by multiple
// go-routines; transactionality is a whole-store lock with a snapshot rolled
// back when the transaction function fails.
type MemoryBackend struct {
	mu    sync.Mutex // GUARDED_BY for state.
	state *state
}

type state struct {
	collections map[string]*access.Collection
	documents   map[string]*access.Document

	// membership row id => row, one map per principal kind
	memberships map[access.PrincipalKind]map[string]*access.Membership

	requests map[string]*access.AccessRequest

	// docSeq preserves insertion order for stable GetChildren results.
	docSeq  map[string]int64
	nextSeq int64
}

func newState() *state {
	return &state{
		collections: make(map[string]*access.Collection),
		documents:   make(map[string]*access.Document),
		memberships: map[access.PrincipalKind]map[string]*access.Membership{
			access.PrincipalUser:  make(map[string]*access.Membership),
			access.PrincipalGroup: make(map[string]*access.Membership),
		},
		requests: make(map[string]*access.AccessRequest),
		docSeq:   make(map[string]int64),
	}
}

func (s *state) clone() *state {
	c := newState()
	for id, col := range s.collections {
		cp := *col
		c.collections[id] = &cp
	}
	for id, doc := range s.documents {
		cp := *doc
		c.documents[id] = &cp
	}
	for kind, rows := range s.memberships {
		for id, m := range rows {
			cp := *m
			c.memberships[kind][id] = &cp
		}
	}
	for id, r := range s.requests {
		cp := *r
		c.requests[id] = &cp
	}
	for id, seq := range s.docSeq {
		c.docSeq[id] = seq
	}
	c.nextSeq = s.nextSeq
	return c
}

// Ensures that [MemoryBackend] implements the [storage.Datastore] interface.
var _ storage.Datastore = (*MemoryBackend)(nil)

// New creates a new [MemoryBackend] given the options.
func New(opts ...StorageOption) *MemoryBackend {
	ds := &MemoryBackend{state: newState()}

	for _, opt := range opts {
		opt(ds)
	}

	return ds
}

// Close does not do anything for [MemoryBackend].
func (s *MemoryBackend) Close() {}

// IsReady see [storage.Datastore].IsReady.
func (s *MemoryBackend) IsReady(_ context.Context) (storage.ReadinessStatus, error) {
	return storage.ReadinessStatus{IsReady: true}, nil
}

// RunInTx see [storage.Datastore].RunInTx. The store lock is held for the
// duration of fn, so concurrent transactions over overlapping subtrees
// serialize completely.
func (s *MemoryBackend) RunInTx(ctx context.Context, fn func(ctx context.Context, tx storage.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.state.clone()
	if err := fn(ctx, &memoryTx{state: s.state}); err != nil {
		s.state = snapshot
		return err
	}
	return nil
}

// Non-transactional reads take the same lock and delegate to a Tx view.

func (s *MemoryBackend) GetCollection(ctx context.Context, id string) (*access.Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&memoryTx{state: s.state}).GetCollection(ctx, id)
}

func (s *MemoryBackend) GetDocument(ctx context.Context, id string) (*access.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&memoryTx{state: s.state}).GetDocument(ctx, id)
}

func (s *MemoryBackend) GetChildren(ctx context.Context, resource access.Resource) ([]access.Resource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&memoryTx{state: s.state}).GetChildren(ctx, resource)
}

func (s *MemoryBackend) Ancestors(ctx context.Context, documentID string) ([]access.Resource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&memoryTx{state: s.state}).Ancestors(ctx, documentID)
}

func (s *MemoryBackend) GetMembership(ctx context.Context, principal access.Principal, resource access.Resource) (*access.Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&memoryTx{state: s.state}).GetMembership(ctx, principal, resource)
}

func (s *MemoryBackend) GetMembershipByID(ctx context.Context, kind access.PrincipalKind, id string) (*access.Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&memoryTx{state: s.state}).GetMembershipByID(ctx, kind, id)
}

func (s *MemoryBackend) ListMemberships(ctx context.Context, kind access.PrincipalKind, resource access.Resource) ([]*access.Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&memoryTx{state: s.state}).ListMemberships(ctx, kind, resource)
}

func (s *MemoryBackend) ListRootMemberships(ctx context.Context, kind access.PrincipalKind, resource access.Resource) ([]*access.Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&memoryTx{state: s.state}).ListRootMemberships(ctx, kind, resource)
}

func (s *MemoryBackend) ListMembershipsBySource(ctx context.Context, kind access.PrincipalKind, sourceID string) ([]*access.Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&memoryTx{state: s.state}).ListMembershipsBySource(ctx, kind, sourceID)
}

func (s *MemoryBackend) GetAccessRequest(ctx context.Context, id string) (*access.AccessRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&memoryTx{state: s.state}).GetAccessRequest(ctx, id)
}

func (s *MemoryBackend) FindPendingAccessRequest(ctx context.Context, requester access.Principal, resource access.Resource) (*access.AccessRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&memoryTx{state: s.state}).FindPendingAccessRequest(ctx, requester, resource)
}

// memoryTx is the transactional view over the live state. The backend lock
// is held by RunInTx (or the read wrappers) for its whole lifetime.
type memoryTx struct {
	state *state
}

var _ storage.Tx = (*memoryTx)(nil)

func (t *memoryTx) GetCollection(_ context.Context, id string) (*access.Collection, error) {
	col, ok := t.state.collections[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *col
	return &cp, nil
}

func (t *memoryTx) GetDocument(_ context.Context, id string) (*access.Document, error) {
	doc, ok := t.state.documents[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *doc
	return &cp, nil
}

func (t *memoryTx) GetChildren(_ context.Context, resource access.Resource) ([]access.Resource, error) {
	type child struct {
		id  string
		seq int64
	}
	var children []child
	for id, doc := range t.state.documents {
		switch resource.Kind {
		case access.ResourceCollection:
			if doc.CollectionID == resource.ID && doc.ParentDocumentID == "" {
				children = append(children, child{id, t.state.docSeq[id]})
			}
		case access.ResourceDocument:
			if doc.ParentDocumentID == resource.ID {
				children = append(children, child{id, t.state.docSeq[id]})
			}
		}
	}
	sort.Slice(children, func(i, j int) bool { return children[i].seq < children[j].seq })

	out := make([]access.Resource, 0, len(children))
	for _, c := range children {
		out = append(out, access.NewDocumentResource(c.id))
	}
	return out, nil
}

func (t *memoryTx) Ancestors(ctx context.Context, documentID string) ([]access.Resource, error) {
	doc, err := t.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}

	var chain []access.Resource
	for doc.ParentDocumentID != "" {
		parent, err := t.GetDocument(ctx, doc.ParentDocumentID)
		if err != nil {
			return nil, err
		}
		chain = append(chain, parent.Resource())
		doc = parent
	}
	chain = append(chain, access.NewCollectionResource(doc.CollectionID))
	return chain, nil
}

func (t *memoryTx) CreateCollection(_ context.Context, collection *access.Collection) error {
	if _, ok := t.state.collections[collection.ID]; ok {
		return storage.ErrCollision
	}
	if collection.CreatedAt.IsZero() {
		collection.CreatedAt = time.Now().UTC()
	}
	cp := *collection
	t.state.collections[collection.ID] = &cp
	return nil
}

func (t *memoryTx) CreateDocument(_ context.Context, document *access.Document) error {
	if _, ok := t.state.documents[document.ID]; ok {
		return storage.ErrCollision
	}
	if _, ok := t.state.collections[document.CollectionID]; !ok {
		return storage.ErrNotFound
	}
	if document.ParentDocumentID != "" {
		if _, ok := t.state.documents[document.ParentDocumentID]; !ok {
			return storage.ErrNotFound
		}
	}
	if document.CreatedAt.IsZero() {
		document.CreatedAt = time.Now().UTC()
	}
	cp := *document
	t.state.documents[document.ID] = &cp
	t.state.nextSeq++
	t.state.docSeq[document.ID] = t.state.nextSeq
	return nil
}

func (t *memoryTx) SetDocumentParent(_ context.Context, documentID, collectionID, parentDocumentID string) error {
	doc, ok := t.state.documents[documentID]
	if !ok {
		return storage.ErrNotFound
	}
	if _, ok := t.state.collections[collectionID]; !ok {
		return storage.ErrNotFound
	}
	if parentDocumentID != "" {
		if _, ok := t.state.documents[parentDocumentID]; !ok {
			return storage.ErrNotFound
		}
	}
	doc.CollectionID = collectionID
	doc.ParentDocumentID = parentDocumentID
	return nil
}

func (t *memoryTx) DeleteDocument(_ context.Context, id string) error {
	if _, ok := t.state.documents[id]; !ok {
		return storage.ErrNotFound
	}
	delete(t.state.documents, id)
	delete(t.state.docSeq, id)
	return nil
}

func (t *memoryTx) DeleteCollection(_ context.Context, id string) error {
	if _, ok := t.state.collections[id]; !ok {
		return storage.ErrNotFound
	}
	delete(t.state.collections, id)
	return nil
}

func matchResource(m *access.Membership, resource access.Resource) bool {
	return m.Resource.Kind == resource.Kind && m.Resource.ID == resource.ID
}

func (t *memoryTx) findMembership(principal access.Principal, resource access.Resource) *access.Membership {
	for _, m := range t.state.memberships[principal.Kind] {
		if m.Principal.ID == principal.ID && matchResource(m, resource) {
			return m
		}
	}
	return nil
}

func (t *memoryTx) GetMembership(_ context.Context, principal access.Principal, resource access.Resource) (*access.Membership, error) {
	if m := t.findMembership(principal, resource); m != nil {
		cp := *m
		return &cp, nil
	}
	return nil, storage.ErrNotFound
}

func (t *memoryTx) GetMembershipForUpdate(ctx context.Context, principal access.Principal, resource access.Resource) (*access.Membership, error) {
	// The whole-store lock already serializes writers.
	return t.GetMembership(ctx, principal, resource)
}

func (t *memoryTx) GetMembershipByID(_ context.Context, kind access.PrincipalKind, id string) (*access.Membership, error) {
	m, ok := t.state.memberships[kind][id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (t *memoryTx) listMemberships(kind access.PrincipalKind, filter func(*access.Membership) bool) []*access.Membership {
	var out []*access.Membership
	for _, m := range t.state.memberships[kind] {
		if filter(m) {
			cp := *m
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (t *memoryTx) ListMemberships(_ context.Context, kind access.PrincipalKind, resource access.Resource) ([]*access.Membership, error) {
	return t.listMemberships(kind, func(m *access.Membership) bool {
		return matchResource(m, resource)
	}), nil
}

func (t *memoryTx) ListRootMemberships(_ context.Context, kind access.PrincipalKind, resource access.Resource) ([]*access.Membership, error) {
	return t.listMemberships(kind, func(m *access.Membership) bool {
		return matchResource(m, resource) && m.IsRoot()
	}), nil
}

func (t *memoryTx) ListMembershipsBySource(_ context.Context, kind access.PrincipalKind, sourceID string) ([]*access.Membership, error) {
	return t.listMemberships(kind, func(m *access.Membership) bool {
		return m.SourceID == sourceID
	}), nil
}

func (t *memoryTx) InsertMembership(_ context.Context, membership *access.Membership) error {
	if existing := t.findMembership(membership.Principal, membership.Resource); existing != nil {
		return storage.MembershipCollisionError(membership.Principal, membership.Resource)
	}
	now := time.Now().UTC()
	if membership.CreatedAt.IsZero() {
		membership.CreatedAt = now
	}
	membership.UpdatedAt = now
	cp := *membership
	t.state.memberships[membership.Principal.Kind][membership.ID] = &cp
	return nil
}

func (t *memoryTx) UpdateMembership(_ context.Context, membership *access.Membership) error {
	rows := t.state.memberships[membership.Principal.Kind]
	if _, ok := rows[membership.ID]; !ok {
		return storage.ErrNotFound
	}
	membership.UpdatedAt = time.Now().UTC()
	cp := *membership
	rows[membership.ID] = &cp
	return nil
}

func (t *memoryTx) DeleteMembership(_ context.Context, kind access.PrincipalKind, id string) error {
	rows := t.state.memberships[kind]
	if _, ok := rows[id]; !ok {
		return storage.ErrNotFound
	}
	delete(rows, id)
	return nil
}

func (t *memoryTx) DeleteIfSourced(_ context.Context, principal access.Principal, resource access.Resource, expectedSourceID string) (bool, error) {
	m := t.findMembership(principal, resource)
	if m == nil || m.SourceID != expectedSourceID || m.IsRoot() {
		return false, nil
	}
	delete(t.state.memberships[principal.Kind], m.ID)
	return true, nil
}

func (t *memoryTx) DeleteMembershipsOnResource(_ context.Context, kind access.PrincipalKind, resource access.Resource) (int, error) {
	rows := t.state.memberships[kind]
	var removed int
	for id, m := range rows {
		if matchResource(m, resource) {
			delete(rows, id)
			removed++
		}
	}
	return removed, nil
}

func (t *memoryTx) GetAccessRequest(_ context.Context, id string) (*access.AccessRequest, error) {
	r, ok := t.state.requests[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (t *memoryTx) GetAccessRequestForUpdate(ctx context.Context, id string) (*access.AccessRequest, error) {
	return t.GetAccessRequest(ctx, id)
}

func (t *memoryTx) FindPendingAccessRequest(_ context.Context, requester access.Principal, resource access.Resource) (*access.AccessRequest, error) {
	for _, r := range t.state.requests {
		if r.Requester == requester && r.Resource == resource && r.Status == access.AccessRequestPending {
			cp := *r
			return &cp, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (t *memoryTx) InsertAccessRequest(_ context.Context, request *access.AccessRequest) error {
	if _, ok := t.state.requests[request.ID]; ok {
		return storage.ErrCollision
	}
	now := time.Now().UTC()
	if request.CreatedAt.IsZero() {
		request.CreatedAt = now
	}
	request.UpdatedAt = now
	cp := *request
	t.state.requests[request.ID] = &cp
	return nil
}

func (t *memoryTx) UpdateAccessRequest(_ context.Context, request *access.AccessRequest) error {
	if _, ok := t.state.requests[request.ID]; !ok {
		return storage.ErrNotFound
	}
	request.UpdatedAt = time.Now().UTC()
	cp := *request
	t.state.requests[request.ID] = &cp
	return nil
}

func (t *memoryTx) DeleteAccessRequestsOnResource(_ context.Context, resource access.Resource) (int, error) {
	var removed int
	for id, r := range t.state.requests {
		if r.Resource == resource {
			delete(t.state.requests, id)
			removed++
		}
	}
	return removed, nil
}
