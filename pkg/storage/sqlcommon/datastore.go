package sqlcommon

import (
	"context"
	"database/sql"
	"errors"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/inkwell-hq/inkwell/pkg/access"
	"github.com/inkwell-hq/inkwell/pkg/logger"
	"github.com/inkwell-hq/inkwell/pkg/storage"
)

// membershipTable returns the table holding grant rows for a principal kind.
// User and group memberships have identical shape but live in separate
// tables, each with a uniqueness constraint on (principal id, resource id).
func membershipTable(kind access.PrincipalKind) string {
	if kind == access.PrincipalGroup {
		return "group_memberships"
	}
	return "user_memberships"
}

func principalColumn(kind access.PrincipalKind) string {
	if kind == access.PrincipalGroup {
		return "group_id"
	}
	return "user_id"
}

func membershipColumns(kind access.PrincipalKind) []string {
	return []string{
		"id",
		principalColumn(kind),
		"resource_kind",
		"resource_id",
		"collection_id",
		"permission",
		"source_id",
		"created_by_id",
		"created_at",
		"updated_at",
	}
}

var accessRequestColumns = []string{
	"id",
	"requester_kind",
	"requester_id",
	"resource_kind",
	"resource_id",
	"requested_permission",
	"status",
	"responder_id",
	"responded_at",
	"granted_permission",
	"created_at",
	"updated_at",
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// Datastore is the SQL implementation of [storage.Datastore] shared by the
// postgres and sqlite drivers. Reads outside a transaction run against the
// pool; RunInTx rebinds the statement builder to the open transaction so the
// whole engine operation commits or rolls back as one unit.
type Datastore struct {
	dbInfo *DBInfo
	logger logger.Logger
}

var _ storage.Datastore = (*Datastore)(nil)

// NewDatastore constructs a [Datastore] over the driver's DBInfo.
func NewDatastore(dbInfo *DBInfo, l logger.Logger) *Datastore {
	if l == nil {
		l = logger.NewNoopLogger()
	}
	return &Datastore{dbInfo: dbInfo, logger: l}
}

// DB exposes the underlying pool for readiness checks and migrations.
func (d *Datastore) DB() *sql.DB {
	return d.dbInfo.db
}

// Close see [storage.Datastore].Close.
func (d *Datastore) Close() {
	_ = d.dbInfo.db.Close()
}

// IsReady see [storage.Datastore].IsReady.
func (d *Datastore) IsReady(ctx context.Context) (storage.ReadinessStatus, error) {
	return IsReady(ctx, false, d.dbInfo.db)
}

func (d *Datastore) reader() *queries {
	return &queries{
		stbl:   d.dbInfo.stbl,
		handle: d.dbInfo.HandleSQLError,
	}
}

// RunInTx see [storage.Datastore].RunInTx.
func (d *Datastore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx storage.Tx) error) error {
	txn, err := d.dbInfo.db.BeginTx(ctx, nil)
	if err != nil {
		return d.dbInfo.HandleSQLError(err)
	}
	defer func() {
		_ = txn.Rollback()
	}()

	q := &queries{
		stbl:     d.dbInfo.stbl.RunWith(txn),
		handle:   d.dbInfo.HandleSQLError,
		rowLocks: d.dbInfo.rowLocks,
	}
	if err := fn(ctx, q); err != nil {
		return err
	}

	if err := txn.Commit(); err != nil {
		return d.dbInfo.HandleSQLError(err)
	}
	return nil
}

func (d *Datastore) GetCollection(ctx context.Context, id string) (*access.Collection, error) {
	return d.reader().GetCollection(ctx, id)
}

func (d *Datastore) GetDocument(ctx context.Context, id string) (*access.Document, error) {
	return d.reader().GetDocument(ctx, id)
}

func (d *Datastore) GetChildren(ctx context.Context, resource access.Resource) ([]access.Resource, error) {
	return d.reader().GetChildren(ctx, resource)
}

func (d *Datastore) Ancestors(ctx context.Context, documentID string) ([]access.Resource, error) {
	return d.reader().Ancestors(ctx, documentID)
}

func (d *Datastore) GetMembership(ctx context.Context, principal access.Principal, resource access.Resource) (*access.Membership, error) {
	return d.reader().GetMembership(ctx, principal, resource)
}

func (d *Datastore) GetMembershipByID(ctx context.Context, kind access.PrincipalKind, id string) (*access.Membership, error) {
	return d.reader().GetMembershipByID(ctx, kind, id)
}

func (d *Datastore) ListMemberships(ctx context.Context, kind access.PrincipalKind, resource access.Resource) ([]*access.Membership, error) {
	return d.reader().ListMemberships(ctx, kind, resource)
}

func (d *Datastore) ListRootMemberships(ctx context.Context, kind access.PrincipalKind, resource access.Resource) ([]*access.Membership, error) {
	return d.reader().ListRootMemberships(ctx, kind, resource)
}

func (d *Datastore) ListMembershipsBySource(ctx context.Context, kind access.PrincipalKind, sourceID string) ([]*access.Membership, error) {
	return d.reader().ListMembershipsBySource(ctx, kind, sourceID)
}

func (d *Datastore) GetAccessRequest(ctx context.Context, id string) (*access.AccessRequest, error) {
	return d.reader().GetAccessRequest(ctx, id)
}

func (d *Datastore) FindPendingAccessRequest(ctx context.Context, requester access.Principal, resource access.Resource) (*access.AccessRequest, error) {
	return d.reader().FindPendingAccessRequest(ctx, requester, resource)
}

// queries implements [storage.Tx] over a squirrel statement builder. The
// builder is bound either to the pool (plain reads) or to an open
// transaction (RunInTx).
type queries struct {
	stbl   sq.StatementBuilderType
	handle errorHandlerFn

	// rowLocks enables SELECT ... FOR UPDATE suffixes.
	rowLocks bool
}

var _ storage.Tx = (*queries)(nil)

func (q *queries) GetCollection(ctx context.Context, id string) (*access.Collection, error) {
	row := q.stbl.
		Select("id", "name", "created_at").
		From("collections").
		Where(sq.Eq{"id": id}).
		QueryRowContext(ctx)

	var col access.Collection
	if err := row.Scan(&col.ID, &col.Name, &col.CreatedAt); err != nil {
		return nil, q.handle(err)
	}
	return &col, nil
}

func (q *queries) GetDocument(ctx context.Context, id string) (*access.Document, error) {
	row := q.stbl.
		Select("id", "collection_id", "parent_document_id", "title", "created_at").
		From("documents").
		Where(sq.Eq{"id": id}).
		QueryRowContext(ctx)

	var doc access.Document
	var parent sql.NullString
	if err := row.Scan(&doc.ID, &doc.CollectionID, &parent, &doc.Title, &doc.CreatedAt); err != nil {
		return nil, q.handle(err)
	}
	doc.ParentDocumentID = parent.String
	return &doc, nil
}

func (q *queries) GetChildren(ctx context.Context, resource access.Resource) ([]access.Resource, error) {
	sb := q.stbl.
		Select("id").
		From("documents").
		OrderBy("created_at", "id")

	switch resource.Kind {
	case access.ResourceCollection:
		sb = sb.Where(sq.Eq{"collection_id": resource.ID, "parent_document_id": nil})
	default:
		sb = sb.Where(sq.Eq{"parent_document_id": resource.ID})
	}

	rows, err := sb.QueryContext(ctx)
	if err != nil {
		return nil, q.handle(err)
	}
	defer rows.Close()

	var children []access.Resource
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, q.handle(err)
		}
		children = append(children, access.NewDocumentResource(id))
	}
	if err := rows.Err(); err != nil {
		return nil, q.handle(err)
	}
	return children, nil
}

func (q *queries) Ancestors(ctx context.Context, documentID string) ([]access.Resource, error) {
	doc, err := q.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}

	var chain []access.Resource
	for doc.ParentDocumentID != "" {
		parent, err := q.GetDocument(ctx, doc.ParentDocumentID)
		if err != nil {
			return nil, err
		}
		chain = append(chain, parent.Resource())
		doc = parent
	}
	chain = append(chain, access.NewCollectionResource(doc.CollectionID))
	return chain, nil
}

func (q *queries) CreateCollection(ctx context.Context, collection *access.Collection) error {
	if collection.CreatedAt.IsZero() {
		collection.CreatedAt = time.Now().UTC()
	}
	_, err := q.stbl.
		Insert("collections").
		Columns("id", "name", "created_at").
		Values(collection.ID, collection.Name, collection.CreatedAt).
		ExecContext(ctx)
	if err != nil {
		return q.handle(err)
	}
	return nil
}

func (q *queries) CreateDocument(ctx context.Context, document *access.Document) error {
	if document.CreatedAt.IsZero() {
		document.CreatedAt = time.Now().UTC()
	}
	_, err := q.stbl.
		Insert("documents").
		Columns("id", "collection_id", "parent_document_id", "title", "created_at").
		Values(document.ID, document.CollectionID, nullString(document.ParentDocumentID), document.Title, document.CreatedAt).
		ExecContext(ctx)
	if err != nil {
		return q.handle(err)
	}
	return nil
}

func (q *queries) SetDocumentParent(ctx context.Context, documentID, collectionID, parentDocumentID string) error {
	res, err := q.stbl.
		Update("documents").
		Set("collection_id", collectionID).
		Set("parent_document_id", nullString(parentDocumentID)).
		Where(sq.Eq{"id": documentID}).
		ExecContext(ctx)
	if err != nil {
		return q.handle(err)
	}
	return q.requireAffected(res)
}

func (q *queries) DeleteDocument(ctx context.Context, id string) error {
	res, err := q.stbl.
		Delete("documents").
		Where(sq.Eq{"id": id}).
		ExecContext(ctx)
	if err != nil {
		return q.handle(err)
	}
	return q.requireAffected(res)
}

func (q *queries) DeleteCollection(ctx context.Context, id string) error {
	res, err := q.stbl.
		Delete("collections").
		Where(sq.Eq{"id": id}).
		ExecContext(ctx)
	if err != nil {
		return q.handle(err)
	}
	return q.requireAffected(res)
}

func (q *queries) requireAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return q.handle(err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (q *queries) scanMembership(kind access.PrincipalKind, row sq.RowScanner) (*access.Membership, error) {
	var m access.Membership
	var principalID string
	var resourceKind string
	var sourceID sql.NullString
	if err := row.Scan(
		&m.ID,
		&principalID,
		&resourceKind,
		&m.Resource.ID,
		&m.CollectionID,
		&m.Permission,
		&sourceID,
		&m.CreatedByID,
		&m.CreatedAt,
		&m.UpdatedAt,
	); err != nil {
		return nil, q.handle(err)
	}
	m.Principal = access.Principal{Kind: kind, ID: principalID}
	m.Resource.Kind = access.ResourceKind(resourceKind)
	m.SourceID = sourceID.String
	return &m, nil
}

func (q *queries) membershipQuery(kind access.PrincipalKind, pred sq.Eq) sq.SelectBuilder {
	return q.stbl.
		Select(membershipColumns(kind)...).
		From(membershipTable(kind)).
		Where(pred)
}

func (q *queries) GetMembership(ctx context.Context, principal access.Principal, resource access.Resource) (*access.Membership, error) {
	sb := q.membershipQuery(principal.Kind, sq.Eq{
		principalColumn(principal.Kind): principal.ID,
		"resource_kind":                 string(resource.Kind),
		"resource_id":                   resource.ID,
	})
	return q.scanMembership(principal.Kind, sb.QueryRowContext(ctx))
}

func (q *queries) GetMembershipForUpdate(ctx context.Context, principal access.Principal, resource access.Resource) (*access.Membership, error) {
	sb := q.membershipQuery(principal.Kind, sq.Eq{
		principalColumn(principal.Kind): principal.ID,
		"resource_kind":                 string(resource.Kind),
		"resource_id":                   resource.ID,
	})
	if q.rowLocks {
		sb = sb.Suffix("FOR UPDATE")
	}
	return q.scanMembership(principal.Kind, sb.QueryRowContext(ctx))
}

func (q *queries) GetMembershipByID(ctx context.Context, kind access.PrincipalKind, id string) (*access.Membership, error) {
	sb := q.membershipQuery(kind, sq.Eq{"id": id})
	return q.scanMembership(kind, sb.QueryRowContext(ctx))
}

func (q *queries) listMemberships(ctx context.Context, kind access.PrincipalKind, sb sq.SelectBuilder) ([]*access.Membership, error) {
	rows, err := sb.OrderBy("id").QueryContext(ctx)
	if err != nil {
		return nil, q.handle(err)
	}
	defer rows.Close()

	var out []*access.Membership
	for rows.Next() {
		m, err := q.scanMembership(kind, rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, q.handle(err)
	}
	return out, nil
}

func (q *queries) ListMemberships(ctx context.Context, kind access.PrincipalKind, resource access.Resource) ([]*access.Membership, error) {
	return q.listMemberships(ctx, kind, q.membershipQuery(kind, sq.Eq{
		"resource_kind": string(resource.Kind),
		"resource_id":   resource.ID,
	}))
}

func (q *queries) ListRootMemberships(ctx context.Context, kind access.PrincipalKind, resource access.Resource) ([]*access.Membership, error) {
	return q.listMemberships(ctx, kind, q.membershipQuery(kind, sq.Eq{
		"resource_kind": string(resource.Kind),
		"resource_id":   resource.ID,
		"source_id":     nil,
	}))
}

func (q *queries) ListMembershipsBySource(ctx context.Context, kind access.PrincipalKind, sourceID string) ([]*access.Membership, error) {
	return q.listMemberships(ctx, kind, q.membershipQuery(kind, sq.Eq{
		"source_id": sourceID,
	}))
}

func (q *queries) InsertMembership(ctx context.Context, membership *access.Membership) error {
	now := time.Now().UTC()
	if membership.CreatedAt.IsZero() {
		membership.CreatedAt = now
	}
	membership.UpdatedAt = now

	_, err := q.stbl.
		Insert(membershipTable(membership.Principal.Kind)).
		Columns(membershipColumns(membership.Principal.Kind)...).
		Values(
			membership.ID,
			membership.Principal.ID,
			string(membership.Resource.Kind),
			membership.Resource.ID,
			membership.CollectionID,
			string(membership.Permission),
			nullString(membership.SourceID),
			membership.CreatedByID,
			membership.CreatedAt,
			membership.UpdatedAt,
		).
		ExecContext(ctx)
	if err != nil {
		err = q.handle(err)
		if errors.Is(err, storage.ErrCollision) {
			return storage.MembershipCollisionError(membership.Principal, membership.Resource)
		}
		return err
	}
	return nil
}

func (q *queries) UpdateMembership(ctx context.Context, membership *access.Membership) error {
	membership.UpdatedAt = time.Now().UTC()

	res, err := q.stbl.
		Update(membershipTable(membership.Principal.Kind)).
		Set("permission", string(membership.Permission)).
		Set("source_id", nullString(membership.SourceID)).
		Set("collection_id", membership.CollectionID).
		Set("updated_at", membership.UpdatedAt).
		Where(sq.Eq{"id": membership.ID}).
		ExecContext(ctx)
	if err != nil {
		return q.handle(err)
	}
	return q.requireAffected(res)
}

func (q *queries) DeleteMembership(ctx context.Context, kind access.PrincipalKind, id string) error {
	res, err := q.stbl.
		Delete(membershipTable(kind)).
		Where(sq.Eq{"id": id}).
		ExecContext(ctx)
	if err != nil {
		return q.handle(err)
	}
	return q.requireAffected(res)
}

func (q *queries) DeleteIfSourced(ctx context.Context, principal access.Principal, resource access.Resource, expectedSourceID string) (bool, error) {
	res, err := q.stbl.
		Delete(membershipTable(principal.Kind)).
		Where(sq.Eq{
			principalColumn(principal.Kind): principal.ID,
			"resource_kind":                 string(resource.Kind),
			"resource_id":                   resource.ID,
			"source_id":                     expectedSourceID,
		}).
		ExecContext(ctx)
	if err != nil {
		return false, q.handle(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, q.handle(err)
	}
	return affected > 0, nil
}

func (q *queries) DeleteMembershipsOnResource(ctx context.Context, kind access.PrincipalKind, resource access.Resource) (int, error) {
	res, err := q.stbl.
		Delete(membershipTable(kind)).
		Where(sq.Eq{
			"resource_kind": string(resource.Kind),
			"resource_id":   resource.ID,
		}).
		ExecContext(ctx)
	if err != nil {
		return 0, q.handle(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, q.handle(err)
	}
	return int(affected), nil
}

func (q *queries) scanAccessRequest(row sq.RowScanner) (*access.AccessRequest, error) {
	var r access.AccessRequest
	var requesterKind, resourceKind string
	var requestedPermission, responderID, grantedPermission sql.NullString
	var respondedAt sql.NullTime
	if err := row.Scan(
		&r.ID,
		&requesterKind,
		&r.Requester.ID,
		&resourceKind,
		&r.Resource.ID,
		&requestedPermission,
		&r.Status,
		&responderID,
		&respondedAt,
		&grantedPermission,
		&r.CreatedAt,
		&r.UpdatedAt,
	); err != nil {
		return nil, q.handle(err)
	}
	r.Requester.Kind = access.PrincipalKind(requesterKind)
	r.Resource.Kind = access.ResourceKind(resourceKind)
	r.RequestedPermission = access.Permission(requestedPermission.String)
	r.ResponderID = responderID.String
	r.RespondedAt = respondedAt.Time
	r.GrantedPermission = access.Permission(grantedPermission.String)
	return &r, nil
}

func (q *queries) accessRequestQuery(pred sq.Eq) sq.SelectBuilder {
	return q.stbl.
		Select(accessRequestColumns...).
		From("access_requests").
		Where(pred)
}

func (q *queries) GetAccessRequest(ctx context.Context, id string) (*access.AccessRequest, error) {
	return q.scanAccessRequest(q.accessRequestQuery(sq.Eq{"id": id}).QueryRowContext(ctx))
}

func (q *queries) GetAccessRequestForUpdate(ctx context.Context, id string) (*access.AccessRequest, error) {
	sb := q.accessRequestQuery(sq.Eq{"id": id})
	if q.rowLocks {
		sb = sb.Suffix("FOR UPDATE")
	}
	return q.scanAccessRequest(sb.QueryRowContext(ctx))
}

func (q *queries) FindPendingAccessRequest(ctx context.Context, requester access.Principal, resource access.Resource) (*access.AccessRequest, error) {
	sb := q.accessRequestQuery(sq.Eq{
		"requester_kind": string(requester.Kind),
		"requester_id":   requester.ID,
		"resource_kind":  string(resource.Kind),
		"resource_id":    resource.ID,
		"status":         string(access.AccessRequestPending),
	})
	return q.scanAccessRequest(sb.QueryRowContext(ctx))
}

func (q *queries) InsertAccessRequest(ctx context.Context, request *access.AccessRequest) error {
	now := time.Now().UTC()
	if request.CreatedAt.IsZero() {
		request.CreatedAt = now
	}
	request.UpdatedAt = now

	_, err := q.stbl.
		Insert("access_requests").
		Columns(accessRequestColumns...).
		Values(
			request.ID,
			string(request.Requester.Kind),
			request.Requester.ID,
			string(request.Resource.Kind),
			request.Resource.ID,
			nullString(string(request.RequestedPermission)),
			string(request.Status),
			nullString(request.ResponderID),
			nullTime(request.RespondedAt),
			nullString(string(request.GrantedPermission)),
			request.CreatedAt,
			request.UpdatedAt,
		).
		ExecContext(ctx)
	if err != nil {
		return q.handle(err)
	}
	return nil
}

func (q *queries) UpdateAccessRequest(ctx context.Context, request *access.AccessRequest) error {
	request.UpdatedAt = time.Now().UTC()

	res, err := q.stbl.
		Update("access_requests").
		Set("status", string(request.Status)).
		Set("responder_id", nullString(request.ResponderID)).
		Set("responded_at", nullTime(request.RespondedAt)).
		Set("granted_permission", nullString(string(request.GrantedPermission))).
		Set("updated_at", request.UpdatedAt).
		Where(sq.Eq{"id": request.ID}).
		ExecContext(ctx)
	if err != nil {
		return q.handle(err)
	}
	return q.requireAffected(res)
}

func (q *queries) DeleteAccessRequestsOnResource(ctx context.Context, resource access.Resource) (int, error) {
	res, err := q.stbl.
		Delete("access_requests").
		Where(sq.Eq{
			"resource_kind": string(resource.Kind),
			"resource_id":   resource.ID,
		}).
		ExecContext(ctx)
	if err != nil {
		return 0, q.handle(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, q.handle(err)
	}
	return int(affected), nil
}

func nullTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}
