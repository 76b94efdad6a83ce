// object_repository.go implements ObjectRepository: persistence of register objects in a
// JSONB column, the atomic lock acquisition, soft-delete bookkeeping and the filtered
// count/list/field-value queries the search engine is built on.
package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/openregister/openregister/internal/db/models"
)

// ErrUnknownField is returned when a filter or sort names a metadata field that does not exist
var ErrUnknownField = errors.New("unknown metadata field")

// metadataColumns maps @self field names to SQL expressions
var metadataColumns = map[string]string{
	"uuid":         "uuid::text",
	"register":     "register_uuid::text",
	"schema":       "schema_uuid::text",
	"version":      "version",
	"owner":        "owner",
	"organisation": "organisation",
	"folder":       "folder",
	"size":         "size",
	"published":    "published",
	"created":      "created",
	"updated":      "updated",
	"deleted":      "deleted_at",
}

// MetadataFields returns the @self field names understood by filters and sorting
func MetadataFields() []string {
	out := make([]string, 0, len(metadataColumns))
	for k := range metadataColumns {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// ObjectFilter selects objects. Values within one key are alternatives; keys combine with AND.
type ObjectFilter struct {
	Register       string
	Schema         string
	UUIDs          []string
	Metadata       map[string][]string // @self field -> accepted values
	Fields         map[string][]string // dotted object path -> accepted values
	Search         string              // substring of the text representation
	IncludeDeleted bool
	// Reader limits results to objects the reader may read; nil for no limit
	Reader *ReadAccess
}

// ReadAccess is the identity of a non-elevated reader. An object is readable
// when its authorization has no "read" entry, when the entry lists "public" or
// one of Groups, or when UserID owns it.
type ReadAccess struct {
	UserID string
	Groups []string
}

// Permits reports whether the reader may read o. It mirrors the SQL predicate
// applied by buildObjectWhere.
func (a *ReadAccess) Permits(o *models.ObjectEntity) bool {
	if a == nil {
		return true
	}
	if a.UserID != "" && o.Owner != nil && *o.Owner == a.UserID {
		return true
	}
	return o.Authorization.Allows("read", a.Groups)
}

func (a *ReadAccess) clause(args *sqlArgs) string {
	groups := append([]string{"public"}, a.Groups...)
	parts := []string{
		`NOT jsonb_exists("authorization", 'read')`,
		`jsonb_exists_any("authorization"->'read', ` + args.next(pq.Array(groups)) + `)`,
	}
	if a.UserID != "" {
		parts = append(parts, "owner = "+args.next(a.UserID))
	}
	return "(" + strings.Join(parts, " OR ") + ")"
}

// SortField orders a listing by a metadata column or an object path
type SortField struct {
	Field    string
	Metadata bool
	Desc     bool
}

const objectColumns = `id, uuid, version, register_uuid, schema_uuid, object, text_representation,
	owner, organisation, lock_user, lock_token, lock_process, lock_expires_at, "authorization",
	folder, files, size, published, deleted_by, deleted_at, purge_at, created, updated`

type objectRow struct {
	ID                 int64                `db:"id"`
	UUID               string               `db:"uuid"`
	Version            string               `db:"version"`
	RegisterUUID       string               `db:"register_uuid"`
	SchemaUUID         string               `db:"schema_uuid"`
	Object             models.JSONMap       `db:"object"`
	TextRepresentation string               `db:"text_representation"`
	Owner              *string              `db:"owner"`
	Organisation       *string              `db:"organisation"`
	LockUser           *string              `db:"lock_user"`
	LockToken          *string              `db:"lock_token"`
	LockProcess        *string              `db:"lock_process"`
	LockExpiresAt      *time.Time           `db:"lock_expires_at"`
	Authorization      models.Authorization `db:"authorization"`
	Folder             *string              `db:"folder"`
	Files              models.FileRefs      `db:"files"`
	Size               int64                `db:"size"`
	Published          *time.Time           `db:"published"`
	DeletedBy          *string              `db:"deleted_by"`
	DeletedAt          *time.Time           `db:"deleted_at"`
	PurgeAt            *time.Time           `db:"purge_at"`
	Created            time.Time            `db:"created"`
	Updated            time.Time            `db:"updated"`
}

func (r *objectRow) entity() *models.ObjectEntity {
	o := &models.ObjectEntity{
		ID:                 r.ID,
		UUID:               r.UUID,
		Version:            r.Version,
		Register:           r.RegisterUUID,
		Schema:             r.SchemaUUID,
		Object:             r.Object,
		TextRepresentation: r.TextRepresentation,
		Owner:              r.Owner,
		Organisation:       r.Organisation,
		Authorization:      r.Authorization,
		Folder:             r.Folder,
		Files:              r.Files,
		Size:               r.Size,
		Published:          r.Published,
		Created:            r.Created,
		Updated:            r.Updated,
	}
	if o.Object == nil {
		o.Object = models.JSONMap{}
	}
	if r.LockToken != nil && r.LockExpiresAt != nil {
		o.Locked = &models.Lock{
			User:      deref(r.LockUser),
			Token:     *r.LockToken,
			Process:   r.LockProcess,
			ExpiresAt: *r.LockExpiresAt,
		}
	}
	if r.DeletedAt != nil {
		o.Deleted = &models.Deletion{By: deref(r.DeletedBy), At: *r.DeletedAt}
		if r.PurgeAt != nil {
			o.Deleted.PurgeAt = *r.PurgeAt
		}
	}
	return o
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// ObjectRepository handles object database operations
type ObjectRepository struct {
	db *sqlx.DB
}

// NewObjectRepository creates a new object repository
func NewObjectRepository(db *sqlx.DB) *ObjectRepository {
	return &ObjectRepository{db: db}
}

// CreateObject inserts o and sets its ID
func (r *ObjectRepository) CreateObject(ctx context.Context, o *models.ObjectEntity) error {
	var deletedBy *string
	var deletedAt, purgeAt *time.Time
	if o.Deleted != nil {
		deletedBy, deletedAt, purgeAt = &o.Deleted.By, &o.Deleted.At, &o.Deleted.PurgeAt
	}

	query := `
		INSERT INTO objects (
			uuid, version, register_uuid, schema_uuid, object, text_representation,
			owner, organisation, "authorization", folder, files, size, published,
			deleted_by, deleted_at, purge_at, created, updated
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		RETURNING id`

	err := conn(ctx, r.db).QueryRowxContext(ctx, query,
		o.UUID, o.Version, o.Register, o.Schema, o.Object, o.TextRepresentation,
		o.Owner, o.Organisation, o.Authorization, o.Folder, o.Files, o.Size, o.Published,
		deletedBy, deletedAt, purgeAt, o.Created, o.Updated,
	).Scan(&o.ID)
	if err != nil {
		return fmt.Errorf("failed to insert object: %w", err)
	}
	return nil
}

// GetObject retrieves an object by UUID, including soft-deleted ones. Returns (nil, nil) when absent.
func (r *ObjectRepository) GetObject(ctx context.Context, uuid string) (*models.ObjectEntity, error) {
	return r.get(ctx, `SELECT `+objectColumns+` FROM objects WHERE uuid = $1`, uuid)
}

// GetObjectForUpdate is GetObject with a row lock held until the surrounding
// transaction ends. Outside a transaction it behaves like GetObject.
func (r *ObjectRepository) GetObjectForUpdate(ctx context.Context, uuid string) (*models.ObjectEntity, error) {
	if !InTx(ctx) {
		return r.GetObject(ctx, uuid)
	}
	return r.get(ctx, `SELECT `+objectColumns+` FROM objects WHERE uuid = $1 FOR UPDATE`, uuid)
}

func (r *ObjectRepository) get(ctx context.Context, query string, args ...any) (*models.ObjectEntity, error) {
	var row objectRow
	err := conn(ctx, r.db).GetContext(ctx, &row, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get object: %w", err)
	}
	return row.entity(), nil
}

// UpdateObject persists the mutable fields of o. Lock columns are managed
// exclusively by AcquireLock/ClearLock.
func (r *ObjectRepository) UpdateObject(ctx context.Context, o *models.ObjectEntity) error {
	var deletedBy *string
	var deletedAt, purgeAt *time.Time
	if o.Deleted != nil {
		deletedBy, deletedAt, purgeAt = &o.Deleted.By, &o.Deleted.At, &o.Deleted.PurgeAt
	}

	query := `
		UPDATE objects SET
			version = $2, object = $3, text_representation = $4,
			owner = $5, organisation = $6, "authorization" = $7, folder = $8,
			files = $9, size = $10, published = $11,
			deleted_by = $12, deleted_at = $13, purge_at = $14, updated = $15
		WHERE uuid = $1`

	res, err := conn(ctx, r.db).ExecContext(ctx, query,
		o.UUID, o.Version, o.Object, o.TextRepresentation,
		o.Owner, o.Organisation, o.Authorization, o.Folder,
		o.Files, o.Size, o.Published,
		deletedBy, deletedAt, purgeAt, o.Updated,
	)
	if err != nil {
		return fmt.Errorf("failed to update object: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("failed to update object %s: %w", o.UUID, sql.ErrNoRows)
	}
	return nil
}

// AcquireLock sets lock on the object in a single conditional update. It
// succeeds only when the object is live and carries no lock, an expired lock,
// or a lock held by the same user. The boolean is false on conflict or when
// the object does not exist.
func (r *ObjectRepository) AcquireLock(ctx context.Context, uuid string, lock models.Lock, now time.Time) (bool, error) {
	query := `
		UPDATE objects SET
			lock_user = $2, lock_token = $3, lock_process = $4, lock_expires_at = $5
		WHERE uuid = $1
		  AND deleted_at IS NULL
		  AND (lock_token IS NULL OR lock_expires_at <= $6 OR lock_user = $2)`

	res, err := conn(ctx, r.db).ExecContext(ctx, query,
		uuid, lock.User, lock.Token, lock.Process, lock.ExpiresAt, now)
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock: %w", err)
	}
	return n == 1, nil
}

// ClearLock removes any lock from the object
func (r *ObjectRepository) ClearLock(ctx context.Context, uuid string) error {
	query := `
		UPDATE objects SET lock_user = NULL, lock_token = NULL, lock_process = NULL, lock_expires_at = NULL
		WHERE uuid = $1`
	if _, err := conn(ctx, r.db).ExecContext(ctx, query, uuid); err != nil {
		return fmt.Errorf("failed to clear lock: %w", err)
	}
	return nil
}

// ClearExpiredLocks removes locks whose expiry has passed; readers already treat them as absent
func (r *ObjectRepository) ClearExpiredLocks(ctx context.Context, now time.Time) (int64, error) {
	query := `
		UPDATE objects SET lock_user = NULL, lock_token = NULL, lock_process = NULL, lock_expires_at = NULL
		WHERE lock_token IS NOT NULL AND lock_expires_at <= $1`
	res, err := conn(ctx, r.db).ExecContext(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("failed to clear expired locks: %w", err)
	}
	return res.RowsAffected()
}

// PurgeDeleted hard-deletes up to limit soft-deleted objects whose purge date has passed
func (r *ObjectRepository) PurgeDeleted(ctx context.Context, now time.Time, limit int) (int64, error) {
	res, err := conn(ctx, r.db).ExecContext(ctx, `
		DELETE FROM objects WHERE id IN (
			SELECT id FROM objects WHERE deleted_at IS NOT NULL AND purge_at <= $1 ORDER BY id LIMIT $2
		)`, now, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to purge deleted objects: %w", err)
	}
	return res.RowsAffected()
}

// CountObjects counts objects matching f
func (r *ObjectRepository) CountObjects(ctx context.Context, f ObjectFilter) (int, error) {
	var args sqlArgs
	where, err := buildObjectWhere(f, &args)
	if err != nil {
		return 0, err
	}
	var total int
	if err := conn(ctx, r.db).GetContext(ctx, &total, `SELECT COUNT(*) FROM objects`+where, args...); err != nil {
		return 0, fmt.Errorf("failed to count objects: %w", err)
	}
	return total, nil
}

// ListObjects returns one page of objects matching f. Without an explicit
// order, objects are listed newest first; id always breaks ties.
func (r *ObjectRepository) ListObjects(ctx context.Context, f ObjectFilter, order []SortField, limit, offset int) ([]*models.ObjectEntity, error) {
	var args sqlArgs
	where, err := buildObjectWhere(f, &args)
	if err != nil {
		return nil, err
	}
	orderBy, err := buildOrderBy(order, &args)
	if err != nil {
		return nil, err
	}

	query := `SELECT ` + objectColumns + ` FROM objects` + where + orderBy +
		` LIMIT ` + args.next(limit) + ` OFFSET ` + args.next(offset)

	var rows []objectRow
	if err := conn(ctx, r.db).SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list objects: %w", err)
	}
	out := make([]*models.ObjectEntity, len(rows))
	for i := range rows {
		out[i] = rows[i].entity()
	}
	return out, nil
}

// MaxFacetValues caps the distinct values read for one facet
const MaxFacetValues = 10000

// ValueCount is one distinct field value and the number of matching objects
// holding it
type ValueCount struct {
	Value any
	Count int
}

// FieldValueCounts groups the objects matching f by the value of one field,
// most frequent first, and returns at most limit groups (MaxFacetValues when
// limit is not positive). Object paths yield
// decoded JSON; objects lacking the path are skipped. Metadata fields yield
// strings, numbers or times.
func (r *ObjectRepository) FieldValueCounts(ctx context.Context, f ObjectFilter, field string, metadata bool, limit int) ([]ValueCount, error) {
	var args sqlArgs
	var expr string
	if metadata {
		col, ok := metadataColumns[field]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownField, field)
		}
		expr = col
	} else {
		expr = `object #> ` + args.next(pq.Array(strings.Split(field, "."))) + `::text[]`
	}
	where, err := buildObjectWhere(f, &args)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = MaxFacetValues
	}

	rows, err := conn(ctx, r.db).QueryxContext(ctx,
		`SELECT `+expr+` AS value, COUNT(*) AS n FROM objects`+where+
			` GROUP BY 1 ORDER BY n DESC, 1 ASC LIMIT `+args.next(limit), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to read field values: %w", err)
	}
	defer rows.Close()

	var out []ValueCount
	for rows.Next() {
		var v any
		var n int
		if err := rows.Scan(&v, &n); err != nil {
			return nil, fmt.Errorf("failed to scan field value: %w", err)
		}
		if v == nil {
			continue
		}
		if b, ok := v.([]byte); ok {
			if metadata {
				v = string(b)
			} else {
				var decoded any
				if err := json.Unmarshal(b, &decoded); err != nil {
					return nil, fmt.Errorf("failed to decode field value: %w", err)
				}
				if decoded == nil {
					continue
				}
				v = decoded
			}
		}
		out = append(out, ValueCount{Value: v, Count: n})
	}
	return out, rows.Err()
}

// sqlArgs accumulates positional query arguments
type sqlArgs []any

func (a *sqlArgs) next(v any) string {
	*a = append(*a, v)
	return "$" + strconv.Itoa(len(*a))
}

func buildObjectWhere(f ObjectFilter, args *sqlArgs) (string, error) {
	var clauses []string
	if f.Register != "" {
		clauses = append(clauses, "register_uuid::text = "+args.next(f.Register))
	}
	if f.Schema != "" {
		clauses = append(clauses, "schema_uuid::text = "+args.next(f.Schema))
	}
	if len(f.UUIDs) > 0 {
		clauses = append(clauses, "uuid::text = ANY("+args.next(pq.Array(f.UUIDs))+")")
	}
	for _, key := range sortedKeys(f.Metadata) {
		col, ok := metadataColumns[key]
		if !ok {
			return "", fmt.Errorf("%w: %s", ErrUnknownField, key)
		}
		clauses = append(clauses, col+"::text = ANY("+args.next(pq.Array(f.Metadata[key]))+")")
	}
	for _, key := range sortedKeys(f.Fields) {
		path := args.next(pq.Array(strings.Split(key, ".")))
		clauses = append(clauses, "object #>> "+path+"::text[] = ANY("+args.next(pq.Array(f.Fields[key]))+")")
	}
	if f.Search != "" {
		clauses = append(clauses, "text_representation ILIKE "+args.next("%"+escapeLike(f.Search)+"%"))
	}
	if !f.IncludeDeleted {
		clauses = append(clauses, "deleted_at IS NULL")
	}
	if f.Reader != nil {
		clauses = append(clauses, f.Reader.clause(args))
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), nil
}

func buildOrderBy(order []SortField, args *sqlArgs) (string, error) {
	if len(order) == 0 {
		return " ORDER BY created DESC, id DESC", nil
	}
	parts := make([]string, 0, len(order)+1)
	for _, o := range order {
		var expr string
		if o.Metadata {
			col, ok := metadataColumns[o.Field]
			if !ok {
				return "", fmt.Errorf("%w: %s", ErrUnknownField, o.Field)
			}
			expr = col
		} else {
			expr = "object #> " + args.next(pq.Array(strings.Split(o.Field, "."))) + "::text[]"
		}
		if o.Desc {
			expr += " DESC"
		} else {
			expr += " ASC"
		}
		parts = append(parts, expr)
	}
	parts = append(parts, "id ASC")
	return " ORDER BY " + strings.Join(parts, ", "), nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func sortedKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
