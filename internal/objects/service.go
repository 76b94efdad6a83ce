// Package objects implements the object service: validated creation and
// mutation of register objects, advisory locking, soft deletion, revert
// through the audit trail, and filtered listing. Every mutation runs inside
// one transaction together with its audit entry; lifecycle events are
// published after commit.
package objects

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/openregister/openregister/internal/audit"
	"github.com/openregister/openregister/internal/auth"
	"github.com/openregister/openregister/internal/db/models"
	"github.com/openregister/openregister/internal/db/repositories"
	"github.com/openregister/openregister/internal/events"
	"github.com/openregister/openregister/internal/telemetry"
	"github.com/openregister/openregister/internal/validation"
)

// ObjectStore persists objects. Implemented by repositories.ObjectRepository.
type ObjectStore interface {
	CreateObject(ctx context.Context, o *models.ObjectEntity) error
	GetObject(ctx context.Context, uuid string) (*models.ObjectEntity, error)
	GetObjectForUpdate(ctx context.Context, uuid string) (*models.ObjectEntity, error)
	UpdateObject(ctx context.Context, o *models.ObjectEntity) error
	AcquireLock(ctx context.Context, uuid string, lock models.Lock, now time.Time) (bool, error)
	ClearLock(ctx context.Context, uuid string) error
	CountObjects(ctx context.Context, f repositories.ObjectFilter) (int, error)
	ListObjects(ctx context.Context, f repositories.ObjectFilter, order []repositories.SortField, limit, offset int) ([]*models.ObjectEntity, error)
}

// AuditStore reads audit trails. Implemented by repositories.AuditTrailRepository.
type AuditStore interface {
	GetAuditTrail(ctx context.Context, id int64) (*models.AuditTrail, error)
	ListAuditTrailsAfter(ctx context.Context, objectUUID string, afterID int64) ([]*models.AuditTrail, error)
	ListAuditTrails(ctx context.Context, filters repositories.AuditTrailFilters, limit, offset int) ([]*models.AuditTrail, int, error)
}

// Transactor runs fn inside a transaction carried by ctx
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Registry resolves registers and schemas by UUID or slug. It returns
// (nil, nil) when nothing matches.
type Registry interface {
	GetRegister(ctx context.Context, ref string) (*models.Register, error)
	GetSchema(ctx context.Context, ref string) (*models.Schema, error)
}

// Validator checks an object against a schema
type Validator interface {
	Validate(ctx context.Context, object map[string]any, schema *models.Schema) (*validation.Result, error)
}

// Config holds object service settings
type Config struct {
	DefaultLockTTL  time.Duration `mapstructure:"default_lock_ttl"`
	MaxLockTTL      time.Duration `mapstructure:"max_lock_ttl"`
	DeleteRetention time.Duration `mapstructure:"delete_retention"`
}

// Deps bundles the collaborators of the service
type Deps struct {
	Objects   ObjectStore
	Audits    AuditStore
	Tx        Transactor
	Registry  Registry
	Validator Validator
	Recorder  *audit.Recorder
	Publisher events.Publisher
}

// Service implements the object operations
type Service struct {
	objects   ObjectStore
	audits    AuditStore
	tx        Transactor
	registry  Registry
	validator Validator
	recorder  *audit.Recorder
	publisher events.Publisher
	cfg       Config
	now       func() time.Time
}

// NewService creates an object service
func NewService(deps Deps, cfg Config) *Service {
	if cfg.DefaultLockTTL <= 0 {
		cfg.DefaultLockTTL = time.Hour
	}
	publisher := deps.Publisher
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &Service{
		objects:   deps.Objects,
		audits:    deps.Audits,
		tx:        deps.Tx,
		registry:  deps.Registry,
		validator: deps.Validator,
		recorder:  deps.Recorder,
		publisher: publisher,
		cfg:       cfg,
		now:       time.Now,
	}
}

// WithClock replaces the time source; used by tests to simulate time
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Ref addresses an object. Register and Schema are optional; when set they
// must match the object's register and schema (UUID or slug).
type Ref struct {
	Register string
	Schema   string
	ID       string
}

// Input carries the caller-supplied part of an object. Nil metadata fields are
// left unchanged on update.
type Input struct {
	UUID          string
	Object        map[string]any
	Owner         *string
	Organisation  *string
	Folder        *string
	Files         models.FileRefs
	Published     *time.Time
	Authorization models.Authorization
}

// Result is a persisted object plus the warnings of soft validation
type Result struct {
	Object   *models.ObjectEntity
	Warnings []validation.FieldError
}

// Create validates and stores a new object in register under schema
func (s *Service) Create(ctx context.Context, register, schema string, in Input, actor auth.Actor) (*Result, error) {
	if in.Object == nil {
		return nil, invalidInput("object payload is required")
	}
	reg, sch, err := s.resolve(ctx, register, schema)
	if err != nil {
		return nil, err
	}
	if err := authorize(actor, actionCreate, reg, sch, nil); err != nil {
		return nil, err
	}
	warnings, err := s.validate(ctx, in.Object, sch)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	obj := &models.ObjectEntity{
		UUID:          in.UUID,
		Version:       validation.InitialVersion,
		Register:      reg.UUID,
		Schema:        sch.UUID,
		Object:        cloneMap(in.Object),
		Owner:         in.Owner,
		Organisation:  in.Organisation,
		Folder:        in.Folder,
		Files:         in.Files,
		Published:     in.Published,
		Authorization: in.Authorization,
		Created:       now,
		Updated:       now,
	}
	if obj.UUID == "" {
		obj.UUID = uuid.NewString()
	} else if _, err := uuid.Parse(obj.UUID); err != nil {
		return nil, invalidInput("uuid %q is not a valid UUID", obj.UUID)
	}
	if obj.Owner == nil && actor.UserID != "" {
		owner := actor.UserID
		obj.Owner = &owner
	}
	refresh(obj, sch)

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		existing, err := s.objects.GetObject(ctx, obj.UUID)
		if err != nil {
			return storeErr("check object", err)
		}
		if existing != nil {
			return fmt.Errorf("%s: %w", obj.UUID, ErrAlreadyExists)
		}
		if err := s.objects.CreateObject(ctx, obj); err != nil {
			return storeErr("create object", err)
		}
		_, err = s.recorder.Record(ctx, audit.Entry{
			Action:     models.ActionCreate,
			ObjectUUID: obj.UUID,
			Version:    obj.Version,
			After:      obj.Object,
			Register:   reg,
			Schema:     sch,
		}, actor)
		return storeErr("record audit trail", err)
	})
	if err != nil {
		return nil, err
	}

	s.committed(ctx, models.ActionCreate, obj, actor, nil)
	return &Result{Object: Redact(obj, actor), Warnings: warnings}, nil
}

// Update replaces the object payload of ref with in.Object
func (s *Service) Update(ctx context.Context, ref Ref, in Input, actor auth.Actor) (*Result, error) {
	if in.Object == nil {
		return nil, invalidInput("object payload is required")
	}
	return s.mutate(ctx, ref, actor, models.ActionUpdate, func(_ context.Context, obj *models.ObjectEntity) (map[string]any, error) {
		applyMetadata(obj, in)
		return cloneMap(in.Object), nil
	})
}

// Patch merges in.Object into the stored payload using JSON merge patch
// semantics: null removes a key, objects merge recursively, anything else replaces.
func (s *Service) Patch(ctx context.Context, ref Ref, in Input, actor auth.Actor) (*Result, error) {
	return s.mutate(ctx, ref, actor, models.ActionUpdate, func(_ context.Context, obj *models.ObjectEntity) (map[string]any, error) {
		applyMetadata(obj, in)
		return mergePatch(cloneMap(obj.Object), in.Object), nil
	})
}

// Get returns one object. Soft-deleted objects are reported as not found
// unless includeDeleted is set.
func (s *Service) Get(ctx context.Context, ref Ref, actor auth.Actor, includeDeleted bool) (*models.ObjectEntity, error) {
	obj, err := s.objects.GetObject(ctx, ref.ID)
	if err != nil {
		return nil, storeErr("get object", err)
	}
	if obj == nil || (obj.IsDeleted() && !includeDeleted) {
		return nil, notFound("object", ref.ID)
	}
	reg, sch, err := s.scope(ctx, obj, ref)
	if err != nil {
		return nil, err
	}
	if err := authorize(actor, actionRead, reg, sch, obj); err != nil {
		return nil, err
	}
	return Redact(obj, actor), nil
}

// Delete soft-deletes the object. It stays readable with includeDeleted until
// its purge date, after which the purge job removes it.
func (s *Service) Delete(ctx context.Context, ref Ref, actor auth.Actor) error {
	var obj *models.ObjectEntity
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		obj, err = s.objects.GetObjectForUpdate(ctx, ref.ID)
		if err != nil {
			return storeErr("load object", err)
		}
		if obj == nil || obj.IsDeleted() {
			return notFound("object", ref.ID)
		}
		reg, sch, err := s.scope(ctx, obj, ref)
		if err != nil {
			return err
		}
		if err := authorize(actor, actionDelete, reg, sch, obj); err != nil {
			return err
		}
		now := s.now().UTC()
		if err := checkLock(obj, actor, now); err != nil {
			return err
		}

		if obj.Version, err = validation.BumpPatch(obj.Version); err != nil {
			return storeErr("bump version", err)
		}
		obj.Deleted = &models.Deletion{
			By:      actor.UserID,
			At:      now,
			PurgeAt: now.Add(s.deleteRetention(reg, sch)),
		}
		obj.Updated = now
		if err := s.objects.UpdateObject(ctx, obj); err != nil {
			return storeErr("delete object", err)
		}
		if obj.Locked != nil {
			if err := s.objects.ClearLock(ctx, obj.UUID); err != nil {
				return storeErr("clear lock", err)
			}
			obj.Locked = nil
		}
		_, err = s.recorder.Record(ctx, audit.Entry{
			Action:     models.ActionDelete,
			ObjectUUID: obj.UUID,
			Version:    obj.Version,
			Before:     obj.Object,
			Register:   reg,
			Schema:     sch,
		}, actor)
		return storeErr("record audit trail", err)
	})
	if err != nil {
		return err
	}
	s.committed(ctx, models.ActionDelete, obj, actor, map[string]any{"purgeAt": obj.Deleted.PurgeAt})
	return nil
}

// mutate runs the shared update pipeline: load under row lock, authorize,
// check the advisory lock, compute the new payload, validate, persist and
// record the audit entry against the pre-load snapshot.
func (s *Service) mutate(ctx context.Context, ref Ref, actor auth.Actor, action string, next func(ctx context.Context, obj *models.ObjectEntity) (map[string]any, error)) (*Result, error) {
	result := &Result{}
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		obj, err := s.objects.GetObjectForUpdate(ctx, ref.ID)
		if err != nil {
			return storeErr("load object", err)
		}
		if obj == nil || obj.IsDeleted() {
			return notFound("object", ref.ID)
		}
		reg, sch, err := s.scope(ctx, obj, ref)
		if err != nil {
			return err
		}
		if err := authorize(actor, actionUpdate, reg, sch, obj); err != nil {
			return err
		}
		now := s.now().UTC()
		if err := checkLock(obj, actor, now); err != nil {
			return err
		}

		before := cloneMap(obj.Object)
		after, err := next(ctx, obj)
		if err != nil {
			return err
		}
		if after == nil {
			after = map[string]any{}
		}
		warnings, err := s.validate(ctx, after, sch)
		if err != nil {
			return err
		}

		if obj.Version, err = validation.BumpPatch(obj.Version); err != nil {
			return storeErr("bump version", err)
		}
		obj.Object = after
		obj.Updated = now
		refresh(obj, sch)
		if err := s.objects.UpdateObject(ctx, obj); err != nil {
			return storeErr("update object", err)
		}
		if _, err := s.recorder.Record(ctx, audit.Entry{
			Action:     action,
			ObjectUUID: obj.UUID,
			Version:    obj.Version,
			Before:     before,
			After:      after,
			Register:   reg,
			Schema:     sch,
		}, actor); err != nil {
			return storeErr("record audit trail", err)
		}
		result.Object = obj
		result.Warnings = warnings
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.committed(ctx, action, result.Object, actor, nil)
	result.Object = Redact(result.Object, actor)
	return result, nil
}

// resolve looks up register and schema references and checks the register permits the schema
func (s *Service) resolve(ctx context.Context, register, schema string) (*models.Register, *models.Schema, error) {
	reg, err := s.registry.GetRegister(ctx, register)
	if err != nil {
		return nil, nil, storeErr("get register", err)
	}
	if reg == nil || reg.IsDeleted() {
		return nil, nil, notFound("register", register)
	}
	sch, err := s.registry.GetSchema(ctx, schema)
	if err != nil {
		return nil, nil, storeErr("get schema", err)
	}
	if sch == nil || sch.Deleted != nil {
		return nil, nil, notFound("schema", schema)
	}
	if !reg.HasSchema(sch.UUID) {
		return nil, nil, fmt.Errorf("schema %q in register %q: %w", schema, register, ErrNotFound)
	}
	return reg, sch, nil
}

// scope loads the register and schema of a stored object and checks them
// against the optional references in ref.
func (s *Service) scope(ctx context.Context, obj *models.ObjectEntity, ref Ref) (*models.Register, *models.Schema, error) {
	reg, err := s.registry.GetRegister(ctx, obj.Register)
	if err != nil {
		return nil, nil, storeErr("get register", err)
	}
	sch, err := s.registry.GetSchema(ctx, obj.Schema)
	if err != nil {
		return nil, nil, storeErr("get schema", err)
	}
	if reg == nil || sch == nil {
		return nil, nil, notFound("object", ref.ID)
	}
	if ref.Register != "" && ref.Register != reg.UUID && ref.Register != reg.Slug {
		return nil, nil, notFound("object", ref.ID)
	}
	if ref.Schema != "" && ref.Schema != sch.UUID && ref.Schema != sch.Slug {
		return nil, nil, notFound("object", ref.ID)
	}
	return reg, sch, nil
}

func (s *Service) validate(ctx context.Context, object map[string]any, sch *models.Schema) ([]validation.FieldError, error) {
	res, err := s.validator.Validate(ctx, object, sch)
	if err != nil {
		return nil, storeErr("validate object", err)
	}
	if !res.Valid {
		telemetry.ValidationFailuresTotal.WithLabelValues(sch.Slug).Inc()
		return nil, &ValidationError{Errors: res.Errors}
	}
	return res.Warnings, nil
}

func (s *Service) deleteRetention(reg *models.Register, sch *models.Schema) time.Duration {
	if d, ok := models.ConfigDuration(sch.Configuration, models.ConfigDeleteRetention); ok {
		return d
	}
	if d, ok := models.ConfigDuration(reg.Configuration, models.ConfigDeleteRetention); ok {
		return d
	}
	return s.cfg.DeleteRetention
}

// committed runs the post-commit side effects of a mutation
func (s *Service) committed(ctx context.Context, action string, obj *models.ObjectEntity, actor auth.Actor, data map[string]any) {
	telemetry.ObjectMutationsTotal.WithLabelValues(action).Inc()

	event := &events.Event{
		ID:           uuid.NewString(),
		Type:         eventTypes[action],
		Timestamp:    s.now().UTC(),
		ObjectUUID:   obj.UUID,
		RegisterUUID: obj.Register,
		SchemaUUID:   obj.Schema,
		Version:      obj.Version,
		UserID:       actor.UserID,
		RequestID:    actor.RequestID,
		Data:         data,
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		slog.Error("failed to publish object event", "type", event.Type, "object", obj.UUID, "error", err)
	}
}

var eventTypes = map[string]string{
	models.ActionCreate: events.TypeObjectCreated,
	models.ActionUpdate: events.TypeObjectUpdated,
	models.ActionDelete: events.TypeObjectDeleted,
	models.ActionRevert: events.TypeObjectReverted,
	models.ActionLock:   events.TypeObjectLocked,
	models.ActionUnlock: events.TypeObjectUnlocked,
}

func checkLock(obj *models.ObjectEntity, actor auth.Actor, now time.Time) error {
	if !obj.IsLockedFor(actor.UserID, now) {
		return nil
	}
	telemetry.LockConflictsTotal.Inc()
	return &LockConflictError{Holder: obj.Locked.User, ExpiresAt: obj.Locked.ExpiresAt}
}

func applyMetadata(obj *models.ObjectEntity, in Input) {
	if in.Owner != nil {
		obj.Owner = in.Owner
	}
	if in.Organisation != nil {
		obj.Organisation = in.Organisation
	}
	if in.Folder != nil {
		obj.Folder = in.Folder
	}
	if in.Files != nil {
		obj.Files = in.Files
	}
	if in.Published != nil {
		obj.Published = in.Published
	}
	if in.Authorization != nil {
		obj.Authorization = in.Authorization
	}
}

// Redact hides the lock token from everyone but the lock holder
func Redact(obj *models.ObjectEntity, actor auth.Actor) *models.ObjectEntity {
	if obj == nil || obj.Locked == nil || obj.Locked.User == actor.UserID {
		return obj
	}
	out := *obj
	lock := *obj.Locked
	lock.Token = ""
	out.Locked = &lock
	return &out
}
