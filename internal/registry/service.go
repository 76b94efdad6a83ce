// Package registry manages the definitions every object depends on: registers,
// schemas, sources and configurations. It owns their structural integrity
// (schema references must resolve, register schemas must exist), their version
// counters, and their portable OpenAPI form used for export and import.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/openregister/openregister/internal/auth"
	"github.com/openregister/openregister/internal/db/models"
	"github.com/openregister/openregister/internal/db/repositories"
	"github.com/openregister/openregister/internal/objects"
	"github.com/openregister/openregister/internal/storage"
	"github.com/openregister/openregister/internal/validation"
)

// RegisterStore persists registers. Implemented by repositories.RegisterRepository.
type RegisterStore interface {
	CreateRegister(ctx context.Context, reg *models.Register) error
	GetRegister(ctx context.Context, uuid string) (*models.Register, error)
	GetRegisterBySlug(ctx context.Context, slug string) (*models.Register, error)
	ListRegisters(ctx context.Context, includeDeleted bool) ([]*models.Register, error)
	ListRegistersUsingSchema(ctx context.Context, schemaUUID string) ([]*models.Register, error)
	UpdateRegister(ctx context.Context, reg *models.Register) error
}

// SchemaStore persists schemas. Implemented by repositories.SchemaRepository.
type SchemaStore interface {
	CreateSchema(ctx context.Context, s *models.Schema) error
	GetSchema(ctx context.Context, uuid string) (*models.Schema, error)
	GetSchemaBySlug(ctx context.Context, slug string) (*models.Schema, error)
	ListSchemas(ctx context.Context, includeDeleted bool) ([]*models.Schema, error)
	GetSchemasByUUIDs(ctx context.Context, uuids []string) ([]*models.Schema, error)
	UpdateSchema(ctx context.Context, s *models.Schema) error
}

// SourceStore persists sources. Implemented by repositories.SourceRepository.
type SourceStore interface {
	CreateSource(ctx context.Context, s *models.Source) error
	GetSource(ctx context.Context, uuid string) (*models.Source, error)
	ListSources(ctx context.Context) ([]*models.Source, error)
	UpdateSource(ctx context.Context, s *models.Source) error
	DeleteSource(ctx context.Context, uuid string) error
}

// ConfigurationStore persists configurations. Implemented by repositories.ConfigurationRepository.
type ConfigurationStore interface {
	CreateConfiguration(ctx context.Context, c *models.Configuration) error
	GetConfiguration(ctx context.Context, uuid string) (*models.Configuration, error)
	ListConfigurations(ctx context.Context) ([]*models.Configuration, error)
	UpdateConfiguration(ctx context.Context, c *models.Configuration) error
	DeleteConfiguration(ctx context.Context, uuid string) error
}

// ObjectCounter counts objects; used to refuse deleting definitions still in use
type ObjectCounter interface {
	CountObjects(ctx context.Context, f repositories.ObjectFilter) (int, error)
}

// Transactor runs fn inside a transaction carried by ctx
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// SchemaCache is a read-through cache for resolved schemas. Get returns
// (nil, nil) on a miss.
type SchemaCache interface {
	Get(ctx context.Context, ref string) (*models.Schema, error)
	Set(ctx context.Context, s *models.Schema) error
	Invalidate(ctx context.Context, s *models.Schema) error
}

// Deps bundles the collaborators of the service. Cache and Exports are optional.
type Deps struct {
	Registers      RegisterStore
	Schemas        SchemaStore
	Sources        SourceStore
	Configurations ConfigurationStore
	Objects        ObjectCounter
	Tx             Transactor
	Cache          SchemaCache
	Exports        storage.Storage
}

// Service implements the registry operations
type Service struct {
	registers      RegisterStore
	schemas        SchemaStore
	sources        SourceStore
	configurations ConfigurationStore
	objects        ObjectCounter
	tx             Transactor
	cache          SchemaCache
	exports        storage.Storage
	now            func() time.Time
}

// NewService creates a registry service
func NewService(deps Deps) *Service {
	return &Service{
		registers:      deps.Registers,
		schemas:        deps.Schemas,
		sources:        deps.Sources,
		configurations: deps.Configurations,
		objects:        deps.Objects,
		tx:             deps.Tx,
		cache:          deps.Cache,
		exports:        deps.Exports,
		now:            time.Now,
	}
}

// WithClock replaces the time source; used by tests
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// SchemaRefPrefix is the OpenAPI pointer form of a schema reference
const SchemaRefPrefix = "#/components/schemas/"

var slugInvalid = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify derives a URL-safe slug from a title
func Slugify(title string) string {
	return strings.Trim(slugInvalid.ReplaceAllString(strings.ToLower(title), "-"), "-")
}

func normalizeRef(ref string) string {
	return strings.TrimPrefix(strings.TrimSpace(ref), SchemaRefPrefix)
}

func isUUID(ref string) bool {
	_, err := uuid.Parse(ref)
	return err == nil
}

func notFound(what, id string) error {
	return fmt.Errorf("%s %q: %w", what, id, objects.ErrNotFound)
}

func invalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", objects.ErrInvalidInput, fmt.Sprintf(format, args...))
}

func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &objects.StoreError{Op: op, Err: err}
}

// requireIdentity refuses anonymous actors
func requireIdentity(actor auth.Actor, action, what string) error {
	if actor.Elevated || actor.UserID != "" {
		return nil
	}
	return fmt.Errorf("%s %s: %w", action, what, objects.ErrNotAuthorized)
}

// canManage decides whether actor may change a definition. Elevated actors and
// the owner always may; anyone else needs the action listed explicitly in the
// definition's authorization map. Unowned definitions are open to every
// authenticated actor.
func canManage(actor auth.Actor, owner *string, authz models.Authorization, action, what string) error {
	if err := requireIdentity(actor, action, what); err != nil {
		return err
	}
	if actor.Elevated || owner == nil || *owner == "" || *owner == actor.UserID {
		return nil
	}
	if _, listed := authz[action]; listed && authz.Allows(action, actor.Groups) {
		return nil
	}
	return fmt.Errorf("%s %s: %w", action, what, objects.ErrNotAuthorized)
}

// ---------------------------------------------------------------------------
// Lookup (objects.Registry and validation.SchemaResolver)
// ---------------------------------------------------------------------------

// GetRegister finds a live register by UUID or slug. Returns (nil, nil) when absent.
func (s *Service) GetRegister(ctx context.Context, ref string) (*models.Register, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, nil
	}
	var (
		reg *models.Register
		err error
	)
	if isUUID(ref) {
		reg, err = s.registers.GetRegister(ctx, ref)
	} else {
		reg, err = s.registers.GetRegisterBySlug(ctx, ref)
	}
	if err != nil {
		return nil, storeErr("get register", err)
	}
	if reg == nil || reg.IsDeleted() {
		return nil, nil
	}
	return reg, nil
}

// GetSchema finds a live schema by UUID, slug or "#/components/schemas/<slug>".
// Returns (nil, nil) when absent.
func (s *Service) GetSchema(ctx context.Context, ref string) (*models.Schema, error) {
	ref = normalizeRef(ref)
	if ref == "" {
		return nil, nil
	}

	if s.cache != nil {
		cached, err := s.cache.Get(ctx, ref)
		if err != nil {
			slog.Warn("schema cache read failed", "ref", ref, "error", err)
		} else if cached != nil {
			return cached, nil
		}
	}

	sch, err := s.lookupSchema(ctx, ref)
	if err != nil || sch == nil {
		return nil, err
	}

	// Writes inside a transaction may still roll back; only cache committed rows.
	if s.cache != nil && !repositories.InTx(ctx) {
		if err := s.cache.Set(ctx, sch); err != nil {
			slog.Warn("schema cache write failed", "schema", sch.UUID, "error", err)
		}
	}
	return sch, nil
}

// ResolveSchema implements validation.SchemaResolver
func (s *Service) ResolveSchema(ctx context.Context, ref string) (*models.Schema, error) {
	return s.GetSchema(ctx, ref)
}

// lookupSchema reads the store directly, bypassing the cache
func (s *Service) lookupSchema(ctx context.Context, ref string) (*models.Schema, error) {
	var (
		sch *models.Schema
		err error
	)
	if isUUID(ref) {
		sch, err = s.schemas.GetSchema(ctx, ref)
	} else {
		sch, err = s.schemas.GetSchemaBySlug(ctx, ref)
	}
	if err != nil {
		return nil, storeErr("get schema", err)
	}
	if sch == nil || sch.Deleted != nil {
		return nil, nil
	}
	return sch, nil
}

func (s *Service) invalidate(ctx context.Context, sch *models.Schema) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, sch); err != nil {
		slog.Warn("schema cache invalidation failed", "schema", sch.UUID, "error", err)
	}
}

// ---------------------------------------------------------------------------
// Registers
// ---------------------------------------------------------------------------

// RegisterInput carries the caller-supplied fields of a register. Update
// replaces every field; an empty Slug keeps the current one.
type RegisterInput struct {
	Title         string               `json:"title"`
	Slug          string               `json:"slug"`
	Description   *string              `json:"description"`
	Schemas       []string             `json:"schemas"`
	Source        *string              `json:"source"`
	Owner         *string              `json:"owner"`
	Organisation  *string              `json:"organisation"`
	Application   *string              `json:"application"`
	Folder        *string              `json:"folder"`
	Authorization models.Authorization `json:"authorization"`
	Configuration models.JSONMap       `json:"configuration"`
}

// ListRegisters lists registers ordered by title
func (s *Service) ListRegisters(ctx context.Context, includeDeleted bool) ([]*models.Register, error) {
	regs, err := s.registers.ListRegisters(ctx, includeDeleted)
	if err != nil {
		return nil, storeErr("list registers", err)
	}
	return regs, nil
}

// CreateRegister validates and stores a new register owned by actor unless
// the input names another owner
func (s *Service) CreateRegister(ctx context.Context, in RegisterInput, actor auth.Actor) (*models.Register, error) {
	if err := requireIdentity(actor, "create", "register"); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	reg := &models.Register{
		UUID:    uuid.NewString(),
		Version: validation.InitialVersion,
		Created: now,
		Updated: now,
	}
	applyRegisterInput(reg, in)
	if reg.Owner == nil && actor.UserID != "" {
		owner := actor.UserID
		reg.Owner = &owner
	}

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.checkRegister(ctx, reg); err != nil {
			return err
		}
		return storeErr("create register", s.registers.CreateRegister(ctx, reg))
	})
	if err != nil {
		return nil, err
	}
	return reg, nil
}

// UpdateRegister replaces the register's fields. The version is bumped when
// the set of permitted schemas changes.
func (s *Service) UpdateRegister(ctx context.Context, ref string, in RegisterInput, actor auth.Actor) (*models.Register, error) {
	var reg *models.Register
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		current, err := s.GetRegister(ctx, ref)
		if err != nil {
			return err
		}
		if current == nil {
			return notFound("register", ref)
		}
		if err := canManage(actor, current.Owner, current.Authorization, "update", "register "+current.Slug); err != nil {
			return err
		}

		next := *current
		if in.Owner == nil {
			in.Owner = current.Owner
		}
		if in.Slug == "" {
			in.Slug = current.Slug
		}
		applyRegisterInput(&next, in)
		if !sameSet(current.Schemas, next.Schemas) {
			v, err := validation.BumpPatch(current.Version)
			if err != nil {
				return invalidInput("register version: %v", err)
			}
			next.Version = v
		}
		next.Updated = s.now().UTC()

		if err := s.checkRegister(ctx, &next); err != nil {
			return err
		}
		if err := s.registers.UpdateRegister(ctx, &next); err != nil {
			return storeErr("update register", err)
		}
		reg = &next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return reg, nil
}

// DeleteRegister soft-deletes the register. A register still holding live
// objects cannot be deleted.
func (s *Service) DeleteRegister(ctx context.Context, ref string, actor auth.Actor) error {
	return s.tx.WithinTx(ctx, func(ctx context.Context) error {
		reg, err := s.GetRegister(ctx, ref)
		if err != nil {
			return err
		}
		if reg == nil {
			return notFound("register", ref)
		}
		if err := canManage(actor, reg.Owner, reg.Authorization, "delete", "register "+reg.Slug); err != nil {
			return err
		}
		if s.objects != nil {
			n, err := s.objects.CountObjects(ctx, repositories.ObjectFilter{Register: reg.UUID})
			if err != nil {
				return storeErr("count register objects", err)
			}
			if n > 0 {
				return invalidInput("register %q still holds %d objects", reg.Slug, n)
			}
		}

		now := s.now().UTC()
		reg.Deleted = &now
		reg.Updated = now
		return storeErr("delete register", s.registers.UpdateRegister(ctx, reg))
	})
}

func applyRegisterInput(reg *models.Register, in RegisterInput) {
	reg.Title = strings.TrimSpace(in.Title)
	reg.Slug = strings.TrimSpace(in.Slug)
	if reg.Slug == "" {
		reg.Slug = Slugify(reg.Title)
	}
	reg.Description = in.Description
	reg.Schemas = dedupe(in.Schemas)
	reg.Source = in.Source
	reg.Owner = in.Owner
	reg.Organisation = in.Organisation
	reg.Application = in.Application
	reg.Folder = in.Folder
	reg.Authorization = in.Authorization
	reg.Configuration = in.Configuration
}

// checkRegister verifies the structural integrity of reg: a title, a unique
// slug, existing live schemas and an existing source
func (s *Service) checkRegister(ctx context.Context, reg *models.Register) error {
	var problems []validation.FieldError
	if reg.Title == "" {
		problems = append(problems, validation.FieldError{Field: "title", Message: "title is required"})
	}
	if reg.Slug == "" {
		problems = append(problems, validation.FieldError{Field: "slug", Message: "slug is required"})
	} else if isUUID(reg.Slug) {
		problems = append(problems, validation.FieldError{Field: "slug", Message: "slug must not be a UUID"})
	} else {
		clash, err := s.registers.GetRegisterBySlug(ctx, reg.Slug)
		if err != nil {
			return storeErr("check register slug", err)
		}
		if clash != nil && clash.UUID != reg.UUID {
			return fmt.Errorf("register slug %q: %w", reg.Slug, objects.ErrAlreadyExists)
		}
	}

	if len(reg.Schemas) > 0 {
		found, err := s.schemas.GetSchemasByUUIDs(ctx, reg.Schemas)
		if err != nil {
			return storeErr("check register schemas", err)
		}
		live := make(map[string]bool, len(found))
		for _, sch := range found {
			if sch.Deleted == nil {
				live[sch.UUID] = true
			}
		}
		for i, id := range reg.Schemas {
			if !live[id] {
				problems = append(problems, validation.FieldError{
					Field:   fmt.Sprintf("schemas/%d", i),
					Message: fmt.Sprintf("schema %q does not exist", id),
				})
			}
		}
	}

	if reg.Source != nil && *reg.Source != "" && s.sources != nil {
		src, err := s.sources.GetSource(ctx, *reg.Source)
		if err != nil {
			return storeErr("check register source", err)
		}
		if src == nil {
			problems = append(problems, validation.FieldError{
				Field:   "source",
				Message: fmt.Sprintf("source %q does not exist", *reg.Source),
			})
		}
	}

	if len(problems) > 0 {
		return validationError(problems)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Schemas
// ---------------------------------------------------------------------------

// SchemaInput carries the caller-supplied fields of a schema. Update replaces
// every field; an empty Slug keeps the current one.
type SchemaInput struct {
	Title          string               `json:"title"`
	Slug           string               `json:"slug"`
	Description    *string              `json:"description"`
	Summary        *string              `json:"summary"`
	Required       []string             `json:"required"`
	Properties     map[string]any       `json:"properties"`
	HardValidation bool                 `json:"hardValidation"`
	MaxDepth       int                  `json:"maxDepth"`
	Configuration  models.JSONMap       `json:"configuration"`
	Authorization  models.Authorization `json:"authorization"`
	Icon           *string              `json:"icon"`
}

// ListSchemas lists schemas ordered by title
func (s *Service) ListSchemas(ctx context.Context, includeDeleted bool) ([]*models.Schema, error) {
	schemas, err := s.schemas.ListSchemas(ctx, includeDeleted)
	if err != nil {
		return nil, storeErr("list schemas", err)
	}
	return schemas, nil
}

// CreateSchema validates and stores a new schema
func (s *Service) CreateSchema(ctx context.Context, in SchemaInput, actor auth.Actor) (*models.Schema, error) {
	if err := requireIdentity(actor, "create", "schema"); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	sch := &models.Schema{
		UUID:    uuid.NewString(),
		Version: validation.InitialVersion,
		Created: now,
		Updated: now,
	}
	applySchemaInput(sch, in)

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.checkSchema(ctx, sch, true); err != nil {
			return err
		}
		return storeErr("create schema", s.schemas.CreateSchema(ctx, sch))
	})
	if err != nil {
		return nil, err
	}
	return sch, nil
}

// UpdateSchema replaces the schema's fields. A change to the validation
// contract (properties, required, hardValidation, maxDepth) bumps the patch
// version and archives the previous contract under its version.
func (s *Service) UpdateSchema(ctx context.Context, ref string, in SchemaInput, actor auth.Actor) (*models.Schema, error) {
	var (
		sch      *models.Schema
		previous *models.Schema
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		current, err := s.lookupSchema(ctx, normalizeRef(ref))
		if err != nil {
			return err
		}
		if current == nil {
			return notFound("schema", ref)
		}
		if err := canManage(actor, nil, current.Authorization, "update", "schema "+current.Slug); err != nil {
			return err
		}

		if in.Slug == "" {
			in.Slug = current.Slug
		}
		next, err := s.revise(current, in)
		if err != nil {
			return err
		}
		if err := s.checkSchema(ctx, next, true); err != nil {
			return err
		}
		if err := s.schemas.UpdateSchema(ctx, next); err != nil {
			return storeErr("update schema", err)
		}
		sch, previous = next, current
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, previous)
	if sch.Slug != previous.Slug {
		s.invalidate(ctx, sch)
	}
	return sch, nil
}

// DeleteSchema soft-deletes the schema. A schema still permitted by a live
// register or holding live objects cannot be deleted.
func (s *Service) DeleteSchema(ctx context.Context, ref string, actor auth.Actor) error {
	var deleted *models.Schema
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		sch, err := s.lookupSchema(ctx, normalizeRef(ref))
		if err != nil {
			return err
		}
		if sch == nil {
			return notFound("schema", ref)
		}
		if err := canManage(actor, nil, sch.Authorization, "delete", "schema "+sch.Slug); err != nil {
			return err
		}

		users, err := s.registers.ListRegistersUsingSchema(ctx, sch.UUID)
		if err != nil {
			return storeErr("list registers using schema", err)
		}
		if len(users) > 0 {
			return invalidInput("schema %q is used by register %q", sch.Slug, users[0].Slug)
		}
		if s.objects != nil {
			n, err := s.objects.CountObjects(ctx, repositories.ObjectFilter{Schema: sch.UUID})
			if err != nil {
				return storeErr("count schema objects", err)
			}
			if n > 0 {
				return invalidInput("schema %q still holds %d objects", sch.Slug, n)
			}
		}

		now := s.now().UTC()
		sch.Deleted = &now
		sch.Updated = now
		if err := s.schemas.UpdateSchema(ctx, sch); err != nil {
			return storeErr("delete schema", err)
		}
		deleted = sch
		return nil
	})
	if err != nil {
		return err
	}
	s.invalidate(ctx, deleted)
	return nil
}

// revise applies in to a copy of current, bumping and archiving when the
// validation contract changed
func (s *Service) revise(current *models.Schema, in SchemaInput) (*models.Schema, error) {
	next := *current
	applySchemaInput(&next, in)
	next.Updated = s.now().UTC()

	if contractEqual(current, &next) {
		return &next, nil
	}

	v, err := validation.BumpPatch(current.Version)
	if err != nil {
		return nil, invalidInput("schema version: %v", err)
	}
	archive := make(models.JSONMap, len(current.Archive)+1)
	for k, val := range current.Archive {
		archive[k] = val
	}
	archive[current.Version] = map[string]any{
		"properties":     map[string]any(current.Properties),
		"required":       []string(current.Required),
		"hardValidation": current.HardValidation,
		"maxDepth":       current.MaxDepth,
		"archived":       next.Updated.Format(time.RFC3339),
	}
	next.Version = v
	next.Archive = archive
	return &next, nil
}

func applySchemaInput(sch *models.Schema, in SchemaInput) {
	sch.Title = strings.TrimSpace(in.Title)
	sch.Slug = strings.TrimSpace(in.Slug)
	if sch.Slug == "" {
		sch.Slug = Slugify(sch.Title)
	}
	sch.Description = in.Description
	sch.Summary = in.Summary
	sch.Required = dedupe(in.Required)
	sch.Properties = models.JSONMap(in.Properties)
	if sch.Properties == nil {
		sch.Properties = models.JSONMap{}
	}
	sch.HardValidation = in.HardValidation
	sch.MaxDepth = in.MaxDepth
	sch.Configuration = in.Configuration
	sch.Authorization = in.Authorization
	sch.Icon = in.Icon
}

// checkSchema verifies the structural integrity of sch: a title, a unique
// slug, compilable properties and, when checkRefs is set, resolvable $refs.
// A schema may reference itself.
func (s *Service) checkSchema(ctx context.Context, sch *models.Schema, checkRefs bool) error {
	var problems []validation.FieldError
	if sch.Title == "" {
		problems = append(problems, validation.FieldError{Field: "title", Message: "title is required"})
	}
	if sch.MaxDepth < 0 {
		problems = append(problems, validation.FieldError{Field: "maxDepth", Message: "maxDepth must not be negative"})
	}
	if sch.Slug == "" {
		problems = append(problems, validation.FieldError{Field: "slug", Message: "slug is required"})
	} else if isUUID(sch.Slug) {
		problems = append(problems, validation.FieldError{Field: "slug", Message: "slug must not be a UUID"})
	} else {
		clash, err := s.schemas.GetSchemaBySlug(ctx, sch.Slug)
		if err != nil {
			return storeErr("check schema slug", err)
		}
		if clash != nil && clash.UUID != sch.UUID {
			return fmt.Errorf("schema slug %q: %w", sch.Slug, objects.ErrAlreadyExists)
		}
	}

	root, err := validation.Compile(sch.Properties, sch.Required)
	if err != nil {
		problems = append(problems, validation.FieldError{Field: "properties", Message: err.Error()})
	} else if checkRefs {
		refProblems, err := s.unresolvedRefs(ctx, sch, root)
		if err != nil {
			return err
		}
		problems = append(problems, refProblems...)
	}

	if len(problems) > 0 {
		return validationError(problems)
	}
	return nil
}

func (s *Service) unresolvedRefs(ctx context.Context, sch *models.Schema, root *validation.Node) ([]validation.FieldError, error) {
	var problems []validation.FieldError
	for _, ref := range root.Refs() {
		target := normalizeRef(ref)
		if target == sch.UUID || target == sch.Slug {
			continue
		}
		resolved, err := s.lookupSchema(ctx, target)
		if err != nil {
			return nil, err
		}
		if resolved == nil {
			problems = append(problems, validation.FieldError{
				Field:   "properties",
				Message: fmt.Sprintf("$ref %q does not resolve to a schema", ref),
			})
		}
	}
	return problems, nil
}

// contractEqual compares the parts of a schema that affect validation
func contractEqual(a, b *models.Schema) bool {
	return a.HardValidation == b.HardValidation &&
		a.MaxDepth == b.MaxDepth &&
		sameSet(a.Required, b.Required) &&
		jsonEqual(map[string]any(a.Properties), map[string]any(b.Properties))
}
