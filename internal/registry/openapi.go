package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/openregister/openregister/internal/auth"
	"github.com/openregister/openregister/internal/db/models"
	"github.com/openregister/openregister/internal/objects"
	"github.com/openregister/openregister/internal/validation"
)

// OpenAPIVersion is the OpenAPI version written into exported documents
const OpenAPIVersion = "3.0.0"

// Vendor extensions carrying registry-only attributes through the OpenAPI form
const (
	ExtUUID           = "x-openregisters-uuid"
	ExtVersion        = "x-openregisters-version"
	ExtSummary        = "x-openregisters-summary"
	ExtHardValidation = "x-openregisters-hard-validation"
	ExtMaxDepth       = "x-openregisters-max-depth"
	ExtConfiguration  = "x-openregisters-configuration"
	ExtAuthorization  = "x-openregisters-authorization"
	ExtIcon           = "x-openregisters-icon"
	ExtArchive        = "x-openregisters-archive"
)

// Document is the portable export format: an OpenAPI 3 document whose
// components hold schemas and registers
type Document struct {
	OpenAPI       string             `json:"openapi"`
	Info          Info               `json:"info"`
	Components    Components         `json:"components"`
	Configuration *ConfigurationSpec `json:"x-openregisters-configuration,omitempty"`
}

// Info is the OpenAPI info object
type Info struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Version     string `json:"version"`
}

// Components holds the exported definitions keyed by slug
type Components struct {
	Schemas   map[string]map[string]any `json:"schemas"`
	Registers map[string]*RegisterSpec  `json:"registers,omitempty"`
}

// RegisterSpec is the exported form of a register. Schemas are listed by slug.
type RegisterSpec struct {
	Title         string               `json:"title"`
	Description   string               `json:"description,omitempty"`
	Schemas       []string             `json:"schemas"`
	UUID          string               `json:"x-openregisters-uuid,omitempty"`
	Version       string               `json:"x-openregisters-version,omitempty"`
	Source        string               `json:"x-openregisters-source,omitempty"`
	Organisation  string               `json:"x-openregisters-organisation,omitempty"`
	Application   string               `json:"x-openregisters-application,omitempty"`
	Folder        string               `json:"x-openregisters-folder,omitempty"`
	Authorization models.Authorization `json:"x-openregisters-authorization,omitempty"`
	Configuration models.JSONMap       `json:"x-openregisters-configuration,omitempty"`
}

// ConfigurationSpec is the exported form of a configuration. Registers are listed by slug.
type ConfigurationSpec struct {
	UUID        string   `json:"uuid,omitempty"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Type        string   `json:"type,omitempty"`
	Version     string   `json:"version,omitempty"`
	Registers   []string `json:"registers"`
}

// ParseDocument decodes an exported document, checking the parts import relies on
func ParseDocument(data []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, invalidInput("document is not valid JSON: %v", err)
	}
	if !strings.HasPrefix(doc.OpenAPI, "3.") {
		return nil, invalidInput("unsupported openapi version %q", doc.OpenAPI)
	}
	return &doc, nil
}

// ---------------------------------------------------------------------------
// Export
// ---------------------------------------------------------------------------

// exporter accumulates schemas and registers into one document, following
// $refs so that every referenced schema travels with the document
type exporter struct {
	svc     *Service
	doc     *Document
	slugFor map[string]string // schema UUID and slug -> exported slug
}

func (s *Service) newExporter(title, description, version string) *exporter {
	return &exporter{
		svc: s,
		doc: &Document{
			OpenAPI: OpenAPIVersion,
			Info:    Info{Title: title, Description: description, Version: version},
			Components: Components{
				Schemas:   map[string]map[string]any{},
				Registers: map[string]*RegisterSpec{},
			},
		},
		slugFor: map[string]string{},
	}
}

// ExportRegister produces the portable document of one register and every
// schema it permits or references
func (s *Service) ExportRegister(ctx context.Context, ref string) (*Document, error) {
	reg, err := s.GetRegister(ctx, ref)
	if err != nil {
		return nil, err
	}
	if reg == nil {
		return nil, notFound("register", ref)
	}
	ex := s.newExporter(reg.Title, deref(reg.Description), reg.Version)
	if err := ex.addRegister(ctx, reg); err != nil {
		return nil, err
	}
	return ex.doc, nil
}

// ExportConfiguration produces the portable document of a configuration: its
// registers, their schemas, and the configuration itself
func (s *Service) ExportConfiguration(ctx context.Context, id string) (*Document, error) {
	c, err := s.GetConfiguration(ctx, id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, notFound("configuration", id)
	}

	ex := s.newExporter(c.Title, deref(c.Description), c.Version)
	spec := &ConfigurationSpec{
		UUID:        c.UUID,
		Title:       c.Title,
		Description: deref(c.Description),
		Type:        c.Type,
		Version:     c.Version,
		Registers:   []string{},
	}
	for _, regID := range c.Registers {
		reg, err := s.GetRegister(ctx, regID)
		if err != nil {
			return nil, err
		}
		// Registers deleted after grouping are left out of the bundle.
		if reg == nil {
			continue
		}
		if err := ex.addRegister(ctx, reg); err != nil {
			return nil, err
		}
		spec.Registers = append(spec.Registers, reg.Slug)
	}
	ex.doc.Configuration = spec
	return ex.doc, nil
}

func (ex *exporter) addRegister(ctx context.Context, reg *models.Register) error {
	spec := &RegisterSpec{
		Title:         reg.Title,
		Description:   deref(reg.Description),
		Schemas:       make([]string, 0, len(reg.Schemas)),
		UUID:          reg.UUID,
		Version:       reg.Version,
		Source:        deref(reg.Source),
		Organisation:  deref(reg.Organisation),
		Application:   deref(reg.Application),
		Folder:        deref(reg.Folder),
		Authorization: reg.Authorization,
		Configuration: reg.Configuration,
	}
	for _, id := range reg.Schemas {
		slug, err := ex.addSchema(ctx, id)
		if err != nil {
			return err
		}
		spec.Schemas = append(spec.Schemas, slug)
	}
	ex.doc.Components.Registers[reg.Slug] = spec
	return nil
}

// addSchema exports the schema behind ref and, transitively, every schema it
// references. It returns the exported slug.
func (ex *exporter) addSchema(ctx context.Context, ref string) (string, error) {
	key := normalizeRef(ref)
	if slug, ok := ex.slugFor[key]; ok {
		return slug, nil
	}

	sch, err := ex.svc.GetSchema(ctx, key)
	if err != nil {
		return "", err
	}
	if sch == nil {
		return "", &validation.ReferenceError{Ref: ref, Field: "schemas"}
	}
	ex.slugFor[sch.UUID] = sch.Slug
	ex.slugFor[sch.Slug] = sch.Slug

	root, err := validation.Compile(sch.Properties, sch.Required)
	if err != nil {
		return "", invalidInput("schema %q: %v", sch.Slug, err)
	}
	for _, target := range root.Refs() {
		if _, err := ex.addSchema(ctx, target); err != nil {
			var refErr *validation.ReferenceError
			if errors.As(err, &refErr) {
				refErr.Field = "components/schemas/" + sch.Slug
			}
			return "", err
		}
	}

	ex.doc.Components.Schemas[sch.Slug] = schemaToOpenAPI(sch, func(r string) string {
		if slug, ok := ex.slugFor[normalizeRef(r)]; ok {
			return SchemaRefPrefix + slug
		}
		return r
	})
	return sch.Slug, nil
}

func schemaToOpenAPI(sch *models.Schema, rewrite func(string) string) map[string]any {
	out := map[string]any{
		"type":       "object",
		"title":      sch.Title,
		"properties": rewriteRefs(map[string]any(sch.Properties), rewrite),
		ExtUUID:      sch.UUID,
		ExtVersion:   sch.Version,
	}
	if len(sch.Required) > 0 {
		out["required"] = []string(sch.Required)
	}
	if sch.Description != nil {
		out["description"] = *sch.Description
	}
	if sch.Summary != nil {
		out[ExtSummary] = *sch.Summary
	}
	if sch.HardValidation {
		out[ExtHardValidation] = true
	}
	if sch.MaxDepth > 0 {
		out[ExtMaxDepth] = sch.MaxDepth
	}
	if len(sch.Configuration) > 0 {
		out[ExtConfiguration] = map[string]any(sch.Configuration)
	}
	if len(sch.Authorization) > 0 {
		out[ExtAuthorization] = map[string][]string(sch.Authorization)
	}
	if sch.Icon != nil {
		out[ExtIcon] = *sch.Icon
	}
	// Archived contracts are informational; import never restores them.
	if len(sch.Archive) > 0 {
		out[ExtArchive] = map[string]any(sch.Archive)
	}
	return out
}

// schemaFromOpenAPI reads an exported schema definition back into input form
func schemaFromOpenAPI(slug string, def map[string]any) (SchemaInput, error) {
	in := SchemaInput{Slug: slug, Properties: map[string]any{}}
	if t, ok := def["type"].(string); ok && t != "object" {
		return in, fmt.Errorf("type must be object, got %q", t)
	}
	in.Title, _ = def["title"].(string)
	if in.Title == "" {
		in.Title = slug
	}
	if props, ok := def["properties"]; ok && props != nil {
		m, ok := props.(map[string]any)
		if !ok {
			return in, fmt.Errorf("properties must be an object")
		}
		in.Properties = m
	}
	switch req := def["required"].(type) {
	case []string:
		in.Required = req
	case []any:
		for _, r := range req {
			name, ok := r.(string)
			if !ok {
				return in, fmt.Errorf("required must list property names")
			}
			in.Required = append(in.Required, name)
		}
	}
	if d, ok := def["description"].(string); ok {
		in.Description = &d
	}
	if v, ok := def[ExtSummary].(string); ok {
		in.Summary = &v
	}
	in.HardValidation, _ = def[ExtHardValidation].(bool)
	switch v := def[ExtMaxDepth].(type) {
	case float64:
		in.MaxDepth = int(v)
	case int:
		in.MaxDepth = v
	}
	if v, ok := def[ExtConfiguration].(map[string]any); ok {
		in.Configuration = v
	}
	if v, ok := def[ExtAuthorization]; ok && v != nil {
		authz, err := decodeAuthorization(v)
		if err != nil {
			return in, err
		}
		in.Authorization = authz
	}
	if v, ok := def[ExtIcon].(string); ok {
		in.Icon = &v
	}
	return in, nil
}

func decodeAuthorization(v any) (models.Authorization, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var authz models.Authorization
	if err := json.Unmarshal(raw, &authz); err != nil {
		return nil, fmt.Errorf("%s must map actions to group lists", ExtAuthorization)
	}
	return authz, nil
}

// ---------------------------------------------------------------------------
// Import
// ---------------------------------------------------------------------------

// ImportCounts lists the slugs (titles for configurations) touched by an import
type ImportCounts struct {
	Created   []string `json:"created"`
	Updated   []string `json:"updated"`
	Unchanged []string `json:"unchanged"`
}

func (c *ImportCounts) add(outcome, name string) {
	switch outcome {
	case outcomeCreated:
		c.Created = append(c.Created, name)
	case outcomeUpdated:
		c.Updated = append(c.Updated, name)
	default:
		c.Unchanged = append(c.Unchanged, name)
	}
}

// ImportSummary reports what an import did
type ImportSummary struct {
	Schemas        ImportCounts          `json:"schemas"`
	Registers      ImportCounts          `json:"registers"`
	Configurations ImportCounts          `json:"configurations"`
	Configuration  *models.Configuration `json:"configuration,omitempty"`
}

const (
	outcomeCreated   = "created"
	outcomeUpdated   = "updated"
	outcomeUnchanged = "unchanged"
)

// Import upserts the document's schemas, then its registers, then its
// configuration, all by slug and in one transaction. Schema references are
// checked once every schema of the document is in place, so schemas may
// reference each other in any order. New definitions are owned by actor.
func (s *Service) Import(ctx context.Context, doc *Document, actor auth.Actor) (*ImportSummary, error) {
	if err := requireIdentity(actor, "import", "document"); err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, invalidInput("document is required")
	}

	summary := &ImportSummary{}
	var touched []*models.Schema
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		ids, err := s.planSchemaUUIDs(ctx, doc)
		if err != nil {
			return err
		}
		imported := make(map[string]*models.Schema, len(doc.Components.Schemas))
		for _, slug := range sortedKeys(doc.Components.Schemas) {
			sch, outcome, err := s.importSchema(ctx, slug, doc.Components.Schemas[slug], ids, actor)
			if err != nil {
				return err
			}
			imported[slug] = sch
			summary.Schemas.add(outcome, slug)
			if outcome != outcomeUnchanged {
				touched = append(touched, sch)
			}
		}

		var problems []validation.FieldError
		for _, slug := range sortedKeys(imported) {
			sch := imported[slug]
			root, err := validation.Compile(sch.Properties, sch.Required)
			if err != nil {
				return invalidInput("schema %q: %v", slug, err)
			}
			refProblems, err := s.unresolvedRefs(ctx, sch, root)
			if err != nil {
				return err
			}
			for _, p := range refProblems {
				p.Field = "components/schemas/" + slug + "/" + p.Field
				problems = append(problems, p)
			}
		}
		if len(problems) > 0 {
			return validationError(problems)
		}

		registerIDs := make(map[string]string, len(doc.Components.Registers))
		for _, slug := range sortedKeys(doc.Components.Registers) {
			reg, outcome, err := s.importRegister(ctx, slug, doc.Components.Registers[slug], imported, actor)
			if err != nil {
				return err
			}
			registerIDs[slug] = reg.UUID
			summary.Registers.add(outcome, slug)
		}

		if doc.Configuration != nil {
			c, outcome, err := s.importConfiguration(ctx, doc.Configuration, registerIDs, actor)
			if err != nil {
				return err
			}
			summary.Configuration = c
			summary.Configurations.add(outcome, c.Title)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, sch := range touched {
		s.invalidate(ctx, sch)
	}
	return summary, nil
}

// planSchemaUUIDs fixes the UUID every schema of the document will have:
// the existing schema's for known slugs, otherwise the exported UUID when it
// is free. Knowing them up front lets references between schemas of the
// same document be stored as UUIDs regardless of import order.
func (s *Service) planSchemaUUIDs(ctx context.Context, doc *Document) (map[string]string, error) {
	ids := make(map[string]string, len(doc.Components.Schemas))
	assigned := make(map[string]bool, len(doc.Components.Schemas))
	for _, slug := range sortedKeys(doc.Components.Schemas) {
		current, err := s.schemas.GetSchemaBySlug(ctx, slug)
		if err != nil {
			return nil, storeErr("get schema", err)
		}
		if current != nil {
			ids[slug] = current.UUID
			assigned[current.UUID] = true
		}
	}
	for _, slug := range sortedKeys(doc.Components.Schemas) {
		if _, ok := ids[slug]; ok {
			continue
		}
		exported, _ := doc.Components.Schemas[slug][ExtUUID].(string)
		id, err := s.freeSchemaUUID(ctx, exported)
		if err != nil {
			return nil, err
		}
		if assigned[id] {
			id = uuid.NewString()
		}
		ids[slug] = id
		assigned[id] = true
	}
	return ids, nil
}

func (s *Service) importSchema(ctx context.Context, slug string, def map[string]any, ids map[string]string, actor auth.Actor) (*models.Schema, string, error) {
	in, err := schemaFromOpenAPI(slug, def)
	if err != nil {
		return nil, "", invalidInput("schema %q: %v", slug, err)
	}
	in.Properties = rewriteRefs(in.Properties, func(ref string) string {
		if id, ok := ids[normalizeRef(ref)]; ok {
			return id
		}
		return ref
	}).(map[string]any)

	current, err := s.schemas.GetSchemaBySlug(ctx, slug)
	if err != nil {
		return nil, "", storeErr("get schema", err)
	}

	if current == nil {
		now := s.now().UTC()
		sch := &models.Schema{Version: validation.InitialVersion, Created: now, Updated: now}
		applySchemaInput(sch, in)
		sch.UUID = ids[slug]
		if v, ok := def[ExtVersion].(string); ok && validation.ValidateSemver(v) == nil {
			sch.Version = v
		}
		if err := s.checkSchema(ctx, sch, false); err != nil {
			return nil, "", prefixFields(err, "components/schemas/"+slug)
		}
		if err := s.schemas.CreateSchema(ctx, sch); err != nil {
			return nil, "", storeErr("create schema", err)
		}
		return sch, outcomeCreated, nil
	}

	if err := canManage(actor, nil, current.Authorization, "update", "schema "+slug); err != nil {
		return nil, "", err
	}
	next, err := s.revise(current, in)
	if err != nil {
		return nil, "", err
	}
	if contractEqual(current, next) && schemaMetaEqual(current, next) {
		return current, outcomeUnchanged, nil
	}
	if err := s.checkSchema(ctx, next, false); err != nil {
		return nil, "", prefixFields(err, "components/schemas/"+slug)
	}
	if err := s.schemas.UpdateSchema(ctx, next); err != nil {
		return nil, "", storeErr("update schema", err)
	}
	return next, outcomeUpdated, nil
}

// freeSchemaUUID keeps the exported UUID when it is valid and unused
func (s *Service) freeSchemaUUID(ctx context.Context, id string) (string, error) {
	if !isUUID(id) {
		return uuid.NewString(), nil
	}
	taken, err := s.schemas.GetSchema(ctx, id)
	if err != nil {
		return "", storeErr("get schema", err)
	}
	if taken != nil {
		return uuid.NewString(), nil
	}
	return id, nil
}

func (s *Service) importRegister(ctx context.Context, slug string, spec *RegisterSpec, imported map[string]*models.Schema, actor auth.Actor) (*models.Register, string, error) {
	if spec == nil {
		return nil, "", invalidInput("register %q: definition is empty", slug)
	}

	schemaIDs := make([]string, 0, len(spec.Schemas))
	var problems []validation.FieldError
	for i, ref := range spec.Schemas {
		ref = normalizeRef(ref)
		if sch, ok := imported[ref]; ok {
			schemaIDs = append(schemaIDs, sch.UUID)
			continue
		}
		sch, err := s.lookupSchema(ctx, ref)
		if err != nil {
			return nil, "", err
		}
		if sch == nil {
			problems = append(problems, validation.FieldError{
				Field:   fmt.Sprintf("components/registers/%s/schemas/%d", slug, i),
				Message: fmt.Sprintf("schema %q does not exist", ref),
			})
			continue
		}
		schemaIDs = append(schemaIDs, sch.UUID)
	}
	if len(problems) > 0 {
		return nil, "", validationError(problems)
	}

	in := RegisterInput{
		Title:         spec.Title,
		Slug:          slug,
		Description:   strPtr(spec.Description),
		Schemas:       schemaIDs,
		Source:        strPtr(spec.Source),
		Organisation:  strPtr(spec.Organisation),
		Application:   strPtr(spec.Application),
		Folder:        strPtr(spec.Folder),
		Authorization: spec.Authorization,
		Configuration: spec.Configuration,
	}
	if in.Title == "" {
		in.Title = slug
	}
	// A source UUID only means something in the exporting installation.
	if in.Source != nil {
		src, err := s.GetSource(ctx, *in.Source)
		if err != nil {
			return nil, "", err
		}
		if src == nil {
			in.Source = nil
		}
	}

	current, err := s.registers.GetRegisterBySlug(ctx, slug)
	if err != nil {
		return nil, "", storeErr("get register", err)
	}

	if current == nil {
		now := s.now().UTC()
		reg := &models.Register{Version: validation.InitialVersion, Created: now, Updated: now}
		applyRegisterInput(reg, in)
		if actor.UserID != "" {
			owner := actor.UserID
			reg.Owner = &owner
		}
		reg.UUID = uuid.NewString()
		if isUUID(spec.UUID) {
			taken, err := s.registers.GetRegister(ctx, spec.UUID)
			if err != nil {
				return nil, "", storeErr("get register", err)
			}
			if taken == nil {
				reg.UUID = spec.UUID
			}
		}
		if err := s.checkRegister(ctx, reg); err != nil {
			return nil, "", prefixFields(err, "components/registers/"+slug)
		}
		if err := s.registers.CreateRegister(ctx, reg); err != nil {
			return nil, "", storeErr("create register", err)
		}
		return reg, outcomeCreated, nil
	}

	if err := canManage(actor, current.Owner, current.Authorization, "update", "register "+slug); err != nil {
		return nil, "", err
	}
	in.Owner = current.Owner
	next := *current
	applyRegisterInput(&next, in)
	if registerEqual(current, &next) {
		return current, outcomeUnchanged, nil
	}
	if !sameSet(current.Schemas, next.Schemas) {
		v, err := validation.BumpPatch(current.Version)
		if err != nil {
			return nil, "", invalidInput("register version: %v", err)
		}
		next.Version = v
	}
	next.Updated = s.now().UTC()
	if err := s.checkRegister(ctx, &next); err != nil {
		return nil, "", prefixFields(err, "components/registers/"+slug)
	}
	if err := s.registers.UpdateRegister(ctx, &next); err != nil {
		return nil, "", storeErr("update register", err)
	}
	return &next, outcomeUpdated, nil
}

func (s *Service) importConfiguration(ctx context.Context, spec *ConfigurationSpec, registerIDs map[string]string, actor auth.Actor) (*models.Configuration, string, error) {
	refs := make([]string, 0, len(spec.Registers))
	for _, slug := range spec.Registers {
		if id, ok := registerIDs[slug]; ok {
			refs = append(refs, id)
		} else {
			refs = append(refs, slug)
		}
	}
	registers, err := s.resolveRegisters(ctx, refs)
	if err != nil {
		return nil, "", prefixFields(err, "x-openregisters-configuration")
	}
	in := ConfigurationInput{
		Title:       spec.Title,
		Description: strPtr(spec.Description),
		Type:        spec.Type,
		Registers:   registers,
	}

	var current *models.Configuration
	if isUUID(spec.UUID) {
		current, err = s.GetConfiguration(ctx, spec.UUID)
		if err != nil {
			return nil, "", err
		}
	}

	if current == nil {
		now := s.now().UTC()
		c := &models.Configuration{UUID: uuid.NewString(), Version: validation.InitialVersion, Created: now, Updated: now}
		if isUUID(spec.UUID) {
			c.UUID = spec.UUID
		}
		if v := spec.Version; v != "" && validation.ValidateSemver(v) == nil {
			c.Version = v
		}
		applyConfigurationInput(c, in, registers)
		if actor.UserID != "" {
			owner := actor.UserID
			c.Owner = &owner
		}
		if err := checkConfiguration(c); err != nil {
			return nil, "", err
		}
		if err := s.configurations.CreateConfiguration(ctx, c); err != nil {
			return nil, "", storeErr("create configuration", err)
		}
		return c, outcomeCreated, nil
	}

	if err := canManage(actor, current.Owner, nil, "update", "configuration "+current.Title); err != nil {
		return nil, "", err
	}
	in.Owner = current.Owner
	next := *current
	applyConfigurationInput(&next, in, registers)
	if err := checkConfiguration(&next); err != nil {
		return nil, "", err
	}
	if configurationEqual(current, &next) {
		return current, outcomeUnchanged, nil
	}
	v, err := validation.BumpPatch(current.Version)
	if err != nil {
		return nil, "", invalidInput("configuration version: %v", err)
	}
	next.Version = v
	next.Updated = s.now().UTC()
	if err := s.configurations.UpdateConfiguration(ctx, &next); err != nil {
		return nil, "", storeErr("update configuration", err)
	}
	return &next, outcomeUpdated, nil
}

func schemaMetaEqual(a, b *models.Schema) bool {
	return a.Title == b.Title &&
		deref(a.Description) == deref(b.Description) &&
		deref(a.Summary) == deref(b.Summary) &&
		deref(a.Icon) == deref(b.Icon) &&
		jsonEqual(a.Configuration, b.Configuration) &&
		jsonEqual(a.Authorization, b.Authorization)
}

func registerEqual(a, b *models.Register) bool {
	return a.Title == b.Title && a.Slug == b.Slug &&
		deref(a.Description) == deref(b.Description) &&
		sameOrder(a.Schemas, b.Schemas) &&
		deref(a.Source) == deref(b.Source) &&
		deref(a.Organisation) == deref(b.Organisation) &&
		deref(a.Application) == deref(b.Application) &&
		deref(a.Folder) == deref(b.Folder) &&
		jsonEqual(a.Authorization, b.Authorization) &&
		jsonEqual(a.Configuration, b.Configuration)
}

func sameOrder(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// prefixFields anchors the field paths of a validation error at prefix
func prefixFields(err error, prefix string) error {
	var verr *objects.ValidationError
	if !errors.As(err, &verr) {
		return err
	}
	out := make([]validation.FieldError, len(verr.Errors))
	for i, fe := range verr.Errors {
		out[i] = validation.FieldError{Field: prefix + "/" + fe.Field, Message: fe.Message}
	}
	return validationError(out)
}
