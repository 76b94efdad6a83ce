// validator.go validates JSON objects against schema definitions, collecting every
// violation instead of stopping at the first one.
package validation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/mail"
	"net/url"
	"reflect"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/openregister/openregister/internal/db/models"
)

// FieldError is a single validation violation surfaced to callers verbatim
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Result is the outcome of validating one object
type Result struct {
	Valid    bool         `json:"valid"`
	Errors   []FieldError `json:"errors,omitempty"`
	Warnings []FieldError `json:"warnings,omitempty"`
}

// SchemaResolver looks up a schema referenced through $ref. It returns
// (nil, nil) when no schema matches the reference.
type SchemaResolver interface {
	ResolveSchema(ctx context.Context, ref string) (*models.Schema, error)
}

// ReferenceError reports a $ref that could not be resolved. It is a
// configuration problem of the schema, not of the validated object.
type ReferenceError struct {
	Ref   string
	Field string
}

func (e *ReferenceError) Error() string {
	return fmt.Sprintf("unresolvable schema reference %q at %s", e.Ref, e.Field)
}

// Validator checks objects against schemas
type Validator struct {
	resolver SchemaResolver
}

// NewValidator creates a validator. resolver may be nil when no schema uses $ref.
func NewValidator(resolver SchemaResolver) *Validator {
	return &Validator{resolver: resolver}
}

// Validate checks object against schema. The returned error is non-nil only
// when the schema itself is unusable (bad definition, unresolvable $ref, or a
// resolver failure); violations by the object are reported in the Result.
func (v *Validator) Validate(ctx context.Context, object map[string]any, schema *models.Schema) (*Result, error) {
	root, err := Compile(schema.Properties, schema.Required)
	if err != nil {
		return nil, fmt.Errorf("invalid schema %s: %w", schema.Slug, err)
	}

	w := &walker{
		ctx:      ctx,
		resolver: v.resolver,
		maxDepth: schema.MaxDepth,
		compiled: make(map[string]*Node),
	}
	w.walkObject(root, object, "", 0)
	if w.err != nil {
		return nil, w.err
	}

	result := &Result{}
	if schema.HardValidation {
		result.Errors = w.errs
	} else {
		result.Warnings = w.errs
	}
	// a branch past the depth limit was never checked, so soft mode does not
	// downgrade it
	result.Errors = append(result.Errors, w.fatal...)
	result.Valid = len(result.Errors) == 0
	return result, nil
}

type walker struct {
	ctx      context.Context
	resolver SchemaResolver
	maxDepth int
	compiled map[string]*Node
	errs     []FieldError
	fatal    []FieldError
	err      error
}

func (w *walker) fail(field, format string, args ...any) {
	if field == "" {
		field = "@root"
	}
	w.errs = append(w.errs, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
}

func (w *walker) walkObject(node *Node, obj map[string]any, path string, depth int) {
	for _, name := range node.Required {
		if _, ok := obj[name]; !ok {
			w.fail(join(path, name), "required property is missing")
		}
	}
	for _, name := range sortedNodeKeys(node.Properties) {
		value, ok := obj[name]
		if !ok {
			continue
		}
		w.walk(node.Properties[name], value, join(path, name), depth)
		if w.err != nil {
			return
		}
	}
}

func (w *walker) walk(node *Node, value any, path string, depth int) {
	if value == nil {
		if !node.Nullable && node.Kind != KindAny {
			w.fail(path, "must be of type %s, got null", node.Kind)
		}
		return
	}

	switch node.Kind {
	case KindAny:
	case KindString:
		s, ok := value.(string)
		if !ok {
			w.fail(path, "must be of type string, got %s", typeName(value))
			return
		}
		w.checkString(node, s, path)
	case KindInteger:
		f, ok := toFloat(value)
		if !ok || f != math.Trunc(f) {
			w.fail(path, "must be of type integer, got %s", typeName(value))
			return
		}
		w.checkNumber(node, f, path)
	case KindNumber:
		f, ok := toFloat(value)
		if !ok {
			w.fail(path, "must be of type number, got %s", typeName(value))
			return
		}
		w.checkNumber(node, f, path)
	case KindBoolean:
		if _, ok := value.(bool); !ok {
			w.fail(path, "must be of type boolean, got %s", typeName(value))
			return
		}
	case KindObject:
		obj, ok := value.(map[string]any)
		if !ok {
			w.fail(path, "must be of type object, got %s", typeName(value))
			return
		}
		if !w.enter(path, depth+1) {
			return
		}
		w.walkObject(node, obj, path, depth+1)
	case KindArray:
		items, ok := value.([]any)
		if !ok {
			w.fail(path, "must be of type array, got %s", typeName(value))
			return
		}
		w.checkArray(node, items, path)
		if node.Items == nil {
			return
		}
		// items sit at the array's depth; only objects add a level
		for i, item := range items {
			w.walk(node.Items, item, path+"["+strconv.Itoa(i)+"]", depth)
			if w.err != nil {
				return
			}
		}
	case KindRef:
		w.walkRef(node, value, path, depth)
	case KindFile:
		switch f := value.(type) {
		case string:
			if !isURI(f) {
				w.fail(path, "must be a file URL")
			}
		case map[string]any:
			if u, _ := f["url"].(string); u == "" {
				w.fail(path, "file reference must carry a url")
			}
		default:
			w.fail(path, "must be a file reference, got %s", typeName(value))
		}
		return
	}

	if len(node.Enum) > 0 && !inEnum(node.Enum, value) {
		w.fail(path, "must be one of the enumerated values")
	}
}

// enter reports whether an object at the given depth may be descended into.
// Each object level, embedded $ref objects included, counts once; arrays do
// not. Past the limit the branch fails closed with a single error that stays
// an error under soft validation.
func (w *walker) enter(path string, depth int) bool {
	if w.maxDepth > 0 && depth > w.maxDepth {
		w.fatal = append(w.fatal, FieldError{
			Field:   path,
			Message: fmt.Sprintf("maximum nesting depth of %d exceeded", w.maxDepth),
		})
		return false
	}
	return true
}

func (w *walker) walkRef(node *Node, value any, path string, depth int) {
	switch v := value.(type) {
	case string:
		// a string value references an existing object by UUID
		if _, err := uuid.Parse(v); err != nil {
			w.fail(path, "must be an embedded object or a UUID reference")
		}
		return
	case map[string]any:
		target, ok := w.compiled[node.Ref]
		if !ok {
			target = w.resolve(node.Ref, path)
			if target == nil {
				return
			}
			w.compiled[node.Ref] = target
		}
		if !w.enter(path, depth+1) {
			return
		}
		w.walkObject(target, v, path, depth+1)
	default:
		w.fail(path, "must be an embedded object or a UUID reference, got %s", typeName(value))
	}
}

func (w *walker) resolve(ref, path string) *Node {
	if w.resolver == nil {
		w.err = &ReferenceError{Ref: ref, Field: path}
		return nil
	}
	schema, err := w.resolver.ResolveSchema(w.ctx, ref)
	if err != nil {
		w.err = fmt.Errorf("failed to resolve schema reference %q: %w", ref, err)
		return nil
	}
	if schema == nil {
		w.err = &ReferenceError{Ref: ref, Field: path}
		return nil
	}
	node, err := Compile(schema.Properties, schema.Required)
	if err != nil {
		w.err = fmt.Errorf("invalid referenced schema %s: %w", schema.Slug, err)
		return nil
	}
	return node
}

func (w *walker) checkString(node *Node, s, path string) {
	n := utf8.RuneCountInString(s)
	if node.MinLength != nil && n < *node.MinLength {
		w.fail(path, "must be at least %d characters long", *node.MinLength)
	}
	if node.MaxLength != nil && n > *node.MaxLength {
		w.fail(path, "must be at most %d characters long", *node.MaxLength)
	}
	if node.Pattern != nil && !node.Pattern.MatchString(s) {
		w.fail(path, "must match pattern %s", node.Pattern.String())
	}
	if node.Format != "" && !checkFormat(node.Format, s) {
		w.fail(path, "must be a valid %s", node.Format)
	}
}

func (w *walker) checkNumber(node *Node, f float64, path string) {
	if node.Minimum != nil && f < *node.Minimum {
		w.fail(path, "must be greater than or equal to %v", *node.Minimum)
	}
	if node.Maximum != nil && f > *node.Maximum {
		w.fail(path, "must be less than or equal to %v", *node.Maximum)
	}
}

func (w *walker) checkArray(node *Node, items []any, path string) {
	if node.MinItems != nil && len(items) < *node.MinItems {
		w.fail(path, "must contain at least %d items", *node.MinItems)
	}
	if node.MaxItems != nil && len(items) > *node.MaxItems {
		w.fail(path, "must contain at most %d items", *node.MaxItems)
	}
}

func checkFormat(format, s string) bool {
	switch format {
	case "date":
		_, err := time.Parse("2006-01-02", s)
		return err == nil
	case "date-time":
		_, err := time.Parse(time.RFC3339, s)
		return err == nil
	case "email":
		_, err := mail.ParseAddress(s)
		return err == nil
	case "uuid":
		_, err := uuid.Parse(s)
		return err == nil
	case "uri", "url":
		return isURI(s)
	default:
		// unknown formats are annotations only
		return true
	}
}

func isURI(s string) bool {
	u, err := url.ParseRequestURI(s)
	return err == nil && u.Scheme != ""
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case interface{ Float64() (float64, error) }:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func typeName(v any) string {
	switch v.(type) {
	case string:
		return "string"
	case bool:
		return "boolean"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	}
	if _, ok := toFloat(v); ok {
		return "number"
	}
	return fmt.Sprintf("%T", v)
}

func inEnum(enum []any, value any) bool {
	for _, e := range enum {
		if ef, ok := toFloat(e); ok {
			if vf, ok := toFloat(value); ok && ef == vf {
				return true
			}
			continue
		}
		if reflect.DeepEqual(e, value) {
			return true
		}
	}
	return false
}

func join(path, name string) string {
	if path == "" {
		return name
	}
	return path + "." + name
}

// IsReferenceError reports whether err is (or wraps) a ReferenceError
func IsReferenceError(err error) bool {
	var refErr *ReferenceError
	return errors.As(err, &refErr)
}
