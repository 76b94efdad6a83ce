// node.go compiles raw JSON-Schema-like property definitions into a tree of typed
// nodes which the validator walks with a plain recursive descent.
package validation

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Kind is the discriminator of a schema Node
type Kind int

// Node kinds
const (
	KindAny Kind = iota
	KindString
	KindInteger
	KindNumber
	KindBoolean
	KindObject
	KindArray
	KindRef
	KindFile
)

var kindNames = map[string]Kind{
	"string":  KindString,
	"integer": KindInteger,
	"number":  KindNumber,
	"boolean": KindBoolean,
	"object":  KindObject,
	"array":   KindArray,
	"file":    KindFile,
}

// String returns the JSON Schema type name of the kind
func (k Kind) String() string {
	for name, kind := range kindNames {
		if kind == k {
			return name
		}
	}
	if k == KindRef {
		return "$ref"
	}
	return "any"
}

// Node is one compiled property definition. Which fields are meaningful
// depends on Kind: Properties/Required for objects, Items for arrays, Ref for
// references, the bounds for strings, numbers and arrays.
type Node struct {
	Kind       Kind
	Nullable   bool
	Properties map[string]*Node
	Required   []string
	Items      *Node
	Ref        string

	Enum      []any
	Format    string
	Pattern   *regexp.Regexp
	MinLength *int
	MaxLength *int
	Minimum   *float64
	Maximum   *float64
	MinItems  *int
	MaxItems  *int
}

// Compile builds the root object node for a schema's properties and required list
func Compile(properties map[string]any, required []string) (*Node, error) {
	root := &Node{Kind: KindObject, Properties: make(map[string]*Node, len(properties)), Required: required}
	for _, name := range sortedKeys(properties) {
		def, ok := properties[name].(map[string]any)
		if !ok {
			return nil, fmt.Errorf("property %q: definition must be an object", name)
		}
		node, err := compileNode(def)
		if err != nil {
			return nil, fmt.Errorf("property %q: %w", name, err)
		}
		root.Properties[name] = node
	}
	return root, nil
}

// Refs returns every $ref target reachable from the node, in stable order
func (n *Node) Refs() []string {
	seen := make(map[string]bool)
	var out []string
	var walk func(*Node)
	walk = func(node *Node) {
		if node == nil {
			return
		}
		if node.Kind == KindRef && !seen[node.Ref] {
			seen[node.Ref] = true
			out = append(out, node.Ref)
		}
		for _, name := range sortedNodeKeys(node.Properties) {
			walk(node.Properties[name])
		}
		walk(node.Items)
	}
	walk(n)
	return out
}

func compileNode(def map[string]any) (*Node, error) {
	node := &Node{}

	if ref, ok := def["$ref"].(string); ok && ref != "" {
		node.Kind = KindRef
		node.Ref = ref
		return node, nil
	}

	switch t := def["type"].(type) {
	case nil:
		node.Kind = KindAny
	case string:
		kind, ok := kindNames[t]
		if !ok {
			return nil, fmt.Errorf("unsupported type %q", t)
		}
		node.Kind = kind
	case []any:
		// ["string", "null"] style unions are limited to one type plus null
		node.Kind = KindAny
		for _, raw := range t {
			name, _ := raw.(string)
			if name == "null" {
				node.Nullable = true
				continue
			}
			kind, ok := kindNames[name]
			if !ok {
				return nil, fmt.Errorf("unsupported type %q", name)
			}
			node.Kind = kind
		}
	default:
		return nil, fmt.Errorf("type must be a string or a list of strings")
	}

	if nullable, ok := def["nullable"].(bool); ok && nullable {
		node.Nullable = true
	}

	if enum, ok := def["enum"].([]any); ok {
		node.Enum = enum
	}
	if format, ok := def["format"].(string); ok {
		node.Format = strings.ToLower(format)
	}
	if pattern, ok := def["pattern"].(string); ok && pattern != "" {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern: %w", err)
		}
		node.Pattern = re
	}
	node.MinLength = intKeyword(def, "minLength")
	node.MaxLength = intKeyword(def, "maxLength")
	node.MinItems = intKeyword(def, "minItems")
	node.MaxItems = intKeyword(def, "maxItems")
	node.Minimum = floatKeyword(def, "minimum")
	node.Maximum = floatKeyword(def, "maximum")

	switch node.Kind {
	case KindObject:
		props, _ := def["properties"].(map[string]any)
		var required []string
		if req, ok := def["required"].([]any); ok {
			for _, r := range req {
				if s, ok := r.(string); ok {
					required = append(required, s)
				}
			}
		}
		child, err := Compile(props, required)
		if err != nil {
			return nil, err
		}
		node.Properties = child.Properties
		node.Required = child.Required
	case KindArray:
		if items, ok := def["items"].(map[string]any); ok {
			child, err := compileNode(items)
			if err != nil {
				return nil, fmt.Errorf("items: %w", err)
			}
			node.Items = child
		}
	}

	return node, nil
}

func intKeyword(def map[string]any, key string) *int {
	if f, ok := def[key].(float64); ok {
		i := int(f)
		return &i
	}
	if i, ok := def[key].(int); ok {
		return &i
	}
	return nil
}

func floatKeyword(def map[string]any, key string) *float64 {
	switch v := def[key].(type) {
	case float64:
		return &v
	case int:
		f := float64(v)
		return &f
	}
	return nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedNodeKeys(m map[string]*Node) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
