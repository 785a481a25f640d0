// Package schema compiles JSON-Schema-like definitions into structural
// validators that coerce, check, and strip untyped payloads.
package schema

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Kind tags the node variants a schema is built from.
type Kind string

const (
	KindString  Kind = "string"
	KindNumber  Kind = "number"
	KindBoolean Kind = "boolean"
	KindObject  Kind = "object"
	KindArray   Kind = "array"
)

// Node is one schema node. Which fields apply depends on Kind.
type Node struct {
	Kind        Kind
	Description string

	// Object constraints.
	Properties map[string]*Node
	Required   []string

	// Array constraints.
	Items *Node

	// String constraints.
	Enum      []string
	MinLength *int
	MaxLength *int

	// Number constraints.
	Minimum *float64
	Maximum *float64
}

// Schema is a compiled validator.
type Schema struct {
	root *Node
}

// Root returns the compiled root node.
func (s *Schema) Root() *Node {
	return s.root
}

// rawNode is the wire form a schema node is parsed from.
type rawNode struct {
	Type        string              `json:"type"`
	Description string              `json:"description,omitempty"`
	Properties  map[string]*rawNode `json:"properties,omitempty"`
	Required    []string            `json:"required,omitempty"`
	Items       *rawNode            `json:"items,omitempty"`
	Enum        []string            `json:"enum,omitempty"`
	MinLength   *int                `json:"minLength,omitempty"`
	MaxLength   *int                `json:"maxLength,omitempty"`
	Minimum     *float64            `json:"minimum,omitempty"`
	Maximum     *float64            `json:"maximum,omitempty"`
}

// Compile parses a raw schema document and validates the schema itself.
// Compiling an empty document is an error; callers decide whether a missing
// schema means "skip validation".
func Compile(raw json.RawMessage) (*Schema, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty schema document")
	}

	var rn rawNode
	if err := json.Unmarshal(raw, &rn); err != nil {
		return nil, fmt.Errorf("failed to parse schema: %w", err)
	}

	root, err := buildNode(&rn, "$")
	if err != nil {
		return nil, err
	}

	return &Schema{root: root}, nil
}

func buildNode(rn *rawNode, at string) (*Node, error) {
	if rn == nil {
		return nil, fmt.Errorf("schema node at %s is null", at)
	}

	n := &Node{Kind: Kind(rn.Type), Description: rn.Description}

	switch n.Kind {
	case KindObject:
		if len(rn.Properties) > 0 {
			n.Properties = make(map[string]*Node, len(rn.Properties))
			for name, child := range rn.Properties {
				built, err := buildNode(child, at+"."+name)
				if err != nil {
					return nil, err
				}
				n.Properties[name] = built
			}
		}
		for _, req := range rn.Required {
			if _, ok := rn.Properties[req]; !ok {
				return nil, fmt.Errorf("schema at %s requires undeclared property %q", at, req)
			}
		}
		n.Required = rn.Required

	case KindArray:
		if rn.Items == nil {
			return nil, fmt.Errorf("array schema at %s is missing items", at)
		}
		items, err := buildNode(rn.Items, at+"[]")
		if err != nil {
			return nil, err
		}
		n.Items = items

	case KindString:
		n.Enum = rn.Enum
		n.MinLength = rn.MinLength
		n.MaxLength = rn.MaxLength
		if n.MinLength != nil && n.MaxLength != nil && *n.MinLength > *n.MaxLength {
			return nil, fmt.Errorf("schema at %s has minLength > maxLength", at)
		}

	case KindNumber:
		n.Minimum = rn.Minimum
		n.Maximum = rn.Maximum
		if n.Minimum != nil && n.Maximum != nil && *n.Minimum > *n.Maximum {
			return nil, fmt.Errorf("schema at %s has minimum > maximum", at)
		}

	case KindBoolean:
		// No constraints.

	default:
		return nil, fmt.Errorf("schema at %s has unsupported type %q", at, rn.Type)
	}

	return n, nil
}

// Describe renders a compact human-readable summary of the schema, used when
// embedding the expected shape into a generation prompt.
func (s *Schema) Describe() string {
	return describeNode(s.root, 0)
}

func describeNode(n *Node, depth int) string {
	if n == nil {
		return ""
	}
	switch n.Kind {
	case KindObject:
		required := make(map[string]bool, len(n.Required))
		for _, r := range n.Required {
			required[r] = true
		}
		names := make([]string, 0, len(n.Properties))
		for name := range n.Properties {
			names = append(names, name)
		}
		sort.Strings(names)

		out := "{"
		for i, name := range names {
			if i > 0 {
				out += ", "
			}
			out += fmt.Sprintf("%q: %s", name, describeNode(n.Properties[name], depth+1))
			if !required[name] {
				out += " (optional)"
			}
		}
		return out + "}"
	case KindArray:
		return "[" + describeNode(n.Items, depth+1) + ", ...]"
	case KindString:
		if len(n.Enum) > 0 {
			return fmt.Sprintf("string (one of %v)", n.Enum)
		}
		return "string"
	default:
		return string(n.Kind)
	}
}
