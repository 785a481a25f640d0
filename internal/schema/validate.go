package schema

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/schemaforge/schemaforge/internal/domain"
)

// Validate checks value against the schema and returns the coerced result.
// All issues are collected, not just the first. A non-empty issue list means
// the coerced value must be discarded.
//
// Coercions applied where the schema expects them: numeric-looking strings
// become numbers, "true"/"false" strings become booleans. Object properties
// not declared in the schema are stripped rather than rejected.
func (s *Schema) Validate(value any) (any, []domain.Issue) {
	v := &validator{}
	coerced := v.walk(s.root, value, nil)
	return coerced, v.issues
}

type validator struct {
	issues []domain.Issue
}

func (v *validator) report(path []any, format string, args ...any) {
	// Copy the path: the walk mutates its slice as it descends.
	p := make([]any, len(path))
	copy(p, path)
	v.issues = append(v.issues, domain.Issue{Path: p, Message: fmt.Sprintf(format, args...)})
}

func (v *validator) walk(n *Node, value any, path []any) any {
	switch n.Kind {
	case KindObject:
		return v.walkObject(n, value, path)
	case KindArray:
		return v.walkArray(n, value, path)
	case KindString:
		return v.walkString(n, value, path)
	case KindNumber:
		return v.walkNumber(n, value, path)
	case KindBoolean:
		return v.walkBoolean(n, value, path)
	default:
		v.report(path, "unsupported schema kind %q", n.Kind)
		return nil
	}
}

func (v *validator) walkObject(n *Node, value any, path []any) any {
	obj, ok := value.(map[string]any)
	if !ok {
		v.report(path, "expected object, got %s", typeName(value))
		return nil
	}

	for _, req := range n.Required {
		if _, present := obj[req]; !present {
			v.report(append(path, req), "required property is missing")
		}
	}

	out := make(map[string]any, len(obj))
	for name, child := range n.Properties {
		raw, present := obj[name]
		if !present {
			continue
		}
		out[name] = v.walk(child, raw, append(path, name))
	}
	// Undeclared properties are dropped, not rejected.
	return out
}

func (v *validator) walkArray(n *Node, value any, path []any) any {
	arr, ok := value.([]any)
	if !ok {
		v.report(path, "expected array, got %s", typeName(value))
		return nil
	}

	out := make([]any, len(arr))
	for i, item := range arr {
		out[i] = v.walk(n.Items, item, append(path, i))
	}
	return out
}

func (v *validator) walkString(n *Node, value any, path []any) any {
	s, ok := value.(string)
	if !ok {
		v.report(path, "expected string, got %s", typeName(value))
		return nil
	}

	if n.MinLength != nil && len(s) < *n.MinLength {
		v.report(path, "string is shorter than minimum length %d", *n.MinLength)
	}
	if n.MaxLength != nil && len(s) > *n.MaxLength {
		v.report(path, "string exceeds maximum length %d", *n.MaxLength)
	}
	if len(n.Enum) > 0 && !containsString(n.Enum, s) {
		v.report(path, "value %q is not one of %s", s, strings.Join(n.Enum, ", "))
	}
	return s
}

func (v *validator) walkNumber(n *Node, value any, path []any) any {
	var f float64
	switch t := value.(type) {
	case float64:
		f = t
	case int:
		f = float64(t)
	case int64:
		f = float64(t)
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			v.report(path, "expected number, got string %q", t)
			return nil
		}
		f = parsed
	default:
		v.report(path, "expected number, got %s", typeName(value))
		return nil
	}

	if n.Minimum != nil && f < *n.Minimum {
		v.report(path, "number is below minimum %v", *n.Minimum)
	}
	if n.Maximum != nil && f > *n.Maximum {
		v.report(path, "number exceeds maximum %v", *n.Maximum)
	}
	return f
}

func (v *validator) walkBoolean(_ *Node, value any, path []any) any {
	switch t := value.(type) {
	case bool:
		return t
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true":
			return true
		case "false":
			return false
		}
		v.report(path, "expected boolean, got string %q", t)
		return nil
	default:
		v.report(path, "expected boolean, got %s", typeName(value))
		return nil
	}
}

func typeName(value any) string {
	switch value.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case float64, int, int64:
		return "number"
	case string:
		return "string"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", value)
	}
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
