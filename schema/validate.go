package schema

import (
	"fmt"
	"strings"
)

// ValidationError reports the first structural mismatch between arguments and
// their declared schema. Field is a dotted path into nested objects, Expected
// and Actual name the conflicting JSON type shapes.
type ValidationError struct {
	Field    string `json:"field"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
	Message  string `json:"message"`
}

// Error implements the error interface for ValidationError.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// Options configures a validation pass.
type Options struct {
	// AllowExtraFields accepts arguments not declared in the schema instead
	// of rejecting them. Extra fields pass through uncoerced.
	AllowExtraFields bool
}

// WithAllowExtraFields disables strict mode for one validation pass.
func WithAllowExtraFields() func(o *Options) {
	return func(o *Options) {
		o.AllowExtraFields = true
	}
}

// Validate checks args against the schema and returns a coerced copy on
// success: integers arrive as int64 regardless of whether the wire carried
// them as float64, numbers arrive as float64, arrays and nested objects are
// validated recursively. The input map is never mutated. The first mismatch
// aborts validation with a *ValidationError.
func Validate(schema map[string]any, args map[string]any, optFns ...func(o *Options)) (map[string]any, error) {
	opts := Options{}
	for _, fn := range optFns {
		fn(&opts)
	}

	if args == nil {
		args = map[string]any{}
	}

	v := validator{allowExtra: opts.AllowExtraFields}
	return v.object("", schema, args)
}

type validator struct {
	allowExtra bool
}

func (v validator) object(path string, schema map[string]any, args map[string]any) (map[string]any, error) {
	properties, _ := schema["properties"].(map[string]any)

	for _, name := range requiredFields(schema) {
		if _, ok := args[name]; !ok {
			expected := "value"
			if prop, ok := properties[name].(map[string]any); ok {
				if ts, ok := prop["type"].(string); ok {
					expected = ts
				}
			}
			return nil, &ValidationError{
				Field:    fieldPath(path, name),
				Expected: expected,
				Actual:   "absent",
				Message:  "required field is missing",
			}
		}
	}

	if !v.allowExtra {
		for name := range args {
			if _, ok := properties[name]; !ok {
				return nil, &ValidationError{
					Field:    fieldPath(path, name),
					Expected: "absent",
					Actual:   typeName(args[name]),
					Message:  "field is not declared in the schema",
				}
			}
		}
	}

	out := make(map[string]any, len(args))
	for name, value := range args {
		prop, ok := properties[name].(map[string]any)
		if !ok {
			out[name] = value
			continue
		}
		coerced, err := v.value(fieldPath(path, name), prop, value)
		if err != nil {
			return nil, err
		}
		out[name] = coerced
	}
	return out, nil
}

func (v validator) value(path string, prop map[string]any, value any) (any, error) {
	expectedType, _ := prop["type"].(string)

	// null is accepted for any declared type, matching permissive JSON
	// decoding of absent-as-null payloads.
	if value == nil {
		return nil, nil
	}

	switch expectedType {
	case "", "any":
		return value, nil

	case "string":
		s, ok := value.(string)
		if !ok {
			return nil, typeError(path, "string", value)
		}
		if err := checkEnum(path, prop, s); err != nil {
			return nil, err
		}
		return s, nil

	case "integer":
		switch n := value.(type) {
		case int:
			return int64(n), nil
		case int8:
			return int64(n), nil
		case int16:
			return int64(n), nil
		case int32:
			return int64(n), nil
		case int64:
			return n, nil
		case uint:
			return int64(n), nil
		case uint8:
			return int64(n), nil
		case uint16:
			return int64(n), nil
		case uint32:
			return int64(n), nil
		case uint64:
			return int64(n), nil
		case float64: // JSON unmarshaling produces float64 for numbers
			if n == float64(int64(n)) {
				return int64(n), nil
			}
		}
		return nil, typeError(path, "integer", value)

	case "number":
		switch n := value.(type) {
		case int:
			return float64(n), nil
		case int8:
			return float64(n), nil
		case int16:
			return float64(n), nil
		case int32:
			return float64(n), nil
		case int64:
			return float64(n), nil
		case uint:
			return float64(n), nil
		case uint8:
			return float64(n), nil
		case uint16:
			return float64(n), nil
		case uint32:
			return float64(n), nil
		case uint64:
			return float64(n), nil
		case float32:
			return float64(n), nil
		case float64:
			return n, nil
		}
		return nil, typeError(path, "number", value)

	case "boolean":
		b, ok := value.(bool)
		if !ok {
			return nil, typeError(path, "boolean", value)
		}
		return b, nil

	case "array":
		arr, ok := value.([]any)
		if !ok {
			return nil, typeError(path, "array", value)
		}
		items, ok := prop["items"].(map[string]any)
		if !ok {
			cp := make([]any, len(arr))
			copy(cp, arr)
			return cp, nil
		}
		out := make([]any, len(arr))
		for i, item := range arr {
			coerced, err := v.value(fmt.Sprintf("%s[%d]", path, i), items, item)
			if err != nil {
				return nil, err
			}
			out[i] = coerced
		}
		return out, nil

	case "object":
		obj, ok := value.(map[string]any)
		if !ok {
			return nil, typeError(path, "object", value)
		}
		return v.object(path, prop, obj)

	default:
		return value, nil
	}
}

func checkEnum(path string, prop map[string]any, s string) error {
	raw, ok := prop["enum"]
	if !ok {
		return nil
	}

	var allowed []string
	switch vals := raw.(type) {
	case []string:
		allowed = vals
	case []any:
		for _, x := range vals {
			if xs, ok := x.(string); ok {
				allowed = append(allowed, xs)
			}
		}
	}
	if len(allowed) == 0 {
		return nil
	}

	for _, a := range allowed {
		if a == s {
			return nil
		}
	}
	return &ValidationError{
		Field:    path,
		Expected: "one of [" + strings.Join(allowed, ", ") + "]",
		Actual:   fmt.Sprintf("%q", s),
		Message:  "value is not in the allowed set",
	}
}

func typeError(path, expected string, value any) *ValidationError {
	return &ValidationError{
		Field:    path,
		Expected: expected,
		Actual:   typeName(value),
		Message:  fmt.Sprintf("expected type %s, got %s", expected, typeName(value)),
	}
}

// typeName maps a decoded JSON value to its schema type name.
func typeName(value any) string {
	switch value.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case float32, float64:
		return "number"
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return "integer"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", value)
	}
}

func fieldPath(path, name string) string {
	if path == "" {
		return name
	}
	return path + "." + name
}

func requiredFields(schema map[string]any) []string {
	switch req := schema["required"].(type) {
	case []string:
		return req
	case []any:
		out := make([]string, 0, len(req))
		for _, r := range req {
			if s, ok := r.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
