// Package schema implements the minimal JSON-Schema subset used to describe
// and validate tool arguments: object type, properties with scalar/array/
// object types, and a required list. Tools declare schemas either literally
// or derived from a Go struct via FromStruct.
package schema

import (
	"fmt"
	"reflect"
	"strings"
)

// ValidationError describes a single argument that failed validation.
type ValidationError struct {
	Field   string `json:"field"`
	Value   any    `json:"value"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field %q: %s", e.Field, e.Message)
}

// WellFormed checks that a schema map is usable by Validate: it must declare
// type "object" (or omit type) and, when present, properties must be a map
// and required a list of strings naming declared properties.
func WellFormed(s map[string]any) error {
	if s == nil {
		return fmt.Errorf("schema is nil")
	}
	if typ, ok := s["type"].(string); ok && typ != "object" {
		return fmt.Errorf("schema root type must be object, got %q", typ)
	}
	props, _ := s["properties"].(map[string]any)
	for _, req := range requiredFields(s) {
		if props == nil {
			return fmt.Errorf("required field %q has no properties declaration", req)
		}
		if _, ok := props[req]; !ok {
			return fmt.Errorf("required field %q is not a declared property", req)
		}
	}
	return nil
}

// Validate checks args against the schema: every required field must be
// present and every declared field must match its declared type. Fields not
// covered by the schema are allowed through untouched.
func Validate(args map[string]any, s map[string]any) error {
	for _, req := range requiredFields(s) {
		if _, ok := args[req]; !ok {
			return &ValidationError{Field: req, Message: "required field is missing"}
		}
	}

	props, _ := s["properties"].(map[string]any)
	for name, value := range args {
		prop, ok := props[name].(map[string]any)
		if !ok {
			continue
		}
		want, _ := prop["type"].(string)
		if !matchesType(value, want) {
			return &ValidationError{
				Field:   name,
				Value:   value,
				Message: fmt.Sprintf("expected type %s, got %T", want, value),
			}
		}
	}
	return nil
}

// requiredFields normalizes the schema's required list, which may be decoded
// as []string (hand-written) or []any (round-tripped through JSON).
func requiredFields(s map[string]any) []string {
	switch req := s["required"].(type) {
	case []string:
		return req
	case []any:
		out := make([]string, 0, len(req))
		for _, r := range req {
			if name, ok := r.(string); ok {
				out = append(out, name)
			}
		}
		return out
	default:
		return nil
	}
}

// matchesType reports whether a decoded JSON value satisfies a schema type.
// nil satisfies every type; unknown types are assumed valid.
func matchesType(value any, want string) bool {
	if value == nil {
		return true
	}
	switch want {
	case "string":
		_, ok := value.(string)
		return ok
	case "integer":
		switch v := value.(type) {
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
			return true
		case float64: // JSON numbers decode as float64
			return v == float64(int64(v))
		}
		return false
	case "number":
		switch value.(type) {
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64,
			float32, float64:
			return true
		}
		return false
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "array":
		return reflect.TypeOf(value).Kind() == reflect.Slice
	case "object":
		_, ok := value.(map[string]any)
		return ok
	default:
		return true
	}
}

// FromStruct derives an object schema from an annotated Go struct. Field
// names follow json tags; `description` tags become property descriptions;
// pointer or omitempty fields are optional, everything else required.
func FromStruct(v any) map[string]any {
	t := reflect.TypeOf(v)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	properties := map[string]any{}
	var required []string

	if t.Kind() == reflect.Struct {
		for i := 0; i < t.NumField(); i++ {
			field := t.Field(i)
			if !field.IsExported() {
				continue
			}
			jsonTag := field.Tag.Get("json")
			if jsonTag == "-" {
				continue
			}
			name := field.Name
			if parts := strings.Split(jsonTag, ","); jsonTag != "" && parts[0] != "" {
				name = parts[0]
			}

			prop := map[string]any{"type": jsonType(field.Type)}
			if desc := field.Tag.Get("description"); desc != "" {
				prop["description"] = desc
			}
			properties[name] = prop

			optional := field.Type.Kind() == reflect.Ptr || strings.Contains(jsonTag, ",omitempty")
			if !optional {
				required = append(required, name)
			}
		}
	}

	s := map[string]any{"type": "object", "properties": properties}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

// jsonType maps a Go type onto the corresponding JSON schema type name.
func jsonType(t reflect.Type) string {
	switch t.Kind() {
	case reflect.String:
		return "string"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return "integer"
	case reflect.Float32, reflect.Float64:
		return "number"
	case reflect.Bool:
		return "boolean"
	case reflect.Slice, reflect.Array:
		return "array"
	case reflect.Map, reflect.Struct:
		return "object"
	case reflect.Ptr:
		return jsonType(t.Elem())
	default:
		return "string"
	}
}
