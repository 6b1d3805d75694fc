package tools

import (
	"bytes"
	"encoding/json"
	"math"
	"sort"

	"github.com/pkg/errors"

	"github.com/vadiminshakov/vaultpilot/internal/domain"
)

// Schema helpers for building JSON Schema definitions of tool arguments.

// PropertyType JSON Schema primitive type.
type PropertyType string

const (
	TypeString  PropertyType = "string"
	TypeInteger PropertyType = "integer"
	TypeNumber  PropertyType = "number"
	TypeBoolean PropertyType = "boolean"
)

// Property single tool argument.
type Property struct {
	Type        PropertyType `json:"type"`
	Description string       `json:"description"`
	Enum        []any        `json:"enum,omitempty"`
}

// Schema object schema of tool arguments.
type Schema struct {
	Properties map[string]Property
	Required   []string
}

// ObjectSchema creates an object schema with the given properties.
func ObjectSchema(properties map[string]Property, required ...string) Schema {
	if properties == nil {
		properties = map[string]Property{}
	}
	return Schema{Properties: properties, Required: required}
}

// StringProperty creates a string property.
func StringProperty(description string) Property {
	return Property{Type: TypeString, Description: description}
}

// IntegerEnumProperty creates an integer property with allowed values.
func IntegerEnumProperty(description string, values ...int) Property {
	enum := make([]any, 0, len(values))
	for _, v := range values {
		enum = append(enum, v)
	}
	return Property{Type: TypeInteger, Description: description, Enum: enum}
}

// Map renders the schema as a JSON Schema object.
func (s Schema) Map() map[string]any {
	props := make(map[string]any, len(s.Properties))
	for name, p := range s.Properties {
		prop := map[string]any{"type": string(p.Type), "description": p.Description}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		props[name] = prop
	}
	schema := map[string]any{
		"type":                 "object",
		"properties":           props,
		"additionalProperties": false,
	}
	if len(s.Required) > 0 {
		schema["required"] = s.Required
	}
	return schema
}

// Parse decodes raw JSON arguments and validates them against the schema.
// Empty input is treated as an empty object.
func (s Schema) Parse(raw json.RawMessage) (Args, error) {
	args := Args{}
	if len(raw) > 0 && string(raw) != "null" {
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		if err := dec.Decode(&args); err != nil {
			return nil, errors.Wrap(domain.ErrSchemaValidation, "arguments must be a JSON object: "+err.Error())
		}
	}
	if err := s.Validate(args); err != nil {
		return nil, err
	}
	return args, nil
}

// Validate checks that every required argument is present and every argument has the declared type.
func (s Schema) Validate(args Args) error {
	for _, name := range s.Required {
		if v, ok := args[name]; !ok || v == nil {
			return errors.Wrapf(domain.ErrSchemaValidation, "missing required argument %q", name)
		}
	}

	names := make([]string, 0, len(args))
	for name := range args {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		prop, ok := s.Properties[name]
		if !ok {
			return errors.Wrapf(domain.ErrSchemaValidation, "unexpected argument %q", name)
		}
		value := args[name]
		if value == nil {
			continue
		}
		if !matchesType(prop.Type, value) {
			return errors.Wrapf(domain.ErrSchemaValidation, "argument %q must be of type %s, got %T", name, prop.Type, value)
		}
		if len(prop.Enum) > 0 && !inEnum(prop, value) {
			return errors.Wrapf(domain.ErrSchemaValidation, "argument %q must be one of %v, got %v", name, prop.Enum, value)
		}
	}
	return nil
}

func matchesType(t PropertyType, v any) bool {
	switch t {
	case TypeString:
		_, ok := v.(string)
		return ok
	case TypeBoolean:
		_, ok := v.(bool)
		return ok
	case TypeNumber:
		_, ok := toFloat(v)
		return ok
	case TypeInteger:
		f, ok := toFloat(v)
		return ok && f == math.Trunc(f)
	}
	return false
}

func inEnum(p Property, v any) bool {
	for _, allowed := range p.Enum {
		if p.Type == TypeInteger || p.Type == TypeNumber {
			a, _ := toFloat(allowed)
			b, _ := toFloat(v)
			if a == b {
				return true
			}
			continue
		}
		if allowed == v {
			return true
		}
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint8:
		return float64(n), true
	}
	return 0, false
}
