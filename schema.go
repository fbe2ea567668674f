package agentpod

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"slices"
	"strings"

	"github.com/sashabaranov/go-openai/jsonschema"
)

// envelopeField is the property that carries non-object results. Structured
// output backends only accept an object at the root, so scalars and lists are
// requested as {"result": ...} and unwrapped before decoding.
const envelopeField = "result"

// OutputSchema describes the shape a reply must be coerced into.
//
// Build one from a Go type with SchemaFor. Struct tags steer generation:
//
//	type Greeting struct {
//		Text string `json:"text" description:"must start with 'Hello'"`
//		Tone string `json:"tone" enum:"formal,casual"`
//	}
//
// Descriptions are forwarded to the model as guidance only; they are not
// enforced when decoding. Type, required fields and enums are.
type OutputSchema struct {
	Name        string
	Description string

	def     jsonschema.Definition
	wrapped bool
}

// SchemaFor derives an OutputSchema from T. T may be a struct, a scalar, or a
// slice of either.
func SchemaFor[T any]() (OutputSchema, error) {
	t := reflect.TypeOf((*T)(nil)).Elem()
	if t.Kind() == reflect.Interface {
		return OutputSchema{}, fmt.Errorf("schema for %s: interface types have no schema", t)
	}
	var zero T
	def, err := jsonschema.GenerateSchemaForType(zero)
	if err != nil {
		return OutputSchema{}, fmt.Errorf("schema for %s: %w", t, err)
	}
	return NewOutputSchema(schemaName(t), *def)
}

// MustSchemaFor is like SchemaFor but panics on error. Useful for package
// level schema variables.
func MustSchemaFor[T any]() OutputSchema {
	s, err := SchemaFor[T]()
	if err != nil {
		panic(err)
	}
	return s
}

// NewOutputSchema wraps a hand-built definition. Non-object roots are placed
// in a single-property envelope. Every array must declare its item type.
func NewOutputSchema(name string, def jsonschema.Definition) (OutputSchema, error) {
	if err := checkItems(def, "$"); err != nil {
		return OutputSchema{}, fmt.Errorf("schema %s: %w", name, err)
	}
	if len(def.Defs) == 0 {
		def.Defs = nil
	}
	s := OutputSchema{Name: sanitizeSchemaName(name)}
	if def.Type == jsonschema.Object {
		s.def = def
		return s, nil
	}
	defs := def.Defs
	def.Defs = nil
	s.def = jsonschema.Definition{
		Type:                 jsonschema.Object,
		Properties:           map[string]jsonschema.Definition{envelopeField: def},
		Required:             []string{envelopeField},
		AdditionalProperties: false,
		Defs:                 defs,
	}
	s.wrapped = true
	return s, nil
}

// checkItems rejects arrays without an item schema; nothing can be validated
// against them.
func checkItems(d jsonschema.Definition, path string) error {
	if d.Type == jsonschema.Array {
		if d.Items == nil {
			return fmt.Errorf("array at %s has no item type", path)
		}
		if err := checkItems(*d.Items, path+"[]"); err != nil {
			return err
		}
	}
	for name, p := range d.Properties {
		if err := checkItems(p, path+"."+name); err != nil {
			return err
		}
	}
	for name, p := range d.Defs {
		if err := checkItems(p, "$defs."+name); err != nil {
			return err
		}
	}
	return nil
}

// Definition returns the object schema sent to the backend.
func (s OutputSchema) Definition() jsonschema.Definition { return s.def }

// Wrapped reports whether the target type sits inside the result envelope.
func (s OutputSchema) Wrapped() bool { return s.wrapped }

// JSON renders the schema sent to the backend.
func (s OutputSchema) JSON() ([]byte, error) {
	def := s.def
	return json.Marshal(&def)
}

// Strict reports whether the schema meets the backend's strict-mode rules:
// every object closes additional properties and lists all its properties as
// required.
func (s OutputSchema) Strict() bool {
	return strictCompatible(s.def)
}

func strictCompatible(d jsonschema.Definition) bool {
	if d.Type == jsonschema.Object {
		if d.AdditionalProperties != false {
			return false
		}
		if len(d.Required) != len(d.Properties) {
			return false
		}
	}
	for _, p := range d.Properties {
		if !strictCompatible(p) {
			return false
		}
	}
	for _, p := range d.Defs {
		if !strictCompatible(p) {
			return false
		}
	}
	if d.Items != nil {
		return strictCompatible(*d.Items)
	}
	return true
}

// Decode coerces a raw reply into out. Replies wrapped in prose or code
// fences are tolerated; anything that does not validate against the schema
// yields a *SchemaValidationError.
func (s OutputSchema) Decode(raw string, out any) error {
	fail := func(err error) error {
		return &SchemaValidationError{Schema: s.Name, Raw: raw, Err: err}
	}

	candidate := strings.TrimSpace(raw)
	if !json.Valid([]byte(candidate)) {
		candidate = extractJSON(candidate)
		if !json.Valid([]byte(candidate)) {
			return fail(errors.New("reply is not valid JSON"))
		}
	}

	var data any
	if err := json.Unmarshal([]byte(candidate), &data); err != nil {
		return fail(err)
	}

	defs := jsonschema.CollectDefs(s.def)
	if err := checkItems(s.def, "$"); err != nil {
		return fail(err)
	}
	payload := []byte(candidate)
	if s.wrapped {
		inner := s.def.Properties[envelopeField]
		obj, isObj := data.(map[string]any)
		if v, ok := obj[envelopeField]; isObj && ok && len(obj) == 1 {
			data = v
			var err error
			if payload, err = json.Marshal(v); err != nil {
				return fail(err)
			}
		}
		// A bare value matching the inner schema is accepted as well; some
		// backends drop the envelope in JSON object mode.
		data = dropOptionalNulls(inner, data, defs)
		if !jsonschema.Validate(inner, data, jsonschema.WithDefs(defs)) {
			return fail(errors.New("value does not match schema"))
		}
	} else {
		data = dropOptionalNulls(s.def, data, defs)
		if !jsonschema.Validate(s.def, data, jsonschema.WithDefs(defs)) {
			return fail(errors.New("value does not match schema"))
		}
	}

	if err := json.Unmarshal(payload, out); err != nil {
		return fail(err)
	}
	return nil
}

// dropOptionalNulls removes null values of properties that are not required,
// recursively. Non-strict backends send null for optional fields, which
// json.Unmarshal accepts but the validator does not.
func dropOptionalNulls(d jsonschema.Definition, data any, defs map[string]jsonschema.Definition) any {
	if d.Ref != "" {
		ref, ok := defs[d.Ref]
		if !ok {
			return data
		}
		d = ref
	}
	switch v := data.(type) {
	case map[string]any:
		if d.Type != jsonschema.Object {
			return data
		}
		for key, value := range v {
			prop, known := d.Properties[key]
			if !known {
				continue
			}
			if value == nil && !slices.Contains(d.Required, key) {
				delete(v, key)
				continue
			}
			v[key] = dropOptionalNulls(prop, value, defs)
		}
	case []any:
		if d.Type != jsonschema.Array || d.Items == nil {
			return data
		}
		for i := range v {
			v[i] = dropOptionalNulls(*d.Items, v[i], defs)
		}
	}
	return data
}

var codeBlockRe = regexp.MustCompile("(?s)```(?:json)?\\s*\n(.*?)\n?```")

// extractJSON pulls the first JSON document out of a reply that surrounds it
// with prose or markdown fences.
func extractJSON(raw string) string {
	if m := codeBlockRe.FindStringSubmatch(raw); len(m) == 2 {
		return strings.TrimSpace(m[1])
	}
	start := strings.IndexAny(raw, "{[")
	if start < 0 {
		return raw
	}
	closer := byte('}')
	if raw[start] == '[' {
		closer = ']'
	}
	end := strings.LastIndexByte(raw, closer)
	if end < start {
		return raw
	}
	return raw[start : end+1]
}

var schemaNameRe = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

func schemaName(t reflect.Type) string {
	switch t.Kind() {
	case reflect.Ptr:
		return schemaName(t.Elem())
	case reflect.Slice, reflect.Array:
		return "list_of_" + schemaName(t.Elem())
	}
	if t.Name() != "" {
		return t.Name()
	}
	return t.Kind().String()
}

func sanitizeSchemaName(name string) string {
	name = schemaNameRe.ReplaceAllString(name, "_")
	if name == "" {
		name = "output"
	}
	if len(name) > 64 {
		name = name[:64]
	}
	return name
}
