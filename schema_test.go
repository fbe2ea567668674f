package agentpod

import (
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/sashabaranov/go-openai/jsonschema"
)

type greeting struct {
	Text string `json:"text" description:"must start with 'Hello'"`
	Tone string `json:"tone" enum:"formal,casual"`
}

type article struct {
	Title string   `json:"title"`
	Tags  []string `json:"tags,omitempty"`
}

func TestSchemaForStruct(t *testing.T) {
	s, err := SchemaFor[greeting]()
	if err != nil {
		t.Fatalf("SchemaFor: %v", err)
	}
	if s.Wrapped() {
		t.Fatal("struct schema should not be wrapped")
	}
	if s.Name != "greeting" {
		t.Errorf("Name = %q, want greeting", s.Name)
	}
	def := s.Definition()
	if got := def.Properties["text"].Description; got != "must start with 'Hello'" {
		t.Errorf("text description = %q", got)
	}
	if got := def.Properties["tone"].Enum; !reflect.DeepEqual(got, []string{"formal", "casual"}) {
		t.Errorf("tone enum = %v", got)
	}
	if !s.Strict() {
		t.Error("all-required struct should be strict compatible")
	}
}

func TestSchemaForOptionalFieldNotStrict(t *testing.T) {
	s := MustSchemaFor[article]()
	if s.Strict() {
		t.Error("schema with an optional field must not claim strict mode")
	}
}

func TestSchemaForWrapsNonObjects(t *testing.T) {
	s, err := SchemaFor[[]string]()
	if err != nil {
		t.Fatalf("SchemaFor: %v", err)
	}
	if !s.Wrapped() {
		t.Fatal("[]string schema should be wrapped")
	}
	if s.Name != "list_of_string" {
		t.Errorf("Name = %q, want list_of_string", s.Name)
	}
	raw, err := s.JSON()
	if err != nil {
		t.Fatalf("JSON: %v", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("schema is not JSON: %v", err)
	}
	if doc["type"] != "object" {
		t.Errorf("root type = %v, want object", doc["type"])
	}
	if !s.Strict() {
		t.Error("wrapped list schema should be strict compatible")
	}
}

func TestSchemaForInterface(t *testing.T) {
	if _, err := SchemaFor[any](); err == nil {
		t.Fatal("expected error for interface type")
	}
}

func TestDecodeStruct(t *testing.T) {
	s := MustSchemaFor[greeting]()
	tests := []struct {
		name string
		raw  string
	}{
		{"plain", `{"text":"Hello there","tone":"casual"}`},
		{"fenced", "Sure:\n```json\n{\"text\":\"Hello there\",\"tone\":\"casual\"}\n```"},
		{"prose", `Here it is: {"text":"Hello there","tone":"casual"} hope that helps`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var g greeting
			if err := s.Decode(tt.raw, &g); err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if g.Text != "Hello there" || g.Tone != "casual" {
				t.Errorf("got %+v", g)
			}
		})
	}
}

func TestDecodeRejectsNonConforming(t *testing.T) {
	s := MustSchemaFor[greeting]()
	tests := []struct {
		name string
		raw  string
	}{
		{"missing field", `{"text":"Hello"}`},
		{"wrong type", `{"text":42,"tone":"casual"}`},
		{"enum", `{"text":"Hello","tone":"angry"}`},
		{"not json", `I cannot do that`},
		{"array", `[{"text":"Hello","tone":"casual"}]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var g greeting
			err := s.Decode(tt.raw, &g)
			var sve *SchemaValidationError
			if !errors.As(err, &sve) {
				t.Fatalf("Decode() error = %v, want *SchemaValidationError", err)
			}
			if sve.Raw != tt.raw {
				t.Errorf("Raw = %q, want %q", sve.Raw, tt.raw)
			}
		})
	}
}

func TestDecodeWrapped(t *testing.T) {
	s := MustSchemaFor[[]string]()

	var got []string
	if err := s.Decode(`{"result":["hi","hello","hey"]}`, &got); err != nil {
		t.Fatalf("Decode envelope: %v", err)
	}
	if !reflect.DeepEqual(got, []string{"hi", "hello", "hey"}) {
		t.Errorf("got %v", got)
	}

	got = nil
	if err := s.Decode(`["a","b"]`, &got); err != nil {
		t.Fatalf("Decode bare array: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("got %v, want 2 items", got)
	}

	if err := s.Decode(`{"result":[1,2]}`, &got); err == nil {
		t.Error("expected error for numbers in a string list")
	}
}

func TestDecodeListOfStructs(t *testing.T) {
	s := MustSchemaFor[[]greeting]()
	var got []greeting
	raw := `{"result":[{"text":"Hello A","tone":"formal"},{"text":"Hello B","tone":"casual"}]}`
	if err := s.Decode(raw, &got); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(got) != 2 || got[1].Text != "Hello B" {
		t.Errorf("got %+v", got)
	}

	bad := `{"result":[{"text":"Hello A","tone":"loud"}]}`
	if err := s.Decode(bad, &got); err == nil {
		t.Error("expected enum violation inside list to fail")
	}
}

func TestDecodeScalar(t *testing.T) {
	s := MustSchemaFor[int]()
	var n int
	if err := s.Decode(`{"result": 3}`, &n); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if n != 3 {
		t.Errorf("n = %d, want 3", n)
	}
	if err := s.Decode(`{"result": 3.5}`, &n); err == nil {
		t.Error("expected non-integer to fail")
	}
}

type noteTag struct {
	Name  string  `json:"name"`
	Color *string `json:"color,omitempty"`
}

type note struct {
	Title string    `json:"title"`
	Note  *string   `json:"note,omitempty"`
	Tags  []noteTag `json:"tags,omitempty"`
}

func TestDecodeOptionalNull(t *testing.T) {
	s := MustSchemaFor[note]()

	var n note
	if err := s.Decode(`{"title":"x","note":null,"tags":[{"name":"y","color":null}]}`, &n); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if n.Title != "x" || n.Note != nil || len(n.Tags) != 1 || n.Tags[0].Name != "y" {
		t.Errorf("got %+v", n)
	}

	if err := s.Decode(`{"title":"x","tags":null}`, &n); err != nil {
		t.Errorf("null optional list: %v", err)
	}
	if err := s.Decode(`{"title":null}`, &n); err == nil {
		t.Error("null for a required field must still fail")
	}
	if err := s.Decode(`{"title":"x","tags":[{"name":null}]}`, &n); err == nil {
		t.Error("null for a required nested field must still fail")
	}
}

func TestNewOutputSchemaRejectsUntypedArray(t *testing.T) {
	if _, err := NewOutputSchema("tags", jsonschema.Definition{Type: jsonschema.Array}); err == nil {
		t.Error("array without items should be rejected")
	}

	nested := jsonschema.Definition{
		Type:       jsonschema.Object,
		Properties: map[string]jsonschema.Definition{"tags": {Type: jsonschema.Array}},
		Required:   []string{"tags"},
	}
	if _, err := NewOutputSchema("post", nested); err == nil {
		t.Error("nested array without items should be rejected")
	}

	s, err := NewOutputSchema("tags", jsonschema.Definition{
		Type:  jsonschema.Array,
		Items: &jsonschema.Definition{Type: jsonschema.String},
	})
	if err != nil {
		t.Fatalf("NewOutputSchema: %v", err)
	}
	var got []string
	if err := s.Decode(`{"result":["a","b"]}`, &got); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("got %v", got)
	}
}

func TestDecodeZeroSchemaDoesNotPanic(t *testing.T) {
	s := OutputSchema{Name: "broken", def: jsonschema.Definition{Type: jsonschema.Array}}
	var out []string
	var sve *SchemaValidationError
	if err := s.Decode(`["a"]`, &out); !errors.As(err, &sve) {
		t.Fatalf("Decode() error = %v, want *SchemaValidationError", err)
	}
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"```json\n{\"a\":1}\n```", `{"a":1}`},
		{"```\n[1,2]\n```", `[1,2]`},
		{`noise {"a":{"b":2}} trailing`, `{"a":{"b":2}}`},
		{"no json here", "no json here"},
	}
	for _, tt := range tests {
		if got := extractJSON(tt.in); strings.TrimSpace(got) != tt.want {
			t.Errorf("extractJSON(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
