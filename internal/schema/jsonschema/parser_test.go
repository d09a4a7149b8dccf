package jsonschema

import (
	"testing"

	"github.com/axonops/kafka-schema-registry/internal/storage"
)

const personSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "name": {"type": "string"},
    "age": {"type": "integer", "minimum": 0}
  },
  "required": ["name"]
}`

func TestParseValidSchema(t *testing.T) {
	p := NewParser()
	parsed, err := p.Parse(personSchema, nil)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if parsed.Type() != storage.SchemaTypeJSON {
		t.Errorf("Type = %s", parsed.Type())
	}
	if !parsed.HasTopLevelField("name") {
		t.Error("HasTopLevelField(name) = false")
	}
}

func TestParseRejectsInvalidJSON(t *testing.T) {
	p := NewParser()
	if _, err := p.Parse(`{"type": `, nil); err == nil {
		t.Fatal("expected error for truncated JSON")
	}
}

func TestCanonicalStringSortsKeys(t *testing.T) {
	p := NewParser()
	a, err := p.Parse(`{"type":"object","properties":{"b":{"type":"string"},"a":{"type":"integer"}}}`, nil)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	b, err := p.Parse(`{"properties":{"a":{"type":"integer"},"b":{"type":"string"}},"type":"object"}`, nil)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if a.CanonicalString() != b.CanonicalString() {
		t.Errorf("canonical forms differ:\n%s\n%s", a.CanonicalString(), b.CanonicalString())
	}
	if a.Fingerprint() != b.Fingerprint() {
		t.Error("equivalent schemas should share a fingerprint")
	}
}

func TestParseWithReference(t *testing.T) {
	p := NewParser()
	address := `{"type":"object","properties":{"street":{"type":"string"}}}`
	person := `{"type":"object","properties":{"address":{"$ref":"address.json"}}}`

	refs := []storage.Reference{{Name: "address.json", Subject: "address", Version: 1, Schema: address}}
	if _, err := p.Parse(person, refs); err != nil {
		t.Fatalf("Parse with refs: %v", err)
	}
	if _, err := p.Parse(person, nil); err == nil {
		t.Error("expected unresolved $ref to fail")
	}
}
