package avro

import (
	"testing"

	"github.com/axonops/kafka-schema-registry/internal/storage"
)

const orderSchema = `{
  "type": "record",
  "name": "Order",
  "namespace": "com.example",
  "doc": "an order",
  "fields": [
    {"name": "id", "type": "string", "doc": "order id"},
    {"name": "total", "type": "double", "default": 0}
  ]
}`

func TestParseValidSchema(t *testing.T) {
	p := NewParser()
	parsed, err := p.Parse(orderSchema, nil)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if parsed.Type() != storage.SchemaTypeAvro {
		t.Errorf("Type = %s", parsed.Type())
	}
	if !parsed.HasTopLevelField("id") {
		t.Error("HasTopLevelField(id) = false")
	}
	if parsed.HasTopLevelField("missing") {
		t.Error("HasTopLevelField(missing) = true")
	}
}

func TestParseInvalidSchema(t *testing.T) {
	p := NewParser()
	if _, err := p.Parse(`{"type":"record","name":"X"}`, nil); err == nil {
		t.Fatal("expected error for record without fields")
	}
}

func TestCanonicalFormStripsDocsAndDefaults(t *testing.T) {
	p := NewParser()
	parsed, err := p.Parse(orderSchema, nil)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	canonical := parsed.CanonicalString()
	want := `{"name":"com.example.Order","type":"record","fields":[{"name":"id","type":"string"},{"name":"total","type":"double"}]}`

	// Equivalent schema with reordered attributes and no doc strings.
	reordered := `{"fields":[{"type":"string","name":"id"},{"type":"double","name":"total","default":0}],"namespace":"com.example","name":"Order","type":"record"}`
	parsed2, err := p.Parse(reordered, nil)
	if err != nil {
		t.Fatalf("Parse reordered: %v", err)
	}

	if canonical != want {
		t.Errorf("canonical = %s, want %s", canonical, want)
	}
	if parsed2.CanonicalString() != canonical {
		t.Errorf("reordered schema canonicalized differently: %s", parsed2.CanonicalString())
	}
	if parsed2.Fingerprint() != parsed.Fingerprint() {
		t.Error("equivalent schemas should share a fingerprint")
	}
}

func TestParseWithReferences(t *testing.T) {
	p := NewParser()
	itemSchema := `{"type":"record","name":"Item","namespace":"com.example","fields":[{"name":"sku","type":"string"}]}`
	refSchema := `{"type":"record","name":"Cart","namespace":"com.example","fields":[{"name":"items","type":{"type":"array","items":"com.example.Item"}}]}`

	refs := []storage.Reference{{Name: "com.example.Item", Subject: "item", Version: 1, Schema: itemSchema}}
	parsed, err := p.Parse(refSchema, refs)
	if err != nil {
		t.Fatalf("Parse with refs: %v", err)
	}
	if len(parsed.References()) != 1 {
		t.Errorf("References() = %v", parsed.References())
	}

	// The same schema without its reference resolved must fail.
	if _, err := p.Parse(refSchema, nil); err == nil {
		t.Error("expected unresolved reference to fail")
	}
}

func TestDeepEquals(t *testing.T) {
	p := NewParser()
	a, _ := p.Parse(orderSchema, nil)
	b, _ := p.Parse(orderSchema, nil)
	c, _ := p.Parse(`"string"`, nil)

	if !a.DeepEquals(b) {
		t.Error("identical schemas should be deep-equal")
	}
	if a.DeepEquals(c) {
		t.Error("different schemas should not be deep-equal")
	}
}

func TestPrimitiveSchema(t *testing.T) {
	p := NewParser()
	parsed, err := p.Parse(`"string"`, nil)
	if err != nil {
		t.Fatalf("Parse primitive: %v", err)
	}
	if parsed.CanonicalString() != `"string"` {
		t.Errorf("canonical = %s", parsed.CanonicalString())
	}
}
