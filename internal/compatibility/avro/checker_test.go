package avro

import (
	"fmt"
	"testing"

	"github.com/axonops/kafka-schema-registry/internal/compatibility"
	"github.com/axonops/kafka-schema-registry/internal/storage"
)

func record(fields string) compatibility.SchemaWithRefs {
	return compatibility.SchemaWithRefs{
		Schema: fmt.Sprintf(`{"type":"record","name":"Rec","fields":[%s]}`, fields),
	}
}

func check(t *testing.T, reader, writer compatibility.SchemaWithRefs) *compatibility.Result {
	t.Helper()
	return NewChecker().Check(reader, writer)
}

func TestIdenticalSchemas(t *testing.T) {
	s := record(`{"name":"a","type":"string"}`)
	if r := check(t, s, s); !r.IsCompatible {
		t.Errorf("identical schemas incompatible: %v", r.Messages)
	}
}

func TestAddFieldWithDefault(t *testing.T) {
	writer := record(`{"name":"a","type":"string"}`)
	reader := record(`{"name":"a","type":"string"},{"name":"b","type":"int","default":0}`)
	if r := check(t, reader, writer); !r.IsCompatible {
		t.Errorf("field with default should be compatible: %v", r.Messages)
	}
}

func TestAddFieldWithoutDefault(t *testing.T) {
	writer := record(`{"name":"a","type":"string"}`)
	reader := record(`{"name":"a","type":"string"},{"name":"b","type":"int"}`)
	if r := check(t, reader, writer); r.IsCompatible {
		t.Error("field without default should be incompatible")
	}
}

func TestRemoveField(t *testing.T) {
	writer := record(`{"name":"a","type":"string"},{"name":"b","type":"int"}`)
	reader := record(`{"name":"a","type":"string"}`)
	// Readers ignore writer fields they do not declare.
	if r := check(t, reader, writer); !r.IsCompatible {
		t.Errorf("removed field should be compatible: %v", r.Messages)
	}
}

func TestFieldTypeChange(t *testing.T) {
	writer := record(`{"name":"a","type":"string"}`)
	reader := record(`{"name":"a","type":"int"}`)
	r := check(t, reader, writer)
	if r.IsCompatible {
		t.Error("string to int should be incompatible")
	}
	if len(r.Messages) == 0 {
		t.Error("expected a failure message")
	}
}

func TestTypePromotions(t *testing.T) {
	promotions := []struct {
		writer, reader string
		ok             bool
	}{
		{"int", "long", true},
		{"int", "double", true},
		{"long", "float", true},
		{"float", "double", true},
		{"string", "bytes", true},
		{"bytes", "string", true},
		{"long", "int", false},
		{"double", "float", false},
	}
	for _, tt := range promotions {
		writer := record(fmt.Sprintf(`{"name":"a","type":"%s"}`, tt.writer))
		reader := record(fmt.Sprintf(`{"name":"a","type":"%s"}`, tt.reader))
		r := check(t, reader, writer)
		if r.IsCompatible != tt.ok {
			t.Errorf("%s -> %s: compatible = %v, want %v", tt.writer, tt.reader, r.IsCompatible, tt.ok)
		}
	}
}

func TestUnionWidening(t *testing.T) {
	writer := record(`{"name":"a","type":"string"}`)
	reader := record(`{"name":"a","type":["null","string"]}`)
	if r := check(t, reader, writer); !r.IsCompatible {
		t.Errorf("widening into union should be compatible: %v", r.Messages)
	}
}

func TestUnionNarrowing(t *testing.T) {
	writer := record(`{"name":"a","type":["null","string"]}`)
	reader := record(`{"name":"a","type":"string"}`)
	if r := check(t, reader, writer); r.IsCompatible {
		t.Error("narrowing from union should be incompatible: writer may emit null")
	}
}

func TestUnionBranchRemoved(t *testing.T) {
	writer := record(`{"name":"a","type":["null","string","int"]}`)
	reader := record(`{"name":"a","type":["null","string"]}`)
	if r := check(t, reader, writer); r.IsCompatible {
		t.Error("removed union branch should be incompatible")
	}
}

func TestEnumSymbolRemoved(t *testing.T) {
	writer := record(`{"name":"a","type":{"type":"enum","name":"Color","symbols":["RED","GREEN","BLUE"]}}`)
	reader := record(`{"name":"a","type":{"type":"enum","name":"Color","symbols":["RED","GREEN"]}}`)
	if r := check(t, reader, writer); r.IsCompatible {
		t.Error("removed enum symbol without default should be incompatible")
	}
}

func TestEnumSymbolRemovedWithDefault(t *testing.T) {
	writer := record(`{"name":"a","type":{"type":"enum","name":"Color","symbols":["RED","GREEN","BLUE"]}}`)
	reader := record(`{"name":"a","type":{"type":"enum","name":"Color","symbols":["RED","GREEN"],"default":"RED"}}`)
	if r := check(t, reader, writer); !r.IsCompatible {
		t.Errorf("enum default should absorb unknown symbols: %v", r.Messages)
	}
}

func TestArrayItemResolution(t *testing.T) {
	writer := record(`{"name":"a","type":{"type":"array","items":"int"}}`)
	reader := record(`{"name":"a","type":{"type":"array","items":"long"}}`)
	if r := check(t, reader, writer); !r.IsCompatible {
		t.Errorf("array item promotion should be compatible: %v", r.Messages)
	}

	reader = record(`{"name":"a","type":{"type":"array","items":"string"}}`)
	if r := check(t, reader, writer); r.IsCompatible {
		t.Error("array item type change should be incompatible")
	}
}

func TestFixedSizeChange(t *testing.T) {
	writer := record(`{"name":"a","type":{"type":"fixed","name":"Hash","size":16}}`)
	reader := record(`{"name":"a","type":{"type":"fixed","name":"Hash","size":32}}`)
	if r := check(t, reader, writer); r.IsCompatible {
		t.Error("fixed size change should be incompatible")
	}
}

func TestRecordNameAlias(t *testing.T) {
	writer := compatibility.SchemaWithRefs{
		Schema: `{"type":"record","name":"OldRec","fields":[{"name":"a","type":"string"}]}`,
	}
	reader := compatibility.SchemaWithRefs{
		Schema: `{"type":"record","name":"NewRec","aliases":["OldRec"],"fields":[{"name":"a","type":"string"}]}`,
	}
	if r := check(t, reader, writer); !r.IsCompatible {
		t.Errorf("record alias should match writer name: %v", r.Messages)
	}
}

func TestFieldAlias(t *testing.T) {
	writer := record(`{"name":"old_name","type":"string"}`)
	reader := record(`{"name":"new_name","aliases":["old_name"],"type":"string"}`)
	if r := check(t, reader, writer); !r.IsCompatible {
		t.Errorf("field alias should resolve: %v", r.Messages)
	}
}

func TestInvalidSchema(t *testing.T) {
	bad := compatibility.SchemaWithRefs{Schema: `not avro`}
	good := record(`{"name":"a","type":"string"}`)
	if r := check(t, bad, good); r.IsCompatible {
		t.Error("invalid reader schema should be incompatible")
	}
	if r := check(t, good, bad); r.IsCompatible {
		t.Error("invalid writer schema should be incompatible")
	}
}

func TestCheckWithReferences(t *testing.T) {
	item := `{"type":"record","name":"Item","namespace":"com.example","fields":[{"name":"sku","type":"string"}]}`
	cart := compatibility.SchemaWithRefs{
		Schema: `{"type":"record","name":"Cart","namespace":"com.example","fields":[{"name":"items","type":{"type":"array","items":"com.example.Item"}}]}`,
		References: []storage.Reference{
			{Name: "com.example.Item", Subject: "item", Version: 1, Schema: item},
		},
	}
	if r := check(t, cart, cart); !r.IsCompatible {
		t.Errorf("referenced schemas should resolve: %v", r.Messages)
	}
}
