package protobuf

import (
	"strings"
	"testing"

	"github.com/axonops/kafka-schema-registry/internal/storage"
)

const orderProto = `
syntax = "proto3";
package com.example;

message Order {
  string id = 1;
  double total = 2;
}
`

func TestParseValidSchema(t *testing.T) {
	p := NewParser()
	parsed, err := p.Parse(orderProto, nil)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if parsed.Type() != storage.SchemaTypeProtobuf {
		t.Errorf("Type = %s", parsed.Type())
	}
	if !parsed.HasTopLevelField("id") {
		t.Error("HasTopLevelField(id) = false")
	}
}

func TestParseInvalidSchema(t *testing.T) {
	p := NewParser()
	if _, err := p.Parse(`message Broken {`, nil); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestCanonicalStringIsDeterministic(t *testing.T) {
	p := NewParser()
	a, err := p.Parse(orderProto, nil)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	// Same declarations, different order and comments.
	b, err := p.Parse(`
syntax = "proto3";
package com.example;

// the order
message Order {
  double total = 2; // money
  string id = 1;
}
`, nil)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if a.CanonicalString() != b.CanonicalString() {
		t.Errorf("canonical forms differ:\n%s\n%s", a.CanonicalString(), b.CanonicalString())
	}
	if !strings.Contains(a.CanonicalString(), "package com.example;") {
		t.Errorf("canonical form missing package: %s", a.CanonicalString())
	}
}

func TestParseWithReference(t *testing.T) {
	p := NewParser()
	item := `
syntax = "proto3";
package com.example;
message Item {
  string sku = 1;
}
`
	cart := `
syntax = "proto3";
package com.example;
import "item.proto";
message Cart {
  repeated com.example.Item items = 1;
}
`
	refs := []storage.Reference{{Name: "item.proto", Subject: "item", Version: 1, Schema: item}}
	if _, err := p.Parse(cart, refs); err != nil {
		t.Fatalf("Parse with refs: %v", err)
	}
	if _, err := p.Parse(cart, nil); err == nil {
		t.Error("expected missing import to fail")
	}
}

func TestWellKnownImports(t *testing.T) {
	p := NewParser()
	s := `
syntax = "proto3";
package com.example;
import "google/protobuf/timestamp.proto";
message Event {
  google.protobuf.Timestamp at = 1;
}
`
	if _, err := p.Parse(s, nil); err != nil {
		t.Fatalf("well-known import should resolve: %v", err)
	}
}

func TestFormattedStringSerialized(t *testing.T) {
	p := NewParser()
	parsed, err := p.Parse(orderProto, nil)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	serialized := parsed.FormattedString("serialized")
	if serialized == "" || serialized == parsed.CanonicalString() {
		t.Error("serialized format should differ from canonical text")
	}
}
