package protobuf

import (
	"testing"

	"github.com/axonops/kafka-schema-registry/internal/compatibility"
)

func check(t *testing.T, reader, writer string) *compatibility.Result {
	t.Helper()
	return NewChecker().Check(
		compatibility.SchemaWithRefs{Schema: reader},
		compatibility.SchemaWithRefs{Schema: writer})
}

const base = `
syntax = "proto3";
package com.example;
message Order {
  string id = 1;
  double total = 2;
}
`

func TestIdenticalSchemas(t *testing.T) {
	if r := check(t, base, base); !r.IsCompatible {
		t.Errorf("identical schemas incompatible: %v", r.Messages)
	}
}

func TestAddField(t *testing.T) {
	reader := `
syntax = "proto3";
package com.example;
message Order {
  string id = 1;
  double total = 2;
  string note = 3;
}
`
	if r := check(t, reader, base); !r.IsCompatible {
		t.Errorf("added optional field should be compatible: %v", r.Messages)
	}
}

func TestRemoveField(t *testing.T) {
	reader := `
syntax = "proto3";
package com.example;
message Order {
  string id = 1;
}
`
	// Proto3 readers skip unknown field numbers.
	if r := check(t, reader, base); !r.IsCompatible {
		t.Errorf("removed proto3 field should be compatible: %v", r.Messages)
	}
}

func TestFieldNameChangeIsCompatible(t *testing.T) {
	reader := `
syntax = "proto3";
package com.example;
message Order {
  string order_id = 1;
  double total = 2;
}
`
	// Wire format carries numbers, not names.
	if r := check(t, reader, base); !r.IsCompatible {
		t.Errorf("renamed field should be compatible: %v", r.Messages)
	}
}

func TestFieldTypeChange(t *testing.T) {
	reader := `
syntax = "proto3";
package com.example;
message Order {
  int32 id = 1;
  double total = 2;
}
`
	if r := check(t, reader, base); r.IsCompatible {
		t.Error("string to int32 should be incompatible")
	}
}

func TestWireCompatibleTypeChange(t *testing.T) {
	writer := `
syntax = "proto3";
package com.example;
message Counter {
  int32 n = 1;
}
`
	reader := `
syntax = "proto3";
package com.example;
message Counter {
  int64 n = 1;
}
`
	// int32 and int64 share varint encoding.
	if r := check(t, reader, writer); !r.IsCompatible {
		t.Errorf("int32 to int64 should be compatible: %v", r.Messages)
	}

	reader = `
syntax = "proto3";
package com.example;
message Counter {
  sint32 n = 1;
}
`
	if r := check(t, reader, writer); r.IsCompatible {
		t.Error("int32 to sint32 should be incompatible: zigzag encoding differs")
	}
}

func TestPackageChange(t *testing.T) {
	reader := `
syntax = "proto3";
package com.other;
message Order {
  string id = 1;
  double total = 2;
}
`
	if r := check(t, reader, base); r.IsCompatible {
		t.Error("package change should be incompatible")
	}
}

func TestMessageRemoved(t *testing.T) {
	writer := base + `
message Receipt {
  string id = 1;
}
`
	if r := check(t, base, writer); r.IsCompatible {
		t.Error("removed message should be incompatible")
	}
}

func TestMessageAdded(t *testing.T) {
	reader := base + `
message Receipt {
  string id = 1;
}
`
	if r := check(t, reader, base); !r.IsCompatible {
		t.Errorf("added message should be compatible: %v", r.Messages)
	}
}

func TestMultipleFieldsMovedIntoOneof(t *testing.T) {
	writer := `
syntax = "proto3";
package com.example;
message Payment {
  string card = 1;
  string iban = 2;
}
`
	reader := `
syntax = "proto3";
package com.example;
message Payment {
  oneof method {
    string card = 1;
    string iban = 2;
  }
}
`
	if r := check(t, reader, writer); r.IsCompatible {
		t.Error("moving multiple fields into a oneof should be incompatible")
	}
}

func TestSingleFieldMovedIntoNewOneof(t *testing.T) {
	writer := `
syntax = "proto3";
package com.example;
message Payment {
  string card = 1;
}
`
	reader := `
syntax = "proto3";
package com.example;
message Payment {
  oneof method {
    string card = 1;
  }
}
`
	if r := check(t, reader, writer); !r.IsCompatible {
		t.Errorf("single field into a fresh oneof should be compatible: %v", r.Messages)
	}
}

func TestFieldRemovedFromOneof(t *testing.T) {
	writer := `
syntax = "proto3";
package com.example;
message Payment {
  oneof method {
    string card = 1;
    string iban = 2;
  }
}
`
	reader := `
syntax = "proto3";
package com.example;
message Payment {
  oneof method {
    string card = 1;
  }
}
`
	if r := check(t, reader, writer); r.IsCompatible {
		t.Error("removing a oneof member should be incompatible")
	}
}

func TestFieldLeavesOneof(t *testing.T) {
	writer := `
syntax = "proto3";
package com.example;
message Payment {
  oneof method {
    string card = 1;
    string iban = 2;
  }
}
`
	reader := `
syntax = "proto3";
package com.example;
message Payment {
  string card = 1;
  oneof method {
    string iban = 2;
  }
}
`
	if r := check(t, reader, writer); r.IsCompatible {
		t.Error("field leaving a oneof should be incompatible")
	}
}

func TestOptionalToRepeatedString(t *testing.T) {
	writer := `
syntax = "proto3";
package com.example;
message Tags {
  string tag = 1;
}
`
	reader := `
syntax = "proto3";
package com.example;
message Tags {
  repeated string tag = 1;
}
`
	// Length-delimited kinds share the singular and repeated wire format.
	if r := check(t, reader, writer); !r.IsCompatible {
		t.Errorf("optional to repeated string should be compatible: %v", r.Messages)
	}
}

func TestOptionalToRepeatedScalar(t *testing.T) {
	writer := `
syntax = "proto3";
package com.example;
message Counts {
  int32 n = 1;
}
`
	reader := `
syntax = "proto3";
package com.example;
message Counts {
  repeated int32 n = 1;
}
`
	if r := check(t, reader, writer); r.IsCompatible {
		t.Error("optional to repeated int32 should be incompatible: packed encoding differs")
	}
}

func TestNestedMessageFieldTypeChange(t *testing.T) {
	writer := `
syntax = "proto3";
package com.example;
message Order {
  message Line {
    string sku = 1;
  }
  Line line = 1;
}
`
	reader := `
syntax = "proto3";
package com.example;
message Order {
  message Line {
    int32 sku = 1;
  }
  Line line = 1;
}
`
	if r := check(t, reader, writer); r.IsCompatible {
		t.Error("nested field type change should be incompatible")
	}
}

func TestMessageTypeRenameWireCompatible(t *testing.T) {
	writer := `
syntax = "proto3";
package com.example;
message Addr {
  string street = 1;
}
message Person {
  Addr addr = 1;
}
`
	reader := `
syntax = "proto3";
package com.example;
message Location {
  string street = 1;
}
message Person {
  Location addr = 1;
}
`
	// The renamed message carries the same structure. The removal of Addr
	// itself is still flagged.
	r := check(t, reader, writer)
	if r.IsCompatible {
		t.Error("expected removed message failure")
	}
	for _, msg := range r.Messages {
		if msg == "message 'com.example.Person': field 1 type changed from 'com.example.Addr' to 'com.example.Location'" {
			t.Error("structurally identical message rename should not be a field type failure")
		}
	}
}

func TestEnumChangesIgnored(t *testing.T) {
	writer := `
syntax = "proto3";
package com.example;
enum Status {
  STATUS_UNKNOWN = 0;
  STATUS_OPEN = 1;
}
message Ticket {
  Status status = 1;
}
`
	reader := `
syntax = "proto3";
package com.example;
enum Status {
  STATUS_UNKNOWN = 0;
}
message Ticket {
  Status status = 1;
}
`
	// Enum values travel as integers and unknown values are preserved.
	if r := check(t, reader, writer); !r.IsCompatible {
		t.Errorf("enum value removal should be compatible: %v", r.Messages)
	}
}

func TestInvalidSchema(t *testing.T) {
	if r := check(t, `message Broken {`, base); r.IsCompatible {
		t.Error("invalid reader schema should be incompatible")
	}
	if r := check(t, base, `message Broken {`); r.IsCompatible {
		t.Error("invalid writer schema should be incompatible")
	}
}
