package protobuf

import (
	"context"
	"fmt"
	"strings"

	"github.com/bufbuild/protocompile"
	"google.golang.org/protobuf/reflect/protoreflect"

	"github.com/axonops/kafka-schema-registry/internal/storage"
)

// SchemaFile is the path the main schema compiles under.
const SchemaFile = "schema.proto"

// Compile compiles a schema string with its resolved references and returns
// the file descriptor.
func Compile(ctx context.Context, schemaStr string, references []storage.Reference) (protoreflect.FileDescriptor, error) {
	compiler := protocompile.Compiler{
		Resolver:       NewResolver(schemaStr, references),
		SourceInfoMode: protocompile.SourceInfoStandard,
	}
	files, err := compiler.Compile(ctx, SchemaFile)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no files compiled")
	}
	return files[0], nil
}

// NewResolver builds a protocompile resolver serving the main schema, the
// given references by name, and bundled well-known types.
func NewResolver(schemaStr string, references []storage.Reference) protocompile.Resolver {
	files := map[string]string{SchemaFile: schemaStr}
	for _, ref := range references {
		if ref.Name != "" && ref.Schema != "" {
			files[ref.Name] = ref.Schema
		}
	}
	return &importResolver{files: files}
}

type importResolver struct {
	files map[string]string
}

func (r *importResolver) FindFileByPath(path string) (protocompile.SearchResult, error) {
	if content, ok := r.files[path]; ok {
		return protocompile.SearchResult{Source: strings.NewReader(content)}, nil
	}
	if content, ok := wellKnownImports[path]; ok {
		return protocompile.SearchResult{Source: strings.NewReader(content)}, nil
	}
	return protocompile.SearchResult{}, fmt.Errorf("file not found: %s", path)
}

var _ protocompile.Resolver = (*importResolver)(nil)

// wellKnownImports bundles the google.protobuf imports schemas commonly
// use, so compilation does not depend on an include path.
var wellKnownImports = map[string]string{
	"google/protobuf/any.proto": `
syntax = "proto3";
package google.protobuf;
message Any {
  string type_url = 1;
  bytes value = 2;
}`,
	"google/protobuf/timestamp.proto": `
syntax = "proto3";
package google.protobuf;
message Timestamp {
  int64 seconds = 1;
  int32 nanos = 2;
}`,
	"google/protobuf/duration.proto": `
syntax = "proto3";
package google.protobuf;
message Duration {
  int64 seconds = 1;
  int32 nanos = 2;
}`,
	"google/protobuf/empty.proto": `
syntax = "proto3";
package google.protobuf;
message Empty {}`,
	"google/protobuf/struct.proto": `
syntax = "proto3";
package google.protobuf;
message Struct {
  map<string, Value> fields = 1;
}
message Value {
  oneof kind {
    NullValue null_value = 1;
    double number_value = 2;
    string string_value = 3;
    bool bool_value = 4;
    Struct struct_value = 5;
    ListValue list_value = 6;
  }
}
message ListValue {
  repeated Value values = 1;
}
enum NullValue {
  NULL_VALUE = 0;
}`,
	"google/protobuf/wrappers.proto": `
syntax = "proto3";
package google.protobuf;
message DoubleValue { double value = 1; }
message FloatValue { float value = 1; }
message Int64Value { int64 value = 1; }
message UInt64Value { uint64 value = 1; }
message Int32Value { int32 value = 1; }
message UInt32Value { uint32 value = 1; }
message BoolValue { bool value = 1; }
message StringValue { string value = 1; }
message BytesValue { bytes value = 1; }`,
	"google/protobuf/field_mask.proto": `
syntax = "proto3";
package google.protobuf;
message FieldMask {
  repeated string paths = 1;
}`,
}
