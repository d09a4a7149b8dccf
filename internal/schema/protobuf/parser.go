// Package protobuf provides Protobuf schema parsing.
package protobuf

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"

	"github.com/axonops/kafka-schema-registry/internal/schema"
	"github.com/axonops/kafka-schema-registry/internal/storage"
)

// Parser implements schema.Parser for Protobuf schemas.
type Parser struct{}

// NewParser creates a new Protobuf parser.
func NewParser() *Parser {
	return &Parser{}
}

// Type returns the schema type.
func (p *Parser) Type() storage.SchemaType {
	return storage.SchemaTypeProtobuf
}

// Parse compiles a Protobuf schema, resolving imports from the references.
func (p *Parser) Parse(schemaStr string, references []storage.Reference) (schema.ParsedSchema, error) {
	fd, err := Compile(context.Background(), schemaStr, references)
	if err != nil {
		return nil, fmt.Errorf("compiling protobuf: %w", err)
	}
	return &ParsedProtobuf{
		raw:        schemaStr,
		descriptor: fd,
		references: references,
	}, nil
}

// ParsedProtobuf implements schema.ParsedSchema for Protobuf.
type ParsedProtobuf struct {
	raw        string
	descriptor protoreflect.FileDescriptor
	references []storage.Reference
}

func (p *ParsedProtobuf) Type() storage.SchemaType {
	return storage.SchemaTypeProtobuf
}

// CanonicalString prints the schema deterministically: declarations sorted,
// comments and options dropped.
func (p *ParsedProtobuf) CanonicalString() string {
	return printFile(p.descriptor)
}

func (p *ParsedProtobuf) Fingerprint() string {
	hash := sha256.Sum256([]byte(p.CanonicalString()))
	return hex.EncodeToString(hash[:])
}

func (p *ParsedProtobuf) References() []storage.Reference {
	return p.references
}

func (p *ParsedProtobuf) RawSchema() interface{} {
	return p.descriptor
}

// Descriptor returns the compiled file descriptor.
func (p *ParsedProtobuf) Descriptor() protoreflect.FileDescriptor {
	return p.descriptor
}

// Raw returns the original schema string.
func (p *ParsedProtobuf) Raw() string {
	return p.raw
}

func (p *ParsedProtobuf) Normalize() schema.ParsedSchema {
	return &ParsedProtobuf{
		raw:        p.CanonicalString(),
		descriptor: p.descriptor,
		references: p.references,
	}
}

func (p *ParsedProtobuf) DeepEquals(other schema.ParsedSchema) bool {
	return other != nil &&
		other.Type() == storage.SchemaTypeProtobuf &&
		p.CanonicalString() == other.CanonicalString() &&
		schema.ReferencesEqual(p.references, other.References())
}

// HasTopLevelField reports whether any top-level message has a field with
// the given name.
func (p *ParsedProtobuf) HasTopLevelField(field string) bool {
	msgs := p.descriptor.Messages()
	for i := 0; i < msgs.Len(); i++ {
		if msgs.Get(i).Fields().ByName(protoreflect.Name(field)) != nil {
			return true
		}
	}
	return false
}

// FormattedString renders the schema. "serialized" yields the
// base64-encoded FileDescriptorProto; anything else the canonical form.
func (p *ParsedProtobuf) FormattedString(format string) string {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "serialized":
		data, err := proto.Marshal(protodesc.ToFileDescriptorProto(p.descriptor))
		if err != nil {
			return p.CanonicalString()
		}
		return base64.StdEncoding.EncodeToString(data)
	default:
		return p.CanonicalString()
	}
}

// printFile renders a deterministic text form of the descriptor.
func printFile(fd protoreflect.FileDescriptor) string {
	var sb strings.Builder

	if fd.Package() != "" {
		fmt.Fprintf(&sb, "package %s;\n", fd.Package())
	}
	if fd.Syntax() == protoreflect.Proto2 {
		sb.WriteString("syntax = \"proto2\";\n")
	} else {
		sb.WriteString("syntax = \"proto3\";\n")
	}

	var decls []string
	for i := 0; i < fd.Messages().Len(); i++ {
		decls = append(decls, printMessage(fd.Messages().Get(i), 0))
	}
	sort.Strings(decls)
	var enums []string
	for i := 0; i < fd.Enums().Len(); i++ {
		enums = append(enums, printEnum(fd.Enums().Get(i), 0))
	}
	sort.Strings(enums)
	var services []string
	for i := 0; i < fd.Services().Len(); i++ {
		services = append(services, printService(fd.Services().Get(i)))
	}
	sort.Strings(services)

	for _, d := range decls {
		sb.WriteString(d)
	}
	for _, e := range enums {
		sb.WriteString(e)
	}
	for _, s := range services {
		sb.WriteString(s)
	}
	return sb.String()
}

func printMessage(md protoreflect.MessageDescriptor, depth int) string {
	var sb strings.Builder
	pad := strings.Repeat("  ", depth)
	fmt.Fprintf(&sb, "%smessage %s {\n", pad, md.Name())

	fields := make([]protoreflect.FieldDescriptor, 0, md.Fields().Len())
	for i := 0; i < md.Fields().Len(); i++ {
		fields = append(fields, md.Fields().Get(i))
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i].Number() < fields[j].Number() })
	for _, f := range fields {
		sb.WriteString(printField(f, depth+1))
	}

	var nested []string
	for i := 0; i < md.Messages().Len(); i++ {
		if nm := md.Messages().Get(i); !nm.IsMapEntry() {
			nested = append(nested, printMessage(nm, depth+1))
		}
	}
	sort.Strings(nested)
	for _, n := range nested {
		sb.WriteString(n)
	}

	var enums []string
	for i := 0; i < md.Enums().Len(); i++ {
		enums = append(enums, printEnum(md.Enums().Get(i), depth+1))
	}
	sort.Strings(enums)
	for _, e := range enums {
		sb.WriteString(e)
	}

	var oneofs []string
	for i := 0; i < md.Oneofs().Len(); i++ {
		if o := md.Oneofs().Get(i); !o.IsSynthetic() {
			oneofs = append(oneofs, printOneof(o, depth+1))
		}
	}
	sort.Strings(oneofs)
	for _, o := range oneofs {
		sb.WriteString(o)
	}

	fmt.Fprintf(&sb, "%s}\n", pad)
	return sb.String()
}

func printField(f protoreflect.FieldDescriptor, depth int) string {
	pad := strings.Repeat("  ", depth)
	if f.IsMap() {
		return fmt.Sprintf("%smap<%s, %s> %s = %d;\n",
			pad, typeName(f.MapKey()), typeName(f.MapValue()), f.Name(), f.Number())
	}
	var label string
	switch f.Cardinality() {
	case protoreflect.Repeated:
		label = "repeated "
	case protoreflect.Required:
		label = "required "
	case protoreflect.Optional:
		if f.ParentFile().Syntax() == protoreflect.Proto2 {
			label = "optional "
		}
	}
	return fmt.Sprintf("%s%s%s %s = %d;\n", pad, label, typeName(f), f.Name(), f.Number())
}

func printOneof(o protoreflect.OneofDescriptor, depth int) string {
	var sb strings.Builder
	pad := strings.Repeat("  ", depth)
	fmt.Fprintf(&sb, "%soneof %s {\n", pad, o.Name())
	fields := make([]protoreflect.FieldDescriptor, 0, o.Fields().Len())
	for i := 0; i < o.Fields().Len(); i++ {
		fields = append(fields, o.Fields().Get(i))
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i].Number() < fields[j].Number() })
	for _, f := range fields {
		fmt.Fprintf(&sb, "%s  %s %s = %d;\n", pad, typeName(f), f.Name(), f.Number())
	}
	fmt.Fprintf(&sb, "%s}\n", pad)
	return sb.String()
}

func printEnum(e protoreflect.EnumDescriptor, depth int) string {
	var sb strings.Builder
	pad := strings.Repeat("  ", depth)
	fmt.Fprintf(&sb, "%senum %s {\n", pad, e.Name())
	values := make([]protoreflect.EnumValueDescriptor, 0, e.Values().Len())
	for i := 0; i < e.Values().Len(); i++ {
		values = append(values, e.Values().Get(i))
	}
	sort.Slice(values, func(i, j int) bool { return values[i].Number() < values[j].Number() })
	for _, v := range values {
		fmt.Fprintf(&sb, "%s  %s = %d;\n", pad, v.Name(), v.Number())
	}
	fmt.Fprintf(&sb, "%s}\n", pad)
	return sb.String()
}

func printService(s protoreflect.ServiceDescriptor) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "service %s {\n", s.Name())
	var methods []string
	for i := 0; i < s.Methods().Len(); i++ {
		m := s.Methods().Get(i)
		in, out := "", ""
		if m.IsStreamingClient() {
			in = "stream "
		}
		if m.IsStreamingServer() {
			out = "stream "
		}
		methods = append(methods, fmt.Sprintf("  rpc %s (%s%s) returns (%s%s);\n",
			m.Name(), in, m.Input().FullName(), out, m.Output().FullName()))
	}
	sort.Strings(methods)
	for _, m := range methods {
		sb.WriteString(m)
	}
	sb.WriteString("}\n")
	return sb.String()
}

// typeName renders the proto text name of a field type.
func typeName(f protoreflect.FieldDescriptor) string {
	switch f.Kind() {
	case protoreflect.MessageKind:
		return string(f.Message().FullName())
	case protoreflect.EnumKind:
		return string(f.Enum().FullName())
	case protoreflect.GroupKind:
		return "group"
	default:
		return f.Kind().String()
	}
}

var _ schema.Parser = (*Parser)(nil)
