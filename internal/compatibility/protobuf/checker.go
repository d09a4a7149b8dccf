// Package protobuf provides Protobuf schema compatibility checking based on
// wire-format rules: field numbers and wire types matter, names do not.
package protobuf

import (
	"context"

	"google.golang.org/protobuf/reflect/protoreflect"

	"github.com/axonops/kafka-schema-registry/internal/compatibility"
	schemaprotobuf "github.com/axonops/kafka-schema-registry/internal/schema/protobuf"
)

// Checker implements compatibility.SchemaChecker for Protobuf. The reader is
// the schema decoding data the writer encoded.
type Checker struct{}

func NewChecker() *Checker {
	return &Checker{}
}

func (c *Checker) Check(reader, writer compatibility.SchemaWithRefs) *compatibility.Result {
	ctx := context.Background()
	readerFD, err := schemaprotobuf.Compile(ctx, reader.Schema, reader.References)
	if err != nil {
		return compatibility.Incompatible("failed to parse reader schema: " + err.Error())
	}
	writerFD, err := schemaprotobuf.Compile(ctx, writer.Schema, writer.References)
	if err != nil {
		return compatibility.Incompatible("failed to parse writer schema: " + err.Error())
	}

	result := compatibility.Compatible()
	if readerFD.Package() != writerFD.Package() {
		result.Fail("package changed from '%s' to '%s'", writerFD.Package(), readerFD.Package())
	}
	// Syntax changes, service definitions and enum changes have no
	// wire-format impact and are ignored: enum values travel as integers
	// and unknown values are preserved.
	c.compareMessageSets(fileMessages(readerFD), fileMessages(writerFD), result)
	return result
}

func fileMessages(fd protoreflect.FileDescriptor) map[string]protoreflect.MessageDescriptor {
	out := make(map[string]protoreflect.MessageDescriptor, fd.Messages().Len())
	for i := 0; i < fd.Messages().Len(); i++ {
		m := fd.Messages().Get(i)
		out[string(m.Name())] = m
	}
	return out
}

func (c *Checker) compareMessageSets(readerMsgs, writerMsgs map[string]protoreflect.MessageDescriptor, result *compatibility.Result) {
	for name, wm := range writerMsgs {
		rm, exists := readerMsgs[name]
		if !exists {
			result.Fail("message '%s' was removed", wm.FullName())
			continue
		}
		c.compareMessages(rm, wm, result)
	}
	// Messages only the reader has are additions, always compatible.
}

func (c *Checker) compareMessages(reader, writer protoreflect.MessageDescriptor, result *compatibility.Result) {
	name := string(reader.FullName())

	writerFields := make(map[protoreflect.FieldNumber]protoreflect.FieldDescriptor)
	for i := 0; i < writer.Fields().Len(); i++ {
		f := writer.Fields().Get(i)
		writerFields[f.Number()] = f
	}

	// Fields that moved from independent life into a real oneof, per oneof:
	// that adds a mutual exclusion constraint.
	movedIntoOneof := make(map[string][]protoreflect.FieldDescriptor)

	for i := 0; i < reader.Fields().Len(); i++ {
		rf := reader.Fields().Get(i)
		wf, exists := writerFields[rf.Number()]
		if !exists {
			if rf.Cardinality() == protoreflect.Required {
				result.Fail("message '%s': new required field '%s' (number %d) added",
					name, rf.Name(), rf.Number())
			}
			continue
		}
		if !inRealOneof(wf) && inRealOneof(rf) {
			oneof := string(rf.ContainingOneof().Name())
			movedIntoOneof[oneof] = append(movedIntoOneof[oneof], rf)
		}
		c.compareFields(rf, wf, name, result)
		delete(writerFields, rf.Number())
	}

	for oneofName, moved := range movedIntoOneof {
		if len(moved) > 1 {
			result.Fail("message '%s': multiple fields moved into oneof '%s', creating mutual exclusion",
				name, oneofName)
			continue
		}
		if oneofHasOtherWriterMembers(reader, writer, oneofName, moved[0]) {
			result.Fail("message '%s': field '%s' moved into existing oneof '%s'",
				name, moved[0].Name(), oneofName)
		}
	}

	// Remaining writer fields were removed. Proto3 readers skip unknown
	// fields, so removal is breaking only for required fields and oneof
	// members.
	for num, wf := range writerFields {
		if wf.Cardinality() == protoreflect.Required {
			result.Fail("message '%s': required field '%s' (number %d) was removed", name, wf.Name(), num)
		} else if inRealOneof(wf) {
			result.Fail("message '%s': field '%s' (number %d) was removed from oneof", name, wf.Name(), num)
		}
	}

	// Nested declarations.
	readerNested := make(map[string]protoreflect.MessageDescriptor)
	for i := 0; i < reader.Messages().Len(); i++ {
		if nm := reader.Messages().Get(i); !nm.IsMapEntry() {
			readerNested[string(nm.Name())] = nm
		}
	}
	for i := 0; i < writer.Messages().Len(); i++ {
		wm := writer.Messages().Get(i)
		if wm.IsMapEntry() {
			continue
		}
		if rm, exists := readerNested[string(wm.Name())]; exists {
			c.compareMessages(rm, wm, result)
		} else {
			result.Fail("nested message '%s.%s' was removed", writer.FullName(), wm.Name())
		}
	}
	// Enum removals are wire-compatible: enum fields stay integers.
}

func (c *Checker) compareFields(reader, writer protoreflect.FieldDescriptor, msgName string, result *compatibility.Result) {
	if !typesCompatible(reader, writer) {
		result.Fail("message '%s': field %d type changed from '%s' to '%s'",
			msgName, reader.Number(), kindName(writer), kindName(reader))
	}

	rc, wc := reader.Cardinality(), writer.Cardinality()
	if rc != wc {
		switch {
		case wc == protoreflect.Optional && rc == protoreflect.Repeated:
			// Singular and repeated share wire format only for
			// length-delimited kinds.
			if !lengthDelimited(writer.Kind()) {
				result.Fail("message '%s': field '%s' changed from optional to repeated", msgName, reader.Name())
			}
		case wc == protoreflect.Repeated && rc != protoreflect.Repeated:
			if !lengthDelimited(reader.Kind()) {
				result.Fail("message '%s': field '%s' changed from repeated to singular", msgName, reader.Name())
			}
		case rc == protoreflect.Required:
			result.Fail("message '%s': field '%s' changed from optional to required", msgName, reader.Name())
		}
	}

	// Leaving a real oneof changes its semantics; entering one keeps the
	// wire format and is handled at the message level.
	if inRealOneof(writer) && !inRealOneof(reader) {
		result.Fail("message '%s': field '%s' oneof membership changed", msgName, reader.Name())
	}
}

func inRealOneof(f protoreflect.FieldDescriptor) bool {
	o := f.ContainingOneof()
	return o != nil && !o.IsSynthetic()
}

func lengthDelimited(k protoreflect.Kind) bool {
	return k == protoreflect.StringKind || k == protoreflect.BytesKind || k == protoreflect.MessageKind
}

func oneofHasOtherWriterMembers(reader, writer protoreflect.MessageDescriptor, oneofName string, moved protoreflect.FieldDescriptor) bool {
	writerNums := make(map[protoreflect.FieldNumber]bool)
	for i := 0; i < writer.Fields().Len(); i++ {
		writerNums[writer.Fields().Get(i).Number()] = true
	}
	for i := 0; i < reader.Fields().Len(); i++ {
		f := reader.Fields().Get(i)
		if !inRealOneof(f) || string(f.ContainingOneof().Name()) != oneofName || f.Number() == moved.Number() {
			continue
		}
		if writerNums[f.Number()] {
			return true
		}
	}
	return false
}

func typesCompatible(reader, writer protoreflect.FieldDescriptor) bool {
	rk, wk := reader.Kind(), writer.Kind()
	if rk == wk {
		if rk == protoreflect.MessageKind {
			// Structural comparison: wire format encodes numbers, not names.
			return messagesWireCompatible(reader.Message(), writer.Message(), nil)
		}
		// Two enums are always varint on the wire.
		return true
	}
	return kindsWireCompatible(rk, wk)
}

// wireGroups are the kind groups sharing a wire representation.
var wireGroups = [][]protoreflect.Kind{
	{protoreflect.Int32Kind, protoreflect.Uint32Kind, protoreflect.Int64Kind, protoreflect.Uint64Kind, protoreflect.BoolKind, protoreflect.EnumKind},
	{protoreflect.Sint32Kind, protoreflect.Sint64Kind},
	{protoreflect.Fixed32Kind, protoreflect.Sfixed32Kind},
	{protoreflect.Fixed64Kind, protoreflect.Sfixed64Kind},
	{protoreflect.StringKind, protoreflect.BytesKind},
}

func kindsWireCompatible(a, b protoreflect.Kind) bool {
	for _, group := range wireGroups {
		aIn, bIn := false, false
		for _, k := range group {
			aIn = aIn || a == k
			bIn = bIn || b == k
		}
		if aIn && bIn {
			return true
		}
	}
	return false
}

type messagePair struct {
	reader protoreflect.FullName
	writer protoreflect.FullName
}

// messagesWireCompatible compares messages structurally: every writer field
// the reader also declares must carry a wire-compatible type at the same
// number. Unknown fields are skipped by readers.
func messagesWireCompatible(reader, writer protoreflect.MessageDescriptor, visited map[messagePair]bool) bool {
	if reader.FullName() == writer.FullName() && reader.ParentFile().Path() == writer.ParentFile().Path() {
		return true
	}
	key := messagePair{reader.FullName(), writer.FullName()}
	if visited == nil {
		visited = make(map[messagePair]bool)
	}
	if visited[key] {
		// Recursive types: assume compatible to break the cycle.
		return true
	}
	visited[key] = true

	for i := 0; i < writer.Fields().Len(); i++ {
		wf := writer.Fields().Get(i)
		rf := reader.Fields().ByNumber(wf.Number())
		if rf == nil {
			continue
		}
		if rf.Kind() != wf.Kind() {
			if !kindsWireCompatible(rf.Kind(), wf.Kind()) {
				return false
			}
			continue
		}
		if rf.Kind() == protoreflect.MessageKind &&
			!messagesWireCompatible(rf.Message(), wf.Message(), visited) {
			return false
		}
	}
	return true
}

func kindName(f protoreflect.FieldDescriptor) string {
	switch f.Kind() {
	case protoreflect.MessageKind:
		return string(f.Message().FullName())
	case protoreflect.EnumKind:
		return string(f.Enum().FullName())
	default:
		return f.Kind().String()
	}
}

var _ compatibility.SchemaChecker = (*Checker)(nil)
