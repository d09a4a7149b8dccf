// Package avro provides Avro schema compatibility checking following the
// Avro specification's schema resolution rules.
package avro

import (
	"fmt"

	"github.com/hamba/avro/v2"

	"github.com/axonops/kafka-schema-registry/internal/compatibility"
)

// Checker implements compatibility.SchemaChecker for Avro.
type Checker struct{}

func NewChecker() *Checker {
	return &Checker{}
}

// Check verifies that the reader schema can decode data the writer wrote.
func (c *Checker) Check(reader, writer compatibility.SchemaWithRefs) *compatibility.Result {
	readerSchema, err := parse(reader)
	if err != nil {
		return compatibility.Incompatible(fmt.Sprintf("invalid reader schema: %v", err))
	}
	writerSchema, err := parse(writer)
	if err != nil {
		return compatibility.Incompatible(fmt.Sprintf("invalid writer schema: %v", err))
	}
	return resolve(readerSchema, writerSchema, "")
}

func parse(s compatibility.SchemaWithRefs) (avro.Schema, error) {
	if len(s.References) == 0 {
		return avro.Parse(s.Schema)
	}
	cache := &avro.SchemaCache{}
	for _, ref := range s.References {
		if ref.Schema == "" {
			continue
		}
		if _, err := avro.ParseWithCache(ref.Schema, "", cache); err != nil {
			return nil, fmt.Errorf("invalid reference schema %q: %w", ref.Name, err)
		}
	}
	return avro.ParseWithCache(s.Schema, "", cache)
}

// resolve applies Avro schema resolution between a reader and writer.
func resolve(reader, writer avro.Schema, path string) *compatibility.Result {
	if promotable(writer, reader) {
		return compatibility.Compatible()
	}

	if reader.Type() != writer.Type() {
		if reader.Type() == avro.Union {
			return resolveIntoUnion(reader.(*avro.UnionSchema), writer, path)
		}
		if writer.Type() == avro.Union {
			return resolveFromUnion(reader, writer.(*avro.UnionSchema), path)
		}
		r := compatibility.Compatible()
		r.Fail("%s: type mismatch: reader has %s, writer has %s", at(path), reader.Type(), writer.Type())
		return r
	}

	switch reader.Type() {
	case avro.Record:
		return resolveRecord(reader.(*avro.RecordSchema), writer.(*avro.RecordSchema), path)
	case avro.Enum:
		return resolveEnum(reader.(*avro.EnumSchema), writer.(*avro.EnumSchema), path)
	case avro.Array:
		return resolve(reader.(*avro.ArraySchema).Items(), writer.(*avro.ArraySchema).Items(), join(path, "[]"))
	case avro.Map:
		return resolve(reader.(*avro.MapSchema).Values(), writer.(*avro.MapSchema).Values(), join(path, "{}"))
	case avro.Union:
		return resolveUnions(reader.(*avro.UnionSchema), writer.(*avro.UnionSchema), path)
	case avro.Fixed:
		return resolveFixed(reader.(*avro.FixedSchema), writer.(*avro.FixedSchema), path)
	default:
		// Matching primitive types.
		return compatibility.Compatible()
	}
}

func resolveRecord(reader, writer *avro.RecordSchema, path string) *compatibility.Result {
	result := compatibility.Compatible()

	if !namesMatch(reader.FullName(), writer.FullName(), reader.Aliases(), writer.Aliases()) {
		result.Fail("%s: record name mismatch: reader has %s, writer has %s",
			at(path), reader.FullName(), writer.FullName())
		return result
	}

	byName := make(map[string]*avro.Field)
	for _, f := range writer.Fields() {
		byName[f.Name()] = f
		for _, alias := range f.Aliases() {
			byName[alias] = f
		}
	}

	for _, rf := range reader.Fields() {
		wf := byName[rf.Name()]
		if wf == nil {
			for _, alias := range rf.Aliases() {
				if wf = byName[alias]; wf != nil {
					break
				}
			}
		}
		if wf == nil {
			// Missing writer field: the reader needs a default.
			if !rf.HasDefault() {
				result.Fail("%s: reader field '%s' has no default and is missing from writer",
					at(path), rf.Name())
			}
			continue
		}
		result.Merge(resolve(rf.Type(), wf.Type(), join(path, rf.Name())))
	}
	return result
}

func resolveEnum(reader, writer *avro.EnumSchema, path string) *compatibility.Result {
	result := compatibility.Compatible()
	if reader.FullName() != writer.FullName() {
		result.Fail("%s: enum name mismatch: reader has %s, writer has %s",
			at(path), reader.FullName(), writer.FullName())
		return result
	}
	known := make(map[string]bool, len(reader.Symbols()))
	for _, s := range reader.Symbols() {
		known[s] = true
	}
	for _, s := range writer.Symbols() {
		if !known[s] && reader.Default() == "" {
			result.Fail("%s: writer enum symbol '%s' not found in reader and no default set", at(path), s)
		}
	}
	return result
}

func resolveFixed(reader, writer *avro.FixedSchema, path string) *compatibility.Result {
	result := compatibility.Compatible()
	if reader.FullName() != writer.FullName() {
		result.Fail("%s: fixed name mismatch: reader has %s, writer has %s",
			at(path), reader.FullName(), writer.FullName())
	}
	if reader.Size() != writer.Size() {
		result.Fail("%s: fixed size mismatch: reader has %d, writer has %d",
			at(path), reader.Size(), writer.Size())
	}
	return result
}

// resolveUnions requires every writer branch to be readable by some reader
// branch.
func resolveUnions(reader, writer *avro.UnionSchema, path string) *compatibility.Result {
	result := compatibility.Compatible()
	for _, wt := range writer.Types() {
		if !anyBranchReads(reader.Types(), wt, path) {
			result.Fail("%s: writer union type %s is not compatible with any reader union type",
				at(path), wt.Type())
		}
	}
	return result
}

// resolveIntoUnion handles a non-union writer against a union reader.
func resolveIntoUnion(reader *avro.UnionSchema, writer avro.Schema, path string) *compatibility.Result {
	if anyBranchReads(reader.Types(), writer, path) {
		return compatibility.Compatible()
	}
	return compatibility.Incompatible(fmt.Sprintf(
		"%s: writer type %s is not compatible with any type in reader union", at(path), writer.Type()))
}

// resolveFromUnion handles a union writer against a non-union reader: every
// branch the writer may emit must be readable.
func resolveFromUnion(reader avro.Schema, writer *avro.UnionSchema, path string) *compatibility.Result {
	for _, wt := range writer.Types() {
		if !resolve(reader, wt, path).IsCompatible {
			return compatibility.Incompatible(fmt.Sprintf(
				"%s: reader type %s cannot read writer union type %s", at(path), reader.Type(), wt.Type()))
		}
	}
	return compatibility.Compatible()
}

func anyBranchReads(branches []avro.Schema, writer avro.Schema, path string) bool {
	for _, rt := range branches {
		if resolve(rt, writer, path).IsCompatible {
			return true
		}
	}
	return false
}

func namesMatch(readerName, writerName string, readerAliases, writerAliases []string) bool {
	if readerName == writerName {
		return true
	}
	for _, alias := range writerAliases {
		if readerName == alias {
			return true
		}
	}
	for _, alias := range readerAliases {
		if writerName == alias {
			return true
		}
	}
	return false
}

// promotable reports whether writer data can be widened to the reader type:
// int -> long/float/double, long -> float/double, float -> double, and
// string <-> bytes.
func promotable(writer, reader avro.Schema) bool {
	switch writer.Type() {
	case avro.Int:
		return reader.Type() == avro.Long || reader.Type() == avro.Float || reader.Type() == avro.Double
	case avro.Long:
		return reader.Type() == avro.Float || reader.Type() == avro.Double
	case avro.Float:
		return reader.Type() == avro.Double
	case avro.String:
		return reader.Type() == avro.Bytes
	case avro.Bytes:
		return reader.Type() == avro.String
	}
	return false
}

func at(path string) string {
	if path == "" {
		return "root"
	}
	return path
}

func join(path, segment string) string {
	if path == "" {
		return segment
	}
	return path + "." + segment
}
