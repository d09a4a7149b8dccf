// Package avro provides Avro schema parsing and handling.
package avro

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/hamba/avro/v2"

	"github.com/axonops/kafka-schema-registry/internal/schema"
	"github.com/axonops/kafka-schema-registry/internal/storage"
)

// Parser implements schema.Parser for Avro schemas.
type Parser struct{}

// NewParser creates a new Avro parser.
func NewParser() *Parser {
	return &Parser{}
}

// Type returns the schema type.
func (p *Parser) Type() storage.SchemaType {
	return storage.SchemaTypeAvro
}

// Parse parses an Avro schema string. Referenced named types are registered
// in a parse cache first so the schema can refer to them by name.
func (p *Parser) Parse(schemaStr string, references []storage.Reference) (schema.ParsedSchema, error) {
	var avroSchema avro.Schema
	var err error

	if len(references) > 0 {
		cache := &avro.SchemaCache{}
		for _, ref := range references {
			if ref.Schema == "" {
				continue
			}
			if _, refErr := avro.ParseWithCache(ref.Schema, "", cache); refErr != nil {
				return nil, fmt.Errorf("invalid reference schema %q: %w", ref.Name, refErr)
			}
		}
		avroSchema, err = avro.ParseWithCache(schemaStr, "", cache)
	} else {
		avroSchema, err = avro.Parse(schemaStr)
	}
	if err != nil {
		return nil, fmt.Errorf("invalid Avro schema: %w", err)
	}

	canonical := canonicalize(schemaStr)
	hash := sha256.Sum256([]byte(canonical))

	return &ParsedSchema{
		canonical:   canonical,
		fingerprint: hex.EncodeToString(hash[:]),
		rawSchema:   avroSchema,
		references:  references,
	}, nil
}

// ParsedSchema implements schema.ParsedSchema for Avro.
type ParsedSchema struct {
	canonical   string
	fingerprint string
	rawSchema   avro.Schema
	references  []storage.Reference
}

func (s *ParsedSchema) Type() storage.SchemaType {
	return storage.SchemaTypeAvro
}

func (s *ParsedSchema) CanonicalString() string {
	return s.canonical
}

func (s *ParsedSchema) Fingerprint() string {
	return s.fingerprint
}

func (s *ParsedSchema) References() []storage.Reference {
	return s.references
}

func (s *ParsedSchema) RawSchema() interface{} {
	return s.rawSchema
}

// Normalize returns a copy whose text is the Parsing Canonical Form.
func (s *ParsedSchema) Normalize() schema.ParsedSchema {
	c := *s
	return &c
}

// DeepEquals compares canonical forms and references.
func (s *ParsedSchema) DeepEquals(other schema.ParsedSchema) bool {
	return other != nil &&
		other.Type() == storage.SchemaTypeAvro &&
		s.canonical == other.CanonicalString() &&
		schema.ReferencesEqual(s.references, other.References())
}

// HasTopLevelField reports whether the record schema has a field with the
// given name.
func (s *ParsedSchema) HasTopLevelField(field string) bool {
	rec, ok := s.rawSchema.(*avro.RecordSchema)
	if !ok {
		return false
	}
	for _, f := range rec.Fields() {
		if f.Name() == field {
			return true
		}
	}
	return false
}

// FormattedString renders the schema. "resolved" inlines all referenced
// named types; anything else yields the canonical form.
func (s *ParsedSchema) FormattedString(format string) string {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "resolved":
		if s.rawSchema != nil {
			return s.rawSchema.String()
		}
		return s.canonical
	default:
		return s.canonical
	}
}

// canonicalize converts an Avro schema to its Parsing Canonical Form per
// the Avro specification: only canonical attributes, fixed attribute order,
// no insignificant whitespace.
func canonicalize(schemaStr string) string {
	var node interface{}
	if err := json.Unmarshal([]byte(schemaStr), &node); err != nil {
		// Not JSON: a bare primitive type name.
		return strings.TrimSpace(schemaStr)
	}
	return canonicalNode(node)
}

// canonicalAttrOrder fixes the attribute order per complex type.
var canonicalAttrOrder = map[string][]string{
	"record": {"name", "type", "fields"},
	"error":  {"name", "type", "fields"},
	"enum":   {"name", "type", "symbols"},
	"array":  {"type", "items"},
	"map":    {"type", "values"},
	"fixed":  {"name", "type", "size"},
}

// nonCanonicalAttrs are stripped from the canonical form.
var nonCanonicalAttrs = map[string]bool{
	"doc":     true,
	"aliases": true,
	"default": true,
	"order":   true,
}

func canonicalNode(v interface{}) string {
	switch val := v.(type) {
	case string:
		return fmt.Sprintf("%q", val)
	case []interface{}:
		parts := make([]string, len(val))
		for i, item := range val {
			parts[i] = canonicalNode(item)
		}
		return "[" + strings.Join(parts, ",") + "]"
	case map[string]interface{}:
		return canonicalComplex(val)
	default:
		b, _ := json.Marshal(val)
		return string(b)
	}
}

func canonicalComplex(obj map[string]interface{}) string {
	schemaType, _ := obj["type"].(string)
	order, ok := canonicalAttrOrder[schemaType]
	if !ok {
		order = make([]string, 0, len(obj))
		for k := range obj {
			order = append(order, k)
		}
		sort.Strings(order)
	}

	var parts []string
	for _, attr := range order {
		val, exists := obj[attr]
		if !exists || nonCanonicalAttrs[attr] {
			continue
		}
		var rendered string
		switch attr {
		case "fields":
			if fields, ok := val.([]interface{}); ok {
				fieldParts := make([]string, len(fields))
				for i, f := range fields {
					if fobj, ok := f.(map[string]interface{}); ok {
						fieldParts[i] = canonicalRecordField(fobj)
					}
				}
				rendered = "[" + strings.Join(fieldParts, ",") + "]"
			}
		case "symbols":
			if symbols, ok := val.([]interface{}); ok {
				symParts := make([]string, len(symbols))
				for i, s := range symbols {
					symParts[i] = fmt.Sprintf(`"%v"`, s)
				}
				rendered = "[" + strings.Join(symParts, ",") + "]"
			}
		default:
			rendered = canonicalNode(val)
		}
		if rendered != "" {
			parts = append(parts, fmt.Sprintf("%q:%s", attr, rendered))
		}
	}
	return "{" + strings.Join(parts, ",") + "}"
}

func canonicalRecordField(field map[string]interface{}) string {
	var parts []string
	if name, ok := field["name"]; ok {
		parts = append(parts, fmt.Sprintf(`"name":"%v"`, name))
	}
	if typ, ok := field["type"]; ok {
		parts = append(parts, `"type":`+canonicalNode(typ))
	}
	return "{" + strings.Join(parts, ",") + "}"
}

var _ schema.Parser = (*Parser)(nil)
