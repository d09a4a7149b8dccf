// Package jsonschema provides JSON Schema parsing.
package jsonschema

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/axonops/kafka-schema-registry/internal/schema"
	"github.com/axonops/kafka-schema-registry/internal/storage"
)

// Parser implements schema.Parser for JSON Schema (Draft-07).
type Parser struct{}

// NewParser creates a new JSON Schema parser.
func NewParser() *Parser {
	return &Parser{}
}

// Type returns the schema type.
func (p *Parser) Type() storage.SchemaType {
	return storage.SchemaTypeJSON
}

// Parse validates a JSON Schema, resolving $ref against the supplied
// references.
func (p *Parser) Parse(schemaStr string, references []storage.Reference) (schema.ParsedSchema, error) {
	var schemaMap map[string]interface{}
	if err := json.Unmarshal([]byte(schemaStr), &schemaMap); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	// A fresh compiler per parse; the compiler caches resources by URL.
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft7
	for _, ref := range references {
		if ref.Schema == "" {
			continue
		}
		if err := compiler.AddResource(ref.Name, strings.NewReader(ref.Schema)); err != nil {
			return nil, fmt.Errorf("adding reference %q: %w", ref.Name, err)
		}
	}
	const schemaURL = "schema.json"
	if err := compiler.AddResource(schemaURL, strings.NewReader(schemaStr)); err != nil {
		return nil, fmt.Errorf("adding schema resource: %w", err)
	}
	compiled, err := compiler.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("compiling JSON schema: %w", err)
	}

	return &ParsedJSONSchema{
		raw:        schemaStr,
		schemaMap:  schemaMap,
		compiled:   compiled,
		references: references,
	}, nil
}

// ParsedJSONSchema implements schema.ParsedSchema for JSON Schema.
type ParsedJSONSchema struct {
	raw        string
	schemaMap  map[string]interface{}
	compiled   *jsonschema.Schema
	references []storage.Reference
}

func (p *ParsedJSONSchema) Type() storage.SchemaType {
	return storage.SchemaTypeJSON
}

// CanonicalString renders the schema with sorted keys and no insignificant
// whitespace.
func (p *ParsedJSONSchema) CanonicalString() string {
	return canonicalJSON(p.schemaMap)
}

func (p *ParsedJSONSchema) Fingerprint() string {
	hash := sha256.Sum256([]byte(p.CanonicalString()))
	return hex.EncodeToString(hash[:])
}

func (p *ParsedJSONSchema) References() []storage.Reference {
	return p.references
}

func (p *ParsedJSONSchema) RawSchema() interface{} {
	return p.schemaMap
}

func (p *ParsedJSONSchema) Normalize() schema.ParsedSchema {
	return &ParsedJSONSchema{
		raw:        p.CanonicalString(),
		schemaMap:  p.schemaMap,
		compiled:   p.compiled,
		references: p.references,
	}
}

func (p *ParsedJSONSchema) DeepEquals(other schema.ParsedSchema) bool {
	return other != nil &&
		other.Type() == storage.SchemaTypeJSON &&
		p.CanonicalString() == other.CanonicalString() &&
		schema.ReferencesEqual(p.references, other.References())
}

// HasTopLevelField reports whether "properties" has a key with the given
// name.
func (p *ParsedJSONSchema) HasTopLevelField(field string) bool {
	props, ok := p.schemaMap["properties"].(map[string]interface{})
	if !ok {
		return false
	}
	_, exists := props[field]
	return exists
}

// FormattedString has no special formats for JSON Schema.
func (p *ParsedJSONSchema) FormattedString(string) string {
	return p.CanonicalString()
}

// Raw returns the original schema string.
func (p *ParsedJSONSchema) Raw() string {
	return p.raw
}

// Compiled returns the compiled schema for instance validation.
func (p *ParsedJSONSchema) Compiled() *jsonschema.Schema {
	return p.compiled
}

func canonicalJSON(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case bool:
		if val {
			return "true"
		}
		return "false"
	case float64:
		if val == float64(int64(val)) {
			return fmt.Sprintf("%d", int64(val))
		}
		return fmt.Sprintf("%g", val)
	case string:
		b, _ := json.Marshal(val)
		return string(b)
	case []interface{}:
		parts := make([]string, len(val))
		for i, item := range val {
			parts[i] = canonicalJSON(item)
		}
		return "[" + strings.Join(parts, ",") + "]"
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			kb, _ := json.Marshal(k)
			parts[i] = string(kb) + ":" + canonicalJSON(val[k])
		}
		return "{" + strings.Join(parts, ",") + "}"
	default:
		b, _ := json.Marshal(v)
		return string(b)
	}
}

var _ schema.Parser = (*Parser)(nil)
