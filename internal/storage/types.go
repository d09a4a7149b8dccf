// Package storage defines the durable record model for the registry: the
// typed keys and values written to the log, the serializer that maps them to
// bytes, and the store and lookup-cache contracts the rest of the registry is
// built against.
package storage

// MinVersion is the first version assigned under a subject.
const MinVersion = 1

// MaxVersion is the upper bound used for range scans over a subject.
const MaxVersion = int(^uint32(0) >> 1)

// SchemaType identifies the schema language of a registered schema.
type SchemaType string

const (
	SchemaTypeAvro     SchemaType = "AVRO"
	SchemaTypeProtobuf SchemaType = "PROTOBUF"
	SchemaTypeJSON     SchemaType = "JSON"
)

// Mode controls which mutations a subject (or the whole registry) accepts.
type Mode string

const (
	ModeReadWrite        Mode = "READWRITE"
	ModeReadOnly         Mode = "READONLY"
	ModeReadOnlyOverride Mode = "READONLY_OVERRIDE"
	ModeImport           Mode = "IMPORT"
)

// IsValid reports whether m is one of the recognized modes.
func (m Mode) IsValid() bool {
	switch m {
	case ModeReadWrite, ModeReadOnly, ModeReadOnlyOverride, ModeImport:
		return true
	}
	return false
}

// Metadata carries user-supplied schema metadata for data contracts.
type Metadata struct {
	Tags       map[string][]string `json:"tags,omitempty"`
	Properties map[string]string   `json:"properties,omitempty"`
	Sensitive  []string            `json:"sensitive,omitempty"`
}

// MergeMetadata overlays newer on older field by field. Map entries from
// newer win on key collision; nil inputs pass through.
func MergeMetadata(older, newer *Metadata) *Metadata {
	if older == nil {
		return newer
	}
	if newer == nil {
		return older
	}
	merged := &Metadata{}
	merged.Tags = mergeStringSliceMaps(older.Tags, newer.Tags)
	merged.Properties = mergeStringMaps(older.Properties, newer.Properties)
	seen := make(map[string]bool)
	for _, s := range append(append([]string{}, older.Sensitive...), newer.Sensitive...) {
		if !seen[s] {
			seen[s] = true
			merged.Sensitive = append(merged.Sensitive, s)
		}
	}
	return merged
}

func mergeStringMaps(older, newer map[string]string) map[string]string {
	if older == nil {
		return newer
	}
	if newer == nil {
		return older
	}
	merged := make(map[string]string, len(older)+len(newer))
	for k, v := range older {
		merged[k] = v
	}
	for k, v := range newer {
		merged[k] = v
	}
	return merged
}

func mergeStringSliceMaps(older, newer map[string][]string) map[string][]string {
	if older == nil {
		return newer
	}
	if newer == nil {
		return older
	}
	merged := make(map[string][]string, len(older)+len(newer))
	for k, v := range older {
		merged[k] = v
	}
	for k, v := range newer {
		merged[k] = v
	}
	return merged
}

// Rule is a single data contract rule.
type Rule struct {
	Name      string            `json:"name"`
	Doc       string            `json:"doc,omitempty"`
	Kind      string            `json:"kind"`
	Mode      string            `json:"mode"`
	Type      string            `json:"type,omitempty"`
	Tags      []string          `json:"tags,omitempty"`
	Params    map[string]string `json:"params,omitempty"`
	Expr      string            `json:"expr,omitempty"`
	OnSuccess string            `json:"onSuccess,omitempty"`
	OnFailure string            `json:"onFailure,omitempty"`
	Disabled  bool              `json:"disabled,omitempty"`
}

// RuleSet groups data contract rules by phase.
type RuleSet struct {
	MigrationRules []Rule `json:"migrationRules,omitempty"`
	DomainRules    []Rule `json:"domainRules,omitempty"`
}

// MergeRuleSets overlays newer on older. A non-empty rule list in newer
// replaces the corresponding list in older.
func MergeRuleSets(older, newer *RuleSet) *RuleSet {
	if older == nil {
		return newer
	}
	if newer == nil {
		return older
	}
	merged := &RuleSet{
		MigrationRules: older.MigrationRules,
		DomainRules:    older.DomainRules,
	}
	if len(newer.MigrationRules) > 0 {
		merged.MigrationRules = newer.MigrationRules
	}
	if len(newer.DomainRules) > 0 {
		merged.DomainRules = newer.DomainRules
	}
	return merged
}

// Reference names another registered schema that a schema depends on.
type Reference struct {
	Name    string `json:"name"`
	Subject string `json:"subject"`
	Version int    `json:"version"`
	// Schema holds the resolved reference content when a provider needs it;
	// it is never serialized to the log or API responses.
	Schema string `json:"-"`
}

// Schema is the external-facing schema entity: what clients send on
// registration and what lookups return.
type Schema struct {
	Subject    string      `json:"subject,omitempty"`
	Version    int         `json:"version,omitempty"`
	ID         int         `json:"id,omitempty"`
	SchemaType SchemaType  `json:"schemaType,omitempty"`
	References []Reference `json:"references,omitempty"`
	Metadata   *Metadata   `json:"metadata,omitempty"`
	RuleSet    *RuleSet    `json:"ruleSet,omitempty"`
	Schema     string      `json:"schema"`
}

// Copy returns a shallow copy of the schema entity.
func (s *Schema) Copy() *Schema {
	c := *s
	return &c
}

// SubjectVersion is a (subject, version) pair.
type SubjectVersion struct {
	Subject string `json:"subject"`
	Version int    `json:"version"`
}

// Config is a compatibility configuration, either global or per subject.
type Config struct {
	CompatibilityLevel string    `json:"compatibilityLevel,omitempty"`
	CompatibilityGroup string    `json:"compatibilityGroup,omitempty"`
	Alias              string    `json:"alias,omitempty"`
	Normalize          *bool     `json:"normalize,omitempty"`
	DefaultMetadata    *Metadata `json:"defaultMetadata,omitempty"`
	OverrideMetadata   *Metadata `json:"overrideMetadata,omitempty"`
	DefaultRuleSet     *RuleSet  `json:"defaultRuleSet,omitempty"`
	OverrideRuleSet    *RuleSet  `json:"overrideRuleSet,omitempty"`
}

// UpdateConfig merges newer onto older: non-zero fields of newer win.
func UpdateConfig(older, newer *Config) *Config {
	if older == nil {
		return newer
	}
	if newer == nil {
		return older
	}
	merged := *older
	if newer.CompatibilityLevel != "" {
		merged.CompatibilityLevel = newer.CompatibilityLevel
	}
	if newer.CompatibilityGroup != "" {
		merged.CompatibilityGroup = newer.CompatibilityGroup
	}
	if newer.Alias != "" {
		merged.Alias = newer.Alias
	}
	if newer.Normalize != nil {
		merged.Normalize = newer.Normalize
	}
	if newer.DefaultMetadata != nil {
		merged.DefaultMetadata = newer.DefaultMetadata
	}
	if newer.OverrideMetadata != nil {
		merged.OverrideMetadata = newer.OverrideMetadata
	}
	if newer.DefaultRuleSet != nil {
		merged.DefaultRuleSet = newer.DefaultRuleSet
	}
	if newer.OverrideRuleSet != nil {
		merged.OverrideRuleSet = newer.OverrideRuleSet
	}
	return &merged
}

// LookupFilter controls whether soft-deleted records are visible to a read.
type LookupFilter int

const (
	// FilterDefault hides soft-deleted records.
	FilterDefault LookupFilter = iota
	// FilterIncludeDeleted returns both live and soft-deleted records.
	FilterIncludeDeleted
	// FilterDeletedOnly returns only soft-deleted records.
	FilterDeletedOnly
)

// ShouldInclude reports whether a record with the given deleted flag passes
// the filter.
func (f LookupFilter) ShouldInclude(deleted bool) bool {
	switch f {
	case FilterDefault:
		return !deleted
	case FilterIncludeDeleted:
		return true
	case FilterDeletedOnly:
		return deleted
	}
	return false
}
