package storage

import "strings"

// KeyType discriminates the records written to the log topic.
type KeyType string

const (
	KeyTypeSchema        KeyType = "SCHEMA"
	KeyTypeConfig        KeyType = "CONFIG"
	KeyTypeMode          KeyType = "MODE"
	KeyTypeContext       KeyType = "CONTEXT"
	KeyTypeDeleteSubject KeyType = "DELETE_SUBJECT"
	KeyTypeClearSubject  KeyType = "CLEAR_SUBJECT"
	KeyTypeNoop          KeyType = "NOOP"
)

// Magic byte versions written alongside each key. Config and schema keys
// predate the others and carry version 0 on the wire for topic compatibility.
const (
	MagicByteV0 = 0
	MagicByteV1 = 1
)

// Key is a typed key on the log topic. Keys of the same type order by their
// natural fields so that range scans over a subject work.
type Key interface {
	KeyType() KeyType
}

// Value is a typed value on the log topic. A nil value is a tombstone.
type Value interface {
	ValueType() KeyType
}

// SchemaKey identifies one version of a subject.
type SchemaKey struct {
	Keytype KeyType `json:"keytype"`
	Subject string  `json:"subject"`
	Version int     `json:"version"`
	Magic   int     `json:"magic"`
}

func NewSchemaKey(subject string, version int) SchemaKey {
	return SchemaKey{Keytype: KeyTypeSchema, Subject: subject, Version: version, Magic: MagicByteV1}
}

func (k SchemaKey) KeyType() KeyType { return KeyTypeSchema }

// SchemaValue is the stored form of one schema version.
type SchemaValue struct {
	Subject    string      `json:"subject"`
	Version    int         `json:"version"`
	ID         int         `json:"id"`
	SchemaType SchemaType  `json:"schemaType,omitempty"`
	References []Reference `json:"references,omitempty"`
	Metadata   *Metadata   `json:"metadata,omitempty"`
	RuleSet    *RuleSet    `json:"ruleSet,omitempty"`
	Schema     string      `json:"schema"`
	Deleted    bool        `json:"deleted,omitempty"`
}

func (v *SchemaValue) ValueType() KeyType { return KeyTypeSchema }

// ToSchema converts the stored value to the external entity.
func (v *SchemaValue) ToSchema() *Schema {
	return &Schema{
		Subject:    v.Subject,
		Version:    v.Version,
		ID:         v.ID,
		SchemaType: v.SchemaType,
		References: v.References,
		Metadata:   v.Metadata,
		RuleSet:    v.RuleSet,
		Schema:     v.Schema,
	}
}

// NewSchemaValue builds the stored form from the external entity.
func NewSchemaValue(s *Schema, deleted bool) *SchemaValue {
	return &SchemaValue{
		Subject:    s.Subject,
		Version:    s.Version,
		ID:         s.ID,
		SchemaType: s.SchemaType,
		References: s.References,
		Metadata:   s.Metadata,
		RuleSet:    s.RuleSet,
		Schema:     s.Schema,
		Deleted:    deleted,
	}
}

// ConfigKey identifies the compatibility config of a subject, or the global
// config when Subject is empty.
type ConfigKey struct {
	Keytype KeyType `json:"keytype"`
	Subject string  `json:"subject"`
	Magic   int     `json:"magic"`
}

func NewConfigKey(subject string) ConfigKey {
	return ConfigKey{Keytype: KeyTypeConfig, Subject: subject, Magic: MagicByteV0}
}

func (k ConfigKey) KeyType() KeyType { return KeyTypeConfig }

// ConfigValue is the stored form of a config record.
type ConfigValue struct {
	Subject string `json:"subject"`
	Config
}

func (v *ConfigValue) ValueType() KeyType { return KeyTypeConfig }

// ModeKey identifies the mode of a subject, or the global mode when Subject
// is empty.
type ModeKey struct {
	Keytype KeyType `json:"keytype"`
	Subject string  `json:"subject"`
	Magic   int     `json:"magic"`
}

func NewModeKey(subject string) ModeKey {
	return ModeKey{Keytype: KeyTypeMode, Subject: subject, Magic: MagicByteV0}
}

func (k ModeKey) KeyType() KeyType { return KeyTypeMode }

// ModeValue is the stored form of a mode record.
type ModeValue struct {
	Subject string `json:"subject"`
	Mode    Mode   `json:"mode"`
}

func (v *ModeValue) ValueType() KeyType { return KeyTypeMode }

// ContextKey marks a context as known so it can be listed even while empty.
type ContextKey struct {
	Keytype KeyType `json:"keytype"`
	Tenant  string  `json:"tenant"`
	Context string  `json:"context"`
	Magic   int     `json:"magic"`
}

func NewContextKey(tenant, context string) ContextKey {
	return ContextKey{Keytype: KeyTypeContext, Tenant: tenant, Context: context, Magic: MagicByteV0}
}

func (k ContextKey) KeyType() KeyType { return KeyTypeContext }

// ContextValue is the stored form of a context marker.
type ContextValue struct {
	Tenant  string `json:"tenant"`
	Context string `json:"context"`
}

func (v *ContextValue) ValueType() KeyType { return KeyTypeContext }

// DeleteSubjectKey records a soft delete of a whole subject.
type DeleteSubjectKey struct {
	Keytype KeyType `json:"keytype"`
	Subject string  `json:"subject"`
	Magic   int     `json:"magic"`
}

func NewDeleteSubjectKey(subject string) DeleteSubjectKey {
	return DeleteSubjectKey{Keytype: KeyTypeDeleteSubject, Subject: subject, Magic: MagicByteV0}
}

func (k DeleteSubjectKey) KeyType() KeyType { return KeyTypeDeleteSubject }

// DeleteSubjectValue carries the high-water version at the time of the
// subject delete: versions at or below it are considered deleted.
type DeleteSubjectValue struct {
	Subject string `json:"subject"`
	Version int    `json:"version"`
}

func (v *DeleteSubjectValue) ValueType() KeyType { return KeyTypeDeleteSubject }

// ClearSubjectKey records a hard delete of all soft-deleted versions of a
// subject, used when wiping state for IMPORT mode.
type ClearSubjectKey struct {
	Keytype KeyType `json:"keytype"`
	Subject string  `json:"subject"`
	Magic   int     `json:"magic"`
}

func NewClearSubjectKey(subject string) ClearSubjectKey {
	return ClearSubjectKey{Keytype: KeyTypeClearSubject, Subject: subject, Magic: MagicByteV0}
}

func (k ClearSubjectKey) KeyType() KeyType { return KeyTypeClearSubject }

// ClearSubjectValue is the stored form of a clear-subject record.
type ClearSubjectValue struct {
	Subject string `json:"subject"`
}

func (v *ClearSubjectValue) ValueType() KeyType { return KeyTypeClearSubject }

// NoopKey is written as a read barrier; it carries no value and is keyed by
// subject so that concurrent barriers on different subjects do not collide
// under compaction.
type NoopKey struct {
	Keytype KeyType `json:"keytype"`
	Subject string  `json:"subject"`
	Magic   int     `json:"magic"`
}

func NewNoopKey(subject string) NoopKey {
	return NoopKey{Keytype: KeyTypeNoop, Subject: subject, Magic: MagicByteV0}
}

func (k NoopKey) KeyType() KeyType { return KeyTypeNoop }

// keyTypeOrder fixes a total order across key types so that mixed iteration
// is deterministic. Schema keys sort last; scans over a subject's versions
// never cross into another key type.
var keyTypeOrder = map[KeyType]int{
	KeyTypeNoop:          0,
	KeyTypeConfig:        1,
	KeyTypeMode:          2,
	KeyTypeDeleteSubject: 3,
	KeyTypeClearSubject:  4,
	KeyTypeContext:       5,
	KeyTypeSchema:        6,
}

// CompareKeys orders keys by type precedence, then by natural fields.
func CompareKeys(a, b Key) int {
	ta, tb := keyTypeOrder[a.KeyType()], keyTypeOrder[b.KeyType()]
	if ta != tb {
		return ta - tb
	}
	switch ka := a.(type) {
	case SchemaKey:
		kb := b.(SchemaKey)
		if c := strings.Compare(ka.Subject, kb.Subject); c != 0 {
			return c
		}
		return ka.Version - kb.Version
	case ConfigKey:
		return strings.Compare(ka.Subject, b.(ConfigKey).Subject)
	case ModeKey:
		return strings.Compare(ka.Subject, b.(ModeKey).Subject)
	case ContextKey:
		kb := b.(ContextKey)
		if c := strings.Compare(ka.Tenant, kb.Tenant); c != 0 {
			return c
		}
		return strings.Compare(ka.Context, kb.Context)
	case DeleteSubjectKey:
		return strings.Compare(ka.Subject, b.(DeleteSubjectKey).Subject)
	case ClearSubjectKey:
		return strings.Compare(ka.Subject, b.(ClearSubjectKey).Subject)
	case NoopKey:
		return strings.Compare(ka.Subject, b.(NoopKey).Subject)
	}
	return 0
}
