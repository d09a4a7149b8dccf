package storage

import (
	"context"
	"sync"
)

// CloseableIterator walks key/value pairs in key order. Callers must Close
// it when done, also on early exit.
type CloseableIterator interface {
	Next() bool
	Key() Key
	Value() Value
	Err() error
	Close() error
}

// SchemaIDAndSubjects is the content-addressed index entry for one canonical
// schema: the id it was assigned and every (subject, version) it is
// registered under.
type SchemaIDAndSubjects struct {
	ID       int
	Versions map[string]int
}

// Version returns the version the schema holds under subject, if any.
func (s SchemaIDAndSubjects) Version(subject string) (int, bool) {
	v, ok := s.Versions[subject]
	return v, ok
}

// HasSubject reports whether the schema is registered under subject.
func (s SchemaIDAndSubjects) HasSubject(subject string) bool {
	_, ok := s.Versions[subject]
	return ok
}

// LookupCache is the in-memory materialization of the log: the key/value
// state plus the secondary indexes the registration path needs. A single
// writer (the log consumer) calls Put and Delete; readers may call
// everything else concurrently.
type LookupCache interface {
	// Put applies a log record. It is idempotent: replaying the log yields
	// the same state.
	Put(key Key, value Value) error
	// Delete applies a tombstone for key.
	Delete(key Key) error
	// Get returns the current value for key, or nil if absent.
	Get(key Key) Value
	// Range iterates entries with from <= key < to in key order. A nil to
	// means no upper bound.
	Range(from, to Key) CloseableIterator

	// SchemaKeyByID returns the key of the schema with the given id in the
	// given context, preferring a never-deleted registration.
	SchemaKeyByID(id int, context string) (SchemaKey, bool)
	// SchemaIDAndSubjects looks up the content-addressed entry for a schema
	// value, matching on schema text, references, metadata and rule set.
	SchemaIDAndSubjects(value *SchemaValue) (SchemaIDAndSubjects, bool)
	// ReferencesSchema returns how many live schema versions reference the
	// given (subject, version).
	ReferencesSchema(sv SubjectVersion) int
	// Subjects lists subjects with the given prefix. An empty prefix lists
	// the default context only; the context wildcard prefix lists all.
	Subjects(prefix string, filter LookupFilter) []string
	// HasSubjects reports whether any subject with the prefix has versions
	// passing the filter.
	HasSubjects(prefix string, filter LookupFilter) bool
	// Mode returns the stored mode record for subject ("" = global), or nil.
	Mode(subject string) *ModeValue
	// Config returns the stored config record for subject ("" = global), or
	// nil.
	Config(subject string) *ConfigValue
	// Contexts lists the known context names, default context included.
	Contexts() []string
	// MaxID returns the highest schema id seen in the given context,
	// deleted versions included.
	MaxID(context string) int
}

// Store is the durable log store. Put and Delete append to the log and
// return after the local consumer has applied the record; Get and GetAll
// read the local cache.
type Store interface {
	// Init creates the topic if needed, starts the consumer and blocks
	// until the cache has caught up with the end of the log.
	Init(ctx context.Context) error
	Put(ctx context.Context, key Key, value Value) error
	Delete(ctx context.Context, key Key) error
	Get(key Key) (Value, error)
	GetAll(from, to Key) (CloseableIterator, error)
	// WaitForReader writes a subject-keyed noop barrier record and blocks
	// until the local consumer has applied every record up to and including
	// it.
	WaitForReader(ctx context.Context, subject string) error
	// MarkLastWrittenOffsetInvalid forgets the last locally produced offset
	// so the next WaitForReader reads the true end of the log. Called on
	// leader transitions.
	MarkLastWrittenOffsetInvalid()
	// BecomeLeader opens the fenced log writer for a new leadership term.
	// Writers of earlier terms are rejected from then on.
	BecomeLeader(ctx context.Context) error
	// ResignLeader closes the log writer; later writes fail with
	// ErrNotLeader.
	ResignLeader()
	// LockFor returns the mutex serializing mutations of one subject.
	LockFor(subject string) *sync.Mutex
	// Cache exposes the lookup cache backing this store.
	Cache() LookupCache
	Close() error
}
