// Package cache holds the in-memory materialization of the log topic. Every
// node applies log records to a Cache in offset order; because apply is
// deterministic and idempotent, replaying the log always rebuilds the same
// state.
package cache

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/axonops/kafka-schema-registry/internal/storage"
	"github.com/axonops/kafka-schema-registry/internal/subject"
)

// Cache implements storage.LookupCache. A single writer (the log consumer)
// mutates it; readers may query concurrently.
type Cache struct {
	mu sync.RWMutex

	entries map[string]entry

	// schemas indexes subject -> version -> stored value for version scans
	// and subject-delete application.
	schemas map[string]map[int]*storage.SchemaValue
	// hashIndex is the content-addressed index: schema hash -> assigned id
	// and every (subject, version) holding that content.
	hashIndex map[string]*storage.SchemaIDAndSubjects
	// idIndex maps context -> id -> the set of keys registered with that id.
	idIndex map[string]map[int]map[storage.SchemaKey]bool
	// referencedBy counts, per referenced (subject, version), the live
	// schema versions referencing it.
	referencedBy map[storage.SubjectVersion]map[storage.SubjectVersion]bool
	// maxID tracks the highest id seen per context; never decreases.
	maxID map[string]int
}

type entry struct {
	key   storage.Key
	value storage.Value
}

// New returns an empty cache.
func New() *Cache {
	return &Cache{
		entries:      make(map[string]entry),
		schemas:      make(map[string]map[int]*storage.SchemaValue),
		hashIndex:    make(map[string]*storage.SchemaIDAndSubjects),
		idIndex:      make(map[string]map[int]map[storage.SchemaKey]bool),
		referencedBy: make(map[storage.SubjectVersion]map[storage.SubjectVersion]bool),
		maxID:        make(map[string]int),
	}
}

// SchemaHash is the content address of a schema value: an MD5 over its
// schema text, type, references, metadata and rule set. Two registrations
// with equal hashes are the same schema and share an id.
func SchemaHash(v *storage.SchemaValue) string {
	content := struct {
		SchemaType storage.SchemaType  `json:"schemaType,omitempty"`
		References []storage.Reference `json:"references,omitempty"`
		Metadata   *storage.Metadata   `json:"metadata,omitempty"`
		RuleSet    *storage.RuleSet    `json:"ruleSet,omitempty"`
		Schema     string              `json:"schema"`
	}{v.SchemaType, v.References, v.Metadata, v.RuleSet, v.Schema}
	data, _ := json.Marshal(content)
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

func (c *Cache) Put(key storage.Key, value storage.Value) error {
	if value == nil {
		return c.Delete(key)
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	switch k := key.(type) {
	case storage.SchemaKey:
		v, ok := value.(*storage.SchemaValue)
		if !ok {
			return fmt.Errorf("%w: schema key with %T value", storage.ErrStore, value)
		}
		c.applySchema(k, v)
	case storage.DeleteSubjectKey:
		v, ok := value.(*storage.DeleteSubjectValue)
		if !ok {
			return fmt.Errorf("%w: delete-subject key with %T value", storage.ErrStore, value)
		}
		c.applyDeleteSubject(v)
		c.entries[keyString(key)] = entry{key, value}
	case storage.ClearSubjectKey:
		v, ok := value.(*storage.ClearSubjectValue)
		if !ok {
			return fmt.Errorf("%w: clear-subject key with %T value", storage.ErrStore, value)
		}
		c.applyClearSubject(v.Subject)
		c.entries[keyString(key)] = entry{key, value}
	case storage.NoopKey:
		// Barriers carry no state.
	default:
		c.entries[keyString(key)] = entry{key, value}
	}
	return nil
}

func (c *Cache) Delete(key storage.Key) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if k, ok := key.(storage.SchemaKey); ok {
		c.tombstoneSchema(k)
	}
	delete(c.entries, keyString(key))
	return nil
}

func (c *Cache) applySchema(key storage.SchemaKey, v *storage.SchemaValue) {
	prev, _ := c.entries[keyString(key)].value.(*storage.SchemaValue)
	c.entries[keyString(key)] = entry{key, v}

	versions := c.schemas[v.Subject]
	if versions == nil {
		versions = make(map[int]*storage.SchemaValue)
		c.schemas[v.Subject] = versions
	}
	versions[v.Version] = v

	hash := SchemaHash(v)
	idx := c.hashIndex[hash]
	if idx == nil {
		idx = &storage.SchemaIDAndSubjects{ID: v.ID, Versions: make(map[string]int)}
		c.hashIndex[hash] = idx
	}
	idx.Versions[v.Subject] = v.Version

	registryCtx := subject.ContextOf(v.Subject)
	ids := c.idIndex[registryCtx]
	if ids == nil {
		ids = make(map[int]map[storage.SchemaKey]bool)
		c.idIndex[registryCtx] = ids
	}
	keys := ids[v.ID]
	if keys == nil {
		keys = make(map[storage.SchemaKey]bool)
		ids[v.ID] = keys
	}
	keys[storage.NewSchemaKey(v.Subject, v.Version)] = true

	if v.ID > c.maxID[registryCtx] {
		c.maxID[registryCtx] = v.ID
	}

	// Reference edges exist only for live versions.
	if prev != nil && !prev.Deleted {
		c.removeReferenceEdges(prev)
	}
	if !v.Deleted {
		c.addReferenceEdges(v)
	}
}

func (c *Cache) tombstoneSchema(key storage.SchemaKey) {
	v, _ := c.entries[keyString(key)].value.(*storage.SchemaValue)
	if v == nil {
		return
	}
	if versions := c.schemas[v.Subject]; versions != nil {
		delete(versions, v.Version)
		if len(versions) == 0 {
			delete(c.schemas, v.Subject)
		}
	}
	hash := SchemaHash(v)
	if idx := c.hashIndex[hash]; idx != nil {
		if idx.Versions[v.Subject] == v.Version {
			delete(idx.Versions, v.Subject)
		}
		if len(idx.Versions) == 0 {
			delete(c.hashIndex, hash)
		}
	}
	registryCtx := subject.ContextOf(v.Subject)
	if ids := c.idIndex[registryCtx]; ids != nil {
		if keys := ids[v.ID]; keys != nil {
			delete(keys, key)
			if len(keys) == 0 {
				delete(ids, v.ID)
			}
		}
	}
	if !v.Deleted {
		c.removeReferenceEdges(v)
	}
}

// applyDeleteSubject marks every version at or below the watermark deleted.
func (c *Cache) applyDeleteSubject(v *storage.DeleteSubjectValue) {
	for version, sv := range c.schemas[v.Subject] {
		if version > v.Version || sv.Deleted {
			continue
		}
		deleted := *sv
		deleted.Deleted = true
		c.applySchema(storage.NewSchemaKey(v.Subject, version), &deleted)
	}
}

// applyClearSubject hard-deletes every soft-deleted version of the subject.
func (c *Cache) applyClearSubject(subj string) {
	var doomed []storage.SchemaKey
	for version, sv := range c.schemas[subj] {
		if sv.Deleted {
			doomed = append(doomed, storage.NewSchemaKey(subj, version))
		}
	}
	for _, key := range doomed {
		c.tombstoneSchema(key)
		delete(c.entries, keyString(key))
	}
}

func (c *Cache) addReferenceEdges(v *storage.SchemaValue) {
	referencer := storage.SubjectVersion{Subject: v.Subject, Version: v.Version}
	for _, ref := range v.References {
		target := storage.SubjectVersion{Subject: ref.Subject, Version: ref.Version}
		set := c.referencedBy[target]
		if set == nil {
			set = make(map[storage.SubjectVersion]bool)
			c.referencedBy[target] = set
		}
		set[referencer] = true
	}
}

func (c *Cache) removeReferenceEdges(v *storage.SchemaValue) {
	referencer := storage.SubjectVersion{Subject: v.Subject, Version: v.Version}
	for _, ref := range v.References {
		target := storage.SubjectVersion{Subject: ref.Subject, Version: ref.Version}
		if set := c.referencedBy[target]; set != nil {
			delete(set, referencer)
			if len(set) == 0 {
				delete(c.referencedBy, target)
			}
		}
	}
}

func (c *Cache) Get(key storage.Key) storage.Value {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.entries[keyString(key)].value
}

func (c *Cache) Range(from, to storage.Key) storage.CloseableIterator {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var snapshot []entry
	for _, e := range c.entries {
		if from != nil && storage.CompareKeys(e.key, from) < 0 {
			continue
		}
		if to != nil && storage.CompareKeys(e.key, to) >= 0 {
			continue
		}
		snapshot = append(snapshot, e)
	}
	sort.Slice(snapshot, func(i, j int) bool {
		return storage.CompareKeys(snapshot[i].key, snapshot[j].key) < 0
	})
	return &sliceIterator{entries: snapshot, pos: -1}
}

func (c *Cache) SchemaKeyByID(id int, registryCtx string) (storage.SchemaKey, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	keys := c.idIndex[registryCtx][id]
	if len(keys) == 0 {
		return storage.SchemaKey{}, false
	}
	// Prefer a live registration; tie-break on key order so lookups are
	// stable across replicas.
	var best storage.SchemaKey
	bestLive := false
	found := false
	for key := range keys {
		v, _ := c.entries[keyString(key)].value.(*storage.SchemaValue)
		live := v != nil && !v.Deleted
		switch {
		case !found,
			live && !bestLive,
			live == bestLive && storage.CompareKeys(key, best) < 0:
			best, bestLive, found = key, live, true
		}
	}
	return best, true
}

func (c *Cache) SchemaIDAndSubjects(v *storage.SchemaValue) (storage.SchemaIDAndSubjects, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	idx := c.hashIndex[SchemaHash(v)]
	if idx == nil {
		return storage.SchemaIDAndSubjects{}, false
	}
	out := storage.SchemaIDAndSubjects{ID: idx.ID, Versions: make(map[string]int, len(idx.Versions))}
	for s, ver := range idx.Versions {
		out.Versions[s] = ver
	}
	return out, true
}

func (c *Cache) ReferencesSchema(sv storage.SubjectVersion) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.referencedBy[sv])
}

func (c *Cache) Subjects(prefix string, filter storage.LookupFilter) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []string
	for subj, versions := range c.schemas {
		if !matchesPrefix(subj, prefix) {
			continue
		}
		for _, v := range versions {
			if filter.ShouldInclude(v.Deleted) {
				out = append(out, subj)
				break
			}
		}
	}
	sort.Strings(out)
	return out
}

func (c *Cache) HasSubjects(prefix string, filter storage.LookupFilter) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for subj, versions := range c.schemas {
		if !matchesPrefix(subj, prefix) {
			continue
		}
		for _, v := range versions {
			if filter.ShouldInclude(v.Deleted) {
				return true
			}
		}
	}
	return false
}

func (c *Cache) Mode(subj string) *storage.ModeValue {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, _ := c.entries[keyString(storage.NewModeKey(subj))].value.(*storage.ModeValue)
	return v
}

func (c *Cache) Config(subj string) *storage.ConfigValue {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, _ := c.entries[keyString(storage.NewConfigKey(subj))].value.(*storage.ConfigValue)
	return v
}

func (c *Cache) Contexts() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	seen := map[string]bool{subject.DefaultContext: true}
	for _, e := range c.entries {
		if cv, ok := e.value.(*storage.ContextValue); ok {
			seen[cv.Context] = true
		}
	}
	for subj := range c.schemas {
		seen[subject.ContextOf(subj)] = true
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (c *Cache) MaxID(registryCtx string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.maxID[registryCtx]
}

// matchesPrefix applies subject listing semantics: the context wildcard
// matches everything, the empty prefix matches the default context only.
func matchesPrefix(subj, prefix string) bool {
	if prefix == subject.ContextWildcard || strings.HasPrefix(prefix, subject.ContextWildcard) {
		return true
	}
	if prefix == "" {
		return !strings.HasPrefix(subj, ":")
	}
	return strings.HasPrefix(subj, prefix)
}

func keyString(key storage.Key) string {
	switch k := key.(type) {
	case storage.SchemaKey:
		return fmt.Sprintf("s/%s/%d", k.Subject, k.Version)
	case storage.ConfigKey:
		return "c/" + k.Subject
	case storage.ModeKey:
		return "m/" + k.Subject
	case storage.ContextKey:
		return "x/" + k.Tenant + "/" + k.Context
	case storage.DeleteSubjectKey:
		return "d/" + k.Subject
	case storage.ClearSubjectKey:
		return "w/" + k.Subject
	case storage.NoopKey:
		return "n/" + k.Subject
	}
	return fmt.Sprintf("?/%v", key)
}

type sliceIterator struct {
	entries []entry
	pos     int
}

func (it *sliceIterator) Next() bool {
	it.pos++
	return it.pos < len(it.entries)
}

func (it *sliceIterator) Key() storage.Key     { return it.entries[it.pos].key }
func (it *sliceIterator) Value() storage.Value { return it.entries[it.pos].value }
func (it *sliceIterator) Err() error           { return nil }
func (it *sliceIterator) Close() error         { return nil }
