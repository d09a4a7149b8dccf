// Package registry is the orchestration core of the schema registry:
// registration with deduplication and compatibility checking, lookups,
// deletes, config and mode handling, and leader-or-forward dispatch.
package registry

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/axonops/kafka-schema-registry/internal/cluster"
	"github.com/axonops/kafka-schema-registry/internal/compatibility"
	"github.com/axonops/kafka-schema-registry/internal/schema"
	"github.com/axonops/kafka-schema-registry/internal/storage"
	"github.com/axonops/kafka-schema-registry/internal/storage/cache"
	"github.com/axonops/kafka-schema-registry/internal/subject"
)

// VersionLatest selects the highest live version of a subject.
const VersionLatest = -1

// Options tune the registry core.
type Options struct {
	// DefaultCompatibility applies when neither subject nor global config
	// sets a level.
	DefaultCompatibility compatibility.Level
	// ModeMutability enables SetMode; when false all mode changes fail.
	ModeMutability bool
	// MaxIDRetries bounds the id-collision retry loop during registration.
	MaxIDRetries int
	// InitTimeout bounds the log catch-up after becoming leader.
	InitTimeout time.Duration
	// ForwardTimeout bounds forwarded requests to the leader.
	ForwardTimeout time.Duration
	// ParseCacheSize and ParseCacheExpiry bound the parsed-schema LRU.
	ParseCacheSize   int
	ParseCacheExpiry time.Duration
}

func (o Options) withDefaults() Options {
	if o.DefaultCompatibility == "" {
		o.DefaultCompatibility = compatibility.LevelBackward
	}
	if o.MaxIDRetries == 0 {
		o.MaxIDRetries = 5
	}
	if o.InitTimeout == 0 {
		o.InitTimeout = 60 * time.Second
	}
	if o.ForwardTimeout == 0 {
		o.ForwardTimeout = 30 * time.Second
	}
	if o.ParseCacheSize == 0 {
		o.ParseCacheSize = 1000
	}
	return o
}

// Registry ties the store, the schema parsers and the compatibility checker
// together and dispatches every mutation to the leader.
type Registry struct {
	store     storage.Store
	parsers   *schema.Registry
	checker   *compatibility.Checker
	idGen     IDGenerator
	parsed    *parseCache
	forwarder *Forwarder
	opts      Options
	self      *cluster.Identity

	// leaderMu is the leader lock. It nests inside LockFor(subject) and is
	// never taken the other way around.
	leaderMu sync.RWMutex
	leader   *cluster.Identity
}

// New builds a registry over the given store. self identifies this node for
// leader comparisons; it may be nil in single-node setups, in which case
// SetLeader(nil-compared) never matches and the node must be made leader by
// passing its own identity.
func New(store storage.Store, parsers *schema.Registry, checker *compatibility.Checker, self *cluster.Identity, opts Options) *Registry {
	opts = opts.withDefaults()
	return &Registry{
		store:     store,
		parsers:   parsers,
		checker:   checker,
		idGen:     NewIncrementalIDGenerator(store.Cache()),
		parsed:    newParseCache(opts.ParseCacheSize, opts.ParseCacheExpiry),
		forwarder: NewForwarder(opts.ForwardTimeout),
		opts:      opts,
		self:      self,
	}
}

func (r *Registry) cache() storage.LookupCache { return r.store.Cache() }

// SetLeader records the new leader identity. When this node is the new
// leader it invalidates the cached write offset, catches up with the log and
// reseeds the id generator; until that completes no id is handed out.
func (r *Registry) SetLeader(ctx context.Context, leader *cluster.Identity) error {
	r.leaderMu.Lock()
	defer r.leaderMu.Unlock()

	r.leader = leader
	r.store.MarkLastWrittenOffsetInvalid()

	if leader != nil && leader.Equal(r.self) {
		catchCtx, cancel := context.WithTimeout(ctx, r.opts.InitTimeout)
		defer cancel()
		if err := r.store.BecomeLeader(catchCtx); err != nil {
			return fmt.Errorf("%w: opening log writer after becoming leader: %v", storage.ErrInitialization, err)
		}
		if err := r.store.WaitForReader(catchCtx, ""); err != nil {
			return fmt.Errorf("%w: catching up after becoming leader: %v", storage.ErrInitialization, err)
		}
		r.idGen.Init()
	} else {
		r.store.ResignLeader()
	}
	return nil
}

// IsLeader reports whether this node currently holds leadership.
func (r *Registry) IsLeader() bool {
	r.leaderMu.RLock()
	defer r.leaderMu.RUnlock()
	return r.leader != nil && r.leader.Equal(r.self)
}

// Leader returns the current leader identity, or nil if none is known.
func (r *Registry) Leader() *cluster.Identity {
	r.leaderMu.RLock()
	defer r.leaderMu.RUnlock()
	return r.leader
}

// SchemaTypes returns the supported schema types.
func (r *Registry) SchemaTypes() []string {
	return r.parsers.Types()
}

// Register registers a schema under subject and returns the stored entity
// with its id and version filled in. Registering an identical schema again
// is a no-op returning the existing registration. Must run on the leader.
func (r *Registry) Register(ctx context.Context, subj string, s *storage.Schema, normalize bool) (*storage.Schema, error) {
	callerID, callerVersion := s.ID, s.Version

	mode := r.ModeInScope(subj)
	switch {
	case mode == storage.ModeReadOnly || mode == storage.ModeReadOnlyOverride:
		return nil, fmt.Errorf("%w: subject %s is in read-only mode", storage.ErrOperationNotPermitted, subj)
	case callerID > 0 && mode != storage.ModeImport:
		return nil, fmt.Errorf("%w: registering with an explicit id requires IMPORT mode", storage.ErrOperationNotPermitted)
	case callerID <= 0 && mode != storage.ModeReadWrite:
		return nil, fmt.Errorf("%w: subject %s is in %s mode, registering without an explicit id requires READWRITE",
			storage.ErrOperationNotPermitted, subj, mode)
	}

	if err := r.store.WaitForReader(ctx, subj); err != nil {
		return nil, err
	}

	// Empty input re-registers the latest version with new metadata or rules.
	if s.Schema == "" && s.SchemaType == "" && len(s.References) == 0 {
		latest := r.latestLive(subj)
		if latest == nil {
			return nil, fmt.Errorf("%w: empty schema", storage.ErrInvalidSchema)
		}
		s.Schema, s.SchemaType, s.References = latest.Schema, latest.SchemaType, latest.References
	}
	if s.SchemaType == "" {
		s.SchemaType = storage.SchemaTypeAvro
	}

	resolvedRefs, err := r.resolveReferences(s.References)
	if err != nil {
		return nil, err
	}

	normalize = normalize || r.normalizeEnabled(subj)
	parsed, err := r.parse(s.SchemaType, s.Schema, resolvedRefs, normalize)
	if err != nil {
		return nil, err
	}
	text := s.Schema
	if normalize {
		text = parsed.CanonicalString()
	}

	// Dedup fast path on the content-addressed index.
	candidate := &storage.SchemaValue{
		Subject: subj, SchemaType: s.SchemaType, References: s.References,
		Metadata: s.Metadata, RuleSet: s.RuleSet, Schema: text,
	}
	if existing := r.dedup(subj, candidate, callerID); existing != nil {
		return existing, nil
	}
	if match, ok := r.cache().SchemaIDAndSubjects(candidate); ok && (callerID <= 0 || callerID == match.ID) {
		// Known content under another subject (or soft-deleted here): reuse
		// its id for the new registration.
		s.ID = match.ID
	}

	all, err := r.versionsOf(subj, storage.FilterIncludeDeleted)
	if err != nil {
		return nil, err
	}
	newVersion := storage.MinVersion
	if n := len(all); n > 0 {
		newVersion = all[n-1].Version + 1
	}
	var live, softDeleted []*storage.SchemaValue
	for _, v := range all {
		if v.Deleted {
			softDeleted = append(softDeleted, v)
		} else {
			live = append(live, v)
		}
	}

	// Reference-resolution dedup: the caller may have inlined a schema that
	// an existing version expresses through references.
	if len(s.References) == 0 {
		for i := len(live) - 1; i >= 0; i-- {
			prev := live[i]
			if len(prev.References) == 0 {
				continue
			}
			prevParsed, perr := r.parseStored(prev)
			if perr == nil && parsed.DeepEquals(prevParsed) {
				return prev.ToSchema(), nil
			}
		}
	}

	// Metadata and rule set: inherit from the previous version when absent,
	// then merge config defaults and overrides around the specific values.
	cfg := r.ConfigInScope(subj)
	specificMeta, specificRules := s.Metadata, s.RuleSet
	if n := len(live); n > 0 {
		if specificMeta == nil {
			specificMeta = live[n-1].Metadata
		}
		if specificRules == nil {
			specificRules = live[n-1].RuleSet
		}
	}
	s.Metadata = storage.MergeMetadata(storage.MergeMetadata(cfg.DefaultMetadata, specificMeta), cfg.OverrideMetadata)
	s.RuleSet = storage.MergeRuleSets(storage.MergeRuleSets(cfg.DefaultRuleSet, specificRules), cfg.OverrideRuleSet)

	if mode != storage.ModeImport {
		if err := r.checkCompatible(cfg, subj, s, text, resolvedRefs, live); err != nil {
			return nil, err
		}
	}

	// Dedup again with the final metadata and rule set: canonicalization and
	// the merges above may have unified forms.
	final := &storage.SchemaValue{
		Subject: subj, SchemaType: s.SchemaType, References: s.References,
		Metadata: s.Metadata, RuleSet: s.RuleSet, Schema: text,
	}
	if existing := r.dedup(subj, final, callerID); existing != nil {
		return existing, nil
	}
	if match, ok := r.cache().SchemaIDAndSubjects(final); ok && (callerID <= 0 || callerID == match.ID) {
		s.ID = match.ID
	}

	// Make the context discoverable before the schema that creates it.
	q := subject.Parse(subj)
	if q.Context != subject.DefaultContext {
		ckey := storage.NewContextKey(subject.DefaultTenant, q.Context)
		if r.cache().Get(ckey) == nil {
			cval := &storage.ContextValue{Tenant: subject.DefaultTenant, Context: q.Context}
			if err := r.store.Put(ctx, ckey, cval); err != nil {
				return nil, err
			}
		}
	}

	version := newVersion
	if callerVersion > 0 {
		if mode != storage.ModeImport && callerVersion != newVersion {
			return nil, fmt.Errorf("%w: version %d is not one more than the latest version %d",
				storage.ErrInvalidVersion, callerVersion, newVersion-1)
		}
		version = callerVersion
	}

	final.Version = version
	if s.ID > 0 {
		// Explicit or reused id: any schema already holding it in this
		// context, under any subject, must carry the same content.
		if key, ok := r.cache().SchemaKeyByID(s.ID, q.Context); ok {
			holder := r.schemaValue(key.Subject, key.Version)
			if holder != nil && cache.SchemaHash(holder) != cache.SchemaHash(final) {
				return nil, fmt.Errorf("%w: id %d is already registered with different content",
					storage.ErrOperationNotPermitted, s.ID)
			}
		}
		for _, v := range all {
			if v.ID == s.ID && cache.SchemaHash(v) != cache.SchemaHash(final) {
				return nil, fmt.Errorf("%w: id %d is already registered with different content",
					storage.ErrOperationNotPermitted, s.ID)
			}
		}
		final.ID = s.ID
		if err := r.store.Put(ctx, storage.NewSchemaKey(subj, version), final); err != nil {
			return nil, err
		}
	} else {
		assigned := false
		for attempt := 0; attempt < r.opts.MaxIDRetries; attempt++ {
			id := r.idGen.NextID(q.Context)
			if _, taken := r.cache().SchemaKeyByID(id, q.Context); taken {
				continue
			}
			final.ID = id
			if err := r.store.Put(ctx, storage.NewSchemaKey(subj, version), final); err != nil {
				return nil, err
			}
			assigned = true
			break
		}
		if !assigned {
			return nil, fmt.Errorf("%w: exhausted %d attempts", storage.ErrIDGeneration, r.opts.MaxIDRetries)
		}
	}

	// Re-registering content that a soft-deleted lower version carried
	// resurrects the id; the stale soft-deleted rows are tombstoned.
	for _, v := range softDeleted {
		if v.ID == final.ID && v.Version < final.Version {
			if err := r.store.Delete(ctx, storage.NewSchemaKey(subj, v.Version)); err != nil {
				return nil, err
			}
		}
	}

	return final.ToSchema(), nil
}

// dedup returns the live registration of value under subj if one exists and
// the caller's id does not contradict it.
func (r *Registry) dedup(subj string, value *storage.SchemaValue, callerID int) *storage.Schema {
	match, ok := r.cache().SchemaIDAndSubjects(value)
	if !ok || (callerID > 0 && callerID != match.ID) {
		return nil
	}
	version, ok := match.Version(subj)
	if !ok {
		return nil
	}
	if v := r.schemaValue(subj, version); v != nil && !v.Deleted {
		return v.ToSchema()
	}
	return nil
}

func (r *Registry) checkCompatible(cfg *storage.Config, subj string, s *storage.Schema, text string, refs []storage.Reference, live []*storage.SchemaValue) error {
	level, _ := compatibility.ParseLevel(cfg.CompatibilityLevel)
	if level == compatibility.LevelNone || len(live) == 0 {
		return nil
	}

	// A configured compatibility group partitions versions: only versions
	// whose group property matches the candidate's participate.
	previous := live
	if groupKey := cfg.CompatibilityGroup; groupKey != "" {
		candidateGroup := metadataProperty(s.Metadata, groupKey)
		previous = previous[:0:0]
		for _, v := range live {
			if metadataProperty(v.Metadata, groupKey) == candidateGroup {
				previous = append(previous, v)
			}
		}
	}

	prevWithRefs := make([]compatibility.SchemaWithRefs, 0, len(previous))
	for _, v := range previous {
		prevRefs, err := r.resolveReferences(v.References)
		if err != nil {
			return err
		}
		prevWithRefs = append(prevWithRefs, compatibility.SchemaWithRefs{Schema: v.Schema, References: prevRefs})
	}

	result := r.checker.Check(level, s.SchemaType,
		compatibility.SchemaWithRefs{Schema: text, References: refs}, prevWithRefs)
	if !result.IsCompatible {
		return fmt.Errorf("%w: %s", storage.ErrIncompatibleSchema, strings.Join(result.Messages, "; "))
	}
	return nil
}

func metadataProperty(m *storage.Metadata, key string) string {
	if m == nil || m.Properties == nil {
		return ""
	}
	return m.Properties[key]
}

// RegisterOrForward registers on the leader, locally or via forwarding.
func (r *Registry) RegisterOrForward(ctx context.Context, subj string, s *storage.Schema, normalize bool, headers http.Header) (*storage.Schema, error) {
	// Read-only probe: an identical live registration needs no write and no
	// round trip to the leader.
	if existing, err := r.LookupSchema(subj, s.Copy(), normalize, storage.FilterDefault); err == nil {
		if s.ID <= 0 || s.ID == existing.ID {
			return existing, nil
		}
	}

	lock := r.store.LockFor(subj)
	lock.Lock()
	defer lock.Unlock()

	if r.IsLeader() {
		return r.Register(ctx, subj, s, normalize)
	}
	if leader := r.Leader(); leader != nil {
		id, err := r.forwarder.RegisterSchema(ctx, leader, subj, s, normalize, headers)
		if err != nil {
			return nil, err
		}
		registered := s.Copy()
		registered.Subject, registered.ID = subj, id
		return registered, nil
	}
	return nil, storage.ErrUnknownLeader
}

// LookupSchema finds the live (or, per filter, deleted) registration of an
// identical schema under subject.
func (r *Registry) LookupSchema(subj string, s *storage.Schema, normalize bool, filter storage.LookupFilter) (*storage.Schema, error) {
	if s.SchemaType == "" {
		s.SchemaType = storage.SchemaTypeAvro
	}
	resolvedRefs, err := r.resolveReferences(s.References)
	if err != nil {
		return nil, err
	}
	normalize = normalize || r.normalizeEnabled(subj)
	parsed, err := r.parse(s.SchemaType, s.Schema, resolvedRefs, normalize)
	if err != nil {
		return nil, err
	}
	text := s.Schema
	if normalize {
		text = parsed.CanonicalString()
	}

	probe := func(meta *storage.Metadata, rules *storage.RuleSet) *storage.Schema {
		value := &storage.SchemaValue{
			Subject: subj, SchemaType: s.SchemaType, References: s.References,
			Metadata: meta, RuleSet: rules, Schema: text,
		}
		match, ok := r.cache().SchemaIDAndSubjects(value)
		if !ok {
			return nil
		}
		version, ok := match.Version(subj)
		if !ok {
			return nil
		}
		if v := r.schemaValue(subj, version); v != nil && filter.ShouldInclude(v.Deleted) {
			return v.ToSchema()
		}
		return nil
	}

	if found := probe(s.Metadata, s.RuleSet); found != nil {
		return found, nil
	}
	// Registration merges config metadata into the stored value; retry the
	// probe the way register would have stored it.
	cfg := r.ConfigInScope(subj)
	meta := storage.MergeMetadata(storage.MergeMetadata(cfg.DefaultMetadata, s.Metadata), cfg.OverrideMetadata)
	rules := storage.MergeRuleSets(storage.MergeRuleSets(cfg.DefaultRuleSet, s.RuleSet), cfg.OverrideRuleSet)
	if found := probe(meta, rules); found != nil {
		return found, nil
	}
	return nil, fmt.Errorf("%w: under subject %s", storage.ErrSchemaNotFound, subj)
}

// LookupSchemaUsingContexts looks up an unqualified subject across every
// known context when the default context has no match.
func (r *Registry) LookupSchemaUsingContexts(subj string, s *storage.Schema, normalize bool, filter storage.LookupFilter) (*storage.Schema, error) {
	found, err := r.LookupSchema(subj, s.Copy(), normalize, filter)
	if err == nil {
		return found, nil
	}
	if subject.ContextOf(subj) != subject.DefaultContext {
		return nil, err
	}
	for _, ctxName := range r.cache().Contexts() {
		if ctxName == subject.DefaultContext {
			continue
		}
		qualified := subject.Qualify(ctxName, subj)
		if found, qerr := r.LookupSchema(qualified, s.Copy(), normalize, filter); qerr == nil {
			return found, nil
		}
	}
	return nil, err
}

// SchemaBySubjectVersion returns one version of a subject. VersionLatest
// selects the highest live version.
func (r *Registry) SchemaBySubjectVersion(subj string, version int, filter storage.LookupFilter) (*storage.Schema, error) {
	if version == VersionLatest {
		latest := r.latestLive(subj)
		if latest == nil {
			return nil, fmt.Errorf("%w: %s", storage.ErrSubjectNotFound, subj)
		}
		return latest.ToSchema(), nil
	}
	if version < storage.MinVersion || version > storage.MaxVersion {
		return nil, fmt.Errorf("%w: %d", storage.ErrInvalidVersion, version)
	}
	v := r.schemaValue(subj, version)
	if v == nil {
		if r.latestOf(subj, storage.FilterIncludeDeleted) == nil {
			return nil, fmt.Errorf("%w: %s", storage.ErrSubjectNotFound, subj)
		}
		return nil, fmt.Errorf("%w: version %d of subject %s", storage.ErrVersionNotFound, version, subj)
	}
	if !filter.ShouldInclude(v.Deleted) {
		return nil, fmt.Errorf("%w: version %d of subject %s", storage.ErrVersionNotFound, version, subj)
	}
	return v.ToSchema(), nil
}

// SchemaByID returns the schema with the given id. The subject hint decides
// the context to search; an unqualified hint falls back to every known
// context when the default context has no match.
func (r *Registry) SchemaByID(id int, subjectHint string) (*storage.Schema, error) {
	q := subject.Parse(subjectHint)
	if s := r.schemaByIDInContext(id, q.Context); s != nil {
		return s, nil
	}
	if q.Context == subject.DefaultContext {
		for _, ctxName := range r.cache().Contexts() {
			if ctxName == subject.DefaultContext {
				continue
			}
			if s := r.schemaByIDInContext(id, ctxName); s != nil {
				return s, nil
			}
		}
	}
	return nil, fmt.Errorf("%w: id %d", storage.ErrSchemaNotFound, id)
}

// MaxSchemaID returns the highest schema id in the context the hint selects.
func (r *Registry) MaxSchemaID(subjectHint string) int {
	return r.cache().MaxID(subject.Parse(subjectHint).Context)
}

func (r *Registry) schemaByIDInContext(id int, registryCtx string) *storage.Schema {
	key, ok := r.cache().SchemaKeyByID(id, registryCtx)
	if !ok {
		return nil
	}
	if v := r.schemaValue(key.Subject, key.Version); v != nil {
		return v.ToSchema()
	}
	return nil
}

// SubjectVersionsForID returns every (subject, version) registered with the
// id, in the context the hint selects.
func (r *Registry) SubjectVersionsForID(id int, subjectHint string, filter storage.LookupFilter) ([]storage.SubjectVersion, error) {
	s, err := r.SchemaByID(id, subjectHint)
	if err != nil {
		return nil, err
	}
	match, ok := r.cache().SchemaIDAndSubjects(storage.NewSchemaValue(s, false))
	if !ok {
		return nil, fmt.Errorf("%w: id %d", storage.ErrSchemaNotFound, id)
	}
	out := make([]storage.SubjectVersion, 0, len(match.Versions))
	for subj, version := range match.Versions {
		if v := r.schemaValue(subj, version); v != nil && filter.ShouldInclude(v.Deleted) {
			out = append(out, storage.SubjectVersion{Subject: subj, Version: version})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Subject != out[j].Subject {
			return out[i].Subject < out[j].Subject
		}
		return out[i].Version < out[j].Version
	})
	return out, nil
}

// ListSubjects lists subjects with the given prefix. An empty prefix lists
// the default context; the context wildcard lists everything.
func (r *Registry) ListSubjects(prefix string, filter storage.LookupFilter) []string {
	return r.cache().Subjects(prefix, filter)
}

// ListContexts lists the known contexts, the default context included.
func (r *Registry) ListContexts() []string {
	return r.cache().Contexts()
}

// ListVersions returns the version numbers of a subject in ascending order.
func (r *Registry) ListVersions(subj string, filter storage.LookupFilter) ([]int, error) {
	values, err := r.versionsOf(subj, filter)
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("%w: %s", storage.ErrSubjectNotFound, subj)
	}
	versions := make([]int, len(values))
	for i, v := range values {
		versions[i] = v.Version
	}
	return versions, nil
}

// ReferencedBy returns the ids of live schemas referencing the given
// (subject, version), ascending.
func (r *Registry) ReferencedBy(subj string, version int) ([]int, error) {
	it, err := r.store.GetAll(storage.NewSchemaKey("", storage.MinVersion), nil)
	if err != nil {
		return nil, err
	}
	defer it.Close()

	seen := make(map[int]bool)
	var ids []int
	for it.Next() {
		v, ok := it.Value().(*storage.SchemaValue)
		if !ok || v.Deleted {
			continue
		}
		for _, ref := range v.References {
			if ref.Subject == subj && ref.Version == version && !seen[v.ID] {
				seen[v.ID] = true
				ids = append(ids, v.ID)
			}
		}
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	sort.Ints(ids)
	return ids, nil
}

// DeleteVersion soft- or hard-deletes one version. VersionLatest resolves to
// the highest live version. Must run on the leader.
func (r *Registry) DeleteVersion(ctx context.Context, subj string, version int, permanent bool) (int, error) {
	if mode := r.ModeInScope(subj); mode == storage.ModeReadOnly || mode == storage.ModeReadOnlyOverride {
		return 0, fmt.Errorf("%w: subject %s is in read-only mode", storage.ErrOperationNotPermitted, subj)
	}
	if err := r.store.WaitForReader(ctx, subj); err != nil {
		return 0, err
	}

	var v *storage.SchemaValue
	if version == VersionLatest {
		v = r.latestLive(subj)
	} else {
		v = r.schemaValue(subj, version)
	}
	if v == nil {
		if r.latestOf(subj, storage.FilterIncludeDeleted) == nil {
			return 0, fmt.Errorf("%w: %s", storage.ErrSubjectNotFound, subj)
		}
		return 0, fmt.Errorf("%w: version %d of subject %s", storage.ErrVersionNotFound, version, subj)
	}

	if n := r.cache().ReferencesSchema(storage.SubjectVersion{Subject: subj, Version: v.Version}); n > 0 {
		return 0, fmt.Errorf("%w: {subject=%s, version=%d}", storage.ErrReferenceExists, subj, v.Version)
	}

	key := storage.NewSchemaKey(subj, v.Version)
	if permanent {
		if !v.Deleted {
			return 0, fmt.Errorf("%w: version %d of subject %s", storage.ErrVersionNotSoftDeleted, v.Version, subj)
		}
		if err := r.store.Delete(ctx, key); err != nil {
			return 0, err
		}
		return v.Version, nil
	}

	if v.Deleted {
		return 0, fmt.Errorf("%w: version %d of subject %s is already soft-deleted",
			storage.ErrVersionNotFound, v.Version, subj)
	}

	deleted := *v
	deleted.Deleted = true
	if err := r.store.Put(ctx, key, &deleted); err != nil {
		return 0, err
	}

	// A subject with no live versions left sheds its per-subject config and
	// mode so a re-created subject starts clean.
	if r.latestLive(subj) == nil {
		if r.cache().Mode(subj) != nil {
			if err := r.store.Delete(ctx, storage.NewModeKey(subj)); err != nil {
				return 0, err
			}
		}
		if r.cache().Config(subj) != nil {
			if err := r.store.Delete(ctx, storage.NewConfigKey(subj)); err != nil {
				return 0, err
			}
		}
	}
	return v.Version, nil
}

// DeleteVersionOrForward dispatches DeleteVersion to the leader.
func (r *Registry) DeleteVersionOrForward(ctx context.Context, subj string, version int, permanent bool, headers http.Header) (int, error) {
	lock := r.store.LockFor(subj)
	lock.Lock()
	defer lock.Unlock()

	if r.IsLeader() {
		return r.DeleteVersion(ctx, subj, version, permanent)
	}
	if leader := r.Leader(); leader != nil {
		return r.forwarder.DeleteSchemaVersion(ctx, leader, subj, version, permanent, headers)
	}
	return 0, storage.ErrUnknownLeader
}

// DeleteSubject soft-deletes a subject by writing a watermark record, or
// hard-deletes it by tombstoning every (already soft-deleted) version.
// Returns the deleted versions ascending. Must run on the leader.
func (r *Registry) DeleteSubject(ctx context.Context, subj string, permanent bool) ([]int, error) {
	if mode := r.ModeInScope(subj); mode == storage.ModeReadOnly || mode == storage.ModeReadOnlyOverride {
		return nil, fmt.Errorf("%w: subject %s is in read-only mode", storage.ErrOperationNotPermitted, subj)
	}
	if err := r.store.WaitForReader(ctx, subj); err != nil {
		return nil, err
	}

	all, err := r.versionsOf(subj, storage.FilterIncludeDeleted)
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, fmt.Errorf("%w: %s", storage.ErrSubjectNotFound, subj)
	}

	for _, v := range all {
		if !permanent && v.Deleted {
			continue
		}
		sv := storage.SubjectVersion{Subject: subj, Version: v.Version}
		if n := r.cache().ReferencesSchema(sv); n > 0 {
			return nil, fmt.Errorf("%w: {subject=%s, version=%d}", storage.ErrReferenceExists, subj, v.Version)
		}
	}

	var versions []int
	if permanent {
		for _, v := range all {
			if !v.Deleted {
				return nil, fmt.Errorf("%w: %s", storage.ErrSubjectNotSoftDeleted, subj)
			}
		}
		for _, v := range all {
			if err := r.store.Delete(ctx, storage.NewSchemaKey(subj, v.Version)); err != nil {
				return nil, err
			}
			versions = append(versions, v.Version)
		}
		if r.cache().Get(storage.NewDeleteSubjectKey(subj)) != nil {
			if err := r.store.Delete(ctx, storage.NewDeleteSubjectKey(subj)); err != nil {
				return nil, err
			}
		}
		if r.cache().Mode(subj) != nil {
			if err := r.store.Delete(ctx, storage.NewModeKey(subj)); err != nil {
				return nil, err
			}
		}
		if r.cache().Config(subj) != nil {
			if err := r.store.Delete(ctx, storage.NewConfigKey(subj)); err != nil {
				return nil, err
			}
		}
		return versions, nil
	}

	watermark := 0
	for _, v := range all {
		if !v.Deleted {
			versions = append(versions, v.Version)
		}
		if v.Version > watermark {
			watermark = v.Version
		}
	}
	if len(versions) == 0 {
		return nil, fmt.Errorf("%w: %s", storage.ErrSubjectNotFound, subj)
	}
	value := &storage.DeleteSubjectValue{Subject: subj, Version: watermark}
	if err := r.store.Put(ctx, storage.NewDeleteSubjectKey(subj), value); err != nil {
		return nil, err
	}
	// The subject's per-subject mode and config go with it so a re-created
	// subject starts clean.
	if r.cache().Mode(subj) != nil {
		if err := r.store.Delete(ctx, storage.NewModeKey(subj)); err != nil {
			return nil, err
		}
	}
	if r.cache().Config(subj) != nil {
		if err := r.store.Delete(ctx, storage.NewConfigKey(subj)); err != nil {
			return nil, err
		}
	}
	return versions, nil
}

// DeleteSubjectOrForward dispatches DeleteSubject to the leader.
func (r *Registry) DeleteSubjectOrForward(ctx context.Context, subj string, permanent bool, headers http.Header) ([]int, error) {
	lock := r.store.LockFor(subj)
	lock.Lock()
	defer lock.Unlock()

	if r.IsLeader() {
		return r.DeleteSubject(ctx, subj, permanent)
	}
	if leader := r.Leader(); leader != nil {
		return r.forwarder.DeleteSubject(ctx, leader, subj, permanent, headers)
	}
	return nil, storage.ErrUnknownLeader
}

// CheckCompatibility checks a candidate schema against a subject's history.
// versionSpec is "latest", a version number, or empty for all versions.
func (r *Registry) CheckCompatibility(subj string, s *storage.Schema, versionSpec string, normalize bool) (*compatibility.Result, error) {
	if s.SchemaType == "" {
		s.SchemaType = storage.SchemaTypeAvro
	}
	resolvedRefs, err := r.resolveReferences(s.References)
	if err != nil {
		return nil, err
	}
	normalize = normalize || r.normalizeEnabled(subj)
	parsed, err := r.parse(s.SchemaType, s.Schema, resolvedRefs, normalize)
	if err != nil {
		return nil, err
	}
	text := s.Schema
	if normalize {
		text = parsed.CanonicalString()
	}

	cfg := r.ConfigInScope(subj)
	level, _ := compatibility.ParseLevel(cfg.CompatibilityLevel)
	if level == compatibility.LevelNone {
		return compatibility.Compatible(), nil
	}

	var previous []*storage.SchemaValue
	switch versionSpec {
	case "latest":
		if latest := r.latestLive(subj); latest != nil {
			previous = []*storage.SchemaValue{latest}
		}
	case "":
		previous, err = r.versionsOf(subj, storage.FilterDefault)
		if err != nil {
			return nil, err
		}
		// Checking against every version is transitive by request.
		switch level {
		case compatibility.LevelBackward:
			level = compatibility.LevelBackwardTransitive
		case compatibility.LevelForward:
			level = compatibility.LevelForwardTransitive
		case compatibility.LevelFull:
			level = compatibility.LevelFullTransitive
		}
	default:
		version, perr := strconv.Atoi(versionSpec)
		if perr != nil {
			return nil, fmt.Errorf("%w: %s", storage.ErrInvalidVersion, versionSpec)
		}
		v := r.schemaValue(subj, version)
		if v == nil || v.Deleted {
			return nil, fmt.Errorf("%w: version %d of subject %s", storage.ErrVersionNotFound, version, subj)
		}
		previous = []*storage.SchemaValue{v}
	}
	if len(previous) == 0 {
		return compatibility.Compatible(), nil
	}

	prevWithRefs := make([]compatibility.SchemaWithRefs, 0, len(previous))
	for _, v := range previous {
		prevRefs, rerr := r.resolveReferences(v.References)
		if rerr != nil {
			return nil, rerr
		}
		prevWithRefs = append(prevWithRefs, compatibility.SchemaWithRefs{Schema: v.Schema, References: prevRefs})
	}
	return r.checker.Check(level, s.SchemaType,
		compatibility.SchemaWithRefs{Schema: text, References: resolvedRefs}, prevWithRefs), nil
}

// ConfigInScope resolves the effective config for a subject: subject config,
// then global, then the built-in default level. A subject config without a
// level inherits the global level.
func (r *Registry) ConfigInScope(subj string) *storage.Config {
	c := r.cache()
	global := &storage.Config{CompatibilityLevel: string(r.opts.DefaultCompatibility)}
	if v := c.Config(""); v != nil {
		cfg := v.Config
		if cfg.CompatibilityLevel == "" {
			cfg.CompatibilityLevel = string(r.opts.DefaultCompatibility)
		}
		global = &cfg
	}
	if subj == "" {
		return global
	}
	if v := c.Config(subj); v != nil {
		cfg := v.Config
		if cfg.CompatibilityLevel == "" {
			cfg.CompatibilityLevel = global.CompatibilityLevel
		}
		return &cfg
	}
	return global
}

// SubjectConfig returns the config stored for the subject itself, without
// fallback.
func (r *Registry) SubjectConfig(subj string) (*storage.Config, error) {
	v := r.cache().Config(subj)
	if v == nil {
		return nil, fmt.Errorf("%w: no config for subject %s", storage.ErrNotFound, subj)
	}
	cfg := v.Config
	return &cfg, nil
}

// UpdateConfig merges the new config onto the stored one and writes the
// result. Must run on the leader.
func (r *Registry) UpdateConfig(ctx context.Context, subj string, newCfg *storage.Config) (*storage.Config, error) {
	if newCfg.CompatibilityLevel != "" {
		if _, ok := compatibility.ParseLevel(newCfg.CompatibilityLevel); !ok {
			return nil, fmt.Errorf("%w: invalid compatibility level %q", storage.ErrInvalidSchema, newCfg.CompatibilityLevel)
		}
	}
	if err := r.store.WaitForReader(ctx, subj); err != nil {
		return nil, err
	}

	var old *storage.Config
	if v := r.cache().Config(subj); v != nil {
		cfg := v.Config
		old = &cfg
	}
	merged := storage.UpdateConfig(old, newCfg)
	value := &storage.ConfigValue{Subject: subj, Config: *merged}
	if err := r.store.Put(ctx, storage.NewConfigKey(subj), value); err != nil {
		return nil, err
	}
	return merged, nil
}

// UpdateConfigOrForward dispatches UpdateConfig to the leader.
func (r *Registry) UpdateConfigOrForward(ctx context.Context, subj string, newCfg *storage.Config, headers http.Header) (*storage.Config, error) {
	lock := r.store.LockFor(subj)
	lock.Lock()
	defer lock.Unlock()

	if r.IsLeader() {
		return r.UpdateConfig(ctx, subj, newCfg)
	}
	if leader := r.Leader(); leader != nil {
		if err := r.forwarder.UpdateConfig(ctx, leader, subj, newCfg, headers); err != nil {
			return nil, err
		}
		return newCfg, nil
	}
	return nil, storage.ErrUnknownLeader
}

// DeleteConfig removes the subject (or global) config and returns the level
// it carried. Must run on the leader.
func (r *Registry) DeleteConfig(ctx context.Context, subj string) (string, error) {
	v := r.cache().Config(subj)
	if v == nil {
		return "", fmt.Errorf("%w: no config for subject %s", storage.ErrNotFound, subj)
	}
	if err := r.store.Delete(ctx, storage.NewConfigKey(subj)); err != nil {
		return "", err
	}
	return v.CompatibilityLevel, nil
}

// DeleteConfigOrForward dispatches DeleteConfig to the leader.
func (r *Registry) DeleteConfigOrForward(ctx context.Context, subj string, headers http.Header) (string, error) {
	lock := r.store.LockFor(subj)
	lock.Lock()
	defer lock.Unlock()

	if r.IsLeader() {
		return r.DeleteConfig(ctx, subj)
	}
	if leader := r.Leader(); leader != nil {
		if err := r.forwarder.DeleteConfig(ctx, leader, subj, headers); err != nil {
			return "", err
		}
		return "", nil
	}
	return "", storage.ErrUnknownLeader
}

// ModeInScope resolves the effective mode for a subject. A global
// READONLY_OVERRIDE beats everything; otherwise subject mode, then global,
// then READWRITE.
func (r *Registry) ModeInScope(subj string) storage.Mode {
	c := r.cache()
	global := c.Mode("")
	if global != nil && global.Mode == storage.ModeReadOnlyOverride {
		return global.Mode
	}
	if subj != "" {
		if m := c.Mode(subj); m != nil {
			return m.Mode
		}
	}
	if global != nil {
		return global.Mode
	}
	return storage.ModeReadWrite
}

// SubjectMode returns the mode stored for the subject itself, without
// fallback.
func (r *Registry) SubjectMode(subj string) (storage.Mode, error) {
	v := r.cache().Mode(subj)
	if v == nil {
		return "", fmt.Errorf("%w: no mode for subject %s", storage.ErrNotFound, subj)
	}
	return v.Mode, nil
}

// SetMode sets the mode for a subject ("" = global). Entering IMPORT
// requires the scope to hold no subjects unless forced, and clears
// soft-deleted state so imported ids cannot collide with ghosts. Must run on
// the leader.
func (r *Registry) SetMode(ctx context.Context, subj string, mode storage.Mode, force bool) error {
	if !r.opts.ModeMutability {
		return fmt.Errorf("%w: mode changes are disabled", storage.ErrOperationNotPermitted)
	}
	if !mode.IsValid() {
		return fmt.Errorf("%w: invalid mode %q", storage.ErrOperationNotPermitted, mode)
	}
	if err := r.store.WaitForReader(ctx, subj); err != nil {
		return err
	}

	if mode == storage.ModeImport && r.ModeInScope(subj) != storage.ModeImport {
		prefix := subj
		if !force && r.cache().HasSubjects(prefix, storage.FilterDefault) {
			return fmt.Errorf("%w: cannot switch to IMPORT mode while subjects exist", storage.ErrOperationNotPermitted)
		}
		for _, doomed := range r.cache().Subjects(prefix, storage.FilterDeletedOnly) {
			value := &storage.ClearSubjectValue{Subject: doomed}
			if err := r.store.Put(ctx, storage.NewClearSubjectKey(doomed), value); err != nil {
				return err
			}
		}
	}

	value := &storage.ModeValue{Subject: subj, Mode: mode}
	return r.store.Put(ctx, storage.NewModeKey(subj), value)
}

// SetModeOrForward dispatches SetMode to the leader.
func (r *Registry) SetModeOrForward(ctx context.Context, subj string, mode storage.Mode, force bool, headers http.Header) error {
	lock := r.store.LockFor(subj)
	lock.Lock()
	defer lock.Unlock()

	if r.IsLeader() {
		return r.SetMode(ctx, subj, mode, force)
	}
	if leader := r.Leader(); leader != nil {
		return r.forwarder.SetMode(ctx, leader, subj, mode, force, headers)
	}
	return storage.ErrUnknownLeader
}

// DeleteMode removes the subject mode and returns the mode it carried. Must
// run on the leader.
func (r *Registry) DeleteMode(ctx context.Context, subj string) (storage.Mode, error) {
	v := r.cache().Mode(subj)
	if v == nil {
		return "", fmt.Errorf("%w: no mode for subject %s", storage.ErrNotFound, subj)
	}
	if err := r.store.Delete(ctx, storage.NewModeKey(subj)); err != nil {
		return "", err
	}
	return v.Mode, nil
}

// DeleteModeOrForward dispatches DeleteMode to the leader.
func (r *Registry) DeleteModeOrForward(ctx context.Context, subj string, headers http.Header) (storage.Mode, error) {
	lock := r.store.LockFor(subj)
	lock.Lock()
	defer lock.Unlock()

	if r.IsLeader() {
		return r.DeleteMode(ctx, subj)
	}
	if leader := r.Leader(); leader != nil {
		if err := r.forwarder.DeleteSubjectMode(ctx, leader, subj, headers); err != nil {
			return "", err
		}
		return "", nil
	}
	return "", storage.ErrUnknownLeader
}

// FormatSchema renders a stored schema in a provider-specific format,
// falling back to the stored text when the format is unknown.
func (r *Registry) FormatSchema(s *storage.Schema, format string) string {
	if format == "" {
		return s.Schema
	}
	resolvedRefs, err := r.resolveReferences(s.References)
	if err != nil {
		return s.Schema
	}
	parsed, err := r.parse(s.SchemaType, s.Schema, resolvedRefs, false)
	if err != nil {
		return s.Schema
	}
	return parsed.FormattedString(format)
}

func (r *Registry) parse(schemaType storage.SchemaType, text string, refs []storage.Reference, normalize bool) (schema.ParsedSchema, error) {
	key := fmt.Sprintf("%s|%t|%s", schemaType, normalize, text)
	if parsed, ok := r.parsed.get(key); ok {
		return parsed, nil
	}
	parsed, err := r.parsers.Parse(schemaType, text, refs)
	if err != nil {
		return nil, err
	}
	if normalize {
		parsed = parsed.Normalize()
	}
	r.parsed.put(key, parsed)
	return parsed, nil
}

func (r *Registry) parseStored(v *storage.SchemaValue) (schema.ParsedSchema, error) {
	refs, err := r.resolveReferences(v.References)
	if err != nil {
		return nil, err
	}
	return r.parse(v.SchemaType, v.Schema, refs, false)
}

// resolveReferences fills each reference's schema content from the store.
func (r *Registry) resolveReferences(refs []storage.Reference) ([]storage.Reference, error) {
	if len(refs) == 0 {
		return refs, nil
	}
	resolved := make([]storage.Reference, len(refs))
	for i, ref := range refs {
		v := r.schemaValue(ref.Subject, ref.Version)
		if v == nil {
			return nil, fmt.Errorf("%w: reference %q (subject=%s, version=%d)",
				storage.ErrSchemaNotFound, ref.Name, ref.Subject, ref.Version)
		}
		resolved[i] = ref
		resolved[i].Schema = v.Schema
	}
	return resolved, nil
}

func (r *Registry) schemaValue(subj string, version int) *storage.SchemaValue {
	v, _ := r.cache().Get(storage.NewSchemaKey(subj, version)).(*storage.SchemaValue)
	return v
}

// versionsOf returns the stored versions of a subject passing the filter,
// ascending.
func (r *Registry) versionsOf(subj string, filter storage.LookupFilter) ([]*storage.SchemaValue, error) {
	it, err := r.store.GetAll(
		storage.NewSchemaKey(subj, storage.MinVersion),
		storage.NewSchemaKey(subj, storage.MaxVersion))
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var out []*storage.SchemaValue
	for it.Next() {
		v, ok := it.Value().(*storage.SchemaValue)
		if !ok {
			continue
		}
		if filter.ShouldInclude(v.Deleted) {
			out = append(out, v)
		}
	}
	return out, it.Err()
}

func (r *Registry) latestLive(subj string) *storage.SchemaValue {
	return r.latestOf(subj, storage.FilterDefault)
}

func (r *Registry) latestOf(subj string, filter storage.LookupFilter) *storage.SchemaValue {
	values, err := r.versionsOf(subj, filter)
	if err != nil || len(values) == 0 {
		return nil
	}
	return values[len(values)-1]
}

func (r *Registry) normalizeEnabled(subj string) bool {
	if subj != "" {
		if v := r.cache().Config(subj); v != nil && v.Normalize != nil {
			return *v.Normalize
		}
	}
	if v := r.cache().Config(""); v != nil && v.Normalize != nil {
		return *v.Normalize
	}
	return false
}
