// Package handlers provides HTTP request handlers.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/axonops/kafka-schema-registry/internal/api/types"
	"github.com/axonops/kafka-schema-registry/internal/registry"
	"github.com/axonops/kafka-schema-registry/internal/storage"
)

// errInvalidVersion is returned when a version string is not valid.
var errInvalidVersion = errors.New("invalid version")

// schemaTypeForResponse returns the schema type string for API responses.
// Always non-empty; defaults to "AVRO" if unset.
func schemaTypeForResponse(st storage.SchemaType) string {
	if st == "" {
		return string(storage.SchemaTypeAvro)
	}
	return string(st)
}

// Handler provides HTTP handlers for the schema registry.
type Handler struct {
	registry  *registry.Registry
	version   string
	commit    string
	buildTime string
}

// Config holds handler configuration.
type Config struct {
	Version   string
	Commit    string
	BuildTime string
}

// New creates a new Handler.
func New(reg *registry.Registry) *Handler {
	return &Handler{registry: reg, version: "1.0.0"}
}

// NewWithConfig creates a new Handler with build information.
func NewWithConfig(reg *registry.Registry, cfg Config) *Handler {
	return &Handler{
		registry:  reg,
		version:   cfg.Version,
		commit:    cfg.Commit,
		buildTime: cfg.BuildTime,
	}
}

// subjectParam returns the subject from the URL. Qualified subjects of the
// form ":.context:name" pass through untouched; the registry resolves them.
func subjectParam(r *http.Request) string {
	return chi.URLParam(r, "subject")
}

// resolveAlias resolves a subject alias. Resolution is single-level.
func (h *Handler) resolveAlias(subject string) string {
	if subject == "" {
		return subject
	}
	cfg, err := h.registry.SubjectConfig(subject)
	if err == nil && cfg.Alias != "" {
		return cfg.Alias
	}
	return subject
}

// lookupFilter maps the deleted and deletedOnly query params to a filter.
func lookupFilter(r *http.Request) storage.LookupFilter {
	if r.URL.Query().Get("deletedOnly") == "true" {
		return storage.FilterDeletedOnly
	}
	if r.URL.Query().Get("deleted") == "true" {
		return storage.FilterIncludeDeleted
	}
	return storage.FilterDefault
}

// HealthCheck handles GET /
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{})
}

// GetSchemaTypes handles GET /schemas/types
func (h *Handler) GetSchemaTypes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.registry.SchemaTypes())
}

// GetSchemaByID handles GET /schemas/ids/{id}
func (h *Handler) GetSchemaByID(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, types.ErrorCodeInvalidSchema, "Invalid schema ID")
		return
	}
	subjectHint := r.URL.Query().Get("subject")

	schema, err := h.registry.SchemaByID(id, subjectHint)
	if err != nil {
		writeRegistryError(w, err)
		return
	}

	schemaStr := schema.Schema
	if format := r.URL.Query().Get("format"); format != "" {
		schemaStr = h.registry.FormatSchema(schema, format)
	}

	resp := types.SchemaByIDResponse{
		Schema:     schemaStr,
		SchemaType: schemaTypeForResponse(schema.SchemaType),
		References: schema.References,
		Metadata:   schema.Metadata,
		RuleSet:    schema.RuleSet,
	}
	if r.URL.Query().Get("fetchMaxId") == "true" {
		maxID := h.registry.MaxSchemaID(subjectHint)
		resp.MaxID = &maxID
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetRawSchemaByID handles GET /schemas/ids/{id}/schema
func (h *Handler) GetRawSchemaByID(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, types.ErrorCodeInvalidSchema, "Invalid schema ID")
		return
	}

	schema, err := h.registry.SchemaByID(id, r.URL.Query().Get("subject"))
	if err != nil {
		writeRegistryError(w, err)
		return
	}

	result := schema.Schema
	if format := r.URL.Query().Get("format"); format != "" {
		result = h.registry.FormatSchema(schema, format)
	}
	w.Header().Set("Content-Type", "application/vnd.schemaregistry.v1+json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(result))
}

// GetSubjectsBySchemaID handles GET /schemas/ids/{id}/subjects
func (h *Handler) GetSubjectsBySchemaID(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, types.ErrorCodeInvalidSchema, "Invalid schema ID")
		return
	}

	versions, err := h.registry.SubjectVersionsForID(id, r.URL.Query().Get("subject"), lookupFilter(r))
	if err != nil {
		writeRegistryError(w, err)
		return
	}

	subjects := make([]string, 0, len(versions))
	seen := make(map[string]bool)
	for _, sv := range versions {
		if !seen[sv.Subject] {
			seen[sv.Subject] = true
			subjects = append(subjects, sv.Subject)
		}
	}
	writeJSON(w, http.StatusOK, subjects)
}

// GetVersionsBySchemaID handles GET /schemas/ids/{id}/versions
func (h *Handler) GetVersionsBySchemaID(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, types.ErrorCodeInvalidSchema, "Invalid schema ID")
		return
	}

	versions, err := h.registry.SubjectVersionsForID(id, r.URL.Query().Get("subject"), lookupFilter(r))
	if err != nil {
		writeRegistryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, versions)
}

// ListSubjects handles GET /subjects
func (h *Handler) ListSubjects(w http.ResponseWriter, r *http.Request) {
	subjects := h.registry.ListSubjects(r.URL.Query().Get("subjectPrefix"), lookupFilter(r))
	if subjects == nil {
		subjects = []string{}
	}
	start, end := parsePagination(r, len(subjects))
	writeJSON(w, http.StatusOK, subjects[start:end])
}

// ListSchemas handles GET /schemas
func (h *Handler) ListSchemas(w http.ResponseWriter, r *http.Request) {
	filter := lookupFilter(r)
	latestOnly := r.URL.Query().Get("latestOnly") == "true"

	subjects := h.registry.ListSubjects(r.URL.Query().Get("subjectPrefix"), filter)

	result := make([]types.SubjectVersionResponse, 0)
	for _, subject := range subjects {
		versions, err := h.registry.ListVersions(subject, filter)
		if err != nil {
			continue
		}
		if latestOnly && len(versions) > 0 {
			versions = versions[len(versions)-1:]
		}
		for _, v := range versions {
			schema, err := h.registry.SchemaBySubjectVersion(subject, v, filter)
			if err != nil {
				continue
			}
			result = append(result, types.SubjectVersionResponse{
				Subject:    schema.Subject,
				ID:         schema.ID,
				Version:    schema.Version,
				SchemaType: schemaTypeForResponse(schema.SchemaType),
				Schema:     schema.Schema,
				References: schema.References,
				Metadata:   schema.Metadata,
				RuleSet:    schema.RuleSet,
			})
		}
	}

	start, end := parsePagination(r, len(result))
	writeJSON(w, http.StatusOK, result[start:end])
}

// GetContexts handles GET /contexts
func (h *Handler) GetContexts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.registry.ListContexts())
}

// GetVersions handles GET /subjects/{subject}/versions
func (h *Handler) GetVersions(w http.ResponseWriter, r *http.Request) {
	subject := h.resolveAlias(subjectParam(r))

	versions, err := h.registry.ListVersions(subject, lookupFilter(r))
	if err != nil {
		writeRegistryError(w, err)
		return
	}
	start, end := parsePagination(r, len(versions))
	writeJSON(w, http.StatusOK, versions[start:end])
}

// GetVersion handles GET /subjects/{subject}/versions/{version}
func (h *Handler) GetVersion(w http.ResponseWriter, r *http.Request) {
	subject := h.resolveAlias(subjectParam(r))
	versionStr := chi.URLParam(r, "version")

	version, err := parseVersion(versionStr)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, types.ErrorCodeInvalidVersion,
			fmt.Sprintf("The specified version '%s' is not a valid version id. Allowed values are between [1, 2^31-1] and the string \"latest\"", versionStr))
		return
	}

	filter := lookupFilter(r)
	schema, err := h.getVersion(subject, version, filter)
	if err != nil {
		writeRegistryError(w, err)
		return
	}

	schemaStr := schema.Schema
	if format := r.URL.Query().Get("format"); format != "" {
		schemaStr = h.registry.FormatSchema(schema, format)
	}

	writeJSON(w, http.StatusOK, types.SubjectVersionResponse{
		Subject:    schema.Subject,
		ID:         schema.ID,
		Version:    schema.Version,
		SchemaType: schemaTypeForResponse(schema.SchemaType),
		Schema:     schemaStr,
		References: schema.References,
		Metadata:   schema.Metadata,
		RuleSet:    schema.RuleSet,
	})
}

// getVersion resolves "latest" against soft-deleted versions too when the
// filter includes them.
func (h *Handler) getVersion(subject string, version int, filter storage.LookupFilter) (*storage.Schema, error) {
	if version == registry.VersionLatest && filter != storage.FilterDefault {
		versions, err := h.registry.ListVersions(subject, filter)
		if err != nil {
			return nil, err
		}
		if len(versions) == 0 {
			return nil, storage.ErrVersionNotFound
		}
		version = versions[len(versions)-1]
	}
	return h.registry.SchemaBySubjectVersion(subject, version, filter)
}

// GetRawSchemaByVersion handles GET /subjects/{subject}/versions/{version}/schema
func (h *Handler) GetRawSchemaByVersion(w http.ResponseWriter, r *http.Request) {
	subject := h.resolveAlias(subjectParam(r))
	versionStr := chi.URLParam(r, "version")

	version, err := parseVersion(versionStr)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, types.ErrorCodeInvalidVersion,
			fmt.Sprintf("The specified version '%s' is not a valid version id. Allowed values are between [1, 2^31-1] and the string \"latest\"", versionStr))
		return
	}

	schema, err := h.getVersion(subject, version, lookupFilter(r))
	if err != nil {
		writeRegistryError(w, err)
		return
	}

	result := schema.Schema
	if format := r.URL.Query().Get("format"); format != "" {
		result = h.registry.FormatSchema(schema, format)
	}
	w.Header().Set("Content-Type", "application/vnd.schemaregistry.v1+json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(result))
}

// GetReferencedBy handles GET /subjects/{subject}/versions/{version}/referencedby
func (h *Handler) GetReferencedBy(w http.ResponseWriter, r *http.Request) {
	subject := h.resolveAlias(subjectParam(r))
	versionStr := chi.URLParam(r, "version")

	version, err := parseVersion(versionStr)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, types.ErrorCodeInvalidVersion,
			fmt.Sprintf("The specified version '%s' is not a valid version id. Allowed values are between [1, 2^31-1] and the string \"latest\"", versionStr))
		return
	}

	resolved, err := h.registry.SchemaBySubjectVersion(subject, version, storage.FilterDefault)
	if err != nil {
		writeRegistryError(w, err)
		return
	}

	ids, err := h.registry.ReferencedBy(subject, resolved.Version)
	if err != nil {
		writeRegistryError(w, err)
		return
	}
	if ids == nil {
		ids = []int{}
	}
	writeJSON(w, http.StatusOK, ids)
}

// RegisterSchema handles POST /subjects/{subject}/versions
func (h *Handler) RegisterSchema(w http.ResponseWriter, r *http.Request) {
	subject := h.resolveAlias(subjectParam(r))

	var req types.RegisterSchemaRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, types.ErrorCodeInvalidSchema, "Invalid request body")
		return
	}

	// An empty schema is only meaningful as a metadata or rule set update on
	// the latest version.
	if req.Schema == "" && req.Metadata == nil && req.RuleSet == nil {
		writeError(w, http.StatusUnprocessableEntity, types.ErrorCodeInvalidSchema, "Empty schema")
		return
	}

	schema := &storage.Schema{
		Schema:     req.Schema,
		SchemaType: storage.SchemaType(strings.ToUpper(req.SchemaType)),
		References: req.References,
		Metadata:   req.Metadata,
		RuleSet:    req.RuleSet,
		Version:    req.Version,
		ID:         req.ID,
	}
	normalize := r.URL.Query().Get("normalize") == "true"

	registered, err := h.registry.RegisterOrForward(r.Context(), subject, schema, normalize, r.Header)
	if err != nil {
		writeRegistryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.RegisterSchemaResponse{ID: registered.ID})
}

// LookupSchema handles POST /subjects/{subject}
func (h *Handler) LookupSchema(w http.ResponseWriter, r *http.Request) {
	subject := h.resolveAlias(subjectParam(r))

	var req types.LookupSchemaRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, types.ErrorCodeInvalidSchema, "Invalid request body")
		return
	}
	if req.Schema == "" {
		writeError(w, http.StatusNotFound, types.ErrorCodeSchemaNotFound, "Schema not found")
		return
	}

	schema := &storage.Schema{
		Schema:     req.Schema,
		SchemaType: storage.SchemaType(strings.ToUpper(req.SchemaType)),
		References: req.References,
		Metadata:   req.Metadata,
		RuleSet:    req.RuleSet,
	}
	normalize := r.URL.Query().Get("normalize") == "true"

	found, err := h.registry.LookupSchema(subject, schema, normalize, lookupFilter(r))
	if err != nil {
		// Confluent distinguishes a missing subject from a missing schema.
		if errors.Is(err, storage.ErrSchemaNotFound) {
			if _, verr := h.registry.ListVersions(subject, storage.FilterIncludeDeleted); errors.Is(verr, storage.ErrSubjectNotFound) {
				writeError(w, http.StatusNotFound, types.ErrorCodeSubjectNotFound,
					fmt.Sprintf("Subject '%s' not found.", subject))
				return
			}
		}
		writeRegistryError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, types.SubjectVersionResponse{
		Subject:    found.Subject,
		ID:         found.ID,
		Version:    found.Version,
		SchemaType: schemaTypeForResponse(found.SchemaType),
		Schema:     found.Schema,
		References: found.References,
		Metadata:   found.Metadata,
		RuleSet:    found.RuleSet,
	})
}

// DeleteSubject handles DELETE /subjects/{subject}
func (h *Handler) DeleteSubject(w http.ResponseWriter, r *http.Request) {
	subject := h.resolveAlias(subjectParam(r))
	permanent := r.URL.Query().Get("permanent") == "true"

	versions, err := h.registry.DeleteSubjectOrForward(r.Context(), subject, permanent, r.Header)
	if err != nil {
		writeRegistryError(w, err)
		return
	}
	if versions == nil {
		versions = []int{}
	}
	writeJSON(w, http.StatusOK, versions)
}

// DeleteVersion handles DELETE /subjects/{subject}/versions/{version}
func (h *Handler) DeleteVersion(w http.ResponseWriter, r *http.Request) {
	subject := h.resolveAlias(subjectParam(r))
	versionStr := chi.URLParam(r, "version")
	permanent := r.URL.Query().Get("permanent") == "true"

	// Permanent delete needs an explicit version number.
	if permanent && (versionStr == "latest" || versionStr == "-1") {
		writeError(w, http.StatusUnprocessableEntity, types.ErrorCodeInvalidVersion,
			fmt.Sprintf("The specified version '%s' is not a valid version id for permanent delete. Use an explicit version number.", versionStr))
		return
	}

	version, err := parseVersion(versionStr)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, types.ErrorCodeInvalidVersion,
			fmt.Sprintf("The specified version '%s' is not a valid version id. Allowed values are between [1, 2^31-1] and the string \"latest\"", versionStr))
		return
	}

	deleted, err := h.registry.DeleteVersionOrForward(r.Context(), subject, version, permanent, r.Header)
	if err != nil {
		writeRegistryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, deleted)
}

// GetConfig handles GET /config and GET /config/{subject}
func (h *Handler) GetConfig(w http.ResponseWriter, r *http.Request) {
	subject := subjectParam(r)
	defaultToGlobal := r.URL.Query().Get("defaultToGlobal") == "true"

	if subject != "" && !defaultToGlobal {
		cfg, err := h.registry.SubjectConfig(subject)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				writeError(w, http.StatusNotFound, types.ErrorCodeSubjectNotFound,
					fmt.Sprintf("Subject '%s' does not have subject-level compatibility configured", subject))
				return
			}
			writeRegistryError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, configResponse(cfg))
		return
	}

	writeJSON(w, http.StatusOK, configResponse(h.registry.ConfigInScope(subject)))
}

func configResponse(cfg *storage.Config) types.ConfigResponse {
	return types.ConfigResponse{
		CompatibilityLevel: strings.ToUpper(cfg.CompatibilityLevel),
		Alias:              cfg.Alias,
		Normalize:          cfg.Normalize,
		CompatibilityGroup: cfg.CompatibilityGroup,
		DefaultMetadata:    cfg.DefaultMetadata,
		OverrideMetadata:   cfg.OverrideMetadata,
		DefaultRuleSet:     cfg.DefaultRuleSet,
		OverrideRuleSet:    cfg.OverrideRuleSet,
	}
}

// SetConfig handles PUT /config and PUT /config/{subject}
func (h *Handler) SetConfig(w http.ResponseWriter, r *http.Request) {
	subject := subjectParam(r)

	var req types.ConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, types.ErrorCodeInvalidCompatibilityLevel, "Invalid request body")
		return
	}

	cfg := &storage.Config{
		CompatibilityLevel: strings.ToUpper(req.Compatibility),
		Alias:              req.Alias,
		Normalize:          req.Normalize,
		CompatibilityGroup: req.CompatibilityGroup,
		DefaultMetadata:    req.DefaultMetadata,
		OverrideMetadata:   req.OverrideMetadata,
		DefaultRuleSet:     req.DefaultRuleSet,
		OverrideRuleSet:    req.OverrideRuleSet,
	}

	merged, err := h.registry.UpdateConfigOrForward(r.Context(), subject, cfg, r.Header)
	if err != nil {
		if errors.Is(err, storage.ErrInvalidSchema) {
			writeError(w, http.StatusUnprocessableEntity, types.ErrorCodeInvalidCompatibilityLevel, err.Error())
			return
		}
		writeRegistryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.ConfigRequest{
		Compatibility:      strings.ToUpper(merged.CompatibilityLevel),
		Alias:              merged.Alias,
		Normalize:          merged.Normalize,
		CompatibilityGroup: merged.CompatibilityGroup,
		DefaultMetadata:    merged.DefaultMetadata,
		OverrideMetadata:   merged.OverrideMetadata,
		DefaultRuleSet:     merged.DefaultRuleSet,
		OverrideRuleSet:    merged.OverrideRuleSet,
	})
}

// DeleteConfig handles DELETE /config and DELETE /config/{subject}
func (h *Handler) DeleteConfig(w http.ResponseWriter, r *http.Request) {
	subject := subjectParam(r)

	level, err := h.registry.DeleteConfigOrForward(r.Context(), subject, r.Header)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			if subject == "" {
				// Global config was never set; report the effective default.
				writeJSON(w, http.StatusOK, types.ConfigResponse{
					CompatibilityLevel: strings.ToUpper(h.registry.ConfigInScope("").CompatibilityLevel),
				})
				return
			}
			writeError(w, http.StatusNotFound, types.ErrorCodeSubjectNotFound, "Config not found for subject")
			return
		}
		writeRegistryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.ConfigResponse{CompatibilityLevel: strings.ToUpper(level)})
}

// GetMode handles GET /mode and GET /mode/{subject}
func (h *Handler) GetMode(w http.ResponseWriter, r *http.Request) {
	subject := subjectParam(r)
	defaultToGlobal := r.URL.Query().Get("defaultToGlobal") == "true"

	if subject != "" && !defaultToGlobal {
		mode, err := h.registry.SubjectMode(subject)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				writeError(w, http.StatusNotFound, types.ErrorCodeSubjectNotFound,
					fmt.Sprintf("Subject '%s' does not have subject-level mode configured", subject))
				return
			}
			writeRegistryError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, types.ModeResponse{Mode: string(mode)})
		return
	}

	writeJSON(w, http.StatusOK, types.ModeResponse{Mode: string(h.registry.ModeInScope(subject))})
}

// SetMode handles PUT /mode and PUT /mode/{subject}
func (h *Handler) SetMode(w http.ResponseWriter, r *http.Request) {
	subject := subjectParam(r)
	force := r.URL.Query().Get("force") == "true"

	var req types.ModeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, types.ErrorCodeInvalidMode, "Invalid request body")
		return
	}

	mode, ok := parseMode(req.Mode)
	if !ok {
		writeError(w, http.StatusUnprocessableEntity, types.ErrorCodeInvalidMode,
			fmt.Sprintf("Invalid mode %q. Valid values are READWRITE, READONLY, READONLY_OVERRIDE and IMPORT", req.Mode))
		return
	}

	if err := h.registry.SetModeOrForward(r.Context(), subject, mode, force, r.Header); err != nil {
		writeRegistryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.ModeResponse{Mode: string(mode)})
}

// DeleteMode handles DELETE /mode/{subject}
func (h *Handler) DeleteMode(w http.ResponseWriter, r *http.Request) {
	subject := subjectParam(r)

	mode, err := h.registry.DeleteModeOrForward(r.Context(), subject, r.Header)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, types.ErrorCodeSubjectNotFound, "Mode not found for subject")
			return
		}
		writeRegistryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.ModeResponse{Mode: string(mode)})
}

// CheckCompatibility handles POST /compatibility/subjects/{subject}/versions
// and POST /compatibility/subjects/{subject}/versions/{version}
func (h *Handler) CheckCompatibility(w http.ResponseWriter, r *http.Request) {
	subject := h.resolveAlias(subjectParam(r))
	versionStr := chi.URLParam(r, "version")

	var req types.CompatibilityCheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, types.ErrorCodeInvalidSchema, "Invalid request body")
		return
	}
	if req.Schema == "" {
		writeError(w, http.StatusUnprocessableEntity, types.ErrorCodeInvalidSchema, "Empty schema")
		return
	}

	schema := &storage.Schema{
		Schema:     req.Schema,
		SchemaType: storage.SchemaType(strings.ToUpper(req.SchemaType)),
		References: req.References,
		Metadata:   req.Metadata,
	}
	normalize := r.URL.Query().Get("normalize") == "true"

	result, err := h.registry.CheckCompatibility(subject, schema, versionStr, normalize)
	if err != nil {
		writeRegistryError(w, err)
		return
	}

	resp := types.CompatibilityCheckResponse{IsCompatible: result.IsCompatible}
	if r.URL.Query().Get("verbose") == "true" {
		resp.Messages = result.Messages
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetServerVersion handles GET /v1/metadata/version
func (h *Handler) GetServerVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, types.ServerVersionResponse{
		Version:   h.version,
		Commit:    h.commit,
		BuildTime: h.buildTime,
	})
}

func parseMode(s string) (storage.Mode, bool) {
	switch storage.Mode(strings.ToUpper(s)) {
	case storage.ModeReadWrite:
		return storage.ModeReadWrite, true
	case storage.ModeReadOnly:
		return storage.ModeReadOnly, true
	case storage.ModeReadOnlyOverride:
		return storage.ModeReadOnlyOverride, true
	case storage.ModeImport:
		return storage.ModeImport, true
	}
	return "", false
}

// parseVersion parses a version string, handling "latest" and "-1".
func parseVersion(s string) (int, error) {
	if s == "latest" || s == "-1" {
		return registry.VersionLatest, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, errInvalidVersion
	}
	if v < 1 {
		return 0, errInvalidVersion
	}
	return v, nil
}

// parsePagination extracts offset and limit query params and clamps them to
// a slice of the given length.
func parsePagination(r *http.Request, total int) (start, end int) {
	start = 0
	end = total

	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		if o, err := strconv.Atoi(offsetStr); err == nil && o >= 0 {
			start = o
		}
	}
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l >= 0 {
			end = start + l
		}
	}

	if start > total {
		start = total
	}
	if end > total {
		end = total
	}
	return start, end
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/vnd.schemaregistry.v1+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, status int, code int, message string) {
	w.Header().Set("Content-Type", "application/vnd.schemaregistry.v1+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{
		ErrorCode: code,
		Message:   message,
	})
}

// writeRegistryError maps registry sentinel errors to Confluent status and
// error codes. Errors from a forwarded request carry their own codes and
// pass through unchanged.
func writeRegistryError(w http.ResponseWriter, err error) {
	var restErr *storage.RestError
	if errors.As(err, &restErr) {
		writeError(w, restErr.Status, restErr.Code, restErr.Message)
		return
	}

	switch {
	case errors.Is(err, storage.ErrSubjectNotFound):
		writeError(w, http.StatusNotFound, types.ErrorCodeSubjectNotFound, err.Error())
	case errors.Is(err, storage.ErrVersionNotFound):
		writeError(w, http.StatusNotFound, types.ErrorCodeVersionNotFound, err.Error())
	case errors.Is(err, storage.ErrSchemaNotFound):
		writeError(w, http.StatusNotFound, types.ErrorCodeSchemaNotFound, err.Error())
	case errors.Is(err, storage.ErrSubjectNotSoftDeleted):
		writeError(w, http.StatusNotFound, types.ErrorCodeSubjectNotSoftDeleted, err.Error())
	case errors.Is(err, storage.ErrVersionNotSoftDeleted):
		writeError(w, http.StatusNotFound, types.ErrorCodeVersionNotSoftDeleted, err.Error())
	case errors.Is(err, storage.ErrIncompatibleSchema):
		writeError(w, http.StatusConflict, types.ErrorCodeIncompatibleSchema, err.Error())
	case errors.Is(err, storage.ErrInvalidSchema):
		writeError(w, http.StatusUnprocessableEntity, types.ErrorCodeInvalidSchema, err.Error())
	case errors.Is(err, storage.ErrInvalidVersion):
		writeError(w, http.StatusUnprocessableEntity, types.ErrorCodeInvalidVersion, err.Error())
	case errors.Is(err, storage.ErrOperationNotPermitted):
		writeError(w, http.StatusUnprocessableEntity, types.ErrorCodeOperationNotPermitted, err.Error())
	case errors.Is(err, storage.ErrReferenceExists):
		writeError(w, http.StatusUnprocessableEntity, types.ErrorCodeReferenceExists, err.Error())
	case errors.Is(err, storage.ErrSchemaTooLarge):
		writeError(w, http.StatusUnprocessableEntity, types.ErrorCodeInvalidSchema, err.Error())
	case errors.Is(err, storage.ErrIDGeneration):
		writeError(w, http.StatusInternalServerError, types.ErrorCodeIDGenerationFailed, err.Error())
	case errors.Is(err, storage.ErrUnknownLeader):
		writeError(w, http.StatusServiceUnavailable, types.ErrorCodeUnknownLeader, "Leader is unavailable")
	case errors.Is(err, storage.ErrRequestForwarding):
		writeError(w, http.StatusInternalServerError, types.ErrorCodeForwardingFailed, err.Error())
	case errors.Is(err, storage.ErrStoreTimeout):
		writeError(w, http.StatusInternalServerError, types.ErrorCodeStoreTimeout, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, types.ErrorCodeInternalServerError, err.Error())
	}
}
