package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/axonops/kafka-schema-registry/internal/api/types"
	"github.com/axonops/kafka-schema-registry/internal/cluster"
	"github.com/axonops/kafka-schema-registry/internal/compatibility"
	compatavro "github.com/axonops/kafka-schema-registry/internal/compatibility/avro"
	"github.com/axonops/kafka-schema-registry/internal/registry"
	"github.com/axonops/kafka-schema-registry/internal/schema"
	"github.com/axonops/kafka-schema-registry/internal/schema/avro"
	"github.com/axonops/kafka-schema-registry/internal/storage"
	"github.com/axonops/kafka-schema-registry/internal/storage/cache"
	"github.com/axonops/kafka-schema-registry/internal/storage/kafkastore"
)

const (
	testSchemaV1 = `{"type":"record","name":"R","fields":[{"name":"a","type":"int"}]}`
	testSchemaV2 = `{"type":"record","name":"R","fields":[{"name":"a","type":"int"},{"name":"b","type":"string","default":""}]}`
	// testSchemaBad adds a required field without a default.
	testSchemaBad = `{"type":"record","name":"R","fields":[{"name":"a","type":"int"},{"name":"b","type":"string"}]}`
)

func setupTestHandler(t *testing.T) *Handler {
	t.Helper()

	store := kafkastore.NewMemStore(cache.New())

	parsers := schema.NewRegistry()
	parsers.Register(avro.NewParser())

	checker := compatibility.NewChecker()
	checker.Register(storage.SchemaTypeAvro, compatavro.NewChecker())

	self := &cluster.Identity{Host: "localhost", Port: 8081, Scheme: "http", LeaderEligibility: true}
	reg := registry.New(store, parsers, checker, self, registry.Options{ModeMutability: true})
	if err := reg.SetLeader(context.Background(), self); err != nil {
		t.Fatalf("SetLeader: %v", err)
	}
	return New(reg)
}

func testRouter(h *Handler) chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.HealthCheck)
	r.Get("/schemas/types", h.GetSchemaTypes)
	r.Get("/schemas/ids/{id}", h.GetSchemaByID)
	r.Get("/schemas/ids/{id}/schema", h.GetRawSchemaByID)
	r.Get("/schemas/ids/{id}/subjects", h.GetSubjectsBySchemaID)
	r.Get("/schemas/ids/{id}/versions", h.GetVersionsBySchemaID)
	r.Get("/schemas", h.ListSchemas)
	r.Get("/subjects", h.ListSubjects)
	r.Get("/subjects/{subject}/versions", h.GetVersions)
	r.Get("/subjects/{subject}/versions/{version}", h.GetVersion)
	r.Get("/subjects/{subject}/versions/{version}/schema", h.GetRawSchemaByVersion)
	r.Get("/subjects/{subject}/versions/{version}/referencedby", h.GetReferencedBy)
	r.Post("/subjects/{subject}/versions", h.RegisterSchema)
	r.Post("/subjects/{subject}", h.LookupSchema)
	r.Delete("/subjects/{subject}", h.DeleteSubject)
	r.Delete("/subjects/{subject}/versions/{version}", h.DeleteVersion)
	r.Get("/config", h.GetConfig)
	r.Put("/config", h.SetConfig)
	r.Delete("/config", h.DeleteConfig)
	r.Get("/config/{subject}", h.GetConfig)
	r.Put("/config/{subject}", h.SetConfig)
	r.Delete("/config/{subject}", h.DeleteConfig)
	r.Get("/mode", h.GetMode)
	r.Put("/mode", h.SetMode)
	r.Get("/mode/{subject}", h.GetMode)
	r.Put("/mode/{subject}", h.SetMode)
	r.Delete("/mode/{subject}", h.DeleteMode)
	r.Post("/compatibility/subjects/{subject}/versions/{version}", h.CheckCompatibility)
	r.Post("/compatibility/subjects/{subject}/versions", h.CheckCompatibility)
	r.Get("/contexts", h.GetContexts)
	return r
}

func doJSON(t *testing.T, router chi.Router, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func registerSchema(t *testing.T, router chi.Router, subject, schemaStr string) int {
	t.Helper()
	w := doJSON(t, router, "POST", "/subjects/"+subject+"/versions", types.RegisterSchemaRequest{Schema: schemaStr})
	if w.Code != http.StatusOK {
		t.Fatalf("registerSchema(%s) failed: %d %s", subject, w.Code, w.Body.String())
	}
	var resp types.RegisterSchemaResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode register response: %v", err)
	}
	return resp.ID
}

func decodeErrorResponse(t *testing.T, w *httptest.ResponseRecorder) types.ErrorResponse {
	t.Helper()
	var resp types.ErrorResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return resp
}

func TestHealthCheck_Returns200(t *testing.T) {
	router := testRouter(setupTestHandler(t))

	w := doJSON(t, router, "GET", "/", nil)
	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected Content-Type application/json, got %s", ct)
	}
}

func TestGetSchemaTypes(t *testing.T) {
	router := testRouter(setupTestHandler(t))

	w := doJSON(t, router, "GET", "/schemas/types", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var schemaTypes []string
	if err := json.NewDecoder(w.Body).Decode(&schemaTypes); err != nil {
		t.Fatalf("decode: %v", err)
	}
	found := false
	for _, st := range schemaTypes {
		if st == "AVRO" {
			found = true
		}
	}
	if !found {
		t.Errorf("AVRO missing from schema types %v", schemaTypes)
	}
}

func TestRegisterAndGetVersion(t *testing.T) {
	router := testRouter(setupTestHandler(t))

	id := registerSchema(t, router, "orders-value", testSchemaV1)
	if id != 1 {
		t.Errorf("first id = %d, want 1", id)
	}

	w := doJSON(t, router, "GET", "/subjects/orders-value/versions/1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get version: %d %s", w.Code, w.Body.String())
	}
	var resp types.SubjectVersionResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Subject != "orders-value" || resp.Version != 1 || resp.ID != 1 {
		t.Errorf("unexpected version response: %+v", resp)
	}
	if resp.SchemaType != "AVRO" {
		t.Errorf("schemaType = %q, want AVRO", resp.SchemaType)
	}

	// "latest" resolves to the same version.
	w = doJSON(t, router, "GET", "/subjects/orders-value/versions/latest", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get latest: %d", w.Code)
	}
}

func TestRegisterEmptyBodyRejected(t *testing.T) {
	router := testRouter(setupTestHandler(t))

	w := doJSON(t, router, "POST", "/subjects/orders-value/versions", types.RegisterSchemaRequest{})
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", w.Code)
	}
	if resp := decodeErrorResponse(t, w); resp.ErrorCode != types.ErrorCodeInvalidSchema {
		t.Errorf("error_code = %d, want %d", resp.ErrorCode, types.ErrorCodeInvalidSchema)
	}
}

func TestRegisterIncompatibleReturns409(t *testing.T) {
	router := testRouter(setupTestHandler(t))
	registerSchema(t, router, "orders-value", testSchemaV1)

	w := doJSON(t, router, "POST", "/subjects/orders-value/versions", types.RegisterSchemaRequest{Schema: testSchemaBad})
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d %s", w.Code, w.Body.String())
	}
	if resp := decodeErrorResponse(t, w); resp.ErrorCode != types.ErrorCodeIncompatibleSchema {
		t.Errorf("error_code = %d, want %d", resp.ErrorCode, types.ErrorCodeIncompatibleSchema)
	}
}

func TestGetVersionNotFound(t *testing.T) {
	router := testRouter(setupTestHandler(t))

	w := doJSON(t, router, "GET", "/subjects/missing/versions/1", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
	if resp := decodeErrorResponse(t, w); resp.ErrorCode != types.ErrorCodeSubjectNotFound {
		t.Errorf("error_code = %d, want %d", resp.ErrorCode, types.ErrorCodeSubjectNotFound)
	}

	registerSchema(t, router, "orders-value", testSchemaV1)
	w = doJSON(t, router, "GET", "/subjects/orders-value/versions/9", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
	if resp := decodeErrorResponse(t, w); resp.ErrorCode != types.ErrorCodeVersionNotFound {
		t.Errorf("error_code = %d, want %d", resp.ErrorCode, types.ErrorCodeVersionNotFound)
	}
}

func TestGetVersionInvalidString(t *testing.T) {
	router := testRouter(setupTestHandler(t))
	registerSchema(t, router, "orders-value", testSchemaV1)

	w := doJSON(t, router, "GET", "/subjects/orders-value/versions/zero", nil)
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", w.Code)
	}
	if resp := decodeErrorResponse(t, w); resp.ErrorCode != types.ErrorCodeInvalidVersion {
		t.Errorf("error_code = %d, want %d", resp.ErrorCode, types.ErrorCodeInvalidVersion)
	}
}

func TestGetRawSchema(t *testing.T) {
	router := testRouter(setupTestHandler(t))
	id := registerSchema(t, router, "orders-value", testSchemaV1)

	w := doJSON(t, router, "GET", fmt.Sprintf("/schemas/ids/%d/schema", id), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("raw by id: %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"name":"R"`) {
		t.Errorf("raw schema body = %s", w.Body.String())
	}

	w = doJSON(t, router, "GET", "/subjects/orders-value/versions/1/schema", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("raw by version: %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"name":"R"`) {
		t.Errorf("raw schema body = %s", w.Body.String())
	}
}

func TestGetSchemaByIDWithMaxID(t *testing.T) {
	router := testRouter(setupTestHandler(t))
	registerSchema(t, router, "orders-value", testSchemaV1)
	registerSchema(t, router, "orders-value", testSchemaV2)

	w := doJSON(t, router, "GET", "/schemas/ids/1?fetchMaxId=true", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get by id: %d %s", w.Code, w.Body.String())
	}
	var resp types.SchemaByIDResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.MaxID == nil || *resp.MaxID != 2 {
		t.Errorf("maxId = %v, want 2", resp.MaxID)
	}
}

func TestGetSubjectsAndVersionsBySchemaID(t *testing.T) {
	router := testRouter(setupTestHandler(t))
	registerSchema(t, router, "orders-value", testSchemaV1)
	registerSchema(t, router, "orders-key", testSchemaV1)

	w := doJSON(t, router, "GET", "/schemas/ids/1/subjects", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("subjects by id: %d", w.Code)
	}
	var subjects []string
	if err := json.NewDecoder(w.Body).Decode(&subjects); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(subjects) != 2 {
		t.Errorf("subjects = %v, want both", subjects)
	}

	w = doJSON(t, router, "GET", "/schemas/ids/1/versions", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("versions by id: %d", w.Code)
	}
	var versions []storage.SubjectVersion
	if err := json.NewDecoder(w.Body).Decode(&versions); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(versions) != 2 {
		t.Errorf("versions = %v, want two entries", versions)
	}
}

func TestListSubjectsPagination(t *testing.T) {
	router := testRouter(setupTestHandler(t))
	registerSchema(t, router, "a-value", testSchemaV1)
	registerSchema(t, router, "b-value", testSchemaV1)
	registerSchema(t, router, "c-value", testSchemaV1)

	w := doJSON(t, router, "GET", "/subjects?offset=1&limit=1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list subjects: %d", w.Code)
	}
	var subjects []string
	if err := json.NewDecoder(w.Body).Decode(&subjects); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(subjects) != 1 || subjects[0] != "b-value" {
		t.Errorf("page = %v, want [b-value]", subjects)
	}
}

func TestListSchemas(t *testing.T) {
	router := testRouter(setupTestHandler(t))
	registerSchema(t, router, "a-value", testSchemaV1)
	registerSchema(t, router, "a-value", testSchemaV2)
	registerSchema(t, router, "b-value", testSchemaV1)

	w := doJSON(t, router, "GET", "/schemas", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list schemas: %d", w.Code)
	}
	var all []types.SubjectVersionResponse
	if err := json.NewDecoder(w.Body).Decode(&all); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("len = %d, want 3", len(all))
	}

	w = doJSON(t, router, "GET", "/schemas?latestOnly=true", nil)
	var latest []types.SubjectVersionResponse
	if err := json.NewDecoder(w.Body).Decode(&latest); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(latest) != 2 {
		t.Fatalf("latestOnly len = %d, want 2", len(latest))
	}
	if latest[0].Subject != "a-value" || latest[0].Version != 2 {
		t.Errorf("latest a-value = %+v", latest[0])
	}

	w = doJSON(t, router, "GET", "/schemas?subjectPrefix=b-", nil)
	var prefixed []types.SubjectVersionResponse
	if err := json.NewDecoder(w.Body).Decode(&prefixed); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(prefixed) != 1 || prefixed[0].Subject != "b-value" {
		t.Errorf("prefix filter = %+v", prefixed)
	}
}

func TestLookupSchema(t *testing.T) {
	router := testRouter(setupTestHandler(t))
	registerSchema(t, router, "orders-value", testSchemaV1)

	w := doJSON(t, router, "POST", "/subjects/orders-value", types.LookupSchemaRequest{Schema: testSchemaV1})
	if w.Code != http.StatusOK {
		t.Fatalf("lookup: %d %s", w.Code, w.Body.String())
	}
	var resp types.SubjectVersionResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.ID != 1 || resp.Version != 1 {
		t.Errorf("lookup response: %+v", resp)
	}

	// Unknown subject is distinguished from unknown schema.
	w = doJSON(t, router, "POST", "/subjects/missing", types.LookupSchemaRequest{Schema: testSchemaV1})
	if w.Code != http.StatusNotFound {
		t.Fatalf("lookup missing subject: %d", w.Code)
	}
	if resp := decodeErrorResponse(t, w); resp.ErrorCode != types.ErrorCodeSubjectNotFound {
		t.Errorf("error_code = %d, want %d", resp.ErrorCode, types.ErrorCodeSubjectNotFound)
	}

	w = doJSON(t, router, "POST", "/subjects/orders-value", types.LookupSchemaRequest{Schema: testSchemaV2})
	if w.Code != http.StatusNotFound {
		t.Fatalf("lookup unregistered schema: %d", w.Code)
	}
	if resp := decodeErrorResponse(t, w); resp.ErrorCode != types.ErrorCodeSchemaNotFound {
		t.Errorf("error_code = %d, want %d", resp.ErrorCode, types.ErrorCodeSchemaNotFound)
	}
}

func TestDeleteVersionFlow(t *testing.T) {
	router := testRouter(setupTestHandler(t))
	registerSchema(t, router, "orders-value", testSchemaV1)
	registerSchema(t, router, "orders-value", testSchemaV2)

	// Hard delete before soft delete is refused.
	w := doJSON(t, router, "DELETE", "/subjects/orders-value/versions/1?permanent=true", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("hard before soft: %d %s", w.Code, w.Body.String())
	}
	if resp := decodeErrorResponse(t, w); resp.ErrorCode != types.ErrorCodeVersionNotSoftDeleted {
		t.Errorf("error_code = %d, want %d", resp.ErrorCode, types.ErrorCodeVersionNotSoftDeleted)
	}

	w = doJSON(t, router, "DELETE", "/subjects/orders-value/versions/1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("soft delete: %d %s", w.Code, w.Body.String())
	}
	var deleted int
	if err := json.NewDecoder(w.Body).Decode(&deleted); err != nil || deleted != 1 {
		t.Fatalf("soft delete returned %d, err %v", deleted, err)
	}

	// Gone from the default view, visible with deleted=true.
	w = doJSON(t, router, "GET", "/subjects/orders-value/versions", nil)
	var versions []int
	_ = json.NewDecoder(w.Body).Decode(&versions)
	if len(versions) != 1 || versions[0] != 2 {
		t.Errorf("live versions = %v, want [2]", versions)
	}
	w = doJSON(t, router, "GET", "/subjects/orders-value/versions?deleted=true", nil)
	versions = nil
	_ = json.NewDecoder(w.Body).Decode(&versions)
	if len(versions) != 2 {
		t.Errorf("versions incl deleted = %v, want both", versions)
	}

	w = doJSON(t, router, "DELETE", "/subjects/orders-value/versions/1?permanent=true", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("hard delete: %d %s", w.Code, w.Body.String())
	}
}

func TestDeleteVersionPermanentLatestRejected(t *testing.T) {
	router := testRouter(setupTestHandler(t))
	registerSchema(t, router, "orders-value", testSchemaV1)

	w := doJSON(t, router, "DELETE", "/subjects/orders-value/versions/latest?permanent=true", nil)
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", w.Code)
	}
}

func TestDeleteSubjectFlow(t *testing.T) {
	router := testRouter(setupTestHandler(t))
	registerSchema(t, router, "orders-value", testSchemaV1)
	registerSchema(t, router, "orders-value", testSchemaV2)

	w := doJSON(t, router, "DELETE", "/subjects/orders-value", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("soft delete subject: %d %s", w.Code, w.Body.String())
	}
	var versions []int
	if err := json.NewDecoder(w.Body).Decode(&versions); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(versions) != 2 {
		t.Errorf("deleted versions = %v, want [1 2]", versions)
	}

	w = doJSON(t, router, "DELETE", "/subjects/orders-value?permanent=true", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("hard delete subject: %d %s", w.Code, w.Body.String())
	}

	w = doJSON(t, router, "GET", "/subjects/orders-value/versions", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 after hard delete, got %d", w.Code)
	}
}

func TestConfigEndpoints(t *testing.T) {
	router := testRouter(setupTestHandler(t))

	w := doJSON(t, router, "GET", "/config", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get global config: %d", w.Code)
	}
	var cfg types.ConfigResponse
	_ = json.NewDecoder(w.Body).Decode(&cfg)
	if cfg.CompatibilityLevel != "BACKWARD" {
		t.Errorf("default level = %s, want BACKWARD", cfg.CompatibilityLevel)
	}

	// Subject without its own config is a 404.
	w = doJSON(t, router, "GET", "/config/orders-value", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("subject config missing: %d", w.Code)
	}

	w = doJSON(t, router, "PUT", "/config/orders-value", types.ConfigRequest{Compatibility: "FULL"})
	if w.Code != http.StatusOK {
		t.Fatalf("put subject config: %d %s", w.Code, w.Body.String())
	}

	w = doJSON(t, router, "GET", "/config/orders-value", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get subject config: %d", w.Code)
	}
	cfg = types.ConfigResponse{}
	_ = json.NewDecoder(w.Body).Decode(&cfg)
	if cfg.CompatibilityLevel != "FULL" {
		t.Errorf("subject level = %s, want FULL", cfg.CompatibilityLevel)
	}

	w = doJSON(t, router, "DELETE", "/config/orders-value", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("delete subject config: %d", w.Code)
	}
	cfg = types.ConfigResponse{}
	_ = json.NewDecoder(w.Body).Decode(&cfg)
	if cfg.CompatibilityLevel != "FULL" {
		t.Errorf("deleted level = %s, want FULL", cfg.CompatibilityLevel)
	}

	w = doJSON(t, router, "GET", "/config/orders-value", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("config should be gone, got %d", w.Code)
	}
}

func TestSetConfigInvalidLevel(t *testing.T) {
	router := testRouter(setupTestHandler(t))

	w := doJSON(t, router, "PUT", "/config", types.ConfigRequest{Compatibility: "SIDEWAYS"})
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", w.Code)
	}
	if resp := decodeErrorResponse(t, w); resp.ErrorCode != types.ErrorCodeInvalidCompatibilityLevel {
		t.Errorf("error_code = %d, want %d", resp.ErrorCode, types.ErrorCodeInvalidCompatibilityLevel)
	}
}

func TestModeEndpoints(t *testing.T) {
	router := testRouter(setupTestHandler(t))

	w := doJSON(t, router, "GET", "/mode", nil)
	var mode types.ModeResponse
	_ = json.NewDecoder(w.Body).Decode(&mode)
	if mode.Mode != "READWRITE" {
		t.Errorf("default mode = %s, want READWRITE", mode.Mode)
	}

	w = doJSON(t, router, "PUT", "/mode/orders-value", types.ModeRequest{Mode: "READONLY"})
	if w.Code != http.StatusOK {
		t.Fatalf("set mode: %d %s", w.Code, w.Body.String())
	}

	// READONLY subject rejects registration.
	w = doJSON(t, router, "POST", "/subjects/orders-value/versions", types.RegisterSchemaRequest{Schema: testSchemaV1})
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("register in READONLY: %d", w.Code)
	}
	if resp := decodeErrorResponse(t, w); resp.ErrorCode != types.ErrorCodeOperationNotPermitted {
		t.Errorf("error_code = %d, want %d", resp.ErrorCode, types.ErrorCodeOperationNotPermitted)
	}

	w = doJSON(t, router, "DELETE", "/mode/orders-value", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("delete mode: %d", w.Code)
	}
	mode = types.ModeResponse{}
	_ = json.NewDecoder(w.Body).Decode(&mode)
	if mode.Mode != "READONLY" {
		t.Errorf("deleted mode = %s, want READONLY", mode.Mode)
	}
}

func TestSetModeInvalid(t *testing.T) {
	router := testRouter(setupTestHandler(t))

	w := doJSON(t, router, "PUT", "/mode", types.ModeRequest{Mode: "SSHHH"})
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", w.Code)
	}
	if resp := decodeErrorResponse(t, w); resp.ErrorCode != types.ErrorCodeInvalidMode {
		t.Errorf("error_code = %d, want %d", resp.ErrorCode, types.ErrorCodeInvalidMode)
	}
}

func TestImportModeViaAPI(t *testing.T) {
	router := testRouter(setupTestHandler(t))

	w := doJSON(t, router, "PUT", "/mode/imported-value", types.ModeRequest{Mode: "IMPORT"})
	if w.Code != http.StatusOK {
		t.Fatalf("set IMPORT: %d %s", w.Code, w.Body.String())
	}

	w = doJSON(t, router, "POST", "/subjects/imported-value/versions", types.RegisterSchemaRequest{
		Schema:  testSchemaV1,
		ID:      100,
		Version: 7,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("import register: %d %s", w.Code, w.Body.String())
	}
	var resp types.RegisterSchemaResponse
	_ = json.NewDecoder(w.Body).Decode(&resp)
	if resp.ID != 100 {
		t.Errorf("imported id = %d, want 100", resp.ID)
	}

	w = doJSON(t, router, "GET", "/subjects/imported-value/versions/7", nil)
	if w.Code != http.StatusOK {
		t.Errorf("imported version lookup: %d", w.Code)
	}
}

func TestExplicitIDOutsideImportRejected(t *testing.T) {
	router := testRouter(setupTestHandler(t))

	w := doJSON(t, router, "POST", "/subjects/orders-value/versions", types.RegisterSchemaRequest{
		Schema: testSchemaV1,
		ID:     100,
	})
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d %s", w.Code, w.Body.String())
	}
	if resp := decodeErrorResponse(t, w); resp.ErrorCode != types.ErrorCodeOperationNotPermitted {
		t.Errorf("error_code = %d, want %d", resp.ErrorCode, types.ErrorCodeOperationNotPermitted)
	}
}

func TestCheckCompatibilityEndpoint(t *testing.T) {
	router := testRouter(setupTestHandler(t))
	registerSchema(t, router, "orders-value", testSchemaV1)

	w := doJSON(t, router, "POST", "/compatibility/subjects/orders-value/versions/latest",
		types.CompatibilityCheckRequest{Schema: testSchemaV2})
	if w.Code != http.StatusOK {
		t.Fatalf("check compatible: %d %s", w.Code, w.Body.String())
	}
	var resp types.CompatibilityCheckResponse
	_ = json.NewDecoder(w.Body).Decode(&resp)
	if !resp.IsCompatible {
		t.Error("compatible evolution reported incompatible")
	}

	w = doJSON(t, router, "POST", "/compatibility/subjects/orders-value/versions/latest?verbose=true",
		types.CompatibilityCheckRequest{Schema: testSchemaBad})
	if w.Code != http.StatusOK {
		t.Fatalf("check incompatible: %d", w.Code)
	}
	resp = types.CompatibilityCheckResponse{}
	_ = json.NewDecoder(w.Body).Decode(&resp)
	if resp.IsCompatible {
		t.Error("incompatible evolution reported compatible")
	}
	if len(resp.Messages) == 0 {
		t.Error("verbose check returned no messages")
	}

	// Check against all versions.
	w = doJSON(t, router, "POST", "/compatibility/subjects/orders-value/versions",
		types.CompatibilityCheckRequest{Schema: testSchemaV2})
	if w.Code != http.StatusOK {
		t.Fatalf("check all versions: %d", w.Code)
	}
}

func TestReferencedByEndpoint(t *testing.T) {
	router := testRouter(setupTestHandler(t))
	registerSchema(t, router, "item",
		`{"type":"record","name":"Item","namespace":"com.example","fields":[{"name":"sku","type":"string"}]}`)

	w := doJSON(t, router, "POST", "/subjects/cart/versions", types.RegisterSchemaRequest{
		Schema:     `{"type":"record","name":"Cart","namespace":"com.example","fields":[{"name":"item","type":"com.example.Item"}]}`,
		References: []storage.Reference{{Name: "com.example.Item", Subject: "item", Version: 1}},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("register with reference: %d %s", w.Code, w.Body.String())
	}
	var reg types.RegisterSchemaResponse
	_ = json.NewDecoder(w.Body).Decode(&reg)

	w = doJSON(t, router, "GET", "/subjects/item/versions/1/referencedby", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("referencedby: %d %s", w.Code, w.Body.String())
	}
	var ids []int
	_ = json.NewDecoder(w.Body).Decode(&ids)
	if len(ids) != 1 || ids[0] != reg.ID {
		t.Errorf("referencedby = %v, want [%d]", ids, reg.ID)
	}

	// A referenced version cannot be deleted.
	w = doJSON(t, router, "DELETE", "/subjects/item/versions/1", nil)
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("delete referenced: %d", w.Code)
	}
	if resp := decodeErrorResponse(t, w); resp.ErrorCode != types.ErrorCodeReferenceExists {
		t.Errorf("error_code = %d, want %d", resp.ErrorCode, types.ErrorCodeReferenceExists)
	}
}

func TestContextEndpoints(t *testing.T) {
	router := testRouter(setupTestHandler(t))
	registerSchema(t, router, "orders-value", testSchemaV1)
	registerSchema(t, router, ":.staging:orders-value", testSchemaV1)

	w := doJSON(t, router, "GET", "/contexts", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("contexts: %d", w.Code)
	}
	var contexts []string
	_ = json.NewDecoder(w.Body).Decode(&contexts)
	found := false
	for _, c := range contexts {
		if c == ".staging" {
			found = true
		}
	}
	if !found {
		t.Errorf("contexts = %v, want .staging present", contexts)
	}

	w = doJSON(t, router, "GET", "/subjects/:.staging:orders-value/versions/1", nil)
	if w.Code != http.StatusOK {
		t.Errorf("qualified subject lookup: %d %s", w.Code, w.Body.String())
	}
}

func TestSubjectAliasResolution(t *testing.T) {
	router := testRouter(setupTestHandler(t))
	registerSchema(t, router, "orders-value", testSchemaV1)

	w := doJSON(t, router, "PUT", "/config/orders-alias", types.ConfigRequest{Alias: "orders-value"})
	if w.Code != http.StatusOK {
		t.Fatalf("set alias: %d %s", w.Code, w.Body.String())
	}

	w = doJSON(t, router, "GET", "/subjects/orders-alias/versions/1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("alias lookup: %d %s", w.Code, w.Body.String())
	}
	var resp types.SubjectVersionResponse
	_ = json.NewDecoder(w.Body).Decode(&resp)
	if resp.Subject != "orders-value" {
		t.Errorf("alias resolved to %s, want orders-value", resp.Subject)
	}
}
