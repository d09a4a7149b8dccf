package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/subjects/orders-value/versions/3", "/subjects/{subject}/versions/{version}"},
		{"/subjects/orders-value/versions", "/subjects/{subject}/versions"},
		{"/subjects/orders-value", "/subjects/{subject}"},
		{"/schemas/ids/42", "/schemas/ids/{id}"},
		{"/config/orders-value", "/config/{subject}"},
		{"/mode/orders-value", "/mode/{subject}"},
		{"/compatibility/subjects/orders-value/versions/latest", "/compatibility/subjects/{subject}/versions/{version}"},
		{"/subjects", "/subjects"},
		{"/contexts", "/contexts"},
	}
	for _, tt := range tests {
		if got := normalizePath(tt.path); got != tt.want {
			t.Errorf("normalizePath(%s) = %s, want %s", tt.path, got, tt.want)
		}
	}
}

func TestMiddlewareRecordsRequests(t *testing.T) {
	m := New()
	handler := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	req := httptest.NewRequest(http.MethodGet, "/subjects/orders-value", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}

	metricsRec := httptest.NewRecorder()
	m.Handler().ServeHTTP(metricsRec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := metricsRec.Body.String()
	if !strings.Contains(body, "schema_registry_requests_total") {
		t.Error("requests counter missing from exposition")
	}
	if !strings.Contains(body, `path="/subjects/{subject}"`) {
		t.Error("normalized path label missing")
	}
}

func TestLeaderGauge(t *testing.T) {
	m := New()
	m.SetLeader(true)
	m.SetLeader(false)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	if !strings.Contains(body, "schema_registry_leader 0") {
		t.Error("leader gauge not reset")
	}
	if !strings.Contains(body, "schema_registry_leader_transitions_total 2") {
		t.Error("transition counter wrong")
	}
}
