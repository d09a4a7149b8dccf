package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/axonops/kafka-schema-registry/internal/cluster"
	"github.com/axonops/kafka-schema-registry/internal/storage"
)

// Forwarder relays mutations from a follower to the leader's REST listener.
// Transport failures surface as ErrRequestForwarding; structured errors from
// the leader are propagated as RestError with status and code intact.
type Forwarder struct {
	client *http.Client
}

// NewForwarder builds a forwarder whose requests time out after timeout.
func NewForwarder(timeout time.Duration) *Forwarder {
	return &Forwarder{client: &http.Client{Timeout: timeout}}
}

type registerRequest struct {
	Schema     string              `json:"schema"`
	SchemaType storage.SchemaType  `json:"schemaType,omitempty"`
	References []storage.Reference `json:"references,omitempty"`
	Metadata   *storage.Metadata   `json:"metadata,omitempty"`
	RuleSet    *storage.RuleSet    `json:"ruleSet,omitempty"`
	Version    int                 `json:"version,omitempty"`
	ID         int                 `json:"id,omitempty"`
}

// RegisterSchema forwards a registration and returns the assigned id.
func (f *Forwarder) RegisterSchema(ctx context.Context, leader *cluster.Identity, subject string, s *storage.Schema, normalize bool, headers http.Header) (int, error) {
	body := registerRequest{
		Schema:     s.Schema,
		SchemaType: s.SchemaType,
		References: s.References,
		Metadata:   s.Metadata,
		RuleSet:    s.RuleSet,
		Version:    s.Version,
		ID:         s.ID,
	}
	path := fmt.Sprintf("/subjects/%s/versions?normalize=%t", url.PathEscape(subject), normalize)
	var resp struct {
		ID int `json:"id"`
	}
	if err := f.call(ctx, leader, http.MethodPost, path, body, headers, &resp); err != nil {
		return 0, err
	}
	return resp.ID, nil
}

// DeleteSchemaVersion forwards a version delete and returns the deleted
// version number.
func (f *Forwarder) DeleteSchemaVersion(ctx context.Context, leader *cluster.Identity, subject string, version int, permanent bool, headers http.Header) (int, error) {
	path := fmt.Sprintf("/subjects/%s/versions/%d?permanent=%t", url.PathEscape(subject), version, permanent)
	var deleted int
	if err := f.call(ctx, leader, http.MethodDelete, path, nil, headers, &deleted); err != nil {
		return 0, err
	}
	return deleted, nil
}

// DeleteSubject forwards a subject delete and returns the deleted versions.
func (f *Forwarder) DeleteSubject(ctx context.Context, leader *cluster.Identity, subject string, permanent bool, headers http.Header) ([]int, error) {
	path := fmt.Sprintf("/subjects/%s?permanent=%t", url.PathEscape(subject), permanent)
	var versions []int
	if err := f.call(ctx, leader, http.MethodDelete, path, nil, headers, &versions); err != nil {
		return nil, err
	}
	return versions, nil
}

// UpdateConfig forwards a config update.
func (f *Forwarder) UpdateConfig(ctx context.Context, leader *cluster.Identity, subject string, cfg *storage.Config, headers http.Header) error {
	path := "/config"
	if subject != "" {
		path += "/" + url.PathEscape(subject)
	}
	return f.call(ctx, leader, http.MethodPut, path, cfg, headers, nil)
}

// DeleteConfig forwards a config delete.
func (f *Forwarder) DeleteConfig(ctx context.Context, leader *cluster.Identity, subject string, headers http.Header) error {
	path := "/config"
	if subject != "" {
		path += "/" + url.PathEscape(subject)
	}
	return f.call(ctx, leader, http.MethodDelete, path, nil, headers, nil)
}

// SetMode forwards a mode change.
func (f *Forwarder) SetMode(ctx context.Context, leader *cluster.Identity, subject string, mode storage.Mode, force bool, headers http.Header) error {
	path := "/mode"
	if subject != "" {
		path += "/" + url.PathEscape(subject)
	}
	path += fmt.Sprintf("?force=%t", force)
	body := struct {
		Mode storage.Mode `json:"mode"`
	}{mode}
	return f.call(ctx, leader, http.MethodPut, path, body, headers, nil)
}

// DeleteSubjectMode forwards a subject mode delete.
func (f *Forwarder) DeleteSubjectMode(ctx context.Context, leader *cluster.Identity, subject string, headers http.Header) error {
	return f.call(ctx, leader, http.MethodDelete, "/mode/"+url.PathEscape(subject), nil, headers, nil)
}

// restError is the error body a registry instance returns on failure.
type restError struct {
	ErrorCode int    `json:"error_code"`
	Message   string `json:"message"`
}

func (f *Forwarder) call(ctx context.Context, leader *cluster.Identity, method, path string, body interface{}, headers http.Header, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%w: %v", storage.ErrSerialization, err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, leader.URL()+path, reqBody)
	if err != nil {
		return fmt.Errorf("%w: %v", storage.ErrRequestForwarding, err)
	}
	for name, values := range headers {
		for _, v := range values {
			req.Header.Add(name, v)
		}
	}
	req.Header.Set("Content-Type", "application/vnd.schemaregistry.v1+json")
	if req.Header.Get("X-Request-ID") == "" {
		req.Header.Set("X-Request-ID", uuid.NewString())
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", storage.ErrRequestForwarding, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: %v", storage.ErrRequestForwarding, err)
	}

	if resp.StatusCode >= 300 {
		var re restError
		if json.Unmarshal(data, &re) == nil && re.Message != "" {
			return &storage.RestError{Status: resp.StatusCode, Code: re.ErrorCode, Message: re.Message}
		}
		return &storage.RestError{Status: resp.StatusCode, Message: string(data)}
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("%w: decoding leader response: %v", storage.ErrRequestForwarding, err)
		}
	}
	return nil
}
