// Package types provides API request and response types.
package types

import "github.com/axonops/kafka-schema-registry/internal/storage"

// RegisterSchemaRequest is the request body for registering a schema.
// Version and ID are honored only in IMPORT mode.
type RegisterSchemaRequest struct {
	Schema     string              `json:"schema"`
	SchemaType string              `json:"schemaType,omitempty"`
	References []storage.Reference `json:"references,omitempty"`
	Metadata   *storage.Metadata   `json:"metadata,omitempty"`
	RuleSet    *storage.RuleSet    `json:"ruleSet,omitempty"`
	Version    int                 `json:"version,omitempty"`
	ID         int                 `json:"id,omitempty"`
}

// RegisterSchemaResponse is the response for registering a schema.
type RegisterSchemaResponse struct {
	ID int `json:"id"`
}

// SchemaByIDResponse is the response for getting a schema by ID.
type SchemaByIDResponse struct {
	Schema     string              `json:"schema"`
	SchemaType string              `json:"schemaType,omitempty"`
	References []storage.Reference `json:"references,omitempty"`
	Metadata   *storage.Metadata   `json:"metadata,omitempty"`
	RuleSet    *storage.RuleSet    `json:"ruleSet,omitempty"`
	MaxID      *int                `json:"maxId,omitempty"`
}

// SubjectVersionResponse is the response for getting a subject version.
type SubjectVersionResponse struct {
	Subject    string              `json:"subject"`
	ID         int                 `json:"id"`
	Version    int                 `json:"version"`
	SchemaType string              `json:"schemaType,omitempty"`
	Schema     string              `json:"schema"`
	References []storage.Reference `json:"references,omitempty"`
	Metadata   *storage.Metadata   `json:"metadata,omitempty"`
	RuleSet    *storage.RuleSet    `json:"ruleSet,omitempty"`
}

// LookupSchemaRequest is the request body for looking up a schema.
type LookupSchemaRequest struct {
	Schema     string              `json:"schema"`
	SchemaType string              `json:"schemaType,omitempty"`
	References []storage.Reference `json:"references,omitempty"`
	Metadata   *storage.Metadata   `json:"metadata,omitempty"`
	RuleSet    *storage.RuleSet    `json:"ruleSet,omitempty"`
}

// ConfigResponse is the response for getting configuration.
type ConfigResponse struct {
	CompatibilityLevel string            `json:"compatibilityLevel"`
	Alias              string            `json:"alias,omitempty"`
	Normalize          *bool             `json:"normalize,omitempty"`
	CompatibilityGroup string            `json:"compatibilityGroup,omitempty"`
	DefaultMetadata    *storage.Metadata `json:"defaultMetadata,omitempty"`
	OverrideMetadata   *storage.Metadata `json:"overrideMetadata,omitempty"`
	DefaultRuleSet     *storage.RuleSet  `json:"defaultRuleSet,omitempty"`
	OverrideRuleSet    *storage.RuleSet  `json:"overrideRuleSet,omitempty"`
}

// ConfigRequest is the request body for setting configuration.
type ConfigRequest struct {
	Compatibility      string            `json:"compatibility"`
	Alias              string            `json:"alias,omitempty"`
	Normalize          *bool             `json:"normalize,omitempty"`
	CompatibilityGroup string            `json:"compatibilityGroup,omitempty"`
	DefaultMetadata    *storage.Metadata `json:"defaultMetadata,omitempty"`
	OverrideMetadata   *storage.Metadata `json:"overrideMetadata,omitempty"`
	DefaultRuleSet     *storage.RuleSet  `json:"defaultRuleSet,omitempty"`
	OverrideRuleSet    *storage.RuleSet  `json:"overrideRuleSet,omitempty"`
}

// ModeResponse is the response for getting mode.
type ModeResponse struct {
	Mode string `json:"mode"`
}

// ModeRequest is the request body for setting mode.
type ModeRequest struct {
	Mode string `json:"mode"`
}

// CompatibilityCheckRequest is the request for checking compatibility.
type CompatibilityCheckRequest struct {
	Schema     string              `json:"schema"`
	SchemaType string              `json:"schemaType,omitempty"`
	References []storage.Reference `json:"references,omitempty"`
	Metadata   *storage.Metadata   `json:"metadata,omitempty"`
}

// CompatibilityCheckResponse is the response for checking compatibility.
type CompatibilityCheckResponse struct {
	IsCompatible bool     `json:"is_compatible"`
	Messages     []string `json:"messages,omitempty"`
}

// ErrorResponse is the error response format.
type ErrorResponse struct {
	ErrorCode int    `json:"error_code"`
	Message   string `json:"message"`
}

// ServerVersionResponse is the response for getting server version.
type ServerVersionResponse struct {
	Version   string `json:"version"`
	Commit    string `json:"commit,omitempty"`
	BuildTime string `json:"build_time,omitempty"`
}

// Error codes matching Confluent Schema Registry
const (
	ErrorCodeSubjectNotFound           = 40401
	ErrorCodeVersionNotFound           = 40402
	ErrorCodeSchemaNotFound            = 40403
	ErrorCodeSubjectNotSoftDeleted     = 40405
	ErrorCodeVersionNotSoftDeleted     = 40407
	ErrorCodeIncompatibleSchema        = 409
	ErrorCodeInvalidSchema             = 42201
	ErrorCodeInvalidVersion            = 42202
	ErrorCodeInvalidCompatibilityLevel = 42203
	ErrorCodeInvalidMode               = 42204
	ErrorCodeOperationNotPermitted     = 42205
	ErrorCodeReferenceExists           = 42206
	ErrorCodeIDGenerationFailed        = 42207
	ErrorCodeInternalServerError       = 50001
	ErrorCodeStorageError              = 50002
	ErrorCodeStoreTimeout              = 50003
	ErrorCodeForwardingFailed          = 50004
	ErrorCodeUnknownLeader             = 50005
)
