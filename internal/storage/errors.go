package storage

import (
	"errors"
	"fmt"
)

// Common errors surfaced by the store and the registry core.
var (
	ErrNotFound              = errors.New("not found")
	ErrSubjectNotFound       = errors.New("subject not found")
	ErrSchemaNotFound        = errors.New("schema not found")
	ErrVersionNotFound       = errors.New("version not found")
	ErrInvalidVersion        = errors.New("invalid version")
	ErrInvalidSchema         = errors.New("invalid schema")
	ErrIncompatibleSchema    = errors.New("incompatible schema")
	ErrOperationNotPermitted = errors.New("operation not permitted")
	ErrReferenceExists       = errors.New("one or more references exist to the schema")
	ErrSchemaTooLarge        = errors.New("schema is too large")
	ErrSubjectNotSoftDeleted = errors.New("subject must be soft-deleted before being permanently deleted")
	ErrVersionNotSoftDeleted = errors.New("version must be soft-deleted before being permanently deleted")
	ErrNotLeader             = errors.New("this node is not the leader")
	ErrUnknownLeader         = errors.New("leader is unknown")
	ErrRequestForwarding     = errors.New("error forwarding request to the leader")
	ErrStoreTimeout          = errors.New("store operation timed out")
	ErrStore                 = errors.New("store error")
	ErrIDGeneration          = errors.New("id generation failed")
	ErrInitialization        = errors.New("store initialization failed")
	ErrSerialization         = errors.New("serialization error")
)

// RestError carries a structured error returned by a remote registry
// instance when a forwarded request fails. Status and Code are preserved so
// the local REST layer can propagate them unchanged.
type RestError struct {
	Status  int
	Code    int
	Message string
}

func (e *RestError) Error() string {
	return fmt.Sprintf("%s (status %d, error code %d)", e.Message, e.Status, e.Code)
}
