package services

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"gorm.io/gorm"
)

// ErrUnauthorized is returned when credentials or tokens are missing, invalid or revoked.
var ErrUnauthorized = errors.New("unauthenticated")

// ErrForbidden is returned when an authenticated user lacks the required role.
var ErrForbidden = errors.New("forbidden")

// ValidationError collects field level violations.
type ValidationError struct {
	Fields map[string][]string
}

// NewValidationError wraps fields; it returns nil when fields is empty.
func NewValidationError(fields map[string][]string) *ValidationError {
	if len(fields) == 0 {
		return nil
	}
	return &ValidationError{Fields: fields}
}

// Add records message for field.
func (e *ValidationError) Add(field, message string) {
	if e.Fields == nil {
		e.Fields = make(map[string][]string)
	}
	e.Fields[field] = append(e.Fields[field], message)
}

// Merge adds every violation in fields.
func (e *ValidationError) Merge(fields map[string][]string) {
	for field, messages := range fields {
		for _, m := range messages {
			e.Add(field, m)
		}
	}
}

// HasErrors reports whether anything was recorded.
func (e *ValidationError) HasErrors() bool {
	return e != nil && len(e.Fields) > 0
}

// Err returns e as an error, or nil if nothing was recorded.
func (e *ValidationError) Err() error {
	if !e.HasErrors() {
		return nil
	}
	return e
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+strings.Join(e.Fields[k], "; "))
	}
	return "validation failed: " + strings.Join(parts, ", ")
}

// NotFoundError reports a missing (or soft deleted) resource.
type NotFoundError struct {
	Resource string
}

func (e *NotFoundError) Error() string {
	return e.Resource + " not found"
}

func notFound(resource string) error {
	return &NotFoundError{Resource: resource}
}

// ConflictError reports a unique constraint the database rejected, typically
// because a concurrent request won the race past the pre-write checks.
type ConflictError struct {
	Field   string
	Message string
}

func (e *ConflictError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// StorageError is a failure of the blob store. Orphans lists blobs that could
// not be cleaned up and were handed to reconciliation.
type StorageError struct {
	Op      string
	Path    string
	Err     error
	Orphans []string
}

func (e *StorageError) Error() string {
	msg := fmt.Sprintf("storage %s", e.Op)
	if e.Path != "" {
		msg += " " + e.Path
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if len(e.Orphans) > 0 {
		msg += fmt.Sprintf(" (%d orphaned blobs)", len(e.Orphans))
	}
	return msg
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// translateDBError maps a duplicated key reported by the database onto field.
func translateDBError(err error, field string) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return &ConflictError{Field: field, Message: "has already been taken"}
	}
	return err
}
