package models

import (
	"errors"
	"fmt"
	"strings"
)

var ErrNotFound = errors.New("record not found")

// InvalidTransitionError is returned when an operation is attempted from a status that does not allow it.
type InvalidTransitionError struct {
	Operation string
	Current   TransactionStatus
	Allowed   []TransactionStatus
}

func (e *InvalidTransitionError) Error() string {
	allowed := make([]string, 0, len(e.Allowed))
	for _, s := range e.Allowed {
		allowed = append(allowed, string(s))
	}
	return fmt.Sprintf("invalid transition: %s not allowed from %s (allowed from: %s)",
		e.Operation, e.Current, strings.Join(allowed, ", "))
}

// UnauthorizedError names the operation and the required capacity, never the parties involved.
type UnauthorizedError struct {
	Operation string
	Required  []Party
}

func (e *UnauthorizedError) Error() string {
	if len(e.Required) == 0 {
		return fmt.Sprintf("unauthorized: caller may not perform %s", e.Operation)
	}
	req := make([]string, 0, len(e.Required))
	for _, p := range e.Required {
		req = append(req, strings.ToLower(string(p)))
	}
	return fmt.Sprintf("unauthorized: %s requires %s", e.Operation, strings.Join(req, " or "))
}

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Message
	}
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Message)
}

func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// ExternalServiceError wraps a failed or timed-out collaborator call. No state was mutated.
type ExternalServiceError struct {
	Service string
	Op      string
	Err     error
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("%s unavailable during %s: %v", e.Service, e.Op, e.Err)
}

func (e *ExternalServiceError) Unwrap() error { return e.Err }

func (e *ExternalServiceError) Retryable() bool { return true }

// ConflictError means a concurrent writer committed first.
type ConflictError struct {
	Resource string
	Detail   string
}

func (e *ConflictError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("conflict: %s was modified concurrently", e.Resource)
	}
	return fmt.Sprintf("conflict: %s %s", e.Resource, e.Detail)
}

// IsRetryable reports whether the caller may safely retry the same request.
func IsRetryable(err error) bool {
	var ext *ExternalServiceError
	if errors.As(err, &ext) {
		return true
	}
	var conflict *ConflictError
	return errors.As(err, &conflict)
}
