package appointment

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound                = errors.New("appointment not found")
	ErrPatientNotFound         = errors.New("patient not found")
	ErrDoctorNotFound          = errors.New("doctor not found")
	ErrInvalidStatusTransition = errors.New("invalid status transition")
	ErrConcurrentModification  = errors.New("appointment was modified concurrently, please retry")
	ErrScheduleBusy            = errors.New("schedule is currently being modified, please retry")
	ErrForbidden               = errors.New("actor is not allowed to perform this operation")
)

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError is returned for input the caller can fix: a bad window or a
// missing required field.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) add(field, msg string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: msg})
}

func (e *ValidationError) orNil() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}

// ConflictError lists one entry per colliding scope.
type ConflictError struct {
	Conflicts []Conflict
}

func (e *ConflictError) Error() string {
	kinds := make([]string, 0, len(e.Conflicts))
	for _, c := range e.Conflicts {
		kinds = append(kinds, c.Kind.String())
	}
	return "scheduling conflict: " + strings.Join(kinds, ", ")
}

func (e *ConflictError) FieldErrors() []FieldError {
	out := make([]FieldError, 0, len(e.Conflicts))
	for _, c := range e.Conflicts {
		out = append(out, FieldError{Field: c.Kind.Field(), Message: c.Message()})
	}
	return out
}

// BatchShapeError rejects a bulk request before any row is touched.
type BatchShapeError struct {
	Reason string
}

func (e *BatchShapeError) Error() string {
	return fmt.Sprintf("invalid batch: %s", e.Reason)
}
