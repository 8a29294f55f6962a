package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies run failures for callers and persisted reports.
type ErrorKind string

const (
	KindPrecondition ErrorKind = "precondition"
	KindNotFound     ErrorKind = "not_found"
	KindSchema       ErrorKind = "schema"
	KindService      ErrorKind = "service"
	KindConflict     ErrorKind = "conflict"
	KindCanceled     ErrorKind = "canceled"
	KindUnknown      ErrorKind = "unknown"
)

// PreconditionError means a stage ran without the groups it requires.
type PreconditionError struct {
	Stage   StageID
	Missing []FieldGroup
}

func (e *PreconditionError) Error() string {
	names := make([]string, len(e.Missing))
	for i, g := range e.Missing {
		names[i] = string(g)
	}
	return fmt.Sprintf("%s: missing required groups: %s", e.Stage, strings.Join(names, ", "))
}

// NotFoundError means a document path does not exist.
type NotFoundError struct {
	Path string
	Err  error
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("document not found: %s", e.Path)
}

func (e *NotFoundError) Unwrap() error { return e.Err }

// SchemaError means a collaborator returned output that does not match the
// expected shape.
type SchemaError struct {
	What string
	Raw  string
	Err  error
}

func (e *SchemaError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("invalid %s response", e.What)
	}
	return fmt.Sprintf("invalid %s response: %v", e.What, e.Err)
}

func (e *SchemaError) Unwrap() error { return e.Err }

// ServiceError means a collaborator call failed at the transport level or
// exceeded its timeout.
type ServiceError struct {
	Op  string
	Err error
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// ConflictError means a stage wrote a group it does not own or one that was
// already written. It indicates a wiring defect, never bad input.
type ConflictError struct {
	Group  FieldGroup
	Reason string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("field group %s: %s", e.Group, e.Reason)
}

// StageError attributes a run failure to the stage that raised it.
type StageError struct {
	Stage StageID
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("pipeline: stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// KindOf maps err onto the failure taxonomy.
func KindOf(err error) ErrorKind {
	var (
		pre      *PreconditionError
		notFound *NotFoundError
		schema   *SchemaError
		service  *ServiceError
		conflict *ConflictError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &pre):
		return KindPrecondition
	case errors.As(err, &notFound):
		return KindNotFound
	case errors.As(err, &schema):
		return KindSchema
	case errors.As(err, &service):
		return KindService
	case errors.As(err, &conflict):
		return KindConflict
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCanceled
	default:
		return KindUnknown
	}
}
