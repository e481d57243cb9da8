package support

import (
	"errors"
	"fmt"
	"net/url"
)

// Sentinel errors.
var (
	// ErrNotSupported is returned by a module that has no opinion on a call.
	// The chain treats it exactly like a nil result.
	ErrNotSupported = errors.New("operation not supported")

	// ErrNotFound matches every *NotFoundError via errors.Is. Unlike
	// ErrNotSupported it is a failure: the chain returns it to the caller.
	ErrNotFound = errors.New("resource not found")

	// ErrUnknownPropertyType reports a ConceptProperty implementation the
	// serializer does not know. It indicates a programming error.
	ErrUnknownPropertyType = errors.New("unknown concept property type")
)

// NotFoundError is a terminology or conformance lookup that resolved nothing.
type NotFoundError struct {
	// Kind is the resource kind, e.g. "ValueSet" or "CodeSystem".
	Kind string
	// Identifier is the unresolved canonical URL, system or code.
	Identifier string
	// Message overrides the generated message when set.
	Message string
}

// NewNotFoundError builds a NotFoundError for a resource kind and identifier.
func NewNotFoundError(kind, identifier string) *NotFoundError {
	return &NotFoundError{Kind: kind, Identifier: identifier}
}

func (e *NotFoundError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	kind := e.Kind
	if kind == "" {
		kind = "resource"
	}
	return fmt.Sprintf("Unknown %s: %s", kind, url.QueryEscape(e.Identifier))
}

// Is makes errors.Is(err, ErrNotFound) true for every NotFoundError.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// IsNotFound reports whether err is, or wraps, a not-found condition.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsNoOpinion reports whether a module error means "try the next module".
// Only ErrNotSupported qualifies.
func IsNoOpinion(err error) bool {
	return errors.Is(err, ErrNotSupported)
}
