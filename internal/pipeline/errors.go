package pipeline

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an import failure.
type Kind string

const (
	// KindDocumentUnreadable means the input could not be parsed. Nothing was
	// sent to the model and nothing was persisted.
	KindDocumentUnreadable Kind = "document_unreadable"

	// KindModelService means the completion call failed. Nothing was persisted.
	KindModelService Kind = "model_service_error"

	// KindCanceled means the caller gave up before anything was sent to the
	// model. The import may be retried.
	KindCanceled Kind = "canceled"

	// KindPersistence means a store write failed partway. Succeeded records
	// how many transactions were written before the import gave up.
	KindPersistence Kind = "persistence_error"
)

// ImportError is the only error type returned by Importer.
type ImportError struct {
	Kind      Kind
	Op        string
	Succeeded int
	Err       error
}

func (e *ImportError) Error() string {
	if e.Kind == KindPersistence {
		return fmt.Sprintf("%s: %s (%d written): %v", e.Op, e.Kind, e.Succeeded, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *ImportError) Unwrap() error {
	return e.Err
}

// HTTPStatus maps the error kind onto a response code.
func (e *ImportError) HTTPStatus() int {
	switch e.Kind {
	case KindDocumentUnreadable:
		return http.StatusUnprocessableEntity
	case KindModelService:
		return http.StatusBadGateway
	case KindCanceled:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func kindOf(err error) (Kind, bool) {
	var ie *ImportError
	if errors.As(err, &ie) {
		return ie.Kind, true
	}
	return "", false
}

// IsDocumentUnreadable reports whether err is a KindDocumentUnreadable ImportError.
func IsDocumentUnreadable(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindDocumentUnreadable
}

// IsModelService reports whether err is a KindModelService ImportError.
func IsModelService(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindModelService
}

// IsCanceled reports whether err is a KindCanceled ImportError.
func IsCanceled(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindCanceled
}

// IsPersistence reports whether err is a KindPersistence ImportError.
func IsPersistence(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindPersistence
}
