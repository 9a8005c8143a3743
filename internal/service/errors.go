package service

import (
	"errors"
	"fmt"

	"backoffice-service/internal/store"
)

// Error kinds. Match them with errors.Is.
var (
	ErrBadRequest         = errors.New("bad request")
	ErrNotFound           = errors.New("not found")
	ErrConflict           = errors.New("conflict")
	ErrCatalogMismatch    = errors.New("items not found in catalog")
	ErrValidationFailure  = errors.New("validation failure")
	ErrGateway            = errors.New("payment gateway error")
	ErrSignatureMismatch  = errors.New("signature mismatch")
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrInternal           = errors.New("internal error")
)

// Error carries a kind, a caller-facing message and the underlying cause.
type Error struct {
	Kind    error
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return fmt.Sprintf("%v: %v", e.Kind, e.Err)
	}
	return e.Kind.Error()
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newError(kind error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// storageError classifies a store failure as transient or internal.
func storageError(op string, err error) error {
	if err == nil {
		return nil
	}
	var svcErr *Error
	if errors.As(err, &svcErr) {
		return err
	}
	switch {
	case errors.Is(err, store.ErrNotFound), store.IsUndefinedTable(err):
		return &Error{Kind: ErrNotFound, Message: op, Err: err}
	case store.IsUnavailable(err):
		return &Error{Kind: ErrStorageUnavailable, Message: op, Err: err}
	case store.IsUniqueViolation(err):
		return &Error{Kind: ErrConflict, Message: op, Err: err}
	}
	return &Error{Kind: ErrInternal, Message: op, Err: err}
}
