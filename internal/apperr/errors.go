package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type ValidationError struct {
	Message string
	Field   string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func NewValidationError(message string) *ValidationError {
	return &ValidationError{Message: message}
}

func NewFieldError(field, message string) *ValidationError {
	return &ValidationError{Message: message, Field: field}
}

type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s not found", e.Resource)
	}
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

func NewNotFoundError(resource string, id any) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: fmt.Sprint(id)}
}

// AlreadyAvailedError reports a voucher that has already been consumed.
type AlreadyAvailedError struct {
	VoucherID int64
	OrderID   *int64
}

func (e *AlreadyAvailedError) Error() string {
	return fmt.Sprintf("voucher %d has already been availed", e.VoucherID)
}

type ExpiredError struct {
	VoucherID int64
}

func (e *ExpiredError) Error() string {
	return fmt.Sprintf("voucher %d has expired", e.VoucherID)
}

// PersistenceError wraps a datastore failure. Its message never reaches clients.
type PersistenceError struct {
	Op    string
	Cause error
}

func (e *PersistenceError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Cause)
	}
	return e.Op
}

func (e *PersistenceError) Unwrap() error {
	return e.Cause
}

func NewPersistenceError(op string, cause error) *PersistenceError {
	return &PersistenceError{Op: op, Cause: cause}
}

func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

func IsAlreadyAvailed(err error) bool {
	var target *AlreadyAvailedError
	return errors.As(err, &target)
}

func IsExpired(err error) bool {
	var target *ExpiredError
	return errors.As(err, &target)
}

// HTTPStatus maps an error to the response status of the HTTP surface.
// Unknown errors are treated as persistence failures.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case IsValidation(err), IsAlreadyAvailed(err), IsExpired(err):
		return http.StatusBadRequest
	case IsNotFound(err):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage is the message safe to return to a client.
func PublicMessage(err error) string {
	if HTTPStatus(err) == http.StatusInternalServerError {
		return "internal error"
	}
	return err.Error()
}
