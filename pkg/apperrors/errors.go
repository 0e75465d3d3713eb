// Package apperrors defines the error taxonomy shared by the lending client.
//
// Four typed errors cover every failure a user action can produce:
//
//   - *ValidationError: missing or malformed input (no return date, blank title).
//   - *LifecycleViolation: an illegal book transition (deleting a book on loan,
//     approving a book that is not pending). Role failures are also reported as
//     a LifecycleViolation that wraps an *AuthorizationError.
//   - *AuthorizationError: the actor is not eligible for the action.
//   - *NetworkError: the backend was unreachable or answered with a non-2xx status.
//
// Errors are wrapped with fmt.Errorf("%w") and inspected with errors.Is / errors.As:
//
//	var violation *apperrors.LifecycleViolation
//	if errors.As(err, &violation) && violation.Rule == apperrors.RuleOnLoanNotDeletable {
//	    ...
//	}
//
// None of these errors are fatal; callers report them and stay interactive.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNotAuthenticated is returned when an action needs a session and none is stored.
	ErrNotAuthenticated = errors.New("not logged in")

	// ErrActionInProgress is returned when another mutation on the same book is still in flight.
	ErrActionInProgress = errors.New("another action on this book is in progress")

	// ErrBookNotFound is returned when a book id is not part of the fetched catalog.
	ErrBookNotFound = errors.New("book not found")

	// Status-derived sentinels; a *NetworkError unwraps to one of these.
	ErrUnauthenticated = errors.New("backend rejected the credentials")
	ErrForbidden       = errors.New("backend refused the action")
	ErrNotFound        = errors.New("backend resource not found")
	ErrConflict        = errors.New("backend rejected the request")
	ErrUnavailable     = errors.New("backend unavailable")
)

type Rule string

const (
	RuleNotAvailable        Rule = "book-not-available"
	RuleOwnBook             Rule = "own-book"
	RuleAdminCannotBorrow   Rule = "admin-cannot-borrow"
	RuleNotPending          Rule = "not-pending"
	RuleNotOnLoan           Rule = "not-on-loan"
	RuleNotManager          Rule = "not-owner-or-admin"
	RuleNotBorrower         Rule = "not-borrower"
	RulePendingNotDeletable Rule = "pending-not-deletable"
	RuleOnLoanNotDeletable  Rule = "on-loan-not-deletable"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

type LifecycleViolation struct {
	Rule    Rule
	BookID  int64
	Message string
	Err     error
}

func (e *LifecycleViolation) Error() string {
	return fmt.Sprintf("book %d: %s", e.BookID, e.Message)
}

func (e *LifecycleViolation) Unwrap() error {
	return e.Err
}

func NewLifecycleViolation(rule Rule, bookID int64, message string) *LifecycleViolation {
	return &LifecycleViolation{Rule: rule, BookID: bookID, Message: message}
}

type AuthorizationError struct {
	Action string
	Reason string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("%s not allowed: %s", e.Action, e.Reason)
}

// NewRoleViolation builds a LifecycleViolation for an ineligible actor.
func NewRoleViolation(rule Rule, bookID int64, action, reason string) *LifecycleViolation {
	return &LifecycleViolation{
		Rule:    rule,
		BookID:  bookID,
		Message: reason,
		Err:     &AuthorizationError{Action: action, Reason: reason},
	}
}

type NetworkError struct {
	Method     string
	Path       string
	StatusCode int
	Message    string
	Err        error
}

func (e *NetworkError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s %s: %v", e.Method, e.Path, e.Err)
	}
	if e.Message == "" {
		return fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: %s (status %d)", e.Method, e.Path, e.Message, e.StatusCode)
}

func (e *NetworkError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	switch {
	case e.StatusCode == http.StatusUnauthorized:
		return ErrUnauthenticated
	case e.StatusCode == http.StatusForbidden:
		return ErrForbidden
	case e.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case e.StatusCode >= 500:
		return ErrUnavailable
	case e.StatusCode >= 400:
		return ErrConflict
	}
	return nil
}

// ErrorResponse is the JSON body the gateway answers with.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// HTTPStatus maps an error to the status the gateway should answer with.
func HTTPStatus(err error) int {
	var (
		validation *ValidationError
		violation  *LifecycleViolation
		authz      *AuthorizationError
		network    *NetworkError
	)
	switch {
	case errors.Is(err, ErrNotAuthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, ErrActionInProgress):
		return http.StatusConflict
	case errors.Is(err, ErrBookNotFound):
		return http.StatusNotFound
	case errors.As(err, &authz):
		return http.StatusForbidden
	case errors.As(err, &violation):
		return http.StatusConflict
	case errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.As(err, &network):
		if network.StatusCode >= 400 && network.StatusCode < 500 {
			return network.StatusCode
		}
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// Code returns a stable machine-readable code for err.
func Code(err error) string {
	var (
		validation *ValidationError
		violation  *LifecycleViolation
		authz      *AuthorizationError
		network    *NetworkError
	)
	switch {
	case errors.Is(err, ErrNotAuthenticated):
		return "NOT_AUTHENTICATED"
	case errors.Is(err, ErrActionInProgress):
		return "ACTION_IN_PROGRESS"
	case errors.Is(err, ErrBookNotFound):
		return "BOOK_NOT_FOUND"
	case errors.As(err, &authz):
		return "FORBIDDEN"
	case errors.As(err, &violation):
		return "LIFECYCLE_VIOLATION"
	case errors.As(err, &validation):
		return "VALIDATION_ERROR"
	case errors.As(err, &network):
		return "NETWORK_ERROR"
	}
	return "INTERNAL_ERROR"
}

func ToErrorResponse(err error) ErrorResponse {
	return ErrorResponse{Error: err.Error(), Code: Code(err)}
}
