package apperr

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
)

// Kind classifies an error for propagation and for the HTTP response.
type Kind int

const (
	KindInternal Kind = iota
	KindNotFound
	KindInvalid
	KindPolicyViolation
	KindConflict
	KindTransient
	KindUnsignedDependency
)

// Sentinels usable with errors.Is.
var (
	ErrNotFound           = errors.New("not found")
	ErrInvalid            = errors.New("invalid request")
	ErrPolicyViolation    = errors.New("compliance rule violated")
	ErrConflict           = errors.New("conflict")
	ErrTransient          = errors.New("central system unavailable")
	ErrUnsignedDependency = errors.New("dependency not signed")
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindInvalid:
		return "invalid"
	case KindPolicyViolation:
		return "policy_violation"
	case KindConflict:
		return "conflict"
	case KindTransient:
		return "transient_failure"
	case KindUnsignedDependency:
		return "unsigned_dependency"
	default:
		return "internal"
	}
}

func (k Kind) sentinel() error {
	switch k {
	case KindNotFound:
		return ErrNotFound
	case KindInvalid:
		return ErrInvalid
	case KindPolicyViolation:
		return ErrPolicyViolation
	case KindConflict:
		return ErrConflict
	case KindTransient:
		return ErrTransient
	case KindUnsignedDependency:
		return ErrUnsignedDependency
	}
	return nil
}

// Error is the typed error returned by services. Rule names the compliance rule
// or operation that produced it.
type Error struct {
	Kind    Kind
	Rule    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && target == s
}

// Retryable reports whether the caller may safely repeat the request.
func (e *Error) Retryable() bool { return e.Kind == KindTransient }

func NotFound(entity string, id any) error {
	return &Error{Kind: KindNotFound, Rule: entity, Message: fmt.Sprintf("%s %v not found", entity, id)}
}

func Invalid(format string, args ...any) error {
	return &Error{Kind: KindInvalid, Message: fmt.Sprintf(format, args...)}
}

func Policy(rule, format string, args ...any) error {
	return &Error{Kind: KindPolicyViolation, Rule: rule, Message: fmt.Sprintf(format, args...)}
}

func Conflict(rule, format string, args ...any) error {
	return &Error{Kind: KindConflict, Rule: rule, Message: fmt.Sprintf(format, args...)}
}

func Unsigned(rule, format string, args ...any) error {
	return &Error{Kind: KindUnsignedDependency, Rule: rule, Message: fmt.Sprintf(format, args...)}
}

// Internal wraps a failure the caller cannot correct, keeping the rule and
// reason visible in the response.
func Internal(rule string, err error) error {
	return &Error{Kind: KindInternal, Rule: rule, Message: rule + " failed", Err: err}
}

// Transient wraps a Central System failure for operation op.
func Transient(op string, err error) error {
	return &Error{
		Kind:    KindTransient,
		Rule:    op,
		Message: fmt.Sprintf("central system could not complete %s, the request may be retried", op),
		Err:     err,
	}
}

// KindOf returns the Kind of err, or KindInternal for untyped errors.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindInternal
}

// HTTPStatus maps err to a response status code.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindNotFound:
		return http.StatusNotFound
	case KindInvalid:
		return http.StatusBadRequest
	case KindPolicyViolation:
		return http.StatusForbidden
	case KindConflict:
		return http.StatusConflict
	case KindTransient:
		return http.StatusServiceUnavailable
	case KindUnsignedDependency:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// Body is the JSON error payload returned to clients.
type Body struct {
	Error     string `json:"error"`
	Rule      string `json:"rule,omitempty"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// ToHTTP converts err into an echo HTTP error carrying a Body.
func ToHTTP(err error) *echo.HTTPError {
	var ae *Error
	if !errors.As(err, &ae) {
		return echo.NewHTTPError(http.StatusInternalServerError, Body{
			Error:   KindInternal.String(),
			Message: "internal server error",
		})
	}
	return echo.NewHTTPError(HTTPStatus(err), Body{
		Error:     ae.Kind.String(),
		Rule:      ae.Rule,
		Message:   ae.Error(),
		Retryable: ae.Retryable(),
	})
}
