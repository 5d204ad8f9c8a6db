package booking

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

type ErrorType int

const (
	ErrNotFound ErrorType = iota
	ErrAlreadyTaken
	ErrInvalidTransition
	ErrValidation
	ErrDelivery
	ErrStore
)

func (t ErrorType) String() string {
	switch t {
	case ErrNotFound:
		return "NotFound"
	case ErrAlreadyTaken:
		return "AlreadyTaken"
	case ErrInvalidTransition:
		return "InvalidTransition"
	case ErrValidation:
		return "ValidationFailed"
	case ErrDelivery:
		return "DeliveryFailed"
	case ErrStore:
		return "Store"
	default:
		return "Unknown"
	}
}

// BookingError carries the failure taxonomy the caller-facing surface
// exposes. Fields holds field-level detail for validation failures.
type BookingError struct {
	Type    ErrorType
	Message string
	Fields  map[string]string
	Cause   error
}

func NewError(errorType ErrorType, message string) *BookingError {
	return &BookingError{
		Type:    errorType,
		Message: message,
	}
}

func WrapError(err error, errorType ErrorType, message string) *BookingError {
	return &BookingError{
		Type:    errorType,
		Message: message,
		Cause:   err,
	}
}

func (e *BookingError) Error() string {
	parts := []string{fmt.Sprintf("[%s] %s", e.Type.String(), e.Message)}

	if len(e.Fields) > 0 {
		keys := make([]string, 0, len(e.Fields))
		for k := range e.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fieldParts := make([]string, 0, len(keys))
		for _, k := range keys {
			fieldParts = append(fieldParts, fmt.Sprintf("%s=%s", k, e.Fields[k]))
		}
		parts = append(parts, fmt.Sprintf("fields: %s", strings.Join(fieldParts, ", ")))
	}

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("cause: %v", e.Cause))
	}

	return strings.Join(parts, " | ")
}

func (e *BookingError) Unwrap() error {
	return e.Cause
}

// WithField attaches field-level detail to a validation failure.
func (e *BookingError) WithField(name, detail string) *BookingError {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	e.Fields[name] = detail
	return e
}

func IsErrorType(err error, errorType ErrorType) bool {
	var be *BookingError
	if errors.As(err, &be) {
		return be.Type == errorType
	}
	return false
}

// Store sentinels. The store reports outcomes with these; the engine
// translates them into the caller-facing taxonomy above.
var (
	ErrJobNotFound    = errors.New("job not found")
	ErrStatusConflict = errors.New("job status conflict")
)
