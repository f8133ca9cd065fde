package listing

import (
	"context"
	"errors"
	"fmt"

	"github.com/pavelpascari/listsim/pkg/query"
)

// Error codes.
const (
	CodeInternalServerError = "INTERNAL_SERVER_ERROR"
	CodeInvalidCriteria     = "INVALID_CRITERIA"
	CodeCancelled           = "CANCELLED"
)

// ErrCancelled is returned when a request is abandoned because its context
// was cancelled. Returned errors also wrap the cancellation cause.
var ErrCancelled = errors.New("request cancelled")

// IsCancelled reports whether err reports a cancelled request.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled)
}

func cancelled(ctx context.Context) error {
	if cause := context.Cause(ctx); cause != nil {
		return fmt.Errorf("%w: %w", ErrCancelled, cause)
	}
	return ErrCancelled
}

// InvalidCriteriaError reports criteria that failed validation.
type InvalidCriteriaError struct {
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`

	err error
}

func (e *InvalidCriteriaError) Error() string {
	return e.Message
}

func (e *InvalidCriteriaError) Unwrap() error {
	return e.err
}

// Code returns the machine readable error code.
func (e *InvalidCriteriaError) Code() string {
	return CodeInvalidCriteria
}

// NewInvalidCriteriaError wraps a validation failure returned by
// query.Criteria.Validate.
func NewInvalidCriteriaError(err error) *InvalidCriteriaError {
	return &InvalidCriteriaError{
		Message: "invalid query criteria",
		Fields:  query.FieldErrors(err),
		err:     err,
	}
}

// MapError converts an error returned by a listing call into the error
// descriptor of a failure envelope.
func MapError(err error) APIError {
	var invalid *InvalidCriteriaError
	if errors.As(err, &invalid) {
		apiErr := APIError{Message: invalid.Message, Code: invalid.Code()}
		// A single offending field is reported directly.
		if len(invalid.Fields) == 1 {
			for field := range invalid.Fields {
				apiErr.Field = field
			}
		}
		return apiErr
	}

	if IsCancelled(err) {
		return APIError{Message: err.Error(), Code: CodeCancelled}
	}

	return APIError{Message: "Internal server error", Code: CodeInternalServerError}
}
