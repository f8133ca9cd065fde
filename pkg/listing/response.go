// Package listing serves pages of user records through a simulated backend:
// random latency, transient failures, a short-lived response cache and
// cooperative cancellation of superseded requests.
package listing

import (
	"time"

	"github.com/pavelpascari/listsim/pkg/query"
	"github.com/pavelpascari/listsim/pkg/records"
)

// Envelope messages.
const (
	MessageSuccess         = "Data retrieved successfully"
	MessageFailure         = "Error trying to retrieve data"
	MessageDatabaseTimeout = "Database connection timeout."
)

// Response is the envelope returned for every listing call. A successful
// response carries data and pagination and no error; a failed one carries
// only the error. Use NewSuccess and NewFailure to build one. Timestamps are
// kept in UTC.
type Response[T any] struct {
	Message    string          `json:"message"`
	Timestamp  time.Time       `json:"timestamp"`
	Success    bool            `json:"success"`
	Data       T               `json:"data"`
	Pagination *query.PageMeta `json:"pagination"`
	Error      *APIError       `json:"error"`
}

// APIError describes why a request failed.
type APIError struct {
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// PageResponse is the response of a user listing call.
type PageResponse = Response[[]records.User]

// NewSuccess builds a successful response.
func NewSuccess[T any](data T, meta query.PageMeta, timestamp time.Time) *Response[T] {
	return &Response[T]{
		Message:    MessageSuccess,
		Timestamp:  timestamp.UTC(),
		Success:    true,
		Data:       data,
		Pagination: &meta,
	}
}

// NewFailure builds a failed response. Data holds the zero value of T, which
// encodes as null for slice, map and pointer types.
func NewFailure[T any](apiErr APIError, timestamp time.Time) *Response[T] {
	return &Response[T]{
		Message:   MessageFailure,
		Timestamp: timestamp.UTC(),
		Success:   false,
		Error:     &apiErr,
	}
}
