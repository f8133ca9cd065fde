// Package assert provides assertion functions for listing responses with
// detailed error reporting and proper Go testing conventions.
package assert

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"

	"github.com/pavelpascari/listsim/pkg/listing"
	"github.com/pavelpascari/listsim/pkg/query"
)

// Response truncation length for error messages.
const truncateLength = 300

var (
	errFieldNotFound = errors.New("field not found")
	errInvalidAccess = errors.New("cannot access field on non-object type")
)

// Envelope verifies the success/failure shape of a response: a successful
// response has data and pagination and no error, a failed one only an error.
func Envelope(t testing.TB, resp *listing.PageResponse) {
	t.Helper()

	if resp == nil {
		t.Fatalf("Expected a response, got nil")
		return
	}

	if resp.Success {
		if resp.Data == nil || resp.Pagination == nil || resp.Error != nil {
			t.Errorf("Malformed success response:\n  Data nil: %t\n  Pagination nil: %t\n  Error: %+v",
				resp.Data == nil, resp.Pagination == nil, resp.Error)
		}
		return
	}

	if resp.Data != nil || resp.Pagination != nil || resp.Error == nil {
		t.Errorf("Malformed failure response:\n  Data: %v\n  Pagination: %+v\n  Error nil: %t",
			resp.Data, resp.Pagination, resp.Error == nil)
	}
}

// Success verifies the response is a well formed success.
func Success(t testing.TB, resp *listing.PageResponse) {
	t.Helper()
	Envelope(t, resp)
	if resp != nil && !resp.Success {
		t.Errorf("Expected success, got failure: %+v", resp.Error)
	}
}

// Failure verifies the response is a well formed failure with the given code.
func Failure(t testing.TB, resp *listing.PageResponse, code string) {
	t.Helper()
	Envelope(t, resp)
	if resp == nil {
		return
	}
	if resp.Success {
		t.Errorf("Expected failure with code %q, got success", code)
		return
	}
	if resp.Error != nil && resp.Error.Code != code {
		t.Errorf("Error code mismatch:\n  Expected: %q\n  Actual:   %q", code, resp.Error.Code)
	}
}

// PageIDs verifies the ids of the returned records, in order.
func PageIDs(t testing.TB, resp *listing.PageResponse, expected ...string) {
	t.Helper()
	Success(t, resp)
	if resp == nil {
		return
	}

	actual := make([]string, len(resp.Data))
	for i, u := range resp.Data {
		actual[i] = u.ID
	}
	if expected == nil {
		expected = []string{}
	}

	if !reflect.DeepEqual(expected, actual) {
		t.Errorf("Page ids mismatch:\n  Expected: %v\n  Actual:   %v", expected, actual)
	}
}

// Meta verifies the pagination metadata.
func Meta(t testing.TB, resp *listing.PageResponse, expected query.PageMeta) {
	t.Helper()
	Success(t, resp)
	if resp == nil || resp.Pagination == nil {
		return
	}

	if *resp.Pagination != expected {
		t.Errorf("Pagination mismatch:\n  Expected: %+v\n  Actual:   %+v", expected, *resp.Pagination)
	}
}

// JSONField verifies a field of the encoded response using dot notation,
// e.g. "pagination.totalPages".
func JSONField(t testing.TB, resp *listing.PageResponse, fieldPath string, expected interface{}) {
	t.Helper()

	raw, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("Failed to encode response: %v", err)
		return
	}

	var data interface{}
	if err := json.Unmarshal(raw, &data); err != nil {
		t.Fatalf("Failed to parse response as JSON: %v", err)
		return
	}

	actual, err := getJSONField(data, fieldPath)
	if err != nil {
		t.Fatalf("Failed to get field %q: %v\n  Response: %s", fieldPath, err, truncate(raw, truncateLength))
		return
	}

	if !reflect.DeepEqual(actual, expected) {
		t.Errorf("JSON field %q mismatch:\n  Expected: %v (%T)\n  Actual:   %v (%T)",
			fieldPath, expected, expected, actual, actual)
	}
}

// Cancelled verifies err reports a cancelled request.
func Cancelled(t testing.TB, err error) {
	t.Helper()
	if !listing.IsCancelled(err) {
		t.Errorf("Expected a cancelled request, got: %v", err)
	}
}

// InvalidCriteria verifies err reports invalid criteria with a failure on
// field.
func InvalidCriteria(t testing.TB, err error, field string) {
	t.Helper()

	var invalid *listing.InvalidCriteriaError
	if !errors.As(err, &invalid) {
		t.Errorf("Expected invalid criteria error, got: %v", err)
		return
	}

	if _, ok := invalid.Fields[field]; !ok {
		t.Errorf("Expected validation error for field %q, available fields: %v",
			field, getMapKeys(invalid.Fields))
	}
}

// getJSONField extracts a field from JSON data using dot notation.
func getJSONField(data interface{}, path string) (interface{}, error) {
	current := data

	for _, part := range strings.Split(path, ".") {
		switch value := current.(type) {
		case map[string]interface{}:
			val, ok := value[part]
			if !ok {
				return nil, fmt.Errorf("field %q: %w", part, errFieldNotFound)
			}
			current = val
		default:
			return nil, fmt.Errorf("field %q on type %T: %w", part, value, errInvalidAccess)
		}
	}

	return current, nil
}

func truncate(body []byte, maxLen int) string {
	if len(body) <= maxLen {
		return string(body)
	}

	return string(body[:maxLen]) + "... (truncated)"
}

func getMapKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}

	return keys
}
