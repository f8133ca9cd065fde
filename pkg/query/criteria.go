// Package query models listing criteria and evaluates them against a record
// collection: sorting, filtering and page slicing.
package query

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"golang.org/x/text/cases"
)

// Sort orders.
const (
	OrderAsc  = "asc"
	OrderDesc = "desc"
)

var (
	// Shared validator instance, configured to report JSON field names.
	criteriaValidator     *validator.Validate
	criteriaValidatorOnce sync.Once
)

func getValidator() *validator.Validate {
	criteriaValidatorOnce.Do(func() {
		v := validator.New()
		v.RegisterTagNameFunc(func(field reflect.StructField) string {
			name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
		criteriaValidator = v
	})
	return criteriaValidator
}

// Criteria describes one listing request.
type Criteria struct {
	Filters    *Filters   `json:"filters,omitempty"`
	Sort       *Sort      `json:"sort,omitempty"`
	Pagination Pagination `json:"pagination"`
}

// Filters are independently optional inclusion predicates, combined with AND.
type Filters struct {
	// Name is a case-insensitive substring match on the user name.
	Name string `json:"name,omitempty" validate:"max=100"`
	// Country matches any of the listed country codes.
	Country []string `json:"country,omitempty" validate:"omitempty,dive,required"`
	// Sex matches any of the listed values.
	Sex []string `json:"sex,omitempty" validate:"omitempty,dive,required"`
}

// Sort selects the ordering field and direction.
type Sort struct {
	Field string `json:"field" validate:"required,oneof=id name countryCode sex"`
	Order string `json:"order,omitempty" validate:"omitempty,oneof=asc desc"`
}

// MaxPageSize bounds the number of records a single page may request.
const MaxPageSize = 1000

// Pagination selects a 1-based page.
type Pagination struct {
	CurrentPage int `json:"currentPage" validate:"min=1"`
	PageSize    int `json:"pageSize" validate:"min=1,max=1000"`
}

// Validate checks the criteria. Failures are validator.ValidationErrors whose
// namespaces use JSON field names.
func (c Criteria) Validate() error {
	return getValidator().Struct(c)
}

// FieldErrors flattens validation failures into a field path to tag map,
// e.g. "pagination.pageSize" -> "min".
func FieldErrors(err error) map[string]string {
	fields := make(map[string]string)

	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return fields
	}

	for _, fe := range validationErrs {
		path := fe.Namespace()
		if i := strings.IndexByte(path, '.'); i >= 0 {
			path = path[i+1:]
		}
		fields[path] = fe.Tag()
	}

	return fields
}

// Normalize returns the canonical form of the criteria: set filters sorted
// and de-duplicated, the name term case-folded, empty filters dropped and an
// empty sort order made explicit.
func (c Criteria) Normalize() Criteria {
	out := Criteria{Pagination: c.Pagination}

	if c.Filters != nil {
		f := Filters{
			Name:    cases.Fold().String(c.Filters.Name),
			Country: normalizeSet(c.Filters.Country),
			Sex:     normalizeSet(c.Filters.Sex),
		}
		if f.Name != "" || len(f.Country) > 0 || len(f.Sex) > 0 {
			out.Filters = &f
		}
	}

	if c.Sort != nil {
		s := *c.Sort
		if s.Order == "" {
			s.Order = OrderAsc
		}
		out.Sort = &s
	}

	return out
}

// CacheKey returns a canonical serialization of the criteria. Two values with
// the same meaning produce the same key.
func (c Criteria) CacheKey() (string, error) {
	data, err := json.Marshal(c.Normalize())
	if err != nil {
		return "", fmt.Errorf("failed to encode criteria: %w", err)
	}
	return string(data), nil
}

func normalizeSet(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := slices.Clone(values)
	slices.Sort(out)
	return slices.Compact(out)
}
