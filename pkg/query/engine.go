package query

import (
	"slices"
	"strings"

	"github.com/pavelpascari/listsim/pkg/records"
	"golang.org/x/text/cases"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// PageMeta describes where a page sits in the filtered collection.
type PageMeta struct {
	CurrentPage   int  `json:"currentPage"`
	PageSize      int  `json:"pageSize"`
	TotalElements int  `json:"totalElements"`
	TotalPages    int  `json:"totalPages"`
	HasPrevious   bool `json:"hasPrevious"`
	HasNext       bool `json:"hasNext"`
}

// SortUsers returns a new slice ordered by the given field and direction using
// locale-aware comparison. The sort is stable and the input is never
// reordered. A nil sort keeps the input order.
func SortUsers(users []records.User, by *Sort) []records.User {
	out := slices.Clone(users)
	if by == nil || by.Field == "" {
		return out
	}

	// Collators keep internal buffers, so each call gets its own.
	col := collate.New(language.English)
	desc := by.Order == OrderDesc

	slices.SortStableFunc(out, func(a, b records.User) int {
		av, _ := a.Field(by.Field)
		bv, _ := b.Field(by.Field)
		c := col.CompareString(av, bv)
		if desc {
			return -c
		}
		return c
	})

	return out
}

// FilterUsers returns the users matching every set predicate in f.
func FilterUsers(users []records.User, f *Filters) []records.User {
	out := make([]records.User, 0, len(users))
	if f == nil {
		return append(out, users...)
	}

	fold := cases.Fold()
	term := fold.String(f.Name)

	for _, u := range users {
		if term != "" && !strings.Contains(fold.String(u.Name), term) {
			continue
		}
		if len(f.Country) > 0 && !slices.Contains(f.Country, u.CountryCode) {
			continue
		}
		if len(f.Sex) > 0 && !slices.Contains(f.Sex, u.Sex) {
			continue
		}
		out = append(out, u)
	}

	return out
}

// Paginate slices the 1-based page p out of users. Pages past the end are
// empty; the returned slice is never nil.
func Paginate(users []records.User, p Pagination) ([]records.User, PageMeta) {
	if p.PageSize <= 0 {
		return []records.User{}, PageMeta{CurrentPage: p.CurrentPage, PageSize: p.PageSize}
	}

	total := len(users)
	totalPages := total / p.PageSize
	if total%p.PageSize != 0 {
		totalPages++
	}

	start, end := total, total
	if p.CurrentPage >= 1 && p.CurrentPage <= totalPages {
		start = (p.CurrentPage - 1) * p.PageSize
		end = start + min(p.PageSize, total-start)
	}

	page := make([]records.User, 0, end-start)
	page = append(page, users[start:end]...)

	return page, PageMeta{
		CurrentPage:   p.CurrentPage,
		PageSize:      p.PageSize,
		TotalElements: total,
		TotalPages:    totalPages,
		HasPrevious:   p.CurrentPage > 1,
		HasNext:       p.CurrentPage < totalPages,
	}
}

// Apply runs the full pipeline: sort, filter, paginate.
func Apply(users []records.User, c Criteria) ([]records.User, PageMeta) {
	return Paginate(FilterUsers(SortUsers(users, c.Sort), c.Filters), c.Pagination)
}
