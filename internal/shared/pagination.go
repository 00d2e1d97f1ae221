package shared

import (
	"net/url"
	"strconv"
)

// ListFilters carries common list query parameters.
type ListFilters struct {
	Page    int
	Limit   int
	Search  string
	SortBy  string
	SortDir string
}

// FiltersFromQuery parses list filters with sane defaults.
func FiltersFromQuery(q url.Values) ListFilters {
	page, _ := strconv.Atoi(q.Get("page"))
	if page < 1 {
		page = 1
	}
	limit, _ := strconv.Atoi(q.Get("limit"))
	if limit < 1 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	return ListFilters{
		Page:    page,
		Limit:   limit,
		Search:  q.Get("search"),
		SortBy:  q.Get("sort"),
		SortDir: q.Get("dir"),
	}
}

// Offset computes the SQL offset for the filters.
func (f ListFilters) Offset() int {
	offset := (f.Page - 1) * f.Limit
	if offset < 0 {
		return 0
	}
	return offset
}
