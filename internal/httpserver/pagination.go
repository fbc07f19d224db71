package httpserver

import (
	"net/http"
	"strconv"

	"github.com/demeter-run/fabric/internal/apperr"
)

const (
	// DefaultPageSize is the default number of items per page (spec.md §4.4).
	DefaultPageSize = 12
	// MaxPageSize is the exclusive ceiling on page_size (spec.md's
	// PAGE_SIZE_MAX = 120, enforced per testable property #8: a
	// page_size at or above this value is rejected rather than clamped).
	MaxPageSize = 120
)

// OffsetParams holds the parsed query parameters for offset-based pagination.
type OffsetParams struct {
	Page     int
	PageSize int
	Offset   int // computed from Page and PageSize
}

// ParseOffsetParams extracts offset pagination parameters from the request.
// A page_size >= MaxPageSize is rejected as CommandMalformed (spec.md §8,
// property 8), not silently clamped.
func ParseOffsetParams(r *http.Request) (OffsetParams, error) {
	p := OffsetParams{Page: 1, PageSize: DefaultPageSize}

	if v := r.URL.Query().Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return p, apperr.CommandMalformed("page must be a positive integer")
		}
		p.Page = n
	}

	if v := r.URL.Query().Get("page_size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return p, apperr.CommandMalformed("page_size must be a positive integer")
		}
		if n >= MaxPageSize {
			return p, apperr.CommandMalformed("page_size must be less than 120")
		}
		p.PageSize = n
	}

	p.Offset = (p.Page - 1) * p.PageSize
	return p, nil
}

// OffsetPage is the response envelope for offset-paginated results.
type OffsetPage[T any] struct {
	Items      []T `json:"items"`
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalItems int `json:"total_items"`
	TotalPages int `json:"total_pages"`
}

// NewOffsetPage builds an OffsetPage from a result set and total count.
func NewOffsetPage[T any](items []T, params OffsetParams, totalItems int) OffsetPage[T] {
	totalPages := 0
	if params.PageSize > 0 {
		totalPages = (totalItems + params.PageSize - 1) / params.PageSize
	}

	return OffsetPage[T]{
		Items:      items,
		Page:       params.Page,
		PageSize:   params.PageSize,
		TotalItems: totalItems,
		TotalPages: totalPages,
	}
}
