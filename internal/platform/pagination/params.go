// Package pagination parses page/limit query parameters for offset paged listings.
package pagination

import (
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const (
	// DefaultLimit is used when the client omits limit or sends a value below one.
	DefaultLimit = 20
	// DefaultMaxLimit caps limit to prevent unbounded queries.
	DefaultMaxLimit = 100
	// MaxOffset is the largest skip a store is asked for. Firestore offsets are int32.
	MaxOffset = math.MaxInt32
)

// Options control defaults for a handler.
type Options struct {
	DefaultLimit int
	MaxLimit     int
}

// Params is a normalised one-based page request.
type Params struct {
	Page  int
	Limit int
}

// FromRequest parses page and limit from the request query string.
func FromRequest(r *http.Request, opts Options) Params {
	if r == nil || r.URL == nil {
		return Normalize(0, 0, opts)
	}
	return Parse(r.URL.Query(), opts)
}

// Parse reads page and limit. Values that are missing, malformed or below one fall back to
// page 1 and the default limit.
func Parse(values url.Values, opts Options) Params {
	return Normalize(atoi(values.Get("page")), atoi(values.Get("limit")), opts)
}

// Normalize applies defaults and the limit cap.
func Normalize(page, limit int, opts Options) Params {
	def := opts.DefaultLimit
	if def <= 0 {
		def = DefaultLimit
	}
	max := opts.MaxLimit
	if max <= 0 {
		max = DefaultMaxLimit
	}
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = def
	}
	if limit > max {
		limit = max
	}
	return Params{Page: page, Limit: limit}
}

// InRange reports whether Skip fits under MaxOffset. Pages past it cannot hold any items.
func (p Params) InRange() bool {
	if p.Page < 1 || p.Limit < 1 {
		return false
	}
	return p.Page-1 <= MaxOffset/p.Limit
}

// Skip is the number of items before this page, capped at MaxOffset.
func (p Params) Skip() int {
	if !p.InRange() {
		return MaxOffset
	}
	return (p.Page - 1) * p.Limit
}

// TotalPages returns ceil(total/limit).
func (p Params) TotalPages(total int) int {
	if total <= 0 || p.Limit <= 0 {
		return 0
	}
	return (total + p.Limit - 1) / p.Limit
}

func atoi(raw string) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0
	}
	return n
}
