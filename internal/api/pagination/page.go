// Package pagination parses page/size query parameters.
package pagination

import (
	"net/http"
	"strconv"
	"strings"
)

// Params is a 1-based page of fixed size.
type Params struct {
	Page int
	Size int
}

// Offset is the number of rows skipped before this page.
func (p Params) Offset() int {
	return (p.Page - 1) * p.Size
}

// FromRequest reads "page" and "size". Missing, malformed or non-positive
// values fall back to page 1 and defaultSize; size is capped at maxSize.
func FromRequest(r *http.Request, defaultSize, maxSize int) Params {
	q := r.URL.Query()
	p := Params{
		Page: parsePositive(q.Get("page"), 1),
		Size: parsePositive(q.Get("size"), defaultSize),
	}
	if maxSize > 0 && p.Size > maxSize {
		p.Size = maxSize
	}
	return p
}

func parsePositive(raw string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n < 1 {
		return fallback
	}
	return n
}
