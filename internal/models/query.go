package models

import (
	"errors"
	"strings"
)

// Search result limits applied by Validate.
const (
	DefaultSearchLimit = 10
	MaxSearchLimit     = 100
)

// ErrEmptyQuery is returned for a query with no search terms.
var ErrEmptyQuery = errors.New("query cannot be empty")

// SearchQuery is a keyword search over the analysis archive.
type SearchQuery struct {
	Query        string `json:"query"`
	Limit        int    `json:"limit,omitempty"`
	FuzzyEnabled bool   `json:"fuzzy_enabled,omitempty"` // typo tolerance
}

// Validate trims the query text and clamps Limit to [1, MaxSearchLimit],
// using DefaultSearchLimit when unset.
func (q *SearchQuery) Validate() error {
	q.Query = strings.TrimSpace(q.Query)
	if q.Query == "" {
		return ErrEmptyQuery
	}
	switch {
	case q.Limit <= 0:
		q.Limit = DefaultSearchLimit
	case q.Limit > MaxSearchLimit:
		q.Limit = MaxSearchLimit
	}
	return nil
}
