// Package keyword provides keyword (BM25) indexing and search over the analysis archive.
package keyword

import (
	"context"

	"github.com/hyperjump/asil/internal/models"
)

// SearchOptions optional parameters for keyword search. Nil means use defaults.
type SearchOptions struct {
	// FileNameBoost multiplies the score contribution from matches in the file name.
	// Values > 1 make file name matches rank higher. Use 1.0 for no boost.
	FileNameBoost float64
	// EntityBoost multiplies the score contribution from matches in web entity names.
	EntityBoost float64
	// FuzzyEnabled enables fuzzy matching for typo tolerance.
	FuzzyEnabled bool
	// Fuzziness is the maximum Levenshtein edit distance for fuzzy matching (1 or 2).
	// Default is 2 when FuzzyEnabled is true.
	Fuzziness int
}

// KeywordIndex defines keyword search operations.
type KeywordIndex interface {
	Index(ctx context.Context, a *models.Analysis) error
	Search(ctx context.Context, query string, limit int, opts *SearchOptions) ([]*KeywordResult, error)
	// Similar returns analyses sharing entities, labels or matched hosts with a, excluding a itself.
	Similar(ctx context.Context, a *models.Analysis, limit int) ([]*KeywordResult, error)
	Delete(ctx context.Context, id string) error
	// IDs lists the ID of every indexed analysis.
	IDs(ctx context.Context) ([]string, error)
	Close() error
	// DocCount returns the total number of analyses in the index.
	DocCount() (uint64, error)
}

// KeywordResult is a single keyword search hit.
type KeywordResult struct {
	ID    string
	Score float64
}
