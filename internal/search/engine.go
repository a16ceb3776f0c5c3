// Package search runs keyword search and similarity lookups over the analysis archive.
package search

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/asil/internal/keyword"
	"github.com/hyperjump/asil/internal/models"
	"github.com/hyperjump/asil/internal/storage"
)

// Default boosts applied to archive searches.
const (
	DefaultFileNameBoost = 3.0
	DefaultEntityBoost   = 2.0
)

// Engine resolves keyword hits against the archive.
type Engine struct {
	storage      storage.Storage
	keywordIndex keyword.KeywordIndex
	logger       *zap.Logger
}

// NewEngine creates a search engine with the given dependencies.
func NewEngine(storage storage.Storage, keywordIndex keyword.KeywordIndex, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		storage:      storage,
		keywordIndex: keywordIndex,
		logger:       logger,
	}
}

// Search runs a keyword search. When the exact search finds nothing and fuzzy
// matching was not requested, the search is retried with fuzzy matching.
func (e *Engine) Search(ctx context.Context, query *models.SearchQuery) (*models.SearchResponse, error) {
	startTime := time.Now()
	if err := query.Validate(); err != nil {
		return nil, err
	}

	opts := &keyword.SearchOptions{
		FileNameBoost: DefaultFileNameBoost,
		EntityBoost:   DefaultEntityBoost,
		FuzzyEnabled:  query.FuzzyEnabled,
	}
	hits, err := e.keywordIndex.Search(ctx, query.Query, query.Limit, opts)
	if err != nil {
		return nil, fmt.Errorf("keyword search failed: %w", err)
	}

	autoFuzzy := false
	if len(hits) == 0 && !query.FuzzyEnabled {
		opts.FuzzyEnabled = true
		hits, err = e.keywordIndex.Search(ctx, query.Query, query.Limit, opts)
		if err != nil {
			return nil, fmt.Errorf("fuzzy keyword search failed: %w", err)
		}
		autoFuzzy = len(hits) > 0
	}

	scores := NormalizeScores(hits)
	response := &models.SearchResponse{
		Results:   make([]*models.SearchResult, 0, len(hits)),
		Query:     query.Query,
		AutoFuzzy: autoFuzzy,
	}
	for _, hit := range hits {
		a, err := e.storage.GetAnalysis(ctx, hit.ID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				e.logger.Warn("index references missing analysis", zap.String("id", hit.ID))
				continue
			}
			return nil, err
		}
		response.Results = append(response.Results, &models.SearchResult{
			Analysis: a.Summarize(),
			Score:    scores[hit.ID],
			Rank:     len(response.Results) + 1,
		})
	}
	response.Total = len(response.Results)
	response.QueryTime = time.Since(startTime).Milliseconds()
	return response, nil
}

// NormalizeScores normalizes keyword scores to [0,1] by max.
func NormalizeScores(results []*keyword.KeywordResult) map[string]float64 {
	normalized := make(map[string]float64, len(results))
	if len(results) == 0 {
		return normalized
	}
	maxScore := results[0].Score
	for _, r := range results {
		if r.Score > maxScore {
			maxScore = r.Score
		}
	}
	for _, r := range results {
		if maxScore > 0 {
			normalized[r.ID] = r.Score / maxScore
		} else {
			normalized[r.ID] = 0
		}
	}
	return normalized
}
