package search

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/asil/internal/links"
	"github.com/hyperjump/asil/internal/models"
	"github.com/hyperjump/asil/internal/storage"
)

// Similar returns earlier analyses that share entities, labels or matched hosts with a.
func (e *Engine) Similar(ctx context.Context, a *models.Analysis, limit int) ([]models.Match, error) {
	hits, err := e.keywordIndex.Similar(ctx, a, limit)
	if err != nil {
		return nil, fmt.Errorf("similarity search failed: %w", err)
	}

	scores := NormalizeScores(hits)
	matches := make([]models.Match, 0, len(hits))
	for _, hit := range hits {
		other, err := e.storage.GetAnalysis(ctx, hit.ID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				e.logger.Warn("index references missing analysis", zap.String("id", hit.ID))
				continue
			}
			return nil, err
		}
		matches = append(matches, models.Match{
			Analysis: other.Summarize(),
			Score:    scores[hit.ID],
			Shared:   SharedTerms(a, other),
		})
	}
	return matches, nil
}

// SharedTerms lists the entity names, labels and hosts found in both analyses,
// in the order they appear in a. Comparison ignores case.
func SharedTerms(a, b *models.Analysis) []string {
	theirs := make(map[string]struct{})
	for _, t := range terms(b) {
		theirs[strings.ToLower(t)] = struct{}{}
	}
	shared := []string{}
	seen := make(map[string]struct{})
	for _, t := range terms(a) {
		key := strings.ToLower(t)
		if _, ok := theirs[key]; !ok {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		shared = append(shared, t)
	}
	return shared
}

func terms(a *models.Analysis) []string {
	out := make([]string, 0, len(a.Model.Entities)+len(a.Model.BestGuessLabels))
	for _, e := range a.Model.Entities {
		out = append(out, e.Name)
	}
	out = append(out, a.Model.BestGuessLabels...)
	for _, list := range [][]string{a.Model.FullMatchingImages, a.Model.VisuallySimilarImages, a.Model.MatchingPages} {
		for _, u := range list {
			if h := links.Host(u); h != "" {
				out = append(out, h)
			}
		}
	}
	return out
}
