// Package models defines core data structures for analyses, queries, and search results.
package models

import (
	"time"

	"github.com/hyperjump/asil/internal/analysis"
)

// Analysis is one analysed submission as stored in the archive.
type Analysis struct {
	ID          string                `json:"id" db:"id"`
	FileName    string                `json:"file_name" db:"file_name"`
	ContentHash string                `json:"content_hash" db:"content_hash"`
	SizeBytes   int64                 `json:"size_bytes" db:"size_bytes"`
	MimeType    string                `json:"mime_type" db:"mime_type"`
	Source      string                `json:"source" db:"source"`
	Preview     string                `json:"preview,omitempty" db:"preview"`
	Raw         string                `json:"raw,omitempty" db:"raw"`
	Structured  bool                  `json:"structured" db:"structured"`
	Model       analysis.DisplayModel `json:"model" db:"model"`
	CreatedAt   time.Time             `json:"created_at" db:"created_at"`
}

// Submission sources.
const (
	SourceAPI    = "api"
	SourceCLI    = "cli"
	SourceWatch  = "watch"
	SourceManual = "manual"
)

// Summary is the listing view of an analysis.
type Summary struct {
	ID         string    `json:"id"`
	FileName   string    `json:"file_name"`
	SizeBytes  int64     `json:"size_bytes"`
	TopEntity  string    `json:"top_entity,omitempty"`
	TopScore   float64   `json:"top_score"`
	Labels     []string  `json:"labels"`
	MatchCount int       `json:"match_count"`
	CreatedAt  time.Time `json:"created_at"`
}

// Summarize returns the listing view of a.
func (a *Analysis) Summarize() Summary {
	matches := len(a.Model.FullMatchingImages) + len(a.Model.VisuallySimilarImages) + len(a.Model.MatchingPages)
	s := Summary{
		ID:         a.ID,
		FileName:   a.FileName,
		SizeBytes:  a.SizeBytes,
		Labels:     a.Model.BestGuessLabels,
		MatchCount: matches,
		CreatedAt:  a.CreatedAt,
	}
	if s.Labels == nil {
		s.Labels = []string{}
	}
	if top, ok := a.Model.TopEntity(); ok {
		s.TopEntity = top.Name
		s.TopScore = top.Score
	}
	return s
}
