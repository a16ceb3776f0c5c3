package models

import (
	"errors"
	"testing"
	"time"

	"github.com/hyperjump/asil/internal/analysis"
)

func TestSearchQuery_Validate(t *testing.T) {
	tests := []struct {
		name      string
		query     *SearchQuery
		wantErr   error
		wantQuery string
		wantLimit int
	}{
		{"empty query", &SearchQuery{Query: ""}, ErrEmptyQuery, "", 0},
		{"blank query", &SearchQuery{Query: "  \t "}, ErrEmptyQuery, "", 0},
		{"valid query", &SearchQuery{Query: "painting", Limit: 5}, nil, "painting", 5},
		{"trims query", &SearchQuery{Query: " solar oven\n", Limit: 3}, nil, "solar oven", 3},
		{"sets default limit", &SearchQuery{Query: "x", Limit: 0}, nil, "x", DefaultSearchLimit},
		{"caps limit", &SearchQuery{Query: "x", Limit: 200}, nil, "x", MaxSearchLimit},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.query.Validate()
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Validate() error = %v, want %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if tt.query.Query != tt.wantQuery {
				t.Errorf("query: got %q, want %q", tt.query.Query, tt.wantQuery)
			}
			if tt.query.Limit != tt.wantLimit {
				t.Errorf("limit: got %d, want %d", tt.query.Limit, tt.wantLimit)
			}
		})
	}
}

func TestAnalysis_Summarize(t *testing.T) {
	now := time.Now()
	a := &Analysis{
		ID:        "a1",
		FileName:  "thesis.pdf",
		SizeBytes: 42,
		CreatedAt: now,
		Model: analysis.BuildText("🔹 Web Entities\n- Low (score: 0.2)\n- High (score: 0.9)\n" +
			"🔹 Full Matching Images\n- https://a.example/1.png\n" +
			"🔹 Pages With Matching Images\n- https://a.example/page\n" +
			"🔹 Best Guess Labels\n- poster"),
	}
	s := a.Summarize()
	if s.TopEntity != "High" || s.TopScore != 0.9 {
		t.Errorf("top entity: %+v", s)
	}
	if s.MatchCount != 2 {
		t.Errorf("match count: got %d", s.MatchCount)
	}
	if len(s.Labels) != 1 || s.Labels[0] != "poster" {
		t.Errorf("labels: %v", s.Labels)
	}

	empty := (&Analysis{ID: "e"}).Summarize()
	if empty.Labels == nil || empty.TopEntity != "" {
		t.Errorf("empty summary: %+v", empty)
	}
}
