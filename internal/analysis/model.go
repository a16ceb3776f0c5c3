// Package analysis derives the display model from a parsed vision report:
// ranked entity scores, allow-listed URL lists and best-guess labels.
package analysis

import (
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/hyperjump/asil/internal/report"
)

// EntityScore is a web entity with its similarity score in [0, 1].
type EntityScore struct {
	Name  string  `json:"name"`
	Score float64 `json:"score"`
}

// DisplayModel is the normalized result handed to presentation and export.
type DisplayModel struct {
	Entities              []EntityScore `json:"entities"`
	FullMatchingImages    []string      `json:"fullMatchingImages"`
	VisuallySimilarImages []string      `json:"visuallySimilarImages"`
	MatchingPages         []string      `json:"matchingPages"`
	BestGuessLabels       []string      `json:"bestGuessLabels"`
}

// EmptyModel returns a model with every list present and empty.
func EmptyModel() DisplayModel {
	return DisplayModel{
		Entities:              []EntityScore{},
		FullMatchingImages:    []string{},
		VisuallySimilarImages: []string{},
		MatchingPages:         []string{},
		BestGuessLabels:       []string{},
	}
}

// IsEmpty reports whether the model carries no items at all.
func (m DisplayModel) IsEmpty() bool {
	return len(m.Entities) == 0 && len(m.FullMatchingImages) == 0 &&
		len(m.VisuallySimilarImages) == 0 && len(m.MatchingPages) == 0 &&
		len(m.BestGuessLabels) == 0
}

// TopEntity returns the highest-scoring entity, if any.
func (m DisplayModel) TopEntity() (EntityScore, bool) {
	if len(m.Entities) == 0 {
		return EntityScore{}, false
	}
	return m.Entities[0], true
}

var entityPattern = regexp.MustCompile(`^(.+?)\s*\(\s*score:\s*([\d.]+)\s*\)$`)

// ParseEntity reads "<name> (score: <float>)". Anything else becomes an entity
// named by the raw string with score 0.
func ParseEntity(raw string) EntityScore {
	match := entityPattern.FindStringSubmatch(raw)
	if match == nil {
		return EntityScore{Name: raw}
	}
	score, err := strconv.ParseFloat(match[2], 64)
	if err != nil {
		return EntityScore{Name: raw}
	}
	return EntityScore{Name: strings.TrimSpace(match[1]), Score: clamp(score)}
}

func clamp(score float64) float64 {
	switch {
	case math.IsNaN(score), score < 0:
		return 0
	case score > 1:
		return 1
	default:
		return score
	}
}

var safePrefixes = []string{"http://", "https://", "data:"}

// IsSafeURL reports whether url may reach the rendering layer. Only http, https
// and data URLs pass; reachability is not checked.
func IsSafeURL(url string) bool {
	if url == "" {
		return false
	}
	for _, p := range safePrefixes {
		if strings.HasPrefix(url, p) {
			return true
		}
	}
	return false
}

// FilterSafe returns the safe URLs of urls in their original order.
func FilterSafe(urls []string) []string {
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		if IsSafeURL(u) {
			out = append(out, u)
		}
	}
	return out
}

// Build derives the display model from a section map. Entities are ordered by
// score, highest first, keeping input order among equal scores.
func Build(m report.SectionMap) DisplayModel {
	raw := m.Get(report.WebEntities)
	entities := make([]EntityScore, 0, len(raw))
	for _, item := range raw {
		entities = append(entities, ParseEntity(item))
	}
	sort.SliceStable(entities, func(i, j int) bool {
		return entities[i].Score > entities[j].Score
	})

	return DisplayModel{
		Entities:              entities,
		FullMatchingImages:    FilterSafe(m.Get(report.FullMatchingImages)),
		VisuallySimilarImages: FilterSafe(m.Get(report.VisuallySimilarImages)),
		MatchingPages:         FilterSafe(m.Get(report.MatchingPages)),
		BestGuessLabels:       append([]string{}, m.Get(report.BestGuessLabels)...),
	}
}

// BuildText parses raw as a text report and builds its display model.
func BuildText(raw string) DisplayModel {
	return Build(report.Parse(raw))
}
