// Package cli provides output writers for the asil command line.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/hyperjump/asil/internal/analysis"
	"github.com/hyperjump/asil/internal/faq"
	"github.com/hyperjump/asil/internal/links"
	"github.com/hyperjump/asil/internal/models"
	"github.com/hyperjump/asil/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseFormat maps a -output flag value to an OutputFormat.
func ParseFormat(s string) (OutputFormat, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "text":
		return OutputText, nil
	case "json":
		return OutputJSON, nil
	default:
		return "", fmt.Errorf("invalid output format %q (use text or json)", s)
	}
}

const rule = "─────────────────────────────────────────────────────────"

// previewLength is the number of characters of extracted text shown in listings.
const previewLength = 200

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteModel writes a display model to w in the given format.
func WriteModel(w io.Writer, m analysis.DisplayModel, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, m)
	}
	writeModelText(w, m)
	return nil
}

func writeModelText(w io.Writer, m analysis.DisplayModel) {
	if m.IsEmpty() {
		fmt.Fprintln(w, "No results.")
		return
	}
	if len(m.Entities) > 0 {
		fmt.Fprintln(w, "Web entities:")
		for _, e := range m.Entities {
			fmt.Fprintf(w, "  %-40s %5.1f%%  [%s]\n", e.Name, e.Score*100, analysis.ScoreTier(e.Score))
		}
	}
	writeLinks(w, "Full matching images", m.FullMatchingImages)
	writeLinks(w, "Visually similar images", m.VisuallySimilarImages)
	writeLinks(w, "Pages with matching images", m.MatchingPages)
	if len(m.BestGuessLabels) > 0 {
		fmt.Fprintf(w, "Best guess labels: %s\n", strings.Join(m.BestGuessLabels, ", "))
	}
}

func writeLinks(w io.Writer, title string, urls []string) {
	if len(urls) == 0 {
		return
	}
	fmt.Fprintf(w, "%s (%d):\n", title, len(urls))
	for _, u := range urls {
		if strings.HasPrefix(u, "data:") {
			fmt.Fprintf(w, "  [embedded image] %s\n", utils.Truncate(u, 40))
			continue
		}
		fmt.Fprintf(w, "  %-28s %s\n", links.DomainLabel(u), u)
	}
}

// WriteAnalysis writes one archived analysis to w in the given format.
func WriteAnalysis(w io.Writer, a *models.Analysis, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, a)
	}
	writeAnalysisHeader(w, a)
	fmt.Fprintln(w)
	writeModelText(w, a.Model)
	return nil
}

func writeAnalysisHeader(w io.Writer, a *models.Analysis) {
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "ID:       %s\n", a.ID)
	fmt.Fprintf(w, "File:     %s (%s, %s)\n", a.FileName, humanize.Bytes(uint64(a.SizeBytes)), a.MimeType)
	fmt.Fprintf(w, "Source:   %s\n", a.Source)
	fmt.Fprintf(w, "Analysed: %s (%s)\n", a.CreatedAt.Format("2006-01-02 15:04:05"), humanize.Time(a.CreatedAt))
	if a.Preview != "" {
		fmt.Fprintf(w, "Preview:  %s\n", utils.Truncate(a.Preview, previewLength))
	}
}

// WriteOutcome writes the result of a submission to w in the given format.
func WriteOutcome(w io.Writer, o *models.Outcome, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, o)
	}
	if o.Duplicate {
		fmt.Fprintln(w, "Identical file already analysed; showing archived result.")
	}
	if err := WriteAnalysis(w, o.Analysis, OutputText); err != nil {
		return err
	}
	if len(o.Similar) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Similar archived projects:")
		writeMatchesText(w, o.Similar)
	}
	return nil
}

// WriteSummaries writes an archive listing to w in the given format.
func WriteSummaries(w io.Writer, items []models.Summary, total int64, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, struct {
			Analyses []models.Summary `json:"analyses"`
			Total    int64            `json:"total"`
		}{items, total})
	}
	fmt.Fprintf(w, "%d of %d analyses\n", len(items), total)
	for _, s := range items {
		writeSummaryLine(w, s)
	}
	return nil
}

func writeSummaryLine(w io.Writer, s models.Summary) {
	top := "-"
	if s.TopEntity != "" {
		top = fmt.Sprintf("%s (%.0f%%)", s.TopEntity, s.TopScore*100)
	}
	fmt.Fprintf(w, "%s  %-30s %-10s %-30s %d matches, %s\n",
		s.ID, utils.Truncate(s.FileName, 30), humanize.Bytes(uint64(s.SizeBytes)),
		utils.Truncate(top, 30), s.MatchCount, humanize.Time(s.CreatedAt))
}

// WriteSearchResults writes search results to w in the given format.
// Use OutputJSON for parseable output consumable by other apps.
func WriteSearchResults(w io.Writer, response *models.SearchResponse, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, response)
	}
	fmt.Fprintf(w, "\nFound %d results in %dms\n", response.Total, response.QueryTime)
	if response.AutoFuzzy {
		fmt.Fprintln(w, "(no exact matches; showing fuzzy results)")
	}
	fmt.Fprintln(w)
	for _, r := range response.Results {
		fmt.Fprintln(w, rule)
		fmt.Fprintf(w, "Rank: %d | Score: %.4f\n", r.Rank, r.Score)
		writeSummaryLine(w, r.Analysis)
		if len(r.Analysis.Labels) > 0 {
			fmt.Fprintf(w, "Labels: %s\n", strings.Join(r.Analysis.Labels, ", "))
		}
		fmt.Fprintln(w)
	}
	return nil
}

// WriteMatches writes similar analyses to w in the given format.
func WriteMatches(w io.Writer, matches []models.Match, format OutputFormat) error {
	if format == OutputJSON {
		if matches == nil {
			matches = []models.Match{}
		}
		return writeJSON(w, matches)
	}
	if len(matches) == 0 {
		fmt.Fprintln(w, "No similar analyses.")
		return nil
	}
	writeMatchesText(w, matches)
	return nil
}

func writeMatchesText(w io.Writer, matches []models.Match) {
	for _, m := range matches {
		fmt.Fprintf(w, "  %.2f  %s  %s\n", m.Score, m.Analysis.ID, m.Analysis.FileName)
		if len(m.Shared) > 0 {
			fmt.Fprintf(w, "        shared: %s\n", TruncateWords(strings.Join(m.Shared, ", "), 12))
		}
	}
}

// WriteStatus writes archive status to w in the given format.
func WriteStatus(w io.Writer, st *models.Status, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, st)
	}
	fmt.Fprintf(w, "Analyses:        %d\n", st.Analyses)
	fmt.Fprintf(w, "Indexed:         %d\n", st.Indexed)
	fmt.Fprintf(w, "Disk usage:      %s\n", humanize.Bytes(uint64(st.DiskUsageBytes)))
	fmt.Fprintf(w, "Vision endpoint: %s\n", st.VisionEndpoint)
	fmt.Fprintf(w, "Upload types:    %s (max %s)\n",
		strings.Join(st.AllowedExtensions, " "), humanize.Bytes(uint64(st.MaxUploadBytes)))
	fmt.Fprintf(w, "Latest result:   %t\n", st.HasLatest)
	return nil
}

// WriteFAQ writes FAQ entries to w in the given format.
func WriteFAQ(w io.Writer, entries []faq.Entry, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, entries)
	}
	for i, e := range entries {
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintf(w, "Q: %s\nA: %s\n", e.Question, e.Answer)
	}
	return nil
}

// TruncateWords returns up to maxWords from the space-separated string.
func TruncateWords(s string, maxWords int) string {
	words := strings.Fields(s)
	if len(words) <= maxWords {
		return s
	}
	return strings.Join(words[:maxWords], " ") + "..."
}
