package report

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// DefaultMarker is the glyph the vision API puts in front of every section title.
const DefaultMarker = "🔹"

// itemPrefix introduces an item line.
const itemPrefix = "- "

type header struct {
	prefix  string
	section Section
}

// HeaderTable maps header text (marker, a space, then the title) to a section.
// Header text is compared in NFC form as a whole-string prefix, so the marker is
// never inspected rune by rune.
type HeaderTable struct {
	headers []header
}

// NewHeaderTable builds a table from a marker and a title per section. Sections
// missing from titles use their wire key as the title. An empty marker means
// headers are the bare titles.
func NewHeaderTable(marker string, titles map[Section]string) *HeaderTable {
	t := &HeaderTable{headers: make([]header, 0, len(sections))}
	for _, s := range sections {
		title, ok := titles[s]
		if !ok || title == "" {
			title = s.Key()
		}
		prefix := title
		if marker != "" {
			prefix = marker + " " + title
		}
		t.headers = append(t.headers, header{prefix: norm.NFC.String(prefix), section: s})
	}
	return t
}

// DefaultHeaders returns the table for the vision API's English report format.
func DefaultHeaders() *HeaderTable {
	return NewHeaderTable(DefaultMarker, nil)
}

// Match returns the section announced by line, if line is a header line.
// line must already be trimmed and NFC-normalized.
func (t *HeaderTable) Match(line string) (Section, bool) {
	for _, h := range t.headers {
		if strings.HasPrefix(line, h.prefix) {
			return h.section, true
		}
	}
	return 0, false
}

// Header returns the header text written for s.
func (t *HeaderTable) Header(s Section) string {
	for _, h := range t.headers {
		if h.section == s {
			return h.prefix
		}
	}
	return s.Key()
}

// Parser turns text reports into section maps using a header table.
type Parser struct {
	headers *HeaderTable
}

// NewParser returns a parser for the given table; nil uses DefaultHeaders.
func NewParser(headers *HeaderTable) *Parser {
	if headers == nil {
		headers = DefaultHeaders()
	}
	return &Parser{headers: headers}
}

var defaultParser = NewParser(nil)

// Parse parses raw with the default header table.
func Parse(raw string) SectionMap {
	return defaultParser.Parse(raw)
}

// Parse splits raw into lines and collects item lines under the most recent
// header. Blank lines and unrecognized lines are skipped. Item lines seen before
// the first header have no section to go to and are dropped. Parse never fails;
// the result always carries every section.
func (p *Parser) Parse(raw string) SectionMap {
	out := EmptySectionMap()
	var (
		current Section
		inside  bool
	)
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if s, ok := p.headers.Match(norm.NFC.String(line)); ok {
			current, inside = s, true
			continue
		}
		if !strings.HasPrefix(line, itemPrefix) || !inside {
			continue
		}
		out[current] = append(out[current], strings.TrimSpace(line[len(itemPrefix):]))
	}
	return out
}

// Format writes m back in the text report grammar using the default headers.
// Empty sections are written as a bare header.
func Format(m SectionMap) string {
	return defaultParser.Format(m)
}

// Format writes m in the text report grammar using p's header table.
func (p *Parser) Format(m SectionMap) string {
	var b strings.Builder
	for _, s := range sections {
		b.WriteString(p.headers.Header(s))
		b.WriteByte('\n')
		for _, item := range m.Get(s) {
			b.WriteString(itemPrefix)
			b.WriteString(item)
			b.WriteByte('\n')
		}
	}
	return b.String()
}
