// Package report parses the delimited text report returned by the vision API into
// named sections of raw item strings.
package report

// Section identifies one of the fixed categories of a vision report.
type Section int

const (
	WebEntities Section = iota
	FullMatchingImages
	VisuallySimilarImages
	MatchingPages
	BestGuessLabels
)

var sections = []Section{
	WebEntities,
	FullMatchingImages,
	VisuallySimilarImages,
	MatchingPages,
	BestGuessLabels,
}

// Sections returns all sections in report order.
func Sections() []Section {
	return append([]Section(nil), sections...)
}

// Key returns the wire key used for the section in structured JSON reports.
// It is also the English title that follows the marker in text headers.
func (s Section) Key() string {
	switch s {
	case WebEntities:
		return "Web Entities"
	case FullMatchingImages:
		return "Full Matching Images"
	case VisuallySimilarImages:
		return "Visually Similar Images"
	case MatchingPages:
		return "Pages With Matching Images"
	case BestGuessLabels:
		return "Best Guess Labels"
	default:
		return ""
	}
}

// String implements fmt.Stringer.
func (s Section) String() string {
	if k := s.Key(); k != "" {
		return k
	}
	return "Unknown"
}

// SectionFromKey returns the section for a wire key.
func SectionFromKey(key string) (Section, bool) {
	for _, s := range sections {
		if s.Key() == key {
			return s, true
		}
	}
	return 0, false
}

// SectionMap maps each section to its ordered raw items. Maps built by this
// package always carry all five sections with non-nil slices.
type SectionMap map[Section][]string

// EmptySectionMap returns a map with every section present and empty.
func EmptySectionMap() SectionMap {
	m := make(SectionMap, len(sections))
	for _, s := range sections {
		m[s] = []string{}
	}
	return m
}

// Get returns the items of s, or an empty slice when absent.
func (m SectionMap) Get(s Section) []string {
	if items, ok := m[s]; ok && items != nil {
		return items
	}
	return []string{}
}

// Complete returns a copy of m with missing sections filled in as empty.
func (m SectionMap) Complete() SectionMap {
	out := EmptySectionMap()
	for _, s := range sections {
		if items := m[s]; len(items) > 0 {
			out[s] = append([]string(nil), items...)
		}
	}
	return out
}

// Len returns the total number of items across all sections.
func (m SectionMap) Len() int {
	n := 0
	for _, items := range m {
		n += len(items)
	}
	return n
}
