package report

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/unicode/norm"
)

const sampleReport = `🔹 Web Entities
- Painting (score: 0.82)
- Sketch (score: 0.40)
🔹 Full Matching Images
- https://img.example/a.png
- javascript:evil()
🔹 Best Guess Labels
- artwork
`

func assertComplete(t *testing.T, m SectionMap) {
	t.Helper()
	require.Len(t, m, 5)
	for _, s := range Sections() {
		items, ok := m[s]
		assert.True(t, ok, "missing section %s", s)
		assert.NotNil(t, items, "nil items for %s", s)
	}
}

func TestParse_Sample(t *testing.T) {
	m := Parse(sampleReport)
	assertComplete(t, m)
	assert.Equal(t, []string{"Painting (score: 0.82)", "Sketch (score: 0.40)"}, m[WebEntities])
	assert.Equal(t, []string{"https://img.example/a.png", "javascript:evil()"}, m[FullMatchingImages])
	assert.Equal(t, []string{"artwork"}, m[BestGuessLabels])
	assert.Empty(t, m[VisuallySimilarImages])
	assert.Empty(t, m[MatchingPages])
}

func TestParse_AlwaysComplete(t *testing.T) {
	inputs := []string{
		"",
		"\n\n\n",
		"garbage line\nanother",
		"- orphan item",
		"🔹 Unknown Section\n- x",
		sampleReport,
		"\x00\xff\xfe",
	}
	for _, in := range inputs {
		assertComplete(t, Parse(in))
	}
}

func TestParse_ItemsBeforeHeaderDropped(t *testing.T) {
	m := Parse("- early\n- also early\n🔹 Best Guess Labels\n- late")
	assert.Equal(t, []string{"late"}, m[BestGuessLabels])
	assert.Equal(t, 1, m.Len())
}

func TestParse_BlankLinesDoNotCloseSection(t *testing.T) {
	m := Parse("🔹 Pages With Matching Images\n\n   \n- https://a.example/page\n\n- https://b.example/page")
	assert.Equal(t, []string{"https://a.example/page", "https://b.example/page"}, m[MatchingPages])
}

func TestParse_TrimsAndHandlesCRLF(t *testing.T) {
	m := Parse("  🔹 Visually Similar Images (3)  \r\n   -   https://x.example/1.png  \r\n")
	assert.Equal(t, []string{"https://x.example/1.png"}, m[VisuallySimilarImages])
}

func TestParse_HeaderIsCaseSensitive(t *testing.T) {
	m := Parse("🔹 web entities\n- Foo (score: 0.1)")
	assert.Empty(t, m[WebEntities])
}

func TestParse_OtherLinesIgnored(t *testing.T) {
	m := Parse("🔹 Web Entities\nsome note\n* not an item\n-no space\n- Real (score: 0.3)")
	assert.Equal(t, []string{"Real (score: 0.3)"}, m[WebEntities])
}

func TestParse_SectionReopened(t *testing.T) {
	m := Parse("🔹 Best Guess Labels\n- a\n🔹 Web Entities\n- E\n🔹 Best Guess Labels\n- b")
	assert.Equal(t, []string{"a", "b"}, m[BestGuessLabels])
	assert.Equal(t, []string{"E"}, m[WebEntities])
}

func TestParse_DecomposedInputMatches(t *testing.T) {
	p := NewParser(NewHeaderTable("§", map[Section]string{BestGuessLabels: "Étiquettes"}))
	decomposed := norm.NFD.String("§ Étiquettes")
	require.NotEqual(t, "§ Étiquettes", decomposed)
	item := norm.NFD.String("café")
	m := p.Parse(decomposed + "\n- " + item)
	// Only header matching is normalized; item bytes are kept as sent.
	assert.Equal(t, []string{item}, m[BestGuessLabels])
}

func TestParser_CustomTable(t *testing.T) {
	p := NewParser(NewHeaderTable("##", nil))
	m := p.Parse("## Web Entities\n- A (score: 1)\n🔹 Best Guess Labels\n- ignored")
	// The default marker is not a header for this table, so the item stays under Web Entities.
	assert.Equal(t, []string{"A (score: 1)", "ignored"}, m[WebEntities])
	assert.Empty(t, m[BestGuessLabels])
}

func TestParser_EmptyMarker(t *testing.T) {
	p := NewParser(NewHeaderTable("", nil))
	m := p.Parse("Best Guess Labels\n- plain")
	assert.Equal(t, []string{"plain"}, m[BestGuessLabels])
}

func TestFormat_RoundTrip(t *testing.T) {
	m := Parse(sampleReport)
	again := Parse(Format(m))
	assert.Equal(t, m, again)
}
