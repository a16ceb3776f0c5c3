package analysis

import (
	"sync"
	"testing"

	"github.com/hyperjump/asil/internal/report"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModel_Update(t *testing.T) {
	m := NewModel()
	_, set := m.Current()
	assert.False(t, set)

	require.True(t, m.Update("🔹 Best Guess Labels\n- first"))
	dm, set := m.Current()
	assert.True(t, set)
	assert.Equal(t, []string{"first"}, dm.BestGuessLabels)

	for _, in := range []interface{}{nil, "", "   ", []byte(""), report.SectionMap(nil), map[string][]string(nil), 42} {
		assert.False(t, m.Update(in), "input %#v", in)
	}
	dm, _ = m.Current()
	assert.Equal(t, []string{"first"}, dm.BestGuessLabels, "absent input keeps the previous model")

	require.True(t, m.Update(map[string][]string{"Web Entities": {"X (score: 0.3)"}}))
	dm, _ = m.Current()
	assert.Equal(t, []EntityScore{{"X", 0.3}}, dm.Entities)
	assert.Empty(t, dm.BestGuessLabels, "a new report replaces the old one wholesale")

	require.True(t, m.Update([]byte(`{"Best Guess Labels":["json"]}`)))
	dm, _ = m.Current()
	assert.Equal(t, []string{"json"}, dm.BestGuessLabels)
}

func TestModel_UpdateWith_customParser(t *testing.T) {
	m := NewModel()
	p := report.NewParser(report.NewHeaderTable("##", nil))

	dm, ok := m.UpdateWith(p, []byte("## Best Guess Labels\n- custom\n"))
	require.True(t, ok)
	assert.Equal(t, []string{"custom"}, dm.BestGuessLabels)

	dm, ok = m.UpdateWith(p, "## Web Entities\n- Kiln (score: 0.7)")
	require.True(t, ok)
	assert.Equal(t, []EntityScore{{"Kiln", 0.7}}, dm.Entities)

	dm, ok = m.UpdateWith(p, []byte(" \n"))
	assert.False(t, ok)
	assert.Equal(t, []EntityScore{{"Kiln", 0.7}}, dm.Entities, "rejected input returns the held model")
}

func TestModel_ConcurrentAccess(t *testing.T) {
	m := NewModel()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			m.Update("🔹 Best Guess Labels\n- x")
		}()
		go func() {
			defer wg.Done()
			_, _ = m.Current()
		}()
	}
	wg.Wait()
	dm, set := m.Current()
	assert.True(t, set)
	assert.Equal(t, []string{"x"}, dm.BestGuessLabels)
}
