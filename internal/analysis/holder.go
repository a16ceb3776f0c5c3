package analysis

import (
	"strings"
	"sync"

	"github.com/hyperjump/asil/internal/report"
)

// Model holds the most recent display model. Each accepted update replaces it
// wholesale; absent input leaves it untouched.
type Model struct {
	mu      sync.RWMutex
	current DisplayModel
	set     bool
}

// NewModel returns a holder with an empty model.
func NewModel() *Model {
	return &Model{current: EmptyModel()}
}

var defaultParser = report.NewParser(nil)

// Update rebuilds the model from input and reports whether it changed anything.
// input may be raw text (string or []byte), a report.SectionMap or a structured
// object keyed by section wire keys. Nil, empty or unsupported input is a no-op.
func (m *Model) Update(input interface{}) bool {
	_, ok := m.UpdateWith(nil, input)
	return ok
}

// UpdateWith is Update with text input parsed by p (the default header table
// when p is nil). It returns the model now held.
func (m *Model) UpdateWith(p *report.Parser, input interface{}) (DisplayModel, bool) {
	if p == nil {
		p = defaultParser
	}
	var sections report.SectionMap
	switch v := input.(type) {
	case string:
		if strings.TrimSpace(v) == "" {
			return m.currentModel(), false
		}
		sections = p.Parse(v)
	case []byte:
		decoded, _, err := p.Decode(v)
		if err != nil {
			return m.currentModel(), false
		}
		sections = decoded
	case report.SectionMap:
		if v == nil {
			return m.currentModel(), false
		}
		sections = v
	case map[string][]string:
		if v == nil {
			return m.currentModel(), false
		}
		sections = report.FromStructured(v)
	default:
		return m.currentModel(), false
	}
	built := Build(sections)

	m.mu.Lock()
	m.current = built
	m.set = true
	m.mu.Unlock()
	return built, true
}

func (m *Model) currentModel() DisplayModel {
	dm, _ := m.Current()
	return dm
}

// Set replaces the model with an already built one.
func (m *Model) Set(dm DisplayModel) {
	m.mu.Lock()
	m.current = dm
	m.set = true
	m.mu.Unlock()
}

// Current returns the held model and whether any update has been applied.
func (m *Model) Current() (DisplayModel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current, m.set
}
