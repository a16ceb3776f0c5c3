package report

import (
	"bytes"
	"encoding/json"
	"errors"
)

// ErrEmptyReport is returned by Decode for an empty body.
var ErrEmptyReport = errors.New("empty report")

// FromStructured converts an object keyed by section wire keys into a complete
// section map. Unknown keys are ignored.
func FromStructured(obj map[string][]string) SectionMap {
	out := EmptySectionMap()
	for key, items := range obj {
		s, ok := SectionFromKey(key)
		if !ok || len(items) == 0 {
			continue
		}
		out[s] = append([]string(nil), items...)
	}
	return out
}

// Decode reads a vision API response body with the default header table.
func Decode(body []byte) (SectionMap, error) {
	m, _, err := defaultParser.Decode(body)
	return m, err
}

// Decode reads a vision API response body. Bodies that look like a JSON object are
// read as structured reports and reported as such; anything else, including JSON
// that fails to decode, is parsed as text.
func (p *Parser) Decode(body []byte) (m SectionMap, structured bool, err error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, false, ErrEmptyReport
	}
	if trimmed[0] == '{' {
		if m, ok := decodeStructured(trimmed); ok {
			return m, true, nil
		}
	}
	return p.Parse(string(body)), false, nil
}

// decodeStructured keeps string items only; other JSON values in a section array
// are dropped.
func decodeStructured(body []byte) (SectionMap, bool) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, false
	}
	obj := make(map[string][]string, len(raw))
	for key, msg := range raw {
		if _, ok := SectionFromKey(key); !ok {
			continue
		}
		var values []interface{}
		if err := json.Unmarshal(msg, &values); err != nil {
			continue
		}
		items := make([]string, 0, len(values))
		for _, v := range values {
			if s, ok := v.(string); ok {
				items = append(items, s)
			}
		}
		obj[key] = items
	}
	return FromStructured(obj), true
}

// MarshalJSON encodes the map keyed by wire keys, every section included.
func (m SectionMap) MarshalJSON() ([]byte, error) {
	obj := make(map[string][]string, len(sections))
	for _, s := range sections {
		obj[s.Key()] = m.Get(s)
	}
	return json.Marshal(obj)
}

// UnmarshalJSON decodes an object keyed by wire keys.
func (m *SectionMap) UnmarshalJSON(data []byte) error {
	var obj map[string][]string
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*m = FromStructured(obj)
	return nil
}
