package models

// SearchResult is one archive hit.
type SearchResult struct {
	Analysis Summary `json:"analysis"`
	Score    float64 `json:"score"`
	Rank     int     `json:"rank"`
}

// SearchResponse is the response for a search request.
type SearchResponse struct {
	Results   []*SearchResult `json:"results"`
	Total     int             `json:"total"`
	QueryTime int64           `json:"query_time_ms"`
	Query     string          `json:"query"`
	// AutoFuzzy indicates that fuzzy matching was enabled because the exact
	// search returned nothing.
	AutoFuzzy bool `json:"auto_fuzzy,omitempty"`
}

// Match is an earlier analysis that shares entities or labels with another.
type Match struct {
	Analysis Summary  `json:"analysis"`
	Score    float64  `json:"score"`
	Shared   []string `json:"shared"`
}

// Outcome is the result of submitting a file for analysis.
type Outcome struct {
	Analysis  *Analysis `json:"analysis"`
	Duplicate bool      `json:"duplicate"`
	Similar   []Match   `json:"similar"`
}
