package keyword

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	blevequery "github.com/blevesearch/bleve/v2/search/query"

	"github.com/hyperjump/asil/internal/links"
	"github.com/hyperjump/asil/internal/models"
)

// Indexed field names.
const (
	fieldFileName = "file_name"
	fieldEntities = "entities"
	fieldLabels   = "labels"
	fieldPreview  = "preview"
	fieldHosts    = "hosts"
)

// analysisDoc is the document shape stored in the index.
type analysisDoc struct {
	FileName string   `json:"file_name"`
	Entities []string `json:"entities"`
	Labels   []string `json:"labels"`
	Preview  string   `json:"preview"`
	Hosts    []string `json:"hosts"`
}

func newAnalysisDoc(a *models.Analysis) *analysisDoc {
	doc := &analysisDoc{
		FileName: normalizeFileName(a.FileName),
		Entities: make([]string, 0, len(a.Model.Entities)),
		Labels:   a.Model.BestGuessLabels,
		Preview:  a.Preview,
		Hosts:    hostsOf(a),
	}
	for _, e := range a.Model.Entities {
		doc.Entities = append(doc.Entities, e.Name)
	}
	return doc
}

// normalizeFileName separates the words of a file name so that Bleve's standard
// analyzer matches "smart irrigation" against "smart_irrigation.v2.pdf".
func normalizeFileName(name string) string {
	return strings.NewReplacer("_", " ", ".", " ").Replace(name)
}

// hostsOf returns the distinct hosts of every matched image and page of a.
func hostsOf(a *models.Analysis) []string {
	seen := make(map[string]struct{})
	var hosts []string
	for _, list := range [][]string{a.Model.FullMatchingImages, a.Model.VisuallySimilarImages, a.Model.MatchingPages} {
		for _, u := range list {
			h := links.Host(u)
			if h == "" {
				continue
			}
			if _, ok := seen[h]; ok {
				continue
			}
			seen[h] = struct{}{}
			hosts = append(hosts, h)
		}
	}
	return hosts
}

// BleveIndex implements KeywordIndex using Bleve.
type BleveIndex struct {
	index bleve.Index
}

// NewBleveIndex creates or opens a Bleve index at path.
// If you change the index mapping in code, remove the index directory and run reindex.
func NewBleveIndex(path string) (*BleveIndex, error) {
	im := bleve.NewIndexMapping()

	docMapping := bleve.NewDocumentMapping()
	textFieldMapping := bleve.NewTextFieldMapping()
	// Standard analyzer (lowercase + tokenize, no stemming) so entity names match as written.
	textFieldMapping.Analyzer = standard.Name
	docMapping.AddFieldMappingsAt(fieldFileName, textFieldMapping)
	docMapping.AddFieldMappingsAt(fieldEntities, textFieldMapping)
	docMapping.AddFieldMappingsAt(fieldLabels, textFieldMapping)
	docMapping.AddFieldMappingsAt(fieldPreview, textFieldMapping)
	keywordFieldMapping := bleve.NewKeywordFieldMapping()
	docMapping.AddFieldMappingsAt(fieldHosts, keywordFieldMapping)
	im.AddDocumentMapping("analysis", docMapping)
	im.DefaultType = "analysis"
	im.DefaultMapping = docMapping

	if _, err := os.Stat(path); err == nil {
		index, openErr := bleve.Open(path)
		if openErr != nil {
			return nil, fmt.Errorf("failed to open Bleve index: %w", openErr)
		}
		return &BleveIndex{index: index}, nil
	}

	index, err := bleve.New(path, im)
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	return &BleveIndex{index: index}, nil
}

// Index indexes an analysis by its ID.
func (b *BleveIndex) Index(ctx context.Context, a *models.Analysis) error {
	return b.index.Index(a.ID, newAnalysisDoc(a))
}

// Search runs a disjunction of per-field match queries and returns up to limit results.
// When opts.FuzzyEnabled is true, each term is matched with a FuzzyQuery instead.
func (b *BleveIndex) Search(ctx context.Context, query string, limit int, opts *SearchOptions) ([]*KeywordResult, error) {
	if strings.TrimSpace(query) == "" || limit <= 0 {
		return []*KeywordResult{}, nil
	}
	fileNameBoost := 1.0
	entityBoost := 1.0
	fuzzyEnabled := false
	fuzziness := 2
	if opts != nil {
		if opts.FileNameBoost > 0 {
			fileNameBoost = opts.FileNameBoost
		}
		if opts.EntityBoost > 0 {
			entityBoost = opts.EntityBoost
		}
		fuzzyEnabled = opts.FuzzyEnabled
		if opts.Fuzziness > 0 {
			fuzziness = opts.Fuzziness
		}
	}

	boosts := []struct {
		field string
		boost float64
	}{
		{fieldFileName, fileNameBoost},
		{fieldEntities, entityBoost},
		{fieldLabels, 1.0},
		{fieldPreview, 1.0},
	}
	queries := make([]blevequery.Query, 0, len(boosts)+1)
	for _, fb := range boosts {
		if fuzzyEnabled {
			queries = append(queries, buildFuzzyQuery(query, fuzziness, fb.field, fb.boost))
			continue
		}
		mq := bleve.NewMatchQuery(query)
		mq.SetField(fb.field)
		mq.SetBoost(fb.boost)
		queries = append(queries, mq)
	}
	if host := strings.ToLower(strings.TrimSpace(query)); !strings.ContainsAny(host, " \t") {
		tq := bleve.NewTermQuery(strings.TrimPrefix(host, "www."))
		tq.SetField(fieldHosts)
		queries = append(queries, tq)
	}

	return b.run(bleve.NewDisjunctionQuery(queries...), limit, "")
}

// Similar finds analyses sharing entity names, labels or hosts with a.
func (b *BleveIndex) Similar(ctx context.Context, a *models.Analysis, limit int) ([]*KeywordResult, error) {
	if limit <= 0 {
		return []*KeywordResult{}, nil
	}
	var queries []blevequery.Query
	for _, e := range a.Model.Entities {
		pq := bleve.NewMatchPhraseQuery(e.Name)
		pq.SetField(fieldEntities)
		queries = append(queries, pq)
	}
	for _, label := range a.Model.BestGuessLabels {
		pq := bleve.NewMatchPhraseQuery(label)
		pq.SetField(fieldLabels)
		queries = append(queries, pq)
	}
	for _, host := range hostsOf(a) {
		tq := bleve.NewTermQuery(host)
		tq.SetField(fieldHosts)
		queries = append(queries, tq)
	}
	if len(queries) == 0 {
		return []*KeywordResult{}, nil
	}
	return b.run(bleve.NewDisjunctionQuery(queries...), limit, a.ID)
}

// run executes q and drops the hit whose ID equals exclude.
func (b *BleveIndex) run(q blevequery.Query, limit int, exclude string) ([]*KeywordResult, error) {
	req := bleve.NewSearchRequest(q)
	req.Size = limit
	if exclude != "" {
		req.Size = limit + 1
	}
	results, err := b.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("Bleve search failed: %w", err)
	}
	out := make([]*KeywordResult, 0, len(results.Hits))
	for _, hit := range results.Hits {
		if hit.ID == exclude {
			continue
		}
		out = append(out, &KeywordResult{ID: hit.ID, Score: hit.Score})
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// tokenizeQuery splits query into lowercase terms, filtering out empty strings.
func tokenizeQuery(query string) []string {
	return strings.Fields(strings.ToLower(query))
}

// buildFuzzyQuery creates a disjunction of FuzzyQueries for each term in the query,
// restricted to field.
func buildFuzzyQuery(queryStr string, fuzziness int, field string, boost float64) blevequery.Query {
	terms := tokenizeQuery(queryStr)
	if len(terms) == 0 {
		mq := bleve.NewMatchQuery(queryStr)
		mq.SetField(field)
		return mq
	}

	queries := make([]blevequery.Query, 0, len(terms))
	for _, term := range terms {
		fq := bleve.NewFuzzyQuery(term)
		fq.SetFuzziness(fuzziness)
		fq.SetField(field)
		fq.SetBoost(boost)
		queries = append(queries, fq)
	}
	if len(queries) == 1 {
		return queries[0]
	}
	return bleve.NewDisjunctionQuery(queries...)
}

// Delete removes an analysis from the index.
func (b *BleveIndex) Delete(ctx context.Context, id string) error {
	return b.index.Delete(id)
}

// IDs pages through a match-all query sorted by document ID.
func (b *BleveIndex) IDs(ctx context.Context) ([]string, error) {
	const pageSize = 500
	var ids []string
	for from := 0; ; from += pageSize {
		if err := ctx.Err(); err != nil {
			return ids, err
		}
		req := bleve.NewSearchRequestOptions(bleve.NewMatchAllQuery(), pageSize, from, false)
		req.SortBy([]string{"_id"})
		results, err := b.index.SearchInContext(ctx, req)
		if err != nil {
			return ids, fmt.Errorf("Bleve list failed: %w", err)
		}
		for _, hit := range results.Hits {
			ids = append(ids, hit.ID)
		}
		if len(results.Hits) < pageSize {
			return ids, nil
		}
	}
}

// Close closes the Bleve index.
func (b *BleveIndex) Close() error {
	return b.index.Close()
}

// DocCount returns the total number of analyses in the index.
func (b *BleveIndex) DocCount() (uint64, error) {
	return b.index.DocCount()
}
