// Package service runs the analysis pipeline: validate a submission, send it to the
// vision API, build the display model and archive the result.
package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/asil/internal/analysis"
	"github.com/hyperjump/asil/internal/extract"
	"github.com/hyperjump/asil/internal/fileid"
	"github.com/hyperjump/asil/internal/keyword"
	"github.com/hyperjump/asil/internal/models"
	"github.com/hyperjump/asil/internal/report"
	"github.com/hyperjump/asil/internal/search"
	"github.com/hyperjump/asil/internal/storage"
	"github.com/hyperjump/asil/internal/vision"
)

// DefaultSimilarLimit is the number of earlier analyses reported with a submission.
const DefaultSimilarLimit = 5

var (
	// ErrInvalidUpload wraps every validation failure of a submission.
	ErrInvalidUpload = errors.New("invalid upload")
	// ErrUpstream wraps failures of the vision API other than a rejected password.
	ErrUpstream = errors.New("vision analysis failed")
)

// Analyzer sends a file to the vision API.
type Analyzer interface {
	Analyze(ctx context.Context, fileName string, content io.Reader, password string) (*vision.Result, error)
}

// Submission is a file to analyse.
type Submission struct {
	FileName string
	Content  []byte
	// Password overrides the configured access password when set.
	Password string
	Source   string
}

// Service coordinates validation, the vision API, the archive and the index.
type Service struct {
	store        storage.Storage
	index        keyword.KeywordIndex
	engine       *search.Engine
	analyzer     Analyzer
	policy       *extract.Policy
	extractor    *extract.Extractor
	parser       *report.Parser
	latest       *analysis.Model
	logger       *zap.Logger
	similarLimit int
	dataPaths    []string
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithParser sets the report parser used by Parse.
func WithParser(p *report.Parser) Option {
	return func(s *Service) {
		if p != nil {
			s.parser = p
		}
	}
}

// WithSimilarLimit sets how many similar analyses are reported.
func WithSimilarLimit(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.similarLimit = n
		}
	}
}

// WithDataPaths sets the database and index paths summed by Status.
func WithDataPaths(paths ...string) Option {
	return func(s *Service) { s.dataPaths = paths }
}

// New creates a service. analyzer may be nil, in which case Submit fails for
// files not already in the archive.
func New(store storage.Storage, index keyword.KeywordIndex, analyzer Analyzer, policy *extract.Policy, opts ...Option) *Service {
	s := &Service{
		store:        store,
		index:        index,
		analyzer:     analyzer,
		policy:       policy,
		extractor:    extract.NewExtractor(),
		parser:       report.NewParser(nil),
		latest:       analysis.NewModel(),
		logger:       zap.NewNop(),
		similarLimit: DefaultSimilarLimit,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.engine = search.NewEngine(store, index, s.logger)
	return s
}

// Submit validates and analyses a file. A file whose content was analysed before
// is answered from the archive without calling the vision API.
func (s *Service) Submit(ctx context.Context, sub Submission) (*models.Outcome, error) {
	name := filepath.Base(sub.FileName)
	info, err := s.policy.Inspect(name, sub.Content)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidUpload, err)
	}
	hash := fileid.ContentID(sub.Content)

	existing, err := s.store.GetAnalysisByHash(ctx, hash)
	switch {
	case err == nil:
		s.logger.Debug("duplicate submission", zap.String("file", name), zap.String("id", existing.ID))
		return s.duplicate(ctx, existing), nil
	case !errors.Is(err, storage.ErrNotFound):
		return nil, fmt.Errorf("failed to look up content hash: %w", err)
	}

	if s.analyzer == nil {
		return nil, fmt.Errorf("%w: no vision endpoint configured", ErrUpstream)
	}

	preview, err := s.extractor.Preview(sub.Content, info.Ext)
	if err != nil {
		s.logger.Warn("preview extraction failed", zap.String("file", name), zap.Error(err))
		preview = ""
	}

	s.logger.Debug("submitting to vision API", zap.String("file", name), zap.Int64("size", info.Size))
	res, err := s.analyzer.Analyze(ctx, name, bytes.NewReader(sub.Content), sub.Password)
	if err != nil {
		if errors.Is(err, vision.ErrUnauthorized) || errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrUpstream, err)
	}

	source := sub.Source
	if source == "" {
		source = models.SourceAPI
	}
	a := &models.Analysis{
		ID:          uuid.New().String(),
		FileName:    name,
		ContentHash: hash,
		SizeBytes:   info.Size,
		MimeType:    info.MimeType,
		Source:      source,
		Preview:     preview,
		Raw:         res.Raw,
		Structured:  res.Structured,
		Model:       analysis.Build(res.Sections),
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.store.CreateAnalysis(ctx, a); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			if existing, getErr := s.store.GetAnalysisByHash(ctx, hash); getErr == nil {
				return s.duplicate(ctx, existing), nil
			}
		}
		return nil, fmt.Errorf("failed to store analysis: %w", err)
	}
	if err := s.index.Index(ctx, a); err != nil {
		s.logger.Error("failed to index analysis", zap.String("id", a.ID), zap.Error(err))
	}
	s.latest.Set(a.Model)
	s.logger.Info("analysis stored",
		zap.String("id", a.ID),
		zap.String("file", name),
		zap.Int("entities", len(a.Model.Entities)),
		zap.Duration("took", res.Duration),
	)

	return &models.Outcome{Analysis: a, Similar: s.similar(ctx, a)}, nil
}

func (s *Service) duplicate(ctx context.Context, a *models.Analysis) *models.Outcome {
	s.latest.Set(a.Model)
	return &models.Outcome{Analysis: a, Duplicate: true, Similar: s.similar(ctx, a)}
}

func (s *Service) similar(ctx context.Context, a *models.Analysis) []models.Match {
	matches, err := s.engine.Similar(ctx, a, s.similarLimit)
	if err != nil {
		s.logger.Warn("similarity lookup failed", zap.String("id", a.ID), zap.Error(err))
		return []models.Match{}
	}
	return matches
}

// SubmitFile reads the file at path and submits it.
func (s *Service) SubmitFile(ctx context.Context, path, source, password string) (*models.Outcome, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: not a regular file: %s", ErrInvalidUpload, path)
	}
	if err := s.policy.Check(path, info.Size()); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidUpload, err)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return s.Submit(ctx, Submission{
		FileName: filepath.Base(path),
		Content:  content,
		Password: password,
		Source:   source,
	})
}

// Parse builds a display model from a raw report without calling the vision API
// or storing anything. A non-empty report also becomes the latest model.
func (s *Service) Parse(body []byte) (analysis.DisplayModel, error) {
	m, ok := s.latest.UpdateWith(s.parser, body)
	if !ok {
		return analysis.EmptyModel(), report.ErrEmptyReport
	}
	return m, nil
}

// Latest returns the holder of the most recent display model.
func (s *Service) Latest() *analysis.Model {
	return s.latest
}

// Policy returns the upload policy.
func (s *Service) Policy() *extract.Policy {
	return s.policy
}

// Get returns an archived analysis.
func (s *Service) Get(ctx context.Context, id string) (*models.Analysis, error) {
	return s.store.GetAnalysis(ctx, id)
}

// List returns summaries of archived analyses, newest first, and the archive size.
func (s *Service) List(ctx context.Context, offset, limit int) ([]models.Summary, int64, error) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = 20
	}
	list, err := s.store.ListAnalyses(ctx, offset, limit)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.store.CountAnalyses(ctx)
	if err != nil {
		return nil, 0, err
	}
	out := make([]models.Summary, len(list))
	for i, a := range list {
		out[i] = a.Summarize()
	}
	return out, total, nil
}

// Delete removes an analysis from the archive and the index.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.store.DeleteAnalysis(ctx, id); err != nil {
		return err
	}
	if err := s.index.Delete(ctx, id); err != nil {
		s.logger.Warn("failed to remove analysis from index", zap.String("id", id), zap.Error(err))
	}
	s.logger.Debug("analysis deleted", zap.String("id", id))
	return nil
}

// Search runs a keyword search over the archive.
func (s *Service) Search(ctx context.Context, query *models.SearchQuery) (*models.SearchResponse, error) {
	return s.engine.Search(ctx, query)
}

// SimilarTo returns earlier analyses similar to the analysis with the given ID.
func (s *Service) SimilarTo(ctx context.Context, id string, limit int) ([]models.Match, error) {
	a, err := s.store.GetAnalysis(ctx, id)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = s.similarLimit
	}
	return s.engine.Similar(ctx, a, limit)
}

// Reindex rebuilds the keyword index from the archive and returns the number of
// analyses indexed. Index entries whose analysis is no longer archived are removed.
func (s *Service) Reindex(ctx context.Context) (int, error) {
	const pageSize = 100
	stored := make(map[string]struct{})
	n := 0
	for offset := 0; ; offset += pageSize {
		page, err := s.store.ListAnalyses(ctx, offset, pageSize)
		if err != nil {
			return n, err
		}
		for _, a := range page {
			if err := s.index.Index(ctx, a); err != nil {
				return n, fmt.Errorf("failed to index %s: %w", a.ID, err)
			}
			stored[a.ID] = struct{}{}
			n++
		}
		if len(page) < pageSize {
			break
		}
	}

	indexed, err := s.index.IDs(ctx)
	if err != nil {
		return n, fmt.Errorf("list indexed analyses: %w", err)
	}
	for _, id := range indexed {
		if _, ok := stored[id]; ok {
			continue
		}
		if err := s.index.Delete(ctx, id); err != nil {
			return n, fmt.Errorf("failed to drop stale %s: %w", id, err)
		}
		s.logger.Info("dropped stale index entry", zap.String("id", id))
	}
	return n, nil
}

// Status reports archive counts and upload settings.
func (s *Service) Status(ctx context.Context) (*models.Status, error) {
	count, err := s.store.CountAnalyses(ctx)
	if err != nil {
		return nil, fmt.Errorf("count analyses: %w", err)
	}
	indexed, err := s.index.DocCount()
	if err != nil {
		return nil, fmt.Errorf("count indexed: %w", err)
	}
	st := &models.Status{
		Analyses:          count,
		Indexed:           indexed,
		AllowedExtensions: s.policy.Extensions(),
		MaxUploadBytes:    s.policy.MaxBytes(),
	}
	_, st.HasLatest = s.latest.Current()
	if e, ok := s.analyzer.(interface{ Endpoint() string }); ok {
		st.VisionEndpoint = e.Endpoint()
	}
	if len(s.dataPaths) > 0 {
		if disk, err := storage.DiskUsageBytes(s.dataPaths...); err == nil {
			st.DiskUsageBytes = disk
		} else {
			s.logger.Warn("disk usage failed", zap.Error(err))
		}
	}
	return st, nil
}
