package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"

	"github.com/hyperjump/asil/internal/export"
	"github.com/hyperjump/asil/internal/extract"
	"github.com/hyperjump/asil/internal/models"
	"github.com/hyperjump/asil/internal/service"
)

// archive is the set of operations the CLI runs against the analysis archive,
// either through a running server or directly on the local storage.
type archive interface {
	Submit(ctx context.Context, path, password string) (*models.Outcome, error)
	SubmitDirectory(ctx context.Context, dir, password string, each service.FileResult) (int, error)
	Get(ctx context.Context, id string) (*models.Analysis, error)
	List(ctx context.Context, offset, limit int) ([]models.Summary, int64, error)
	Delete(ctx context.Context, id string) error
	Search(ctx context.Context, query *models.SearchQuery) (*models.SearchResponse, error)
	Similar(ctx context.Context, id string, limit int) ([]models.Match, error)
	Status(ctx context.Context) (*models.Status, error)
	Export(ctx context.Context, id string, w io.Writer) error
	Close() error
}

// localArchive opens storage and index directly. Bleve holds an exclusive lock,
// so it cannot be used while the server is running.
type localArchive struct {
	c *Components
}

func (l *localArchive) Submit(ctx context.Context, path, password string) (*models.Outcome, error) {
	return l.c.Service.SubmitFile(ctx, path, models.SourceCLI, password)
}

func (l *localArchive) SubmitDirectory(ctx context.Context, dir, password string, each service.FileResult) (int, error) {
	return l.c.Service.SubmitDirectory(ctx, dir, models.SourceCLI, password, each)
}

func (l *localArchive) Get(ctx context.Context, id string) (*models.Analysis, error) {
	return l.c.Service.Get(ctx, id)
}

func (l *localArchive) List(ctx context.Context, offset, limit int) ([]models.Summary, int64, error) {
	return l.c.Service.List(ctx, offset, limit)
}

func (l *localArchive) Delete(ctx context.Context, id string) error {
	return l.c.Service.Delete(ctx, id)
}

func (l *localArchive) Search(ctx context.Context, query *models.SearchQuery) (*models.SearchResponse, error) {
	return l.c.Service.Search(ctx, query)
}

func (l *localArchive) Similar(ctx context.Context, id string, limit int) ([]models.Match, error) {
	return l.c.Service.SimilarTo(ctx, id, limit)
}

func (l *localArchive) Status(ctx context.Context) (*models.Status, error) {
	return l.c.Service.Status(ctx)
}

func (l *localArchive) Export(ctx context.Context, id string, w io.Writer) error {
	a, err := l.c.Service.Get(ctx, id)
	if err != nil {
		return err
	}
	return export.WriteXLSX(w, a)
}

func (l *localArchive) Close() error {
	l.c.Close()
	return nil
}

// httpArchive talks to a running asil server.
type httpArchive struct {
	baseURL string
	client  *http.Client
}

func newHTTPArchive(serverURL string) *httpArchive {
	return &httpArchive{baseURL: serverURL, client: http.DefaultClient}
}

// apiError decodes the {"error": "..."} body of a failed response.
func apiError(resp *http.Response) error {
	b, _ := io.ReadAll(resp.Body)
	var body struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(b, &body) == nil && body.Error != "" {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, body.Error)
	}
	return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(b))
}

func (h *httpArchive) do(req *http.Request, out interface{}, ok ...int) error {
	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if len(ok) == 0 {
		ok = []int{http.StatusOK}
	}
	accepted := false
	for _, code := range ok {
		if resp.StatusCode == code {
			accepted = true
		}
	}
	if !accepted {
		return apiError(resp)
	}
	if out == nil {
		return nil
	}
	if w, isWriter := out.(io.Writer); isWriter {
		_, err = io.Copy(w, resp.Body)
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (h *httpArchive) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.baseURL+path, nil)
	if err != nil {
		return err
	}
	return h.do(req, out)
}

func (h *httpArchive) Submit(ctx context.Context, path, password string) (*models.Outcome, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(content); err != nil {
		return nil, err
	}
	if password != "" {
		if err := mw.WriteField("password", password); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+"/api/v1/analyses", &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	var out models.Outcome
	if err := h.do(req, &out, http.StatusCreated, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// SubmitDirectory uploads the files under dir that the server's upload policy
// accepts, one request per file.
func (h *httpArchive) SubmitDirectory(ctx context.Context, dir, password string, each service.FileResult) (int, error) {
	st, err := h.Status(ctx)
	if err != nil {
		return 0, err
	}
	policy := extract.NewPolicy(st.AllowedExtensions, st.MaxUploadBytes)
	files, err := service.AcceptedFiles(dir, policy.Allows)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		out, err := h.Submit(ctx, path, password)
		if each != nil {
			each(path, out, err)
		}
		if err == nil {
			n++
		}
	}
	return n, nil
}

func (h *httpArchive) Get(ctx context.Context, id string) (*models.Analysis, error) {
	var a models.Analysis
	if err := h.get(ctx, "/api/v1/analyses/"+url.PathEscape(id), &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (h *httpArchive) List(ctx context.Context, offset, limit int) ([]models.Summary, int64, error) {
	q := url.Values{}
	q.Set("offset", strconv.Itoa(offset))
	q.Set("limit", strconv.Itoa(limit))
	var out struct {
		Analyses []models.Summary `json:"analyses"`
		Total    int64            `json:"total"`
	}
	if err := h.get(ctx, "/api/v1/analyses?"+q.Encode(), &out); err != nil {
		return nil, 0, err
	}
	return out.Analyses, out.Total, nil
}

func (h *httpArchive) Delete(ctx context.Context, id string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, h.baseURL+"/api/v1/analyses/"+url.PathEscape(id), nil)
	if err != nil {
		return err
	}
	return h.do(req, nil)
}

func (h *httpArchive) Search(ctx context.Context, query *models.SearchQuery) (*models.SearchResponse, error) {
	q := url.Values{}
	q.Set("q", query.Query)
	if query.Limit > 0 {
		q.Set("limit", strconv.Itoa(query.Limit))
	}
	if query.FuzzyEnabled {
		q.Set("fuzzy", "true")
	}
	var response models.SearchResponse
	if err := h.get(ctx, "/api/v1/search?"+q.Encode(), &response); err != nil {
		return nil, err
	}
	return &response, nil
}

func (h *httpArchive) Similar(ctx context.Context, id string, limit int) ([]models.Match, error) {
	path := "/api/v1/analyses/" + url.PathEscape(id) + "/similar"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out struct {
		Similar []models.Match `json:"similar"`
	}
	if err := h.get(ctx, path, &out); err != nil {
		return nil, err
	}
	return out.Similar, nil
}

func (h *httpArchive) Status(ctx context.Context) (*models.Status, error) {
	var out struct {
		Status *models.Status `json:"status"`
	}
	if err := h.get(ctx, "/api/v1/status", &out); err != nil {
		return nil, err
	}
	if out.Status == nil {
		return nil, errors.New("decode response: missing status")
	}
	return out.Status, nil
}

func (h *httpArchive) Export(ctx context.Context, id string, w io.Writer) error {
	return h.get(ctx, "/api/v1/analyses/"+url.PathEscape(id)+"/export.xlsx", w)
}

func (h *httpArchive) Close() error { return nil }
