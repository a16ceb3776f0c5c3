package server

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/hyperjump/asil/internal/config"
	"github.com/hyperjump/asil/internal/extract"
	"github.com/hyperjump/asil/internal/keyword"
	"github.com/hyperjump/asil/internal/models"
	"github.com/hyperjump/asil/internal/service"
	"github.com/hyperjump/asil/internal/storage"
	"github.com/hyperjump/asil/internal/vision"
	"github.com/hyperjump/asil/internal/watcher"
)

const visionReport = `🔹 Web Entities:
- Greenhouse (score: 0.88)
- Tomato (score: 0.35)
🔹 Pages With Matching Images:
- https://www.example.com/greenhouse
🔹 Best Guess Labels:
- greenhouse kit`

type mockWatchService struct {
	dirs []string
}

func (m *mockWatchService) Directories() []string {
	return append([]string(nil), m.dirs...)
}

func (m *mockWatchService) AddDirectory(path string, _ bool) error {
	for _, d := range m.dirs {
		if d == path {
			return nil
		}
	}
	m.dirs = append(m.dirs, path)
	return nil
}

func (m *mockWatchService) Stats() watcher.Stats {
	return watcher.Stats{Directories: len(m.dirs), Submitted: 3}
}

func (m *mockWatchService) RemoveDirectory(path string) error {
	for i, d := range m.dirs {
		if d == path {
			m.dirs = append(m.dirs[:i], m.dirs[i+1:]...)
			return nil
		}
	}
	return nil
}

// newVisionAPI answers uploads with visionReport when the password is "secret".
func newVisionAPI(t *testing.T, status int) *httptest.Server {
	t.Helper()
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if r.FormValue("password") != "secret" {
			http.Error(w, "wrong password", http.StatusUnauthorized)
			return
		}
		if status != http.StatusOK {
			http.Error(w, "upstream broke", status)
			return
		}
		_, _ = w.Write([]byte(visionReport))
	}))
	t.Cleanup(api.Close)
	return api
}

func newTestServer(t *testing.T, upstreamStatus int, watch WatchService) *Server {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewSQLiteStorage(filepath.Join(dir, "db.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	idx, err := keyword.NewBleveIndex(filepath.Join(dir, "bleve"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })

	api := newVisionAPI(t, upstreamStatus)
	client := vision.NewClient(api.URL, "", 5*time.Second, nil)
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	cfg.Storage.DatabasePath = filepath.Join(dir, "db.sqlite")
	cfg.Storage.BleveIndexPath = filepath.Join(dir, "bleve")
	policy := extract.NewPolicy([]string{".txt", ".pdf"}, cfg.Upload.MaxBytes)
	svc := service.New(store, idx, client, policy, service.WithDataPaths(cfg.Storage.DatabasePath))
	return NewServer(svc, cfg, zap.NewNop(), watch, "")
}

func uploadRequest(t *testing.T, fileName, content, password string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if fileName != "" {
		fw, err := mw.CreateFormFile("file", fileName)
		require.NoError(t, err)
		_, err = fw.Write([]byte(content))
		require.NoError(t, err)
	}
	if password != "" {
		require.NoError(t, mw.WriteField("password", password))
	}
	require.NoError(t, mw.Close())
	r := httptest.NewRequest(http.MethodPost, "/api/v1/analyses", &body)
	r.Header.Set("Content-Type", mw.FormDataContentType())
	return r
}

func serve(srv *Server, r *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	srv.Routes().ServeHTTP(w, r)
	return w
}

func submit(t *testing.T, srv *Server, fileName, content string) models.Outcome {
	t.Helper()
	w := serve(srv, uploadRequest(t, fileName, content, "secret"))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var out models.Outcome
	require.NoError(t, json.NewDecoder(w.Body).Decode(&out))
	return out
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	return body.Error
}

func TestHandleSubmit(t *testing.T) {
	srv := newTestServer(t, http.StatusOK, nil)

	out := submit(t, srv, "greenhouse.txt", "A small greenhouse controller.")
	assert.False(t, out.Duplicate)
	require.NotNil(t, out.Analysis)
	assert.Equal(t, "greenhouse.txt", out.Analysis.FileName)
	require.Len(t, out.Analysis.Model.Entities, 2)
	assert.Equal(t, "Greenhouse", out.Analysis.Model.Entities[0].Name)
	assert.Equal(t, []string{"https://www.example.com/greenhouse"}, out.Analysis.Model.MatchingPages)

	w := serve(srv, uploadRequest(t, "copy.txt", "A small greenhouse controller.", "secret"))
	assert.Equal(t, http.StatusOK, w.Code)
	var dup models.Outcome
	require.NoError(t, json.NewDecoder(w.Body).Decode(&dup))
	assert.True(t, dup.Duplicate)
	assert.Equal(t, out.Analysis.ID, dup.Analysis.ID)
}

func TestHandleSubmit_Errors(t *testing.T) {
	srv := newTestServer(t, http.StatusOK, nil)

	w := serve(srv, uploadRequest(t, "notes.txt", "x", "wrong"))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "incorrect password", decodeError(t, w))

	w = serve(srv, uploadRequest(t, "tool.exe", "MZ", "secret"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decodeError(t, w), "unsupported file type")

	w = serve(srv, uploadRequest(t, "", "", "secret"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "file is required", decodeError(t, w))
}

func TestHandleSubmit_UpstreamFailure(t *testing.T) {
	srv := newTestServer(t, http.StatusInternalServerError, nil)
	w := serve(srv, uploadRequest(t, "notes.txt", "x", "secret"))
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestHandleGetAndDelete(t *testing.T) {
	srv := newTestServer(t, http.StatusOK, nil)

	w := serve(srv, httptest.NewRequest(http.MethodGet, "/api/v1/analyses/missing", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	out := submit(t, srv, "greenhouse.txt", "content")
	w = serve(srv, httptest.NewRequest(http.MethodGet, "/api/v1/analyses/"+out.Analysis.ID, nil))
	require.Equal(t, http.StatusOK, w.Code)
	var got models.Analysis
	require.NoError(t, json.NewDecoder(w.Body).Decode(&got))
	assert.Equal(t, out.Analysis.ID, got.ID)

	w = serve(srv, httptest.NewRequest(http.MethodDelete, "/api/v1/analyses/"+out.Analysis.ID, nil))
	assert.Equal(t, http.StatusOK, w.Code)
	w = serve(srv, httptest.NewRequest(http.MethodDelete, "/api/v1/analyses/"+out.Analysis.ID, nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleList(t *testing.T) {
	srv := newTestServer(t, http.StatusOK, nil)
	submit(t, srv, "one.txt", "one")
	submit(t, srv, "two.txt", "two")

	w := serve(srv, httptest.NewRequest(http.MethodGet, "/api/v1/analyses?limit=1", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Analyses []models.Summary `json:"analyses"`
		Total    int64            `json:"total"`
		Limit    int              `json:"limit"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Len(t, body.Analyses, 1)
	assert.Equal(t, int64(2), body.Total)
	assert.Equal(t, 1, body.Limit)
	assert.Equal(t, "Greenhouse", body.Analyses[0].TopEntity)
}

func TestHandleSimilar(t *testing.T) {
	srv := newTestServer(t, http.StatusOK, nil)
	first := submit(t, srv, "one.txt", "one")
	second := submit(t, srv, "two.txt", "two")
	require.Len(t, second.Similar, 1)
	assert.Equal(t, first.Analysis.ID, second.Similar[0].Analysis.ID)

	w := serve(srv, httptest.NewRequest(http.MethodGet, "/api/v1/analyses/"+first.Analysis.ID+"/similar", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Similar []models.Match `json:"similar"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	require.Len(t, body.Similar, 1)
	assert.Equal(t, second.Analysis.ID, body.Similar[0].Analysis.ID)
	assert.Contains(t, body.Similar[0].Shared, "Greenhouse")
	assert.Contains(t, body.Similar[0].Shared, "example.com")

	w = serve(srv, httptest.NewRequest(http.MethodGet, "/api/v1/analyses/missing/similar", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleExport(t *testing.T) {
	srv := newTestServer(t, http.StatusOK, nil)
	out := submit(t, srv, "greenhouse.txt", "content")

	w := serve(srv, httptest.NewRequest(http.MethodGet, "/api/v1/analyses/"+out.Analysis.ID+"/export.xlsx", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "greenhouse-analysis.xlsx")

	f, err := excelize.OpenReader(w.Body)
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows("Entities")
	require.NoError(t, err)
	assert.Len(t, rows, 3)
}

func TestHandleParseAndLatest(t *testing.T) {
	srv := newTestServer(t, http.StatusOK, nil)

	w := serve(srv, httptest.NewRequest(http.MethodGet, "/api/v1/latest", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var latest struct {
		Available bool `json:"available"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&latest))
	assert.False(t, latest.Available)

	structured := `{"Web Entities":["Robot arm (score: 0.7)"],"Best Guess Labels":["robot"]}`
	w = serve(srv, httptest.NewRequest(http.MethodPost, "/api/v1/parse", strings.NewReader(structured)))
	require.Equal(t, http.StatusOK, w.Code)
	var m struct {
		Entities []struct {
			Name  string  `json:"name"`
			Score float64 `json:"score"`
		} `json:"entities"`
		BestGuessLabels []string `json:"bestGuessLabels"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&m))
	require.Len(t, m.Entities, 1)
	assert.Equal(t, "Robot arm", m.Entities[0].Name)
	assert.Equal(t, 0.7, m.Entities[0].Score)
	assert.Equal(t, []string{"robot"}, m.BestGuessLabels)

	w = serve(srv, httptest.NewRequest(http.MethodGet, "/api/v1/latest", nil))
	require.NoError(t, json.NewDecoder(w.Body).Decode(&latest))
	assert.True(t, latest.Available)

	w = serve(srv, httptest.NewRequest(http.MethodPost, "/api/v1/parse", strings.NewReader("")))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleParse_reportTooLarge(t *testing.T) {
	srv := newTestServer(t, http.StatusOK, nil)

	var b strings.Builder
	b.WriteString("🔹 Best Guess Labels:\n")
	for b.Len() <= maxParseBytes {
		b.WriteString("- greenhouse kit with tomato seedlings\n")
	}
	b.WriteString("- LAST\n")
	w := serve(srv, httptest.NewRequest(http.MethodPost, "/api/v1/parse", strings.NewReader(b.String())))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Contains(t, w.Body.String(), "report too large")

	w = serve(srv, httptest.NewRequest(http.MethodGet, "/api/v1/latest", nil))
	var latest struct {
		Available bool `json:"available"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&latest))
	assert.False(t, latest.Available)
}

func TestHandleSearch(t *testing.T) {
	srv := newTestServer(t, http.StatusOK, nil)
	submit(t, srv, "greenhouse.txt", "content")

	w := serve(srv, httptest.NewRequest(http.MethodGet, "/api/v1/search", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = serve(srv, httptest.NewRequest(http.MethodGet, "/api/v1/search?q=%20%20", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = serve(srv, httptest.NewRequest(http.MethodGet, "/api/v1/search?q=tomato&fuzzy=nope", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = serve(srv, httptest.NewRequest(http.MethodGet, "/api/v1/search?q=tomato", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var resp models.SearchResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "greenhouse.txt", resp.Results[0].Analysis.FileName)
}

func TestHandleFAQ(t *testing.T) {
	srv := newTestServer(t, http.StatusOK, nil)

	w := serve(srv, httptest.NewRequest(http.MethodGet, "/api/v1/faq", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var all struct {
		Entries []struct {
			Question string `json:"question"`
		} `json:"entries"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&all))
	assert.NotEmpty(t, all.Entries)

	w = serve(srv, httptest.NewRequest(http.MethodGet, "/api/v1/faq?q=FILE+TYPE", nil))
	var filtered struct {
		Entries []struct {
			Question string `json:"question"`
		} `json:"entries"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&filtered))
	require.NotEmpty(t, filtered.Entries)
	assert.Less(t, len(filtered.Entries), len(all.Entries))
}

func TestHandleStatusAndHealth(t *testing.T) {
	srv := newTestServer(t, http.StatusOK, &mockWatchService{dirs: []string{"/tmp/inbox"}})
	submit(t, srv, "greenhouse.txt", "content")

	w := serve(srv, httptest.NewRequest(http.MethodGet, "/api/v1/status", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Status           models.Status          `json:"status"`
		Config           map[string]interface{} `json:"config"`
		WatchDirectories []string               `json:"watch_directories"`
		Watch            watcher.Stats          `json:"watch"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, int64(1), body.Status.Analyses)
	assert.Equal(t, uint64(1), body.Status.Indexed)
	assert.True(t, body.Status.HasLatest)
	assert.Greater(t, body.Status.DiskUsageBytes, int64(0))
	assert.Equal(t, "🔹", body.Config["report_marker"])
	assert.Equal(t, []string{"/tmp/inbox"}, body.WatchDirectories)
	assert.Equal(t, 1, body.Watch.Directories)
	assert.Equal(t, int64(3), body.Watch.Submitted)

	w = serve(srv, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHandleWatchDirectoriesList(t *testing.T) {
	srv := newTestServer(t, http.StatusOK, &mockWatchService{dirs: []string{"/tmp/docs"}})

	w := serve(srv, httptest.NewRequest(http.MethodGet, "/api/v1/watch/directories", nil))
	if w.Code != http.StatusOK {
		t.Errorf("status: got %d", w.Code)
	}
	var out struct {
		Directories []string `json:"directories"`
	}
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if len(out.Directories) != 1 || out.Directories[0] != "/tmp/docs" {
		t.Errorf("directories: got %v", out.Directories)
	}
}

func TestHandleWatchDirectoriesList_NotEnabled(t *testing.T) {
	srv := newTestServer(t, http.StatusOK, nil)
	w := serve(srv, httptest.NewRequest(http.MethodGet, "/api/v1/watch/directories", nil))
	if w.Code != http.StatusNotImplemented {
		t.Errorf("status: got %d, want 501", w.Code)
	}
}

func TestHandleWatchDirectoriesAdd(t *testing.T) {
	mock := &mockWatchService{}
	srv := newTestServer(t, http.StatusOK, mock)
	inbox := t.TempDir()

	body, _ := json.Marshal(map[string]interface{}{"path": inbox, "sync": false})
	w := serve(srv, httptest.NewRequest(http.MethodPost, "/api/v1/watch/directories", bytes.NewReader(body)))
	if w.Code != http.StatusCreated {
		t.Errorf("status: got %d, want 201", w.Code)
	}
	if len(mock.dirs) != 1 || mock.dirs[0] != inbox {
		t.Errorf("dirs: got %v", mock.dirs)
	}
}

func TestHandleWatchDirectoriesAdd_PersistsConfig(t *testing.T) {
	mock := &mockWatchService{}
	srv := newTestServer(t, http.StatusOK, mock)
	srv.configPath = filepath.Join(t.TempDir(), "config.yaml")
	srv.config.Vision.Password = "do-not-write"
	inbox := t.TempDir()

	body, _ := json.Marshal(map[string]interface{}{"path": inbox})
	w := serve(srv, httptest.NewRequest(http.MethodPost, "/api/v1/watch/directories", bytes.NewReader(body)))
	require.Equal(t, http.StatusCreated, w.Code)

	data, err := os.ReadFile(srv.configPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), inbox)
	assert.NotContains(t, string(data), "do-not-write")
}

func TestHandleWatchDirectoriesAdd_InvalidPath(t *testing.T) {
	srv := newTestServer(t, http.StatusOK, &mockWatchService{})

	body, _ := json.Marshal(map[string]string{"path": filepath.Join(t.TempDir(), "nope")})
	w := serve(srv, httptest.NewRequest(http.MethodPost, "/api/v1/watch/directories", bytes.NewReader(body)))
	if w.Code != http.StatusNotFound {
		t.Errorf("status: got %d, want 404", w.Code)
	}

	w = serve(srv, httptest.NewRequest(http.MethodPost, "/api/v1/watch/directories", strings.NewReader("{}")))
	if w.Code != http.StatusBadRequest {
		t.Errorf("status: got %d, want 400", w.Code)
	}
}

func TestHandleWatchDirectoriesRemove(t *testing.T) {
	mock := &mockWatchService{dirs: []string{"/tmp/docs"}}
	srv := newTestServer(t, http.StatusOK, mock)

	w := serve(srv, httptest.NewRequest(http.MethodDelete, "/api/v1/watch/directories?path=/tmp/docs", nil))
	if w.Code != http.StatusOK {
		t.Errorf("status: got %d", w.Code)
	}
	if len(mock.dirs) != 0 {
		t.Errorf("dirs after remove: got %v", mock.dirs)
	}
}

func TestServer_Stop_NotStarted(t *testing.T) {
	srv := newTestServer(t, http.StatusOK, nil)
	if err := srv.Stop(context.Background()); err != nil {
		t.Errorf("Stop: %v", err)
	}
}
