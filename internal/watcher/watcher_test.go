package watcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hyperjump/asil/internal/extract"
)

// recorder collects submitted paths.
type recorder struct {
	mu    sync.Mutex
	paths []string
}

func (r *recorder) submit(_ context.Context, path string) {
	r.mu.Lock()
	r.paths = append(r.paths, path)
	r.mu.Unlock()
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.paths...)
}

func (r *recorder) has(suffix string) bool {
	for _, p := range r.snapshot() {
		if strings.HasSuffix(p, suffix) {
			return true
		}
	}
	return false
}

// eventually polls cond until it holds or two seconds pass.
func eventually(t *testing.T, cond func() bool, msg string, args ...interface{}) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Errorf(msg, args...)
}

func extensions(exts ...string) Option {
	return WithFilter(extract.NewPolicy(exts, 0).Allows)
}

func startWatcher(t *testing.T, roots []string, exts []string, rec *recorder) *Watcher {
	t.Helper()
	w := New(roots, rec.submit, extensions(exts...), WithDebounce(50*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(w.Stop)
	return w
}

func TestWatcher_AddRemoveDirectories(t *testing.T) {
	dir := t.TempDir()
	w := startWatcher(t, nil, []string{".pdf"}, &recorder{})

	if err := w.AddDirectory(dir, false); err != nil {
		t.Fatal(err)
	}
	if err := w.AddDirectory(dir, false); err != nil {
		t.Fatal(err)
	}
	dirs := w.Directories()
	if len(dirs) != 1 || filepath.Clean(dirs[0]) != filepath.Clean(dir) {
		t.Errorf("Directories() = %v", dirs)
	}

	if err := w.RemoveDirectory(dir); err != nil {
		t.Fatal(err)
	}
	if len(w.Directories()) != 0 {
		t.Errorf("after remove: %v", w.Directories())
	}
}

func TestWatcher_AddDirectorySyncsExisting(t *testing.T) {
	dir := t.TempDir()
	if err := writeFile(filepath.Join(dir, "thesis.pdf"), "%PDF"); err != nil {
		t.Fatal(err)
	}
	rec := &recorder{}
	w := startWatcher(t, nil, []string{".pdf"}, rec)

	if err := w.AddDirectory(dir, true); err != nil {
		t.Fatal(err)
	}
	eventually(t, func() bool { return rec.has("thesis.pdf") }, "expected thesis.pdf to be submitted, got %v", rec.snapshot())
}

func TestWatcher_DebounceAndExtensionFilter(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "sub")
	if err := mkdirAll(sub); err != nil {
		t.Fatal(err)
	}
	rec := &recorder{}
	startWatcher(t, []string{dir}, []string{".png"}, rec)

	fPath := filepath.Join(sub, "poster.png")
	for i := 0; i < 3; i++ {
		if err := writeFile(fPath, strings.Repeat("x", i+1)); err != nil {
			t.Fatal(err)
		}
	}
	if err := writeFile(filepath.Join(sub, "notes.md"), "skip"); err != nil {
		t.Fatal(err)
	}

	eventually(t, func() bool { return rec.has("poster.png") }, "expected poster.png to be submitted")
	time.Sleep(200 * time.Millisecond)
	got := rec.snapshot()
	if len(got) != 1 {
		t.Errorf("expected a single debounced submission, got %v", got)
	}
}

func TestWatcher_SkipsTemporaryFiles(t *testing.T) {
	dir := t.TempDir()
	rec := &recorder{}
	startWatcher(t, []string{dir}, []string{".docx"}, rec)

	for _, name := range []string{"~$report.docx", ".report.docx", "report.docx"} {
		if err := writeFile(filepath.Join(dir, name), "x"); err != nil {
			t.Fatal(err)
		}
	}
	eventually(t, func() bool { return rec.has("report.docx") }, "expected report.docx to be submitted")
	time.Sleep(200 * time.Millisecond)
	for _, p := range rec.snapshot() {
		if base := filepath.Base(p); base != "report.docx" {
			t.Errorf("temporary file %s should not be submitted", base)
		}
	}
}

func TestWatcher_FilterFollowsUploadPolicy(t *testing.T) {
	w := New(nil, nil, extensions("pdf", ".JPEG"))
	tests := map[string]bool{
		"/in/b.pdf":       true,
		"/in/b.PDF":       true,
		"/in/b.jpeg":      true,
		"/in/b.md":        false,
		"/in/~$b.pdf":     false,
		"/in/.hidden.pdf": false,
	}
	for path, want := range tests {
		if got := w.accepts(path); got != want {
			t.Errorf("accepts(%q) = %v, want %v", path, got, want)
		}
	}

	all := New(nil, nil)
	if !all.accepts("/in/anything.bin") {
		t.Error("watcher without a filter should accept every visible file")
	}
}

func TestIsTemporary(t *testing.T) {
	tests := map[string]bool{
		"/in/~$draft.docx": true,
		"/in/.DS_Store":    true,
		"/in/draft.docx":   false,
	}
	for path, want := range tests {
		if got := isTemporary(path); got != want {
			t.Errorf("isTemporary(%q) = %v, want %v", path, got, want)
		}
	}
}

func TestInDir(t *testing.T) {
	tests := []struct {
		dir  string
		path string
		want bool
	}{
		{"/tmp/a", "/tmp/a", true},
		{"/tmp/a", "/tmp/a/b.txt", true},
		{"/tmp/a", "/tmp/b", false},
		{"/tmp/a", "/tmp/a/../b", false},
	}
	for _, tt := range tests {
		got := inDir(tt.dir, tt.path)
		if got != tt.want {
			t.Errorf("inDir(%q, %q) = %v, want %v", tt.dir, tt.path, got, tt.want)
		}
	}
}

func TestWatcher_SyncExistingFiles(t *testing.T) {
	dir := t.TempDir()
	if err := writeFile(filepath.Join(dir, "a.pdf"), "%PDF"); err != nil {
		t.Fatal(err)
	}
	if err := writeFile(filepath.Join(dir, "ignore.xyz"), "x"); err != nil {
		t.Fatal(err)
	}
	rec := &recorder{}
	w := startWatcher(t, []string{dir}, []string{".pdf"}, rec)
	w.SyncExistingFiles()

	got := rec.snapshot()
	if len(got) != 1 || !strings.HasSuffix(got[0], "a.pdf") {
		t.Errorf("expected one submitted file a.pdf, got %v", got)
	}
}

func TestWatcher_SyncExistingFiles_nonRecursive(t *testing.T) {
	dir := t.TempDir()
	if err := mkdirAll(filepath.Join(dir, "nested")); err != nil {
		t.Fatal(err)
	}
	if err := writeFile(filepath.Join(dir, "top.pdf"), "%PDF"); err != nil {
		t.Fatal(err)
	}
	if err := writeFile(filepath.Join(dir, "nested", "deep.pdf"), "%PDF"); err != nil {
		t.Fatal(err)
	}
	rec := &recorder{}
	w := New([]string{dir}, rec.submit, extensions(".pdf"), WithRecursive(false))
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()
	w.SyncExistingFiles()

	got := rec.snapshot()
	if len(got) != 1 || !strings.HasSuffix(got[0], "top.pdf") {
		t.Errorf("expected only top.pdf, got %v", got)
	}
}

func TestWatcher_Start_createsMissingRootDirectory(t *testing.T) {
	root := filepath.Join(t.TempDir(), "watch", "me")

	w := New([]string{root}, nil, extensions(".pdf"))
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	if _, err := os.Stat(root); err != nil {
		t.Errorf("root directory should exist after Start: %v", err)
	}
}

func TestWatcher_HandleNewDirectory_submitsFilesInNewFolder(t *testing.T) {
	dir := t.TempDir()
	rec := &recorder{}
	startWatcher(t, []string{dir}, []string{".pdf", ".png"}, rec)

	newFolder := filepath.Join(dir, "new-folder")
	if err := mkdirAll(newFolder); err != nil {
		t.Fatal(err)
	}
	if err := writeFile(filepath.Join(newFolder, "doc1.pdf"), "%PDF"); err != nil {
		t.Fatal(err)
	}
	if err := writeFile(filepath.Join(newFolder, "doc2.png"), "png"); err != nil {
		t.Fatal(err)
	}
	if err := writeFile(filepath.Join(newFolder, "ignore.xyz"), "skip"); err != nil {
		t.Fatal(err)
	}

	eventually(t, func() bool { return rec.has("doc1.pdf") && rec.has("doc2.png") },
		"expected doc1.pdf and doc2.png to be submitted, got %v", rec.snapshot())
	if rec.has("ignore.xyz") {
		t.Errorf("ignore.xyz should not be submitted")
	}
}

func TestWatcher_HandleNewDirectory_recursiveSubfolders(t *testing.T) {
	dir := t.TempDir()
	rec := &recorder{}
	startWatcher(t, []string{dir}, []string{".pdf"}, rec)

	nested := filepath.Join(dir, "level1", "level2")
	if err := mkdirAll(nested); err != nil {
		t.Fatal(err)
	}
	if err := writeFile(filepath.Join(nested, "deep.pdf"), "%PDF"); err != nil {
		t.Fatal(err)
	}

	eventually(t, func() bool { return rec.has("deep.pdf") }, "expected deep.pdf to be submitted, got %v", rec.snapshot())
}

func TestWatcher_RewriteWhileSubmittingResubmits(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "poster.png")
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	rec := &recorder{}
	w := New([]string{dir}, func(ctx context.Context, p string) {
		rec.submit(ctx, p)
		select {
		case started <- struct{}{}:
			<-release
		default:
		}
	}, extensions(".png"), WithDebounce(30*time.Millisecond))
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	if err := writeFile(path, "v1"); err != nil {
		t.Fatal(err)
	}
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("first submission did not start")
	}
	if err := writeFile(path, "v2"); err != nil {
		t.Fatal(err)
	}
	time.Sleep(150 * time.Millisecond)
	if got := len(rec.snapshot()); got != 1 {
		t.Fatalf("rewrite must wait for the running submission, got %d calls", got)
	}
	close(release)

	eventually(t, func() bool { return len(rec.snapshot()) == 2 }, "expected a second submission, got %v", rec.snapshot())
	eventually(t, func() bool { return w.Stats().Pending == 0 }, "expected no pending files, got %+v", w.Stats())
}

func TestWatcher_Stats(t *testing.T) {
	dir := t.TempDir()
	if err := writeFile(filepath.Join(dir, "a.pdf"), "%PDF"); err != nil {
		t.Fatal(err)
	}
	if err := writeFile(filepath.Join(dir, "b.pdf"), "%PDF"); err != nil {
		t.Fatal(err)
	}
	rec := &recorder{}
	w := startWatcher(t, []string{dir}, []string{".pdf"}, rec)
	if st := w.Stats(); st.Directories != 1 || st.Submitted != 0 {
		t.Fatalf("fresh stats: %+v", st)
	}
	w.SyncExistingFiles()

	st := w.Stats()
	if st.Submitted != 2 || st.Pending != 0 {
		t.Errorf("after sync: %+v", st)
	}
	if !strings.HasSuffix(st.LastFile, "b.pdf") || st.LastAt.IsZero() {
		t.Errorf("last submission: %q at %v", st.LastFile, st.LastAt)
	}
}

func mkdirAll(path string) error {
	return os.MkdirAll(path, 0755)
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0600)
}
