// Package watcher watches inbox directories with fsnotify and hands settled files
// to a submit function.
package watcher

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const defaultDebounce = 400 * time.Millisecond

// SubmitFunc is called once a file has stopped changing.
type SubmitFunc func(ctx context.Context, path string)

// Filter reports whether a file should be submitted.
type Filter func(path string) bool

// Stats summarizes watcher activity.
type Stats struct {
	Directories int       `json:"directories"`
	Pending     int       `json:"pending"`
	Submitted   int64     `json:"submitted"`
	LastFile    string    `json:"last_file,omitempty"`
	LastAt      time.Time `json:"last_at"`
}

// fileState tracks one inbox file between its first event and the end of its
// submission.
type fileState struct {
	timer   *time.Timer
	running bool
	dirty   bool // rewritten while running
}

// Watcher watches inbox roots and submits new or rewritten files.
type Watcher struct {
	submit    SubmitFunc
	filter    Filter
	recursive bool
	debounce  time.Duration
	logger    *zap.Logger

	mu      sync.Mutex
	fsw     *fsnotify.Watcher
	roots   []string
	watched map[string][]string // root -> directories registered with fsnotify
	files   map[string]*fileState
	ctx     context.Context
	stats   Stats

	done     chan struct{}
	stopOnce sync.Once
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) Option {
	return func(w *Watcher) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithDebounce sets how long a file must stay unchanged before it is submitted.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithFilter restricts submissions to files the filter accepts, typically the
// upload policy's extension check. Hidden and lock files are always skipped.
func WithFilter(f Filter) Option {
	return func(w *Watcher) { w.filter = f }
}

// WithRecursive controls whether subdirectories of a root are watched.
// Watching is recursive by default.
func WithRecursive(recursive bool) Option {
	return func(w *Watcher) { w.recursive = recursive }
}

// New creates a watcher over roots. Nothing is watched until Start.
func New(roots []string, submit SubmitFunc, opts ...Option) *Watcher {
	w := &Watcher{
		submit:    submit,
		recursive: true,
		debounce:  defaultDebounce,
		logger:    zap.NewNop(),
		roots:     cleanRoots(roots),
		watched:   make(map[string][]string),
		files:     make(map[string]*fileState),
		ctx:       context.Background(),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func cleanRoots(roots []string) []string {
	out := make([]string, 0, len(roots))
	for _, r := range roots {
		if r == "" {
			continue
		}
		if abs, err := filepath.Abs(r); err == nil {
			r = abs
		}
		out = append(out, filepath.Clean(r))
	}
	return out
}

// Start registers every root with fsnotify, creating missing roots, and
// handles events until ctx is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.fsw != nil {
		w.mu.Unlock()
		return nil
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return err
	}
	for _, root := range w.roots {
		dirs, err := w.watchRoot(fsw, root)
		if err != nil {
			_ = fsw.Close()
			w.mu.Unlock()
			return err
		}
		w.watched[root] = dirs
	}
	w.fsw = fsw
	w.ctx = ctx
	w.logger.Debug("watcher started",
		zap.Strings("roots", w.roots),
		zap.Bool("recursive", w.recursive),
		zap.Duration("debounce", w.debounce),
	)
	w.mu.Unlock()

	go w.loop(ctx, fsw)
	return nil
}

func (w *Watcher) loop(ctx context.Context, fsw *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.done:
			return
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			if err != nil {
				w.logger.Warn("watcher error", zap.Error(err))
			}
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	path := filepath.Clean(ev.Name)
	if w.rootOf(path) == "" {
		return
	}
	w.logger.Debug("watcher event", zap.String("op", ev.Op.String()), zap.String("path", path))
	switch {
	case ev.Has(fsnotify.Create), ev.Has(fsnotify.Write):
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			w.handleNewDirectory(path)
			return
		}
		if w.accepts(path) {
			w.schedule(path)
		}
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		// Archived analyses outlive their inbox files.
		w.forget(path)
	}
}

// handleNewDirectory watches a directory created or moved under a root and
// submits the files already inside it.
func (w *Watcher) handleNewDirectory(dir string) {
	w.mu.Lock()
	fsw := w.fsw
	root := w.rootOfLocked(dir)
	if fsw == nil || root == "" || (!w.recursive && dir != root) {
		w.mu.Unlock()
		return
	}
	dirs, err := w.watchRoot(fsw, dir)
	if err != nil {
		w.logger.Debug("watcher failed to add directory", zap.String("path", dir), zap.Error(err))
	}
	w.watched[root] = append(w.watched[root], dirs...)
	w.mu.Unlock()

	w.syncDirectory(dir)
}

// watchRoot registers dir, and its subdirectories when recursive, creating dir
// if it is missing. It returns the registered directories.
func (w *Watcher) watchRoot(fsw *fsnotify.Watcher, dir string) ([]string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	if !w.recursive {
		if err := fsw.Add(dir); err != nil {
			return nil, err
		}
		return []string{dir}, nil
	}
	var dirs []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if err := fsw.Add(path); err != nil {
			return err
		}
		dirs = append(dirs, path)
		return nil
	})
	return dirs, err
}

func (w *Watcher) rootOf(path string) string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rootOfLocked(path)
}

func (w *Watcher) rootOfLocked(path string) string {
	for _, root := range w.roots {
		if inDir(root, path) {
			return root
		}
	}
	return ""
}

func inDir(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func (w *Watcher) accepts(path string) bool {
	if isTemporary(path) {
		return false
	}
	return w.filter == nil || w.filter(path)
}

// isTemporary reports hidden files and the lock files office suites leave next
// to open documents.
func isTemporary(path string) bool {
	base := filepath.Base(path)
	return strings.HasPrefix(base, ".") || strings.HasPrefix(base, "~$")
}

// schedule (re)starts the debounce timer for path.
func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	st := w.files[path]
	if st == nil {
		st = &fileState{}
		w.files[path] = st
	}
	if st.timer != nil {
		st.timer.Stop()
	}
	st.timer = time.AfterFunc(w.debounce, func() { w.settle(path) })
}

// settle runs when path has been quiet for the debounce period.
func (w *Watcher) settle(path string) {
	w.mu.Lock()
	st := w.files[path]
	if st == nil {
		w.mu.Unlock()
		return
	}
	st.timer = nil
	if st.running {
		st.dirty = true
		w.mu.Unlock()
		return
	}
	st.running = true
	ctx := w.ctx
	w.mu.Unlock()

	w.logger.Debug("watcher submitting file", zap.String("path", path))
	w.submitLoop(ctx, path)
}

// submitNow submits path immediately unless it is already being submitted.
func (w *Watcher) submitNow(path string) {
	w.mu.Lock()
	st := w.files[path]
	if st != nil && st.running {
		w.mu.Unlock()
		return
	}
	if st == nil {
		st = &fileState{}
		w.files[path] = st
	}
	st.running = true
	ctx := w.ctx
	w.mu.Unlock()

	w.submitLoop(ctx, path)
}

// submitLoop submits path, once more if it was rewritten meanwhile. The caller
// has marked the file running.
func (w *Watcher) submitLoop(ctx context.Context, path string) {
	for {
		if w.submit != nil {
			w.submit(ctx, path)
		}
		w.mu.Lock()
		w.stats.Submitted++
		w.stats.LastFile = path
		w.stats.LastAt = time.Now().UTC()
		st := w.files[path]
		if st.dirty && ctx.Err() == nil {
			st.dirty = false
			w.mu.Unlock()
			continue
		}
		st.running = false
		st.dirty = false
		if st.timer == nil {
			delete(w.files, path)
		}
		w.mu.Unlock()
		return
	}
}

// forget drops any pending submission of path.
func (w *Watcher) forget(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	st := w.files[path]
	if st == nil {
		return
	}
	if st.timer != nil {
		st.timer.Stop()
		st.timer = nil
	}
	st.dirty = false
	if !st.running {
		delete(w.files, path)
	}
}

// AddDirectory adds a root directory to watch and optionally submits the files
// already in it. It is a no-op before Start or for a root already watched.
func (w *Watcher) AddDirectory(root string, syncExisting bool) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fsw == nil {
		return nil
	}
	for _, r := range w.roots {
		if r == abs {
			return nil
		}
	}
	dirs, err := w.watchRoot(w.fsw, abs)
	if err != nil {
		return err
	}
	w.roots = append(w.roots, abs)
	w.watched[abs] = dirs
	w.logger.Debug("watcher directory added", zap.String("path", abs), zap.Bool("sync_existing", syncExisting))
	if syncExisting {
		go w.syncDirectory(abs)
	}
	return nil
}

// RemoveDirectory stops watching the given root. Analyses of its files stay archived.
func (w *Watcher) RemoveDirectory(root string) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fsw == nil {
		return nil
	}
	for i, r := range w.roots {
		if r != abs {
			continue
		}
		for _, dir := range w.watched[abs] {
			_ = w.fsw.Remove(dir)
		}
		delete(w.watched, abs)
		w.roots = append(w.roots[:i], w.roots[i+1:]...)
		w.logger.Debug("watcher directory removed", zap.String("path", abs))
		return nil
	}
	return nil
}

// syncDirectory submits the accepted files already under dir.
func (w *Watcher) syncDirectory(dir string) {
	w.logger.Debug("watcher syncing directory", zap.String("dir", dir))
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && !w.recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if w.accepts(path) {
			w.submitNow(path)
		}
		return nil
	})
}

// Directories returns a copy of the current watched root directories.
func (w *Watcher) Directories() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.roots...)
}

// Stats returns a snapshot of watcher activity.
func (w *Watcher) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	st := w.stats
	st.Directories = len(w.roots)
	st.Pending = len(w.files)
	return st
}

// SyncExistingFiles submits every accepted file already present in the roots.
// Call it after Start; files analysed before are answered from the archive.
func (w *Watcher) SyncExistingFiles() {
	for _, root := range w.Directories() {
		w.syncDirectory(root)
	}
}

// Stop stops the watcher and drops pending submissions. A submission already
// running completes.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if w.fsw == nil {
		w.mu.Unlock()
		return
	}
	for path, st := range w.files {
		if st.timer != nil {
			st.timer.Stop()
			st.timer = nil
		}
		if !st.running {
			delete(w.files, path)
		}
	}
	_ = w.fsw.Close()
	w.fsw = nil
	w.mu.Unlock()
	w.stopOnce.Do(func() { close(w.done) })
}
