package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/hyperjump/asil/internal/models"
)

// AcceptedFiles walks dir recursively and returns the regular files for which
// allows reports true, in lexical order. Symlinks are resolved.
func AcceptedFiles(dir string, allows func(name string) bool) ([]string, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}
	info, err := os.Stat(absDir)
	if err != nil {
		return nil, fmt.Errorf("stat directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("not a directory: %s", absDir)
	}
	var files []string
	err = filepath.WalkDir(absDir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || !allows(path) {
			return nil
		}
		finfo, statErr := os.Stat(path)
		if statErr != nil || !finfo.Mode().IsRegular() {
			return nil
		}
		files = append(files, path)
		return nil
	})
	sort.Strings(files)
	return files, err
}

// FileResult is called once per file submitted by SubmitDirectory.
type FileResult func(path string, out *models.Outcome, err error)

// SubmitDirectory submits every file under dir that the upload policy accepts.
// A failed file does not stop the walk. Returns the number of files analysed,
// duplicates included.
func (s *Service) SubmitDirectory(ctx context.Context, dir, source, password string, each FileResult) (int, error) {
	files, err := AcceptedFiles(dir, s.policy.Allows)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		out, err := s.SubmitFile(ctx, path, source, password)
		if each != nil {
			each(path, out, err)
		}
		if err == nil {
			n++
		}
	}
	return n, nil
}
