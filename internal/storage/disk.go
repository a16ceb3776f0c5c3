package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// walSidecars are the files SQLite keeps next to a database opened in WAL mode.
var walSidecars = []string{"-wal", "-shm"}

// DiskUsageBytes sums the on-disk size of the archive's data paths. A file
// path also counts its WAL sidecars; a directory (the keyword index) is
// walked. Empty and missing paths count as zero.
func DiskUsageBytes(paths ...string) (int64, error) {
	var total int64
	for _, p := range paths {
		n, err := pathSize(p)
		if err != nil {
			return 0, fmt.Errorf("disk usage of %s: %w", p, err)
		}
		total += n
	}
	return total, nil
}

func pathSize(p string) (int64, error) {
	if p == "" {
		return 0, nil
	}
	info, err := os.Stat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if !info.IsDir() {
		n := info.Size()
		for _, suffix := range walSidecars {
			if side, err := os.Stat(p + suffix); err == nil && side.Mode().IsRegular() {
				n += side.Size()
			}
		}
		return n, nil
	}

	var n int64
	err = filepath.WalkDir(p, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		n += fi.Size()
		return nil
	})
	return n, err
}
