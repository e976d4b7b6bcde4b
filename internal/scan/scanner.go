package scan

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"
)

// ErrRootNotFound indicates the scan root does not exist or is not a directory.
var ErrRootNotFound = errors.New("scan root not found")

// Item is one top-level entry under the scan root, treated as an
// indivisible unit of work.
type Item struct {
	RelPath   string `json:"rel_path"`
	SizeBytes uint64 `json:"size_bytes"`
	FileCount uint64 `json:"file_count"`
	IsDir     bool   `json:"is_dir"`
}

// Result holds the outcome of scanning a root directory.
type Result struct {
	Items      []Item
	TotalFiles uint64
	TotalBytes uint64
}

// Scan enumerates the entries one level below root. Directory entries are
// sized by full recursive traversal; files count as themselves. Entries
// matching an exclude pattern are skipped. An empty directory yields a
// Result with no items, not an error.
func Scan(root string, excludes []string) (*Result, error) {
	info, err := os.Stat(root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrRootNotFound, root)
		}
		return nil, fmt.Errorf("stat scan root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrRootNotFound, root)
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("read scan root: %w", err)
	}

	result := &Result{}
	for _, entry := range entries {
		if matchesAny(entry.Name(), excludes) {
			continue
		}

		item := Item{RelPath: entry.Name(), IsDir: entry.IsDir()}
		if entry.IsDir() {
			item.SizeBytes, item.FileCount = dirStats(filepath.Join(root, entry.Name()), excludes)
		} else {
			// Lstat so symlinks count as their link size rather than
			// following the target outside the root.
			fi, err := os.Lstat(filepath.Join(root, entry.Name()))
			if err != nil {
				continue
			}
			if fi.Size() > 0 {
				item.SizeBytes = uint64(fi.Size())
			}
			item.FileCount = 1
		}

		result.Items = append(result.Items, item)
		result.TotalFiles += item.FileCount
		result.TotalBytes += item.SizeBytes
	}

	return result, nil
}

// dirStats computes the aggregate size and file count of a directory tree.
// Unreadable entries are skipped rather than failing the scan.
func dirStats(dir string, excludes []string) (bytes uint64, files uint64) {
	filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if matchesAny(d.Name(), excludes) {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return nil
		}
		if fi.Size() > 0 {
			bytes += uint64(fi.Size())
		}
		files++
		return nil
	})
	return bytes, files
}

// matchesAny reports whether name matches any of the glob patterns.
// Patterns apply to base names, mirroring rsync --exclude semantics for
// simple patterns.
func matchesAny(name string, patterns []string) bool {
	for _, p := range patterns {
		if ok, err := doublestar.Match(p, name); err == nil && ok {
			return true
		}
	}
	return false
}
