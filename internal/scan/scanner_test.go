package scan

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

// writeFile creates a file with n bytes of content
func writeFile(t *testing.T, path string, n int) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", path, err)
	}
	if err := os.WriteFile(path, make([]byte, n), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func itemByPath(items []Item, rel string) *Item {
	for i := range items {
		if items[i].RelPath == rel {
			return &items[i]
		}
	}
	return nil
}

func TestScan(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "loose.bin"), 100)
	writeFile(t, filepath.Join(root, "photos", "a.jpg"), 300)
	writeFile(t, filepath.Join(root, "photos", "2024", "b.jpg"), 200)
	writeFile(t, filepath.Join(root, "empty-dir", ".keep"), 0)

	result, err := Scan(root, nil)
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}

	if len(result.Items) != 3 {
		t.Fatalf("expected 3 items, got %d", len(result.Items))
	}

	loose := itemByPath(result.Items, "loose.bin")
	if loose == nil {
		t.Fatal("loose.bin not found")
	}
	if loose.IsDir {
		t.Error("loose.bin should not be a directory")
	}
	if loose.SizeBytes != 100 || loose.FileCount != 1 {
		t.Errorf("loose.bin = %d bytes / %d files, want 100 / 1", loose.SizeBytes, loose.FileCount)
	}

	photos := itemByPath(result.Items, "photos")
	if photos == nil {
		t.Fatal("photos not found")
	}
	if !photos.IsDir {
		t.Error("photos should be a directory")
	}
	// Nested files roll up into the top-level item
	if photos.SizeBytes != 500 || photos.FileCount != 2 {
		t.Errorf("photos = %d bytes / %d files, want 500 / 2", photos.SizeBytes, photos.FileCount)
	}

	if result.TotalFiles != 4 {
		t.Errorf("TotalFiles = %d, want 4", result.TotalFiles)
	}
	if result.TotalBytes != 600 {
		t.Errorf("TotalBytes = %d, want 600", result.TotalBytes)
	}
}

func TestScanEmptyRoot(t *testing.T) {
	result, err := Scan(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if len(result.Items) != 0 {
		t.Errorf("expected no items, got %d", len(result.Items))
	}
	if result.TotalFiles != 0 || result.TotalBytes != 0 {
		t.Errorf("totals should be zero, got %d files / %d bytes", result.TotalFiles, result.TotalBytes)
	}
}

func TestScanRootNotFound(t *testing.T) {
	_, err := Scan(filepath.Join(t.TempDir(), "missing"), nil)
	if !errors.Is(err, ErrRootNotFound) {
		t.Errorf("error = %v, want ErrRootNotFound", err)
	}
}

func TestScanRootIsFile(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "file.txt")
	writeFile(t, path, 10)

	_, err := Scan(path, nil)
	if !errors.Is(err, ErrRootNotFound) {
		t.Errorf("error = %v, want ErrRootNotFound", err)
	}
}

func TestScanExcludes(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "keep.txt"), 10)
	writeFile(t, filepath.Join(root, "skip.tmp"), 20)
	writeFile(t, filepath.Join(root, ".DS_Store"), 30)
	writeFile(t, filepath.Join(root, "media", "movie.mkv"), 1000)
	writeFile(t, filepath.Join(root, "media", "cache.tmp"), 500)

	result, err := Scan(root, []string{"*.tmp", ".DS_Store"})
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}

	if itemByPath(result.Items, "skip.tmp") != nil {
		t.Error("skip.tmp should be excluded")
	}
	if itemByPath(result.Items, ".DS_Store") != nil {
		t.Error(".DS_Store should be excluded")
	}

	// Excludes also apply inside directory items
	media := itemByPath(result.Items, "media")
	if media == nil {
		t.Fatal("media not found")
	}
	if media.SizeBytes != 1000 || media.FileCount != 1 {
		t.Errorf("media = %d bytes / %d files, want 1000 / 1", media.SizeBytes, media.FileCount)
	}

	if result.TotalBytes != 1010 {
		t.Errorf("TotalBytes = %d, want 1010", result.TotalBytes)
	}
}

func TestScanSymlinkNotFollowed(t *testing.T) {
	outside := t.TempDir()
	writeFile(t, filepath.Join(outside, "big.bin"), 4096)

	root := t.TempDir()
	if err := os.Symlink(filepath.Join(outside, "big.bin"), filepath.Join(root, "link")); err != nil {
		t.Skipf("symlinks not supported: %v", err)
	}

	result, err := Scan(root, nil)
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}

	link := itemByPath(result.Items, "link")
	if link == nil {
		t.Fatal("link not found")
	}
	// Link size is the path length, never the target's 4096 bytes
	if link.SizeBytes >= 4096 {
		t.Errorf("symlink counted at target size: %d bytes", link.SizeBytes)
	}
}

func TestCheckName(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  IssueKind
	}{
		{"clean name", "report.pdf", ""},
		{"clean with spaces inside", "my report.pdf", ""},
		{"colon", "12:30.txt", IssueReservedChar},
		{"question mark", "what?.txt", IssueReservedChar},
		{"asterisk", "a*b.txt", IssueReservedChar},
		{"pipe", "a|b", IssueReservedChar},
		{"backslash", `a\b`, IssueReservedChar},
		{"quote", `say "hi".txt`, IssueReservedChar},
		{"angle brackets", "a<b>.txt", IssueReservedChar},
		{"control char", "bad\x01name", IssueControlChar},
		{"tab", "bad\tname", IssueControlChar},
		{"leading space", " padded.txt", IssueLeadingSpace},
		{"trailing space", "padded.txt ", IssueTrailingSpace},
		{"trailing dot", "archive.", IssueTrailingDot},
		{"hidden file ok", ".bashrc", ""},
		{"very long", string(make([]byte, 300)), IssueControlChar},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CheckName(tt.input); got != tt.want {
				t.Errorf("CheckName(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestCheckNameTooLong(t *testing.T) {
	long := make([]byte, 300)
	for i := range long {
		long[i] = 'a'
	}
	if got := CheckName(string(long)); got != IssueTooLong {
		t.Errorf("CheckName(long) = %q, want too_long", got)
	}
}

func TestCheckFilenames(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "clean.txt"), 1)
	writeFile(t, filepath.Join(root, "docs", "trailing. "), 1)
	writeFile(t, filepath.Join(root, "skipme", "a|b.txt"), 1)

	issues := CheckFilenames(root, []string{"skipme"})

	if len(issues) != 1 {
		t.Fatalf("expected 1 issue, got %d: %+v", len(issues), issues)
	}
	if issues[0].RelPath != filepath.Join("docs", "trailing. ") {
		t.Errorf("RelPath = %q", issues[0].RelPath)
	}
	if issues[0].Kind != IssueTrailingSpace {
		t.Errorf("Kind = %q, want trailing_space", issues[0].Kind)
	}
}
