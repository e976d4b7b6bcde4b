package scan

import (
	"io/fs"
	"path/filepath"
	"strings"
)

// IssueKind classifies a problematic filename.
type IssueKind string

const (
	IssueReservedChar  IssueKind = "reserved_char"
	IssueControlChar   IssueKind = "control_char"
	IssueLeadingSpace  IssueKind = "leading_space"
	IssueTrailingSpace IssueKind = "trailing_space"
	IssueTrailingDot   IssueKind = "trailing_dot"
	IssueTooLong       IssueKind = "too_long"
)

// Issue describes a filename that is likely to break on SMB or Windows
// destinations. Issues are advisory; they never fail a job.
type Issue struct {
	RelPath string    `json:"rel_path"`
	Name    string    `json:"name"`
	IsDir   bool      `json:"is_dir"`
	Kind    IssueKind `json:"kind"`
}

// Characters rejected by Windows and most SMB servers.
const reservedChars = `\:*?"<>|`

// CheckName returns the issue kind for a single path component, or "" if
// the name is clean.
func CheckName(name string) IssueKind {
	if strings.ContainsAny(name, reservedChars) {
		return IssueReservedChar
	}
	for _, r := range name {
		if r < 0x20 {
			return IssueControlChar
		}
	}
	if strings.HasPrefix(name, " ") {
		return IssueLeadingSpace
	}
	if strings.HasSuffix(name, " ") {
		return IssueTrailingSpace
	}
	if strings.HasSuffix(name, ".") && name != "." && name != ".." {
		return IssueTrailingDot
	}
	// 255 bytes is the common per-component limit.
	if len(name) > 255 {
		return IssueTooLong
	}
	return ""
}

// CheckFilenames walks the tree under root and reports every entry whose
// name would be problematic on the destination filesystem. Excluded names
// are not descended into or reported.
func CheckFilenames(root string, excludes []string) []Issue {
	var issues []Issue
	filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if path == root {
			return nil
		}
		if matchesAny(d.Name(), excludes) {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if kind := CheckName(d.Name()); kind != "" {
			rel, relErr := filepath.Rel(root, path)
			if relErr != nil {
				rel = path
			}
			issues = append(issues, Issue{
				RelPath: rel,
				Name:    d.Name(),
				IsDir:   d.IsDir(),
				Kind:    kind,
			})
		}
		return nil
	})
	return issues
}
