// Package mount provides the narrow health interface the copy engine needs
// from the remotely-backed mount: is the path currently mounted and
// readable. Mount lifecycle itself is managed elsewhere.
package mount

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"syscall"
)

// ErrUnavailable indicates a mount that is not currently usable. Jobs fail
// fast with this error before any scanning starts; the operator can retry
// by restarting the job once the mount recovers.
var ErrUnavailable = errors.New("mount unavailable")

// Status is a typed snapshot of a mount point's health.
type Status struct {
	Path    string `json:"path"`
	Mounted bool   `json:"mounted"`
	Healthy bool   `json:"healthy"`
	Detail  string `json:"detail,omitempty"`
}

// Checker reports mount health. Implementations must be cheap enough to
// call before every job start and between worker items.
type Checker interface {
	// Check probes the given path and returns its status. The returned
	// error is ErrUnavailable (wrapped) when the path cannot be used.
	Check(path string) (Status, error)
}

// FUSEChecker probes a FUSE-backed mount point. A disconnected FUSE mount
// fails stat/readdir immediately with ENOTCONN or ESTALE, so no timeout
// is needed.
type FUSEChecker struct {
	// MountsFile is the kernel mount table, overridable for tests.
	MountsFile string
}

// NewChecker returns a checker reading /proc/mounts.
func NewChecker() *FUSEChecker {
	return &FUSEChecker{MountsFile: "/proc/mounts"}
}

// Check probes path by statting it and listing one directory entry.
func (c *FUSEChecker) Check(path string) (Status, error) {
	st := Status{Path: path, Mounted: c.isMounted(path)}

	if _, err := os.Stat(path); err != nil {
		st.Detail = classify(err)
		return st, fmt.Errorf("%w: %s: %s", ErrUnavailable, path, st.Detail)
	}

	f, err := os.Open(path)
	if err != nil {
		st.Detail = classify(err)
		return st, fmt.Errorf("%w: %s: %s", ErrUnavailable, path, st.Detail)
	}
	defer f.Close()
	// io.EOF means the directory is empty, which is still healthy.
	if _, err := f.Readdirnames(1); err != nil && !errors.Is(err, io.EOF) {
		st.Detail = classify(err)
		return st, fmt.Errorf("%w: %s: %s", ErrUnavailable, path, st.Detail)
	}

	st.Healthy = true
	return st, nil
}

// isMounted reports whether path appears in the mount table. Advisory
// only: a local directory that is not a mount point still checks healthy.
func (c *FUSEChecker) isMounted(path string) bool {
	data, err := os.ReadFile(c.MountsFile)
	if err != nil {
		return false
	}
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) >= 2 && fields[1] == path {
			return true
		}
	}
	return false
}

func classify(err error) string {
	switch {
	case errors.Is(err, syscall.ENOTCONN):
		return "mount disconnected (transport endpoint not connected)"
	case errors.Is(err, syscall.ESTALE):
		return "mount stale (stale file handle)"
	case errors.Is(err, os.ErrNotExist):
		return "path does not exist"
	case errors.Is(err, os.ErrPermission):
		return "permission denied"
	default:
		return err.Error()
	}
}
