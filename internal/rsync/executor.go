package rsync

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// termGrace is how long a cancelled subprocess gets to exit after SIGTERM
// before it is killed.
const termGrace = 5 * time.Second

// Executor runs rsync commands. The tool is treated as an opaque
// subprocess: one invocation per item, line-oriented progress on stdout.
type Executor struct {
	binaryPath string
}

// NewExecutor creates an executor using the rsync binary on PATH.
func NewExecutor() *Executor {
	return &Executor{binaryPath: "rsync"}
}

// SetBinaryPath sets a custom path to the rsync binary.
func (e *Executor) SetBinaryPath(path string) {
	e.binaryPath = path
}

// CheckInstalled verifies that rsync is installed and accessible.
func (e *Executor) CheckInstalled(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, e.binaryPath, "--version")
	output, err := cmd.Output()
	if err != nil {
		return fmt.Errorf("rsync not found or not executable: %w", err)
	}
	if !strings.Contains(string(output), "rsync") {
		return fmt.Errorf("unexpected output from rsync --version: %s", output)
	}
	return nil
}

// Version returns the first line of rsync --version output.
func (e *Executor) Version(ctx context.Context) (string, error) {
	cmd := exec.CommandContext(ctx, e.binaryPath, "--version")
	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("rsync --version failed: %w", err)
	}
	line, _, _ := strings.Cut(string(output), "\n")
	return strings.TrimSpace(line), nil
}

// Copy transfers one item. Progress lines are sent to progressChan without
// blocking; callers that fall behind miss updates rather than stalling the
// transfer. A non-zero exit ends up in the CopyResult; the returned error
// is non-nil only when the subprocess could not be run at all.
//
// Cancellation policy: on context cancel the subprocess receives SIGTERM
// and is killed if still alive after the grace period. The destination may
// hold partially written files; a re-run converges.
func (e *Executor) Copy(ctx context.Context, req CopyRequest, progressChan chan<- Progress) (*CopyResult, error) {
	args := append([]string{}, req.Options.Args...)
	args = append(args, "--info=progress2", "--no-inc-recursive")
	for _, pattern := range req.Options.Excludes {
		args = append(args, "--exclude", pattern)
	}

	// Directory items sync content into a same-named directory under the
	// destination root; plain files go straight into the root.
	if req.IsDir {
		args = append(args, req.SourcePath+"/", filepath.Join(req.DestPath, req.ItemName)+"/")
	} else {
		args = append(args, req.SourcePath, req.DestPath)
	}

	cmd := exec.CommandContext(ctx, e.binaryPath, args...)
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = termGrace

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start rsync: %w", err)
	}

	result := &CopyResult{}
	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if isErrorLine(line) {
			result.Errors = append(result.Errors, line)
			continue
		}

		if p := parseProgressLine(line); p != nil {
			result.BytesTransferred = p.BytesTransferred
			if progressChan != nil {
				select {
				case progressChan <- *p:
				default:
				}
			}
		}
	}

	if err := cmd.Wait(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		return nil, fmt.Errorf("rsync did not run: %w", err)
	}

	return result, nil
}

// DryRun previews a transfer with --dry-run --itemize-changes.
func (e *Executor) DryRun(ctx context.Context, req CopyRequest) (*DryRunResult, error) {
	args := append([]string{}, req.Options.Args...)
	args = append(args, "--dry-run", "--itemize-changes")
	for _, pattern := range req.Options.Excludes {
		args = append(args, "--exclude", pattern)
	}
	args = append(args, req.SourcePath+"/", req.DestPath+"/")

	cmd := exec.CommandContext(ctx, e.binaryPath, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start rsync: %w", err)
	}

	result := &DryRunResult{}
	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if isErrorLine(line) {
			result.Errors = append(result.Errors, line)
			continue
		}
		if f := parseItemizedLine(line); f != nil {
			result.Files = append(result.Files, *f)
			switch f.Action {
			case ActionDelete:
				result.FilesToDelete++
			default:
				if !f.IsDir {
					result.FilesToTransfer++
				}
			}
		}
	}

	if err := cmd.Wait(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			// Partial listings are still useful; report the errors we saw.
			return result, nil
		}
		return nil, fmt.Errorf("rsync did not run: %w", err)
	}

	return result, nil
}

// isErrorLine reports whether a stream line is an rsync diagnostic.
func isErrorLine(line string) bool {
	return strings.HasPrefix(line, "rsync:") || strings.HasPrefix(line, "rsync error:")
}

// progress2 lines look like:
//
//	1,234,567  45%   12.34MB/s    0:01:23
//
// with an optional "(xfr#n, to-chk=a/b)" suffix.
var progressRe = regexp.MustCompile(`^([\d,]+)\s+(\d+)%\s+([\d.]+\S*/s)(?:\s+(\d+:\d{2}:\d{2}))?`)

// parseProgressLine parses one --info=progress2 line, returning nil for
// anything that is not a progress line.
func parseProgressLine(line string) *Progress {
	m := progressRe.FindStringSubmatch(line)
	if m == nil {
		return nil
	}

	bytes, err := strconv.ParseUint(strings.ReplaceAll(m[1], ",", ""), 10, 64)
	if err != nil {
		return nil
	}
	percent, err := strconv.ParseFloat(m[2], 64)
	if err != nil {
		return nil
	}

	return &Progress{
		BytesTransferred: bytes,
		Percent:          percent,
		Rate:             m[3],
		ETA:              m[4],
	}
}

// --itemize-changes lines look like:
//
//	>f+++++++++ path/to/file      new file
//	>f.st...... path/to/file      file to update
//	cd+++++++++ path/to/dir/      new directory
//	*deleting   path/to/file      deletion
func parseItemizedLine(line string) *DryRunFile {
	if strings.HasPrefix(line, "*deleting") {
		_, path, ok := strings.Cut(line, " ")
		if !ok {
			return nil
		}
		return &DryRunFile{Path: strings.TrimSpace(path), Action: ActionDelete}
	}

	if len(line) < 12 {
		return nil
	}
	code := line[:11]
	switch code[0] {
	case '>', 'c', '<', '.':
	default:
		return nil
	}

	path := strings.TrimSpace(line[11:])
	if path == "" {
		return nil
	}

	f := &DryRunFile{
		Path:  strings.TrimSuffix(path, "/"),
		IsDir: code[1] == 'd',
	}
	if strings.Contains(code, "+") {
		f.Action = ActionTransfer
	} else {
		f.Action = ActionUpdate
	}
	return f
}
