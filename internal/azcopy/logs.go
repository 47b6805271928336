package azcopy

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

const (
	defaultWorkDir  = "/app/.azcopy"
	fallbackWorkDir = "/tmp/.azcopy"

	// maxExcerptBytes caps output excerpts attached to errors.
	maxExcerptBytes = 4 * 1024
	// tailLines is the number of log lines kept in an excerpt.
	tailLines = 5
	// tailWindow is how far from the end of a log file excerpts are read.
	tailWindow = 64 * 1024
)

var sasQueryPattern = regexp.MustCompile(`(https?://[^\s"'?]*)\?[^\s"']*`)

// redact replaces the query string of every URL in s, where SAS tokens live.
func redact(s string) string {
	return sasQueryPattern.ReplaceAllString(s, "${1}?REDACTED")
}

func redactCommand(command []string) []string {
	out := make([]string, len(command))
	for i, arg := range command {
		out[i] = redact(arg)
	}
	return out
}

// excerpt keeps the last tailLines lines of s, bounded and redacted.
func excerpt(s string) string {
	s = strings.TrimRight(s, "\n")
	if s == "" {
		return ""
	}
	lines := strings.Split(s, "\n")
	if len(lines) > tailLines {
		lines = lines[len(lines)-tailLines:]
	}
	out := redact(strings.Join(lines, "\n"))
	if len(out) > maxExcerptBytes {
		out = out[len(out)-maxExcerptBytes:]
	}
	return out
}

// ensureDir creates path and reports whether files can be created in it.
func ensureDir(path string) bool {
	if path == "" {
		return false
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return false
	}
	f, err := os.CreateTemp(path, ".probe-*")
	if err != nil {
		return false
	}
	name := f.Name()
	_ = f.Close()
	_ = os.Remove(name)
	return true
}

// resolveWorkDir returns the azcopy log/plan directory, or "" to leave
// azcopy's own defaults alone. A configured directory never falls back.
func resolveWorkDir(configured string) string {
	if configured != "" {
		if ensureDir(configured) {
			return configured
		}
		return ""
	}
	if ensureDir(defaultWorkDir) {
		return defaultWorkDir
	}
	if ensureDir(fallbackWorkDir) {
		return fallbackWorkDir
	}
	return ""
}

func resolveLogDir(configured, workDir string) string {
	if configured != "" && ensureDir(configured) {
		return configured
	}
	if workDir != "" {
		return workDir
	}
	dir := filepath.Join(os.TempDir(), ".azcopy")
	_ = ensureDir(dir)
	return dir
}

func logPaths(logDir, name string) (string, string) {
	return filepath.Join(logDir, "azcopy-"+name+"-stdout.log"),
		filepath.Join(logDir, "azcopy-"+name+"-stderr.log")
}

// createLogFiles opens the per-run log files. A file that cannot be
// created is replaced by a discard writer.
func createLogFiles(logDir string, startedAt time.Time) (stdoutPath, stderrPath string, stdout, stderr io.WriteCloser) {
	stdoutPath, stderrPath = logPaths(logDir, startedAt.UTC().Format("20060102T150405Z"))
	return stdoutPath, stderrPath, openLog(stdoutPath), openLog(stderrPath)
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

func openLog(path string) io.WriteCloser {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nopWriteCloser{io.Discard}
	}
	return f
}

// renameLogFiles moves the timestamped logs to per-job names. Best effort:
// the original paths are returned for any file that could not be moved.
func renameLogFiles(stdoutPath, stderrPath, logDir, jobID string) (string, string) {
	newStdout, newStderr := logPaths(logDir, jobID)
	if err := os.Rename(stdoutPath, newStdout); err != nil {
		newStdout = stdoutPath
	}
	if err := os.Rename(stderrPath, newStderr); err != nil {
		newStderr = stderrPath
	}
	return newStdout, newStderr
}

// readTail returns the last tailLines lines of a log file, or nil.
func readTail(path string) []string {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.Size() == 0 {
		return nil
	}
	offset := info.Size() - tailWindow
	if offset < 0 {
		offset = 0
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return nil
	}

	var lines []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), tailWindow+1)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	// The first line may be cut by the window.
	if offset > 0 && len(lines) > 0 {
		lines = lines[1:]
	}
	if len(lines) > tailLines {
		lines = lines[len(lines)-tailLines:]
	}
	return lines
}
