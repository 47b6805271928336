package azcopy

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds. Match them with errors.Is.
var (
	ErrNotInstalled  = errors.New("azcopy executable not found")
	ErrStart         = errors.New("azcopy failed to start")
	ErrJobIDNotFound = errors.New("azcopy job id not found in output")
	ErrJobNotFound   = errors.New("azcopy job not found")
	ErrParse         = errors.New("azcopy output could not be parsed")
	ErrNotFinished   = errors.New("azcopy job has not finished")
)

var kindNames = map[error]string{
	ErrNotInstalled:  "NotInstalledError",
	ErrStart:         "StartError",
	ErrJobIDNotFound: "JobIdNotFoundError",
	ErrJobNotFound:   "JobNotFoundError",
	ErrParse:         "ParseError",
	ErrNotFinished:   "NotFinishedError",
}

// Error carries the diagnostics collected around a failed azcopy call.
// Excerpts are bounded and have credential query strings redacted.
type Error struct {
	Kind          error
	Message       string
	JobID         string
	LogDir        string
	StdoutPath    string
	StdoutExcerpt string
	StderrPath    string
	StderrExcerpt string
	Err           error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Message)
	fmt.Fprintf(&b, " job_id=%q log_dir=%q", e.JobID, e.LogDir)
	if e.StdoutExcerpt != "" {
		fmt.Fprintf(&b, " stdout_excerpt=%q", e.StdoutExcerpt)
	}
	if e.StderrExcerpt != "" {
		fmt.Fprintf(&b, " stderr_excerpt=%q", e.StderrExcerpt)
	}
	if e.StdoutPath != "" {
		fmt.Fprintf(&b, " stdout_path=%q", e.StdoutPath)
	}
	if e.StderrPath != "" {
		fmt.Fprintf(&b, " stderr_path=%q", e.StderrPath)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *Error) Is(target error) bool {
	return e.Kind == target
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Type returns the name of the error kind, e.g. "StartError".
func (e *Error) Type() string {
	if name, ok := kindNames[e.Kind]; ok {
		return name
	}
	return "AzCopyError"
}

func newError(kind error, msg string, jobID, logDir string, err error) *Error {
	return &Error{Kind: kind, Message: msg, JobID: jobID, LogDir: logDir, Err: err}
}

func (e *Error) withOutput(stdoutPath, stdout, stderrPath, stderr string) *Error {
	e.StdoutPath = stdoutPath
	e.StdoutExcerpt = excerpt(stdout)
	e.StderrPath = stderrPath
	e.StderrExcerpt = excerpt(stderr)
	return e
}
