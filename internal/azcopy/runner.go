// Package azcopy starts azcopy copy jobs and tracks them through
// `azcopy jobs show`. The azcopy process owns the job state; the runner
// keeps nothing between calls.
package azcopy

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/betagouv/euphrosyne-tools-api/internal/log"
)

const (
	defaultPath          = "azcopy"
	defaultLogLevel      = "INFO"
	defaultOutputType    = "json"
	defaultJobIDInterval = 10 * time.Second
	defaultJobIDRetries  = 8
	defaultStatusRate    = 5.0
	defaultStatusBurst   = 5

	// terminationGracePeriod is the time we wait after SIGTERM before sending SIGKILL.
	terminationGracePeriod = 5 * time.Second
)

// safeEnvKeys are the environment keys exposed in a JobRef.
var safeEnvKeys = []string{"AZCOPY_LOG_LOCATION", "AZCOPY_JOB_PLAN_LOCATION", "AZCOPY_LOG_DIR"}

// Config holds runner settings. Zero values select defaults.
type Config struct {
	Path     string
	WorkDir  string
	LogDir   string
	LogLevel string
	// JobIDInterval and JobIDRetries bound the wait for a job id after start.
	JobIDInterval time.Duration
	JobIDRetries  int
	// StatusRate limits `jobs show` invocations per second across all callers.
	StatusRate  float64
	StatusBurst int
}

// Runner drives the azcopy executable.
type Runner struct {
	path          string
	logLevel      string
	workDir       string
	logDir        string
	jobIDInterval time.Duration
	jobIDRetries  int
	limiter       *rate.Limiter
	logger        *slog.Logger
	now           func() time.Time
}

// New creates a runner. Work and log directories are resolved once; failing
// to create them only loses log artifacts.
func New(cfg Config) *Runner {
	r := &Runner{
		path:          cfg.Path,
		logLevel:      cfg.LogLevel,
		jobIDInterval: cfg.JobIDInterval,
		jobIDRetries:  cfg.JobIDRetries,
		logger:        log.WithComponent("azcopy"),
		now:           time.Now,
	}
	if r.path == "" {
		r.path = defaultPath
	}
	if r.logLevel == "" {
		r.logLevel = defaultLogLevel
	}
	if r.jobIDInterval <= 0 {
		r.jobIDInterval = defaultJobIDInterval
	}
	if r.jobIDRetries <= 0 {
		r.jobIDRetries = defaultJobIDRetries
	}
	statusRate, burst := cfg.StatusRate, cfg.StatusBurst
	if statusRate <= 0 {
		statusRate = defaultStatusRate
	}
	if burst <= 0 {
		burst = defaultStatusBurst
	}
	r.limiter = rate.NewLimiter(rate.Limit(statusRate), burst)

	r.workDir = resolveWorkDir(cfg.WorkDir)
	r.logDir = resolveLogDir(cfg.LogDir, r.workDir)
	if r.workDir == "" {
		r.logger.Warn("azcopy work dir is not writable, using azcopy defaults", "configured", cfg.WorkDir)
	} else if err := CheckWorkDir(r.workDir); err != nil {
		r.logger.Warn("azcopy work dir check failed", "error", err)
	}
	return r
}

// WorkDir returns the directory used for azcopy logs and job plans, or "".
func (r *Runner) WorkDir() string { return r.workDir }

// LogDir returns the directory holding per-job stdout/stderr logs.
func (r *Runner) LogDir() string { return r.logDir }

func (r *Runner) environ() []string {
	env := os.Environ()
	if r.workDir != "" {
		env = append(env,
			"AZCOPY_LOG_LOCATION="+r.workDir,
			"AZCOPY_JOB_PLAN_LOCATION="+r.workDir,
		)
	}
	return env
}

// safeEnv keeps the last value of each safe key, matching exec's semantics.
func safeEnv(env []string) map[string]string {
	out := make(map[string]string)
	for _, kv := range env {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		for _, safe := range safeEnvKeys {
			if k == safe {
				out[k] = v
			}
		}
	}
	return out
}

func (r *Runner) copyCommand(source, dest string, opts Options) []string {
	logLevel := opts.LogLevel
	if logLevel == "" {
		logLevel = r.logLevel
	}
	outputType := opts.OutputType
	if outputType == "" {
		outputType = defaultOutputType
	}
	overwrite := opts.Overwrite
	if overwrite == "" {
		overwrite = "true"
	}
	command := []string{
		r.path,
		"copy",
		source,
		dest,
		fmt.Sprintf("--recursive=%t", opts.Recursive),
		"--overwrite=" + overwrite,
		"--log-level=" + logLevel,
		"--output-type=" + outputType,
	}
	if opts.FromTo != "" {
		command = append(command, "--from-to="+opts.FromTo)
	}
	return append(command, opts.ExtraArgs...)
}

// Start launches `azcopy copy` and returns once azcopy reports its job id.
// The copy keeps running after Start returns; ctx only bounds the wait.
func (r *Runner) Start(ctx context.Context, source, dest string, opts Options) (JobRef, error) {
	command := r.copyCommand(source, dest, opts)
	redacted := redactCommand(command)
	env := r.environ()
	startedAt := r.now().UTC()
	stdoutPath, stderrPath, stdoutLog, stderrLog := createLogFiles(r.logDir, startedAt)

	logger := r.logger.With("command", strings.Join(redacted, " "))

	// Don't use CommandContext: the copy must outlive the request that started it.
	cmd := exec.Command(command[0], command[1:]...)
	cmd.Env = env
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		closeLogs(stdoutLog, stderrLog)
		return JobRef{}, newError(ErrStart, "failed to create stdout pipe", "", r.logDir, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		closeLogs(stdoutLog, stderrLog)
		return JobRef{}, newError(ErrStart, "failed to create stderr pipe", "", r.logDir, err)
	}

	if err := cmd.Start(); err != nil {
		closeLogs(stdoutLog, stderrLog)
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
			return JobRef{}, newError(ErrNotInstalled, "azcopy executable not found", "", r.logDir, err).
				withOutput("", "", "", err.Error())
		}
		return JobRef{}, newError(ErrStart, "failed to start azcopy", "", r.logDir, err).
			withOutput("", "", "", err.Error())
	}
	logger.Info("azcopy started", "pid", cmd.Process.Pid)

	found := make(chan string, 1)
	var once sync.Once
	capture := func(line string) {
		if id := extractJobID(line); id != "" {
			once.Do(func() { found <- id })
		}
	}

	var g errgroup.Group
	g.Go(func() error { return drain(stdout, stdoutLog, capture) })
	g.Go(func() error { return drain(stderr, stderrLog, capture) })

	exited := make(chan struct{})
	var waitErr error
	go func() {
		if err := g.Wait(); err != nil {
			logger.Debug("azcopy output drain stopped", "error", err)
		}
		closeLogs(stdoutLog, stderrLog)
		waitErr = cmd.Wait()
		close(exited)
		logger.Info("azcopy exited", "exit_code", exitCode(waitErr))
	}()

	ref := func(id string) JobRef {
		outPath, errPath := renameLogFiles(stdoutPath, stderrPath, r.logDir, id)
		logger.Info("azcopy job started", "job_id", id)
		return JobRef{
			JobID:       id,
			StartedAt:   startedAt,
			Command:     redacted,
			Environment: safeEnv(env),
			LogDir:      r.logDir,
			StdoutPath:  outPath,
			StderrPath:  errPath,
		}
	}
	failure := func(kind error, msg string, err error) *Error {
		return newError(kind, msg, "", r.logDir, err).withOutput(
			stdoutPath, strings.Join(readTail(stdoutPath), "\n"),
			stderrPath, strings.Join(readTail(stderrPath), "\n"),
		)
	}

	for attempt := 0; attempt < r.jobIDRetries; attempt++ {
		window := time.NewTimer(r.jobIDInterval)
		select {
		case id := <-found:
			window.Stop()
			return ref(id), nil
		case <-exited:
			window.Stop()
			// Output is fully drained before exited closes.
			select {
			case id := <-found:
				return ref(id), nil
			default:
			}
			if waitErr != nil {
				return JobRef{}, failure(ErrStart, "azcopy exited before providing a job id", waitErr)
			}
			return JobRef{}, failure(ErrJobIDNotFound, "azcopy exited without reporting a job id", nil)
		case <-ctx.Done():
			window.Stop()
			r.terminate(cmd, exited, logger)
			return JobRef{}, failure(ErrStart, "start aborted before a job id was reported", ctx.Err())
		case <-window.C:
		}

		if tail := readTail(stdoutPath); len(tail) > 0 && isPermissionError(tail[len(tail)-1]) {
			r.terminate(cmd, exited, logger)
			return JobRef{}, failure(ErrStart, "azcopy permission error", nil)
		}
		logger.Debug("waiting for azcopy job id", "attempt", attempt+1, "max_attempts", r.jobIDRetries)
	}

	logger.Warn("azcopy job id not reported in time, terminating")
	r.terminate(cmd, exited, logger)
	return JobRef{}, failure(ErrJobIDNotFound, "azcopy job id not found in output", nil)
}

// drain copies r line by line to w, offering each line to capture.
// It keeps reading after write errors so the child never blocks on a full pipe.
func drain(r io.Reader, w io.Writer, capture func(string)) error {
	br := bufio.NewReader(r)
	var writeErr error
	for {
		line, err := br.ReadString('\n')
		if len(line) > 0 {
			if writeErr == nil {
				_, writeErr = io.WriteString(w, line)
			}
			capture(line)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return writeErr
			}
			return err
		}
	}
}

func closeLogs(files ...io.Closer) {
	for _, f := range files {
		_ = f.Close()
	}
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// terminate sends SIGTERM, then SIGKILL after the grace period.
func (r *Runner) terminate(cmd *exec.Cmd, exited <-chan struct{}, logger *slog.Logger) {
	if cmd.Process == nil {
		return
	}
	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		logger.Debug("failed to send SIGTERM", "error", err)
	}

	grace := time.NewTimer(terminationGracePeriod)
	defer grace.Stop()

	select {
	case <-exited:
		logger.Info("azcopy exited after SIGTERM")
		return
	case <-grace.C:
	}

	logger.Warn("azcopy did not exit after SIGTERM, sending SIGKILL")
	if err := cmd.Process.Kill(); err != nil {
		logger.Error("failed to send SIGKILL", "error", err)
	}

	final := time.NewTimer(terminationGracePeriod)
	defer final.Stop()
	select {
	case <-exited:
	case <-final.C:
		logger.Error("azcopy still running after SIGKILL")
	}
}

// jobsShow runs `azcopy jobs show` and returns its stdout.
func (r *Runner) jobsShow(ctx context.Context, jobID string) (string, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("wait for status slot: %w", err)
	}

	cmd := exec.CommandContext(ctx, r.path, "jobs", "show", jobID, "--output-type=json")
	cmd.Env = r.environ()
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return stdout.String(), nil
	}
	if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
		return "", newError(ErrNotInstalled, "azcopy executable not found", jobID, r.logDir, err)
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if isJobNotFound(stdout.String(), stderr.String()) {
			return "", newError(ErrJobNotFound, "azcopy job not found", jobID, r.logDir, nil).
				withOutput("", stdout.String(), "", stderr.String())
		}
		return "", newError(ErrParse, "azcopy job status query failed", jobID, r.logDir, err).
			withOutput("", stdout.String(), "", stderr.String())
	}
	return "", newError(ErrParse, "azcopy job status query failed", jobID, r.logDir, err)
}

// Poll returns the current state of a job. It runs a single status query
// and never reads the job's log history. Output without a recognizable
// status maps to StateUnknown rather than an error.
func (r *Runner) Poll(ctx context.Context, jobID string) (Progress, error) {
	out, err := r.jobsShow(ctx, jobID)
	if err != nil {
		return Progress{}, err
	}
	report := parseJobsShow(out)
	if !report.Parsed && isJobNotFound(out, "") {
		return Progress{}, newError(ErrJobNotFound, "azcopy job not found", jobID, r.logDir, nil).
			withOutput("", out, "", "")
	}
	return report.progress(r.now().UTC()), nil
}

// Summary returns the final report of a terminal job. It fails with
// ErrNotFinished while the job is still pending, running or unknown.
func (r *Runner) Summary(ctx context.Context, jobID string) (Summary, error) {
	out, err := r.jobsShow(ctx, jobID)
	if err != nil {
		return Summary{}, err
	}
	report := parseJobsShow(out)
	if !report.Parsed {
		if isJobNotFound(out, "") {
			return Summary{}, newError(ErrJobNotFound, "azcopy job not found", jobID, r.logDir, nil).
				withOutput("", out, "", "")
		}
		return Summary{}, newError(ErrParse, "unable to parse azcopy job status", jobID, r.logDir, nil).
			withOutput("", out, "", "")
	}

	s := report.summary()
	if !s.State.Terminal() {
		return Summary{}, newError(ErrNotFinished, fmt.Sprintf("azcopy job is %s", s.State), jobID, r.logDir, nil)
	}
	s.StdoutLogPath, s.StderrLogPath = logPaths(r.logDir, jobID)
	return s, nil
}
