// Package lifecycle accepts cool and restore operations, runs them in the
// background through azcopy and reports their outcome to the backend.
//
// Nothing here is persisted. The guard and job map live in a Registry owned
// by the process; a restart forgets every operation and the backend's
// reconciliation picks up the pieces.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/betagouv/euphrosyne-tools-api/internal/azcopy"
	"github.com/betagouv/euphrosyne-tools-api/internal/callback"
	"github.com/betagouv/euphrosyne-tools-api/internal/sas"
	"github.com/betagouv/euphrosyne-tools-api/internal/storage"
)

const (
	DefaultPollInterval    = 10 * time.Second
	DefaultPollMaxRetries  = 3
	DefaultPollRetryDelay  = 5 * time.Second
	DefaultMaxUnknownPolls = 30
)

// Config tunes background execution. Zero values select the defaults.
type Config struct {
	// PollInterval is the wait between two status queries.
	PollInterval time.Duration
	// PollMaxRetries bounds consecutive JobNotFound answers, which are
	// expected right after start while azcopy writes its job plan.
	PollMaxRetries int
	PollRetryDelay time.Duration
	// MaxUnknownPolls fails the operation after that many consecutive
	// unrecognized statuses. Negative disables the limit.
	MaxUnknownPolls int
	CopyOptions     azcopy.Options
}

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	Registry   *Registry
	Supervisor *Supervisor
	Resolver   Resolver
	Signer     Signer
	Runner     Runner
	Notifier   Notifier
	Logger     *slog.Logger
}

// Orchestrator drives operations from accept to callback.
type Orchestrator struct {
	registry   *Registry
	supervisor *Supervisor
	resolver   Resolver
	signer     Signer
	runner     Runner
	notifier   Notifier
	config     Config
	logger     *slog.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates an Orchestrator.
func New(deps Deps, config Config) *Orchestrator {
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}
	if config.PollMaxRetries <= 0 {
		config.PollMaxRetries = DefaultPollMaxRetries
	}
	if config.PollRetryDelay <= 0 {
		config.PollRetryDelay = DefaultPollRetryDelay
	}
	if config.MaxUnknownPolls == 0 {
		config.MaxUnknownPolls = DefaultMaxUnknownPolls
	}
	if config.CopyOptions.OutputType == "" {
		config.CopyOptions = azcopy.DefaultOptions()
	}
	return &Orchestrator{
		registry:   deps.Registry,
		supervisor: deps.Supervisor,
		resolver:   deps.Resolver,
		signer:     deps.Signer,
		runner:     deps.Runner,
		notifier:   deps.Notifier,
		config:     config,
		logger:     deps.Logger,
		now:        time.Now,
		sleep:      sleepContext,
	}
}

func (o *Orchestrator) operationLogger(op Operation) *slog.Logger {
	return o.logger.With("operation_id", op.OperationID, "project_id", op.ProjectID, "type", string(op.Type))
}

// Accept guards op and schedules its execution. A duplicate is accepted
// again without scheduling anything. Only the project id is checked before
// returning; resolution and azcopy run in the background.
func (o *Orchestrator) Accept(op Operation) (AcceptResult, error) {
	if err := storage.ValidateProjectID(op.ProjectID); err != nil {
		return AcceptResult{}, err
	}
	result := AcceptResult{
		OperationID: op.OperationID,
		ProjectID:   op.ProjectID,
		Type:        op.Type,
		Status:      StatusAccepted,
	}

	logger := o.operationLogger(op)
	if !o.registry.Register(op) {
		if stored, _ := o.registry.Lookup(op.OperationID); stored != op {
			logger.Warn("operation id already tracked for another project or type, skipping",
				"tracked_project_id", stored.ProjectID, "tracked_type", stored.Type)
			return result, nil
		}
		logger.Info("operation already tracked, skipping duplicate")
		return result, nil
	}

	o.supervisor.Go(logger, func(ctx context.Context) error {
		return o.execute(ctx, op)
	})
	logger.Info("operation accepted")
	return result, nil
}

// Tracked returns the number of operations accepted by this process.
func (o *Orchestrator) Tracked() int {
	return o.registry.Len()
}

// execute runs op to completion and delivers exactly one callback.
func (o *Orchestrator) execute(ctx context.Context, op Operation) error {
	logger := o.operationLogger(op)
	logger.Info("operation started")

	payload := o.run(ctx, op, logger)
	if ctx.Err() != nil {
		// Shutting down: the backend reconciles abandoned operations.
		return fmt.Errorf("operation abandoned: %w", ctx.Err())
	}
	payload.FinishedAt = o.now().UTC()

	if err := o.notifier.Deliver(ctx, payload); err != nil {
		logger.Error("callback delivery failed", "error", err)
	}
	logger.Info("operation finished", "status", payload.Status)
	return nil
}

func (o *Orchestrator) run(ctx context.Context, op Operation, logger *slog.Logger) callback.Payload {
	payload := callback.Payload{
		OperationID: op.OperationID,
		ProjectID:   op.ProjectID,
		Type:        string(op.Type),
	}

	source, dest, err := o.copyURLs(op)
	if err == nil {
		var ref azcopy.JobRef
		ref, err = o.runner.Start(ctx, source, dest, o.config.CopyOptions)
		if err == nil {
			o.registry.AttachJob(op, ref.JobID)
			logger.Info("azcopy job attached", "job_id", ref.JobID, "log_dir", ref.LogDir)
			return o.follow(ctx, ref, payload, logger)
		}
	}

	logger.Error("operation failed before a job was started", "error", err)
	payload.Status = string(StatusFailed)
	payload.ErrorMessage = err.Error()
	payload.ErrorDetails = map[string]any{"type": errorType(err)}
	var azErr *azcopy.Error
	if errors.As(err, &azErr) && azErr.LogDir != "" {
		payload.ErrorDetails["log_dir"] = azErr.LogDir
	}
	return payload
}

// copyURLs returns the signed source and destination for op. The source is
// a wildcard over the project directory so azcopy copies its contents.
func (o *Orchestrator) copyURLs(op Operation) (string, string, error) {
	hot, err := o.resolver.ResolveHot(op.ProjectID)
	if err != nil {
		return "", "", err
	}
	cool, err := o.resolver.ResolveCool(op.ProjectID)
	if err != nil {
		return "", "", err
	}

	from, to := hot, cool
	if op.Type == TypeRestore {
		from, to = cool, hot
	}

	sourceToken, err := o.signer.Sign(from, sas.SourcePermissions)
	if err != nil {
		return "", "", fmt.Errorf("sign source: %w", err)
	}
	destToken, err := o.signer.Sign(to, sas.DestinationPermissions)
	if err != nil {
		return "", "", fmt.Errorf("sign destination: %w", err)
	}
	return from.URI + "/*?" + sourceToken, to.URI + "?" + destToken, nil
}

// follow polls the job until it is terminal and maps its summary.
func (o *Orchestrator) follow(ctx context.Context, ref azcopy.JobRef, payload callback.Payload, logger *slog.Logger) callback.Payload {
	logger = logger.With("job_id", ref.JobID)

	state, err := o.waitTerminal(ctx, ref.JobID, logger)
	var summary azcopy.Summary
	if err == nil {
		summary, err = o.runner.Summary(ctx, ref.JobID)
	}
	if err != nil {
		logger.Error("azcopy job could not be followed", "error", err)
		payload.Status = string(StatusFailed)
		payload.ErrorMessage = err.Error()
		payload.ErrorDetails = map[string]any{
			"job_id":           ref.JobID,
			"azcopy_state":     string(state),
			"failed_transfers": int64(0),
			"type":             errorType(err),
			"log_dir":          ref.LogDir,
		}
		return payload
	}

	payload.BytesCopied = summary.BytesTransferred
	payload.FilesCopied = summary.FilesTransferred
	if summary.State == azcopy.StateSucceeded {
		payload.Status = string(StatusSucceeded)
		return payload
	}

	payload.Status = string(StatusFailed)
	payload.ErrorMessage = fmt.Sprintf("azcopy job %s finished in state %s", ref.JobID, summary.State)
	payload.ErrorDetails = summaryDetails(ref.JobID, summary)
	payload.ErrorDetails["log_dir"] = ref.LogDir
	return payload
}

// waitTerminal polls until the job reaches a terminal state. It returns the
// last state seen alongside any error.
func (o *Orchestrator) waitTerminal(ctx context.Context, jobID string, logger *slog.Logger) (azcopy.State, error) {
	state := azcopy.StateUnknown
	notFound, unknown := 0, 0
	for {
		progress, err := o.runner.Poll(ctx, jobID)
		switch {
		case errors.Is(err, azcopy.ErrJobNotFound):
			notFound++
			if notFound > o.config.PollMaxRetries {
				return state, err
			}
			logger.Warn("azcopy job not found yet, retrying", "attempt", notFound, "max_retries", o.config.PollMaxRetries)
			if err := o.sleep(ctx, o.config.PollRetryDelay); err != nil {
				return state, err
			}
			continue
		case err != nil:
			if ctx.Err() != nil {
				return state, ctx.Err()
			}
			logger.Warn("azcopy status query failed", "error", err)
			progress.State = azcopy.StateUnknown
		}

		notFound = 0
		state = progress.State
		if state.Terminal() {
			logger.Info("azcopy job reached a terminal state", "state", state, "raw_status", progress.RawStatus)
			return state, nil
		}

		if state == azcopy.StateUnknown {
			unknown++
			if o.config.MaxUnknownPolls > 0 && unknown >= o.config.MaxUnknownPolls {
				return state, fmt.Errorf("azcopy job state unknown after %d polls", unknown)
			}
		} else {
			unknown = 0
		}

		logger.Debug("azcopy job in progress", "state", state, "raw_status", progress.RawStatus)
		if err := o.sleep(ctx, o.config.PollInterval); err != nil {
			return state, err
		}
	}
}

// GetStatus projects the live state of op. The job is queried on every
// call; nothing is cached.
func (o *Orchestrator) GetStatus(ctx context.Context, op Operation) (StatusView, error) {
	if !o.registry.Guarded(op) {
		return StatusView{}, ErrNotFound
	}
	view := StatusView{
		OperationID: op.OperationID,
		ProjectID:   op.ProjectID,
		Type:        op.Type,
		Status:      StatusPending,
	}

	jobID, ok := o.registry.JobID(op)
	if !ok {
		return view, nil
	}

	progress, err := o.runner.Poll(ctx, jobID)
	if err != nil {
		o.operationLogger(op).Warn("status query failed", "job_id", jobID, "error", err)
		view.Status = StatusRunning
		view.ErrorDetails = map[string]any{
			"job_id": jobID,
			"type":   errorType(err),
			"error":  err.Error(),
		}
		return view, nil
	}

	view.Status = projectState(progress.State)
	view.BytesTotal = progress.BytesTotal
	view.FilesTotal = progress.FilesTotal
	view.BytesCopied = progress.BytesTransferred
	view.FilesCopied = progress.FilesTransferred

	if progress.State.Terminal() {
		summary, err := o.runner.Summary(ctx, jobID)
		if err == nil {
			view.Status = projectState(summary.State)
			view.BytesCopied = summary.BytesTransferred
			view.FilesCopied = summary.FilesTransferred
			if view.Status == StatusFailed {
				view.ErrorDetails = summaryDetails(jobID, summary)
			}
		} else {
			o.operationLogger(op).Warn("summary query failed", "job_id", jobID, "error", err)
		}
	}

	view.ProgressPercent = progressPercent(view.Status, progress, view.BytesCopied)
	return view, nil
}

// projectState maps an azcopy state onto the operation vocabulary.
// Canceled jobs are failures from the backend's point of view.
func projectState(s azcopy.State) Status {
	switch s {
	case azcopy.StatePending:
		return StatusPending
	case azcopy.StateSucceeded:
		return StatusSucceeded
	case azcopy.StateFailed, azcopy.StateCanceled:
		return StatusFailed
	default:
		return StatusRunning
	}
}

func progressPercent(status Status, p azcopy.Progress, bytesCopied int64) float64 {
	if status == StatusSucceeded {
		return 100
	}
	var pct float64
	switch {
	case p.HasPercent:
		pct = p.PercentComplete
	case p.BytesTotal > 0:
		pct = float64(bytesCopied) / float64(p.BytesTotal) * 100
	}
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}

func summaryDetails(jobID string, s azcopy.Summary) map[string]any {
	details := map[string]any{
		"job_id":            jobID,
		"azcopy_state":      string(s.State),
		"failed_transfers":  s.FailedTransfers,
		"skipped_transfers": s.SkippedTransfers,
	}
	if len(s.Errors) > 0 {
		details["errors"] = s.Errors
	}
	return details
}

// errorType names the kind of err for error_details.
func errorType(err error) string {
	var azErr *azcopy.Error
	switch {
	case errors.As(err, &azErr):
		return azErr.Type()
	case errors.Is(err, storage.ErrValidation):
		return "ValidationError"
	case errors.Is(err, storage.ErrConfiguration), errors.Is(err, sas.ErrMissingKey):
		return "ConfigurationError"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "Canceled"
	default:
		return "Error"
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
