package azcopy

import "time"

// State is the internal view of an azcopy job state.
type State string

const (
	StatePending   State = "PENDING"
	StateRunning   State = "RUNNING"
	StateSucceeded State = "SUCCEEDED"
	StateFailed    State = "FAILED"
	StateCanceled  State = "CANCELED"
	StateUnknown   State = "UNKNOWN"
)

// Terminal reports whether no further transition can happen from s.
func (s State) Terminal() bool {
	switch s {
	case StateSucceeded, StateFailed, StateCanceled:
		return true
	default:
		return false
	}
}

// Options controls the azcopy copy invocation.
type Options struct {
	Recursive bool
	// Overwrite is passed verbatim to --overwrite (true, false, prompt, ifSourceNewer).
	Overwrite  string
	FromTo     string
	LogLevel   string
	OutputType string
	ExtraArgs  []string
}

// DefaultOptions returns the options used for tier migrations.
func DefaultOptions() Options {
	return Options{
		Recursive:  true,
		Overwrite:  "true",
		OutputType: "json",
	}
}

// JobRef identifies a started azcopy job. Command is redacted and
// Environment only holds non-secret azcopy keys.
type JobRef struct {
	JobID       string
	StartedAt   time.Time
	Command     []string
	Environment map[string]string
	LogDir      string
	StdoutPath  string
	StderrPath  string
}

// Progress is a point-in-time observation of a job.
type Progress struct {
	State         State
	LastUpdatedAt time.Time
	RawStatus     string

	PercentComplete float64
	HasPercent      bool

	BytesTotal       int64
	FilesTotal       int64
	BytesTransferred int64
	FilesTransferred int64
}

// Summary is the parsed final report of a terminal job.
type Summary struct {
	State            State
	FilesTransferred int64
	BytesTransferred int64
	FailedTransfers  int64
	SkippedTransfers int64
	Warnings         []string
	Errors           []string
	StartedAt        *time.Time
	FinishedAt       *time.Time

	// RawSummary is the status output, capped at maxRawSummaryBytes.
	RawSummary string
	// RawSummaryHash is the BLAKE3 hex digest of the full, uncapped output.
	RawSummaryHash string

	StdoutLogPath string
	StderrLogPath string
}
