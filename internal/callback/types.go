package callback

import (
	"errors"
	"time"
)

const (
	// Path is appended to the backend URL.
	Path = "/api/data-lifecycle/operations/callback"

	DefaultMaxAttempts    = 5
	DefaultInitialBackoff = time.Second
	DefaultTimeout        = 10 * time.Second
	DefaultTokenTTL       = 5 * time.Minute

	// SignatureHeader carries the HMAC-SHA256 of the request body.
	SignatureHeader = "X-Lifecycle-Signature"
)

var (
	// ErrNotConfigured means no backend URL is set; nothing was sent.
	ErrNotConfigured = errors.New("callback backend url is not configured")
	// ErrRejected means the backend answered with a non-retryable, non-2xx code.
	ErrRejected = errors.New("callback rejected")
	// ErrExhausted means every attempt failed with a transient error.
	ErrExhausted = errors.New("callback attempts exhausted")
)

// Payload is the terminal report for one operation.
type Payload struct {
	OperationID  string         `json:"operation_id"`
	ProjectID    string         `json:"project_id"`
	Type         string         `json:"type"`
	Status       string         `json:"status"`
	FinishedAt   time.Time      `json:"finished_at"`
	BytesCopied  int64          `json:"bytes_copied"`
	FilesCopied  int64          `json:"files_copied"`
	ErrorMessage string         `json:"error_message,omitempty"`
	ErrorDetails map[string]any `json:"error_details,omitempty"`
}

// Config holds callback delivery settings.
type Config struct {
	// BackendURL is the Euphrosyne backend base URL, without the callback path.
	BackendURL string

	// JWTSecret signs the bearer token sent with every attempt.
	JWTSecret string

	// SigningSecret enables the body signature header when set.
	SigningSecret string

	MaxAttempts    int
	InitialBackoff time.Duration
	Timeout        time.Duration
	TokenTTL       time.Duration
}
