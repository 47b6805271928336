package lifecycle

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned for an operation this process never accepted.
var ErrNotFound = errors.New("operation not found")

// Type is the direction of a lifecycle operation.
type Type string

const (
	// TypeCool moves project data from the HOT tier to the COOL tier.
	TypeCool Type = "COOL"
	// TypeRestore moves project data back from COOL to HOT.
	TypeRestore Type = "RESTORE"
)

// ParseType accepts "cool" or "restore" in any case.
func ParseType(s string) (Type, error) {
	switch Type(strings.ToUpper(strings.TrimSpace(s))) {
	case TypeCool:
		return TypeCool, nil
	case TypeRestore:
		return TypeRestore, nil
	}
	return "", fmt.Errorf("unknown operation type %q", s)
}

// Status is the externally visible state of an operation.
type Status string

const (
	StatusAccepted  Status = "ACCEPTED"
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusSucceeded Status = "SUCCEEDED"
	StatusFailed    Status = "FAILED"
)

// Operation is one cool or restore request. OperationID alone identifies
// it; project and type are attributes fixed at accept time.
type Operation struct {
	OperationID string
	ProjectID   string
	Type        Type
}

// AcceptResult is returned by Accept, for new and duplicate requests alike.
type AcceptResult struct {
	OperationID string `json:"operation_id"`
	ProjectID   string `json:"project_id"`
	Type        Type   `json:"type"`
	Status      Status `json:"status"`
}

// StatusView is the projection returned by GetStatus.
type StatusView struct {
	OperationID     string         `json:"operation_id"`
	ProjectID       string         `json:"project_id"`
	Type            Type           `json:"type"`
	Status          Status         `json:"status"`
	ProgressPercent float64        `json:"progress_percent"`
	BytesTotal      int64          `json:"bytes_total"`
	FilesTotal      int64          `json:"files_total"`
	BytesCopied     int64          `json:"bytes_copied"`
	FilesCopied     int64          `json:"files_copied"`
	ErrorDetails    map[string]any `json:"error_details,omitempty"`
}
