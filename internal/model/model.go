package model

import (
	"fmt"
	"strings"
)

// Batch job statuses as the marketing platform spells them. Matching is
// case-insensitive; anything unrecognized counts as still in progress.
const (
	StatusQueued     = "Queued"
	StatusProcessing = "Processing"
	StatusCompleted  = "Completed"
	StatusFailed     = "Failed"
	StatusCancelled  = "Cancelled"
)

// TerminalStatus reports whether a batch job status admits no further
// transitions.
func TerminalStatus(status string) bool {
	return strings.EqualFold(status, StatusCompleted) ||
		strings.EqualFold(status, StatusFailed) ||
		strings.EqualFold(status, StatusCancelled)
}

type (
	// ImportRequest is the caller-supplied payload for a bulk import.
	// Content and DedupeKey are mandatory; FieldsMapping is accepted for
	// forward compatibility but not consulted by the orchestration.
	ImportRequest struct {
		Content       string            `json:"content"`
		DedupeKey     string            `json:"dedupeKey"`
		Label         string            `json:"label,omitempty"`
		FieldsMapping map[string]string `json:"fieldsMapping,omitempty"`
	}

	// ImportStatus is one observed snapshot of a batch job, terminal or not.
	ImportStatus struct {
		Status          string
		RowsProcessed   int64
		RowsFailed      int64
		RowsWithWarning int64
		Warnings        []string
	}

	// PollOutcome is the terminal snapshot of a batch job, produced exactly
	// once per orchestration.
	PollOutcome struct {
		BatchID         string
		Status          string
		RowsProcessed   int64
		RowsFailed      int64
		RowsWithWarning int64
		Warnings        []string
	}
)

// ConfigurationError indicates a required setting is absent. It is raised
// before any network call is attempted.
type ConfigurationError struct {
	Setting string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("missing required setting %q", e.Setting)
}

// ClientInputError indicates the caller's request is missing or has invalid
// required fields. No remote call is made once it is raised.
type ClientInputError struct {
	Message string
}

func (e *ClientInputError) Error() string {
	return e.Message
}

// AuthError indicates the credential exchange did not yield a usable bearer
// token. The remote body is deliberately not part of the message, it is only
// logged.
type AuthError struct {
	StatusCode int
	Message    string
}

func (e *AuthError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("acquiring access token: %s (status %d)", e.Message, e.StatusCode)
	}
	return fmt.Sprintf("acquiring access token: %s", e.Message)
}

// JobCreationError indicates the remote system did not allocate a batch job.
type JobCreationError struct {
	StatusCode int
	Body       string
}

func (e *JobCreationError) Error() string {
	return fmt.Sprintf("creating import job: status %d: %s", e.StatusCode, e.Body)
}

// UploadError indicates the payload transfer against an allocated batch job
// failed. Success of an upload is judged by HTTP status alone.
type UploadError struct {
	BatchID    string
	StatusCode int
	Body       string
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("uploading data for batch %s: status %d: %s", e.BatchID, e.StatusCode, e.Body)
}

// PollError indicates a status query itself failed or returned an
// undecodable or unsuccessful envelope. Polling stops immediately.
type PollError struct {
	BatchID    string
	StatusCode int
	Body       string
}

func (e *PollError) Error() string {
	return fmt.Sprintf("polling batch %s: status %d: %s", e.BatchID, e.StatusCode, e.Body)
}

// PollTimeoutError indicates the attempt budget ran out before a terminal
// status was observed.
type PollTimeoutError struct {
	BatchID  string
	Attempts int
}

func (e *PollTimeoutError) Error() string {
	return fmt.Sprintf("batch %s not in a terminal state after %d poll attempts", e.BatchID, e.Attempts)
}

// RemoteError is a pass-through call that came back non-successful.
type RemoteError struct {
	Operation  string
	StatusCode int
	Body       string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", e.Operation, e.StatusCode, e.Body)
}
