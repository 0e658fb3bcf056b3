// Package brokererr defines the AppError codes surfaced by send_message and
// the rest of the topic core, layered on top of pkg/errors.
package brokererr

import "github.com/chris-alexander-pop/relaymq/pkg/errors"

const (
	CodeOverflow         = "BROKER_OVERFLOW"
	CodeNoAvailableTarget = "BROKER_NO_TARGET"
	CodeMessageDropped   = "BROKER_DROPPED"
	CodeUnreachable      = "BROKER_UNREACHABLE"
	CodeFailed           = "BROKER_FAILED"
	CodeCommitFailed     = "BROKER_COMMIT_FAILED"
	CodeUnsupported      = "BROKER_UNSUPPORTED"
)

// Overflow reports admission refused or eviction by the queue's overflow
// policy.
func Overflow(message string) *errors.AppError {
	return errors.New(CodeOverflow, message, nil)
}

// NoAvailableTarget reports an empty recipient set after subject
// resolution.
func NoAvailableTarget(message string) *errors.AppError {
	return errors.New(CodeNoAvailableTarget, message, nil)
}

// MessageDropped reports the topic was unloaded before the message
// completed.
func MessageDropped(message string) *errors.AppError {
	return errors.New(CodeMessageDropped, message, nil)
}

// CommitFailed reports a rejected log proposal (non-leader, cluster
// unavailable).
func CommitFailed(message string, cause error) *errors.AppError {
	return errors.New(CodeCommitFailed, message, cause)
}

// Unsupported reports the Available target kind or an unknown log-entry
// kind.
func Unsupported(message string) *errors.AppError {
	return errors.New(CodeUnsupported, message, nil)
}
