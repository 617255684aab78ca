// Package generation drives asynchronous media generation against the
// upstream service: the duplex-channel image driver, the chunked-stream
// video drivers, and the retry/failover orchestrator that rotates
// credentials across attempts.
package generation

import "errors"

// ErrorCode identifies a structured generation failure.
type ErrorCode string

// Failure codes surfaced to callers. An empty code is a generic failure.
const (
	// CodeBlocked marks the heuristic stall state: the service produced
	// intermediate-quality units but never a final one.
	CodeBlocked ErrorCode = "blocked"
	// CodeRateLimited maps the upstream rate-limit signal.
	CodeRateLimited ErrorCode = "rate_limit_exceeded"
	// CodeUnauthorized maps an upstream credential rejection.
	CodeUnauthorized ErrorCode = "unauthorized"
	// CodeVideoPostFailed marks a failed media-post creation step.
	CodeVideoPostFailed ErrorCode = "video_post_failed"
	// CodeVideoNotSupported marks a video stream that completed without a
	// qualifying progress event.
	CodeVideoNotSupported ErrorCode = "video_not_supported"
)

// Error is a structured generation failure. It is the only error type that
// crosses the orchestrator boundary with a machine-readable code; anything
// else is an unexpected transport or runtime error.
type Error struct {
	// Code classifies the failure; empty for generic failures.
	Code ErrorCode
	// Message is the human-readable failure description.
	Message string
	// Previews holds diagnostic thumbnail URLs collected before the
	// failure, capped at three.
	Previews []string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return string(e.Code) + ": " + e.Message
}

// AsError returns err as a *Error when it is one, or nil.
func AsError(err error) *Error {
	var gerr *Error
	if errors.As(err, &gerr) {
		return gerr
	}
	return nil
}

// Result is a successful generation outcome.
type Result struct {
	// URLs are the servable media URLs, at most the requested count.
	URLs []string
	// Count is len(URLs), carried separately for the wire contract.
	Count int
	// ThumbnailURL is the fallback preview for video results, if any.
	ThumbnailURL string
}
