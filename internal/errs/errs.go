// Package errs defines common error variables used across the application.
package errs

import "errors"

// Error categories. Stage failures wrap one of these so callers can classify
// them with errors.Is.
var (
	// ErrValidation indicates malformed input, an empty playlist or an unusable crop window.
	ErrValidation = errors.New("validation failed")
	// ErrNetwork indicates a transport failure or an unexpected remote status.
	ErrNetwork = errors.New("network failure")
	// ErrProcess indicates that the encoder process failed.
	ErrProcess = errors.New("process failed")
	// ErrInternal indicates a broken internal invariant.
	ErrInternal = errors.New("internal error")
)

// Queue errors.
var (
	// ErrQueuePaused indicates that the queue does not accept new or retried jobs.
	ErrQueuePaused = errors.New("queue is paused")
	// ErrJobNotFound indicates that the job is not in the queue.
	ErrJobNotFound = errors.New("job not found")
	// ErrJobActive indicates that the operation is not allowed on the running job.
	ErrJobActive = errors.New("job is active")
	// ErrJobNotActive indicates that the job has no running task to cancel.
	ErrJobNotActive = errors.New("job is not active")
	// ErrJobNotRetryable indicates that only failed or canceled jobs can be retried.
	ErrJobNotRetryable = errors.New("job is not retryable")
	// ErrJobCanceled indicates that the job was canceled by the user.
	ErrJobCanceled = errors.New("job canceled")
	// ErrFileNameUsed indicates that another pending job already writes to the same output.
	ErrFileNameUsed = errors.New("output file name already used")
)

// Request errors.
var (
	// ErrInvalidRequestBody indicates that the request body is invalid or cannot be parsed.
	ErrInvalidRequestBody = errors.New("invalid request body")
	// ErrInvalidVideoID indicates that the videoId field in the request is invalid.
	ErrInvalidVideoID = errors.New("invalid videoId field")
	// ErrInvalidQuality indicates that the quality field in the request is invalid.
	ErrInvalidQuality = errors.New("invalid quality field")
	// ErrInvalidCrop indicates that the crop window in the request is invalid.
	ErrInvalidCrop = errors.New("invalid crop window")
)

// Dependency errors.
var (
	// ErrBinaryNotFound indicates that the required binary was not found.
	ErrBinaryNotFound = errors.New("binary not found")
	// ErrUnsupportedPlatform indicates that the current platform is not supported.
	ErrUnsupportedPlatform = errors.New("unsupported platform")
)
