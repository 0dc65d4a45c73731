// Package errors provides the structured error type shared by flux packages.
// It implements coded errors with retryable detection, so callers can match
// protocol failures (cancellation, misuse, shape mismatches) with errors.Is.
package errors
