package errors

// ErrorCode represents a machine-readable error code.
type ErrorCode string

// Sequence lifecycle errors
const (
	// ErrCodeCancelled indicates a sequence was cancelled at its source.
	ErrCodeCancelled ErrorCode = "CANCELLED"
	// ErrCodeTimeout indicates an operation did not finish in time.
	ErrCodeTimeout ErrorCode = "TIMEOUT"
	// ErrCodeEmpty indicates a sequence produced no value where one was required.
	ErrCodeEmpty ErrorCode = "EMPTY"
)

// Protocol misuse errors
const (
	// ErrCodePushAfterComplete indicates a value was pushed into a completed bridge.
	ErrCodePushAfterComplete ErrorCode = "PUSH_AFTER_COMPLETE"
	// ErrCodeMixedShape indicates a flat-mapper changed its return shape mid-sequence.
	ErrCodeMixedShape ErrorCode = "MIXED_SHAPE"
)

// Validation errors
const (
	// ErrCodeInvalidInput indicates the input is invalid.
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"
	// ErrCodeMissingField indicates a required field is missing.
	ErrCodeMissingField ErrorCode = "MISSING_FIELD"
)

// Internal errors
const (
	// ErrCodeInternal indicates an unexpected internal failure.
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
	// ErrCodeExternalSource indicates a failure reading an external stream source.
	ErrCodeExternalSource ErrorCode = "EXTERNAL_SOURCE_ERROR"
)

var retryableCodes = map[ErrorCode]bool{
	ErrCodeTimeout:        true,
	ErrCodeExternalSource: true,
	ErrCodeInternal:       false,
}

// IsRetryableCode returns true if the error code indicates a retryable error.
func IsRetryableCode(code ErrorCode) bool {
	return retryableCodes[code]
}
