package validation

import (
	"fmt"
	"strings"
	"time"

	"github.com/kbukum/flux/errors"
)

// MaxNameLength bounds labels that end up in span and metric attributes.
const MaxNameLength = 64

// Validator collects argument errors for an operator or option set.
type Validator struct {
	errors []FieldError
}

// FieldError is one rejected argument.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Value   any    `json:"value,omitempty"`
}

// New creates an empty Validator.
func New() *Validator {
	return &Validator{}
}

func (v *Validator) add(field string, value any, format string, args ...any) *Validator {
	v.errors = append(v.errors, FieldError{
		Field:   field,
		Message: fmt.Sprintf(format, args...),
		Value:   value,
	})
	return v
}

// HasErrors reports whether any check failed.
func (v *Validator) HasErrors() bool {
	return len(v.errors) > 0
}

// Errors returns the failed checks in the order they ran.
func (v *Validator) Errors() []FieldError {
	return v.errors
}

// Validate returns an INVALID_INPUT AppError listing every failed check, or
// nil. A single failure also sets the "field" detail.
func (v *Validator) Validate() *errors.AppError {
	if !v.HasErrors() {
		return nil
	}

	messages := make([]string, len(v.errors))
	for i, e := range v.errors {
		messages[i] = fmt.Sprintf("%s: %s", e.Field, e.Message)
	}

	appErr := errors.Validation(strings.Join(messages, "; ")).
		WithDetail("fields", v.errors)
	if len(v.errors) == 1 {
		appErr = appErr.WithDetail("field", v.errors[0].Field)
	}
	return appErr
}

// Err is Validate typed as error, so a clean Validator yields a nil interface.
func (v *Validator) Err() error {
	if appErr := v.Validate(); appErr != nil {
		return appErr
	}
	return nil
}

// NonNegative rejects counts below zero. Zero is the "unlimited" or
// "nothing" value for take counts and concurrency caps.
func (v *Validator) NonNegative(field string, n int) *Validator {
	if n < 0 {
		return v.add(field, n, "must not be negative (got %d)", n)
	}
	return v
}

// Positive rejects counts below one, e.g. batch sizes.
func (v *Validator) Positive(field string, n int) *Validator {
	if n <= 0 {
		return v.add(field, n, "must be positive (got %d)", n)
	}
	return v
}

// NonNegativeDuration rejects negative delays and intervals.
func (v *Validator) NonNegativeDuration(field string, d time.Duration) *Validator {
	if d < 0 {
		return v.add(field, d.String(), "must not be negative (got %s)", d)
	}
	return v
}

// Name checks a merge or component label: non-blank, at most MaxNameLength
// bytes, and free of whitespace so it reads cleanly as an attribute value.
func (v *Validator) Name(field, value string) *Validator {
	switch {
	case strings.TrimSpace(value) == "":
		return v.add(field, nil, "is required")
	case len(value) > MaxNameLength:
		return v.add(field, len(value), "must be %d characters or less", MaxNameLength)
	case strings.ContainsAny(value, " \t\r\n"):
		return v.add(field, value, "must not contain whitespace")
	}
	return v
}

// Custom records message against field when condition is false.
func (v *Validator) Custom(condition bool, field, message string) *Validator {
	if !condition {
		return v.add(field, nil, "%s", message)
	}
	return v
}

// NonNegative validates a single count and returns an error if it is below zero.
func NonNegative(field string, n int) error {
	return New().NonNegative(field, n).Err()
}

// Positive validates a single count and returns an error if it is below one.
func Positive(field string, n int) error {
	return New().Positive(field, n).Err()
}
