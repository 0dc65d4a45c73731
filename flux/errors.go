package flux

import (
	"fmt"

	"github.com/kbukum/flux/errors"
)

// Sentinel errors. Match them with errors.Is; the concrete error carries
// per-call details and cause.
var (
	// ErrCancelled is the failure injected into a source that has no
	// cancellation hook when the chain is cancelled.
	ErrCancelled = errors.New(errors.ErrCodeCancelled, "The sequence was cancelled.")
	// ErrPushAfterComplete is the panic value raised by Emitter.Push once
	// the producer has completed.
	ErrPushAfterComplete = errors.New(errors.ErrCodePushAfterComplete, "Push called after Complete.")
	// ErrMixedShape is the failure of a FlatMap whose mapper changed result
	// shape after the first item.
	ErrMixedShape = errors.New(errors.ErrCodeMixedShape, "Mapper results changed shape.")
)

func mixedShapeError(index int, want, got Shape) error {
	return ErrMixedShape.WithDetails(map[string]any{
		"index": index,
		"want":  want.String(),
		"got":   got.String(),
	})
}

func panicError(what string, r any) error {
	if err, ok := r.(error); ok {
		return errors.Internal(fmt.Errorf("%s panicked: %w", what, err))
	}
	return errors.Internal(fmt.Errorf("%s panicked: %v", what, r))
}
