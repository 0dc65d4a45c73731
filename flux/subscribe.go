package flux

import (
	"context"

	"github.com/kbukum/flux/logger"
)

// Subscription is a background drain started by Subscribe.
type Subscription struct {
	done        chan struct{}
	err         error
	unsubscribe func() error
}

// Subscribe drains s on a new goroutine, calling fn for every value. A
// failure ends the drain and is logged at error level; it is also available
// from Err once Done is closed.
func (s *Sequence[T]) Subscribe(ctx context.Context, fn func(T)) *Subscription {
	sub := &Subscription{done: make(chan struct{}), unsubscribe: s.Return}
	go func() {
		defer close(sub.done)
		for {
			v, ok, err := s.Next(ctx)
			if err != nil {
				sub.err = err
				fields := logger.ErrorFields("subscribe", err)
				fields[logger.FieldSequenceID] = s.id
				logger.Get(component).WithContext(ctx).Error("subscription failed", fields)
				return
			}
			if !ok {
				return
			}
			fn(v)
		}
	}()
	return sub
}

// Unsubscribe closes the sequence. The drain stops at its next pull.
func (sub *Subscription) Unsubscribe() error {
	return sub.unsubscribe()
}

// Done is closed when the drain has stopped.
func (sub *Subscription) Done() <-chan struct{} {
	return sub.done
}

// Err returns the failure that ended the drain. It is only meaningful after
// Done is closed.
func (sub *Subscription) Err() error {
	select {
	case <-sub.done:
		return sub.err
	default:
		return nil
	}
}
