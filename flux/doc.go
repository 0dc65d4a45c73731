// Package flux provides lazy, pull-driven sequences with chainable
// operators and an order-preserving concurrent flat-map.
//
// A Sequence produces values only when they are pulled. Operators such as
// Filter, Map and Take wrap a sequence in a new one; nothing runs until the
// end of the chain is pulled with Next, Collect, Run or Subscribe.
//
//	ctx := context.Background()
//	out, err := flux.Map(flux.Just(1, 2, 3).Filter(odd), double).Collect(ctx)
//
// Sources cover slices, channels, generator functions (FromFunc), external
// readers (FromStream) and push-style producers (Create).
//
// FlatMap fans each upstream value into a List, a Future or a nested
// Sequence. Futures and nested sequences run concurrently, bounded by
// WithConcurrency, while output keeps upstream order:
//
//	pages := flux.FlatMapAsync(urls, fetch, flux.WithConcurrency(4))
//
// A sequence is also a future of its collected values: Await drains it once
// and every later Await returns the same result.
//
// Cancellation travels upstream. Cancel on any sequence of a chain reaches
// the source, which either runs its cancellation hook or fails its next pull
// with an error matching ErrCancelled. Return closes a chain as if it were
// exhausted.
package flux
