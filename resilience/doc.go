// Package resilience provides concurrency limiting and retry helpers used by
// flux operators and by mapper functions.
//
//   - Bulkhead: bounds how many units of work are in flight; the merge engine
//     admits each mapper invocation through one.
//   - Retry: retries a failing call with exponential backoff. Sequences never
//     retry on their own; wrap a mapper with Retrying when it should.
//
//	bh := resilience.NewBulkhead(resilience.BulkheadConfig{Name: "fetch", MaxConcurrent: 4, MaxWait: resilience.WaitForever})
//	if err := bh.Acquire(ctx); err != nil {
//		return err
//	}
//	defer bh.Release()
//
//	mapper := resilience.Retrying(resilience.DefaultRetryConfig(), fetchOne)
package resilience
