// Package async provides safe concurrent execution primitives for background tasks.
//
// # Key Functions
//
// SafeGo: fire-and-forget goroutine with panic recovery, a timeout and error logging
//
//	async.SafeGo(context.WithoutCancel(ctx), logger, 5*time.Second, "search telemetry", func(ctx context.Context) error {
//		return store.Insert(ctx, record)
//	})
//
// Batch: bounded concurrent processing of a slice on a worker pool, collecting
// every error
//
//	errs := async.Batch(ctx, logger, ids, 4, "checks", 30*time.Second, check)
//
// # Related Packages
//
//   - pkg/search: telemetry recording and the saved search alert sweep
package async
