// Package retry runs an operation with exponential backoff and jitter.
//
// The pool uses it to reopen database handles after transient failures and
// the application uses it to wait for PostgreSQL at startup.
//
// Basic Usage:
//
//	err := retry.Do(ctx, retry.DefaultConfig(), func(ctx context.Context) error {
//	    return conn.Ping(ctx)
//	})
//
// Errors that must stop the loop immediately are marked with Permanent:
//
//	if errors.Is(err, errBadCredentials) {
//	    return retry.Permanent(err)
//	}
//
// When attempts or MaxElapsedTime run out, Do returns *RetriesExceededError
// which unwraps to the last error.
package retry
