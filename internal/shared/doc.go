// Package shared contains the error taxonomy used across the pool, the engine
// adapters and the transport layer.
//
// # Error Types and Classification
//
// The sentinel errors describe failure classes rather than concrete causes:
//
//   - ErrValidation: invalid input or construction parameters
//   - ErrTimeout: an operation did not finish in time
//   - ErrUnavailable: a resource is closed, draining or exhausted
//   - ErrConflict: the operation conflicts with current state
//   - ErrDependencyFailure: the database engine or another dependency failed
//   - ErrInvariantViolated: a resource-lifetime rule was broken by the caller
//   - ErrInternal: unexpected internal failure
//
// Packages declare their own sentinels on top of these so that both checks work:
//
//	var ErrPoolClosed = fmt.Errorf("%w: pool is closed", shared.ErrUnavailable)
//
//	errors.Is(err, pool.ErrPoolClosed)      // true
//	shared.KindOf(err) == shared.KindUnavailable // true
//
// # Kind Priority Table
//
// When several kinds are present in one error graph (errors.Join, multi-%w),
// KindOf returns the highest priority one:
//
//	Priority | Kind                  | Description
//	---------|-----------------------|------------------------------
//	1        | KindCanceled          | context cancellation
//	2        | KindTimeout           | timeouts and deadlines
//	3        | KindValidation        | invalid input
//	4        | KindUnavailable       | closed or exhausted resources
//	5        | KindConflict          | state conflicts
//	6        | KindDependencyFailure | engine failures
//	7        | KindInternal          | internal failures
//	8        | KindInvariantViolated | lifetime rule violations
//
// # Adapter Integration
//
// Map kinds to transport codes in adapters, never here:
//
//	switch shared.KindOf(err) {
//	case shared.KindTimeout:
//	    return http.StatusGatewayTimeout
//	case shared.KindUnavailable:
//	    return http.StatusServiceUnavailable
//	default:
//	    return http.StatusInternalServerError
//	}
package shared
