package shared

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Failure classes shared by every package of the module.
var (
	// ErrValidation indicates invalid input or construction parameters
	ErrValidation = errors.New("validation failed")

	// ErrTimeout indicates that an operation timed out
	ErrTimeout = errors.New("operation timed out")

	// ErrUnavailable indicates that a resource is closed, draining or exhausted
	ErrUnavailable = errors.New("resource unavailable")

	// ErrConflict indicates that the request conflicts with current state
	ErrConflict = errors.New("conflict")

	// ErrDependencyFailure indicates that the database engine or another dependency failed
	ErrDependencyFailure = errors.New("dependency failure")

	// ErrInvariantViolated indicates that a resource-lifetime rule was broken
	ErrInvariantViolated = errors.New("invariant violated")

	// ErrInternal indicates an unexpected internal failure
	ErrInternal = errors.New("internal error")
)

// Kind represents a category of error for easier classification and handling.
type Kind int

const (
	// KindUnknown represents an unclassified error
	KindUnknown Kind = iota
	// KindValidation represents input validation errors
	KindValidation
	// KindTimeout represents timeout errors
	KindTimeout
	// KindUnavailable represents closed or exhausted resources
	KindUnavailable
	// KindConflict represents state conflicts
	KindConflict
	// KindDependencyFailure represents engine and dependency failures
	KindDependencyFailure
	// KindInvariantViolated represents lifetime rule violations
	KindInvariantViolated
	// KindInternal represents internal errors
	KindInternal
	// KindCanceled represents context cancellation
	KindCanceled
)

var kindNames = [...]string{
	KindUnknown:           "Unknown",
	KindValidation:        "Validation",
	KindTimeout:           "Timeout",
	KindUnavailable:       "Unavailable",
	KindConflict:          "Conflict",
	KindDependencyFailure: "DependencyFailure",
	KindInvariantViolated: "InvariantViolated",
	KindInternal:          "Internal",
	KindCanceled:          "Canceled",
}

// String returns the name used in logs and API error bodies.
func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return kindNames[KindUnknown]
	}
	return kindNames[k]
}

// ParseKind is the inverse of Kind.String. Unrecognized names yield KindUnknown.
func ParseKind(name string) Kind {
	for k, n := range kindNames {
		if n == name {
			return Kind(k)
		}
	}
	return KindUnknown
}

// MarshalText encodes the kind by name.
func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// UnmarshalText decodes a name produced by MarshalText.
func (k *Kind) UnmarshalText(text []byte) error {
	*k = ParseKind(string(text))
	return nil
}

var kindToSentinel = map[Kind]error{
	KindValidation:        ErrValidation,
	KindTimeout:           ErrTimeout,
	KindUnavailable:       ErrUnavailable,
	KindConflict:          ErrConflict,
	KindDependencyFailure: ErrDependencyFailure,
	KindInvariantViolated: ErrInvariantViolated,
	KindInternal:          ErrInternal,
}

// kindPriorities defines the deterministic order used by KindOf.
var kindPriorities = []struct {
	kind Kind
	err  error
}{
	{KindCanceled, nil},
	{KindTimeout, ErrTimeout},
	{KindValidation, ErrValidation},
	{KindUnavailable, ErrUnavailable},
	{KindConflict, ErrConflict},
	{KindDependencyFailure, ErrDependencyFailure},
	{KindInternal, ErrInternal},
	{KindInvariantViolated, ErrInvariantViolated},
}

// KindOf returns the Kind of the given error by walking its chain in priority
// order (see package documentation). Returns KindUnknown for nil and for
// unrecognized errors.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	for _, p := range kindPriorities {
		switch p.kind {
		case KindCanceled:
			if IsCanceled(err) {
				return KindCanceled
			}
		case KindTimeout:
			if IsTimeout(err) {
				return KindTimeout
			}
		default:
			if errors.Is(err, p.err) {
				return p.kind
			}
		}
	}

	return KindUnknown
}

// HasKind reports whether KindOf(err) equals kind.
func HasKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// SentinelOf returns the sentinel error for the given Kind.
// For KindUnknown and KindCanceled it returns nil.
func SentinelOf(kind Kind) error {
	return kindToSentinel[kind]
}

// MarkKind wraps err with the sentinel of kind while keeping err in the chain,
// so both KindOf(marked) == kind and errors.Is(marked, err) hold.
// Marking an error that already has the kind returns it unchanged.
//
//	if isSerializationFailure(err) {
//	    return shared.MarkKind(err, shared.KindConflict)
//	}
func MarkKind(err error, kind Kind) error {
	if err == nil {
		return SentinelOf(kind)
	}

	sentinel := SentinelOf(kind)
	if sentinel == nil {
		return err
	}
	if KindOf(err) == kind {
		return err
	}
	return fmt.Errorf("%w: %w", sentinel, err)
}

// Wrap wraps an error with additional context formatted as "context: err".
// Returns nil for a nil error and the original error for an empty context.
func Wrap(err error, context string) error {
	if err == nil {
		return nil
	}
	if context == "" {
		return err
	}
	return fmt.Errorf("%s: %w", context, err)
}

// Wrapf is Wrap with a formatted context.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return Wrap(err, fmt.Sprintf(format, args...))
}

// Invariant returns an ErrInvariantViolated error when condition is false.
func Invariant(condition bool, message string) error {
	if condition {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrInvariantViolated, message)
}

// IsCanceled reports whether the error indicates a canceled context.
func IsCanceled(err error) bool {
	return err != nil && errors.Is(err, context.Canceled)
}

// IsTimeout reports whether the error indicates a timeout.
// It checks for context.DeadlineExceeded, net.Error timeouts and ErrTimeout.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrTimeout) {
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// IsUnavailable reports whether the error indicates a closed or exhausted resource.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

// IsValidation reports whether the error indicates invalid input.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsDependencyFailure reports whether the error indicates an engine failure.
func IsDependencyFailure(err error) bool {
	return errors.Is(err, ErrDependencyFailure)
}

// IsInvariantViolated reports whether the error indicates a lifetime rule violation.
func IsInvariantViolated(err error) bool {
	return errors.Is(err, ErrInvariantViolated)
}
