// Package apperrors provides the runtime's structured error taxonomy.
package apperrors

import "google.golang.org/grpc/codes"

// Code is a machine-readable error code.
type Code string

const (
	CodeUnknown Code = "UNKNOWN"

	// Registry errors
	CodeValidation        Code = "VALIDATION"
	CodeDuplicateModule   Code = "DUPLICATE_MODULE"
	CodeNotFound          Code = "NOT_FOUND"
	CodeInvalidTransition Code = "INVALID_TRANSITION"
	CodeNotLoaded         Code = "NOT_LOADED"
	CodeLoadInFlight      Code = "LOAD_IN_FLIGHT"

	// Resolution errors
	CodeDependencyUnsatisfied Code = "DEPENDENCY_UNSATISFIED"
	CodeCycleDetected         Code = "CYCLE_DETECTED"

	// Loader errors
	CodeLoadTimeout Code = "LOAD_TIMEOUT"
	CodeLoadFailure Code = "LOAD_FAILURE"
	CodeHookFailed  Code = "HOOK_FAILED"

	// Lazy loading
	CodeCapabilityDisabled Code = "CAPABILITY_DISABLED"
)

// GRPCCode maps an error code to the closest gRPC status code.
func (c Code) GRPCCode() codes.Code {
	switch c {
	case CodeValidation:
		return codes.InvalidArgument
	case CodeDuplicateModule:
		return codes.AlreadyExists
	case CodeNotFound:
		return codes.NotFound
	case CodeInvalidTransition, CodeNotLoaded, CodeLoadInFlight, CodeDependencyUnsatisfied, CodeCycleDetected:
		return codes.FailedPrecondition
	case CodeLoadTimeout:
		return codes.DeadlineExceeded
	case CodeCapabilityDisabled:
		return codes.PermissionDenied
	case CodeLoadFailure, CodeHookFailed:
		return codes.Internal
	default:
		return codes.Unknown
	}
}

// CodeFromGRPC is the inverse of GRPCCode for the codes a remote peer may
// return. Unmapped codes become CodeLoadFailure.
func CodeFromGRPC(c codes.Code) Code {
	switch c {
	case codes.InvalidArgument:
		return CodeValidation
	case codes.NotFound:
		return CodeNotFound
	case codes.DeadlineExceeded:
		return CodeLoadTimeout
	case codes.PermissionDenied:
		return CodeCapabilityDisabled
	default:
		return CodeLoadFailure
	}
}
