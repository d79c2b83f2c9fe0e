package apperrors

import (
	"errors"
	"fmt"

	"google.golang.org/grpc/status"
)

// Domain identifies runtime errors in gRPC status details.
const Domain = "github.com/bayleafwalker/bindery-runtime"

// Error is the runtime error type with structured metadata.
type Error struct {
	Code     Code              // Machine-readable error code
	Message  string            // Human-readable message
	Metadata map[string]string // Additional context (module id, capability, ...)
	Cause    error             // Wrapped underlying error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// Sentinels for errors.Is checks. Matching is by code only.
var (
	ErrValidation            = &Error{Code: CodeValidation, Message: "validation failed"}
	ErrDuplicateModule       = &Error{Code: CodeDuplicateModule, Message: "module already registered"}
	ErrNotFound              = &Error{Code: CodeNotFound, Message: "not found"}
	ErrInvalidTransition     = &Error{Code: CodeInvalidTransition, Message: "invalid state transition"}
	ErrNotLoaded             = &Error{Code: CodeNotLoaded, Message: "module not loaded"}
	ErrLoadInFlight          = &Error{Code: CodeLoadInFlight, Message: "module load in flight"}
	ErrDependencyUnsatisfied = &Error{Code: CodeDependencyUnsatisfied, Message: "dependencies unsatisfied"}
	ErrCycleDetected         = &Error{Code: CodeCycleDetected, Message: "dependency cycle detected"}
	ErrLoadTimeout           = &Error{Code: CodeLoadTimeout, Message: "module load timed out"}
	ErrLoadFailure           = &Error{Code: CodeLoadFailure, Message: "module load failed"}
	ErrHookFailed            = &Error{Code: CodeHookFailed, Message: "lifecycle hook failed"}
	ErrCapabilityDisabled    = &Error{Code: CodeCapabilityDisabled, Message: "capability disabled"}
)

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithMetadata creates an error carrying context key/values.
func WithMetadata(code Code, message string, metadata map[string]string) *Error {
	return &Error{Code: code, Message: message, Metadata: metadata}
}

// Wrap creates an error that wraps an underlying cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// WrapWithMetadata creates an error with both metadata and a cause.
func WrapWithMetadata(code Code, message string, metadata map[string]string, cause error) *Error {
	return &Error{Code: code, Message: message, Metadata: metadata, Cause: cause}
}

// CodeOf returns the code of the first *Error in err's chain, or CodeUnknown.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}

// ToGRPCStatus converts err to a gRPC status error.
func ToGRPCStatus(err error) error {
	if err == nil {
		return nil
	}
	return status.Error(CodeOf(err).GRPCCode(), err.Error())
}

// FromGRPCStatus converts a gRPC status error returned by a remote peer into a
// runtime error. Non-status errors are wrapped as load failures.
func FromGRPCStatus(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return Wrap(CodeLoadFailure, "remote call failed", err)
	}
	return Wrap(CodeFromGRPC(st.Code()), st.Message(), err)
}
