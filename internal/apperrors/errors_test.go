package apperrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestErrorIsMatchesByCode(t *testing.T) {
	err := fmt.Errorf("register: %w", Newf(CodeDuplicateModule, "module %q already registered", "billing"))

	assert.True(t, errors.Is(err, ErrDuplicateModule))
	assert.False(t, errors.Is(err, ErrNotFound))
	assert.Equal(t, CodeDuplicateModule, CodeOf(err))
}

func TestErrorMessageIncludesCause(t *testing.T) {
	err := Wrap(CodeLoadFailure, "load billing", errors.New("boom"))

	assert.Equal(t, "load billing: boom", err.Error())
	assert.Equal(t, "boom", errors.Unwrap(err).Error())
}

func TestCodeOfPlainError(t *testing.T) {
	assert.Equal(t, CodeUnknown, CodeOf(errors.New("plain")))
	assert.Equal(t, CodeUnknown, CodeOf(nil))
}

func TestGRPCRoundTrip(t *testing.T) {
	tests := []struct {
		code Code
		want codes.Code
	}{
		{CodeValidation, codes.InvalidArgument},
		{CodeNotFound, codes.NotFound},
		{CodeLoadTimeout, codes.DeadlineExceeded},
		{CodeCapabilityDisabled, codes.PermissionDenied},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			st := ToGRPCStatus(New(tt.code, "x"))
			require.Equal(t, tt.want, status.Code(st))

			back := FromGRPCStatus(st)
			assert.Equal(t, tt.code, CodeOf(back))
		})
	}
}

func TestFromGRPCStatusUnmappedCode(t *testing.T) {
	err := FromGRPCStatus(status.Error(codes.Unavailable, "down"))
	assert.True(t, errors.Is(err, ErrLoadFailure))
	assert.Nil(t, FromGRPCStatus(nil))
}
