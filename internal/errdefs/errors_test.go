// File: internal/errdefs/errors_test.go
package errdefs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodeOf(t *testing.T) {
	testCases := []struct {
		name string
		err  error
		want Code
	}{
		{name: "nil", err: nil, want: ""},
		{name: "direct", err: NotFound("page", "p1"), want: CodeNotFound},
		{name: "wrapped_fmt", err: fmt.Errorf("outer: %w", Capacity("browsers", 10)), want: CodeCapacity},
		{name: "foreign", err: errors.New("plain"), want: CodeInternal},
		{name: "protocol", err: Protocol(-32000, "boom"), want: CodeCDPProtocol},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, CodeOf(tc.err))
		})
	}
}

func TestIsMatchesByCode(t *testing.T) {
	err := fmt.Errorf("ctx: %w", Stale("el-1"))
	assert.True(t, errors.Is(err, New(CodeStale, "")))
	assert.False(t, errors.Is(err, New(CodeNotFound, "")))
	assert.True(t, IsCode(err, CodeStale))
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("socket reset")
	err := Wrap(CodeTransportClosed, "websocket read failed", cause)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, CodeTransportClosed, CodeOf(err))
	assert.Contains(t, err.Error(), "websocket read failed")
}

func TestProtocolCarriesNumericCode(t *testing.T) {
	err := Protocol(-32601, "method not found")
	var e *Error
	require.ErrorAs(t, error(err), &e)
	assert.Equal(t, int64(-32601), e.ProtocolCode)
	assert.Contains(t, err.Error(), "-32601")
	assert.Contains(t, err.Error(), "method not found")
}

func TestWithDetailCopies(t *testing.T) {
	base := Timeout("navigate")
	detailed := base.WithDetail("page_id", "p1")
	assert.Empty(t, base.Details)
	assert.Equal(t, "p1", detailed.Details["page_id"])
}
