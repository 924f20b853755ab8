package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_Formatting(t *testing.T) {
	plain := New(CodeTimeout, CategoryNetwork, "request timeout")
	assert.Equal(t, "[NETWORK:TIMEOUT] request timeout", plain.Error())

	tagged := NewWithMediaType(CodeUnauthorized, CategoryAuth, "authentication required", "eztexting")
	assert.Equal(t, "[AUTH:UNAUTHORIZED] authentication required (media type: eztexting)", tagged.Error())
}

func TestWrap_UnwrapAndIs(t *testing.T) {
	cause := fmt.Errorf("dial tcp: connection refused")
	err := Wrap(CodeNetworkError, CategoryNetwork, "connection failed", cause)

	assert.Same(t, cause, err.Unwrap())
	assert.True(t, stderrors.Is(err, New(CodeNetworkError, CategoryNetwork, "other message")))
	assert.False(t, stderrors.Is(err, New(CodeTimeout, CategoryNetwork, "other message")))

	var me *ManagerError
	require.True(t, stderrors.As(error(err), &me))
	assert.Equal(t, CodeNetworkError, me.Code)
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		code      Code
		retryable bool
	}{
		{CodeNetworkError, true},
		{CodeTimeout, true},
		{CodeRateLimited, true},
		{CodeServerError, true},
		{CodeUnauthorized, false},
		{CodeInvalidRecipient, false},
		{CodeInvalidConfig, false},
		{CodeInvalidCredentials, false},
		{CodeExecFailed, false},
		{CodeSendingFailed, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			err := New(tt.code, CategoryTransport, "x")
			assert.Equal(t, tt.retryable, err.IsRetryable())
		})
	}
}

func TestMapHTTPError(t *testing.T) {
	tests := []struct {
		status    int
		code      Code
		retryable bool
	}{
		{401, CodeUnauthorized, false},
		{429, CodeRateLimited, true},
		{404, CodeInvalidConfig, false},
		{500, CodeServerError, true},
		{503, CodeServerError, true},
	}

	for _, tt := range tests {
		err := MapHTTPError(tt.status, "", "eztexting")
		assert.Equal(t, tt.code, err.Code, "status %d", tt.status)
		assert.Equal(t, tt.retryable, err.IsRetryable(), "status %d", tt.status)
		assert.Equal(t, "eztexting", err.MediaType)
	}

	withBody := MapHTTPError(500, "  upstream exploded  ", "eztexting")
	assert.Contains(t, withBody.Message, "upstream exploded")
}

func TestMapNetworkError(t *testing.T) {
	assert.Nil(t, MapNetworkError(nil, "email"))

	timeout := MapNetworkError(fmt.Errorf("read tcp: i/o timeout"), "email")
	assert.Equal(t, CodeTimeout, timeout.Code)
	assert.True(t, timeout.IsRetryable())

	refused := MapNetworkError(fmt.Errorf("dial tcp: connection refused"), "email")
	assert.Equal(t, CodeNetworkError, refused.Code)
	assert.True(t, refused.IsRetryable())

	other := MapNetworkError(fmt.Errorf("tls: handshake failure"), "email")
	assert.Equal(t, CodeNetworkError, other.Code)
}

func TestMapSMTPError(t *testing.T) {
	assert.Nil(t, MapSMTPError(nil))

	tests := []struct {
		name      string
		err       error
		code      Code
		retryable bool
	}{
		{"bad credentials", fmt.Errorf("535 5.7.8 authentication failed"), CodeInvalidCredentials, false},
		{"throttled", fmt.Errorf("421 too many connections"), CodeRateLimited, true},
		{"timeout", fmt.Errorf("read timeout"), CodeTimeout, true},
		{"bad recipient", fmt.Errorf("550 no such user"), CodeInvalidRecipient, false},
		{"other", fmt.Errorf("451 local error in processing"), CodeSendingFailed, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := MapSMTPError(tt.err)
			assert.Equal(t, tt.code, err.Code)
			assert.Equal(t, tt.retryable, err.IsRetryable())
			assert.Same(t, tt.err, err.Unwrap())
		})
	}
}
