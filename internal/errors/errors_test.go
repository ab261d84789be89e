package errors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndexError_Unwrap_PreservesOriginalError(t *testing.T) {
	originalErr := errors.New("original error")

	amanErr := New(ErrCodeFileReadFailed, "file not found: test.txt", originalErr)

	require.NotNil(t, amanErr)
	assert.Equal(t, originalErr, errors.Unwrap(amanErr))
	assert.True(t, errors.Is(amanErr, originalErr))
}

func TestIndexError_Error_ReturnsFormattedMessage(t *testing.T) {
	tests := []struct {
		name     string
		code     string
		message  string
		expected string
	}{
		{
			name:     "precondition error",
			code:     ErrCodeReindexNotIndexed,
			message:  "no prior index found",
			expected: "[ERR_101_REINDEX_NOT_INDEXED] no prior index found",
		},
		{
			name:     "file read error",
			code:     ErrCodeFileReadFailed,
			message:  "file.go not found",
			expected: "[ERR_301_FILE_READ_FAILED] file.go not found",
		},
		{
			name:     "transient RPC error",
			code:     ErrCodeNetworkTimeout,
			message:  "request timed out",
			expected: "[ERR_203_NETWORK_TIMEOUT] request timed out",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.code, tt.message, nil)
			assert.Equal(t, tt.expected, err.Error())
		})
	}
}

func TestIndexError_Is_MatchesByCode(t *testing.T) {
	err1 := New(ErrCodeFileReadFailed, "file A not found", nil)
	err2 := New(ErrCodeFileReadFailed, "file B not found", nil)

	assert.True(t, errors.Is(err1, err2))
}

func TestIndexError_Is_DoesNotMatchDifferentCodes(t *testing.T) {
	err1 := New(ErrCodeFileReadFailed, "file not found", nil)
	err2 := New(ErrCodeReindexNotIndexed, "not indexed", nil)

	assert.False(t, errors.Is(err1, err2))
}

func TestIndexError_WithDetails_AddsContext(t *testing.T) {
	err := New(ErrCodeFileReadFailed, "file not found", nil)

	err = err.WithDetail("path", "/foo/bar.go")
	err = err.WithDetail("size", "1024")

	assert.Equal(t, "/foo/bar.go", err.Details["path"])
	assert.Equal(t, "1024", err.Details["size"])
}

func TestIndexError_WithSuggestion_AddsSuggestion(t *testing.T) {
	err := New(ErrCodeNetworkTimeout, "connection timed out", nil)

	err = err.WithSuggestion("Check your network connection")

	assert.Equal(t, "Check your network connection", err.Suggestion)
}

func TestIndexError_CategoryFromCode(t *testing.T) {
	tests := []struct {
		code         string
		wantCategory Category
	}{
		{ErrCodeReindexNotIndexed, CategoryPrecondition},
		{ErrCodeCollectionExists, CategoryPrecondition},
		{ErrCodeFileReadFailed, CategoryFileRead},
		{ErrCodeFilePermission, CategoryFileRead},
		{ErrCodeNetworkTimeout, CategoryTransientRPC},
		{ErrCodeEmbeddingFailed, CategoryTransientRPC},
		{ErrCodeSecretDetected, CategorySecretDetected},
		{ErrCodeGitSubprocessFailed, CategoryGitSubprocess},
		{ErrCodeCorruptSnapshot, CategoryCorruptedState},
		{ErrCodeDeleteFailed, CategoryDeleteFailure},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := New(tt.code, "test message", nil)
			assert.Equal(t, tt.wantCategory, err.Category)
		})
	}
}

func TestIndexError_SeverityFromCode(t *testing.T) {
	tests := []struct {
		code         string
		wantSeverity Severity
	}{
		{ErrCodeCorruptSnapshot, SeverityFatal},
		{ErrCodeCorruptCheckpoint, SeverityFatal},
		{ErrCodeFileReadFailed, SeverityError},
		{ErrCodeNetworkTimeout, SeverityWarning},
		{ErrCodeEmbeddingFailed, SeverityWarning},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := New(tt.code, "test message", nil)
			assert.Equal(t, tt.wantSeverity, err.Severity)
		})
	}
}

func TestIndexError_RetryableFromCode(t *testing.T) {
	tests := []struct {
		code          string
		wantRetryable bool
	}{
		{ErrCodeNetworkTimeout, true},
		{ErrCodeNetworkUnavailable, true},
		{ErrCodeModelDownload, true},
		{ErrCodeEmbeddingFailed, true},
		{ErrCodeFileReadFailed, false},
		{ErrCodeReindexNotIndexed, false},
		{ErrCodeCorruptSnapshot, false},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := New(tt.code, "test message", nil)
			assert.Equal(t, tt.wantRetryable, err.Retryable)
		})
	}
}

func TestWrap_CreatesIndexErrorFromError(t *testing.T) {
	originalErr := errors.New("something went wrong")

	amanErr := Wrap(ErrCodeInternal, originalErr)

	require.NotNil(t, amanErr)
	assert.Equal(t, ErrCodeInternal, amanErr.Code)
	assert.Equal(t, "something went wrong", amanErr.Message)
	assert.Equal(t, originalErr, amanErr.Cause)
}

func TestFileReadError_CreatesFileReadCategoryError(t *testing.T) {
	err := FileReadError("cannot read file", nil)

	assert.Equal(t, CategoryFileRead, err.Category)
}

func TestSecretDetectedError_CarriesPath(t *testing.T) {
	err := SecretDetectedError("config/secrets.go")

	assert.Equal(t, CategorySecretDetected, err.Category)
	assert.Equal(t, "config/secrets.go", err.Details["path"])
}

func TestTransientRPCError_CreatesRetryableError(t *testing.T) {
	err := TransientRPCError(ErrCodeEmbeddingFailed, "connection refused", nil)

	assert.Equal(t, CategoryTransientRPC, err.Category)
	assert.True(t, err.Retryable)
}

func TestGitSubprocessError_CreatesGitSubprocessCategoryError(t *testing.T) {
	err := GitSubprocessError("git log failed", nil)

	assert.Equal(t, CategoryGitSubprocess, err.Category)
}

func TestDeleteFailureError_CreatesDeleteFailureCategoryError(t *testing.T) {
	err := DeleteFailureError("all fallback levels exhausted", nil)

	assert.Equal(t, CategoryDeleteFailure, err.Category)
}

func TestIsRetryable_ChecksRetryableFlag(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{
			name:     "retryable IndexError",
			err:      New(ErrCodeNetworkTimeout, "timeout", nil),
			expected: true,
		},
		{
			name:     "non-retryable IndexError",
			err:      New(ErrCodeFileReadFailed, "not found", nil),
			expected: false,
		},
		{
			name:     "wrapped retryable error",
			err:      Wrap(ErrCodeNetworkTimeout, errors.New("wrapped")),
			expected: true,
		},
		{
			name:     "standard error",
			err:      errors.New("standard error"),
			expected: false,
		},
		{
			name:     "nil error",
			err:      nil,
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsRetryable(tt.err))
		})
	}
}

func TestIsFatal_ChecksFatalSeverity(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{
			name:     "fatal error",
			err:      New(ErrCodeCorruptSnapshot, "snapshot corrupt", nil),
			expected: true,
		},
		{
			name:     "checkpoint corrupt error",
			err:      New(ErrCodeCorruptCheckpoint, "checkpoint corrupt", nil),
			expected: true,
		},
		{
			name:     "non-fatal error",
			err:      New(ErrCodeFileReadFailed, "not found", nil),
			expected: false,
		},
		{
			name:     "standard error",
			err:      errors.New("standard error"),
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsFatal(tt.err))
		})
	}
}
