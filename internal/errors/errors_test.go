package errors

import (
	stderrors "errors"
	"fmt"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_CarriesCodeAndSuggestion(t *testing.T) {
	err := New(CodeIndexCorrupt, "The index could not be read.")

	assert.Equal(t, CodeIndexCorrupt, err.Code)
	assert.Contains(t, err.Suggestion, "reindex_project")
	assert.Contains(t, err.Error(), "INDEX_CORRUPT")
}

func TestWrap_PreservesCause(t *testing.T) {
	cause := fs.ErrPermission
	err := Wrap(CodePermissionDenied, "Access to the file was denied.", cause)

	require.NotNil(t, err)
	assert.True(t, stderrors.Is(err, fs.ErrPermission))
	assert.Equal(t, cause, err.Unwrap())
	assert.Contains(t, err.Error(), "permission denied")
}

func TestWrap_NilReturnsNil(t *testing.T) {
	require.Nil(t, Wrap(CodeDiskFull, "ignored", nil))
}

func TestIs_MatchesByCode(t *testing.T) {
	a := New(CodeBusy, "Another operation is running.")
	b := New(CodeBusy, "different message")

	assert.True(t, stderrors.Is(a, b))
	assert.False(t, stderrors.Is(a, New(CodeDiskFull, "x")))
}

func TestCodeOf_UnwrapsThroughChains(t *testing.T) {
	inner := New(CodeInvalidPattern, "The pattern could not be parsed.")
	outer := fmt.Errorf("search_by_path: %w", inner)

	assert.Equal(t, CodeInvalidPattern, CodeOf(outer))
	assert.True(t, HasCode(outer, CodeInvalidPattern))
	assert.Equal(t, Code(""), CodeOf(stderrors.New("plain")))
}

func TestKind_Taxonomy(t *testing.T) {
	tests := []struct {
		code Code
		kind Kind
	}{
		{CodeInvalidPattern, KindUserCorrectable},
		{CodeFileLimitWarning, KindUserCorrectable},
		{CodeIndexCorrupt, KindRebuild},
		{CodeIndexNotFound, KindRebuild},
		{CodeDiskFull, KindEnvironmental},
		{CodePermissionDenied, KindEnvironmental},
		{CodeBusy, KindContention},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.kind, New(tt.code, "m").Kind(), "code %s", tt.code)
	}
}

func TestUserMessage_StructuredAndPlain(t *testing.T) {
	msg, sug := UserMessage(New(CodeBusy, "Another indexing operation is in progress."))
	assert.Equal(t, "Another indexing operation is in progress.", msg)
	assert.NotEmpty(t, sug)

	msg, sug = UserMessage(stderrors.New("boom"))
	assert.NotEmpty(t, msg)
	assert.Empty(t, sug)
}
