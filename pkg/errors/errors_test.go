package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDomainErrorIsMatchesByCode(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", Provider(stderrors.New("429"), "openai call failed"))

	assert.True(t, Is(err, ErrProvider))
	assert.False(t, Is(err, ErrTool))
	assert.Equal(t, CodeProvider, CodeOf(err))
	assert.Equal(t, CodeInternal, CodeOf(stderrors.New("boom")))
}

func TestValidationListsFields(t *testing.T) {
	err := Validation(FieldError{Field: "ticker", Reason: "must match ^[A-Z]{1,5}$"})

	assert.True(t, err.HasField("ticker"))
	assert.False(t, err.HasField("analysis_date"))
	assert.Contains(t, err.Error(), "ticker must match")
}

func TestSanitizeHidesInternalDetail(t *testing.T) {
	err := Internal(stderrors.New("nil pointer at graph.go:42"), "node panicked")

	out := Sanitize(err, "run-1")
	require.NotNil(t, out)
	assert.Equal(t, CodeInternal, out.Code)
	assert.NotContains(t, out.Message, "graph.go")
	assert.Contains(t, out.Message, "run-1")

	plain := Sanitize(stderrors.New("raw"), "run-2")
	assert.Equal(t, CodeInternal, plain.Code)
	assert.NotContains(t, plain.Message, "raw")

	de := Sanitize(DataUnavailable(nil, "no bars for ZZZZ"), "run-3")
	assert.Equal(t, CodeDataUnavailable, de.Code)
	assert.NotEmpty(t, de.Suggestion)
}
