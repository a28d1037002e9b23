package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_IsMatchesKindAndReason(t *testing.T) {
	detailed := ErrConferenceNotFound.WithDetail("key %s", "abc")

	assert.True(t, errors.Is(detailed, ErrConferenceNotFound))
	assert.False(t, errors.Is(detailed, ErrProfileNotFound))
	assert.Equal(t, "conference not found: key abc", detailed.Error())
	assert.Empty(t, ErrConferenceNotFound.Detail, "WithDetail must not mutate the sentinel")
}

func TestError_WrapKeepsCause(t *testing.T) {
	cause := errors.New("disk on fire")
	err := fmt.Errorf("commit: %w", ErrConcurrentTransaction.Wrap(cause))

	assert.ErrorIs(t, err, ErrConcurrentTransaction)
	assert.ErrorIs(t, err, cause)
	assert.True(t, IsRetryable(err))
	assert.Equal(t, Conflict, KindOf(err))
	assert.Equal(t, "concurrent transaction", ReasonOf(err))
}

func TestKindOf_Plain(t *testing.T) {
	err := errors.New("boom")
	assert.Equal(t, Internal, KindOf(err))
	assert.Equal(t, "internal error", ReasonOf(err))
	assert.False(t, IsRetryable(err))
	assert.False(t, IsRetryable(ErrNoSeatsAvailable))
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "not_found", NotFound.String())
	assert.Equal(t, "invalid_query", InvalidQuery.String())
	assert.Equal(t, "internal", Kind(99).String())
}
