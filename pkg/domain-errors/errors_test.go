package domainerrors

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHasCode(t *testing.T) {
	t.Run("direct error", func(t *testing.T) {
		err := New(CodeConflict, "already checked out")
		assert.True(t, HasCode(err, CodeConflict))
		assert.False(t, HasCode(err, CodeNotFound))
	})

	t.Run("wrapped by fmt.Errorf", func(t *testing.T) {
		err := fmt.Errorf("record pickup: %w", New(CodeForbidden, "supervisor required"))
		assert.True(t, HasCode(err, CodeForbidden))
	})

	t.Run("plain error has no code", func(t *testing.T) {
		assert.False(t, HasCode(errors.New("boom"), CodeInternal))
		assert.Equal(t, CodeInternal, CodeOf(errors.New("boom")))
	})
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := Wrap(cause, CodeInternal, "append pickup entry")

	require.ErrorIs(t, err, cause)
	assert.Equal(t, CodeInternal, CodeOf(err))
	assert.Contains(t, err.Error(), "connection reset")
}

func TestRateLimited(t *testing.T) {
	t.Run("carries retry after", func(t *testing.T) {
		err := fmt.Errorf("verify: %w", RateLimited("too many attempts", 90*time.Second))
		d, ok := RetryAfterOf(err)
		require.True(t, ok)
		assert.Equal(t, 90*time.Second, d)
		assert.True(t, HasCode(err, CodeRateLimited))
	})

	t.Run("negative retry after clamps to zero", func(t *testing.T) {
		d, ok := RetryAfterOf(RateLimited("x", -time.Second))
		require.True(t, ok)
		assert.Zero(t, d)
	})

	t.Run("other codes have no retry after", func(t *testing.T) {
		_, ok := RetryAfterOf(New(CodeConflict, "x"))
		assert.False(t, ok)
	})
}
