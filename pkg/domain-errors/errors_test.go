package domainerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHasCode(t *testing.T) {
	t.Run("direct error", func(t *testing.T) {
		err := New(CodeNotFound, "order not found")
		assert.True(t, HasCode(err, CodeNotFound))
		assert.False(t, HasCode(err, CodeInternal))
	})

	t.Run("wrapped by fmt", func(t *testing.T) {
		err := fmt.Errorf("update: %w", New(CodeBadRequest, "bad status"))
		assert.True(t, HasCode(err, CodeBadRequest))
	})

	t.Run("inner code reachable through outer domain error", func(t *testing.T) {
		inner := New(CodeConflict, "claimed")
		err := Wrap(inner, CodeInternal, "apply facet")
		assert.True(t, HasCode(err, CodeInternal))
		assert.True(t, HasCode(err, CodeConflict))
	})

	t.Run("plain error has no code", func(t *testing.T) {
		assert.False(t, HasCode(errors.New("boom"), CodeInternal))
		assert.False(t, HasCode(nil, CodeInternal))
	})
}

func TestWrap(t *testing.T) {
	assert.Nil(t, Wrap(nil, CodeInternal, "nothing"))

	cause := errors.New("connection refused")
	err := Wrap(cause, CodeUnavailable, "store unavailable")
	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "store unavailable: connection refused", err.Error())
	assert.Equal(t, CodeUnavailable, CodeOf(err))
	assert.Equal(t, "store unavailable", MessageOf(err))
}

func TestErrorsIsMatchesCodeAndMessage(t *testing.T) {
	err := New(CodeUnauthorized, "invalid token")
	require.ErrorIs(t, err, New(CodeUnauthorized, "invalid token"))
	assert.NotErrorIs(t, err, New(CodeUnauthorized, "token has expired"))
}

func TestCodeOfDefaultsToInternal(t *testing.T) {
	assert.Equal(t, CodeInternal, CodeOf(errors.New("x")))
	assert.Equal(t, "internal error", MessageOf(errors.New("x")))
}
