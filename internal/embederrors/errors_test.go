package embederrors

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidationError(t *testing.T) {
	t.Run("message wins over field", func(t *testing.T) {
		err := NewValidationError("image", "invalid image")
		assert.Equal(t, "invalid image", err.Error())
	})

	t.Run("field only", func(t *testing.T) {
		err := NewValidationError("image", "")
		assert.Equal(t, "validation failed for field: image", err.Error())
	})

	t.Run("matches sentinel through wrapping", func(t *testing.T) {
		err := fmt.Errorf("decode upload: %w", NewValidationError("image", "invalid image"))
		assert.ErrorIs(t, err, ErrValidation)
		assert.NotErrorIs(t, err, ErrTooLarge)
	})
}

func TestTooLargeError(t *testing.T) {
	assert.Equal(t, "input too large", (&TooLargeError{}).Error())

	err := fmt.Errorf("decode: %w", NewTooLargeError("image is 20000x20000 pixels"))
	assert.ErrorIs(t, err, ErrTooLarge)
	assert.NotErrorIs(t, err, ErrValidation)
}

func TestUnavailableError(t *testing.T) {
	err := NewUnavailableError("inference timed out", context.DeadlineExceeded)

	assert.Equal(t, "inference timed out: context deadline exceeded", err.Error())
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, errors.Is(fmt.Errorf("embed: %w", err), ErrUnavailable))
}
