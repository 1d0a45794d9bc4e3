package services

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorKindsAndMessages(t *testing.T) {
	assert.Equal(t, KindNotFound, KindOf(NotFound("Post not found")))
	assert.Equal(t, "Post not found", Message(NotFound("Post not found")))

	wrapped := fmt.Errorf("handler: %w", Conflict("Slow down"))
	assert.Equal(t, KindConflict, KindOf(wrapped))
	assert.Equal(t, "Slow down", Message(wrapped))

	cause := errors.New("connection refused")
	internal := Internal("load post", cause)
	assert.Equal(t, KindInternal, KindOf(internal))
	assert.ErrorIs(t, internal, cause)
	assert.NotContains(t, Message(internal), "connection refused")

	assert.Equal(t, KindInternal, KindOf(cause))
	assert.Equal(t, Message(internal), Message(cause))
}

func TestWrapInternalKeepsTypedErrors(t *testing.T) {
	typed := Validation("bad")
	assert.Same(t, typed, wrapInternal("op", typed))
	assert.Equal(t, KindInternal, KindOf(wrapInternal("op", errors.New("boom"))))
}

func TestCheckDescribesFirstFailure(t *testing.T) {
	err := check(RegisterInput{Username: "al", Email: "not-an-email", Password: "longenough"})
	assert.Equal(t, KindValidation, KindOf(err))
	assert.Equal(t, "email must be a valid email address", Message(err))

	err = check(RegisterInput{Username: "al", Email: "al@town.test", Password: "short"})
	assert.Equal(t, "password must be at least 8 characters", Message(err))
}
