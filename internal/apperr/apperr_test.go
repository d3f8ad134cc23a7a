package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOfFollowsWrapChain(t *testing.T) {
	base := Transient("ledger insert", errors.New("connection refused"))
	wrapped := fmt.Errorf("onboard: %w", base)

	assert.Equal(t, KindTransient, KindOf(wrapped))
	assert.True(t, IsTransient(wrapped))
	assert.False(t, IsInvariant(wrapped))
	assert.Equal(t, "transient", CodeOf(wrapped))
}

func TestKindOfUnclassified(t *testing.T) {
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
	assert.Equal(t, "", CodeOf(nil))
}

func TestErrorMessage(t *testing.T) {
	err := Validation("wrong_token", "token mismatch")
	assert.Equal(t, "[validation/wrong_token] token mismatch", err.Error())

	inv := Invariant("duplicate reward", errors.New("two rows"))
	assert.Contains(t, inv.Error(), "two rows")
	assert.ErrorIs(t, inv, inv.Cause)
}
