package queue

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorMatchesKindSentinels(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", conflict(ReasonDateConflict, "Patient already has an appointment on this date"))

	assert.True(t, errors.Is(err, ErrConflict))
	assert.False(t, errors.Is(err, ErrNotFound))
	assert.True(t, errors.Is(err, &Error{Kind: KindConflict, Reason: ReasonDateConflict}))
	assert.False(t, errors.Is(err, &Error{Kind: KindConflict, Reason: ReasonPatientExists}))
	assert.Equal(t, KindConflict, KindOf(err))
	assert.Equal(t, ReasonDateConflict, ReasonOf(err))
}

func TestKindOfForeignError(t *testing.T) {
	assert.Equal(t, KindInfrastructureFailure, KindOf(errors.New("boom")))
	assert.Equal(t, "", ReasonOf(errors.New("boom")))
}

func TestInfraErrorUnwraps(t *testing.T) {
	cause := errors.New("connection refused")
	err := infra("commit transaction", cause)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "commit transaction")
}

func TestNewEngineRequiresPoolAndSealer(t *testing.T) {
	_, err := NewEngine(Config{})
	assert.Error(t, err)
}

func TestParseStatus(t *testing.T) {
	s, err := ParseStatus("in")
	assert.NoError(t, err)
	assert.Equal(t, StatusInProgress, s)
	_, err = ParseStatus("done")
	assert.Error(t, err)
	assert.True(t, StatusCancelled.Terminal())
	assert.False(t, StatusInProgress.Terminal())
	assert.Equal(t, "pending", StatusPending.String())
}
