package ledger

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindHelpers(t *testing.T) {
	assert.True(t, IsValidation(NewValidationError(CodeBadRate, "rate must be positive")))
	assert.True(t, IsAuthorization(NewAuthorizationError("signer is not the payer")))
	assert.True(t, IsState(NewStateError(CodeNotActive, "stream is not active")))
	assert.True(t, IsNotFound(NewNotFoundError(ZeroAddress)))
	assert.True(t, IsDecode(NewDecodeError(CodeTruncated, "short buffer")))
	assert.True(t, IsArithmetic(NewArithmeticError(CodeOverflow, "overflow")))

	assert.Equal(t, Kind(-1), KindOf(errors.New("plain")))
	assert.Equal(t, Kind(-1), KindOf(nil))
}

func TestErrorMessageCarriesKindAndCode(t *testing.T) {
	err := NewStateError(CodeRobotBusy, "robot is executing a task")
	assert.Equal(t, "[state/ROBOT_BUSY] robot is executing a task", err.Error())
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("bad base58")
	err := WrapValidationError(CodeBadAddress, "malformed address", cause)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "bad base58")
}

func TestErrorSurvivesWrapping(t *testing.T) {
	inner := NewNotFoundError(ZeroAddress)
	wrapped := fmt.Errorf("load robot: %w", inner)
	assert.True(t, IsNotFound(wrapped))

	var lerr *Error
	require.ErrorAs(t, wrapped, &lerr)
	assert.Equal(t, CodeNotFound, lerr.Code)
}

func TestWithContext(t *testing.T) {
	err := NewValidationError(CodeBadDuration, "duration out of range").
		WithContext("got", 5).
		WithContext("min", 60)
	assert.Equal(t, 5, err.Context["got"])
	assert.Equal(t, 60, err.Context["min"])
}
