package ir

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRuntimeError_Categories(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", NewStaleMsgError(4))
	assert.True(t, IsStaleMsg(err))
	assert.True(t, IsCategory(err, CategoryStaleMsg))
	assert.False(t, IsFatal(err))

	fatal := NewError(ErrCodeTableMismatch, "fingerprints differ")
	assert.True(t, IsFatal(fatal))
	assert.True(t, IsCategory(fatal, CategoryProtocol))

	assert.True(t, IsCategory(NewStaleElementError(2), CategoryAddressing))
	assert.True(t, IsCategory(Errorf(ErrCodeDimensionMismatch, "x"), CategoryRouting))
	assert.True(t, IsCategory(Errorf(ErrCodeSignatureMismatch, "x"), CategoryDispatch))
	assert.True(t, IsCategory(Errorf(ErrCodeUninitializedHandler, "x"), CategorySharding))
}

func TestRuntimeError_NotRuntimeError(t *testing.T) {
	err := fmt.Errorf("plain")
	assert.False(t, IsCode(err, ErrCodeStaleMsg))
	assert.False(t, IsFatal(err))
}

func TestRuntimeError_Message(t *testing.T) {
	err := NewError(ErrCodeOutOfRange, "data id out of range", "element", "#1", "count", "4")
	assert.Equal(t, "OUT_OF_RANGE: data id out of range (count=4, element=#1)", err.Error())
	assert.Equal(t, "STALE_MSG: gone", Errorf(ErrCodeStaleMsg, "gone").Error())
}
