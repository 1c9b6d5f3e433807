package sdstress_test

import (
	"errors"
	"testing"

	sdstress "github.com/Di-Ny/heltec-ab0-sdcard-stress-test"
	"github.com/stretchr/testify/assert"
)

func TestCardErrorWithMessage(t *testing.T) {
	newErr := sdstress.ErrVolumeFailed.WithMessage("sector 0 unreadable")
	assert.Equal(
		t, "FAT volume mount failed: sector 0 unreadable", newErr.Error(), "error message is wrong")
	assert.ErrorIs(t, newErr, sdstress.ErrVolumeFailed)
	assert.Equal(t, sdstress.CodeVolumeFailed, newErr.Code())
}

func TestCardErrorWrap(t *testing.T) {
	originalErr := errors.New("original error")
	newErr := sdstress.ErrFileWriteFailed.Wrap(originalErr)
	expectedMessage := "log file write failed: original error"

	assert.EqualValues(t, expectedMessage, newErr.Error(), "error message is wrong")
	assert.ErrorIs(t, newErr, originalErr, "original error not set as parent")
	assert.ErrorIs(t, newErr, sdstress.ErrFileWriteFailed, "sentinel not set as parent")
	assert.Equal(t, sdstress.CodeFileWriteFailed, newErr.Code(), "code lost while wrapping")
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, sdstress.CodeNone, sdstress.CodeOf(nil))
	assert.Equal(t, sdstress.CodeInitFailed, sdstress.CodeOf(sdstress.ErrInitFailed))
	assert.Equal(
		t,
		sdstress.CodeBufferOverflow,
		sdstress.CodeOf(sdstress.ErrBufferOverflow.WithMessage("line too long")))
	assert.Equal(t, sdstress.CodeUnknown, sdstress.CodeOf(errors.New("somebody else's error")))
}
