package sdstress

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
)

// ErrorCode is the stable numeric identity of an error, suitable for the
// CSV error_code column and for caller retry/fallback policy. The values
// are fixed; new codes may be appended but existing ones never change.
type ErrorCode uint8

const (
	CodeNone            ErrorCode = 0
	CodeInitFailed      ErrorCode = 1
	CodeMountFailed     ErrorCode = 2
	CodeFileOpenFailed  ErrorCode = 3
	CodeFileWriteFailed ErrorCode = 4
	CodeFileCloseFailed ErrorCode = 5
	CodeUnmountFailed   ErrorCode = 6
	CodePowerTimeout    ErrorCode = 7
	CodeSPIInitFailed   ErrorCode = 8
	CodeNotPresent      ErrorCode = 9
	CodeCardTypeUnknown ErrorCode = 10
	CodeVolumeFailed    ErrorCode = 11
	CodeBufferOverflow  ErrorCode = 12
	CodeUnknown         ErrorCode = 255
)

// CardError is the error type every public operation returns. Each carries
// an ErrorCode and can be matched with errors.Is against the sentinel
// values below regardless of how many times it has been annotated.
type CardError interface {
	error
	Code() ErrorCode
	WithMessage(message string) CardError
	Wrap(err error) CardError
}

type baseCardError struct {
	code    ErrorCode
	message string
}

var ErrInitFailed = baseCardError{CodeInitFailed, "card initialization failed"}
var ErrMountFailed = baseCardError{CodeMountFailed, "card not mounted"}
var ErrFileOpenFailed = baseCardError{CodeFileOpenFailed, "log file open failed"}
var ErrFileWriteFailed = baseCardError{CodeFileWriteFailed, "log file write failed"}
var ErrFileCloseFailed = baseCardError{CodeFileCloseFailed, "log file close failed"}
var ErrUnmountFailed = baseCardError{CodeUnmountFailed, "card unmount failed"}
var ErrPowerTimeout = baseCardError{CodePowerTimeout, "power rail settle timeout"}
var ErrSPIInitFailed = baseCardError{CodeSPIInitFailed, "SPI link setup failed"}
var ErrNotPresent = baseCardError{CodeNotPresent, "card not present"}
var ErrCardTypeUnknown = baseCardError{CodeCardTypeUnknown, "unknown card type"}
var ErrVolumeFailed = baseCardError{CodeVolumeFailed, "FAT volume mount failed"}
var ErrBufferOverflow = baseCardError{CodeBufferOverflow, "CSV line buffer overflow"}
var ErrUnknown = baseCardError{CodeUnknown, "unknown error"}

func (e baseCardError) Error() string {
	return e.message
}

func (e baseCardError) Code() ErrorCode {
	return e.code
}

func (e baseCardError) WithMessage(message string) CardError {
	return customCardError{
		code:          e.code,
		message:       fmt.Sprintf("%s: %s", e.message, message),
		originalError: e,
	}
}

func (e baseCardError) Wrap(err error) CardError {
	return customCardError{
		code:          e.code,
		message:       fmt.Sprintf("%s: %s", e.message, err.Error()),
		originalError: multierror.Append(e, err),
	}
}

// -----------------------------------------------------------------------------

type customCardError struct {
	code          ErrorCode
	message       string
	originalError error
}

func (e customCardError) Error() string {
	return e.message
}

func (e customCardError) Code() ErrorCode {
	return e.code
}

func (e customCardError) WithMessage(message string) CardError {
	return customCardError{
		code:          e.code,
		message:       fmt.Sprintf("%s: %s", e.message, message),
		originalError: e,
	}
}

func (e customCardError) Wrap(err error) CardError {
	return customCardError{
		code:          e.code,
		message:       fmt.Sprintf("%s: %s", e.Error(), err.Error()),
		originalError: multierror.Append(e, err),
	}
}

func (e customCardError) Unwrap() error {
	return e.originalError
}

// CodeOf extracts the stable code from any error. A nil error is CodeNone;
// an error that didn't come from this module is CodeUnknown.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return CodeNone
	}
	if ce, ok := err.(CardError); ok {
		return ce.Code()
	}
	return CodeUnknown
}
