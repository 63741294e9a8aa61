package core

import (
	"fmt"

	"github.com/John-Robertt/route-cli/internal/model"
)

const (
	CodeUnavailable  = "CORE_UNAVAILABLE"
	CodeStartTimeout = "CORE_START_TIMEOUT"
	CodeExited       = "CORE_EXITED"
	CodePortInUse    = "CORE_PORT_IN_USE"
	CodeBadState     = "CORE_BAD_STATE"
)

type Error struct {
	AppError model.AppError
	Cause    error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.AppError.Code, e.AppError.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.AppError.Code, e.AppError.Message, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

func (e *Error) Is(target error) bool {
	switch e.AppError.Code {
	case CodeUnavailable:
		return target == model.ErrCoreUnavailable
	case CodeStartTimeout, CodeExited:
		return target == model.ErrCoreStartTimeout
	}
	return false
}

func (e *Error) App() model.AppError { return e.AppError }

func newError(stage, code, message, hint string, cause error) *Error {
	return &Error{
		AppError: model.AppError{Code: code, Message: message, Stage: stage, Hint: hint},
		Cause:    cause,
	}
}
