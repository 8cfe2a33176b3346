package utils

import "errors"

var (
	ErrorRecordNotFound = errors.New("record not found")
	ErrorUnauthorized   = errors.New("unauthorized")
	ErrorForbidden      = errors.New("forbidden")
	ErrorInvalidInput   = errors.New("invalid input")
)

type inputError string

func (e inputError) Error() string { return string(e) }

func (e inputError) Is(target error) bool { return target == ErrorInvalidInput }

// InvalidInput reports a caller mistake. The message is returned as is and
// the error matches ErrorInvalidInput.
func InvalidInput(msg string) error {
	return inputError(msg)
}
