package common

import "errors"

var (
	// ErrCannotSendEmpty is returned when trying to send an empty payload.
	ErrCannotSendEmpty = errors.New("cannot send empty payload")
)
