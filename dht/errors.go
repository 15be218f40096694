package dht

import (
	"errors"
	"fmt"
)

// ErrTimeout is returned when a wait on outstanding requests exceeds the
// node's max timeout. Got counts the responses that did arrive before the
// deadline; a partial timeout (Got > 0) still carries usable packets.
type ErrTimeout struct {
	Want int
	Got  int
}

func (e ErrTimeout) Error() string {
	return fmt.Sprintf("timed out waiting for responses. want=%d got=%d", e.Want, e.Got)
}

func IsErrTimeout(err error) bool {
	return errors.As(err, &ErrTimeout{})
}

// ErrProtocolViolation reports a broken invariant of the messaging layer:
// resolving a request twice, re-sending an already-sent packet, or a
// malformed payload. These are programming errors; they are raised by
// panic and abort the run.
type ErrProtocolViolation struct {
	Msg string
}

func (e ErrProtocolViolation) Error() string {
	return fmt.Sprintf("protocol violation: %s", e.Msg)
}

func IsErrProtocolViolation(err error) bool {
	return errors.As(err, &ErrProtocolViolation{})
}

func violationf(format string, args ...any) {
	panic(ErrProtocolViolation{Msg: fmt.Sprintf(format, args...)})
}
