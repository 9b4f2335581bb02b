package message

import (
	"errors"
	"fmt"
)

var (
	ErrBadMagic        = errors.New("message: bad magic")
	ErrPayloadTooLarge = errors.New("message: payload too large")
	ErrTimeOutOfRange  = errors.New("message: local time out of range")
	ErrShortPayload    = errors.New("message: payload shorter than declared")
	ErrMalformed       = errors.New("message: malformed payload")
	ErrUnknownType     = errors.New("message: unknown message type")
)

// A FramingError is returned when a frame could not be decoded.
//
// When a FramingError is returned by ReadFrom the stream is positioned at the start of the next frame,
// unless Err is ErrPayloadTooLarge, in which case the stream can not be trusted anymore.
type FramingError struct {
	Header Header
	Err    error
}

func (fe *FramingError) Error() string {
	return fmt.Sprintf("%v (magic: %#04x, length: %v, type: %v)", fe.Err, fe.Header.Magic, fe.Header.PayloadLen, fe.Header.Type)
}

func (fe *FramingError) Unwrap() error {
	return fe.Err
}

// Recoverable returns true if the stream the frame was read from is still aligned
func (fe *FramingError) Recoverable() bool {
	return !errors.Is(fe.Err, ErrPayloadTooLarge)
}

// IsFramingError returns true if err is or wraps a FramingError
func IsFramingError(err error) bool {
	var fe *FramingError
	return errors.As(err, &fe)
}
