package process

import (
	"errors"
	"fmt"

	"distbank/message"
)

var ErrAborted = errors.New("process: run aborted before completion")

// A ProtocolViolation is a frame that was not expected by the receiving process.
//
// Violations are not fatal, the frame is ignored.
type ProtocolViolation struct {
	Process int
	From    int
	Type    message.Type
	Reason  string
}

func (pv *ProtocolViolation) Error() string {
	return fmt.Sprintf("protocol violation: process %v got %v from %v: %v", pv.Process, pv.Type, pv.From, pv.Reason)
}

// IsProtocolViolation returns true if err is or wraps a ProtocolViolation
func IsProtocolViolation(err error) bool {
	var pv *ProtocolViolation
	return errors.As(err, &pv)
}
