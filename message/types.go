package message

import "fmt"

// Type identifies the kind of a message
type Type int16

const (
	Started Type = iota
	Done
	Ack
	Stop
	Transfer
	BalanceHistory
)

// Valid returns true if t is one of the known message types
func (t Type) Valid() bool {
	return t >= Started && t <= BalanceHistory
}

func (t Type) String() string {
	switch t {
	case Started:
		return "STARTED"
	case Done:
		return "DONE"
	case Ack:
		return "ACK"
	case Stop:
		return "STOP"
	case Transfer:
		return "TRANSFER"
	case BalanceHistory:
		return "BALANCE_HISTORY"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int16(t))
	}
}
