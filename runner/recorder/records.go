package recorder

import (
	"fmt"

	"distbank/account"
	"distbank/fabric"
)

type Record interface {
	Target() int
	fmt.Stringer
}

type EventKind int

const (
	Started EventKind = iota
	AllStarted
	TransferOut
	TransferIn
	Done
	AllDone
)

func (k EventKind) String() string {
	switch k {
	case Started:
		return "Started"
	case AllStarted:
		return "AllStarted"
	case TransferOut:
		return "TransferOut"
	case TransferIn:
		return "TransferIn"
	case Done:
		return "Done"
	case AllDone:
		return "AllDone"
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

// Event is recorded when a process reaches a step of the protocol.
type Event struct {
	Process int
	Kind    EventKind
	// Lamport time of the process when the event happened
	Time int

	// Balance of the account for Started and Done
	Balance account.Balance
	// Amount and counterpart for TransferOut and TransferIn
	Amount account.Balance
	Peer   int
}

func (e Event) Target() int {
	return e.Process
}

// String formats the event as a line of the events log, without the trailing newline.
func (e Event) String() string {
	switch e.Kind {
	case Started:
		return fmt.Sprintf("%d: process %1d (pid %5d, parent %5d) has STARTED with balance $%2d", e.Time, e.Process, e.Process, fabric.CoordinatorID, e.Balance)
	case AllStarted:
		return fmt.Sprintf("%d: process %1d received all STARTED messages", e.Time, e.Process)
	case TransferOut:
		return fmt.Sprintf("%d: process %1d transferred $%2d to process %1d", e.Time, e.Process, e.Amount, e.Peer)
	case TransferIn:
		return fmt.Sprintf("%d: process %1d received $%2d from process %1d", e.Time, e.Process, e.Amount, e.Peer)
	case Done:
		return fmt.Sprintf("%d: process %1d has DONE with balance $%2d", e.Time, e.Process, e.Balance)
	case AllDone:
		return fmt.Sprintf("%d: process %1d received all DONE messages", e.Time, e.Process)
	}
	return fmt.Sprintf("%d: process %1d %v", e.Time, e.Process, e.Kind)
}

// Channel is recorded when an end of a channel is opened or released
type Channel struct {
	fabric.ChannelEvent
}

func (c Channel) Target() int {
	return c.Process
}

// String formats the record as a line of the pipes log
func (c Channel) String() string {
	switch c.Kind {
	case fabric.ChannelOpened:
		return fmt.Sprintf("Opened %v %d->%d", c.End, c.Channel.Src, c.Channel.Dst)
	default:
		if c.Process < 0 {
			return fmt.Sprintf("Closing %v %d->%d", abbreviate(c.End), c.Channel.Src, c.Channel.Dst)
		}
		return fmt.Sprintf("Closing %v %d->%d by process %d", abbreviate(c.End), c.Channel.Src, c.Channel.Dst, c.Process)
	}
}

func abbreviate(end string) string {
	switch end {
	case "read":
		return "rd"
	case "write":
		return "wr"
	}
	return end
}
