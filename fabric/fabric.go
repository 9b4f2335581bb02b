// Package fabric defines the channel fabric connecting the processes of a run.
//
// Every ordered pair of processes (src, dst) has exactly one directed channel.
// The write end belongs to src and the read end to dst.
// Implementations live in the pipe and grpcnet sub-packages.
package fabric

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/atomic"

	"distbank/message"
)

var (
	ErrNotOwned    = errors.New("fabric: channel end is not owned by the process")
	ErrClosed      = errors.New("fabric: endpoint is closed")
	ErrAttached    = errors.New("fabric: process is already attached")
	ErrNoChannels  = errors.New("fabric: no open inbound channels")
	ErrUnknownPeer = errors.New("fabric: unknown process")
	ErrNotAttached = errors.New("fabric: not every process is attached")
)

// An Endpoint is the view a single process has of the fabric.
//
// An Endpoint is used by a single goroutine, the process owning it.
type Endpoint interface {
	// The id of the process owning the endpoint
	ID() int

	// Send msg on the channel to dst
	Send(dst int, msg message.Message) error

	// Send msg to every other process. Stops at the first failure.
	Broadcast(msg message.Message) error

	// Block until a message is received on the channel from src
	Receive(ctx context.Context, src int) (message.Message, error)

	// Block until a message is received on any inbound channel.
	// Returns the id of the sender together with the message.
	ReceiveAny(ctx context.Context) (int, message.Message, error)

	// Release all the channel ends owned by the process
	Close() error

	// Counters for the frames handled by the endpoint
	Stats() *Stats
}

// A Fabric connects a set of processes.
type Fabric interface {
	// Hand process id the channel ends it owns. Can only be called once per process.
	Attach(id int) (Endpoint, error)

	// Release every channel end that has not been handed to a process.
	// Returns ErrNotAttached if some process has not been attached.
	Seal() error

	// Release every channel end, including those handed to processes.
	Close() error
}

// A ChannelError is returned when reading from or writing to a channel fails.
//
// A ChannelError is fatal for the process observing it.
type ChannelError struct {
	Channel Channel
	Op      string
	Err     error
}

func (ce *ChannelError) Error() string {
	return fmt.Sprintf("fabric: %v on channel %v: %v", ce.Op, ce.Channel, ce.Err)
}

func (ce *ChannelError) Unwrap() error {
	return ce.Err
}

// IsChannelError returns true if err is or wraps a ChannelError
func IsChannelError(err error) bool {
	var ce *ChannelError
	return errors.As(err, &ce)
}

// Stats counts the frames handled by an endpoint
type Stats struct {
	Sent     atomic.Uint64
	Received atomic.Uint64
	// Frames dropped because they could not be decoded
	Dropped atomic.Uint64
}

func (s *Stats) String() string {
	return fmt.Sprintf("{Sent: %v, Received: %v, Dropped: %v}", s.Sent.Load(), s.Received.Load(), s.Dropped.Load())
}

// The kind of a ChannelEvent
type ChannelEventKind int

const (
	ChannelOpened ChannelEventKind = iota
	ChannelReleased
)

// A ChannelEvent reports a change to one end of a channel.
type ChannelEvent struct {
	Kind    ChannelEventKind
	Channel Channel
	// The process holding the end. -1 if the end was held by the fabric itself.
	Process int
	// "read", "write" or "both"
	End string
}

func (ce ChannelEvent) String() string {
	switch ce.Kind {
	case ChannelOpened:
		return fmt.Sprintf("Channel %v opened", ce.Channel)
	default:
		if ce.Process < 0 {
			return fmt.Sprintf("Channel %v %v end released by the fabric", ce.Channel, ce.End)
		}
		return fmt.Sprintf("Process %v released %v end of channel %v", ce.Process, ce.End, ce.Channel)
	}
}

// Config configures a fabric implementation
type Config struct {
	// Number of frames buffered per inbound channel before the reader blocks.
	QueueSize int

	// Called for every ChannelEvent. May be nil.
	Observer func(ChannelEvent)
}

// Observe calls the observer if one is configured
func (c Config) Observe(ev ChannelEvent) {
	if c.Observer != nil {
		c.Observer(ev)
	}
}

// DefaultQueueSize is the queue size used when Config.QueueSize is not positive
const DefaultQueueSize = 64

// Size returns the configured queue size or the default
func (c Config) Size() int {
	if c.QueueSize <= 0 {
		return DefaultQueueSize
	}
	return c.QueueSize
}

// StatsSnapshot is a copy of the counters of a Stats
type StatsSnapshot struct {
	Sent, Received, Dropped uint64
}

// Snapshot returns the current values of the counters
func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{Sent: s.Sent.Load(), Received: s.Received.Load(), Dropped: s.Dropped.Load()}
}
