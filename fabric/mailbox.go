package fabric

import (
	"context"
	"fmt"
	"io"
	"reflect"
	"sync"

	"distbank/message"
)

type inbound struct {
	msg message.Message
	err error
}

// A Mailbox holds the frames received on the inbound channels of a process until the process consumes them.
//
// Every inbound channel has its own queue that is fed by exactly one goroutine of the transport.
// Receive and ReceiveAny must only be called from the goroutine of the owning process.
type Mailbox struct {
	self   int
	order  []int
	queues map[int]chan inbound

	// Only accessed by the receiving goroutine
	open map[int]bool

	stats *Stats

	done      chan struct{}
	closeOnce sync.Once
}

// Create a mailbox for process self with one queue for each of the sources.
//
// size is the number of frames that can be buffered per queue.
func NewMailbox(self int, sources []int, size int, stats *Stats) *Mailbox {
	mb := &Mailbox{
		self:   self,
		order:  append([]int{}, sources...),
		queues: make(map[int]chan inbound, len(sources)),
		open:   make(map[int]bool, len(sources)),
		stats:  stats,
		done:   make(chan struct{}),
	}
	for _, src := range sources {
		mb.queues[src] = make(chan inbound, size)
		mb.open[src] = true
	}
	return mb
}

// Deliver a frame received from src.
//
// Blocks while the queue is full. Returns false if the mailbox has been closed and the frame was discarded.
func (mb *Mailbox) Deliver(src int, msg message.Message) bool {
	return mb.put(src, inbound{msg: msg})
}

// Fail reports that the channel from src broke.
// The error is returned to the process the next time it receives from src.
func (mb *Mailbox) Fail(src int, err error) bool {
	return mb.put(src, inbound{err: err})
}

// Hangup reports that src released the write end of its channel.
//
// Frames already delivered can still be received. Must be called at most once per source,
// by the goroutine delivering the frames of that source.
func (mb *Mailbox) Hangup(src int) {
	if q, ok := mb.queues[src]; ok {
		close(q)
	}
}

// Close the mailbox. Blocked deliveries and receives return.
func (mb *Mailbox) Close() {
	mb.closeOnce.Do(func() {
		close(mb.done)
	})
}

func (mb *Mailbox) put(src int, in inbound) bool {
	q, ok := mb.queues[src]
	if !ok {
		return false
	}
	select {
	case q <- in:
		return true
	case <-mb.done:
		return false
	}
}

// Receive blocks until a frame from src is available
func (mb *Mailbox) Receive(ctx context.Context, src int) (message.Message, error) {
	ch := Channel{Src: src, Dst: mb.self}
	q, ok := mb.queues[src]
	if !ok {
		return message.Message{}, &ChannelError{Channel: ch, Op: "receive", Err: ErrNotOwned}
	}
	if !mb.open[src] {
		return message.Message{}, &ChannelError{Channel: ch, Op: "receive", Err: io.EOF}
	}
	select {
	case in, ok := <-q:
		if !ok {
			mb.open[src] = false
			return message.Message{}, &ChannelError{Channel: ch, Op: "receive", Err: io.EOF}
		}
		return mb.unwrap(src, in)
	case <-ctx.Done():
		return message.Message{}, ctx.Err()
	case <-mb.done:
		return message.Message{}, &ChannelError{Channel: ch, Op: "receive", Err: ErrClosed}
	}
}

// ReceiveAny blocks until a frame is available on any inbound channel.
//
// Waits on every open queue at once. When several queues are ready one is picked uniformly at random,
// so no sender is starved. Channels whose sender hung up are skipped.
func (mb *Mailbox) ReceiveAny(ctx context.Context) (int, message.Message, error) {
	for {
		cases := []reflect.SelectCase{
			{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(ctx.Done())},
			{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(mb.done)},
		}
		sources := make([]int, 0, len(mb.order))
		for _, src := range mb.order {
			if !mb.open[src] {
				continue
			}
			sources = append(sources, src)
			cases = append(cases, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(mb.queues[src])})
		}
		if len(sources) == 0 {
			return -1, message.Message{}, &ChannelError{Channel: Channel{Src: -1, Dst: mb.self}, Op: "receive any", Err: ErrNoChannels}
		}

		chosen, value, ok := reflect.Select(cases)
		switch chosen {
		case 0:
			return -1, message.Message{}, ctx.Err()
		case 1:
			return -1, message.Message{}, &ChannelError{Channel: Channel{Src: -1, Dst: mb.self}, Op: "receive any", Err: ErrClosed}
		}
		src := sources[chosen-2]
		if !ok {
			mb.open[src] = false
			continue
		}
		msg, err := mb.unwrap(src, value.Interface().(inbound))
		return src, msg, err
	}
}

func (mb *Mailbox) unwrap(src int, in inbound) (message.Message, error) {
	if in.err != nil {
		return message.Message{}, &ChannelError{Channel: Channel{Src: src, Dst: mb.self}, Op: "receive", Err: in.err}
	}
	if mb.stats != nil {
		mb.stats.Received.Inc()
	}
	return in.msg, nil
}

func (mb *Mailbox) String() string {
	return fmt.Sprintf("Mailbox{Process: %v, Sources: %v}", mb.self, mb.order)
}
