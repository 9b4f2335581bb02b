package pipe

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
	"go.uber.org/atomic"

	"distbank/fabric"
	"distbank/message"
)

// An Endpoint holds the pipe ends owned by a single process
type Endpoint struct {
	id   int
	topo *fabric.Topology
	cfg  fabric.Config
	log  zerolog.Logger

	writers map[int]*os.File
	readers map[int]*os.File

	mailbox *fabric.Mailbox
	stats   fabric.Stats

	closing atomic.Bool
	wg      sync.WaitGroup
}

func newEndpoint(id int, topo *fabric.Topology, readers, writers map[int]*os.File, cfg fabric.Config, log zerolog.Logger) *Endpoint {
	sources := make([]int, 0, len(readers))
	for src := range readers {
		sources = append(sources, src)
	}
	sort.Ints(sources)
	ep := &Endpoint{
		id:      id,
		topo:    topo,
		cfg:     cfg,
		log:     log.With().Int("process", id).Logger(),
		writers: writers,
		readers: readers,
	}
	ep.mailbox = fabric.NewMailbox(id, sources, cfg.Size(), &ep.stats)
	return ep
}

func (ep *Endpoint) start() {
	for src, r := range ep.readers {
		ep.wg.Add(1)
		go ep.readLoop(src, r)
	}
}

// readLoop frames the bytes of the channel from src and delivers them to the mailbox
func (ep *Endpoint) readLoop(src int, r *os.File) {
	defer ep.wg.Done()
	defer ep.mailbox.Hangup(src)

	br := bufio.NewReader(r)
	for {
		msg, err := message.ReadFrom(br)
		if err == nil {
			if !ep.mailbox.Deliver(src, msg) {
				return
			}
			continue
		}

		var fe *message.FramingError
		if errors.As(err, &fe) && fe.Recoverable() {
			ep.stats.Dropped.Inc()
			ep.log.Warn().Err(err).Int("src", src).Msg("dropped frame")
			continue
		}
		if ep.closing.Load() || errors.Is(err, os.ErrClosed) {
			return
		}
		if errors.Is(err, io.EOF) {
			ep.log.Debug().Int("src", src).Msg("peer hung up")
			return
		}
		ep.log.Error().Err(err).Int("src", src).Msg("channel broke")
		ep.mailbox.Fail(src, err)
		return
	}
}

func (ep *Endpoint) ID() int {
	return ep.id
}

// Send writes the frame to the channel to dst in a single write
func (ep *Endpoint) Send(dst int, msg message.Message) error {
	ch := fabric.Channel{Src: ep.id, Dst: dst}
	if ep.closing.Load() {
		return &fabric.ChannelError{Channel: ch, Op: "send", Err: fabric.ErrClosed}
	}
	w, ok := ep.writers[dst]
	if !ok {
		return &fabric.ChannelError{Channel: ch, Op: "send", Err: fabric.ErrNotOwned}
	}
	b, err := msg.MarshalBinary()
	if err != nil {
		return err
	}
	if _, err := w.Write(b); err != nil {
		return &fabric.ChannelError{Channel: ch, Op: "send", Err: err}
	}
	ep.stats.Sent.Inc()
	return nil
}

// Broadcast sends the frame to every other process, in increasing id order
func (ep *Endpoint) Broadcast(msg message.Message) error {
	for _, dst := range ep.topo.Peers(ep.id) {
		if err := ep.Send(dst, msg); err != nil {
			return err
		}
	}
	return nil
}

func (ep *Endpoint) Receive(ctx context.Context, src int) (message.Message, error) {
	return ep.mailbox.Receive(ctx, src)
}

func (ep *Endpoint) ReceiveAny(ctx context.Context) (int, message.Message, error) {
	return ep.mailbox.ReceiveAny(ctx)
}

func (ep *Endpoint) Stats() *fabric.Stats {
	return &ep.stats
}

// Close releases every end owned by the process.
//
// Peers reading from the released write ends observe end of stream.
func (ep *Endpoint) Close() error {
	if !ep.closing.CompareAndSwap(false, true) {
		return nil
	}
	var result *multierror.Error
	for dst, w := range ep.writers {
		result = multierror.Append(result, w.Close())
		ep.cfg.Observe(fabric.ChannelEvent{Kind: fabric.ChannelReleased, Channel: fabric.Channel{Src: ep.id, Dst: dst}, Process: ep.id, End: "write"})
	}
	for src, r := range ep.readers {
		result = multierror.Append(result, r.Close())
		ep.cfg.Observe(fabric.ChannelEvent{Kind: fabric.ChannelReleased, Channel: fabric.Channel{Src: src, Dst: ep.id}, Process: ep.id, End: "read"})
	}
	ep.mailbox.Close()
	ep.wg.Wait()
	ep.log.Debug().Stringer("stats", &ep.stats).Msg("endpoint closed")
	return result.ErrorOrNil()
}

func (ep *Endpoint) String() string {
	return fmt.Sprintf("pipe.Endpoint{Process: %v}", ep.id)
}
