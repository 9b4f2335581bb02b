// Package pipe implements the channel fabric with one operating system pipe per directed channel.
package pipe

import (
	"fmt"
	"os"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"

	"distbank/fabric"
)

type ends struct {
	r, w *os.File
}

// A Fabric owns the pipes of a topology until they are attached to processes.
type Fabric struct {
	mu sync.Mutex

	topo *fabric.Topology
	cfg  fabric.Config
	log  zerolog.Logger

	// Ends that have not been handed to a process yet
	readers map[fabric.Channel]*os.File
	writers map[fabric.Channel]*os.File

	attached map[int]*Endpoint
	closed   bool
}

// Create a pipe for every channel of the topology
func New(topo *fabric.Topology, cfg fabric.Config, log zerolog.Logger) (*Fabric, error) {
	f := &Fabric{
		topo:     topo,
		cfg:      cfg,
		log:      log.With().Str("fabric", "pipe").Logger(),
		readers:  make(map[fabric.Channel]*os.File),
		writers:  make(map[fabric.Channel]*os.File),
		attached: make(map[int]*Endpoint),
	}
	for _, c := range topo.Channels() {
		r, w, err := os.Pipe()
		if err != nil {
			closeErr := f.Close()
			return nil, multierror.Append(fmt.Errorf("pipe: could not create channel %v: %w", c, err), closeErr).ErrorOrNil()
		}
		f.readers[c] = r
		f.writers[c] = w
		f.log.Debug().Stringer("channel", c).Msg("pipe created")
		f.cfg.Observe(fabric.ChannelEvent{Kind: fabric.ChannelOpened, Channel: c, Process: -1, End: "both"})
	}
	return f, nil
}

// Attach hands process id the write ends of its outbound channels and the read ends of its inbound channels.
func (f *Fabric) Attach(id int) (fabric.Endpoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil, fabric.ErrClosed
	}
	if !f.topo.Valid(id) {
		return nil, fmt.Errorf("%w: %v", fabric.ErrUnknownPeer, id)
	}
	if _, ok := f.attached[id]; ok {
		return nil, fmt.Errorf("%w: %v", fabric.ErrAttached, id)
	}

	mask := f.topo.Mask(id)
	readers := make(map[int]*os.File)
	writers := make(map[int]*os.File)
	for _, c := range f.topo.Channels() {
		if c.Src == id && mask.CanWrite(c.Dst) {
			writers[c.Dst] = f.writers[c]
			delete(f.writers, c)
		}
		if c.Dst == id && mask.CanRead(c.Src) {
			readers[c.Src] = f.readers[c]
			delete(f.readers, c)
		}
	}

	ep := newEndpoint(id, f.topo, readers, writers, f.cfg, f.log)
	f.attached[id] = ep
	ep.start()
	return ep, nil
}

// Seal releases every end that is not owned by an attached process.
func (f *Fabric) Seal() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	err := f.releaseUnowned()
	if len(f.attached) != f.topo.Processes() {
		err = multierror.Append(err, fmt.Errorf("%w: %v of %v", fabric.ErrNotAttached, len(f.attached), f.topo.Processes()))
	}
	return err.ErrorOrNil()
}

// Close releases every end, including the ends held by attached processes.
func (f *Fabric) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil
	}
	f.closed = true
	err := f.releaseUnowned()
	for _, ep := range f.attached {
		err = multierror.Append(err, ep.Close())
	}
	return err.ErrorOrNil()
}

func (f *Fabric) releaseUnowned() *multierror.Error {
	var result *multierror.Error
	for c, r := range f.readers {
		result = multierror.Append(result, r.Close())
		delete(f.readers, c)
		f.cfg.Observe(fabric.ChannelEvent{Kind: fabric.ChannelReleased, Channel: c, Process: -1, End: "read"})
	}
	for c, w := range f.writers {
		result = multierror.Append(result, w.Close())
		delete(f.writers, c)
		f.cfg.Observe(fabric.ChannelEvent{Kind: fabric.ChannelReleased, Channel: c, Process: -1, End: "write"})
	}
	return result
}
