// Package grpcnet implements the channel fabric on top of gRPC.
//
// Every process runs a gRPC server on an in-memory listener. Each directed channel is one
// client stream from the sender to the server of the receiver, so frames on a channel are delivered in order.
package grpcnet

import (
	"context"
	"fmt"
	"net"
	"sort"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
	"go.uber.org/atomic"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"

	"distbank/fabric"
)

const bufSize = 1024 * 1024

// A node is the receiving side of a process
type node struct {
	id   int
	topo *fabric.Topology
	log  zerolog.Logger

	lis *bufconn.Listener
	srv *grpc.Server

	mailbox *fabric.Mailbox
	stats   fabric.Stats

	mu      sync.Mutex
	claimed map[int]bool

	closing atomic.Bool
}

func (n *node) claim(src int) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.claimed[src] {
		return false
	}
	n.claimed[src] = true
	return true
}

func (n *node) stop() {
	n.closing.Store(true)
	n.srv.Stop()
}

func address(id int) string {
	return fmt.Sprintf("process-%d", id)
}

// A Fabric connects the processes of a topology over gRPC
type Fabric struct {
	mu sync.Mutex

	topo *fabric.Topology
	cfg  fabric.Config
	log  zerolog.Logger

	nodes    []*node
	addrs    map[string]int
	attached map[int]*Endpoint
	closed   bool

	ctx    context.Context
	cancel context.CancelFunc
}

// Start a server for every process of the topology
func New(topo *fabric.Topology, cfg fabric.Config, log zerolog.Logger) (*Fabric, error) {
	ctx, cancel := context.WithCancel(context.Background())
	f := &Fabric{
		topo:     topo,
		cfg:      cfg,
		log:      log.With().Str("fabric", "grpc").Logger(),
		addrs:    make(map[string]int),
		attached: make(map[int]*Endpoint),
		ctx:      ctx,
		cancel:   cancel,
	}

	for id := 0; id < topo.Processes(); id++ {
		var sources []int
		mask := topo.Mask(id)
		for _, src := range topo.Peers(id) {
			if mask.CanRead(src) {
				sources = append(sources, src)
			}
		}
		n := &node{
			id:      id,
			topo:    topo,
			log:     f.log.With().Int("process", id).Logger(),
			lis:     bufconn.Listen(bufSize),
			srv:     grpc.NewServer(),
			claimed: make(map[int]bool),
		}
		n.mailbox = fabric.NewMailbox(id, sources, cfg.Size(), &n.stats)
		n.srv.RegisterService(&channelDesc, n)
		go func() {
			if err := n.srv.Serve(n.lis); err != nil && err != grpc.ErrServerStopped {
				n.log.Error().Err(err).Msg("server stopped")
			}
		}()
		f.nodes = append(f.nodes, n)
		f.addrs[address(id)] = id
	}
	return f, nil
}

func (f *Fabric) dial(ctx context.Context, addr string) (net.Conn, error) {
	id, ok := f.addrs[addr]
	if !ok {
		return nil, fmt.Errorf("%w: %v", fabric.ErrUnknownPeer, addr)
	}
	return f.nodes[id].lis.DialContext(ctx)
}

// Attach connects process id to the servers of the processes it writes to.
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

	ep := &Endpoint{
		node:    f.nodes[id],
		cfg:     f.cfg,
		conns:   make(map[int]*grpc.ClientConn),
		streams: make(map[int]grpc.ClientStream),
	}
	mask := f.topo.Mask(id)
	for _, dst := range f.topo.Peers(id) {
		if !mask.CanWrite(dst) {
			continue
		}
		if err := ep.open(f, dst); err != nil {
			return nil, multierror.Append(err, ep.Close())
		}
	}
	f.attached[id] = ep
	return ep, nil
}

// Seal stops the servers of processes that were never attached.
func (f *Fabric) Seal() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	var result *multierror.Error
	for id, n := range f.nodes {
		if _, ok := f.attached[id]; ok {
			continue
		}
		n.stop()
		for _, src := range f.topo.Peers(id) {
			f.cfg.Observe(fabric.ChannelEvent{Kind: fabric.ChannelReleased, Channel: fabric.Channel{Src: src, Dst: id}, Process: -1, End: "read"})
		}
		result = multierror.Append(result, fmt.Errorf("%w: %v", fabric.ErrNotAttached, id))
	}
	return result.ErrorOrNil()
}

// Close aborts every stream and stops every server
func (f *Fabric) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil
	}
	f.closed = true
	f.cancel()

	var result *multierror.Error
	ids := make([]int, 0, len(f.attached))
	for id := range f.attached {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		result = multierror.Append(result, f.attached[id].Close())
	}
	for _, n := range f.nodes {
		n.stop()
		n.mailbox.Close()
	}
	return result.ErrorOrNil()
}

func (f *Fabric) streamInterceptor(src int) grpc.StreamClientInterceptor {
	return func(ctx context.Context, desc *grpc.StreamDesc, cc *grpc.ClientConn, method string, streamer grpc.Streamer, opts ...grpc.CallOption) (grpc.ClientStream, error) {
		dst := f.addrs[cc.Target()] // cc.Target() is an experimental API
		cs, err := streamer(ctx, desc, cc, method, opts...)
		if err != nil {
			return nil, err
		}
		ch := fabric.Channel{Src: src, Dst: dst}
		f.cfg.Observe(fabric.ChannelEvent{Kind: fabric.ChannelOpened, Channel: ch, Process: src, End: "write"})
		return &observedStream{ClientStream: cs, channel: ch, cfg: f.cfg}, nil
	}
}

// observedStream reports when the sender releases its end of the channel
type observedStream struct {
	grpc.ClientStream
	channel fabric.Channel
	cfg     fabric.Config
	once    sync.Once
}

func (s *observedStream) CloseSend() error {
	s.once.Do(func() {
		s.cfg.Observe(fabric.ChannelEvent{Kind: fabric.ChannelReleased, Channel: s.channel, Process: s.channel.Src, End: "write"})
	})
	return s.ClientStream.CloseSend()
}
