package grpcnet

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/golang/protobuf/ptypes/empty"
	"github.com/hashicorp/go-multierror"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"distbank/fabric"
	"distbank/message"
)

// An Endpoint is the server of a process together with its outbound streams
type Endpoint struct {
	*node
	cfg fabric.Config

	conns   map[int]*grpc.ClientConn
	streams map[int]grpc.ClientStream
}

func (ep *Endpoint) open(f *Fabric, dst int) error {
	conn, err := grpc.DialContext(
		f.ctx,
		address(dst),
		grpc.WithContextDialer(f.dial),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStreamInterceptor(f.streamInterceptor(ep.id)),
	)
	if err != nil {
		return &fabric.ChannelError{Channel: fabric.Channel{Src: ep.id, Dst: dst}, Op: "dial", Err: err}
	}
	ep.conns[dst] = conn

	stream, err := conn.NewStream(withSource(f.ctx, ep.id), &channelDesc.Streams[0], deliverMethod)
	if err != nil {
		return &fabric.ChannelError{Channel: fabric.Channel{Src: ep.id, Dst: dst}, Op: "open", Err: err}
	}
	ep.streams[dst] = stream
	return nil
}

func (ep *Endpoint) ID() int {
	return ep.id
}

// Send the frame on the stream to dst
func (ep *Endpoint) Send(dst int, msg message.Message) error {
	ch := fabric.Channel{Src: ep.id, Dst: dst}
	if ep.closing.Load() {
		return &fabric.ChannelError{Channel: ch, Op: "send", Err: fabric.ErrClosed}
	}
	stream, ok := ep.streams[dst]
	if !ok {
		return &fabric.ChannelError{Channel: ch, Op: "send", Err: fabric.ErrNotOwned}
	}
	b, err := msg.MarshalBinary()
	if err != nil {
		return err
	}
	if err := stream.SendMsg(&wrapperspb.BytesValue{Value: b}); err != nil {
		if errors.Is(err, io.EOF) {
			// The status of the stream is only available from RecvMsg
			if rerr := stream.RecvMsg(&empty.Empty{}); rerr != nil {
				err = rerr
			}
		}
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

// Close half-closes every outbound stream and waits for the receivers to acknowledge,
// then stops the server of the process.
func (ep *Endpoint) Close() error {
	if !ep.closing.CompareAndSwap(false, true) {
		return nil
	}
	ep.mailbox.Close()

	dsts := make([]int, 0, len(ep.streams))
	for dst := range ep.streams {
		dsts = append(dsts, dst)
	}
	sort.Ints(dsts)

	var result *multierror.Error
	for _, dst := range dsts {
		stream := ep.streams[dst]
		if err := stream.CloseSend(); err != nil {
			ep.log.Debug().Err(err).Int("dst", dst).Msg("close send")
			continue
		}
		if err := stream.RecvMsg(&empty.Empty{}); err != nil {
			ep.log.Debug().Err(err).Int("dst", dst).Msg("stream ended")
		}
	}
	for _, conn := range ep.conns {
		result = multierror.Append(result, conn.Close())
	}

	ep.srv.Stop()
	for _, src := range ep.topo.Peers(ep.id) {
		if ep.topo.Mask(ep.id).CanRead(src) {
			ep.cfg.Observe(fabric.ChannelEvent{Kind: fabric.ChannelReleased, Channel: fabric.Channel{Src: src, Dst: ep.id}, Process: ep.id, End: "read"})
		}
	}
	ep.log.Debug().Stringer("stats", &ep.stats).Msg("endpoint closed")
	return result.ErrorOrNil()
}

func (ep *Endpoint) String() string {
	return fmt.Sprintf("grpcnet.Endpoint{Process: %v}", ep.id)
}
