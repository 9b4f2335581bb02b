package grpcnet

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/golang/protobuf/ptypes/empty"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"distbank/message"
)

const (
	serviceName   = "distbank.fabric.Channel"
	deliverMethod = "/" + serviceName + "/Deliver"

	// Metadata key carrying the id of the sending process
	sourceKey = "distbank-src"
)

// The server side of a channel. Each stream carries the frames of exactly one directed channel.
type channelServer interface {
	Deliver(grpc.ServerStream) error
}

func deliverHandler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(channelServer).Deliver(stream)
}

var channelDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*channelServer)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Deliver",
			Handler:       deliverHandler,
			ClientStreams: true,
		},
	},
	Metadata: "distbank/fabric/grpcnet",
}

func withSource(ctx context.Context, id int) context.Context {
	return metadata.AppendToOutgoingContext(ctx, sourceKey, strconv.Itoa(id))
}

func sourceOf(ctx context.Context) (int, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return 0, status.Error(codes.InvalidArgument, "missing metadata")
	}
	vals := md.Get(sourceKey)
	if len(vals) != 1 {
		return 0, status.Errorf(codes.InvalidArgument, "expected one %v, got %v", sourceKey, len(vals))
	}
	src, err := strconv.Atoi(vals[0])
	if err != nil {
		return 0, status.Errorf(codes.InvalidArgument, "malformed %v: %v", sourceKey, err)
	}
	return src, nil
}

// Deliver receives the frames of the channel src -> n.id and puts them in the mailbox of n
func (n *node) Deliver(stream grpc.ServerStream) error {
	src, err := sourceOf(stream.Context())
	if err != nil {
		return err
	}
	if !n.topo.Mask(n.id).CanRead(src) {
		return status.Errorf(codes.PermissionDenied, "process %v does not read from %v", n.id, src)
	}
	if !n.claim(src) {
		return status.Errorf(codes.AlreadyExists, "channel %v->%v is already open", src, n.id)
	}
	defer n.mailbox.Hangup(src)

	for {
		frame := &wrapperspb.BytesValue{}
		err := stream.RecvMsg(frame)
		if errors.Is(err, io.EOF) {
			n.log.Debug().Int("src", src).Msg("peer hung up")
			return stream.SendMsg(&empty.Empty{})
		}
		if err != nil {
			if !n.closing.Load() {
				n.log.Error().Err(err).Int("src", src).Msg("channel broke")
				n.mailbox.Fail(src, err)
			}
			return err
		}

		msg, err := message.Decode(frame.GetValue())
		if err != nil {
			var fe *message.FramingError
			if errors.As(err, &fe) && fe.Recoverable() {
				n.stats.Dropped.Inc()
				n.log.Warn().Err(err).Int("src", src).Msg("dropped frame")
				continue
			}
			n.mailbox.Fail(src, err)
			return status.Error(codes.InvalidArgument, err.Error())
		}
		if !n.mailbox.Deliver(src, msg) {
			return status.Error(codes.Unavailable, fmt.Sprintf("process %v released the channel", n.id))
		}
	}
}
