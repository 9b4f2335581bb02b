package process

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"distbank/account"
	"distbank/fabric"
	"distbank/message"
)

type frame struct {
	peer int
	msg  message.Message
}

// scriptedEndpoint hands out a fixed sequence of frames and records everything sent
type scriptedEndpoint struct {
	id    int
	topo  *fabric.Topology
	inbox []frame
	sent  []frame
	stats fabric.Stats
}

func (se *scriptedEndpoint) ID() int {
	return se.id
}

func (se *scriptedEndpoint) Send(dst int, msg message.Message) error {
	if !se.topo.Valid(dst) || dst == se.id {
		return &fabric.ChannelError{Channel: fabric.Channel{Src: se.id, Dst: dst}, Op: "send", Err: fabric.ErrNotOwned}
	}
	se.sent = append(se.sent, frame{dst, msg})
	se.stats.Sent.Inc()
	return nil
}

func (se *scriptedEndpoint) Broadcast(msg message.Message) error {
	for _, dst := range se.topo.Peers(se.id) {
		if err := se.Send(dst, msg); err != nil {
			return err
		}
	}
	return nil
}

func (se *scriptedEndpoint) Receive(ctx context.Context, src int) (message.Message, error) {
	for i, f := range se.inbox {
		if f.peer == src {
			se.inbox = append(se.inbox[:i], se.inbox[i+1:]...)
			return f.msg, nil
		}
	}
	return message.Message{}, &fabric.ChannelError{Channel: fabric.Channel{Src: src, Dst: se.id}, Op: "receive", Err: fabric.ErrNoChannels}
}

func (se *scriptedEndpoint) ReceiveAny(ctx context.Context) (int, message.Message, error) {
	if len(se.inbox) == 0 {
		return -1, message.Message{}, &fabric.ChannelError{Channel: fabric.Channel{Src: -1, Dst: se.id}, Op: "receive any", Err: fabric.ErrNoChannels}
	}
	f := se.inbox[0]
	se.inbox = se.inbox[1:]
	se.stats.Received.Inc()
	return f.peer, f.msg, nil
}

func (se *scriptedEndpoint) Close() error {
	return nil
}

func (se *scriptedEndpoint) Stats() *fabric.Stats {
	return &se.stats
}

// sentOf returns the frames of type t that were sent
func (se *scriptedEndpoint) sentOf(t message.Type) []frame {
	out := []frame{}
	for _, f := range se.sent {
		if f.msg.Type() == t {
			out = append(out, f)
		}
	}
	return out
}

func newScripted(t *testing.T, id, workers int, inbox ...frame) (*State, *scriptedEndpoint) {
	topo, err := fabric.NewTopology(workers)
	require.NoError(t, err)
	se := &scriptedEndpoint{id: id, topo: topo, inbox: inbox}
	return NewState(topo, se, zerolog.Nop(), nil), se
}

func in(t *testing.T, src int, typ message.Type, at int, p []byte) frame {
	m, err := message.New(typ, at, p)
	require.NoError(t, err)
	return frame{src, m}
}

func order(t *testing.T, src, dst int, amount account.Balance) []byte {
	p, err := message.EncodeTransfer(message.TransferOrder{Src: src, Dst: dst, Amount: amount})
	require.NoError(t, err)
	return p
}

func historyChunks(t *testing.T, h account.History) [][]byte {
	p, err := message.EncodeHistory(h)
	require.NoError(t, err)
	return p
}
