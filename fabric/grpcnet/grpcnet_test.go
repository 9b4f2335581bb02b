package grpcnet

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"distbank/fabric"
	"distbank/fabric/fabrictest"
	"distbank/message"
)

func newFabric(t *testing.T, topo *fabric.Topology) fabric.Fabric {
	f, err := New(topo, fabric.Config{}, zerolog.Nop())
	require.NoError(t, err)
	return f
}

func TestGrpcFabric(t *testing.T) {
	fabrictest.Run(t, newFabric)
}

func TestBadMagicIsDropped(t *testing.T) {
	topo, err := fabric.NewTopology(1)
	require.NoError(t, err)
	eps := fabrictest.AttachAll(t, newFabric(t, topo), topo)
	sender := eps[0].(*Endpoint)

	garbage := []byte{0x00, 0x00, 1, 0, byte(message.Ack), 0, 3, 0xFF}
	require.NoError(t, sender.streams[1].SendMsg(&wrapperspb.BytesValue{Value: garbage}))
	require.NoError(t, sender.Send(1, fabrictest.Message(t, message.Stop, 4)))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	m, err := eps[1].Receive(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, message.Stop, m.Type())
	assert.Equal(t, uint64(1), eps[1].Stats().Dropped.Load())
}

func TestUnknownTypeIsDropped(t *testing.T) {
	topo, err := fabric.NewTopology(1)
	require.NoError(t, err)
	eps := fabrictest.AttachAll(t, newFabric(t, topo), topo)

	require.NoError(t, eps[0].Send(1, fabrictest.Message(t, message.Type(42), 3)))
	require.NoError(t, eps[0].Send(1, fabrictest.Message(t, message.Stop, 4)))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	m, err := eps[1].Receive(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, message.Stop, m.Type())
	assert.Equal(t, uint64(1), eps[1].Stats().Dropped.Load())
}

func TestStreamsAreObserved(t *testing.T) {
	topo, err := fabric.NewTopology(2)
	require.NoError(t, err)

	var mu sync.Mutex
	opened := map[fabric.Channel]bool{}
	released := map[fabric.Channel]bool{}
	observer := func(ev fabric.ChannelEvent) {
		mu.Lock()
		defer mu.Unlock()
		if ev.End != "write" {
			return
		}
		switch ev.Kind {
		case fabric.ChannelOpened:
			opened[ev.Channel] = true
		case fabric.ChannelReleased:
			released[ev.Channel] = true
		}
	}
	f, err := New(topo, fabric.Config{Observer: observer}, zerolog.Nop())
	require.NoError(t, err)
	eps := fabrictest.AttachAll(t, f, topo)
	for _, ep := range eps {
		require.NoError(t, ep.Close())
	}

	mu.Lock()
	defer mu.Unlock()
	for _, ch := range topo.Channels() {
		assert.True(t, opened[ch], "channel %v not opened", ch)
		assert.True(t, released[ch], "channel %v not released", ch)
	}
}

func TestDuplicateStreamIsRejected(t *testing.T) {
	topo, err := fabric.NewTopology(1)
	require.NoError(t, err)
	f := newFabric(t, topo).(*Fabric)
	eps := fabrictest.AttachAll(t, f, topo)

	// Once a frame arrived the handler for 0 -> 1 is running
	require.NoError(t, eps[0].Send(1, fabrictest.Message(t, message.Ack, 1)))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = eps[1].Receive(ctx, 0)
	require.NoError(t, err)

	assert.False(t, f.nodes[1].claim(0))
}
