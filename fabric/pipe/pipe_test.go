package pipe

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"distbank/fabric"
	"distbank/fabric/fabrictest"
	"distbank/message"
)

func newFabric(t *testing.T, topo *fabric.Topology) fabric.Fabric {
	f, err := New(topo, fabric.Config{}, zerolog.Nop())
	require.NoError(t, err)
	return f
}

func TestPipeFabric(t *testing.T) {
	fabrictest.Run(t, newFabric)
}

func TestBadMagicIsDropped(t *testing.T) {
	topo, err := fabric.NewTopology(1)
	require.NoError(t, err)
	eps := fabrictest.AttachAll(t, newFabric(t, topo), topo)
	sender := eps[0].(*Endpoint)

	garbage := []byte{0x00, 0x00, 2, 0, byte(message.Ack), 0, 3, 0xFF, 0xFF}
	_, err = sender.writers[1].Write(garbage)
	require.NoError(t, err)
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

func TestChannelEventsAreObserved(t *testing.T) {
	topo, err := fabric.NewTopology(1)
	require.NoError(t, err)

	var events []fabric.ChannelEvent
	f, err := New(topo, fabric.Config{Observer: func(ev fabric.ChannelEvent) { events = append(events, ev) }}, zerolog.Nop())
	require.NoError(t, err)

	opened := 0
	for _, ev := range events {
		if ev.Kind == fabric.ChannelOpened {
			opened++
		}
	}
	assert.Equal(t, 2, opened)

	ep, err := f.Attach(0)
	require.NoError(t, err)
	require.NoError(t, ep.Close())
	require.NoError(t, f.Close())

	released := 0
	for _, ev := range events {
		if ev.Kind == fabric.ChannelReleased {
			released++
		}
	}
	// Process 0 releases one read and one write end, the fabric releases the ends of process 1
	assert.Equal(t, 4, released)
}
