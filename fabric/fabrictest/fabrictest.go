// Package fabrictest contains the behaviour every fabric implementation is expected to share.
package fabrictest

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"distbank/clock"
	"distbank/fabric"
	"distbank/message"
)

// Factory creates a fabric for the topology
type Factory func(t *testing.T, topo *fabric.Topology) fabric.Fabric

// Run the shared fabric tests against the implementation created by newFabric
func Run(t *testing.T, newFabric Factory) {
	t.Run("SendReceive", func(t *testing.T) { testSendReceive(t, newFabric) })
	t.Run("FIFO", func(t *testing.T) { testFIFO(t, newFabric) })
	t.Run("Broadcast", func(t *testing.T) { testBroadcast(t, newFabric) })
	t.Run("Ownership", func(t *testing.T) { testOwnership(t, newFabric) })
	t.Run("Hangup", func(t *testing.T) { testHangup(t, newFabric) })
	t.Run("Cancel", func(t *testing.T) { testCancel(t, newFabric) })
}

// Attach every process of the topology and seal the fabric
func AttachAll(t *testing.T, f fabric.Fabric, topo *fabric.Topology) []fabric.Endpoint {
	eps := make([]fabric.Endpoint, topo.Processes())
	for id := range eps {
		ep, err := f.Attach(id)
		require.NoError(t, err)
		require.Equal(t, id, ep.ID())
		eps[id] = ep
	}
	require.NoError(t, f.Seal())
	t.Cleanup(func() { f.Close() })
	return eps
}

// Message creates a frame without payload
func Message(t *testing.T, typ message.Type, at int) message.Message {
	m, err := message.New(typ, at, nil)
	require.NoError(t, err)
	return m
}

func timeout(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func topology(t *testing.T, workers int) *fabric.Topology {
	topo, err := fabric.NewTopology(workers)
	require.NoError(t, err)
	return topo
}

func testSendReceive(t *testing.T, newFabric Factory) {
	topo := topology(t, 2)
	eps := AttachAll(t, newFabric(t, topo), topo)

	payload := []byte{1, 2, 3}
	sent, err := message.New(message.Transfer, 4, payload)
	require.NoError(t, err)
	require.NoError(t, eps[1].Send(2, sent))

	src, got, err := eps[2].ReceiveAny(timeout(t))
	require.NoError(t, err)
	assert.Equal(t, 1, src)
	assert.Equal(t, message.Transfer, got.Type())
	assert.Equal(t, 4, got.Time())
	assert.Equal(t, payload, got.Payload)

	assert.Equal(t, uint64(1), eps[1].Stats().Sent.Load())
	assert.Equal(t, uint64(1), eps[2].Stats().Received.Load())
}

func testFIFO(t *testing.T, newFabric Factory) {
	topo := topology(t, 1)
	eps := AttachAll(t, newFabric(t, topo), topo)

	const count = 100
	go func() {
		for i := 0; i < count; i++ {
			m, _ := message.New(message.Ack, i%clock.Max, nil)
			if err := eps[0].Send(1, m); err != nil {
				return
			}
		}
	}()

	ctx := timeout(t)
	for i := 0; i < count; i++ {
		m, err := eps[1].Receive(ctx, 0)
		require.NoError(t, err)
		require.Equal(t, i%clock.Max, m.Time(), "frame %v out of order", i)
	}
}

func testBroadcast(t *testing.T, newFabric Factory) {
	topo := topology(t, 3)
	eps := AttachAll(t, newFabric(t, topo), topo)

	require.NoError(t, eps[2].Broadcast(Message(t, message.Started, 1)))

	ctx := timeout(t)
	for _, id := range []int{0, 1, 3} {
		src, m, err := eps[id].ReceiveAny(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, src)
		assert.Equal(t, message.Started, m.Type())
	}
	assert.Equal(t, uint64(3), eps[2].Stats().Sent.Load())
}

func testOwnership(t *testing.T, newFabric Factory) {
	topo := topology(t, 2)
	f := newFabric(t, topo)

	ep, err := f.Attach(1)
	require.NoError(t, err)
	_, err = f.Attach(1)
	assert.ErrorIs(t, err, fabric.ErrAttached)
	_, err = f.Attach(7)
	assert.ErrorIs(t, err, fabric.ErrUnknownPeer)

	err = f.Seal()
	assert.ErrorIs(t, err, fabric.ErrNotAttached)
	t.Cleanup(func() { f.Close() })

	err = ep.Send(1, Message(t, message.Ack, 1))
	assert.ErrorIs(t, err, fabric.ErrNotOwned)
	assert.True(t, fabric.IsChannelError(err))
	err = ep.Send(9, Message(t, message.Ack, 1))
	assert.ErrorIs(t, err, fabric.ErrNotOwned)
	_, err = ep.Receive(timeout(t), 1)
	assert.ErrorIs(t, err, fabric.ErrNotOwned)
}

func testHangup(t *testing.T, newFabric Factory) {
	topo := topology(t, 1)
	eps := AttachAll(t, newFabric(t, topo), topo)

	require.NoError(t, eps[0].Send(1, Message(t, message.Done, 5)))
	require.NoError(t, eps[0].Close())

	ctx := timeout(t)
	src, m, err := eps[1].ReceiveAny(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, src)
	assert.Equal(t, message.Done, m.Type())

	_, _, err = eps[1].ReceiveAny(ctx)
	assert.ErrorIs(t, err, fabric.ErrNoChannels)
	_, err = eps[1].Receive(ctx, 0)
	assert.ErrorIs(t, err, io.EOF)

	err = eps[0].Send(1, Message(t, message.Done, 6))
	assert.ErrorIs(t, err, fabric.ErrClosed)
}

func testCancel(t *testing.T, newFabric Factory) {
	topo := topology(t, 2)
	eps := AttachAll(t, newFabric(t, topo), topo)

	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 1)
	go func() {
		_, _, err := eps[0].ReceiveAny(ctx)
		errs <- err
	}()
	cancel()

	select {
	case err := <-errs:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(5 * time.Second):
		t.Fatal("ReceiveAny did not return after cancel")
	}
}
