package message

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"distbank/account"
	"distbank/clock"
)

func TestTransferRoundTrip(t *testing.T) {
	for i, order := range []TransferOrder{
		{Src: 1, Dst: 2, Amount: 30},
		{Src: 15, Dst: 1, Amount: 0},
		{Src: 3, Dst: 4, Amount: 32767},
	} {
		b, err := EncodeTransfer(order)
		require.NoError(t, err, "Test %v", i)
		require.Len(t, b, TransferOrderSize)

		out, err := DecodeTransfer(b)
		require.NoError(t, err, "Test %v", i)
		assert.Equal(t, order, out, "Test %v", i)
	}
}

func TestTransferRejects(t *testing.T) {
	_, err := EncodeTransfer(TransferOrder{Src: 1, Dst: 2, Amount: 40000})
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = EncodeTransfer(TransferOrder{Src: 300, Dst: 2, Amount: 1})
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = DecodeTransfer([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrMalformed)
}

func history(owner, n int) account.History {
	acc := account.New(owner, 100)
	for t := 1; t < n; t += 3 {
		_ = acc.Deposit(account.Balance(t), t)
	}
	h, _ := acc.Close(n - 1)
	return h
}

func TestHistoryChunks(t *testing.T) {
	for i, test := range historyChunkTest {
		h := history(2, test.ticks)
		payloads, err := EncodeHistory(h)
		require.NoError(t, err, "Test %v", i)
		require.Len(t, payloads, test.chunks, "Test %v", i)

		states := []account.State{}
		for _, p := range payloads {
			require.LessOrEqual(t, len(p), MaxPayloadLen, "Test %v", i)
			chunk, err := DecodeHistoryChunk(p)
			require.NoError(t, err, "Test %v", i)
			assert.Equal(t, 2, chunk.Owner)
			assert.Equal(t, test.ticks, chunk.Total)
			assert.Equal(t, len(states), chunk.Offset)
			states = append(states, chunk.States...)
		}
		if diff := cmp.Diff(h.States, states); diff != "" {
			t.Errorf("Test %v: decoded history differs (-want +got):\n%s", i, diff)
		}
	}
}

var historyChunkTest = []struct {
	ticks  int
	chunks int
}{
	{1, 1},
	{MaxStatesPerChunk, 1},
	{MaxStatesPerChunk + 1, 2},
	{128, 3},
}

func TestHistoryChunkWireSize(t *testing.T) {
	acc := account.New(1, 10)
	h, err := acc.Close(9)
	require.NoError(t, err)
	payloads, err := EncodeHistory(h)
	require.NoError(t, err)
	require.Len(t, payloads, 1)
	assert.Equal(t, acc.WireSize(), len(payloads[0]))
}

func TestChunkedHistoryWireSize(t *testing.T) {
	acc := account.New(1, 10)
	h, err := acc.Close(clock.Max)
	require.NoError(t, err)
	payloads, err := EncodeHistory(h)
	require.NoError(t, err)

	total := 0
	for _, p := range payloads {
		assert.LessOrEqual(t, len(p), MaxPayloadLen)
		total += len(p)
	}
	assert.Len(t, payloads, 3)
	assert.Equal(t, h.WireSize(), total)
	assert.Equal(t, acc.WireSize(), total)
}

func TestHistoryRejects(t *testing.T) {
	_, err := EncodeHistory(account.History{Owner: 1})
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = EncodeHistory(account.History{Owner: 1, States: []account.State{{Time: 0, Balance: 70000}}})
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = DecodeHistoryChunk([]byte{1, 1})
	assert.ErrorIs(t, err, ErrMalformed)

	// offset + states past total
	_, err = DecodeHistoryChunk([]byte{1, 1, 1, 0, 0, 0, 0, 0})
	assert.ErrorIs(t, err, ErrMalformed)
}
