package account

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"distbank/clock"
)

func balances(h History) []Balance {
	out := make([]Balance, len(h.States))
	for i, s := range h.States {
		out[i] = s.Balance
	}
	return out
}

func TestNewRecordsInitialBalance(t *testing.T) {
	acc := New(3, 42)
	h := acc.History()
	require.Equal(t, 1, h.Len())
	assert.Equal(t, State{Time: 0, Balance: 42}, h.States[0])
	assert.Equal(t, 3, h.Owner)
	assert.Equal(t, Balance(42), acc.Balance())
}

func TestApplyDelta(t *testing.T) {
	for i, test := range applyDeltaTest {
		acc := New(1, test.initial)
		for _, d := range test.deltas {
			if err := acc.ApplyDelta(d.amount, d.at); err != nil {
				t.Fatalf("Test %v: Unexpected error: %v", i, err)
			}
		}
		h, err := acc.Close(test.final)
		if err != nil {
			t.Fatalf("Test %v: Unexpected error: %v", i, err)
		}
		assert.Equal(t, test.expected, balances(h), "Test %v", i)
		assert.True(t, h.Dense(), "Test %v: history is not dense", i)
	}
}

type delta struct {
	amount Balance
	at     int
}

var applyDeltaTest = []struct {
	initial  Balance
	deltas   []delta
	final    int
	expected []Balance
}{
	{100, nil, 0, []Balance{100}},
	{100, nil, 3, []Balance{100, 100, 100, 100}},
	{100, []delta{{-30, 4}}, 6, []Balance{100, 100, 100, 100, 70, 70, 70}},
	{50, []delta{{30, 1}}, 2, []Balance{50, 80, 80}},
	// Two changes in the same tick collapse into one entry
	{10, []delta{{5, 2}, {5, 2}}, 3, []Balance{10, 10, 20, 20}},
	// A change at an already recorded tick keeps the history monotonic
	{10, []delta{{5, 3}, {1, 1}}, 3, []Balance{10, 10, 10, 16}},
	// Final time earlier than the last change does not truncate
	{10, []delta{{-10, 5}}, 2, []Balance{10, 10, 10, 10, 10, 0}},
}

func TestScenarioTwoWorkers(t *testing.T) {
	src := New(1, 100)
	dst := New(2, 50)

	require.NoError(t, src.Withdraw(30, 3))
	require.NoError(t, dst.Deposit(30, 5))

	hs, err := src.Close(8)
	require.NoError(t, err)
	hd, err := dst.Close(8)
	require.NoError(t, err)

	assert.Equal(t, []Balance{100, 100, 100, 70, 70, 70, 70, 70, 70}, balances(hs))
	assert.Equal(t, []Balance{50, 50, 50, 50, 50, 80, 80, 80, 80}, balances(hd))
}

func TestCloseOnlyOnce(t *testing.T) {
	acc := New(1, 5)
	_, err := acc.Close(2)
	require.NoError(t, err)

	_, err = acc.Close(3)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, acc.ApplyDelta(1, 4), ErrClosed)
}

func TestNegativeAmountRejected(t *testing.T) {
	acc := New(1, 5)
	assert.ErrorIs(t, acc.Withdraw(-1, 1), ErrNegativeDelta)
	assert.ErrorIs(t, acc.Deposit(-1, 1), ErrNegativeDelta)
	assert.Equal(t, Balance(5), acc.Balance())
}

func TestSaturatesAtMaxTime(t *testing.T) {
	acc := New(1, 5)
	require.NoError(t, acc.Deposit(1, clock.Max+20))
	require.NoError(t, acc.Deposit(1, clock.Max+40))
	h, err := acc.Close(clock.Max + 100)
	require.NoError(t, err)

	assert.Equal(t, clock.Max+1, h.Len())
	assert.True(t, h.Dense())
	assert.Equal(t, Balance(7), h.Last().Balance)
	assert.Equal(t, Balance(5), h.States[clock.Max-1].Balance)
}

func TestWireSize(t *testing.T) {
	acc := New(1, 5)
	assert.Equal(t, HistoryHeaderSize+StateSize, acc.WireSize())
	_, err := acc.Close(9)
	require.NoError(t, err)
	assert.Equal(t, HistoryHeaderSize+10*StateSize, acc.WireSize())
}

var historyWireSizeTest = []struct {
	ticks    int
	expected int
}{
	{0, 0},
	{1, 8},
	{StatesPerChunk, HistoryHeaderSize + StatesPerChunk*StateSize},
	{StatesPerChunk + 1, 2*HistoryHeaderSize + (StatesPerChunk+1)*StateSize},
	{128, 649},
}

func TestHistoryWireSize(t *testing.T) {
	for i, test := range historyWireSizeTest {
		h := History{Owner: 1, States: make([]State, test.ticks)}
		if size := h.WireSize(); size != test.expected {
			t.Errorf("Test %v: Expected %v bytes. Got: %v", i, test.expected, size)
		}
	}
}

func TestHistoryAt(t *testing.T) {
	h := History{Owner: 1, States: []State{{0, 5, 0}, {1, 6, 0}}}

	s, ok := h.At(1)
	assert.True(t, ok)
	assert.Equal(t, Balance(6), s.Balance)

	s, ok = h.At(7)
	assert.False(t, ok)
	assert.Equal(t, Balance(6), s.Balance)

	_, ok = h.At(-1)
	assert.False(t, ok)
}

// Consecutive entries only differ at ticks where a delta was applied
func TestHistoryChangesOnlyOnDelta(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		initial := Balance(rapid.IntRange(0, 1000).Draw(t, "initial"))
		acc := New(1, initial)

		changed := map[int]bool{}
		at := 0
		n := rapid.IntRange(0, 20).Draw(t, "n")
		for i := 0; i < n; i++ {
			at += rapid.IntRange(1, 8).Draw(t, "step")
			amount := Balance(rapid.IntRange(-50, 50).Draw(t, "amount"))
			if err := acc.ApplyDelta(amount, at); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if amount != 0 {
				tick := at
				if tick > clock.Max {
					tick = clock.Max
				}
				changed[tick] = true
			}
		}
		final := at + rapid.IntRange(0, 10).Draw(t, "tail")
		h, err := acc.Close(final)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !h.Dense() {
			t.Fatalf("history is not dense: %v", h.States)
		}
		if h.Last().Balance != acc.Balance() {
			t.Fatalf("last entry %v does not match balance %v", h.Last().Balance, acc.Balance())
		}
		for i := 1; i < h.Len(); i++ {
			if h.States[i].Balance != h.States[i-1].Balance && !changed[i] {
				t.Fatalf("balance changed at tick %v without a delta", i)
			}
		}
	})
}
