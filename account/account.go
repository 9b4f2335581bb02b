package account

import (
	"errors"
	"fmt"

	"distbank/clock"
)

// Balance is an amount of money. Balances are signed, a worker can be overdrawn.
type Balance int64

// StateSize is the number of bytes a State occupies on the wire.
//
// {int16 balance, int8 time, int16 pending}
const StateSize = 5

// HistoryHeaderSize is the number of bytes preceding the states of an encoded history.
//
// {int8 owner, uint8 total, uint8 offset}
const HistoryHeaderSize = 3

// StatesPerChunk is the number of states carried by one BALANCE_HISTORY payload of at most 255 bytes.
// A longer history is split over several payloads, each with its own header.
const StatesPerChunk = (255 - HistoryHeaderSize) / StateSize

var (
	ErrClosed        = errors.New("account: history has already been closed")
	ErrNegativeDelta = errors.New("account: transfer amount must not be negative")
)

// The balance of an account during one tick
type State struct {
	Time    int
	Balance Balance
	// The amount sent towards the account that has not been applied yet.
	// Always 0, the account only learns about a transfer when it is applied.
	PendingIn Balance
}

// A dense sequence of States indexed by tick, starting at tick 0.
type History struct {
	Owner  int
	States []State
}

// Len returns the number of ticks in the history
func (h History) Len() int {
	return len(h.States)
}

// Last returns the last recorded state. Returns the zero State if the history is empty.
func (h History) Last() State {
	if len(h.States) == 0 {
		return State{}
	}
	return h.States[len(h.States)-1]
}

// At returns the state at tick t.
// If t is past the end of the history the last state is returned.
func (h History) At(t int) (State, bool) {
	if t < 0 || len(h.States) == 0 {
		return State{}, false
	}
	if t >= len(h.States) {
		return h.States[len(h.States)-1], false
	}
	return h.States[t], true
}

// Dense reports whether every tick from 0 to the last tick has exactly one state, in order.
func (h History) Dense() bool {
	for i, s := range h.States {
		if s.Time != i {
			return false
		}
	}
	return true
}

// WireSize returns the number of payload bytes of all BALANCE_HISTORY messages carrying h
func (h History) WireSize() int {
	chunks := (len(h.States) + StatesPerChunk - 1) / StatesPerChunk
	return chunks*HistoryHeaderSize + len(h.States)*StateSize
}

func (h History) String() string {
	return fmt.Sprintf("{Owner: %v, Ticks: %v, Final: %v}", h.Owner, len(h.States), h.Last().Balance)
}

// An Account tracks the balance of a worker and reconstructs the history of the balance.
//
// Should only be accessed by the worker owning it.
type Account struct {
	owner   int
	balance Balance
	history []State
	closed  bool
}

// Create a new account with the initial balance recorded at tick 0
func New(owner int, initial Balance) *Account {
	history := make([]State, 1, clock.Max+1)
	history[0] = State{Time: 0, Balance: initial}
	return &Account{
		owner:   owner,
		balance: initial,
		history: history,
	}
}

// Owner returns the id of the worker owning the account
func (a *Account) Owner() int {
	return a.owner
}

// Balance returns the current balance
func (a *Account) Balance() Balance {
	return a.balance
}

// Add amount to the balance at tick at.
//
// All ticks between the last recorded tick and at are recorded with the balance before the change,
// the tick at itself with the balance after the change.
// at is clamped to [last recorded tick, clock.Max].
func (a *Account) ApplyDelta(amount Balance, at int) error {
	if a.closed {
		return ErrClosed
	}
	at = a.clamp(at)
	a.fill(at - 1)
	a.balance += amount
	if last := len(a.history) - 1; at == last {
		a.history[last].Balance = a.balance
		return nil
	}
	a.history = append(a.history, State{Time: at, Balance: a.balance})
	return nil
}

// Withdraw removes amount from the account at tick at
func (a *Account) Withdraw(amount Balance, at int) error {
	if amount < 0 {
		return ErrNegativeDelta
	}
	return a.ApplyDelta(-amount, at)
}

// Deposit adds amount to the account at tick at
func (a *Account) Deposit(amount Balance, at int) error {
	if amount < 0 {
		return ErrNegativeDelta
	}
	return a.ApplyDelta(amount, at)
}

// Close the history at tick final and return it.
//
// Every tick up to final is recorded with the current balance.
// Can only be called once, the account can not be changed afterwards.
func (a *Account) Close(final int) (History, error) {
	if a.closed {
		return History{}, ErrClosed
	}
	a.fill(a.clamp(final))
	a.closed = true
	return a.History(), nil
}

// History returns a copy of the history recorded so far
func (a *Account) History() History {
	states := make([]State, len(a.history))
	copy(states, a.history)
	return History{Owner: a.owner, States: states}
}

// WireSize returns the number of bytes needed to send the populated part of the history.
func (a *Account) WireSize() int {
	return History{States: a.history}.WireSize()
}

// Record the current balance for every tick after the last recorded tick up to and including t
func (a *Account) fill(t int) {
	for next := len(a.history); next <= t; next++ {
		a.history = append(a.history, State{Time: next, Balance: a.balance})
	}
}

func (a *Account) clamp(t int) int {
	if t > clock.Max {
		t = clock.Max
	}
	if last := len(a.history) - 1; t < last {
		t = last
	}
	return t
}
