package process

import (
	"context"
	"errors"
	"fmt"

	"distbank/account"
	"distbank/fabric"
	"distbank/message"
	"distbank/runner/recorder"
)

// The phases a worker goes through
type WorkerPhase int

const (
	Init WorkerPhase = iota
	AwaitingPeersStarted
	Running
	Stopping
	Done
)

func (p WorkerPhase) String() string {
	switch p {
	case Init:
		return "Init"
	case AwaitingPeersStarted:
		return "AwaitingPeersStarted"
	case Running:
		return "Running"
	case Stopping:
		return "Stopping"
	case Done:
		return "Done"
	}
	return fmt.Sprintf("WorkerPhase(%d)", int(p))
}

// A Worker owns one account and applies the transfers ordered by the coordinator.
type Worker struct {
	*State
	account *account.Account
	phase   WorkerPhase

	started    map[int]bool
	allStarted bool
	done       map[int]bool
	stopped    bool

	history    account.History
	violations []*ProtocolViolation
}

// Create a worker holding an account with the initial balance
func NewWorker(s *State, initial account.Balance) (*Worker, error) {
	if !s.topo.IsWorker(s.id) {
		return nil, fmt.Errorf("process: %v is not a worker id", s.id)
	}
	return &Worker{
		State:   s,
		account: account.New(s.id, initial),
		phase:   Init,
		started: make(map[int]bool),
		done:    make(map[int]bool),
	}, nil
}

// Phase returns the current phase of the worker
func (w *Worker) Phase() WorkerPhase {
	return w.phase
}

// Balance returns the current balance of the account
func (w *Worker) Balance() account.Balance {
	return w.account.Balance()
}

// Violations returns the frames that were ignored
func (w *Worker) Violations() []*ProtocolViolation {
	return w.violations
}

// Run the worker until its history has been sent to the coordinator.
//
// Returns the closed history of the account.
// Any failure of the fabric is fatal and returned.
func (w *Worker) Run(ctx context.Context) (account.History, error) {
	if err := w.start(); err != nil {
		return account.History{}, err
	}
	for w.phase != Done {
		src, msg, err := w.receiveAny(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return account.History{}, fmt.Errorf("%w: worker %v in phase %v: %v", ErrAborted, w.id, w.phase, err)
			}
			return account.History{}, err
		}
		if err := w.handle(src, msg); err != nil {
			return account.History{}, err
		}
	}
	return w.history, nil
}

func (w *Worker) start() error {
	at := w.clock.Tick()
	line := w.event(recorder.Event{Kind: recorder.Started, Time: at, Balance: w.account.Balance()})
	if err := w.broadcastAt(at, message.Started, payload(line)); err != nil {
		return err
	}
	w.phase = AwaitingPeersStarted
	w.checkStarted()
	return nil
}

// handle a single frame. Only failures of the fabric are returned.
func (w *Worker) handle(src int, msg message.Message) error {
	switch msg.Type() {
	case message.Started:
		w.onStarted(src, msg)
		return nil
	case message.Transfer:
		return w.onTransfer(src, msg)
	case message.Stop:
		return w.onStop(src, msg)
	case message.Done:
		return w.onDone(src, msg)
	default:
		w.ignore(src, msg, "unexpected message type")
		return nil
	}
}

func (w *Worker) ignore(src int, msg message.Message, reason string) {
	w.violations = append(w.violations, w.violation(src, msg, reason))
}

func (w *Worker) onStarted(src int, msg message.Message) {
	if !w.topo.IsWorker(src) {
		w.ignore(src, msg, "STARTED from a process that is not a worker")
		return
	}
	if w.started[src] {
		w.ignore(src, msg, "duplicate STARTED")
		return
	}
	w.started[src] = true
	w.checkStarted()
}

func (w *Worker) checkStarted() {
	if w.allStarted || len(w.started) < w.topo.Workers()-1 {
		return
	}
	w.allStarted = true
	w.event(recorder.Event{Kind: recorder.AllStarted, Time: w.clock.Now()})
	if w.phase == AwaitingPeersStarted {
		w.phase = Running
	}
}

// onTransfer applies a transfer. Transfers are applied in every phase before Done,
// including those arriving before every STARTED has been seen.
func (w *Worker) onTransfer(src int, msg message.Message) error {
	order, err := message.DecodeTransfer(msg.Payload)
	if err != nil {
		w.ignore(src, msg, err.Error())
		return nil
	}
	if order.Src == order.Dst || order.Amount < 0 {
		w.ignore(src, msg, fmt.Sprintf("invalid order %v", order))
		return nil
	}
	at := w.clock.Now()

	switch w.id {
	case order.Src:
		if !w.topo.IsWorker(order.Dst) {
			w.ignore(src, msg, fmt.Sprintf("order %v to unknown worker", order))
			return nil
		}
		if err := w.account.Withdraw(order.Amount, at); err != nil {
			return err
		}
		w.event(recorder.Event{Kind: recorder.TransferOut, Time: at, Amount: order.Amount, Peer: order.Dst})
		return w.send(order.Dst, message.Transfer, msg.Payload)
	case order.Dst:
		if err := w.account.Deposit(order.Amount, at); err != nil {
			return err
		}
		w.event(recorder.Event{Kind: recorder.TransferIn, Time: at, Amount: order.Amount, Peer: order.Src})
		return w.send(fabric.CoordinatorID, message.Ack, nil)
	default:
		w.ignore(src, msg, fmt.Sprintf("order %v does not involve the worker", order))
		return nil
	}
}

func (w *Worker) onStop(src int, msg message.Message) error {
	if src != fabric.CoordinatorID {
		w.ignore(src, msg, "STOP from a worker")
		return nil
	}
	if w.stopped {
		w.ignore(src, msg, "duplicate STOP")
		return nil
	}
	w.stopped = true
	w.phase = Stopping

	at := w.clock.Tick()
	line := w.event(recorder.Event{Kind: recorder.Done, Time: at, Balance: w.account.Balance()})
	if err := w.broadcastAt(at, message.Done, payload(line)); err != nil {
		return err
	}
	return w.checkDone()
}

// onDone counts DONE in every phase, a peer can stop before this worker received STOP
func (w *Worker) onDone(src int, msg message.Message) error {
	if !w.topo.IsWorker(src) {
		w.ignore(src, msg, "DONE from a process that is not a worker")
		return nil
	}
	if w.done[src] {
		w.ignore(src, msg, "duplicate DONE")
		return nil
	}
	w.done[src] = true
	return w.checkDone()
}

// checkDone closes the history and sends it to the coordinator
// once STOP was received and every other worker is done.
func (w *Worker) checkDone() error {
	if !w.stopped || len(w.done) < w.topo.Workers()-1 {
		return nil
	}
	history, err := w.account.Close(w.clock.Now())
	if err != nil {
		return err
	}
	w.event(recorder.Event{Kind: recorder.AllDone, Time: w.clock.Now()})

	chunks, err := message.EncodeHistory(history)
	if err != nil {
		return err
	}
	for _, chunk := range chunks {
		if err := w.send(fabric.CoordinatorID, message.BalanceHistory, chunk); err != nil {
			return err
		}
	}
	w.history = history
	w.phase = Done
	w.log.Info().Stringer("history", history).Msg("history sent")
	return nil
}
