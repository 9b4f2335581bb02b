package process

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"distbank/message"
	"distbank/report"
	"distbank/runner/recorder"
	"distbank/transfer"
)

// The phases a coordinator goes through
type CoordinatorPhase int

const (
	AwaitingStarted CoordinatorPhase = iota
	Transferring
	AwaitingDone
	CollectingHistory
	Finished
)

func (p CoordinatorPhase) String() string {
	switch p {
	case AwaitingStarted:
		return "AwaitingStarted"
	case Transferring:
		return "Transferring"
	case AwaitingDone:
		return "AwaitingDone"
	case CollectingHistory:
		return "CollectingHistory"
	case Finished:
		return "Finished"
	}
	return fmt.Sprintf("CoordinatorPhase(%d)", int(p))
}

// A Coordinator drives a schedule of transfers through the workers and collects their histories.
type Coordinator struct {
	*State
	schedule []transfer.Instruction
	phase    CoordinatorPhase

	started   map[int]bool
	done      map[int]bool
	assembler *report.Assembler

	violations []*ProtocolViolation
}

func NewCoordinator(s *State, schedule []transfer.Instruction) (*Coordinator, error) {
	if err := transfer.Validate(schedule, s.topo.Workers()); err != nil {
		return nil, err
	}
	return &Coordinator{
		State:     s,
		schedule:  schedule,
		phase:     AwaitingStarted,
		started:   make(map[int]bool),
		done:      make(map[int]bool),
		assembler: report.NewAssembler(s.topo.Workers()),
	}, nil
}

func (c *Coordinator) Phase() CoordinatorPhase {
	return c.phase
}

// Violations returns the frames that were ignored
func (c *Coordinator) Violations() []*ProtocolViolation {
	return c.violations
}

// Run the protocol:
// wait for STARTED from every worker, run the transfers one at a time, broadcast STOP,
// wait for DONE from every worker and collect one history per worker.
func (c *Coordinator) Run(ctx context.Context) (report.AllHistory, error) {
	if err := c.awaitStarted(ctx); err != nil {
		return report.AllHistory{}, err
	}

	c.phase = Transferring
	for _, instr := range c.schedule {
		if err := c.transfer(ctx, instr); err != nil {
			return report.AllHistory{}, err
		}
	}

	c.phase = AwaitingDone
	if err := c.broadcast(message.Stop, nil); err != nil {
		return report.AllHistory{}, err
	}
	if err := c.awaitDone(ctx); err != nil {
		return report.AllHistory{}, err
	}

	c.phase = CollectingHistory
	for !c.assembler.Complete() {
		src, msg, err := c.receive(ctx)
		if err != nil {
			return report.AllHistory{}, err
		}
		if msg.Type() != message.BalanceHistory {
			c.ignore(src, msg, "expected BALANCE_HISTORY")
			continue
		}
		c.collect(src, msg)
	}

	all, err := c.assembler.AllHistory()
	if err != nil {
		return report.AllHistory{}, err
	}
	c.phase = Finished
	c.log.Info().Int("workers", len(all.Histories)).Int("ticks", all.Len()).Msg("all histories received")
	return all, nil
}

func (c *Coordinator) receive(ctx context.Context) (int, message.Message, error) {
	src, msg, err := c.receiveAny(ctx)
	if err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		return src, msg, fmt.Errorf("%w: coordinator in phase %v: %v", ErrAborted, c.phase, err)
	}
	return src, msg, err
}

func (c *Coordinator) ignore(src int, msg message.Message, reason string) {
	c.violations = append(c.violations, c.violation(src, msg, reason))
}

// awaitStarted blocks until STARTED has been received from every worker, in any order
func (c *Coordinator) awaitStarted(ctx context.Context) error {
	for len(c.started) < c.topo.Workers() {
		src, msg, err := c.receive(ctx)
		if err != nil {
			return err
		}
		switch {
		case msg.Type() != message.Started:
			c.ignore(src, msg, "expected STARTED")
		case !c.topo.IsWorker(src):
			c.ignore(src, msg, "STARTED from a process that is not a worker")
		case c.started[src]:
			c.ignore(src, msg, "duplicate STARTED")
		default:
			c.started[src] = true
			c.log.Debug().Int("src", src).Ints("received", sortedKeys(c.started)).Msg("STARTED received")
		}
	}
	c.event(recorder.Event{Kind: recorder.AllStarted, Time: c.clock.Now()})
	return nil
}

// transfer sends the order to the source worker and waits for an ACK.
// Any ACK completes the transfer, only one transfer is in flight at a time.
func (c *Coordinator) transfer(ctx context.Context, instr transfer.Instruction) error {
	p, err := message.EncodeTransfer(instr.Order())
	if err != nil {
		return err
	}
	if err := c.send(instr.Src, message.Transfer, p); err != nil {
		return err
	}
	c.log.Info().Stringer("transfer", instr).Msg("transfer ordered")

	for {
		src, msg, err := c.receive(ctx)
		if err != nil {
			return err
		}
		if msg.Type() == message.Ack {
			c.log.Debug().Stringer("transfer", instr).Int("src", src).Msg("transfer acknowledged")
			return nil
		}
		c.ignore(src, msg, "expected ACK")
	}
}

// awaitDone blocks until DONE has been received from every worker.
// Histories of workers that finished early are collected while waiting.
func (c *Coordinator) awaitDone(ctx context.Context) error {
	for len(c.done) < c.topo.Workers() {
		src, msg, err := c.receive(ctx)
		if err != nil {
			return err
		}
		switch {
		case msg.Type() == message.BalanceHistory:
			c.collect(src, msg)
		case msg.Type() != message.Done:
			c.ignore(src, msg, "expected DONE")
		case !c.topo.IsWorker(src):
			c.ignore(src, msg, "DONE from a process that is not a worker")
		case c.done[src]:
			c.ignore(src, msg, "duplicate DONE")
		default:
			c.done[src] = true
			c.log.Debug().Int("src", src).Ints("received", sortedKeys(c.done)).Msg("DONE received")
		}
	}
	c.event(recorder.Event{Kind: recorder.AllDone, Time: c.clock.Now()})
	return nil
}

// collect adds a BALANCE_HISTORY chunk. The history is keyed by the owner carried in the payload,
// chunks with an unknown owner are rejected.
func (c *Coordinator) collect(src int, msg message.Message) {
	chunk, err := message.DecodeHistoryChunk(msg.Payload)
	if err != nil {
		c.ignore(src, msg, err.Error())
		return
	}
	complete, err := c.assembler.Add(chunk)
	if err != nil {
		c.ignore(src, msg, err.Error())
		return
	}
	if complete {
		c.log.Debug().Int("owner", chunk.Owner).Ints("missing", c.assembler.Missing()).Msg("history complete")
	}
}

func sortedKeys(m map[int]bool) []int {
	ids := maps.Keys(m)
	slices.Sort(ids)
	return ids
}
