package checking

import (
	"distbank/account"
	"distbank/report"
	"distbank/transfer"
)

// The outcome of a completed run
type State struct {
	// The closed histories of the workers.
	Histories report.AllHistory
	// The initial balance of every worker.
	Initial map[int]account.Balance
	// True for workers named by some transfer of the schedule.
	Touched map[int]bool
}

// Create the State of a run that started with the initial balances and executed the schedule.
//
// initial[i] is the balance of worker i+1.
func NewState(all report.AllHistory, initial []account.Balance, schedule []transfer.Instruction) State {
	s := State{
		Histories: all,
		Initial:   make(map[int]account.Balance, len(initial)),
		Touched:   make(map[int]bool),
	}
	for i, b := range initial {
		s.Initial[i+1] = b
	}
	for _, instr := range schedule {
		s.Touched[instr.Src] = true
		s.Touched[instr.Dst] = true
	}
	return s
}
