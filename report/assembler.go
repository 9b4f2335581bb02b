package report

import (
	"errors"
	"fmt"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"distbank/account"
	"distbank/message"
)

var (
	ErrUnknownOwner = errors.New("report: history owner is not a worker")
	ErrDuplicate    = errors.New("report: history already received")
	ErrInconsistent = errors.New("report: history chunk does not match earlier chunks")
	ErrIncomplete   = errors.New("report: histories are missing")
)

type partial struct {
	states []account.State
	filled []bool
	count  int
}

// An Assembler puts together the histories sent by the workers in BALANCE_HISTORY chunks.
//
// Exactly one complete history is accepted per worker.
type Assembler struct {
	workers  int
	partial  map[int]*partial
	complete map[int]account.History
}

func NewAssembler(workers int) *Assembler {
	return &Assembler{
		workers:  workers,
		partial:  make(map[int]*partial),
		complete: make(map[int]account.History),
	}
}

// Add a chunk. Returns true if the chunk completed the history of its owner.
func (a *Assembler) Add(chunk message.HistoryChunk) (bool, error) {
	if chunk.Owner < 1 || chunk.Owner > a.workers {
		return false, fmt.Errorf("%w: %v", ErrUnknownOwner, chunk.Owner)
	}
	if _, ok := a.complete[chunk.Owner]; ok {
		return false, fmt.Errorf("%w: worker %v", ErrDuplicate, chunk.Owner)
	}

	if chunk.Total == 0 {
		return false, fmt.Errorf("%w: worker %v announced an empty history", ErrInconsistent, chunk.Owner)
	}

	p, ok := a.partial[chunk.Owner]
	if !ok {
		p = &partial{
			states: make([]account.State, chunk.Total),
			filled: make([]bool, chunk.Total),
		}
		a.partial[chunk.Owner] = p
	}
	if chunk.Total != len(p.states) {
		return false, fmt.Errorf("%w: worker %v announced %v states, earlier %v", ErrInconsistent, chunk.Owner, chunk.Total, len(p.states))
	}
	if chunk.Offset+len(chunk.States) > len(p.states) {
		return false, fmt.Errorf("%w: worker %v chunk at %v exceeds %v states", ErrInconsistent, chunk.Owner, chunk.Offset, len(p.states))
	}
	for i := range chunk.States {
		if p.filled[chunk.Offset+i] {
			return false, fmt.Errorf("%w: worker %v tick %v received twice", ErrInconsistent, chunk.Owner, chunk.Offset+i)
		}
	}

	for i, s := range chunk.States {
		p.states[chunk.Offset+i] = s
		p.filled[chunk.Offset+i] = true
	}
	p.count += len(chunk.States)
	if p.count < len(p.states) {
		return false, nil
	}

	delete(a.partial, chunk.Owner)
	a.complete[chunk.Owner] = account.History{Owner: chunk.Owner, States: p.states}
	return true, nil
}

// Complete returns true once a complete history was received from every worker
func (a *Assembler) Complete() bool {
	return len(a.complete) == a.workers
}

// Missing returns the ids of the workers whose history is not complete yet
func (a *Assembler) Missing() []int {
	missing := []int{}
	for id := 1; id <= a.workers; id++ {
		if _, ok := a.complete[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing
}

// AllHistory returns the assembled histories. Fails unless every history is complete.
func (a *Assembler) AllHistory() (AllHistory, error) {
	if !a.Complete() {
		return AllHistory{}, fmt.Errorf("%w: %v", ErrIncomplete, a.Missing())
	}
	histories := maps.Clone(a.complete)
	for id, h := range histories {
		histories[id] = account.History{Owner: h.Owner, States: slices.Clone(h.States)}
	}
	return AllHistory{Histories: histories}, nil
}
