// Package transfer describes the schedules of transfers the coordinator drives through the workers.
package transfer

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/hashicorp/go-multierror"

	"distbank/account"
	"distbank/message"
)

var (
	ErrInvalid  = errors.New("transfer: invalid instruction")
	ErrSyntax   = errors.New("transfer: syntax error")
	ErrOverflow = errors.New("transfer: balance does not fit in a frame")
)

// An Instruction tells the coordinator to move Amount from worker Src to worker Dst
type Instruction struct {
	Src    int
	Dst    int
	Amount account.Balance
}

// Order returns the TRANSFER payload describing the instruction
func (i Instruction) Order() message.TransferOrder {
	return message.TransferOrder{Src: i.Src, Dst: i.Dst, Amount: i.Amount}
}

func (i Instruction) String() string {
	return fmt.Sprintf("%d>%d:%d", i.Src, i.Dst, i.Amount)
}

// Validate checks that every instruction refers to two different workers in 1..workers
// and that the amount is non-negative and can be carried by a frame.
func Validate(schedule []Instruction, workers int) error {
	var result *multierror.Error
	for idx, i := range schedule {
		switch {
		case i.Src < 1 || i.Src > workers:
			result = multierror.Append(result, fmt.Errorf("%w %v (#%d): unknown source worker %d", ErrInvalid, i, idx, i.Src))
		case i.Dst < 1 || i.Dst > workers:
			result = multierror.Append(result, fmt.Errorf("%w %v (#%d): unknown destination worker %d", ErrInvalid, i, idx, i.Dst))
		case i.Src == i.Dst:
			result = multierror.Append(result, fmt.Errorf("%w %v (#%d): source and destination are the same", ErrInvalid, i, idx))
		case i.Amount < 0:
			result = multierror.Append(result, fmt.Errorf("%w %v (#%d): negative amount", ErrInvalid, i, idx))
		case !message.FitsBalance(i.Amount):
			result = multierror.Append(result, fmt.Errorf("%w %v (#%d): amount too large", ErrInvalid, i, idx))
		}
	}
	return result.ErrorOrNil()
}

// Replay applies the schedule in order to the initial balances and returns the final balances.
//
// initial[i] is the balance of worker i+1. The schedule must be valid.
// Returns ErrOverflow if some balance can not be carried by a frame after some transfer.
func Replay(initial []account.Balance, schedule []Instruction) ([]account.Balance, error) {
	balances := make([]account.Balance, len(initial))
	copy(balances, initial)
	for idx, i := range schedule {
		balances[i.Src-1] -= i.Amount
		balances[i.Dst-1] += i.Amount
		for _, id := range []int{i.Src, i.Dst} {
			if !message.FitsBalance(balances[id-1]) {
				return nil, fmt.Errorf("%w: worker %v has %v after %v (#%d)", ErrOverflow, id, balances[id-1], i, idx)
			}
		}
	}
	return balances, nil
}

// Robbery returns the default schedule.
//
// Worker i sends i to worker i+1 for every worker but the last, which then sends 1 back to worker 1.
// A single worker gets no transfers.
func Robbery(workers int) []Instruction {
	schedule := []Instruction{}
	if workers < 2 {
		return schedule
	}
	for i := 1; i < workers; i++ {
		schedule = append(schedule, Instruction{Src: i, Dst: i + 1, Amount: account.Balance(i)})
	}
	return append(schedule, Instruction{Src: workers, Dst: 1, Amount: 1})
}

// Parse a comma separated list of instructions of the form "src>dst:amount", e.g. "1>2:30,2>3:5".
//
// An empty string is an empty schedule.
func Parse(s string) ([]Instruction, error) {
	schedule := []Instruction{}
	s = strings.TrimSpace(s)
	if s == "" {
		return schedule, nil
	}
	for _, field := range strings.Split(s, ",") {
		i, err := parseInstruction(strings.TrimSpace(field))
		if err != nil {
			return nil, err
		}
		schedule = append(schedule, i)
	}
	return schedule, nil
}

func parseInstruction(s string) (Instruction, error) {
	route, amount, ok := strings.Cut(s, ":")
	if !ok {
		return Instruction{}, fmt.Errorf("%w: %q is missing the amount", ErrSyntax, s)
	}
	src, dst, ok := strings.Cut(route, ">")
	if !ok {
		return Instruction{}, fmt.Errorf("%w: %q is missing '>'", ErrSyntax, s)
	}
	var (
		i   Instruction
		err error
	)
	if i.Src, err = strconv.Atoi(strings.TrimSpace(src)); err != nil {
		return Instruction{}, fmt.Errorf("%w: source of %q: %v", ErrSyntax, s, err)
	}
	if i.Dst, err = strconv.Atoi(strings.TrimSpace(dst)); err != nil {
		return Instruction{}, fmt.Errorf("%w: destination of %q: %v", ErrSyntax, s, err)
	}
	a, err := strconv.ParseInt(strings.TrimSpace(amount), 10, 64)
	if err != nil {
		return Instruction{}, fmt.Errorf("%w: amount of %q: %v", ErrSyntax, s, err)
	}
	i.Amount = account.Balance(a)
	return i, nil
}

// Format the schedule so that Parse returns it again
func Format(schedule []Instruction) string {
	fields := make([]string, len(schedule))
	for idx, i := range schedule {
		fields[idx] = i.String()
	}
	return strings.Join(fields, ",")
}
