// Package report assembles the balance histories of all workers and renders them.
package report

import (
	"bytes"
	"fmt"
	"io"
	"text/tabwriter"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"distbank/account"
)

// AllHistory holds the closed history of every worker, keyed by worker id
type AllHistory struct {
	Histories map[int]account.History
}

// Workers returns the ids of the workers in increasing order
func (ah AllHistory) Workers() []int {
	ids := maps.Keys(ah.Histories)
	slices.Sort(ids)
	return ids
}

// Len returns the number of ticks of the longest history
func (ah AllHistory) Len() int {
	max := 0
	for _, h := range ah.Histories {
		if h.Len() > max {
			max = h.Len()
		}
	}
	return max
}

// Balance returns the balance of worker id at tick t.
// Ticks past the end of a history have the last balance of the history.
func (ah AllHistory) Balance(id, t int) account.Balance {
	s, _ := ah.Histories[id].At(t)
	return s.Balance
}

// Total returns the sum of the balances of all workers at tick t
func (ah AllHistory) Total(t int) account.Balance {
	var total account.Balance
	for id := range ah.Histories {
		total += ah.Balance(id, t)
	}
	return total
}

// Final returns the last balance of every worker
func (ah AllHistory) Final() map[int]account.Balance {
	final := make(map[int]account.Balance, len(ah.Histories))
	for id, h := range ah.Histories {
		final[id] = h.Last().Balance
	}
	return final
}

// Render writes one row per tick with the balance of every worker and the total
func (ah AllHistory) Render(w io.Writer) error {
	wrt := tabwriter.NewWriter(w, 4, 4, 2, ' ', tabwriter.AlignRight)
	workers := ah.Workers()

	fmt.Fprint(wrt, "t\t")
	for _, id := range workers {
		fmt.Fprintf(wrt, "%d\t", id)
	}
	fmt.Fprint(wrt, "total\t\n")

	for t := 0; t < ah.Len(); t++ {
		fmt.Fprintf(wrt, "%d\t", t)
		for _, id := range workers {
			fmt.Fprintf(wrt, "%d\t", ah.Balance(id, t))
		}
		fmt.Fprintf(wrt, "%d\t\n", ah.Total(t))
	}
	return wrt.Flush()
}

func (ah AllHistory) String() string {
	var buffer bytes.Buffer
	if err := ah.Render(&buffer); err != nil {
		return fmt.Sprintf("AllHistory{%v}", err)
	}
	return buffer.String()
}
