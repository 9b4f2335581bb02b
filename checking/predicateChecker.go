package checking

import (
	"bytes"
	"fmt"
	"text/tabwriter"
)

type predicateCheckerResponse struct {
	Result bool   // True if all predicates hold. False otherwise
	Test   int    // The index of the failing predicate. -1 if Result is true
	Name   string // The name of the failing predicate
	State  State
}

// Generate a response
// Returns two parameters, result, and description.
// Result is true if all predicates hold, false otherwise.
// If result is false the description contains the initial and final balance of every worker
func (pcr predicateCheckerResponse) Response() (bool, string) {
	if pcr.Result {
		return pcr.Result, "All predicates holds"
	}
	var buffer bytes.Buffer
	wrt := tabwriter.NewWriter(&buffer, 4, 4, 2, ' ', 0)
	out := fmt.Sprintf("Predicate broken. Predicate: %v (%v). Balances: \n", pcr.Test, pcr.Name)
	fmt.Fprintf(wrt, "worker\tinitial\tfinal\tticks\t\n")
	final := pcr.State.Histories.Final()
	for _, id := range pcr.State.Histories.Workers() {
		fmt.Fprintf(wrt, "%v\t%v\t%v\t%v\t\n", id, pcr.State.Initial[id], final[id], pcr.State.Histories.Histories[id].Len())
	}
	wrt.Flush()
	out += buffer.String()
	return pcr.Result, out
}

// A function to be evaluated on the outcome of a run
// It returns true if the predicate holds and false otherwise
type Predicate func(s State) bool

// A predicate with a name used when reporting it
type NamedPredicate struct {
	Name string
	Pred Predicate
}

// The predicates every run of the bank must satisfy
func DefaultPredicates() []NamedPredicate {
	return []NamedPredicate{
		{"complete", Complete},
		{"dense", Dense},
		{"starts at initial", StartsAtInitial},
		{"conservation", Conservation},
		{"flat when untouched", Flat},
		{"no pending", NoPending},
	}
}

type PredicateChecker struct {
	// A slice of predicates that returns true if the predicate holds.
	predicates []NamedPredicate
}

func NewPredicateChecker(predicates ...NamedPredicate) *PredicateChecker {
	return &PredicateChecker{
		predicates: predicates,
	}
}

// Check the predicates in order, stopping at the first broken one
func (pc *PredicateChecker) Check(s State) CheckerResponse {
	for index, pred := range pc.predicates {
		if !pred.Pred(s) {
			return &predicateCheckerResponse{
				Result: false,
				Test:   index,
				Name:   pred.Name,
				State:  s,
			}
		}
	}
	return &predicateCheckerResponse{
		Result: true,
		Test:   -1,
	}
}
