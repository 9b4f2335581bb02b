package distbank

import (
	"distbank/checking"
	"distbank/runner"
)

// Check the outcome of a run of b against the predicates.
//
// The default predicates are used if none are provided.
func (b *Bank) Check(res runner.Result, predicates ...checking.NamedPredicate) checking.CheckerResponse {
	if len(predicates) == 0 {
		predicates = checking.DefaultPredicates()
	}
	state := checking.NewState(res.History, b.initial, b.schedule)
	var checker checking.Checker = checking.NewPredicateChecker(predicates...)
	return checker.Check(state)
}
