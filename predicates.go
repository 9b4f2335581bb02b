package distbank

import (
	"distbank/account"
	"distbank/checking"
)

// A predicate that holds if the balance of worker id is want once the run has ended
func PredFinalBalance(id int, want account.Balance) checking.NamedPredicate {
	return checking.NamedPredicate{
		Name: "final balance",
		Pred: func(s checking.State) bool {
			h, ok := s.Histories.Histories[id]
			if !ok || h.Len() == 0 {
				return false
			}
			return h.Last().Balance == want
		},
	}
}
