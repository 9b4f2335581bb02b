package checking

import "distbank/account"

// Check that cond returns true for the history of every worker in the provided state
//
// Returns false if cond returns false for some worker.
// Returns true otherwise.
// If onlyUntouched is true, workers named by some transfer are skipped.
func ForAllWorkers(cond func(id int, h account.History) bool, s State, onlyUntouched bool) bool {
	for id, h := range s.Histories.Histories {
		if onlyUntouched && s.Touched[id] {
			continue
		}
		if !cond(id, h) {
			return false
		}
	}
	return true
}

// Conservation holds if the final balances sum up to the initial balances
func Conservation(s State) bool {
	var initial, final account.Balance
	for _, b := range s.Initial {
		initial += b
	}
	for _, b := range s.Histories.Final() {
		final += b
	}
	return initial == final
}

// Complete holds if there is a history for every worker that has an initial balance and no other
func Complete(s State) bool {
	if len(s.Histories.Histories) != len(s.Initial) {
		return false
	}
	for id := range s.Initial {
		if _, ok := s.Histories.Histories[id]; !ok {
			return false
		}
	}
	return true
}

// Dense holds if every history has one state per tick starting at tick 0
func Dense(s State) bool {
	return ForAllWorkers(func(_ int, h account.History) bool {
		return h.Len() > 0 && h.Dense()
	}, s, false)
}

// StartsAtInitial holds if every history starts with the initial balance of the worker
func StartsAtInitial(s State) bool {
	return ForAllWorkers(func(id int, h account.History) bool {
		return h.Len() > 0 && h.States[0].Balance == s.Initial[id]
	}, s, false)
}

// Flat holds if the balance of every worker not named by any transfer never changes
func Flat(s State) bool {
	return ForAllWorkers(func(id int, h account.History) bool {
		for _, st := range h.States {
			if st.Balance != s.Initial[id] {
				return false
			}
		}
		return true
	}, s, true)
}

// NoPending holds if no state has a pending incoming amount
func NoPending(s State) bool {
	return ForAllWorkers(func(_ int, h account.History) bool {
		for _, st := range h.States {
			if st.PendingIn != 0 {
				return false
			}
		}
		return true
	}, s, false)
}
