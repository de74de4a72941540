package core

// runoffTally runs instant-runoff voting over ballots (each a preference
// order of candidate indices, most-preferred first) among numCandidates
// candidates, returning the winning candidate index. Ties for fewest votes
// are broken by eliminating the lowest candidate index first; a ballot
// whose remaining preferences are exhausted simply stops contributing a
// vote for the rest of the count rather than panicking.
func runoffTally(numCandidates int, ballots [][]int) int {
	if numCandidates <= 0 {
		return 0
	}
	eliminated := make([]bool, numCandidates)
	remaining := numCandidates

	for remaining > 1 {
		counts := make([]int, numCandidates)
		total := 0
		for _, ballot := range ballots {
			for _, c := range ballot {
				if c < 0 || c >= numCandidates || eliminated[c] {
					continue
				}
				counts[c]++
				total++
				break
			}
		}
		if total == 0 {
			// No ballot has a live preference left: lowest surviving index wins.
			for c := 0; c < numCandidates; c++ {
				if !eliminated[c] {
					return c
				}
			}
			return 0
		}
		for c := 0; c < numCandidates; c++ {
			if !eliminated[c] && counts[c]*2 > total {
				return c
			}
		}
		// Eliminate the strictly-fewest-votes surviving candidate; ties break
		// toward the lowest index.
		worst := -1
		for c := 0; c < numCandidates; c++ {
			if eliminated[c] {
				continue
			}
			if worst == -1 || counts[c] < counts[worst] {
				worst = c
			}
		}
		if worst == -1 {
			break
		}
		eliminated[worst] = true
		remaining--
	}
	for c := 0; c < numCandidates; c++ {
		if !eliminated[c] {
			return c
		}
	}
	return 0
}

// execRankedVote pops GovCandidates*GovBallots numeric values off the stack,
// one group of GovCandidates per ballot, groups pushed ballot-0-first. Within
// a group the first choice is pushed last (the convention chosen for this
// opcode), so the popped group is reversed to recover preference order
// before tallying. Pushes the winning candidate index as a Number.
func execRankedVote(vm *VM, op Operation) *VMError {
	c, b := op.GovCandidates, op.GovBallots
	if c < 2 || b < 1 {
		return errTypeMismatch("at least 2 candidates and 1 ballot", "fewer", "RankedVote")
	}
	total := c * b
	vals, err := vm.popN("RankedVote", total)
	if err != nil {
		return err
	}
	ballots := make([][]int, b)
	for i := 0; i < b; i++ {
		group := vals[i*c : (i+1)*c]
		ranking := make([]int, c)
		for j := 0; j < c; j++ {
			n, verr := group[c-1-j].AsNumber("RankedVote")
			if verr != nil {
				return verr
			}
			ranking[j] = int(n)
		}
		ballots[i] = ranking
	}
	winner := runoffTally(c, ballots)
	vm.push(NumberValue(float64(winner)))
	return nil
}

func execLiquidDelegate(vm *VM, op Operation) *VMError {
	if op.GovFrom == "" {
		return errTypeMismatch("identity", "empty", "LiquidDelegate")
	}
	if err := vm.delegation.Delegate(op.GovFrom, op.GovTo); err != nil {
		return err
	}
	vm.emit(EventCategoryGovernance, "delegation updated", map[string]interface{}{
		"from":      op.GovFrom,
		"to":        op.GovTo,
		"edge_hash": delegationEdgeHash(op.GovFrom, op.GovTo),
	})
	return nil
}
