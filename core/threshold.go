package core

// execVoteThreshold pops the tallied support total and pushes the 0.0-is-true
// convention's truthy Number (0.0) when support meets or exceeds
// GovThreshold, else the falsey Number (1.0).
func execVoteThreshold(vm *VM, op Operation) *VMError {
	support, err := vm.pop("VoteThreshold")
	if err != nil {
		return err
	}
	n, verr := support.AsNumber("VoteThreshold")
	if verr != nil {
		return verr
	}
	vm.push(thresholdResult(n >= op.GovThreshold))
	return nil
}

// execQuorumThreshold pops participation (pushed last, on top) and total
// (beneath it), and pushes truthy when participation/total meets or exceeds
// GovThreshold.
func execQuorumThreshold(vm *VM, op Operation) *VMError {
	vs, err := vm.popN("QuorumThreshold", 2)
	if err != nil {
		return err
	}
	// popN returns values oldest-pushed-first; participation is pushed last
	// (on top), so it occupies the final slot.
	total, terr := vs[0].AsNumber("QuorumThreshold")
	if terr != nil {
		return terr
	}
	participation, perr := vs[1].AsNumber("QuorumThreshold")
	if perr != nil {
		return perr
	}
	ratio := 0.0
	if total != 0 {
		ratio = participation / total
	}
	vm.push(thresholdResult(ratio >= op.GovThreshold))
	return nil
}

func thresholdResult(met bool) Value {
	if met {
		return NumberValue(0.0)
	}
	return NumberValue(1.0)
}
