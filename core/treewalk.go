package core

// signal is how Break/Continue/Return unwind through the tree walker's
// recursive executeOps calls without being mistaken for a VMError. It never
// crosses a Call boundary as anything but "handled or turned into an error".
type signal string

const (
	signalNone     signal = ""
	signalBreak    signal = "break"
	signalContinue signal = "continue"
	signalReturn   signal = "return"
)

// Run executes ops against a fresh top-level flow of control: the program's
// top-level operation list. A Return reaching the top level simply ends the
// run; a Break or Continue reaching it is a LoopControlOutsideLoop error,
// since neither has an enclosing loop. Any storage transaction still open
// when the run fails is rolled back before the error is reported.
func (vm *VM) Run(ops []Operation) *VMError {
	sig, err := vm.executeOps(ops)
	if err == nil && (sig == signalBreak || sig == signalContinue) {
		err = errLoopControlOutsideLoop(string(sig))
	}
	if err != nil {
		vm.rollbackOpenTx()
		return err
	}
	return nil
}

func (vm *VM) executeOps(ops []Operation) (signal, *VMError) {
	for _, op := range ops {
		if vm.cancelled {
			return signalNone, errCancelled()
		}
		sig, err := vm.executeOp(op)
		if err != nil {
			return signalNone, err
		}
		if sig != signalNone {
			return sig, nil
		}
	}
	return signalNone, nil
}

func (vm *VM) executeOp(op Operation) (signal, *VMError) {
	switch op.Kind {
	case OpBreak:
		return signalBreak, nil
	case OpContinue:
		return signalContinue, nil
	case OpReturn:
		return signalReturn, nil

	case OpIf:
		sig, err := vm.executeOps(op.Condition)
		if err != nil || sig != signalNone {
			return sig, err
		}
		cond, perr := vm.pop("If")
		if perr != nil {
			return signalNone, perr
		}
		if Truthy(cond) {
			return vm.executeOps(op.Then)
		}
		return vm.executeOps(op.ElseOps)

	case OpWhile:
		for {
			sig, err := vm.executeOps(op.Condition)
			if err != nil || sig != signalNone {
				return sig, err
			}
			cond, perr := vm.pop("While")
			if perr != nil {
				return signalNone, perr
			}
			if !Truthy(cond) {
				return signalNone, nil
			}
			bsig, err := vm.executeOps(op.Body)
			if err != nil {
				return signalNone, err
			}
			switch bsig {
			case signalBreak:
				return signalNone, nil
			case signalContinue:
				continue
			case signalReturn:
				return signalReturn, nil
			}
		}

	case OpLoop:
		count, verr := vm.loopCount(op)
		if verr != nil {
			return signalNone, verr
		}
		counterName := vm.nextLoopCounterName()
		for i := 0; i < count; i++ {
			vm.store(counterName, NumberValue(float64(i)))
			bsig, err := vm.executeOps(op.Body)
			if err != nil {
				return signalNone, err
			}
			switch bsig {
			case signalBreak:
				return signalNone, nil
			case signalContinue:
				continue
			case signalReturn:
				return signalReturn, nil
			}
		}
		return signalNone, nil

	case OpMatch:
		sig, err := vm.executeOps(op.MatchValue)
		if err != nil || sig != signalNone {
			return sig, err
		}
		val, perr := vm.pop("Match")
		if perr != nil {
			return signalNone, perr
		}
		for _, c := range op.MatchCases {
			if Equal(val, c.Literal) {
				return vm.executeOps(c.Ops)
			}
		}
		return vm.executeOps(op.MatchDefault)

	case OpDef:
		vm.Funcs[op.FuncName] = FunctionDef{Params: op.Params, Body: op.FuncBody}
		return signalNone, nil

	case OpCall:
		return signalNone, vm.callFunction(op.FuncName)

	default:
		return signalNone, execLeaf(vm, op)
	}
}

// loopCount resolves Loop's iteration count: a literal if LoopCount is set,
// otherwise popped from the stack.
func (vm *VM) loopCount(op Operation) (int, *VMError) {
	if op.LoopCount != nil {
		return int(*op.LoopCount), nil
	}
	v, err := vm.pop("Loop")
	if err != nil {
		return 0, err
	}
	n, verr := v.AsNumber("Loop")
	if verr != nil {
		return 0, verr
	}
	return int(n), nil
}

// callFunction pops len(params) arguments (last pushed binds the last
// parameter), pushes a fresh call frame, and runs the function body. A
// Break/Continue escaping the body without an enclosing loop inside it is
// a LoopControlOutsideLoop error raised at the call site: loop control never
// crosses a function boundary. A Return, or simply falling off the end,
// both mean "done"; whatever is on top of the stack is the result, per the
// no-explicit-Return convention.
func (vm *VM) callFunction(name string) *VMError {
	fn, ok := vm.Funcs[name]
	if !ok {
		return errFunctionNotFound(name)
	}
	args, err := vm.popN("Call", len(fn.Params))
	if err != nil {
		return err
	}
	params := make(map[string]Value, len(fn.Params))
	for i, p := range fn.Params {
		params[p] = args[i]
	}
	if verr := vm.pushCallFrame(params); verr != nil {
		return verr
	}
	sig, berr := vm.executeOps(fn.Body)
	vm.popCallFrame()
	if berr != nil {
		return berr
	}
	if sig == signalBreak || sig == signalContinue {
		return errLoopControlOutsideLoop(string(sig))
	}
	return nil
}
