package core

import "strconv"

// Frame maps identifiers to Values. Insertion order is irrelevant.
type Frame map[string]Value

// FunctionDef is a registered function: an ordered parameter list plus an
// operation-tree body. The tree walker executes Body directly; the bytecode
// compiler lowers it once into the linear instruction stream.
type FunctionDef struct {
	Params []string
	Body   []Operation
}

// DefaultMaxRecursionDepth is used when a host does not configure one.
const DefaultMaxRecursionDepth = 1000

// VM holds the runtime state shared by both execution engines: the value
// stack, the global frame plus an active call-frame stack, the function
// table, the auth context, storage handle and event sink. Both the tree
// walker and the bytecode engine operate on the same VM so that every
// opcode's effect (arithmetic, storage, identity, governance) is
// implemented exactly once and shared between them; only the fetch-decode
// loop differs per engine.
type VM struct {
	Stack   []Value
	Global  Frame
	Frames  []Frame // call-frame stack; top of Frames is the active frame
	Funcs   map[string]FunctionDef
	Auth    *AuthContext
	Storage Storage
	Sink    EventSink

	MaxRecursionDepth int
	delegation        *DelegationGraph
	loopSeq           int // monotonic counter backing unique hidden loop-counter names
	cancelled         bool
}

// NewVM constructs a VM ready to run a program. storage and sink may be nil
// (storage ops then fail IoError; events are dropped).
func NewVM(auth *AuthContext, storage Storage, sink EventSink) *VM {
	return &VM{
		Global:            make(Frame),
		Funcs:             make(map[string]FunctionDef),
		Auth:              auth,
		Storage:           storage,
		Sink:              sink,
		MaxRecursionDepth: DefaultMaxRecursionDepth,
		delegation:        NewDelegationGraph(),
	}
}

// Cancel sets the cooperative stop flag; it is observed between opcodes.
func (vm *VM) Cancel() { vm.cancelled = true }

// activeFrame returns the frame Store/Load should target: the innermost
// call frame if one is active, else the global frame.
func (vm *VM) activeFrame() Frame {
	if len(vm.Frames) > 0 {
		return vm.Frames[len(vm.Frames)-1]
	}
	return vm.Global
}

func (vm *VM) push(v Value) { vm.Stack = append(vm.Stack, v) }

func (vm *VM) pop(op string) (Value, *VMError) {
	if len(vm.Stack) == 0 {
		return Value{}, errStackUnderflow(op, 1, 0)
	}
	v := vm.Stack[len(vm.Stack)-1]
	vm.Stack = vm.Stack[:len(vm.Stack)-1]
	return v, nil
}

// popN pops n values, returning them in the order they were pushed (oldest
// first), i.e. popN(2) on a stack […, a, b] returns [a, b].
func (vm *VM) popN(op string, n int) ([]Value, *VMError) {
	if len(vm.Stack) < n {
		return nil, errStackUnderflow(op, n, len(vm.Stack))
	}
	out := make([]Value, n)
	copy(out, vm.Stack[len(vm.Stack)-n:])
	vm.Stack = vm.Stack[:len(vm.Stack)-n]
	return out, nil
}

func (vm *VM) load(name string) (Value, *VMError) {
	frame := vm.activeFrame()
	v, ok := frame[name]
	if !ok {
		scope := "global"
		if len(vm.Frames) > 0 {
			scope = "call"
		}
		return Value{}, errVariableNotFound(name, scope)
	}
	return v, nil
}

func (vm *VM) store(name string, v Value) {
	vm.activeFrame()[name] = v
}

// pushCallFrame pushes a fresh frame populated with params, enforcing the
// configured recursion depth.
func (vm *VM) pushCallFrame(params map[string]Value) *VMError {
	if len(vm.Frames) >= vm.MaxRecursionDepth {
		return errRecursionDepthExceeded(vm.MaxRecursionDepth)
	}
	f := make(Frame, len(params))
	for k, v := range params {
		f[k] = v
	}
	vm.Frames = append(vm.Frames, f)
	return nil
}

// popCallFrame discards the innermost call frame, restoring the caller's as
// active. This is the sole place a frame is destroyed, guaranteeing the
// memory-isolation property: once popped, its bindings are unreachable.
func (vm *VM) popCallFrame() {
	if len(vm.Frames) > 0 {
		vm.Frames = vm.Frames[:len(vm.Frames)-1]
	}
}

func (vm *VM) emit(category, message string, fields map[string]interface{}) {
	if vm.Sink != nil {
		vm.Sink.Emit(category, message, fields)
	}
}

func (vm *VM) nextLoopCounterName() string {
	vm.loopSeq++
	return loopCounterName(vm.loopSeq)
}

func loopCounterName(seq int) string {
	return "__loop_counter_" + strconv.Itoa(seq)
}

// Result is what a host sees after a run completes: the final stack (top
// last) and the global frame's bindings. Both engines produce one from the
// same VM fields, so a caller comparing RunTree against RunBytecode for the
// same program is comparing two Results.
type Result struct {
	Stack  []Value
	Global Frame
}

func (vm *VM) result() *Result {
	return &Result{Stack: vm.Stack, Global: vm.Global}
}

// rollbackOpenTx discards any storage transaction left open by a run that
// failed. A run that never opened one (or that already closed it via an
// explicit CommitTx/RollbackTx) sees RollbackTx report no active
// transaction, which is not itself an error worth surfacing over the run's
// own — every opcode path (Begin/Commit/Rollback included) funnels through
// vm.Storage, so checking here rather than per-opcode catches every way an
// error can leave a transaction open between Begin and Commit.
func (vm *VM) rollbackOpenTx() {
	if vm.Storage == nil {
		return
	}
	vm.Storage.RollbackTx()
}

// RunTree executes ops with the tree-walking engine against a fresh VM
// sharing auth/storage/sink.
func RunTree(auth *AuthContext, storage Storage, sink EventSink, ops []Operation) (*Result, *VMError) {
	vm := NewVM(auth, storage, sink)
	if err := vm.Run(ops); err != nil {
		return nil, err
	}
	return vm.result(), nil
}

// RunProgram executes a compiled Program with the bytecode engine against a
// fresh VM sharing auth/storage/sink. For any ops, RunProgram(Compile(ops))
// must observe the same Result as RunTree(ops) (modulo debug-dump text
// formatting), per the engine-equivalence property.
func RunProgram(auth *AuthContext, storage Storage, sink EventSink, p *Program) (*Result, *VMError) {
	vm := NewVM(auth, storage, sink)
	if err := vm.RunBytecode(p); err != nil {
		return nil, err
	}
	return vm.result(), nil
}
