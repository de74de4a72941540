package core

import (
	"encoding/json"
	"fmt"
)

// execLeaf executes every Operation that is not a control-flow composite
// (If/While/Loop/Match/Def/Call/Break/Continue/Return — those need an
// engine-specific fetch-decode loop and live in treewalk.go/bytecode.go).
// Every opcode effect below is implemented exactly once and called
// identically by both engines, per the "share every opcode's effect behind
// a small interface" design note.
func execLeaf(vm *VM, op Operation) *VMError {
	switch op.Kind {
	case OpPush:
		vm.push(op.PushValue)
		return nil
	case OpPop:
		_, err := vm.pop("Pop")
		return err
	case OpDup:
		v, err := vm.pop("Dup")
		if err != nil {
			return err
		}
		vm.push(v)
		vm.push(v)
		return nil
	case OpSwap:
		vs, err := vm.popN("Swap", 2)
		if err != nil {
			return err
		}
		vm.push(vs[1])
		vm.push(vs[0])
		return nil
	case OpOver:
		vs, err := vm.popN("Over", 2)
		if err != nil {
			return err
		}
		vm.push(vs[0])
		vm.push(vs[1])
		vm.push(vs[0])
		return nil

	case OpAdd, OpSub, OpMul, OpDiv, OpMod:
		return execArith(vm, op.Kind)
	case OpNegate:
		a, err := vm.pop("Negate")
		if err != nil {
			return err
		}
		r, verr := Negate(a)
		if verr != nil {
			return verr
		}
		vm.push(r)
		return nil

	case OpEq:
		vs, err := vm.popN("Eq", 2)
		if err != nil {
			return err
		}
		vm.push(BoolValue(Equal(vs[0], vs[1])))
		return nil
	case OpGt, OpLt:
		vs, err := vm.popN(string(op.Kind), 2)
		if err != nil {
			return err
		}
		cmp, verr := Compare(vs[0], vs[1], string(op.Kind))
		if verr != nil {
			return verr
		}
		if op.Kind == OpGt {
			vm.push(BoolValue(cmp > 0))
		} else {
			vm.push(BoolValue(cmp < 0))
		}
		return nil
	case OpAnd:
		vs, err := vm.popN("And", 2)
		if err != nil {
			return err
		}
		vm.push(And(vs[0], vs[1]))
		return nil
	case OpOr:
		vs, err := vm.popN("Or", 2)
		if err != nil {
			return err
		}
		vm.push(Or(vs[0], vs[1]))
		return nil
	case OpNot:
		a, err := vm.pop("Not")
		if err != nil {
			return err
		}
		vm.push(Not(a))
		return nil

	case OpStore:
		v, err := vm.pop("Store")
		if err != nil {
			return err
		}
		vm.store(op.VarName, v)
		return nil
	case OpLoad:
		v, err := vm.load(op.VarName)
		if err != nil {
			return err
		}
		vm.push(v)
		return nil

	case OpEmit:
		vm.emit(EventCategoryVM, op.EmitMessage, nil)
		return nil
	case OpEmitEvent:
		vm.emit(op.EmitCategory, op.EmitMessage, nil)
		return nil
	case OpDumpStack:
		vm.emit(EventCategoryVM, dumpStack(vm.Stack), nil)
		return nil
	case OpDumpMemory:
		vm.emit(EventCategoryVM, dumpFrame(vm.activeFrame()), nil)
		return nil
	case OpAssertTop:
		v, err := vm.pop("AssertTop")
		if err != nil {
			return err
		}
		if !Equal(v, op.AssertExpected) {
			return errAssertionFailed(op.AssertExpected.Describe(), v.Describe())
		}
		vm.push(v)
		return nil
	case OpAssertMemory:
		v, err := vm.load(op.AssertName)
		if err != nil {
			return err
		}
		if !Equal(v, op.AssertExpected) {
			return errAssertionFailed(op.AssertExpected.Describe(), v.Describe())
		}
		return nil
	case OpAssertEqualStack:
		if len(vm.Stack) != len(op.AssertStack) {
			return errAssertionFailed(len(op.AssertStack), len(vm.Stack))
		}
		for i, want := range op.AssertStack {
			if !Equal(vm.Stack[i], want) {
				return errAssertionFailed(want.Describe(), vm.Stack[i].Describe())
			}
		}
		return nil

	case OpGetCaller, OpGetIdentity:
		vm.push(StringValue(vm.Auth.CallerID()))
		return nil
	case OpHasRole:
		vm.push(BoolValue(vm.Auth.HasRole(op.IdentityNamespace, op.IdentityRole)))
		return nil
	case OpRequireRole:
		if verr := vm.Auth.RequireRole(op.IdentityNamespace, op.IdentityRole); verr != nil {
			return verr
		}
		return nil
	case OpRequireIdentity:
		if verr := vm.Auth.RequireIdentity(op.IdentityID); verr != nil {
			return verr
		}
		return nil
	case OpAddRole:
		if err := vm.Auth.AddRole(op.IdentityNamespace, op.IdentityRole); err != nil {
			return errIoError(err.Error())
		}
		return nil
	case OpVerifySignature:
		ok, verr := execVerifySignature(vm, op.SigScheme)
		if verr != nil {
			return verr
		}
		vm.push(BoolValue(ok))
		return nil
	case OpRequireValidSignature:
		ok, verr := execVerifySignature(vm, op.SigScheme)
		if verr != nil {
			return verr
		}
		if !ok {
			return withCaller(errPermissionDenied("valid-signature", vm.Auth.CallerID()), vm.Auth.CallerID())
		}
		return nil

	case OpStoreP:
		return execStoreP(vm, op)
	case OpLoadP:
		return execLoadP(vm, op)
	case OpDeleteP:
		return execDeleteP(vm, op)
	case OpKeyExistsP:
		if vm.Storage == nil {
			return errIoError("no storage backend attached")
		}
		vm.push(BoolValue(vm.Storage.Contains(vm.Auth, op.StorageNS, op.StorageKey)))
		return nil
	case OpListKeys:
		return execListKeys(vm, op)
	case OpLoadVersionP:
		return execLoadVersionP(vm, op)
	case OpListVersionsP:
		return execListVersionsP(vm, op)
	case OpDiffVersionsP:
		return execDiffVersionsP(vm, op)
	case OpBeginTx:
		if vm.Storage == nil {
			return errIoError("no storage backend attached")
		}
		return vm.Storage.BeginTx()
	case OpCommitTx:
		if vm.Storage == nil {
			return errIoError("no storage backend attached")
		}
		return vm.Storage.CommitTx()
	case OpRollbackTx:
		if vm.Storage == nil {
			return errIoError("no storage backend attached")
		}
		return vm.Storage.RollbackTx()

	case OpCreateResource:
		if vm.Storage == nil {
			return errIoError("no storage backend attached")
		}
		return vm.Storage.CreateAccount(vm.Auth, op.EcoUserID, op.EcoQuota)
	case OpMint:
		return execMint(vm, op)
	case OpTransfer:
		return execTransfer(vm, op)
	case OpBurn:
		return execBurn(vm, op)
	case OpBalance:
		return execBalance(vm, op)

	case OpRankedVote:
		return execRankedVote(vm, op)
	case OpLiquidDelegate:
		return execLiquidDelegate(vm, op)
	case OpVoteThreshold:
		return execVoteThreshold(vm, op)
	case OpQuorumThreshold:
		return execQuorumThreshold(vm, op)
	case OpQuadraticCost:
		v, err := vm.pop("QuadraticCost")
		if err != nil {
			return err
		}
		n, verr := v.AsNumber("QuadraticCost")
		if verr != nil {
			return verr
		}
		vm.push(NumberValue(QuadraticVoteCost(n)))
		return nil

	default:
		return withLocation(errFunctionNotFound(string(op.Kind)), "unhandled-leaf-op")
	}
}

func execArith(vm *VM, kind OpKind) *VMError {
	vs, err := vm.popN(string(kind), 2)
	if err != nil {
		return err
	}
	a, b := vs[0], vs[1]
	var r Value
	var verr *VMError
	switch kind {
	case OpAdd:
		r, verr = Add(a, b)
	case OpSub:
		r, verr = Sub(a, b)
	case OpMul:
		r, verr = Mul(a, b)
	case OpDiv:
		r, verr = Div(a, b)
	case OpMod:
		r, verr = Mod(a, b)
	}
	if verr != nil {
		return verr
	}
	vm.push(r)
	return nil
}

func execVerifySignature(vm *VM, scheme string) (bool, *VMError) {
	vs, err := vm.popN("VerifySignature", 3)
	if err != nil {
		return false, err
	}
	pubKey, message, signature := vs[0].AsString(), vs[1].AsString(), vs[2].AsString()
	return VerifySignature([]byte(pubKey), []byte(message), []byte(signature), scheme)
}

func execStoreP(vm *VM, op Operation) *VMError {
	if vm.Storage == nil {
		return errIoError("no storage backend attached")
	}
	v, err := vm.pop("StoreP")
	if err != nil {
		return err
	}
	data, jerr := json.Marshal(v)
	if jerr != nil {
		return errSerializationError("Value")
	}
	return vm.Storage.Set(vm.Auth, op.StorageNS, op.StorageKey, data)
}

func execLoadP(vm *VM, op Operation) *VMError {
	if vm.Storage == nil {
		return errIoError("no storage backend attached")
	}
	data, err := vm.Storage.Get(vm.Auth, op.StorageNS, op.StorageKey)
	if err != nil {
		return err
	}
	var v Value
	if jerr := json.Unmarshal(data, &v); jerr != nil {
		return errSerializationError("Value")
	}
	vm.push(v)
	return nil
}

func execDeleteP(vm *VM, op Operation) *VMError {
	if vm.Storage == nil {
		return errIoError("no storage backend attached")
	}
	return vm.Storage.Delete(vm.Auth, op.StorageNS, op.StorageKey)
}

func execListKeys(vm *VM, op Operation) *VMError {
	if vm.Storage == nil {
		return errIoError("no storage backend attached")
	}
	keys, err := vm.Storage.ListKeys(vm.Auth, op.StorageNS, op.StorageKey)
	if err != nil {
		return err
	}
	b, jerr := json.Marshal(keys)
	if jerr != nil {
		return errSerializationError("[]string")
	}
	vm.push(StringValue(string(b)))
	return nil
}

func execLoadVersionP(vm *VM, op Operation) *VMError {
	if vm.Storage == nil {
		return errIoError("no storage backend attached")
	}
	vnum, err := vm.pop("LoadVersionP")
	if err != nil {
		return err
	}
	n, verr := vnum.AsNumber("LoadVersionP")
	if verr != nil {
		return verr
	}
	data, serr := vm.Storage.GetVersion(vm.Auth, op.StorageNS, op.StorageKey, int(n))
	if serr != nil {
		return serr
	}
	var v Value
	if jerr := json.Unmarshal(data, &v); jerr != nil {
		return errSerializationError("Value")
	}
	vm.push(v)
	return nil
}

func execListVersionsP(vm *VM, op Operation) *VMError {
	if vm.Storage == nil {
		return errIoError("no storage backend attached")
	}
	versions, err := vm.Storage.ListVersions(vm.Auth, op.StorageNS, op.StorageKey)
	if err != nil {
		return err
	}
	nums := make([]int, len(versions))
	for i, vi := range versions {
		nums[i] = vi.Version
	}
	b, jerr := json.Marshal(nums)
	if jerr != nil {
		return errSerializationError("[]int")
	}
	vm.push(StringValue(string(b)))
	return nil
}

func execDiffVersionsP(vm *VM, op Operation) *VMError {
	if vm.Storage == nil {
		return errIoError("no storage backend attached")
	}
	vs, err := vm.popN("DiffVersionsP", 2)
	if err != nil {
		return err
	}
	aNum, aerr := vs[0].AsNumber("DiffVersionsP")
	if aerr != nil {
		return aerr
	}
	bNum, berr := vs[1].AsNumber("DiffVersionsP")
	if berr != nil {
		return berr
	}
	dataA, serr := vm.Storage.GetVersion(vm.Auth, op.StorageNS, op.StorageKey, int(aNum))
	if serr != nil {
		return serr
	}
	dataB, serr := vm.Storage.GetVersion(vm.Auth, op.StorageNS, op.StorageKey, int(bNum))
	if serr != nil {
		return serr
	}
	var va, vb Value
	if jerr := json.Unmarshal(dataA, &va); jerr != nil {
		return errSerializationError("Value")
	}
	if jerr := json.Unmarshal(dataB, &vb); jerr != nil {
		return errSerializationError("Value")
	}
	if va.Kind != KindNumber || vb.Kind != KindNumber {
		return errTypeMismatch("Number", "non-Number", "DiffVersionsP")
	}
	diff := va.Num - vb.Num
	if diff < 0 {
		diff = -diff
	}
	vm.push(NumberValue(diff))
	return nil
}

// economic opcodes keep balances in a reserved namespace as plain Number
// Values, reusing the storage layer rather than a parallel ledger.
const economicNamespace = "economic/balances"

func balanceOf(vm *VM, userID string) (float64, *VMError) {
	if vm.Storage == nil {
		return 0, errIoError("no storage backend attached")
	}
	data, err := vm.Storage.Get(vm.Auth, economicNamespace, userID)
	if err != nil {
		if err.Kind == KindStorageNotFound {
			return 0, nil
		}
		return 0, err
	}
	var v Value
	if jerr := json.Unmarshal(data, &v); jerr != nil {
		return 0, errSerializationError("Value")
	}
	n, verr := v.AsNumber("Balance")
	return n, verr
}

func setBalance(vm *VM, userID string, amount float64) *VMError {
	data, jerr := json.Marshal(NumberValue(amount))
	if jerr != nil {
		return errSerializationError("Value")
	}
	if !vm.Storage.Contains(vm.Auth, economicNamespace, userID) {
		_ = vm.Storage.CreateNamespace(vm.Auth, economicNamespace, 1<<30, "")
	}
	return vm.Storage.Set(vm.Auth, economicNamespace, userID, data)
}

func execMint(vm *VM, op Operation) *VMError {
	amt, err := vm.pop("Mint")
	if err != nil {
		return err
	}
	n, verr := amt.AsNumber("Mint")
	if verr != nil {
		return verr
	}
	cur, berr := balanceOf(vm, op.EcoUserID)
	if berr != nil {
		return berr
	}
	return setBalance(vm, op.EcoUserID, cur+n)
}

func execBurn(vm *VM, op Operation) *VMError {
	amt, err := vm.pop("Burn")
	if err != nil {
		return err
	}
	n, verr := amt.AsNumber("Burn")
	if verr != nil {
		return verr
	}
	cur, berr := balanceOf(vm, op.EcoUserID)
	if berr != nil {
		return berr
	}
	if n > cur {
		return errAssertionFailed(fmt.Sprintf("balance>=%v", n), cur)
	}
	return setBalance(vm, op.EcoUserID, cur-n)
}

func execTransfer(vm *VM, op Operation) *VMError {
	amt, err := vm.pop("Transfer")
	if err != nil {
		return err
	}
	n, verr := amt.AsNumber("Transfer")
	if verr != nil {
		return verr
	}
	fromBal, berr := balanceOf(vm, op.EcoUserID)
	if berr != nil {
		return berr
	}
	if n > fromBal {
		return errAssertionFailed(fmt.Sprintf("balance>=%v", n), fromBal)
	}
	toBal, berr := balanceOf(vm, op.EcoTo)
	if berr != nil {
		return berr
	}
	if verr := setBalance(vm, op.EcoUserID, fromBal-n); verr != nil {
		return verr
	}
	return setBalance(vm, op.EcoTo, toBal+n)
}

func execBalance(vm *VM, op Operation) *VMError {
	n, err := balanceOf(vm, op.EcoUserID)
	if err != nil {
		return err
	}
	vm.push(NumberValue(n))
	return nil
}

func dumpStack(stack []Value) string {
	b, _ := json.Marshal(stack)
	return string(b)
}

func dumpFrame(f Frame) string {
	b, _ := json.Marshal(f)
	return string(b)
}
