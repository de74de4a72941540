package core

import "testing"

func mustRunTree(t *testing.T, ops []Operation) *Result {
	t.Helper()
	res, err := RunTree(nil, NewMemoryStorage(nil), nil, ops)
	if err != nil {
		t.Fatalf("RunTree failed: %v", err)
	}
	return res
}

func TestStackArithmetic(t *testing.T) {
	ops := []Operation{
		{Kind: OpPush, PushValue: NumberValue(2)},
		{Kind: OpPush, PushValue: NumberValue(3)},
		{Kind: OpAdd},
	}
	res := mustRunTree(t, ops)
	if len(res.Stack) != 1 || res.Stack[0].Num != 5 {
		t.Fatalf("got %+v", res.Stack)
	}
}

func TestStackUnderflow(t *testing.T) {
	_, err := RunTree(nil, NewMemoryStorage(nil), nil, []Operation{{Kind: OpAdd}})
	if err == nil || err.Kind != KindStackUnderflow {
		t.Fatalf("expected StackUnderflow, got %v", err)
	}
}

func TestDupSwapOver(t *testing.T) {
	ops := []Operation{
		{Kind: OpPush, PushValue: NumberValue(1)},
		{Kind: OpPush, PushValue: NumberValue(2)},
		{Kind: OpSwap},
		{Kind: OpOver},
		{Kind: OpDup},
	}
	res := mustRunTree(t, ops)
	if res.Stack[0].Num != 2 || res.Stack[1].Num != 1 {
		t.Fatalf("swap failed: %+v", res.Stack)
	}
	// Over copies the 2 from beneath the top; Dup then copies that copy.
	if len(res.Stack) != 4 || res.Stack[2].Num != 2 || res.Stack[3].Num != 2 {
		t.Fatalf("over/dup failed: %+v", res.Stack)
	}
}

func TestMemoryFrameIsolation(t *testing.T) {
	ops := []Operation{
		{Kind: OpPush, PushValue: NumberValue(10)},
		{Kind: OpStore, VarName: "x"},
		{
			Kind:     OpDef,
			FuncName: "f",
			Params:   []string{"x"},
			FuncBody: []Operation{
				{Kind: OpLoad, VarName: "x"},
				{Kind: OpPush, PushValue: NumberValue(1)},
				{Kind: OpAdd},
			},
		},
		{Kind: OpPush, PushValue: NumberValue(100)},
		{Kind: OpCall, FuncName: "f"},
		{Kind: OpLoad, VarName: "x"},
	}
	res := mustRunTree(t, ops)
	// stack: [call-result(101), global x (10)]
	if len(res.Stack) != 2 {
		t.Fatalf("expected 2 stack values, got %+v", res.Stack)
	}
	if res.Stack[0].Num != 101 {
		t.Fatalf("call frame should have seen its own param binding, got %+v", res.Stack[0])
	}
	if res.Stack[1].Num != 10 {
		t.Fatalf("global x must be unaffected by the call frame, got %+v", res.Stack[1])
	}
	if res.Global["x"].Num != 10 {
		t.Fatalf("global frame x should still be 10, got %+v", res.Global["x"])
	}
}

func TestRecursionDepthExceeded(t *testing.T) {
	ops := []Operation{
		{Kind: OpDef, FuncName: "loop", Params: nil, FuncBody: []Operation{
			{Kind: OpCall, FuncName: "loop"},
		}},
		{Kind: OpCall, FuncName: "loop"},
	}
	_, err := RunTree(nil, NewMemoryStorage(nil), nil, ops)
	if err == nil || err.Kind != KindRecursionDepthExceeded {
		t.Fatalf("expected RecursionDepthExceeded, got %v", err)
	}
}

func TestBreakContinueOutsideLoopIsError(t *testing.T) {
	_, err := RunTree(nil, NewMemoryStorage(nil), nil, []Operation{{Kind: OpBreak}})
	if err == nil || err.Kind != KindLoopControlOutsideLoop {
		t.Fatalf("expected LoopControlOutsideLoop for top-level Break, got %v", err)
	}
	_, err = RunTree(nil, NewMemoryStorage(nil), nil, []Operation{{Kind: OpContinue}})
	if err == nil || err.Kind != KindLoopControlOutsideLoop {
		t.Fatalf("expected LoopControlOutsideLoop for top-level Continue, got %v", err)
	}
}

func TestReturnAtTopLevelEndsCleanly(t *testing.T) {
	ops := []Operation{
		{Kind: OpPush, PushValue: NumberValue(1)},
		{Kind: OpReturn},
		{Kind: OpPush, PushValue: NumberValue(2)},
	}
	res := mustRunTree(t, ops)
	if len(res.Stack) != 1 || res.Stack[0].Num != 1 {
		t.Fatalf("Return should stop execution at top level, got %+v", res.Stack)
	}
}

func TestWhileLoopAccumulatesSum(t *testing.T) {
	ops := []Operation{
		{Kind: OpPush, PushValue: NumberValue(0)},
		{Kind: OpStore, VarName: "i"},
		{Kind: OpPush, PushValue: NumberValue(0)},
		{Kind: OpStore, VarName: "sum"},
		{
			Kind: OpWhile,
			Condition: []Operation{
				{Kind: OpLoad, VarName: "i"},
				{Kind: OpPush, PushValue: NumberValue(5)},
				{Kind: OpLt},
			},
			Body: []Operation{
				{Kind: OpLoad, VarName: "i"},
				{Kind: OpPush, PushValue: NumberValue(1)},
				{Kind: OpAdd},
				{Kind: OpStore, VarName: "i"},
				{Kind: OpLoad, VarName: "i"},
				{Kind: OpLoad, VarName: "sum"},
				{Kind: OpAdd},
				{Kind: OpStore, VarName: "sum"},
			},
		},
		{Kind: OpLoad, VarName: "sum"},
	}
	res := mustRunTree(t, ops)
	top := res.Stack[len(res.Stack)-1]
	if top.Num != 15 { // 1+2+3+4+5
		t.Fatalf("expected sum 15, got %+v", top)
	}
}
