package core

import (
	"encoding/json"
	"testing"
)

func opsEqual(t *testing.T, a, b Operation) {
	t.Helper()
	ab, err := json.Marshal(a)
	if err != nil {
		t.Fatalf("marshal a: %v", err)
	}
	bb, err := json.Marshal(b)
	if err != nil {
		t.Fatalf("marshal b: %v", err)
	}
	if string(ab) != string(bb) {
		t.Fatalf("operations differ after round trip: %s != %s", ab, bb)
	}
}

func TestOperationJSONRoundTrip(t *testing.T) {
	cases := []Operation{
		{Kind: OpPush, PushValue: NumberValue(5)},
		{Kind: OpPop},
		{Kind: OpStore, VarName: "x"},
		{Kind: OpLoad, VarName: "x"},
		{
			Kind:      OpIf,
			Condition: []Operation{{Kind: OpPush, PushValue: NumberValue(0)}},
			Then:      []Operation{{Kind: OpEmit, EmitMessage: "yes"}},
			ElseOps:   []Operation{{Kind: OpEmit, EmitMessage: "no"}},
		},
		{
			Kind:      OpWhile,
			Condition: []Operation{{Kind: OpPush, PushValue: NumberValue(0)}},
			Body:      []Operation{{Kind: OpBreak}},
		},
		{
			Kind: OpLoop,
			Body: []Operation{{Kind: OpContinue}},
		},
		{
			Kind: OpMatch,
			MatchValue: []Operation{{Kind: OpPush, PushValue: NumberValue(1)}},
			MatchCases: []MatchCase{
				{Literal: NumberValue(1), Ops: []Operation{{Kind: OpEmit, EmitMessage: "one"}}},
			},
			MatchDefault: []Operation{{Kind: OpEmit, EmitMessage: "other"}},
		},
		{
			Kind:     OpDef,
			FuncName: "double",
			Params:   []string{"n"},
			FuncBody: []Operation{{Kind: OpLoad, VarName: "n"}},
		},
		{Kind: OpCall, FuncName: "double"},
		{Kind: OpRequireRole, IdentityNamespace: "coop1", IdentityRole: "writer"},
		{Kind: OpVerifySignature, SigScheme: "ed25519"},
		{Kind: OpStoreP, StorageNS: "ns", StorageKey: "k"},
		{Kind: OpListKeys, StorageNS: "ns", StorageKey: "prefix"},
		{Kind: OpCreateResource, EcoUserID: "u1", EcoQuota: 1024},
		{Kind: OpTransfer, EcoUserID: "u1", EcoTo: "u2"},
		{Kind: OpRankedVote, GovCandidates: 3, GovBallots: 2},
		{Kind: OpLiquidDelegate, GovFrom: "alice", GovTo: "bob"},
		{Kind: OpVoteThreshold, GovThreshold: 0.5},
		{Kind: OpQuorumThreshold, GovThreshold: 0.3},
		{Kind: OpQuadraticCost},
	}

	for _, op := range cases {
		b, err := json.Marshal(op)
		if err != nil {
			t.Fatalf("marshal %v failed: %v", op.Kind, err)
		}
		var out Operation
		if err := json.Unmarshal(b, &out); err != nil {
			t.Fatalf("unmarshal %v failed: %v", op.Kind, err)
		}
		opsEqual(t, op, out)
	}
}

func TestOperationWireShapeIsSingleTaggedKey(t *testing.T) {
	b, err := json.Marshal(Operation{Kind: OpPush, PushValue: NumberValue(5)})
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	var wrapper map[string]json.RawMessage
	if err := json.Unmarshal(b, &wrapper); err != nil {
		t.Fatalf("unmarshal into map failed: %v", err)
	}
	if len(wrapper) != 1 {
		t.Fatalf("expected exactly one top-level tag, got %d: %s", len(wrapper), b)
	}
	if _, ok := wrapper["Push"]; !ok {
		t.Fatalf("expected tag %q, got %s", "Push", b)
	}
}

func TestOperationUnmarshalRejectsMultipleTags(t *testing.T) {
	var op Operation
	err := json.Unmarshal([]byte(`{"Push": 1, "Pop": null}`), &op)
	if err == nil {
		t.Fatalf("expected an error for a multi-tagged operation")
	}
}
