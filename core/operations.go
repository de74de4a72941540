package core

import (
	"encoding/json"
	"fmt"
)

// OpKind tags one of the ~60 Operation variants.
type OpKind string

const (
	OpPush OpKind = "Push"
	OpPop  OpKind = "Pop"
	OpDup  OpKind = "Dup"
	OpSwap OpKind = "Swap"
	OpOver OpKind = "Over"

	OpAdd    OpKind = "Add"
	OpSub    OpKind = "Sub"
	OpMul    OpKind = "Mul"
	OpDiv    OpKind = "Div"
	OpMod    OpKind = "Mod"
	OpNegate OpKind = "Negate"

	OpEq  OpKind = "Eq"
	OpGt  OpKind = "Gt"
	OpLt  OpKind = "Lt"
	OpAnd OpKind = "And"
	OpOr  OpKind = "Or"
	OpNot OpKind = "Not"

	OpStore OpKind = "Store"
	OpLoad  OpKind = "Load"

	OpIf       OpKind = "If"
	OpWhile    OpKind = "While"
	OpLoop     OpKind = "Loop"
	OpBreak    OpKind = "Break"
	OpContinue OpKind = "Continue"
	OpMatch    OpKind = "Match"
	OpReturn   OpKind = "Return"

	OpDef  OpKind = "Def"
	OpCall OpKind = "Call"

	OpEmit            OpKind = "Emit"
	OpEmitEvent       OpKind = "EmitEvent"
	OpDumpStack       OpKind = "DumpStack"
	OpDumpMemory      OpKind = "DumpMemory"
	OpAssertTop       OpKind = "AssertTop"
	OpAssertMemory    OpKind = "AssertMemory"
	OpAssertEqualStack OpKind = "AssertEqualStack"

	OpGetCaller             OpKind = "GetCaller"
	OpHasRole               OpKind = "HasRole"
	OpRequireRole           OpKind = "RequireRole"
	OpRequireIdentity       OpKind = "RequireIdentity"
	OpVerifySignature       OpKind = "VerifySignature"
	OpGetIdentity           OpKind = "GetIdentity"
	OpRequireValidSignature OpKind = "RequireValidSignature"
	OpAddRole               OpKind = "AddRole"

	OpStoreP        OpKind = "StoreP"
	OpLoadP         OpKind = "LoadP"
	OpDeleteP       OpKind = "DeleteP"
	OpKeyExistsP    OpKind = "KeyExistsP"
	OpListKeys      OpKind = "ListKeys"
	OpLoadVersionP  OpKind = "LoadVersionP"
	OpListVersionsP OpKind = "ListVersionsP"
	OpDiffVersionsP OpKind = "DiffVersionsP"
	OpBeginTx       OpKind = "BeginTx"
	OpCommitTx      OpKind = "CommitTx"
	OpRollbackTx    OpKind = "RollbackTx"

	OpCreateResource OpKind = "CreateResource"
	OpMint           OpKind = "Mint"
	OpTransfer       OpKind = "Transfer"
	OpBurn           OpKind = "Burn"
	OpBalance        OpKind = "Balance"

	OpRankedVote      OpKind = "RankedVote"
	OpLiquidDelegate  OpKind = "LiquidDelegate"
	OpVoteThreshold   OpKind = "VoteThreshold"
	OpQuorumThreshold OpKind = "QuorumThreshold"

	// OpQuadraticCost is additive to the named ~60 opcodes, per the
	// supplemented quadratic-vote-cost feature.
	OpQuadraticCost OpKind = "QuadraticCost"
)

// MatchCase is one arm of a Match operation.
type MatchCase struct {
	Literal Value
	Ops     []Operation
}

// Operation is the algebraic sum type described in §3/§4.4. Only the fields
// relevant to Kind are populated; this mirrors a tagged enum using a single
// Go struct rather than an interface, so the tree walker and bytecode
// compiler can pattern-match on Kind directly.
type Operation struct {
	Kind OpKind

	PushValue Value

	VarName string // Store, Load

	Condition    []Operation // If.condition, While.condition
	Then         []Operation // If.then
	ElseOps      []Operation // If.else
	Body         []Operation // While.body, Loop.body
	LoopCount    *float64    // Loop literal count, nil means "pop from stack"
	MatchValue   []Operation
	MatchCases   []MatchCase
	MatchDefault []Operation

	FuncName string // Def.name, Call.name
	Params   []string
	FuncBody []Operation // Def.body

	EmitCategory   string
	EmitMessage    string
	AssertExpected Value
	AssertName     string  // AssertMemory.name
	AssertStack    []Value // AssertEqualStack.expected

	IdentityNamespace string // HasRole/RequireRole.namespace
	IdentityRole      string // HasRole/RequireRole.role
	IdentityID        string // RequireIdentity.id
	SigScheme         string // VerifySignature/RequireValidSignature.scheme

	StorageNS  string
	StorageKey string

	EcoUserID string  // CreateResource/Mint/Transfer/Burn/Balance.user_id
	EcoTo     string  // Transfer.to
	EcoQuota  int64   // CreateResource.quota_bytes

	GovCandidates int     // RankedVote.C
	GovBallots    int     // RankedVote.B
	GovFrom       string  // LiquidDelegate.from
	GovTo         string  // LiquidDelegate.to
	GovThreshold  float64 // VoteThreshold/QuorumThreshold.t
}

// --- JSON round-trip -------------------------------------------------------
//
// Normative form: `{"<Kind>": <payload>}`, e.g. `{"Push": 5.0}` or
// `{"If": {"condition":[...], "then":[...], "else":null}}`.

func (op Operation) MarshalJSON() ([]byte, error) {
	payload, err := op.payload()
	if err != nil {
		return nil, err
	}
	return json.Marshal(map[string]interface{}{string(op.Kind): payload})
}

func (op Operation) payload() (interface{}, error) {
	switch op.Kind {
	case OpPush:
		return op.PushValue, nil
	case OpPop, OpDup, OpSwap, OpOver,
		OpAdd, OpSub, OpMul, OpDiv, OpMod, OpNegate,
		OpEq, OpGt, OpLt, OpAnd, OpOr, OpNot,
		OpBreak, OpContinue, OpReturn,
		OpGetCaller, OpGetIdentity,
		OpBeginTx, OpCommitTx, OpRollbackTx,
		OpDumpStack, OpDumpMemory:
		return nil, nil
	case OpStore, OpLoad:
		return struct {
			Name string `json:"name"`
		}{op.VarName}, nil
	case OpIf:
		return struct {
			Condition []Operation `json:"condition"`
			Then      []Operation `json:"then"`
			Else      []Operation `json:"else"`
		}{op.Condition, op.Then, op.ElseOps}, nil
	case OpWhile:
		return struct {
			Condition []Operation `json:"condition"`
			Body      []Operation `json:"body"`
		}{op.Condition, op.Body}, nil
	case OpLoop:
		return struct {
			Count *float64    `json:"count"`
			Body  []Operation `json:"body"`
		}{op.LoopCount, op.Body}, nil
	case OpMatch:
		return struct {
			Value   []Operation `json:"value"`
			Cases   []MatchCase `json:"cases"`
			Default []Operation `json:"default"`
		}{op.MatchValue, op.MatchCases, op.MatchDefault}, nil
	case OpDef:
		return struct {
			Name   string      `json:"name"`
			Params []string    `json:"params"`
			Body   []Operation `json:"body"`
		}{op.FuncName, op.Params, op.FuncBody}, nil
	case OpCall:
		return struct {
			Name string `json:"name"`
		}{op.FuncName}, nil
	case OpEmit:
		return struct {
			Message string `json:"message"`
		}{op.EmitMessage}, nil
	case OpEmitEvent:
		return struct {
			Category string `json:"category"`
			Message  string `json:"message"`
		}{op.EmitCategory, op.EmitMessage}, nil
	case OpAssertTop:
		return struct {
			Expected Value `json:"expected"`
		}{op.AssertExpected}, nil
	case OpAssertMemory:
		return struct {
			Name     string `json:"name"`
			Expected Value  `json:"expected"`
		}{op.AssertName, op.AssertExpected}, nil
	case OpAssertEqualStack:
		return struct {
			Expected []Value `json:"expected"`
		}{op.AssertStack}, nil
	case OpHasRole, OpRequireRole:
		return struct {
			Namespace string `json:"namespace"`
			Role      string `json:"role"`
		}{op.IdentityNamespace, op.IdentityRole}, nil
	case OpRequireIdentity:
		return struct {
			ID string `json:"id"`
		}{op.IdentityID}, nil
	case OpVerifySignature, OpRequireValidSignature:
		return struct {
			Scheme string `json:"scheme"`
		}{op.SigScheme}, nil
	case OpAddRole:
		return struct {
			Namespace string `json:"namespace"`
			Role      string `json:"role"`
		}{op.IdentityNamespace, op.IdentityRole}, nil
	case OpStoreP, OpLoadP, OpDeleteP, OpKeyExistsP, OpListVersionsP:
		return struct {
			Ns  string `json:"ns"`
			Key string `json:"key"`
		}{op.StorageNS, op.StorageKey}, nil
	case OpListKeys:
		return struct {
			Ns     string `json:"ns"`
			Prefix string `json:"prefix"`
		}{op.StorageNS, op.StorageKey}, nil
	case OpLoadVersionP, OpDiffVersionsP:
		return struct {
			Ns  string `json:"ns"`
			Key string `json:"key"`
		}{op.StorageNS, op.StorageKey}, nil
	case OpCreateResource:
		return struct {
			UserID     string `json:"user_id"`
			QuotaBytes int64  `json:"quota_bytes"`
		}{op.EcoUserID, op.EcoQuota}, nil
	case OpMint, OpBurn, OpBalance:
		return struct {
			UserID string `json:"user_id"`
		}{op.EcoUserID}, nil
	case OpTransfer:
		return struct {
			From string `json:"from"`
			To   string `json:"to"`
		}{op.EcoUserID, op.EcoTo}, nil
	case OpRankedVote:
		return struct {
			Candidates int `json:"candidates"`
			Ballots    int `json:"ballots"`
		}{op.GovCandidates, op.GovBallots}, nil
	case OpLiquidDelegate:
		return struct {
			From string `json:"from"`
			To   string `json:"to"`
		}{op.GovFrom, op.GovTo}, nil
	case OpVoteThreshold, OpQuorumThreshold:
		return struct {
			Threshold float64 `json:"threshold"`
		}{op.GovThreshold}, nil
	case OpQuadraticCost:
		return nil, nil
	default:
		return nil, fmt.Errorf("operations: unknown kind %q", op.Kind)
	}
}

func (op *Operation) UnmarshalJSON(b []byte) error {
	var wrapper map[string]json.RawMessage
	if err := json.Unmarshal(b, &wrapper); err != nil {
		return err
	}
	if len(wrapper) != 1 {
		return fmt.Errorf("operations: expected exactly one tag, got %d", len(wrapper))
	}
	for k, raw := range wrapper {
		op.Kind = OpKind(k)
		return op.unmarshalPayload(raw)
	}
	return nil
}

func (op *Operation) unmarshalPayload(raw json.RawMessage) error {
	switch op.Kind {
	case OpPush:
		return json.Unmarshal(raw, &op.PushValue)
	case OpPop, OpDup, OpSwap, OpOver,
		OpAdd, OpSub, OpMul, OpDiv, OpMod, OpNegate,
		OpEq, OpGt, OpLt, OpAnd, OpOr, OpNot,
		OpBreak, OpContinue, OpReturn,
		OpGetCaller, OpGetIdentity,
		OpBeginTx, OpCommitTx, OpRollbackTx,
		OpDumpStack, OpDumpMemory:
		return nil
	case OpStore, OpLoad:
		var v struct {
			Name string `json:"name"`
		}
		if err := json.Unmarshal(raw, &v); err != nil {
			return err
		}
		op.VarName = v.Name
		return nil
	case OpIf:
		var v struct {
			Condition []Operation `json:"condition"`
			Then      []Operation `json:"then"`
			Else      []Operation `json:"else"`
		}
		if err := json.Unmarshal(raw, &v); err != nil {
			return err
		}
		op.Condition, op.Then, op.ElseOps = v.Condition, v.Then, v.Else
		return nil
	case OpWhile:
		var v struct {
			Condition []Operation `json:"condition"`
			Body      []Operation `json:"body"`
		}
		if err := json.Unmarshal(raw, &v); err != nil {
			return err
		}
		op.Condition, op.Body = v.Condition, v.Body
		return nil
	case OpLoop:
		var v struct {
			Count *float64    `json:"count"`
			Body  []Operation `json:"body"`
		}
		if err := json.Unmarshal(raw, &v); err != nil {
			return err
		}
		op.LoopCount, op.Body = v.Count, v.Body
		return nil
	case OpMatch:
		var v struct {
			Value   []Operation `json:"value"`
			Cases   []MatchCase `json:"cases"`
			Default []Operation `json:"default"`
		}
		if err := json.Unmarshal(raw, &v); err != nil {
			return err
		}
		op.MatchValue, op.MatchCases, op.MatchDefault = v.Value, v.Cases, v.Default
		return nil
	case OpDef:
		var v struct {
			Name   string      `json:"name"`
			Params []string    `json:"params"`
			Body   []Operation `json:"body"`
		}
		if err := json.Unmarshal(raw, &v); err != nil {
			return err
		}
		op.FuncName, op.Params, op.FuncBody = v.Name, v.Params, v.Body
		return nil
	case OpCall:
		var v struct {
			Name string `json:"name"`
		}
		if err := json.Unmarshal(raw, &v); err != nil {
			return err
		}
		op.FuncName = v.Name
		return nil
	case OpEmit:
		var v struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(raw, &v); err != nil {
			return err
		}
		op.EmitMessage = v.Message
		return nil
	case OpEmitEvent:
		var v struct {
			Category string `json:"category"`
			Message  string `json:"message"`
		}
		if err := json.Unmarshal(raw, &v); err != nil {
			return err
		}
		op.EmitCategory, op.EmitMessage = v.Category, v.Message
		return nil
	case OpAssertTop:
		var v struct {
			Expected Value `json:"expected"`
		}
		if err := json.Unmarshal(raw, &v); err != nil {
			return err
		}
		op.AssertExpected = v.Expected
		return nil
	case OpAssertMemory:
		var v struct {
			Name     string `json:"name"`
			Expected Value  `json:"expected"`
		}
		if err := json.Unmarshal(raw, &v); err != nil {
			return err
		}
		op.AssertName, op.AssertExpected = v.Name, v.Expected
		return nil
	case OpAssertEqualStack:
		var v struct {
			Expected []Value `json:"expected"`
		}
		if err := json.Unmarshal(raw, &v); err != nil {
			return err
		}
		op.AssertStack = v.Expected
		return nil
	case OpHasRole, OpRequireRole, OpAddRole:
		var v struct {
			Namespace string `json:"namespace"`
			Role      string `json:"role"`
		}
		if err := json.Unmarshal(raw, &v); err != nil {
			return err
		}
		op.IdentityNamespace, op.IdentityRole = v.Namespace, v.Role
		return nil
	case OpRequireIdentity:
		var v struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(raw, &v); err != nil {
			return err
		}
		op.IdentityID = v.ID
		return nil
	case OpVerifySignature, OpRequireValidSignature:
		var v struct {
			Scheme string `json:"scheme"`
		}
		if err := json.Unmarshal(raw, &v); err != nil {
			return err
		}
		op.SigScheme = v.Scheme
		return nil
	case OpStoreP, OpLoadP, OpDeleteP, OpKeyExistsP, OpListVersionsP, OpLoadVersionP, OpDiffVersionsP:
		var v struct {
			Ns  string `json:"ns"`
			Key string `json:"key"`
		}
		if err := json.Unmarshal(raw, &v); err != nil {
			return err
		}
		op.StorageNS, op.StorageKey = v.Ns, v.Key
		return nil
	case OpListKeys:
		var v struct {
			Ns     string `json:"ns"`
			Prefix string `json:"prefix"`
		}
		if err := json.Unmarshal(raw, &v); err != nil {
			return err
		}
		op.StorageNS, op.StorageKey = v.Ns, v.Prefix
		return nil
	case OpCreateResource:
		var v struct {
			UserID     string `json:"user_id"`
			QuotaBytes int64  `json:"quota_bytes"`
		}
		if err := json.Unmarshal(raw, &v); err != nil {
			return err
		}
		op.EcoUserID, op.EcoQuota = v.UserID, v.QuotaBytes
		return nil
	case OpMint, OpBurn, OpBalance:
		var v struct {
			UserID string `json:"user_id"`
		}
		if err := json.Unmarshal(raw, &v); err != nil {
			return err
		}
		op.EcoUserID = v.UserID
		return nil
	case OpTransfer:
		var v struct {
			From string `json:"from"`
			To   string `json:"to"`
		}
		if err := json.Unmarshal(raw, &v); err != nil {
			return err
		}
		op.EcoUserID, op.EcoTo = v.From, v.To
		return nil
	case OpRankedVote:
		var v struct {
			Candidates int `json:"candidates"`
			Ballots    int `json:"ballots"`
		}
		if err := json.Unmarshal(raw, &v); err != nil {
			return err
		}
		op.GovCandidates, op.GovBallots = v.Candidates, v.Ballots
		return nil
	case OpLiquidDelegate:
		var v struct {
			From string `json:"from"`
			To   string `json:"to"`
		}
		if err := json.Unmarshal(raw, &v); err != nil {
			return err
		}
		op.GovFrom, op.GovTo = v.From, v.To
		return nil
	case OpVoteThreshold, OpQuorumThreshold:
		var v struct {
			Threshold float64 `json:"threshold"`
		}
		if err := json.Unmarshal(raw, &v); err != nil {
			return err
		}
		op.GovThreshold = v.Threshold
		return nil
	case OpQuadraticCost:
		return nil
	default:
		return fmt.Errorf("operations: unknown kind %q", op.Kind)
	}
}
