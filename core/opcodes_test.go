package core

import "testing"

func TestArithmeticOrderOfOperands(t *testing.T) {
	ops := []Operation{
		{Kind: OpPush, PushValue: NumberValue(10)},
		{Kind: OpPush, PushValue: NumberValue(3)},
		{Kind: OpSub},
	}
	res := mustRunTree(t, ops)
	if res.Stack[0].Num != 7 {
		t.Fatalf("expected 10-3=7, got %+v", res.Stack[0])
	}
}

func TestComparisonPushesBoolean(t *testing.T) {
	ops := []Operation{
		{Kind: OpPush, PushValue: NumberValue(1)},
		{Kind: OpPush, PushValue: NumberValue(2)},
		{Kind: OpLt},
	}
	res := mustRunTree(t, ops)
	if res.Stack[0].Kind != KindBoolean || !res.Stack[0].Bool {
		t.Fatalf("expected true, got %+v", res.Stack[0])
	}
}

func TestQuadraticCost(t *testing.T) {
	ops := []Operation{
		{Kind: OpPush, PushValue: NumberValue(4)},
		{Kind: OpQuadraticCost},
	}
	res := mustRunTree(t, ops)
	if res.Stack[0].Num != 16 {
		t.Fatalf("expected 4^2=16, got %+v", res.Stack[0])
	}
}

func auth(id string, roles ...string) *AuthContext {
	reg := NewMemRoleRegistry()
	for _, r := range roles {
		_ = reg.GrantRole(id, DefaultNamespace, r)
	}
	return NewAuthContext(Identity{ID: id, Type: "user"}, reg)
}

func TestStorageRoundTripAndVersioning(t *testing.T) {
	a := auth("alice", "admin")
	storage := NewMemoryStorage(nil)
	if err := storage.CreateNamespace(a, "app", 1<<20, ""); err != nil {
		t.Fatalf("create namespace failed: %v", err)
	}
	ops := []Operation{
		{Kind: OpPush, PushValue: NumberValue(1)},
		{Kind: OpStoreP, StorageNS: "app", StorageKey: "k"},
		{Kind: OpPush, PushValue: NumberValue(2)},
		{Kind: OpStoreP, StorageNS: "app", StorageKey: "k"},
		{Kind: OpLoadP, StorageNS: "app", StorageKey: "k"},
		{Kind: OpKeyExistsP, StorageNS: "app", StorageKey: "k"},
	}
	res, err := RunTree(a, storage, nil, ops)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if res.Stack[0].Num != 2 {
		t.Fatalf("expected latest version value 2, got %+v", res.Stack[0])
	}
	if !res.Stack[1].Bool {
		t.Fatalf("expected KeyExistsP true")
	}
	versions, verr := storage.ListVersions(a, "app", "k")
	if verr != nil {
		t.Fatalf("ListVersions failed: %v", verr)
	}
	if len(versions) != 2 {
		t.Fatalf("expected 2 versions, got %d", len(versions))
	}
}

func TestTransactionRollbackLeavesStateUnchanged(t *testing.T) {
	a := auth("alice", "admin")
	storage := NewMemoryStorage(nil)
	if err := storage.CreateNamespace(a, "app", 1<<20, ""); err != nil {
		t.Fatalf("create namespace failed: %v", err)
	}
	ops := []Operation{
		{Kind: OpBeginTx},
		{Kind: OpPush, PushValue: NumberValue(99)},
		{Kind: OpStoreP, StorageNS: "app", StorageKey: "k"},
		{Kind: OpRollbackTx},
		{Kind: OpKeyExistsP, StorageNS: "app", StorageKey: "k"},
	}
	res, err := RunTree(a, storage, nil, ops)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if res.Stack[0].Bool {
		t.Fatalf("key should not exist after rollback")
	}
	if storage.Contains(a, "app", "k") {
		t.Fatalf("storage.Contains should also report false after rollback")
	}
}

func TestRunAutomaticallyRollsBackOpenTxOnError(t *testing.T) {
	a := auth("alice", "admin")
	storage := NewMemoryStorage(nil)
	if err := storage.CreateNamespace(a, "app", 1<<20, ""); err != nil {
		t.Fatalf("create namespace failed: %v", err)
	}
	ops := []Operation{
		{Kind: OpBeginTx},
		{Kind: OpPush, PushValue: NumberValue(100)},
		{Kind: OpStoreP, StorageNS: "app", StorageKey: "a"},
		{Kind: OpPush, PushValue: NumberValue(1)},
		{Kind: OpPush, PushValue: NumberValue(0)},
		{Kind: OpDiv},
	}
	if _, err := RunTree(a, storage, nil, ops); err == nil || err.Kind != KindDivisionByZero {
		t.Fatalf("expected DivisionByZero, got %v", err)
	}
	if storage.Contains(a, "app", "a") {
		t.Fatalf("expected the open transaction's write to be rolled back, but key exists")
	}

	prog, cerr := Compile(ops)
	if cerr != nil {
		t.Fatalf("compile failed: %v", cerr)
	}
	if _, err := RunProgram(a, storage, nil, prog); err == nil || err.Kind != KindDivisionByZero {
		t.Fatalf("expected DivisionByZero, got %v", err)
	}
	if storage.Contains(a, "app", "a") {
		t.Fatalf("expected the bytecode engine to also roll back the open transaction on error")
	}
}

func TestEconomicMintTransferBurn(t *testing.T) {
	a := auth("alice", "admin")
	storage := NewMemoryStorage(nil)
	ops := []Operation{
		{Kind: OpCreateResource, EcoUserID: "alice", EcoQuota: 1 << 20},
		{Kind: OpCreateResource, EcoUserID: "bob", EcoQuota: 1 << 20},
		{Kind: OpPush, PushValue: NumberValue(100)},
		{Kind: OpMint, EcoUserID: "alice"},
		{Kind: OpPush, PushValue: NumberValue(40)},
		{Kind: OpTransfer, EcoUserID: "alice", EcoTo: "bob"},
		{Kind: OpPush, PushValue: NumberValue(10)},
		{Kind: OpBurn, EcoUserID: "alice"},
		{Kind: OpBalance, EcoUserID: "alice"},
		{Kind: OpBalance, EcoUserID: "bob"},
	}
	res, err := RunTree(a, storage, nil, ops)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if res.Stack[0].Num != 50 {
		t.Fatalf("expected alice balance 50, got %+v", res.Stack[0])
	}
	if res.Stack[1].Num != 40 {
		t.Fatalf("expected bob balance 40, got %+v", res.Stack[1])
	}
}

func TestTransferInsufficientBalanceFails(t *testing.T) {
	a := auth("alice", "admin")
	storage := NewMemoryStorage(nil)
	ops := []Operation{
		{Kind: OpCreateResource, EcoUserID: "alice", EcoQuota: 1 << 20},
		{Kind: OpPush, PushValue: NumberValue(10)},
		{Kind: OpTransfer, EcoUserID: "alice", EcoTo: "bob"},
	}
	_, err := RunTree(a, storage, nil, ops)
	if err == nil || err.Kind != KindAssertionFailed {
		t.Fatalf("expected AssertionFailed on overdraft, got %v", err)
	}
}

func TestRequireRolePermissionDenied(t *testing.T) {
	a := auth("mallory") // no roles
	ops := []Operation{{Kind: OpRequireRole, IdentityNamespace: "app", IdentityRole: "writer"}}
	_, err := RunTree(a, NewMemoryStorage(nil), nil, ops)
	if err == nil || err.Kind != KindPermissionDenied {
		t.Fatalf("expected PermissionDenied, got %v", err)
	}
}

func TestRequireRoleSatisfiedByDelegationChain(t *testing.T) {
	a := auth("bob") // no direct roles
	a.DelegationChain = []string{"alice"}
	reg := a.Roles.(*MemRoleRegistry)
	_ = reg.GrantRole("alice", "app", "writer")
	ops := []Operation{{Kind: OpRequireRole, IdentityNamespace: "app", IdentityRole: "writer"}}
	if _, err := RunTree(a, NewMemoryStorage(nil), nil, ops); err != nil {
		t.Fatalf("expected delegated role to satisfy RequireRole, got %v", err)
	}
}
