package core

import "testing"

func TestRunoffTallyMajorityFirstRound(t *testing.T) {
	ballots := [][]int{{0}, {0}, {1}}
	winner := runoffTally(2, ballots)
	if winner != 0 {
		t.Fatalf("expected candidate 0 to win outright, got %d", winner)
	}
}

func TestRunoffTallyEliminationCascade(t *testing.T) {
	// 3 candidates, candidate 2 has fewest first choices and is eliminated;
	// its ballots' second choices decide the runoff.
	ballots := [][]int{
		{0}, {0},
		{1}, {1},
		{2, 0},
	}
	winner := runoffTally(3, ballots)
	if winner != 0 {
		t.Fatalf("expected candidate 0 to win after elimination, got %d", winner)
	}
}

func TestRunoffTallyDegenerateBallotsNoPanic(t *testing.T) {
	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("runoffTally must not panic on exhausted ballots: %v", r)
		}
	}()
	winner := runoffTally(3, [][]int{{}, {}, {}})
	if winner < 0 || winner >= 3 {
		t.Fatalf("winner out of range: %d", winner)
	}
}

func TestExecRankedVoteFirstChoicePushedLast(t *testing.T) {
	// One ballot, 2 candidates, preference order [0, 1] (0 first): per the
	// "first choice pushed last" convention, push 1 then 0.
	ops := []Operation{
		{Kind: OpPush, PushValue: NumberValue(1)},
		{Kind: OpPush, PushValue: NumberValue(0)},
		{Kind: OpRankedVote, GovCandidates: 2, GovBallots: 1},
	}
	res := mustRunTree(t, ops)
	if res.Stack[0].Num != 0 {
		t.Fatalf("expected candidate 0 (first choice) to win a single-ballot vote, got %+v", res.Stack[0])
	}
}

func TestExecRankedVoteRejectsFewerThanTwoCandidates(t *testing.T) {
	ops := []Operation{
		{Kind: OpPush, PushValue: NumberValue(0)},
		{Kind: OpRankedVote, GovCandidates: 1, GovBallots: 1},
	}
	_, err := RunTree(auth("alice", "admin"), NewMemoryStorage(nil), nil, ops)
	if err == nil || err.Kind != KindTypeMismatch {
		t.Fatalf("expected TypeMismatch for a single-candidate vote, got %v", err)
	}
}

func TestExecRankedVoteRejectsZeroBallots(t *testing.T) {
	ops := []Operation{
		{Kind: OpRankedVote, GovCandidates: 2, GovBallots: 0},
	}
	_, err := RunTree(auth("alice", "admin"), NewMemoryStorage(nil), nil, ops)
	if err == nil || err.Kind != KindTypeMismatch {
		t.Fatalf("expected TypeMismatch for a zero-ballot vote, got %v", err)
	}
}

func TestDelegationWeightAndEffectiveVoter(t *testing.T) {
	g := NewDelegationGraph()
	if err := g.Delegate("bob", "alice"); err != nil {
		t.Fatalf("delegate failed: %v", err)
	}
	if err := g.Delegate("carol", "alice"); err != nil {
		t.Fatalf("delegate failed: %v", err)
	}
	if w := g.Weight("alice"); w != 3 {
		t.Fatalf("expected alice weight 3 (self + bob + carol), got %v", w)
	}
	if g.EffectiveVoter("bob") != "alice" {
		t.Fatalf("expected bob's vote to resolve to alice")
	}
}

func TestDelegationRejectsSelfAndCycle(t *testing.T) {
	g := NewDelegationGraph()
	if err := g.Delegate("alice", "alice"); err == nil || err.Kind != KindDelegationCycle {
		t.Fatalf("expected DelegationCycle for self-delegation, got %v", err)
	}
	if err := g.Delegate("alice", "bob"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := g.Delegate("bob", "alice"); err == nil || err.Kind != KindDelegationCycle {
		t.Fatalf("expected DelegationCycle closing alice->bob->alice, got %v", err)
	}
}

func TestDelegationRevokeViaEmptyTo(t *testing.T) {
	g := NewDelegationGraph()
	if err := g.Delegate("bob", "alice"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := g.Delegate("bob", ""); err != nil {
		t.Fatalf("unexpected error revoking: %v", err)
	}
	if g.EffectiveVoter("bob") != "bob" {
		t.Fatalf("expected bob to vote for itself after revocation")
	}
}

func TestVoteThresholdSinglePop(t *testing.T) {
	ops := []Operation{
		{Kind: OpPush, PushValue: NumberValue(6)},
		{Kind: OpVoteThreshold, GovThreshold: 5},
	}
	res := mustRunTree(t, ops)
	if res.Stack[0].Num != 0.0 {
		t.Fatalf("expected truthy (0.0) when support >= threshold, got %+v", res.Stack[0])
	}

	ops = []Operation{
		{Kind: OpPush, PushValue: NumberValue(4)},
		{Kind: OpVoteThreshold, GovThreshold: 5},
	}
	res = mustRunTree(t, ops)
	if res.Stack[0].Num != 1.0 {
		t.Fatalf("expected falsey (1.0) when support < threshold, got %+v", res.Stack[0])
	}
}

func TestQuorumThresholdPopsTwoInRatio(t *testing.T) {
	// pushed total first, then participation (participation popped first
	// since it was pushed last).
	ops := []Operation{
		{Kind: OpPush, PushValue: NumberValue(100)}, // total
		{Kind: OpPush, PushValue: NumberValue(40)},  // participation
		{Kind: OpQuorumThreshold, GovThreshold: 0.3},
	}
	res := mustRunTree(t, ops)
	if res.Stack[0].Num != 0.0 {
		t.Fatalf("expected truthy (0.0): 40/100=0.4 >= 0.3, got %+v", res.Stack[0])
	}

	ops = []Operation{
		{Kind: OpPush, PushValue: NumberValue(100)},
		{Kind: OpPush, PushValue: NumberValue(10)},
		{Kind: OpQuorumThreshold, GovThreshold: 0.3},
	}
	res = mustRunTree(t, ops)
	if res.Stack[0].Num != 1.0 {
		t.Fatalf("expected falsey (1.0): 10/100=0.1 < 0.3, got %+v", res.Stack[0])
	}
}
