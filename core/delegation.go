package core

import "github.com/ethereum/go-ethereum/crypto"

// delegationEdgeHash returns a Keccak-256 audit hash for a delegation edge,
// recorded on every LiquidDelegate governance event so an external auditor
// can correlate edges without replaying the whole delegation graph.
func delegationEdgeHash(from, to string) string {
	return crypto.Keccak256Hash([]byte(from + "->" + to)).Hex()
}

// DelegationGraph tracks liquid-democracy delegation edges: one delegator
// may point at one delegate at a time. A vote cast by a delegate counts for
// itself plus the transitive weight of everyone who has delegated to it,
// directly or through a chain.
type DelegationGraph struct {
	// edges maps delegator -> delegate. Absence means "votes for itself".
	edges map[string]string
}

// NewDelegationGraph returns an empty graph.
func NewDelegationGraph() *DelegationGraph {
	return &DelegationGraph{edges: make(map[string]string)}
}

// Delegate records that from delegates its vote to to. An empty to revokes
// any existing delegation from from. A self-delegation or a delegation that
// would close a cycle is rejected without mutating the graph.
func (g *DelegationGraph) Delegate(from, to string) *VMError {
	if from == "" {
		return errTypeMismatch("identity", "empty", "LiquidDelegate")
	}
	if to == "" {
		delete(g.edges, from)
		return nil
	}
	if from == to {
		return errDelegationCycle(from, to)
	}
	// Walk from `to` following existing edges; if we ever reach `from`,
	// inserting from->to would close a cycle.
	seen := map[string]bool{to: true}
	cur := to
	for {
		next, ok := g.edges[cur]
		if !ok {
			break
		}
		if next == from {
			return errDelegationCycle(from, to)
		}
		if seen[next] {
			break // existing cycle elsewhere in the graph; not our concern here
		}
		seen[next] = true
		cur = next
	}
	g.edges[from] = to
	return nil
}

// Revoke removes any delegation from the given identity.
func (g *DelegationGraph) Revoke(from string) {
	delete(g.edges, from)
}

// delegators returns every identity that points directly at target.
func (g *DelegationGraph) delegators(target string) []string {
	var out []string
	for from, to := range g.edges {
		if to == target {
			out = append(out, from)
		}
	}
	return out
}

// Weight returns the voting weight of id: one for itself plus the weight of
// every identity (directly or transitively) delegating to it. Identities
// that are themselves delegating away (edges[id] set) still have a weight
// computed the same way, since a delegator's own weight is attributed to
// whoever it points to, not consumed by the graph.
func (g *DelegationGraph) Weight(id string) float64 {
	visited := map[string]bool{}
	return g.weight(id, visited)
}

func (g *DelegationGraph) weight(id string, visited map[string]bool) float64 {
	if visited[id] {
		return 0
	}
	visited[id] = true
	total := 1.0
	for _, d := range g.delegators(id) {
		total += g.weight(d, visited)
	}
	return total
}

// EffectiveVoter resolves id to the identity whose ballot its vote actually
// counts toward: following the delegation chain to its end (an identity with
// no outgoing edge).
func (g *DelegationGraph) EffectiveVoter(id string) string {
	seen := map[string]bool{id: true}
	cur := id
	for {
		next, ok := g.edges[cur]
		if !ok || next == "" {
			return cur
		}
		if seen[next] {
			return cur // defensive: graph invariant (acyclic) should prevent this
		}
		seen[next] = true
		cur = next
	}
}
