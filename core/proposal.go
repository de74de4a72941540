package core

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ProposalState is one step of the governance lifecycle described in §9:
// Draft -> OpenForFeedback -> Active -> Voting -> {Executed|Rejected|Expired}.
type ProposalState string

const (
	ProposalDraft            ProposalState = "Draft"
	ProposalOpenForFeedback  ProposalState = "OpenForFeedback"
	ProposalActive           ProposalState = "Active"
	ProposalVoting           ProposalState = "Voting"
	ProposalExecuted         ProposalState = "Executed"
	ProposalRejected         ProposalState = "Rejected"
	ProposalExpired          ProposalState = "Expired"
)

// ProposalModel selects how ballots are weighted when tallied.
type ProposalModel string

const (
	ModelOneMemberOneVote ProposalModel = "OneMemberOneVote"
	ModelOneCoopOneVote   ProposalModel = "OneCoopOneVote"
)

// ScopeKind names which of SingleCoop/MultiCoop/GlobalFederation a
// ProposalScope carries.
type ScopeKind string

const (
	ScopeSingleCoop       ScopeKind = "SingleCoop"
	ScopeMultiCoop        ScopeKind = "MultiCoop"
	ScopeGlobalFederation ScopeKind = "GlobalFederation"
)

// ProposalScope is the sum SingleCoop(id) | MultiCoop(ids) | GlobalFederation.
type ProposalScope struct {
	Kind    ScopeKind `json:"kind"`
	CoopIDs []string  `json:"coop_ids,omitempty"`
}

// ProposalTransition is one recorded lifecycle step, forced or natural.
type ProposalTransition struct {
	From   ProposalState `json:"from"`
	To     ProposalState `json:"to"`
	At     time.Time     `json:"at"`
	By     string        `json:"by"`
	Forced bool          `json:"forced,omitempty"`
}

// FederatedProposal is the governance record voted over. StakeRequirement
// and Description are supplemental fields beyond the minimal record: a
// minimum token stake required to submit the proposal, and a free-text
// description, both drawn from a richer DAO proposal envelope.
type FederatedProposal struct {
	ID               string        `json:"id"`
	Namespace        string        `json:"namespace"`
	Options          []string      `json:"options"`
	CreatorID        string        `json:"creator_id"`
	CreatedAt        time.Time     `json:"created_at"`
	Scope            ProposalScope `json:"scope"`
	Model            ProposalModel `json:"model"`
	ExpiresAt        *time.Time    `json:"expires_at,omitempty"`
	StakeRequirement float64       `json:"stake_requirement"`
	Description      string        `json:"description"`

	State                ProposalState        `json:"state"`
	OpenedForFeedbackAt  *time.Time           `json:"opened_for_feedback_at,omitempty"`
	ActiveAt             *time.Time           `json:"active_at,omitempty"`
	VotingOpenedAt       *time.Time           `json:"voting_opened_at,omitempty"`
	History              []ProposalTransition `json:"history"`
}

// FederatedVote is one ballot cast against a FederatedProposal: ranked
// choices are indices into Options, most-preferred first. Message is the
// canonical bytes the voter signed; Signature is verified via
// VerifySignature before the vote is accepted.
type FederatedVote struct {
	ProposalID    string `json:"proposal_id"`
	VoterID       string `json:"voter_id"`
	RankedChoices []int  `json:"ranked_choices"`
	Message       []byte `json:"message"`
	Signature     []byte `json:"signature"`
}

const (
	proposalsNamespace = "governance/proposals"
	votesNamespace     = "governance/votes"
)

// CreateProposal persists a new Draft proposal and returns it. Requires the
// caller to hold "writer" in the governance/proposals namespace (or "admin"
// in DefaultNamespace), enforced by Storage.Set's own authorization check;
// no role in ns itself is checked.
func CreateProposal(vm *VM, ns string, options []string, scope ProposalScope, model ProposalModel, expiresAt *time.Time, stakeRequirement float64, description string) (*FederatedProposal, *VMError) {
	if len(options) < 2 {
		return nil, errTypeMismatch("at least two options", "fewer", "CreateProposal")
	}
	p := &FederatedProposal{
		ID:               uuid.NewString(),
		Namespace:        ns,
		Options:          options,
		CreatorID:        vm.Auth.CallerID(),
		CreatedAt:        time.Now().UTC(),
		Scope:            scope,
		Model:            model,
		ExpiresAt:        expiresAt,
		StakeRequirement: stakeRequirement,
		Description:      description,
		State:            ProposalDraft,
	}
	if err := saveProposal(vm, p); err != nil {
		return nil, err
	}
	vm.emit(EventCategoryGovernance, "proposal created", map[string]interface{}{"proposal_id": p.ID, "namespace": ns})
	return p, nil
}

func proposalKey(id string) string { return id }

func saveProposal(vm *VM, p *FederatedProposal) *VMError {
	if vm.Storage == nil {
		return errIoError("no storage backend attached")
	}
	data, jerr := json.Marshal(p)
	if jerr != nil {
		return errSerializationError("FederatedProposal")
	}
	return vm.Storage.Set(vm.Auth, proposalsNamespace, proposalKey(p.ID), data)
}

// LoadProposal fetches a proposal by id.
func LoadProposal(vm *VM, id string) (*FederatedProposal, *VMError) {
	if vm.Storage == nil {
		return nil, errIoError("no storage backend attached")
	}
	data, err := vm.Storage.Get(vm.Auth, proposalsNamespace, proposalKey(id))
	if err != nil {
		return nil, err
	}
	var p FederatedProposal
	if jerr := json.Unmarshal(data, &p); jerr != nil {
		return nil, errSerializationError("FederatedProposal")
	}
	return &p, nil
}

func transition(vm *VM, p *FederatedProposal, to ProposalState, forced bool) {
	p.History = append(p.History, ProposalTransition{
		From: p.State, To: to, At: time.Now().UTC(), By: vm.Auth.CallerID(), Forced: forced,
	})
	p.State = to
}

// PublishProposal moves Draft -> OpenForFeedback. Requires "writer" in the
// proposal's namespace.
func PublishProposal(vm *VM, id string) *VMError {
	p, err := LoadProposal(vm, id)
	if err != nil {
		return err
	}
	if p.State != ProposalDraft {
		return errAssertionFailed(ProposalDraft, p.State)
	}
	if verr := vm.Auth.RequireRole(p.Namespace, roleWriter); verr != nil {
		return verr
	}
	now := time.Now().UTC()
	p.OpenedForFeedbackAt = &now
	transition(vm, p, ProposalOpenForFeedback, false)
	return saveProposal(vm, p)
}

// ActivateProposal moves OpenForFeedback -> Active once minDeliberation has
// elapsed since publication.
func ActivateProposal(vm *VM, id string, minDeliberation time.Duration) *VMError {
	p, err := LoadProposal(vm, id)
	if err != nil {
		return err
	}
	if p.State != ProposalOpenForFeedback {
		return errAssertionFailed(ProposalOpenForFeedback, p.State)
	}
	if p.OpenedForFeedbackAt == nil || time.Since(*p.OpenedForFeedbackAt) < minDeliberation {
		return errAssertionFailed("minimum deliberation elapsed", "not yet elapsed")
	}
	now := time.Now().UTC()
	p.ActiveAt = &now
	transition(vm, p, ProposalActive, false)
	return saveProposal(vm, p)
}

// OpenVoting moves Active -> Voting once the proposal is inside its voting
// window [windowStart, windowEnd).
func OpenVoting(vm *VM, id string, windowStart, windowEnd time.Time) *VMError {
	p, err := LoadProposal(vm, id)
	if err != nil {
		return err
	}
	if p.State != ProposalActive {
		return errAssertionFailed(ProposalActive, p.State)
	}
	now := time.Now().UTC()
	if now.Before(windowStart) || !now.Before(windowEnd) {
		return errAssertionFailed("inside voting window", "outside voting window")
	}
	p.VotingOpenedAt = &now
	transition(vm, p, ProposalVoting, false)
	return saveProposal(vm, p)
}

func votesKey(proposalID, voterID string) string { return proposalID + "/" + voterID }

// CastVote records a ballot, rejecting a second vote from the same voter on
// the same proposal and rejecting a signature that fails verification.
func CastVote(vm *VM, vote FederatedVote, pubKey []byte, scheme string) *VMError {
	p, err := LoadProposal(vm, vote.ProposalID)
	if err != nil {
		return err
	}
	if p.State != ProposalVoting {
		return errAssertionFailed(ProposalVoting, p.State)
	}
	if vm.Storage.Contains(vm.Auth, votesNamespace, votesKey(vote.ProposalID, vote.VoterID)) {
		return errAssertionFailed("one vote per voter", "duplicate vote")
	}
	ok, verr := VerifySignature(pubKey, vote.Message, vote.Signature, scheme)
	if verr != nil {
		return verr
	}
	if !ok {
		return withCaller(errPermissionDenied("valid-signature", vote.VoterID), vote.VoterID)
	}
	data, jerr := json.Marshal(vote)
	if jerr != nil {
		return errSerializationError("FederatedVote")
	}
	if serr := vm.Storage.Set(vm.Auth, votesNamespace, votesKey(vote.ProposalID, vote.VoterID), data); serr != nil {
		return serr
	}
	vm.emit(EventCategoryGovernance, "vote cast", map[string]interface{}{"proposal_id": vote.ProposalID, "voter_id": vote.VoterID})
	return nil
}

// Votes returns every recorded vote for a proposal.
func Votes(vm *VM, proposalID string) ([]FederatedVote, *VMError) {
	keys, err := vm.Storage.ListKeys(vm.Auth, votesNamespace, proposalID+"/")
	if err != nil {
		return nil, err
	}
	out := make([]FederatedVote, 0, len(keys))
	for _, k := range keys {
		data, gerr := vm.Storage.Get(vm.Auth, votesNamespace, k)
		if gerr != nil {
			return nil, gerr
		}
		var v FederatedVote
		if jerr := json.Unmarshal(data, &v); jerr != nil {
			return nil, errSerializationError("FederatedVote")
		}
		out = append(out, v)
	}
	return out, nil
}

// Finalize moves Voting to Expired (the proposal's ExpiresAt has passed and
// no vote was recorded), Rejected (participation/eligibleVoters is below
// quorum, or eligibleVoters is 0), or otherwise Executed. An Executed
// proposal's votes are tallied by instant-runoff and the winning option is
// reported only in the "proposal tallied" event; the tally does not affect
// which state is chosen.
func Finalize(vm *VM, id string, quorum float64, eligibleVoters int) (ProposalState, *VMError) {
	p, err := LoadProposal(vm, id)
	if err != nil {
		return "", err
	}
	if p.State != ProposalVoting {
		return "", errAssertionFailed(ProposalVoting, p.State)
	}
	votes, verr := Votes(vm, id)
	if verr != nil {
		return "", verr
	}
	if p.ExpiresAt != nil && time.Now().UTC().After(*p.ExpiresAt) && len(votes) == 0 {
		transition(vm, p, ProposalExpired, false)
		return ProposalExpired, saveProposal(vm, p)
	}
	participation := float64(len(votes))
	total := float64(eligibleVoters)
	if total == 0 || participation/total < quorum {
		transition(vm, p, ProposalRejected, false)
		return ProposalRejected, saveProposal(vm, p)
	}
	ballots := make([][]int, len(votes))
	for i, v := range votes {
		ballots[i] = v.RankedChoices
	}
	winner := runoffTally(len(p.Options), ballots)
	_ = winner // the winning option index is recorded via the governance event below
	vm.emit(EventCategoryGovernance, "proposal tallied", map[string]interface{}{"proposal_id": id, "winner": winner, "participation": participation, "total": total})
	transition(vm, p, ProposalExecuted, false)
	return ProposalExecuted, saveProposal(vm, p)
}

// ForceTransition moves a proposal directly to any state, bypassing the
// normal preconditions. Requires "admin" in DefaultNamespace and is always
// recorded with Forced: true.
func ForceTransition(vm *VM, id string, to ProposalState) *VMError {
	if verr := vm.Auth.RequireRole(DefaultNamespace, roleAdmin); verr != nil {
		return verr
	}
	p, err := LoadProposal(vm, id)
	if err != nil {
		return err
	}
	transition(vm, p, to, true)
	return saveProposal(vm, p)
}
