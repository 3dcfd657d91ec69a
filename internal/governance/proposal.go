// Package governance implements the governance engine of spec §4.8: a
// proposal/ballot state machine with quorum/threshold tallying and a
// ranked-choice instant-runoff tally, backed by an append-only event log
// for audit. Grounded on core/governance.go's GovProposal/EnactChange
// shape and core/quorum_tracker.go's mutex-guarded counter pattern, with
// ranked-choice ballot semantics from
// original_source/crates/icn-governance/src/voting.rs.
package governance

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status is a proposal's position in its lifecycle:
// Draft -> Open -> (Accepted|Rejected|Expired) -> Executed.
type Status int

const (
	Draft Status = iota
	Open
	Accepted
	Rejected
	Expired
	Executed
)

func (s Status) String() string {
	switch s {
	case Draft:
		return "Draft"
	case Open:
		return "Open"
	case Accepted:
		return "Accepted"
	case Rejected:
		return "Rejected"
	case Expired:
		return "Expired"
	case Executed:
		return "Executed"
	default:
		return "Unknown"
	}
}

// Kind distinguishes the governance proposal types of spec §6.
type Kind int

const (
	GenericText Kind = iota
	NewMemberInvitation
	RemoveMember
	ParameterChange
	SoftwareUpgrade
)

var (
	ErrNotFound       = errors.New("governance: proposal not found")
	ErrInvalidState   = errors.New("governance: proposal not in required state for this transition")
	ErrAlreadyExecuted = errors.New("governance: proposal already executed")
)

// Effects carries the payload a ParameterChange or membership proposal
// applies on execution. Exactly one field is meaningful per Kind.
type Effects struct {
	Params        map[string]string
	MemberDID     string
	UpgradeTarget string
}

// Proposal is a single governance proposal and its accumulated ballots.
type Proposal struct {
	ID          string
	Kind        Kind
	Title       string
	Description string
	Proposer    string
	Effects     Effects
	Status      Status
	Created     time.Time
	Deadline    time.Time
	ManaCost    float64

	// Candidates holds ranked-choice options; nil/empty means this is a
	// simple yes/no proposal tallied by counting approving ballots instead.
	Candidates []string

	// Ballots is keyed by voter DID for idempotent cast_vote.
	Ballots map[string]Ballot

	Executed bool
}

// Ballot is one voter's cast, either a yes/no approval (Approve, ranked
// choice unused) or a ranked-choice preference list (Preferences).
type Ballot struct {
	Voter       string
	Approve     bool
	Preferences []string
	Weight      float64
	CastAt      time.Time
	// Delegator is set only on the ballot CastVote derives for a
	// delegator when their delegate votes; it then holds the delegator's
	// DID, the same as Voter. The delegate's own ballot leaves it empty,
	// so a delegated vote counts for both delegator and delegate.
	Delegator string
}

// EventKind tags entries in the append-only audit log.
type EventKind int

const (
	EventSubmitted EventKind = iota
	EventOpened
	EventVoteCast
	EventClosed
	EventExecuted
)

// Event is one append-only audit log entry.
type Event struct {
	Kind       EventKind
	ProposalID string
	At         time.Time
	Detail     string
}

// Policy configures quorum, approval threshold and voting duration for an
// Engine. Delegations are set separately through SetDelegation.
type Policy struct {
	Quorum            float64 // minimum participation fraction of EligibleVoters
	ApprovalThreshold float64 // fraction of cast votes required to accept
	VotingDuration    time.Duration
}

// Engine is the governance state machine. It is safe for concurrent use;
// a single mutex guards proposals and the event log, matching
// core/quorum_tracker.go's coarse-lock style for a low-contention path.
type Engine struct {
	mu        sync.Mutex
	proposals map[string]*Proposal
	events    []Event
	policy    Policy

	// EligibleVoters, when non-nil, restricts cast_vote and sizes quorum;
	// nil means every voter who casts a ballot is implicitly eligible.
	eligibleVoters map[string]bool

	// Delegations maps a delegator DID to the delegate casting on their
	// behalf, consulted by CastVote to double-count delegated ballots.
	delegations map[string]string
}

// NewEngine returns an Engine governed by policy. eligibleVoters may be
// nil to admit any voter.
func NewEngine(policy Policy, eligibleVoters []string) *Engine {
	var elig map[string]bool
	if eligibleVoters != nil {
		elig = make(map[string]bool, len(eligibleVoters))
		for _, v := range eligibleVoters {
			elig[v] = true
		}
	}
	return &Engine{
		proposals:      make(map[string]*Proposal),
		eligibleVoters: elig,
		delegations:    make(map[string]string),
		policy:         policy,
	}
}

// SetDelegation records that delegate casts votes on behalf of delegator
// in addition to themself, until cleared by a future call with an empty
// delegate.
func (e *Engine) SetDelegation(delegator, delegate string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if delegate == "" {
		delete(e.delegations, delegator)
		return
	}
	e.delegations[delegator] = delegate
}

func (e *Engine) appendEventLocked(kind EventKind, proposalID, detail string, now time.Time) {
	e.events = append(e.events, Event{Kind: kind, ProposalID: proposalID, At: now, Detail: detail})
}

// SubmitProposal creates a proposal in Draft state. It charges no mana:
// debiting manaCost through the mana ledger before calling this is the
// caller's responsibility; the returned proposal carries the cost for
// audit only.
func (e *Engine) SubmitProposal(kind Kind, title, description, proposer string, effects Effects, candidates []string, manaCost float64, now time.Time) *Proposal {
	e.mu.Lock()
	defer e.mu.Unlock()

	p := &Proposal{
		ID:          uuid.New().String(),
		Kind:        kind,
		Title:       title,
		Description: description,
		Proposer:    proposer,
		Effects:     effects,
		Status:      Draft,
		Created:     now,
		ManaCost:    manaCost,
		Candidates:  candidates,
		Ballots:     make(map[string]Ballot),
	}
	e.proposals[p.ID] = p
	e.appendEventLocked(EventSubmitted, p.ID, fmt.Sprintf("proposed by %s", proposer), now)
	return p
}

// OpenVoting moves a Draft proposal to Open and sets its deadline.
func (e *Engine) OpenVoting(proposalID string, now time.Time) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.proposals[proposalID]
	if !ok {
		return ErrNotFound
	}
	if p.Status != Draft {
		return ErrInvalidState
	}
	p.Status = Open
	p.Deadline = now.Add(e.policy.VotingDuration)
	e.appendEventLocked(EventOpened, proposalID, "voting opened", now)
	return nil
}

// CastVote appends or replaces voter's ballot. Idempotent per (voter,
// proposal): casting again overwrites the prior ballot rather than
// duplicating it, matching spec §4.8's "idempotent per (voter,
// proposal)".
func (e *Engine) CastVote(proposalID, voter string, approve bool, preferences []string, now time.Time) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.proposals[proposalID]
	if !ok {
		return ErrNotFound
	}
	if p.Status != Open {
		return ErrInvalidState
	}
	if now.After(p.Deadline) {
		return ErrInvalidState
	}
	if e.eligibleVoters != nil && !e.eligibleVoters[voter] {
		return fmt.Errorf("governance: voter %s is not eligible", voter)
	}
	p.Ballots[voter] = Ballot{Voter: voter, Approve: approve, Preferences: preferences, Weight: 1, CastAt: now}
	e.appendEventLocked(EventVoteCast, proposalID, fmt.Sprintf("%s voted", voter), now)

	for delegator, delegate := range e.delegations {
		if delegate == voter {
			p.Ballots[delegator] = Ballot{Voter: delegator, Approve: approve, Preferences: preferences, Weight: 1, CastAt: now, Delegator: delegator}
		}
	}
	return nil
}

// Tally summarizes a closed proposal's vote count.
type Tally struct {
	Participation int
	Eligible      int
	ApprovalRate  float64
	Winner        string // ranked-choice winner, empty for yes/no proposals
	Rounds        []RankedRound
}

// CloseVotingPeriod computes the tally at/after the deadline and
// transitions the proposal to Accepted/Rejected. For ranked-choice
// proposals (len(Candidates) > 0), acceptance means a winner was found;
// for yes/no proposals, acceptance compares approval rate to the
// configured threshold. Both paths first require quorum participation.
func (e *Engine) CloseVotingPeriod(proposalID string, now time.Time) (Tally, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.proposals[proposalID]
	if !ok {
		return Tally{}, ErrNotFound
	}
	if p.Status != Open {
		return Tally{}, ErrInvalidState
	}

	eligible := len(e.eligibleVoters)
	if eligible == 0 {
		eligible = len(p.Ballots)
	}
	participation := len(p.Ballots)

	var quorumMet bool
	if eligible == 0 {
		quorumMet = participation > 0
	} else {
		quorumMet = float64(participation)/float64(eligible) >= e.policy.Quorum
	}

	t := Tally{Participation: participation, Eligible: eligible}
	if !quorumMet {
		p.Status = Rejected
		e.appendEventLocked(EventClosed, proposalID, "rejected: quorum not met", now)
		return t, nil
	}

	if len(p.Candidates) > 0 {
		result := RankedChoiceTally(p.Candidates, p.Ballots)
		t.Winner = result.Winner
		t.Rounds = result.Rounds
		if result.Winner != "" {
			p.Status = Accepted
			e.appendEventLocked(EventClosed, proposalID, fmt.Sprintf("accepted: winner %s", result.Winner), now)
		} else {
			p.Status = Rejected
			e.appendEventLocked(EventClosed, proposalID, "rejected: no ranked-choice winner", now)
		}
		return t, nil
	}

	var approvals int
	for _, b := range p.Ballots {
		if b.Approve {
			approvals++
		}
	}
	t.ApprovalRate = float64(approvals) / float64(participation)
	if t.ApprovalRate >= e.policy.ApprovalThreshold {
		p.Status = Accepted
		e.appendEventLocked(EventClosed, proposalID, "accepted", now)
	} else {
		p.Status = Rejected
		e.appendEventLocked(EventClosed, proposalID, "rejected: approval threshold not met", now)
	}
	return t, nil
}

// ExecuteProposal applies a proposal's effects iff Accepted and not yet
// executed. apply is the caller-supplied effect applicator (e.g. a
// membership set mutation or a parameter store write); it is invoked
// while still holding the engine lock is NOT guaranteed, so apply must
// be self-synchronizing if it touches shared state.
func (e *Engine) ExecuteProposal(proposalID string, now time.Time, apply func(Effects) error) error {
	e.mu.Lock()
	p, ok := e.proposals[proposalID]
	if !ok {
		e.mu.Unlock()
		return ErrNotFound
	}
	if p.Executed {
		e.mu.Unlock()
		return ErrAlreadyExecuted
	}
	if p.Status != Accepted {
		e.mu.Unlock()
		return ErrInvalidState
	}
	effects := p.Effects
	e.mu.Unlock()

	if apply != nil {
		if err := apply(effects); err != nil {
			return fmt.Errorf("governance: apply effects: %w", err)
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	p.Executed = true
	p.Status = Executed
	e.appendEventLocked(EventExecuted, proposalID, "executed", now)
	return nil
}

// ExpireOpenProposals transitions every Open proposal whose deadline has
// passed as of now to Expired, for callers driving this on a timer
// rather than through CloseVotingPeriod. Returns the number transitioned.
func (e *Engine) ExpireOpenProposals(now time.Time) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, p := range e.proposals {
		if p.Status == Open && now.After(p.Deadline) {
			p.Status = Expired
			e.appendEventLocked(EventClosed, p.ID, "expired", now)
			n++
		}
	}
	return n
}

// Get returns a copy of the proposal's current state.
func (e *Engine) Get(proposalID string) (Proposal, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.proposals[proposalID]
	if !ok {
		return Proposal{}, false
	}
	return *p, true
}

// Events returns a copy of the append-only audit log.
func (e *Engine) Events() []Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Event, len(e.events))
	copy(out, e.events)
	return out
}
