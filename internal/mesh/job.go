// Package mesh implements the mesh job lifecycle of spec §4.9: the
// submitter-side state machine from Pending through Bidding, Assigned,
// and a terminal Completed/Failed state, with mana debit/refund wired to
// internal/mana and receipt anchoring wired to internal/dag. Grounded on
// core/consensus.go's staged-pipeline-with-small-interface-wiring idiom
// (txPool/networkAdapter boundaries) and
// original_source/crates/icn-runtime/tests/mesh.rs and
// cross_node_job_execution.rs for the exact transition sequence.
package mesh

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ipfs/go-cid"

	"github.com/intercooperative/icn-core/internal/dag"
	"github.com/intercooperative/icn-core/internal/identity"
	"github.com/intercooperative/icn-core/internal/mana"
	"github.com/intercooperative/icn-core/internal/reputation"
)

// State is a job's position in the lifecycle state machine of spec §4.9.
type State int

const (
	Pending State = iota
	Bidding
	Assigned
	Completed
	Failed
)

func (s State) String() string {
	switch s {
	case Pending:
		return "Pending"
	case Bidding:
		return "Bidding"
	case Assigned:
		return "Assigned"
	case Completed:
		return "Completed"
	case Failed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// FailureReason tags why a job landed in Failed.
type FailureReason int

const (
	NoFailure FailureReason = iota
	NoBids
	Timeout
	InvalidReceipt
)

func (r FailureReason) String() string {
	switch r {
	case NoBids:
		return "NoBids"
	case Timeout:
		return "Timeout"
	case InvalidReceipt:
		return "InvalidReceipt"
	default:
		return "NoFailure"
	}
}

var (
	ErrJobNotFound  = errors.New("mesh: job not found")
	ErrInvalidState = errors.New("mesh: job not in required state for this transition")
)

// Job is a unit of work announced to the mesh for bidding.
type Job struct {
	ID          string
	Submitter   string
	ManifestCID cid.Cid
	CostMana    float64
	CreatedAt   time.Time
}

// Bid is an executor's signed offer to run a job, authenticated the same
// way a Receipt is (spec §3 lists bids among signed mesh artifacts).
type Bid struct {
	JobID     string
	Executor  string
	PriceMana float64
	ArrivedAt time.Time
	Signature []byte
}

// SigningPayload returns the bytes a bid's signature covers.
func (b Bid) SigningPayload() []byte {
	return []byte(fmt.Sprintf("%s|%s|%f", b.JobID, b.Executor, b.PriceMana))
}

// Receipt is an executor's signed record of job completion, verified
// against (a) the assigned executor's DID, (b) a signature over the
// job ID and result CID, and (c) a matching job ID, per spec §4.9.
type Receipt struct {
	JobID     string
	Executor  string
	ResultCID cid.Cid
	CPUMs     uint64
	Success   bool
	Signature []byte
}

// SigningPayload returns the bytes a receipt's signature covers.
func (r Receipt) SigningPayload() []byte {
	return []byte(fmt.Sprintf("%s|%s|%t|%d", r.JobID, r.ResultCID.String(), r.Success, r.CPUMs))
}

// EventKind tags append-only journal entries recorded for every
// transition, per spec §4.9's "all state transitions are journaled".
type EventKind int

const (
	EventAnnounced EventKind = iota
	EventBidReceived
	EventAssigned
	EventCompleted
	EventFailed
)

// Event is one journal entry.
type Event struct {
	Kind   EventKind
	JobID  string
	At     time.Time
	Detail string
}

// Record is a job's full lifecycle state as tracked by the manager.
type Record struct {
	Job      Job
	State    State
	Reason   FailureReason
	Bids     []Bid
	Executor string
	Receipt  *Receipt

	biddingDeadline time.Time
	execDeadline    time.Time
}

// Policy configures the lifecycle's timing and refund behavior.
type Policy struct {
	BidWindow        time.Duration
	ExecutionTimeout time.Duration
	// AnnounceCost is retained from CostMana when a job fails after
	// assignment without a valid receipt (spec §7's "announce cost
	// retained" refund policy).
	AnnounceCost float64
}

// Selector picks a winning bid from the collected set, or returns ok=false
// if none are eligible. Injected so scoring policy (internal/selection)
// stays decoupled from lifecycle mechanics, per spec §9's small capability
// interface guidance.
type Selector func(bids []Bid) (Bid, bool)

// Manager drives the submitter-side job lifecycle. A single mutex guards
// the record map; each record's own fields are only ever touched while
// holding it, since job state transitions are serialized per spec §5.
type Manager struct {
	mu      sync.Mutex
	records map[string]*Record

	mana   *mana.Ledger
	rep    *reputation.Store
	store  dag.BlockStore
	policy Policy
}

// NewManager wires a lifecycle manager to the mana ledger, reputation
// store, and DAG block store it debits, adjusts, and anchors to.
func NewManager(ledger *mana.Ledger, rep *reputation.Store, store dag.BlockStore, policy Policy) *Manager {
	return &Manager{
		records: make(map[string]*Record),
		mana:    ledger,
		rep:     rep,
		store:   store,
		policy:  policy,
	}
}

// SubmitJob debits cost_mana atomically with enqueue (spec §4.9) and
// creates the job in Pending state.
func (m *Manager) SubmitJob(submitter string, manifest cid.Cid, costMana float64, now time.Time) (string, error) {
	if err := m.mana.Spend(submitter, costMana, now); err != nil {
		return "", fmt.Errorf("mesh: debit job cost: %w", err)
	}

	id := uuid.New().String()
	m.mu.Lock()
	m.records[id] = &Record{
		Job: Job{ID: id, Submitter: submitter, ManifestCID: manifest, CostMana: costMana, CreatedAt: now},
		State: Pending,
	}
	m.mu.Unlock()
	return id, nil
}

// AnnounceForBidding moves a Pending job to Bidding and opens its bid
// collection window T_b.
func (m *Manager) AnnounceForBidding(jobID string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[jobID]
	if !ok {
		return ErrJobNotFound
	}
	if r.State != Pending {
		return ErrInvalidState
	}
	r.State = Bidding
	r.biddingDeadline = now.Add(m.policy.BidWindow)
	return nil
}

// ErrInvalidBidSignature is returned when a bid's signature does not
// verify against the claimed executor's key, per spec §3's signed-bid
// requirement.
var ErrInvalidBidSignature = errors.New("mesh: bid signature does not verify")

// SubmitBid records a bid while the job is within its bidding window.
// bidderKey is the resolved verifying key for bid.Executor; the bid's
// signature must cover this exact jobID, so a signature produced for one
// job cannot be replayed against another.
func (m *Manager) SubmitBid(jobID string, bid Bid, bidderKey []byte, now time.Time) error {
	bid.JobID = jobID
	if !identity.Verify(bidderKey, bid.SigningPayload(), bid.Signature) {
		return ErrInvalidBidSignature
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[jobID]
	if !ok {
		return ErrJobNotFound
	}
	if r.State != Bidding || now.After(r.biddingDeadline) {
		return ErrInvalidState
	}
	bid.ArrivedAt = now
	r.Bids = append(r.Bids, bid)
	return nil
}

// CloseBidding evaluates collected bids via selector after T_b elapses.
// On a winner, the job transitions to Assigned and the execution timeout
// window opens. On no eligible bid, the job fails with NoBids and its
// full cost is refunded. It self-gates on biddingDeadline the same way
// CheckTimeout self-gates on execDeadline, so a sweep can call it freely
// on every Bidding job without closing a window early.
func (m *Manager) CloseBidding(jobID string, selector Selector, now time.Time) error {
	m.mu.Lock()
	r, ok := m.records[jobID]
	if !ok {
		m.mu.Unlock()
		return ErrJobNotFound
	}
	if r.State != Bidding || now.Before(r.biddingDeadline) {
		m.mu.Unlock()
		return ErrInvalidState
	}

	winner, found := selector(r.Bids)
	if !found {
		r.State = Failed
		r.Reason = NoBids
		job := r.Job
		m.mu.Unlock()
		return m.mana.Credit(job.Submitter, job.CostMana, now)
	}

	r.State = Assigned
	r.Executor = winner.Executor
	r.execDeadline = now.Add(m.policy.ExecutionTimeout)
	m.mu.Unlock()
	return nil
}

// CheckTimeout fails an Assigned job that missed its execution deadline,
// refunding cost_mana minus the retained announce cost and decrementing
// the assigned executor's reputation, per spec §4.9/§7.
func (m *Manager) CheckTimeout(jobID string, now time.Time) error {
	m.mu.Lock()
	r, ok := m.records[jobID]
	if !ok {
		m.mu.Unlock()
		return ErrJobNotFound
	}
	if r.State != Assigned || now.Before(r.execDeadline) {
		m.mu.Unlock()
		return ErrInvalidState
	}
	r.State = Failed
	r.Reason = Timeout
	job := r.Job
	executor := r.Executor
	m.mu.Unlock()

	refund := job.CostMana - m.policy.AnnounceCost
	if refund > 0 {
		if err := m.mana.Credit(job.Submitter, refund, now); err != nil {
			return err
		}
	}
	if m.rep != nil {
		return m.rep.RecordExecution(executor, false, 0)
	}
	return nil
}

// ReceiveReceipt verifies an executor's completion receipt and
// transitions the job to Completed or Failed{InvalidReceipt}. executorKey
// is the resolved verifying key for the assigned executor's DID.
func (m *Manager) ReceiveReceipt(jobID string, receipt Receipt, executorKey []byte, now time.Time) error {
	m.mu.Lock()
	r, ok := m.records[jobID]
	if !ok {
		m.mu.Unlock()
		return ErrJobNotFound
	}
	if r.State != Assigned {
		m.mu.Unlock()
		return ErrInvalidState
	}

	valid := receipt.JobID == jobID &&
		receipt.Executor == r.Executor &&
		identity.Verify(executorKey, receipt.SigningPayload(), receipt.Signature)

	if !valid || !receipt.Success {
		r.State = Failed
		r.Reason = InvalidReceipt
		job := r.Job
		executor := r.Executor
		m.mu.Unlock()

		// Both an unverifiable receipt and a genuine failure receipt
		// retain only the announce cost, same as a timeout.
		refund := job.CostMana - m.policy.AnnounceCost
		if refund > 0 {
			if err := m.mana.Credit(job.Submitter, refund, now); err != nil {
				return err
			}
		}
		if m.rep != nil {
			return m.rep.RecordExecution(executor, false, receipt.CPUMs)
		}
		return nil
	}

	block, err := dag.NewBlock(dag.RawCodec, receipt.SigningPayload(), nil, now, receipt.Executor, receipt.Signature, "")
	if err != nil {
		return fmt.Errorf("mesh: build receipt block: %w", err)
	}
	if err := m.store.Put(block); err != nil {
		return fmt.Errorf("mesh: anchor receipt: %w", err)
	}

	m.mu.Lock()
	r.State = Completed
	r.Receipt = &receipt
	job := r.Job
	executor := r.Executor
	m.mu.Unlock()

	// Open Question decision (SPEC_FULL.md §E.2): cost_mana is charged in
	// full at submission; on success the difference against the accepted
	// bid price is refunded.
	var refund float64
	for _, b := range r.Bids {
		if b.Executor == executor {
			refund = job.CostMana - b.PriceMana
			break
		}
	}
	if refund > 0 {
		if err := m.mana.Credit(job.Submitter, refund, now); err != nil {
			return err
		}
	}
	if m.rep != nil {
		return m.rep.RecordExecution(executor, true, receipt.CPUMs)
	}
	return nil
}

// Get returns a copy of the job's current record.
func (m *Manager) Get(jobID string) (Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[jobID]
	if !ok {
		return Record{}, false
	}
	return *r, true
}

// ActiveJobIDs returns the IDs of every job still in Bidding or Assigned
// state, for a periodic sweep to check against deadlines.
func (m *Manager) ActiveJobIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.records))
	for id, r := range m.records {
		if r.State == Bidding || r.State == Assigned {
			ids = append(ids, id)
		}
	}
	return ids
}
