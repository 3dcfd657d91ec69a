package mana

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/intercooperative/icn-core/pkg/classify"
)

// ErrInsufficientMana is returned by Spend when the account's balance
// (after lazy regeneration) is below the requested amount. It is a
// distinct, explicit error rather than a generic failure so callers can
// separate it from network/storage faults, per spec §4.4.
var ErrInsufficientMana = fmt.Errorf("mana: insufficient balance")

// ErrAccountNotFound is returned for operations on an unknown DID.
var ErrAccountNotFound = fmt.Errorf("mana: account not found")

// Policy bounds the derived max_capacity range and supplies the
// network-wide scalars (network_health, emergency_modulation) shared by
// every account's regeneration formula.
type Policy struct {
	BaseCapacity        float64
	MinCapacity         float64
	MaxCapacityLimit    float64
	NetworkHealth       float64
	EmergencyModulation float64
}

// Account is the mana ledger's per-DID state (spec §3). Capacity and
// regeneration rate are derived from the other fields by the ledger, not
// set directly by callers.
type Account struct {
	DID                  string
	Balance              float64
	MaxCapacity          float64
	RegenerationRate     float64
	Hardware             HardwareMetrics
	OrgType              OrgType
	TrustMultiplier      float64
	ParticipationFactor  float64
	GovernanceEngagement float64
	FederationBonus      float64
	LastUpdateTime       time.Time
}

type accountEntry struct {
	mu  sync.Mutex // single logical writer per account, per spec §5
	acc Account
}

// Ledger owns every account's state exclusively; mutations serialize
// through the account's own mutex so concurrent reads observe a
// consistent snapshot without blocking unrelated accounts.
type Ledger struct {
	mu       sync.RWMutex
	accounts map[string]*accountEntry
	policy   Policy
	avg      NetworkAverage
	log      *logrus.Logger
}

// NewLedger constructs an empty ledger under the given policy and
// network-average baseline.
func NewLedger(policy Policy, avg NetworkAverage, log *logrus.Logger) *Ledger {
	if log == nil {
		log = logrus.New()
	}
	return &Ledger{
		accounts: make(map[string]*accountEntry),
		policy:   policy,
		avg:      avg,
		log:      log,
	}
}

// OpenAccount creates a new account for did with the given organizational
// and hardware parameters, deriving max_capacity and regeneration_rate.
func (l *Ledger) OpenAccount(did string, hw HardwareMetrics, org OrgType, trustMultiplier, participationFactor, governanceEngagement, federationBonus float64, now time.Time) *Account {
	acc := Account{
		DID:                  did,
		Hardware:             hw,
		OrgType:              org,
		TrustMultiplier:      ClampTrustMultiplier(trustMultiplier),
		ParticipationFactor:  ClampParticipationFactor(participationFactor),
		GovernanceEngagement: governanceEngagement,
		FederationBonus:      federationBonus,
		LastUpdateTime:       now,
	}
	l.recompute(&acc)

	l.mu.Lock()
	defer l.mu.Unlock()
	l.accounts[did] = &accountEntry{acc: acc}
	return &acc
}

// recompute derives MaxCapacity and RegenerationRate from an account's
// current parameters and the ledger's policy/network-average baseline.
func (l *Ledger) recompute(acc *Account) {
	maxCap := l.policy.BaseCapacity * acc.GovernanceEngagement * (1 + acc.FederationBonus)
	acc.MaxCapacity = clamp(maxCap, l.policy.MinCapacity, l.policy.MaxCapacityLimit)

	sigma := ComputeScore(acc.Hardware, l.avg)
	acc.RegenerationRate = acc.OrgType.Kappa() * sigma * acc.TrustMultiplier *
		acc.ParticipationFactor * l.policy.NetworkHealth * l.policy.EmergencyModulation
}

func (l *Ledger) entry(did string) (*accountEntry, error) {
	l.mu.RLock()
	e, ok := l.accounts[did]
	l.mu.RUnlock()
	if !ok {
		return nil, classify.Validation("lookup-account", ErrAccountNotFound)
	}
	return e, nil
}

// regenerateLocked applies the lazy regeneration step: balance = min(max,
// balance + rate*Δt). Caller holds e.mu. Δt=0 is the identity operation
// (spec §8 boundary behavior).
func regenerateLocked(acc *Account, now time.Time) {
	dt := now.Sub(acc.LastUpdateTime).Seconds()
	if dt <= 0 {
		return
	}
	acc.Balance = math.Min(acc.MaxCapacity, acc.Balance+acc.RegenerationRate*dt)
	acc.LastUpdateTime = now
}

// GetBalance returns the account's balance after applying lazy
// regeneration up to now.
func (l *Ledger) GetBalance(did string, now time.Time) (float64, error) {
	e, err := l.entry(did)
	if err != nil {
		return 0, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	regenerateLocked(&e.acc, now)
	return e.acc.Balance, nil
}

// Credit adds amount to the account's balance, clamped to max_capacity.
func (l *Ledger) Credit(did string, amount float64, now time.Time) error {
	if amount < 0 {
		return classify.Validation("credit", fmt.Errorf("mana: negative credit amount"))
	}
	e, err := l.entry(did)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	regenerateLocked(&e.acc, now)
	e.acc.Balance = math.Min(e.acc.MaxCapacity, e.acc.Balance+amount)
	return nil
}

// Spend deducts amount from the account's balance. It fails explicitly
// with ErrInsufficientMana, distinct from network/storage failures, when
// the post-regeneration balance is below amount.
func (l *Ledger) Spend(did string, amount float64, now time.Time) error {
	if amount < 0 {
		return classify.Validation("spend", fmt.Errorf("mana: negative spend amount"))
	}
	e, err := l.entry(did)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	regenerateLocked(&e.acc, now)
	if e.acc.Balance < amount {
		return classify.Policy("spend", ErrInsufficientMana)
	}
	e.acc.Balance -= amount
	return nil
}

// CreditAll issues amount to every account (global issuance, e.g. a
// governance-approved emission event).
func (l *Ledger) CreditAll(amount float64, now time.Time) error {
	l.mu.RLock()
	dids := make([]string, 0, len(l.accounts))
	for did := range l.accounts {
		dids = append(dids, did)
	}
	l.mu.RUnlock()

	for _, did := range dids {
		if err := l.Credit(did, amount, now); err != nil {
			l.log.WithError(err).WithField("did", did).Warn("mana: credit_all failed for account")
		}
	}
	return nil
}

// SetBalance administratively overrides an account's balance, clamped to
// [0, max_capacity]. It still advances LastUpdateTime to now so a
// subsequent regeneration step doesn't apply stale elapsed time.
func (l *Ledger) SetBalance(did string, amount float64, now time.Time) error {
	e, err := l.entry(did)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.acc.Balance = clamp(amount, 0, e.acc.MaxCapacity)
	e.acc.LastUpdateTime = now
	return nil
}

// Snapshot returns a copy of the account's current fields without
// applying regeneration — useful for inspection/export without mutating
// LastUpdateTime.
func (l *Ledger) Snapshot(did string) (Account, error) {
	e, err := l.entry(did)
	if err != nil {
		return Account{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.acc, nil
}

// AccountCount returns the number of open accounts, for health reporting.
func (l *Ledger) AccountCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.accounts)
}
