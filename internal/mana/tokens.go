package mana

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/intercooperative/icn-core/pkg/classify"
)

// VelocityLimits caps how much of a token class a single account may move
// within one epoch, spec §4.4's anti-speculation controls.
type VelocityLimits struct {
	MaxTransfersPerEpoch int
	MaxAmountPerEpoch    float64
	EpochDuration        time.Duration
}

// TokenClass is a fungible resource descriptor distinct from mana (spec
// §3). Mana is never transferable; tokens carry the anti-speculation
// rules mana intentionally lacks.
type TokenClass struct {
	ID              string
	DemurrageRate   float64       // fraction lost per day past grace, e.g. 0.01
	DemurrageGrace  time.Duration // no demurrage applied within this window of last access
	Velocity        *VelocityLimits
	AllowedPurposes map[string]bool // nil/empty means no purpose restriction
}

// ErrVelocityExceeded is returned when a transfer would exceed the token
// class's per-epoch count or amount limit.
var ErrVelocityExceeded = fmt.Errorf("mana: velocity limit exceeded")

// ErrPurposeNotAllowed is returned when a transfer's declared purpose is
// not in the token class's allowed set.
var ErrPurposeNotAllowed = fmt.Errorf("mana: purpose not allowed for this token class")

type tokenBalance struct {
	mu             sync.Mutex
	amount         float64
	lastAccess     time.Time
	epochStart     time.Time
	epochTransfers int
	epochAmount    float64
}

// TokenLedger tracks per-(DID, TokenClass) balances with demurrage applied
// lazily on access and velocity/purpose-lock checks applied atomically at
// transfer time — any violation fails the whole transfer, per spec §4.4.
type TokenLedger struct {
	mu       sync.RWMutex
	classes  map[string]*TokenClass
	balances map[string]*tokenBalance // key: classID + "|" + did
}

// NewTokenLedger returns an empty token ledger.
func NewTokenLedger() *TokenLedger {
	return &TokenLedger{
		classes:  make(map[string]*TokenClass),
		balances: make(map[string]*tokenBalance),
	}
}

// RegisterClass adds or replaces a token class's rules.
func (t *TokenLedger) RegisterClass(c TokenClass) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cc := c
	t.classes[c.ID] = &cc
}

func balanceKey(classID, did string) string { return classID + "|" + did }

func (t *TokenLedger) balanceEntry(classID, did string) *tokenBalance {
	key := balanceKey(classID, did)
	t.mu.Lock()
	defer t.mu.Unlock()
	b, ok := t.balances[key]
	if !ok {
		b = &tokenBalance{}
		t.balances[key] = b
	}
	return b
}

// Mint credits amount of classID to did without running transfer checks
// (used for initial issuance).
func (t *TokenLedger) Mint(classID, did string, amount float64, now time.Time) error {
	if amount < 0 {
		return classify.Validation("mint", fmt.Errorf("mana: negative mint amount"))
	}
	b := t.balanceEntry(classID, did)
	b.mu.Lock()
	defer b.mu.Unlock()
	t.applyDemurrageLocked(classID, b, now)
	b.amount += amount
	b.lastAccess = now
	return nil
}

// Balance returns did's balance of classID after applying demurrage up to
// now.
func (t *TokenLedger) Balance(classID, did string, now time.Time) (float64, error) {
	b := t.balanceEntry(classID, did)
	b.mu.Lock()
	defer b.mu.Unlock()
	t.applyDemurrageLocked(classID, b, now)
	return b.amount, nil
}

func (t *TokenLedger) applyDemurrageLocked(classID string, b *tokenBalance, now time.Time) {
	t.mu.RLock()
	class := t.classes[classID]
	t.mu.RUnlock()
	if class == nil || class.DemurrageRate <= 0 || b.lastAccess.IsZero() {
		if b.lastAccess.IsZero() {
			b.lastAccess = now
		}
		return
	}
	elapsed := now.Sub(b.lastAccess)
	if elapsed <= class.DemurrageGrace {
		return
	}
	daysPastGrace := (elapsed - class.DemurrageGrace).Hours() / 24
	if daysPastGrace <= 0 {
		return
	}
	b.amount *= math.Pow(1-class.DemurrageRate, daysPastGrace)
	b.lastAccess = now
}

// Transfer moves amount of classID from `from` to `to` for the given
// purpose. Demurrage, velocity, and purpose-lock checks are evaluated
// against `from`'s balance before anything is mutated, so a violation
// leaves both balances untouched (atomic failure, spec §4.4).
func (t *TokenLedger) Transfer(classID, from, to string, amount float64, purpose string, now time.Time) error {
	if amount <= 0 {
		return classify.Validation("transfer", fmt.Errorf("mana: transfer amount must be positive"))
	}

	t.mu.RLock()
	class := t.classes[classID]
	t.mu.RUnlock()
	if class == nil {
		return classify.Validation("transfer", fmt.Errorf("mana: unknown token class %q", classID))
	}
	if len(class.AllowedPurposes) > 0 && !class.AllowedPurposes[purpose] {
		return classify.Policy("transfer", ErrPurposeNotAllowed)
	}

	fromBal := t.balanceEntry(classID, from)
	toBal := t.balanceEntry(classID, to)

	// Lock both balances in a fixed order (by map key) regardless of
	// transfer direction, so two concurrent opposite-direction transfers
	// between the same pair of accounts can't deadlock.
	fromKey, toKey := balanceKey(classID, from), balanceKey(classID, to)
	if fromBal == toBal {
		fromBal.mu.Lock()
		defer fromBal.mu.Unlock()
	} else if fromKey < toKey {
		fromBal.mu.Lock()
		defer fromBal.mu.Unlock()
		toBal.mu.Lock()
		defer toBal.mu.Unlock()
	} else {
		toBal.mu.Lock()
		defer toBal.mu.Unlock()
		fromBal.mu.Lock()
		defer fromBal.mu.Unlock()
	}

	t.applyDemurrageLocked(classID, fromBal, now)

	if fromBal.amount < amount {
		return classify.Policy("transfer", ErrInsufficientMana)
	}

	if class.Velocity != nil {
		if now.Sub(fromBal.epochStart) > class.Velocity.EpochDuration {
			fromBal.epochStart = now
			fromBal.epochTransfers = 0
			fromBal.epochAmount = 0
		}
		nextTransfers := fromBal.epochTransfers + 1
		nextAmount := fromBal.epochAmount + amount
		if class.Velocity.MaxTransfersPerEpoch > 0 && nextTransfers > class.Velocity.MaxTransfersPerEpoch {
			return classify.Policy("transfer", ErrVelocityExceeded)
		}
		if class.Velocity.MaxAmountPerEpoch > 0 && nextAmount > class.Velocity.MaxAmountPerEpoch {
			return classify.Policy("transfer", ErrVelocityExceeded)
		}
		fromBal.epochTransfers = nextTransfers
		fromBal.epochAmount = nextAmount
	}

	t.applyDemurrageLocked(classID, toBal, now)

	fromBal.amount -= amount
	toBal.amount += amount
	fromBal.lastAccess = now
	toBal.lastAccess = now
	return nil
}
