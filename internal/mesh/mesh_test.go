package mesh

import (
	"errors"
	"testing"
	"time"

	"github.com/ipfs/go-cid"
	"github.com/sirupsen/logrus"
	mh "github.com/multiformats/go-multihash"
	"go.uber.org/zap"

	"github.com/intercooperative/icn-core/internal/dag"
	"github.com/intercooperative/icn-core/internal/identity"
	"github.com/intercooperative/icn-core/internal/mana"
	"github.com/intercooperative/icn-core/internal/reputation"
)

func testLedger(t *testing.T) *mana.Ledger {
	t.Helper()
	policy := mana.Policy{BaseCapacity: 1000, MinCapacity: 10, MaxCapacityLimit: 10000, NetworkHealth: 1, EmergencyModulation: 1}
	l := mana.NewLedger(policy, mana.NetworkAverage{CPU: 1, RAM: 1, Storage: 1, Bandwidth: 1, GPU: 1, Uptime: 1, Success: 1}, logrus.New())
	return l
}

func openFundedAccount(t *testing.T, l *mana.Ledger, did string, now time.Time) {
	t.Helper()
	l.OpenAccount(did, mana.HardwareMetrics{CPU: 1, RAM: 1, Storage: 1, Bandwidth: 1, GPU: 1, Uptime: 1, Success: 1}, mana.OrgCooperative, 1, 1, 1, 0, now)
	if err := l.Credit(did, 1000, now); err != nil {
		t.Fatalf("fund account: %v", err)
	}
}

func dummyCID(t *testing.T, s string) cid.Cid {
	t.Helper()
	h, err := mh.Sum([]byte(s), mh.SHA2_256, -1)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	return cid.NewCidV1(cid.Raw, h)
}

func TestHappyPathMeshJob(t *testing.T) {
	now := time.Unix(0, 0)
	l := testLedger(t)
	openFundedAccount(t, l, "did:key:submitter", now)
	rep := reputation.NewStore(reputation.NewMemoryBackend())
	store := dag.NewMemoryStore(zap.NewNop())

	sk, vk, err := identity.GenerateKeypair()
	if err != nil {
		t.Fatalf("keypair: %v", err)
	}

	mgr := NewManager(l, rep, store, Policy{BidWindow: time.Minute, ExecutionTimeout: time.Minute, AnnounceCost: 5})

	manifest := dummyCID(t, "manifest")
	jobID, err := mgr.SubmitJob("did:key:submitter", manifest, 100, now)
	if err != nil {
		t.Fatalf("submit job: %v", err)
	}
	bal, _ := l.GetBalance("did:key:submitter", now)
	if bal != 900 {
		t.Fatalf("expected balance 900 after debit, got %v", bal)
	}

	if err := mgr.AnnounceForBidding(jobID, now); err != nil {
		t.Fatalf("announce: %v", err)
	}
	bid := Bid{JobID: jobID, Executor: "did:key:executor", PriceMana: 40}
	bidSig, err := identity.Sign(sk, bid.SigningPayload())
	if err != nil {
		t.Fatalf("sign bid: %v", err)
	}
	bid.Signature = bidSig
	if err := mgr.SubmitBid(jobID, bid, vk, now); err != nil {
		t.Fatalf("submit bid: %v", err)
	}

	firstEligible := func(bids []Bid) (Bid, bool) {
		if len(bids) == 0 {
			return Bid{}, false
		}
		return bids[0], true
	}
	if err := mgr.CloseBidding(jobID, firstEligible, now.Add(time.Minute)); err != nil {
		t.Fatalf("close bidding: %v", err)
	}
	rec, _ := mgr.Get(jobID)
	if rec.State != Assigned || rec.Executor != "did:key:executor" {
		t.Fatalf("expected Assigned to did:key:executor, got %+v", rec)
	}

	resultCID := dummyCID(t, "result")
	receipt := Receipt{JobID: jobID, Executor: "did:key:executor", ResultCID: resultCID, CPUMs: 150, Success: true}
	sig, err := identity.Sign(sk, receipt.SigningPayload())
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	receipt.Signature = sig

	if err := mgr.ReceiveReceipt(jobID, receipt, vk, now.Add(2*time.Minute)); err != nil {
		t.Fatalf("receive receipt: %v", err)
	}

	rec, _ = mgr.Get(jobID)
	if rec.State != Completed {
		t.Fatalf("expected Completed, got %v", rec.State)
	}
	// cost 100 charged, refund (100-40)=60 on success -> net 40 spent -> balance 960.
	bal, _ = l.GetBalance("did:key:submitter", now.Add(2*time.Minute))
	if bal != 960 {
		t.Fatalf("expected balance 960 after success refund, got %v", bal)
	}

	score, err := rep.GetReputation("did:key:executor")
	if err != nil || score <= 0 {
		t.Fatalf("expected positive reputation after success, got %v err %v", score, err)
	}

	rebuilt, err := dag.NewBlock(dag.RawCodec, receipt.SigningPayload(), nil, now.Add(2*time.Minute), receipt.Executor, receipt.Signature, "")
	if err != nil {
		t.Fatalf("rebuild block: %v", err)
	}
	if _, err := store.Get(rebuilt.CID); err != nil {
		t.Fatalf("expected receipt block anchored in store: %v", err)
	}
}

func TestTimeoutRefundScenario(t *testing.T) {
	now := time.Unix(0, 0)
	l := testLedger(t)
	openFundedAccount(t, l, "did:key:submitter2", now)
	l.SetBalance("did:key:submitter2", 100, now)
	rep := reputation.NewStore(reputation.NewMemoryBackend())
	store := dag.NewMemoryStore(zap.NewNop())

	mgr := NewManager(l, rep, store, Policy{BidWindow: time.Minute, ExecutionTimeout: time.Minute, AnnounceCost: 5})

	jobID, err := mgr.SubmitJob("did:key:submitter2", dummyCID(t, "m2"), 30, now)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	mgr.AnnounceForBidding(jobID, now)
	sk2, vk2, err := identity.GenerateKeypair()
	if err != nil {
		t.Fatalf("keypair: %v", err)
	}
	bid := Bid{JobID: jobID, Executor: "did:key:exec2", PriceMana: 10}
	bidSig, err := identity.Sign(sk2, bid.SigningPayload())
	if err != nil {
		t.Fatalf("sign bid: %v", err)
	}
	bid.Signature = bidSig
	if err := mgr.SubmitBid(jobID, bid, vk2, now); err != nil {
		t.Fatalf("submit bid: %v", err)
	}
	first := func(bids []Bid) (Bid, bool) { return bids[0], true }
	if err := mgr.CloseBidding(jobID, first, now.Add(time.Minute)); err != nil {
		t.Fatalf("close bidding: %v", err)
	}

	if err := mgr.CheckTimeout(jobID, now.Add(2*time.Minute)); err != nil {
		t.Fatalf("check timeout: %v", err)
	}
	rec, _ := mgr.Get(jobID)
	if rec.State != Failed || rec.Reason != Timeout {
		t.Fatalf("expected Failed{Timeout}, got %+v", rec)
	}

	bal, _ := l.GetBalance("did:key:submitter2", now.Add(2*time.Minute))
	if bal != 95 {
		t.Fatalf("expected final balance 95 (100-30+25 refund), got %v", bal)
	}
}

func TestNoBidsFailsAfterBidWindowWithFullRefund(t *testing.T) {
	now := time.Unix(0, 0)
	l := testLedger(t)
	openFundedAccount(t, l, "did:key:submitter3", now)
	rep := reputation.NewStore(reputation.NewMemoryBackend())
	store := dag.NewMemoryStore(zap.NewNop())
	mgr := NewManager(l, rep, store, Policy{BidWindow: time.Minute, ExecutionTimeout: time.Minute, AnnounceCost: 5})

	jobID, _ := mgr.SubmitJob("did:key:submitter3", dummyCID(t, "m3"), 50, now)
	mgr.AnnounceForBidding(jobID, now)

	before, _ := l.GetBalance("did:key:submitter3", now)
	none := func(bids []Bid) (Bid, bool) { return Bid{}, false }
	if err := mgr.CloseBidding(jobID, none, now.Add(time.Minute)); err != nil {
		t.Fatalf("close bidding: %v", err)
	}
	rec, _ := mgr.Get(jobID)
	if rec.State != Failed || rec.Reason != NoBids {
		t.Fatalf("expected Failed{NoBids}, got %+v", rec)
	}
	after, _ := l.GetBalance("did:key:submitter3", now.Add(time.Minute))
	if after != before+50 {
		t.Fatalf("expected full refund, before=%v after=%v", before, after)
	}
}

func TestCloseBiddingRejectsCallBeforeDeadline(t *testing.T) {
	now := time.Unix(0, 0)
	l := testLedger(t)
	openFundedAccount(t, l, "did:key:submitter3b", now)
	rep := reputation.NewStore(reputation.NewMemoryBackend())
	store := dag.NewMemoryStore(zap.NewNop())
	mgr := NewManager(l, rep, store, Policy{BidWindow: time.Minute, ExecutionTimeout: time.Minute, AnnounceCost: 5})

	jobID, _ := mgr.SubmitJob("did:key:submitter3b", dummyCID(t, "m3b"), 50, now)
	mgr.AnnounceForBidding(jobID, now)

	none := func(bids []Bid) (Bid, bool) { return Bid{}, false }
	if err := mgr.CloseBidding(jobID, none, now.Add(30*time.Second)); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState before the bid window elapses, got %v", err)
	}
	rec, _ := mgr.Get(jobID)
	if rec.State != Bidding {
		t.Fatalf("expected job to remain Bidding when closed early, got %s", rec.State)
	}
}

func TestReceiveReceiptRejectsWrongExecutor(t *testing.T) {
	now := time.Unix(0, 0)
	l := testLedger(t)
	openFundedAccount(t, l, "did:key:submitter4", now)
	rep := reputation.NewStore(reputation.NewMemoryBackend())
	store := dag.NewMemoryStore(zap.NewNop())
	_, vk, _ := identity.GenerateKeypair()
	mgr := NewManager(l, rep, store, Policy{BidWindow: time.Minute, ExecutionTimeout: time.Minute, AnnounceCost: 5})

	jobID, _ := mgr.SubmitJob("did:key:submitter4", dummyCID(t, "m4"), 40, now)
	mgr.AnnounceForBidding(jobID, now)
	legitSK, legitVK, err := identity.GenerateKeypair()
	if err != nil {
		t.Fatalf("keypair: %v", err)
	}
	bid := Bid{JobID: jobID, Executor: "did:key:legit", PriceMana: 10}
	bidSig, err := identity.Sign(legitSK, bid.SigningPayload())
	if err != nil {
		t.Fatalf("sign bid: %v", err)
	}
	bid.Signature = bidSig
	if err := mgr.SubmitBid(jobID, bid, legitVK, now); err != nil {
		t.Fatalf("submit bid: %v", err)
	}
	first := func(bids []Bid) (Bid, bool) { return bids[0], true }
	mgr.CloseBidding(jobID, first, now.Add(time.Minute))

	receipt := Receipt{JobID: jobID, Executor: "did:key:impostor", ResultCID: dummyCID(t, "r"), Success: true}
	if err := mgr.ReceiveReceipt(jobID, receipt, vk, now.Add(2*time.Minute)); err != nil {
		t.Fatalf("receive receipt: %v", err)
	}
	rec, _ := mgr.Get(jobID)
	if rec.State != Failed || rec.Reason != InvalidReceipt {
		t.Fatalf("expected Failed{InvalidReceipt} for executor mismatch, got %+v", rec)
	}
}

func TestSubmitBidRejectsForgedSignature(t *testing.T) {
	now := time.Unix(0, 0)
	l := testLedger(t)
	openFundedAccount(t, l, "did:key:submitter5", now)
	rep := reputation.NewStore(reputation.NewMemoryBackend())
	store := dag.NewMemoryStore(zap.NewNop())
	mgr := NewManager(l, rep, store, Policy{BidWindow: time.Minute, ExecutionTimeout: time.Minute, AnnounceCost: 5})

	jobID, _ := mgr.SubmitJob("did:key:submitter5", dummyCID(t, "m5"), 40, now)
	mgr.AnnounceForBidding(jobID, now)

	_, attackerVK, err := identity.GenerateKeypair()
	if err != nil {
		t.Fatalf("keypair: %v", err)
	}
	impostorSK, _, err := identity.GenerateKeypair()
	if err != nil {
		t.Fatalf("keypair: %v", err)
	}
	bid := Bid{JobID: jobID, Executor: "did:key:attacker", PriceMana: 1}
	sig, err := identity.Sign(impostorSK, bid.SigningPayload())
	if err != nil {
		t.Fatalf("sign bid: %v", err)
	}
	bid.Signature = sig

	// attackerVK doesn't match impostorSK, so a bid claiming to be
	// did:key:attacker but signed by a different key must be rejected.
	if err := mgr.SubmitBid(jobID, bid, attackerVK, now); !errors.Is(err, ErrInvalidBidSignature) {
		t.Fatalf("expected ErrInvalidBidSignature, got %v", err)
	}

	rec, _ := mgr.Get(jobID)
	if len(rec.Bids) != 0 {
		t.Fatalf("expected forged bid rejected, got %+v", rec.Bids)
	}
}
