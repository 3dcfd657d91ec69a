package runtime

import (
	"errors"
	"io"
	"testing"
	"time"

	"github.com/multiformats/go-multihash"
	"github.com/sirupsen/logrus"

	"github.com/ipfs/go-cid"

	"github.com/intercooperative/icn-core/internal/dag"
	"github.com/intercooperative/icn-core/internal/federation"
	"github.com/intercooperative/icn-core/internal/governance"
	"github.com/intercooperative/icn-core/internal/mana"
	"github.com/intercooperative/icn-core/internal/mesh"
	"github.com/intercooperative/icn-core/internal/reputation"
	"github.com/intercooperative/icn-core/internal/trust"
	"github.com/intercooperative/icn-core/internal/wasmhost"
)

type fakeOverlay struct{ closed bool }

func (f *fakeOverlay) Broadcast(topic string, data []byte) error       { return nil }
func (f *fakeOverlay) Subscribe(topic string) (<-chan []byte, error)   { return make(chan []byte), nil }
func (f *fakeOverlay) Close() error                                    { f.closed = true; return nil }

var _ federation.Overlay = (*fakeOverlay)(nil)

func testContext(t *testing.T) (*Context, *fakeOverlay) {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)

	policy := mana.Policy{BaseCapacity: 1000, MinCapacity: 10, MaxCapacityLimit: 10000, NetworkHealth: 1, EmergencyModulation: 1}
	ledger := mana.NewLedger(policy, mana.NetworkAverage{CPU: 1, RAM: 1, Storage: 1, Bandwidth: 1, GPU: 1, Uptime: 1, Success: 1}, log)
	ledger.OpenAccount("did:key:submitter", mana.HardwareMetrics{CPU: 1, RAM: 1, Storage: 1, Bandwidth: 1, GPU: 1, Uptime: 1, Success: 1}, mana.OrgCooperative, 1, 1, 1, 0, time.Unix(0, 0))
	ledger.Credit("did:key:submitter", 500, time.Unix(0, 0))

	store := dag.NewMemoryStore(nil)
	rep := reputation.NewStore(reputation.NewMemoryBackend())
	trustGraph := trust.NewGraph()
	overlay := &fakeOverlay{}
	gov := governance.NewEngine(governance.Policy{Quorum: 0.5, ApprovalThreshold: 0.5, VotingDuration: time.Hour}, []string{"did:key:voter"})
	meshMgr := mesh.NewManager(ledger, rep, store, mesh.Policy{BidWindow: time.Minute, ExecutionTimeout: time.Minute, AnnounceCost: 5})

	cfg := Config{NodeDID: "did:key:node", Log: log}
	wasmHost := wasmhost.NewHost(ledger, meshMgr, store, rep, "did:key:node", wasmhost.ResourceLimits{}, 1000, 1000)
	ctx := New(cfg, nil, store, ledger, rep, trustGraph, overlay, gov, meshMgr, wasmHost)
	return ctx, overlay
}

func dummyManifestCID(t *testing.T) cid.Cid {
	t.Helper()
	mh, err := multihash.Sum([]byte("manifest"), multihash.SHA2_256, -1)
	if err != nil {
		t.Fatalf("multihash sum: %v", err)
	}
	return cid.NewCidV1(cid.Raw, mh)
}

func TestBreakerTripsAfterThresholdFailuresAndRecovers(t *testing.T) {
	b := NewBreaker("test", BreakerConfig{FailureThreshold: 2, RecoveryTimeout: 10 * time.Millisecond, SuccessThreshold: 1})
	now := time.Unix(0, 0)
	failing := func() (struct{}, error) { return struct{}{}, errors.New("boom") }

	if _, err := Call(b, now, failing); err == nil {
		t.Fatalf("expected failure to pass through")
	}
	if b.State() != "closed" {
		t.Fatalf("expected closed after 1 failure, got %s", b.State())
	}
	if _, err := Call(b, now, failing); err == nil {
		t.Fatalf("expected second failure to pass through")
	}
	if b.State() != "open" {
		t.Fatalf("expected open after threshold failures, got %s", b.State())
	}

	if _, err := Call(b, now, failing); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen while within recovery window, got %v", err)
	}

	later := now.Add(20 * time.Millisecond)
	succeeding := func() (struct{}, error) { return struct{}{}, nil }
	if _, err := Call(b, later, succeeding); err != nil {
		t.Fatalf("expected half-open trial call to run: %v", err)
	}
	if b.State() != "closed" {
		t.Fatalf("expected closed after success threshold met in half-open, got %s", b.State())
	}
}

func TestBreakerIgnoresPermanentErrorsForTripping(t *testing.T) {
	b := NewBreaker("mana", BreakerConfig{FailureThreshold: 1, RecoveryTimeout: time.Second, SuccessThreshold: 1})
	now := time.Unix(0, 0)
	failing := func() (struct{}, error) { return struct{}{}, mana.ErrInsufficientMana }

	for i := 0; i < 5; i++ {
		if _, err := Call(b, now, failing); !errors.Is(err, mana.ErrInsufficientMana) {
			t.Fatalf("expected the permanent error to pass through unchanged, got %v", err)
		}
	}
	if b.State() != "closed" {
		t.Fatalf("expected permanent errors to never trip the breaker, got %s", b.State())
	}
}

func TestContextSpendManaRoutesThroughBreaker(t *testing.T) {
	ctx, _ := testContext(t)
	now := time.Unix(0, 0)
	if err := ctx.SpendMana("did:key:submitter", 50, now); err != nil {
		t.Fatalf("SpendMana: %v", err)
	}
	bal, err := ctx.Mana.GetBalance("did:key:submitter", now)
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	if bal != 450 {
		t.Fatalf("expected balance 450 after spend, got %v", bal)
	}
}

func TestContextSubmitJobRoutesThroughMeshBreaker(t *testing.T) {
	ctx, _ := testContext(t)
	now := time.Unix(0, 0)
	manifest := dummyManifestCID(t)
	id, err := ctx.SubmitJob("did:key:submitter", manifest, 100, now)
	if err != nil {
		t.Fatalf("SubmitJob: %v", err)
	}
	rec, ok := ctx.Mesh.Get(id)
	if !ok {
		t.Fatalf("expected job to be recorded")
	}
	if rec.State != mesh.Bidding {
		t.Fatalf("expected SubmitJob to open bidding immediately, got %s", rec.State)
	}
}

func TestBiddingCloseSweepFailsJobWithNoBidsAfterDeadline(t *testing.T) {
	ctx, _ := testContext(t)
	now := time.Unix(0, 0)
	manifest := dummyManifestCID(t)
	id, err := ctx.SubmitJob("did:key:submitter", manifest, 100, now)
	if err != nil {
		t.Fatalf("SubmitJob: %v", err)
	}

	selector := ctx.ExecutorSelector(ctx.SelectionPolicy(), now)
	past := now.Add(time.Hour)
	if err := ctx.Mesh.CloseBidding(id, selector, past); err != nil {
		t.Fatalf("CloseBidding: %v", err)
	}
	rec, _ := ctx.Mesh.Get(id)
	if rec.State != mesh.Failed || rec.Reason != mesh.NoBids {
		t.Fatalf("expected Failed{NoBids} after sweep with no bids, got %s/%s", rec.State, rec.Reason)
	}
}

func TestDefaultTasksBiddingCloseSweepClosesExpiredWindow(t *testing.T) {
	ctx, _ := testContext(t)
	now := time.Unix(0, 0)
	manifest := dummyManifestCID(t)
	id, err := ctx.SubmitJob("did:key:submitter", manifest, 100, now)
	if err != nil {
		t.Fatalf("SubmitJob: %v", err)
	}

	tasks := DefaultTasks(ctx, time.Second, time.Minute, time.Minute)
	var sweep Task
	for _, task := range tasks {
		if task.Name == "bidding_close_sweep" {
			sweep = task
		}
	}
	if sweep.Run == nil {
		t.Fatalf("expected DefaultTasks to include bidding_close_sweep")
	}

	// Before the bid window elapses the sweep must leave the job alone.
	sweep.Run(now)
	rec, _ := ctx.Mesh.Get(id)
	if rec.State != mesh.Bidding {
		t.Fatalf("expected job still Bidding before its window elapses, got %s", rec.State)
	}

	sweep.Run(now.Add(time.Hour))
	rec, _ = ctx.Mesh.Get(id)
	if rec.State != mesh.Failed || rec.Reason != mesh.NoBids {
		t.Fatalf("expected sweep to fail the job with NoBids once its window elapsed, got %s/%s", rec.State, rec.Reason)
	}
}

func TestShutdownClosesOverlayAndCancelsDone(t *testing.T) {
	ctx, overlay := testContext(t)
	select {
	case <-ctx.Done():
		t.Fatalf("expected Done to be open before shutdown")
	default:
	}
	ctx.Shutdown()
	select {
	case <-ctx.Done():
	default:
		t.Fatalf("expected Done to be closed after shutdown")
	}
	if !overlay.closed {
		t.Fatalf("expected Shutdown to close the federation overlay")
	}
	ctx.Shutdown() // idempotent
}

func TestSchedulerRunsTaskUntilShutdown(t *testing.T) {
	ctx, _ := testContext(t)
	ticks := make(chan struct{}, 16)
	sched := NewScheduler(ctx)
	sched.Start(Task{
		Name:     "tick",
		Interval: time.Millisecond,
		Run: func(now time.Time) {
			select {
			case ticks <- struct{}{}:
			default:
			}
		},
	})

	select {
	case <-ticks:
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("expected task to tick at least once")
	}

	ctx.Shutdown()
	done := make(chan struct{})
	go func() { sched.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("expected scheduler to stop after shutdown")
	}
}

func TestHealthMonitorSnapshotReportsBreakerStates(t *testing.T) {
	ctx, _ := testContext(t)
	snap := ctx.health.Snapshot()
	if snap.Breakers["mana"] != "closed" {
		t.Fatalf("expected mana breaker closed, got %s", snap.Breakers["mana"])
	}
	if snap.ManaAccounts != 1 {
		t.Fatalf("expected 1 open mana account, got %d", snap.ManaAccounts)
	}
}

func TestRecoverableClassifiesPermanentVsTransient(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{mana.ErrInsufficientMana, false},
		{dag.ErrNotFound, false},
		{mesh.ErrJobNotFound, false},
		{governance.ErrAlreadyExecuted, false},
		{errors.New("unclassified transient failure"), true},
	}
	for _, c := range cases {
		if got := Recoverable(c.err); got != c.want {
			t.Fatalf("Recoverable(%v) = %v, want %v", c.err, got, c.want)
		}
	}
}
