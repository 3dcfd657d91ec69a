package runtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ipfs/go-cid"
	"github.com/sirupsen/logrus"

	"github.com/intercooperative/icn-core/internal/dag"
	"github.com/intercooperative/icn-core/internal/federation"
	"github.com/intercooperative/icn-core/internal/governance"
	"github.com/intercooperative/icn-core/internal/identity"
	"github.com/intercooperative/icn-core/internal/mana"
	"github.com/intercooperative/icn-core/internal/mesh"
	"github.com/intercooperative/icn-core/internal/reputation"
	"github.com/intercooperative/icn-core/internal/selection"
	"github.com/intercooperative/icn-core/internal/trust"
	"github.com/intercooperative/icn-core/internal/wasmhost"
)

// Config gathers the coordinator's own construction parameters. The
// components it wires together (mana.Ledger, dag.BlockStore, and so on)
// are each built from their own Policy by the caller, since they need
// backends chosen at startup; Config covers only what the coordinator
// itself owns.
type Config struct {
	NodeDID         string
	BreakerConfig   BreakerConfig
	SelectionPolicy selection.Policy
	Log             *logrus.Logger
}

// Context is the coordinator wiring every ICN component into a single
// running node: it owns each subsystem, a breaker in front of the ones
// that talk to something that can legitimately fail transiently (mana,
// dag, mesh), and the shared cancellation signal the scheduler and
// health loop select on. Grounded on core/network.go's Node struct,
// which plays the same role for the teacher's libp2p/ledger/txpool set.
type Context struct {
	cfg Config
	log *logrus.Logger

	Identity    *identity.Resolver
	Dag         dag.BlockStore
	Mana        *mana.Ledger
	Reputation  *reputation.Store
	Trust       *trust.Graph
	Federation  federation.Overlay
	Governance  *governance.Engine
	Mesh        *mesh.Manager
	WasmHost    *wasmhost.Host

	manaBreaker  *Breaker
	dagBreaker   *Breaker
	meshBreaker  *Breaker

	health *HealthMonitor

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	shutdown bool
}

// New constructs a Context from its already-built component handles. The
// components themselves are constructed by callers (cmd/icnd/main.go)
// since several of them need backends (an Overlay, a BlockStore) chosen
// at startup rather than hardcoded here, per spec §6's external-adapter
// boundary.
func New(cfg Config, ident *identity.Resolver, store dag.BlockStore, ledger *mana.Ledger, rep *reputation.Store, trustGraph *trust.Graph, overlay federation.Overlay, gov *governance.Engine, meshMgr *mesh.Manager, wasmHost *wasmhost.Host) *Context {
	log := cfg.Log
	if log == nil {
		log = logrus.New()
	}
	bcfg := cfg.BreakerConfig
	if bcfg == (BreakerConfig{}) {
		bcfg = DefaultBreakerConfig()
	}
	ctx, cancel := context.WithCancel(context.Background())

	c := &Context{
		cfg:         cfg,
		log:         log,
		Identity:    ident,
		Dag:         store,
		Mana:        ledger,
		Reputation:  rep,
		Trust:       trustGraph,
		Federation:  overlay,
		Governance:  gov,
		Mesh:        meshMgr,
		WasmHost:    wasmHost,
		manaBreaker: NewBreaker("mana", bcfg),
		dagBreaker:  NewBreaker("dag", bcfg),
		meshBreaker: NewBreaker("mesh", bcfg),
		ctx:         ctx,
		cancel:      cancel,
	}
	c.health = NewHealthMonitor(c)
	return c
}

// NodeDID returns the DID this coordinator was built for.
func (c *Context) NodeDID() string { return c.cfg.NodeDID }

// SelectionPolicy returns the bid-scoring weights configured for this
// node, used by the bidding-close sweep to build a selector.
func (c *Context) SelectionPolicy() selection.Policy { return c.cfg.SelectionPolicy }

// SpendMana routes a mana debit through the mana breaker.
func (c *Context) SpendMana(did string, amount float64, now time.Time) error {
	_, err := Call(c.manaBreaker, now, func() (struct{}, error) {
		return struct{}{}, c.Mana.Spend(did, amount, now)
	})
	return err
}

// PutBlock routes a DAG write through the dag breaker.
func (c *Context) PutBlock(b *dag.Block) error {
	_, err := Call(c.dagBreaker, time.Now(), func() (struct{}, error) {
		return struct{}{}, c.Dag.Put(b)
	})
	return err
}

// SubmitJob routes a mesh job submission through the mesh breaker and
// immediately opens its bidding window, so a submitted job never sits
// in Pending waiting on a separate call the caller might forget to make.
func (c *Context) SubmitJob(submitter string, manifest cid.Cid, costMana float64, now time.Time) (string, error) {
	return Call(c.meshBreaker, now, func() (string, error) {
		id, err := c.Mesh.SubmitJob(submitter, manifest, costMana, now)
		if err != nil {
			return "", err
		}
		if err := c.Mesh.AnnounceForBidding(id, now); err != nil {
			return "", fmt.Errorf("mesh: announce job for bidding: %w", err)
		}
		return id, nil
	})
}

// Done returns the channel closed when Shutdown is called, for
// goroutines that select on it alongside their own work.
func (c *Context) Done() <-chan struct{} { return c.ctx.Done() }

// Shutdown cancels the coordinator's context exactly once, unblocking
// every goroutine selecting on Done. Safe to call more than once.
func (c *Context) Shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.shutdown {
		return
	}
	c.shutdown = true
	c.cancel()
	if c.Federation != nil {
		if err := c.Federation.Close(); err != nil {
			c.log.WithError(err).Warn("runtime: federation overlay close")
		}
	}
	c.log.WithField("node", c.cfg.NodeDID).Info("runtime: shutdown complete")
}

// Breakers exposes the coordinator's breakers by name for health
// reporting.
func (c *Context) Breakers() map[string]*Breaker {
	return map[string]*Breaker{"mana": c.manaBreaker, "dag": c.dagBreaker, "mesh": c.meshBreaker}
}

// HealthSnapshot gathers a fresh Snapshot on demand, for callers that
// want a one-off read rather than waiting on the scheduler's periodic
// tick.
func (c *Context) HealthSnapshot() Snapshot {
	return c.health.Snapshot()
}
