package runtime

import (
	"sync"
	"time"
)

// Task is a named unit of periodic background work: the mesh
// bidding-close and timeout sweeps, governance proposal expiry, and the
// health snapshot are each one. Grounded on core/network.go's ListenAndServe goroutine-per-duty
// pattern, generalized into a named, cancelable set instead of the
// teacher's single hardcoded loop.
type Task struct {
	Name     string
	Interval time.Duration
	Run      func(now time.Time)
}

// Scheduler runs a fixed set of Tasks on their own tickers until the
// coordinator's context is cancelled, then waits for all of them to
// return before Wait unblocks.
type Scheduler struct {
	ctx *Context
	wg  sync.WaitGroup
}

// NewScheduler binds a Scheduler to ctx's cancellation signal.
func NewScheduler(ctx *Context) *Scheduler {
	return &Scheduler{ctx: ctx}
}

// Start launches one goroutine per task. Each goroutine exits as soon as
// ctx.Done() fires, even mid-tick.
func (s *Scheduler) Start(tasks ...Task) {
	for _, t := range tasks {
		t := t
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			ticker := time.NewTicker(t.Interval)
			defer ticker.Stop()
			for {
				select {
				case <-s.ctx.Done():
					return
				case now := <-ticker.C:
					func() {
						defer func() {
							if r := recover(); r != nil {
								s.ctx.log.WithField("task", t.Name).Errorf("runtime: task panic: %v", r)
							}
						}()
						t.Run(now)
					}()
				}
			}
		}()
	}
}

// Wait blocks until every task goroutine started by Start has returned.
// Callers call ctx.Shutdown() first to trigger that return.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// DefaultTasks builds the standard background duties every node runs: a
// mesh bidding-close sweep, a mesh timeout sweep, a governance
// proposal-expiry sweep, and a health snapshot tick. Callers may add
// more via Start's variadic tasks.
func DefaultTasks(ctx *Context, meshSweepInterval, governanceSweepInterval, healthInterval time.Duration) []Task {
	return []Task{
		{
			Name:     "bidding_close_sweep",
			Interval: meshSweepInterval,
			Run: func(now time.Time) {
				selector := ctx.ExecutorSelector(ctx.SelectionPolicy(), now)
				for _, id := range ctx.Mesh.ActiveJobIDs() {
					if err := ctx.Mesh.CloseBidding(id, selector, now); err != nil && Recoverable(err) {
						ctx.log.WithError(err).WithField("job", id).Debug("runtime: bidding close sweep")
					}
				}
			},
		},
		{
			Name:     "mesh_timeout_sweep",
			Interval: meshSweepInterval,
			Run: func(now time.Time) {
				for _, id := range ctx.Mesh.ActiveJobIDs() {
					if err := ctx.Mesh.CheckTimeout(id, now); err != nil && Recoverable(err) {
						ctx.log.WithError(err).WithField("job", id).Debug("runtime: mesh timeout sweep")
					}
				}
			},
		},
		{
			Name:     "governance_expiry_sweep",
			Interval: governanceSweepInterval,
			Run: func(now time.Time) {
				n := ctx.Governance.ExpireOpenProposals(now)
				if n > 0 {
					ctx.log.WithField("count", n).Info("runtime: expired open proposals")
				}
			},
		},
		{
			Name:     "health_snapshot",
			Interval: healthInterval,
			Run: func(now time.Time) {
				ctx.health.Snapshot()
			},
		},
	}
}
