package runtime

import (
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Snapshot is a point-in-time view of node health, grounded on
// core/system_health_logging.go's Metrics struct: the teacher exposes
// chain height/peer count/mem stats the same way this exposes
// mana-account count/dag block count/breaker states.
type Snapshot struct {
	Timestamp     time.Time
	NodeDID       string
	ManaAccounts  int
	DagBlocks     int
	MemAllocBytes uint64
	NumGoroutines int
	Breakers      map[string]string
}

// HealthMonitor periodically gathers a Snapshot and records it into a
// prometheus registry, the one ambient singleton spec §9 permits.
// Grounded on core/system_health_logging.go's HealthLogger, generalized
// from chain-specific gauges to ICN's component set.
type HealthMonitor struct {
	ctx *Context

	mu       sync.Mutex
	registry *prometheus.Registry

	manaAccountsGauge prometheus.Gauge
	dagBlocksGauge    prometheus.Gauge
	memAllocGauge     prometheus.Gauge
	goroutinesGauge   prometheus.Gauge
	breakerOpenGauge  *prometheus.GaugeVec
}

// NewHealthMonitor registers a fresh set of gauges against a private
// registry (never the global default registry, so multiple Contexts in
// one process — as tests construct — don't collide on registration).
func NewHealthMonitor(c *Context) *HealthMonitor {
	reg := prometheus.NewRegistry()
	h := &HealthMonitor{
		ctx:      c,
		registry: reg,
		manaAccountsGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "icn_mana_accounts",
			Help: "Number of open mana accounts",
		}),
		dagBlocksGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "icn_dag_blocks",
			Help: "Number of blocks known to the local DAG store",
		}),
		memAllocGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "icn_mem_alloc_bytes",
			Help: "Current heap allocation in bytes",
		}),
		goroutinesGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "icn_goroutines",
			Help: "Number of running goroutines",
		}),
		breakerOpenGauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "icn_circuit_breaker_open",
			Help: "1 if the named circuit breaker is open, else 0",
		}, []string{"breaker"}),
	}
	reg.MustRegister(h.manaAccountsGauge, h.dagBlocksGauge, h.memAllocGauge, h.goroutinesGauge, h.breakerOpenGauge)
	return h
}

// Registry exposes the private prometheus registry for an HTTP handler
// to serve (via promhttp.HandlerFor), mirroring how HealthLogger's
// registry is wired into a metrics endpoint by its caller.
func (h *HealthMonitor) Registry() *prometheus.Registry { return h.registry }

// Snapshot gathers current component counts and updates the gauges.
func (h *HealthMonitor) Snapshot() Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()

	s := Snapshot{Timestamp: time.Now(), NodeDID: h.ctx.NodeDID(), NumGoroutines: runtime.NumGoroutine(), Breakers: make(map[string]string)}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	s.MemAllocBytes = mem.Alloc

	if blocks, err := h.ctx.Dag.ListBlocks(); err == nil {
		s.DagBlocks = len(blocks)
	}
	if h.ctx.Mana != nil {
		s.ManaAccounts = h.ctx.Mana.AccountCount()
	}

	for name, b := range h.ctx.Breakers() {
		state := b.State()
		s.Breakers[name] = state
		open := 0.0
		if state == "open" {
			open = 1.0
		}
		h.breakerOpenGauge.WithLabelValues(name).Set(open)
	}

	h.manaAccountsGauge.Set(float64(s.ManaAccounts))
	h.dagBlocksGauge.Set(float64(s.DagBlocks))
	h.memAllocGauge.Set(float64(s.MemAllocBytes))
	h.goroutinesGauge.Set(float64(s.NumGoroutines))

	return s
}
