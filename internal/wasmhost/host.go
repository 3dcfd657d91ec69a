// Package wasmhost implements the WASM host ABI of spec §4.11: loading a
// module by CID, instantiating it with a metered linker exposing
// host_account_get_mana/host_submit_mesh_job/host_anchor_receipt/
// host_get_reputation, enforcing execution-time/memory/instruction
// bounds, and deriving deterministic contract addresses. Grounded on
// core/virtual_machine.go's HeavyVM/registerHost wasmer-go wiring (store/
// module/instance construction, read/write memory closures, NewFunction
// signatures) generalized from EVM-style opcodes to the ICN ABI.
package wasmhost

import (
	"errors"
	"fmt"
	"time"

	"github.com/wasmerio/wasmer-go/wasmer"
	"golang.org/x/time/rate"

	"github.com/intercooperative/icn-core/internal/dag"
	"github.com/intercooperative/icn-core/internal/mana"
	"github.com/intercooperative/icn-core/internal/mesh"
	"github.com/intercooperative/icn-core/internal/reputation"
)

// ErrResourceLimitExceeded is returned when a module execution exceeds
// its time, memory, or instruction bound, per spec §4.11.
var ErrResourceLimitExceeded = errors.New("wasmhost: resource limit exceeded")

// Per-call mana costs for the metered ABI. Each host call is paid for
// atomically from the caller's account before the call proceeds;
// failure to pay aborts the call with a trap, per spec §4.11.
const (
	CostGetMana       = 1.0
	CostSubmitMeshJob = 10.0
	CostAnchorReceipt = 10.0
	CostGetReputation = 1.0
)

// ResourceLimits bounds a single module execution.
type ResourceLimits struct {
	MaxMemoryPages  uint32
	MaxInstructions uint64
	MaxDuration     time.Duration
}

// Host is the linker-side state shared by every ABI function exposed to
// a guest module: the mana ledger calls are metered against, the mesh
// manager host_submit_mesh_job enqueues into, the DAG store
// host_anchor_receipt writes to, and the reputation store
// host_get_reputation reads from.
type Host struct {
	Mana  *mana.Ledger
	Mesh  *mesh.Manager
	Store dag.BlockStore
	Rep   *reputation.Store

	// CallerDID is the module's deployer/caller identity, whose mana
	// account every metered host call is charged against.
	CallerDID string

	// limiter enforces host_call_rate_hz/host_call_burst (spec §5's
	// bounded-queue backpressure, applied here per-call instead of
	// per-queue since host calls are synchronous).
	limiter *rate.Limiter

	limits ResourceLimits

	// instructionsExecuted is a coarse proxy for "instructions" bounded
	// by counting host calls plus gas-metered guest opcodes is out of
	// scope for a Go host without a custom interpreter; this package
	// counts host ABI invocations as the instruction proxy instead.
	instructionsExecuted uint64
}

// NewHost constructs a Host bound to the given backends and limits.
// rateHz/burst configure the host-call metering bucket.
func NewHost(ml *mana.Ledger, mm *mesh.Manager, store dag.BlockStore, rep *reputation.Store, callerDID string, limits ResourceLimits, rateHz float64, burst int) *Host {
	return &Host{
		Mana:      ml,
		Mesh:      mm,
		Store:     store,
		Rep:       rep,
		CallerDID: callerDID,
		limiter:   rate.NewLimiter(rate.Limit(rateHz), burst),
		limits:    limits,
	}
}

// meter charges cost from CallerDID's mana account and consumes one unit
// of host-call rate budget, counting it toward the instruction bound.
// Returns a trap-worthy error on insufficient mana, rate exhaustion, or
// instruction-count overflow.
func (h *Host) meter(cost float64, now time.Time) error {
	h.instructionsExecuted++
	if h.limits.MaxInstructions > 0 && h.instructionsExecuted > h.limits.MaxInstructions {
		return ErrResourceLimitExceeded
	}
	if !h.limiter.Allow() {
		return fmt.Errorf("wasmhost: host call rate exceeded: %w", ErrResourceLimitExceeded)
	}
	if err := h.Mana.Spend(h.CallerDID, cost, now); err != nil {
		return fmt.Errorf("wasmhost: mana payment for host call: %w", err)
	}
	return nil
}
