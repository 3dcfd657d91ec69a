// Package mana implements the regenerative mana ledger of spec §4.4:
// capacity-aware, time-continuous resource accounting, plus the
// anti-speculation token rules of spec §4.4's closing paragraph (a
// separate, fungible-token ledger distinct from mana itself). Grounded on
// core/coin.go and core/common_structs.go's mutex-guarded Coin/ledger
// pattern; the κ/σ/β/η regeneration formula itself has no teacher
// analogue and follows original_source/crates/icn-economics.
package mana

import "math"

// OrgType weights an account's regeneration rate by the kind of
// organization operating it (spec §4.4's κ_org table).
type OrgType int

const (
	OrgCooperative OrgType = iota
	OrgCommunity
	OrgDefaultFederation
	OrgFederation
	OrgUnaffiliated
)

// Kappa returns κ_org for this organization type.
func (o OrgType) Kappa() float64 {
	switch o {
	case OrgCooperative:
		return 1.00
	case OrgCommunity:
		return 0.95
	case OrgDefaultFederation:
		return 1.10
	case OrgFederation:
		return 1.25
	case OrgUnaffiliated:
		return 0.70
	default:
		return 0.70
	}
}

// HardwareMetrics are the raw per-account measurements that feed the
// compute score σ. Each is compared against a NetworkAverage counterpart.
type HardwareMetrics struct {
	CPU       float64
	RAM       float64
	Storage   float64
	Bandwidth float64
	GPU       float64
	Uptime    float64
	Success   float64
}

// NetworkAverage holds the network-wide averages HardwareMetrics are
// measured against to produce the per-metric ratio inputs to σ.
type NetworkAverage struct {
	CPU       float64
	RAM       float64
	Storage   float64
	Bandwidth float64
	GPU       float64
	Uptime    float64
	Success   float64
}

// computeScoreWeights mirror spec §4.4 exactly: CPU 0.25, RAM 0.20,
// storage 0.15, bandwidth 0.15, GPU 0.10, uptime 0.10, success 0.05.
const (
	wCPU       = 0.25
	wRAM       = 0.20
	wStorage   = 0.15
	wBandwidth = 0.15
	wGPU       = 0.10
	wUptime    = 0.10
	wSuccess   = 0.05

	// ratioCap bounds a single metric's contribution so one account with
	// wildly above-average hardware can't dominate the network-wide
	// regeneration pool.
	ratioCap = 2.0
)

func ratio(value, avg float64) float64 {
	if avg <= 0 {
		return 0
	}
	r := value / avg
	if r > ratioCap {
		r = ratioCap
	}
	if r < 0 {
		r = 0
	}
	return r
}

// ComputeScore returns σ, the weighted-ratio compute score comparing m
// against avg.
func ComputeScore(m HardwareMetrics, avg NetworkAverage) float64 {
	return wCPU*ratio(m.CPU, avg.CPU) +
		wRAM*ratio(m.RAM, avg.RAM) +
		wStorage*ratio(m.Storage, avg.Storage) +
		wBandwidth*ratio(m.Bandwidth, avg.Bandwidth) +
		wGPU*ratio(m.GPU, avg.GPU) +
		wUptime*ratio(m.Uptime, avg.Uptime) +
		wSuccess*ratio(m.Success, avg.Success)
}

// ClampTrustMultiplier enforces β ∈ [0.5, 2.0].
func ClampTrustMultiplier(beta float64) float64 { return clamp(beta, 0.5, 2.0) }

// ClampParticipationFactor enforces η ∈ [0.3, 1.5].
func ClampParticipationFactor(eta float64) float64 { return clamp(eta, 0.3, 1.5) }

func clamp(v, lo, hi float64) float64 { return math.Max(lo, math.Min(hi, v)) }
