// Package runtime coordinates the other eleven components into a single
// running node: constructing them in dependency order, classifying the
// errors they return as permanent or recoverable, wrapping the
// recoverable ones in per-subsystem circuit breakers, exposing health and
// prometheus metrics, and running a cooperative shutdown sequence.
// Grounded on core/network.go's Node construction/Close pattern and
// core/system_health_logging.go's HealthLogger (prometheus registry,
// logrus JSON logging); the circuit breaker is grounded on
// original_source/crates/icn-runtime/src/context/resilient_context.rs,
// which wraps mana/dag/job operations in breakers configured with a
// failure_threshold of 5, a 30s recovery_timeout, and a success_threshold
// of 3 — the concrete open/half-open/closed state machine those breakers
// delegate to lives in a crate this pack's retrieval did not include, so
// the state machine itself follows the textbook three-state design the
// file's own doc comments describe, parameterized the same way.
package runtime

import (
	"errors"

	"github.com/intercooperative/icn-core/internal/dag"
	"github.com/intercooperative/icn-core/internal/governance"
	"github.com/intercooperative/icn-core/internal/mana"
	"github.com/intercooperative/icn-core/internal/mesh"
	"github.com/intercooperative/icn-core/internal/wasmhost"
	"github.com/intercooperative/icn-core/pkg/classify"
)

// Recoverable reports whether err is worth retrying through a circuit
// breaker rather than surfaced immediately to the caller. mana and dag
// errors already carry a pkg/classify Kind, so those defer to
// classify.IsTransient by default; mesh, governance, and wasmhost
// predate that taxonomy and still return sentinel errors, so those (and
// the mana/dag sentinels, matched directly via errors.Is regardless of
// classify wrapping) are classified here by hand the way
// resilient_context.rs's ICNErrorClassifier lists each error variant
// explicitly.
func Recoverable(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, mesh.ErrJobNotFound),
		errors.Is(err, mesh.ErrInvalidState),
		errors.Is(err, governance.ErrNotFound),
		errors.Is(err, governance.ErrInvalidState),
		errors.Is(err, governance.ErrAlreadyExecuted),
		errors.Is(err, mana.ErrInsufficientMana),
		errors.Is(err, mana.ErrAccountNotFound),
		errors.Is(err, dag.ErrNotFound),
		errors.Is(err, dag.ErrAlreadyExists):
		return false
	case errors.Is(err, wasmhost.ErrResourceLimitExceeded):
		return true
	}
	if classify.Of(err) != classify.KindInternal {
		return classify.IsTransient(err)
	}
	// Unclassified errors (including mana/dag errors that classify.Of
	// reports as KindInternal by default, and anything this taxonomy has
	// never seen) default to recoverable: a subsystem wrapped in a
	// breaker should fail closed rather than bypass it for an error
	// shape it doesn't recognize, per resilient_context.rs's
	// default-to-recoverable fallback for CommonError::InternalError.
	return true
}
