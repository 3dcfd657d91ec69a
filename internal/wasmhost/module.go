package wasmhost

import (
	"errors"
	"fmt"
	"time"

	"github.com/wasmerio/wasmer-go/wasmer"
)

// Module wraps a compiled wasmer module, loaded once and instantiated
// per execution (each instantiation gets a fresh linear memory and
// import set, matching core/virtual_machine.go's per-call VM
// construction rather than a shared mutable instance).
type Module struct {
	engine *wasmer.Engine
	store  *wasmer.Store
	module *wasmer.Module
}

// LoadModule compiles code under a fresh engine/store pair.
func LoadModule(code []byte) (*Module, error) {
	engine := wasmer.NewEngine()
	store := wasmer.NewStore(engine)
	mod, err := wasmer.NewModule(store, code)
	if err != nil {
		return nil, fmt.Errorf("wasmhost: compile module: %w", err)
	}
	return &Module{engine: engine, store: store, module: mod}, nil
}

// Result carries a completed execution's outcome.
type Result struct {
	Trapped bool
	Error   string
}

// Execute instantiates m, links it against h's ABI, and runs its _start
// export, bounded by h's ResourceLimits. Guest memory larger than
// MaxMemoryPages or a run exceeding MaxDuration both produce
// ErrResourceLimitExceeded; a host-call metering failure surfaces as a
// guest trap per spec §4.11.
func Execute(m *Module, h *Host) (Result, error) {
	mem := &memAccessor{}
	imports := buildImports(m.store, h, time.Now, mem)

	instance, err := wasmer.NewInstance(m.module, imports)
	if err != nil {
		return Result{}, fmt.Errorf("wasmhost: instantiate module: %w", err)
	}

	guestMem, err := instance.Exports.GetMemory("memory")
	if err != nil {
		return Result{}, errors.New("wasmhost: wasm memory export missing")
	}
	mem.mem = guestMem

	if h.limits.MaxMemoryPages > 0 && uint32(guestMem.Size()) > h.limits.MaxMemoryPages {
		return Result{}, ErrResourceLimitExceeded
	}

	start, err := instance.Exports.GetFunction("_start")
	if err != nil {
		return Result{}, errors.New("wasmhost: _start function required")
	}

	type outcome struct {
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		_, err := start()
		done <- outcome{err: err}
	}()

	var timeout <-chan time.Time
	if h.limits.MaxDuration > 0 {
		timer := time.NewTimer(h.limits.MaxDuration)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case o := <-done:
		if o.err != nil {
			if errors.Is(o.err, ErrResourceLimitExceeded) {
				return Result{}, ErrResourceLimitExceeded
			}
			return Result{Trapped: true, Error: o.err.Error()}, nil
		}
		return Result{}, nil
	case <-timeout:
		return Result{}, ErrResourceLimitExceeded
	}
}
