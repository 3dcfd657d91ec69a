package wasmhost

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ipfs/go-cid"
	"github.com/wasmerio/wasmer-go/wasmer"

	"github.com/intercooperative/icn-core/internal/dag"
)

// memAccessor exposes the reads/writes host functions need against the
// guest's exported linear memory, resolved lazily since the memory
// export isn't known until after instantiation (mirrors
// core/virtual_machine.go's hctx.mem wiring).
type memAccessor struct {
	mem *wasmer.Memory
}

func (a *memAccessor) read(ptr, length int32) []byte {
	data := a.mem.Data()
	out := make([]byte, length)
	copy(out, data[ptr:ptr+length])
	return out
}

func (a *memAccessor) write(ptr int32, data []byte) {
	copy(a.mem.Data()[ptr:], data)
}

type submitJobPayload struct {
	ManifestCID string  `json:"manifest_cid"`
	CostMana    float64 `json:"cost_mana"`
}

type anchorReceiptPayload struct {
	Data      []byte `json:"data"`
	AuthorDID string `json:"author_did"`
}

// buildImports registers the four ABI functions of spec §4.11 against
// store, metering each through h. mem is filled in by the caller once
// the instance's memory export is resolved.
func buildImports(store *wasmer.Store, h *Host, now func() time.Time, mem *memAccessor) *wasmer.ImportObject {
	imports := wasmer.NewImportObject()

	i32 := wasmer.ValueKind(wasmer.I32)
	i64 := wasmer.ValueKind(wasmer.I64)

	getMana := wasmer.NewFunction(
		store,
		wasmer.NewFunctionType(wasmer.NewValueTypes(), wasmer.NewValueTypes(i64)),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			if err := h.meter(CostGetMana, now()); err != nil {
				return nil, err
			}
			bal, err := h.Mana.GetBalance(h.CallerDID, now())
			if err != nil {
				return nil, fmt.Errorf("wasmhost: host_account_get_mana: %w", err)
			}
			return []wasmer.Value{wasmer.NewI64(int64(bal))}, nil
		},
	)

	submitMeshJob := wasmer.NewFunction(
		store,
		wasmer.NewFunctionType(wasmer.NewValueTypes(i32, i32), wasmer.NewValueTypes()),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			if err := h.meter(CostSubmitMeshJob, now()); err != nil {
				return nil, err
			}
			raw := mem.read(args[0].I32(), args[1].I32())
			var payload submitJobPayload
			if err := json.Unmarshal(raw, &payload); err != nil {
				return nil, fmt.Errorf("wasmhost: host_submit_mesh_job: decode payload: %w", err)
			}
			manifest, err := cid.Decode(payload.ManifestCID)
			if err != nil {
				return nil, fmt.Errorf("wasmhost: host_submit_mesh_job: decode manifest cid: %w", err)
			}
			jobID, err := h.Mesh.SubmitJob(h.CallerDID, manifest, payload.CostMana, now())
			if err != nil {
				return nil, fmt.Errorf("wasmhost: host_submit_mesh_job: %w", err)
			}
			if err := h.Mesh.AnnounceForBidding(jobID, now()); err != nil {
				return nil, fmt.Errorf("wasmhost: host_submit_mesh_job: announce for bidding: %w", err)
			}
			return nil, nil
		},
	)

	anchorReceipt := wasmer.NewFunction(
		store,
		wasmer.NewFunctionType(wasmer.NewValueTypes(i32, i32), wasmer.NewValueTypes()),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			if err := h.meter(CostAnchorReceipt, now()); err != nil {
				return nil, err
			}
			raw := mem.read(args[0].I32(), args[1].I32())
			var payload anchorReceiptPayload
			if err := json.Unmarshal(raw, &payload); err != nil {
				return nil, fmt.Errorf("wasmhost: host_anchor_receipt: decode payload: %w", err)
			}
			block, err := dag.NewBlock(dag.RawCodec, payload.Data, nil, now(), payload.AuthorDID, nil, "")
			if err != nil {
				return nil, fmt.Errorf("wasmhost: host_anchor_receipt: build block: %w", err)
			}
			if err := h.Store.Put(block); err != nil {
				return nil, fmt.Errorf("wasmhost: host_anchor_receipt: %w", err)
			}
			return nil, nil
		},
	)

	getReputation := wasmer.NewFunction(
		store,
		wasmer.NewFunctionType(wasmer.NewValueTypes(i32, i32), wasmer.NewValueTypes(i64)),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			if err := h.meter(CostGetReputation, now()); err != nil {
				return nil, err
			}
			did := string(mem.read(args[0].I32(), args[1].I32()))
			score, err := h.Rep.GetReputation(did)
			if err != nil {
				return nil, fmt.Errorf("wasmhost: host_get_reputation: %w", err)
			}
			// Scaled to a fixed-point integer since WASM has no native
			// float ABI boundary guarantee here; 1e6 preserves six
			// decimal digits of the [0,1] score.
			return []wasmer.Value{wasmer.NewI64(int64(score * 1e6))}, nil
		},
	)

	imports.Register("env", map[string]wasmer.IntoExtern{
		"host_account_get_mana": getMana,
		"host_submit_mesh_job":  submitMeshJob,
		"host_anchor_receipt":   anchorReceipt,
		"host_get_reputation":   getReputation,
	})
	return imports
}
