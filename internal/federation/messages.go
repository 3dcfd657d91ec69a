// Package federation implements the federation sync layer of spec §4.7:
// wire message types, conflict detection and resolution, capped delta
// sync, and a priority block-request queue, carried over a libp2p
// overlay. Grounded on core/network.go's libp2p+pubsub node bootstrap
// and on original_source/crates/icn-dag/tests/
// federation_sync_integration.rs and
// original_source/crates/icn-runtime/src/context/mesh_network.rs for the
// message shapes and conflict semantics.
package federation

import (
	"time"

	"github.com/ipfs/go-cid"
)

// SyncStatusRequest asks a peer for its current DAG tip summary.
type SyncStatusRequest struct {
	RequesterDID string
}

// SyncStatusResponse reports a peer's current tips and block count.
type SyncStatusResponse struct {
	ResponderDID string
	Tips         []cid.Cid
	BlockCount   int
}

// BlockRequest asks a peer for a specific block. Priority lets
// governance/receipt blocks preempt bulk sync in the request queue.
type BlockRequest struct {
	CID      cid.Cid
	Priority int
}

// BlockResponse carries a single requested block's raw bytes, or Found
// is false if the peer doesn't have it.
type BlockResponse struct {
	CID   cid.Cid
	Data  []byte
	Found bool
}

// DeltaSyncRequest asks for every block reachable from the responder's
// tips but not reachable from SinceRoot (or every block reachable from
// the tips, if HasSince is false), capped at MaxBlocks.
type DeltaSyncRequest struct {
	SinceRoot cid.Cid
	HasSince  bool
	MaxBlocks int
}

// DeltaSyncResponse returns the capped delta and whether more blocks
// remain beyond the cap.
type DeltaSyncResponse struct {
	Blocks    []BlockResponse
	Truncated bool
}

// queuedRequest attaches an arrival time to queued block requests for
// earliest-arrival tiebreaking.
type queuedRequest struct {
	req BlockRequest
	at  time.Time
}
