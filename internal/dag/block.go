// Package dag implements the content-addressed DAG of spec §4.2: blocks
// keyed by a deterministic Merkle CID, an abstract BlockStore boundary
// (spec §6 treats the real backend as external), and the pruning
// algorithm. Grounded on core/storage.go and core/ipfs.go (CID handling,
// pinning, cache eviction) and original_source/crates/icn-dag/src/
// pruning.rs for the pruning algorithm's exact steps.
package dag

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	"github.com/ipfs/go-cid"
	mh "github.com/multiformats/go-multihash"

	"github.com/intercooperative/icn-core/pkg/classify"
)

// RawCodec is the only content codec this package computes CIDs for today
// — raw bytes under a DAG link structure. A real deployment could
// register additional codecs (dag-cbor, dag-json); the CID function takes
// the codec as an explicit parameter so that extension doesn't touch the
// hashing logic.
const RawCodec = cid.Raw

// Link is one outgoing edge from a block to another, named per spec §3.
type Link struct {
	CID  cid.Cid
	Name string
	Size uint64
}

// Block is the immutable content-addressed unit of spec §3. Signature and
// Scope are optional; an empty Signature means the block is unsigned data
// (still content-addressed, just not attributable), and an empty Scope
// means the block is ungrouped for federation purposes.
type Block struct {
	CID       cid.Cid
	Data      []byte
	Links     []Link
	Timestamp time.Time
	AuthorDID string
	Signature []byte
	Scope     string
}

// ComputeMerkleCID is a pure function of (codec, data, links, timestamp,
// author, signature, scope): spec §4.2 requires CID computation never
// consult ambient clocks or randomness, so every one of those inputs must
// be passed explicitly rather than read off the Block being validated.
func ComputeMerkleCID(codec uint64, data []byte, links []Link, timestamp time.Time, author string, signature []byte, scope string) (cid.Cid, error) {
	canonical := canonicalEncoding(data, links, timestamp, author, signature, scope)
	sum, err := mh.Sum(canonical, mh.SHA2_256, -1)
	if err != nil {
		return cid.Undef, fmt.Errorf("dag: hash canonical encoding: %w", err)
	}
	return cid.NewCidV1(codec, sum), nil
}

// canonicalEncoding produces a deterministic byte string over a block's
// fields. Links are sorted by CID bytes first so link ordering supplied by
// a caller never changes the resulting hash — link order is not semantic.
func canonicalEncoding(data []byte, links []Link, timestamp time.Time, author string, signature []byte, scope string) []byte {
	sorted := append([]Link(nil), links...)
	sort.Slice(sorted, func(i, j int) bool {
		return bytes.Compare(sorted[i].CID.Bytes(), sorted[j].CID.Bytes()) < 0
	})

	var buf bytes.Buffer
	writeLenPrefixed(&buf, data)

	var tsBuf [8]byte
	binary.BigEndian.PutUint64(tsBuf[:], uint64(timestamp.UTC().UnixNano()))
	buf.Write(tsBuf[:])

	writeLenPrefixed(&buf, []byte(author))
	writeLenPrefixed(&buf, signature)
	writeLenPrefixed(&buf, []byte(scope))

	var countBuf [8]byte
	binary.BigEndian.PutUint64(countBuf[:], uint64(len(sorted)))
	buf.Write(countBuf[:])
	for _, l := range sorted {
		writeLenPrefixed(&buf, l.CID.Bytes())
		writeLenPrefixed(&buf, []byte(l.Name))
		var szBuf [8]byte
		binary.BigEndian.PutUint64(szBuf[:], l.Size)
		buf.Write(szBuf[:])
	}
	return buf.Bytes()
}

func writeLenPrefixed(buf *bytes.Buffer, b []byte) {
	var lenBuf [8]byte
	binary.BigEndian.PutUint64(lenBuf[:], uint64(len(b)))
	buf.Write(lenBuf[:])
	buf.Write(b)
}

// Validate recomputes b's CID from its fields and confirms it matches
// b.CID (spec §8: "for all DAG blocks B: compute_cid(B.fields) == B.cid").
func (b *Block) Validate() error {
	codec := b.CID.Type()
	want, err := ComputeMerkleCID(codec, b.Data, b.Links, b.Timestamp, b.AuthorDID, b.Signature, b.Scope)
	if err != nil {
		return classify.Internal("validate-block", err)
	}
	if !want.Equals(b.CID) {
		return classify.StorageIntegrity("validate-block",
			fmt.Errorf("cid mismatch: stored %s recomputed %s", b.CID, want))
	}
	return nil
}

// NewBlock computes the CID for the given fields and returns a ready Block.
func NewBlock(codec uint64, data []byte, links []Link, timestamp time.Time, author string, signature []byte, scope string) (*Block, error) {
	c, err := ComputeMerkleCID(codec, data, links, timestamp, author, signature, scope)
	if err != nil {
		return nil, err
	}
	return &Block{
		CID:       c,
		Data:      data,
		Links:     links,
		Timestamp: timestamp,
		AuthorDID: author,
		Signature: signature,
		Scope:     scope,
	}, nil
}

// Size approximates the on-disk footprint used by pruning's
// max_total_size accounting.
func (b *Block) Size() uint64 {
	n := len(b.Data) + len(b.Signature) + len(b.AuthorDID) + len(b.Scope)
	for _, l := range b.Links {
		n += len(l.Name) + 8 + len(l.CID.Bytes())
	}
	return uint64(n)
}

func cidKey(c cid.Cid) string { return hex.EncodeToString(c.Bytes()) }
