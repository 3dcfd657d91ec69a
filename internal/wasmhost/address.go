package wasmhost

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/crypto"
)

// DeriveContractAddress computes a deterministic contract address as
// hash(code || deployer || timestamp) truncated to 20 bytes, per spec
// §4.11. Grounded on core/virtual_machine.go's CreateContract, which
// derives addresses via crypto.Keccak256 truncated the same way (there,
// over caller||nonce; here, the spec's explicit fields).
func DeriveContractAddress(code []byte, deployerDID string, timestampUnixNano int64) [20]byte {
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(timestampUnixNano))

	buf := make([]byte, 0, len(code)+len(deployerDID)+len(ts))
	buf = append(buf, code...)
	buf = append(buf, deployerDID...)
	buf = append(buf, ts[:]...)

	digest := crypto.Keccak256(buf)
	var addr [20]byte
	copy(addr[:], digest[:20])
	return addr
}
