package identity

import (
	"crypto/ed25519"
	crand "crypto/rand"
	"fmt"
)

// GenerateKeypair produces a fresh Ed25519 signing/verifying pair. ICN
// identity keys are always Ed25519 — no secp256k1 or BLS variant is
// supported, matching spec §4.1.
func GenerateKeypair() (ed25519.PrivateKey, ed25519.PublicKey, error) {
	vk, sk, err := ed25519.GenerateKey(crand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("identity: generate keypair: %w", err)
	}
	return sk, vk, nil
}

// Sign produces a detached signature over bytes using sk.
func Sign(sk ed25519.PrivateKey, data []byte) ([]byte, error) {
	if len(sk) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("identity: sign: invalid private key size %d", len(sk))
	}
	return ed25519.Sign(sk, data), nil
}

// Verify checks sig over data against vk. It never panics on malformed
// inputs (unlike ed25519.Verify on a short key), returning false instead.
func Verify(vk ed25519.PublicKey, data, sig []byte) bool {
	if len(vk) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(vk, data, sig)
}
