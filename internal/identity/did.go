package identity

import (
	"crypto/ed25519"
	"fmt"
	"strings"

	"github.com/multiformats/go-multibase"
)

// Method names the three DID methods spec §3 requires the resolver to
// understand.
type Method string

const (
	MethodKey  Method = "key"
	MethodPeer Method = "peer"
	MethodWeb  Method = "web"
)

// ed25519PubMulticodec is the multicodec varint prefix (0xed, 0x01) for an
// Ed25519 public key, per the did:key spec's key-type table.
var ed25519PubMulticodec = []byte{0xed, 0x01}

// DID is the parsed tuple (method, id_string) from spec §3. Its canonical
// string form is did:<method>:<id>.
type DID struct {
	Method Method
	ID     string
}

func (d DID) String() string {
	return fmt.Sprintf("did:%s:%s", d.Method, d.ID)
}

// ParseDID splits a canonical did:<method>:<id> string into its tuple.
// Anything that doesn't start with "did:" or that has an empty method or id
// segment is ErrMalformedDid.
func ParseDID(s string) (DID, error) {
	const prefix = "did:"
	if !strings.HasPrefix(s, prefix) {
		return DID{}, ErrMalformedDid
	}
	rest := s[len(prefix):]
	parts := strings.SplitN(rest, ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return DID{}, ErrMalformedDid
	}
	return DID{Method: Method(parts[0]), ID: parts[1]}, nil
}

// DIDFromVerifyingKey derives a self-certifying did:key identifier from an
// Ed25519 verifying key: multibase(base58btc, multicodec(ed25519-pub) ||
// rawKeyBytes).
func DIDFromVerifyingKey(vk ed25519.PublicKey) (DID, error) {
	if len(vk) != ed25519.PublicKeySize {
		return DID{}, fmt.Errorf("identity: did_from_verifying_key: invalid key size %d", len(vk))
	}
	prefixed := append(append([]byte{}, ed25519PubMulticodec...), vk...)
	encoded, err := multibase.Encode(multibase.Base58BTC, prefixed)
	if err != nil {
		return DID{}, fmt.Errorf("identity: encode did:key: %w", err)
	}
	return DID{Method: MethodKey, ID: encoded}, nil
}

// VerifyingKeyFromDIDKey recovers the Ed25519 verifying key self-certified
// in a did:key identifier's id string.
func VerifyingKeyFromDIDKey(id string) (ed25519.PublicKey, error) {
	_, data, err := multibase.Decode(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedDid, err)
	}
	if len(data) != len(ed25519PubMulticodec)+ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: unexpected key length %d", ErrMalformedDid, len(data))
	}
	for i, b := range ed25519PubMulticodec {
		if data[i] != b {
			return nil, fmt.Errorf("%w: unsupported key multicodec", ErrMalformedDid)
		}
	}
	vk := make(ed25519.PublicKey, ed25519.PublicKeySize)
	copy(vk, data[len(ed25519PubMulticodec):])
	return vk, nil
}
