package identity

import (
	"context"
	"crypto/ed25519"
	"fmt"
)

// PeerMethodResolver resolves did:peer identifiers using numalgo-0 style
// self-certification — identical key encoding to did:key, but registered
// under the "peer" method so callers can distinguish transport-local peer
// identifiers from globally-published did:key identifiers.
type PeerMethodResolver struct{}

func (PeerMethodResolver) Method() Method { return MethodPeer }

func (PeerMethodResolver) Resolve(_ context.Context, did DID) (ed25519.PublicKey, error) {
	if did.Method != MethodPeer {
		return nil, ErrUnsupportedMethod
	}
	return VerifyingKeyFromDIDKey(did.ID)
}

// WebKeyFetcher fetches the verifying key published at a did:web identifier.
// The concrete implementation lives outside this package (it needs an HTTP
// client and DID-document parsing), matching spec §6's treatment of network
// access as an external, consumed interface.
type WebKeyFetcher interface {
	FetchKey(ctx context.Context, id string) (ed25519.PublicKey, error)
}

// WebMethodResolver resolves did:web identifiers via an injected fetcher.
// Fetch failures are reported wrapping ErrNetworkFailure. The resolver does
// not treat this as a hard blocker: with fallback enabled it tries the
// fallback chain, and returns this error if no fallback method resolves.
type WebMethodResolver struct {
	Fetcher WebKeyFetcher
}

func (WebMethodResolver) Method() Method { return MethodWeb }

func (r WebMethodResolver) Resolve(ctx context.Context, did DID) (ed25519.PublicKey, error) {
	if did.Method != MethodWeb {
		return nil, ErrUnsupportedMethod
	}
	if r.Fetcher == nil {
		return nil, fmt.Errorf("identity: did:web resolver has no fetcher configured")
	}
	vk, err := r.Fetcher.FetchKey(ctx, did.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetworkFailure, err)
	}
	return vk, nil
}
