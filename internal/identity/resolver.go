package identity

import (
	"context"
	"crypto/ed25519"
	"errors"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"
)

// MethodResolver resolves a single DID method to a verifying key.
type MethodResolver interface {
	Method() Method
	Resolve(ctx context.Context, did DID) (ed25519.PublicKey, error)
}

// MethodStats tracks resolution outcomes for one method, surfaced for
// operator dashboards and for the fallback chain's ordering decisions.
type MethodStats struct {
	Successes uint64
	Failures  uint64
}

type cacheEntry struct {
	vk        ed25519.PublicKey
	expiresAt time.Time
}

// Resolver dispatches DID resolution to the MethodResolver registered for
// the DID's method, with a TTL+LRU cache keyed by the DID string and an
// optional preference-ordered fallback chain across the other registered
// methods when the primary resolution fails with a soft (non-hard-blocker)
// error.
type Resolver struct {
	mu            sync.Mutex
	cache         *lru.Cache[string, cacheEntry]
	ttl           time.Duration
	methods       map[Method]MethodResolver
	fallbackOrder []Method
	allowFallback bool
	stats         map[Method]*MethodStats
	log           *logrus.Logger
}

// NewResolver builds a Resolver with the given cache capacity and entry
// TTL. Register method resolvers with Register before calling Resolve.
func NewResolver(cacheSize int, ttl time.Duration, allowFallback bool, log *logrus.Logger) (*Resolver, error) {
	if cacheSize <= 0 {
		cacheSize = 256
	}
	c, err := lru.New[string, cacheEntry](cacheSize)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logrus.New()
	}
	return &Resolver{
		cache:         c,
		ttl:           ttl,
		methods:       make(map[Method]MethodResolver),
		allowFallback: allowFallback,
		stats:         make(map[Method]*MethodStats),
		log:           log,
	}, nil
}

// Register adds a method resolver. Registration order is the fallback
// preference order.
func (r *Resolver) Register(mr MethodResolver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := mr.Method()
	r.methods[m] = mr
	r.fallbackOrder = append(r.fallbackOrder, m)
	if r.stats[m] == nil {
		r.stats[m] = &MethodStats{}
	}
}

// Stats returns a snapshot of per-method success/failure counters.
func (r *Resolver) Stats() map[Method]MethodStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[Method]MethodStats, len(r.stats))
	for m, s := range r.stats {
		out[m] = *s
	}
	return out
}

// isHardBlocker reports whether err must be surfaced unwrapped instead of
// triggering the fallback chain (spec §4.1).
func isHardBlocker(err error) bool {
	return errors.Is(err, ErrMalformedDid) || errors.Is(err, ErrUnsupportedMethod)
}

// Resolve returns the verifying key for did, consulting the TTL+LRU cache
// first, then the registered method resolver, then (if configured) the
// fallback chain.
func (r *Resolver) Resolve(ctx context.Context, didStr string) (ed25519.PublicKey, error) {
	if entry, ok := r.cache.Get(didStr); ok {
		if time.Now().Before(entry.expiresAt) {
			return entry.vk, nil
		}
		r.cache.Remove(didStr)
	}

	did, err := ParseDID(didStr)
	if err != nil {
		return nil, ErrMalformedDid
	}

	vk, err := r.resolveOnce(ctx, did)
	if err == nil {
		r.cache.Add(didStr, cacheEntry{vk: vk, expiresAt: time.Now().Add(r.ttl)})
		return vk, nil
	}
	if isHardBlocker(err) {
		return nil, err
	}
	if !r.allowFallback {
		return nil, err
	}

	r.mu.Lock()
	order := append([]Method(nil), r.fallbackOrder...)
	r.mu.Unlock()

	for _, m := range order {
		if m == did.Method {
			continue
		}
		alt := DID{Method: m, ID: did.ID}
		vk, ferr := r.resolveOnce(ctx, alt)
		if ferr == nil {
			r.log.WithFields(logrus.Fields{"did": didStr, "fallback_method": m}).
				Warn("identity: resolved did via fallback method")
			r.cache.Add(didStr, cacheEntry{vk: vk, expiresAt: time.Now().Add(r.ttl)})
			return vk, nil
		}
		if isHardBlocker(ferr) {
			continue
		}
	}
	return nil, err
}

func (r *Resolver) resolveOnce(ctx context.Context, did DID) (ed25519.PublicKey, error) {
	r.mu.Lock()
	mr, ok := r.methods[did.Method]
	stats := r.stats[did.Method]
	r.mu.Unlock()
	if !ok {
		return nil, ErrUnsupportedMethod
	}
	vk, err := mr.Resolve(ctx, did)
	r.mu.Lock()
	if stats == nil {
		stats = &MethodStats{}
		r.stats[did.Method] = stats
	}
	if err != nil {
		stats.Failures++
	} else {
		stats.Successes++
	}
	r.mu.Unlock()
	return vk, err
}

// KeyMethodResolver resolves did:key identifiers locally — no network call,
// no cache miss ever surfaces ErrNetworkFailure.
type KeyMethodResolver struct{}

func (KeyMethodResolver) Method() Method { return MethodKey }

func (KeyMethodResolver) Resolve(_ context.Context, did DID) (ed25519.PublicKey, error) {
	if did.Method != MethodKey {
		return nil, ErrUnsupportedMethod
	}
	return VerifyingKeyFromDIDKey(did.ID)
}
