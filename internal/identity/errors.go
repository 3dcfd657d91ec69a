package identity

import "errors"

// Resolution failure modes named by spec §4.1. UnsupportedMethod and
// MalformedDid are validation failures; KeyNotFound and NetworkFailure are
// surfaced unwrapped by the resolver rather than folded into a generic
// "resolution failed" error, so callers can branch on them directly.
var (
	ErrUnsupportedMethod = errors.New("identity: unsupported did method")
	ErrMalformedDid      = errors.New("identity: malformed did")
	ErrKeyNotFound       = errors.New("identity: key not found")
	ErrNetworkFailure    = errors.New("identity: network failure resolving did:web")
)
