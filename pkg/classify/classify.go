// Package classify implements the error taxonomy described in the ICN
// core design: every operation returns an error carrying one Kind, so
// orchestrators (internal/runtime) can decide whether to retry, fail the
// enclosing activity, or open a circuit breaker without string-matching
// error text.
package classify

import (
	"errors"
	"fmt"
)

// Kind names one branch of the error taxonomy. Zero value is KindInternal
// so a forgotten assignment fails loud rather than silently classifying as
// transient.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindPolicy
	KindResource
	KindNetwork
	KindStorage
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindPolicy:
		return "policy"
	case KindResource:
		return "resource"
	case KindNetwork:
		return "network"
	case KindStorage:
		return "storage"
	default:
		return "internal"
	}
}

// Transient reports whether an error of this kind is worth retrying with
// backoff. Validation, policy and internal errors are permanent for the
// attempt that produced them; resource and network errors are transient by
// nature. Storage errors are not transient: no constructor here marks a
// storage error as an availability failure that is worth retrying, and
// StorageIntegrity only marks integrity failures as permanent.
func (k Kind) Transient() bool {
	switch k {
	case KindResource, KindNetwork:
		return true
	default:
		return false
	}
}

// Error pairs a Kind with a wrapped cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs a classified error. Passing a nil cause returns nil, the
// same nil-propagation convention as utils.Wrap.
func New(kind Kind, op string, cause error) error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: cause}
}

// Newf constructs a classified error from a format string.
func Newf(kind Kind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// Validation, Policy, Resource, Network, and Storage are shorthand
// constructors for the five non-internal kinds.
func Validation(op string, cause error) error { return New(KindValidation, op, cause) }
func Policy(op string, cause error) error     { return New(KindPolicy, op, cause) }
func Resource(op string, cause error) error   { return New(KindResource, op, cause) }
func Network(op string, cause error) error    { return New(KindNetwork, op, cause) }
func Storage(op string, cause error) error    { return New(KindStorage, op, cause) }
func Internal(op string, cause error) error   { return New(KindInternal, op, cause) }

// StorageIntegrity marks a storage error as permanent (CID mismatch, corrupt
// record) regardless of the general Transient() default for KindStorage.
func StorageIntegrity(op string, cause error) error {
	e := New(KindStorage, op, cause)
	if e == nil {
		return nil
	}
	return &permanentStorageError{err: e.(*Error)}
}

type permanentStorageError struct{ err *Error }

func (p *permanentStorageError) Error() string { return p.err.Error() }

func (p *permanentStorageError) Unwrap() error { return p.err }

// Of extracts the Kind of err, walking the wrap chain. Unclassified errors
// report KindInternal.
func Of(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindInternal
}

// IsTransient reports whether err should be retried with backoff. A
// permanent-storage error (integrity failure) always reports false.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var perm *permanentStorageError
	if errors.As(err, &perm) {
		return false
	}
	return Of(err).Transient()
}
