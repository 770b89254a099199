package models

import (
	"errors"
	"fmt"
)

// FaultKind tags a pipeline failure so retry and skip decisions are made
// over an explicit category instead of concrete error types.
type FaultKind int

const (
	// FaultRejectedRecord marks a single malformed raw record. The record
	// is dropped; the day continues.
	FaultRejectedRecord FaultKind = iota
	// FaultAnomalousPayload marks a day payload too large to trust. The
	// whole day's fetch result is discarded.
	FaultAnomalousPayload
	// FaultTransientFetch marks a network, timeout, decode or ordinary
	// HTTP failure eligible for bounded backoff retry.
	FaultTransientFetch
	// FaultRateLimited marks a 429/403 upstream response. Recovery sleeps
	// and retries without consuming the transient retry budget.
	FaultRateLimited
	// FaultStorage marks a persisted-store failure. Reads degrade
	// conservatively; writes propagate and abort the pass.
	FaultStorage
)

func (k FaultKind) String() string {
	switch k {
	case FaultRejectedRecord:
		return "rejected_record"
	case FaultAnomalousPayload:
		return "anomalous_payload"
	case FaultTransientFetch:
		return "transient_fetch"
	case FaultRateLimited:
		return "rate_limited"
	case FaultStorage:
		return "storage"
	default:
		return "unknown"
	}
}

// Fault carries a categorized pipeline failure.
type Fault struct {
	Kind FaultKind
	Err  error
}

func (f *Fault) Error() string {
	if f.Err == nil {
		return f.Kind.String()
	}
	return fmt.Sprintf("%s: %v", f.Kind, f.Err)
}

func (f *Fault) Unwrap() error {
	return f.Err
}

// NewFault wraps err with the given kind.
func NewFault(kind FaultKind, err error) *Fault {
	return &Fault{Kind: kind, Err: err}
}

// Faultf builds a categorized failure from a format string.
func Faultf(kind FaultKind, format string, args ...interface{}) *Fault {
	return &Fault{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the fault kind from an error chain. ok is false when the
// error is not a categorized pipeline failure.
func KindOf(err error) (FaultKind, bool) {
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind, true
	}
	return 0, false
}

// IsKind reports whether err carries the given fault kind.
func IsKind(err error, kind FaultKind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
