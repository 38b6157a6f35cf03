// Package errors defines the structured error taxonomy CodeWeaver surfaces
// at its boundaries, plus a circuit breaker used to guard transient calls
// to providers and vector stores.
package errors

import (
	"errors"
	"fmt"
)

// Kind is a stable error kind, independent of any Go type name, suitable
// for surfacing across process boundaries.
type Kind string

const (
	// KindProviderUnavailable covers an unregistered or misconfigured
	// capability provider.
	KindProviderUnavailable Kind = "provider_unavailable"
	// KindProviderSwitchError covers opening a collection whose stored
	// metadata disagrees with the active provider configuration.
	KindProviderSwitchError Kind = "provider_switch_error"
	// KindDimensionMismatch covers a vector whose length disagrees with
	// the collection's declared dense dimension.
	KindDimensionMismatch Kind = "dimension_mismatch"
	// KindTimedOut covers a deadline exceeded on an external call.
	KindTimedOut Kind = "timed_out"
	// KindIndexBusy covers a request rejected because indexing already
	// owns the collection's write path.
	KindIndexBusy Kind = "index_busy"
	// KindNotReady covers a query against a collection that has not
	// finished its first Prime.
	KindNotReady Kind = "not_ready"
	// KindBadQuery covers a malformed or empty query.
	KindBadQuery Kind = "bad_query"

	// Internal kinds, never surfaced unchanged at the boundary (§7).
	KindTransient Kind = "transient"
	KindData      Kind = "data"
	KindCapacity  Kind = "capacity"
	KindInternal  Kind = "internal"
)

// Category buckets a Kind for metrics and logging.
type Category string

const (
	CategoryConfiguration Category = "configuration"
	CategoryCompatibility Category = "compatibility"
	CategoryIO            Category = "io"
	CategoryCapacity      Category = "capacity"
	CategoryData          Category = "data"
	CategoryInternal       Category = "internal"
)

func categoryFor(k Kind) Category {
	switch k {
	case KindProviderUnavailable:
		return CategoryConfiguration
	case KindProviderSwitchError, KindDimensionMismatch:
		return CategoryCompatibility
	case KindTimedOut, KindTransient:
		return CategoryIO
	case KindIndexBusy, KindCapacity:
		return CategoryCapacity
	case KindData, KindBadQuery:
		return CategoryData
	default:
		return CategoryInternal
	}
}

func retryableFor(k Kind) bool {
	switch k {
	case KindTimedOut, KindTransient, KindIndexBusy, KindCapacity:
		return true
	default:
		return false
	}
}

// CodeWeaverError is the structured error type carried across every
// component boundary named in §6/§7 of the specification.
type CodeWeaverError struct {
	Kind        Kind
	Category    Category
	Retryable   bool
	Message     string
	Remediation string
	// VariantID names the provider/capability variant involved, when
	// applicable (e.g. ProviderUnavailable).
	VariantID string
	// MissingKeys lists configuration keys that were required but absent.
	MissingKeys []string
	cause       error
}

func (e *CodeWeaverError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Kind, e.Message)
	if e.Remediation != "" {
		msg += " (" + e.Remediation + ")"
	}
	if e.cause != nil {
		msg += ": " + e.cause.Error()
	}
	return msg
}

func (e *CodeWeaverError) Unwrap() error { return e.cause }

// Is allows errors.Is(err, errors.New(KindX, "")) style matching on Kind.
func (e *CodeWeaverError) Is(target error) bool {
	var other *CodeWeaverError
	if errors.As(target, &other) {
		return other.Kind == e.Kind
	}
	return false
}

// New constructs a CodeWeaverError of the given kind.
func New(kind Kind, message string) *CodeWeaverError {
	return &CodeWeaverError{
		Kind:      kind,
		Category:  categoryFor(kind),
		Retryable: retryableFor(kind),
		Message:   message,
	}
}

// Wrap constructs a CodeWeaverError of the given kind, recording cause.
func Wrap(kind Kind, cause error, message string) *CodeWeaverError {
	e := New(kind, message)
	e.cause = cause
	return e
}

// WithRemediation attaches a human-readable remediation hint and returns
// the same error for chaining.
func (e *CodeWeaverError) WithRemediation(hint string) *CodeWeaverError {
	e.Remediation = hint
	return e
}

// WithVariant attaches the capability variant id involved.
func (e *CodeWeaverError) WithVariant(id string) *CodeWeaverError {
	e.VariantID = id
	return e
}

// WithMissingKeys attaches the configuration keys that were required.
func (e *CodeWeaverError) WithMissingKeys(keys ...string) *CodeWeaverError {
	e.MissingKeys = keys
	return e
}

// ProviderUnavailable builds the boundary error for an unregistered or
// misconfigured capability, per spec §4.1.
func ProviderUnavailable(variantID string, missingKeys ...string) *CodeWeaverError {
	return New(KindProviderUnavailable, fmt.Sprintf("provider %q is unavailable", variantID)).
		WithVariant(variantID).
		WithMissingKeys(missingKeys...).
		WithRemediation("register or configure the provider before resolving it")
}

// ProviderSwitchError builds the boundary error for a provider/config
// mismatch detected on ensure_collection, per spec §4.6.
func ProviderSwitchError(existing, desired string, existingDim, desiredDim int) *CodeWeaverError {
	msg := fmt.Sprintf("collection was created with provider %q (dim %d), current configuration is %q (dim %d)",
		existing, existingDim, desired, desiredDim)
	return New(KindProviderSwitchError, msg).
		WithRemediation("re-index the collection under the new provider, or revert the provider configuration")
}

// DimensionMismatch builds the boundary error for a vector whose length
// disagrees with the collection's declared dimension.
func DimensionMismatch(expected, got int) *CodeWeaverError {
	return New(KindDimensionMismatch, fmt.Sprintf("expected dimension %d, got %d", expected, got)).
		WithRemediation("re-embed with the collection's configured provider")
}

// TimedOut builds the boundary error for a deadline exceeded on an
// external call.
func TimedOut(operation string) *CodeWeaverError {
	return New(KindTimedOut, fmt.Sprintf("%s timed out", operation))
}

// IndexBusy builds the boundary error for a write rejected because the
// indexer already owns the collection.
func IndexBusy(collection string) *CodeWeaverError {
	return New(KindIndexBusy, fmt.Sprintf("collection %q is busy indexing", collection)).
		WithRemediation("retry shortly, or wait for the current indexing run to finish")
}

// NotReady builds the boundary error for a query against a collection
// that has not completed its first Prime.
func NotReady(collection string) *CodeWeaverError {
	return New(KindNotReady, fmt.Sprintf("collection %q is not ready", collection)).
		WithRemediation("run Prime indexing before querying, or pass index_if_needed")
}

// BadQuery builds the boundary error for a malformed or empty query.
func BadQuery(reason string) *CodeWeaverError {
	return New(KindBadQuery, reason)
}

// KindOf extracts the Kind from err, or "" if err is not a CodeWeaverError.
func KindOf(err error) Kind {
	var cwe *CodeWeaverError
	if errors.As(err, &cwe) {
		return cwe.Kind
	}
	return ""
}

// Retryable reports whether err should be retried per the propagation
// policy in spec §7.
func Retryable(err error) bool {
	var cwe *CodeWeaverError
	if errors.As(err, &cwe) {
		return cwe.Retryable
	}
	return false
}
