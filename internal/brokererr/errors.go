// Package brokererr defines the sentinel error taxonomy used throughout the
// broker, checked with errors.Is/errors.As at layer boundaries.
//
// Maps to: spec.md §7 ERROR HANDLING DESIGN
package brokererr

import "errors"

// Ingress-time errors: surfaced to the caller as 4xx, no state row created.
var (
	ErrBadRequest   = errors.New("bad-request")
	ErrFetchFailed  = errors.New("fetch-failed")
	ErrBadMetadata  = errors.New("bad-metadata")
	ErrDuplicateID  = errors.New("duplicate request id")
	ErrNotFound     = errors.New("request not found")
)

// Transient errors: logged, state transition stands.
var ErrChatSendFailed = errors.New("chat-send-failed")

// Terminal sandbox failure kinds (spec §7).
const (
	FailureSandboxLaunchFailed = "sandbox-launch-failed"
	FailureSandboxTimeout      = "sandbox-timeout"
	FailureSandboxNonzero      = "sandbox-nonzero"
	FailureInternal            = "internal"
)

// ErrInvalidTransition is returned by the Request Store when a transition's
// compare-and-set fails because the row is not in the expected "from" state.
var ErrInvalidTransition = errors.New("invalid state transition")

// ErrTrustOnceNotPersisted is returned if a caller attempts to persist the
// `once` trust scope — spec §9: "once is a runtime-only decision and [code]
// must refuse to insert it into the trust store."
var ErrTrustOnceNotPersisted = errors.New("trust scope \"once\" is never persisted")
