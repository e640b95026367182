// Package request defines the execution request data model: the lifecycle
// state machine, trust scopes, and result shape shared across the Request
// Store, Approval Coordinator, and Sandbox Executor.
//
// Maps to: spec.md §3 DATA MODEL
package request

import "time"

// State is the lifecycle state of a request.
type State string

const (
	StatePending          State = "pending"
	StateApproved         State = "approved"
	StateAwaitingSecrets  State = "awaiting_secrets"
	StateExecuting        State = "executing"
	StateCompleted        State = "completed"
	StateFailed           State = "failed"
	StateDenied           State = "denied"
)

// IsTerminal returns true for the three terminal states: no further
// transitions are legal once a request reaches one of these.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateDenied
}

// TrustScope is the duration of a code-level approval grant.
//
// `once` is never persisted (spec §3, §9): it is a runtime-only decision
// describing a single invocation, never written to the trust table.
type TrustScope string

const (
	ScopeOnce    TrustScope = "once"
	Scope24h     TrustScope = "24h"
	ScopeForever TrustScope = "forever"
)

// TrustDuration is the fixed validity window for the 24h scope.
const TrustDuration24h = 24 * time.Hour

// Result is the outcome of a completed or failed sandbox execution.
type Result struct {
	Success    bool   `json:"success"`
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	ExitCode   int    `json:"exit_code"`
	DurationMS int64  `json:"duration_ms"`
	// FailureKind is set when the request terminated without a clean
	// sandbox result (e.g. "sandbox-launch-failed", "sandbox-timeout").
	FailureKind string `json:"failure_kind,omitempty"`
}

// ExitCodeTimeoutSentinel is the exit-code sentinel stored on a timeout
// failure — spec §7's "exit_code = timeout-sentinel".
const ExitCodeTimeoutSentinel = -1

// Request is the full row describing one execution request.
//
// Maps to: spec.md §3 "Request" field list.
type Request struct {
	ID             string            `json:"id"`
	SkillID        string            `json:"skill_id"`
	SkillURL       string            `json:"skill_url"`
	Fingerprint    string            `json:"fingerprint"` // SHA-256 hex over code bytes
	Secrets        []string          `json:"secrets"`      // declared secret names, ordered
	Args           map[string]string `json:"args"`
	Network        []string          `json:"network"`       // declared allow-listed hosts
	TimeoutSeconds int               `json:"timeout_seconds"`

	State State `json:"state"`

	CreatedAt  time.Time  `json:"created_at"`
	ApprovedAt *time.Time `json:"approved_at,omitempty"`
	ExecutedAt *time.Time `json:"executed_at,omitempty"`

	Result *Result `json:"result,omitempty"`

	// ChatHandle is the opaque handle of the chat message used to update the
	// operator dialogue in place (spec §3, §9). Weak reference: losing it
	// degrades UX only.
	ChatHandle string `json:"chat_handle,omitempty"`
}

// MissingSecrets returns the subset of r.Secrets not present in have, in
// declared order — the set the Approval Coordinator must prompt for.
func (r *Request) MissingSecrets(have func(name string) bool) []string {
	var missing []string
	for _, name := range r.Secrets {
		if !have(name) {
			missing = append(missing, name)
		}
	}
	return missing
}

// StatusView is the externally-visible projection of a Request — never
// includes secret values, per spec §4.1 "Query status".
type StatusView struct {
	ID             string            `json:"id"`
	SkillID        string            `json:"skill_id"`
	State          State             `json:"state"`
	Fingerprint    string            `json:"fingerprint"`
	Secrets        []string          `json:"secrets"`
	Args           map[string]string `json:"args"`
	Network        []string          `json:"network"`
	TimeoutSeconds int               `json:"timeout_seconds"`
	CreatedAt      time.Time         `json:"created_at"`
	ApprovedAt     *time.Time        `json:"approved_at,omitempty"`
	ExecutedAt     *time.Time        `json:"executed_at,omitempty"`
	Result         *Result           `json:"result,omitempty"`
}

// ToStatusView strips everything unsafe for external view.
func (r *Request) ToStatusView() StatusView {
	return StatusView{
		ID:             r.ID,
		SkillID:        r.SkillID,
		State:          r.State,
		Fingerprint:    r.Fingerprint,
		Secrets:        r.Secrets,
		Args:           r.Args,
		Network:        r.Network,
		TimeoutSeconds: r.TimeoutSeconds,
		CreatedAt:      r.CreatedAt,
		ApprovedAt:     r.ApprovedAt,
		ExecutedAt:     r.ExecutedAt,
		Result:         r.Result,
	}
}

// Trust is a persisted (source, fingerprint) approval grant.
//
// Maps to: spec.md §3 "Trust record".
type Trust struct {
	Source      string     `json:"source"`
	Fingerprint string     `json:"fingerprint"`
	Scope       TrustScope `json:"scope"`
	GrantedAt   time.Time  `json:"granted_at"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

// Expired reports whether t has an expiry and now is at or past it.
func (t *Trust) Expired(now time.Time) bool {
	return t.ExpiresAt != nil && !now.Before(*t.ExpiresAt)
}
