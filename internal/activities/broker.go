// Package activities contains the Temporal activity implementations the
// Approval Coordinator and Background Janitor workflows dispatch to: every
// suspension point that touches the Request Store, Secret Vault, Trust
// Cache, chat collaborator, Sandbox Executor, or Notification Emitter.
//
// Maps to: spec.md §5 "Suspension points... external I/O only".
//
// Grounded on the teacher's internal/activities package shape: one struct
// per related group of external dependencies (ToolActivities wraps a
// *tools.ToolRegistry; LLMActivities wraps a client), constructed once at
// worker startup and shared across all activity invocations on that worker.
package activities

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"golang.org/x/sync/errgroup"

	"github.com/mfateev/skillbroker/internal/brokererr"
	"github.com/mfateev/skillbroker/internal/chat"
	"github.com/mfateev/skillbroker/internal/notify"
	"github.com/mfateev/skillbroker/internal/pending"
	"github.com/mfateev/skillbroker/internal/request"
	"github.com/mfateev/skillbroker/internal/sandbox"
	"github.com/mfateev/skillbroker/internal/store"
	"github.com/mfateev/skillbroker/internal/trust"
	"github.com/mfateev/skillbroker/internal/vault"
)

// BrokerActivities bundles every external dependency the broker's
// workflows suspend on. One instance is constructed at worker startup and
// registered with the Temporal worker; Temporal dispatches activity calls
// to its methods.
type BrokerActivities struct {
	Store       *store.Store
	Vault       *vault.Vault
	Trust       *trust.Cache
	Executor    *sandbox.Executor
	Collab      chat.Collaborator
	Notifier    *notify.Notifier
	NetPolicy   NetworkPolicy
	Pending     *pending.Registry // handle -> request id, for routing inbound secret replies
	Interpreter []string          // e.g. []string{"bash"} — the runtime every skill is executed under

	// Direct selects the "direct" deployment mode for every execution on
	// this worker (spec §4.6's two interchangeable deployment modes): skills
	// get a directly allocated controlling terminal. The command is still
	// wrapped by the Executor's sandbox backend, as in the default mode.
	Direct bool
}

// NetworkPolicy is the subset of internal/netpolicy.Policy the executor
// activity depends on, kept as an interface so tests can stub it.
type NetworkPolicy interface {
	FilterAllowed(hosts []string) []string
}

// --- Trust Cache activities ---

type LookupTrustInput struct {
	Source      string
	Fingerprint string
}

func (a *BrokerActivities) LookupTrust(ctx context.Context, in LookupTrustInput) (*request.Trust, error) {
	t, err := a.Trust.Lookup(ctx, in.Source, in.Fingerprint, time.Now())
	if err != nil {
		return nil, classifyStoreError(err)
	}
	return t, nil
}

type AddTrustInput struct {
	Source      string
	Fingerprint string
	Scope       request.TrustScope
}

func (a *BrokerActivities) AddTrust(ctx context.Context, in AddTrustInput) error {
	if err := a.Trust.Grant(ctx, in.Source, in.Fingerprint, in.Scope, time.Now()); err != nil {
		return classifyStoreError(err)
	}
	return nil
}

// --- Request Store activities ---

type TransitionInput struct {
	ID   string
	From request.State
	To   request.State
}

func (a *BrokerActivities) Transition(ctx context.Context, in TransitionInput) error {
	if err := a.Store.Transition(ctx, in.ID, in.From, in.To, time.Now()); err != nil {
		return classifyStoreError(err)
	}
	return nil
}

type AttachChatHandleInput struct {
	ID     string
	Handle string
}

func (a *BrokerActivities) AttachChatHandle(ctx context.Context, in AttachChatHandleInput) error {
	if err := a.Store.AttachChatHandle(ctx, in.ID, in.Handle); err != nil {
		return classifyStoreError(err)
	}
	return nil
}

type SetResultInput struct {
	ID       string
	Terminal request.State
	Result   request.Result
}

func (a *BrokerActivities) SetResult(ctx context.Context, in SetResultInput) error {
	if err := a.Store.SetResult(ctx, in.ID, in.Terminal, in.Result, time.Now()); err != nil {
		return classifyStoreError(err)
	}
	return nil
}

// --- Secret Vault activities ---

// MissingSecrets returns the subset of names not currently held in the
// Vault, preserving order — spec §4.3 "compute the set of declared secret
// names that are currently absent from the Vault".
func (a *BrokerActivities) MissingSecrets(ctx context.Context, names []string) ([]string, error) {
	var missing []string
	for _, n := range names {
		if !a.Vault.Has(n) {
			missing = append(missing, n)
		}
	}
	return missing, nil
}

type PutSecretInput struct {
	Name  string
	Value []byte
}

func (a *BrokerActivities) PutSecret(ctx context.Context, in PutSecretInput) error {
	if err := a.Vault.Put(ctx, in.Name, in.Value); err != nil {
		return classifyStoreError(err)
	}
	return nil
}

// SecretPresence reports, for each declared secret name, whether the Vault
// already holds a value — used to build the "already holds a value"
// indicator in the approval prompt payload (spec §4.3).
func (a *BrokerActivities) SecretPresence(ctx context.Context, names []string) (map[string]bool, error) {
	out := make(map[string]bool, len(names))
	for _, n := range names {
		out[n] = a.Vault.Has(n)
	}
	return out, nil
}

// --- Chat activities ---

type SendPromptInput struct {
	RequestID string // registered in the pending registry so a free-text reply can be routed back
	Text      string
	Keyboard  *chat.Keyboard
}

func (a *BrokerActivities) SendPrompt(ctx context.Context, in SendPromptInput) (string, error) {
	handle, err := a.Collab.Send(in.Text, in.Keyboard)
	if err != nil {
		return "", temporal.NewApplicationErrorWithCause("chat send failed", "ChatSendFailed", err)
	}
	if a.Pending != nil && in.RequestID != "" {
		a.Pending.Put(handle, pending.Entry{RequestID: in.RequestID})
	}
	return handle, nil
}

type EditPromptInput struct {
	Handle   string
	Text     string
	Keyboard *chat.Keyboard
}

func (a *BrokerActivities) EditPrompt(ctx context.Context, in EditPromptInput) error {
	if err := a.Collab.Edit(in.Handle, in.Text, in.Keyboard); err != nil {
		return temporal.NewApplicationErrorWithCause("chat edit failed", "ChatSendFailed", err)
	}
	return nil
}

func (a *BrokerActivities) DeleteMessage(ctx context.Context, handle string) error {
	if handle == "" {
		return nil
	}
	if a.Pending != nil {
		a.Pending.Delete(handle)
	}
	if err := a.Collab.Delete(handle); err != nil {
		return temporal.NewApplicationErrorWithCause("chat delete failed", "ChatSendFailed", err)
	}
	return nil
}

// --- Sandbox Executor activity ---

type ExecuteSkillInput struct {
	RequestID      string
	Fingerprint    string
	Code           []byte
	Secrets        []string
	Args           map[string]string
	NetworkHosts   []string
	TimeoutSeconds int

	// MemoryMB and CPULimit bound the sandbox child's resources (spec §4.6);
	// zero takes the Sandbox Executor's package defaults.
	MemoryMB int
	CPULimit float64
}

// ExecuteSkill runs the skill under the Sandbox Executor, applying the
// deployment-wide network policy as an upper bound on the declared
// allow-list (spec §4.6, generalized per internal/netpolicy).
func (a *BrokerActivities) ExecuteSkill(ctx context.Context, in ExecuteSkillInput) (request.Result, error) {
	secrets := a.Vault.Subset(in.Secrets)
	hosts := in.NetworkHosts
	if a.NetPolicy != nil {
		hosts = a.NetPolicy.FilterAllowed(hosts)
	}

	res, err := a.Executor.Execute(ctx, sandbox.ExecuteInput{
		Fingerprint:    in.Fingerprint,
		Code:           in.Code,
		Interpreter:    a.interpreterOrDefault(),
		Secrets:        secrets,
		Args:           in.Args,
		TimeoutSeconds: in.TimeoutSeconds,
		NetworkHosts:   hosts,
		Direct:         a.Direct,
		MemoryMB:       in.MemoryMB,
		CPULimit:       in.CPULimit,
	})
	if err != nil {
		return request.Result{}, temporal.NewApplicationErrorWithCause(
			"sandbox launch failed", "SandboxLaunchFailed", err)
	}

	result := request.Result{
		Success:    res.Success,
		Stdout:     res.Stdout,
		Stderr:     res.Stderr,
		ExitCode:   res.ExitCode,
		DurationMS: res.DurationMs,
	}
	if res.TimedOut {
		result.FailureKind = "sandbox-timeout"
	} else if !res.Success {
		result.FailureKind = "sandbox-nonzero"
	}
	return result, nil
}

func (a *BrokerActivities) interpreterOrDefault() []string {
	if len(a.Interpreter) > 0 {
		return a.Interpreter
	}
	return []string{"bash"}
}

// --- Notification activity ---

type NotifyInput struct {
	RequestID string
	State     request.State
	Summary   string
}

func (a *BrokerActivities) Notify(ctx context.Context, in NotifyInput) error {
	return a.Notifier.Emit(ctx, notify.Event{
		RequestID: in.RequestID,
		State:     string(in.State),
		Summary:   in.Summary,
	})
}

// --- Janitor activities ---

func (a *BrokerActivities) SweepExpiredTrust(ctx context.Context) (int64, error) {
	n, err := a.Store.SweepExpiredTrust(ctx, time.Now())
	if err != nil {
		return 0, classifyStoreError(err)
	}
	return n, nil
}

func (a *BrokerActivities) SweepOldCompleted(ctx context.Context, retentionHorizon time.Duration) (int64, error) {
	n, err := a.Store.SweepOldCompleted(ctx, time.Now().Add(-retentionHorizon))
	if err != nil {
		return 0, classifyStoreError(err)
	}
	return n, nil
}

// SweepAllInput bundles the Janitor's per-tick sweep parameters.
type SweepAllInput struct {
	RetentionHorizon time.Duration
}

// SweepReport summarizes one Janitor tick.
type SweepReport struct {
	ExpiredTrust   int64
	PrunedRequests int64
}

// SweepAll runs the trust-expiry sweep and the (optional) retention sweep
// concurrently: they touch disjoint tables, so there is no ordering
// requirement between them. Run as a single activity so the concurrency
// happens in an ordinary goroutine pool rather than inside the Janitor
// workflow's deterministic execution, where a real errgroup would be
// unsafe to use.
func (a *BrokerActivities) SweepAll(ctx context.Context, in SweepAllInput) (SweepReport, error) {
	var report SweepReport
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		n, err := a.Store.SweepExpiredTrust(gctx, time.Now())
		if err != nil {
			return classifyStoreError(err)
		}
		report.ExpiredTrust = n
		return nil
	})

	if in.RetentionHorizon > 0 {
		g.Go(func() error {
			n, err := a.Store.SweepOldCompleted(gctx, time.Now().Add(-in.RetentionHorizon))
			if err != nil {
				return classifyStoreError(err)
			}
			report.PrunedRequests = n
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return SweepReport{}, err
	}
	return report, nil
}

// classifyStoreError wraps a Store/Vault/Trust error as a non-retryable
// ApplicationError when it is a known sentinel (invalid transition, not
// found, duplicate, persisting `once`) — retrying those cannot change the
// outcome. A deadline is wrapped as a retryable "StoreTimeout"
// ApplicationError; anything else is wrapped as a plain error so the
// activity's retry policy applies.
func classifyStoreError(err error) error {
	var appErr *temporal.ApplicationError
	if errors.As(err, &appErr) {
		return err
	}
	if errors.Is(err, brokererr.ErrInvalidTransition) || errors.Is(err, brokererr.ErrNotFound) ||
		errors.Is(err, brokererr.ErrDuplicateID) || errors.Is(err, brokererr.ErrTrustOnceNotPersisted) {
		return temporal.NewNonRetryableApplicationError(err.Error(), "StoreRejected", err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return temporal.NewApplicationErrorWithCause("store operation timed out", "StoreTimeout", err)
	}
	return fmt.Errorf("store: %w", err)
}
