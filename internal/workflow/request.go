// request.go implements the Approval Coordinator: the per-request state
// machine that prompts an operator over chat, waits for approval/denial,
// collects missing secrets, and dispatches the Sandbox Executor activity.
//
// Maps to: spec.md §4.3 "Approval Coordinator".
//
// Grounded on the teacher's HarnessWorkflow shape (one long-running
// workflow per unit of work, activities invoked by string name under a
// shared ActivityOptions, a signal-draining workflow.Go goroutine feeding a
// typed control struct) generalized from "one chat turn of an agent
// session" to "one execution request awaiting operator approval".
package workflow

import (
	"fmt"
	"strings"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/mfateev/skillbroker/internal/activities"
	"github.com/mfateev/skillbroker/internal/chat"
	"github.com/mfateev/skillbroker/internal/request"
)

// Signal and query names for RequestWorkflow.
const (
	SignalRequestChatEvent = "chat_event"
	QueryRequestStatus     = "request_status"
)

// RequestWorkflowInput is the full execution request plus the code bytes
// to run, handed to the workflow at start (spec §4.2 "Submit execution").
type RequestWorkflowInput struct {
	Request request.Request
	Source  string // trust-cache lookup key, e.g. the skill's origin URL
	Code    []byte

	// ViewBaseURL is the Ingress API's externally reachable base URL, used
	// to build the code-view link in the approval prompt (spec §4.3's
	// prompt payload, §4.1 "Code view"). Empty omits the link.
	ViewBaseURL string
}

// RequestWorkflowResult is the workflow's terminal return value.
type RequestWorkflowResult struct {
	FinalState request.State
	Result     *request.Result
}

// defaultActivityOptions matches the teacher's harness.go convention: a
// generous StartToCloseTimeout with a small bounded retry count, since
// every activity run under it is either idempotent (store/vault writes
// keyed by request id) or safe to retry (chat send). ExecuteSkill is not
// run under these options: it gets its own single-attempt policy.
func defaultActivityOptions() workflow.ActivityOptions {
	return workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 3,
		},
	}
}

// RequestWorkflow drives one request through its full lifecycle: trust
// lookup, operator prompt, approval/denial, secret collection, sandboxed
// execution, and result notification.
//
// Maps to: spec.md §4.3, the full approval state machine.
func RequestWorkflow(ctx workflow.Context, in RequestWorkflowInput) (RequestWorkflowResult, error) {
	logger := workflow.GetLogger(ctx)
	actCtx := workflow.WithActivityOptions(ctx, defaultActivityOptions())

	req := in.Request
	ctrl := &requestControl{}

	// Drain inbound chat events (button clicks, secret replies) into the
	// FIFO queue. Mirrors the teacher's agent_input signal-drain goroutine
	// in internal/workflow/handlers.go.
	eventCh := workflow.GetSignalChannel(ctx, SignalRequestChatEvent)
	workflow.Go(ctx, func(gctx workflow.Context) {
		for {
			var ev chat.Event
			if !eventCh.Receive(gctx, &ev) {
				return
			}
			ctrl.deliver(ev)
		}
	})

	if err := workflow.SetQueryHandler(ctx, QueryRequestStatus, func() (request.StatusView, error) {
		return req.ToStatusView(), nil
	}); err != nil {
		logger.Error("failed to register request_status query handler", "error", err)
	}

	// --- Trust lookup and prompt shaping (spec §4.3 step 1-2) ---

	var trusted *request.Trust
	if err := workflow.ExecuteActivity(actCtx, "LookupTrust", activities.LookupTrustInput{
		Source:      in.Source,
		Fingerprint: req.Fingerprint,
	}).Get(ctx, &trusted); err != nil {
		return failResult(ctx, actCtx, req, "trust lookup failed: "+err.Error())
	}

	if trusted == nil {
		handle, err := sendApprovalPrompt(ctx, actCtx, req, false, in.ViewBaseURL)
		if err != nil {
			return failResult(ctx, actCtx, req, "prompt send failed: "+err.Error())
		}
		req.ChatHandle = handle
		if err := workflow.ExecuteActivity(actCtx, "AttachChatHandle", activities.AttachChatHandleInput{
			ID: req.ID, Handle: handle,
		}).Get(ctx, nil); err != nil {
			logger.Warn("failed to attach chat handle", "error", err)
		}

		decision, scope, err := awaitApprovalDecision(ctx, ctrl)
		if err != nil {
			return failResult(ctx, actCtx, req, "approval wait failed: "+err.Error())
		}
		if !decision {
			return denyRequest(ctx, actCtx, req)
		}
		if scope == request.Scope24h || scope == request.ScopeForever {
			if err := workflow.ExecuteActivity(actCtx, "AddTrust", activities.AddTrustInput{
				Source:      in.Source,
				Fingerprint: req.Fingerprint,
				Scope:       scope,
			}).Get(ctx, nil); err != nil {
				logger.Warn("failed to persist trust grant", "error", err)
			}
		}
	} else {
		// Already trusted: lightweight prompt, approve-once/deny only
		// (spec §4.3 "If trusted, the prompt omits the trust-code option").
		handle, err := sendApprovalPrompt(ctx, actCtx, req, true, in.ViewBaseURL)
		if err != nil {
			return failResult(ctx, actCtx, req, "prompt send failed: "+err.Error())
		}
		req.ChatHandle = handle
		if err := workflow.ExecuteActivity(actCtx, "AttachChatHandle", activities.AttachChatHandleInput{
			ID: req.ID, Handle: handle,
		}).Get(ctx, nil); err != nil {
			logger.Warn("failed to attach chat handle", "error", err)
		}

		decision, _, err := awaitApprovalDecision(ctx, ctrl)
		if err != nil {
			return failResult(ctx, actCtx, req, "approval wait failed: "+err.Error())
		}
		if !decision {
			return denyRequest(ctx, actCtx, req)
		}
	}

	if err := workflow.ExecuteActivity(actCtx, "Transition", activities.TransitionInput{
		ID: req.ID, From: request.StatePending, To: request.StateApproved,
	}).Get(ctx, nil); err != nil {
		return failResult(ctx, actCtx, req, "transition to approved failed: "+err.Error())
	}
	req.State = request.StateApproved

	// --- Secret sub-dialogue (spec §4.3 step 3) ---

	var missing []string
	if err := workflow.ExecuteActivity(actCtx, "MissingSecrets", req.Secrets).Get(ctx, &missing); err != nil {
		return failResult(ctx, actCtx, req, "missing-secrets check failed: "+err.Error())
	}

	for len(missing) > 0 {
		if err := workflow.ExecuteActivity(actCtx, "Transition", activities.TransitionInput{
			ID: req.ID, From: req.State, To: request.StateAwaitingSecrets,
		}).Get(ctx, nil); err != nil {
			return failResult(ctx, actCtx, req, "transition to awaiting_secrets failed: "+err.Error())
		}
		req.State = request.StateAwaitingSecrets

		prompt := fmt.Sprintf("Request %s needs a secret: %s\nReply to this message with the value.", req.ID, missing[0])
		handle, err := sendPlainPrompt(ctx, actCtx, req.ID, prompt)
		if err != nil {
			return failResult(ctx, actCtx, req, "secret prompt send failed: "+err.Error())
		}

		value, denied, err := awaitSecretReply(ctx, ctrl)
		if err != nil {
			return failResult(ctx, actCtx, req, "secret wait failed: "+err.Error())
		}
		if denied {
			return denyRequest(ctx, actCtx, req)
		}

		if err := workflow.ExecuteActivity(actCtx, "PutSecret", activities.PutSecretInput{
			Name: missing[0], Value: []byte(value),
		}).Get(ctx, nil); err != nil {
			return failResult(ctx, actCtx, req, "secret store failed: "+err.Error())
		}

		// Best-effort cleanup of the prompt message; losing the handle
		// degrades UX only (spec §3 ChatHandle doc comment).
		if err := workflow.ExecuteActivity(actCtx, "DeleteMessage", handle).Get(ctx, nil); err != nil {
			logger.Warn("failed to delete secret prompt", "error", err)
		}

		if err := workflow.ExecuteActivity(actCtx, "MissingSecrets", req.Secrets).Get(ctx, &missing); err != nil {
			return failResult(ctx, actCtx, req, "missing-secrets recheck failed: "+err.Error())
		}
	}

	// --- Execute (spec §4.3 step 4, §4.6 Sandbox Executor contract) ---

	if err := workflow.ExecuteActivity(actCtx, "Transition", activities.TransitionInput{
		ID: req.ID, From: req.State, To: request.StateExecuting,
	}).Get(ctx, nil); err != nil {
		return failResult(ctx, actCtx, req, "transition to executing failed: "+err.Error())
	}
	req.State = request.StateExecuting

	execCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: time.Duration(req.TimeoutSeconds+30) * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 1, // the sandbox itself is not safely retryable
		},
	})

	var result request.Result
	execErr := workflow.ExecuteActivity(execCtx, "ExecuteSkill", activities.ExecuteSkillInput{
		RequestID:      req.ID,
		Fingerprint:    req.Fingerprint,
		Code:           in.Code,
		Secrets:        req.Secrets,
		Args:           req.Args,
		NetworkHosts:   req.Network,
		TimeoutSeconds: req.TimeoutSeconds,
	}).Get(ctx, &result)

	terminal := request.StateCompleted
	if execErr != nil {
		terminal = request.StateFailed
		result = request.Result{
			Success:     false,
			FailureKind: "sandbox-launch-failed",
			ExitCode:    request.ExitCodeTimeoutSentinel,
		}
	} else if !result.Success {
		terminal = request.StateFailed
	}

	if err := workflow.ExecuteActivity(actCtx, "SetResult", activities.SetResultInput{
		ID: req.ID, Terminal: terminal, Result: result,
	}).Get(ctx, nil); err != nil {
		logger.Error("failed to persist result", "error", err)
	}
	req.State = terminal
	req.Result = &result

	summary := resultSummary(result)
	if req.ChatHandle != "" {
		if err := workflow.ExecuteActivity(actCtx, "EditPrompt", activities.EditPromptInput{
			Handle: req.ChatHandle,
			Text:   fmt.Sprintf("Request %s: %s\n%s", req.ID, terminal, summary),
		}).Get(ctx, nil); err != nil {
			logger.Warn("failed to edit prompt with result", "error", err)
		}
	}
	if err := workflow.ExecuteActivity(actCtx, "Notify", activities.NotifyInput{
		RequestID: req.ID, State: terminal, Summary: summary,
	}).Get(ctx, nil); err != nil {
		logger.Warn("failed to emit notification", "error", err)
	}

	return RequestWorkflowResult{FinalState: terminal, Result: &result}, nil
}

// sendApprovalPrompt builds and sends the initial approval prompt. When
// trusted is true the keyboard omits the trust-code options (spec §4.3).
func sendApprovalPrompt(ctx, actCtx workflow.Context, req request.Request, trusted bool, viewBaseURL string) (string, error) {
	kb := &chat.Keyboard{Buttons: []chat.Button{
		{Label: "Approve once", Payload: chat.BuildApprovePayload(req.ID, string(request.ScopeOnce))},
	}}
	if !trusted {
		kb.Buttons = append(kb.Buttons,
			chat.Button{Label: "Approve for 24h", Payload: chat.BuildApprovePayload(req.ID, string(request.Scope24h))},
			chat.Button{Label: "Approve forever", Payload: chat.BuildApprovePayload(req.ID, string(request.ScopeForever))},
		)
	}
	kb.Buttons = append(kb.Buttons, chat.Button{Label: "Deny", Payload: chat.BuildDenyPayload(req.ID)})

	var presence map[string]bool
	if len(req.Secrets) > 0 {
		if err := workflow.ExecuteActivity(actCtx, "SecretPresence", req.Secrets).Get(ctx, &presence); err != nil {
			return "", err
		}
	}

	text := buildPromptText(req, presence, viewBaseURL)

	var handle string
	err := workflow.ExecuteActivity(actCtx, "SendPrompt", activities.SendPromptInput{
		RequestID: req.ID, Text: text, Keyboard: kb,
	}).Get(ctx, &handle)
	return handle, err
}

func sendPlainPrompt(ctx, actCtx workflow.Context, requestID, text string) (string, error) {
	var handle string
	err := workflow.ExecuteActivity(actCtx, "SendPrompt", activities.SendPromptInput{
		RequestID: requestID, Text: text,
	}).Get(ctx, &handle)
	return handle, err
}

// buildPromptText renders the fixed approval-prompt payload fields: skill
// name, secret names with their vault-presence indicator, network
// allow-list, timeout, args, a fingerprint prefix, and a code-view link
// (spec §4.3's prompt payload contents, §4.1 "Code view"). presence may be
// nil when req declares no secrets.
func buildPromptText(req request.Request, presence map[string]bool, viewBaseURL string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Execution request %s\n", req.ID)
	fmt.Fprintf(&b, "Skill: %s\n", req.SkillID)
	if len(req.Secrets) > 0 {
		names := make([]string, len(req.Secrets))
		for i, name := range req.Secrets {
			if presence[name] {
				names[i] = name + " (already set)"
			} else {
				names[i] = name + " (missing)"
			}
		}
		fmt.Fprintf(&b, "Secrets: %s\n", strings.Join(names, ", "))
	}
	if len(req.Network) > 0 {
		fmt.Fprintf(&b, "Network: %s\n", strings.Join(req.Network, ", "))
	} else {
		b.WriteString("Network: none\n")
	}
	fmt.Fprintf(&b, "Timeout: %ds\n", req.TimeoutSeconds)
	if len(req.Args) > 0 {
		fmt.Fprintf(&b, "Args: %v\n", req.Args)
	}
	prefix := req.Fingerprint
	if len(prefix) > 12 {
		prefix = prefix[:12]
	}
	fmt.Fprintf(&b, "Fingerprint: %s...\n", prefix)
	if viewBaseURL != "" {
		fmt.Fprintf(&b, "View code: %s/view/%s\n", strings.TrimRight(viewBaseURL, "/"), req.ID)
	}
	return b.String()
}

func resultSummary(r request.Result) string {
	if r.Success {
		return fmt.Sprintf("exit=%d duration=%dms", r.ExitCode, r.DurationMS)
	}
	if r.FailureKind != "" {
		return fmt.Sprintf("failed (%s) exit=%d duration=%dms", r.FailureKind, r.ExitCode, r.DurationMS)
	}
	return fmt.Sprintf("failed exit=%d duration=%dms", r.ExitCode, r.DurationMS)
}

// awaitApprovalDecision consumes chat events from ctrl until it sees a
// recognized approve or deny action for this request, tolerating unknown
// actions and duplicate clicks per spec §4.3's edge cases: the first
// decision wins, and anything arriving after a terminal decision is simply
// not looped back into (the caller stops calling this function once it
// returns).
func awaitApprovalDecision(ctx workflow.Context, ctrl *requestControl) (approved bool, scope request.TrustScope, err error) {
	for {
		ev, err := ctrl.awaitEvent(ctx)
		if err != nil {
			return false, "", err
		}
		if ev.Kind != chat.EventButtonClick {
			continue // unknown/irrelevant event, tolerated
		}
		action := chat.ParseAction(ev.Payload)
		switch action.Verb {
		case chat.ActionApprove:
			scope := request.TrustScope(request.ScopeOnce)
			if len(action.Args) >= 2 {
				scope = request.TrustScope(action.Args[1])
			}
			return true, scope, nil
		case chat.ActionDeny:
			return false, "", nil
		default:
			continue // unknown action, tolerated per spec §6
		}
	}
}

// awaitSecretReply consumes chat events from ctrl until it sees either a
// free-text message (the secret value) or a deny button click — spec §4.3
// "deny -> transition(pending|approved|awaiting_secrets -> denied)" is
// reachable from this dialogue too, not just the initial approval prompt.
func awaitSecretReply(ctx workflow.Context, ctrl *requestControl) (value string, denied bool, err error) {
	for {
		ev, err := ctrl.awaitEvent(ctx)
		if err != nil {
			return "", false, err
		}
		switch ev.Kind {
		case chat.EventTextMessage:
			return ev.Text, false, nil
		case chat.EventButtonClick:
			if chat.ParseAction(ev.Payload).Verb == chat.ActionDeny {
				return "", true, nil
			}
			continue // unknown/irrelevant button, tolerated
		default:
			continue
		}
	}
}

// denyRequest transitions a request to denied from its current state,
// edits the prompt in place, and emits a notification. Reachable from
// pending, approved, or awaiting_secrets (spec §4.3).
func denyRequest(ctx, actCtx workflow.Context, req request.Request) (RequestWorkflowResult, error) {
	logger := workflow.GetLogger(ctx)
	if err := workflow.ExecuteActivity(actCtx, "Transition", activities.TransitionInput{
		ID: req.ID, From: req.State, To: request.StateDenied,
	}).Get(ctx, nil); err != nil {
		logger.Error("failed to transition to denied", "error", err)
	}
	if req.ChatHandle != "" {
		if err := workflow.ExecuteActivity(actCtx, "EditPrompt", activities.EditPromptInput{
			Handle: req.ChatHandle,
			Text:   fmt.Sprintf("Request %s: denied", req.ID),
		}).Get(ctx, nil); err != nil {
			logger.Warn("failed to edit prompt for denial", "error", err)
		}
	}
	if err := workflow.ExecuteActivity(actCtx, "Notify", activities.NotifyInput{
		RequestID: req.ID, State: request.StateDenied, Summary: "denied by operator",
	}).Get(ctx, nil); err != nil {
		logger.Warn("failed to emit denial notification", "error", err)
	}
	return RequestWorkflowResult{FinalState: request.StateDenied}, nil
}

// failResult is the catch-all path for activity errors that leave the
// request in an indeterminate state: it records a failed result so the
// request never hangs in a non-terminal state forever.
func failResult(ctx, actCtx workflow.Context, req request.Request, reason string) (RequestWorkflowResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Error("request workflow failing", "request_id", req.ID, "reason", reason)
	result := request.Result{
		Success:     false,
		FailureKind: "internal",
		ExitCode:    request.ExitCodeTimeoutSentinel,
	}
	if err := workflow.ExecuteActivity(actCtx, "SetResult", activities.SetResultInput{
		ID: req.ID, Terminal: request.StateFailed, Result: result,
	}).Get(ctx, nil); err != nil {
		logger.Error("failed to persist failure result", "error", err)
	}
	return RequestWorkflowResult{FinalState: request.StateFailed, Result: &result}, nil
}
