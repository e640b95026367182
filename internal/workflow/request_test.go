package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.temporal.io/sdk/testsuite"

	"github.com/mfateev/skillbroker/internal/activities"
	"github.com/mfateev/skillbroker/internal/chat"
	"github.com/mfateev/skillbroker/internal/request"
)

// Stub activity functions so the test environment recognises the activity
// names used by workflow.ExecuteActivity(ctx, "Name", ...) — OnActivity
// mocks below override their actual behavior.

func LookupTrust(_ context.Context, _ activities.LookupTrustInput) (*request.Trust, error) {
	panic("stub: should be mocked")
}
func AddTrust(_ context.Context, _ activities.AddTrustInput) error { panic("stub: should be mocked") }
func Transition(_ context.Context, _ activities.TransitionInput) error {
	panic("stub: should be mocked")
}
func AttachChatHandle(_ context.Context, _ activities.AttachChatHandleInput) error {
	panic("stub: should be mocked")
}
func SetResult(_ context.Context, _ activities.SetResultInput) error {
	panic("stub: should be mocked")
}
func MissingSecrets(_ context.Context, _ []string) ([]string, error) {
	panic("stub: should be mocked")
}
func SecretPresence(_ context.Context, _ []string) (map[string]bool, error) {
	panic("stub: should be mocked")
}
func PutSecret(_ context.Context, _ activities.PutSecretInput) error {
	panic("stub: should be mocked")
}
func SendPrompt(_ context.Context, _ activities.SendPromptInput) (string, error) {
	panic("stub: should be mocked")
}
func EditPrompt(_ context.Context, _ activities.EditPromptInput) error {
	panic("stub: should be mocked")
}
func DeleteMessage(_ context.Context, _ string) error { panic("stub: should be mocked") }
func ExecuteSkill(_ context.Context, _ activities.ExecuteSkillInput) (request.Result, error) {
	panic("stub: should be mocked")
}
func Notify(_ context.Context, _ activities.NotifyInput) error { panic("stub: should be mocked") }

func TestBuildPromptTextIncludesPresenceAndViewLink(t *testing.T) {
	req := request.Request{
		ID:          "req-1",
		SkillID:     "hello",
		Fingerprint: "deadbeefcafebabe",
		Secrets:     []string{"K1", "K2"},
	}
	text := buildPromptText(req, map[string]bool{"K1": true, "K2": false}, "http://localhost:8080/")

	assert.Contains(t, text, "K1 (already set)")
	assert.Contains(t, text, "K2 (missing)")
	assert.Contains(t, text, "View code: http://localhost:8080/view/req-1")
}

func TestBuildPromptTextOmitsViewLinkWhenUnconfigured(t *testing.T) {
	req := request.Request{ID: "req-1", SkillID: "hello"}
	text := buildPromptText(req, nil, "")
	assert.NotContains(t, text, "View code:")
}

type RequestWorkflowTestSuite struct {
	suite.Suite
	testsuite.WorkflowTestSuite
	env *testsuite.TestWorkflowEnvironment
}

func TestRequestWorkflowSuite(t *testing.T) {
	suite.Run(t, new(RequestWorkflowTestSuite))
}

func (s *RequestWorkflowTestSuite) SetupTest() {
	s.env = s.NewTestWorkflowEnvironment()
	s.env.RegisterActivity(LookupTrust)
	s.env.RegisterActivity(AddTrust)
	s.env.RegisterActivity(Transition)
	s.env.RegisterActivity(AttachChatHandle)
	s.env.RegisterActivity(SetResult)
	s.env.RegisterActivity(MissingSecrets)
	s.env.RegisterActivity(SecretPresence)
	s.env.RegisterActivity(PutSecret)
	s.env.RegisterActivity(SendPrompt)
	s.env.RegisterActivity(EditPrompt)
	s.env.RegisterActivity(DeleteMessage)
	s.env.RegisterActivity(ExecuteSkill)
	s.env.RegisterActivity(Notify)
}

func (s *RequestWorkflowTestSuite) baseRequest() request.Request {
	return request.Request{
		ID:             "req-1",
		SkillID:        "hello",
		Fingerprint:    "deadbeef",
		TimeoutSeconds: 30,
		State:          request.StatePending,
		CreatedAt:      time.Now(),
	}
}

// TestHappyPathApproveOnce mirrors spec scenario S1: new code, operator
// approves once, sandbox runs and completes successfully.
func (s *RequestWorkflowTestSuite) TestHappyPathApproveOnce() {
	s.env.OnActivity("LookupTrust", mock.Anything, mock.Anything).Return((*request.Trust)(nil), nil).Once()
	s.env.OnActivity("SendPrompt", mock.Anything, mock.Anything).Return("handle-1", nil).Once()
	s.env.OnActivity("AttachChatHandle", mock.Anything, mock.Anything).Return(nil).Once()
	s.env.OnActivity("Transition", mock.Anything, activities.TransitionInput{
		ID: "req-1", From: request.StatePending, To: request.StateApproved,
	}).Return(nil).Once()
	s.env.OnActivity("MissingSecrets", mock.Anything, mock.Anything).Return([]string{}, nil).Once()
	s.env.OnActivity("Transition", mock.Anything, activities.TransitionInput{
		ID: "req-1", From: request.StateApproved, To: request.StateExecuting,
	}).Return(nil).Once()
	s.env.OnActivity("ExecuteSkill", mock.Anything, mock.Anything).
		Return(request.Result{Success: true, Stdout: "HELLO", ExitCode: 0, DurationMS: 10}, nil).Once()
	s.env.OnActivity("SetResult", mock.Anything, mock.Anything).Return(nil).Once()
	s.env.OnActivity("EditPrompt", mock.Anything, mock.Anything).Return(nil).Once()
	s.env.OnActivity("Notify", mock.Anything, mock.Anything).Return(nil).Once()

	s.env.RegisterDelayedCallback(func() {
		s.env.SignalWorkflow(SignalRequestChatEvent, chat.Event{
			Kind:    chat.EventButtonClick,
			Payload: chat.BuildApprovePayload("req-1", string(request.ScopeOnce)),
		})
	}, time.Millisecond)

	s.env.ExecuteWorkflow(RequestWorkflow, RequestWorkflowInput{
		Request: s.baseRequest(),
		Source:  "https://skills.example/hello",
		Code:    []byte("#!/bin/sh\necho HELLO\n"),
	})

	require.True(s.T(), s.env.IsWorkflowCompleted())
	require.NoError(s.T(), s.env.GetWorkflowError())

	var result RequestWorkflowResult
	require.NoError(s.T(), s.env.GetWorkflowResult(&result))
	assert.Equal(s.T(), request.StateCompleted, result.FinalState)
	assert.True(s.T(), result.Result.Success)
	assert.Equal(s.T(), "HELLO", result.Result.Stdout)
}

// TestDenial mirrors spec scenario S6: operator denies, no sandbox launch.
func (s *RequestWorkflowTestSuite) TestDenial() {
	s.env.OnActivity("LookupTrust", mock.Anything, mock.Anything).Return((*request.Trust)(nil), nil).Once()
	s.env.OnActivity("SendPrompt", mock.Anything, mock.Anything).Return("handle-1", nil).Once()
	s.env.OnActivity("AttachChatHandle", mock.Anything, mock.Anything).Return(nil).Once()
	s.env.OnActivity("Transition", mock.Anything, activities.TransitionInput{
		ID: "req-1", From: request.StatePending, To: request.StateDenied,
	}).Return(nil).Once()
	s.env.OnActivity("EditPrompt", mock.Anything, mock.Anything).Return(nil).Once()
	s.env.OnActivity("Notify", mock.Anything, mock.Anything).Return(nil).Once()

	s.env.RegisterDelayedCallback(func() {
		s.env.SignalWorkflow(SignalRequestChatEvent, chat.Event{
			Kind:    chat.EventButtonClick,
			Payload: chat.BuildDenyPayload("req-1"),
		})
	}, time.Millisecond)

	s.env.ExecuteWorkflow(RequestWorkflow, RequestWorkflowInput{
		Request: s.baseRequest(),
		Source:  "https://skills.example/hello",
		Code:    []byte("#!/bin/sh\necho HELLO\n"),
	})

	require.True(s.T(), s.env.IsWorkflowCompleted())
	require.NoError(s.T(), s.env.GetWorkflowError())

	var result RequestWorkflowResult
	require.NoError(s.T(), s.env.GetWorkflowResult(&result))
	assert.Equal(s.T(), request.StateDenied, result.FinalState)
}

// TestMissingSecretFlow mirrors spec scenario S3: a declared secret is
// missing, the operator supplies it via a text reply, execution proceeds.
func (s *RequestWorkflowTestSuite) TestMissingSecretFlow() {
	req := s.baseRequest()
	req.Secrets = []string{"K"}

	s.env.OnActivity("LookupTrust", mock.Anything, mock.Anything).Return((*request.Trust)(nil), nil).Once()
	s.env.OnActivity("SecretPresence", mock.Anything, []string{"K"}).Return(map[string]bool{"K": false}, nil).Once()
	s.env.OnActivity("SendPrompt", mock.Anything, mock.Anything).Return("handle-1", nil).Once()
	s.env.OnActivity("AttachChatHandle", mock.Anything, mock.Anything).Return(nil).Once()
	s.env.OnActivity("Transition", mock.Anything, activities.TransitionInput{
		ID: "req-1", From: request.StatePending, To: request.StateApproved,
	}).Return(nil).Once()
	s.env.OnActivity("MissingSecrets", mock.Anything, mock.Anything).
		Return([]string{"K"}, nil).Once()
	s.env.OnActivity("Transition", mock.Anything, activities.TransitionInput{
		ID: "req-1", From: request.StateApproved, To: request.StateAwaitingSecrets,
	}).Return(nil).Once()
	s.env.OnActivity("SendPrompt", mock.Anything, mock.Anything).Return("handle-2", nil).Once()
	s.env.OnActivity("PutSecret", mock.Anything, activities.PutSecretInput{
		Name: "K", Value: []byte("v1"),
	}).Return(nil).Once()
	s.env.OnActivity("DeleteMessage", mock.Anything, "handle-2").Return(nil).Once()
	s.env.OnActivity("MissingSecrets", mock.Anything, mock.Anything).
		Return([]string{}, nil).Once()
	s.env.OnActivity("Transition", mock.Anything, activities.TransitionInput{
		ID: "req-1", From: request.StateAwaitingSecrets, To: request.StateExecuting,
	}).Return(nil).Once()
	s.env.OnActivity("ExecuteSkill", mock.Anything, mock.Anything).
		Return(request.Result{Success: true, ExitCode: 0}, nil).Once()
	s.env.OnActivity("SetResult", mock.Anything, mock.Anything).Return(nil).Once()
	s.env.OnActivity("EditPrompt", mock.Anything, mock.Anything).Return(nil).Once()
	s.env.OnActivity("Notify", mock.Anything, mock.Anything).Return(nil).Once()

	s.env.RegisterDelayedCallback(func() {
		s.env.SignalWorkflow(SignalRequestChatEvent, chat.Event{
			Kind:    chat.EventButtonClick,
			Payload: chat.BuildApprovePayload("req-1", string(request.ScopeOnce)),
		})
	}, time.Millisecond)
	s.env.RegisterDelayedCallback(func() {
		s.env.SignalWorkflow(SignalRequestChatEvent, chat.Event{
			Kind: chat.EventTextMessage, ReplyTo: "handle-2", Text: "v1",
		})
	}, 2*time.Millisecond)

	s.env.ExecuteWorkflow(RequestWorkflow, RequestWorkflowInput{
		Request: req,
		Source:  "https://skills.example/hello",
		Code:    []byte("#!/bin/sh\necho $K\n"),
	})

	require.True(s.T(), s.env.IsWorkflowCompleted())
	require.NoError(s.T(), s.env.GetWorkflowError())

	var result RequestWorkflowResult
	require.NoError(s.T(), s.env.GetWorkflowResult(&result))
	assert.Equal(s.T(), request.StateCompleted, result.FinalState)
}

// TestDenyDuringSecretDialogue covers spec.md §4.3's "deny ->
// transition(pending|approved|awaiting_secrets -> denied)": a deny click
// arriving while the workflow is waiting on a secret reply must still
// reach the denied state, not be silently dropped.
func (s *RequestWorkflowTestSuite) TestDenyDuringSecretDialogue() {
	req := s.baseRequest()
	req.Secrets = []string{"K"}

	s.env.OnActivity("LookupTrust", mock.Anything, mock.Anything).Return((*request.Trust)(nil), nil).Once()
	s.env.OnActivity("SecretPresence", mock.Anything, []string{"K"}).Return(map[string]bool{"K": false}, nil).Once()
	s.env.OnActivity("SendPrompt", mock.Anything, mock.Anything).Return("handle-1", nil).Once()
	s.env.OnActivity("AttachChatHandle", mock.Anything, mock.Anything).Return(nil).Once()
	s.env.OnActivity("Transition", mock.Anything, activities.TransitionInput{
		ID: "req-1", From: request.StatePending, To: request.StateApproved,
	}).Return(nil).Once()
	s.env.OnActivity("MissingSecrets", mock.Anything, mock.Anything).
		Return([]string{"K"}, nil).Once()
	s.env.OnActivity("Transition", mock.Anything, activities.TransitionInput{
		ID: "req-1", From: request.StateApproved, To: request.StateAwaitingSecrets,
	}).Return(nil).Once()
	s.env.OnActivity("SendPrompt", mock.Anything, mock.Anything).Return("handle-2", nil).Once()
	s.env.OnActivity("Transition", mock.Anything, activities.TransitionInput{
		ID: "req-1", From: request.StateAwaitingSecrets, To: request.StateDenied,
	}).Return(nil).Once()
	s.env.OnActivity("EditPrompt", mock.Anything, mock.Anything).Return(nil).Once()
	s.env.OnActivity("Notify", mock.Anything, mock.Anything).Return(nil).Once()

	s.env.RegisterDelayedCallback(func() {
		s.env.SignalWorkflow(SignalRequestChatEvent, chat.Event{
			Kind:    chat.EventButtonClick,
			Payload: chat.BuildApprovePayload("req-1", string(request.ScopeOnce)),
		})
	}, time.Millisecond)
	s.env.RegisterDelayedCallback(func() {
		s.env.SignalWorkflow(SignalRequestChatEvent, chat.Event{
			Kind:    chat.EventButtonClick,
			Payload: chat.BuildDenyPayload("req-1"),
		})
	}, 2*time.Millisecond)

	s.env.ExecuteWorkflow(RequestWorkflow, RequestWorkflowInput{
		Request: req,
		Source:  "https://skills.example/hello",
		Code:    []byte("#!/bin/sh\necho $K\n"),
	})

	require.True(s.T(), s.env.IsWorkflowCompleted())
	require.NoError(s.T(), s.env.GetWorkflowError())

	var result RequestWorkflowResult
	require.NoError(s.T(), s.env.GetWorkflowResult(&result))
	assert.Equal(s.T(), request.StateDenied, result.FinalState)
}
