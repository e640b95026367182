package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mfateev/skillbroker/internal/brokererr"
	"github.com/mfateev/skillbroker/internal/request"
	"github.com/mfateev/skillbroker/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestCreateAndGet(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	r := &request.Request{
		ID:             "r1",
		SkillID:        "hello",
		SkillURL:       "data:text/plain,HELLO",
		Fingerprint:    "abc123",
		Secrets:        []string{"K"},
		Args:           map[string]string{"a": "b"},
		Network:        nil,
		TimeoutSeconds: 30,
		CreatedAt:      time.Now(),
	}
	require.NoError(t, s.Create(ctx, r))

	got, err := s.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, request.StatePending, got.State)
	assert.Equal(t, []string{"K"}, got.Secrets)
	assert.Equal(t, "b", got.Args["a"])
}

func TestCreateDuplicateID(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	r := &request.Request{ID: "dup", SkillID: "s", SkillURL: "u", Fingerprint: "f", CreatedAt: time.Now()}
	require.NoError(t, s.Create(ctx, r))
	err := s.Create(ctx, r)
	assert.ErrorIs(t, err, brokererr.ErrDuplicateID)
}

func TestGetUnknown(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	_, err := s.Get(ctx, "nope")
	assert.ErrorIs(t, err, brokererr.ErrNotFound)
}

func TestTransitionCompareAndSet(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	r := &request.Request{ID: "r2", SkillID: "s", SkillURL: "u", Fingerprint: "f", CreatedAt: time.Now()}
	require.NoError(t, s.Create(ctx, r))

	require.NoError(t, s.Transition(ctx, "r2", request.StatePending, request.StateApproved, time.Now()))

	// A second transition expecting the old "from" state must fail — this is
	// the at-most-one-winner guarantee (spec §8 property 2).
	err := s.Transition(ctx, "r2", request.StatePending, request.StateDenied, time.Now())
	assert.ErrorIs(t, err, brokererr.ErrInvalidTransition)

	got, err := s.Get(ctx, "r2")
	require.NoError(t, err)
	assert.Equal(t, request.StateApproved, got.State)
	assert.NotNil(t, got.ApprovedAt)
}

func TestTrustLifecycleAndExpiry(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := time.Now()

	err := s.AddTrust(ctx, "src", "fp", request.ScopeOnce, now)
	assert.ErrorIs(t, err, brokererr.ErrTrustOnceNotPersisted)

	require.NoError(t, s.AddTrust(ctx, "src", "fp", request.Scope24h, now))

	trust, err := s.LookupTrust(ctx, "src", "fp", now.Add(time.Hour))
	require.NoError(t, err)
	require.NotNil(t, trust)
	assert.Equal(t, request.Scope24h, trust.Scope)

	// After 24h + epsilon it must be absent (spec §8 property 3).
	trust, err = s.LookupTrust(ctx, "src", "fp", now.Add(25*time.Hour))
	require.NoError(t, err)
	assert.Nil(t, trust)

	// And the row must actually be gone (lazy delete), not just filtered.
	n, err := s.SweepExpiredTrust(ctx, now.Add(25*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestForeverTrustNeverExpires(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := time.Now()
	require.NoError(t, s.AddTrust(ctx, "src", "fp", request.ScopeForever, now))

	trust, err := s.LookupTrust(ctx, "src", "fp", now.Add(365*24*time.Hour))
	require.NoError(t, err)
	require.NotNil(t, trust)
	assert.Nil(t, trust.ExpiresAt)
}

func TestCodeRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	payload := []byte("#!/bin/sh\necho HELLO\n")
	require.NoError(t, s.StoreCode(ctx, "r3", payload))

	got, err := s.LoadCode(ctx, "r3")
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestSecretCRUD(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.PutSecret(ctx, "K", []byte("v1")))

	v, err := s.GetSecret(ctx, "K")
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), v)

	names, err := s.ListSecretNames(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"K"}, names)

	require.NoError(t, s.DeleteSecret(ctx, "K"))
	_, err = s.GetSecret(ctx, "K")
	assert.ErrorIs(t, err, brokererr.ErrNotFound)
}

func TestSetResult(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	r := &request.Request{ID: "r4", SkillID: "s", SkillURL: "u", Fingerprint: "f", CreatedAt: time.Now()}
	require.NoError(t, s.Create(ctx, r))

	result := request.Result{Success: true, Stdout: "HELLO", ExitCode: 0, DurationMS: 12}
	require.NoError(t, s.SetResult(ctx, "r4", request.StateCompleted, result, time.Now()))

	got, err := s.Get(ctx, "r4")
	require.NoError(t, err)
	assert.Equal(t, request.StateCompleted, got.State)
	require.NotNil(t, got.Result)
	assert.Equal(t, "HELLO", got.Result.Stdout)
}
