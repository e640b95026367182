package trust_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mfateev/skillbroker/internal/request"
	"github.com/mfateev/skillbroker/internal/trust"
)

type fakeStore struct {
	records map[string]*request.Trust
}

func newFakeStore() *fakeStore { return &fakeStore{records: map[string]*request.Trust{}} }

func key(source, fp string) string { return source + "|" + fp }

func (f *fakeStore) LookupTrust(_ context.Context, source, fp string, now time.Time) (*request.Trust, error) {
	t, ok := f.records[key(source, fp)]
	if !ok {
		return nil, nil
	}
	if t.Expired(now) {
		delete(f.records, key(source, fp))
		return nil, nil
	}
	return t, nil
}

func (f *fakeStore) AddTrust(_ context.Context, source, fp string, scope request.TrustScope, now time.Time) error {
	var expires *time.Time
	if scope == request.Scope24h {
		e := now.Add(request.TrustDuration24h)
		expires = &e
	}
	f.records[key(source, fp)] = &request.Trust{Source: source, Fingerprint: fp, Scope: scope, GrantedAt: now, ExpiresAt: expires}
	return nil
}

func TestIsTrustedReflectsExpiry(t *testing.T) {
	fs := newFakeStore()
	c := trust.New(fs)
	now := time.Now()

	ok, err := c.IsTrusted(context.Background(), "src", "fp", now)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Grant(context.Background(), "src", "fp", request.Scope24h, now))

	ok, err = c.IsTrusted(context.Background(), "src", "fp", now.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.IsTrusted(context.Background(), "src", "fp", now.Add(25*time.Hour))
	require.NoError(t, err)
	assert.False(t, ok)
}
