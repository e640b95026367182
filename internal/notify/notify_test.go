package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmitPostsToWebhook(t *testing.T) {
	var received Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		_ = json.NewDecoder(r.Body).Decode(&received)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewNotifier(srv.URL, "")
	err := n.Emit(context.Background(), Event{RequestID: "r1", State: "completed", Summary: "ok"})
	require.NoError(t, err)
	assert.Equal(t, "r1", received.RequestID)
}

func TestEmitFallsBackToFileOnWebhookFailure(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notify.log")

	n := NewNotifier("http://127.0.0.1:0", path)
	err := n.Emit(context.Background(), Event{RequestID: "r2", State: "failed", Summary: "boom"})
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "r2"))
}

func TestEmitWithNoWebhookGoesStraightToFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notify.log")

	n := NewNotifier("", path)
	err := n.Emit(context.Background(), Event{RequestID: "r3", State: "denied", Summary: "no"})
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "r3"))
}
