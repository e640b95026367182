package pending

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPutAndResolve(t *testing.T) {
	r := NewRegistry()
	r.Put("h1", Entry{RequestID: "req-1", SecretName: "API_KEY"})

	e, ok := r.Resolve("h1")
	assert.True(t, ok)
	assert.Equal(t, "req-1", e.RequestID)
	assert.Equal(t, "API_KEY", e.SecretName)
}

func TestResolveMissingHandle(t *testing.T) {
	r := NewRegistry()
	_, ok := r.Resolve("missing")
	assert.False(t, ok)
}

func TestDeleteRemovesEntry(t *testing.T) {
	r := NewRegistry()
	r.Put("h1", Entry{RequestID: "req-1", SecretName: "API_KEY"})
	r.Delete("h1")

	_, ok := r.Resolve("h1")
	assert.False(t, ok)
}

func TestConcurrentAccess(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			h := "h"
			r.Put(h, Entry{RequestID: "req", SecretName: "S"})
			r.Resolve(h)
		}(i)
	}
	wg.Wait()
}
