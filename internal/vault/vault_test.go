package vault_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mfateev/skillbroker/internal/vault"
)

type fakeBackingStore struct {
	data map[string][]byte
}

func newFakeBackingStore() *fakeBackingStore { return &fakeBackingStore{data: map[string][]byte{}} }

func (f *fakeBackingStore) PutSecret(_ context.Context, name string, value []byte) error {
	f.data[name] = value
	return nil
}
func (f *fakeBackingStore) DeleteSecret(_ context.Context, name string) error {
	delete(f.data, name)
	return nil
}
func (f *fakeBackingStore) AllSecrets(_ context.Context) (map[string][]byte, error) {
	return f.data, nil
}

func TestPutGetHas(t *testing.T) {
	ctx := context.Background()
	v := vault.New(newFakeBackingStore())

	assert.False(t, v.Has("K"))
	require.NoError(t, v.Put(ctx, "K", []byte("secret-value")))
	assert.True(t, v.Has("K"))

	val, ok := v.Get("K")
	require.True(t, ok)
	assert.Equal(t, []byte("secret-value"), val)
}

func TestListNamesNeverValues(t *testing.T) {
	ctx := context.Background()
	v := vault.New(newFakeBackingStore())
	require.NoError(t, v.Put(ctx, "A", []byte("x")))
	require.NoError(t, v.Put(ctx, "B", []byte("y")))

	names := v.ListNames()
	assert.ElementsMatch(t, []string{"A", "B"}, names)
}

func TestHydrateFromBackingStore(t *testing.T) {
	ctx := context.Background()
	backing := newFakeBackingStore()
	backing.data["PRELOADED"] = []byte("v1")

	v := vault.New(backing)
	assert.False(t, v.Has("PRELOADED"))
	require.NoError(t, v.Hydrate(ctx))
	assert.True(t, v.Has("PRELOADED"))
}

func TestSubsetOnlyRequestedNames(t *testing.T) {
	ctx := context.Background()
	v := vault.New(newFakeBackingStore())
	require.NoError(t, v.Put(ctx, "A", []byte("a")))
	require.NoError(t, v.Put(ctx, "B", []byte("b")))

	subset := v.Subset([]string{"A", "MISSING"})
	assert.Equal(t, map[string][]byte{"A": []byte("a")}, subset)
}

func TestDeleteRemovesFromMemoryAndBacking(t *testing.T) {
	ctx := context.Background()
	backing := newFakeBackingStore()
	v := vault.New(backing)
	require.NoError(t, v.Put(ctx, "K", []byte("v")))
	require.NoError(t, v.Delete(ctx, "K"))
	assert.False(t, v.Has("K"))
	_, stillInBacking := backing.data["K"]
	assert.False(t, stillInBacking)
}
