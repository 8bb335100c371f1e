package wishlist

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitoshi/lunore/internal/client/kvstore"
	"github.com/hitoshi/lunore/internal/model"
)

func product(id, name string) *model.Product {
	return &model.Product{ID: id, Name: name, Category: model.CategoryShirts, Price: 10}
}

func ids(items []model.Product) []string {
	out := make([]string, len(items))
	for i, p := range items {
		out[i] = p.ID
	}
	return out
}

func TestWishlist_AddRemoveToggle(t *testing.T) {
	w, err := Load(kvstore.NewMemory())
	require.NoError(t, err)
	assert.Empty(t, w.Items())

	require.NoError(t, w.Add(product("p1", "Linen")))
	require.NoError(t, w.Add(product("p2", "Oxford")))
	require.NoError(t, w.Add(product("p1", "Linen again")))
	assert.Equal(t, []string{"p1", "p2"}, ids(w.Items()))
	assert.Equal(t, "Linen", w.Items()[0].Name)

	in, err := w.Toggle(product("p1", "Linen"))
	require.NoError(t, err)
	assert.False(t, in)
	assert.False(t, w.Contains("p1"))

	in, err = w.Toggle(product("p3", "Belt"))
	require.NoError(t, err)
	assert.True(t, in)
	assert.Equal(t, []string{"p2", "p3"}, ids(w.Items()))

	require.NoError(t, w.Remove("missing"))
	require.NoError(t, w.Remove("p2"))
	assert.Equal(t, []string{"p3"}, ids(w.Items()))
}

func TestWishlist_PersistsInStore(t *testing.T) {
	store := kvstore.NewFile(filepath.Join(t.TempDir(), "client.json"))

	w, err := Load(store)
	require.NoError(t, err)
	require.NoError(t, w.Add(product("p1", "Linen")))
	require.NoError(t, w.Add(product("p2", "Oxford")))

	reloaded, err := Load(store)
	require.NoError(t, err)
	assert.Equal(t, []string{"p1", "p2"}, ids(reloaded.Items()))
	assert.True(t, reloaded.Contains("p2"))

	raw, ok, err := store.Get(Key)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Contains(t, raw, `"name":"Oxford"`)
}

func TestLoad_CorruptValue(t *testing.T) {
	store := kvstore.NewMemory()
	require.NoError(t, store.Set(Key, "not json"))

	_, err := Load(store)
	assert.ErrorContains(t, err, "failed to parse wishlist")
}

type readOnlyStore struct {
	kvstore.Store
}

func (readOnlyStore) Set(key, value string) error { return errors.New("read-only") }

func TestWishlist_SaveFailureKeepsItems(t *testing.T) {
	w, err := Load(readOnlyStore{kvstore.NewMemory()})
	require.NoError(t, err)

	err = w.Add(product("p1", "Linen"))
	assert.ErrorContains(t, err, "read-only")
	assert.Empty(t, w.Items())
}
