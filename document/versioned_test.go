package document

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionedLoadDefault(t *testing.T) {
	store := NewMemoryStore("IMAPSN")

	v, err := Load(store, "/key-map.json", func() string { return "id-1" }, func() map[string]string {
		return map[string]string{}
	})
	require.NoError(t, err)
	assert.Equal(t, "id-1", v.ID())
	assert.Equal(t, uint64(0), v.Version())
	assert.Equal(t, "/key-map.json", v.Path())
	assert.NotNil(t, v.Data)
	assert.Equal(t, 0, store.Len(), "loading a default must not write")
}

func TestVersionedSaveReload(t *testing.T) {
	store := NewMemoryStore("IMAPSN")
	empty := func() map[string]string { return map[string]string{} }

	v, err := Load(store, "/key-map.json", func() string { return "id-1" }, empty)
	require.NoError(t, err)
	v.Data["hash"] = "RSA.x.AQAB"
	require.NoError(t, v.Save())
	require.NoError(t, v.Save())
	assert.Equal(t, uint64(2), v.Version())

	reloaded, err := Load(store, "/key-map.json", func() string { return "other" }, empty)
	require.NoError(t, err)
	assert.Equal(t, "id-1", reloaded.ID())
	assert.Equal(t, uint64(2), reloaded.Version())
	assert.Equal(t, "RSA.x.AQAB", reloaded.Data["hash"])
}

func TestVersionedNullDataKeepsDefault(t *testing.T) {
	store := NewMemoryStore("IMAPSN")
	require.NoError(t, store.Put("/groups.json", []byte(`{"id":"g","version":3,"data":null}`)))

	v, err := Load(store, "/groups.json", func() string { return "new" }, func() map[string][]string {
		return map[string][]string{}
	})
	require.NoError(t, err)
	assert.NotNil(t, v.Data)
	assert.Equal(t, uint64(3), v.Version())
}

func TestVersionedCorrupt(t *testing.T) {
	store := NewMemoryStore("IMAPSN")
	require.NoError(t, store.Put("/broken.json", []byte("{not json")))

	_, err := Load(store, "/broken.json", func() string { return "x" }, func() map[string]int { return nil })
	assert.ErrorIs(t, err, ErrStoreRead)
}

func TestVersionedTooLarge(t *testing.T) {
	store := NewMemoryStore("IMAPSN")
	v, err := Load(store, "/big.json", func() string { return "x" }, func() string { return "" })
	require.NoError(t, err)

	v.Data = strings.Repeat("a", 600*1024)
	assert.ErrorIs(t, v.Save(), ErrStoreWrite)
	assert.Equal(t, uint64(0), v.Version())
}
