package group

import (
	"testing"

	"github.com/opd-ai/imapsn/document"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newGroups(t *testing.T) (*Groups, *document.MemoryStore) {
	t.Helper()
	store := document.NewMemoryStore("IMAPSN")
	g, err := Load(store, func() string { return "acct:me@example.org#groups" })
	require.NoError(t, err)
	return g, store
}

var bob = Member{ID: "acct:bob@example.org#0", Email: "bob@example.org", DisplayName: "Bob"}

func TestAppendDeduplicates(t *testing.T) {
	g, _ := newGroups(t)

	added, err := g.Append(DefaultGroup, bob)
	require.NoError(t, err)
	assert.True(t, added)

	added, err = g.Append(DefaultGroup, bob)
	require.NoError(t, err)
	assert.False(t, added)

	assert.Len(t, g.Members(DefaultGroup), 1)
}

func TestAppendRejectsBadAddress(t *testing.T) {
	g, _ := newGroups(t)
	_, err := g.Append(DefaultGroup, Member{ID: "x", Email: "not an address"})
	assert.Error(t, err)
	assert.Empty(t, g.Members(DefaultGroup))
}

func TestRemove(t *testing.T) {
	g, _ := newGroups(t)
	carol := Member{ID: "acct:carol@example.org#0", Email: "carol@example.org", DisplayName: "Carol"}
	_, err := g.Append("family", bob)
	require.NoError(t, err)
	_, err = g.Append("family", carol)
	require.NoError(t, err)

	assert.True(t, g.Remove("family", bob.ID))
	assert.False(t, g.Remove("family", bob.ID))
	assert.False(t, g.Remove("nope", bob.ID))
	assert.Equal(t, []Member{carol}, g.Members("family"))
}

func TestMembersIsCopy(t *testing.T) {
	g, _ := newGroups(t)
	_, err := g.Append(DefaultGroup, bob)
	require.NoError(t, err)

	m := g.Members(DefaultGroup)
	m[0].DisplayName = "Mallory"
	assert.Equal(t, "Bob", g.Members(DefaultGroup)[0].DisplayName)
	assert.Empty(t, g.Members("unknown"))
}

func TestSaveReloadAndNames(t *testing.T) {
	g, store := newGroups(t)
	_, err := g.Append(DefaultGroup, bob)
	require.NoError(t, err)
	_, err = g.Append("alpha", bob)
	require.NoError(t, err)
	require.NoError(t, g.Save())

	reloaded, err := Load(store, func() string { return "unused" })
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", DefaultGroup}, reloaded.Names())
	assert.Equal(t, []Member{bob}, reloaded.Members(DefaultGroup))
}

func TestMemberAddress(t *testing.T) {
	assert.Equal(t, `"Bob" <bob@example.org>`, bob.Address())
}
