package cache

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMarkFunctionUnreachableIsMonotonic(t *testing.T) {
	c, err := New("")
	require.NoError(t, err)

	require.False(t, c.IsFunctionUnreachable("f"))
	require.NoError(t, c.MarkFunctionUnreachable("f"))
	require.True(t, c.IsFunctionUnreachable("f"))

	// Marking again must not error or otherwise disturb the cache.
	require.NoError(t, c.MarkFunctionUnreachable("f"))
	require.True(t, c.IsFunctionUnreachable("f"))
}

func TestUnreachableSites(t *testing.T) {
	c, err := New("")
	require.NoError(t, err)

	require.False(t, c.IsSiteUnreachable(0x1000))
	c.MarkSiteUnreachable(0x1000)
	require.True(t, c.IsSiteUnreachable(0x1000))
	require.False(t, c.IsSiteUnreachable(0x2000))
}

func TestUnreachableFunctionsPersistAcrossLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "unreachable.txt")

	c, err := New(path)
	require.NoError(t, err)
	require.NoError(t, c.MarkFunctionUnreachable("dead_fn"))
	require.NoError(t, c.MarkFunctionUnreachable("other_dead_fn"))

	reloaded, err := New(path)
	require.NoError(t, err)
	require.True(t, reloaded.IsFunctionUnreachable("dead_fn"))
	require.True(t, reloaded.IsFunctionUnreachable("other_dead_fn"))
	require.False(t, reloaded.IsFunctionUnreachable("never_marked"))
}

func TestNewToleratesMissingPersistFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "does-not-exist.txt")
	c, err := New(path)
	require.NoError(t, err)
	require.False(t, c.IsFunctionUnreachable("anything"))
}

func TestReachableTuplesMarkAndLookup(t *testing.T) {
	c, err := New("")
	require.NoError(t, err)

	require.False(t, c.FunctionsReachable([]string{"f"}))
	c.MarkFunctionsReachable([]string{"f"})
	require.True(t, c.FunctionsReachable([]string{"f"}))

	// A different (unrelated) tuple is unaffected.
	require.False(t, c.FunctionsReachable([]string{"g"}))

	require.False(t, c.SitesReachable([]uint64{0x1000}))
	c.MarkSitesReachable([]uint64{0x1000})
	require.True(t, c.SitesReachable([]uint64{0x1000}))
}

func TestReachableKeyOrderIndependence(t *testing.T) {
	c, err := New("")
	require.NoError(t, err)

	c.MarkFunctionsReachable([]string{"b", "a"})
	require.True(t, c.FunctionsReachable([]string{"a", "b"}), "reachable-tuple keys must be order independent")
}

func TestVisitCounting(t *testing.T) {
	c, err := New("")
	require.NoError(t, err)

	key := NewMutantKey(0x1000, []byte{0x75, 0x05})
	require.Equal(t, 0, c.VisitCount(key))
	c.RecordVisit(key)
	c.RecordVisit(key)
	require.Equal(t, 2, c.VisitCount(key))
}

func TestLeastVisitedPicksFewestVisits(t *testing.T) {
	c, err := New("")
	require.NoError(t, err)

	_, ok := c.LeastVisited(nil)
	require.False(t, ok, "no entries recorded yet")

	hot := NewMutantKey(0x1000, []byte{0x75, 0x05})
	cold := NewMutantKey(0x2000, []byte{0x90, 0x90})
	c.RecordVisit(hot)
	c.RecordVisit(hot)
	c.RecordVisit(hot)
	c.RecordVisit(cold)

	got, ok := c.LeastVisited(nil)
	require.True(t, ok)
	require.Equal(t, cold, got)
}

func TestMutantKeyHexEncodesReplacement(t *testing.T) {
	key := NewMutantKey(0x1000, []byte{0xDE, 0xAD})
	require.Equal(t, "dead", key.Replacement)
}
