package chunk

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIndexWidth(t *testing.T) {
	for count, want := range map[int]int{
		1:       4,
		5:       4,
		10000:   4,
		10001:   5,
		100000:  5,
		1000001: 7,
	} {
		require.Equal(t, want, IndexWidth(count), "%d", count)
	}
}

func TestIDs(t *testing.T) {
	require.Equal(t, "a/b.txt.dura-chunk-0007", ID("a/b.txt", 7, 4))
	require.Equal(t, "a.dura-chunk-00012", ID("a", 12, 5))
	require.Equal(t, "a.dura-chunk-", Prefix("a"))

	id, index, ok := ParseID("a/b.txt.dura-chunk-0007")
	require.True(t, ok)
	require.Equal(t, "a/b.txt", id)
	require.Equal(t, 7, index)

	for _, bad := range []string{"a", "a.dura-chunk-", "a.dura-chunk-12x", ".dura-chunk-0000", "a.dura-manifest"} {
		require.False(t, IsID(bad), bad)
	}
	require.Equal(t, "a", BaseID("a.dura-chunk-0001"))
	require.Equal(t, "a", BaseID("a.dura-manifest"))
	require.Equal(t, "a.txt", BaseID("a.txt"))
}

func TestFilter(t *testing.T) {
	f, err := NewFilter([]string{"*.jpg", "docs/**"}, []string{"*.tmp", "cache"})
	require.NoError(t, err)
	require.True(t, f.IncludeFile("a.jpg"))
	require.True(t, f.IncludeFile("photos/a.jpg"))
	require.True(t, f.IncludeFile("docs/x/readme.md"))
	require.False(t, f.IncludeFile("notes.txt"))
	require.False(t, f.IncludeFile("docs/x.tmp"))
	require.True(t, f.IncludeDir("photos"))
	require.False(t, f.IncludeDir("cache"))
	require.False(t, f.IncludeDir("a/cache"))

	var all Filter
	require.True(t, all.IncludeFile("anything"))
	require.True(t, all.IncludeDir("anywhere"))
}
