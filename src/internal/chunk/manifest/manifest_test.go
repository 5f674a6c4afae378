package manifest

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/pachyderm/durachunk/src/internal/pacherr"
)

func sum(s string) string {
	h := md5.Sum([]byte(s))
	return hex.EncodeToString(h[:])
}

func build(t testing.TB, id string, sizes ...int64) *Manifest {
	b := NewBuilder(id, "text/plain")
	var total int64
	for i, size := range sizes {
		require.NoError(t, b.Add(Entry{
			Index: i,
			ID:    fmt.Sprintf("%s.dura-chunk-%04d", id, i),
			Size:  size,
			MD5:   sum(fmt.Sprint(i)),
		}))
		total += size
	}
	m, err := b.Seal(total, sum(id))
	require.NoError(t, err)
	return m
}

func TestRoundTrip(t *testing.T) {
	for _, n := range []int{1, 2, 5, 10000} {
		t.Run(fmt.Sprint(n), func(t *testing.T) {
			sizes := make([]int64, n)
			for i := range sizes {
				sizes[i] = 10000
			}
			sizes[n-1] = 5000
			m := build(t, "dir/file.bin", sizes...)
			data, err := m.Marshal()
			require.NoError(t, err)
			got, err := Unmarshal(data)
			require.NoError(t, err)
			if diff := cmp.Diff(m, got, cmp.AllowUnexported(Manifest{})); diff != "" {
				t.Errorf("round trip (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRoundTripAwkwardIDs(t *testing.T) {
	for _, id := range []string{
		"tab\there",
		"a&b<c>\"d'",
		"line\r\nbreak",
		"unicode \u2713 \U0001D11E",
		"replacement \ufffd",
	} {
		m := build(t, id, 3)
		data, err := m.Marshal()
		require.NoError(t, err)
		got, err := Unmarshal(data)
		require.NoError(t, err, "%q", id)
		require.Equal(t, id, got.Header().SourceContentID)
		require.Equal(t, m.Entries(), got.Entries())
	}
}

func TestSchema(t *testing.T) {
	m := build(t, "a.txt", 3)
	data, err := m.Marshal()
	require.NoError(t, err)
	s := string(data)
	for _, want := range []string{
		`<manifest version="1.0">`,
		`<header>`,
		`<sourceContentId>a.txt</sourceContentId>`,
		`<sourceMimetype>text/plain</sourceMimetype>`,
		`<sourceSize>3</sourceSize>`,
		`<sourceMD5>` + sum("a.txt") + `</sourceMD5>`,
		`<entries>`,
		`<entry index="0">`,
		`<id>a.txt.dura-chunk-0000</id>`,
		`<size>3</size>`,
		`<md5>` + sum("0") + `</md5>`,
	} {
		require.Contains(t, s, want)
	}
	require.Less(t, strings.Index(s, "<header>"), strings.Index(s, "<entries>"))
}

func TestBody(t *testing.T) {
	m := build(t, "a", 1000, 1000, 10)
	body, err := m.Body()
	require.NoError(t, err)
	size := body.Size()
	data, err := io.ReadAll(body)
	require.NoError(t, err)
	require.Equal(t, size, int64(len(data)))
	require.Equal(t, sum(string(data)), body.MD5())
	got, err := Unmarshal(data)
	require.NoError(t, err)
	require.Equal(t, m.Header(), got.Header())
}

func TestAccessors(t *testing.T) {
	m := build(t, "a", 10, 5)
	require.Equal(t, "a.dura-manifest", m.ID())
	require.Equal(t, Version, m.Version())
	require.Equal(t, 2, m.Len())
	require.Equal(t, int64(5), m.Entry(1).Size)
	require.Equal(t, map[string]struct{}{"a.dura-chunk-0000": {}, "a.dura-chunk-0001": {}}, m.ChunkIDs())
	entries := m.Entries()
	entries[0].Size = 99
	require.Equal(t, int64(10), m.Entry(0).Size)
}

func TestBuilderOrder(t *testing.T) {
	b := NewBuilder("a", "")
	err := b.Add(Entry{Index: 1, ID: "a.dura-chunk-0001", MD5: sum("")})
	require.True(t, pacherr.IsSequencing(err), "%v", err)
	require.Equal(t, 0, b.Len())
}

func TestInvalid(t *testing.T) {
	good := Entry{Index: 0, ID: "a.dura-chunk-0000", Size: 3, MD5: sum("abc")}
	header := Header{SourceContentID: "a", SourceSize: 3, SourceMD5: sum("abc")}
	tests := []struct {
		name    string
		header  Header
		entries []Entry
	}{
		{"no id", Header{SourceSize: 3, SourceMD5: sum("abc")}, []Entry{good}},
		{"bad source md5", Header{SourceContentID: "a", SourceSize: 3, SourceMD5: "xyz"}, []Entry{good}},
		{"no entries", header, nil},
		{"gap", header, []Entry{{Index: 1, ID: "a.dura-chunk-0001", Size: 3, MD5: sum("abc")}}},
		{"size", Header{SourceContentID: "a", SourceSize: 4, SourceMD5: sum("abc")}, []Entry{good}},
		{"entry md5", header, []Entry{{Index: 0, ID: "a.dura-chunk-0000", Size: 3, MD5: ""}}},
		{"entry id", header, []Entry{{Index: 0, Size: 3, MD5: sum("abc")}}},
		{"control char id", Header{SourceContentID: "dir/file\x01name", SourceSize: 3, SourceMD5: sum("abc")}, []Entry{good}},
		{"invalid utf8 id", Header{SourceContentID: "a\xff", SourceSize: 3, SourceMD5: sum("abc")}, []Entry{good}},
		{"control char mimetype", Header{SourceContentID: "a", SourceMimetype: "text/\x00", SourceSize: 3, SourceMD5: sum("abc")}, []Entry{good}},
		{"control char entry id", header, []Entry{{Index: 0, ID: "a\x1b.dura-chunk-0000", Size: 3, MD5: sum("abc")}}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := New(test.header, test.entries)
			require.True(t, pacherr.IsInvalidManifest(err), "%v", err)
		})
	}
}

func TestBuilderRejectsUnwritableID(t *testing.T) {
	b := NewBuilder("dir/file\x01name", "")
	require.NoError(t, b.Add(Entry{Index: 0, ID: "dir/file\x01name.dura-chunk-0000", Size: 3, MD5: sum("abc")}))
	_, err := b.Seal(3, sum("abc"))
	require.True(t, pacherr.IsInvalidManifest(err), "%v", err)
}

func TestUnmarshalInvalid(t *testing.T) {
	for _, data := range []string{
		"",
		"not xml",
		`<manifest version="2.0"><header><sourceContentId>a</sourceContentId></header></manifest>`,
		`<manifest version="1.0"><header><sourceContentId>a</sourceContentId><sourceSize>x</sourceSize></header></manifest>`,
	} {
		_, err := Unmarshal([]byte(data))
		require.True(t, pacherr.IsInvalidManifest(err), "%q: %v", data, err)
		require.False(t, pacherr.IsNotExist(err))
	}
}

func TestIDs(t *testing.T) {
	require.Equal(t, "x/y.bin.dura-manifest", ID("x/y.bin"))
	require.True(t, IsID("x.dura-manifest"))
	require.False(t, IsID(".dura-manifest"))
	require.False(t, IsID("x.dura-chunk-0000"))
	require.Equal(t, "x", BaseID("x.dura-manifest"))
	require.Equal(t, "x", BaseID("x"))
}
