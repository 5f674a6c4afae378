package chunk

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pachyderm/durachunk/src/internal/chunk/manifest"
	"github.com/pachyderm/durachunk/src/internal/pacherr"
)

func randomBytes(seed int64, n int) []byte {
	data := make([]byte, n)
	rand.New(rand.NewSource(seed)).Read(data) //nolint:gosec
	return data
}

func md5Hex(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

func newTestContent(t testing.TB, id string, data []byte, maxChunkSize int64, opts ...Option) *Content {
	o, err := NewOptions(maxChunkSize, opts...)
	require.NoError(t, err)
	c, err := NewContent(id, "application/test", bytes.NewReader(data), int64(len(data)), o)
	require.NoError(t, err)
	return c
}

// drain reads every chunk of c and returns their bytes.
func drain(t testing.TB, c *Content) [][]byte {
	var chunks [][]byte
	for {
		s, err := c.Next()
		if err == io.EOF {
			return chunks
		}
		require.NoError(t, err)
		buf := &bytes.Buffer{}
		_, err = s.WriteTo(buf)
		require.NoError(t, err)
		require.NoError(t, s.Close())
		chunks = append(chunks, buf.Bytes())
	}
}

func TestBufferSize(t *testing.T) {
	for k := int64(1); k <= 2000; k++ {
		size := k * 1000
		b, err := BufferSize(size)
		require.NoError(t, err)
		require.LessOrEqual(t, b, MaxBufferSize)
		require.Zero(t, size%int64(b), "%d", size)
	}
	for size, want := range map[int64]int{
		1000:       1000,
		2000:       2000,
		3000:       1000,
		6000:       2000,
		10000:      2000,
		12000:      4000,
		16000:      8000,
		5000000000: 8000,
	} {
		b, err := BufferSize(size)
		require.NoError(t, err)
		require.Equal(t, want, b, "%d", size)
	}
	for _, size := range []int64{-1000, 0, 500, 999, 1500, 12345} {
		_, err := BufferSize(size)
		require.True(t, pacherr.IsConfigError(err), "%d: %v", size, err)
		_, err = NewOptions(size)
		require.True(t, pacherr.IsConfigError(err), "%d: %v", size, err)
	}
}

func TestEndToEnd(t *testing.T) {
	data := randomBytes(1, 45000)
	c := newTestContent(t, "photos/big.jpg", data, 10000)
	require.Equal(t, 5, c.ChunkCount())
	chunks := drain(t, c)
	require.Len(t, chunks, 5)
	for i, chunk := range chunks {
		want := 10000
		if i == 4 {
			want = 5000
		}
		require.Len(t, chunk, want)
	}
	require.Equal(t, data, bytes.Join(chunks, nil))

	m, err := c.Finalize()
	require.NoError(t, err)
	h := m.Header()
	require.Equal(t, int64(45000), h.SourceSize)
	require.Equal(t, md5Hex(data), h.SourceMD5)
	require.Equal(t, "photos/big.jpg", h.SourceContentID)
	require.Equal(t, "application/test", h.SourceMimetype)
	require.Equal(t, 5, m.Len())
	for i, e := range m.Entries() {
		require.Equal(t, i, e.Index)
		require.Equal(t, fmt.Sprintf("photos/big.jpg.dura-chunk-%04d", i), e.ID)
		require.Equal(t, int64(len(chunks[i])), e.Size)
		require.Equal(t, md5Hex(chunks[i]), e.MD5)
	}
}

func TestCompleteness(t *testing.T) {
	r := rand.New(rand.NewSource(2)) //nolint:gosec
	for i := 0; i < 50; i++ {
		chunkSize := int64(1000 * (1 + r.Intn(20)))
		size := r.Intn(100000) + 1
		data := randomBytes(int64(i), size)
		c := newTestContent(t, "x", data, chunkSize)
		chunks := drain(t, c)
		want := (int64(size) + chunkSize - 1) / chunkSize
		require.Equal(t, int(want), len(chunks))
		last := int64(size) % chunkSize
		if last == 0 {
			last = chunkSize
		}
		require.Equal(t, last, int64(len(chunks[len(chunks)-1])))
		m, err := c.Finalize()
		require.NoError(t, err)
		require.Equal(t, md5Hex(data), m.Header().SourceMD5)
		require.Equal(t, md5Hex(bytes.Join(chunks, nil)), md5Hex(data))
	}
}

func TestReadsBounded(t *testing.T) {
	data := randomBytes(3, 30000)
	o, err := NewOptions(6000)
	require.NoError(t, err)
	src := &recordingReader{r: bytes.NewReader(data)}
	c, err := NewContent("x", "", src, int64(len(data)), o)
	require.NoError(t, err)
	require.Equal(t, 2000, o.BufferSize())
	for i := 0; ; i++ {
		s, err := c.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		// Alternate between large reads and buffered copies.
		if i%2 == 0 {
			_, err = io.ReadAll(io.LimitReader(s, 1<<20))
		} else {
			_, err = s.WriteTo(io.Discard)
		}
		require.NoError(t, err)
		require.NoError(t, s.Close())
	}
	require.LessOrEqual(t, src.max, 2000)
	require.Equal(t, int64(len(data)), src.total)
}

type recordingReader struct {
	r     io.Reader
	max   int
	total int64
}

func (r *recordingReader) Read(p []byte) (int, error) {
	if len(p) > r.max {
		r.max = len(p)
	}
	n, err := r.r.Read(p)
	r.total += int64(n)
	return n, err
}

func TestSequencing(t *testing.T) {
	data := randomBytes(4, 2500)
	t.Run("NextBeforeDrained", func(t *testing.T) {
		c := newTestContent(t, "x", data, 1000)
		s, err := c.Next()
		require.NoError(t, err)
		_, err = io.ReadFull(s, make([]byte, 10))
		require.NoError(t, err)
		_, err = c.Next()
		require.True(t, pacherr.IsSequencing(err), "%v", err)
		_, err = s.MD5()
		require.True(t, pacherr.IsSequencing(err), "%v", err)
	})
	t.Run("NextBeforeClosed", func(t *testing.T) {
		c := newTestContent(t, "x", data, 1000)
		s, err := c.Next()
		require.NoError(t, err)
		_, err = io.Copy(io.Discard, s)
		require.NoError(t, err)
		_, err = c.Next()
		require.True(t, pacherr.IsSequencing(err), "%v", err)
		require.NoError(t, s.Close())
		_, err = c.Next()
		require.NoError(t, err)
	})
	t.Run("FinalizeEarly", func(t *testing.T) {
		c := newTestContent(t, "x", data, 1000)
		_, err := c.Finalize()
		require.True(t, pacherr.IsSequencing(err), "%v", err)
		s, err := c.Next()
		require.NoError(t, err)
		_, err = c.Finalize()
		require.True(t, pacherr.IsSequencing(err), "%v", err)
		_, err = io.Copy(io.Discard, s)
		require.NoError(t, err)
		require.NoError(t, s.Close())
		_, err = c.Finalize()
		require.True(t, pacherr.IsSequencing(err), "%v", err)
	})
	t.Run("Exhausted", func(t *testing.T) {
		c := newTestContent(t, "x", data, 1000)
		require.Len(t, drain(t, c), 3)
		_, err := c.Next()
		require.Equal(t, io.EOF, err)
		_, err = c.Finalize()
		require.NoError(t, err)
	})
	t.Run("ReadAfterClose", func(t *testing.T) {
		c := newTestContent(t, "x", data, 1000)
		s, err := c.Next()
		require.NoError(t, err)
		require.NoError(t, s.Close())
		_, err = s.Read(make([]byte, 1))
		require.Error(t, err)
	})
}

func TestStreamMD5(t *testing.T) {
	data := randomBytes(5, 1500)
	c := newTestContent(t, "x", data, 1000, WithPreserveChunkMD5s())
	s, err := c.Next()
	require.NoError(t, err)
	require.True(t, s.PreserveMD5())
	require.Equal(t, "application/test", s.Mimetype())
	require.Equal(t, int64(1000), s.Size())
	require.Equal(t, 0, s.Index())
	_, err = io.Copy(io.Discard, s)
	require.NoError(t, err)
	sum, err := s.MD5()
	require.NoError(t, err)
	require.Equal(t, md5Hex(data[:1000]), sum)
}

func TestEmptyContent(t *testing.T) {
	c := newTestContent(t, "empty", nil, 1000)
	chunks := drain(t, c)
	require.Len(t, chunks, 1)
	require.Empty(t, chunks[0])
	m, err := c.Finalize()
	require.NoError(t, err)
	require.Equal(t, []manifest.Entry{{Index: 0, ID: "empty.dura-chunk-0000", Size: 0, MD5: md5Hex(nil)}}, m.Entries())
}

func TestShortSource(t *testing.T) {
	o, err := NewOptions(1000)
	require.NoError(t, err)
	c, err := NewContent("x", "", bytes.NewReader(make([]byte, 1500)), 2000, o)
	require.NoError(t, err)
	s, err := c.Next()
	require.NoError(t, err)
	_, err = s.WriteTo(io.Discard)
	require.NoError(t, err)
	require.NoError(t, s.Close())
	s, err = c.Next()
	require.NoError(t, err)
	_, err = s.WriteTo(io.Discard)
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestNewContentErrors(t *testing.T) {
	o, err := NewOptions(1000)
	require.NoError(t, err)
	_, err = NewContent("", "", bytes.NewReader(nil), 0, o)
	require.Error(t, err)
	_, err = NewContent("x", "", bytes.NewReader(nil), -1, o)
	require.Error(t, err)
	_, err = NewContent("dir/file\x01name", "", bytes.NewReader(nil), 0, o)
	require.True(t, pacherr.IsInvalidManifest(err), "%v", err)
	_, err = NewContent("x", "text/\xffplain", bytes.NewReader(nil), 0, o)
	require.True(t, pacherr.IsInvalidManifest(err), "%v", err)

	// Unchunked content never gets a manifest.
	s, err := Whole("dir/file\x01name", "", bytes.NewReader([]byte("x")), 1, o)
	require.NoError(t, err)
	require.Equal(t, "dir/file\x01name", s.ID())
}

func TestWhole(t *testing.T) {
	data := randomBytes(6, 25000)
	o, err := NewOptions(10000)
	require.NoError(t, err)
	s, err := Whole("plain.bin", "", bytes.NewReader(data), int64(len(data)), o)
	require.NoError(t, err)
	require.Equal(t, "plain.bin", s.ID())
	require.Equal(t, "application/octet-stream", s.Mimetype())
	buf := &bytes.Buffer{}
	_, err = s.WriteTo(buf)
	require.NoError(t, err)
	require.Equal(t, data, buf.Bytes())
	sum, err := s.MD5()
	require.NoError(t, err)
	require.Equal(t, md5Hex(data), sum)
}
