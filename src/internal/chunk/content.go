package chunk

import (
	"crypto/md5"
	"encoding/hex"
	"hash"
	"io"

	"github.com/pachyderm/durachunk/src/internal/chunk/manifest"
	"github.com/pachyderm/durachunk/src/internal/errors"
	"github.com/pachyderm/durachunk/src/internal/pacherr"
	"github.com/pachyderm/durachunk/src/internal/store"
)

// Content splits one source into chunks.  It is a single-pass, forward-only
// iterator and is not safe for concurrent use.
type Content struct {
	contentID string
	mimetype  string
	src       io.Reader
	size      int64
	opts      *Options

	count     int
	width     int
	next      int
	current   *Stream
	sourceMD5 hash.Hash
	builder   *manifest.Builder
}

// NewContent returns a Content producing the chunks of the size bytes read
// from src.  Empty content yields a single empty chunk.  A contentID or
// mimetype that a manifest cannot record is refused up front.
func NewContent(contentID, mimetype string, src io.Reader, size int64, opts *Options) (*Content, error) {
	if err := manifest.CheckHeader(contentID, mimetype); err != nil {
		return nil, err
	}
	return newContent(contentID, mimetype, src, size, opts)
}

func newContent(contentID, mimetype string, src io.Reader, size int64, opts *Options) (*Content, error) {
	if contentID == "" {
		return nil, errors.New("content id cannot be empty")
	}
	if size < 0 {
		return nil, errors.Errorf("content %s: size must be known, got %d", contentID, size)
	}
	if mimetype == "" {
		mimetype = store.DefaultMimetype
	}
	count := 1
	if size > 0 {
		count = int((size + opts.maxChunkSize - 1) / opts.maxChunkSize)
	}
	return &Content{
		contentID: contentID,
		mimetype:  mimetype,
		src:       src,
		size:      size,
		opts:      opts,
		count:     count,
		width:     IndexWidth(count),
		sourceMD5: md5.New(),
		builder:   manifest.NewBuilder(contentID, mimetype),
	}, nil
}

// Whole returns a single stream over all size bytes of src, identified by
// contentID itself rather than a chunk id.  It is how content that needs no
// chunking is written.
func Whole(contentID, mimetype string, src io.Reader, size int64, opts *Options) (*Stream, error) {
	c, err := newContent(contentID, mimetype, src, size, opts)
	if err != nil {
		return nil, err
	}
	c.count = 1
	c.next = 1
	c.current = &Stream{
		content:   c,
		id:        contentID,
		size:      size,
		remaining: size,
		hash:      md5.New(),
	}
	if size == 0 {
		if err := c.current.finish(); err != nil {
			return nil, err
		}
	}
	return c.current, nil
}

// ContentID returns the id of the source content.
func (c *Content) ContentID() string {
	return c.contentID
}

// Mimetype returns the mimetype of the source content.
func (c *Content) Mimetype() string {
	return c.mimetype
}

// Size returns the size of the source content.
func (c *Content) Size() int64 {
	return c.size
}

// ChunkCount returns the number of chunks the content is split into.
func (c *Content) ChunkCount() int {
	return c.count
}

// Options returns the chunking options.
func (c *Content) Options() *Options {
	return c.opts
}

// Next returns the stream for the next chunk, or io.EOF once every chunk has
// been produced.  The previous stream must have been read to the end and
// closed.
func (c *Content) Next() (*Stream, error) {
	if s := c.current; s != nil {
		if !s.drained() {
			return nil, pacherr.NewSequencing("chunk %s was not fully read", s.id)
		}
		if !s.closed {
			return nil, pacherr.NewSequencing("chunk %s was not closed", s.id)
		}
	}
	if c.next >= c.count {
		return nil, io.EOF
	}
	index := c.next
	size := c.opts.maxChunkSize
	if remaining := c.size - int64(index)*c.opts.maxChunkSize; remaining < size {
		size = remaining
	}
	c.next++
	c.current = &Stream{
		content:   c,
		id:        ID(c.contentID, index, c.width),
		index:     index,
		size:      size,
		remaining: size,
		hash:      md5.New(),
	}
	if size == 0 {
		if err := c.current.finish(); err != nil {
			return nil, err
		}
	}
	return c.current, nil
}

// Finalize seals the manifest.  Every chunk must have been produced and read
// to the end.
func (c *Content) Finalize() (*manifest.Manifest, error) {
	if c.current != nil && !c.current.drained() {
		return nil, pacherr.NewSequencing("chunk %s was not fully read", c.current.id)
	}
	if c.next < c.count {
		return nil, pacherr.NewSequencing("%d of %d chunks of %s were not read", c.count-c.next, c.count, c.contentID)
	}
	return c.builder.Seal(c.size, hex.EncodeToString(c.sourceMD5.Sum(nil)))
}

func (c *Content) addEntry(s *Stream) error {
	return c.builder.Add(manifest.Entry{
		Index: s.index,
		ID:    s.id,
		Size:  s.size,
		MD5:   s.md5,
	})
}
