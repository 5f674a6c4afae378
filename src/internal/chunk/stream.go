package chunk

import (
	"encoding/hex"
	"hash"
	"io"

	"github.com/pachyderm/durachunk/src/internal/errors"
	"github.com/pachyderm/durachunk/src/internal/pacherr"
)

// Stream is the byte stream of one chunk.  Its MD5 is available once it has
// been read to the end.
type Stream struct {
	content   *Content
	id        string
	index     int
	size      int64
	remaining int64
	hash      hash.Hash
	md5       string
	closed    bool
	err       error
}

var (
	_ io.ReadCloser = &Stream{}
	_ io.WriterTo   = &Stream{}
)

// ID returns the chunk id.
func (s *Stream) ID() string {
	return s.id
}

// Index returns the chunk's position in its content.
func (s *Stream) Index() int {
	return s.index
}

// Size returns the number of bytes in the chunk.
func (s *Stream) Size() int64 {
	return s.size
}

// Mimetype returns the mimetype of the source content.
func (s *Stream) Mimetype() string {
	return s.content.mimetype
}

// PreserveMD5 reports whether a caller supplied checksum for this chunk
// should be checked against MD5.
func (s *Stream) PreserveMD5() bool {
	return s.content.opts.preserveMD5s
}

// MD5 returns the hex MD5 of the chunk.  It fails if the chunk has not been
// read to the end.
func (s *Stream) MD5() (string, error) {
	if !s.drained() {
		return "", pacherr.NewSequencing("checksum of chunk %s requested with %d bytes unread", s.id, s.remaining)
	}
	return s.md5, nil
}

func (s *Stream) drained() bool {
	return s.remaining == 0 && s.md5 != ""
}

func (s *Stream) finish() error {
	s.md5 = hex.EncodeToString(s.hash.Sum(nil))
	return s.content.addEntry(s)
}

// Read implements io.Reader.  No read from the source goes past the end of
// the chunk or is larger than the buffer size.
func (s *Stream) Read(p []byte) (int, error) {
	if s.closed {
		return 0, errors.Errorf("read of closed chunk %s", s.id)
	}
	if s.err != nil {
		return 0, s.err
	}
	if s.remaining == 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > s.remaining {
		p = p[:s.remaining]
	}
	if len(p) > s.content.opts.bufferSize {
		p = p[:s.content.opts.bufferSize]
	}
	n, err := s.content.src.Read(p)
	s.consume(p[:n])
	if s.remaining == 0 {
		if err := s.finish(); err != nil {
			s.err = err
			return n, err
		}
		return n, nil
	}
	if errors.Is(err, io.EOF) {
		s.err = errors.Wrapf(io.ErrUnexpectedEOF, "chunk %s: source ended with %d bytes left", s.id, s.remaining)
		return n, s.err
	}
	if err != nil {
		s.err = errors.EnsureStack(err)
	}
	return n, s.err
}

func (s *Stream) consume(p []byte) {
	s.hash.Write(p)
	s.content.sourceMD5.Write(p)
	s.remaining -= int64(len(p))
}

// WriteTo implements io.WriterTo, copying the rest of the chunk to w through
// a buffer of the content's buffer size.
func (s *Stream) WriteTo(w io.Writer) (int64, error) {
	buf := make([]byte, s.content.opts.bufferSize)
	var written int64
	for {
		n, err := s.Read(buf)
		if n > 0 {
			m, werr := w.Write(buf[:n])
			written += int64(m)
			if werr != nil {
				return written, errors.EnsureStack(werr)
			}
			if m != n {
				return written, errors.EnsureStack(io.ErrShortWrite)
			}
		}
		if errors.Is(err, io.EOF) {
			return written, nil
		}
		if err != nil {
			return written, err
		}
	}
}

// Close marks the chunk as closed.  Closing a chunk that has not been read
// to the end leaves its Content unable to continue.
func (s *Stream) Close() error {
	s.closed = true
	return nil
}
