package chunk

import (
	"github.com/pachyderm/durachunk/src/internal/pacherr"
)

const (
	// MinChunkSize is the smallest allowed maximum chunk size.
	MinChunkSize = 1000
	// MaxBufferSize bounds every read from a chunked source.
	MaxBufferSize = 8000
)

// Options configure chunking.  They are fixed once constructed.
type Options struct {
	maxChunkSize     int64
	bufferSize       int
	ignoreLargeFiles bool
	preserveMD5s     bool
	filter           *Filter
}

// Option configures Options.
type Option func(o *Options)

// WithIgnoreLargeFiles makes callers skip content larger than the maximum
// chunk size instead of chunking it.
func WithIgnoreLargeFiles() Option {
	return func(o *Options) {
		o.ignoreLargeFiles = true
	}
}

// WithPreserveChunkMD5s makes writers check a caller supplied chunk checksum
// against the chunk's computed MD5.
func WithPreserveChunkMD5s() Option {
	return func(o *Options) {
		o.preserveMD5s = true
	}
}

// WithFilter sets the filter deciding which files are considered at all.
func WithFilter(f *Filter) Option {
	return func(o *Options) {
		o.filter = f
	}
}

// NewOptions validates maxChunkSize and returns the options.
func NewOptions(maxChunkSize int64, opts ...Option) (*Options, error) {
	bufferSize, err := BufferSize(maxChunkSize)
	if err != nil {
		return nil, err
	}
	o := &Options{
		maxChunkSize: maxChunkSize,
		bufferSize:   bufferSize,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.filter == nil {
		o.filter = &Filter{}
	}
	return o, nil
}

// BufferSize returns the copy buffer size for maxChunkSize: the largest of
// 8000, 4000, 2000 and 1000 that divides it.  maxChunkSize must be a positive
// multiple of 1000.
func BufferSize(maxChunkSize int64) (int, error) {
	if maxChunkSize < MinChunkSize {
		return 0, pacherr.NewConfigError("maxChunkSize", "%d is smaller than the minimum of %d", maxChunkSize, MinChunkSize)
	}
	if maxChunkSize%MinChunkSize != 0 {
		return 0, pacherr.NewConfigError("maxChunkSize", "%d is not a multiple of %d", maxChunkSize, MinChunkSize)
	}
	size := int64(MaxBufferSize)
	for maxChunkSize%size != 0 {
		size /= 2
	}
	return int(size), nil
}

// MaxChunkSize returns the largest number of bytes in one chunk.
func (o *Options) MaxChunkSize() int64 {
	return o.maxChunkSize
}

// BufferSize returns the size of every read from a chunked source.
func (o *Options) BufferSize() int {
	return o.bufferSize
}

// IgnoreLargeFiles reports whether oversized content should be skipped.
func (o *Options) IgnoreLargeFiles() bool {
	return o.ignoreLargeFiles
}

// PreserveChunkMD5s reports whether supplied chunk checksums are verified.
func (o *Options) PreserveChunkMD5s() bool {
	return o.preserveMD5s
}

// Filter returns the file filter.  It is never nil.
func (o *Options) Filter() *Filter {
	return o.filter
}

// NeedsChunking reports whether content of size bytes must be chunked.
func (o *Options) NeedsChunking(size int64) bool {
	return size > o.maxChunkSize
}
