// Package chunkconfig reads the settings shared by every chunking command
// from the environment and turns them into chunk, store, writer and stitch
// options.
package chunkconfig

import (
	"context"
	"strings"
	"time"

	units "github.com/docker/go-units"

	"github.com/pachyderm/durachunk/src/internal/chunk"
	"github.com/pachyderm/durachunk/src/internal/chunk/stitch"
	"github.com/pachyderm/durachunk/src/internal/chunk/writer"
	"github.com/pachyderm/durachunk/src/internal/cmdutil"
	"github.com/pachyderm/durachunk/src/internal/errors"
	"github.com/pachyderm/durachunk/src/internal/pacherr"
	"github.com/pachyderm/durachunk/src/internal/store"
)

// StorageConfiguration locates the backing store.
type StorageConfiguration struct {
	StorageURL        string `env:"STORAGE_URL"`
	StorageMaxReaders int    `env:"STORAGE_MAX_READERS,default=0"`
	StorageMaxWriters int    `env:"STORAGE_MAX_WRITERS,default=0"`
}

// ChunkConfiguration controls how content is split.
type ChunkConfiguration struct {
	// ChunkMaxSize is a human size; decimal units, so 10MB is 10,000,000.
	ChunkMaxSize            string `env:"CHUNK_MAX_SIZE,default=1GB"`
	ChunkIgnoreLargeFiles   bool   `env:"CHUNK_IGNORE_LARGE_FILES,default=false"`
	ChunkPreserveMD5s       bool   `env:"CHUNK_PRESERVE_MD5S,default=false"`
	ChunkInclude            string `env:"CHUNK_INCLUDE"`
	ChunkExclude            string `env:"CHUNK_EXCLUDE"`
	ChunkUploadConcurrency  int    `env:"CHUNK_UPLOAD_CONCURRENCY,default=4"`
	ManifestCacheSize       int    `env:"MANIFEST_CACHE_SIZE,default=128"`
	VerifySourceOnRetrieval bool   `env:"CHUNK_VERIFY_SOURCE,default=true"`
}

// WriterConfiguration controls the remote writer.
type WriterConfiguration struct {
	SpaceCreateRetries    int           `env:"SPACE_CREATE_RETRIES,default=10"`
	SpaceCreateRetryDelay time.Duration `env:"SPACE_CREATE_RETRY_DELAY,default=3s"`
	WriterFailFast        bool          `env:"WRITER_FAIL_FAST,default=false"`
}

// Configuration is the full set of settings.
type Configuration struct {
	StorageConfiguration
	ChunkConfiguration
	WriterConfiguration
	LogLevel string `env:"LOG_LEVEL,default=info"`
}

// New reads a Configuration from the environment and decoders.
func New(decoders ...cmdutil.Decoder) (*Configuration, error) {
	config := &Configuration{}
	if err := cmdutil.Populate(config, decoders...); err != nil {
		return nil, errors.Wrap(err, "read configuration")
	}
	if _, err := config.ChunkOptions(); err != nil {
		return nil, err
	}
	return config, nil
}

// NewTestConfiguration returns a Configuration holding only the defaults,
// storing into storageURL.
func NewTestConfiguration(storageURL string) (*Configuration, error) {
	config := &Configuration{}
	if err := cmdutil.PopulateDefaults(config); err != nil {
		return nil, errors.EnsureStack(err)
	}
	config.StorageURL = storageURL
	return config, nil
}

// MaxChunkSize parses ChunkMaxSize.
func (c *Configuration) MaxChunkSize() (int64, error) {
	size, err := units.FromHumanSize(c.ChunkMaxSize)
	if err != nil {
		return 0, pacherr.NewConfigError("CHUNK_MAX_SIZE", "%v", err)
	}
	return size, nil
}

func splitList(s string) []string {
	var result []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			result = append(result, item)
		}
	}
	return result
}

// ChunkOptions builds the chunking options.
func (c *Configuration) ChunkOptions() (*chunk.Options, error) {
	size, err := c.MaxChunkSize()
	if err != nil {
		return nil, err
	}
	var opts []chunk.Option
	if c.ChunkIgnoreLargeFiles {
		opts = append(opts, chunk.WithIgnoreLargeFiles())
	}
	if c.ChunkPreserveMD5s {
		opts = append(opts, chunk.WithPreserveChunkMD5s())
	}
	if c.ChunkInclude != "" || c.ChunkExclude != "" {
		filter, err := chunk.NewFilter(splitList(c.ChunkInclude), splitList(c.ChunkExclude))
		if err != nil {
			return nil, pacherr.NewConfigError("CHUNK_INCLUDE", "%v", err)
		}
		opts = append(opts, chunk.WithFilter(filter))
	}
	return chunk.NewOptions(size, opts...)
}

// UploadConcurrency is the number of parallel upload workers, at least 1.
func (c *Configuration) UploadConcurrency() int {
	if c.ChunkUploadConcurrency < 1 {
		return 1
	}
	return c.ChunkUploadConcurrency
}

// OpenStore opens the configured store, limited to the configured number of
// concurrent readers and writers.
func (c *Configuration) OpenStore(ctx context.Context) (store.Store, func() error, error) {
	if c.StorageURL == "" {
		return nil, nil, pacherr.NewConfigError("STORAGE_URL", "must be set")
	}
	s, closeStore, err := store.Open(ctx, c.StorageURL)
	if err != nil {
		return nil, nil, err //nolint:wrapcheck
	}
	if c.StorageMaxReaders > 0 || c.StorageMaxWriters > 0 {
		s = store.NewLimitedStore(s, c.StorageMaxReaders, c.StorageMaxWriters)
	}
	return s, closeStore, nil
}

// WriterOptions builds the remote writer options.
func (c *Configuration) WriterOptions() []writer.StoreOption {
	opts := []writer.StoreOption{writer.WithSpaceRetries(c.SpaceCreateRetries, c.SpaceCreateRetryDelay)}
	if c.WriterFailFast {
		opts = append(opts, writer.WithFailFast())
	}
	return opts
}

// StitchOptions builds the stitcher options.
func (c *Configuration) StitchOptions() []stitch.Option {
	opts := []stitch.Option{stitch.WithCacheSize(c.ManifestCacheSize)}
	if c.VerifySourceOnRetrieval {
		opts = append(opts, stitch.WithSourceVerification())
	}
	return opts
}
