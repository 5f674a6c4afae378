package store

import (
	"context"
	"io"
	"math"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/semaphore"

	"github.com/pachyderm/durachunk/src/internal/errors"
)

var (
	blockStartedMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "durachunk",
		Subsystem: "object_storage",
		Name:      "limited_block_start_total",
		Help:      "The number of times a blocking operation has started (even if it wouldn't block), by operation name.",
	}, []string{"op"})
	blockedSecondsMetric = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "durachunk",
		Subsystem: "object_storage",
		Name:      "limited_seconds",
		Help:      "Distribution of time spent waiting behind the limited store semaphore, by operation name",
		Buckets:   []float64{0.00001, 0.0001, 0.001, 0.01, 0.1, 1, 10, 60},
	}, []string{"op"})
)

const limitSemCost = 1

var _ Store = &limitedStore{}

// limitedStore is a Store which limits the number of objects open at a time
// for reading and writing respectively.
type limitedStore struct {
	Store
	writersSem *semaphore.Weighted
	readersSem *semaphore.Weighted
}

// NewLimitedStore constructs a Store which will only ever have
//
//	<= maxReaders objects open for reading
//	<= maxWriters objects open for writing
//
// if either is < 1 then that constraint is ignored.  A read holds its slot
// until the returned body is closed.
func NewLimitedStore(s Store, maxReaders, maxWriters int) Store {
	if maxReaders < 1 {
		maxReaders = math.MaxInt
	}
	if maxWriters < 1 {
		maxWriters = math.MaxInt
	}
	return &limitedStore{
		Store:      s,
		writersSem: semaphore.NewWeighted(int64(maxWriters)),
		readersSem: semaphore.NewWeighted(int64(maxReaders)),
	}
}

func acquire(ctx context.Context, sem *semaphore.Weighted, op string) error {
	blockStartedMetric.WithLabelValues(op).Inc()
	t := time.Now()
	if err := sem.Acquire(ctx, limitSemCost); err != nil {
		return errors.EnsureStack(err)
	}
	blockedSecondsMetric.WithLabelValues(op).Observe(time.Since(t).Seconds())
	return nil
}

func (ls *limitedStore) AddContent(ctx context.Context, spaceID, contentID string, r io.Reader, size int64, mimetype, checksum string, props Properties) (string, error) {
	if err := acquire(ctx, ls.writersSem, "add"); err != nil {
		return "", err
	}
	defer ls.writersSem.Release(limitSemCost)
	return ls.Store.AddContent(ctx, spaceID, contentID, r, size, mimetype, checksum, props)
}

func (ls *limitedStore) GetContent(ctx context.Context, spaceID, contentID string) (*Content, error) {
	if err := acquire(ctx, ls.readersSem, "get"); err != nil {
		return nil, err
	}
	c, err := ls.Store.GetContent(ctx, spaceID, contentID)
	if err != nil {
		ls.readersSem.Release(limitSemCost)
		return nil, err
	}
	c.Body = &releasingBody{ReadCloser: c.Body, release: func() { ls.readersSem.Release(limitSemCost) }}
	return c, nil
}

type releasingBody struct {
	io.ReadCloser
	once    sync.Once
	release func()
}

func (b *releasingBody) Close() error {
	err := b.ReadCloser.Close()
	b.once.Do(b.release)
	return errors.EnsureStack(err)
}
