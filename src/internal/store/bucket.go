package store

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"io"
	"strconv"
	"strings"

	"github.com/pachyderm/durachunk/src/internal/errors"
	"github.com/pachyderm/durachunk/src/internal/pacherr"
	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"
)

const spacesPrefix = ".spaces/"

var _ Store = &bucketStore{}

// bucketStore keeps each space as a marker object under spacesPrefix and each
// piece of content at "<space>/<contentID>".
type bucketStore struct {
	bucket *blob.Bucket
}

// NewBucketStore returns a Store backed by bucket.  The caller keeps
// ownership of bucket and must close it.
func NewBucketStore(bucket *blob.Bucket) Store {
	return &bucketStore{bucket: bucket}
}

func validateSpace(spaceID string) error {
	if spaceID == "" || strings.Contains(spaceID, "/") || strings.HasPrefix(spaceID, ".") {
		return errors.Errorf("invalid space id %q", spaceID)
	}
	return nil
}

func spaceKey(spaceID string) string {
	return spacesPrefix + spaceID
}

func contentKey(spaceID, contentID string) string {
	return spaceID + "/" + contentID
}

func (s *bucketStore) CreateSpace(ctx context.Context, spaceID string) error {
	if err := validateSpace(spaceID); err != nil {
		return err
	}
	return errors.EnsureStack(s.bucket.WriteAll(ctx, spaceKey(spaceID), nil, nil))
}

func (s *bucketStore) SpaceExists(ctx context.Context, spaceID string) (bool, error) {
	if err := validateSpace(spaceID); err != nil {
		return false, err
	}
	exists, err := s.bucket.Exists(ctx, spaceKey(spaceID))
	return exists, errors.EnsureStack(err)
}

func (s *bucketStore) requireSpace(ctx context.Context, spaceID string) error {
	exists, err := s.SpaceExists(ctx, spaceID)
	if err != nil {
		return err
	}
	if !exists {
		return pacherr.NewNotExist("spaces", spaceID)
	}
	return nil
}

func (s *bucketStore) AddContent(ctx context.Context, spaceID, contentID string, r io.Reader, size int64, mimetype, checksum string, props Properties) (string, error) {
	if contentID == "" {
		return "", errors.New("content id cannot be empty")
	}
	if err := s.requireSpace(ctx, spaceID); err != nil {
		return "", err
	}
	if mimetype == "" {
		mimetype = DefaultMimetype
	}
	metadata := make(map[string]string, len(props)+1)
	for k, v := range props {
		metadata[strings.ToLower(k)] = v
	}
	// Size and mimetype come from the blob attributes.
	delete(metadata, PropSize)
	delete(metadata, PropMimetype)
	delete(metadata, PropChecksum)
	if checksum != "" {
		metadata[PropChecksum] = strings.ToLower(checksum)
	}
	// Cancelling the writer's context before Close aborts the write.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	w, err := s.bucket.NewWriter(ctx, contentKey(spaceID, contentID), &blob.WriterOptions{
		ContentType: mimetype,
		Metadata:    metadata,
	})
	if err != nil {
		return "", errors.EnsureStack(err)
	}
	hash := md5.New()
	n, err := io.Copy(w, io.TeeReader(r, hash))
	if err == nil && size >= 0 && n != size {
		err = errors.Errorf("content %s: read %d bytes, expected %d", contentID, n, size)
	}
	if err != nil {
		cancel()
		w.Close() //nolint:errcheck
		return "", errors.EnsureStack(err)
	}
	actual := hex.EncodeToString(hash.Sum(nil))
	if checksum != "" && !strings.EqualFold(checksum, actual) {
		cancel()
		w.Close() //nolint:errcheck
		return "", pacherr.NewChecksumMismatch(contentID, checksum, actual)
	}
	if err := w.Close(); err != nil {
		return "", errors.EnsureStack(err)
	}
	return actual, nil
}

func (s *bucketStore) GetContent(ctx context.Context, spaceID, contentID string) (*Content, error) {
	props, err := s.GetContentProperties(ctx, spaceID, contentID)
	if err != nil {
		return nil, err
	}
	r, err := s.bucket.NewReader(ctx, contentKey(spaceID, contentID), nil)
	if err != nil {
		return nil, transformError(err, spaceID, contentID)
	}
	return &Content{Body: r, Properties: props}, nil
}

func (s *bucketStore) GetContentProperties(ctx context.Context, spaceID, contentID string) (Properties, error) {
	if err := s.requireSpace(ctx, spaceID); err != nil {
		return nil, err
	}
	attrs, err := s.bucket.Attributes(ctx, contentKey(spaceID, contentID))
	if err != nil {
		return nil, transformError(err, spaceID, contentID)
	}
	props := make(Properties, len(attrs.Metadata)+3)
	for k, v := range attrs.Metadata {
		props[k] = v
	}
	if props[PropChecksum] == "" && len(attrs.MD5) > 0 {
		props[PropChecksum] = hex.EncodeToString(attrs.MD5)
	}
	props[PropSize] = strconv.FormatInt(attrs.Size, 10)
	props[PropMimetype] = attrs.ContentType
	return props, nil
}

func (s *bucketStore) ListContents(ctx context.Context, spaceID, prefix string, cb func(string) error) error {
	if err := s.requireSpace(ctx, spaceID); err != nil {
		return err
	}
	spacePrefix := contentKey(spaceID, "")
	it := s.bucket.List(&blob.ListOptions{Prefix: spacePrefix + prefix})
	for {
		obj, err := it.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return errors.EnsureStack(err)
		}
		if obj.IsDir {
			continue
		}
		if err := cb(strings.TrimPrefix(obj.Key, spacePrefix)); err != nil {
			return err
		}
	}
}

func (s *bucketStore) DeleteContent(ctx context.Context, spaceID, contentID string) error {
	if err := validateSpace(spaceID); err != nil {
		return err
	}
	err := s.bucket.Delete(ctx, contentKey(spaceID, contentID))
	if err != nil && gcerrors.Code(err) != gcerrors.NotFound {
		return errors.EnsureStack(err)
	}
	return nil
}

func (s *bucketStore) ContentExists(ctx context.Context, spaceID, contentID string) (bool, error) {
	if err := validateSpace(spaceID); err != nil {
		return false, err
	}
	exists, err := s.bucket.Exists(ctx, contentKey(spaceID, contentID))
	return exists, errors.EnsureStack(err)
}

func transformError(err error, spaceID, contentID string) error {
	if gcerrors.Code(err) == gcerrors.NotFound {
		return pacherr.NewNotExist(spaceID, contentID)
	}
	return errors.EnsureStack(err)
}
