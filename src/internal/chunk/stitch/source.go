package stitch

import (
	"context"
	"io"
	"sort"

	"github.com/pachyderm/durachunk/src/internal/chunk"
	"github.com/pachyderm/durachunk/src/internal/chunk/manifest"
	"github.com/pachyderm/durachunk/src/internal/pacherr"
	"github.com/pachyderm/durachunk/src/internal/store"
)

// Item names one piece of logical content.
type Item struct {
	SpaceID   string
	ContentID string
}

// SourceContent is the content of an Item.  The caller must close Body.
type SourceContent struct {
	Body     io.ReadCloser
	Checksum string
	Size     int64
	Mimetype string
	// Manifest is set if the content was stitched from chunks.
	Manifest *manifest.Manifest
}

// Source iterates and reads the logical content of a list of spaces.
// Iteration is not safe for concurrent use; reads are.
type Source struct {
	store    store.Store
	stitcher *Stitcher
	spaces   []string
	listener Listener

	space int
	items []string
}

// SourceOption configures a Source.
type SourceOption func(s *Source)

// WithListener sets the listener passed to every stitch.
func WithListener(l Listener) SourceOption {
	return func(s *Source) {
		s.listener = l
	}
}

// NewSource returns a Source over spaces of s.
func NewSource(s store.Store, stitcher *Stitcher, spaces []string, opts ...SourceOption) *Source {
	src := &Source{
		store:    s,
		stitcher: stitcher,
		spaces:   spaces,
		space:    -1,
	}
	for _, opt := range opts {
		opt(src)
	}
	return src
}

// NextContentItem returns the next logical item, or io.EOF when every space
// has been iterated.  Chunks are never returned and chunked content is
// returned once, under its original id.
func (s *Source) NextContentItem(ctx context.Context) (Item, error) {
	for len(s.items) == 0 {
		if s.space+1 >= len(s.spaces) {
			return Item{}, io.EOF
		}
		s.space++
		items, err := s.list(ctx, s.spaces[s.space])
		if err != nil {
			return Item{}, err
		}
		s.items = items
	}
	id := s.items[0]
	s.items = s.items[1:]
	return Item{SpaceID: s.spaces[s.space], ContentID: id}, nil
}

func (s *Source) list(ctx context.Context, spaceID string) ([]string, error) {
	seen := make(map[string]struct{})
	var ids []string
	if err := s.store.ListContents(ctx, spaceID, "", func(id string) error {
		if chunk.IsID(id) {
			return nil
		}
		id = manifest.BaseID(id)
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
		return nil
	}); err != nil {
		return nil, err //nolint:wrapcheck
	}
	sort.Strings(ids)
	return ids, nil
}

// SourceChecksum returns the MD5 of an item without reading it.  For chunked
// content it is the source checksum recorded in the manifest.
func (s *Source) SourceChecksum(ctx context.Context, item Item) (string, error) {
	if chunk.IsID(item.ContentID) {
		return "", pacherr.NewChunkAccess(item.ContentID)
	}
	if !manifest.IsID(item.ContentID) {
		props, err := s.store.GetContentProperties(ctx, item.SpaceID, item.ContentID)
		if err == nil {
			return props.Checksum(), nil
		}
		if !pacherr.IsNotExist(err) {
			return "", err //nolint:wrapcheck
		}
	}
	m, err := s.stitcher.GetManifest(ctx, item.SpaceID, manifest.ID(manifest.BaseID(item.ContentID)))
	if err != nil {
		if pacherr.IsNotExist(err) {
			return "", pacherr.NewNotExist(item.SpaceID, item.ContentID)
		}
		return "", err
	}
	return m.Header().SourceMD5, nil
}

// SourceContent opens an item.  An id that does not exist directly is
// stitched from its manifest if there is one.  Chunks cannot be opened.
func (s *Source) SourceContent(ctx context.Context, item Item) (*SourceContent, error) {
	if chunk.IsID(item.ContentID) {
		return nil, pacherr.NewChunkAccess(item.ContentID)
	}
	if !manifest.IsID(item.ContentID) {
		c, err := s.store.GetContent(ctx, item.SpaceID, item.ContentID)
		if err == nil {
			return &SourceContent{
				Body:     c.Body,
				Checksum: c.Properties.Checksum(),
				Size:     c.Properties.Size(),
				Mimetype: c.Properties.Mimetype(),
			}, nil
		}
		if !pacherr.IsNotExist(err) {
			return nil, err //nolint:wrapcheck
		}
	}
	manifestID := manifest.ID(manifest.BaseID(item.ContentID))
	c, err := s.stitcher.GetContentFromManifest(ctx, item.SpaceID, manifestID, s.listener)
	if err != nil {
		if pacherr.IsNotExist(err) && !s.manifestExists(ctx, item.SpaceID, manifestID) {
			return nil, pacherr.NewNotExist(item.SpaceID, item.ContentID)
		}
		return nil, err
	}
	h := c.Manifest.Header()
	return &SourceContent{
		Body:     c.Body,
		Checksum: h.SourceMD5,
		Size:     h.SourceSize,
		Mimetype: h.SourceMimetype,
		Manifest: c.Manifest,
	}, nil
}

func (s *Source) manifestExists(ctx context.Context, spaceID, manifestID string) bool {
	exists, err := s.store.ContentExists(ctx, spaceID, manifestID)
	return err == nil && exists
}
