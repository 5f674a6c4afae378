// Package store is the object store that chunked content is written to and
// read back from.  Content lives in named spaces; every object carries its
// MD5 checksum, size, and mimetype as properties.
//
// The main implementation keeps spaces and content in a blob bucket (see
// NewBucketStore and Open).  NewLimitedStore bounds the number of objects
// open at once.
package store

import (
	"context"
	"io"
	"strconv"
)

// Property names present on every stored object.
const (
	PropChecksum = "content-checksum"
	PropSize     = "content-size"
	PropMimetype = "content-mimetype"
)

// DefaultMimetype is used when content is added without a mimetype.
const DefaultMimetype = "application/octet-stream"

// Properties are the string properties of a stored object.
type Properties map[string]string

// Checksum returns the hex MD5 of the object.
func (p Properties) Checksum() string {
	return p[PropChecksum]
}

// Size returns the size of the object in bytes, or -1 if it is not recorded.
func (p Properties) Size() int64 {
	n, err := strconv.ParseInt(p[PropSize], 10, 64)
	if err != nil {
		return -1
	}
	return n
}

// Mimetype returns the mimetype of the object.
func (p Properties) Mimetype() string {
	return p[PropMimetype]
}

// Content is an object's body and properties.  The caller must close Body.
type Content struct {
	Body       io.ReadCloser
	Properties Properties
}

// Store is a space-scoped object store.
type Store interface {
	// CreateSpace creates a space.  Creating a space that exists is not an error.
	CreateSpace(ctx context.Context, spaceID string) error
	// SpaceExists reports whether a space exists.
	SpaceExists(ctx context.Context, spaceID string) (bool, error)
	// AddContent stores size bytes from r under contentID and returns their
	// MD5.  size may be -1 if unknown.  If checksum is non-empty the stored
	// bytes must match it; on mismatch nothing is left behind and a
	// checksum-mismatch error is returned.
	AddContent(ctx context.Context, spaceID, contentID string, r io.Reader, size int64, mimetype, checksum string, props Properties) (string, error)
	// GetContent opens an object for reading.
	GetContent(ctx context.Context, spaceID, contentID string) (*Content, error)
	// GetContentProperties returns an object's properties without reading it.
	GetContentProperties(ctx context.Context, spaceID, contentID string) (Properties, error)
	// ListContents calls cb with the id of every object in the space whose
	// id starts with prefix, in lexical order.
	ListContents(ctx context.Context, spaceID, prefix string, cb func(contentID string) error) error
	// DeleteContent deletes an object.  Deleting an object that does not
	// exist is not an error.
	DeleteContent(ctx context.Context, spaceID, contentID string) error
	// ContentExists reports whether an object exists.
	ContentExists(ctx context.Context, spaceID, contentID string) (bool, error)
}
