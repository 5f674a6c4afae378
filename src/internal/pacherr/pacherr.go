// Package pacherr holds the error kinds surfaced by the chunking and
// stitching layers.  Callers should match on kinds with the Is* predicates,
// which see through wrapping.
package pacherr

import (
	"fmt"

	"github.com/pachyderm/durachunk/src/internal/errors"
)

// ErrNotExist is returned when a space, object, chunk or manifest does not exist.
type ErrNotExist struct {
	Collection string
	ID         string
}

// NewNotExist returns a new ErrNotExist.
func NewNotExist(collection, id string) error {
	return errors.WithStack(&ErrNotExist{
		Collection: collection,
		ID:         id,
	})
}

func (e *ErrNotExist) Error() string {
	return fmt.Sprintf("%s does not exist in %s", e.ID, e.Collection)
}

// IsNotExist returns true if err is an ErrNotExist.
func IsNotExist(err error) bool {
	target := &ErrNotExist{}
	return errors.As(err, &target)
}

// ErrConfig is returned for invalid chunking configuration.  It is never
// recovered from.
type ErrConfig struct {
	Field  string
	Reason string
}

// NewConfigError returns a new ErrConfig.
func NewConfigError(field, format string, args ...interface{}) error {
	return errors.WithStack(&ErrConfig{
		Field:  field,
		Reason: fmt.Sprintf(format, args...),
	})
}

func (e *ErrConfig) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IsConfigError returns true if err is an ErrConfig.
func IsConfigError(err error) bool {
	target := &ErrConfig{}
	return errors.As(err, &target)
}

// ErrNotAdded is returned when a chunk, manifest or object upload failed.
type ErrNotAdded struct {
	SpaceID   string
	ContentID string
	Err       error
}

// NewNotAdded returns a new ErrNotAdded wrapping the underlying store error.
func NewNotAdded(spaceID, contentID string, err error) error {
	return errors.WithStack(&ErrNotAdded{
		SpaceID:   spaceID,
		ContentID: contentID,
		Err:       err,
	})
}

func (e *ErrNotAdded) Error() string {
	return fmt.Sprintf("content %s not added to space %s: %v", e.ContentID, e.SpaceID, e.Err)
}

func (e *ErrNotAdded) Unwrap() error {
	return e.Err
}

// IsNotAdded returns true if err is an ErrNotAdded.
func IsNotAdded(err error) bool {
	target := &ErrNotAdded{}
	return errors.As(err, &target)
}

// ErrChecksumMismatch is returned when a computed checksum does not match the
// expected one.  Anything already written stays written.
type ErrChecksumMismatch struct {
	ID       string
	Expected string
	Actual   string
}

// NewChecksumMismatch returns a new ErrChecksumMismatch.
func NewChecksumMismatch(id, expected, actual string) error {
	return errors.WithStack(&ErrChecksumMismatch{
		ID:       id,
		Expected: expected,
		Actual:   actual,
	})
}

func (e *ErrChecksumMismatch) Error() string {
	return fmt.Sprintf("checksum mismatch for %s: expected %s, got %s", e.ID, e.Expected, e.Actual)
}

// IsChecksumMismatch returns true if err is an ErrChecksumMismatch.
func IsChecksumMismatch(err error) bool {
	target := &ErrChecksumMismatch{}
	return errors.As(err, &target)
}

// ErrInvalidManifest is returned when a manifest exists but cannot be decoded
// or is inconsistent.  It is distinct from ErrNotExist.
type ErrInvalidManifest struct {
	ID     string
	Reason string
}

// NewInvalidManifest returns a new ErrInvalidManifest.
func NewInvalidManifest(id, format string, args ...interface{}) error {
	return errors.WithStack(&ErrInvalidManifest{
		ID:     id,
		Reason: fmt.Sprintf(format, args...),
	})
}

func (e *ErrInvalidManifest) Error() string {
	if e.ID == "" {
		return "invalid manifest: " + e.Reason
	}
	return fmt.Sprintf("invalid manifest %s: %s", e.ID, e.Reason)
}

// IsInvalidManifest returns true if err is an ErrInvalidManifest.
func IsInvalidManifest(err error) bool {
	target := &ErrInvalidManifest{}
	return errors.As(err, &target)
}

// ErrSequencing is a programmer error: a chunk was requested while the
// previous one was still open, or a manifest was finalized early.
type ErrSequencing struct {
	Reason string
}

// NewSequencing returns a new ErrSequencing.
func NewSequencing(format string, args ...interface{}) error {
	return errors.WithStack(&ErrSequencing{Reason: fmt.Sprintf(format, args...)})
}

func (e *ErrSequencing) Error() string {
	return "chunk sequencing violation: " + e.Reason
}

// IsSequencing returns true if err is an ErrSequencing.
func IsSequencing(err error) bool {
	target := &ErrSequencing{}
	return errors.As(err, &target)
}

// ErrNotChunked signals that a chunk could not be fetched but the manifest's
// base content exists as a plain object; the caller should fetch it directly.
type ErrNotChunked struct {
	SpaceID   string
	ContentID string
}

// NewNotChunked returns a new ErrNotChunked.
func NewNotChunked(spaceID, contentID string) error {
	return errors.WithStack(&ErrNotChunked{
		SpaceID:   spaceID,
		ContentID: contentID,
	})
}

func (e *ErrNotChunked) Error() string {
	return fmt.Sprintf("content %s in space %s is stored whole, fetch it directly", e.ContentID, e.SpaceID)
}

// IsNotChunked returns true if err is an ErrNotChunked.
func IsNotChunked(err error) bool {
	target := &ErrNotChunked{}
	return errors.As(err, &target)
}

// ErrChunkAccess is returned when an individual chunk is requested as if it
// were a piece of content.
type ErrChunkAccess struct {
	ContentID string
}

// NewChunkAccess returns a new ErrChunkAccess.
func NewChunkAccess(contentID string) error {
	return errors.WithStack(&ErrChunkAccess{ContentID: contentID})
}

func (e *ErrChunkAccess) Error() string {
	return fmt.Sprintf("%s is a chunk and cannot be retrieved directly", e.ContentID)
}

// IsChunkAccess returns true if err is an ErrChunkAccess.
func IsChunkAccess(err error) bool {
	target := &ErrChunkAccess{}
	return errors.As(err, &target)
}
