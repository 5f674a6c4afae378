// Package manifest records how a piece of content was split into chunks.
//
// A Builder collects one Entry per chunk while the content is being split.
// Sealing it yields a Manifest, which cannot be changed and which is the only
// form that can be serialized.  A Manifest is stored next to its chunks under
// the id returned by ID.
package manifest

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"strings"
	"unicode/utf8"

	"github.com/pachyderm/durachunk/src/internal/pacherr"
)

// Version is written into every serialized manifest.
const Version = "1.0"

// Suffix is appended to a content id to name its manifest.
const Suffix = ".dura-manifest"

// ID returns the id of the manifest for contentID.
func ID(contentID string) string {
	return contentID + Suffix
}

// IsID reports whether id names a manifest.
func IsID(id string) bool {
	return len(id) > len(Suffix) && strings.HasSuffix(id, Suffix)
}

// BaseID returns the content id a manifest id was derived from.  Other ids
// are returned unchanged.
func BaseID(id string) string {
	if !IsID(id) {
		return id
	}
	return strings.TrimSuffix(id, Suffix)
}

// Header describes the unchunked source content.
type Header struct {
	SourceContentID string
	SourceMimetype  string
	SourceSize      int64
	SourceMD5       string
}

// Entry describes one chunk.
type Entry struct {
	Index int
	ID    string
	Size  int64
	MD5   string
}

// Manifest is a sealed manifest.
type Manifest struct {
	version string
	header  Header
	entries []Entry
}

// New validates header and entries and returns the sealed manifest.
func New(header Header, entries []Entry) (*Manifest, error) {
	m := &Manifest{
		version: Version,
		header:  header,
		entries: append([]Entry(nil), entries...),
	}
	if err := m.validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manifest) validate() error {
	id := m.header.SourceContentID
	if id == "" {
		return pacherr.NewInvalidManifest("", "missing source content id")
	}
	if err := CheckHeader(id, m.header.SourceMimetype); err != nil {
		return err
	}
	if !isMD5(m.header.SourceMD5) {
		return pacherr.NewInvalidManifest(ID(id), "source checksum %q is not an MD5", m.header.SourceMD5)
	}
	if m.header.SourceSize < 0 {
		return pacherr.NewInvalidManifest(ID(id), "negative source size %d", m.header.SourceSize)
	}
	if len(m.entries) == 0 {
		return pacherr.NewInvalidManifest(ID(id), "no entries")
	}
	var total int64
	for i, e := range m.entries {
		if e.Index != i {
			return pacherr.NewInvalidManifest(ID(id), "entry %d has index %d", i, e.Index)
		}
		if e.ID == "" {
			return pacherr.NewInvalidManifest(ID(id), "entry %d has no id", i)
		}
		if !isText(e.ID) {
			return pacherr.NewInvalidManifest(ID(id), "entry %d id %q cannot be written as XML", i, e.ID)
		}
		if e.Size < 0 {
			return pacherr.NewInvalidManifest(ID(id), "entry %d has negative size %d", i, e.Size)
		}
		if !isMD5(e.MD5) {
			return pacherr.NewInvalidManifest(ID(id), "entry %d checksum %q is not an MD5", i, e.MD5)
		}
		total += e.Size
	}
	if total != m.header.SourceSize {
		return pacherr.NewInvalidManifest(ID(id), "entries total %d bytes, source is %d", total, m.header.SourceSize)
	}
	return nil
}

// CheckHeader returns an invalid-manifest error if contentID or mimetype
// cannot be recorded in a manifest: both must be valid UTF-8 made only of
// characters XML can carry.
func CheckHeader(contentID, mimetype string) error {
	if !isText(contentID) {
		return pacherr.NewInvalidManifest(ID(contentID), "content id %q cannot be written as XML", contentID)
	}
	if !isText(mimetype) {
		return pacherr.NewInvalidManifest(ID(contentID), "mimetype %q cannot be written as XML", mimetype)
	}
	return nil
}

// isText reports whether s survives an XML round trip unchanged.
func isText(s string) bool {
	if !utf8.ValidString(s) {
		return false
	}
	for _, r := range s {
		switch {
		case r == '\t' || r == '\n' || r == '\r':
		case r >= 0x20 && r <= 0xD7FF:
		case r >= 0xE000 && r <= 0xFFFD:
		case r >= 0x10000 && r <= 0x10FFFF:
		default:
			return false
		}
	}
	return true
}

func isMD5(s string) bool {
	if len(s) != 2*md5.Size {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

// ID returns the id the manifest is stored under.
func (m *Manifest) ID() string {
	return ID(m.header.SourceContentID)
}

// Version returns the manifest's version tag.
func (m *Manifest) Version() string {
	return m.version
}

// Header returns the source description.
func (m *Manifest) Header() Header {
	return m.header
}

// Len returns the number of chunks.
func (m *Manifest) Len() int {
	return len(m.entries)
}

// Entries returns a copy of the entries in index order.
func (m *Manifest) Entries() []Entry {
	return append([]Entry(nil), m.entries...)
}

// Entry returns the i'th entry.
func (m *Manifest) Entry(i int) Entry {
	return m.entries[i]
}

// ChunkIDs returns the set of chunk ids the manifest references.
func (m *Manifest) ChunkIDs() map[string]struct{} {
	ids := make(map[string]struct{}, len(m.entries))
	for _, e := range m.entries {
		ids[e.ID] = struct{}{}
	}
	return ids
}

// Body is a serialized manifest of known length.
type Body struct {
	*bytes.Reader
	md5 string
}

// MD5 returns the hex MD5 of the serialized bytes.
func (b *Body) MD5() string {
	return b.md5
}

// Body serializes the manifest for storage.  The returned reader's Size is
// the exact number of bytes it will produce.
func (m *Manifest) Body() (*Body, error) {
	data, err := m.Marshal()
	if err != nil {
		return nil, err
	}
	sum := md5.Sum(data)
	return &Body{Reader: bytes.NewReader(data), md5: hex.EncodeToString(sum[:])}, nil
}

// Builder accumulates entries while content is being chunked.
type Builder struct {
	contentID string
	mimetype  string
	entries   []Entry
}

// NewBuilder returns a Builder for the given source content.
func NewBuilder(contentID, mimetype string) *Builder {
	return &Builder{contentID: contentID, mimetype: mimetype}
}

// Add appends the entry for the next chunk.  Entries must be added in index order.
func (b *Builder) Add(e Entry) error {
	if e.Index != len(b.entries) {
		return pacherr.NewSequencing("entry %d added after %d entries", e.Index, len(b.entries))
	}
	b.entries = append(b.entries, e)
	return nil
}

// Len returns the number of entries added so far.
func (b *Builder) Len() int {
	return len(b.entries)
}

// Seal returns the Manifest for a source of sourceSize bytes with the given MD5.
func (b *Builder) Seal(sourceSize int64, sourceMD5 string) (*Manifest, error) {
	return New(Header{
		SourceContentID: b.contentID,
		SourceMimetype:  b.mimetype,
		SourceSize:      sourceSize,
		SourceMD5:       sourceMD5,
	}, b.entries)
}
