package manifest

import (
	"bytes"
	"encoding/xml"
	"io"

	"github.com/pachyderm/durachunk/src/internal/errors"
	"github.com/pachyderm/durachunk/src/internal/pacherr"
)

type xmlManifest struct {
	XMLName xml.Name   `xml:"manifest"`
	Version string     `xml:"version,attr"`
	Header  xmlHeader  `xml:"header"`
	Entries xmlEntries `xml:"entries"`
}

type xmlHeader struct {
	SourceContentID string `xml:"sourceContentId"`
	SourceMimetype  string `xml:"sourceMimetype"`
	SourceSize      int64  `xml:"sourceSize"`
	SourceMD5       string `xml:"sourceMD5"`
}

type xmlEntries struct {
	Entries []xmlEntry `xml:"entry"`
}

type xmlEntry struct {
	Index int    `xml:"index,attr"`
	ID    string `xml:"id"`
	Size  int64  `xml:"size"`
	MD5   string `xml:"md5"`
}

// Marshal serializes the manifest as XML.
func (m *Manifest) Marshal() ([]byte, error) {
	x := xmlManifest{
		Version: m.version,
		Header:  xmlHeader(m.header),
	}
	x.Entries.Entries = make([]xmlEntry, len(m.entries))
	for i, e := range m.entries {
		x.Entries.Entries[i] = xmlEntry(e)
	}
	buf := &bytes.Buffer{}
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(buf)
	enc.Indent("", "  ")
	if err := enc.Encode(x); err != nil {
		return nil, errors.EnsureStack(err)
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// Unmarshal parses and validates a serialized manifest.  Any failure is an
// invalid-manifest error.
func Unmarshal(data []byte) (*Manifest, error) {
	var x xmlManifest
	if err := xml.Unmarshal(data, &x); err != nil {
		return nil, pacherr.NewInvalidManifest("", "%v", err)
	}
	if x.Version != Version {
		return nil, pacherr.NewInvalidManifest(ID(x.Header.SourceContentID), "unsupported version %q", x.Version)
	}
	entries := make([]Entry, len(x.Entries.Entries))
	for i, e := range x.Entries.Entries {
		entries[i] = Entry(e)
	}
	return New(Header(x.Header), entries)
}

// Read reads and parses a serialized manifest.
func Read(r io.Reader) (*Manifest, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.EnsureStack(err)
	}
	return Unmarshal(data)
}
