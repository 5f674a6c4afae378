package chunk

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pachyderm/durachunk/src/internal/chunk/manifest"
)

// Suffix separates a content id from a chunk index.
const Suffix = ".dura-chunk-"

const minIndexWidth = 4

// IndexWidth returns the number of digits chunk indexes are padded to when
// content is split into count chunks.
func IndexWidth(count int) int {
	width := len(strconv.Itoa(count - 1))
	if width < minIndexWidth {
		return minIndexWidth
	}
	return width
}

// ID returns the id of chunk index of contentID, padded to width digits.
func ID(contentID string, index, width int) string {
	return fmt.Sprintf("%s%s%0*d", contentID, Suffix, width, index)
}

// Prefix returns the prefix shared by every chunk id of contentID.
func Prefix(contentID string) string {
	return contentID + Suffix
}

// ParseID splits a chunk id into its content id and index.
func ParseID(id string) (contentID string, index int, ok bool) {
	i := strings.LastIndex(id, Suffix)
	if i <= 0 {
		return "", 0, false
	}
	digits := id[i+len(Suffix):]
	if digits == "" {
		return "", 0, false
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return "", 0, false
		}
	}
	index, err := strconv.Atoi(digits)
	if err != nil {
		return "", 0, false
	}
	return id[:i], index, true
}

// IsID reports whether id names a chunk.
func IsID(id string) bool {
	_, _, ok := ParseID(id)
	return ok
}

// BaseID returns the content id that a chunk or manifest id was derived
// from.  Other ids are returned unchanged.
func BaseID(id string) string {
	if contentID, _, ok := ParseID(id); ok {
		return contentID
	}
	return manifest.BaseID(id)
}
