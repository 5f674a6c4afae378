/*
Package chunk splits content that is too large to store as one object into
chunks of bounded size.

A [Content] wraps a source reader of known size and hands out one [Stream]
per chunk, in order.  Each Stream reads exactly its chunk's bytes from the
source and computes their MD5 as it goes.  The source has a single position,
so a Stream must be read to the end and closed before the next one is
requested.  Once every chunk has been drained, [Content.Finalize] seals the
manifest that records the chunks and the MD5 of the whole source.

Chunk ids are "<contentID>.dura-chunk-<index>" with the index zero-padded to
[IndexWidth] digits.  The manifest is stored as "<contentID>.dura-manifest"
(see package manifest).

# Buffer size

Every read from the source is at most [Options.BufferSize] bytes, which is at
most 8000 and always divides the maximum chunk size, so a buffered copy never
reads across a chunk boundary.  This is why the maximum chunk size must be a
multiple of 1000.
*/
package chunk
