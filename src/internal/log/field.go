package log

import (
	"net/url"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type attempt struct{ i, max int }

// MarshalLogObject implements zapcore.ObjectMarshaler.
func (a attempt) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddInt("attempt", a.i)
	enc.AddInt("totalAttempts", a.max)
	return nil
}

// RetryAttempt is a Field that encodes the current retry (0-indexed) and the total number of
// retries.  It's intended for a for loop where "i" is the loop iterator and "max" is the upper
// bound "i < max".
func RetryAttempt(i int, max int) Field {
	return zap.Inline(&attempt{i: i, max: max})
}

// Space is a Field naming a space (container).
func Space(id string) Field {
	return zap.String("spaceID", id)
}

// Content is a Field naming a content id.
func Content(id string) Field {
	return zap.String("contentID", id)
}

// Object is a Field naming one stored object, such as a chunk or manifest,
// inside a span that already names its content.
func Object(id string) Field {
	return zap.String("objectID", id)
}

// StorageURL is a Field naming an object storage URL, with any credentials removed.
func StorageURL(raw string) Field {
	u, err := url.Parse(raw)
	if err != nil {
		return zap.String("storageURL", "<unparseable>")
	}
	return zap.String("storageURL", u.Redacted())
}
