package errors

import (
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEnsureStack(t *testing.T) {
	require.NoError(t, EnsureStack(nil))

	err := EnsureStack(io.EOF)
	require.True(t, Is(err, io.EOF))
	var frames int
	ForEachStackFrame(err, func(Frame) { frames++ })
	require.True(t, frames > 0)

	// An error that already has a stack is returned as is.
	wrapped := Wrap(io.EOF, "reading")
	require.Equal(t, wrapped, EnsureStack(wrapped))
}

func TestJoinInto(t *testing.T) {
	var err error
	JoinInto(&err, nil)
	require.NoError(t, err)
	JoinInto(&err, io.EOF)
	JoinInto(&err, io.ErrUnexpectedEOF)
	require.True(t, Is(err, io.EOF))
	require.True(t, Is(err, io.ErrUnexpectedEOF))
}
