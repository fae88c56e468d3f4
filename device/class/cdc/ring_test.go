package cdc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRing(t *testing.T) {
	r := newRing(8)
	assert.Equal(t, 8, r.Cap())
	assert.Equal(t, 8, r.Free())

	require.True(t, r.Write([]byte("abcdef")))
	assert.False(t, r.Write([]byte("xyz")), "write larger than free space")
	assert.Equal(t, 6, r.Len())

	buf := make([]byte, 4)
	assert.Equal(t, 4, r.Read(buf))
	assert.Equal(t, []byte("abcd"), buf)

	// Wraps past the end of the backing array.
	require.True(t, r.Write([]byte("ghijk")))
	assert.Equal(t, 7, r.Len())

	out := make([]byte, 16)
	n := r.Read(out)
	assert.Equal(t, "efghijk", string(out[:n]))
	assert.Equal(t, 0, r.Len())
	assert.Equal(t, 0, r.Read(out))
}

func TestRingReset(t *testing.T) {
	r := newRing(4)
	require.True(t, r.Write([]byte("abc")))
	r.Reset()
	assert.Equal(t, 0, r.Len())
	assert.Equal(t, 4, r.Free())
	require.True(t, r.Write([]byte("wxyz")))
	out := make([]byte, 4)
	assert.Equal(t, 4, r.Read(out))
	assert.Equal(t, "wxyz", string(out))
}
