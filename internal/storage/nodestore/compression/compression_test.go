package compression

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAvailable(t *testing.T) {
	assert.Equal(t, []string{"lz4", "none"}, Available())
	assert.True(t, IsAvailable("lz4"))
	assert.False(t, IsAvailable("zstd"))

	_, err := Get("zstd")
	require.ErrorIs(t, err, ErrUnknown)
}

func TestLZ4RoundTrip(t *testing.T) {
	c, err := Get("lz4")
	require.NoError(t, err)

	data := bytes.Repeat([]byte("versioned map entry "), 200)
	compressed, err := c.Compress(data, 1)
	require.NoError(t, err)
	require.NotNil(t, compressed)
	assert.Less(t, len(compressed), len(data))

	out, err := c.Decompress(compressed, len(data))
	require.NoError(t, err)
	assert.Equal(t, data, out)
}

func TestLZ4Incompressible(t *testing.T) {
	c := &LZ4Compressor{}
	compressed, err := c.Compress([]byte{1, 2, 3}, 1)
	require.NoError(t, err)
	assert.Nil(t, compressed)
}

func TestLZ4DecompressWrongSize(t *testing.T) {
	c := &LZ4Compressor{}
	data := bytes.Repeat([]byte{7}, 4096)
	compressed, err := c.Compress(data, 1)
	require.NoError(t, err)
	require.NotNil(t, compressed)

	_, err = c.Decompress(compressed, 10)
	require.Error(t, err)
}

func TestNoCompressorLengthCheck(t *testing.T) {
	c := &NoCompressor{}
	out, err := c.Decompress([]byte("abc"), 3)
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), out)

	_, err = c.Decompress([]byte("abc"), 4)
	require.Error(t, err)
}
