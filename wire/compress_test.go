package wire

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCompressDecompressRoundTrip(t *testing.T) {
	payloads := [][]byte{
		nil,
		[]byte(""),
		[]byte("short"),
		repeatBytes("abcdefgh", 10_000),
	}
	for _, p := range payloads {
		compressed, err := Compress(p)
		require.NoError(t, err)
		decompressed, err := Decompress(compressed)
		require.NoError(t, err)
		require.Equal(t, string(p), string(decompressed))
	}
}

func TestWorthCompressing(t *testing.T) {
	require.False(t, WorthCompressing(make([]byte, 10)))
	require.True(t, WorthCompressing(make([]byte, 1000)))
}

func repeatBytes(s string, n int) []byte {
	out := make([]byte, 0, len(s)*n)
	for i := 0; i < n; i++ {
		out = append(out, s...)
	}
	return out
}
