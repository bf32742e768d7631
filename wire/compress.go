package wire

import (
	"bytes"
	"io"

	"github.com/andybalholm/brotli"
)

// CompressQuality and CompressWindowBits are the collector's fixed Brotli
// parameters, per spec.md §4.F ("Brotli, quality 4, lg-window 21").
const (
	CompressQuality   = 4
	CompressWindowBits = 21
)

// Compress Brotli-encodes data at the collector's standard quality/window
// settings.
func Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := brotli.NewWriterOptions(&buf, brotli.WriterOptions{
		Quality: CompressQuality,
		LGWin:   CompressWindowBits,
	})
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decompress reverses Compress. It's also used to read request bodies
// sent with Content-Encoding: br by the producer.
func Decompress(data []byte) ([]byte, error) {
	r := brotli.NewReader(bytes.NewReader(data))
	return io.ReadAll(r)
}

// WorthCompressing reports whether a payload is large enough that
// Brotli-encoding it is worth the CPU, matching spec.md §4.F's
// "compressed ... when non-trivial".
func WorthCompressing(data []byte) bool {
	return len(data) >= 256
}
