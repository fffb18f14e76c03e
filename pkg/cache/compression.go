package cache

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
)

// compressResponse gzips a response payload for storage.
func compressResponse(payload []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(payload); err != nil {
		return nil, fmt.Errorf("failed to compress response: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to compress response: %w", err)
	}
	return buf.Bytes(), nil
}

// decompressResponse reverses compressResponse.
func decompressResponse(payload []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to decompress response: %w", err)
	}
	defer r.Close()

	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress response: %w", err)
	}
	return out, nil
}
