package wire

import (
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
)

// Hash returns the lowercase hex SHA-256 of a serialized tree.
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// VerifyHash reports whether data matches the expected hash. An empty
// expectation always verifies.
func VerifyHash(data []byte, expected string) bool {
	if expected == "" {
		return true
	}
	return strings.EqualFold(Hash(data), strings.TrimSpace(expected))
}

// Compress gzips a payload.
func Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, fmt.Errorf("failed to compress payload: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to compress payload: %w", err)
	}
	return buf.Bytes(), nil
}

// Decompress gunzips a payload, refusing to inflate past limit bytes.
// A non-positive limit disables the check.
func Decompress(data []byte, limit int64) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, corruptf("bad gzip header: %v", err)
	}
	defer zr.Close()

	var src io.Reader = zr
	if limit > 0 {
		src = io.LimitReader(zr, limit+1)
	}
	out, err := io.ReadAll(src)
	if err != nil {
		return nil, corruptf("bad gzip stream: %v", err)
	}
	if limit > 0 && int64(len(out)) > limit {
		return nil, fmt.Errorf("decompressed payload exceeds %d bytes", limit)
	}
	return out, nil
}
