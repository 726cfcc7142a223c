package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrCorrupt is wrapped by every decoding failure caused by malformed input.
var ErrCorrupt = errors.New("corrupt payload")

func corruptf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrCorrupt, fmt.Sprintf(format, args...))
}

// reader is a bounds-checked cursor over an encoded payload.
type reader struct {
	buf []byte
	pos int
}

func (r *reader) done() bool {
	return r.pos >= len(r.buf)
}

func (r *reader) remaining() int {
	return len(r.buf) - r.pos
}

func (r *reader) byte() (byte, error) {
	if r.pos >= len(r.buf) {
		return 0, corruptf("unexpected end of data at offset %d", r.pos)
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

func (r *reader) uvarint() (uint64, error) {
	v, n := binary.Uvarint(r.buf[r.pos:])
	if n <= 0 {
		return 0, corruptf("bad varint at offset %d", r.pos)
	}
	r.pos += n
	return v, nil
}

func (r *reader) varint() (int64, error) {
	v, n := binary.Varint(r.buf[r.pos:])
	if n <= 0 {
		return 0, corruptf("bad varint at offset %d", r.pos)
	}
	r.pos += n
	return v, nil
}

// count reads an element count and rejects values that could not possibly
// fit in the rest of the payload, since each element takes at least a byte.
func (r *reader) count() (int, error) {
	n, err := r.uvarint()
	if err != nil {
		return 0, err
	}
	if n > uint64(r.remaining()) {
		return 0, corruptf("element count %d exceeds remaining %d bytes", n, r.remaining())
	}
	return int(n), nil
}

// lenBytes reads a length-prefixed byte slice. The result aliases the
// underlying buffer.
func (r *reader) lenBytes() ([]byte, error) {
	n, err := r.uvarint()
	if err != nil {
		return nil, err
	}
	if n > uint64(r.remaining()) {
		return nil, corruptf("length %d exceeds remaining %d bytes", n, r.remaining())
	}
	b := r.buf[r.pos : r.pos+int(n)]
	r.pos += int(n)
	return b, nil
}

func (r *reader) string() (string, error) {
	b, err := r.lenBytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func appendBytes(buf, b []byte) []byte {
	buf = binary.AppendUvarint(buf, uint64(len(b)))
	return append(buf, b...)
}

func appendString(buf []byte, s string) []byte {
	buf = binary.AppendUvarint(buf, uint64(len(s)))
	return append(buf, s...)
}
