package store

import (
	"encoding/binary"
)

func appendVarbytes(buf, v []byte) []byte {
	buf = binary.AppendUvarint(buf, uint64(len(v)))
	return append(buf, v...)
}

// fieldReader consumes the fields of an encoded record. Errors carry the
// offset into the whole record.
type fieldReader struct {
	whole []byte
	rest  []byte
}

func newFieldReader(b []byte) *fieldReader {
	return &fieldReader{whole: b, rest: b}
}

func (r *fieldReader) off() int {
	return len(r.whole) - len(r.rest)
}

func (r *fieldReader) uvarint() (uint64, error) {
	v, n := binary.Uvarint(r.rest)
	if n <= 0 {
		return 0, dataErrf(r.whole, r.off(), nil, "invalid uvarint")
	}
	r.rest = r.rest[n:]
	return v, nil
}

func (r *fieldReader) varbytes() ([]byte, error) {
	n, err := r.uvarint()
	if err != nil {
		return nil, err
	}
	if n > uint64(len(r.rest)) {
		return nil, dataErrf(r.whole, r.off(), nil, "not enough data: %d bytes remaining, %d wanted", len(r.rest), n)
	}
	v := r.rest[:n]
	r.rest = r.rest[n:]
	return v, nil
}
