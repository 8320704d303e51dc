package store

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
)

type recordFlags uint64

const (
	rfVer1          = recordFlags(1)
	rfSupportedMask = rfVer1
	rfDefault       = rfVer1

	checksumSize  = 8
	minRecordSize = 4 + checksumSize
)

type record struct {
	Flags  recordFlags
	Serial uint64
	Kind   string
	Data   []byte
}

func (r *record) encode(buf []byte) []byte {
	start := len(buf)
	buf = binary.AppendUvarint(buf, uint64(r.Flags))
	buf = binary.AppendUvarint(buf, r.Serial)
	buf = appendVarbytes(buf, []byte(r.Kind))
	buf = appendVarbytes(buf, r.Data)
	sum := xxhash.Sum64(buf[start:])
	return binary.BigEndian.AppendUint64(buf, sum)
}

func decodeRecord(raw []byte) (record, error) {
	var r record
	if len(raw) < minRecordSize {
		return r, dataErrf(raw, 0, nil, "invalid record: at least %d bytes required", minRecordSize)
	}
	body, trailer := raw[:len(raw)-checksumSize], raw[len(raw)-checksumSize:]
	if sum := binary.BigEndian.Uint64(trailer); sum != xxhash.Sum64(body) {
		return r, dataErrf(raw, len(body), nil, "invalid record: checksum mismatch")
	}

	d := newFieldReader(body)
	flags, err := d.uvarint()
	if err != nil {
		return r, err
	}
	if recordFlags(flags)&^rfSupportedMask != 0 {
		return r, dataErrf(raw, 0, nil, "invalid record: unsupported flags %x", flags)
	}
	r.Flags = recordFlags(flags)
	if r.Serial, err = d.uvarint(); err != nil {
		return r, err
	}
	kind, err := d.varbytes()
	if err != nil {
		return r, err
	}
	r.Kind = string(kind)
	if r.Data, err = d.varbytes(); err != nil {
		return r, err
	}
	if len(d.rest) != 0 {
		return r, dataErrf(raw, d.off(), nil, "invalid record: %d trailing bytes", len(d.rest))
	}
	return r, nil
}

func recordSerial(raw []byte) uint64 {
	if raw == nil {
		return 0
	}
	return must(decodeRecord(raw)).Serial
}
