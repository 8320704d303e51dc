package store

import (
	"encoding/binary"
	"fmt"
)

func must[T any](v T, err error) T {
	ensure(err)
	return v
}

// ensure panics on errors that can only come from a bug or a broken backend.
func ensure(err error) {
	if err != nil {
		panic(err)
	}
}

func oidKey(oid OID) []byte {
	return binary.BigEndian.AppendUint64(nil, uint64(oid))
}

func treeBucketName(oid OID) string {
	return fmt.Sprintf("%016x", uint64(oid))
}
