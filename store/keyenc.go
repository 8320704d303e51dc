package store

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"reflect"
)

// Tuple is a composite key. Tuples order element by element, shorter first.
type Tuple []any

const (
	tagNil    = 0x01
	tagFalse  = 0x02
	tagTrue   = 0x03
	tagInt    = 0x20
	tagFloat  = 0x21
	tagString = 0x30
	tagBytes  = 0x31
	tagTuple  = 0x40

	escByte  = 0x00
	escZero  = 0xFF
	escEnd   = 0x01
	tupleEnd = 0x00
)

// NormalizeKey converts k into one of the key types: nil, bool, int64,
// float64, string, []byte or Tuple.
func NormalizeKey(k any) (any, error) {
	switch v := k.(type) {
	case nil, bool, int64, float64, string, []byte:
		return v, nil
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case float32:
		return float64(v), nil
	case Tuple:
		out := make(Tuple, len(v))
		for i, el := range v {
			el, err := NormalizeKey(el)
			if err != nil {
				return nil, err
			}
			out[i] = el
		}
		return out, nil
	case []any:
		return NormalizeKey(Tuple(v))
	}
	rv := reflect.ValueOf(k)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return nil, fmt.Errorf("%w: %d overflows int64", ErrInvalidKey, u)
		}
		return int64(u), nil
	case reflect.Float32, reflect.Float64:
		return rv.Float(), nil
	case reflect.String:
		return rv.String(), nil
	case reflect.Bool:
		return rv.Bool(), nil
	}
	return nil, fmt.Errorf("%w: %T", ErrInvalidKey, k)
}

// EncodeKey returns the order-preserving encoding of k.
func EncodeKey(k any) ([]byte, error) {
	k, err := NormalizeKey(k)
	if err != nil {
		return nil, err
	}
	return appendKey(nil, k), nil
}

func mustEncodeKey(k any) []byte {
	return must(EncodeKey(k))
}

func appendKey(buf []byte, k any) []byte {
	switch v := k.(type) {
	case nil:
		return append(buf, tagNil)
	case bool:
		if v {
			return append(buf, tagTrue)
		}
		return append(buf, tagFalse)
	case int64:
		buf = append(buf, tagInt)
		return binary.BigEndian.AppendUint64(buf, uint64(v)^(1<<63))
	case float64:
		bits := math.Float64bits(v)
		if bits&(1<<63) != 0 {
			bits = ^bits
		} else {
			bits |= 1 << 63
		}
		buf = append(buf, tagFloat)
		return binary.BigEndian.AppendUint64(buf, bits)
	case string:
		buf = append(buf, tagString)
		return appendEscaped(buf, []byte(v))
	case []byte:
		buf = append(buf, tagBytes)
		return appendEscaped(buf, v)
	case Tuple:
		buf = append(buf, tagTuple)
		for _, el := range v {
			buf = appendKey(buf, el)
		}
		return append(buf, tupleEnd)
	default:
		panic(fmt.Errorf("appendKey: unnormalized key %T", k))
	}
}

func appendEscaped(buf, data []byte) []byte {
	for _, b := range data {
		if b == escByte {
			buf = append(buf, escByte, escZero)
		} else {
			buf = append(buf, b)
		}
	}
	return append(buf, escByte, escEnd)
}

// DecodeKey reverses EncodeKey.
func DecodeKey(data []byte) (any, error) {
	k, rest, err := decodeKey(data, data)
	if err != nil {
		return nil, err
	}
	if len(rest) != 0 {
		return nil, dataErrf(data, len(data)-len(rest), nil, "trailing key data")
	}
	return k, nil
}

func mustDecodeKey(data []byte) any {
	return must(DecodeKey(data))
}

func decodeKey(orig, data []byte) (any, []byte, error) {
	if len(data) == 0 {
		return nil, nil, dataErrf(orig, len(orig), nil, "missing key tag")
	}
	tag, data := data[0], data[1:]
	switch tag {
	case tagNil:
		return nil, data, nil
	case tagFalse:
		return false, data, nil
	case tagTrue:
		return true, data, nil
	case tagInt, tagFloat:
		if len(data) < 8 {
			return nil, nil, dataErrf(orig, len(orig)-len(data), nil, "truncated number")
		}
		u := binary.BigEndian.Uint64(data)
		data = data[8:]
		if tag == tagInt {
			return int64(u ^ (1 << 63)), data, nil
		}
		if u&(1<<63) != 0 {
			u &^= 1 << 63
		} else {
			u = ^u
		}
		return math.Float64frombits(u), data, nil
	case tagString, tagBytes:
		raw, rest, err := decodeEscaped(orig, data)
		if err != nil {
			return nil, nil, err
		}
		if tag == tagString {
			return string(raw), rest, nil
		}
		return raw, rest, nil
	case tagTuple:
		tup := Tuple{}
		for {
			if len(data) == 0 {
				return nil, nil, dataErrf(orig, len(orig), nil, "unterminated tuple")
			}
			if data[0] == tupleEnd {
				return tup, data[1:], nil
			}
			var el any
			var err error
			el, data, err = decodeKey(orig, data)
			if err != nil {
				return nil, nil, err
			}
			tup = append(tup, el)
		}
	default:
		return nil, nil, dataErrf(orig, len(orig)-len(data)-1, nil, "invalid key tag 0x%02x", tag)
	}
}

func decodeEscaped(orig, data []byte) ([]byte, []byte, error) {
	out := []byte{}
	for i := 0; i < len(data); i++ {
		b := data[i]
		if b != escByte {
			out = append(out, b)
			continue
		}
		if i+1 >= len(data) {
			break
		}
		switch data[i+1] {
		case escZero:
			out = append(out, 0)
			i++
		case escEnd:
			return out, data[i+2:], nil
		default:
			return nil, nil, dataErrf(orig, len(orig)-len(data)+i, nil, "invalid escape")
		}
	}
	return nil, nil, dataErrf(orig, len(orig), nil, "unterminated string")
}

// Compare orders two keys the same way trees do. Values that are not valid
// keys order after all keys, by their printed form.
func Compare(a, b any) int {
	ak, aerr := EncodeKey(a)
	bk, berr := EncodeKey(b)
	switch {
	case aerr == nil && berr == nil:
		return bytes.Compare(ak, bk)
	case aerr == nil:
		return -1
	case berr == nil:
		return 1
	default:
		return bytes.Compare([]byte(fmt.Sprint(a)), []byte(fmt.Sprint(b)))
	}
}
