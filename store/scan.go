package store

import "bytes"

// rawRange is a range of encoded keys. Nil bounds are open.
type rawRange struct {
	Lower    []byte
	Upper    []byte
	LowerInc bool
	UpperInc bool
	Reverse  bool
}

func (r *rawRange) start(c storageCursor) ([]byte, []byte) {
	var k, v []byte
	if r.Reverse {
		if r.Upper != nil {
			k, v = c.SeekLast(r.Upper)
			if k != nil && !r.UpperInc && bytes.Equal(k, r.Upper) {
				k, v = c.Prev()
			}
		} else {
			k, v = c.Last()
		}
	} else {
		if r.Lower != nil {
			k, v = c.Seek(r.Lower)
			if k != nil && !r.LowerInc && bytes.Equal(k, r.Lower) {
				k, v = c.Next()
			}
		} else {
			k, v = c.First()
		}
	}
	if k != nil && r.contains(k) {
		return k, v
	}
	return nil, nil
}

func (r *rawRange) next(c storageCursor) ([]byte, []byte) {
	var k, v []byte
	if r.Reverse {
		k, v = c.Prev()
	} else {
		k, v = c.Next()
	}
	if k != nil && r.contains(k) {
		return k, v
	}
	return nil, nil
}

func (r *rawRange) contains(k []byte) bool {
	if r.Lower != nil {
		cmp := bytes.Compare(k, r.Lower)
		if cmp < 0 || (cmp == 0 && !r.LowerInc) {
			return false
		}
	}
	if r.Upper != nil {
		cmp := bytes.Compare(k, r.Upper)
		if cmp > 0 || (cmp == 0 && !r.UpperInc) {
			return false
		}
	}
	return true
}

// before reports whether a comes strictly before b in the scan direction.
func (r *rawRange) before(a, b []byte) bool {
	if r.Reverse {
		return bytes.Compare(a, b) > 0
	}
	return bytes.Compare(a, b) < 0
}

// KeyRange selects keys of a tree container. Both bounds are inclusive.
type KeyRange struct {
	Lower    any
	Upper    any
	HasLower bool
	HasUpper bool
	Reverse  bool
}

func FullRange() KeyRange       { return KeyRange{} }
func From(lower any) KeyRange   { return KeyRange{Lower: lower, HasLower: true} }
func To(upper any) KeyRange     { return KeyRange{Upper: upper, HasUpper: true} }
func Between(l, u any) KeyRange { return KeyRange{Lower: l, Upper: u, HasLower: true, HasUpper: true} }
func Exactly(k any) KeyRange    { return Between(k, k) }

func (r KeyRange) Reversed() KeyRange {
	r.Reverse = !r.Reverse
	return r
}

func (r KeyRange) raw(encode func(k any) []byte) rawRange {
	rr := rawRange{LowerInc: true, UpperInc: true, Reverse: r.Reverse}
	if r.HasLower {
		rr.Lower = encode(r.Lower)
	}
	if r.HasUpper {
		rr.Upper = encode(r.Upper)
	}
	return rr
}
