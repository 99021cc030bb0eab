package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Wire type nibble packed into the low 3 bits of the tag byte.
const (
	wireIntNeg  = 0
	wireInt     = 1
	wireFloat   = 2
	wireText    = 3
	wireBlob    = 4
	wireNull    = 5
	wireIntMin  = 6
	wireFloatNg = 7
)

// ErrTruncated is returned when the input ends before a complete value
// could be decoded.
var ErrTruncated = errors.New("codec: truncated input")

// ErrTooManyValues is returned by EncodePK when asked to encode more than
// 255 values, the maximum the single-byte count prefix can carry.
var ErrTooManyValues = errors.New("codec: primary key has more than 255 components")

// nbytesFor returns the smallest byte count in 1..8 whose big-endian
// unsigned representation can hold v, per the threshold table: <=0x7F -> 1,
// <=0x7FFF -> 2, <=0x7FFFFF -> 3, and so on, adding one byte (8 bits)
// each step; anything larger than the 7-byte threshold uses the full 8 bytes.
func nbytesFor(v uint64) uint8 {
	for n := uint8(1); n < 8; n++ {
		threshold := uint64(1)<<(8*n-1) - 1
		if v <= threshold {
			return n
		}
	}
	return 8
}

func putUintBE(buf []byte, v uint64, nbytes uint8) {
	for i := int(nbytes) - 1; i >= 0; i-- {
		buf[i] = byte(v)
		v >>= 8
	}
}

func getUintBE(buf []byte) uint64 {
	var v uint64
	for _, b := range buf {
		v = v<<8 | uint64(b)
	}
	return v
}

// EncodeValue appends the tag-byte encoding of v to dst and returns the
// extended slice.
func EncodeValue(dst []byte, v Value) []byte {
	switch v.kind {
	case KindNull:
		return append(dst, wireNull<<3|wireNull)

	case KindInt:
		if v.i == math.MinInt64 {
			return append(dst, wireIntMin<<3|wireIntMin)
		}
		wtype := uint8(wireInt)
		abs := uint64(v.i)
		if v.i < 0 {
			wtype = wireIntNeg
			abs = uint64(-v.i)
		}
		nbytes := nbytesFor(abs)
		tag := nbytes<<3 | wtype
		payload := make([]byte, nbytes)
		putUintBE(payload, abs, nbytes)
		dst = append(dst, tag)
		return append(dst, payload...)

	case KindFloat:
		wtype := uint8(wireFloat)
		abs := v.f
		if math.Signbit(v.f) {
			wtype = wireFloatNg
			abs = -v.f
		}
		tag := uint8(8)<<3 | wtype
		var payload [8]byte
		binary.BigEndian.PutUint64(payload[:], math.Float64bits(abs))
		dst = append(dst, tag)
		return append(dst, payload[:]...)

	case KindText:
		return encodeBytes(dst, wireText, []byte(v.s))

	case KindBlob:
		return encodeBytes(dst, wireBlob, v.b)
	}
	panic("codec: unknown value kind")
}

func encodeBytes(dst []byte, wtype uint8, raw []byte) []byte {
	nbytes := nbytesFor(uint64(len(raw)))
	tag := nbytes<<3 | wtype
	lenField := make([]byte, nbytes)
	putUintBE(lenField, uint64(len(raw)), nbytes)
	dst = append(dst, tag)
	dst = append(dst, lenField...)
	return append(dst, raw...)
}

// DecodeValue reads one tag-byte-encoded value from the front of src and
// returns it along with the number of input bytes consumed.
func DecodeValue(src []byte) (Value, int, error) {
	if len(src) < 1 {
		return Value{}, 0, ErrTruncated
	}
	tag := src[0]
	nbytes := tag >> 3
	wtype := tag & 0x7
	pos := 1

	switch wtype {
	case wireNull:
		return Null(), pos, nil

	case wireIntMin:
		return Int64(math.MinInt64), pos, nil

	case wireInt, wireIntNeg:
		if len(src) < pos+int(nbytes) {
			return Value{}, 0, ErrTruncated
		}
		abs := getUintBE(src[pos : pos+int(nbytes)])
		pos += int(nbytes)
		if wtype == wireIntNeg {
			return Int64(-int64(abs)), pos, nil
		}
		return Int64(int64(abs)), pos, nil

	case wireFloat, wireFloatNg:
		if len(src) < pos+int(nbytes) {
			return Value{}, 0, ErrTruncated
		}
		bits := getUintBE(src[pos : pos+int(nbytes)])
		pos += int(nbytes)
		f := math.Float64frombits(bits)
		if wtype == wireFloatNg {
			f = -f
		}
		return Float64(f), pos, nil

	case wireText, wireBlob:
		if len(src) < pos+int(nbytes) {
			return Value{}, 0, ErrTruncated
		}
		length := getUintBE(src[pos : pos+int(nbytes)])
		pos += int(nbytes)
		if len(src) < pos+int(length) {
			return Value{}, 0, ErrTruncated
		}
		raw := src[pos : pos+int(length)]
		pos += int(length)
		if wtype == wireText {
			return Text(string(raw)), pos, nil
		}
		buf := make([]byte, len(raw))
		copy(buf, raw)
		return Blob(buf), pos, nil

	default:
		return Value{}, 0, fmt.Errorf("codec: unknown wire type %d", wtype)
	}
}

// EncodeValues appends the value-row encoding (no count prefix) of vals to
// dst. The caller is expected to know the arity out of band (it is fixed
// by the protocol, e.g. the nine columns of a change entry).
func EncodeValues(dst []byte, vals []Value) []byte {
	for _, v := range vals {
		dst = EncodeValue(dst, v)
	}
	return dst
}

// DecodeValues decodes exactly n values from the front of src, returning
// them along with the number of input bytes consumed.
func DecodeValues(src []byte, n int) ([]Value, int, error) {
	vals := make([]Value, 0, n)
	pos := 0
	for i := 0; i < n; i++ {
		v, used, err := DecodeValue(src[pos:])
		if err != nil {
			return nil, 0, err
		}
		vals = append(vals, v)
		pos += used
	}
	return vals, pos, nil
}

// EncodePK encodes a primary-key value sequence: a u8 count prefix
// followed by the value-row encoding of vals.
func EncodePK(vals []Value) ([]byte, error) {
	if len(vals) > 255 {
		return nil, ErrTooManyValues
	}
	dst := make([]byte, 0, 1+len(vals)*2)
	dst = append(dst, byte(len(vals)))
	dst = EncodeValues(dst, vals)
	return dst, nil
}

// DecodePK decodes a primary-key value sequence previously produced by
// EncodePK.
func DecodePK(src []byte) ([]Value, error) {
	if len(src) < 1 {
		return nil, ErrTruncated
	}
	count := int(src[0])
	vals, _, err := DecodeValues(src[1:], count)
	return vals, err
}
