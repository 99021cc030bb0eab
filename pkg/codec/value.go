package codec

// Kind identifies the logical type carried by a Value. It deliberately
// mirrors the four SQL storage classes the host engine exposes (integer,
// float, text, blob) plus null; the wire-level sign/sentinel distinctions
// live in the tag byte produced by EncodeValue, not in Kind.
type Kind uint8

const (
	KindNull Kind = iota
	KindInt
	KindFloat
	KindText
	KindBlob
)

// Sentinel strings carried as TEXT values. They are not a distinct wire
// type: a tombstone or RLS marker round-trips as an ordinary TEXT value
// whose payload happens to equal one of these literals, which keeps the
// codec byte-compatible with a reference implementation that has no
// notion of a "deleted value" type of its own.
const (
	SentinelTombstone = "__[RIP]__"
	SentinelRLS       = "__[RLS]__"
)

// Value is a closed sum type over the four storage classes plus null. It
// replaces the callback-dispatch style of the reference implementation's
// decoder (see Design Notes) with a typed value plus an optional Visitor
// for callers that prefer dispatch over a type switch.
type Value struct {
	kind Kind
	i    int64
	f    float64
	s    string
	b    []byte
}

// Null returns the NULL value.
func Null() Value { return Value{kind: KindNull} }

// Int64 wraps a signed integer value.
func Int64(v int64) Value { return Value{kind: KindInt, i: v} }

// Float64 wraps a floating point value.
func Float64(v float64) Value { return Value{kind: KindFloat, f: v} }

// Text wraps a UTF-8 string value.
func Text(v string) Value { return Value{kind: KindText, s: v} }

// Blob wraps an opaque byte slice value.
func Blob(v []byte) Value { return Value{kind: KindBlob, b: v} }

// Tombstone returns the TEXT value that denotes a deleted row or column.
func Tombstone() Value { return Text(SentinelTombstone) }

// RLS returns the TEXT value that denotes a server-side row-level-security
// restriction on the change being replicated.
func RLS() Value { return Text(SentinelRLS) }

// Kind reports the logical type of v.
func (v Value) Kind() Kind { return v.kind }

// Int64 returns the wrapped integer and whether v actually holds one.
func (v Value) Int64() (int64, bool) { return v.i, v.kind == KindInt }

// Float64 returns the wrapped float and whether v actually holds one.
func (v Value) Float64() (float64, bool) { return v.f, v.kind == KindFloat }

// Text returns the wrapped string and whether v actually holds one.
func (v Value) Text() (string, bool) { return v.s, v.kind == KindText }

// Blob returns the wrapped bytes and whether v actually holds one.
func (v Value) Blob() ([]byte, bool) { return v.b, v.kind == KindBlob }

// IsTombstone reports whether v is the TEXT tombstone sentinel.
func (v Value) IsTombstone() bool {
	s, ok := v.Text()
	return ok && s == SentinelTombstone
}

// IsRLS reports whether v is the TEXT row-level-security sentinel.
func (v Value) IsRLS() bool {
	s, ok := v.Text()
	return ok && s == SentinelRLS
}

// Equal reports whether v and other carry the same kind and payload.
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindInt:
		return v.i == other.i
	case KindFloat:
		return v.f == other.f
	case KindText:
		return v.s == other.s
	case KindBlob:
		if len(v.b) != len(other.b) {
			return false
		}
		for i := range v.b {
			if v.b[i] != other.b[i] {
				return false
			}
		}
		return true
	}
	return false
}

// Visitor dispatches on a Value's concrete kind. It exists for callers
// (e.g. a statement binder) that want per-variant dispatch rather than a
// type switch over Value's accessors.
type Visitor interface {
	OnNull()
	OnInt64(int64)
	OnFloat64(float64)
	OnText(string)
	OnBlob([]byte)
}

// Accept dispatches v to the matching Visitor method.
func (v Value) Accept(visitor Visitor) {
	switch v.kind {
	case KindNull:
		visitor.OnNull()
	case KindInt:
		visitor.OnInt64(v.i)
	case KindFloat:
		visitor.OnFloat64(v.f)
	case KindText:
		visitor.OnText(v.s)
	case KindBlob:
		visitor.OnBlob(v.b)
	}
}
