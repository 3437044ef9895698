// Package values defines Value, the tagged union used as the persisted-state layout of
// shapes, literals, operator attributes and whole programs.
//
// A Value is one of: null, bool, int, uint, float, string, binary, array or object.
// Objects keep the insertion order of their keys, so a program saved twice produces the
// same bytes.
//
// Values are encoded with msgpack, see Marshal and Unmarshal.
package values

import (
	"bytes"
	"fmt"
	"math"
	"strconv"

	"github.com/pkg/errors"
)

// Kind of a Value.
type Kind int

const (
	NullKind Kind = iota
	BoolKind
	IntKind
	UintKind
	FloatKind
	StringKind
	BinaryKind
	ArrayKind
	ObjectKind
)

var kindNames = [...]string{"null", "bool", "int", "uint", "float", "string", "binary", "array", "object"}

// String implements fmt.Stringer.
func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return kindNames[k]
}

// Value is a tagged union. The zero value is null.
type Value struct {
	kind Kind
	b    bool
	i    int64
	u    uint64
	f    float64
	s    string
	bin  []byte

	// items holds array elements, or object values (parallel to keys).
	items []Value
	keys  []string
}

// Null returns the null value.
func Null() Value { return Value{} }

// Bool returns a boolean value.
func Bool(b bool) Value { return Value{kind: BoolKind, b: b} }

// Int returns a signed integer value.
func Int(i int64) Value { return Value{kind: IntKind, i: i} }

// Uint returns an unsigned integer value.
func Uint(u uint64) Value { return Value{kind: UintKind, u: u} }

// Float returns a floating point value.
func Float(f float64) Value { return Value{kind: FloatKind, f: f} }

// String returns a string value.
func String(s string) Value { return Value{kind: StringKind, s: s} }

// Binary returns a binary value. The bytes are not copied.
func Binary(b []byte) Value { return Value{kind: BinaryKind, bin: b} }

// Array returns an array value holding the given elements.
func Array(elements ...Value) Value {
	if elements == nil {
		elements = []Value{}
	}
	return Value{kind: ArrayKind, items: elements}
}

// Ints returns an array of integer values.
func Ints(ints []int) Value {
	elements := make([]Value, len(ints))
	for i, v := range ints {
		elements[i] = Int(int64(v))
	}
	return Array(elements...)
}

// Strings returns an array of string values.
func Strings(strs []string) Value {
	elements := make([]Value, len(strs))
	for i, v := range strs {
		elements[i] = String(v)
	}
	return Array(elements...)
}

// Object returns an empty object. Use With to add fields.
func Object() Value { return Value{kind: ObjectKind} }

// With returns a copy of the object v with the field key set to value.
// If the key already exists, its value is replaced in place, keeping the key order.
func (v Value) With(key string, value Value) Value {
	if v.kind != ObjectKind {
		panic(errors.Errorf("values: With(%q) called on a %s value", key, v.kind))
	}
	keys := make([]string, len(v.keys), len(v.keys)+1)
	copy(keys, v.keys)
	items := make([]Value, len(v.items), len(v.items)+1)
	copy(items, v.items)
	for i, k := range keys {
		if k == key {
			items[i] = value
			return Value{kind: ObjectKind, keys: keys, items: items}
		}
	}
	return Value{kind: ObjectKind, keys: append(keys, key), items: append(items, value)}
}

// Kind returns the kind of the value.
func (v Value) Kind() Kind { return v.kind }

// IsNull returns whether the value is null.
func (v Value) IsNull() bool { return v.kind == NullKind }

// AsBool returns the boolean held by v.
func (v Value) AsBool() (bool, error) {
	if v.kind != BoolKind {
		return false, errors.Errorf("values: expected bool, got %s", v.kind)
	}
	return v.b, nil
}

// AsInt returns the integer held by v. Unsigned values that fit are converted, and so are
// floats with an integral value.
func (v Value) AsInt() (int64, error) {
	switch v.kind {
	case IntKind:
		return v.i, nil
	case UintKind:
		if v.u > math.MaxInt64 {
			return 0, errors.Errorf("values: unsigned value %d overflows int64", v.u)
		}
		return int64(v.u), nil
	case FloatKind:
		if v.f != math.Trunc(v.f) {
			return 0, errors.Errorf("values: float %g is not an integer", v.f)
		}
		return int64(v.f), nil
	}
	return 0, errors.Errorf("values: expected an integer, got %s", v.kind)
}

// AsUint returns the unsigned integer held by v.
func (v Value) AsUint() (uint64, error) {
	switch v.kind {
	case UintKind:
		return v.u, nil
	case IntKind:
		if v.i < 0 {
			return 0, errors.Errorf("values: negative value %d is not unsigned", v.i)
		}
		return uint64(v.i), nil
	}
	return 0, errors.Errorf("values: expected an unsigned integer, got %s", v.kind)
}

// AsFloat returns the number held by v as a float64.
func (v Value) AsFloat() (float64, error) {
	switch v.kind {
	case FloatKind:
		return v.f, nil
	case IntKind:
		return float64(v.i), nil
	case UintKind:
		return float64(v.u), nil
	}
	return 0, errors.Errorf("values: expected a number, got %s", v.kind)
}

// AsString returns the string held by v.
func (v Value) AsString() (string, error) {
	if v.kind != StringKind {
		return "", errors.Errorf("values: expected string, got %s", v.kind)
	}
	return v.s, nil
}

// AsBinary returns the bytes held by v.
func (v Value) AsBinary() ([]byte, error) {
	if v.kind != BinaryKind {
		return nil, errors.Errorf("values: expected binary, got %s", v.kind)
	}
	return v.bin, nil
}

// AsInts converts an array of integers to []int.
func (v Value) AsInts() ([]int, error) {
	if v.kind != ArrayKind {
		return nil, errors.Errorf("values: expected an array of integers, got %s", v.kind)
	}
	ints := make([]int, len(v.items))
	for i, item := range v.items {
		n, err := item.AsInt()
		if err != nil {
			return nil, errors.WithMessagef(err, "element #%d", i)
		}
		ints[i] = int(n)
	}
	return ints, nil
}

// AsStrings converts an array of strings to []string.
func (v Value) AsStrings() ([]string, error) {
	if v.kind != ArrayKind {
		return nil, errors.Errorf("values: expected an array of strings, got %s", v.kind)
	}
	strs := make([]string, len(v.items))
	for i, item := range v.items {
		s, err := item.AsString()
		if err != nil {
			return nil, errors.WithMessagef(err, "element #%d", i)
		}
		strs[i] = s
	}
	return strs, nil
}

// Len returns the number of elements of an array or fields of an object, 0 otherwise.
func (v Value) Len() int {
	if v.kind == ArrayKind || v.kind == ObjectKind {
		return len(v.items)
	}
	return 0
}

// At returns the i-th element of an array or the i-th field value of an object.
func (v Value) At(i int) Value {
	return v.items[i]
}

// Elements returns the elements of an array, or the field values of an object.
func (v Value) Elements() []Value {
	return v.items
}

// Keys returns the keys of an object, in insertion order.
func (v Value) Keys() []string {
	return v.keys
}

// Get returns the value of the field key of an object.
func (v Value) Get(key string) (Value, bool) {
	if v.kind != ObjectKind {
		return Value{}, false
	}
	for i, k := range v.keys {
		if k == key {
			return v.items[i], true
		}
	}
	return Value{}, false
}

// MustGet returns the value of the field key, or an error naming the missing field.
func (v Value) MustGet(key string) (Value, error) {
	field, found := v.Get(key)
	if !found {
		return Value{}, errors.Errorf("values: missing field %q in %s", key, v.kind)
	}
	return field, nil
}

// Equal returns whether both values hold the same data. Objects compare key order too.
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case NullKind:
		return true
	case BoolKind:
		return v.b == other.b
	case IntKind:
		return v.i == other.i
	case UintKind:
		return v.u == other.u
	case FloatKind:
		return v.f == other.f || (math.IsNaN(v.f) && math.IsNaN(other.f))
	case StringKind:
		return v.s == other.s
	case BinaryKind:
		return bytes.Equal(v.bin, other.bin)
	case ArrayKind, ObjectKind:
		if len(v.items) != len(other.items) {
			return false
		}
		for i := range v.items {
			if v.kind == ObjectKind && v.keys[i] != other.keys[i] {
				return false
			}
			if !v.items[i].Equal(other.items[i]) {
				return false
			}
		}
		return true
	}
	return false
}

// String implements fmt.Stringer, with a JSON-like rendering. Binary values are summarized.
func (v Value) String() string {
	var buf bytes.Buffer
	v.write(&buf)
	return buf.String()
}

func (v Value) write(buf *bytes.Buffer) {
	switch v.kind {
	case NullKind:
		buf.WriteString("null")
	case BoolKind:
		buf.WriteString(strconv.FormatBool(v.b))
	case IntKind:
		buf.WriteString(strconv.FormatInt(v.i, 10))
	case UintKind:
		buf.WriteString(strconv.FormatUint(v.u, 10))
	case FloatKind:
		buf.WriteString(strconv.FormatFloat(v.f, 'g', -1, 64))
	case StringKind:
		buf.WriteString(strconv.Quote(v.s))
	case BinaryKind:
		fmt.Fprintf(buf, "<%d bytes>", len(v.bin))
	case ArrayKind:
		buf.WriteByte('[')
		for i, item := range v.items {
			if i > 0 {
				buf.WriteString(", ")
			}
			item.write(buf)
		}
		buf.WriteByte(']')
	case ObjectKind:
		buf.WriteByte('{')
		for i, item := range v.items {
			if i > 0 {
				buf.WriteString(", ")
			}
			buf.WriteString(v.keys[i])
			buf.WriteString(": ")
			item.write(buf)
		}
		buf.WriteByte('}')
	}
}
