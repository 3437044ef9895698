package values

import (
	"bytes"
	"io"
	"math"

	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
	"github.com/vmihailenco/msgpack/v5/msgpcode"
)

var (
	_ msgpack.CustomEncoder = Value{}
	_ msgpack.CustomDecoder = (*Value)(nil)
)

// Marshal encodes the value with msgpack.
func Marshal(v Value) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes a msgpack encoded value.
func Unmarshal(data []byte) (Value, error) {
	return Decode(bytes.NewReader(data))
}

// Encode writes the msgpack encoding of v to w.
func Encode(w io.Writer, v Value) error {
	enc := msgpack.NewEncoder(w)
	return errors.Wrap(v.EncodeMsgpack(enc), "values: failed to encode")
}

// Decode reads one msgpack encoded value from r.
func Decode(r io.Reader) (Value, error) {
	var v Value
	dec := msgpack.NewDecoder(r)
	if err := v.DecodeMsgpack(dec); err != nil {
		return Value{}, errors.Wrap(err, "values: failed to decode")
	}
	return v, nil
}

// EncodeMsgpack implements msgpack.CustomEncoder.
//
// Unsigned integers are always written with the 64-bit unsigned code, so the distinction
// between Int and Uint survives a round trip.
func (v Value) EncodeMsgpack(enc *msgpack.Encoder) error {
	switch v.kind {
	case NullKind:
		return enc.EncodeNil()
	case BoolKind:
		return enc.EncodeBool(v.b)
	case IntKind:
		if v.i >= 0 && v.i <= math.MaxUint32 {
			return enc.EncodeInt(v.i)
		}
		return enc.EncodeInt64(v.i)
	case UintKind:
		return enc.EncodeUint64(v.u)
	case FloatKind:
		return enc.EncodeFloat64(v.f)
	case StringKind:
		return enc.EncodeString(v.s)
	case BinaryKind:
		return enc.EncodeBytes(v.bin)
	case ArrayKind:
		if err := enc.EncodeArrayLen(len(v.items)); err != nil {
			return err
		}
		for _, item := range v.items {
			if err := item.EncodeMsgpack(enc); err != nil {
				return err
			}
		}
		return nil
	case ObjectKind:
		if err := enc.EncodeMapLen(len(v.items)); err != nil {
			return err
		}
		for i, item := range v.items {
			if err := enc.EncodeString(v.keys[i]); err != nil {
				return err
			}
			if err := item.EncodeMsgpack(enc); err != nil {
				return err
			}
		}
		return nil
	}
	return errors.Errorf("cannot encode value of kind %s", v.kind)
}

// maxPrealloc caps the capacity reserved from an array or map header length.
const maxPrealloc = 1024

// DecodeMsgpack implements msgpack.CustomDecoder.
func (v *Value) DecodeMsgpack(dec *msgpack.Decoder) error {
	code, err := dec.PeekCode()
	if err != nil {
		return err
	}
	switch {
	case code == msgpcode.Nil:
		*v = Null()
		return dec.DecodeNil()

	case code == msgpcode.True || code == msgpcode.False:
		b, err := dec.DecodeBool()
		*v = Bool(b)
		return err

	case code == msgpcode.Uint64:
		u, err := dec.DecodeUint64()
		*v = Uint(u)
		return err

	case msgpcode.IsFixedNum(code) ||
		code == msgpcode.Uint8 || code == msgpcode.Uint16 || code == msgpcode.Uint32 ||
		code == msgpcode.Int8 || code == msgpcode.Int16 || code == msgpcode.Int32 || code == msgpcode.Int64:
		i, err := dec.DecodeInt64()
		*v = Int(i)
		return err

	case code == msgpcode.Float || code == msgpcode.Double:
		f, err := dec.DecodeFloat64()
		*v = Float(f)
		return err

	case msgpcode.IsString(code):
		s, err := dec.DecodeString()
		*v = String(s)
		return err

	case msgpcode.IsBin(code):
		b, err := dec.DecodeBytes()
		*v = Binary(b)
		return err

	case msgpcode.IsFixedArray(code) || code == msgpcode.Array16 || code == msgpcode.Array32:
		n, err := dec.DecodeArrayLen()
		if err != nil {
			return err
		}
		items := make([]Value, 0, min(max(n, 0), maxPrealloc))
		for i := 0; i < n; i++ {
			var item Value
			if err := item.DecodeMsgpack(dec); err != nil {
				return errors.WithMessagef(err, "array element #%d", i)
			}
			items = append(items, item)
		}
		*v = Array(items...)
		return nil

	case msgpcode.IsFixedMap(code) || code == msgpcode.Map16 || code == msgpcode.Map32:
		n, err := dec.DecodeMapLen()
		if err != nil {
			return err
		}
		capacity := min(max(n, 0), maxPrealloc)
		obj := Value{kind: ObjectKind, keys: make([]string, 0, capacity), items: make([]Value, 0, capacity)}
		for i := 0; i < n; i++ {
			key, err := dec.DecodeString()
			if err != nil {
				return errors.WithMessagef(err, "object key #%d", i)
			}
			var item Value
			if err := item.DecodeMsgpack(dec); err != nil {
				return errors.WithMessagef(err, "object field %q", key)
			}
			obj.keys = append(obj.keys, key)
			obj.items = append(obj.items, item)
		}
		*v = obj
		return nil
	}
	return errors.Errorf("unsupported msgpack code 0x%x", code)
}
