package argument

import (
	"encoding/binary"
	"math"
	"reflect"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// Element encoding: all values are stored little-endian, in their natural size.

var order = binary.LittleEndian

func readFloat64(dtype dtypes.DType, b []byte) float64 {
	switch dtype {
	case dtypes.Bool:
		if b[0] != 0 {
			return 1
		}
		return 0
	case dtypes.Float16:
		return float64(float16.Frombits(order.Uint16(b)).Float32())
	case dtypes.BFloat16:
		return float64(bfloat16.BFloat16(order.Uint16(b)).Float32())
	case dtypes.Float32:
		return float64(math.Float32frombits(order.Uint32(b)))
	case dtypes.Float64:
		return math.Float64frombits(order.Uint64(b))
	case dtypes.Complex64:
		return float64(math.Float32frombits(order.Uint32(b)))
	case dtypes.Complex128:
		return math.Float64frombits(order.Uint64(b))
	}
	if dtype.IsUnsigned() {
		return float64(readUint64(dtype, b))
	}
	return float64(readInt64(dtype, b))
}

func writeFloat64(dtype dtypes.DType, b []byte, v float64) {
	switch dtype {
	case dtypes.Bool:
		b[0] = 0
		if v != 0 {
			b[0] = 1
		}
	case dtypes.Float16:
		order.PutUint16(b, float16.Fromfloat32(float32(v)).Bits())
	case dtypes.BFloat16:
		order.PutUint16(b, uint16(bfloat16.FromFloat32(float32(v))))
	case dtypes.Float32:
		order.PutUint32(b, math.Float32bits(float32(v)))
	case dtypes.Float64:
		order.PutUint64(b, math.Float64bits(v))
	case dtypes.Complex64:
		order.PutUint32(b, math.Float32bits(float32(v)))
		order.PutUint32(b[4:], 0)
	case dtypes.Complex128:
		order.PutUint64(b, math.Float64bits(v))
		order.PutUint64(b[8:], 0)
	default:
		if dtype.IsUnsigned() {
			if v < 0 {
				v = 0
			}
			writeUint64(dtype, b, uint64(v))
		} else {
			writeInt64(dtype, b, int64(v))
		}
	}
}

func readInt64(dtype dtypes.DType, b []byte) int64 {
	switch dtype.Size() {
	case 1:
		if dtype == dtypes.Bool || dtype.IsUnsigned() {
			return int64(b[0])
		}
		return int64(int8(b[0]))
	case 2:
		if dtype.IsUnsigned() {
			return int64(order.Uint16(b))
		}
		return int64(int16(order.Uint16(b)))
	case 4:
		if dtype.IsUnsigned() {
			return int64(order.Uint32(b))
		}
		return int64(int32(order.Uint32(b)))
	default:
		return int64(order.Uint64(b))
	}
}

func writeInt64(dtype dtypes.DType, b []byte, v int64) {
	switch dtype.Size() {
	case 1:
		b[0] = byte(v)
	case 2:
		order.PutUint16(b, uint16(v))
	case 4:
		order.PutUint32(b, uint32(v))
	default:
		order.PutUint64(b, uint64(v))
	}
}

func readUint64(dtype dtypes.DType, b []byte) uint64 {
	switch dtype.Size() {
	case 1:
		return uint64(b[0])
	case 2:
		return uint64(order.Uint16(b))
	case 4:
		return uint64(order.Uint32(b))
	default:
		return order.Uint64(b)
	}
}

func writeUint64(dtype dtypes.DType, b []byte, v uint64) {
	writeInt64(dtype, b, int64(v))
}

// writeReflectValue encodes a Go scalar into b, which must have the size of dtype.
func writeReflectValue(dtype dtypes.DType, b []byte, v reflect.Value) error {
	switch v.Kind() {
	case reflect.Bool:
		b[0] = 0
		if v.Bool() {
			b[0] = 1
		}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		writeInt64(dtype, b, v.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		// Also float16.Float16 and bfloat16.BFloat16, stored as their raw bits.
		writeUint64(dtype, b, v.Uint())
	case reflect.Float32:
		order.PutUint32(b, math.Float32bits(float32(v.Float())))
	case reflect.Float64:
		order.PutUint64(b, math.Float64bits(v.Float()))
	case reflect.Complex64:
		c := v.Complex()
		order.PutUint32(b, math.Float32bits(float32(real(c))))
		order.PutUint32(b[4:], math.Float32bits(float32(imag(c))))
	case reflect.Complex128:
		c := v.Complex()
		order.PutUint64(b, math.Float64bits(real(c)))
		order.PutUint64(b[8:], math.Float64bits(imag(c)))
	default:
		return errors.Errorf("cannot encode value of type %s as %s", v.Type(), dtype)
	}
	return nil
}
