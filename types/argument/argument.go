// Package argument defines Argument, a runtime value: a shape plus a view into a shared
// byte buffer.
//
// Arguments are cheap to copy: copies share the same buffer. Reshape and View return new
// arguments over the same storage, so writing through one is visible through the other.
// Tuples are laid out in one buffer as described by shapes.Shape.LeafOffsets.
package argument

import (
	"fmt"
	"reflect"
	"strings"
	"unsafe"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/tensorgraph/types/shapes"
	"github.com/pkg/errors"
)

// Buffer is the storage shared by arguments.
type Buffer struct {
	data []byte
}

// Argument is a shaped view over a Buffer, or a tuple of arguments.
// The zero value is the empty argument.
type Argument struct {
	shape  shapes.Shape
	buf    *Buffer
	offset int
	subs   []Argument
}

// New allocates a zero-initialized argument for the shape.
// Tuples get a single buffer, and each leaf is a view at its LeafOffsets position.
func New(shape shapes.Shape) Argument {
	buf := &Buffer{data: make([]byte, shape.Bytes())}
	if !shape.IsTuple() {
		return Argument{shape: shape.Clone(), buf: buf}
	}
	offsets := shape.LeafOffsets()
	leafIdx := 0
	return newTupleView(shape, buf, offsets, &leafIdx)
}

func newTupleView(shape shapes.Shape, buf *Buffer, offsets []int, leafIdx *int) Argument {
	if !shape.IsTuple() {
		arg := Argument{shape: shape.Clone(), buf: buf, offset: offsets[*leafIdx]}
		*leafIdx++
		return arg
	}
	subs := make([]Argument, len(shape.TupleShapes))
	for i, subShape := range shape.TupleShapes {
		subs[i] = newTupleView(subShape, buf, offsets, leafIdx)
	}
	return Argument{shape: shape.Clone(), buf: buf, subs: subs}
}

// FromBytes wraps data (not copied) as an argument of the given non-tuple shape.
func FromBytes(shape shapes.Shape, data []byte) (Argument, error) {
	if shape.IsTuple() {
		return Argument{}, errors.Errorf("argument.FromBytes: tuple shape %s not supported", shape)
	}
	if len(data) < shape.Bytes() {
		return Argument{}, errors.Errorf("argument.FromBytes: shape %s needs %d bytes, got %d", shape, shape.Bytes(), len(data))
	}
	return Argument{shape: shape.Clone(), buf: &Buffer{data: data}}, nil
}

// FromFlat creates an argument with a standard layout holding a copy of flat.
func FromFlat[T dtypes.Supported](flat []T, dimensions ...int) (Argument, error) {
	dtype := dtypes.FromGenericsType[T]()
	shape := shapes.Make(dtype, dimensions...)
	if shape.Size() != len(flat) {
		return Argument{}, errors.Errorf("argument.FromFlat: %d values given for shape %s (size %d)", len(flat), shape, shape.Size())
	}
	arg := New(shape)
	if len(flat) > 0 {
		raw := unsafe.Slice((*byte)(unsafe.Pointer(&flat[0])), len(flat)*dtype.Size())
		copy(arg.buf.data, raw)
	}
	return arg, nil
}

// Scalar creates a scalar argument.
func Scalar[T dtypes.Supported](value T) Argument {
	arg, err := FromFlat([]T{value})
	if err != nil {
		panic(err)
	}
	return arg
}

// FromAnyValue creates an argument from a Go scalar or (nested) slices of scalars.
// See shapes.FromAnyValue.
func FromAnyValue(v any) (Argument, error) {
	shape, err := shapes.FromAnyValue(v)
	if err != nil {
		return Argument{}, err
	}
	arg := New(shape)
	elementSize := shape.DType.Size()
	pos := 0
	var fill func(rv reflect.Value) error
	fill = func(rv reflect.Value) error {
		if rv.Kind() == reflect.Slice {
			for ii := range rv.Len() {
				if err := fill(rv.Index(ii)); err != nil {
					return err
				}
			}
			return nil
		}
		if err := writeReflectValue(shape.DType, arg.buf.data[pos:pos+elementSize], rv); err != nil {
			return err
		}
		pos += elementSize
		return nil
	}
	if err := fill(reflect.ValueOf(v)); err != nil {
		return Argument{}, errors.WithMessagef(err, "argument.FromAnyValue(%T)", v)
	}
	return arg, nil
}

// MakeTuple creates a tuple argument referencing the given elements. Elements keep their own storage.
func MakeTuple(elements ...Argument) Argument {
	subShapes := make([]shapes.Shape, len(elements))
	subs := make([]Argument, len(elements))
	for i, elem := range elements {
		subShapes[i] = elem.shape
		subs[i] = elem
	}
	return Argument{shape: shapes.MakeTuple(subShapes...), subs: subs}
}

// Empty returns the empty argument, holding no storage.
func Empty() Argument {
	return Argument{}
}

// IsEmpty returns whether the argument holds no storage and no sub-objects.
func (a Argument) IsEmpty() bool {
	return a.buf == nil && a.subs == nil
}

// Shape of the argument.
func (a Argument) Shape() shapes.Shape {
	return a.shape
}

// IsTuple returns whether the argument is a tuple.
func (a Argument) IsTuple() bool {
	return a.subs != nil
}

// SubObjects returns the elements of a tuple argument, or nil.
func (a Argument) SubObjects() []Argument {
	return a.subs
}

// Bytes returns the storage spanned by a non-tuple argument. It aliases the underlying buffer.
func (a Argument) Bytes() []byte {
	if a.buf == nil || a.IsTuple() {
		return nil
	}
	return a.buf.data[a.offset : a.offset+a.shape.Bytes()]
}

// Buffer returns the underlying storage and the byte offset of this argument into it.
func (a Argument) Buffer() (*Buffer, int) {
	return a.buf, a.offset
}

// SameStorage returns whether both arguments are views of the same buffer.
func SameStorage(a, b Argument) bool {
	return a.buf != nil && a.buf == b.buf
}

// Reshape returns a view of the same storage with a new shape. No data is copied.
// It fails if the new shape needs more bytes than available from the argument's offset.
func (a Argument) Reshape(shape shapes.Shape) (Argument, error) {
	if a.IsTuple() || shape.IsTuple() {
		return Argument{}, errors.Errorf("argument.Reshape: cannot reshape tuples (%s to %s)", a.shape, shape)
	}
	if a.buf == nil {
		if shape.Bytes() > 0 {
			return Argument{}, errors.Errorf("argument.Reshape: empty argument cannot be viewed as %s", shape)
		}
		return Argument{shape: shape.Clone(), buf: &Buffer{}}, nil
	}
	if a.offset+shape.Bytes() > len(a.buf.data) {
		return Argument{}, errors.Errorf("argument.Reshape: shape %s needs %d bytes, only %d available for %s",
			shape, shape.Bytes(), len(a.buf.data)-a.offset, a.shape)
	}
	return Argument{shape: shape.Clone(), buf: a.buf, offset: a.offset}, nil
}

// View returns a view of the storage starting byteOffset bytes after the argument's start.
func (a Argument) View(shape shapes.Shape, byteOffset int) (Argument, error) {
	if a.buf == nil {
		return Argument{}, errors.Errorf("argument.View: empty argument")
	}
	if byteOffset < 0 || a.offset+byteOffset+shape.Bytes() > len(a.buf.data) {
		return Argument{}, errors.Errorf("argument.View: %s at offset %d is out of the %d bytes buffer",
			shape, a.offset+byteOffset, len(a.buf.data))
	}
	if shape.IsTuple() {
		offsets := shape.LeafOffsets()
		for i := range offsets {
			offsets[i] += a.offset + byteOffset
		}
		leafIdx := 0
		return newTupleView(shape, a.buf, offsets, &leafIdx), nil
	}
	return Argument{shape: shape.Clone(), buf: a.buf, offset: a.offset + byteOffset}, nil
}

// element returns the bytes of the logical (row-major) element i.
func (a Argument) element(i int) []byte {
	size := a.shape.DType.Size()
	start := a.offset + a.shape.StorageIndex(i)*size
	return a.buf.data[start : start+size]
}

// ElementBytes returns the bytes of the logical element i. It aliases the storage.
func (a Argument) ElementBytes(i int) []byte {
	return a.element(i)
}

// Float64At returns the logical element i converted to float64. Complex values return their real part.
func (a Argument) Float64At(i int) float64 {
	return readFloat64(a.shape.DType, a.element(i))
}

// SetFloat64At converts v to the argument's dtype and stores it as the logical element i.
func (a Argument) SetFloat64At(i int, v float64) {
	writeFloat64(a.shape.DType, a.element(i), v)
}

// Int64At returns the logical element i of an integer or boolean argument.
func (a Argument) Int64At(i int) int64 {
	return readInt64(a.shape.DType, a.element(i))
}

// SetInt64At stores v as the logical element i of an integer argument.
func (a Argument) SetInt64At(i int, v int64) {
	writeInt64(a.shape.DType, a.element(i), v)
}

// Uint64At returns the logical element i of an unsigned argument.
func (a Argument) Uint64At(i int) uint64 {
	return readUint64(a.shape.DType, a.element(i))
}

// SetUint64At stores v as the logical element i of an unsigned argument.
func (a Argument) SetUint64At(i int, v uint64) {
	writeUint64(a.shape.DType, a.element(i), v)
}

// Float64s returns all logical elements converted to float64.
func (a Argument) Float64s() []float64 {
	n := a.shape.Size()
	out := make([]float64, n)
	for i := range n {
		out[i] = a.Float64At(i)
	}
	return out
}

// SetFloat64s stores the values, in logical order.
func (a Argument) SetFloat64s(values []float64) error {
	if len(values) != a.shape.Size() {
		return errors.Errorf("argument.SetFloat64s: %d values for shape %s", len(values), a.shape)
	}
	for i, v := range values {
		a.SetFloat64At(i, v)
	}
	return nil
}

// Flat returns a copy of the logical elements of the argument, which must have the dtype of T.
func Flat[T dtypes.Supported](a Argument) ([]T, error) {
	dtype := dtypes.FromGenericsType[T]()
	if a.shape.DType != dtype || a.IsTuple() {
		return nil, errors.Errorf("argument.Flat[%s]: argument has shape %s", dtype, a.shape)
	}
	n := a.shape.Size()
	out := make([]T, n)
	if n == 0 {
		return out, nil
	}
	raw := unsafe.Slice((*byte)(unsafe.Pointer(&out[0])), n*dtype.Size())
	size := dtype.Size()
	for i := range n {
		copy(raw[i*size:(i+1)*size], a.element(i))
	}
	return out, nil
}

// CopyFrom copies the elements of src into a. Both must have the same dtype and dimensions,
// but they may have different layouts. Tuples are copied element by element.
func (a Argument) CopyFrom(src Argument) error {
	if a.IsTuple() || src.IsTuple() {
		if len(a.subs) != len(src.subs) {
			return errors.Errorf("argument.CopyFrom: cannot copy %s into %s", src.shape, a.shape)
		}
		for i := range a.subs {
			if err := a.subs[i].CopyFrom(src.subs[i]); err != nil {
				return errors.WithMessagef(err, "tuple element #%d", i)
			}
		}
		return nil
	}
	if !a.shape.EqualDimensions(src.shape) {
		return errors.Errorf("argument.CopyFrom: cannot copy %s into %s", src.shape, a.shape)
	}
	if a.shape.Size() == 0 {
		return nil
	}
	if a.shape.Standard() && src.shape.Standard() && a.shape.Packed() && src.shape.Packed() {
		copy(a.Bytes(), src.Bytes())
		return nil
	}
	// Element by element: copy through a temporary if both views overlap the same buffer.
	if SameStorage(a, src) {
		src = src.Clone()
	}
	for i := range a.shape.Size() {
		copy(a.element(i), src.element(i))
	}
	return nil
}

// Zero fills the storage spanned by the argument with zeros.
func (a Argument) Zero() {
	if a.IsTuple() {
		for _, sub := range a.subs {
			sub.Zero()
		}
		return
	}
	clear(a.Bytes())
}

// Clone returns a deep copy of the argument in new storage. Non-tuple arguments keep their layout.
func (a Argument) Clone() Argument {
	if a.IsEmpty() {
		return a
	}
	if a.IsTuple() {
		subs := make([]Argument, len(a.subs))
		for i, sub := range a.subs {
			subs[i] = sub.Clone()
		}
		return MakeTuple(subs...)
	}
	data := make([]byte, a.shape.Bytes())
	copy(data, a.Bytes())
	return Argument{shape: a.shape.Clone(), buf: &Buffer{data: data}}
}

// AsStandard returns the argument itself if it has a standard packed layout, or a copy
// in a new standard layout buffer otherwise.
func (a Argument) AsStandard() Argument {
	if a.IsEmpty() || a.IsTuple() || (a.shape.Standard() && a.shape.Packed()) {
		return a
	}
	out := New(a.shape.AsStandard())
	_ = out.CopyFrom(a)
	return out
}

// Equal returns whether both arguments have the same dtype, dimensions and element values.
// Layouts may differ. Elements are compared bytewise.
func (a Argument) Equal(b Argument) bool {
	if a.IsEmpty() || b.IsEmpty() {
		return a.IsEmpty() == b.IsEmpty()
	}
	if a.IsTuple() != b.IsTuple() {
		return false
	}
	if a.IsTuple() {
		if len(a.subs) != len(b.subs) {
			return false
		}
		for i := range a.subs {
			if !a.subs[i].Equal(b.subs[i]) {
				return false
			}
		}
		return true
	}
	if !a.shape.EqualDimensions(b.shape) {
		return false
	}
	for i := range a.shape.Size() {
		if string(a.element(i)) != string(b.element(i)) {
			return false
		}
	}
	return true
}

// maxStringElements limits the number of elements printed by String.
const maxStringElements = 16

// String implements fmt.Stringer, e.g. "(Float32)[2 2]: [1 2 3 4]".
func (a Argument) String() string {
	if a.IsEmpty() {
		return "<empty>"
	}
	if a.IsTuple() {
		parts := make([]string, len(a.subs))
		for i, sub := range a.subs {
			parts[i] = sub.String()
		}
		return "(" + strings.Join(parts, ", ") + ")"
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s: [", a.shape)
	n := a.shape.Size()
	for i := range min(n, maxStringElements) {
		if i > 0 {
			sb.WriteByte(' ')
		}
		switch {
		case a.shape.DType == dtypes.Bool:
			fmt.Fprintf(&sb, "%t", a.Int64At(i) != 0)
		case a.shape.DType.IsFloat() || a.shape.DType.IsComplex():
			fmt.Fprintf(&sb, "%g", a.Float64At(i))
		case a.shape.DType.IsUnsigned():
			fmt.Fprintf(&sb, "%d", a.Uint64At(i))
		default:
			fmt.Fprintf(&sb, "%d", a.Int64At(i))
		}
	}
	if n > maxStringElements {
		fmt.Fprintf(&sb, " ... (%d more)", n-maxStringElements)
	}
	sb.WriteByte(']')
	return sb.String()
}

// Share returns an argument sharing the same storage (and sub-objects) as a.
func (a Argument) Share() Argument {
	return a
}
