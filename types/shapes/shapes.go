// Package shapes defines Shape, the description of a tensor value: its element type (DType),
// its dimensions and how a multi-index maps to a linear position in memory (strides).
//
// Shapes come in three flavors:
//
//   - Concrete: dimensions and (optionally) strides. Strides are nil for the standard row-major
//     layout. Element i of the multi-index idx is stored at Σ idx[axis]·Strides[axis].
//   - Dynamic: each dimension is a [Min, Max] range. Dimensions then hold the Max values, so
//     buffer planning based on Bytes() is always an upper bound.
//   - Tuple: an ordered list of sub-shapes. See LeafOffsets for how tuple leaves are laid out in
//     a single buffer.
//
// Shape is a value type: functions that "change" a shape return a new one.
package shapes

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// DynamicDimension is the [Min, Max] range of a dynamic dimension.
type DynamicDimension struct {
	Min, Max int
}

// IsFixed returns whether the range holds only one value.
func (d DynamicDimension) IsFixed() bool { return d.Min == d.Max }

// String implements fmt.Stringer.
func (d DynamicDimension) String() string {
	if d.IsFixed() {
		return fmt.Sprintf("%d", d.Min)
	}
	return fmt.Sprintf("{%d,%d}", d.Min, d.Max)
}

// Shape of a tensor or of a tuple of tensors.
type Shape struct {
	DType      dtypes.DType
	Dimensions []int

	// Strides of each axis, in elements. Nil means standard row-major layout.
	Strides []int

	// Dynamic ranges of each axis. Nil for concrete shapes.
	Dynamic []DynamicDimension

	// TupleShapes is non-nil for tuple shapes (it can be an empty tuple).
	TupleShapes []Shape
}

// Make returns a concrete standard shape with the given DType and dimensions.
// It panics if a dimension is negative.
func Make(dtype dtypes.DType, dimensions ...int) Shape {
	for _, dim := range dimensions {
		if dim < 0 {
			panic(errors.Errorf("shapes.Make(%s, %v): dimensions cannot be negative", dtype, dimensions))
		}
	}
	return Shape{DType: dtype, Dimensions: slices.Clone(dimensions)}
}

// MakeStrided returns a concrete shape with explicit strides.
func MakeStrided(dtype dtypes.DType, dimensions, strides []int) (Shape, error) {
	if len(dimensions) != len(strides) {
		return Invalid(), errors.Errorf("shapes.MakeStrided: %d dimensions but %d strides", len(dimensions), len(strides))
	}
	for axis := range dimensions {
		if dimensions[axis] < 0 || strides[axis] < 0 {
			return Invalid(), errors.Errorf("shapes.MakeStrided: negative dimension or stride at axis %d: dimensions=%v, strides=%v",
				axis, dimensions, strides)
		}
	}
	s := Shape{DType: dtype, Dimensions: slices.Clone(dimensions), Strides: slices.Clone(strides)}
	if slices.Equal(s.Strides, standardStrides(s.Dimensions)) {
		s.Strides = nil
	}
	return s, nil
}

// MakeDynamic returns a dynamic shape. Dimensions are set to the maximum of each range.
func MakeDynamic(dtype dtypes.DType, dims ...DynamicDimension) Shape {
	s := Shape{DType: dtype, Dimensions: make([]int, len(dims)), Dynamic: slices.Clone(dims)}
	if s.Dynamic == nil {
		s.Dynamic = []DynamicDimension{}
	}
	for axis, d := range dims {
		if d.Min < 0 || d.Max < d.Min {
			panic(errors.Errorf("shapes.MakeDynamic(%s): invalid range %v for axis %d", dtype, d, axis))
		}
		s.Dimensions[axis] = d.Max
	}
	return s
}

// MakeTuple returns a tuple shape of the given sub-shapes.
func MakeTuple(subShapes ...Shape) Shape {
	tuple := make([]Shape, len(subShapes))
	for i, sub := range subShapes {
		tuple[i] = sub.Clone()
	}
	return Shape{DType: dtypes.InvalidDType, TupleShapes: tuple}
}

// Invalid returns an invalid shape.
func Invalid() Shape {
	return Shape{DType: dtypes.InvalidDType}
}

// Ok returns whether this is a valid shape: either a tuple or a shape with a valid DType.
func (s Shape) Ok() bool {
	return s.IsTuple() || s.DType != dtypes.InvalidDType
}

// IsTuple returns whether the shape is a tuple.
func (s Shape) IsTuple() bool {
	return s.TupleShapes != nil
}

// IsScalar returns whether the shape is a valid scalar (rank 0, not a tuple).
func (s Shape) IsScalar() bool {
	return s.Ok() && !s.IsTuple() && s.Rank() == 0
}

// IsDynamic returns whether the shape, or any of its sub-shapes, has dynamic dimensions.
func (s Shape) IsDynamic() bool {
	if s.IsTuple() {
		for _, sub := range s.TupleShapes {
			if sub.IsDynamic() {
				return true
			}
		}
		return false
	}
	return s.Dynamic != nil
}

// Rank of the shape, 0 for scalars and tuples.
func (s Shape) Rank() int {
	return len(s.Dimensions)
}

// Dim returns the dimension of the given axis. Negative axes count from the end.
// It panics if the axis is out of range.
func (s Shape) Dim(axis int) int {
	adjusted := axis
	if adjusted < 0 {
		adjusted += s.Rank()
	}
	if adjusted < 0 || adjusted >= s.Rank() {
		panic(errors.Errorf("Shape.Dim(%d) out-of-bounds for rank %d (shape=%s)", axis, s.Rank(), s))
	}
	return s.Dimensions[adjusted]
}

// Size returns the number of logical elements. For tuples, it's the sum of the sub-shapes' sizes.
func (s Shape) Size() int {
	if s.IsTuple() {
		var total int
		for _, sub := range s.TupleShapes {
			total += sub.Size()
		}
		return total
	}
	size := 1
	for _, dim := range s.Dimensions {
		size *= dim
	}
	return size
}

func standardStrides(dimensions []int) []int {
	strides := make([]int, len(dimensions))
	stride := 1
	for axis := len(dimensions) - 1; axis >= 0; axis-- {
		strides[axis] = stride
		stride *= max(dimensions[axis], 1)
	}
	return strides
}

// EffectiveStrides returns the strides of each axis, computing the standard ones if not set.
func (s Shape) EffectiveStrides() []int {
	if s.Strides != nil {
		return slices.Clone(s.Strides)
	}
	return standardStrides(s.Dimensions)
}

// ElementSpace returns the number of elements spanned in memory: 1 + Σ (dim-1)·stride.
// It is 0 if any dimension is 0. For tuples, it's the sum of the sub-shapes' element spaces.
func (s Shape) ElementSpace() int {
	if s.IsTuple() {
		var total int
		for _, sub := range s.TupleShapes {
			total += sub.ElementSpace()
		}
		return total
	}
	strides := s.EffectiveStrides()
	space := 1
	for axis, dim := range s.Dimensions {
		if dim == 0 {
			return 0
		}
		space += (dim - 1) * strides[axis]
	}
	return space
}

// Bytes returns the number of bytes needed to store a value of this shape.
// For tuples, it's the sum (not the product) of the sub-shapes' bytes.
func (s Shape) Bytes() int {
	if s.IsTuple() {
		var total int
		for _, sub := range s.TupleShapes {
			total += sub.Bytes()
		}
		return total
	}
	if s.DType == dtypes.InvalidDType {
		return 0
	}
	return s.ElementSpace() * s.DType.Size()
}

// Memory is an alias to Bytes, returned as uintptr.
func (s Shape) Memory() uintptr {
	return uintptr(s.Bytes())
}

// Packed returns whether every storage position between the first and last element is used
// exactly once: the element count equals the element space.
func (s Shape) Packed() bool {
	if s.IsTuple() {
		return false
	}
	return s.Size() == s.ElementSpace()
}

// Broadcasted returns whether some axis of dimension > 1 has stride 0.
func (s Shape) Broadcasted() bool {
	if s.IsTuple() || s.Strides == nil {
		return false
	}
	for axis, dim := range s.Dimensions {
		if dim > 1 && s.Strides[axis] == 0 {
			return true
		}
	}
	return false
}

// Transposed returns whether the strides of the non-trivial axes are not in decreasing order.
func (s Shape) Transposed() bool {
	if s.IsTuple() || s.Strides == nil {
		return false
	}
	last := -1
	for axis, dim := range s.Dimensions {
		stride := s.Strides[axis]
		if dim <= 1 || stride == 0 {
			continue
		}
		if last >= 0 && stride > last {
			return true
		}
		last = stride
	}
	return false
}

// Standard returns whether the shape uses the standard row-major layout:
// packed, not transposed and not broadcasted.
func (s Shape) Standard() bool {
	if s.IsTuple() {
		return false
	}
	if s.Strides == nil {
		return true
	}
	return s.Packed() && !s.Transposed() && !s.Broadcasted()
}

// Index returns the linear storage offset (in elements) of the multi-index.
func (s Shape) Index(multi []int) int {
	strides := s.EffectiveStrides()
	offset := 0
	for axis, idx := range multi {
		offset += idx * strides[axis]
	}
	return offset
}

// MultiIndex converts a logical (row-major) element number to a multi-index.
func (s Shape) MultiIndex(linear int) []int {
	multi := make([]int, s.Rank())
	for axis := s.Rank() - 1; axis >= 0; axis-- {
		dim := s.Dimensions[axis]
		if dim == 0 {
			continue
		}
		multi[axis] = linear % dim
		linear /= dim
	}
	return multi
}

// StorageIndex returns the storage offset (in elements) of the logical (row-major) element number.
func (s Shape) StorageIndex(linear int) int {
	if s.Strides == nil {
		return linear
	}
	return s.Index(s.MultiIndex(linear))
}

// Equal compares two shapes, including layout, dynamic ranges and tuple sub-shapes.
func (s Shape) Equal(s2 Shape) bool {
	if s.IsTuple() != s2.IsTuple() {
		return false
	}
	if s.IsTuple() {
		return slices.EqualFunc(s.TupleShapes, s2.TupleShapes, Shape.Equal)
	}
	if s.DType != s2.DType || s.Rank() != s2.Rank() {
		return false
	}
	if (s.Dynamic == nil) != (s2.Dynamic == nil) {
		return false
	}
	if s.Dynamic != nil {
		return slices.Equal(s.Dynamic, s2.Dynamic)
	}
	return slices.Equal(s.Dimensions, s2.Dimensions) &&
		slices.Equal(s.EffectiveStrides(), s2.EffectiveStrides())
}

// EqualDimensions compares only DType and dimensions, ignoring the layout.
func (s Shape) EqualDimensions(s2 Shape) bool {
	if s.IsTuple() || s2.IsTuple() {
		return s.Equal(s2)
	}
	return s.DType == s2.DType && slices.Equal(s.Dimensions, s2.Dimensions) &&
		(s.Dynamic == nil) == (s2.Dynamic == nil) && slices.Equal(s.Dynamic, s2.Dynamic)
}

// Clone returns a deep copy of the shape.
func (s Shape) Clone() Shape {
	c := Shape{
		DType:      s.DType,
		Dimensions: slices.Clone(s.Dimensions),
		Strides:    slices.Clone(s.Strides),
		Dynamic:    slices.Clone(s.Dynamic),
	}
	if s.TupleShapes != nil {
		c.TupleShapes = make([]Shape, len(s.TupleShapes))
		for i, sub := range s.TupleShapes {
			c.TupleShapes[i] = sub.Clone()
		}
	}
	return c
}

// AsStandard returns the same shape with the standard row-major layout.
func (s Shape) AsStandard() Shape {
	if s.IsTuple() {
		return s.Clone()
	}
	c := s.Clone()
	c.Strides = nil
	return c
}

// WithDimensions returns a standard shape with the same DType and the given dimensions.
func (s Shape) WithDimensions(dimensions ...int) Shape {
	return Make(s.DType, dimensions...)
}

// Check that the shape has the given dtype and dimensions, returning an error otherwise.
func (s Shape) Check(dtype dtypes.DType, dimensions ...int) error {
	if s.DType != dtype {
		return errors.Errorf("shape (%s) has incompatible dtype %s, wanted %s", s, s.DType, dtype)
	}
	return s.CheckDims(dimensions...)
}

// CheckDims checks that the shape has the given dimensions.
func (s Shape) CheckDims(dimensions ...int) error {
	if s.Rank() != len(dimensions) {
		return errors.Errorf("shape (%s) has incompatible rank %d, wanted %d", s, s.Rank(), len(dimensions))
	}
	for axis, dim := range s.Dimensions {
		if dim != dimensions[axis] {
			return errors.Errorf("shape (%s) axis %d has dimension %d, wanted %d", s, axis, dim, dimensions[axis])
		}
	}
	return nil
}

// String implements fmt.Stringer, e.g. "(Float32)[2 3]", "(Float32)[2 3]{1 2}" for strided
// shapes, "(Float32)[{1,4} 3]" for dynamic ones and "((Float32)[2], (Int64))" for tuples.
func (s Shape) String() string {
	if s.IsTuple() {
		parts := make([]string, len(s.TupleShapes))
		for i, sub := range s.TupleShapes {
			parts[i] = sub.String()
		}
		return "(" + strings.Join(parts, ", ") + ")"
	}
	if s.DType == dtypes.InvalidDType {
		return "(Invalid)"
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "(%s)", s.DType)
	if s.Rank() == 0 {
		return sb.String()
	}
	sb.WriteByte('[')
	for axis, dim := range s.Dimensions {
		if axis > 0 {
			sb.WriteByte(' ')
		}
		if s.Dynamic != nil {
			sb.WriteString(s.Dynamic[axis].String())
		} else {
			fmt.Fprintf(&sb, "%d", dim)
		}
	}
	sb.WriteByte(']')
	if s.Strides != nil {
		fmt.Fprintf(&sb, "{%s}", strings.Trim(fmt.Sprint(s.Strides), "[]"))
	}
	return sb.String()
}
