// Package shapeinference calculates the shape resulting from the built-in operations and validates their inputs.
//
// It defines a BinaryOp function for the elementwise binary operations and a UnaryOp function for the
// elementwise unary ones. Both keep the layout of their inputs when it is packed, so that rewrites that
// remove layout changes (e.g. a "contiguous") can be checked against the shapes of the consumers.
//
// For the remainder operations, each one gets its own shape inference function.
package shapeinference

import (
	"slices"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/tensorgraph/internal/optypes"
	"github.com/gomlx/tensorgraph/internal/utils"
	"github.com/gomlx/tensorgraph/types/shapes"
	"github.com/pkg/errors"
)

var (
	// StandardBinaryOperations include the elementwise operations that have two operands usually named lhs
	// (left-hand-side) and rhs (right-hand-side).
	StandardBinaryOperations = utils.SetWith(
		optypes.Add,
		optypes.Sub,
		optypes.Mul,
		optypes.Div,
		optypes.Max,
		optypes.Min,
	)

	// StandardUnaryOperations include the elementwise operations that have a single operand as input, and
	// the return shape is the same as the input.
	StandardUnaryOperations = utils.SetWith(
		optypes.Neg,
		optypes.Abs,
		optypes.Sqrt,
		optypes.Exp,
	)

	// SignedNumberOperations don't accept unsigned integers.
	SignedNumberOperations = utils.SetWith(
		optypes.Neg,
	)

	// FloatOperations operates only on float (and not on complex numbers).
	FloatOperations = utils.SetWith(
		optypes.Sqrt,
		optypes.Exp,
	)
)

func isNumber(dtype dtypes.DType) bool {
	return dtype.IsInt() || dtype.IsFloat() || dtype.IsComplex()
}

// elementwiseLayout returns the output shape of an elementwise operation whose inputs have the given
// (equal dimensions) shapes: the layout of the inputs if they all share the same packed layout, and
// the standard layout otherwise.
func elementwiseLayout(inputs ...shapes.Shape) shapes.Shape {
	first := inputs[0]
	if !first.Packed() {
		return first.AsStandard()
	}
	for _, s := range inputs[1:] {
		if !s.Equal(first) {
			return first.AsStandard()
		}
	}
	return first.Clone()
}

// BinaryOp returns the expected output shape for ops in the StandardBinaryOperations set.
//
// Both operands must have the same dtype and dimensions (broadcasting is explicit, see Multibroadcast).
// It returns an error if the data type (shape.DType) is invalid for the operation.
func BinaryOp(opType optypes.OpType, lhsShape, rhsShape shapes.Shape) (output shapes.Shape, err error) {
	if !StandardBinaryOperations.Has(opType) {
		err = errors.Errorf("operation %s is not in the StandardBinaryOperations set, cannot process it with BinaryOp", opType)
		return
	}
	if lhsShape.IsTuple() || rhsShape.IsTuple() {
		err = errors.Errorf("BinaryOp %s doesn't accept tuples, got %s and %s", opType, lhsShape, rhsShape)
		return
	}
	if lhsShape.DType == dtypes.InvalidDType || rhsShape.DType == dtypes.InvalidDType {
		err = errors.Errorf("invalid shape for %s or %s for %q", lhsShape, rhsShape, opType)
		return
	}
	if !lhsShape.EqualDimensions(rhsShape) {
		err = errors.Errorf("shapes for %q must match, got %s and %s", opType, lhsShape, rhsShape)
		return
	}
	if !isNumber(lhsShape.DType) {
		err = errors.Errorf("numeric BinaryOp %s must have a number (Int32, Float32, Complex64, ...) data type as input, got %s", opType, lhsShape)
		return
	}
	if (opType == optypes.Max || opType == optypes.Min) && lhsShape.DType.IsComplex() {
		err = errors.Errorf("BinaryOp %s is not defined for complex numbers, got %s", opType, lhsShape)
		return
	}
	return elementwiseLayout(lhsShape, rhsShape), nil
}

// UnaryOp checks the validity of the data type for StandardUnaryOperations and returns either an error or
// the output shape, which has the dimensions of the operand.
func UnaryOp(opType optypes.OpType, operand shapes.Shape) (output shapes.Shape, err error) {
	if !StandardUnaryOperations.Has(opType) {
		err = errors.Errorf("operation %s is not in the StandardUnaryOperations set, cannot process it with UnaryOp", opType)
		return
	}
	if operand.IsTuple() || operand.DType == dtypes.InvalidDType {
		err = errors.Errorf("invalid shape %s for UnaryOp %s", operand, opType)
		return
	}
	if !isNumber(operand.DType) {
		err = errors.Errorf("numeric UnaryOp %s must have a number (Int32, Float32, Complex64, ...) data type as input, got %s", opType, operand)
		return
	}
	if SignedNumberOperations.Has(opType) && operand.DType.IsUnsigned() {
		err = errors.Errorf("signed UnaryOp %s must have a signed data type as input, got %s", opType, operand)
		return
	}
	if FloatOperations.Has(opType) && !operand.DType.IsFloat() {
		err = errors.Errorf("float UnaryOp %s must have a float (Float32, Float64, ...) data type as input, got %s", opType, operand)
		return
	}
	return elementwiseLayout(operand), nil
}

// Identity returns the shape of the first input: the other inputs are only ordering dependencies.
func Identity(inputs []shapes.Shape) (output shapes.Shape, err error) {
	if len(inputs) == 0 {
		return shapes.Invalid(), errors.New("Identity requires at least one input")
	}
	return inputs[0].Clone(), nil
}

// Contiguous returns the standard layout version of the operand.
func Contiguous(operand shapes.Shape) (output shapes.Shape, err error) {
	if operand.IsTuple() || !operand.Ok() {
		return shapes.Invalid(), errors.Errorf("invalid shape %s for Contiguous", operand)
	}
	return operand.AsStandard(), nil
}

// Convert returns the standard shape with the dimensions of the operand and the target dtype.
func Convert(operand shapes.Shape, dtype dtypes.DType) (output shapes.Shape, err error) {
	if operand.IsTuple() || !operand.Ok() {
		return shapes.Invalid(), errors.Errorf("invalid shape %s for Convert", operand)
	}
	if dtype == dtypes.InvalidDType {
		return shapes.Invalid(), errors.Errorf("Convert(%s): invalid target dtype", operand)
	}
	output = operand.AsStandard()
	output.DType = dtype
	return output, nil
}

// Reshape returns the shape of the operand reshaped to dimensions. One of the dimensions can be -1,
// in which case it is inferred from the size of the operand.
//
// The operand must have a standard layout, since the output reuses its storage.
func Reshape(operand shapes.Shape, dimensions []int) (output shapes.Shape, err error) {
	if operand.IsTuple() || !operand.Ok() {
		return shapes.Invalid(), errors.Errorf("invalid shape %s for Reshape", operand)
	}
	if operand.IsDynamic() {
		return shapes.Invalid(), errors.Errorf("Reshape(%s): dynamic shapes are not supported", operand)
	}
	if !operand.Standard() {
		return shapes.Invalid(), errors.Errorf("Reshape(%s): the operand must have a standard layout", operand)
	}
	dims := slices.Clone(dimensions)
	inferredAxis := -1
	size := 1
	for axis, dim := range dims {
		switch {
		case dim == -1 && inferredAxis == -1:
			inferredAxis = axis
		case dim < 0:
			return shapes.Invalid(), errors.Errorf("Reshape(%s, %v): invalid dimension %d at axis %d", operand, dimensions, dim, axis)
		default:
			size *= dim
		}
	}
	if inferredAxis >= 0 {
		if size == 0 || operand.Size()%size != 0 {
			return shapes.Invalid(), errors.Errorf("Reshape(%s, %v): cannot infer the dimension of axis %d", operand, dimensions, inferredAxis)
		}
		dims[inferredAxis] = operand.Size() / size
		size *= dims[inferredAxis]
	}
	if size != operand.Size() {
		return shapes.Invalid(), errors.Errorf("Reshape(%s, %v): the number of elements %d doesn't match the operand's %d",
			operand, dimensions, size, operand.Size())
	}
	return shapes.Make(operand.DType, dims...), nil
}

// Transpose all axes of the operand.
// There must be one value in permutations for each axis in the operand.
// The output will have: output.Dimensions[i] = operand.Dimensions[permutation[i]], and the strides
// are permuted the same way, so the output is a view of the operand.
func Transpose(operand shapes.Shape, permutation []int) (output shapes.Shape, err error) {
	if operand.IsTuple() || !operand.Ok() {
		return shapes.Invalid(), errors.Errorf("invalid shape %s for Transpose", operand)
	}
	if operand.IsDynamic() {
		return shapes.Invalid(), errors.Errorf("Transpose(%s): dynamic shapes are not supported", operand)
	}
	rank := operand.Rank()
	if len(permutation) != rank {
		err = errors.Errorf("Transpose() requires all axes permutation to be defined, operand has shape %s, but %d permutation were given",
			operand, len(permutation))
		return
	}
	if rank == 0 {
		return operand, nil
	}

	// Check permutation axes are within range and unique.
	axesSet := slices.Clone(permutation)
	slices.Sort(axesSet)
	for ii, srcAxis := range axesSet {
		if srcAxis < 0 || srcAxis >= rank {
			err = errors.Errorf("invalid permutation axis %d given to Transpose(%s), it must be within the range of its rank",
				srcAxis, operand)
			return
		}
		if ii > 0 && srcAxis == axesSet[ii-1] {
			err = errors.Errorf("invalid permutation given to Transpose(%s, %v), there cannot be any repeated axis, each must appear exactly once",
				operand, permutation)
			return
		}
	}

	srcStrides := operand.EffectiveStrides()
	dims := make([]int, rank)
	strides := make([]int, rank)
	for axis, srcAxis := range permutation {
		dims[axis] = operand.Dimensions[srcAxis]
		strides[axis] = srcStrides[srcAxis]
	}
	return shapes.MakeStrided(operand.DType, dims, strides)
}

// Multibroadcast returns the view of the operand broadcast to dimensions, numpy style: the axes are
// aligned to the right, and axes of dimension 1 (or missing) are repeated using a stride of 0.
func Multibroadcast(operand shapes.Shape, dimensions []int) (output shapes.Shape, err error) {
	if operand.IsTuple() || !operand.Ok() {
		return shapes.Invalid(), errors.Errorf("invalid shape %s for Multibroadcast", operand)
	}
	if operand.IsDynamic() {
		return shapes.Invalid(), errors.Errorf("Multibroadcast(%s): dynamic shapes are not supported", operand)
	}
	rank := len(dimensions)
	if rank < operand.Rank() {
		return shapes.Invalid(), errors.Errorf("Multibroadcast() cannot be used to shrink the rank of the operand, got operand=%s and dimensions=%v",
			operand, dimensions)
	}
	srcStrides := operand.EffectiveStrides()
	offset := rank - operand.Rank()
	strides := make([]int, rank)
	for axis, dim := range dimensions {
		if dim < 0 {
			return shapes.Invalid(), errors.Errorf("Multibroadcast(%s, %v): negative dimension", operand, dimensions)
		}
		if axis < offset {
			continue
		}
		srcAxis := axis - offset
		srcDim := operand.Dimensions[srcAxis]
		switch {
		case srcDim == dim:
			strides[axis] = srcStrides[srcAxis]
		case srcDim == 1:
			strides[axis] = 0
		default:
			return shapes.Invalid(), errors.Errorf("Multibroadcast() requires all operand axes to be broadcast to be of dimension 1, but got operand.Dimensions[%d]=%d and dimensions[%d]=%d",
				srcAxis, srcDim, axis, dim)
		}
	}
	return shapes.MakeStrided(operand.DType, dimensions, strides)
}

// Concatenate calculates the output shape of a Concatenate operation.
// It takes a slice of input shapes and the axis along which to concatenate (negative axes count from the end).
// The output has a standard layout.
func Concatenate(inputs []shapes.Shape, axis int) (output shapes.Shape, err error) {
	if len(inputs) == 0 {
		return shapes.Invalid(), errors.Errorf("Concatenate requires at least one input shape")
	}

	// Initialize output dimensions with the first shape.
	firstShape := inputs[0]
	dtype := firstShape.DType
	rank := firstShape.Rank()
	if firstShape.IsTuple() || dtype == dtypes.InvalidDType {
		return shapes.Invalid(), errors.Errorf("invalid shape %s for first input of Concatenate", firstShape)
	}
	if firstShape.IsDynamic() {
		return shapes.Invalid(), errors.Errorf("Concatenate(%s): dynamic shapes are not supported", firstShape)
	}
	axis, err = AdjustAxisToRank(axis, rank)
	if err != nil {
		return shapes.Invalid(), errors.WithMessage(err, "invalid concatenation axis")
	}
	output = firstShape.AsStandard()

	// Validate further inputs and accumulate the concatenation axis size.
	for i := 1; i < len(inputs); i++ {
		currentShape := inputs[i]
		if currentShape.IsTuple() || currentShape.DType == dtypes.InvalidDType || currentShape.IsDynamic() {
			return shapes.Invalid(), errors.Errorf("invalid shape %s for input #%d of Concatenate", currentShape, i)
		}
		if currentShape.DType != dtype {
			return shapes.Invalid(), errors.Errorf("mismatched DTypes for Concatenate: input #0 has %s, input #%d has %s",
				dtype, i, currentShape.DType)
		}
		if currentShape.Rank() != rank {
			return shapes.Invalid(), errors.Errorf("mismatched ranks for Concatenate: input #0 has rank %d, input #%d has rank %d",
				rank, i, currentShape.Rank())
		}

		for d := 0; d < rank; d++ {
			if d == axis {
				output.Dimensions[d] += currentShape.Dimensions[d]
			} else if currentShape.Dimensions[d] != output.Dimensions[d] {
				return shapes.Invalid(), errors.Errorf("mismatched dimensions for Concatenate at axis %d (non-concatenation axis): input #0 has %d, input #%d has %d",
					d, output.Dimensions[d], i, currentShape.Dimensions[d])
			}
		}
	}
	return output, nil
}

// Load returns shape, after checking that a value of that shape fits in the buffer at the byte offset.
func Load(buffer, shape shapes.Shape, offset int) (output shapes.Shape, err error) {
	if !buffer.Ok() || buffer.IsTuple() {
		return shapes.Invalid(), errors.Errorf("invalid buffer shape %s for Load", buffer)
	}
	if !shape.Ok() || shape.IsTuple() {
		return shapes.Invalid(), errors.Errorf("Load: invalid loaded shape %s", shape)
	}
	if offset < 0 || offset+shape.Bytes() > buffer.Bytes() {
		return shapes.Invalid(), errors.Errorf("Load(%s at offset %d): out of the bounds of the buffer %s (%d bytes)",
			shape, offset, buffer, buffer.Bytes())
	}
	if size := shape.DType.Size(); size > 0 && offset%size != 0 {
		return shapes.Invalid(), errors.Errorf("Load(%s at offset %d): offset is not aligned to the element size %d", shape, offset, size)
	}
	return shape.Clone(), nil
}

// DequantizeLinear returns the shape of (x - zeroPoint) * scale: the dimensions of x with the dtype of scale.
// scale (and the optional zeroPoint, pass shapes.Invalid() if absent) must be scalars or have the
// dimensions of x; zeroPoint must have the dtype of x.
func DequantizeLinear(x, scale, zeroPoint shapes.Shape) (output shapes.Shape, err error) {
	if x.IsTuple() || !x.Ok() || !isNumber(x.DType) {
		return shapes.Invalid(), errors.Errorf("invalid shape %s for DequantizeLinear", x)
	}
	if scale.IsTuple() || !scale.DType.IsFloat() {
		return shapes.Invalid(), errors.Errorf("DequantizeLinear: scale must be a float, got %s", scale)
	}
	if !scale.IsScalar() && !slices.Equal(scale.Dimensions, x.Dimensions) {
		return shapes.Invalid(), errors.Errorf("DequantizeLinear: scale %s must be a scalar or match the dimensions of %s", scale, x)
	}
	if zeroPoint.Ok() {
		if zeroPoint.DType != x.DType {
			return shapes.Invalid(), errors.Errorf("DequantizeLinear: zero point %s must have the dtype of %s", zeroPoint, x)
		}
		if !zeroPoint.IsScalar() && !slices.Equal(zeroPoint.Dimensions, x.Dimensions) {
			return shapes.Invalid(), errors.Errorf("DequantizeLinear: zero point %s must be a scalar or match the dimensions of %s", zeroPoint, x)
		}
	}
	output = x.AsStandard()
	output.DType = scale.DType
	return output, nil
}

// UnpackInt4 returns the shape of the operand (Uint8 or Int8, each element holding two 4-bit values)
// with the given axis doubled.
func UnpackInt4(operand shapes.Shape, axis int) (output shapes.Shape, err error) {
	if operand.IsTuple() || (operand.DType != dtypes.Uint8 && operand.DType != dtypes.Int8) {
		return shapes.Invalid(), errors.Errorf("UnpackInt4 requires a Uint8 or Int8 operand, got %s", operand)
	}
	axis, err = AdjustAxisToRank(axis, operand.Rank())
	if err != nil {
		return shapes.Invalid(), errors.WithMessagef(err, "UnpackInt4(%s)", operand)
	}
	output = operand.AsStandard()
	output.Dimensions[axis] *= 2
	return output, nil
}

// AdjustAxisToRank returns a positive axis, adjusting negative numbers to the correct rank.
func AdjustAxisToRank(axis, rank int) (int, error) {
	if axis < -rank || axis >= rank {
		return -1, errors.Errorf("axis %d is out of range for the rank %d", axis, rank)
	}
	if axis < 0 {
		axis += rank
	}
	return axis, nil
}
