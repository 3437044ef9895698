package ops

import (
	"slices"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/tensorgraph"
	"github.com/gomlx/tensorgraph/internal/optypes"
	"github.com/gomlx/tensorgraph/shapeinference"
	"github.com/gomlx/tensorgraph/types/argument"
	"github.com/gomlx/tensorgraph/types/shapes"
	"github.com/gomlx/tensorgraph/types/values"
	"github.com/pkg/errors"
)

// identity returns its first input. The other inputs only order the instruction after them.
type identity struct{}

// Identity returns the "identity" operation: its output is its first input, and the remaining
// inputs are only dependencies.
func Identity() tensorgraph.Operation { return identity{} }

func (identity) Name() string { return IdentityName }

func (identity) ComputeShape(inputs []shapes.Shape, modules []*tensorgraph.Module) (shapes.Shape, error) {
	if len(modules) != 0 {
		return shapes.Invalid(), errors.Errorf("%s takes no module inputs", IdentityName)
	}
	return shapeinference.Identity(inputs)
}

func (identity) Compute(_ shapes.Shape, args []argument.Argument, _ []*tensorgraph.Module, _ tensorgraph.RunFunc) (argument.Argument, error) {
	return args[0], nil
}

func (identity) OutputAlias([]shapes.Shape) int { return 0 }

// reshape is a view of a standard layout input with new dimensions.
type reshape struct {
	dims []int
}

// Reshape returns the "reshape" operation. One of dims can be -1, and it's then inferred.
func Reshape(dims ...int) tensorgraph.Operation { return &reshape{dims: slices.Clone(dims)} }

func (op *reshape) Name() string { return ReshapeName }

func (op *reshape) ComputeShape(inputs []shapes.Shape, modules []*tensorgraph.Module) (shapes.Shape, error) {
	if err := checkArity(optypes.Reshape, inputs, modules, 1); err != nil {
		return shapes.Invalid(), err
	}
	return shapeinference.Reshape(inputs[0], op.dims)
}

func (op *reshape) Compute(output shapes.Shape, args []argument.Argument, _ []*tensorgraph.Module, _ tensorgraph.RunFunc) (argument.Argument, error) {
	return args[0].AsStandard().Reshape(output)
}

func (op *reshape) OutputAlias([]shapes.Shape) int { return 0 }

func (op *reshape) Attributes() values.Value {
	return values.Object().With("dims", values.Ints(op.dims))
}

// transpose permutes the axes of its input, without moving data.
type transpose struct {
	permutation []int
}

// Transpose returns the "transpose" operation: output axis i is the input axis permutation[i].
func Transpose(permutation ...int) tensorgraph.Operation {
	return &transpose{permutation: slices.Clone(permutation)}
}

func (op *transpose) Name() string { return optypes.Transpose.Name() }

func (op *transpose) ComputeShape(inputs []shapes.Shape, modules []*tensorgraph.Module) (shapes.Shape, error) {
	if err := checkArity(optypes.Transpose, inputs, modules, 1); err != nil {
		return shapes.Invalid(), err
	}
	return shapeinference.Transpose(inputs[0], op.permutation)
}

// Compute recomputes the view from the actual layout of the argument, which may differ from the
// one declared by the module.
func (op *transpose) Compute(_ shapes.Shape, args []argument.Argument, _ []*tensorgraph.Module, _ tensorgraph.RunFunc) (argument.Argument, error) {
	view, err := shapeinference.Transpose(args[0].Shape(), op.permutation)
	if err != nil {
		return argument.Empty(), err
	}
	return args[0].Reshape(view)
}

func (op *transpose) OutputAlias([]shapes.Shape) int { return 0 }

func (op *transpose) Attributes() values.Value {
	return values.Object().With("permutation", values.Ints(op.permutation))
}

// multibroadcast repeats axes of dimension 1 using a stride of 0.
type multibroadcast struct {
	dims []int
}

// Multibroadcast returns the "multibroadcast" operation, broadcasting its input to dims.
func Multibroadcast(dims ...int) tensorgraph.Operation {
	return &multibroadcast{dims: slices.Clone(dims)}
}

func (op *multibroadcast) Name() string { return optypes.Multibroadcast.Name() }

func (op *multibroadcast) ComputeShape(inputs []shapes.Shape, modules []*tensorgraph.Module) (shapes.Shape, error) {
	if err := checkArity(optypes.Multibroadcast, inputs, modules, 1); err != nil {
		return shapes.Invalid(), err
	}
	return shapeinference.Multibroadcast(inputs[0], op.dims)
}

func (op *multibroadcast) Compute(_ shapes.Shape, args []argument.Argument, _ []*tensorgraph.Module, _ tensorgraph.RunFunc) (argument.Argument, error) {
	view, err := shapeinference.Multibroadcast(args[0].Shape(), op.dims)
	if err != nil {
		return argument.Empty(), err
	}
	return args[0].Reshape(view)
}

func (op *multibroadcast) OutputAlias([]shapes.Shape) int { return 0 }

func (op *multibroadcast) Attributes() values.Value {
	return values.Object().With("dims", values.Ints(op.dims))
}

// contiguous copies its input to a standard layout.
type contiguous struct{}

// Contiguous returns the "contiguous" operation, which materializes its input in the standard layout.
func Contiguous() tensorgraph.Operation { return contiguous{} }

func (contiguous) Name() string { return ContiguousName }

func (contiguous) ComputeShape(inputs []shapes.Shape, modules []*tensorgraph.Module) (shapes.Shape, error) {
	if err := checkArity(optypes.Contiguous, inputs, modules, 1); err != nil {
		return shapes.Invalid(), err
	}
	return shapeinference.Contiguous(inputs[0])
}

func (contiguous) Compute(output shapes.Shape, args []argument.Argument, _ []*tensorgraph.Module, _ tensorgraph.RunFunc) (argument.Argument, error) {
	out := argument.New(resolveOutput(output, args[0]))
	if err := out.CopyFrom(args[0]); err != nil {
		return argument.Empty(), err
	}
	return out, nil
}

// convert changes the dtype of its input.
type convert struct {
	dtype dtypes.DType
}

// Convert returns the "convert" operation to the given dtype.
func Convert(dtype dtypes.DType) tensorgraph.Operation { return &convert{dtype: dtype} }

func (op *convert) Name() string { return optypes.Convert.Name() }

func (op *convert) ComputeShape(inputs []shapes.Shape, modules []*tensorgraph.Module) (shapes.Shape, error) {
	if err := checkArity(optypes.Convert, inputs, modules, 1); err != nil {
		return shapes.Invalid(), err
	}
	return shapeinference.Convert(inputs[0], op.dtype)
}

func (op *convert) Compute(output shapes.Shape, args []argument.Argument, _ []*tensorgraph.Module, _ tensorgraph.RunFunc) (argument.Argument, error) {
	operand := args[0]
	from := operand.Shape().DType
	if from.IsComplex() || op.dtype.IsComplex() {
		return argument.Empty(), errors.Errorf("convert %s to %s: complex numbers are not supported", from, op.dtype)
	}
	out := argument.New(resolveOutput(output, operand))
	for i := range out.Shape().Size() {
		switch {
		case from.IsFloat() || op.dtype.IsFloat() || op.dtype == dtypes.Bool:
			out.SetFloat64At(i, operand.Float64At(i))
		case from.IsUnsigned():
			out.SetUint64At(i, operand.Uint64At(i))
		default:
			out.SetInt64At(i, operand.Int64At(i))
		}
	}
	return out, nil
}

func (op *convert) Attributes() values.Value {
	return values.Object().With("dtype", values.Int(int64(op.dtype)))
}

func init() {
	register(optypes.Identity, noAttributes(identity{}))
	register(optypes.Contiguous, noAttributes(contiguous{}))
	register(optypes.Reshape, func(attributes values.Value) (tensorgraph.Operation, error) {
		dims, err := intsAttribute(attributes, "dims")
		if err != nil {
			return nil, err
		}
		return Reshape(dims...), nil
	})
	register(optypes.Transpose, func(attributes values.Value) (tensorgraph.Operation, error) {
		permutation, err := intsAttribute(attributes, "permutation")
		if err != nil {
			return nil, err
		}
		return Transpose(permutation...), nil
	})
	register(optypes.Multibroadcast, func(attributes values.Value) (tensorgraph.Operation, error) {
		dims, err := intsAttribute(attributes, "dims")
		if err != nil {
			return nil, err
		}
		return Multibroadcast(dims...), nil
	})
	register(optypes.Convert, func(attributes values.Value) (tensorgraph.Operation, error) {
		dtype, err := dtypeAttribute(attributes, "dtype")
		if err != nil {
			return nil, err
		}
		return Convert(dtype), nil
	})
}
