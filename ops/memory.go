package ops

import (
	"github.com/gomlx/tensorgraph"
	"github.com/gomlx/tensorgraph/internal/optypes"
	"github.com/gomlx/tensorgraph/shapeinference"
	"github.com/gomlx/tensorgraph/types/argument"
	"github.com/gomlx/tensorgraph/types/shapes"
	"github.com/gomlx/tensorgraph/types/values"
	"github.com/pkg/errors"
)

// allocate creates a new zero-initialized buffer at every execution.
type allocate struct {
	shape shapes.Shape
}

// Allocate returns the "allocate" operation, creating a buffer of the given shape.
func Allocate(shape shapes.Shape) tensorgraph.Operation { return &allocate{shape: shape.Clone()} }

func (op *allocate) Name() string { return AllocateName }

func (op *allocate) ComputeShape(inputs []shapes.Shape, modules []*tensorgraph.Module) (shapes.Shape, error) {
	if err := checkArity(optypes.Allocate, inputs, modules, 0); err != nil {
		return shapes.Invalid(), err
	}
	return op.shape, nil
}

func (op *allocate) Compute(output shapes.Shape, _ []argument.Argument, _ []*tensorgraph.Module, _ tensorgraph.RunFunc) (argument.Argument, error) {
	return argument.New(output), nil
}

// IsContextFree is false: every execution needs its own buffer.
func (op *allocate) IsContextFree() bool { return false }

func (op *allocate) Attributes() values.Value {
	return values.Object().With("shape", op.shape.ToValue())
}

// load is a view into its input buffer at a byte offset.
type load struct {
	shape  shapes.Shape
	offset int
}

// Load returns the "load" operation: a view of shape starting offset bytes into its input.
func Load(shape shapes.Shape, offset int) tensorgraph.Operation {
	return &load{shape: shape.Clone(), offset: offset}
}

func (op *load) Name() string { return LoadName }

func (op *load) ComputeShape(inputs []shapes.Shape, modules []*tensorgraph.Module) (shapes.Shape, error) {
	if err := checkArity(optypes.Load, inputs, modules, 1); err != nil {
		return shapes.Invalid(), err
	}
	return shapeinference.Load(inputs[0], op.shape, op.offset)
}

func (op *load) Compute(output shapes.Shape, args []argument.Argument, _ []*tensorgraph.Module, _ tensorgraph.RunFunc) (argument.Argument, error) {
	return args[0].View(output, op.offset)
}

func (op *load) OutputAlias([]shapes.Shape) int { return 0 }

func (op *load) Attributes() values.Value {
	return values.Object().
		With("shape", op.shape.ToValue()).
		With("offset", values.Int(int64(op.offset)))
}

// copyOp copies its first input into its second one, and returns the second.
type copyOp struct{}

// Copy returns the "copy" operation, taking inputs [source, destination].
func Copy() tensorgraph.Operation { return copyOp{} }

func (copyOp) Name() string { return CopyName }

func (copyOp) ComputeShape(inputs []shapes.Shape, modules []*tensorgraph.Module) (shapes.Shape, error) {
	if err := checkArity(optypes.Copy, inputs, modules, 2); err != nil {
		return shapes.Invalid(), err
	}
	src, dst := inputs[0], inputs[1]
	if src.IsTuple() || dst.IsTuple() || !src.EqualDimensions(dst) {
		return shapes.Invalid(), errors.Errorf("%s: cannot copy %s into %s", CopyName, src, dst)
	}
	return dst, nil
}

func (copyOp) Compute(_ shapes.Shape, args []argument.Argument, _ []*tensorgraph.Module, _ tensorgraph.RunFunc) (argument.Argument, error) {
	dst := args[1]
	if err := dst.CopyFrom(args[0]); err != nil {
		return argument.Empty(), err
	}
	return dst, nil
}

// IsContextFree is false: the operation writes into its destination input.
func (copyOp) IsContextFree() bool { return false }

func (copyOp) OutputAlias([]shapes.Shape) int { return 1 }

// concat concatenates its inputs along an axis. With destination set, the last input is the
// buffer the result is written to.
type concat struct {
	axis        int
	destination bool
}

// Concat returns the "concat" operation along axis, allocating its output.
func Concat(axis int) tensorgraph.Operation { return &concat{axis: axis} }

// ConcatInto returns the "concat" operation along axis that writes its result into its last
// input.
func ConcatInto(axis int) tensorgraph.Operation { return &concat{axis: axis, destination: true} }

func (op *concat) Name() string { return ConcatName }

// Axis returns the concatenation axis, as given (it may be negative).
func (op *concat) Axis() int { return op.axis }

// Destination returns whether the last input is the output buffer.
func (op *concat) Destination() bool { return op.destination }

func (op *concat) sourceShapes(inputs []shapes.Shape) []shapes.Shape {
	if op.destination {
		return inputs[:len(inputs)-1]
	}
	return inputs
}

func (op *concat) ComputeShape(inputs []shapes.Shape, modules []*tensorgraph.Module) (shapes.Shape, error) {
	if len(modules) != 0 {
		return shapes.Invalid(), errors.Errorf("%s takes no module inputs", ConcatName)
	}
	if op.destination && len(inputs) < 2 {
		return shapes.Invalid(), errors.Errorf("%s into a destination takes at least 2 inputs, got %d", ConcatName, len(inputs))
	}
	output, err := shapeinference.Concatenate(op.sourceShapes(inputs), op.axis)
	if err != nil {
		return shapes.Invalid(), err
	}
	if op.destination {
		dst := inputs[len(inputs)-1]
		if !dst.EqualDimensions(output) {
			return shapes.Invalid(), errors.Errorf("%s: destination %s doesn't match the concatenation %s", ConcatName, dst, output)
		}
		return dst, nil
	}
	return output, nil
}

func (op *concat) Compute(output shapes.Shape, args []argument.Argument, _ []*tensorgraph.Module, _ tensorgraph.RunFunc) (argument.Argument, error) {
	var out argument.Argument
	if op.destination {
		out = args[len(args)-1]
		args = args[:len(args)-1]
	} else {
		out = argument.New(output)
	}
	axis, err := shapeinference.AdjustAxisToRank(op.axis, out.Shape().Rank())
	if err != nil {
		return argument.Empty(), err
	}
	logical := out.Shape().AsStandard()
	axisOffset := 0
	for _, in := range args {
		if argument.SameStorage(in, out) {
			in = in.Clone()
		}
		for i := range in.Shape().Size() {
			multi := in.Shape().MultiIndex(i)
			multi[axis] += axisOffset
			copy(out.ElementBytes(logical.Index(multi)), in.ElementBytes(i))
		}
		axisOffset += in.Shape().Dimensions[axis]
	}
	return out, nil
}

// IsContextFree is false when writing into a destination input.
func (op *concat) IsContextFree() bool { return !op.destination }

func (op *concat) OutputAlias(inputs []shapes.Shape) int {
	if op.destination {
		return len(inputs) - 1
	}
	return -1
}

func (op *concat) Attributes() values.Value {
	return values.Object().
		With("axis", values.Int(int64(op.axis))).
		With("destination", values.Bool(op.destination))
}

func init() {
	register(optypes.Copy, noAttributes(copyOp{}))
	register(optypes.Allocate, func(attributes values.Value) (tensorgraph.Operation, error) {
		shape, err := shapeAttribute(attributes, "shape")
		if err != nil {
			return nil, err
		}
		return Allocate(shape), nil
	})
	register(optypes.Load, func(attributes values.Value) (tensorgraph.Operation, error) {
		shape, err := shapeAttribute(attributes, "shape")
		if err != nil {
			return nil, err
		}
		offset, err := intAttribute(attributes, "offset", 0)
		if err != nil {
			return nil, err
		}
		return Load(shape, offset), nil
	})
	register(optypes.Concat, func(attributes values.Value) (tensorgraph.Operation, error) {
		axis, err := intAttribute(attributes, "axis", 0)
		if err != nil {
			return nil, err
		}
		destination, err := boolAttribute(attributes, "destination")
		if err != nil {
			return nil, err
		}
		return &concat{axis: axis, destination: destination}, nil
	})
}
