package ops

import (
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/tensorgraph"
	"github.com/gomlx/tensorgraph/internal/optypes"
	"github.com/gomlx/tensorgraph/shapeinference"
	"github.com/gomlx/tensorgraph/types/argument"
	"github.com/gomlx/tensorgraph/types/shapes"
	"github.com/gomlx/tensorgraph/types/values"
	"github.com/pkg/errors"
)

// dequantizeLinear computes (x - zeroPoint) * scale. Inputs are [x, scale] or [x, scale, zeroPoint].
type dequantizeLinear struct{}

// DequantizeLinear returns the "dequantizelinear" operation.
func DequantizeLinear() tensorgraph.Operation { return dequantizeLinear{} }

func (dequantizeLinear) Name() string { return DequantizelinearName }

func (dequantizeLinear) ComputeShape(inputs []shapes.Shape, modules []*tensorgraph.Module) (shapes.Shape, error) {
	if len(modules) != 0 {
		return shapes.Invalid(), errors.Errorf("%s takes no module inputs", DequantizelinearName)
	}
	switch len(inputs) {
	case 2:
		return shapeinference.DequantizeLinear(inputs[0], inputs[1], shapes.Invalid())
	case 3:
		return shapeinference.DequantizeLinear(inputs[0], inputs[1], inputs[2])
	default:
		return shapes.Invalid(), errors.Errorf("%s takes 2 or 3 inputs, got %d", DequantizelinearName, len(inputs))
	}
}

// elementIndex returns the index of the element of arg matching the element i of the output:
// scalars are broadcast.
func elementIndex(arg argument.Argument, i int) int {
	if arg.Shape().IsScalar() {
		return 0
	}
	return i
}

func (dequantizeLinear) Compute(output shapes.Shape, args []argument.Argument, _ []*tensorgraph.Module, _ tensorgraph.RunFunc) (argument.Argument, error) {
	x, scale := args[0], args[1]
	out := argument.New(resolveOutput(output, x))
	for i := range out.Shape().Size() {
		v := x.Float64At(i)
		if len(args) > 2 {
			v -= args[2].Float64At(elementIndex(args[2], i))
		}
		out.SetFloat64At(i, v*scale.Float64At(elementIndex(scale, i)))
	}
	return out, nil
}

// unpackInt4 splits each byte of its input in two 4-bit values along an axis: the low nibble
// first.
type unpackInt4 struct {
	axis int
}

// UnpackInt4 returns the "unpack_int4" operation along axis (negative values count from the end).
func UnpackInt4(axis int) tensorgraph.Operation { return &unpackInt4{axis: axis} }

func (op *unpackInt4) Name() string { return UnpackInt4Name }

func (op *unpackInt4) ComputeShape(inputs []shapes.Shape, modules []*tensorgraph.Module) (shapes.Shape, error) {
	if err := checkArity(optypes.UnpackInt4, inputs, modules, 1); err != nil {
		return shapes.Invalid(), err
	}
	return shapeinference.UnpackInt4(inputs[0], op.axis)
}

func (op *unpackInt4) Compute(output shapes.Shape, args []argument.Argument, _ []*tensorgraph.Module, _ tensorgraph.RunFunc) (argument.Argument, error) {
	packed := args[0]
	axis, err := shapeinference.AdjustAxisToRank(op.axis, output.Rank())
	if err != nil {
		return argument.Empty(), err
	}
	signed := output.DType == dtypes.Int8
	logical := packed.Shape().AsStandard()
	out := argument.New(output)
	for i := range output.Size() {
		multi := output.MultiIndex(i)
		shift := 4 * (multi[axis] % 2)
		multi[axis] /= 2
		nibble := (packed.ElementBytes(logical.Index(multi))[0] >> shift) & 0x0F
		if signed && nibble >= 8 {
			nibble |= 0xF0
		}
		out.ElementBytes(i)[0] = nibble
	}
	return out, nil
}

func (op *unpackInt4) Attributes() values.Value {
	return values.Object().With("axis", values.Int(int64(op.axis)))
}

// undefined produces an absent value, e.g. an optional input that was not given.
type undefined struct{}

// Undefined returns the "undefined" operation.
func Undefined() tensorgraph.Operation { return undefined{} }

func (undefined) Name() string { return tensorgraph.UndefinedOpName }

func (undefined) ComputeShape(inputs []shapes.Shape, modules []*tensorgraph.Module) (shapes.Shape, error) {
	if err := checkArity(optypes.Undefined, inputs, modules, 0); err != nil {
		return shapes.Invalid(), err
	}
	return shapes.MakeTuple(), nil
}

func (undefined) Compute(shapes.Shape, []argument.Argument, []*tensorgraph.Module, tensorgraph.RunFunc) (argument.Argument, error) {
	return argument.Empty(), nil
}

func init() {
	register(optypes.Dequantizelinear, noAttributes(dequantizeLinear{}))
	register(optypes.Undefined, noAttributes(undefined{}))
	register(optypes.UnpackInt4, func(attributes values.Value) (tensorgraph.Operation, error) {
		axis, err := intAttribute(attributes, "axis", -1)
		if err != nil {
			return nil, err
		}
		return UnpackInt4(axis), nil
	})
}
