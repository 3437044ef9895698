package tensorgraph

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/tensorgraph/types/argument"
	"github.com/gomlx/tensorgraph/types/shapes"
	"github.com/gomlx/tensorgraph/types/values"
	"github.com/pkg/errors"
)

// Operations used by the tests of this package.

type testBinary struct {
	name string
	fn   func(a, b float64) float64
}

func (op *testBinary) Name() string { return op.name }

func (op *testBinary) ComputeShape(inputs []shapes.Shape, _ []*Module) (shapes.Shape, error) {
	if len(inputs) != 2 {
		return shapes.Invalid(), errors.Errorf("%s takes 2 inputs, got %d", op.name, len(inputs))
	}
	if !inputs[0].EqualDimensions(inputs[1]) {
		return shapes.Invalid(), errors.Errorf("%s: mismatched shapes %s and %s", op.name, inputs[0], inputs[1])
	}
	return inputs[0].AsStandard(), nil
}

func (op *testBinary) Compute(output shapes.Shape, args []argument.Argument, _ []*Module, _ RunFunc) (argument.Argument, error) {
	out := argument.New(output)
	for i := range output.Size() {
		out.SetFloat64At(i, op.fn(args[0].Float64At(i), args[1].Float64At(i)))
	}
	return out, nil
}

var (
	testAdd = &testBinary{name: "test_add", fn: func(a, b float64) float64 { return a + b }}
	testMul = &testBinary{name: "test_mul", fn: func(a, b float64) float64 { return a * b }}
)

type testNeg struct{}

func (testNeg) Name() string { return "test_neg" }

func (testNeg) ComputeShape(inputs []shapes.Shape, _ []*Module) (shapes.Shape, error) {
	if len(inputs) != 1 {
		return shapes.Invalid(), errors.Errorf("test_neg takes 1 input, got %d", len(inputs))
	}
	return inputs[0].AsStandard(), nil
}

func (testNeg) Compute(output shapes.Shape, args []argument.Argument, _ []*Module, _ RunFunc) (argument.Argument, error) {
	out := argument.New(output)
	for i := range output.Size() {
		out.SetFloat64At(i, -args[0].Float64At(i))
	}
	return out, nil
}

type testReshape struct {
	dims []int
}

func (op *testReshape) Name() string { return "test_reshape" }

func (op *testReshape) ComputeShape(inputs []shapes.Shape, _ []*Module) (shapes.Shape, error) {
	if len(inputs) != 1 {
		return shapes.Invalid(), errors.Errorf("test_reshape takes 1 input, got %d", len(inputs))
	}
	output := shapes.Make(inputs[0].DType, op.dims...)
	if output.Size() != inputs[0].Size() {
		return shapes.Invalid(), errors.Errorf("test_reshape: cannot reshape %s to %v", inputs[0], op.dims)
	}
	return output, nil
}

func (op *testReshape) Compute(output shapes.Shape, args []argument.Argument, _ []*Module, _ RunFunc) (argument.Argument, error) {
	return args[0].Reshape(output)
}

func (op *testReshape) OutputAlias([]shapes.Shape) int { return 0 }

func (op *testReshape) Attributes() values.Value {
	return values.Object().With("dims", values.Ints(op.dims))
}

// testCall runs its only sub-module with its inputs bound to the sub-module parameters, in order.
type testCall struct{}

func (testCall) Name() string { return "test_call" }

func (testCall) ComputeShape(_ []shapes.Shape, modules []*Module) (shapes.Shape, error) {
	if len(modules) != 1 {
		return shapes.Invalid(), errors.Errorf("test_call takes 1 module, got %d", len(modules))
	}
	outputs := modules[0].OutputShapes()
	if len(outputs) != 1 {
		return shapes.Invalid(), errors.Errorf("test_call: module %q must return one value", modules[0].Name())
	}
	return outputs[0], nil
}

func (testCall) Compute(_ shapes.Shape, args []argument.Argument, modules []*Module, run RunFunc) (argument.Argument, error) {
	params := make(map[string]argument.Argument)
	for i, name := range modules[0].ParameterNames() {
		params[name] = args[i]
	}
	results, err := run(modules[0], params)
	if err != nil {
		return argument.Empty(), err
	}
	return results[0], nil
}

func (testCall) IsContextFree() bool { return false }

func init() {
	RegisterOperation(testAdd.name, func(values.Value) (Operation, error) { return testAdd, nil })
	RegisterOperation(testMul.name, func(values.Value) (Operation, error) { return testMul, nil })
	RegisterOperation("test_neg", func(values.Value) (Operation, error) { return testNeg{}, nil })
	RegisterOperation("test_call", func(values.Value) (Operation, error) { return testCall{}, nil })
	RegisterOperation("test_reshape", func(attributes values.Value) (Operation, error) {
		dimsValue, err := attributes.MustGet("dims")
		if err != nil {
			return nil, err
		}
		dims, err := dimsValue.AsInts()
		if err != nil {
			return nil, err
		}
		return &testReshape{dims: dims}, nil
	})
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}

func must1[T any](value T, err error) T {
	must(err)
	return value
}

func literalOf[T dtypes.Supported](t *testing.T, flat []T, dims ...int) argument.Literal {
	t.Helper()
	arg := must1(argument.FromFlat(flat, dims...))
	return must1(argument.NewLiteral(arg))
}

func float32Values(t *testing.T, arg argument.Argument) []float32 {
	t.Helper()
	return must1(argument.Flat[float32](arg))
}
