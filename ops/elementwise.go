package ops

import (
	"math"

	"github.com/gomlx/tensorgraph"
	"github.com/gomlx/tensorgraph/internal/optypes"
	"github.com/gomlx/tensorgraph/shapeinference"
	"github.com/gomlx/tensorgraph/types/argument"
	"github.com/gomlx/tensorgraph/types/shapes"
	"github.com/pkg/errors"
)

// binaryFuncs implements a binary elementwise operation for each family of dtypes.
type binaryFuncs struct {
	float func(a, b float64) float64
	int   func(a, b int64) (int64, error)
	uint  func(a, b uint64) (uint64, error)
}

var errDivisionByZero = errors.New("integer division by zero")

var binaryOps = map[optypes.OpType]binaryFuncs{
	optypes.Add: {
		float: func(a, b float64) float64 { return a + b },
		int:   func(a, b int64) (int64, error) { return a + b, nil },
		uint:  func(a, b uint64) (uint64, error) { return a + b, nil },
	},
	optypes.Sub: {
		float: func(a, b float64) float64 { return a - b },
		int:   func(a, b int64) (int64, error) { return a - b, nil },
		uint:  func(a, b uint64) (uint64, error) { return a - b, nil },
	},
	optypes.Mul: {
		float: func(a, b float64) float64 { return a * b },
		int:   func(a, b int64) (int64, error) { return a * b, nil },
		uint:  func(a, b uint64) (uint64, error) { return a * b, nil },
	},
	optypes.Div: {
		float: func(a, b float64) float64 { return a / b },
		int: func(a, b int64) (int64, error) {
			if b == 0 {
				return 0, errDivisionByZero
			}
			return a / b, nil
		},
		uint: func(a, b uint64) (uint64, error) {
			if b == 0 {
				return 0, errDivisionByZero
			}
			return a / b, nil
		},
	},
	optypes.Max: {
		float: math.Max,
		int:   func(a, b int64) (int64, error) { return max(a, b), nil },
		uint:  func(a, b uint64) (uint64, error) { return max(a, b), nil },
	},
	optypes.Min: {
		float: math.Min,
		int:   func(a, b int64) (int64, error) { return min(a, b), nil },
		uint:  func(a, b uint64) (uint64, error) { return min(a, b), nil },
	},
}

type binaryOp struct {
	opType optypes.OpType
	fns    binaryFuncs
}

func newBinary(opType optypes.OpType) tensorgraph.Operation {
	return &binaryOp{opType: opType, fns: binaryOps[opType]}
}

// Add returns the elementwise addition operation "add".
func Add() tensorgraph.Operation { return newBinary(optypes.Add) }

// Sub returns the elementwise subtraction operation "sub".
func Sub() tensorgraph.Operation { return newBinary(optypes.Sub) }

// Mul returns the elementwise multiplication operation "mul".
func Mul() tensorgraph.Operation { return newBinary(optypes.Mul) }

// Div returns the elementwise division operation "div".
func Div() tensorgraph.Operation { return newBinary(optypes.Div) }

// Max returns the elementwise maximum operation "max".
func Max() tensorgraph.Operation { return newBinary(optypes.Max) }

// Min returns the elementwise minimum operation "min".
func Min() tensorgraph.Operation { return newBinary(optypes.Min) }

func (op *binaryOp) Name() string { return op.opType.Name() }

func (op *binaryOp) ComputeShape(inputs []shapes.Shape, modules []*tensorgraph.Module) (shapes.Shape, error) {
	if err := checkArity(op.opType, inputs, modules, 2); err != nil {
		return shapes.Invalid(), err
	}
	return shapeinference.BinaryOp(op.opType, inputs[0], inputs[1])
}

func (op *binaryOp) Compute(output shapes.Shape, args []argument.Argument, _ []*tensorgraph.Module, _ tensorgraph.RunFunc) (argument.Argument, error) {
	lhs, rhs := args[0], args[1]
	dtype := output.DType
	if dtype.IsComplex() {
		return argument.Empty(), errors.Errorf("%s: complex numbers are not supported", op.Name())
	}
	if !lhs.Shape().EqualDimensions(rhs.Shape()) {
		return argument.Empty(), errors.Errorf("%s: arguments with different shapes %s and %s", op.Name(), lhs.Shape(), rhs.Shape())
	}
	out := argument.New(resolveOutput(output, lhs))
	for i := range out.Shape().Size() {
		switch {
		case dtype.IsFloat():
			out.SetFloat64At(i, op.fns.float(lhs.Float64At(i), rhs.Float64At(i)))
		case dtype.IsUnsigned():
			v, err := op.fns.uint(lhs.Uint64At(i), rhs.Uint64At(i))
			if err != nil {
				return argument.Empty(), errors.WithMessagef(err, "%s element #%d", op.Name(), i)
			}
			out.SetUint64At(i, v)
		default:
			v, err := op.fns.int(lhs.Int64At(i), rhs.Int64At(i))
			if err != nil {
				return argument.Empty(), errors.WithMessagef(err, "%s element #%d", op.Name(), i)
			}
			out.SetInt64At(i, v)
		}
	}
	return out, nil
}

// unaryFuncs implements a unary elementwise operation. Missing functions mean the dtype family is
// rejected by the shape rule.
type unaryFuncs struct {
	float func(float64) float64
	int   func(int64) int64
	uint  func(uint64) uint64
}

var unaryOps = map[optypes.OpType]unaryFuncs{
	optypes.Neg: {
		float: func(a float64) float64 { return -a },
		int:   func(a int64) int64 { return -a },
	},
	optypes.Abs: {
		float: math.Abs,
		int: func(a int64) int64 {
			if a < 0 {
				return -a
			}
			return a
		},
		uint: func(a uint64) uint64 { return a },
	},
	optypes.Sqrt: {float: math.Sqrt},
	optypes.Exp:  {float: math.Exp},
}

type unaryOp struct {
	opType optypes.OpType
	fns    unaryFuncs
}

func newUnary(opType optypes.OpType) tensorgraph.Operation {
	return &unaryOp{opType: opType, fns: unaryOps[opType]}
}

// Neg returns the elementwise negation "neg".
func Neg() tensorgraph.Operation { return newUnary(optypes.Neg) }

// Abs returns the elementwise absolute value "abs".
func Abs() tensorgraph.Operation { return newUnary(optypes.Abs) }

// Sqrt returns the elementwise square root "sqrt".
func Sqrt() tensorgraph.Operation { return newUnary(optypes.Sqrt) }

// Exp returns the elementwise exponential "exp".
func Exp() tensorgraph.Operation { return newUnary(optypes.Exp) }

func (op *unaryOp) Name() string { return op.opType.Name() }

func (op *unaryOp) ComputeShape(inputs []shapes.Shape, modules []*tensorgraph.Module) (shapes.Shape, error) {
	if err := checkArity(op.opType, inputs, modules, 1); err != nil {
		return shapes.Invalid(), err
	}
	return shapeinference.UnaryOp(op.opType, inputs[0])
}

func (op *unaryOp) Compute(output shapes.Shape, args []argument.Argument, _ []*tensorgraph.Module, _ tensorgraph.RunFunc) (argument.Argument, error) {
	operand := args[0]
	dtype := output.DType
	out := argument.New(resolveOutput(output, operand))
	for i := range out.Shape().Size() {
		switch {
		case dtype.IsFloat() && op.fns.float != nil:
			out.SetFloat64At(i, op.fns.float(operand.Float64At(i)))
		case dtype.IsUnsigned() && op.fns.uint != nil:
			out.SetUint64At(i, op.fns.uint(operand.Uint64At(i)))
		case dtype.IsInt() && !dtype.IsUnsigned() && op.fns.int != nil:
			out.SetInt64At(i, op.fns.int(operand.Int64At(i)))
		default:
			return argument.Empty(), errors.Errorf("%s: dtype %s is not supported", op.Name(), dtype)
		}
	}
	return out, nil
}

func init() {
	for opType := range binaryOps {
		register(opType, noAttributes(newBinary(opType)))
	}
	for opType := range unaryOps {
		register(opType, noAttributes(newUnary(opType)))
	}
}
