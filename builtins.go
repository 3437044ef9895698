package tensorgraph

import (
	"github.com/gomlx/tensorgraph/types/argument"
	"github.com/gomlx/tensorgraph/types/shapes"
	"github.com/gomlx/tensorgraph/types/values"
	"github.com/pkg/errors"
)

// Names of the built-in operations.
const (
	LiteralOpName   = "@literal"
	ParameterOpName = "@param"
	ReturnOpName    = "@return"
)

// literalOp holds a constant.
type literalOp struct {
	lit argument.Literal
}

// LiteralOperation returns the operation of an instruction holding the constant lit.
func LiteralOperation(lit argument.Literal) Operation {
	return &literalOp{lit: lit}
}

func (op *literalOp) Name() string { return LiteralOpName }

func (op *literalOp) ComputeShape(inputs []shapes.Shape, modules []*Module) (shapes.Shape, error) {
	if len(inputs) != 0 || len(modules) != 0 {
		return shapes.Invalid(), errors.Errorf("%s takes no inputs, got %d inputs and %d modules", LiteralOpName, len(inputs), len(modules))
	}
	return op.lit.Shape(), nil
}

func (op *literalOp) Compute(_ shapes.Shape, _ []argument.Argument, _ []*Module, _ RunFunc) (argument.Argument, error) {
	return op.lit.Argument(), nil
}

func (op *literalOp) IsContextFree() bool { return true }

func (op *literalOp) Attributes() values.Value {
	return op.lit.ToValue()
}

// parameterOp is a named input of a module.
type parameterOp struct {
	name  string
	shape shapes.Shape
}

// ParameterOperation returns the operation of a parameter instruction.
func ParameterOperation(name string, shape shapes.Shape) Operation {
	return &parameterOp{name: name, shape: shape}
}

func (op *parameterOp) Name() string { return ParameterOpName }

func (op *parameterOp) ComputeShape(inputs []shapes.Shape, modules []*Module) (shapes.Shape, error) {
	if len(inputs) != 0 || len(modules) != 0 {
		return shapes.Invalid(), errors.Errorf("%s %q takes no inputs", ParameterOpName, op.name)
	}
	return op.shape, nil
}

func (op *parameterOp) IsContextFree() bool { return false }

func (op *parameterOp) Attributes() values.Value {
	return values.Object().
		With("parameter", values.String(op.name)).
		With("shape", op.shape.ToValue())
}

// returnOp marks the outputs of a module. Its shape is the tuple of its inputs' shapes.
type returnOp struct{}

func (returnOp) Name() string { return ReturnOpName }

func (returnOp) ComputeShape(inputs []shapes.Shape, _ []*Module) (shapes.Shape, error) {
	return shapes.MakeTuple(inputs...), nil
}

func (returnOp) IsContextFree() bool { return false }

func init() {
	RegisterOperation(LiteralOpName, func(attributes values.Value) (Operation, error) {
		lit, err := argument.LiteralFromValue(attributes)
		if err != nil {
			return nil, err
		}
		return LiteralOperation(lit), nil
	})
	RegisterOperation(ParameterOpName, func(attributes values.Value) (Operation, error) {
		nameValue, err := attributes.MustGet("parameter")
		if err != nil {
			return nil, err
		}
		name, err := nameValue.AsString()
		if err != nil {
			return nil, err
		}
		shapeValue, err := attributes.MustGet("shape")
		if err != nil {
			return nil, err
		}
		shape, err := shapes.FromValue(shapeValue)
		if err != nil {
			return nil, err
		}
		return ParameterOperation(name, shape), nil
	})
	RegisterOperation(ReturnOpName, func(values.Value) (Operation, error) {
		return returnOp{}, nil
	})
}
