package argument

import (
	"github.com/gomlx/tensorgraph/types/shapes"
	"github.com/gomlx/tensorgraph/types/values"
	"github.com/pkg/errors"
)

// Literal is an immutable constant stored in a standard layout.
type Literal struct {
	arg Argument
}

// NewLiteral returns a literal holding a standard-layout copy of arg.
func NewLiteral(arg Argument) (Literal, error) {
	if arg.IsTuple() {
		return Literal{}, errors.Errorf("argument.NewLiteral: tuple literals are not supported (%s)", arg.Shape())
	}
	if arg.IsEmpty() {
		return Literal{}, errors.New("argument.NewLiteral: empty argument")
	}
	out := New(arg.Shape().AsStandard())
	if err := out.CopyFrom(arg); err != nil {
		return Literal{}, errors.WithMessage(err, "argument.NewLiteral")
	}
	return Literal{arg: out}, nil
}

// LiteralFromAnyValue creates a literal from a Go scalar or (nested) slices. See FromAnyValue.
func LiteralFromAnyValue(v any) (Literal, error) {
	arg, err := FromAnyValue(v)
	if err != nil {
		return Literal{}, err
	}
	return Literal{arg: arg}, nil
}

// Shape of the literal. Always standard.
func (l Literal) Shape() shapes.Shape {
	return l.arg.Shape()
}

// Argument returns the literal's data. It must not be written to.
func (l Literal) Argument() Argument {
	return l.arg
}

// Equal compares shape and contents bytewise.
func (l Literal) Equal(other Literal) bool {
	return l.arg.Shape().Equal(other.arg.Shape()) && l.arg.Equal(other.arg)
}

// String implements fmt.Stringer.
func (l Literal) String() string {
	return l.arg.String()
}

// ToValue converts the literal to {shape: <shape>, data: <binary>}.
func (l Literal) ToValue() values.Value {
	return l.arg.ToValue()
}

// LiteralFromValue is the inverse of Literal.ToValue.
func LiteralFromValue(v values.Value) (Literal, error) {
	arg, err := FromValue(v)
	if err != nil {
		return Literal{}, err
	}
	return NewLiteral(arg)
}
