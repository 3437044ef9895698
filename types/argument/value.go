package argument

import (
	"github.com/gomlx/tensorgraph/types/shapes"
	"github.com/gomlx/tensorgraph/types/values"
	"github.com/pkg/errors"
)

// ToValue converts the argument to {shape: <shape>, data: <binary>}, with the data in
// standard layout. Tuples use {shape: <shape>, elements: [...]} and the empty argument is null.
func (a Argument) ToValue() values.Value {
	if a.IsEmpty() {
		return values.Null()
	}
	if a.IsTuple() {
		v := values.Object().With("shape", a.shape.ToValue())
		elements := make([]values.Value, len(a.subs))
		for i, sub := range a.subs {
			elements[i] = sub.ToValue()
		}
		return v.With("elements", values.Array(elements...))
	}
	standard := a.AsStandard()
	data := make([]byte, standard.shape.Bytes())
	copy(data, standard.Bytes())
	return values.Object().
		With("shape", standard.shape.AsStandard().ToValue()).
		With("data", values.Binary(data))
}

// FromValue is the inverse of Argument.ToValue. The returned argument owns a copy of the data.
func FromValue(v values.Value) (Argument, error) {
	if v.IsNull() {
		return Empty(), nil
	}
	shapeValue, err := v.MustGet("shape")
	if err != nil {
		return Argument{}, errors.WithMessage(err, "argument.FromValue")
	}
	shape, err := shapes.FromValue(shapeValue)
	if err != nil {
		return Argument{}, errors.WithMessage(err, "argument.FromValue")
	}
	if shape.IsTuple() {
		elementsValue, err := v.MustGet("elements")
		if err != nil {
			return Argument{}, errors.WithMessage(err, "argument.FromValue")
		}
		elements := make([]Argument, elementsValue.Len())
		for i, elemValue := range elementsValue.Elements() {
			if elements[i], err = FromValue(elemValue); err != nil {
				return Argument{}, errors.WithMessagef(err, "tuple element #%d", i)
			}
		}
		return MakeTuple(elements...), nil
	}
	dataValue, err := v.MustGet("data")
	if err != nil {
		return Argument{}, errors.WithMessage(err, "argument.FromValue")
	}
	data, err := dataValue.AsBinary()
	if err != nil {
		return Argument{}, errors.WithMessage(err, "argument.FromValue")
	}
	standard := shape.AsStandard()
	if len(data) != standard.Bytes() {
		return Argument{}, errors.Errorf("argument.FromValue: shape %s needs %d bytes, got %d", shape, standard.Bytes(), len(data))
	}
	owned := make([]byte, len(data))
	copy(owned, data)
	return Argument{shape: standard, buf: &Buffer{data: owned}}, nil
}
