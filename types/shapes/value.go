package shapes

import (
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/tensorgraph/types/values"
	"github.com/pkg/errors"
)

// ToValue converts the shape to its persisted layout:
//
//	{dtype: <int>, dtype_name: <string>, dims: [...], strides: [...], dynamic: [[min, max], ...]}
//
// or {tuple: [<sub-shapes>]} for tuples. Strides and dynamic are only present when set.
func (s Shape) ToValue() values.Value {
	if s.IsTuple() {
		subs := make([]values.Value, len(s.TupleShapes))
		for i, sub := range s.TupleShapes {
			subs[i] = sub.ToValue()
		}
		return values.Object().With("tuple", values.Array(subs...))
	}
	v := values.Object().
		With("dtype", values.Int(int64(s.DType))).
		With("dtype_name", values.String(s.DType.String())).
		With("dims", values.Ints(s.Dimensions))
	if s.Strides != nil {
		v = v.With("strides", values.Ints(s.Strides))
	}
	if s.Dynamic != nil {
		ranges := make([]values.Value, len(s.Dynamic))
		for i, d := range s.Dynamic {
			ranges[i] = values.Ints([]int{d.Min, d.Max})
		}
		v = v.With("dynamic", values.Array(ranges...))
	}
	return v
}

// FromValue is the inverse of Shape.ToValue.
func FromValue(v values.Value) (Shape, error) {
	if tuple, found := v.Get("tuple"); found {
		subs := make([]Shape, tuple.Len())
		for i, subValue := range tuple.Elements() {
			sub, err := FromValue(subValue)
			if err != nil {
				return Invalid(), errors.WithMessagef(err, "tuple element #%d", i)
			}
			subs[i] = sub
		}
		return Shape{DType: dtypes.InvalidDType, TupleShapes: subs}, nil
	}
	dtypeValue, err := v.MustGet("dtype")
	if err != nil {
		return Invalid(), errors.WithMessage(err, "shapes.FromValue")
	}
	dtypeInt, err := dtypeValue.AsInt()
	if err != nil {
		return Invalid(), errors.WithMessage(err, "shapes.FromValue: dtype")
	}
	dtype := dtypes.DType(dtypeInt)
	if name, found := v.Get("dtype_name"); found {
		if str, _ := name.AsString(); str != "" && str != dtype.String() {
			return Invalid(), errors.Errorf("shapes.FromValue: dtype %d is named %q, but the value says %q", dtypeInt, dtype, str)
		}
	}
	s := Shape{DType: dtype}
	if dims, found := v.Get("dims"); found {
		if s.Dimensions, err = dims.AsInts(); err != nil {
			return Invalid(), errors.WithMessage(err, "shapes.FromValue: dims")
		}
		if len(s.Dimensions) == 0 {
			s.Dimensions = nil
		}
		for axis, dim := range s.Dimensions {
			if dim < 0 {
				return Invalid(), errors.Errorf("shapes.FromValue: negative dimension %d at axis %d", dim, axis)
			}
		}
	}
	if strides, found := v.Get("strides"); found {
		if s.Strides, err = strides.AsInts(); err != nil {
			return Invalid(), errors.WithMessage(err, "shapes.FromValue: strides")
		}
		if len(s.Strides) != len(s.Dimensions) {
			return Invalid(), errors.Errorf("shapes.FromValue: %d strides for %d dimensions", len(s.Strides), len(s.Dimensions))
		}
		for axis, stride := range s.Strides {
			if stride < 0 {
				return Invalid(), errors.Errorf("shapes.FromValue: negative stride %d at axis %d", stride, axis)
			}
		}
	}
	if dynamic, found := v.Get("dynamic"); found {
		s.Dynamic = make([]DynamicDimension, dynamic.Len())
		for i, rangeValue := range dynamic.Elements() {
			minMax, err := rangeValue.AsInts()
			if err != nil || len(minMax) != 2 || minMax[0] < 0 || minMax[1] < minMax[0] {
				return Invalid(), errors.Errorf("shapes.FromValue: invalid dynamic range #%d: %s", i, rangeValue)
			}
			s.Dynamic[i] = DynamicDimension{Min: minMax[0], Max: minMax[1]}
		}
		if len(s.Dynamic) != len(s.Dimensions) {
			return Invalid(), errors.Errorf("shapes.FromValue: %d dynamic ranges for %d dimensions", len(s.Dynamic), len(s.Dimensions))
		}
	}
	return s, nil
}
