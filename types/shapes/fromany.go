package shapes

import (
	"reflect"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// FromAnyValue returns the shape of a Go value: a scalar of a supported type (bool, ints,
// floats, complex, float16, bfloat16) or (possibly nested) regular slices of them.
//
// Example:
//
//	shape, _ := shapes.FromAnyValue([][]float64{{0, 0}}) // (Float64)[1 2]
func FromAnyValue(v any) (Shape, error) {
	if v == nil {
		return Invalid(), errors.New("shapes.FromAnyValue(nil): no shape for nil")
	}
	var dims []int
	dtype, err := walkAnyValue(reflect.ValueOf(v), &dims, 0)
	if err != nil {
		return Invalid(), errors.WithMessagef(err, "shapes.FromAnyValue(%T)", v)
	}
	return Make(dtype, dims...), nil
}

// walkAnyValue collects the dimensions of the slices nested in v and checks they are regular.
// depth is the number of slice levels already traversed: dims[:depth] is known at that point.
func walkAnyValue(v reflect.Value, dims *[]int, depth int) (dtypes.DType, error) {
	if v.Kind() != reflect.Slice {
		dtype := dtypes.FromGoType(v.Type())
		if dtype == dtypes.InvalidDType {
			return dtype, errors.Errorf("type %s is not a supported element type", v.Type())
		}
		if depth != len(*dims) {
			return dtype, errors.Errorf("irregular nesting: found scalar at depth %d, expected depth %d", depth, len(*dims))
		}
		return dtype, nil
	}
	if depth == len(*dims) {
		*dims = append(*dims, v.Len())
	} else if depth > len(*dims) || (*dims)[depth] != v.Len() {
		return dtypes.InvalidDType, errors.Errorf("irregular slices: axis %d has length %d, expected %v", depth, v.Len(), *dims)
	}
	if v.Len() == 0 {
		// Inner dimensions can only be inferred from a leaf slice type.
		elem := v.Type().Elem()
		if elem.Kind() == reflect.Slice {
			return dtypes.InvalidDType, errors.Errorf("empty slice of %s at axis %d: inner dimensions are unknown", elem, depth)
		}
		dtype := dtypes.FromGoType(elem)
		if dtype == dtypes.InvalidDType {
			return dtype, errors.Errorf("type %s is not a supported element type", elem)
		}
		return dtype, nil
	}
	var dtype dtypes.DType
	for ii := range v.Len() {
		elemDType, err := walkAnyValue(v.Index(ii), dims, depth+1)
		if err != nil {
			return elemDType, err
		}
		if ii == 0 {
			dtype = elemDType
		}
	}
	return dtype, nil
}
