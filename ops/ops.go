// Package ops implements the built-in operator library: views (identity, reshape, transpose,
// multibroadcast, load), layout and type changes (contiguous, convert, concat), elementwise
// arithmetic, memory (allocate, copy), quantization (dequantizelinear, unpack_int4) and the
// control-flow operators taking modules as inputs (select_module, if, loop).
//
// All operators are registered with tensorgraph.RegisterOperation when the package is imported,
// so programs using them can be loaded.
//
// Compute implementations are reference implementations: they work element by element on the
// host, and are used for constant folding and by tensorgraph.Module.Evaluate.
package ops

import (
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/tensorgraph"
	"github.com/gomlx/tensorgraph/internal/optypes"
	"github.com/gomlx/tensorgraph/types/argument"
	"github.com/gomlx/tensorgraph/types/shapes"
	"github.com/gomlx/tensorgraph/types/values"
	"github.com/pkg/errors"
)

// Operation names used by passes to recognize built-in operations.
var (
	IdentityName         = optypes.Identity.Name()
	ReshapeName          = optypes.Reshape.Name()
	TransposeName        = optypes.Transpose.Name()
	MultibroadcastName   = optypes.Multibroadcast.Name()
	ContiguousName       = optypes.Contiguous.Name()
	ConcatName           = optypes.Concat.Name()
	AllocateName         = optypes.Allocate.Name()
	LoadName             = optypes.Load.Name()
	CopyName             = optypes.Copy.Name()
	DequantizelinearName = optypes.Dequantizelinear.Name()
	UnpackInt4Name       = optypes.UnpackInt4.Name()
)

func register(opType optypes.OpType, factory tensorgraph.OperationFactory) {
	tensorgraph.RegisterOperation(opType.Name(), factory)
}

// checkArity verifies the number of inputs, and that the operation takes no modules.
func checkArity(opType optypes.OpType, inputs []shapes.Shape, modules []*tensorgraph.Module, numInputs int) error {
	if len(inputs) != numInputs {
		return errors.Errorf("%s takes %d inputs, got %d", opType.Name(), numInputs, len(inputs))
	}
	if len(modules) != 0 {
		return errors.Errorf("%s takes no module inputs, got %d", opType.Name(), len(modules))
	}
	return nil
}

// resolveOutput returns the concrete output shape: dynamic shapes take the dimensions of arg.
func resolveOutput(output shapes.Shape, arg argument.Argument) shapes.Shape {
	if !output.IsDynamic() {
		return output
	}
	return shapes.Make(output.DType, arg.Shape().Dimensions...)
}

func intsAttribute(attributes values.Value, key string) ([]int, error) {
	v, err := attributes.MustGet(key)
	if err != nil {
		return nil, err
	}
	return v.AsInts()
}

func intAttribute(attributes values.Value, key string, defaultValue int) (int, error) {
	v, found := attributes.Get(key)
	if !found || v.IsNull() {
		return defaultValue, nil
	}
	n, err := v.AsInt()
	if err != nil {
		return 0, errors.WithMessagef(err, "attribute %q", key)
	}
	return int(n), nil
}

func boolAttribute(attributes values.Value, key string) (bool, error) {
	v, found := attributes.Get(key)
	if !found || v.IsNull() {
		return false, nil
	}
	b, err := v.AsBool()
	if err != nil {
		return false, errors.WithMessagef(err, "attribute %q", key)
	}
	return b, nil
}

func shapeAttribute(attributes values.Value, key string) (shapes.Shape, error) {
	v, err := attributes.MustGet(key)
	if err != nil {
		return shapes.Invalid(), err
	}
	s, err := shapes.FromValue(v)
	if err != nil {
		return shapes.Invalid(), errors.WithMessagef(err, "attribute %q", key)
	}
	return s, nil
}

func dtypeAttribute(attributes values.Value, key string) (dtypes.DType, error) {
	n, err := intAttribute(attributes, key, int(dtypes.InvalidDType))
	if err != nil {
		return dtypes.InvalidDType, err
	}
	dtype := dtypes.DType(n)
	if dtype == dtypes.InvalidDType || dtype.Size() <= 0 {
		return dtypes.InvalidDType, errors.Errorf("attribute %q: invalid dtype %d", key, n)
	}
	return dtype, nil
}

// noAttributes adapts a constructor of an operation without attributes to an OperationFactory.
func noAttributes(op tensorgraph.Operation) tensorgraph.OperationFactory {
	return func(values.Value) (tensorgraph.Operation, error) { return op, nil }
}
