package passes

import (
	"fmt"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/tensorgraph"
	"github.com/gomlx/tensorgraph/ops"
	"github.com/gomlx/tensorgraph/types/argument"
	"github.com/gomlx/tensorgraph/types/shapes"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildConcat returns a module concatenating along axis its parameters, each first copied
// into its own allocation.
func buildConcat(t *testing.T, axis int, inputShapes ...shapes.Shape) *tensorgraph.Module {
	t.Helper()
	m := tensorgraph.NewModule("concat")
	var (
		written      []*tensorgraph.Instruction
		outputShape  shapes.Shape
		concatShapes []shapes.Shape
	)
	for i, shape := range inputShapes {
		x := must.M1(m.AddParameter(fmt.Sprintf("x%d", i), shape))
		buffer := must.M1(m.AddInstruction(ops.Allocate(shape)))
		written = append(written, must.M1(m.AddInstruction(ops.Copy(), x, buffer)))
		concatShapes = append(concatShapes, shape)
	}
	outputShape = must.M1(ops.Concat(axis).ComputeShape(concatShapes, nil))
	output := must.M1(m.AddInstruction(ops.Allocate(outputShape)))
	concatenated := must.M1(m.AddInstruction(ops.ConcatInto(axis), append(written, output)...))
	must.M1(m.AddReturn(must.M1(m.AddInstruction(ops.Add(), concatenated, concatenated))))
	return m
}

func concatParams(inputShapes ...shapes.Shape) map[string]argument.Argument {
	params := make(map[string]argument.Argument, len(inputShapes))
	next := float32(1)
	for i, shape := range inputShapes {
		values := make([]float32, shape.Size())
		for j := range values {
			values[j] = next
			next++
		}
		params[fmt.Sprintf("x%d", i)] = f32(values, shape.Dimensions...)
	}
	return params
}

func TestEliminateConcat(t *testing.T) {
	inputShapes := []shapes.Shape{
		shapes.Make(dtypes.Float32, 1, 3),
		shapes.Make(dtypes.Float32, 2, 3),
		shapes.Make(dtypes.Float32, 1, 3),
	}
	params := concatParams(inputShapes...)
	unfused := buildConcat(t, 0, inputShapes...)
	want := must.M1(unfused.Evaluate(params))

	m := buildConcat(t, 0, inputShapes...)
	runModulePasses(t, m, EliminateConcat{}, DeadCodeElimination{})
	assert.Equal(t, 0, countOps(m, ops.ConcatName))
	assert.Equal(t, 1, countOps(m, ops.IdentityName))
	require.Equal(t, 1, countOps(m, ops.AllocateName))
	require.Equal(t, 3, countOps(m, ops.LoadName))

	var (
		super   *tensorgraph.Instruction
		offsets []int64
	)
	for _, ins := range m.Instructions() {
		switch ins.Name() {
		case ops.AllocateName:
			super = ins
			assert.NoError(t, ins.Shape().CheckDims(4, 3))
		case ops.LoadName:
			require.NotNil(t, super, "the allocation must be placed before its views")
			assert.Same(t, super, ins.Inputs()[0])
			offset := must.M1(ins.Operation().(tensorgraph.Attributed).Attributes().MustGet("offset"))
			offsets = append(offsets, must.M1(offset.AsInt()))
		}
	}
	assert.Equal(t, []int64{0, 12, 36}, offsets)

	got := must.M1(m.Evaluate(params))
	require.Len(t, got, 1)
	assert.Equal(t, want[0].Bytes(), got[0].Bytes())
	assert.Equal(t, []float32{2, 4, 6, 8, 10, 12, 14, 16, 18, 20, 22, 24}, flat[float32](t, got[0]))
}

func TestEliminateConcatLeadingOnes(t *testing.T) {
	inputShapes := []shapes.Shape{shapes.Make(dtypes.Float32, 1, 2, 2), shapes.Make(dtypes.Float32, 1, 1, 2)}
	params := concatParams(inputShapes...)
	want := must.M1(buildConcat(t, 1, inputShapes...).Evaluate(params))
	m := buildConcat(t, 1, inputShapes...)
	runModulePasses(t, m, EliminateConcat{})
	assert.Equal(t, 0, countOps(m, ops.ConcatName))
	assert.Equal(t, want[0].Bytes(), must.M1(m.Evaluate(params))[0].Bytes())
}

func TestEliminateConcatNotFused(t *testing.T) {
	// Slices along axis 1 are not contiguous in memory.
	m := buildConcat(t, 1, shapes.Make(dtypes.Float32, 2, 1), shapes.Make(dtypes.Float32, 2, 2))
	runModulePasses(t, m, EliminateConcat{})
	assert.Equal(t, 1, countOps(m, ops.ConcatName))
	assert.Equal(t, 3, countOps(m, ops.AllocateName))

	// Values not written into an allocation.
	m = tensorgraph.NewModule("concat")
	x := must.M1(m.AddParameter("x", shapes.Make(dtypes.Float32, 2)))
	output := must.M1(m.AddInstruction(ops.Allocate(shapes.Make(dtypes.Float32, 4))))
	must.M1(m.AddInstruction(ops.ConcatInto(0), x, x, output))
	runModulePasses(t, m, EliminateConcat{})
	assert.Equal(t, 1, countOps(m, ops.ConcatName))

	// Concatenations allocating their own output.
	m = tensorgraph.NewModule("concat")
	x = must.M1(m.AddParameter("x", shapes.Make(dtypes.Float32, 2)))
	buffer := must.M1(m.AddInstruction(ops.Allocate(shapes.Make(dtypes.Float32, 2))))
	must.M1(m.AddInstruction(ops.Concat(0), x, must.M1(m.AddInstruction(ops.Copy(), x, buffer))))
	runModulePasses(t, m, EliminateConcat{})
	assert.Equal(t, 1, countOps(m, ops.ConcatName))
}
