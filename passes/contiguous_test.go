package passes

import (
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

func TestEliminateContiguous(t *testing.T) {
	m := tensorgraph.NewModule("main")
	x := must.M1(m.AddParameter("x", shapes.Make(dtypes.Float32, 2, 3)))
	y := must.M1(m.AddParameter("y", shapes.Make(dtypes.Float32, 3, 2)))
	transposed := must.M1(m.AddInstruction(ops.Transpose(1, 0), x))
	materialized := must.M1(m.AddInstruction(ops.Contiguous(), transposed))

	// neg accepts any layout, and the add consuming it produces a standard layout either way.
	negated := must.M1(m.AddInstruction(ops.Neg(), materialized))
	sum := must.M1(m.AddInstruction(ops.Add(), negated, y))

	// reshape requires a standard layout.
	reshaped := must.M1(m.AddInstruction(ops.Reshape(6), materialized))

	// Same, but on a constant: the contiguous is folded instead.
	constant := must.M1(m.AddLiteral(f32Literal([]float32{0, 1, 2, 3, 4, 5}, 2, 3)))
	constantMaterialized := must.M1(m.AddInstruction(ops.Contiguous(), must.M1(m.AddInstruction(ops.Transpose(1, 0), constant))))
	constantReshaped := must.M1(m.AddInstruction(ops.Reshape(6), constantMaterialized))
	total := must.M1(m.AddInstruction(ops.Add(), reshaped, constantReshaped))
	must.M1(m.AddReturn(sum, total, materialized))

	params := map[string]argument.Argument{
		"x": f32([]float32{0, 1, 2, 3, 4, 5}, 2, 3),
		"y": f32([]float32{1, 1, 1, 1, 1, 1}, 3, 2),
	}
	results := must.M1(m.Evaluate(params))
	want := make([][]float32, len(results))
	for i, result := range results {
		want[i] = flat[float32](t, result)
	}

	speculative, ok := SpeculateShapes(negated, []shapes.Shape{transposed.Shape()})
	require.True(t, ok)
	assert.True(t, speculative[negated].Transposed())
	assert.True(t, speculative[sum].Standard())

	runModulePasses(t, m, EliminateContiguous{Workers: 2})
	assert.Same(t, transposed, negated.Inputs()[0])
	assert.Same(t, materialized, reshaped.Inputs()[0])
	assert.Same(t, materialized, m.Return().Inputs()[2])
	require.True(t, constantMaterialized.IsLiteral())
	assert.Equal(t, []float32{0, 3, 1, 4, 2, 5}, flat[float32](t, must.M1(constantMaterialized.Eval())))

	// Shapes after the rewrite are the speculated ones.
	for ins, shape := range speculative {
		assert.True(t, shape.Equal(ins.Shape()), "%s: speculated %s", ins, shape)
	}

	results = must.M1(m.Evaluate(params))
	for i, result := range results {
		assert.Equal(t, want[i], flat[float32](t, result), "result #%d", i)
	}
}

func TestSpeculateShapes(t *testing.T) {
	m := tensorgraph.NewModule("main")
	x := must.M1(m.AddParameter("x", shapes.Make(dtypes.Float32, 2, 3)))
	transposed := must.M1(m.AddInstruction(ops.Transpose(1, 0), x))
	materialized := must.M1(m.AddInstruction(ops.Contiguous(), transposed))
	negated := must.M1(m.AddInstruction(ops.Neg(), materialized))

	// Unchanged shapes are accepted.
	speculative, ok := SpeculateShapes(negated, negated.InputShapes())
	require.True(t, ok)
	assert.Len(t, speculative, 1)

	// The shape of a module output can't change.
	_, ok = SpeculateShapes(negated, []shapes.Shape{transposed.Shape()})
	assert.False(t, ok)
	must.M1(m.AddReturn(negated))
	_, ok = SpeculateShapes(negated, []shapes.Shape{transposed.Shape()})
	assert.False(t, ok)

	// Rejected input shapes.
	_, ok = SpeculateShapes(negated, []shapes.Shape{shapes.Make(dtypes.Uint8, 3, 2)})
	assert.False(t, ok)

	runModulePasses(t, m, EliminateContiguous{})
	assert.Same(t, materialized, negated.Inputs()[0])
}

func TestSpeculateShapesDiamonds(t *testing.T) {
	m := tensorgraph.NewModule("main")
	x := must.M1(m.AddParameter("x", shapes.Make(dtypes.Float32, 2, 3)))
	y := must.M1(m.AddParameter("y", shapes.Make(dtypes.Float32, 3, 2)))
	transposed := must.M1(m.AddInstruction(ops.Transpose(1, 0), x))
	materialized := must.M1(m.AddInstruction(ops.Contiguous(), transposed))
	negated := must.M1(m.AddInstruction(ops.Neg(), materialized))

	// Each diamond doubles the number of paths from negated to the output.
	const numDiamonds = 64
	h := negated
	for range numDiamonds {
		lhs := must.M1(m.AddInstruction(ops.Neg(), h))
		rhs := must.M1(m.AddInstruction(ops.Neg(), h))
		h = must.M1(m.AddInstruction(ops.Add(), lhs, rhs))
	}
	out := must.M1(m.AddInstruction(ops.Add(), h, y))
	must.M1(m.AddReturn(out))

	speculative, ok := SpeculateShapes(negated, []shapes.Shape{transposed.Shape()})
	require.True(t, ok)
	assert.Len(t, speculative, 3*numDiamonds+2)
	assert.True(t, speculative[h].Transposed())
	assert.True(t, speculative[out].Standard())

	params := map[string]argument.Argument{
		"x": f32([]float32{0, 1, 2, 3, 4, 5}, 2, 3),
		"y": f32([]float32{0, 0, 0, 0, 0, 0}, 3, 2),
	}
	want := flat[float32](t, must.M1(m.Evaluate(params))[0])
	runModulePasses(t, m, EliminateContiguous{})
	assert.Same(t, transposed, negated.Inputs()[0])
	assert.Equal(t, want, flat[float32](t, must.M1(m.Evaluate(params))[0]))
}
