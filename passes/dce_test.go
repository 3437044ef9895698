package passes

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/tensorgraph"
	"github.com/gomlx/tensorgraph/config"
	"github.com/gomlx/tensorgraph/ops"
	"github.com/gomlx/tensorgraph/types/shapes"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeadCodeElimination(t *testing.T) {
	shape := shapes.Make(dtypes.Float32, 3)
	p := tensorgraph.NewProgram("dce")
	thenModule := must.M1(p.CreateModule("then"))
	x := must.M1(thenModule.AddParameter("x", shape))
	unusedInThen := must.M1(thenModule.AddInstruction(ops.Exp(), x))
	must.M1(thenModule.AddReturn(must.M1(thenModule.AddInstruction(ops.Neg(), x))))
	elseModule := must.M1(p.CreateModule("else"))
	x = must.M1(elseModule.AddParameter("x", shape))
	must.M1(elseModule.AddReturn(x))
	must.M1(p.CreateModule("orphan"))

	m := p.Main()
	cond := must.M1(m.AddParameter("cond", shapes.Make(dtypes.Bool)))
	x = must.M1(m.AddParameter("x", shape))
	unusedParam := must.M1(m.AddParameter("unused", shape))
	negated := must.M1(m.AddInstruction(ops.Neg(), x))
	chained := must.M1(m.AddInstruction(ops.Abs(), negated))
	buffer := must.M1(m.AddInstruction(ops.Allocate(shape)))
	copied := must.M1(m.AddInstruction(ops.Copy(), x, buffer))
	unusedIf := must.M1(m.AddInstructionWithModules(ops.If(), []*tensorgraph.Instruction{cond, x}, []*tensorgraph.Module{thenModule, elseModule}))
	sum := must.M1(m.AddInstruction(ops.Add(), x, x))
	must.M1(m.AddReturn(sum))

	require.NoError(t, tensorgraph.RunPasses(p, []tensorgraph.Pass{DeadCodeElimination{}}, config.Default()))
	for _, ins := range []*tensorgraph.Instruction{negated, chained, unusedIf} {
		assert.Equal(t, -1, m.Position(ins), "%s should have been removed", ins)
	}
	for _, ins := range []*tensorgraph.Instruction{cond, unusedParam, buffer, copied, sum} {
		assert.NotEqual(t, -1, m.Position(ins), "%s should have been kept", ins)
	}
	assert.Nil(t, p.Module("orphan"))
	assert.Nil(t, p.Module("then"), "only used by a removed instruction")
	assert.Equal(t, -1, thenModule.Position(unusedInThen))

	// The last instruction is kept even without a return.
	standalone := tensorgraph.NewModule("standalone")
	y := must.M1(standalone.AddParameter("y", shape))
	must.M1(standalone.AddInstruction(ops.Neg(), y))
	last := must.M1(standalone.AddInstruction(ops.Sqrt(), y))
	runModulePasses(t, standalone, DeadCodeElimination{})
	assert.Equal(t, 2, standalone.Len())
	assert.Same(t, last, standalone.Last())
}
