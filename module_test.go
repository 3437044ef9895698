package tensorgraph

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/tensorgraph/types/argument"
	"github.com/gomlx/tensorgraph/types/shapes"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildAddModule builds: x = param [4], c = literal [4], sum = add(x, c), neg = neg(sum).
func buildAddModule(t *testing.T) (m *Module, x, c, sum, neg *Instruction) {
	t.Helper()
	m = NewModule("test")
	x = must1(m.AddParameter("x", shapes.Make(dtypes.Float32, 4)))
	c = must1(m.AddLiteral(literalOf(t, []float32{1, 2, 3, 4}, 4)))
	sum = must1(m.AddInstruction(testAdd, x, c))
	neg = must1(m.AddInstruction(testNeg{}, sum))
	return
}

func TestInsertInstruction(t *testing.T) {
	m, x, c, sum, neg := buildAddModule(t)
	assert.Equal(t, 4, m.Len())
	assert.Equal(t, []*Instruction{x, c, sum, neg}, m.Instructions())
	assert.Equal(t, []*Instruction{sum}, x.Outputs())
	assert.Equal(t, []*Instruction{x, c}, sum.Inputs())
	assert.Nil(t, m.Validate())
	assert.True(t, x.IsParameter())
	assert.True(t, c.IsLiteral())
	assert.Equal(t, neg, m.Last())

	// Insert before sum, using x: valid.
	mul, err := m.InsertInstruction(sum, testMul, x, x)
	require.NoError(t, err)
	assert.Equal(t, 2, m.Position(mul))
	assert.Equal(t, []*Instruction{sum, mul}, x.Outputs())

	// Insert before c, using sum: sum comes after the insertion point.
	_, err = m.InsertInstruction(c, testNeg{}, sum)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStructural))
	assert.Equal(t, 5, m.Len())

	// Inputs from another module.
	other, _, _, otherSum, _ := buildAddModule(t)
	_, err = m.AddInstruction(testNeg{}, otherSum)
	assert.True(t, errors.Is(err, ErrStructural))
	assert.Len(t, otherSum.Outputs(), 1)
	assert.Nil(t, other.Validate())
}

func TestShapeErrors(t *testing.T) {
	m, x, _, _, _ := buildAddModule(t)
	y := must1(m.AddParameter("y", shapes.Make(dtypes.Float32, 2, 2)))
	assert.Equal(t, 1, m.Position(y), "parameters are added after the existing parameters")
	before := m.Len()
	_, err := m.AddInstruction(testAdd, x, y)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrShape))
	assert.False(t, errors.Is(err, ErrStructural))
	var shapeErr *ShapeError
	require.True(t, errors.As(err, &shapeErr))
	assert.Equal(t, "test_add", shapeErr.Op)
	assert.Contains(t, err.Error(), "(Float32)[2 2]")
	assert.Equal(t, before, m.Len())

	_, err = m.AddParameter("x", shapes.Make(dtypes.Int32))
	assert.True(t, errors.Is(err, ErrStructural))
}

func TestReturn(t *testing.T) {
	m, _, c, sum, neg := buildAddModule(t)
	ret, err := m.AddReturn(neg, c)
	require.NoError(t, err)
	assert.True(t, ret.IsReturn())
	assert.Equal(t, ret, m.Return())
	require.Len(t, m.OutputShapes(), 2)
	assert.True(t, m.OutputShapes()[0].Equal(shapes.Make(dtypes.Float32, 4)))

	_, err = m.AddInstruction(testNeg{}, sum)
	assert.True(t, errors.Is(err, ErrStructural), "cannot add instructions after the return")
	_, err = m.AddReturn(sum)
	assert.Error(t, err)
	// Inserting before the return is fine.
	_, err = m.InsertInstruction(ret, testNeg{}, sum)
	assert.NoError(t, err)
}

func TestReplaceInstructionKeepsHandles(t *testing.T) {
	m, x, c, sum, neg := buildAddModule(t)
	// Replace sum = add(x, c) by sum = mul(c, x): neg still points to the same handle.
	require.NoError(t, m.ReplaceInstruction(sum, testMul, c, x))
	assert.Equal(t, "test_mul", sum.Name())
	assert.Equal(t, []*Instruction{sum}, neg.Inputs())
	assert.Equal(t, []*Instruction{neg}, sum.Outputs())
	assert.Equal(t, []*Instruction{c, x}, sum.Inputs())
	assert.Nil(t, m.Validate())

	// Replace again with a literal: x and c lose their consumer.
	require.NoError(t, m.ReplaceInstruction(sum, LiteralOperation(literalOf(t, []float32{5, 6, 7, 8}, 4))))
	assert.Empty(t, x.Outputs())
	assert.Empty(t, c.Outputs())
	assert.True(t, sum.IsLiteral())
	assert.Equal(t, []*Instruction{sum}, neg.Inputs())
	assert.Nil(t, m.Validate())

	results, err := m.Evaluate(map[string]argument.Argument{"x": must1(argument.FromFlat([]float32{0, 0, 0, 0}, 4))})
	require.NoError(t, err)
	assert.Equal(t, []float32{-5, -6, -7, -8}, float32Values(t, results[0]))

	// Inputs must come before the replaced instruction.
	err = m.ReplaceInstruction(x, testNeg{}, neg)
	assert.True(t, errors.Is(err, ErrStructural))

	// Sub-modules must be set, and can't be the module itself.
	for _, modules := range [][]*Module{{nil}, {m}} {
		err = m.ReplaceInstructionWithModules(neg, testNeg{}, []*Instruction{sum}, modules)
		assert.True(t, errors.Is(err, ErrStructural))
		assert.Empty(t, neg.ModuleInputs())
		assert.Equal(t, []*Instruction{sum}, neg.Inputs())
	}
	assert.Nil(t, m.Validate())
}

func TestReplaceInstructionShapes(t *testing.T) {
	m := NewModule("test")
	x := must1(m.AddParameter("x", shapes.Make(dtypes.Float32, 4)))
	y := must1(m.AddParameter("y", shapes.Make(dtypes.Float32, 4)))
	r := must1(m.AddInstruction(&testReshape{dims: []int{4}}, x))
	neg := must1(m.AddInstruction(testNeg{}, r))
	sum := must1(m.AddInstruction(testAdd, r, y))

	// Reshaping r to [2 2] is rejected by sum: nothing changes.
	err := m.ReplaceInstruction(r, &testReshape{dims: []int{2, 2}}, x)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrShape))
	assert.NoError(t, r.Shape().CheckDims(4))
	assert.NoError(t, neg.Shape().CheckDims(4))
	assert.Equal(t, []int{4}, r.Operation().(*testReshape).dims)

	// Without sum, the new shape propagates to neg.
	require.NoError(t, m.RemoveInstruction(sum))
	require.NoError(t, m.ReplaceInstruction(r, &testReshape{dims: []int{2, 2}}, x))
	assert.NoError(t, r.Shape().CheckDims(2, 2))
	assert.NoError(t, neg.Shape().CheckDims(2, 2))
	assert.Empty(t, y.Outputs())
}

func TestReplaceArgumentAndAllUses(t *testing.T) {
	m, x, c, sum, neg := buildAddModule(t)
	require.NoError(t, m.ReplaceArgument(sum, c, x))
	assert.Equal(t, []*Instruction{x, x}, sum.Inputs())
	assert.Equal(t, []*Instruction{sum}, x.Outputs())
	assert.Empty(t, c.Outputs())

	err := m.ReplaceArgument(sum, c, x)
	assert.True(t, errors.Is(err, ErrStructural), "c is no longer an input of sum")
	err = m.ReplaceArgument(sum, x, neg)
	assert.True(t, errors.Is(err, ErrStructural), "neg comes after sum")
	err = m.ReplaceArgument(sum, nil, x)
	assert.True(t, errors.Is(err, ErrStructural), "nil input to replace")
	err = m.ReplaceArgument(sum, x, nil)
	assert.True(t, errors.Is(err, ErrStructural), "nil replacement")
	assert.Equal(t, []*Instruction{x, x}, sum.Inputs())

	neg2 := must1(m.AddInstruction(testNeg{}, sum))
	require.NoError(t, m.ReplaceAllUses(sum, c))
	assert.Equal(t, []*Instruction{c}, neg.Inputs())
	assert.Equal(t, []*Instruction{c}, neg2.Inputs())
	assert.Empty(t, sum.Outputs())
	assert.ElementsMatch(t, []*Instruction{neg, neg2}, c.Outputs())
	assert.Nil(t, m.Validate())
}

func TestMoveAndRemove(t *testing.T) {
	m, x, c, sum, neg := buildAddModule(t)
	// c can move to the front.
	require.NoError(t, m.MoveInstruction(c, nil))
	assert.Equal(t, []*Instruction{c, x, sum, neg}, m.Instructions())
	// sum can't move before its input x.
	err := m.MoveInstruction(sum, c)
	assert.True(t, errors.Is(err, ErrStructural))
	// x can't move after its consumer sum.
	err = m.MoveInstruction(x, sum)
	assert.True(t, errors.Is(err, ErrStructural))
	err = m.MoveInstructionBefore(neg, sum)
	assert.True(t, errors.Is(err, ErrStructural))
	require.NoError(t, m.MoveInstructionBefore(x, c))
	assert.Equal(t, []*Instruction{x, c, sum, neg}, m.Instructions())
	assert.Nil(t, m.Validate())

	err = m.RemoveInstruction(sum)
	assert.True(t, errors.Is(err, ErrStructural))
	assert.Equal(t, 4, m.Len())
	require.NoError(t, m.RemoveInstruction(neg))
	require.NoError(t, m.RemoveInstruction(sum))
	assert.Nil(t, sum.Module())
	assert.Empty(t, x.Outputs())
	assert.Equal(t, -1, m.Position(sum))
	assert.Nil(t, m.Validate())
}

func TestValidate(t *testing.T) {
	m, _, c, sum, _ := buildAddModule(t)
	// Break the order by hand.
	m.instructions[1], m.instructions[2] = m.instructions[2], m.instructions[1]
	assert.Equal(t, sum, m.Validate())
	m.instructions[1], m.instructions[2] = m.instructions[2], m.instructions[1]
	assert.Nil(t, m.Validate())
	// Inconsistent back-references.
	c.outputs = nil
	assert.Equal(t, sum, m.Validate())
}

func TestCanEvalAndAlias(t *testing.T) {
	m := NewModule("test")
	x := must1(m.AddParameter("x", shapes.Make(dtypes.Float32, 4)))
	a := must1(m.AddLiteral(literalOf(t, []float32{1, 2, 3, 4}, 4)))
	b := must1(m.AddInstruction(&testReshape{dims: []int{2, 2}}, a))
	c := must1(m.AddInstruction(&testReshape{dims: []int{4}}, b))
	d := must1(m.AddInstruction(testAdd, c, x))
	e := must1(m.AddInstruction(testNeg{}, c))

	assert.True(t, a.CanEval())
	assert.True(t, c.CanEval())
	assert.True(t, e.CanEval())
	assert.False(t, x.CanEval())
	assert.False(t, d.CanEval())

	cValue, err := c.Eval()
	require.NoError(t, err)
	aValue, err := a.Eval()
	require.NoError(t, err)
	assert.True(t, cValue.Equal(aValue))
	assert.True(t, argument.SameStorage(cValue, aValue), "reshape is a view")

	dValue, err := d.Eval()
	require.NoError(t, err)
	assert.True(t, dValue.IsEmpty())

	assert.Equal(t, a, GetOutputAlias(c, false))
	assert.Equal(t, e, GetOutputAlias(e, false))
}

func TestWrite(t *testing.T) {
	m, _, _, _, neg := buildAddModule(t)
	must1(m.AddReturn(neg))
	want := `module "test"
  @0 = @param:x -> (Float32)[4]
  @1 = @literal{(Float32)[4]: [1 2 3 4]} -> (Float32)[4]
  @2 = test_add(@0, @1) -> (Float32)[4]
  @3 = test_neg(@2) -> (Float32)[4]
  @4 = @return(@3)
`
	assert.Equal(t, want, m.String())
}
