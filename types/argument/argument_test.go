package argument

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/tensorgraph/types/shapes"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
)

func TestFromFlat(t *testing.T) {
	arg, err := FromFlat([]float32{1, 2, 3, 4, 5, 6}, 2, 3)
	require.NoError(t, err)
	assert.NoError(t, arg.Shape().Check(dtypes.Float32, 2, 3))
	assert.Equal(t, []float64{1, 2, 3, 4, 5, 6}, arg.Float64s())
	got, err := Flat[float32](arg)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3, 4, 5, 6}, got)

	_, err = Flat[int32](arg)
	assert.Error(t, err)
	_, err = FromFlat([]float32{1, 2, 3}, 2, 2)
	assert.Error(t, err)
}

func TestFromAnyValue(t *testing.T) {
	arg := must.M1(FromAnyValue([][]int32{{1, -2}, {3, 4}}))
	assert.Equal(t, []int32{1, -2, 3, 4}, must.M1(Flat[int32](arg)))

	arg = must.M1(FromAnyValue([]bool{true, false, true}))
	assert.Equal(t, []bool{true, false, true}, must.M1(Flat[bool](arg)))

	arg = must.M1(FromAnyValue([]float16.Float16{float16.Fromfloat32(1.5), float16.Fromfloat32(-2)}))
	assert.Equal(t, []float64{1.5, -2}, arg.Float64s())

	arg = must.M1(FromAnyValue(uint8(200)))
	assert.True(t, arg.Shape().IsScalar())
	assert.Equal(t, uint64(200), arg.Uint64At(0))
}

func TestReshapeSharesStorage(t *testing.T) {
	arg := must.M1(FromFlat([]int64{1, 2, 3, 4}, 2, 2))
	flat, err := arg.Reshape(shapes.Make(dtypes.Int64, 4))
	require.NoError(t, err)
	assert.True(t, SameStorage(arg, flat))
	flat.SetInt64At(3, 40)
	assert.Equal(t, int64(40), arg.Int64At(3))
	assert.NoError(t, arg.Shape().Check(dtypes.Int64, 2, 2), "reshape must not change the original")

	// Reinterpreting as a smaller shape is allowed, a larger one is not.
	_, err = arg.Reshape(shapes.Make(dtypes.Int32, 8))
	assert.NoError(t, err)
	_, err = arg.Reshape(shapes.Make(dtypes.Int64, 5))
	assert.Error(t, err)
}

func TestStridedAccess(t *testing.T) {
	arg := must.M1(FromFlat([]float32{1, 2, 3, 4, 5, 6}, 2, 3))
	transposed := must.M1(shapes.MakeStrided(dtypes.Float32, []int{3, 2}, []int{1, 3}))
	view := must.M1(arg.Reshape(transposed))
	assert.Equal(t, []float64{1, 4, 2, 5, 3, 6}, view.Float64s())

	standard := view.AsStandard()
	assert.False(t, SameStorage(view, standard))
	assert.True(t, standard.Shape().Standard())
	assert.Equal(t, []float32{1, 4, 2, 5, 3, 6}, must.M1(Flat[float32](standard)))
	assert.True(t, view.Equal(standard))

	broadcast := must.M1(shapes.MakeStrided(dtypes.Float32, []int{2, 3}, []int{0, 1}))
	row := must.M1(arg.Reshape(broadcast))
	assert.Equal(t, []float64{1, 2, 3, 1, 2, 3}, row.Float64s())
}

func TestTupleLayout(t *testing.T) {
	shape := shapes.MakeTuple(
		shapes.Make(dtypes.Int8, 3),
		shapes.Make(dtypes.Float64, 2),
		shapes.Make(dtypes.Float32),
	)
	arg := New(shape)
	require.True(t, arg.IsTuple())
	subs := arg.SubObjects()
	require.Len(t, subs, 3)
	for i, sub := range subs {
		assert.True(t, SameStorage(arg, sub), "sub-object #%d", i)
		_, offset := sub.Buffer()
		assert.Zero(t, offset%sub.Shape().DType.Size(), "sub-object #%d misaligned", i)
	}
	subs[1].SetFloat64At(1, 3.5)
	subs[0].SetInt64At(2, -1)
	subs[2].SetFloat64At(0, 7)
	assert.Equal(t, []float64{0, 3.5}, subs[1].Float64s())
	assert.Equal(t, []float64{0, 0, -1}, subs[0].Float64s())
	assert.Equal(t, 7.0, subs[2].Float64At(0))

	clone := arg.Clone()
	assert.True(t, clone.Equal(arg))
	subs[2].SetFloat64At(0, 8)
	assert.False(t, clone.Equal(arg))
}

func TestCopyFromAndZero(t *testing.T) {
	src := must.M1(FromFlat([]float32{1, 2, 3, 4, 5, 6}, 2, 3))
	transposed := must.M1(shapes.MakeStrided(dtypes.Float32, []int{2, 3}, []int{1, 2}))
	dst := New(transposed)
	require.NoError(t, dst.CopyFrom(src))
	assert.Equal(t, []float64{1, 2, 3, 4, 5, 6}, dst.Float64s())
	assert.True(t, dst.Equal(src))

	dst.Zero()
	assert.Equal(t, []float64{0, 0, 0, 0, 0, 0}, dst.Float64s())
	assert.Error(t, dst.CopyFrom(must.M1(FromFlat([]float32{1, 2}, 2))))
}

func TestLiteral(t *testing.T) {
	arg := must.M1(FromFlat([]float32{1, 2, 3, 4}, 2, 2))
	transposed := must.M1(arg.Reshape(must.M1(shapes.MakeStrided(dtypes.Float32, []int{2, 2}, []int{1, 2}))))
	lit, err := NewLiteral(transposed)
	require.NoError(t, err)
	assert.True(t, lit.Shape().Standard())
	assert.Equal(t, []float32{1, 3, 2, 4}, must.M1(Flat[float32](lit.Argument())))

	back, err := LiteralFromValue(lit.ToValue())
	require.NoError(t, err)
	assert.True(t, lit.Equal(back))

	_, err = NewLiteral(Empty())
	assert.Error(t, err)
}

func TestEmptyAndString(t *testing.T) {
	assert.True(t, Empty().IsEmpty())
	assert.Equal(t, "<empty>", Empty().String())
	arg := must.M1(FromFlat([]int32{1, 2, 3, 4}, 2, 2))
	assert.Equal(t, "(Int32)[2 2]: [1 2 3 4]", arg.String())
	assert.Equal(t, "(Bool): [true]", Scalar(true).String())

	v := MakeTuple(arg, Scalar(float32(1))).ToValue()
	back, err := FromValue(v)
	require.NoError(t, err)
	assert.True(t, back.IsTuple())
	assert.True(t, back.SubObjects()[0].Equal(arg))
}
