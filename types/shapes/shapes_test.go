/*
 *	Copyright 2023 Jan Pfeifer
 *
 *	Licensed under the Apache License, Version 2.0 (the "License");
 *	you may not use this file except in compliance with the License.
 *	You may obtain a copy of the License at
 *
 *	http://www.apache.org/licenses/LICENSE-2.0
 *
 *	Unless required by applicable law or agreed to in writing, software
 *	distributed under the License is distributed on an "AS IS" BASIS,
 *	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *	See the License for the specific language governing permissions and
 *	limitations under the License.
 */

package shapes

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/tensorgraph/types/values"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShape(t *testing.T) {
	invalidShape := Invalid()
	if invalidShape.Ok() {
		t.Error("Invalid().Ok() should be false")
	}

	shape0 := Make(dtypes.Float64)
	if !shape0.Ok() {
		t.Error("shape0.Ok() should be true")
	}
	if !shape0.IsScalar() {
		t.Error("shape0.IsScalar() should be true")
	}
	if shape0.IsTuple() {
		t.Error("shape0.IsTuple() should be false")
	}
	if shape0.Rank() != 0 {
		t.Errorf("shape0.Rank() = %d, want 0", shape0.Rank())
	}
	if len(shape0.Dimensions) != 0 {
		t.Errorf("len(shape0.Dimensions) = %d, want 0", len(shape0.Dimensions))
	}
	if shape0.Size() != 1 {
		t.Errorf("shape0.Size() = %d, want 1", shape0.Size())
	}
	if int(shape0.Memory()) != 8 {
		t.Errorf("shape0.Memory() = %d, want 8", int(shape0.Memory()))
	}

	shape1 := Make(dtypes.Float32, 4, 3, 2)
	if !shape1.Ok() {
		t.Error("shape1.Ok() should be true")
	}
	if shape1.IsScalar() {
		t.Error("shape1.IsScalar() should be false")
	}
	if shape1.IsTuple() {
		t.Error("shape1.IsTuple() should be false")
	}
	if shape1.Rank() != 3 {
		t.Errorf("shape1.Rank() = %d, want 3", shape1.Rank())
	}
	if len(shape1.Dimensions) != 3 {
		t.Errorf("len(shape1.Dimensions) = %d, want 3", len(shape1.Dimensions))
	}
	if shape1.Size() != 4*3*2 {
		t.Errorf("shape1.Size() = %d, want %d", shape1.Size(), 4*3*2)
	}
	if int(shape1.Memory()) != 4*4*3*2 {
		t.Errorf("shape1.Memory() = %d, want %d", int(shape1.Memory()), 4*4*3*2)
	}
}

func panics(t *testing.T, f func()) {
	t.Helper()
	defer func() {
		if r := recover(); r == nil {
			t.Error("expected panic, but code did not panic")
		}
	}()
	f()
}

func notPanics(t *testing.T, f func()) {
	t.Helper()
	defer func() {
		if r := recover(); r != nil {
			t.Errorf("expected no panic, but code panicked: %v", r)
		}
	}()
	f()
}

func TestDim(t *testing.T) {
	shape := Make(dtypes.Float32, 4, 3, 2)
	if d := shape.Dim(0); d != 4 {
		t.Errorf("shape.Dim(0) = %d, want 4", d)
	}
	if d := shape.Dim(1); d != 3 {
		t.Errorf("shape.Dim(1) = %d, want 3", d)
	}
	if d := shape.Dim(2); d != 2 {
		t.Errorf("shape.Dim(2) = %d, want 2", d)
	}
	if d := shape.Dim(-3); d != 4 {
		t.Errorf("shape.Dim(-3) = %d, want 4", d)
	}
	if d := shape.Dim(-2); d != 3 {
		t.Errorf("shape.Dim(-2) = %d, want 3", d)
	}
	if d := shape.Dim(-1); d != 2 {
		t.Errorf("shape.Dim(-1) = %d, want 2", d)
	}
	panics(t, func() { _ = shape.Dim(3) })
	panics(t, func() { _ = shape.Dim(-4) })
}

func TestFromAnyValue(t *testing.T) {
	shape, err := FromAnyValue([]int32{1, 2, 3})
	if err != nil {
		t.Fatalf("FromAnyValue failed: %v", err)
	}
	notPanics(t, func() {
		if err := shape.Check(dtypes.Int32, 3); err != nil {
			panic(err)
		}
	})

	shape, err = FromAnyValue([][][]complex64{{{1, 2, -3}, {3, 4 + 2i, -7 - 1i}}})
	if err != nil {
		t.Fatalf("FromAnyValue failed: %v", err)
	}
	notPanics(t, func() {
		if err := shape.Check(dtypes.Complex64, 1, 2, 3); err != nil {
			panic(err)
		}
	})

	// Irregular shape is not accepted:
	shape, err = FromAnyValue([][]float32{{1, 2, 3}, {4, 5}})
	if err == nil {
		t.Errorf("irregular shape should have returned an error, instead got shape %s", shape)
	}
}

func TestFromAnyValueEdgeCases(t *testing.T) {
	shape, err := FromAnyValue(float32(7))
	require.NoError(t, err)
	assert.True(t, shape.IsScalar())
	assert.Equal(t, dtypes.Float32, shape.DType)

	shape, err = FromAnyValue([]bool{})
	require.NoError(t, err)
	assert.NoError(t, shape.Check(dtypes.Bool, 0))

	_, err = FromAnyValue([][]float32{})
	assert.Error(t, err)
	_, err = FromAnyValue([]string{"a"})
	assert.Error(t, err)
}

func TestStrides(t *testing.T) {
	standard := Make(dtypes.Float32, 2, 3)
	assert.Equal(t, []int{3, 1}, standard.EffectiveStrides())
	assert.True(t, standard.Standard())
	assert.True(t, standard.Packed())
	assert.Equal(t, 6, standard.ElementSpace())

	// Explicit standard strides are normalized away.
	same, err := MakeStrided(dtypes.Float32, []int{2, 3}, []int{3, 1})
	require.NoError(t, err)
	assert.Nil(t, same.Strides)
	assert.True(t, same.Equal(standard))

	transposed, err := MakeStrided(dtypes.Float32, []int{2, 3}, []int{1, 2})
	require.NoError(t, err)
	assert.True(t, transposed.Transposed())
	assert.True(t, transposed.Packed())
	assert.False(t, transposed.Standard())
	assert.False(t, transposed.Equal(standard))
	assert.True(t, transposed.EqualDimensions(standard))
	assert.Equal(t, 2, transposed.StorageIndex(1))
	assert.Equal(t, 1, transposed.StorageIndex(3))
	assert.Equal(t, []int{1, 2}, transposed.MultiIndex(5))

	broadcast, err := MakeStrided(dtypes.Float32, []int{2, 3}, []int{0, 1})
	require.NoError(t, err)
	assert.True(t, broadcast.Broadcasted())
	assert.False(t, broadcast.Packed())
	assert.Equal(t, 3, broadcast.ElementSpace())
	assert.Equal(t, 12, broadcast.Bytes())
	assert.True(t, broadcast.AsStandard().Standard())

	// Padded rows: more storage than elements.
	padded, err := MakeStrided(dtypes.Int8, []int{2, 3}, []int{4, 1})
	require.NoError(t, err)
	assert.Equal(t, 7, padded.ElementSpace())
	assert.False(t, padded.Packed())

	empty := Make(dtypes.Float64, 3, 0)
	assert.Equal(t, 0, empty.Size())
	assert.Equal(t, 0, empty.Bytes())

	_, err = MakeStrided(dtypes.Float32, []int{2, 3}, []int{1})
	assert.Error(t, err)
}

func TestDynamic(t *testing.T) {
	s := MakeDynamic(dtypes.Float32, DynamicDimension{Min: 1, Max: 4}, DynamicDimension{Min: 3, Max: 3})
	assert.True(t, s.IsDynamic())
	assert.Equal(t, []int{4, 3}, s.Dimensions)
	assert.Equal(t, 4*4*3, s.Bytes())
	assert.Equal(t, "(Float32)[{1,4} 3]", s.String())
	assert.False(t, s.Equal(Make(dtypes.Float32, 4, 3)))
	panics(t, func() { _ = MakeDynamic(dtypes.Float32, DynamicDimension{Min: 3, Max: 1}) })
}

func TestString(t *testing.T) {
	assert.Equal(t, "(Float32)[2 3]", Make(dtypes.Float32, 2, 3).String())
	assert.Equal(t, "(Int64)", Make(dtypes.Int64).String())
	assert.Equal(t, "(Invalid)", Invalid().String())
	transposed, err := MakeStrided(dtypes.Float32, []int{2, 3}, []int{1, 2})
	require.NoError(t, err)
	assert.Equal(t, "(Float32)[2 3]{1 2}", transposed.String())
	tuple := MakeTuple(Make(dtypes.Float32, 2), Make(dtypes.Int64))
	assert.Equal(t, "((Float32)[2], (Int64))", tuple.String())
	assert.Equal(t, "()", MakeTuple().String())
}

func TestTupleLeafOffsets(t *testing.T) {
	tuple := MakeTuple(
		Make(dtypes.Float16, 3),
		Make(dtypes.Float32, 2),
		Make(dtypes.Int8, 5),
		Make(dtypes.Float64),
	)
	assert.True(t, tuple.IsTuple())
	assert.True(t, tuple.Ok())
	assert.False(t, tuple.IsScalar())
	assert.Equal(t, 6+8+5+8, tuple.Bytes())

	// Largest elements first: f64 at 0, f32 at 8, f16 at 16, i8 at 22.
	offsets := tuple.LeafOffsets()
	assert.Equal(t, []int{16, 8, 22, 0}, offsets)
	for i, leaf := range tuple.Leaves() {
		assert.Zero(t, offsets[i]%leaf.DType.Size(), "leaf #%d misaligned", i)
	}

	nested := MakeTuple(Make(dtypes.Int32, 2), MakeTuple(Make(dtypes.Float64, 1), Make(dtypes.Uint8)))
	assert.Len(t, nested.Leaves(), 3)
	assert.Equal(t, []int{8, 0, 16}, nested.LeafOffsets())

	assert.Equal(t, []int{0}, Make(dtypes.Float32, 2).LeafOffsets())
}

func TestToValue(t *testing.T) {
	transposed, err := MakeStrided(dtypes.BFloat16, []int{2, 3}, []int{1, 2})
	require.NoError(t, err)
	for _, s := range []Shape{
		Make(dtypes.Float32),
		transposed,
		MakeDynamic(dtypes.Int32, DynamicDimension{Min: 1, Max: 8}),
		MakeTuple(Make(dtypes.Bool, 4), MakeTuple()),
	} {
		got, err := FromValue(s.ToValue())
		require.NoError(t, err, "shape %s", s)
		assert.True(t, s.Equal(got), "shape %s came back as %s", s, got)
	}
}

func TestFromValueInvalid(t *testing.T) {
	base := Make(dtypes.Float32, 2, 3).ToValue()
	for name, v := range map[string]values.Value{
		"negative dimension": base.With("dims", values.Ints([]int{2, -3})),
		"negative stride":    base.With("strides", values.Ints([]int{-1, 1})),
		"strides mismatch":   base.With("strides", values.Ints([]int{1})),
		"inverted range":     base.With("dynamic", values.Array(values.Ints([]int{4, 1}), values.Ints([]int{3, 3}))),
		"negative range":     base.With("dynamic", values.Array(values.Ints([]int{-1, 2}), values.Ints([]int{3, 3}))),
	} {
		_, err := FromValue(v)
		assert.Error(t, err, name)
	}
}
