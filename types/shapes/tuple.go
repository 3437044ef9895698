package shapes

import (
	"sort"

	"github.com/pkg/errors"
)

// Leaves returns the non-tuple shapes of a (possibly nested) tuple, in depth-first order.
// For a non-tuple shape, it returns the shape itself.
func (s Shape) Leaves() []Shape {
	if !s.IsTuple() {
		return []Shape{s}
	}
	var leaves []Shape
	for _, sub := range s.TupleShapes {
		leaves = append(leaves, sub.Leaves()...)
	}
	return leaves
}

// LeafOffsets returns the byte offset of each leaf (see Leaves) when all the leaves of a tuple
// share one buffer of Bytes() bytes.
//
// Leaves are placed ordered by decreasing element size (stable for ties), so every leaf starts
// at an offset aligned to its element size. Offsets are returned in the original leaf order.
func (s Shape) LeafOffsets() []int {
	leaves := s.Leaves()
	order := make([]int, len(leaves))
	for i := range order {
		order[i] = i
	}
	elementSize := func(leaf Shape) int {
		if !leaf.Ok() {
			return 0
		}
		return leaf.DType.Size()
	}
	sort.SliceStable(order, func(a, b int) bool {
		return elementSize(leaves[order[a]]) > elementSize(leaves[order[b]])
	})
	offsets := make([]int, len(leaves))
	var offset int
	for _, leafIdx := range order {
		offsets[leafIdx] = offset
		offset += leaves[leafIdx].Bytes()
	}
	if offset != s.Bytes() {
		panic(errors.Errorf("shapes: leaf offsets of %s add up to %d bytes, but the shape has %d bytes", s, offset, s.Bytes()))
	}
	return offsets
}
