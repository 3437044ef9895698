package passes

import (
	"slices"

	"github.com/gomlx/tensorgraph"
	"github.com/gomlx/tensorgraph/ops"
	"github.com/gomlx/tensorgraph/shapeinference"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// concatOperation is implemented by the concatenation operation.
type concatOperation interface {
	Axis() int
	Destination() bool
}

// EliminateConcat removes the copies made by concatenations writing into a destination buffer.
//
// If each concatenated value is written into its own allocation, and the slices of the
// concatenation along the axis are contiguous in memory (axis 0, or all leading dimensions
// equal to 1), the allocations are replaced by views into the destination buffer: the values
// are then written in place, and the concatenation becomes an identity of the buffer.
type EliminateConcat struct{}

// Name implements tensorgraph.Pass.
func (EliminateConcat) Name() string { return "eliminate_concat" }

// Apply implements tensorgraph.Pass.
func (EliminateConcat) Apply(mc *tensorgraph.ModuleContext) error {
	m := mc.Module()
	var fused int
	for _, ins := range m.Instructions() {
		allocations, ok := fusableConcat(ins)
		if !ok {
			continue
		}
		inputs := ins.Inputs()
		super := inputs[len(inputs)-1]
		sorted := slices.Clone(allocations)
		slices.SortFunc(sorted, func(a, b *tensorgraph.Instruction) int { return m.Position(a) - m.Position(b) })
		if err := m.MoveInstructionBefore(super, sorted[0]); err != nil {
			return errors.WithMessagef(err, "module %q: fusing allocations of %s", m.Name(), ins.Ref())
		}
		offset := 0
		for _, alloc := range allocations {
			shape := alloc.Shape()
			if err := m.ReplaceInstruction(alloc, ops.Load(shape, offset), super); err != nil {
				return err
			}
			offset += shape.Bytes()
		}
		args := append([]*tensorgraph.Instruction{super}, inputs[:len(inputs)-1]...)
		if err := m.ReplaceInstruction(ins, ops.Identity(), args...); err != nil {
			return err
		}
		fused++
	}
	klog.V(1).Infof("eliminate_concat: fused %d concatenations of module %q", fused, m.Name())
	return nil
}

// fusableConcat returns the allocations the inputs of ins are written into, if ins is a
// concatenation whose allocations can be fused.
func fusableConcat(ins *tensorgraph.Instruction) ([]*tensorgraph.Instruction, bool) {
	if ins.Name() != ops.ConcatName {
		return nil, false
	}
	concat, ok := ins.Operation().(concatOperation)
	if !ok || !concat.Destination() {
		return nil, false
	}
	inputs := ins.Inputs()
	if len(inputs) < 2 {
		return nil, false
	}
	super := inputs[len(inputs)-1]
	if super.Name() != ops.AllocateName || !super.Shape().Standard() {
		return nil, false
	}
	dims := ins.Shape().Dimensions
	axis, err := shapeinference.AdjustAxisToRank(concat.Axis(), len(dims))
	if err != nil {
		return nil, false
	}
	for _, dim := range dims[:axis] {
		if dim != 1 {
			return nil, false
		}
	}

	sources := inputs[:len(inputs)-1]
	allocations := make([]*tensorgraph.Instruction, len(sources))
	for i, source := range sources {
		if len(source.Outputs()) != 1 || tensorgraph.IsContextFree(source.Operation()) {
			return nil, false
		}
		alloc := tensorgraph.GetOutputAlias(source, true)
		if alloc == source || alloc.Name() != ops.AllocateName || slices.Contains(allocations[:i], alloc) {
			return nil, false
		}
		if !source.Shape().Standard() || alloc.Shape().Bytes() != source.Shape().Bytes() {
			return nil, false
		}
		allocations[i] = alloc
	}
	return allocations, true
}
