package passes

import (
	"slices"

	"github.com/gomlx/tensorgraph"
	"github.com/gomlx/tensorgraph/internal/parallel"
	"github.com/gomlx/tensorgraph/ops"
	"github.com/gomlx/tensorgraph/types/argument"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"k8s.io/klog/v2"
)

// EliminateContiguous removes the materializations of values that consumers can use in any
// layout.
//
// For each use of a contiguous instruction, the consumer is rewired to use the contiguous input
// directly, if SpeculateShapes accepts the new layout. Otherwise, if the contiguous input can be
// evaluated, the contiguous instruction is replaced by a literal.
type EliminateContiguous struct {
	// OpName of the materializing operation. Defaults to ops.ContiguousName.
	OpName string

	// Workers evaluating the folded literals in parallel.
	Workers int
}

// Name implements tensorgraph.Pass.
func (EliminateContiguous) Name() string { return "eliminate_contiguous" }

func (pass EliminateContiguous) opName() string {
	if pass.OpName == "" {
		return ops.ContiguousName
	}
	return pass.OpName
}

// Apply implements tensorgraph.Pass.
func (pass EliminateContiguous) Apply(mc *tensorgraph.ModuleContext) error {
	m := mc.Module()
	opName := pass.opName()
	isContiguous := func(ins *tensorgraph.Instruction) bool { return ins.Name() == opName }

	var (
		toFold   []*tensorgraph.Instruction
		bypassed int
	)
	for _, ins := range m.Instructions() {
		if ins.IsReturn() || !slices.ContainsFunc(ins.Inputs(), isContiguous) {
			continue
		}
		for _, arg := range slices.Clone(ins.Inputs()) {
			if !isContiguous(arg) || !slices.Contains(ins.Inputs(), arg) {
				continue
			}
			prev := arg.Inputs()[0]
			inputShapes := ins.InputShapes()
			for i, input := range ins.Inputs() {
				if input == arg {
					inputShapes[i] = prev.Shape()
				}
			}
			if _, ok := SpeculateShapes(ins, inputShapes); ok {
				if err := m.ReplaceArgument(ins, arg, prev); err != nil {
					return err
				}
				bypassed++
			} else if prev.CanEval() && !slices.Contains(toFold, arg) {
				toFold = append(toFold, arg)
			}
		}
	}

	values := make([]argument.Argument, len(toFold))
	err := parallel.For(len(toFold), pass.Workers, func(i int) error {
		prev := toFold[i].Inputs()[0]
		value, err := prev.Eval()
		if err != nil {
			return errors.WithMessagef(err, "folding %s", toFold[i].Ref())
		}
		values[i] = value
		return nil
	})
	for _, evalErr := range multierr.Errors(err) {
		klog.Warningf("eliminate_contiguous: module %q: %v", m.Name(), evalErr)
	}
	var folded int
	for i, ins := range toFold {
		if values[i].IsEmpty() {
			continue
		}
		lit, err := argument.NewLiteral(values[i])
		if err != nil {
			return errors.WithMessagef(err, "module %q: folding %s", m.Name(), ins.Ref())
		}
		if err := m.ReplaceInstruction(ins, tensorgraph.LiteralOperation(lit)); err != nil {
			return err
		}
		folded++
	}
	klog.V(1).Infof("eliminate_contiguous: module %q: bypassed %d, folded %d", m.Name(), bypassed, folded)
	return nil
}
