package passes

import (
	"strings"

	"github.com/gomlx/tensorgraph"
	"github.com/gomlx/tensorgraph/internal/parallel"
	"github.com/gomlx/tensorgraph/internal/utils"
	"github.com/gomlx/tensorgraph/ops"
	"github.com/gomlx/tensorgraph/types/argument"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"k8s.io/klog/v2"
)

// PropagateConstant replaces the instructions whose value can be computed at compile time
// by literals.
//
// Only the frontier of the constant sub-graphs is folded: the constant instructions used by
// non-constant ones (and the last instruction, if constant). The rest of the constant sub-graph
// is left unused, for DeadCodeElimination to remove.
//
// Instructions whose evaluation fails are left in place.
type PropagateConstant struct {
	// SkipOps lists operation names that are never folded.
	SkipOps []string

	// Workers evaluating the constants in parallel. If <= 0 they are evaluated sequentially.
	Workers int

	// Trace logs each folded instruction with the constant instructions it is computed from.
	Trace bool
}

// Name implements tensorgraph.Pass.
func (PropagateConstant) Name() string { return "propagate_constant" }

// Apply implements tensorgraph.Pass.
func (pass PropagateConstant) Apply(mc *tensorgraph.ModuleContext) error {
	m := mc.Module()
	skipOps := utils.SetWith(pass.SkipOps...)
	evalCache := make(tensorgraph.EvalCache)
	isConst := func(ins *tensorgraph.Instruction) bool {
		return !skipOps.Has(ins.Name()) && evalCache.CanEval(ins) && !skipPropagate(ins)
	}

	// Frontier, in order of appearance.
	var frontier []*tensorgraph.Instruction
	marked := utils.MakeSet[*tensorgraph.Instruction]()
	mark := func(ins *tensorgraph.Instruction) {
		if !marked.Has(ins) {
			marked.Insert(ins)
			frontier = append(frontier, ins)
		}
	}
	instructions := m.Instructions()
	for pos, ins := range instructions {
		isLast := pos == len(instructions)-1
		if isConst(ins) {
			if isLast && !ins.IsLiteral() {
				mark(ins)
			}
			continue
		}
		for _, input := range ins.Inputs() {
			if !input.IsLiteral() && isConst(input) {
				mark(input)
			}
		}
	}
	if len(frontier) == 0 {
		return nil
	}

	// Evaluations are independent: each task only writes its own result.
	results := make([]argument.Argument, len(frontier))
	err := parallel.For(len(frontier), pass.Workers, func(i int) error {
		result, err := frontier[i].Eval()
		if err != nil {
			return errors.WithMessagef(err, "folding %s", frontier[i].Ref())
		}
		results[i] = result
		return nil
	})
	for _, evalErr := range multierr.Errors(err) {
		klog.Warningf("propagate_constant: module %q: %v", m.Name(), evalErr)
	}

	var folded int
	for i, ins := range frontier {
		if results[i].IsEmpty() {
			continue
		}
		if pass.Trace {
			traceFolding(ins)
		}
		lit, err := argument.NewLiteral(results[i])
		if err != nil {
			return errors.WithMessagef(err, "module %q: folding %s", m.Name(), ins.Ref())
		}
		if err := m.ReplaceInstruction(ins, tensorgraph.LiteralOperation(lit)); err != nil {
			return err
		}
		folded++
	}
	klog.V(1).Infof("propagate_constant: folded %d instructions of module %q", folded, m.Name())
	return nil
}

// skipPropagate returns whether folding ins would be wasteful: its value is cheaper to keep
// computing than to store.
func skipPropagate(ins *tensorgraph.Instruction) bool {
	switch ins.Name() {
	case ops.ContiguousName, ops.DequantizelinearName, ops.ReshapeName:
		return skipPropagate(ins.Inputs()[0])
	case ops.UnpackInt4Name:
		return true
	}
	if ins.IsUndefined() {
		return true
	}
	shape := ins.Shape()
	if !shape.IsTuple() && !shape.Packed() && shape.Size() > shape.ElementSpace() {
		// E.g.: broadcast values.
		return true
	}
	if alias := tensorgraph.GetOutputAlias(ins, true); alias != ins {
		return skipPropagate(alias)
	}
	return false
}

// traceFolding logs ins and the constant instructions it is computed from.
func traceFolding(ins *tensorgraph.Instruction) {
	m := ins.Module()
	instructions := m.Instructions()[:m.Position(ins)+1]
	cone := utils.SetWith(ins)
	for i := len(instructions) - 1; i >= 0; i-- {
		if cone.Has(instructions[i]) {
			cone.Insert(instructions[i].Inputs()...)
		}
	}
	var sources []*tensorgraph.Instruction
	for _, candidate := range instructions {
		if cone.Has(candidate) {
			sources = append(sources, candidate)
		}
	}
	var sb strings.Builder
	if err := tensorgraph.WriteInstructions(&sb, sources); err != nil {
		klog.Warningf("propagate_constant: failed to trace %s: %v", ins.Ref(), err)
		return
	}
	klog.Infof("propagate_constant: folding %s, computed from:\n%s", ins.Ref(), sb.String())
}
