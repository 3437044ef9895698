package passes

import (
	"github.com/gomlx/tensorgraph"
	"k8s.io/klog/v2"
)

// DeadCodeElimination removes the instructions whose results are not used.
//
// Parameters, the return instruction and the last instruction of a module are always kept, as
// are instructions writing into one of their inputs (destination-passing operations like copy):
// their effect is visible through the storage they write to.
//
// At the program level it also removes the modules no longer reachable from the main module.
type DeadCodeElimination struct{}

var _ tensorgraph.ProgramPass = DeadCodeElimination{}

// Name implements tensorgraph.Pass.
func (DeadCodeElimination) Name() string { return "dead_code_elimination" }

// Apply implements tensorgraph.Pass.
func (DeadCodeElimination) Apply(mc *tensorgraph.ModuleContext) error {
	m := mc.Module()
	instructions := m.Instructions()
	if len(instructions) == 0 {
		return nil
	}
	last := instructions[len(instructions)-1]
	var removed int
	// Backwards, so that the inputs of a removed instruction are visited after it.
	for i := len(instructions) - 1; i >= 0; i-- {
		ins := instructions[i]
		if ins == last || len(ins.Outputs()) > 0 || !isRemovable(ins) {
			continue
		}
		if err := m.RemoveInstruction(ins); err != nil {
			return err
		}
		removed++
	}
	klog.V(1).Infof("dead_code_elimination: removed %d instructions from module %q", removed, m.Name())
	return nil
}

func isRemovable(ins *tensorgraph.Instruction) bool {
	if ins.IsParameter() || ins.IsReturn() {
		return false
	}
	op := ins.Operation()
	if !tensorgraph.IsContextFree(op) && tensorgraph.OutputAlias(op, ins.InputShapes()) >= 0 {
		return false
	}
	return true
}

// ApplyProgram implements tensorgraph.ProgramPass.
func (DeadCodeElimination) ApplyProgram(p *tensorgraph.Program) error {
	removed := p.RemoveUnusedModules()
	if len(removed) > 0 {
		klog.V(1).Infof("dead_code_elimination: removed modules %q from program", removed)
	}
	return nil
}
