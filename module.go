package tensorgraph

import (
	"slices"

	"github.com/gomlx/tensorgraph/types/argument"
	"github.com/gomlx/tensorgraph/types/shapes"
	"github.com/pkg/errors"
)

// Module is an ordered list of instructions forming a graph: every input of an instruction
// comes before it in the list.
//
// Mutations that would break the order, or the consistency of the consumer lists, fail with
// ErrStructural before changing anything.
type Module struct {
	program *Program
	name    string

	instructions []*Instruction

	// nextID is the id of the next instruction created.
	nextID int

	// bypass modules are skipped by the pass manager.
	bypass bool
}

// NewModule creates a stand-alone module, not owned by any program.
// Use Program.CreateModule for modules that are part of a program.
func NewModule(name string) *Module {
	return &Module{name: name}
}

// Name of the module.
func (m *Module) Name() string { return m.name }

// Program owning the module, or nil for stand-alone modules.
func (m *Module) Program() *Program { return m.program }

// Bypass returns whether the pass manager skips this module.
func (m *Module) Bypass() bool { return m.bypass }

// SetBypass marks the module to be skipped (or not) by the pass manager. It returns the module.
func (m *Module) SetBypass(bypass bool) *Module {
	m.bypass = bypass
	return m
}

// Len returns the number of instructions.
func (m *Module) Len() int { return len(m.instructions) }

// Instructions returns a snapshot of the instructions, in order.
func (m *Module) Instructions() []*Instruction {
	return slices.Clone(m.instructions)
}

// Position returns the index of ins in the module, or -1 if it is not part of it.
func (m *Module) Position(ins *Instruction) int {
	if ins == nil || ins.module != m {
		return -1
	}
	return slices.Index(m.instructions, ins)
}

// Last returns the last instruction, or nil if the module is empty.
func (m *Module) Last() *Instruction {
	if len(m.instructions) == 0 {
		return nil
	}
	return m.instructions[len(m.instructions)-1]
}

// Return returns the return instruction, or nil if the module has none.
func (m *Module) Return() *Instruction {
	last := m.Last()
	if last != nil && last.IsReturn() {
		return last
	}
	return nil
}

// Parameter returns the parameter instruction with the given name, or nil.
func (m *Module) Parameter(name string) *Instruction {
	for _, ins := range m.instructions {
		if ins.IsParameter() && ins.ParameterName() == name {
			return ins
		}
	}
	return nil
}

// ParameterNames returns the names of the parameters, in declaration order.
func (m *Module) ParameterNames() []string {
	var names []string
	for _, ins := range m.instructions {
		if ins.IsParameter() {
			names = append(names, ins.ParameterName())
		}
	}
	return names
}

// ParameterShapes returns the shapes of the parameters by name.
func (m *Module) ParameterShapes() map[string]shapes.Shape {
	params := make(map[string]shapes.Shape)
	for _, ins := range m.instructions {
		if ins.IsParameter() {
			params[ins.ParameterName()] = ins.shape
		}
	}
	return params
}

// OutputShapes returns the shapes of the values returned by the module: the inputs of the
// return instruction, or the shape of the last instruction if there is no return.
func (m *Module) OutputShapes() []shapes.Shape {
	if ret := m.Return(); ret != nil {
		return ret.InputShapes()
	}
	if last := m.Last(); last != nil {
		return []shapes.Shape{last.shape}
	}
	return nil
}

// SubModules returns all modules used by the instructions of m, recursively, without duplicates.
// A module comes before the modules it uses, and sibling modules keep the order of their first use.
func (m *Module) SubModules() []*Module {
	var postOrder []*Module
	seen := map[*Module]bool{m: true}
	var visit func(mod *Module)
	visit = func(mod *Module) {
		children := mod.directSubModules()
		for i := len(children) - 1; i >= 0; i-- {
			sub := children[i]
			if seen[sub] {
				continue
			}
			seen[sub] = true
			visit(sub)
			postOrder = append(postOrder, sub)
		}
	}
	visit(m)
	slices.Reverse(postOrder)
	return postOrder
}

// directSubModules returns the modules used by the instructions of m, in order of first use.
func (m *Module) directSubModules() []*Module {
	var children []*Module
	for _, ins := range m.instructions {
		for _, sub := range ins.modules {
			if !slices.Contains(children, sub) {
				children = append(children, sub)
			}
		}
	}
	return children
}

// checkInputs verifies that all inputs belong to m and are placed before position pos.
// Pass pos = -1 to skip the position check.
func (m *Module) checkInputs(pos int, inputs []*Instruction) error {
	for i, input := range inputs {
		if input == nil {
			return structuralErrorf("module %q: input #%d is nil", m.name, i)
		}
		if input.module != m {
			return structuralErrorf("module %q: input #%d (%s) belongs to another module or was removed", m.name, i, input.Ref())
		}
		if pos >= 0 {
			inputPos := m.Position(input)
			if inputPos < 0 || inputPos >= pos {
				return structuralErrorf("module %q: input #%d (%s) at position %d is not before position %d",
					m.name, i, input.Ref(), inputPos, pos)
			}
		}
	}
	return nil
}

// checkParameterName verifies that a parameter operation doesn't reuse the name of a
// parameter other than except.
func (m *Module) checkParameterName(op Operation, except *Instruction) error {
	param, ok := op.(*parameterOp)
	if !ok {
		return nil
	}
	if existing := m.Parameter(param.name); existing != nil && existing != except {
		return structuralErrorf("module %q: parameter %q already exists", m.name, param.name)
	}
	return nil
}

// checkModules verifies that the sub-modules taken by an instruction of m are set and are not m itself.
func (m *Module) checkModules(modules []*Module) error {
	for i, sub := range modules {
		if sub == nil || sub == m {
			return structuralErrorf("module %q: invalid module input #%d", m.name, i)
		}
	}
	return nil
}

func (m *Module) insertAt(pos int, op Operation, inputs []*Instruction, modules []*Module) (*Instruction, error) {
	if err := m.checkInputs(pos, inputs); err != nil {
		return nil, err
	}
	if err := m.checkParameterName(op, nil); err != nil {
		return nil, err
	}
	if err := m.checkModules(modules); err != nil {
		return nil, err
	}
	ins := &Instruction{
		module:  m,
		op:      op,
		inputs:  slices.Clone(inputs),
		modules: slices.Clone(modules),
	}
	shape, err := ins.ComputeShapeWith(ins.InputShapes())
	if err != nil {
		return nil, err
	}
	ins.shape = shape
	ins.id = m.nextID
	m.nextID++
	m.instructions = slices.Insert(m.instructions, pos, ins)
	for _, input := range inputs {
		input.addOutput(ins)
	}
	return ins, nil
}

// InsertInstruction inserts a new instruction immediately before the instruction before.
// If before is nil, the instruction is appended at the end.
//
// It fails if an input is not placed before the insertion point, or if the operation rejects
// the shapes of the inputs.
func (m *Module) InsertInstruction(before *Instruction, op Operation, inputs ...*Instruction) (*Instruction, error) {
	return m.InsertInstructionWithModules(before, op, inputs, nil)
}

// InsertInstructionWithModules is like InsertInstruction, for operations taking sub-modules.
func (m *Module) InsertInstructionWithModules(before *Instruction, op Operation, inputs []*Instruction, modules []*Module) (*Instruction, error) {
	pos := len(m.instructions)
	if before != nil {
		pos = m.Position(before)
		if pos < 0 {
			return nil, structuralErrorf("module %q: insertion point %s is not part of the module", m.name, before.Ref())
		}
	} else if m.Return() != nil {
		return nil, structuralErrorf("module %q: cannot add instructions after the return instruction", m.name)
	}
	return m.insertAt(pos, op, inputs, modules)
}

// AddInstruction appends a new instruction. It fails if the module already has a return instruction.
func (m *Module) AddInstruction(op Operation, inputs ...*Instruction) (*Instruction, error) {
	return m.InsertInstructionWithModules(nil, op, inputs, nil)
}

// AddInstructionWithModules appends a new instruction taking sub-modules.
func (m *Module) AddInstructionWithModules(op Operation, inputs []*Instruction, modules []*Module) (*Instruction, error) {
	return m.InsertInstructionWithModules(nil, op, inputs, modules)
}

// AddLiteral appends an instruction holding the constant lit.
func (m *Module) AddLiteral(lit argument.Literal) (*Instruction, error) {
	return m.AddInstruction(LiteralOperation(lit))
}

// AddParameter adds a named parameter after the existing parameters.
// Names must be unique within the module.
func (m *Module) AddParameter(name string, shape shapes.Shape) (*Instruction, error) {
	pos := 0
	for i, ins := range m.instructions {
		if ins.IsParameter() {
			pos = i + 1
		}
	}
	return m.insertAt(pos, ParameterOperation(name, shape), nil, nil)
}

// AddReturn appends the return instruction. Instructions can't be appended after it.
func (m *Module) AddReturn(results ...*Instruction) (*Instruction, error) {
	if m.Return() != nil {
		return nil, structuralErrorf("module %q already has a return instruction", m.name)
	}
	return m.insertAt(len(m.instructions), returnOp{}, results, nil)
}

// edit is a hypothetical change to an instruction.
type edit struct {
	op      Operation
	inputs  []*Instruction
	modules []*Module
}

// simulate computes the shapes of the edited instructions and of every instruction whose shape
// would change as a consequence, without changing the module.
func (m *Module) simulate(edits map[*Instruction]edit) (map[*Instruction]shapes.Shape, error) {
	newShapes := make(map[*Instruction]shapes.Shape)
	for _, ins := range m.instructions {
		e, edited := edits[ins]
		if !edited {
			e = edit{op: ins.op, inputs: ins.inputs, modules: ins.modules}
		}
		affected := edited
		for _, input := range e.inputs {
			if _, changed := newShapes[input]; changed {
				affected = true
				break
			}
		}
		if !affected {
			continue
		}
		inputShapes := make([]shapes.Shape, len(e.inputs))
		for i, input := range e.inputs {
			if s, changed := newShapes[input]; changed {
				inputShapes[i] = s
			} else {
				inputShapes[i] = input.shape
			}
		}
		shape, err := e.op.ComputeShape(inputShapes, e.modules)
		if err != nil {
			return nil, &ShapeError{Op: e.op.Name(), Inputs: inputShapes, Cause: err}
		}
		if !shape.Equal(ins.shape) {
			newShapes[ins] = shape
		}
	}
	return newShapes, nil
}

// apply commits edits and the shapes computed by simulate.
func (m *Module) apply(edits map[*Instruction]edit, newShapes map[*Instruction]shapes.Shape) {
	for ins, e := range edits {
		for _, input := range ins.inputs {
			input.removeOutput(ins)
		}
		ins.op = e.op
		ins.inputs = slices.Clone(e.inputs)
		ins.modules = slices.Clone(e.modules)
		for _, input := range ins.inputs {
			input.addOutput(ins)
		}
	}
	for ins, shape := range newShapes {
		ins.shape = shape
	}
}

// ReplaceInstruction changes the operation and inputs of ins in place.
//
// The handle ins and its consumers are unchanged. If the new shape differs from the old one,
// the shapes of all downstream instructions are recomputed: if any of them rejects the new
// shapes, nothing is changed and an error is returned.
func (m *Module) ReplaceInstruction(ins *Instruction, op Operation, inputs ...*Instruction) error {
	return m.ReplaceInstructionWithModules(ins, op, inputs, nil)
}

// ReplaceInstructionWithModules is like ReplaceInstruction, for operations taking sub-modules.
func (m *Module) ReplaceInstructionWithModules(ins *Instruction, op Operation, inputs []*Instruction, modules []*Module) error {
	pos := m.Position(ins)
	if pos < 0 {
		return structuralErrorf("module %q: replaced instruction is not part of the module", m.name)
	}
	if err := m.checkInputs(pos, inputs); err != nil {
		return err
	}
	if err := m.checkParameterName(op, ins); err != nil {
		return err
	}
	if err := m.checkModules(modules); err != nil {
		return err
	}
	edits := map[*Instruction]edit{ins: {op: op, inputs: inputs, modules: modules}}
	newShapes, err := m.simulate(edits)
	if err != nil {
		return errors.WithMessagef(err, "module %q: replacing %s", m.name, ins.Ref())
	}
	m.apply(edits, newShapes)
	return nil
}

// ReplaceArgument rewires the input edges of user from oldInput to newInput.
// newInput must be placed before user. Downstream shapes are updated as in ReplaceInstruction.
func (m *Module) ReplaceArgument(user, oldInput, newInput *Instruction) error {
	pos := m.Position(user)
	if pos < 0 {
		return structuralErrorf("module %q: instruction is not part of the module", m.name)
	}
	if oldInput == nil {
		return structuralErrorf("module %q: nil input to replace in %s", m.name, user.Ref())
	}
	if !user.usesInput(oldInput) {
		return structuralErrorf("module %q: %s is not an input of %s", m.name, oldInput.Ref(), user.Ref())
	}
	if err := m.checkInputs(pos, []*Instruction{newInput}); err != nil {
		return err
	}
	inputs := slices.Clone(user.inputs)
	for i, input := range inputs {
		if input == oldInput {
			inputs[i] = newInput
		}
	}
	edits := map[*Instruction]edit{user: {op: user.op, inputs: inputs, modules: user.modules}}
	newShapes, err := m.simulate(edits)
	if err != nil {
		return errors.WithMessagef(err, "module %q: replacing input %s of %s by %s", m.name, oldInput.Ref(), user.Ref(), newInput.Ref())
	}
	m.apply(edits, newShapes)
	return nil
}

// ReplaceAllUses makes every consumer of ins use replacement instead.
// replacement must be placed before every consumer of ins.
func (m *Module) ReplaceAllUses(ins, replacement *Instruction) error {
	if m.Position(ins) < 0 {
		return structuralErrorf("module %q: instruction is not part of the module", m.name)
	}
	if ins == replacement {
		return nil
	}
	edits := make(map[*Instruction]edit, len(ins.outputs))
	for _, user := range ins.outputs {
		if err := m.checkInputs(m.Position(user), []*Instruction{replacement}); err != nil {
			return err
		}
		inputs := slices.Clone(user.inputs)
		for i, input := range inputs {
			if input == ins {
				inputs[i] = replacement
			}
		}
		edits[user] = edit{op: user.op, inputs: inputs, modules: user.modules}
	}
	newShapes, err := m.simulate(edits)
	if err != nil {
		return errors.WithMessagef(err, "module %q: replacing uses of %s by %s", m.name, ins.Ref(), replacement.Ref())
	}
	m.apply(edits, newShapes)
	return nil
}

// moveTo moves ins to the gap before the instruction currently at position gap.
func (m *Module) moveTo(ins *Instruction, gap int) error {
	pos := m.Position(ins)
	if pos < 0 {
		return structuralErrorf("module %q: moved instruction is not part of the module", m.name)
	}
	for _, input := range ins.inputs {
		if m.Position(input) >= gap {
			return structuralErrorf("module %q: cannot move %s before its input %s", m.name, ins.Ref(), input.Ref())
		}
	}
	for _, user := range ins.outputs {
		if m.Position(user) < gap {
			return structuralErrorf("module %q: cannot move %s after its consumer %s", m.name, ins.Ref(), user.Ref())
		}
	}
	if gap == pos || gap == pos+1 {
		return nil
	}
	m.instructions = slices.Delete(m.instructions, pos, pos+1)
	if gap > pos {
		gap--
	}
	m.instructions = slices.Insert(m.instructions, gap, ins)
	return nil
}

// MoveInstruction moves ins to immediately after the instruction after, or to the front if after is nil.
// It fails if ins would end up before one of its inputs or after one of its consumers.
func (m *Module) MoveInstruction(ins, after *Instruction) error {
	gap := 0
	if after != nil {
		if after == ins {
			return nil
		}
		afterPos := m.Position(after)
		if afterPos < 0 {
			return structuralErrorf("module %q: move target is not part of the module", m.name)
		}
		gap = afterPos + 1
	}
	return m.moveTo(ins, gap)
}

// MoveInstructionBefore moves ins to immediately before the instruction before.
func (m *Module) MoveInstructionBefore(ins, before *Instruction) error {
	if before == ins {
		return nil
	}
	beforePos := m.Position(before)
	if beforePos < 0 {
		return structuralErrorf("module %q: move target is not part of the module", m.name)
	}
	return m.moveTo(ins, beforePos)
}

// RemoveInstruction removes an instruction without consumers. The handle becomes invalid.
func (m *Module) RemoveInstruction(ins *Instruction) error {
	pos := m.Position(ins)
	if pos < 0 {
		return structuralErrorf("module %q: removed instruction is not part of the module", m.name)
	}
	if len(ins.outputs) > 0 {
		return structuralErrorf("module %q: cannot remove %s, it is used by %d instructions (e.g. %s)",
			m.name, ins.Ref(), len(ins.outputs), ins.outputs[0].Ref())
	}
	for _, input := range ins.inputs {
		input.removeOutput(ins)
	}
	m.instructions = slices.Delete(m.instructions, pos, pos+1)
	ins.module = nil
	return nil
}

// Validate returns the first instruction whose inputs are not all placed before it (or don't
// belong to the module), or whose consumer links are inconsistent. It returns nil for a valid module.
func (m *Module) Validate() *Instruction {
	positions := make(map[*Instruction]int, len(m.instructions))
	for pos, ins := range m.instructions {
		positions[ins] = pos
	}
	for pos, ins := range m.instructions {
		if ins.module != m {
			return ins
		}
		for _, input := range ins.inputs {
			inputPos, found := positions[input]
			if !found || inputPos >= pos || !slices.Contains(input.outputs, ins) {
				return ins
			}
		}
		for _, user := range ins.outputs {
			if _, found := positions[user]; !found || !user.usesInput(ins) {
				return ins
			}
		}
	}
	return nil
}

// Finalize calls Finalizer.Finalize on every operation implementing it.
func (m *Module) Finalize() error {
	for _, ins := range m.instructions {
		if finalizer, ok := ins.op.(Finalizer); ok {
			if err := finalizer.Finalize(ins.shape, ins.InputShapes()); err != nil {
				return errors.WithMessagef(err, "module %q: finalizing %s", m.name, ins)
			}
		}
	}
	return nil
}
