package tensorgraph

import (
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/gomlx/tensorgraph/types/argument"
	"github.com/pkg/errors"
	"golang.org/x/exp/maps"
)

// Program owns named modules, one of them named "main".
type Program struct {
	name    string
	modules map[string]*Module

	// context is set by backends, and opaque to the program.
	context any
}

// NewProgram creates a program with an empty "main" module.
func NewProgram(name string) *Program {
	p := &Program{
		name:    name,
		modules: make(map[string]*Module),
	}
	p.modules[MainModuleName] = &Module{program: p, name: MainModuleName}
	return p
}

// Name of the program.
func (p *Program) Name() string { return p.name }

// Main returns the "main" module.
func (p *Program) Main() *Module {
	return p.modules[MainModuleName]
}

// Module returns the module with the given name, or nil.
func (p *Program) Module(name string) *Module {
	return p.modules[name]
}

// CreateModule creates a new empty module. Names must be unique.
func (p *Program) CreateModule(name string) (*Module, error) {
	if name == "" {
		return nil, errors.New("Program.CreateModule: empty module name")
	}
	if _, found := p.modules[name]; found {
		return nil, errors.Errorf("Program.CreateModule: module %q already exists", name)
	}
	m := &Module{program: p, name: name}
	p.modules[name] = m
	return m, nil
}

// RenameModule renames a module. The main module can't be renamed.
func (p *Program) RenameModule(oldName, newName string) error {
	m, found := p.modules[oldName]
	if !found {
		return errors.Errorf("Program.RenameModule: module %q not found", oldName)
	}
	if oldName == MainModuleName {
		return errors.New("Program.RenameModule: the main module can't be renamed")
	}
	if _, found := p.modules[newName]; found || newName == "" {
		return errors.Errorf("Program.RenameModule: invalid or existing new name %q", newName)
	}
	delete(p.modules, oldName)
	m.name = newName
	p.modules[newName] = m
	return nil
}

// users returns the instructions (of any module) using m as a module input.
func (p *Program) users(m *Module) []*Instruction {
	var users []*Instruction
	for _, mod := range p.Modules() {
		for _, ins := range mod.instructions {
			if slices.Contains(ins.modules, m) {
				users = append(users, ins)
			}
		}
	}
	return users
}

// RemoveModule removes a module. It fails for the main module and for modules still used by
// some instruction.
func (p *Program) RemoveModule(name string) error {
	m, found := p.modules[name]
	if !found {
		return errors.Errorf("Program.RemoveModule: module %q not found", name)
	}
	if name == MainModuleName {
		return structuralErrorf("Program.RemoveModule: the main module can't be removed")
	}
	if users := p.users(m); len(users) > 0 {
		return structuralErrorf("Program.RemoveModule: module %q is used by %s in module %q",
			name, users[0].Ref(), users[0].module.name)
	}
	delete(p.modules, name)
	m.program = nil
	return nil
}

// RemoveUnusedModules removes the modules not reachable from main, and returns their names.
func (p *Program) RemoveUnusedModules() []string {
	reachable := make(map[*Module]bool)
	reachable[p.Main()] = true
	for _, sub := range p.Main().SubModules() {
		reachable[sub] = true
	}
	var removed []string
	names := maps.Keys(p.modules)
	slices.Sort(names)
	for _, name := range names {
		m := p.modules[name]
		if !reachable[m] {
			delete(p.modules, name)
			m.program = nil
			removed = append(removed, name)
		}
	}
	return removed
}

// Modules returns all modules: main first, then the others sorted by name.
func (p *Program) Modules() []*Module {
	modules := make([]*Module, 0, len(p.modules))
	modules = append(modules, p.Main())
	names := maps.Keys(p.modules)
	slices.Sort(names)
	for _, name := range names {
		if name != MainModuleName {
			modules = append(modules, p.modules[name])
		}
	}
	return modules
}

// ModuleTree returns, for each module, the modules its instructions use directly, without
// duplicates, in order of first use. Modules using no other modules are not listed.
func (p *Program) ModuleTree() map[*Module][]*Module {
	tree := make(map[*Module][]*Module)
	for _, m := range p.Modules() {
		if children := m.directSubModules(); len(children) > 0 {
			tree[m] = children
		}
	}
	return tree
}

// Parents inverts a module tree: it returns, for each module, the modules using it.
func Parents(tree map[*Module][]*Module) map[*Module][]*Module {
	parents := make(map[*Module][]*Module)
	// Sort the parents for a deterministic order.
	keys := maps.Keys(tree)
	slices.SortFunc(keys, func(a, b *Module) int { return strings.Compare(a.name, b.name) })
	for _, parent := range keys {
		for _, child := range tree[parent] {
			parents[child] = append(parents[child], parent)
		}
	}
	return parents
}

// Eval runs the main module with the reference evaluator. See Module.Evaluate.
func (p *Program) Eval(params map[string]argument.Argument) ([]argument.Argument, error) {
	return p.Main().Evaluate(params)
}

// Finalize finalizes all modules. See Module.Finalize.
func (p *Program) Finalize() error {
	for _, m := range p.Modules() {
		if err := m.Finalize(); err != nil {
			return err
		}
	}
	return nil
}

// SetContext registers an object (opaque to the program) used by a backend at evaluation time.
func (p *Program) SetContext(context any) {
	p.context = context
}

// Context returns the object registered with SetContext.
func (p *Program) Context() any {
	return p.context
}

// Write the listing of all modules, main first.
func (p *Program) Write(writer io.Writer) error {
	if _, err := fmt.Fprintf(writer, "program %q\n", p.name); err != nil {
		return err
	}
	for i, m := range p.Modules() {
		if i > 0 {
			if _, err := io.WriteString(writer, "\n"); err != nil {
				return err
			}
		}
		if err := m.Write(writer); err != nil {
			return err
		}
	}
	return nil
}

// String implements fmt.Stringer, returning the program listing.
func (p *Program) String() string {
	var sb strings.Builder
	_ = p.Write(&sb)
	return sb.String()
}
