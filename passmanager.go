package tensorgraph

import (
	"time"

	"github.com/gomlx/tensorgraph/config"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Pass transforms a module in place.
type Pass interface {
	// Name of the pass, used in logs and to disable it (see config.Options.DisabledPasses).
	Name() string

	// Apply the pass to the module mc.Module().
	Apply(mc *ModuleContext) error
}

// ProgramPass is implemented by passes that also transform the program as a whole. ApplyProgram
// is called once, after Apply was called on every module.
type ProgramPass interface {
	ApplyProgram(p *Program) error
}

// ModuleContext is given to Pass.Apply: the module being transformed and its surroundings.
type ModuleContext struct {
	module  *Module
	program *Program
	root    *Module
	parents map[*Module][]*Module
}

// Module being transformed.
func (mc *ModuleContext) Module() *Module { return mc.module }

// Program owning the module, or nil for stand-alone modules.
func (mc *ModuleContext) Program() *Program { return mc.program }

// RootModule is the root of the module tree: the main module, or the module itself if it's stand-alone.
func (mc *ModuleContext) RootModule() *Module { return mc.root }

// CommonParent returns the module using the current module: nil if none, and the root module
// if more than one module uses it.
func (mc *ModuleContext) CommonParent() *Module {
	parents := mc.parents[mc.module]
	switch len(parents) {
	case 0:
		return nil
	case 1:
		return parents[0]
	default:
		return mc.root
	}
}

// CreateModule creates a new module in the program.
func (mc *ModuleContext) CreateModule(name string) (*Module, error) {
	if mc.program == nil {
		return nil, errors.Errorf("cannot create module %q: module %q is not part of a program", name, mc.module.name)
	}
	return mc.program.CreateModule(name)
}

// RenameModule renames a module of the program.
func (mc *ModuleContext) RenameModule(oldName, newName string) error {
	if mc.program == nil {
		return errors.Errorf("cannot rename module %q: module %q is not part of a program", oldName, mc.module.name)
	}
	return mc.program.RenameModule(oldName, newName)
}

// RunPasses applies the passes, in order, to the program.
//
// Each pass is applied to the main module and all its sub-modules, users after the modules they
// use, each module once. Bypass modules are skipped. After each module is transformed, it is
// validated (unless built with the "release" tag or opts.SkipValidation is set), and an
// *InvalidProgramError is returned if it is not valid.
func RunPasses(p *Program, passes []Pass, opts config.Options) error {
	for _, pass := range passes {
		if opts.IsPassDisabled(pass.Name()) {
			klog.V(1).Infof("pass %q disabled", pass.Name())
			continue
		}
		parents := Parents(p.ModuleTree())
		root := p.Main()
		order := append([]*Module{root}, root.SubModules()...)
		visited := make(map[*Module]bool, len(order))
		for i := len(order) - 1; i >= 0; i-- {
			m := order[i]
			if visited[m] || m.Bypass() {
				continue
			}
			visited[m] = true
			mc := &ModuleContext{module: m, program: p, root: root, parents: parents}
			if err := runPass(pass, mc, opts); err != nil {
				return err
			}
		}
		if programPass, ok := pass.(ProgramPass); ok {
			if err := programPass.ApplyProgram(p); err != nil {
				return errors.WithMessagef(err, "pass %q on program %q", pass.Name(), p.name)
			}
			for _, m := range p.Modules() {
				if err := validate(pass, m, opts); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// RunModulePasses applies the passes, in order, to a single module. Sub-modules are not visited.
func RunModulePasses(m *Module, passes []Pass, opts config.Options) error {
	for _, pass := range passes {
		if opts.IsPassDisabled(pass.Name()) {
			klog.V(1).Infof("pass %q disabled", pass.Name())
			continue
		}
		mc := &ModuleContext{module: m, program: m.program, root: m}
		if err := runPass(pass, mc, opts); err != nil {
			return err
		}
	}
	return nil
}

func runPass(pass Pass, mc *ModuleContext, opts config.Options) error {
	m := mc.module
	trace := opts.TracePasses || klog.V(2).Enabled()
	if trace {
		klog.Infof("module %q before pass %q:\n%s", m.name, pass.Name(), m)
	}
	klog.V(1).Infof("applying pass %q to module %q", pass.Name(), m.name)
	start := time.Now()
	if err := pass.Apply(mc); err != nil {
		return errors.WithMessagef(err, "pass %q on module %q", pass.Name(), m.name)
	}
	if opts.TimePasses {
		klog.Infof("pass %q on module %q: %s", pass.Name(), m.name, time.Since(start))
	}
	if trace {
		klog.Infof("module %q after pass %q:\n%s", m.name, pass.Name(), m)
	}
	return validate(pass, m, opts)
}

func validate(pass Pass, m *Module, opts config.Options) error {
	if !validateAfterPass || opts.SkipValidation {
		return nil
	}
	if bad := m.Validate(); bad != nil {
		return &InvalidProgramError{
			Pass:        pass.Name(),
			Module:      m.name,
			Index:       m.Position(bad),
			Instruction: bad.String(),
		}
	}
	return nil
}
