package tensorgraph

import (
	"io"

	"github.com/gomlx/tensorgraph/types/values"
	"github.com/pkg/errors"
)

// ToValue converts the program to its persisted layout:
//
//	{name: "prog", modules: [{name: "main", bypass: false, instructions: [
//	    {op: "add", attributes: null, inputs: [0, 1], modules: []}, ...]}, ...]}
//
// Inputs are positions of instructions in the same module.
// Operations with attributes must implement Attributed.
func (p *Program) ToValue() values.Value {
	modules := make([]values.Value, 0, len(p.modules))
	for _, m := range p.Modules() {
		modules = append(modules, m.toValue())
	}
	return values.Object().
		With("name", values.String(p.name)).
		With("modules", values.Array(modules...))
}

func (m *Module) toValue() values.Value {
	positions := make(map[*Instruction]int, len(m.instructions))
	instructions := make([]values.Value, len(m.instructions))
	for pos, ins := range m.instructions {
		positions[ins] = pos
		inputs := make([]int, len(ins.inputs))
		for i, input := range ins.inputs {
			inputs[i] = positions[input]
		}
		moduleNames := make([]string, len(ins.modules))
		for i, sub := range ins.modules {
			moduleNames[i] = sub.name
		}
		attributes := values.Null()
		if attributed, ok := ins.op.(Attributed); ok {
			attributes = attributed.Attributes()
		}
		instructions[pos] = values.Object().
			With("op", values.String(ins.op.Name())).
			With("attributes", attributes).
			With("inputs", values.Ints(inputs)).
			With("modules", values.Strings(moduleNames))
	}
	return values.Object().
		With("name", values.String(m.name)).
		With("bypass", values.Bool(m.bypass)).
		With("instructions", values.Array(instructions...))
}

// ProgramFromValue is the inverse of Program.ToValue.
//
// The program is rebuilt with the regular construction API (AddInstruction, AddReturn), so
// every shape is recomputed and checked. Operations are created with NewOperation: the packages
// implementing them must be imported.
func ProgramFromValue(v values.Value) (*Program, error) {
	nameValue, err := v.MustGet("name")
	if err != nil {
		return nil, errors.WithMessage(err, "loading program")
	}
	name, err := nameValue.AsString()
	if err != nil {
		return nil, errors.WithMessage(err, "loading program name")
	}
	modulesValue, err := v.MustGet("modules")
	if err != nil {
		return nil, errors.WithMessage(err, "loading program")
	}

	p := NewProgram(name)
	moduleValues := make(map[string]values.Value, modulesValue.Len())
	var order []string
	for i, mv := range modulesValue.Elements() {
		mNameValue, err := mv.MustGet("name")
		if err != nil {
			return nil, errors.WithMessagef(err, "loading module #%d", i)
		}
		mName, err := mNameValue.AsString()
		if err != nil {
			return nil, errors.WithMessagef(err, "loading module #%d name", i)
		}
		if _, found := moduleValues[mName]; found {
			return nil, errors.Errorf("loading program %q: duplicate module %q", name, mName)
		}
		moduleValues[mName] = mv
		order = append(order, mName)
		m := p.Module(mName)
		if m == nil {
			if m, err = p.CreateModule(mName); err != nil {
				return nil, err
			}
		}
		if bypass, found := mv.Get("bypass"); found {
			b, err := bypass.AsBool()
			if err != nil {
				return nil, errors.WithMessagef(err, "loading module %q bypass", mName)
			}
			m.SetBypass(b)
		}
	}

	// Modules are filled after the modules they use, since shape rules of control-flow
	// operations read the sub-modules' parameters and outputs.
	const (
		unvisited = iota
		inProgress
		done
	)
	state := make(map[string]int, len(order))
	var fill func(mName string) error
	fill = func(mName string) error {
		switch state[mName] {
		case done:
			return nil
		case inProgress:
			return errors.Errorf("loading program %q: module %q uses itself", name, mName)
		}
		state[mName] = inProgress
		mv, found := moduleValues[mName]
		if !found {
			return errors.Errorf("loading program %q: unknown module %q", name, mName)
		}
		instructionsValue, err := mv.MustGet("instructions")
		if err != nil {
			return errors.WithMessagef(err, "loading module %q", mName)
		}
		for _, iv := range instructionsValue.Elements() {
			if subs, found := iv.Get("modules"); found {
				subNames, err := subs.AsStrings()
				if err != nil {
					return errors.WithMessagef(err, "loading module %q", mName)
				}
				for _, sub := range subNames {
					if err := fill(sub); err != nil {
						return err
					}
				}
			}
		}
		if err := p.Module(mName).fromValue(p, instructionsValue); err != nil {
			return errors.WithMessagef(err, "loading module %q", mName)
		}
		state[mName] = done
		return nil
	}
	for _, mName := range order {
		if err := fill(mName); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (m *Module) fromValue(p *Program, instructionsValue values.Value) error {
	created := make([]*Instruction, 0, instructionsValue.Len())
	for pos, iv := range instructionsValue.Elements() {
		opValue, err := iv.MustGet("op")
		if err != nil {
			return errors.WithMessagef(err, "instruction #%d", pos)
		}
		opName, err := opValue.AsString()
		if err != nil {
			return errors.WithMessagef(err, "instruction #%d", pos)
		}
		var inputs []*Instruction
		if inputsValue, found := iv.Get("inputs"); found {
			inputPositions, err := inputsValue.AsInts()
			if err != nil {
				return errors.WithMessagef(err, "instruction #%d inputs", pos)
			}
			for _, inputPos := range inputPositions {
				if inputPos < 0 || inputPos >= len(created) {
					return errors.Errorf("instruction #%d: input position %d is not before it", pos, inputPos)
				}
				inputs = append(inputs, created[inputPos])
			}
		}
		var modules []*Module
		if subs, found := iv.Get("modules"); found {
			subNames, _ := subs.AsStrings()
			for _, subName := range subNames {
				modules = append(modules, p.Module(subName))
			}
		}

		var ins *Instruction
		if opName == ReturnOpName {
			ins, err = m.AddReturn(inputs...)
		} else {
			attributes, _ := iv.Get("attributes")
			var op Operation
			op, err = NewOperation(opName, attributes)
			if err == nil {
				ins, err = m.AddInstructionWithModules(op, inputs, modules)
			}
		}
		if err != nil {
			return errors.WithMessagef(err, "instruction #%d (%s)", pos, opName)
		}
		created = append(created, ins)
	}
	return nil
}

// Save writes the program in the binary (msgpack) persisted format.
func (p *Program) Save(w io.Writer) error {
	return values.Encode(w, p.ToValue())
}

// Load reads a program written with Program.Save.
func Load(r io.Reader) (*Program, error) {
	v, err := values.Decode(r)
	if err != nil {
		return nil, errors.WithMessage(err, "loading program")
	}
	return ProgramFromValue(v)
}
