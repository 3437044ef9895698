package tensorgraph

import (
	"github.com/gomlx/tensorgraph/types/argument"
	"github.com/gomlx/tensorgraph/types/shapes"
	"github.com/pkg/errors"
)

// Evaluate runs the module with the given parameters using the operations' Compute, and returns
// the values returned by the module (or the value of the last instruction if there is no return).
//
// It's a reference interpreter: sub-modules of control-flow operations are run with Evaluate too.
func (m *Module) Evaluate(params map[string]argument.Argument) ([]argument.Argument, error) {
	results := make(map[*Instruction]argument.Argument, len(m.instructions))
	for _, ins := range m.instructions {
		switch op := ins.op.(type) {
		case *parameterOp:
			arg, found := params[op.name]
			if !found {
				return nil, errors.Errorf("module %q: missing parameter %q", m.name, op.name)
			}
			if !Accepts(op.shape, arg.Shape()) {
				return nil, errors.Errorf("module %q: parameter %q has shape %s, but %s was given",
					m.name, op.name, op.shape, arg.Shape())
			}
			results[ins] = arg
			continue
		case returnOp:
			outputs := make([]argument.Argument, len(ins.inputs))
			for i, input := range ins.inputs {
				outputs[i] = results[input]
			}
			return outputs, nil
		}
		computer, ok := ins.op.(Computer)
		if !ok {
			return nil, errors.Errorf("module %q: operation %q of %s can't be computed", m.name, ins.op.Name(), ins.Ref())
		}
		args := make([]argument.Argument, len(ins.inputs))
		for i, input := range ins.inputs {
			args[i] = results[input]
		}
		result, err := computer.Compute(ins.shape, args, ins.modules, evaluateRun)
		if err != nil {
			return nil, errors.WithMessagef(err, "module %q: computing %s", m.name, ins)
		}
		results[ins] = result
	}
	if last := m.Last(); last != nil {
		return []argument.Argument{results[last]}, nil
	}
	return nil, nil
}

// Accepts returns whether a value of shape actual can be bound to a parameter of shape declared:
// same dtype and dimensions (layouts may differ), with dynamic dimensions accepting any length
// within their range.
func Accepts(declared, actual shapes.Shape) bool {
	if declared.IsTuple() || actual.IsTuple() {
		if !declared.IsTuple() || !actual.IsTuple() || len(declared.TupleShapes) != len(actual.TupleShapes) {
			return false
		}
		for i := range declared.TupleShapes {
			if !Accepts(declared.TupleShapes[i], actual.TupleShapes[i]) {
				return false
			}
		}
		return true
	}
	if declared.Dynamic == nil {
		return declared.EqualDimensions(actual)
	}
	if declared.DType != actual.DType || declared.Rank() != actual.Rank() {
		return false
	}
	for axis, d := range declared.Dynamic {
		if dim := actual.Dimensions[axis]; dim < d.Min || dim > d.Max {
			return false
		}
	}
	return true
}

// evaluateRun is the RunFunc used by Evaluate for sub-modules.
func evaluateRun(m *Module, params map[string]argument.Argument) ([]argument.Argument, error) {
	return m.Evaluate(params)
}
