package tensorgraph

import (
	"fmt"
	"strings"

	"github.com/gomlx/tensorgraph/types/argument"
	"github.com/gomlx/tensorgraph/types/shapes"
	"github.com/pkg/errors"
)

// UndefinedOpName is the name of the operation producing an undefined (absent) value.
const UndefinedOpName = "undefined"

// Instruction is a node of a Module.
//
// A *Instruction is a stable handle: it stays valid while the instruction is in its module,
// including across Module.ReplaceInstruction calls that change its operation and inputs.
type Instruction struct {
	module *Module
	id     int
	op     Operation

	inputs []*Instruction

	// outputs are the consumers of this instruction, each listed once.
	outputs []*Instruction

	modules []*Module
	shape   shapes.Shape
}

// ID is unique within the module and never reused. It's used to print the instruction.
func (ins *Instruction) ID() int { return ins.id }

// Name of the instruction's operation.
func (ins *Instruction) Name() string { return ins.op.Name() }

// Operation held by the instruction.
func (ins *Instruction) Operation() Operation { return ins.op }

// Inputs of the instruction. The returned slice must not be modified.
func (ins *Instruction) Inputs() []*Instruction { return ins.inputs }

// Outputs returns the consumers of the instruction. The returned slice must not be modified.
func (ins *Instruction) Outputs() []*Instruction { return ins.outputs }

// ModuleInputs returns the sub-modules used by the instruction.
func (ins *Instruction) ModuleInputs() []*Module { return ins.modules }

// Shape of the instruction's output.
func (ins *Instruction) Shape() shapes.Shape { return ins.shape }

// Module owning the instruction, or nil if it was removed.
func (ins *Instruction) Module() *Module { return ins.module }

// InputShapes returns the shapes of the inputs.
func (ins *Instruction) InputShapes() []shapes.Shape {
	inputShapes := make([]shapes.Shape, len(ins.inputs))
	for i, input := range ins.inputs {
		inputShapes[i] = input.shape
	}
	return inputShapes
}

// ComputeShapeWith runs the operation's shape rule with the given input shapes, without
// changing the instruction.
func (ins *Instruction) ComputeShapeWith(inputShapes []shapes.Shape) (shapes.Shape, error) {
	shape, err := ins.op.ComputeShape(inputShapes, ins.modules)
	if err != nil {
		return shapes.Invalid(), &ShapeError{Op: ins.op.Name(), Inputs: inputShapes, Cause: err}
	}
	return shape, nil
}

// IsLiteral returns whether the instruction holds a constant.
func (ins *Instruction) IsLiteral() bool {
	_, ok := ins.op.(*literalOp)
	return ok
}

// Literal returns the constant held by a literal instruction.
func (ins *Instruction) Literal() (argument.Literal, bool) {
	lit, ok := ins.op.(*literalOp)
	if !ok {
		return argument.Literal{}, false
	}
	return lit.lit, true
}

// IsParameter returns whether the instruction is a module parameter.
func (ins *Instruction) IsParameter() bool {
	_, ok := ins.op.(*parameterOp)
	return ok
}

// ParameterName returns the name of a parameter instruction, or "".
func (ins *Instruction) ParameterName() string {
	if param, ok := ins.op.(*parameterOp); ok {
		return param.name
	}
	return ""
}

// IsReturn returns whether the instruction is the return of its module.
func (ins *Instruction) IsReturn() bool {
	_, ok := ins.op.(returnOp)
	return ok
}

// IsUndefined returns whether the instruction produces an undefined value.
func (ins *Instruction) IsUndefined() bool {
	return ins.op.Name() == UndefinedOpName
}

// CanEval returns whether the instruction's value can be computed at compile time:
// it's a literal, or a context-free operation with no sub-modules whose inputs can all be evaluated.
func (ins *Instruction) CanEval() bool {
	return canEval(ins, make(map[*Instruction]bool))
}

// EvalCache memoizes CanEval over the instructions of a module, so a pass asking about every
// instruction visits each one once. It must be discarded once the module is changed.
// It is not safe for concurrent use.
type EvalCache map[*Instruction]bool

// CanEval is the same as ins.CanEval, reusing the results already in the cache.
func (c EvalCache) CanEval(ins *Instruction) bool {
	return canEval(ins, c)
}

func canEval(ins *Instruction, cache map[*Instruction]bool) bool {
	if result, found := cache[ins]; found {
		return result
	}
	result := false
	if ins.IsLiteral() {
		result = true
	} else if len(ins.modules) == 0 && HasCompute(ins.op) && IsContextFree(ins.op) {
		result = true
		for _, input := range ins.inputs {
			if !canEval(input, cache) {
				result = false
				break
			}
		}
	}
	cache[ins] = result
	return result
}

// Eval computes the value of an instruction for which CanEval is true.
// It returns an empty argument (and no error) if the instruction can't be evaluated.
//
// Eval doesn't change the module, and can be called concurrently on instructions of the same module.
func (ins *Instruction) Eval() (argument.Argument, error) {
	if !ins.CanEval() {
		return argument.Empty(), nil
	}
	return evalRecursive(ins, make(map[*Instruction]argument.Argument))
}

func evalRecursive(ins *Instruction, results map[*Instruction]argument.Argument) (argument.Argument, error) {
	if result, found := results[ins]; found {
		return result, nil
	}
	args := make([]argument.Argument, len(ins.inputs))
	for i, input := range ins.inputs {
		arg, err := evalRecursive(input, results)
		if err != nil {
			return argument.Empty(), err
		}
		args[i] = arg
	}
	result, err := ins.op.(Computer).Compute(ins.shape, args, nil, nil)
	if err != nil {
		return argument.Empty(), errors.WithMessagef(err, "evaluating %s", ins)
	}
	results[ins] = result
	return result, nil
}

// GetOutputAlias follows the output aliases of ins (see Aliaser) to the instruction owning the
// storage of its output. If mustBeStandard is true, it stops at the first aliasing instruction
// whose output doesn't have a standard layout.
func GetOutputAlias(ins *Instruction, mustBeStandard bool) *Instruction {
	for {
		idx := OutputAlias(ins.op, ins.InputShapes())
		if idx < 0 || idx >= len(ins.inputs) {
			return ins
		}
		if mustBeStandard && !ins.shape.Standard() {
			return ins
		}
		ins = ins.inputs[idx]
	}
}

// String returns the instruction as written in a module listing, e.g. "@3 = add(@1, @2) -> (Float32)[4]".
func (ins *Instruction) String() string {
	var sb strings.Builder
	_ = ins.Write(&sb)
	return sb.String()
}

// Ref returns the reference used to name the instruction in listings, e.g. "@3".
func (ins *Instruction) Ref() string {
	return fmt.Sprintf("@%d", ins.id)
}

func (ins *Instruction) addOutput(consumer *Instruction) {
	for _, out := range ins.outputs {
		if out == consumer {
			return
		}
	}
	ins.outputs = append(ins.outputs, consumer)
}

func (ins *Instruction) removeOutput(consumer *Instruction) {
	for i, out := range ins.outputs {
		if out == consumer {
			ins.outputs = append(ins.outputs[:i], ins.outputs[i+1:]...)
			return
		}
	}
}

func (ins *Instruction) usesInput(input *Instruction) bool {
	for _, in := range ins.inputs {
		if in == input {
			return true
		}
	}
	return false
}
