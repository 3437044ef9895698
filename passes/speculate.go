package passes

import (
	"github.com/gomlx/tensorgraph"
	"github.com/gomlx/tensorgraph/types/shapes"
)

// SpeculateShapes returns the shapes ins and its downstream instructions would have if the
// inputs of ins had the given shapes. The module is not changed.
//
// It returns false if any of the operations would reject its new input shapes, or if the
// shape of an instruction without consumers (an output of the module) would change.
// Otherwise, the returned map holds the new shape of every visited instruction.
//
// Downstream instructions are visited once each, in module order.
func SpeculateShapes(ins *tensorgraph.Instruction, inputShapes []shapes.Shape) (map[*tensorgraph.Instruction]shapes.Shape, bool) {
	shape, err := ins.ComputeShapeWith(inputShapes)
	if err != nil {
		return nil, false
	}
	speculative := map[*tensorgraph.Instruction]shapes.Shape{ins: shape}
	if shape.Equal(ins.Shape()) {
		return speculative, true
	}
	if len(ins.Outputs()) == 0 || ins.Module() == nil {
		return nil, false
	}

	// changed holds the instructions whose speculative shape differs from the current one.
	changed := map[*tensorgraph.Instruction]bool{ins: true}
	instructions := ins.Module().Instructions()
	for _, user := range instructions[ins.Module().Position(ins)+1:] {
		affected := false
		for _, input := range user.Inputs() {
			if changed[input] {
				affected = true
				break
			}
		}
		if !affected {
			continue
		}
		userInputShapes := user.InputShapes()
		for i, input := range user.Inputs() {
			if changed[input] {
				userInputShapes[i] = speculative[input]
			}
		}
		userShape, err := user.ComputeShapeWith(userInputShapes)
		if err != nil {
			return nil, false
		}
		speculative[user] = userShape
		if userShape.Equal(user.Shape()) {
			continue
		}
		if len(user.Outputs()) == 0 {
			return nil, false
		}
		changed[user] = true
	}
	return speculative, true
}
