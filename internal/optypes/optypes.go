// Package optypes defines OpType and lists the built-in operations of the operator library.
package optypes

import (
	"fmt"

	"github.com/gomlx/tensorgraph/internal/utils"
)

// OpType is an enum of the built-in operations. Operations plugged in by users don't need an
// OpType: passes identify operations by their name only.
type OpType int

const (
	Invalid OpType = iota

	// Views: the output aliases one of the inputs.
	Identity
	Reshape
	Transpose
	Multibroadcast
	Load

	// Layout and type changes.
	Contiguous
	Convert
	Concat

	// Elementwise.
	Add
	Sub
	Mul
	Div
	Max
	Min
	Neg
	Abs
	Sqrt
	Exp

	// Memory.
	Allocate
	Copy

	// Quantization.
	Dequantizelinear
	UnpackInt4

	Undefined

	// Control flow: operations taking modules as inputs.
	SelectModule
	If
	Loop

	// Last should always be kept the last, it is used as a counter/marker.
	Last
)

var opTypeNames = [...]string{
	Invalid:          "Invalid",
	Identity:         "Identity",
	Reshape:          "Reshape",
	Transpose:        "Transpose",
	Multibroadcast:   "Multibroadcast",
	Load:             "Load",
	Contiguous:       "Contiguous",
	Convert:          "Convert",
	Concat:           "Concat",
	Add:              "Add",
	Sub:              "Sub",
	Mul:              "Mul",
	Div:              "Div",
	Max:              "Max",
	Min:              "Min",
	Neg:              "Neg",
	Abs:              "Abs",
	Sqrt:             "Sqrt",
	Exp:              "Exp",
	Allocate:         "Allocate",
	Copy:             "Copy",
	Dequantizelinear: "Dequantizelinear",
	UnpackInt4:       "UnpackInt4",
	Undefined:        "Undefined",
	SelectModule:     "SelectModule",
	If:               "If",
	Loop:             "Loop",
	Last:             "Last",
}

// String implements fmt.Stringer.
func (op OpType) String() string {
	if op < 0 || int(op) >= len(opTypeNames) {
		return fmt.Sprintf("OpType(%d)", int(op))
	}
	return opTypeNames[op]
}

// Name returns the operation name used in modules, e.g. "select_module".
func (op OpType) Name() string {
	return utils.ToSnakeCase(op.String())
}

// FromName returns the OpType with the given operation name, or Invalid.
func FromName(name string) OpType {
	for op := Identity; op < Last; op++ {
		if op.Name() == name {
			return op
		}
	}
	return Invalid
}
