package tensorgraph

import (
	"fmt"
	"strings"

	"github.com/gomlx/tensorgraph/types/shapes"
	"github.com/pkg/errors"
)

var (
	// ErrStructural is matched (with errors.Is) by errors of mutations that would break the
	// topological order of a module, use instructions of another module, or remove an
	// instruction still in use. The module is left unchanged.
	ErrStructural = errors.New("structural error")

	// ErrShape is matched by errors of operations rejecting the shapes of their inputs.
	ErrShape = errors.New("shape error")

	// ErrNoMatchingModule is returned by dispatch operations when no sub-module accepts the
	// shapes of the runtime arguments.
	ErrNoMatchingModule = errors.New("no matching module")
)

func structuralErrorf(format string, args ...any) error {
	return errors.Wrapf(ErrStructural, format, args...)
}

// ShapeError is returned when an operation's shape rule rejects its inputs.
type ShapeError struct {
	// Op is the name of the operation.
	Op string

	// Inputs are the shapes given to the operation.
	Inputs []shapes.Shape

	// Cause is the error returned by the shape rule.
	Cause error
}

// Error implements error.
func (e *ShapeError) Error() string {
	parts := make([]string, len(e.Inputs))
	for i, s := range e.Inputs {
		parts[i] = s.String()
	}
	return fmt.Sprintf("operation %q rejected inputs [%s]: %v", e.Op, strings.Join(parts, ", "), e.Cause)
}

// Unwrap returns the cause.
func (e *ShapeError) Unwrap() error { return e.Cause }

// Is makes errors.Is(err, ErrShape) true.
func (e *ShapeError) Is(target error) bool { return target == ErrShape }

// InvalidProgramError is returned by the pass manager when a module fails validation after a pass.
type InvalidProgramError struct {
	Pass, Module string

	// Index is the position of the offending instruction in the module.
	Index int

	// Instruction is the string representation of the offending instruction.
	Instruction string
}

// Error implements error.
func (e *InvalidProgramError) Error() string {
	return fmt.Sprintf("invalid program after pass %q: module %q, instruction #%d (%s) uses inputs not defined before it",
		e.Pass, e.Module, e.Index, e.Instruction)
}
