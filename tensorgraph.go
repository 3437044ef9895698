// Package tensorgraph is a graph IR for tensor programs, and the machinery to rewrite it.
//
// A Program holds named Modules, one of them "main". A Module is an ordered list of
// Instructions where every input of an instruction comes before it. Each Instruction holds an
// Operation (its shape rule and, optionally, how to compute its value), its inputs, the list of
// its consumers and, for control-flow operations, sub-modules.
//
// Instructions are referenced by pointer: a *Instruction stays valid until the instruction is
// removed from its module, and Module.ReplaceInstruction changes an instruction in place, so
// its consumers don't need to be rewired.
//
// Passes (see Pass and RunPasses) transform modules in place through the Module mutation API.
// The operator library is in the ops package and the standard passes in the passes package.
package tensorgraph

import "github.com/gomlx/tensorgraph/internal/utils"

// MainModuleName is the name of the entry module of every Program.
const MainModuleName = "main"

// IndentationStep used when writing modules.
const IndentationStep = "  "

// NormalizeIdentifier converts a name to a valid identifier: only letters, digits and
// underscores are allowed.
//
// Invalid characters are replaced with underscores.
// If the name starts with a digit, it is prefixed with an underscore.
func NormalizeIdentifier(name string) string {
	return utils.NormalizeIdentifier(name)
}
