package tensorgraph

import (
	"fmt"
	"io"
	"strings"
)

// Write the instruction in the listing format:
//
//	@2 = reshape{dims: [2, 2]}(@1) -> (Float32)[2 2]
func (ins *Instruction) Write(writer io.Writer) error {
	var err error
	w := func(format string, args ...any) {
		if err != nil {
			// No op if an error was encountered earlier
			return
		}
		_, err = fmt.Fprintf(writer, format, args...)
	}

	w("%s = %s", ins.Ref(), ins.op.Name())
	switch op := ins.op.(type) {
	case *parameterOp:
		w(":%s", op.name)
	case *literalOp:
		w("{%s}", op.lit)
	case Attributed:
		if attrs := op.Attributes(); attrs.Len() > 0 {
			w("%s", attrs)
		}
	}
	if len(ins.inputs) > 0 || ins.IsReturn() {
		w("(")
		for i, input := range ins.inputs {
			if i > 0 {
				w(", ")
			}
			w("%s", input.Ref())
		}
		w(")")
	}
	if len(ins.modules) > 0 {
		w(", modules=[")
		for i, sub := range ins.modules {
			if i > 0 {
				w(", ")
			}
			w("%s", sub.name)
		}
		w("]")
	}
	if !ins.IsReturn() {
		w(" -> %s", ins.shape)
	}
	return err
}

// Write the module listing, one instruction per line.
func (m *Module) Write(writer io.Writer) error {
	if _, err := fmt.Fprintf(writer, "module %q", m.name); err != nil {
		return err
	}
	if m.bypass {
		if _, err := io.WriteString(writer, " (bypass)"); err != nil {
			return err
		}
	}
	if _, err := io.WriteString(writer, "\n"); err != nil {
		return err
	}
	return WriteInstructions(writer, m.instructions)
}

// WriteInstructions writes the listing of the given instructions, typically a subset of a module,
// e.g. to trace a sub-graph.
func WriteInstructions(writer io.Writer, instructions []*Instruction) error {
	for _, ins := range instructions {
		if _, err := io.WriteString(writer, IndentationStep); err != nil {
			return err
		}
		if err := ins.Write(writer); err != nil {
			return err
		}
		if _, err := io.WriteString(writer, "\n"); err != nil {
			return err
		}
	}
	return nil
}

// String implements fmt.Stringer, returning the module listing.
func (m *Module) String() string {
	var sb strings.Builder
	_ = m.Write(&sb)
	return sb.String()
}
