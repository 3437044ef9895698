package ops

import (
	"fmt"
	"slices"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/tensorgraph"
	"github.com/gomlx/tensorgraph/internal/optypes"
	"github.com/gomlx/tensorgraph/internal/utils"
	"github.com/gomlx/tensorgraph/types/argument"
	"github.com/gomlx/tensorgraph/types/shapes"
	"github.com/gomlx/tensorgraph/types/values"
	"github.com/pkg/errors"
)

// Control-flow operations take modules as inputs. They don't run the modules themselves: they
// assemble the parameters, call the RunFunc given to Compute and redistribute the results.
//
// Module parameters whose name contains utils.OutputParameterPrefix ("#output_<k>") are
// destination buffers: they receive views of the storage the results are written to. All other
// parameters are inputs.

// OutputParameterName returns the name of the k-th output (destination) parameter of a module.
func OutputParameterName(k int) string {
	return fmt.Sprintf("%s%d", utils.OutputParameterPrefix, k)
}

// inputParameterNames returns the names of the input parameters of m, in declaration order.
func inputParameterNames(m *tensorgraph.Module) []string {
	var names []string
	for _, name := range m.ParameterNames() {
		if !utils.IsOutputParameter(name) {
			names = append(names, name)
		}
	}
	return names
}

// outputParameterNames returns the names of the output parameters of m indexed by their output
// number. Missing outputs are "".
func outputParameterNames(m *tensorgraph.Module) []string {
	var names []string
	for _, name := range m.ParameterNames() {
		k := utils.OutputParameterIndex(name)
		if k < 0 {
			continue
		}
		if k >= len(names) {
			names = append(names, make([]string, k+1-len(names))...)
		}
		names[k] = name
	}
	return names
}

// bindOutputParameter binds the output parameter k of m (if declared) to a view of buffer with
// the declared shape.
func bindOutputParameter(params map[string]argument.Argument, m *tensorgraph.Module, outputNames []string, k int, buffer argument.Argument) error {
	if k >= len(outputNames) || outputNames[k] == "" {
		return nil
	}
	name := outputNames[k]
	declared := m.Parameter(name).Shape()
	if !declared.Equal(buffer.Shape()) {
		var err error
		buffer, err = buffer.Reshape(declared)
		if err != nil {
			return errors.WithMessagef(err, "module %q: binding output parameter %q", m.Name(), name)
		}
	}
	params[name] = buffer
	return nil
}

// sameView returns whether a and b are the same view of the same storage.
func sameView(a, b argument.Argument) bool {
	bufA, offsetA := a.Buffer()
	bufB, offsetB := b.Buffer()
	return bufA != nil && bufA == bufB && offsetA == offsetB && a.Shape().Equal(b.Shape())
}

// storeResult copies result into dst, unless the module already wrote it there.
func storeResult(dst, result argument.Argument) error {
	if sameView(dst, result) {
		return nil
	}
	return dst.CopyFrom(result)
}

// selectModule dispatches to the first module whose input parameters accept the shapes of the
// runtime arguments. The last input is a tuple of the output buffers.
type selectModule struct {
	outputShape shapes.Shape
}

// SelectModule returns the "select_module" operation. Its inputs are the arguments followed by a
// tuple of output buffers, and outputShape is the (tuple) shape of its result.
func SelectModule(outputShape shapes.Shape) tensorgraph.Operation {
	return &selectModule{outputShape: outputShape.Clone()}
}

func (op *selectModule) Name() string { return optypes.SelectModule.Name() }

func (op *selectModule) ComputeShape(inputs []shapes.Shape, modules []*tensorgraph.Module) (shapes.Shape, error) {
	if len(modules) == 0 {
		return shapes.Invalid(), errors.Errorf("%s requires at least one module", op.Name())
	}
	if len(inputs) == 0 || !inputs[len(inputs)-1].IsTuple() {
		return shapes.Invalid(), errors.Errorf("%s requires a tuple of output buffers as its last input", op.Name())
	}
	if !op.outputShape.IsTuple() {
		return shapes.Invalid(), errors.Errorf("%s: output shape %s must be a tuple", op.Name(), op.outputShape)
	}
	buffers := inputs[len(inputs)-1]
	if len(buffers.TupleShapes) < len(op.outputShape.TupleShapes) {
		return shapes.Invalid(), errors.Errorf("%s: %d output buffers %s for output shape %s",
			op.Name(), len(buffers.TupleShapes), buffers, op.outputShape)
	}
	return op.outputShape, nil
}

// match returns whether the input parameters of m have exactly the shapes of the arguments,
// layouts included, and their names.
func match(m *tensorgraph.Module, args []argument.Argument) ([]string, bool) {
	names := inputParameterNames(m)
	slices.Sort(names)
	if len(names) != len(args) {
		return nil, false
	}
	for i, name := range names {
		if !m.Parameter(name).Shape().Equal(args[i].Shape()) {
			return nil, false
		}
	}
	return names, true
}

func (op *selectModule) Compute(_ shapes.Shape, args []argument.Argument, modules []*tensorgraph.Module, run tensorgraph.RunFunc) (argument.Argument, error) {
	buffers := args[len(args)-1].SubObjects()
	args = args[:len(args)-1]
	var (
		selected *tensorgraph.Module
		names    []string
	)
	for _, m := range modules {
		if matched, ok := match(m, args); ok {
			selected, names = m, matched
			break
		}
	}
	if selected == nil {
		argShapes := make([]string, len(args))
		for i, arg := range args {
			argShapes[i] = arg.Shape().String()
		}
		return argument.Empty(), errors.Wrapf(tensorgraph.ErrNoMatchingModule, "%s: no module accepts arguments %v", op.Name(), argShapes)
	}

	params := make(map[string]argument.Argument, len(names))
	for i, name := range names {
		params[name] = args[i]
	}
	outputNames := outputParameterNames(selected)
	for k := range outputNames {
		if k >= len(buffers) {
			return argument.Empty(), errors.Errorf("%s: module %q declares output parameter %q, but only %d output buffers were given",
				op.Name(), selected.Name(), outputNames[k], len(buffers))
		}
		if err := bindOutputParameter(params, selected, outputNames, k, buffers[k]); err != nil {
			return argument.Empty(), err
		}
	}

	results, err := run(selected, params)
	if err != nil {
		return argument.Empty(), errors.WithMessagef(err, "%s: running module %q", op.Name(), selected.Name())
	}
	if len(results) > len(buffers) {
		return argument.Empty(), errors.Errorf("%s: module %q returned %d results for %d output buffers",
			op.Name(), selected.Name(), len(results), len(buffers))
	}
	outputs := make([]argument.Argument, len(results))
	for i, result := range results {
		dst, err := buffers[i].Reshape(result.Shape().AsStandard())
		if err != nil {
			return argument.Empty(), errors.WithMessagef(err, "%s: output #%d", op.Name(), i)
		}
		if err := storeResult(dst, result); err != nil {
			return argument.Empty(), errors.WithMessagef(err, "%s: output #%d", op.Name(), i)
		}
		outputs[i] = dst
	}
	return argument.MakeTuple(outputs...), nil
}

func (op *selectModule) IsContextFree() bool { return false }

func (op *selectModule) OutputAlias(inputs []shapes.Shape) int { return len(inputs) - 1 }

func (op *selectModule) Attributes() values.Value {
	return values.Object().With("output_shape", op.outputShape.ToValue())
}

// ifOp runs one of two modules depending on a boolean condition.
type ifOp struct{}

// If returns the "if" operation. Its inputs are the condition (a Bool scalar) followed by the
// arguments of the modules, and it takes two modules: [then, else].
func If() tensorgraph.Operation { return ifOp{} }

func (ifOp) Name() string { return optypes.If.Name() }

func (ifOp) ComputeShape(inputs []shapes.Shape, modules []*tensorgraph.Module) (shapes.Shape, error) {
	if len(modules) != 2 {
		return shapes.Invalid(), errors.Errorf("if takes 2 modules (then and else), got %d", len(modules))
	}
	if len(inputs) == 0 || !inputs[0].IsScalar() || inputs[0].DType != dtypes.Bool {
		return shapes.Invalid(), errors.Errorf("if requires a Bool scalar condition as its first input, got %v", inputs)
	}
	thenShapes, elseShapes := modules[0].OutputShapes(), modules[1].OutputShapes()
	if !slices.EqualFunc(thenShapes, elseShapes, shapes.Shape.Equal) {
		return shapes.Invalid(), errors.Errorf("if: modules %q and %q have different output shapes %v and %v",
			modules[0].Name(), modules[1].Name(), thenShapes, elseShapes)
	}
	for _, m := range modules {
		if n := len(inputParameterNames(m)); n != len(inputs)-1 {
			return shapes.Invalid(), errors.Errorf("if: module %q takes %d parameters, got %d arguments", m.Name(), n, len(inputs)-1)
		}
	}
	return shapes.MakeTuple(thenShapes...), nil
}

func (ifOp) Compute(_ shapes.Shape, args []argument.Argument, modules []*tensorgraph.Module, run tensorgraph.RunFunc) (argument.Argument, error) {
	m := modules[1]
	if args[0].Int64At(0) != 0 {
		m = modules[0]
	}
	names := inputParameterNames(m)
	params := make(map[string]argument.Argument, len(names))
	for i, name := range names {
		params[name] = args[1+i]
	}
	results, err := run(m, params)
	if err != nil {
		return argument.Empty(), errors.WithMessagef(err, "if: running module %q", m.Name())
	}
	return argument.MakeTuple(results...), nil
}

func (ifOp) IsContextFree() bool { return false }

// Scan output directions of a loop.
const (
	// ScanForward writes the scan output of iteration i at row i.
	ScanForward = 0

	// ScanReverse writes the scan output of iteration i at row max_iterations-1-i.
	ScanReverse = 1
)

// loop runs its body module while the condition holds, up to maxIterations times.
//
// Inputs: [trip_count, condition, dependencies...] and, with destination, a trailing tuple of
// output buffers. The body's input parameters, in declaration order, are
// [iteration, condition, dependencies...], and it returns [condition, dependencies..., scans...].
//
// The output is the tuple [dependencies..., scans...], where each scan output has a leading
// axis of dimension maxIterations.
//
// Output parameters of the body: "#output_0" receives the condition, "#output_<1+i>" the
// dependency i and "#output_<1+n+j>" the row of the scan output j for the current iteration.
type loop struct {
	maxIterations  int
	scanDirections []int
	destination    bool
}

// Loop returns the "loop" operation. scanDirections holds ScanForward or ScanReverse for each
// scan output: missing values are ScanForward.
func Loop(maxIterations int, scanDirections ...int) tensorgraph.Operation {
	return &loop{maxIterations: maxIterations, scanDirections: slices.Clone(scanDirections)}
}

// LoopInto returns the "loop" operation that writes its results into a tuple of output buffers,
// given as its last input.
func LoopInto(maxIterations int, scanDirections ...int) tensorgraph.Operation {
	return &loop{maxIterations: maxIterations, scanDirections: slices.Clone(scanDirections), destination: true}
}

func (op *loop) Name() string { return optypes.Loop.Name() }

func (op *loop) numDependencies(inputs int) int {
	if op.destination {
		return inputs - 3
	}
	return inputs - 2
}

func (op *loop) direction(scan int) int {
	if scan < len(op.scanDirections) {
		return op.scanDirections[scan]
	}
	return ScanForward
}

func (op *loop) ComputeShape(inputs []shapes.Shape, modules []*tensorgraph.Module) (shapes.Shape, error) {
	if len(modules) != 1 {
		return shapes.Invalid(), errors.Errorf("loop takes 1 module (the body), got %d", len(modules))
	}
	if op.maxIterations <= 0 {
		return shapes.Invalid(), errors.Errorf("loop: max_iterations must be positive, got %d", op.maxIterations)
	}
	numDeps := op.numDependencies(len(inputs))
	if numDeps < 0 {
		return shapes.Invalid(), errors.Errorf("loop requires the trip count and the condition as inputs, got %v", inputs)
	}
	trip, cond := inputs[0], inputs[1]
	if !trip.IsScalar() || !trip.DType.IsInt() {
		return shapes.Invalid(), errors.Errorf("loop: the trip count must be an integer scalar, got %s", trip)
	}
	if !cond.IsScalar() || cond.DType != dtypes.Bool {
		return shapes.Invalid(), errors.Errorf("loop: the condition must be a Bool scalar, got %s", cond)
	}
	for i, dir := range op.scanDirections {
		if dir != ScanForward && dir != ScanReverse {
			return shapes.Invalid(), errors.Errorf("loop: invalid direction %d for scan output #%d", dir, i)
		}
	}

	body := modules[0]
	if n := len(inputParameterNames(body)); n != 2+numDeps {
		return shapes.Invalid(), errors.Errorf("loop: body %q takes %d parameters, wanted %d (iteration, condition and %d dependencies)",
			body.Name(), n, 2+numDeps, numDeps)
	}
	bodyOutputs := body.OutputShapes()
	if len(bodyOutputs) < 1+numDeps {
		return shapes.Invalid(), errors.Errorf("loop: body %q returns %d values, wanted at least %d (condition and %d dependencies)",
			body.Name(), len(bodyOutputs), 1+numDeps, numDeps)
	}
	if !bodyOutputs[0].IsScalar() || bodyOutputs[0].DType != dtypes.Bool {
		return shapes.Invalid(), errors.Errorf("loop: body %q must return a Bool scalar condition first, got %s", body.Name(), bodyOutputs[0])
	}
	outputShapes := make([]shapes.Shape, 0, len(bodyOutputs)-1)
	for i := range numDeps {
		dep, result := inputs[2+i], bodyOutputs[1+i]
		if !dep.EqualDimensions(result) {
			return shapes.Invalid(), errors.Errorf("loop: dependency #%d has shape %s, but the body returns %s", i, dep, result)
		}
		outputShapes = append(outputShapes, dep.AsStandard())
	}
	for _, scan := range bodyOutputs[1+numDeps:] {
		if scan.IsTuple() || scan.IsDynamic() {
			return shapes.Invalid(), errors.Errorf("loop: invalid scan output shape %s", scan)
		}
		dims := append([]int{op.maxIterations}, scan.Dimensions...)
		outputShapes = append(outputShapes, shapes.Make(scan.DType, dims...))
	}
	output := shapes.MakeTuple(outputShapes...)
	if op.destination {
		buffers := inputs[len(inputs)-1]
		if !buffers.IsTuple() || len(buffers.TupleShapes) != len(outputShapes) {
			return shapes.Invalid(), errors.Errorf("loop: output buffers %s don't match the output %s", buffers, output)
		}
		for i, buffer := range buffers.TupleShapes {
			if !buffer.EqualDimensions(outputShapes[i]) || !buffer.Standard() {
				return shapes.Invalid(), errors.Errorf("loop: output buffer #%d %s doesn't match %s", i, buffer, outputShapes[i])
			}
		}
		return buffers, nil
	}
	return output, nil
}

// scanRow returns the row of the scan output written by the given iteration.
func (op *loop) scanRow(scan, iteration int) int {
	if op.direction(scan) == ScanReverse {
		return op.maxIterations - 1 - iteration
	}
	return iteration
}

func (op *loop) Compute(output shapes.Shape, args []argument.Argument, modules []*tensorgraph.Module, run tensorgraph.RunFunc) (argument.Argument, error) {
	body := modules[0]
	numDeps := op.numDependencies(len(args))
	numIterations := int(min(max(args[0].Int64At(0), 0), int64(op.maxIterations)))
	cond := args[1].Int64At(0) != 0

	var out argument.Argument
	if op.destination {
		out = args[len(args)-1]
	} else {
		out = argument.New(output)
	}
	outputs := out.SubObjects()
	scans := outputs[numDeps:]

	// Dependencies ping-pong between two slots: iteration i reads slot i%2 and writes slot (i+1)%2.
	var slots [2][]argument.Argument
	for s := range slots {
		slots[s] = make([]argument.Argument, numDeps)
		for i := range numDeps {
			slots[s][i] = argument.New(outputs[i].Shape())
		}
	}
	for i := range numDeps {
		if err := slots[0][i].CopyFrom(args[2+i]); err != nil {
			return argument.Empty(), errors.WithMessagef(err, "loop: dependency #%d", i)
		}
	}

	inputNames := inputParameterNames(body)
	outputNames := outputParameterNames(body)
	iterationShape := body.Parameter(inputNames[0]).Shape()
	condBuffer := argument.New(shapes.Make(dtypes.Bool))
	rows := make([]argument.Argument, len(scans))

	iteration := 0
	for ; iteration < numIterations && cond; iteration++ {
		read, write := slots[iteration%2], slots[(iteration+1)%2]
		iterationArg := argument.New(iterationShape.AsStandard())
		iterationArg.SetFloat64At(0, float64(iteration))
		condArg := argument.Scalar(cond)

		params := make(map[string]argument.Argument, len(inputNames)+len(outputNames))
		params[inputNames[0]] = iterationArg
		params[inputNames[1]] = condArg
		for i := range numDeps {
			params[inputNames[2+i]] = read[i]
		}
		if err := bindOutputParameter(params, body, outputNames, 0, condBuffer); err != nil {
			return argument.Empty(), err
		}
		for i := range numDeps {
			if err := bindOutputParameter(params, body, outputNames, 1+i, write[i]); err != nil {
				return argument.Empty(), err
			}
		}
		for j, scan := range scans {
			rowShape := scan.Shape().WithDimensions(scan.Shape().Dimensions[1:]...)
			row, err := scan.View(rowShape, op.scanRow(j, iteration)*rowShape.Bytes())
			if err != nil {
				return argument.Empty(), errors.WithMessagef(err, "loop: scan output #%d", j)
			}
			rows[j] = row
			if err := bindOutputParameter(params, body, outputNames, 1+numDeps+j, row); err != nil {
				return argument.Empty(), err
			}
		}

		results, err := run(body, params)
		if err != nil {
			return argument.Empty(), errors.WithMessagef(err, "loop: iteration %d of body %q", iteration, body.Name())
		}
		if len(results) != 1+numDeps+len(scans) {
			return argument.Empty(), errors.Errorf("loop: body %q returned %d values, wanted %d", body.Name(), len(results), 1+numDeps+len(scans))
		}
		cond = results[0].Int64At(0) != 0
		for i := range numDeps {
			if err := storeResult(write[i], results[1+i]); err != nil {
				return argument.Empty(), errors.WithMessagef(err, "loop: dependency #%d", i)
			}
		}
		for j := range scans {
			if err := storeResult(rows[j], results[1+numDeps+j]); err != nil {
				return argument.Empty(), errors.WithMessagef(err, "loop: scan output #%d", j)
			}
		}
	}

	for i := range numDeps {
		if err := outputs[i].CopyFrom(slots[iteration%2][i]); err != nil {
			return argument.Empty(), errors.WithMessagef(err, "loop: dependency #%d", i)
		}
	}
	if err := op.zeroUnwrittenRows(scans, iteration); err != nil {
		return argument.Empty(), err
	}
	return out, nil
}

// zeroUnwrittenRows clears the rows of the scan outputs not written by the first iterations.
func (op *loop) zeroUnwrittenRows(scans []argument.Argument, iterations int) error {
	for j, scan := range scans {
		rowShape := scan.Shape().WithDimensions(scan.Shape().Dimensions[1:]...)
		first, last := iterations, op.maxIterations
		if op.direction(j) == ScanReverse {
			first, last = 0, op.maxIterations-iterations
		}
		if first >= last {
			continue
		}
		unwritten, err := scan.View(rowShape.WithDimensions(append([]int{last - first}, rowShape.Dimensions...)...), first*rowShape.Bytes())
		if err != nil {
			return errors.WithMessagef(err, "loop: scan output #%d", j)
		}
		unwritten.Zero()
	}
	return nil
}

func (op *loop) IsContextFree() bool { return false }

func (op *loop) OutputAlias(inputs []shapes.Shape) int {
	if op.destination {
		return len(inputs) - 1
	}
	return -1
}

func (op *loop) Attributes() values.Value {
	return values.Object().
		With("max_iterations", values.Int(int64(op.maxIterations))).
		With("scan_output_directions", values.Ints(op.scanDirections)).
		With("destination", values.Bool(op.destination))
}

func init() {
	register(optypes.If, noAttributes(ifOp{}))
	register(optypes.SelectModule, func(attributes values.Value) (tensorgraph.Operation, error) {
		shape, err := shapeAttribute(attributes, "output_shape")
		if err != nil {
			return nil, err
		}
		return SelectModule(shape), nil
	})
	register(optypes.Loop, func(attributes values.Value) (tensorgraph.Operation, error) {
		maxIterations, err := intAttribute(attributes, "max_iterations", 0)
		if err != nil {
			return nil, err
		}
		var directions []int
		if v, found := attributes.Get("scan_output_directions"); found && !v.IsNull() {
			if directions, err = v.AsInts(); err != nil {
				return nil, errors.WithMessage(err, `attribute "scan_output_directions"`)
			}
		}
		destination, err := boolAttribute(attributes, "destination")
		if err != nil {
			return nil, err
		}
		return &loop{maxIterations: maxIterations, scanDirections: directions, destination: destination}, nil
	})
}
