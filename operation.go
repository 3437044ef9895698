package tensorgraph

import (
	"slices"
	"sync"

	"github.com/gomlx/tensorgraph/types/argument"
	"github.com/gomlx/tensorgraph/types/shapes"
	"github.com/gomlx/tensorgraph/types/values"
	"github.com/pkg/errors"
	"golang.org/x/exp/maps"
)

// Operation is the capability every instruction holds: a name and a shape rule.
//
// Operations may implement any of Computer, ContextFreeChecker, Aliaser, Finalizer and
// Attributed. Passes only query these interfaces: built-in and user operations are treated
// the same.
type Operation interface {
	// Name of the operation, e.g. "add".
	Name() string

	// ComputeShape returns the output shape for the given input shapes and sub-modules,
	// or an error if the inputs are not valid.
	ComputeShape(inputs []shapes.Shape, modules []*Module) (shapes.Shape, error)
}

// RunFunc runs a module with the given named parameters and returns its outputs.
// Control-flow operations receive one to evaluate their sub-modules.
type RunFunc func(m *Module, params map[string]argument.Argument) ([]argument.Argument, error)

// Computer is implemented by operations that can compute their output.
type Computer interface {
	Compute(output shapes.Shape, args []argument.Argument, modules []*Module, run RunFunc) (argument.Argument, error)
}

// ContextFreeChecker is implemented by operations that report whether Compute depends only on
// its arguments (and so can be evaluated at compile time).
//
// Operations that implement Computer but not ContextFreeChecker are considered context-free.
type ContextFreeChecker interface {
	IsContextFree() bool
}

// Aliaser is implemented by operations whose output is a view of one of their inputs.
type Aliaser interface {
	// OutputAlias returns the index of the input whose storage the output reuses, or -1.
	OutputAlias(inputs []shapes.Shape) int
}

// Finalizer is implemented by operations that need setup once their input shapes are fixed.
type Finalizer interface {
	Finalize(output shapes.Shape, inputs []shapes.Shape) error
}

// Attributed is implemented by operations with attributes. The attributes are an object
// values.Value, and must be accepted by the factory registered for the operation name.
type Attributed interface {
	Attributes() values.Value
}

// HasCompute returns whether the operation implements Computer.
func HasCompute(op Operation) bool {
	_, ok := op.(Computer)
	return ok
}

// IsContextFree returns whether the operation can be computed from its arguments alone.
func IsContextFree(op Operation) bool {
	if checker, ok := op.(ContextFreeChecker); ok {
		return checker.IsContextFree()
	}
	return HasCompute(op)
}

// OutputAlias returns the index of the input aliased by the output of op, or -1.
func OutputAlias(op Operation, inputs []shapes.Shape) int {
	if aliaser, ok := op.(Aliaser); ok {
		return aliaser.OutputAlias(inputs)
	}
	return -1
}

// OperationFactory creates an operation from its attributes.
type OperationFactory func(attributes values.Value) (Operation, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]OperationFactory)
)

// RegisterOperation registers the factory used by NewOperation (and so by Program loading)
// to create operations with the given name. Registering the same name twice panics.
func RegisterOperation(name string, factory OperationFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, found := registry[name]; found {
		panic(errors.Errorf("tensorgraph.RegisterOperation(%q): operation already registered", name))
	}
	registry[name] = factory
}

// NewOperation creates a registered operation from its name and attributes.
// attributes may be null for operations without attributes.
func NewOperation(name string, attributes values.Value) (Operation, error) {
	registryMu.RLock()
	factory, found := registry[name]
	registryMu.RUnlock()
	if !found {
		return nil, errors.Errorf("unknown operation %q: is the package implementing it imported?", name)
	}
	op, err := factory(attributes)
	if err != nil {
		return nil, errors.WithMessagef(err, "creating operation %q with attributes %s", name, attributes)
	}
	return op, nil
}

// RegisteredOperations returns the sorted names of the registered operations.
func RegisteredOperations() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := maps.Keys(registry)
	slices.Sort(names)
	return names
}
