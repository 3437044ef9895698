// Package config holds the options of the compiler passes.
//
// Options can be built in code (Default and the With... setters), loaded from an HCL file
// (LoadFile) and overridden by environment variables (FromEnv).
package config

import (
	"runtime"
	"slices"
)

// Options of a compilation.
type Options struct {
	// DisabledPasses lists the names of the passes to skip.
	DisabledPasses []string `hcl:"disabled_passes,optional"`

	// SkipValidation disables the program validation after each pass.
	SkipValidation bool `hcl:"skip_validation,optional"`

	// TimePasses logs the time taken by each pass on each module.
	TimePasses bool `hcl:"time_passes,optional"`

	// TracePasses logs each module before and after each pass.
	TracePasses bool `hcl:"trace_passes,optional"`

	// TracePropagateConstant logs the constant sub-graphs folded by constant propagation.
	TracePropagateConstant bool `hcl:"trace_propagate_constant,optional"`

	// Workers is the number of parallel workers used to evaluate constants.
	// If <= 0, runtime.NumCPU() is used.
	Workers int `hcl:"workers,optional"`

	// PropagateConstantSkipOps lists operator names constant propagation won't fold.
	PropagateConstantSkipOps []string `hcl:"propagate_constant_skip_ops,optional"`
}

// Default returns the default options: all passes enabled, validation on, no tracing.
func Default() Options {
	return Options{}
}

// WithDisabledPasses returns a copy of the options with the given passes disabled, in addition
// to the ones already disabled.
func (o Options) WithDisabledPasses(names ...string) Options {
	o.DisabledPasses = append(slices.Clone(o.DisabledPasses), names...)
	return o
}

// WithSkipValidation returns a copy of the options with SkipValidation set.
func (o Options) WithSkipValidation(skip bool) Options {
	o.SkipValidation = skip
	return o
}

// WithTimePasses returns a copy of the options with TimePasses set.
func (o Options) WithTimePasses(enabled bool) Options {
	o.TimePasses = enabled
	return o
}

// WithTracePasses returns a copy of the options with TracePasses set.
func (o Options) WithTracePasses(enabled bool) Options {
	o.TracePasses = enabled
	return o
}

// WithTracePropagateConstant returns a copy of the options with TracePropagateConstant set.
func (o Options) WithTracePropagateConstant(enabled bool) Options {
	o.TracePropagateConstant = enabled
	return o
}

// WithWorkers returns a copy of the options with the number of workers set.
func (o Options) WithWorkers(workers int) Options {
	o.Workers = workers
	return o
}

// WithPropagateConstantSkipOps returns a copy of the options with the given operator names
// excluded from constant propagation, in addition to the ones already excluded.
func (o Options) WithPropagateConstantSkipOps(names ...string) Options {
	o.PropagateConstantSkipOps = append(slices.Clone(o.PropagateConstantSkipOps), names...)
	return o
}

// IsPassDisabled returns whether the pass with the given name is disabled.
func (o Options) IsPassDisabled(name string) bool {
	return slices.Contains(o.DisabledPasses, name)
}

// NumWorkers returns the effective number of workers.
func (o Options) NumWorkers() int {
	if o.Workers <= 0 {
		return runtime.NumCPU()
	}
	return o.Workers
}
