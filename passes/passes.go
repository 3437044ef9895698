// Package passes implements the standard transformations of tensorgraph modules: constant
// propagation, removal of redundant materializations, allocation fusion of concatenations and
// dead-code elimination.
//
// Each pass implements tensorgraph.Pass and is run with tensorgraph.RunPasses. Default returns
// the standard pipeline.
package passes

import (
	"github.com/gomlx/tensorgraph"
	"github.com/gomlx/tensorgraph/config"
)

// Default returns the standard pipeline configured by opts.
func Default(opts config.Options) []tensorgraph.Pass {
	return []tensorgraph.Pass{
		EliminateContiguous{Workers: opts.NumWorkers()},
		DeadCodeElimination{},
		PropagateConstant{
			SkipOps: opts.PropagateConstantSkipOps,
			Workers: opts.NumWorkers(),
			Trace:   opts.TracePropagateConstant,
		},
		DeadCodeElimination{},
		EliminateConcat{},
		DeadCodeElimination{},
	}
}
