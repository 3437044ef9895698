// Package parallel implements a fork-join loop over independent tasks.
package parallel

import (
	"sync"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

type asyncErrors struct {
	locker sync.Mutex
	errs   error
}

func (ae *asyncErrors) add(err error) {
	ae.locker.Lock()
	defer ae.locker.Unlock()
	ae.errs = multierr.Append(ae.errs, err)
}

// For calls fn(i) for i in [0, n) using up to workers goroutines, and returns once all calls
// have finished.
//
// Tasks are split in contiguous ranges, one per worker. A failing task doesn't stop the others:
// all errors are combined (see multierr.Errors) in the returned error.
// fn must only write to state owned by task i.
func For(n, workers int, fn func(i int) error) error {
	if n <= 0 {
		return nil
	}
	workers = max(1, min(workers, n))
	if workers == 1 {
		var errs error
		for i := range n {
			errs = multierr.Append(errs, fn(i))
		}
		return errs
	}
	grain := (n + workers - 1) / workers
	var (
		g    errgroup.Group
		errs asyncErrors
	)
	g.SetLimit(workers)
	for start := 0; start < n; start += grain {
		end := min(start+grain, n)
		g.Go(func() error {
			for i := start; i < end; i++ {
				if err := fn(i); err != nil {
					errs.add(err)
				}
			}
			return nil
		})
	}
	_ = g.Wait()
	return errs.errs
}
