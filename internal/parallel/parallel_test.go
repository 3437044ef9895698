package parallel

import (
	"sync/atomic"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
)

func TestFor(t *testing.T) {
	for _, workers := range []int{0, 1, 3, 8, 100} {
		results := make([]int, 37)
		var calls atomic.Int32
		err := For(len(results), workers, func(i int) error {
			calls.Add(1)
			results[i] = i * i
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, int32(len(results)), calls.Load(), "workers=%d", workers)
		for i, r := range results {
			assert.Equal(t, i*i, r, "workers=%d, task %d", workers, i)
		}
	}
	assert.NoError(t, For(0, 4, func(int) error { panic("not called") }))
}

func TestForErrors(t *testing.T) {
	var done atomic.Int32
	err := For(10, 4, func(i int) error {
		done.Add(1)
		if i%3 == 0 {
			return errors.Errorf("task %d failed", i)
		}
		return nil
	})
	require.Error(t, err)
	assert.Len(t, multierr.Errors(err), 4)
	assert.Equal(t, int32(10), done.Load(), "failures must not stop the other tasks")
}
