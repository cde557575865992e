package catalog

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// forEach calls fn for every index in [0, n) on at most limit goroutines and
// returns once all calls have finished. fn stores its own outcome by index;
// one failing call never stops the others.
func forEach(ctx context.Context, limit, n int, fn func(ctx context.Context, i int)) {
	if n == 0 {
		return
	}
	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i := 0; i < n; i++ {
		g.Go(func() error {
			fn(ctx, i)
			return nil
		})
	}
	_ = g.Wait()
}
