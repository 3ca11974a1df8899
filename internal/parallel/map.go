package parallel

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Map applies mapFunc to every item using at most limit goroutines and
// returns the results in input order. The first error cancels the context
// passed to the remaining calls and is returned. Limit <= 0 means one
// goroutine per item.
func Map[E, D any](ctx context.Context, limit int, items []E, mapFunc func(context.Context, E) (D, error)) ([]D, error) {
	ret := make([]D, len(items))
	if len(items) == 0 {
		return ret, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, item := range items {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			d, err := mapFunc(gctx, item)
			if err != nil {
				return err
			}
			// each goroutine owns its own index
			ret[i] = d
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return ret, nil
}
