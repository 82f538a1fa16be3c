package fn

import (
	"context"
	"sync"
)

// ParMapCtx applies f to every item with at most workers goroutines in flight
// and returns the results in input order. Items that have not started when ctx
// is done fail with the context error. With failFast set, the first failed
// item cancels the context handed to the remaining calls.
func ParMapCtx[T, U any](ctx context.Context, items []T, workers int, failFast bool, f func(context.Context, T) Result[U]) []Result[U] {
	out := make([]Result[U], len(items))
	if len(items) == 0 {
		return out
	}
	if workers <= 0 || workers > len(items) {
		workers = len(items)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	sem := make(chan struct{}, workers)
	for i, v := range items {
		select {
		case <-ctx.Done():
			out[i] = Err[U](ctx.Err())
			continue
		case sem <- struct{}{}:
		}
		wg.Add(1)
		go func(i int, v T) {
			defer func() { <-sem; wg.Done() }()
			if err := ctx.Err(); err != nil {
				out[i] = Err[U](err)
				return
			}
			r := f(ctx, v)
			out[i] = r
			if failFast && r.IsErr() {
				cancel()
			}
		}(i, v)
	}
	wg.Wait()
	return out
}
