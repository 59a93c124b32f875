package fn

import (
	"context"
	"sync"
)

// ParMapResult applies f with bounded concurrency, returning Results in input
// order. Once ctx is done no new items are started; their slots hold
// Err(ctx.Err()). Items already running are left to observe ctx themselves.
func ParMapResult[T, U any](ctx context.Context, items []T, workers int, f func(context.Context, int, T) Result[U]) []Result[U] {
	out := make([]Result[U], len(items))
	if len(items) == 0 {
		return out
	}
	if workers <= 0 || workers > len(items) {
		workers = len(items)
	}

	var wg sync.WaitGroup
	sem := make(chan struct{}, workers)
	for i, v := range items {
		select {
		case <-ctx.Done():
			for j := i; j < len(items); j++ {
				out[j] = Err[U](ctx.Err())
			}
			wg.Wait()
			return out
		case sem <- struct{}{}:
		}
		// The semaphore may win the race against a done context.
		if ctx.Err() != nil {
			<-sem
			for j := i; j < len(items); j++ {
				out[j] = Err[U](ctx.Err())
			}
			break
		}
		wg.Add(1)
		go func(i int, v T) {
			defer func() { <-sem; wg.Done() }()
			out[i] = f(ctx, i, v)
		}(i, v)
	}
	wg.Wait()
	return out
}
