package fitter

import (
	"context"
	"runtime"
	"sync"

	"github.com/banshee-data/trackfit/internal/surface"
	"github.com/banshee-data/trackfit/internal/track"
)

// BatchItem is one independent track to fit.
type BatchItem struct {
	Start        track.BoundParameters
	StartSurface surface.Surface
	Sequence     []SurfaceMeasurement
}

// BatchResult pairs a fit outcome with the index of its input item.
type BatchResult struct {
	Index  int
	Result *FitResult
	Err    error
}

// FitBatch fits independent tracks concurrently. Tracks share no state, so
// the fan-out is a plain worker pool; workers <= 0 uses one worker per
// CPU. Results are returned in input order.
func (f *KalmanFitter) FitBatch(ctx context.Context, items []BatchItem, workers int, opts FitOptions) []BatchResult {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > len(items) {
		workers = len(items)
	}

	results := make([]BatchResult, len(items))
	jobs := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				item := items[idx]
				res, err := f.Fit(ctx, item.Start, item.StartSurface, item.Sequence, opts)
				results[idx] = BatchResult{Index: idx, Result: res, Err: err}
			}
		}()
	}

	for idx := range items {
		select {
		case jobs <- idx:
		case <-ctx.Done():
			results[idx] = BatchResult{Index: idx, Err: ctx.Err()}
		}
	}
	close(jobs)
	wg.Wait()
	return results
}
