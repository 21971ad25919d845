package pipeline

import (
	"context"
	"log/slog"
	"sync"

	"github.com/sourcegraph/conc/pool"
)

// BatchPolicy decides what a segment failure does to its siblings.
type BatchPolicy string

const (
	// PolicyIsolate keeps running every segment; failures stay in their slot.
	PolicyIsolate BatchPolicy = "isolate"
	// PolicyFailFast cancels the remaining segments after the first failure.
	PolicyFailFast BatchPolicy = "fail_fast"
)

// ParseBatchPolicy maps a config value to a policy, defaulting to isolate.
func ParseBatchPolicy(s string) BatchPolicy {
	if BatchPolicy(s) == PolicyFailFast {
		return PolicyFailFast
	}
	return PolicyIsolate
}

// SettleFunc observes each segment as it settles. Calls are serialized and
// run outside the admission gate, so a slow observer never holds a slot.
type SettleFunc func(index int, result ClipResult)

// Orchestrator fans ClipJobs out under a fixed admission gate.
type Orchestrator struct {
	runner         JobRunner
	maxConcurrency int
	policy         BatchPolicy
	logger         *slog.Logger
}

// NewOrchestrator creates an Orchestrator. maxConcurrency < 1 is treated as 1.
func NewOrchestrator(runner JobRunner, maxConcurrency int, policy BatchPolicy, logger *slog.Logger) *Orchestrator {
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}
	return &Orchestrator{
		runner:         runner,
		maxConcurrency: maxConcurrency,
		policy:         policy,
		logger:         logger.With("component", "orchestrator"),
	}
}

// RunMany runs one job per range and returns results in the order of ranges,
// whatever order the jobs finish in. It only returns an error for requests
// that are rejected before any job starts.
func (o *Orchestrator) RunMany(ctx context.Context, src *LocalSource, ranges []TimeRange, opts JobOptions, onSettled SettleFunc) ([]ClipResult, error) {
	const op = "run segments"
	if len(ranges) == 0 {
		return nil, newError(KindInvalidRequest, op, "at least one range is required")
	}
	if !opts.WantPreview && !opts.WantFinal {
		return nil, newError(KindInvalidRequest, op, "neither preview nor final requested")
	}
	if src == nil {
		return nil, newError(KindInvalidRequest, op, "no source")
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make([]ClipResult, len(ranges))
	var mu sync.Mutex

	// Each index settles exactly once, so the buffer never fills.
	settled := make(chan int, len(ranges))
	observed := make(chan struct{})
	go func() {
		defer close(observed)
		for i := range settled {
			if onSettled != nil {
				mu.Lock()
				res := results[i]
				mu.Unlock()
				onSettled(i, res)
			}
		}
	}()

	settle := func(i int, res ClipResult) {
		mu.Lock()
		results[i] = res
		mu.Unlock()
		settled <- i
	}

	p := pool.New().WithMaxGoroutines(o.maxConcurrency)
	for i, r := range ranges {
		job := ClipJob{Index: i, Source: src, Range: r, JobOptions: opts}
		p.Go(func() {
			if err := runCtx.Err(); err != nil {
				settle(job.Index, ClipResult{
					Range: job.Range,
					Err:   &Error{Kind: KindCanceled, Op: op, Message: "skipped after an earlier failure", Err: err},
				})
				return
			}

			res := o.runner.Run(runCtx, job)
			if res.Err != nil {
				o.logger.Warn("segment failed",
					"index", job.Index,
					"range", job.Range.String(),
					"kind", res.Err.Kind,
					"error", res.Err.Error(),
				)
				if o.policy == PolicyFailFast && res.Err.Kind != KindCanceled {
					cancel()
				}
			}
			settle(job.Index, res)
		})
	}
	p.Wait()
	close(settled)
	<-observed

	return results, nil
}
