package verifier

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cloudtally/stacktally/internal/dectime"
	"github.com/cloudtally/stacktally/internal/storage"
)

// counters are the running tallies behind the per-batch progress line.
type counters struct {
	inflight atomic.Int64
	success  atomic.Int64
	errored  atomic.Int64
}

// Run scans for settled pending records every TickTime and hands each
// claimed record to the worker pool. It blocks until ctx is cancelled;
// in-flight verifications are drained before it returns.
func (v *Verifier) Run(ctx context.Context) error {
	results := make(chan Result, v.cfg.PoolSize)
	reaperDone := make(chan struct{})
	go func() {
		defer close(reaperDone)
		v.reap(ctx, results)
	}()

	sem := make(chan struct{}, v.cfg.PoolSize)
	var wg sync.WaitGroup
	ticker := time.NewTicker(v.cfg.TickTime)
	defer ticker.Stop()

	for {
		if err := v.processBatch(ctx, sem, &wg, results); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("verifier: scan failed: %v", err)
		}
		select {
		case <-ctx.Done():
			wg.Wait()
			close(results)
			<-reaperDone
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce processes the current pending batch, drains the pool, and returns.
func (v *Verifier) RunOnce(ctx context.Context) error {
	results := make(chan Result, v.cfg.PoolSize)
	reaperDone := make(chan struct{})
	go func() {
		defer close(reaperDone)
		v.reap(ctx, results)
	}()

	sem := make(chan struct{}, v.cfg.PoolSize)
	var wg sync.WaitGroup
	err := v.processBatch(ctx, sem, &wg, results)
	wg.Wait()
	close(results)
	<-reaperDone
	return err
}

// processBatch claims every settled pending record and submits it to the
// pool. A record another verifier process claimed first is skipped silently.
func (v *Verifier) processBatch(ctx context.Context, sem chan struct{}, wg *sync.WaitGroup, results chan<- Result) error {
	settledBefore := dectime.FromTime(v.nowFn().Add(-v.settle))
	pending, err := v.store.FindPendingExists(ctx, settledBefore, v.cfg.BatchLimit)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}

	claimed := 0
	for _, exist := range pending {
		if err := v.store.ClaimInstanceExists(ctx, exist.ID); err != nil {
			if errors.Is(err, storage.ErrStatusConflict) {
				continue
			}
			log.Printf("verifier: claim exists %d: %v", exist.ID, err)
			continue
		}
		claimed++
		v.tallies.inflight.Add(1)

		wg.Add(1)
		go func() {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results <- v.verifyExist(ctx, exist)
		}()
	}

	log.Printf("verifier: N: %d, P: %d, S: %d, E: %d",
		claimed,
		v.tallies.inflight.Load(),
		v.tallies.success.Load(),
		v.tallies.errored.Load())
	return nil
}

// reap drains completed results, keeps the tallies, and republishes verified
// records. It is the single goroutine that touches the publisher, so the
// broker connection sees no concurrent publishes from this process.
func (v *Verifier) reap(ctx context.Context, results <-chan Result) {
	for r := range results {
		v.tallies.inflight.Add(-1)
		if r.Err != nil {
			log.Printf("verifier: exists %d: %v", r.Exist.ID, r.Err)
		}
		if !r.Verified {
			v.tallies.errored.Add(1)
			continue
		}
		v.tallies.success.Add(1)
		if v.pub == nil {
			continue
		}
		if err := v.pub.PublishVerified(ctx, r.Exist); err != nil {
			// The record stays verified; the notification can be re-emitted
			// by an operator pass without redoing verification.
			log.Printf("verifier: publish verified exists %d: %v", r.Exist.ID, err)
		}
	}
}
