package verify

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

// WaitAll waits on several probes at once, typically one per node, and
// returns each result under its key. The first probe error cancels the
// remaining waits.
func (v *Verifier) WaitAll(ctx context.Context, probes map[string]Probe) (map[string]Result, error) {
	var (
		mu      sync.Mutex
		results = make(map[string]Result, len(probes))
	)
	eg, ctx := errgroup.WithContext(ctx)
	for name, probe := range probes {
		eg.Go(func() error {
			res, err := v.Wait(ctx, probe)
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			mu.Lock()
			results[name] = res
			mu.Unlock()
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// AllConverged reports whether every result converged.
func AllConverged(results map[string]Result) bool {
	for _, r := range results {
		if r.Outcome != Converged {
			return false
		}
	}
	return true
}
