package orchestrator

import (
	"context"

	"github.com/ryandielhenn/peersync/pkg/node"
	"github.com/ryandielhenn/peersync/pkg/verify"
)

// DocIDsPresent is true once the node lists every one of docIDs in
// collection.
func DocIDsPresent(c *node.Client, collection string, docIDs []string) verify.Probe {
	return verify.ProbeFunc(func(ctx context.Context) (bool, error) {
		ids, err := c.DocIDs(ctx, collection)
		if err != nil {
			return false, err
		}
		have := make(map[string]struct{}, len(ids))
		for _, id := range ids {
			have[id] = struct{}{}
		}
		for _, id := range docIDs {
			if _, ok := have[id]; !ok {
				return false, nil
			}
		}
		return true, nil
	})
}

// QueryMatches is true once at least min documents of collection match
// filter.
func QueryMatches(c *node.Client, collection string, filter map[string]any, min int) verify.Probe {
	return verify.ProbeFunc(func(ctx context.Context) (bool, error) {
		n, err := c.Count(ctx, collection, filter)
		if err != nil {
			return false, err
		}
		return n >= min, nil
	})
}
