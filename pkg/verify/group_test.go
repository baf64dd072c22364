package verify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ryandielhenn/peersync/pkg/p2p"
)

func TestWaitAll(t *testing.T) {
	v, err := New(Config{Interval: time.Millisecond, Budget: 20 * time.Millisecond})
	require.NoError(t, err)

	results, err := v.WaitAll(context.Background(), map[string]Probe{
		"node1": ProbeFunc(func(context.Context) (bool, error) { return true, nil }),
		"node2": ProbeFunc(func(context.Context) (bool, error) { return false, nil }),
	})
	require.NoError(t, err)
	require.Equal(t, Converged, results["node1"].Outcome)
	require.Equal(t, NotConverged, results["node2"].Outcome)
	require.False(t, AllConverged(results))

	delete(results, "node2")
	require.True(t, AllConverged(results))
}

func TestWaitAllErrorCancelsOthers(t *testing.T) {
	v, err := New(Config{Interval: time.Millisecond, Budget: time.Minute})
	require.NoError(t, err)

	boom := errors.New("connection refused")
	start := time.Now()
	_, err = v.WaitAll(context.Background(), map[string]Probe{
		"node1": ProbeFunc(func(context.Context) (bool, error) { return false, nil }),
		"node2": ProbeFunc(func(context.Context) (bool, error) { return false, p2p.Transport("peer info", boom) }),
	})
	require.ErrorIs(t, err, boom)
	require.ErrorIs(t, err, p2p.ErrUnreachable)
	require.ErrorContains(t, err, "node2")
	require.Less(t, time.Since(start), 10*time.Second)
}
