// Package verify waits, within a bounded budget, for a change made on one
// node to become observable on another. Replication is asynchronous and
// best effort, so not converging in time is an outcome, not an error.
package verify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/ryandielhenn/peersync/internal/telemetry"
	"github.com/ryandielhenn/peersync/pkg/p2p"
)

type Outcome uint8

const (
	NotConverged Outcome = iota
	Converged
	Cancelled
)

func (o Outcome) String() string {
	switch o {
	case Converged:
		return "converged"
	case Cancelled:
		return "cancelled"
	default:
		return "not converged"
	}
}

func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// Probe checks once whether the expected change is visible.
type Probe interface {
	Check(ctx context.Context) (bool, error)
}

type ProbeFunc func(ctx context.Context) (bool, error)

func (f ProbeFunc) Check(ctx context.Context) (bool, error) { return f(ctx) }

type Config struct {
	Interval time.Duration
	Budget   time.Duration
}

func DefaultConfig() Config {
	return Config{
		Interval: 500 * time.Millisecond,
		Budget:   10 * time.Second,
	}
}

func (c Config) Validate() error {
	if c.Interval <= 0 {
		return errors.New("poll interval must be positive")
	}
	if c.Budget < c.Interval {
		return fmt.Errorf("budget %s is shorter than the poll interval %s", c.Budget, c.Interval)
	}
	return nil
}

type Result struct {
	Outcome Outcome       `json:"outcome"`
	Polls   int           `json:"polls"`
	Elapsed time.Duration `json:"elapsed"`
}

type Verifier struct {
	cfg    Config
	clock  clockwork.Clock
	logger *zap.Logger
}

type Opt func(*Verifier)

func WithClock(clock clockwork.Clock) Opt {
	return func(v *Verifier) { v.clock = clock }
}

func WithLogger(logger *zap.Logger) Opt {
	return func(v *Verifier) { v.logger = logger }
}

func New(cfg Config, opts ...Opt) (*Verifier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	v := &Verifier{
		cfg:    cfg,
		clock:  clockwork.NewRealClock(),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

func (v *Verifier) Config() Config { return v.cfg }

// Wait polls probe immediately and then every Interval until it reports
// true or the next poll would start at or after the budget. Cancelling ctx
// stops the loop before the next poll and yields Cancelled. Only probe
// failures that could not reach the node, or timed out, are returned as
// errors. Any other probe failure counts as a poll that saw nothing yet.
func (v *Verifier) Wait(ctx context.Context, probe Probe) (Result, error) {
	start := v.clock.Now()
	deadline := start.Add(v.cfg.Budget)
	var res Result

	finish := func(o Outcome) (Result, error) {
		res.Outcome = o
		res.Elapsed = v.clock.Since(start)
		telemetry.VerifyOutcomes.WithLabelValues(o.String()).Inc()
		v.logger.Debug("convergence wait finished",
			zap.Stringer("outcome", o),
			zap.Int("polls", res.Polls),
			zap.Duration("elapsed", res.Elapsed),
		)
		return res, nil
	}

	for {
		if ctx.Err() != nil {
			return finish(Cancelled)
		}

		res.Polls++
		telemetry.VerifyPolls.Inc()
		ok, err := probe.Check(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return finish(Cancelled)
			}
			if transportFailure(err) {
				res.Elapsed = v.clock.Since(start)
				return res, fmt.Errorf("convergence probe %d: %w", res.Polls, err)
			}
			v.logger.Debug("convergence probe failed, polling again",
				zap.Int("poll", res.Polls),
				zap.Error(err),
			)
			ok = false
		}
		if ok {
			return finish(Converged)
		}

		if !v.clock.Now().Add(v.cfg.Interval).Before(deadline) {
			return finish(NotConverged)
		}

		select {
		case <-ctx.Done():
			return finish(Cancelled)
		case <-v.clock.After(v.cfg.Interval):
		}
	}
}

func transportFailure(err error) bool {
	switch p2p.KindOf(err) {
	case p2p.KindUnreachable, p2p.KindTimeout:
		return true
	}
	return false
}
