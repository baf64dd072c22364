package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ryandielhenn/peersync/internal/config"
	"github.com/ryandielhenn/peersync/internal/logging"
	"github.com/ryandielhenn/peersync/pkg/node"
	"github.com/ryandielhenn/peersync/pkg/orchestrator"
	"github.com/ryandielhenn/peersync/pkg/verify"
)

var (
	configPath string
	opts       options
)

type options struct {
	From        string
	To          string
	Collection  string
	Docs        int
	Concurrency int
	Size        int
	Replicate   bool
}

type report struct {
	Docs          int           `json:"docs"`
	CreateElapsed time.Duration `json:"createElapsed"`
	CreatesPerSec float64       `json:"createsPerSec"`
	Convergence   verify.Result `json:"convergence"`
}

func init() {
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to the YAML config file")
	cmd.Flags().StringVar(&opts.From, "from", "", "node to create documents on")
	cmd.Flags().StringVar(&opts.To, "to", "", "node expected to receive them")
	cmd.Flags().StringVar(&opts.Collection, "collection", "User", "collection to write")
	cmd.Flags().IntVarP(&opts.Docs, "docs", "n", 500, "documents to create")
	cmd.Flags().IntVar(&opts.Concurrency, "concurrency", 16, "concurrent creates")
	cmd.Flags().IntVar(&opts.Size, "size", 128, "payload bytes per document")
	cmd.Flags().BoolVar(&opts.Replicate, "replicate", true, "add a replicator from --from to --to first")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
}

var cmd = &cobra.Command{
	Use:   "bench",
	Short: "measure how long documents written on one node take to reach another",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.LoadConfig(configPath)
		if err != nil {
			return err
		}
		logger, err := logging.New(cfg.Logging)
		if err != nil {
			return err
		}
		defer logger.Sync()

		clients := make([]*node.Client, 0, len(cfg.Nodes))
		for _, nc := range cfg.Nodes {
			c, err := node.NewClient(nc.Name, nc.URL,
				node.WithLogger(logger),
				node.WithTimeout(cfg.HTTP.TimeoutDuration()),
			)
			if err != nil {
				return err
			}
			clients = append(clients, c)
		}
		v, err := verify.New(verify.Config{
			Interval: cfg.Verify.IntervalDuration(),
			Budget:   cfg.Verify.BudgetDuration(),
		}, verify.WithLogger(logger))
		if err != nil {
			return err
		}
		s, err := orchestrator.NewSession(clients, orchestrator.WithLogger(logger), orchestrator.WithVerifier(v))
		if err != nil {
			return err
		}

		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()
		rep, err := bench(ctx, s, logger, opts)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	},
}

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// bench writes o.Docs documents to o.From and waits for o.To to list them.
func bench(ctx context.Context, s *orchestrator.Session, logger *zap.Logger, o options) (report, error) {
	if o.Docs <= 0 || o.Concurrency <= 0 {
		return report{}, fmt.Errorf("docs and concurrency must be positive")
	}
	from, err := s.Node(o.From)
	if err != nil {
		return report{}, err
	}
	to, err := s.Node(o.To)
	if err != nil {
		return report{}, err
	}
	if o.Replicate {
		if err := s.EnsureReplicator(ctx, o.From, o.To, []string{o.Collection}); err != nil {
			return report{}, err
		}
	}

	// A run ID keeps content-derived document IDs unique across runs.
	run := uuid.NewString()
	payload := strings.Repeat("x", o.Size)

	var (
		mu  sync.Mutex
		ids = make([]string, 0, o.Docs)
	)
	start := time.Now()
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(o.Concurrency)
	for i := 0; i < o.Docs; i++ {
		eg.Go(func() error {
			id, err := from.CreateDocument(egCtx, o.Collection, map[string]any{
				"run":     run,
				"seq":     i,
				"payload": payload,
			})
			if err != nil {
				return fmt.Errorf("document %d: %w", i, err)
			}
			mu.Lock()
			ids = append(ids, id)
			mu.Unlock()
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return report{}, err
	}
	created := time.Since(start)
	logger.Info("documents created",
		zap.Int("docs", len(ids)),
		zap.Duration("elapsed", created),
	)

	res, err := s.Verify(ctx, orchestrator.DocIDsPresent(to, o.Collection, ids))
	if err != nil {
		return report{}, err
	}
	return report{
		Docs:          len(ids),
		CreateElapsed: created,
		CreatesPerSec: float64(len(ids)) / created.Seconds(),
		Convergence:   res,
	}, nil
}
