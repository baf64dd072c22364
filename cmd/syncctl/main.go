package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ryandielhenn/peersync/discovery"
	"github.com/ryandielhenn/peersync/internal/config"
	"github.com/ryandielhenn/peersync/internal/logging"
	"github.com/ryandielhenn/peersync/pkg/node"
	"github.com/ryandielhenn/peersync/pkg/orchestrator"
	"github.com/ryandielhenn/peersync/pkg/verify"
)

var (
	configPath string
	nodeName   string
)

// app is built once per invocation from the config, the environment and
// discovery, before any subcommand runs.
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	nodes   []config.NodeConfig
	session *orchestrator.Session
	out     io.Writer
}

// nodesOptional marks commands that run without any node configured.
const nodesOptional = "nodes-optional"

var state app

func init() {
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to the YAML config file")
	root.PersistentFlags().StringVarP(&nodeName, "node", "n", "", "node to act on (defaults to the first configured node)")

	root.AddCommand(
		infoCmd,
		nodesCmd,
		replicatorsCmd,
		gatingCmd("collections", "collection-level peer gating", (*node.Client).Collections),
		gatingCmd("documents", "document-level peer gating", (*node.Client).Documents),
		createCmd,
		idsCmd,
		syncCmd,
		verifyCmd,
		coverageCmd,
	)
}

var root = &cobra.Command{
	Use:           "syncctl",
	Short:         "inspect and drive sync between document store nodes",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		_, optional := cmd.Annotations[nodesOptional]
		return state.setup(cmd.Context(), cmd.OutOrStdout(), optional)
	},
	PersistentPostRun: func(*cobra.Command, []string) {
		if state.logger != nil {
			_ = state.logger.Sync()
		}
	},
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func (a *app) setup(ctx context.Context, out io.Writer, nodesOptional bool) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	a.cfg, a.logger, a.out = cfg, logger, out

	nodes := cfg.Nodes
	if len(nodes) == 0 && len(cfg.Discovery.Endpoints) > 0 {
		if nodes, err = discoverNodes(ctx, cfg, logger); err != nil {
			return err
		}
	}
	a.nodes = nodes
	if len(nodes) == 0 {
		if nodesOptional {
			return nil
		}
		return fmt.Errorf("no nodes configured; set nodes in the config file, %s, or discovery endpoints", config.EnvNodes)
	}

	clients := make([]*node.Client, 0, len(nodes))
	for _, nc := range nodes {
		c, err := node.NewClient(nc.Name, nc.URL,
			node.WithLogger(logger),
			node.WithTimeout(cfg.HTTP.TimeoutDuration()),
			node.WithReadRetries(cfg.HTTP.MaxReadRetries, cfg.HTTP.RetryWaitMinDuration(), cfg.HTTP.RetryWaitMaxDuration()),
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
	a.session, err = orchestrator.NewSession(clients, orchestrator.WithLogger(logger), orchestrator.WithVerifier(v))
	if err != nil {
		return err
	}
	if nodeName == "" {
		nodeName = nodes[0].Name
	}
	return nil
}

func discoverNodes(ctx context.Context, cfg *config.Config, logger *zap.Logger) ([]config.NodeConfig, error) {
	cli, err := discovery.NewClient(cfg.Discovery.Endpoints, cfg.Discovery.DialTimeoutDuration())
	if err != nil {
		return nil, fmt.Errorf("creating etcd client: %w", err)
	}
	defer cli.Close()

	found, err := discovery.ListNodes(ctx, cli, cfg.Discovery.Prefix)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(found))
	for name := range found {
		names = append(names, name)
	}
	sort.Strings(names)
	nodes := make([]config.NodeConfig, 0, len(names))
	for _, name := range names {
		nodes = append(nodes, config.NodeConfig{Name: name, URL: found[name]})
	}
	logger.Debug("discovered nodes", zap.Strings("nodes", names))
	return nodes, nil
}

// current returns the client selected with --node.
func (a *app) current() (*node.Client, error) {
	return a.session.Node(nodeName)
}

func (a *app) print(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var errNotConverged = errors.New("not converged")

// outcomeErr turns a verifier outcome into the command's exit status.
func outcomeErr(res verify.Result) error {
	if res.Outcome == verify.Converged {
		return nil
	}
	return fmt.Errorf("%w: %s after %d polls", errNotConverged, res.Outcome, res.Polls)
}
