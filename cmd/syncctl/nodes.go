package main

import (
	"errors"
	"fmt"
	"sort"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ryandielhenn/peersync/discovery"
	"github.com/ryandielhenn/peersync/internal/config"
)

var watchNodes bool

func init() {
	nodesCmd.Flags().BoolVarP(&watchNodes, "watch", "w", false, "keep printing the node set as it changes in etcd")
}

var nodesCmd = &cobra.Command{
	Use:         "nodes",
	Short:       "list the nodes syncctl resolves, or follow them in etcd with --watch",
	Args:        cobra.NoArgs,
	Annotations: map[string]string{nodesOptional: ""},
	RunE: func(cmd *cobra.Command, _ []string) error {
		if !watchNodes {
			return state.print(nodeSet(state.nodes))
		}
		if len(state.cfg.Discovery.Endpoints) == 0 {
			return errors.New("--watch needs discovery endpoints")
		}
		cli, err := discovery.NewClient(state.cfg.Discovery.Endpoints, state.cfg.Discovery.DialTimeoutDuration())
		if err != nil {
			return fmt.Errorf("creating etcd client: %w", err)
		}
		defer cli.Close()

		var prev map[string]string
		return discovery.WatchNodes(cmd.Context(), cli, state.logger, state.cfg.Discovery.Prefix, func(cur map[string]string) {
			change := diffNodes(prev, cur)
			prev = cur
			if err := state.print(change); err != nil {
				state.logger.Warn("printing node set", zap.Error(err))
			}
		})
	},
}

type nodeChange struct {
	Nodes   map[string]string `json:"nodes"`
	Added   []string          `json:"added,omitempty"`
	Removed []string          `json:"removed,omitempty"`
}

func nodeSet(nodes []config.NodeConfig) map[string]string {
	out := make(map[string]string, len(nodes))
	for _, n := range nodes {
		out[n.Name] = n.URL
	}
	return out
}

// diffNodes reports cur with the names that appeared or changed URL since
// prev, and the names that went away.
func diffNodes(prev, cur map[string]string) nodeChange {
	change := nodeChange{Nodes: cur}
	for name, url := range cur {
		if old, ok := prev[name]; !ok || old != url {
			change.Added = append(change.Added, name)
		}
	}
	for name := range prev {
		if _, ok := cur[name]; !ok {
			change.Removed = append(change.Removed, name)
		}
	}
	sort.Strings(change.Added)
	sort.Strings(change.Removed)
	return change
}
