package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ryandielhenn/peersync/pkg/node"
	"github.com/ryandielhenn/peersync/pkg/orchestrator"
	"github.com/ryandielhenn/peersync/pkg/verify"
)

var (
	targetNode   string
	collections  []string
	collection   string
	docID        string
	syncTimeout  string
	syncVerify   bool
	filterFields []string
	minMatches   int
	allNodes     bool
)

func init() {
	replicatorsAddCmd.Flags().StringVar(&targetNode, "to", "", "node to replicate to")
	replicatorsAddCmd.Flags().StringSliceVar(&collections, "collections", nil, "collections to replicate")
	replicatorsRmCmd.Flags().StringVar(&targetNode, "to", "", "node to stop replicating to")
	replicatorsRmCmd.Flags().StringSliceVar(&collections, "collections", nil, "collections to stop replicating")
	for _, c := range []*cobra.Command{replicatorsAddCmd, replicatorsRmCmd} {
		_ = c.MarkFlagRequired("to")
		_ = c.MarkFlagRequired("collections")
	}
	replicatorsCmd.AddCommand(replicatorsAddCmd, replicatorsListCmd, replicatorsRmCmd)

	for _, c := range []*cobra.Command{createCmd, idsCmd, syncCmd, verifyCmd, coverageCmd} {
		c.Flags().StringVar(&collection, "collection", "", "collection name")
		_ = c.MarkFlagRequired("collection")
	}

	syncCmd.Flags().StringVar(&syncTimeout, "timeout", "", "server-side sync timeout (defaults to sync.timeout)")
	syncCmd.Flags().BoolVar(&syncVerify, "verify", false, "wait until the node lists the documents")

	verifyCmd.Flags().StringSliceVar(&filterFields, "where", nil, "field=value equality filters; switches to a count query")
	verifyCmd.Flags().IntVar(&minMatches, "min", 1, "documents that must match --where")
	verifyCmd.Flags().BoolVar(&allNodes, "all", false, "verify on every node at once")

	coverageCmd.Flags().StringVar(&docID, "doc", "", "document ID")
}

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "print the peer identity of every node",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		infos, err := state.session.PeerInfos(cmd.Context())
		if err != nil {
			return err
		}
		return state.print(infos)
	},
}

var replicatorsCmd = &cobra.Command{
	Use:   "replicators",
	Short: "manage replicators on --node",
}

var replicatorsAddCmd = &cobra.Command{
	Use:   "add",
	Short: "replicate collections from --node to --to",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return state.session.EnsureReplicator(cmd.Context(), nodeName, targetNode, collections)
	},
}

var replicatorsListCmd = &cobra.Command{
	Use:   "list",
	Short: "list replicators on --node",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		c, err := state.current()
		if err != nil {
			return err
		}
		reps, err := c.Replicators(cmd.Context())
		if err != nil {
			return err
		}
		return state.print(reps)
	},
}

var replicatorsRmCmd = &cobra.Command{
	Use:   "rm",
	Short: "stop replicating collections from --node to --to",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		c, err := state.current()
		if err != nil {
			return err
		}
		target, err := state.session.Node(targetNode)
		if err != nil {
			return err
		}
		info, err := target.PeerInfo(cmd.Context())
		if err != nil {
			return err
		}
		return c.RemoveReplicator(cmd.Context(), info, collections)
	},
}

// gatingCmd builds the add/list/rm tree shared by both gating sets.
func gatingCmd(use, short string, table func(*node.Client) *node.GatingTable) *cobra.Command {
	parent := &cobra.Command{Use: use, Short: "manage " + short + " on --node"}
	withTable := func(run func(cmd *cobra.Command, t *node.GatingTable, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			c, err := state.current()
			if err != nil {
				return err
			}
			return run(cmd, table(c), args)
		}
	}
	parent.AddCommand(
		&cobra.Command{
			Use:   "add NAME...",
			Short: "add members",
			Args:  cobra.MinimumNArgs(1),
			RunE: withTable(func(cmd *cobra.Command, t *node.GatingTable, args []string) error {
				return t.Add(cmd.Context(), args)
			}),
		},
		&cobra.Command{
			Use:   "list",
			Short: "list members",
			Args:  cobra.NoArgs,
			RunE: withTable(func(cmd *cobra.Command, t *node.GatingTable, _ []string) error {
				members, err := t.List(cmd.Context())
				if err != nil {
					return err
				}
				return state.print(members)
			}),
		},
		&cobra.Command{
			Use:   "rm NAME...",
			Short: "remove members",
			Args:  cobra.MinimumNArgs(1),
			RunE: withTable(func(cmd *cobra.Command, t *node.GatingTable, args []string) error {
				return t.Remove(cmd.Context(), args)
			}),
		},
	)
	return parent
}

var createCmd = &cobra.Command{
	Use:   "create JSON",
	Short: "create a document on --node and print its ID",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := state.current()
		if err != nil {
			return err
		}
		var doc map[string]any
		if err := json.Unmarshal([]byte(args[0]), &doc); err != nil {
			return fmt.Errorf("document must be a JSON object: %w", err)
		}
		id, err := c.CreateDocument(cmd.Context(), collection, doc)
		if err != nil {
			return err
		}
		return state.print(map[string]string{"docID": id})
	},
}

var idsCmd = &cobra.Command{
	Use:   "ids",
	Short: "list document IDs of a collection on --node",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		c, err := state.current()
		if err != nil {
			return err
		}
		ids, err := c.DocIDs(cmd.Context(), collection)
		if err != nil {
			return err
		}
		return state.print(ids)
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync DOCID...",
	Short: "ask --node to fetch documents from its peers now",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		timeout := state.cfg.Sync.TimeoutDuration()
		if syncTimeout != "" {
			d, err := time.ParseDuration(syncTimeout)
			if err != nil {
				return err
			}
			timeout = d
		}
		if !syncVerify {
			c, err := state.current()
			if err != nil {
				return err
			}
			return c.SyncDocuments(cmd.Context(), collection, args, timeout)
		}
		res, err := state.session.SyncAndVerify(cmd.Context(), nodeName, collection, args, timeout, nil)
		if err != nil {
			return err
		}
		if err := state.print(res); err != nil {
			return err
		}
		return outcomeErr(res)
	},
}

var verifyCmd = &cobra.Command{
	Use:   "verify [DOCID...]",
	Short: "wait until documents, or --where matches, are visible on --node",
	RunE: func(cmd *cobra.Command, args []string) error {
		filter, err := parseWhere(filterFields)
		if err != nil {
			return err
		}
		if filter == nil && len(args) == 0 {
			return fmt.Errorf("give document IDs or --where")
		}
		probeFor := func(c *node.Client) verify.Probe {
			if filter != nil {
				return orchestrator.QueryMatches(c, collection, filter, minMatches)
			}
			return orchestrator.DocIDsPresent(c, collection, args)
		}

		if !allNodes {
			c, err := state.current()
			if err != nil {
				return err
			}
			res, err := state.session.Verify(cmd.Context(), probeFor(c))
			if err != nil {
				return err
			}
			if err := state.print(res); err != nil {
				return err
			}
			return outcomeErr(res)
		}

		probes := make(map[string]verify.Probe)
		for _, name := range state.session.Names() {
			c, _ := state.session.Node(name)
			probes[name] = probeFor(c)
		}
		results, err := state.session.VerifyAll(cmd.Context(), probes)
		if err != nil {
			return err
		}
		if err := state.print(results); err != nil {
			return err
		}
		if !verify.AllConverged(results) {
			return errNotConverged
		}
		return nil
	},
}

var coverageCmd = &cobra.Command{
	Use:   "coverage",
	Short: "show which sync mechanisms on --node cover a collection or document",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cov, err := state.session.Coverage(cmd.Context(), nodeName, collection, docID)
		if err != nil {
			return err
		}
		return state.print(cov)
	},
}

// parseWhere turns field=value pairs into an _eq filter. Values that parse
// as JSON keep their type; anything else is a string.
func parseWhere(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	filter := make(map[string]any, len(pairs))
	for _, p := range pairs {
		field, raw, ok := strings.Cut(p, "=")
		if !ok || field == "" {
			return nil, fmt.Errorf("invalid filter %q, want field=value", p)
		}
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			v = raw
		}
		filter[field] = map[string]any{"_eq": v}
	}
	return filter, nil
}
