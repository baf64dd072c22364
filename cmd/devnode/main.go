package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	ma "github.com/multiformats/go-multiaddr"
	"github.com/spf13/cobra"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ryandielhenn/peersync/discovery"
	"github.com/ryandielhenn/peersync/internal/config"
	"github.com/ryandielhenn/peersync/internal/devnode"
	"github.com/ryandielhenn/peersync/internal/logging"
	"github.com/ryandielhenn/peersync/internal/telemetry"
	"github.com/ryandielhenn/peersync/pkg/node"
)

var (
	version = "dev"
	commit  = "unknown"
)

var (
	configPath string
	listen     string
	name       string
	peerID     string
	count      int
)

func init() {
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to the YAML config file")
	cmd.Flags().StringVar(&listen, "listen", "", "listen address of the first node, e.g. :9181")
	cmd.Flags().StringVar(&name, "name", "", "node name, suffixed with an index when running several")
	cmd.Flags().StringVar(&peerID, "peer-id", "", "peer ID of the first node (random when empty)")
	cmd.Flags().IntVar(&count, "count", 0, "number of nodes to run on consecutive ports")
}

var cmd = &cobra.Command{
	Use:     "devnode",
	Short:   "run in-memory development nodes that serve the node HTTP API",
	Version: version,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.LoadConfig(configPath)
		if err != nil {
			return err
		}
		if listen != "" {
			cfg.DevNode.Listen = listen
		}
		if name != "" {
			cfg.DevNode.Name = name
		}
		if peerID != "" {
			cfg.DevNode.PeerID = peerID
		}
		if count > 0 {
			cfg.DevNode.Count = count
		}

		logger, err := logging.New(cfg.Logging)
		if err != nil {
			return err
		}
		defer logger.Sync()
		telemetry.SetBuildInfo(version, commit)

		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()
		return run(ctx, cfg, logger)
	},
}

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	host, port, err := splitListen(cfg.DevNode.Listen)
	if err != nil {
		return err
	}

	// 1. Create etcd client when discovery is configured
	var cli *clientv3.Client
	if len(cfg.Discovery.Endpoints) > 0 {
		logger.Info("creating etcd client", zap.Strings("endpoints", cfg.Discovery.Endpoints))
		cli, err = discovery.NewClient(cfg.Discovery.Endpoints, cfg.Discovery.DialTimeoutDuration())
		if err != nil {
			return fmt.Errorf("creating etcd client: %w", err)
		}
		defer cli.Close()
	}

	// 2. Start every node on the shared in-process network
	nw := devnode.NewNetwork()
	eg, ctx := errgroup.WithContext(ctx)
	for i := 0; i < cfg.DevNode.Count; i++ {
		nodeName := cfg.DevNode.Name
		id := cfg.DevNode.PeerID
		if cfg.DevNode.Count > 1 {
			nodeName = fmt.Sprintf("%s%d", cfg.DevNode.Name, i+1)
			if id != "" {
				id = fmt.Sprintf("%s-%d", id, i+1)
			}
		}
		p := port + i
		addr, err := peerAddress(host, p)
		if err != nil {
			return err
		}

		n := devnode.New(nodeName,
			devnode.WithNetwork(nw),
			devnode.WithPeerID(id),
			devnode.WithAddresses(addr.String()),
			devnode.WithCollections(cfg.DevNode.Collections...),
			devnode.WithReplicationDelay(cfg.DevNode.ReplicationDelayDuration()),
			devnode.WithLogger(logger),
		)
		srv := &http.Server{
			Addr:              net.JoinHostPort(host, strconv.Itoa(p)),
			Handler:           newMux(n),
			ReadHeaderTimeout: 10 * time.Second,
		}
		apiURL := fmt.Sprintf("http://%s%s", advertise(host, p), devnode.APIPrefix)

		// 3. Register this node
		if cli != nil {
			leaseID, stop, err := discovery.RegisterNode(ctx, cli, logger, cfg.Discovery.Prefix, nodeName, apiURL, cfg.Discovery.LeaseTTL)
			if err != nil {
				return err
			}
			defer func() {
				stop()
				revokeCtx, cancel := context.WithTimeout(context.Background(), time.Second)
				defer cancel()
				_, _ = cli.Revoke(revokeCtx, leaseID)
			}()
		}

		eg.Go(func() error {
			logger.Info("devnode listening",
				zap.String("name", nodeName),
				zap.String("peer", n.Identity().ID),
				zap.String("api", apiURL),
			)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("%s: %w", nodeName, err)
			}
			return nil
		})
		eg.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			err := srv.Shutdown(shutdownCtx)
			n.Close()
			return err
		})
	}
	return eg.Wait()
}

// newMux wires the node API next to the health and metrics endpoints.
func newMux(n *devnode.Node) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", telemetry.MetricsHandler())
	mux.Handle(devnode.APIPrefix+"/", n.Handler())
	return mux
}

func splitListen(listen string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(node.NormalizeHostPort(listen, "9181"))
	if err != nil {
		return "", 0, fmt.Errorf("listen address %q: %w", listen, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("listen port %q: %w", portStr, err)
	}
	return host, port, nil
}

func advertise(host string, port int) string {
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// peerAddress is the multiaddr a node reports in its peer info.
func peerAddress(host string, port int) (ma.Multiaddr, error) {
	ip := net.ParseIP(host)
	switch {
	case host == "" || ip != nil && ip.IsUnspecified():
		return ma.NewMultiaddr(fmt.Sprintf("/ip4/127.0.0.1/tcp/%d", port))
	case ip == nil:
		return ma.NewMultiaddr(fmt.Sprintf("/dns4/%s/tcp/%d", host, port))
	case ip.To4() != nil:
		return ma.NewMultiaddr(fmt.Sprintf("/ip4/%s/tcp/%d", ip, port))
	default:
		return ma.NewMultiaddr(fmt.Sprintf("/ip6/%s/tcp/%d", ip, port))
	}
}
