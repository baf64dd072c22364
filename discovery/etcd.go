// Package discovery keeps node API addresses in etcd so that tools can find
// running nodes by name. Each node owns one leased key, <prefix>/<name>,
// whose value is the base URL of its API.
package discovery

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.etcd.io/etcd/api/v3/mvccpb"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

const DefaultPrefix = "/peersync/nodes"

func NewClient(endpoints []string, dialTimeout time.Duration) (*clientv3.Client, error) {
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}
	return clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: dialTimeout,
	})
}

func nodeKey(prefix, name string) string {
	return strings.TrimRight(prefix, "/") + "/" + name
}

// RegisterNode publishes url under name with a lease of ttl seconds and
// keeps the lease alive until cancel is called or ctx ends. The caller
// revokes the lease on shutdown to remove the key at once.
func RegisterNode(ctx context.Context, cli *clientv3.Client, logger *zap.Logger, prefix, name, url string, ttl int64) (clientv3.LeaseID, context.CancelFunc, error) {
	lease, err := cli.Grant(ctx, ttl)
	if err != nil {
		return 0, nil, fmt.Errorf("granting lease: %w", err)
	}
	key := nodeKey(prefix, name)
	if _, err := cli.Put(ctx, key, url, clientv3.WithLease(lease.ID)); err != nil {
		return 0, nil, fmt.Errorf("registering %s: %w", key, err)
	}

	kaCtx, cancel := context.WithCancel(ctx)
	ch, err := cli.KeepAlive(kaCtx, lease.ID)
	if err != nil {
		cancel()
		return 0, nil, fmt.Errorf("keeping lease alive: %w", err)
	}
	go func() {
		for range ch {
		}
		logger.Info("lease keepalive stopped", zap.String("key", key))
	}()

	return lease.ID, cancel, nil
}

// Registry is the part of an etcd client that reading the node set needs.
// *clientv3.Client satisfies it.
type Registry interface {
	clientv3.KV
	clientv3.Watcher
}

// ListNodes returns every registered node as name -> url.
func ListNodes(ctx context.Context, cli clientv3.KV, prefix string) (map[string]string, error) {
	resp, err := cli.Get(ctx, nodeKey(prefix, ""), clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("listing nodes: %w", err)
	}
	return nodesFromKVs(prefix, resp.Kvs), nil
}

func nodesFromKVs(prefix string, kvs []*mvccpb.KeyValue) map[string]string {
	base := nodeKey(prefix, "")
	nodes := make(map[string]string, len(kvs))
	for _, kv := range kvs {
		name := strings.TrimPrefix(string(kv.Key), base)
		if name == "" || strings.Contains(name, "/") {
			continue
		}
		nodes[name] = string(kv.Value)
	}
	return nodes
}

// WatchNodes calls fn with the full node list now and after every change
// under prefix. It blocks until ctx ends or the watch channel closes, and
// returns nil in both cases.
func WatchNodes(ctx context.Context, cli Registry, logger *zap.Logger, prefix string, fn func(map[string]string)) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Watch before the first list so no change falls between the two.
	wch := cli.Watch(ctx, nodeKey(prefix, ""), clientv3.WithPrefix())
	nodes, err := ListNodes(ctx, cli, prefix)
	if err != nil {
		return err
	}
	fn(nodes)

	for resp := range wch {
		if err := resp.Err(); err != nil {
			logger.Warn("node watch failed", zap.Error(err))
			continue
		}
		nodes, err := ListNodes(ctx, cli, prefix)
		if err != nil {
			logger.Warn("listing nodes after change failed", zap.Error(err))
			continue
		}
		fn(nodes)
	}
	return nil
}
