package discovery

import (
	"context"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.etcd.io/etcd/api/v3/mvccpb"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap/zaptest"
)

func TestNodeKey(t *testing.T) {
	require.Equal(t, "/peersync/nodes/node1", nodeKey(DefaultPrefix, "node1"))
	require.Equal(t, "/peersync/nodes/node1", nodeKey(DefaultPrefix+"/", "node1"))
	require.Equal(t, "/peersync/nodes/", nodeKey(DefaultPrefix, ""))
}

func TestNodesFromKVs(t *testing.T) {
	kvs := []*mvccpb.KeyValue{
		{Key: []byte("/peersync/nodes/node1"), Value: []byte("http://10.0.0.1:9181/api/v0")},
		{Key: []byte("/peersync/nodes/node2"), Value: []byte("http://10.0.0.2:9181/api/v0")},
		{Key: []byte("/peersync/nodes/"), Value: []byte("ignored")},
		{Key: []byte("/peersync/nodes/node3/meta"), Value: []byte("ignored")},
	}
	require.Equal(t, map[string]string{
		"node1": "http://10.0.0.1:9181/api/v0",
		"node2": "http://10.0.0.2:9181/api/v0",
	}, nodesFromKVs(DefaultPrefix, kvs))
}

// memRegistry keeps keys in memory and signals one watch event per change.
type memRegistry struct {
	clientv3.KV
	clientv3.Watcher

	mu      sync.Mutex
	kvs     map[string]string
	changes chan clientv3.WatchResponse
}

func newMemRegistry() *memRegistry {
	return &memRegistry{kvs: make(map[string]string), changes: make(chan clientv3.WatchResponse)}
}

func (m *memRegistry) Get(_ context.Context, key string, _ ...clientv3.OpOption) (*clientv3.GetResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for k := range m.kvs {
		if strings.HasPrefix(k, key) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	resp := &clientv3.GetResponse{}
	for _, k := range keys {
		resp.Kvs = append(resp.Kvs, &mvccpb.KeyValue{Key: []byte(k), Value: []byte(m.kvs[k])})
	}
	return resp, nil
}

func (m *memRegistry) Watch(ctx context.Context, _ string, _ ...clientv3.OpOption) clientv3.WatchChan {
	out := make(chan clientv3.WatchResponse)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case resp := <-m.changes:
				select {
				case out <- resp:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

func (m *memRegistry) set(name, url string) {
	m.mu.Lock()
	if url == "" {
		delete(m.kvs, nodeKey(DefaultPrefix, name))
	} else {
		m.kvs[nodeKey(DefaultPrefix, name)] = url
	}
	m.mu.Unlock()
	m.changes <- clientv3.WatchResponse{}
}

func TestListNodes(t *testing.T) {
	reg := newMemRegistry()
	reg.kvs[nodeKey(DefaultPrefix, "node1")] = "http://a/api/v0"
	reg.kvs["/other/node9"] = "http://z/api/v0"

	nodes, err := ListNodes(context.Background(), reg, DefaultPrefix)
	require.NoError(t, err)
	require.Equal(t, map[string]string{"node1": "http://a/api/v0"}, nodes)
}

func TestWatchNodesReportsEveryChange(t *testing.T) {
	reg := newMemRegistry()
	reg.kvs[nodeKey(DefaultPrefix, "node1")] = "http://a/api/v0"

	ctx, cancel := context.WithCancel(context.Background())
	seen := make(chan map[string]string, 8)
	done := make(chan error, 1)
	go func() {
		done <- WatchNodes(ctx, reg, zaptest.NewLogger(t), DefaultPrefix, func(nodes map[string]string) {
			seen <- nodes
		})
	}()

	next := func() map[string]string {
		select {
		case nodes := <-seen:
			return nodes
		case <-time.After(5 * time.Second):
			t.Fatal("no node set reported")
			return nil
		}
	}

	require.Equal(t, map[string]string{"node1": "http://a/api/v0"}, next())
	reg.set("node2", "http://b/api/v0")
	require.Equal(t, map[string]string{"node1": "http://a/api/v0", "node2": "http://b/api/v0"}, next())
	reg.set("node1", "")
	require.Equal(t, map[string]string{"node2": "http://b/api/v0"}, next())

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop")
	}
}
