package devnode

import (
	"sort"
	"sync"
)

// Network connects development nodes running in one process. It stands in
// for the peer-to-peer transport: nodes find each other by peer ID and copy
// documents directly.
type Network struct {
	mu    sync.RWMutex
	nodes map[string]*Node
}

func NewNetwork() *Network {
	return &Network{nodes: make(map[string]*Node)}
}

func (nw *Network) join(n *Node) {
	nw.mu.Lock()
	defer nw.mu.Unlock()
	nw.nodes[n.self.ID] = n
}

func (nw *Network) leave(id string) {
	nw.mu.Lock()
	defer nw.mu.Unlock()
	delete(nw.nodes, id)
}

// Lookup returns the node with the given peer ID.
func (nw *Network) Lookup(id string) (*Node, bool) {
	nw.mu.RLock()
	defer nw.mu.RUnlock()
	n, ok := nw.nodes[id]
	return n, ok
}

// peers returns every node except self, ordered by peer ID.
func (nw *Network) peers(self string) []*Node {
	nw.mu.RLock()
	defer nw.mu.RUnlock()
	out := make([]*Node, 0, len(nw.nodes))
	for id, n := range nw.nodes {
		if id != self {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].self.ID < out[j].self.ID })
	return out
}

func (nw *Network) Len() int {
	nw.mu.RLock()
	defer nw.mu.RUnlock()
	return len(nw.nodes)
}
