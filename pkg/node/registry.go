package node

import (
	"context"
	"net/http"
)

// GatingTable is one of the node's two peer gating sets. Collection and
// document gating share this shape but are independent of each other and
// of replicators. Merge or replace on Add is up to the server.
type GatingTable struct {
	c    *Client
	path string
	noun string
}

// Collections is the set of collections visible to any peer.
func (c *Client) Collections() *GatingTable {
	return &GatingTable{c: c, path: "/p2p/collections", noun: "peer collections"}
}

// Documents is the set of individual documents synced with peers,
// regardless of collection.
func (c *Client) Documents() *GatingTable {
	return &GatingTable{c: c, path: "/p2p/documents", noun: "peer documents"}
}

func (t *GatingTable) Add(ctx context.Context, members []string) error {
	if len(members) == 0 {
		return nil
	}
	return t.c.do(ctx, "add "+t.noun, http.MethodPost, t.path, members, nil)
}

// List returns current membership in no particular order.
func (t *GatingTable) List(ctx context.Context) ([]string, error) {
	var out []string
	if err := t.c.do(ctx, "list "+t.noun, http.MethodGet, t.path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (t *GatingTable) Remove(ctx context.Context, members []string) error {
	if len(members) == 0 {
		return nil
	}
	return t.c.do(ctx, "remove "+t.noun, http.MethodDelete, t.path, members, nil)
}
