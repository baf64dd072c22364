package node

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/ryandielhenn/peersync/pkg/p2p"
)

const (
	pathPeerInfo    = "/p2p/info"
	pathReplicators = "/p2p/replicators"
)

// PeerInfo returns the identity the node reports for itself.
func (c *Client) PeerInfo(ctx context.Context) (p2p.PeerIdentity, error) {
	var info p2p.PeerIdentity
	if err := c.do(ctx, "peer info", http.MethodGet, pathPeerInfo, nil, &info); err != nil {
		return p2p.PeerIdentity{}, err
	}
	if info.ID == "" {
		return p2p.PeerIdentity{}, p2p.Malformed("peer info", http.StatusOK, errors.New("empty peer ID"))
	}
	return info, nil
}

// AddReplicator asks the node to keep collections in sync with target. A
// duplicate directive fails with kind AlreadyExists, which callers usually
// treat as success.
func (c *Client) AddReplicator(ctx context.Context, target p2p.PeerIdentity, collections []string) error {
	if err := checkReplicatorParams(target, collections); err != nil {
		return err
	}
	err := c.do(ctx, "add replicator", http.MethodPost, pathReplicators,
		p2p.ReplicatorParams{Info: target, Collections: collections}, nil)
	if err != nil {
		return err
	}
	c.logger.Info("replicator added",
		zap.String("peer", target.ID),
		zap.Strings("collections", collections),
	)
	return nil
}

// Replicators lists the node's replicators in no particular order.
func (c *Client) Replicators(ctx context.Context) ([]p2p.Replicator, error) {
	var reps []p2p.Replicator
	if err := c.do(ctx, "list replicators", http.MethodGet, pathReplicators, nil, &reps); err != nil {
		return nil, err
	}
	return reps, nil
}

// RemoveReplicator stops syncing collections with target. A replicator
// that is already gone is not an error.
func (c *Client) RemoveReplicator(ctx context.Context, target p2p.PeerIdentity, collections []string) error {
	if err := checkReplicatorParams(target, collections); err != nil {
		return err
	}
	err := c.do(ctx, "remove replicator", http.MethodDelete, pathReplicators,
		p2p.ReplicatorParams{Info: target, Collections: collections}, nil)
	if isAbsent(err) {
		c.logger.Debug("replicator already absent", zap.String("peer", target.ID), zap.Error(err))
		return nil
	}
	return err
}

func checkReplicatorParams(target p2p.PeerIdentity, collections []string) error {
	if err := target.Validate(); err != nil {
		return err
	}
	if len(collections) == 0 {
		return errors.New("replicator needs at least one collection")
	}
	return nil
}

func isAbsent(err error) bool {
	var e *p2p.Error
	if !errors.As(err, &e) || e.Kind != p2p.KindRejected {
		return false
	}
	msg := strings.ToLower(e.Message)
	return strings.Contains(msg, "not found") || strings.Contains(msg, "does not exist")
}
