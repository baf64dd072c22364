package node

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/ryandielhenn/peersync/pkg/p2p"
)

const pathSyncDocuments = "/p2p/documents/sync"

// SyncDocuments asks the node to fetch docIDs of collection from its peers
// once. timeout bounds the node's own wait for peers; zero leaves the
// server default. Success means the node accepted and attempted the sync,
// not that the documents arrived.
func (c *Client) SyncDocuments(ctx context.Context, collection string, docIDs []string, timeout time.Duration) error {
	if collection == "" {
		return errors.New("sync needs a collection")
	}
	if len(docIDs) == 0 {
		return errors.New("sync needs at least one document ID")
	}
	req := p2p.SyncRequest{CollectionName: collection, DocIDs: docIDs}
	if timeout > 0 {
		req.Timeout = timeout.String()
	}

	start := time.Now()
	if err := c.do(ctx, "sync documents", http.MethodPost, pathSyncDocuments, req, nil); err != nil {
		return err
	}
	c.logger.Info("documents synced",
		zap.String("collection", collection),
		zap.Int("count", len(docIDs)),
		zap.Duration("took", time.Since(start)),
	)
	return nil
}
