// Package orchestrator drives sync workflows across several nodes: wiring
// replicators between them, reporting which mechanisms cover a document,
// and forcing then confirming propagation.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ryandielhenn/peersync/pkg/node"
	"github.com/ryandielhenn/peersync/pkg/p2p"
	"github.com/ryandielhenn/peersync/pkg/verify"
)

// Session holds clients for a fixed set of named nodes. It keeps no view of
// remote state; every call asks the nodes again.
type Session struct {
	nodes    map[string]*node.Client
	verifier *verify.Verifier
	logger   *zap.Logger
}

type Opt func(*Session)

func WithLogger(logger *zap.Logger) Opt {
	return func(s *Session) { s.logger = logger }
}

func WithVerifier(v *verify.Verifier) Opt {
	return func(s *Session) { s.verifier = v }
}

func NewSession(clients []*node.Client, opts ...Opt) (*Session, error) {
	if len(clients) == 0 {
		return nil, errors.New("session needs at least one node")
	}
	s := &Session{
		nodes:  make(map[string]*node.Client, len(clients)),
		logger: zap.NewNop(),
	}
	for _, c := range clients {
		if _, dup := s.nodes[c.Name()]; dup {
			return nil, fmt.Errorf("node %q is listed twice", c.Name())
		}
		s.nodes[c.Name()] = c
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.verifier == nil {
		v, err := verify.New(verify.DefaultConfig(), verify.WithLogger(s.logger))
		if err != nil {
			return nil, err
		}
		s.verifier = v
	}
	return s, nil
}

// Names returns the node names sorted.
func (s *Session) Names() []string {
	names := make([]string, 0, len(s.nodes))
	for name := range s.nodes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *Session) Node(name string) (*node.Client, error) {
	c, ok := s.nodes[name]
	if !ok {
		return nil, fmt.Errorf("unknown node %q", name)
	}
	return c, nil
}

func (s *Session) Verifier() *verify.Verifier { return s.verifier }

// PeerInfos asks every node for its identity concurrently. The first
// failure cancels the rest.
func (s *Session) PeerInfos(ctx context.Context) (map[string]p2p.PeerIdentity, error) {
	var (
		mu    sync.Mutex
		infos = make(map[string]p2p.PeerIdentity, len(s.nodes))
	)
	eg, ctx := errgroup.WithContext(ctx)
	for name, c := range s.nodes {
		eg.Go(func() error {
			info, err := c.PeerInfo(ctx)
			if err != nil {
				return fmt.Errorf("node %s: %w", name, err)
			}
			mu.Lock()
			infos[name] = info
			mu.Unlock()
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return infos, nil
}

// EnsureReplicator makes from replicate collections to the node named to.
// A replicator that already covers them counts as success.
func (s *Session) EnsureReplicator(ctx context.Context, from, to string, collections []string) error {
	src, err := s.Node(from)
	if err != nil {
		return err
	}
	dst, err := s.Node(to)
	if err != nil {
		return err
	}

	target, err := dst.PeerInfo(ctx)
	if err != nil {
		return fmt.Errorf("identity of %s: %w", to, err)
	}
	err = src.AddReplicator(ctx, target, collections)
	if p2p.KindOf(err) == p2p.KindAlreadyExists {
		s.logger.Info("replicator already present",
			zap.String("from", from),
			zap.String("to", to),
			zap.Strings("collections", collections),
		)
		return nil
	}
	if err != nil {
		return fmt.Errorf("replicator %s -> %s: %w", from, to, err)
	}
	return nil
}

// Coverage reports which mechanisms on one node cover a document. Each
// field comes from its own listing and none is inferred from another.
type Coverage struct {
	Node            string             `json:"node"`
	Collection      string             `json:"collection"`
	DocID           string             `json:"docID,omitempty"`
	Replicators     []p2p.PeerIdentity `json:"replicators"`
	CollectionGated bool               `json:"collectionGated"`
	DocumentGated   bool               `json:"documentGated"`
}

// Covered reports whether any mechanism covers the document.
func (c Coverage) Covered() bool {
	return len(c.Replicators) > 0 || c.CollectionGated || c.DocumentGated
}

// Coverage reads the replicators and both gating sets of nodeName
// concurrently. docID may be empty when only the collection matters.
func (s *Session) Coverage(ctx context.Context, nodeName, collection, docID string) (Coverage, error) {
	c, err := s.Node(nodeName)
	if err != nil {
		return Coverage{}, err
	}
	cov := Coverage{Node: nodeName, Collection: collection, DocID: docID}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		reps, err := c.Replicators(ctx)
		if err != nil {
			return err
		}
		cov.Replicators = p2p.CoveringPeers(reps, collection)
		return nil
	})
	eg.Go(func() error {
		cols, err := c.Collections().List(ctx)
		if err != nil {
			return err
		}
		cov.CollectionGated = slices.Contains(cols, collection)
		return nil
	})
	if docID != "" {
		eg.Go(func() error {
			docs, err := c.Documents().List(ctx)
			if err != nil {
				return err
			}
			cov.DocumentGated = slices.Contains(docs, docID)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return Coverage{}, fmt.Errorf("coverage on %s: %w", nodeName, err)
	}
	return cov, nil
}

// SyncAndVerify asks nodeName to fetch docIDs now, then waits for probe.
// A nil probe waits until the node lists every document.
func (s *Session) SyncAndVerify(ctx context.Context, nodeName, collection string, docIDs []string,
	syncTimeout time.Duration, probe verify.Probe,
) (verify.Result, error) {
	c, err := s.Node(nodeName)
	if err != nil {
		return verify.Result{}, err
	}
	if err := c.SyncDocuments(ctx, collection, docIDs, syncTimeout); err != nil {
		return verify.Result{}, fmt.Errorf("sync on %s: %w", nodeName, err)
	}
	if probe == nil {
		probe = DocIDsPresent(c, collection, docIDs)
	}
	res, err := s.verifier.Wait(ctx, probe)
	if err != nil {
		return res, fmt.Errorf("verify on %s: %w", nodeName, err)
	}
	s.logger.Info("sync verified",
		zap.String("node", nodeName),
		zap.String("collection", collection),
		zap.Int("docs", len(docIDs)),
		zap.Stringer("outcome", res.Outcome),
		zap.Int("polls", res.Polls),
	)
	return res, nil
}

// Verify waits for probe on the session's verifier.
func (s *Session) Verify(ctx context.Context, probe verify.Probe) (verify.Result, error) {
	return s.verifier.Wait(ctx, probe)
}

// VerifyAll waits for one probe per node concurrently.
func (s *Session) VerifyAll(ctx context.Context, probes map[string]verify.Probe) (map[string]verify.Result, error) {
	return s.verifier.WaitAll(ctx, probes)
}
