// Package devnode is an in-memory stand-in for a document store node. It
// serves the node HTTP API used by the client in pkg/node so that sync
// workflows can be exercised without a real cluster.
//
// Documents reach a peer in three independent ways: pushed by a replicator
// on the source node, delivered to peers that gate the document's
// collection or the document itself, or pulled with a one-shot sync.
// Push and delivery happen in the background after the replication delay.
package devnode

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/ryandielhenn/peersync/pkg/p2p"
)

const DefaultAddress = "/ip4/127.0.0.1/tcp/9171"

// statusActive is the only replicator status this node reports.
const statusActive p2p.StatusCode = 0

var (
	ErrReplicatorExists = errors.New("replicator already exists")
	ErrReplicatorAbsent = errors.New("replicator not found")
	ErrDocumentExists   = errors.New("a document with the given ID already exists")
	ErrCollectionAbsent = errors.New("collection not found")
)

type Node struct {
	name    string
	self    p2p.PeerIdentity
	store   *Store
	network *Network
	delay   time.Duration
	clock   clockwork.Clock
	logger  *zap.Logger

	mu          sync.RWMutex
	replicators map[string]*p2p.Replicator
	collections memberSet
	documents   memberSet

	wg        sync.WaitGroup
	stop      chan struct{}
	closeOnce sync.Once
}

type Opt func(*Node)

func WithPeerID(id string) Opt {
	return func(n *Node) { n.self.ID = id }
}

func WithAddresses(addrs ...string) Opt {
	return func(n *Node) { n.self.Addresses = addrs }
}

// WithNetwork joins the node to a shared network. Without it the node is
// alone on a network of its own.
func WithNetwork(nw *Network) Opt {
	return func(n *Node) { n.network = nw }
}

// WithCollections declares collections up front, the way a schema would.
// Collections are otherwise created by their first document.
func WithCollections(names ...string) Opt {
	return func(n *Node) {
		for _, name := range names {
			n.store.Create(name)
		}
	}
}

func WithReplicationDelay(d time.Duration) Opt {
	return func(n *Node) { n.delay = d }
}

func WithClock(clock clockwork.Clock) Opt {
	return func(n *Node) { n.clock = clock }
}

func WithLogger(logger *zap.Logger) Opt {
	return func(n *Node) { n.logger = logger }
}

func New(name string, opts ...Opt) *Node {
	n := &Node{
		name:        name,
		store:       NewStore(),
		clock:       clockwork.NewRealClock(),
		logger:      zap.NewNop(),
		replicators: make(map[string]*p2p.Replicator),
		collections: make(memberSet),
		documents:   make(memberSet),
		stop:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(n)
	}
	if n.self.ID == "" {
		n.self.ID = "peer-" + uuid.NewString()
	}
	if len(n.self.Addresses) == 0 {
		n.self.Addresses = []string{DefaultAddress}
	}
	if n.network == nil {
		n.network = NewNetwork()
	}
	n.logger = n.logger.With(zap.String("devnode", name), zap.String("peer", n.self.ID))
	n.network.join(n)
	return n
}

func (n *Node) Name() string { return n.name }

func (n *Node) Identity() p2p.PeerIdentity { return n.self.Clone() }

func (n *Node) Store() *Store { return n.store }

// Close leaves the network and drops pending background replication.
func (n *Node) Close() {
	n.closeOnce.Do(func() {
		n.network.leave(n.self.ID)
		close(n.stop)
	})
	n.wg.Wait()
}

// Wait blocks until every background replication scheduled so far has
// run or been dropped.
func (n *Node) Wait() {
	n.wg.Wait()
}

// ---- Replicators ----

// AddReplicator merges collections into the replicator for target, creating
// it if needed. Adding nothing new fails with ErrReplicatorExists. Documents
// already stored in the new collections are pushed to target.
func (n *Node) AddReplicator(params p2p.ReplicatorParams) error {
	if err := params.Info.Validate(); err != nil {
		return err
	}
	if len(params.Collections) == 0 {
		return errors.New("replicator needs at least one collection")
	}
	if params.Info.ID == n.self.ID {
		return errors.New("cannot replicate to self")
	}

	n.mu.Lock()
	rep, ok := n.replicators[params.Info.ID]
	if !ok {
		rep = &p2p.Replicator{Info: params.Info.Clone(), Status: statusActive}
		n.replicators[params.Info.ID] = rep
	}
	var added []string
	for _, c := range params.Collections {
		if !rep.Covers(c) && !slices.Contains(added, c) {
			added = append(added, c)
		}
	}
	if len(added) == 0 {
		n.mu.Unlock()
		return ErrReplicatorExists
	}
	rep.CollectionIDs = append(rep.CollectionIDs, added...)
	rep.LastStatusChange = n.clock.Now().UTC().Format(time.RFC3339Nano)
	n.mu.Unlock()

	n.logger.Info("replicator added", zap.String("target", params.Info.ID), zap.Strings("collections", added))
	for _, c := range added {
		for _, doc := range n.store.Match(c, nil) {
			n.push(params.Info.ID, c, doc)
		}
	}
	return nil
}

// Replicators returns a snapshot ordered by target peer ID.
func (n *Node) Replicators() []p2p.Replicator {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]p2p.Replicator, 0, len(n.replicators))
	for _, rep := range n.replicators {
		out = append(out, p2p.Replicator{
			Info:             rep.Info.Clone(),
			CollectionIDs:    slices.Clone(rep.CollectionIDs),
			Status:           rep.Status,
			LastStatusChange: rep.LastStatusChange,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Info.ID < out[j].Info.ID })
	return out
}

// RemoveReplicator drops collections from the replicator for target and
// deletes it once it covers none.
func (n *Node) RemoveReplicator(params p2p.ReplicatorParams) error {
	if params.Info.ID == "" {
		return errors.New("peer identity has no ID")
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	rep, ok := n.replicators[params.Info.ID]
	if !ok {
		return ErrReplicatorAbsent
	}
	rep.CollectionIDs = slices.DeleteFunc(rep.CollectionIDs, func(c string) bool {
		return slices.Contains(params.Collections, c)
	})
	if len(rep.CollectionIDs) == 0 {
		delete(n.replicators, params.Info.ID)
	} else {
		rep.LastStatusChange = n.clock.Now().UTC().Format(time.RFC3339Nano)
	}
	n.logger.Info("replicator removed", zap.String("target", params.Info.ID), zap.Strings("collections", params.Collections))
	return nil
}

// ---- Peer gating ----

func (n *Node) AddPeerCollections(names []string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.collections.add(names)
}

func (n *Node) RemovePeerCollections(names []string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.collections.remove(names)
}

func (n *Node) PeerCollections() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.collections.sorted()
}

func (n *Node) AddPeerDocuments(ids []string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.documents.add(ids)
}

func (n *Node) RemovePeerDocuments(ids []string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.documents.remove(ids)
}

func (n *Node) PeerDocuments() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.documents.sorted()
}

// subscribed reports whether this node receives doc through gating.
func (n *Node) subscribed(collection, docID string) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.collections.has(collection) || n.documents.has(docID)
}

// ---- Documents ----

// CreateDocuments stores new documents and schedules their replication.
// IDs are derived from content, so creating the same document twice fails.
func (n *Node) CreateDocuments(collection string, docs []map[string]any) ([]Document, error) {
	created := make([]Document, 0, len(docs))
	for _, in := range docs {
		fields := maps.Clone(in)
		delete(fields, "_docID")
		id, err := DocID(collection, fields)
		if err != nil {
			return nil, err
		}
		doc := Document{ID: id, Fields: fields}
		if !n.store.PutIfAbsent(collection, doc) {
			return nil, fmt.Errorf("%w: %s", ErrDocumentExists, id)
		}
		created = append(created, doc)
		n.logger.Debug("document created", zap.String("collection", collection), zap.String("doc", id))
		n.publish(collection, doc)
	}
	return created, nil
}

// DocIDs lists the collection in insertion order.
func (n *Node) DocIDs(collection string) ([]string, error) {
	ids, ok := n.store.IDs(collection)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCollectionAbsent, collection)
	}
	return ids, nil
}

// SyncDocuments pulls the named documents from peers on the network now.
// Documents found nowhere are reported together; the rest are kept.
func (n *Node) SyncDocuments(req p2p.SyncRequest) error {
	if req.CollectionName == "" {
		return errors.New("collection name is required")
	}
	if len(req.DocIDs) == 0 {
		return errors.New("at least one document ID is required")
	}
	if req.Timeout != "" {
		if _, err := time.ParseDuration(req.Timeout); err != nil {
			return fmt.Errorf("invalid timeout: %w", err)
		}
	}

	var missing []string
	for _, id := range req.DocIDs {
		if n.pull(req.CollectionName, id) {
			continue
		}
		missing = append(missing, id)
	}
	if len(missing) > 0 {
		return fmt.Errorf("documents not found on any peer: %s", strings.Join(missing, ", "))
	}
	return nil
}

func (n *Node) pull(collection, id string) bool {
	if _, ok := n.store.Get(collection, id); ok {
		return true
	}
	for _, peer := range n.network.peers(n.self.ID) {
		if doc, ok := peer.store.Get(collection, id); ok {
			n.receive(collection, doc, "sync")
			return true
		}
	}
	return false
}

// publish schedules doc for every replicator covering collection and for
// every peer gating the collection or the document.
func (n *Node) publish(collection string, doc Document) {
	n.mu.RLock()
	var targets []string
	for id, rep := range n.replicators {
		if rep.Covers(collection) {
			targets = append(targets, id)
		}
	}
	n.mu.RUnlock()

	for _, id := range targets {
		n.push(id, collection, doc)
	}
	for _, peer := range n.network.peers(n.self.ID) {
		if slices.Contains(targets, peer.self.ID) {
			continue
		}
		if peer.subscribed(collection, doc.ID) {
			n.deliver(peer.self.ID, collection, doc, "gossip")
		}
	}
}

func (n *Node) push(target, collection string, doc Document) {
	n.deliver(target, collection, doc, "replicator")
}

// deliver copies doc to the peer after the replication delay. Peers that
// are not on the network by then are skipped.
func (n *Node) deliver(target, collection string, doc Document, via string) {
	n.after(func() {
		peer, ok := n.network.Lookup(target)
		if !ok {
			n.logger.Debug("replication target unreachable", zap.String("target", target), zap.String("doc", doc.ID))
			return
		}
		peer.receive(collection, doc, via)
	})
}

func (n *Node) receive(collection string, doc Document, via string) {
	if n.store.Put(collection, doc) {
		n.logger.Debug("document received",
			zap.String("collection", collection),
			zap.String("doc", doc.ID),
			zap.String("via", via),
		)
	}
}

func (n *Node) after(fn func()) {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		if n.delay <= 0 {
			select {
			case <-n.stop:
			default:
				fn()
			}
			return
		}
		select {
		case <-n.stop:
		case <-n.clock.After(n.delay):
			fn()
		}
	}()
}

type memberSet map[string]struct{}

func (s memberSet) add(members []string) {
	for _, m := range members {
		s[m] = struct{}{}
	}
}

func (s memberSet) remove(members []string) {
	for _, m := range members {
		delete(s, m)
	}
}

func (s memberSet) has(m string) bool {
	_, ok := s[m]
	return ok
}

func (s memberSet) sorted() []string {
	out := make([]string, 0, len(s))
	for m := range s {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}
