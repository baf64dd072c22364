package p2p

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	ma "github.com/multiformats/go-multiaddr"
)

// Wire types for the /p2p endpoints. Field names follow the server's JSON.

// PeerIdentity identifies one node on the network.
type PeerIdentity struct {
	ID        string   `json:"ID"`
	Addresses []string `json:"Addresses"`
}

// Equal reports whether both identities name the same peer. Addresses are
// informational and ignored.
func (p PeerIdentity) Equal(o PeerIdentity) bool {
	return p.ID == o.ID
}

// Clone returns a copy that does not share the address slice.
func (p PeerIdentity) Clone() PeerIdentity {
	return PeerIdentity{ID: p.ID, Addresses: append([]string(nil), p.Addresses...)}
}

// Multiaddrs parses every address as a multiaddr.
func (p PeerIdentity) Multiaddrs() ([]ma.Multiaddr, error) {
	out := make([]ma.Multiaddr, 0, len(p.Addresses))
	for _, a := range p.Addresses {
		m, err := ma.NewMultiaddr(a)
		if err != nil {
			return nil, fmt.Errorf("peer %s: address %q: %w", p.ID, a, err)
		}
		out = append(out, m)
	}
	return out, nil
}

// Validate rejects identities that could not be used as a replicator target.
func (p PeerIdentity) Validate() error {
	if p.ID == "" {
		return errors.New("peer identity has no ID")
	}
	_, err := p.Multiaddrs()
	return err
}

// StatusCode is the replicator lifecycle code reported by the server. Its
// enumeration is not documented, so it is only displayed and compared.
type StatusCode int64

func (s StatusCode) String() string {
	return "status(" + strconv.FormatInt(int64(s), 10) + ")"
}

// Replicator is a standing directive on a node to keep the listed
// collections in sync with one target peer.
type Replicator struct {
	Info             PeerIdentity `json:"Info"`
	CollectionIDs    []string     `json:"CollectionIDs"`
	Status           StatusCode   `json:"Status"`
	LastStatusChange string       `json:"LastStatusChange"`
}

// StatusChangedAt parses LastStatusChange. ok is false when the server sent
// nothing or a value that is not RFC 3339.
func (r Replicator) StatusChangedAt() (t time.Time, ok bool) {
	t, err := time.Parse(time.RFC3339Nano, r.LastStatusChange)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// ReplicatorParams is the body of both add and remove replicator requests.
type ReplicatorParams struct {
	Info        PeerIdentity `json:"Info"`
	Collections []string     `json:"Collections"`
}

// SyncRequest asks a node to fetch the named documents from its peers now.
// Timeout is a Go duration string and bounds the server-side wait.
type SyncRequest struct {
	CollectionName string   `json:"collectionName"`
	DocIDs         []string `json:"docIDs"`
	Timeout        string   `json:"timeout,omitempty"`
}

// ErrorBody is the JSON carried by every non-2xx response.
type ErrorBody struct {
	Error string `json:"error"`
}
