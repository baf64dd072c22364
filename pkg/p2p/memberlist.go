package p2p

import "slices"

// Helpers over a replicator listing. Listings are unordered and a fresh one
// should be fetched for every decision.

// FindReplicator returns the replicator targeting peer, if any.
func FindReplicator(reps []Replicator, peer PeerIdentity) (Replicator, bool) {
	for _, r := range reps {
		if r.Info.Equal(peer) {
			return r, true
		}
	}
	return Replicator{}, false
}

// Covers reports whether the replicator lists collection.
func (r Replicator) Covers(collection string) bool {
	return slices.Contains(r.CollectionIDs, collection)
}

// CoveringPeers returns the targets of every replicator that lists collection.
func CoveringPeers(reps []Replicator, collection string) []PeerIdentity {
	var out []PeerIdentity
	for _, r := range reps {
		if r.Covers(collection) {
			out = append(out, r.Info.Clone())
		}
	}
	return out
}
