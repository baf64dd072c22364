// Package p2p holds the client-side model of a node's peer network: the
// identity a node reports for itself, the replicators it has been told to
// run, and the error taxonomy shared by every remote call.
//
// Nothing here is authoritative. All durable state is owned by the remote
// node and the values in this package are views that may be stale as soon
// as they are returned.
//
// Typical usage:
//
//	info, _ := nodeB.PeerInfo(ctx)
//	err := nodeA.AddReplicator(ctx, info, []string{"User"})
//	if p2p.KindOf(err) == p2p.KindAlreadyExists {
//		// replicators are idempotent by peer
//	}
package p2p
