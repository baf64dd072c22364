package devnode

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/ryandielhenn/peersync/internal/telemetry"
	"github.com/ryandielhenn/peersync/pkg/p2p"
)

// APIPrefix is where Handler mounts the node API.
const APIPrefix = "/api/v0"

const maxRequestBody = 4 << 20

// Handler serves the node API under APIPrefix.
func (n *Node) Handler() http.Handler {
	mux := http.NewServeMux()
	route := func(pattern, op string, h http.HandlerFunc) {
		method, path, _ := strings.Cut(pattern, " ")
		mux.Handle(method+" "+APIPrefix+path, telemetry.Instrument(op, h))
	}

	route("GET /p2p/info", "peer_info", n.info)

	route("GET /p2p/replicators", "list_replicators", n.listReplicators)
	route("POST /p2p/replicators", "add_replicator", n.addReplicator)
	route("DELETE /p2p/replicators", "remove_replicator", n.removeReplicator)

	route("GET /p2p/collections", "list_peer_collections", n.listGated(n.PeerCollections))
	route("POST /p2p/collections", "add_peer_collections", n.changeGated(n.AddPeerCollections))
	route("DELETE /p2p/collections", "remove_peer_collections", n.changeGated(n.RemovePeerCollections))

	route("GET /p2p/documents", "list_peer_documents", n.listGated(n.PeerDocuments))
	route("POST /p2p/documents", "add_peer_documents", n.changeGated(n.AddPeerDocuments))
	route("DELETE /p2p/documents", "remove_peer_documents", n.changeGated(n.RemovePeerDocuments))
	route("POST /p2p/documents/sync", "sync_documents", n.syncDocuments)

	route("GET /collections/{name}", "list_documents", n.streamDocIDs)
	route("POST /collections/{name}", "create_document", n.createDocuments)

	route("POST /graphql", "graphql", n.graphql)
	return mux
}

// info writes the node's peer identity.
func (n *Node) info(w http.ResponseWriter, _ *http.Request) {
	n.writeJSON(w, http.StatusOK, n.Identity())
}

func (n *Node) listReplicators(w http.ResponseWriter, _ *http.Request) {
	n.writeJSON(w, http.StatusOK, n.Replicators())
}

func (n *Node) addReplicator(w http.ResponseWriter, r *http.Request) {
	var params p2p.ReplicatorParams
	if !n.readJSON(w, r, &params) {
		return
	}
	if err := n.AddReplicator(params); err != nil {
		n.writeError(w, http.StatusBadRequest, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (n *Node) removeReplicator(w http.ResponseWriter, r *http.Request) {
	var params p2p.ReplicatorParams
	if !n.readJSON(w, r, &params) {
		return
	}
	if err := n.RemoveReplicator(params); err != nil {
		n.writeError(w, http.StatusBadRequest, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (n *Node) listGated(list func() []string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		n.writeJSON(w, http.StatusOK, list())
	}
}

func (n *Node) changeGated(change func([]string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var members []string
		if !n.readJSON(w, r, &members) {
			return
		}
		change(members)
		w.WriteHeader(http.StatusOK)
	}
}

func (n *Node) syncDocuments(w http.ResponseWriter, r *http.Request) {
	var req p2p.SyncRequest
	if !n.readJSON(w, r, &req) {
		return
	}
	if err := n.SyncDocuments(req); err != nil {
		n.writeError(w, http.StatusBadRequest, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// streamDocIDs writes the collection's IDs as a server-sent event stream,
// one {"docID","error"} record per event.
func (n *Node) streamDocIDs(w http.ResponseWriter, r *http.Request) {
	ids, err := n.DocIDs(r.PathValue("name"))
	if err != nil {
		n.writeError(w, http.StatusBadRequest, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)
	for _, id := range ids {
		data, _ := json.Marshal(struct {
			DocID string `json:"docID"`
			Error string `json:"error"`
		}{DocID: id})
		if _, err := fmt.Fprintf(w, "event: next\ndata: %s\n\n", data); err != nil {
			n.logger.Debug("stream aborted", zap.Error(err))
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

// createDocuments accepts one JSON object or an array of them and returns
// what it stored in the same shape.
func (n *Node) createDocuments(w http.ResponseWriter, r *http.Request) {
	var body json.RawMessage
	if !n.readJSON(w, r, &body) {
		return
	}
	var (
		docs []map[string]any
		many bool
	)
	if err := json.Unmarshal(body, &docs); err == nil && docs != nil {
		many = true
	} else {
		var one map[string]any
		if err := json.Unmarshal(body, &one); err != nil || one == nil {
			n.writeError(w, http.StatusBadRequest, errors.New("document must be a JSON object or array of objects"))
			return
		}
		docs = []map[string]any{one}
	}

	created, err := n.CreateDocuments(r.PathValue("name"), docs)
	if err != nil {
		n.writeError(w, http.StatusBadRequest, err)
		return
	}
	if many {
		n.writeJSON(w, http.StatusOK, created)
		return
	}
	n.writeJSON(w, http.StatusOK, created[0])
}

func (n *Node) graphql(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Query string `json:"query"`
	}
	if !n.readJSON(w, r, &req) {
		return
	}
	n.writeJSON(w, http.StatusOK, n.Query(req.Query))
}

func (n *Node) readJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		n.writeError(w, http.StatusBadRequest, fmt.Errorf("reading body: %w", err))
		return false
	}
	if err := json.Unmarshal(data, v); err != nil {
		n.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return false
	}
	return true
}

func (n *Node) writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		n.logger.Error("encoding response", zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}

func (n *Node) writeError(w http.ResponseWriter, status int, err error) {
	n.logger.Debug("request failed", zap.Int("status", status), zap.Error(err))
	n.writeJSON(w, status, p2p.ErrorBody{Error: err.Error()})
}
