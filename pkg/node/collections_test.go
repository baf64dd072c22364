package node

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ryandielhenn/peersync/pkg/p2p"
)

func TestDocIDsStream(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v0/collections/User", r.URL.Path)
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "data: {\"docID\":\"bae-1\",\"error\":\"\"}\n\n")
		w.(http.Flusher).Flush()
		io.WriteString(w, ": keepalive\n")
		io.WriteString(w, "data: {\"docID\":\"bae-2\",\"error\":\"\"}\n\n")
	}))

	ids, err := c.DocIDs(context.Background(), "User")
	require.NoError(t, err)
	require.Equal(t, []string{"bae-1", "bae-2"}, ids)
}

func TestDocIDsStalledStreamIsTimeout(t *testing.T) {
	release := make(chan struct{})
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, "data: {\"docID\":\"bae-1\",\"error\":\"\"}\n\n")
		w.(http.Flusher).Flush()
		<-release
	}), WithTimeout(200*time.Millisecond))
	defer close(release)

	ids, err := c.DocIDs(context.Background(), "User")
	require.Nil(t, ids)
	require.Equal(t, p2p.KindTimeout, p2p.KindOf(err))
	require.ErrorIs(t, err, p2p.ErrTimeout)
}

func TestDocIDsRecordErrors(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, "data: {\"docID\":\"bae-1\",\"error\":\"\"}\n")
		io.WriteString(w, "data: {\"docID\":\"bae-9\",\"error\":\"not found\"}\n")
	}))
	_, err := c.DocIDs(context.Background(), "User")
	require.ErrorContains(t, err, "bae-9: not found")
}

func TestDocIDsUnknownCollection(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, http.StatusBadRequest, p2p.ErrorBody{Error: "collection not found"})
	}))
	_, err := c.DocIDs(context.Background(), "Ghost")
	require.Equal(t, p2p.KindRejected, p2p.KindOf(err))
	require.EqualError(t, err, "list document IDs: collection not found")

	_, err = c.DocIDs(context.Background(), "../p2p/info")
	require.ErrorContains(t, err, "invalid name")
}

func TestCreateDocument(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"object", `{"_docID":"bae-1","name":"a"}`, "bae-1"},
		{"array", `[{"_docID":"bae-2"}]`, "bae-2"},
		{"empty", ``, ""},
		{"no id", `{"ok":true}`, ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				require.Equal(t, http.MethodPost, r.Method)
				var doc map[string]any
				require.NoError(t, json.NewDecoder(r.Body).Decode(&doc))
				require.Equal(t, "Ada", doc["name"])
				io.WriteString(w, tc.body)
			}))
			id, err := c.CreateDocument(context.Background(), "User", map[string]any{"name": "Ada"})
			require.NoError(t, err)
			require.Equal(t, tc.want, id)
		})
	}
}
