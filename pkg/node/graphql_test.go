package node

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ryandielhenn/peersync/pkg/p2p"
)

func TestCountQuery(t *testing.T) {
	tests := []struct {
		name       string
		collection string
		filter     map[string]any
		want       string
		wantErr    bool
	}{
		{"no filter", "User", nil, `query { User { _docID } }`, false},
		{"eq", "User", map[string]any{"name": map[string]any{"_eq": "Additional Sync User"}},
			`query { User(filter: {name: {_eq: "Additional Sync User"}}) { _docID } }`, false},
		{"sorted keys", "Product", map[string]any{
			"price":    map[string]any{"_gt": 10.5},
			"category": map[string]any{"_in": []string{"a", "b"}},
		}, `query { Product(filter: {category: {_in: ["a", "b"]}, price: {_gt: 10.5}}) { _docID } }`, false},
		{"quoted string", "User", map[string]any{"name": map[string]any{"_eq": `a"b`}},
			`query { User(filter: {name: {_eq: "a\"b"}}) { _docID } }`, false},
		{"bad collection", "User { x }", nil, "", true},
		{"bad key", "User", map[string]any{"a b": 1}, "", true},
		{"bad value", "User", map[string]any{"a": struct{}{}}, "", true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := CountQuery(tc.collection, tc.filter)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestCount(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v0/graphql", r.URL.Path)
		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, `query { User(filter: {age: {_eq: 29}}) { _docID } }`, req["query"])
		writeJSON(t, w, http.StatusOK, map[string]any{
			"data": map[string]any{"User": []any{map[string]any{"_docID": "a"}, map[string]any{"_docID": "b"}}},
		})
	}))
	n, err := c.Count(context.Background(), "User", map[string]any{"age": map[string]any{"_eq": 29}})
	require.NoError(t, err)
	require.Equal(t, 2, n)
}

func TestQueryErrorsAreRejections(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, http.StatusOK, map[string]any{
			"data":   nil,
			"errors": []any{map[string]any{"message": "unknown field"}, map[string]any{"message": "bad filter"}},
		})
	}))
	_, err := c.Count(context.Background(), "User", nil)
	require.Equal(t, p2p.KindRejected, p2p.KindOf(err))
	require.EqualError(t, err, "graphql: unknown field; bad filter")
}

func TestCountMissingCollectionData(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, http.StatusOK, map[string]any{"data": map[string]any{}})
	}))
	_, err := c.Count(context.Background(), "User", nil)
	require.ErrorIs(t, err, p2p.ErrProtocol)
}
