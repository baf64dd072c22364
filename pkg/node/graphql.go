package node

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"slices"
	"strings"

	"github.com/ryandielhenn/peersync/pkg/p2p"
)

const pathGraphQL = "/graphql"

type GraphQLError struct {
	Message string `json:"message"`
}

type GraphQLResult struct {
	Data   map[string]json.RawMessage `json:"data"`
	Errors []GraphQLError             `json:"errors,omitempty"`
}

// Query runs a GraphQL request. Errors reported in the result fail the call
// with kind Rejected.
func (c *Client) Query(ctx context.Context, query string) (GraphQLResult, error) {
	const op = "graphql"
	var res GraphQLResult
	if err := c.do(ctx, op, http.MethodPost, pathGraphQL, map[string]string{"query": query}, &res); err != nil {
		return GraphQLResult{}, err
	}
	if len(res.Errors) > 0 {
		msgs := make([]string, 0, len(res.Errors))
		for _, e := range res.Errors {
			msgs = append(msgs, e.Message)
		}
		return GraphQLResult{}, p2p.Rejection(op, http.StatusOK, strings.Join(msgs, "; "))
	}
	return res, nil
}

// Count returns how many documents of collection match filter. filter uses
// the node's filter language, e.g. {"name": {"_eq": "x"}}; nil matches all.
func (c *Client) Count(ctx context.Context, collection string, filter map[string]any) (int, error) {
	q, err := CountQuery(collection, filter)
	if err != nil {
		return 0, err
	}
	res, err := c.Query(ctx, q)
	if err != nil {
		return 0, err
	}
	raw, ok := res.Data[collection]
	if !ok {
		return 0, p2p.Malformed("graphql", http.StatusOK, fmt.Errorf("no data for %s", collection))
	}
	var docs []json.RawMessage
	if err := json.Unmarshal(raw, &docs); err != nil {
		return 0, p2p.Malformed("graphql", http.StatusOK, err)
	}
	return len(docs), nil
}

// CountQuery renders the query Count sends.
func CountQuery(collection string, filter map[string]any) (string, error) {
	if err := checkName(collection); err != nil {
		return "", err
	}
	if len(filter) == 0 {
		return fmt.Sprintf("query { %s { _docID } }", collection), nil
	}
	lit, err := renderValue(filter)
	if err != nil {
		return "", fmt.Errorf("rendering filter: %w", err)
	}
	return fmt.Sprintf("query { %s(filter: %s) { _docID } }", collection, lit), nil
}

var nameRE = regexp.MustCompile(`^[_A-Za-z][_0-9A-Za-z]*$`)

func checkName(name string) error {
	if !nameRE.MatchString(name) {
		return fmt.Errorf("invalid name %q", name)
	}
	return nil
}

// renderValue writes v as a GraphQL input literal with object keys sorted.
func renderValue(v any) (string, error) {
	switch v := v.(type) {
	case nil:
		return "null", nil
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			if err := checkName(k); err != nil {
				return "", err
			}
			keys = append(keys, k)
		}
		slices.Sort(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			s, err := renderValue(v[k])
			if err != nil {
				return "", err
			}
			parts = append(parts, k+": "+s)
		}
		return "{" + strings.Join(parts, ", ") + "}", nil
	case []any:
		parts := make([]string, 0, len(v))
		for _, e := range v {
			s, err := renderValue(e)
			if err != nil {
				return "", err
			}
			parts = append(parts, s)
		}
		return "[" + strings.Join(parts, ", ") + "]", nil
	case []string:
		items := make([]any, len(v))
		for i, s := range v {
			items[i] = s
		}
		return renderValue(items)
	case string, bool, int, int32, int64, uint, uint32, uint64, float32, float64, json.Number:
		// JSON scalars are valid GraphQL literals
		b, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		return string(b), nil
	default:
		return "", fmt.Errorf("unsupported filter value of type %T", v)
	}
}
