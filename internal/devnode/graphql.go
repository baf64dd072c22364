package devnode

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Only the listing form is understood:
//
//	query { User { _docID } }
//	query { User(filter: {name: {_eq: "x"}}) { _docID } }
var listQueryRE = regexp.MustCompile(`^\s*(?:query\s*)?\{\s*([_A-Za-z][_0-9A-Za-z]*)\s*(?:\(\s*filter\s*:\s*(\{.*\})\s*\))?\s*\{\s*_docID\s*\}\s*\}\s*$`)

type graphQLError struct {
	Message string `json:"message"`
}

type graphQLResponse struct {
	Data   map[string]any `json:"data"`
	Errors []graphQLError `json:"errors,omitempty"`
}

// Query answers a GraphQL listing query. Failures are reported inside the
// response the way a GraphQL server does.
func (n *Node) Query(query string) graphQLResponse {
	collection, filter, err := parseListQuery(query)
	if err != nil {
		return graphQLResponse{Errors: []graphQLError{{Message: err.Error()}}}
	}
	if !n.store.HasCollection(collection) {
		return graphQLResponse{Errors: []graphQLError{{Message: fmt.Sprintf("%s: %s", ErrCollectionAbsent, collection)}}}
	}
	docs := n.store.Match(collection, filter)
	rows := make([]map[string]any, 0, len(docs))
	for _, d := range docs {
		rows = append(rows, map[string]any{"_docID": d.ID})
	}
	return graphQLResponse{Data: map[string]any{collection: rows}}
}

// parseListQuery returns the collection and an equality filter.
func parseListQuery(query string) (string, map[string]any, error) {
	m := listQueryRE.FindStringSubmatch(query)
	if m == nil {
		return "", nil, errors.New("unsupported query")
	}
	if m[2] == "" {
		return m[1], nil, nil
	}

	lit, err := literalToJSON(m[2])
	if err != nil {
		return "", nil, err
	}
	var raw map[string]any
	if err := json.Unmarshal([]byte(lit), &raw); err != nil {
		return "", nil, fmt.Errorf("invalid filter: %w", err)
	}

	filter := make(map[string]any, len(raw))
	for field, cond := range raw {
		ops, ok := cond.(map[string]any)
		if !ok {
			return "", nil, fmt.Errorf("invalid filter on %s", field)
		}
		for op, v := range ops {
			if op != "_eq" {
				return "", nil, fmt.Errorf("unsupported filter operator %s", op)
			}
			filter[field] = v
		}
	}
	return m[1], filter, nil
}

// literalToJSON quotes the bare object keys of a GraphQL input literal.
// String contents are copied untouched.
func literalToJSON(lit string) (string, error) {
	var b strings.Builder
	for i := 0; i < len(lit); {
		c := lit[i]
		switch {
		case c == '"':
			j := i + 1
			for ; j < len(lit) && lit[j] != '"'; j++ {
				if lit[j] == '\\' {
					j++
				}
			}
			if j >= len(lit) {
				return "", errors.New("unterminated string in filter")
			}
			b.WriteString(lit[i : j+1])
			i = j + 1
		case c == '-' || c >= '0' && c <= '9':
			j := i + 1
			for j < len(lit) && strings.IndexByte("0123456789.eE+-", lit[j]) >= 0 {
				j++
			}
			b.WriteString(lit[i:j])
			i = j
		case c == '_' || c >= 'A' && c <= 'Z' || c >= 'a' && c <= 'z':
			j := i + 1
			for j < len(lit) && (lit[j] == '_' || lit[j] >= '0' && lit[j] <= '9' ||
				lit[j] >= 'A' && lit[j] <= 'Z' || lit[j] >= 'a' && lit[j] <= 'z') {
				j++
			}
			word := lit[i:j]
			switch word {
			case "true", "false", "null":
				b.WriteString(word)
			default:
				b.WriteString(`"` + word + `"`)
			}
			i = j
		default:
			b.WriteByte(c)
			i++
		}
	}
	return b.String(), nil
}
