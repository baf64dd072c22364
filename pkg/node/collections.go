package node

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/ryandielhenn/peersync/pkg/p2p"
)

// DocIDs lists the identifiers of every document in collection, in the
// order the node streams them.
func (c *Client) DocIDs(ctx context.Context, collection string) ([]string, error) {
	if err := checkName(collection); err != nil {
		return nil, err
	}
	res, done, err := c.send(ctx, "list document IDs", http.MethodGet, "/collections/"+collection, nil)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	ids, err := c.decoder.Decode(res.StatusCode, res.Body)
	done(res.StatusCode)
	return ids, err
}

// CreateDocument stores doc in collection and returns its identifier when
// the node reports one.
func (c *Client) CreateDocument(ctx context.Context, collection string, doc any) (string, error) {
	const op = "create document"
	if err := checkName(collection); err != nil {
		return "", err
	}
	res, done, err := c.send(ctx, op, http.MethodPost, "/collections/"+collection, doc)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()

	data, err := io.ReadAll(io.LimitReader(res.Body, maxBody))
	done(res.StatusCode)
	if err != nil {
		return "", p2p.Transport(op, fmt.Errorf("reading response body: %w", err))
	}
	if !success(res.StatusCode) {
		return "", responseError(op, res.StatusCode, data)
	}
	return docIDFrom(data), nil
}

// docIDFrom pulls _docID out of an object or the first element of an array.
func docIDFrom(data []byte) string {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return ""
	}
	var created struct {
		DocID string `json:"_docID"`
	}
	if data[0] == '[' {
		var many []json.RawMessage
		if json.Unmarshal(data, &many) != nil || len(many) == 0 {
			return ""
		}
		data = many[0]
	}
	if json.Unmarshal(data, &created) != nil {
		return ""
	}
	return created.DocID
}
