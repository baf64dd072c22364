package devnode

import (
	"container/list"
	"encoding/json"
	"fmt"
	"maps"
	"reflect"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// docNamespace seeds content-derived document IDs so that the same
// document created on two nodes gets the same ID.
var docNamespace = uuid.MustParse("6ba7b812-9dad-11d1-80b4-00c04fd430c8")

// Document is one stored document. Fields never contains _docID.
type Document struct {
	ID     string
	Fields map[string]any
}

// MarshalJSON renders the document the way the node returns it, with
// _docID alongside the fields.
func (d Document) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(d.Fields)+1)
	maps.Copy(out, d.Fields)
	out["_docID"] = d.ID
	return json.Marshal(out)
}

func (d Document) clone() Document {
	return Document{ID: d.ID, Fields: maps.Clone(d.Fields)}
}

// DocID derives a document's ID from its collection and content.
func DocID(collection string, fields map[string]any) (string, error) {
	data, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("encoding document: %w", err)
	}
	return "bae-" + uuid.NewSHA1(docNamespace, append([]byte(collection+"\x00"), data...)).String(), nil
}

type collection struct {
	data map[string]*list.Element
	ll   *list.List
}

// Store is an in-memory document store. Each collection keeps its
// documents in insertion order; overwriting a document keeps its place.
type Store struct {
	mu          sync.RWMutex
	collections map[string]*collection
}

func NewStore() *Store {
	return &Store{collections: make(map[string]*collection)}
}

// Create adds a collection if it does not exist yet.
func (s *Store) Create(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.collectionLocked(name)
}

func (s *Store) collectionLocked(name string) *collection {
	c, ok := s.collections[name]
	if !ok {
		c = &collection{data: make(map[string]*list.Element), ll: list.New()}
		s.collections[name] = c
	}
	return c
}

func (s *Store) HasCollection(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.collections[name]
	return ok
}

// Collections returns collection names sorted.
func (s *Store) Collections() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.collections))
	for name := range s.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Put stores doc in the named collection, creating the collection if
// needed. It reports whether the document was new.
func (s *Store) Put(name string, doc Document) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.collectionLocked(name)
	doc = doc.clone()
	if el, ok := c.data[doc.ID]; ok {
		el.Value = doc
		return false
	}
	c.data[doc.ID] = c.ll.PushBack(doc)
	return true
}

// PutIfAbsent stores doc only when its ID is new to the collection and
// reports whether it did.
func (s *Store) PutIfAbsent(name string, doc Document) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.collectionLocked(name)
	if _, ok := c.data[doc.ID]; ok {
		return false
	}
	c.data[doc.ID] = c.ll.PushBack(doc.clone())
	return true
}

func (s *Store) Get(name, id string) (Document, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.collections[name]
	if !ok {
		return Document{}, false
	}
	el, ok := c.data[id]
	if !ok {
		return Document{}, false
	}
	return el.Value.(Document).clone(), true
}

// Find looks id up in every collection.
func (s *Store) Find(id string) (string, Document, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for name, c := range s.collections {
		if el, ok := c.data[id]; ok {
			return name, el.Value.(Document).clone(), true
		}
	}
	return "", Document{}, false
}

func (s *Store) Delete(name, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.collections[name]
	if !ok {
		return false
	}
	el, ok := c.data[id]
	if !ok {
		return false
	}
	delete(c.data, id)
	c.ll.Remove(el)
	return true
}

// IDs returns document IDs in insertion order. ok is false when the
// collection does not exist.
func (s *Store) IDs(name string) (ids []string, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.collections[name]
	if !ok {
		return nil, false
	}
	ids = make([]string, 0, c.ll.Len())
	for el := c.ll.Front(); el != nil; el = el.Next() {
		ids = append(ids, el.Value.(Document).ID)
	}
	return ids, true
}

// Match returns, in insertion order, the documents whose fields equal every
// value in filter.
func (s *Store) Match(name string, filter map[string]any) []Document {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.collections[name]
	if !ok {
		return nil
	}
	var out []Document
	for el := c.ll.Front(); el != nil; el = el.Next() {
		doc := el.Value.(Document)
		if matches(doc, filter) {
			out = append(out, doc.clone())
		}
	}
	return out
}

func (s *Store) Len(name string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if c, ok := s.collections[name]; ok {
		return c.ll.Len()
	}
	return 0
}

func matches(doc Document, filter map[string]any) bool {
	for field, want := range filter {
		if field == "_docID" {
			if doc.ID != want {
				return false
			}
			continue
		}
		got, ok := doc.Fields[field]
		if !ok || !reflect.DeepEqual(normalize(got), normalize(want)) {
			return false
		}
	}
	return true
}

// normalize folds numeric types so that JSON-decoded and literal values
// compare equal.
func normalize(v any) any {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case json.Number:
		if f, err := n.Float64(); err == nil {
			return f
		}
	}
	return v
}
