package docstore

import (
	"context"
	"sync"

	"siraj/pkg/platform/sentinel"
)

// MemoryStore keeps documents in process. A single mutex makes every
// operation, including ConditionalSet, atomic.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string]map[string]Document
}

func NewMemory() *MemoryStore {
	return &MemoryStore{docs: make(map[string]map[string]Document)}
}

func (s *MemoryStore) Get(_ context.Context, collection, id string) (Document, error) {
	if err := validateKey(collection, id); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.docs[collection][id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return cloneDocument(doc), nil
}

func (s *MemoryStore) Set(_ context.Context, collection, id string, data map[string]any, merge bool) error {
	if err := validateKey(collection, id); err != nil {
		return err
	}
	fields, err := normalize(data)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	coll := s.collection(collection)
	doc, ok := coll[id]
	if !ok || !merge {
		doc = Document{}
	}
	mergeFields(doc, fields)
	doc[FieldID] = id
	coll[id] = doc
	return nil
}

func (s *MemoryStore) ConditionalSet(_ context.Context, collection, id string, data map[string]any, pre Precondition) error {
	if err := validateKey(collection, id); err != nil {
		return err
	}
	fields, err := normalize(data)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	coll := s.collection(collection)
	doc := coll[id]
	if !pre.holds(doc) {
		return sentinel.ErrConflict
	}
	if doc == nil {
		doc = Document{}
	}
	mergeFields(doc, fields)
	doc[FieldID] = id
	coll[id] = doc
	return nil
}

func (s *MemoryStore) Query(_ context.Context, collection string, q Query) ([]Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	docs := make([]Document, 0, len(s.docs[collection]))
	for _, doc := range s.docs[collection] {
		docs = append(docs, cloneDocument(doc))
	}
	return applyQuery(docs, q), nil
}

func (s *MemoryStore) Delete(_ context.Context, collection, id string) error {
	if err := validateKey(collection, id); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs[collection], id)
	return nil
}

func (s *MemoryStore) Count(_ context.Context, collection string, filters ...Filter) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, doc := range s.docs[collection] {
		if matchesAll(doc, filters) {
			n++
		}
	}
	return n, nil
}

// collection must be called with the write lock held.
func (s *MemoryStore) collection(name string) map[string]Document {
	coll, ok := s.docs[name]
	if !ok {
		coll = make(map[string]Document)
		s.docs[name] = coll
	}
	return coll
}
