// Package store holds the canonical document records for the engine.
// Documents are immutable once stored; an update is modelled as a remove
// followed by an add. The store is not safe for concurrent use on its
// own: the engine serialises access behind its lock.
package store

import (
	"time"
)

// Document is a canonical document record. Metadata values are free-form
// strings; numeric values are parsed on demand by range filters.
type Document struct {
	ID       string            `json:"id"`
	Title    string            `json:"title"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
	AddedAt  time.Time         `json:"added_at"`
	Length   int               `json:"length"`
}

// Store maps document IDs to their records.
type Store struct {
	docs map[string]*Document
}

// New creates an empty Store.
func New() *Store {
	return &Store{docs: make(map[string]*Document)}
}

// Put inserts a document. The caller is responsible for duplicate checks.
func (s *Store) Put(doc *Document) {
	s.docs[doc.ID] = doc
}

// Get returns the document with the given ID, or nil if absent.
func (s *Store) Get(id string) *Document {
	return s.docs[id]
}

// Contains reports whether a document with the given ID exists.
func (s *Store) Contains(id string) bool {
	_, ok := s.docs[id]
	return ok
}

// Delete removes the document with the given ID and reports whether it
// was present.
func (s *Store) Delete(id string) bool {
	if _, ok := s.docs[id]; !ok {
		return false
	}
	delete(s.docs, id)
	return true
}

// Len returns the number of stored documents.
func (s *Store) Len() int {
	return len(s.docs)
}

// All returns every stored document. Order is unspecified.
func (s *Store) All() []*Document {
	docs := make([]*Document, 0, len(s.docs))
	for _, doc := range s.docs {
		docs = append(docs, doc)
	}
	return docs
}

// Reset drops all documents.
func (s *Store) Reset() {
	s.docs = make(map[string]*Document)
}
