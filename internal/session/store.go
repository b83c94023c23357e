// Package session holds the process-wide document and conversation history.
package session

import (
	"sync"

	"github.com/hyperjump/doctalk/internal/models"
)

// Snapshot is a consistent view of the store taken under a single lock.
type Snapshot struct {
	Document   *models.Document
	History    []models.Turn
	Generation uint64
}

// Store serializes access to the current document and the conversation history.
// Every SetDocument and Reset starts a new generation; exchanges that began in an
// older generation are not appended.
type Store struct {
	mu         sync.RWMutex
	document   *models.Document
	history    []models.Turn
	generation uint64
}

// NewStore returns an empty store: no document, no history.
func NewStore() *Store {
	return &Store{}
}

// SetDocument replaces the current document and clears the history.
func (s *Store) SetDocument(doc *models.Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.document = doc
	s.history = nil
	s.generation++
}

// Document returns the current document, or nil when none was uploaded.
func (s *Store) Document() *models.Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.document
}

// Reset clears the history and keeps the document.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = nil
	s.generation++
}

// AppendTurn appends a single turn.
func (s *Store) AppendTurn(role models.Role, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, models.Turn{Role: role, Content: content})
}

// AppendExchange appends the user prompt and the assistant reply as one unit. It returns
// false and appends nothing when generation is no longer current.
func (s *Store) AppendExchange(generation uint64, prompt, reply string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if generation != s.generation {
		return false
	}
	s.history = append(s.history,
		models.Turn{Role: models.RoleUser, Content: prompt},
		models.Turn{Role: models.RoleAssistant, Content: reply},
	)
	return true
}

// History returns a copy of the conversation.
func (s *Store) History() []models.Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Turn(nil), s.history...)
}

// Snapshot returns the document, a copy of the history, and the current generation.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		Document:   s.document,
		History:    append([]models.Turn(nil), s.history...),
		Generation: s.generation,
	}
}
