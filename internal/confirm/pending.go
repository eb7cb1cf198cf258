// Package confirm turns a calendar intent extracted from assistant output
// into an explicitly confirmed, executed, or cleanly abandoned external
// action: single-use confirmation tokens with a TTL, disambiguation among
// candidate events, and atomic remove-as-commit semantics.
package confirm

import (
	"crypto/rand"
	"encoding/base64"
	"sync"
	"time"

	"github.com/san4s204/AI-ASSISTANT-main/pkg/models"
)

// State tags where a pending action is in its lifecycle. A consumed action
// has no state: removal from the store is the commit.
type State string

const (
	// StateProposed means the action awaits a yes/no confirmation.
	StateProposed State = "proposed"
	// StateAwaitingPick means candidates were found and the action awaits
	// a numbered selection.
	StateAwaitingPick State = "awaiting_pick"
)

// PendingAction is one unconfirmed mutating intent. It is addressable by
// exactly one unguessable single-use token.
type PendingAction struct {
	Token        string
	State        State
	Intent       models.Intent
	OwnerID      int64
	CollectionID string
	// SessionID is the chat the action was proposed in; confirmations from
	// any other chat are refused.
	SessionID  int64
	ExpiresAt  time.Time
	Candidates []models.Event
}

// Store holds pending actions keyed by token. Remove is the atomic commit
// point: of several concurrent completions for one token, exactly the
// caller that removes the record proceeds with the external mutation.
type Store interface {
	Put(pa PendingAction)
	Get(token string) (PendingAction, bool)
	// Update replaces an existing record; it is a no-op returning false
	// when the token is no longer present.
	Update(pa PendingAction) bool
	// Remove deletes and returns the record, reporting whether this caller
	// won the removal.
	Remove(token string) (PendingAction, bool)
	// Sweep drops records expired as of now and returns how many.
	Sweep(now time.Time) int
}

// MemoryStore is the in-process Store.
type MemoryStore struct {
	mu      sync.Mutex
	pending map[string]PendingAction
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{pending: make(map[string]PendingAction)}
}

func (s *MemoryStore) Put(pa PendingAction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[pa.Token] = pa
}

func (s *MemoryStore) Get(token string) (PendingAction, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pa, ok := s.pending[token]
	return pa, ok
}

func (s *MemoryStore) Update(pa PendingAction) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pending[pa.Token]; !ok {
		return false
	}
	s.pending[pa.Token] = pa
	return true
}

func (s *MemoryStore) Remove(token string) (PendingAction, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pa, ok := s.pending[token]
	if ok {
		delete(s.pending, token)
	}
	return pa, ok
}

func (s *MemoryStore) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	swept := 0
	for token, pa := range s.pending {
		if now.After(pa.ExpiresAt) {
			delete(s.pending, token)
			swept++
		}
	}
	return swept
}

// Len reports the number of live records.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// newToken returns an unguessable URL-safe token.
func newToken() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		panic(err) // crypto/rand never fails on supported platforms
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}
