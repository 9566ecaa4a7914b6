package memory

import (
	"sync"

	"github.com/healai/heal/internal/models"
)

// Store holds each patient's ordered question/answer log for the lifetime
// of the process. Turns are only ever appended; there is no eviction, so a
// long-lived process accumulates history without bound.
type Store struct {
	mu    sync.RWMutex
	turns map[string][]models.ConversationTurn
	locks map[string]*sync.Mutex
}

func NewStore() *Store {
	return &Store{
		turns: make(map[string][]models.ConversationTurn),
		locks: make(map[string]*sync.Mutex),
	}
}

// Get returns a copy of the patient's history, oldest first. An unseen
// patient id yields an empty history, never an error.
func (s *Store) Get(patientID string) []models.ConversationTurn {
	s.mu.RLock()
	defer s.mu.RUnlock()

	turns := s.turns[patientID]
	out := make([]models.ConversationTurn, len(turns))
	copy(out, turns)
	return out
}

// Append records one completed exchange: the user's question followed by the
// agent's answer, always as an adjacent pair. Appends for the same patient
// serialize on a per-patient lock so concurrent exchanges cannot interleave
// their turns; different patients do not contend.
func (s *Store) Append(patientID, userText, agentText string) {
	lock := s.lockFor(patientID)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	s.turns[patientID] = append(s.turns[patientID],
		models.ConversationTurn{Role: models.RoleUser, Text: userText},
		models.ConversationTurn{Role: models.RoleAgent, Text: agentText},
	)
	s.mu.Unlock()
}

func (s *Store) lockFor(patientID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.locks[patientID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[patientID] = lock
	}
	return lock
}
