package identity

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// ErrDuplicate is returned by MemoryStore.Create when the email is taken.
var ErrDuplicate = errors.New("identity: email already registered")

// MemoryStore is an in-memory Gateway. It is safe for concurrent use.
type MemoryStore struct {
	mu         sync.RWMutex
	identities []*Identity
	idGen      func() string
}

// NewMemoryStore creates a MemoryStore seeded with the given identities.
func NewMemoryStore(seed ...*Identity) *MemoryStore {
	s := &MemoryStore{idGen: uuid.NewString}
	for _, i := range seed {
		s.identities = append(s.identities, i.Clone())
	}
	return s
}

// SetIDGenerator overrides how ids are assigned to created identities.
func (s *MemoryStore) SetIDGenerator(gen func() string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.idGen = gen
}

func (s *MemoryStore) FindUnique(ctx context.Context, query *Identity) (*Identity, error) {
	if query == nil {
		return nil, ErrNotFound
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, i := range s.identities {
		if matches(i, query) {
			return i.Clone(), nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) Create(ctx context.Context, payload *Identity) (*Identity, error) {
	if payload == nil {
		return nil, errors.New("identity: nil payload")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if payload.Email != "" {
		for _, i := range s.identities {
			if strings.EqualFold(i.Email, payload.Email) {
				return nil, ErrDuplicate
			}
		}
	}

	created := payload.Clone()
	if created.ID == "" {
		created.ID = s.idGen()
	}
	s.identities = append(s.identities, created)
	return created.Clone(), nil
}

// Delete removes the identity with the given id, if present.
func (s *MemoryStore) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for n, i := range s.identities {
		if i.ID == id {
			s.identities = append(s.identities[:n], s.identities[n+1:]...)
			return
		}
	}
}

// Len returns the number of stored identities.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.identities)
}

func matches(i, query *Identity) bool {
	if query.ID != "" && i.ID == query.ID {
		return true
	}
	return query.Email != "" && strings.EqualFold(i.Email, query.Email)
}
