package rbac

import (
	"fmt"
	"sync"
)

// Store keeps the grant set of every provisioned user. Reads return copies;
// writes go through the Service.
type Store struct {
	mu    sync.RWMutex
	users map[string]*UserPermissions
	order []string
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{users: make(map[string]*UserPermissions)}
}

// Get returns a copy of the user's grants
func (s *Store) Get(userID string) (*UserPermissions, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	up, ok := s.users[userID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUserNotFound, userID)
	}
	return up.Clone(), nil
}

// Exists reports whether the user is provisioned
func (s *Store) Exists(userID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.users[userID]
	return ok
}

// List returns copies of every user's grants in provisioning order
func (s *Store) List() []*UserPermissions {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*UserPermissions, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.users[id].Clone())
	}
	return out
}

// Len returns the number of provisioned users
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users)
}

func (s *Store) put(up *UserPermissions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[up.UserID]; ok {
		return fmt.Errorf("%w: %s", ErrUserExists, up.UserID)
	}
	s.users[up.UserID] = up.Clone()
	s.order = append(s.order, up.UserID)
	return nil
}

// update applies fn to the stored grants of userID under the write lock
func (s *Store) update(userID string, fn func(up *UserPermissions)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	up, ok := s.users[userID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUserNotFound, userID)
	}
	fn(up)
	return nil
}

func (s *Store) delete(userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[userID]; !ok {
		return fmt.Errorf("%w: %s", ErrUserNotFound, userID)
	}
	delete(s.users, userID)
	for i, id := range s.order {
		if id == userID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// replace swaps the whole content; callers hold s.mu
func (s *Store) replace(users []*UserPermissions) {
	s.users = make(map[string]*UserPermissions, len(users))
	s.order = make([]string, 0, len(users))
	for _, up := range users {
		s.users[up.UserID] = up.Clone()
		s.order = append(s.order, up.UserID)
	}
}
