package devbackend

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/takutakahashi/portalgate/internal/domain/entities"
	"golang.org/x/crypto/bcrypt"
)

var (
	errUserExists     = errors.New("a user with that username already exists")
	errBadCredentials = errors.New("no active account found with the given credentials")
)

type userRecord struct {
	user entities.User
	hash []byte
}

// userStore is the in-memory account table
type userStore struct {
	cost int

	mu     sync.RWMutex
	byName map[string]*userRecord
}

func newUserStore(cost int) *userStore {
	return &userStore{cost: cost, byName: make(map[string]*userRecord)}
}

func (s *userStore) create(u entities.User, password string) (entities.User, error) {
	key := strings.ToLower(u.Username)

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return entities.User{}, fmt.Errorf("failed to hash password: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byName[key]; exists {
		return entities.User{}, errUserExists
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	s.byName[key] = &userRecord{user: u, hash: hash}
	return u, nil
}

func (s *userStore) authenticate(username, password string) (entities.User, error) {
	s.mu.RLock()
	rec, ok := s.byName[strings.ToLower(username)]
	s.mu.RUnlock()
	if !ok {
		return entities.User{}, errBadCredentials
	}
	if err := bcrypt.CompareHashAndPassword(rec.hash, []byte(password)); err != nil {
		return entities.User{}, errBadCredentials
	}
	return rec.user, nil
}

func (s *userStore) get(username string) (entities.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.byName[strings.ToLower(username)]
	if !ok {
		return entities.User{}, false
	}
	return rec.user, true
}

func (s *userStore) countByRole() map[entities.Role]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[entities.Role]int)
	for _, rec := range s.byName {
		counts[rec.user.Role]++
	}
	return counts
}

func (s *userStore) list() []entities.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	users := make([]entities.User, 0, len(s.byName))
	for _, rec := range s.byName {
		users = append(users, rec.user)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	return users
}
