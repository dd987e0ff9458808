package registry

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MemoryStore is an in-memory Store for tests and local development.
type MemoryStore struct {
	mu       sync.RWMutex
	services map[string]*Service // lowercased name
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory service store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{services: make(map[string]*Service)}
}

func (s *MemoryStore) Create(ctx context.Context, svc *Service) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.ToLower(svc.Name)
	if _, ok := s.services[key]; ok {
		return ErrServiceExists
	}
	cp := *svc
	s.services[key] = &cp
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, name string) (*Service, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	svc, ok := s.services[strings.ToLower(name)]
	if !ok {
		return nil, ErrServiceNotFound
	}
	cp := *svc
	return &cp, nil
}

func (s *MemoryStore) Update(ctx context.Context, svc *Service) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.ToLower(svc.Name)
	if _, ok := s.services[key]; !ok {
		return ErrServiceNotFound
	}
	cp := *svc
	s.services[key] = &cp
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.ToLower(name)
	if _, ok := s.services[key]; !ok {
		return ErrServiceNotFound
	}
	delete(s.services, key)
	return nil
}

func (s *MemoryStore) List(ctx context.Context) ([]*Service, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Service, 0, len(s.services))
	for _, svc := range s.services {
		cp := *svc
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
