package identity

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory credential store for demo/development.
type MemoryStore struct {
	mu     sync.RWMutex
	keys   map[string]*APIKey // by ID
	tokens map[string]*Token  // by ID
}

// NewMemoryStore creates a new in-memory credential store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		keys:   make(map[string]*APIKey),
		tokens: make(map[string]*Token),
	}
}

func (m *MemoryStore) CreateKey(_ context.Context, key *APIKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *key
	m.keys[key.ID] = &cp
	return nil
}

func (m *MemoryStore) GetKeyByHash(_ context.Context, hash string) (*APIKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, k := range m.keys {
		if k.Hash == hash {
			cp := *k
			return &cp, nil
		}
	}
	return nil, ErrKeyNotFound
}

func (m *MemoryStore) ListKeysByTenant(_ context.Context, tenantID string) ([]*APIKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*APIKey
	for _, k := range m.keys {
		if k.TenantID == tenantID {
			cp := *k
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MemoryStore) UpdateKey(_ context.Context, key *APIKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.keys[key.ID]; !ok {
		return ErrKeyNotFound
	}
	cp := *key
	m.keys[key.ID] = &cp
	return nil
}

func (m *MemoryStore) CreateToken(_ context.Context, tok *Token) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *tok
	m.tokens[tok.ID] = &cp
	return nil
}

func (m *MemoryStore) GetTokenByHash(_ context.Context, hash string) (*Token, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, t := range m.tokens {
		if t.Hash == hash {
			cp := *t
			return &cp, nil
		}
	}
	return nil, ErrKeyNotFound
}

func (m *MemoryStore) RevokeToken(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[id]
	if !ok {
		return ErrKeyNotFound
	}
	t.Revoked = true
	return nil
}

var _ Store = (*MemoryStore)(nil)
