// Package storage provides implementations of the core's collaborator
// interfaces: KEK record persistence, the session key-value store, the
// component store holding the vault half of the platform master key, the
// hierarchy chain source and audit sinks. In-memory backends serve tests
// and single-node deployments; file and Vault backends serve real ones.
package storage

import (
	"context"
	"sync"

	"github.com/eatyourpeas/checktick-keycore/cryptoutils"
	"github.com/eatyourpeas/checktick-keycore/interfaces"
)

// MemoryKEKRecordStore keeps KEK records in a map. Records are deep-copied
// on the way in and out so callers never alias the store's buffers.
type MemoryKEKRecordStore struct {
	mu      sync.RWMutex
	records map[interfaces.EntityID]interfaces.KEKRecord
}

// NewMemoryKEKRecordStore creates an empty in-memory record store.
func NewMemoryKEKRecordStore() *MemoryKEKRecordStore {
	return &MemoryKEKRecordStore{records: make(map[interfaces.EntityID]interfaces.KEKRecord)}
}

func (s *MemoryKEKRecordStore) Load(ctx context.Context, id interfaces.EntityID) (interfaces.KEKRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.records[id]
	if !ok {
		return interfaces.KEKRecord{}, interfaces.ErrRecordNotFound
	}
	return record.Clone(), nil
}

func (s *MemoryKEKRecordStore) Store(ctx context.Context, id interfaces.EntityID, record interfaces.KEKRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[id] = record.Clone()
	return nil
}

// MemorySessionStore is a plain in-memory key-value session backing.
type MemorySessionStore struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemorySessionStore creates an empty session store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{values: make(map[string]string)}
}

func (s *MemorySessionStore) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.values[key]
	return value, ok
}

func (s *MemorySessionStore) Set(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
}

func (s *MemorySessionStore) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
}

// MemoryComponentStore holds master-key components in memory. Used in
// tests; production deployments use the Vault backend.
type MemoryComponentStore struct {
	mu         sync.RWMutex
	components map[string][]byte
}

// NewMemoryComponentStore creates an empty component store.
func NewMemoryComponentStore() *MemoryComponentStore {
	return &MemoryComponentStore{components: make(map[string][]byte)}
}

func (s *MemoryComponentStore) Get(ctx context.Context, path string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok := s.components[path]
	if !ok {
		return nil, interfaces.ErrComponentNotFound
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

func (s *MemoryComponentStore) Put(ctx context.Context, path string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := make([]byte, len(value))
	copy(stored, value)
	s.components[path] = stored
	return nil
}

// MemoryHierarchyStore maps entities to their wrap chains (organisation
// envelope down to the survey KEK envelope).
type MemoryHierarchyStore struct {
	mu     sync.RWMutex
	chains map[interfaces.EntityID][]cryptoutils.Envelope
}

// NewMemoryHierarchyStore creates an empty hierarchy store.
func NewMemoryHierarchyStore() *MemoryHierarchyStore {
	return &MemoryHierarchyStore{chains: make(map[interfaces.EntityID][]cryptoutils.Envelope)}
}

// SetChain registers the envelope chain for an entity, root-most link
// first.
func (s *MemoryHierarchyStore) SetChain(id interfaces.EntityID, chain []cryptoutils.Envelope) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chains[id] = chain
}

func (s *MemoryHierarchyStore) ChainFor(ctx context.Context, id interfaces.EntityID) ([]cryptoutils.Envelope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	chain, ok := s.chains[id]
	if !ok {
		return nil, interfaces.ErrChainNotFound
	}
	return chain, nil
}

// MemoryRecoveryRequestStore keeps recovery requests in memory.
type MemoryRecoveryRequestStore struct {
	mu       sync.RWMutex
	requests map[string]interfaces.RecoveryRequest
}

// NewMemoryRecoveryRequestStore creates an empty request store.
func NewMemoryRecoveryRequestStore() *MemoryRecoveryRequestStore {
	return &MemoryRecoveryRequestStore{requests: make(map[string]interfaces.RecoveryRequest)}
}

func (s *MemoryRecoveryRequestStore) Get(ctx context.Context, id string) (interfaces.RecoveryRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	request, ok := s.requests[id]
	if !ok {
		return interfaces.RecoveryRequest{}, interfaces.ErrRequestNotFound
	}
	return request, nil
}

func (s *MemoryRecoveryRequestStore) Put(ctx context.Context, request interfaces.RecoveryRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests[request.ID] = request
	return nil
}

func (s *MemoryRecoveryRequestStore) List(ctx context.Context) ([]interfaces.RecoveryRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]interfaces.RecoveryRequest, 0, len(s.requests))
	for _, request := range s.requests {
		out = append(out, request)
	}
	return out, nil
}
