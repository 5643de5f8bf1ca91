// Package kek manages per-entity key-encrypting keys: the multi-method
// envelope set that stores N encrypted copies of one 32-byte KEK, and the
// platform-to-survey key hierarchy built on top of it.
package kek

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/eatyourpeas/checktick-keycore/cryptoutils"
	"github.com/eatyourpeas/checktick-keycore/interfaces"
)

// Store manages the KEK record for one entity. Every stored envelope wraps
// the identical 32-byte KEK under a different unlock credential; the KEK
// itself is never persisted. Each mutating operation is one atomic
// load-modify-store against the record store.
type Store struct {
	entity  interfaces.EntityID
	records interfaces.KEKRecordStore
	audit   interfaces.AuditSink
	log     *slog.Logger

	mu sync.Mutex
}

// NewStore creates a KEK store for one entity.
func NewStore(entity interfaces.EntityID, records interfaces.KEKRecordStore, audit interfaces.AuditSink, log *slog.Logger) *Store {
	return &Store{entity: entity, records: records, audit: audit, log: log}
}

// GenerateKEK returns a fresh random 32-byte KEK. Called once at entity
// creation; the caller escrows it via Create and then wipes it.
func GenerateKEK() ([]byte, error) {
	return cryptoutils.RandomBytes(cryptoutils.KeySize)
}

// Create seals the KEK under a key derived from secret and adds or replaces
// the named entry, returning the new envelope.
func (s *Store) Create(ctx context.Context, kek []byte, method interfaces.UnlockMethod, secret []byte) (cryptoutils.Envelope, error) {
	if len(kek) != cryptoutils.KeySize {
		return cryptoutils.Envelope{}, fmt.Errorf("KEK must be %d bytes", cryptoutils.KeySize)
	}

	env, err := cryptoutils.Seal(secret, kek)
	if err != nil {
		return cryptoutils.Envelope{}, fmt.Errorf("failed to seal KEK: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	record, err := s.loadOrEmpty(ctx)
	if err != nil {
		return cryptoutils.Envelope{}, err
	}

	record.Entries[method] = env
	if err := s.records.Store(ctx, s.entity, record); err != nil {
		return cryptoutils.Envelope{}, fmt.Errorf("failed to store KEK record: %w", err)
	}

	s.emit("kek.method_created", map[string]string{"method": string(method)})
	return env, nil
}

// Unlock decrypts the named entry with a key derived from secret and
// returns the plaintext KEK. A missing method and a wrong secret both
// surface as ErrInvalidCredential so callers cannot enumerate methods.
func (s *Store) Unlock(ctx context.Context, method interfaces.UnlockMethod, secret []byte) ([]byte, error) {
	record, err := s.records.Load(ctx, s.entity)
	if err != nil {
		if errors.Is(err, interfaces.ErrRecordNotFound) {
			s.emit("kek.unlock_failed", map[string]string{"method": string(method)})
			return nil, interfaces.ErrInvalidCredential
		}
		return nil, fmt.Errorf("failed to load KEK record: %w", err)
	}

	env, ok := record.Entries[method]
	if !ok {
		s.emit("kek.unlock_failed", map[string]string{"method": string(method)})
		return nil, interfaces.ErrInvalidCredential
	}

	kek, err := cryptoutils.Open(secret, env)
	if err != nil {
		s.emit("kek.unlock_failed", map[string]string{"method": string(method)})
		return nil, interfaces.ErrInvalidCredential
	}

	s.emit("kek.unlocked", map[string]string{"method": string(method)})
	return kek, nil
}

// UnlockWith is Unlock with a typed credential.
func (s *Store) UnlockWith(ctx context.Context, cred interfaces.UnlockCredential) ([]byte, error) {
	return s.Unlock(ctx, cred.Method(), cred.SecretBytes())
}

// AddMethod adds another unlock path for an already-known KEK, typically
// right after a successful Unlock on an existing method.
func (s *Store) AddMethod(ctx context.Context, kek []byte, method interfaces.UnlockMethod, secret []byte) error {
	_, err := s.Create(ctx, kek, method, secret)
	return err
}

// RemoveMethod deletes an unlock path. Removing the last remaining method
// makes the entity permanently inaccessible through normal channels, so it
// requires confirmLast; without it the call fails with ErrLastUnlockMethod.
func (s *Store) RemoveMethod(ctx context.Context, method interfaces.UnlockMethod, confirmLast bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, err := s.records.Load(ctx, s.entity)
	if err != nil {
		return err
	}

	if _, ok := record.Entries[method]; !ok {
		return nil
	}

	if len(record.Entries) == 1 && !confirmLast {
		return interfaces.ErrLastUnlockMethod
	}

	delete(record.Entries, method)
	if err := s.records.Store(ctx, s.entity, record); err != nil {
		return fmt.Errorf("failed to store KEK record: %w", err)
	}

	s.emit("kek.method_removed", map[string]string{"method": string(method)})
	return nil
}

// Methods lists the unlock methods currently present.
func (s *Store) Methods(ctx context.Context) ([]interfaces.UnlockMethod, error) {
	record, err := s.records.Load(ctx, s.entity)
	if err != nil {
		return nil, err
	}

	methods := make([]interfaces.UnlockMethod, 0, len(record.Entries))
	for method := range record.Entries {
		methods = append(methods, method)
	}
	return methods, nil
}

// Erase overwrites every stored envelope with fresh random bytes and
// persists the result. Unlike deletion, this destroys the KEK even in
// backups that retain the overwritten ciphertext. Used for hard deletion.
func (s *Store) Erase(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, err := s.records.Load(ctx, s.entity)
	if err != nil {
		return err
	}

	for method, env := range record.Entries {
		if err := env.Wipe(); err != nil {
			return fmt.Errorf("failed to erase envelope: %w", err)
		}
		record.Entries[method] = env
	}

	if err := s.records.Store(ctx, s.entity, record); err != nil {
		return fmt.Errorf("failed to store erased record: %w", err)
	}

	s.emit("kek.erased", map[string]string{"methods": fmt.Sprintf("%d", len(record.Entries))})
	return nil
}

func (s *Store) loadOrEmpty(ctx context.Context) (interfaces.KEKRecord, error) {
	record, err := s.records.Load(ctx, s.entity)
	if err == nil {
		return record, nil
	}
	if errors.Is(err, interfaces.ErrRecordNotFound) {
		return interfaces.KEKRecord{Entries: make(map[interfaces.UnlockMethod]cryptoutils.Envelope)}, nil
	}
	return interfaces.KEKRecord{}, fmt.Errorf("failed to load KEK record: %w", err)
}

func (s *Store) emit(eventType string, detail map[string]string) {
	if s.audit == nil {
		return
	}
	s.audit.Emit(interfaces.AuditEvent{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Entity:    s.entity,
		Detail:    detail,
	})
}
