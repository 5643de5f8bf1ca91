package interfaces

import (
	"context"

	"github.com/eatyourpeas/checktick-keycore/cryptoutils"
)

// KEKRecordStore persists the encrypted envelope sets. The core performs
// each mutation as a single load-modify-store; the backing implementation
// provides the actual locking or transaction.
type KEKRecordStore interface {
	// Load returns the record for an entity, or ErrRecordNotFound.
	Load(ctx context.Context, id EntityID) (KEKRecord, error)

	// Store writes the record for an entity, replacing any previous one.
	Store(ctx context.Context, id EntityID, record KEKRecord) error
}

// SessionStore is the opaque key-value store backing the session. The core
// does not care whether it is a database row, an in-memory cache or a
// cookie; expiry beyond the core's own lazy TTL check is the store's
// concern.
type SessionStore interface {
	Get(key string) (string, bool)
	Set(key, value string)
	Delete(key string)
}

// ComponentStore holds the vault half of the platform master key. The core
// never combines both halves anywhere except transiently inside recovery
// execution.
type ComponentStore interface {
	// Get returns the component stored at path, or ErrComponentNotFound.
	Get(ctx context.Context, path string) ([]byte, error)

	// Put stores a component at path.
	Put(ctx context.Context, path string, value []byte) error
}

// HierarchySource resolves the chain of envelopes linking the platform key
// down to an entity's KEK: organisation envelope first, survey KEK envelope
// last.
type HierarchySource interface {
	ChainFor(ctx context.Context, id EntityID) ([]cryptoutils.Envelope, error)
}

// RecoveryRequestStore persists recovery requests. Status reads and updates
// of one request must be atomic with respect to each other.
type RecoveryRequestStore interface {
	Get(ctx context.Context, id string) (RecoveryRequest, error)
	Put(ctx context.Context, request RecoveryRequest) error
	List(ctx context.Context) ([]RecoveryRequest, error)
}

// AuditSink receives append-only audit events. Delivery is fire-and-forget
// from the core's perspective.
type AuditSink interface {
	Emit(event AuditEvent)
}
