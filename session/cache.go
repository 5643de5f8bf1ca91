// Package session implements the forward-secrecy credential cache. The KEK
// itself is never written to the session store; only an encrypted copy of
// the original unlock credential is cached, bound to a session-specific
// key, and the KEK is re-derived fresh on every protected request.
package session

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/eatyourpeas/checktick-keycore/cryptoutils"
	"github.com/eatyourpeas/checktick-keycore/interfaces"
)

// Session store keys for the cached unlock state.
const (
	keyCredentials = "unlock_credentials"
	keyMethod      = "unlock_method"
	keyVerifiedAt  = "unlock_verified_at"
	keyEntityID    = "unlock_entity_id"
)

// DefaultTTL is the idle window after which a cached credential stops being
// honoured. Evaluated lazily at Recall time; no background sweep.
const DefaultTTL = 30 * time.Minute

// Unlocker re-derives a KEK from a cached credential. Satisfied by
// kek.Store.
type Unlocker interface {
	Unlock(ctx context.Context, method interfaces.UnlockMethod, secret []byte) ([]byte, error)
}

// cachedCredential is the envelope plaintext. It holds the original unlock
// credential, never the KEK.
type cachedCredential struct {
	Method   interfaces.UnlockMethod `json:"method"`
	Secret   []byte                  `json:"secret"`
	EntityID interfaces.EntityID     `json:"entity_id"`
}

// Cache remembers encrypted unlock credentials in an opaque session store.
type Cache struct {
	store interfaces.SessionStore
	ttl   time.Duration
	log   *slog.Logger

	// now is swappable for TTL tests.
	now func() time.Time
}

// NewCache creates a credential cache over a session store. A zero ttl
// selects DefaultTTL.
func NewCache(store interfaces.SessionStore, ttl time.Duration, log *slog.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{store: store, ttl: ttl, log: log, now: time.Now}
}

// Remember caches the credential for entityID, sealed under the
// session-specific binding key. Compromise of the session store backend
// alone yields nothing without that ephemeral key.
func (c *Cache) Remember(entityID interfaces.EntityID, cred interfaces.UnlockCredential, bindingKey []byte) error {
	payload, err := json.Marshal(cachedCredential{
		Method:   cred.Method(),
		Secret:   cred.SecretBytes(),
		EntityID: entityID,
	})
	if err != nil {
		return fmt.Errorf("failed to serialize credential: %w", err)
	}
	defer cryptoutils.WipeBytes(payload)

	env, err := cryptoutils.SealWithKey(bindingKey, payload)
	if err != nil {
		return fmt.Errorf("failed to seal credential: %w", err)
	}

	c.store.Set(keyCredentials, base64.StdEncoding.EncodeToString(env.Bytes()))
	c.store.Set(keyMethod, string(cred.Method()))
	c.store.Set(keyVerifiedAt, c.now().UTC().Format(time.RFC3339))
	c.store.Set(keyEntityID, string(entityID))
	return nil
}

// Recall re-derives the KEK for entityID from the cached credential. The
// second return is false when there is nothing usable in the session:
// no cached credential, idle TTL exceeded (the cache is cleared), a
// different entity's credential, a rotated binding key, or a credential
// that no longer unlocks the record. All of these are routine conditions
// the caller handles by re-prompting, not errors.
//
// The returned KEK is freshly derived and not retained by the cache; the
// caller wipes it when the request completes.
func (c *Cache) Recall(ctx context.Context, entityID interfaces.EntityID, bindingKey []byte, unlocker Unlocker) ([]byte, bool) {
	encoded, ok := c.store.Get(keyCredentials)
	if !ok {
		return nil, false
	}

	verifiedAtRaw, ok := c.store.Get(keyVerifiedAt)
	if !ok {
		c.Forget()
		return nil, false
	}
	verifiedAt, err := time.Parse(time.RFC3339, verifiedAtRaw)
	if err != nil || c.now().Sub(verifiedAt) > c.ttl {
		c.Forget()
		return nil, false
	}

	// Cross-entity isolation: a credential cached while unlocking entity A
	// must never satisfy a request for entity B.
	if cachedEntity, _ := c.store.Get(keyEntityID); cachedEntity != string(entityID) {
		return nil, false
	}

	envBytes, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		c.log.Debug("Cached credential is not valid base64, clearing")
		c.Forget()
		return nil, false
	}

	env, err := cryptoutils.ParseEnvelope(envBytes)
	if err != nil {
		c.Forget()
		return nil, false
	}

	payload, err := cryptoutils.OpenWithKey(bindingKey, env)
	if err != nil {
		// Binding key rotated or session data tampered with.
		c.log.Debug("Cached credential failed to decrypt, clearing")
		c.Forget()
		return nil, false
	}
	defer cryptoutils.WipeBytes(payload)

	var cached cachedCredential
	if err := json.Unmarshal(payload, &cached); err != nil {
		c.Forget()
		return nil, false
	}
	defer cryptoutils.WipeBytes(cached.Secret)

	if cached.EntityID != entityID {
		return nil, false
	}

	kek, err := unlocker.Unlock(ctx, cached.Method, cached.Secret)
	if err != nil {
		return nil, false
	}
	return kek, true
}

// Forget clears the cached unlock state. Called on explicit lock, logout,
// and lazily on expiry.
func (c *Cache) Forget() {
	c.store.Delete(keyCredentials)
	c.store.Delete(keyMethod)
	c.store.Delete(keyVerifiedAt)
	c.store.Delete(keyEntityID)
}
