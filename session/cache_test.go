package session

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eatyourpeas/checktick-keycore/cryptoutils"
	"github.com/eatyourpeas/checktick-keycore/interfaces"
	"github.com/eatyourpeas/checktick-keycore/kek"
	"github.com/eatyourpeas/checktick-keycore/storage"
)

func newUnlockedEntity(t *testing.T, entity interfaces.EntityID, password string) (*kek.Store, []byte) {
	t.Helper()
	store := kek.NewStore(entity, storage.NewMemoryKEKRecordStore(), nil, slog.Default())
	kekBytes, err := kek.GenerateKEK()
	require.NoError(t, err)
	_, err = store.Create(context.Background(), kekBytes, interfaces.MethodPassword, []byte(password))
	require.NoError(t, err)
	return store, kekBytes
}

func newBindingKey(t *testing.T) []byte {
	t.Helper()
	key, err := cryptoutils.RandomBytes(cryptoutils.KeySize)
	require.NoError(t, err)
	return key
}

func TestCache_RememberRecall(t *testing.T) {
	ctx := context.Background()
	entity := interfaces.EntityID("survey-1")
	unlocker, kekBytes := newUnlockedEntity(t, entity, "hunter2hunter2")
	binding := newBindingKey(t)

	cache := NewCache(storage.NewMemorySessionStore(), 0, slog.Default())
	require.NoError(t, cache.Remember(entity, interfaces.Password("hunter2hunter2"), binding))

	got, ok := cache.Recall(ctx, entity, binding, unlocker)
	require.True(t, ok, "Recall should re-derive the KEK within the TTL")
	assert.Equal(t, kekBytes, got)

	// The KEK is derived fresh each time, never stored.
	again, ok := cache.Recall(ctx, entity, binding, unlocker)
	require.True(t, ok)
	assert.Equal(t, kekBytes, again)
}

func TestCache_RecallEmptySession(t *testing.T) {
	cache := NewCache(storage.NewMemorySessionStore(), 0, slog.Default())
	unlocker, _ := newUnlockedEntity(t, "survey-1", "hunter2hunter2")

	got, ok := cache.Recall(context.Background(), "survey-1", newBindingKey(t), unlocker)
	assert.False(t, ok)
	assert.Nil(t, got)
}

func TestCache_CrossEntityIsolation(t *testing.T) {
	ctx := context.Background()
	unlockerA, _ := newUnlockedEntity(t, "survey-a", "hunter2hunter2")
	binding := newBindingKey(t)

	cache := NewCache(storage.NewMemorySessionStore(), 0, slog.Default())
	require.NoError(t, cache.Remember("survey-a", interfaces.Password("hunter2hunter2"), binding))

	_, ok := cache.Recall(ctx, "survey-b", binding, unlockerA)
	assert.False(t, ok, "A credential cached for one entity must not satisfy another")

	_, ok = cache.Recall(ctx, "survey-a", binding, unlockerA)
	assert.True(t, ok, "The original entity should still be recallable")
}

func TestCache_TTLExpiryClearsState(t *testing.T) {
	ctx := context.Background()
	entity := interfaces.EntityID("survey-1")
	unlocker, _ := newUnlockedEntity(t, entity, "hunter2hunter2")
	binding := newBindingKey(t)
	sessions := storage.NewMemorySessionStore()

	cache := NewCache(sessions, 30*time.Minute, slog.Default())
	require.NoError(t, cache.Remember(entity, interfaces.Password("hunter2hunter2"), binding))

	// Advance the clock past the idle window.
	cache.now = func() time.Time { return time.Now().Add(31 * time.Minute) }

	_, ok := cache.Recall(ctx, entity, binding, unlocker)
	assert.False(t, ok, "Expired cache must not yield a KEK")

	_, present := sessions.Get("unlock_credentials")
	assert.False(t, present, "Expiry clears the cached credential, not just ignores it")
}

func TestCache_RotatedBindingKeyClearsState(t *testing.T) {
	ctx := context.Background()
	entity := interfaces.EntityID("survey-1")
	unlocker, _ := newUnlockedEntity(t, entity, "hunter2hunter2")
	sessions := storage.NewMemorySessionStore()

	cache := NewCache(sessions, 0, slog.Default())
	require.NoError(t, cache.Remember(entity, interfaces.Password("hunter2hunter2"), newBindingKey(t)))

	_, ok := cache.Recall(ctx, entity, newBindingKey(t), unlocker)
	assert.False(t, ok, "A rotated binding key must not open the cached credential")

	_, present := sessions.Get("unlock_credentials")
	assert.False(t, present, "An undecryptable credential is cleared")
}

func TestCache_TamperedCiphertext(t *testing.T) {
	ctx := context.Background()
	entity := interfaces.EntityID("survey-1")
	unlocker, _ := newUnlockedEntity(t, entity, "hunter2hunter2")
	binding := newBindingKey(t)
	sessions := storage.NewMemorySessionStore()

	cache := NewCache(sessions, 0, slog.Default())
	require.NoError(t, cache.Remember(entity, interfaces.Password("hunter2hunter2"), binding))

	sessions.Set("unlock_credentials", "not valid base64!!")

	_, ok := cache.Recall(ctx, entity, binding, unlocker)
	assert.False(t, ok)
}

func TestCache_StaleCredentialNoLongerUnlocks(t *testing.T) {
	ctx := context.Background()
	entity := interfaces.EntityID("survey-1")
	unlocker, _ := newUnlockedEntity(t, entity, "hunter2hunter2")
	binding := newBindingKey(t)

	cache := NewCache(storage.NewMemorySessionStore(), 0, slog.Default())
	require.NoError(t, cache.Remember(entity, interfaces.Password("hunter2hunter2"), binding))

	// Password changed after the credential was cached.
	require.NoError(t, unlocker.RemoveMethod(ctx, interfaces.MethodPassword, true))

	_, ok := cache.Recall(ctx, entity, binding, unlocker)
	assert.False(t, ok, "A credential that no longer unlocks the record is rejected")
}

func TestCache_Forget(t *testing.T) {
	entity := interfaces.EntityID("survey-1")
	unlocker, _ := newUnlockedEntity(t, entity, "hunter2hunter2")
	binding := newBindingKey(t)
	sessions := storage.NewMemorySessionStore()

	cache := NewCache(sessions, 0, slog.Default())
	require.NoError(t, cache.Remember(entity, interfaces.Password("hunter2hunter2"), binding))

	cache.Forget()

	_, ok := cache.Recall(context.Background(), entity, binding, unlocker)
	assert.False(t, ok)
	for _, key := range []string{"unlock_credentials", "unlock_method", "unlock_verified_at", "unlock_entity_id"} {
		_, present := sessions.Get(key)
		assert.False(t, present, "Forget should clear %s", key)
	}
}
