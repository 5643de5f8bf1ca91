package storage

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eatyourpeas/checktick-keycore/cryptoutils"
	"github.com/eatyourpeas/checktick-keycore/interfaces"
)

func testRecord(t *testing.T) interfaces.KEKRecord {
	t.Helper()
	env, err := cryptoutils.Seal([]byte("hunter2hunter2"), []byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)
	return interfaces.KEKRecord{Entries: map[interfaces.UnlockMethod]cryptoutils.Envelope{
		interfaces.MethodPassword: env,
	}}
}

func TestMemoryKEKRecordStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryKEKRecordStore()

	_, err := store.Load(ctx, "missing")
	assert.ErrorIs(t, err, interfaces.ErrRecordNotFound)

	record := testRecord(t)
	require.NoError(t, store.Store(ctx, "survey-1", record))

	loaded, err := store.Load(ctx, "survey-1")
	require.NoError(t, err)
	assert.Equal(t, record, loaded)

	// Mutating the loaded copy must not reach the stored record.
	delete(loaded.Entries, interfaces.MethodPassword)
	again, err := store.Load(ctx, "survey-1")
	require.NoError(t, err)
	assert.Len(t, again.Entries, 1, "Store must hand out copies, not aliases")
}

func TestFileKEKRecordStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileKEKRecordStore(t.TempDir(), slog.Default())
	require.NoError(t, err, "Failed to create file store")

	_, err = store.Load(ctx, "missing")
	assert.ErrorIs(t, err, interfaces.ErrRecordNotFound)

	record := testRecord(t)
	require.NoError(t, store.Store(ctx, "survey-1", record))

	loaded, err := store.Load(ctx, "survey-1")
	require.NoError(t, err)
	assert.Equal(t, record, loaded)

	// Envelopes survive the trip intact.
	kek, err := cryptoutils.Open([]byte("hunter2hunter2"), loaded.Entries[interfaces.MethodPassword])
	require.NoError(t, err, "Round-tripped envelope should still decrypt")
	assert.Equal(t, []byte("0123456789abcdef0123456789abcdef"), kek)
}

func TestFileKEKRecordStore_AwkwardEntityIDs(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileKEKRecordStore(t.TempDir(), slog.Default())
	require.NoError(t, err)

	record := testRecord(t)
	for _, id := range []interfaces.EntityID{"a/b/c", "..", "survey with spaces", "団体-1"} {
		require.NoError(t, store.Store(ctx, id, record), "Failed to store record for %q", id)
		loaded, err := store.Load(ctx, id)
		require.NoError(t, err, "Failed to load record for %q", id)
		assert.Equal(t, record, loaded)
	}
}

func TestMemorySessionStore(t *testing.T) {
	store := NewMemorySessionStore()

	_, ok := store.Get("missing")
	assert.False(t, ok)

	store.Set("k", "v")
	got, ok := store.Get("k")
	assert.True(t, ok)
	assert.Equal(t, "v", got)

	store.Delete("k")
	_, ok = store.Get("k")
	assert.False(t, ok)
}

func TestMemoryComponentStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryComponentStore()

	_, err := store.Get(ctx, "missing")
	assert.ErrorIs(t, err, interfaces.ErrComponentNotFound)

	component := []byte{1, 2, 3, 4}
	require.NoError(t, store.Put(ctx, "platform/vault-half", component))

	got, err := store.Get(ctx, "platform/vault-half")
	require.NoError(t, err)
	assert.Equal(t, component, got)

	// Wiping the caller's copy must not disturb the stored bytes.
	cryptoutils.WipeBytes(got)
	again, err := store.Get(ctx, "platform/vault-half")
	require.NoError(t, err)
	assert.Equal(t, component, again)
}

func TestMemoryHierarchyStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryHierarchyStore()

	_, err := store.ChainFor(ctx, "survey-1")
	assert.ErrorIs(t, err, interfaces.ErrChainNotFound)

	env, err := cryptoutils.Seal([]byte("secret-secret"), []byte("payload"))
	require.NoError(t, err)
	store.SetChain("survey-1", []cryptoutils.Envelope{env})

	chain, err := store.ChainFor(ctx, "survey-1")
	require.NoError(t, err)
	assert.Len(t, chain, 1)
}

func TestMemoryRecoveryRequestStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryRecoveryRequestStore()

	_, err := store.Get(ctx, "missing")
	assert.ErrorIs(t, err, interfaces.ErrRequestNotFound)

	request := interfaces.RecoveryRequest{ID: "req-1", TargetUser: "dr.jones", Status: interfaces.RecoveryPending}
	require.NoError(t, store.Put(ctx, request))

	got, err := store.Get(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, request, got)

	list, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestMemoryAuditSink(t *testing.T) {
	sink := NewMemoryAuditSink()
	sink.Emit(interfaces.AuditEvent{Type: "kek.unlocked", Entity: "survey-1"})
	sink.Emit(interfaces.AuditEvent{Type: "kek.erased", Entity: "survey-1"})

	events := sink.Events()
	require.Len(t, events, 2)
	assert.Equal(t, "kek.unlocked", events[0].Type)

	// Events() returns a snapshot.
	events[0].Type = "mutated"
	assert.Equal(t, "kek.unlocked", sink.Events()[0].Type)
}
