package cryptoutils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveKey_Deterministic(t *testing.T) {
	secret := []byte("a password")
	salt, err := RandomBytes(SaltSize)
	require.NoError(t, err)

	key1, err := DeriveKey(secret, salt)
	require.NoError(t, err)
	key2, err := DeriveKey(secret, salt)
	require.NoError(t, err)
	assert.Equal(t, key1, key2, "Same secret and salt should derive the same key")
	assert.Len(t, key1, KeySize)

	otherSalt, err := RandomBytes(SaltSize)
	require.NoError(t, err)
	key3, err := DeriveKey(secret, otherSalt)
	require.NoError(t, err)
	assert.NotEqual(t, key1, key3, "Different salts should derive different keys")

	_, err = DeriveKey(secret, []byte("short"))
	assert.Error(t, err, "Wrong salt length should be rejected")
}

func TestDeriveKeyFast_DiffersFromSlow(t *testing.T) {
	secret := []byte("a password")
	salt, err := RandomBytes(SaltSize)
	require.NoError(t, err)

	fast := DeriveKeyFast(secret, salt)
	assert.Len(t, fast, KeySize)

	slow, err := DeriveKey(secret, salt)
	require.NoError(t, err)
	assert.NotEqual(t, fast, slow, "Verification and encryption KDFs must not collide")
}

func TestRandomBytes(t *testing.T) {
	a, err := RandomBytes(32)
	require.NoError(t, err)
	b, err := RandomBytes(32)
	require.NoError(t, err)

	assert.Len(t, a, 32)
	assert.NotEqual(t, a, b, "Consecutive reads should differ")
}

func TestWipeBytes(t *testing.T) {
	buf := []byte{1, 2, 3, 4}
	WipeBytes(buf)
	assert.Equal(t, []byte{0, 0, 0, 0}, buf)
}

func TestAEAD_RejectsBadInputs(t *testing.T) {
	key, err := RandomBytes(KeySize)
	require.NoError(t, err)
	nonce, err := RandomBytes(NonceSize)
	require.NoError(t, err)

	_, err = AEADEncrypt(key[:16], nonce, []byte("x"), nil)
	assert.Error(t, err, "Short key should be rejected")

	_, err = AEADEncrypt(key, nonce[:8], []byte("x"), nil)
	assert.Error(t, err, "Short nonce should be rejected")

	ciphertext, err := AEADEncrypt(key, nonce, []byte("payload"), []byte("aad"))
	require.NoError(t, err)

	_, err = AEADDecrypt(key, nonce, ciphertext, []byte("different aad"))
	assert.ErrorIs(t, err, ErrDecryptionFailure, "AAD mismatch should fail decryption")

	plaintext, err := AEADDecrypt(key, nonce, ciphertext, []byte("aad"))
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), plaintext)
}
