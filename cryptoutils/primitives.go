package cryptoutils

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/crypto/scrypt"
)

const (
	// KeySize is the length of all symmetric keys in the hierarchy.
	KeySize = 32

	// SaltSize is the per-envelope KDF salt length.
	SaltSize = 16

	// NonceSize is the AES-GCM nonce length.
	NonceSize = 12

	// scrypt work factors for low-entropy secrets (passwords, recovery
	// phrases, OIDC identity strings).
	scryptN = 1 << 14
	scryptR = 8
	scryptP = 1

	// fastIterations is the PBKDF2 iteration count for key-hash
	// verification. Not suitable for deriving encryption keys from
	// low-entropy secrets.
	fastIterations = 200_000
)

// ErrDecryptionFailure is returned for every failed decryption, whether the
// secret was wrong or the ciphertext was tampered with. Callers must not be
// able to distinguish the two cases.
var ErrDecryptionFailure = errors.New("decryption failed")

// DeriveKey derives a 32-byte encryption key from a secret and salt using
// scrypt. This is the memory-hard path and must be used whenever the secret
// is human-memorable rather than uniform random bytes.
func DeriveKey(secret, salt []byte) ([]byte, error) {
	if len(salt) != SaltSize {
		return nil, fmt.Errorf("invalid salt length: must be %d bytes", SaltSize)
	}

	key, err := scrypt.Key(secret, salt, scryptN, scryptR, scryptP, KeySize)
	if err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}
	return key, nil
}

// DeriveKeyFast derives a 32-byte digest from a secret and salt using
// PBKDF2-HMAC-SHA256. Used only for possession proofs (KeyHash), never for
// deriving encryption keys from low-entropy input.
func DeriveKeyFast(secret, salt []byte) []byte {
	return pbkdf2.Key(secret, salt, fastIterations, KeySize, sha256.New)
}

// ExpandKey derives a 32-byte encryption key from already-uniform key
// material. A single PBKDF2 iteration binds the per-envelope salt without
// paying the memory-hard cost, which uniform input does not need.
func ExpandKey(key, salt []byte) []byte {
	return pbkdf2.Key(key, salt, 1, KeySize, sha256.New)
}

// RandomBytes returns n bytes from the system CSPRNG. All salts, nonces and
// generated secrets come from here.
func RandomBytes(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		return nil, fmt.Errorf("failed to read random bytes: %w", err)
	}
	return buf, nil
}

// WipeBytes overwrites a buffer with zeros. Key material is wiped as soon as
// the operation that needed it completes.
func WipeBytes(data []byte) {
	for i := range data {
		data[i] = 0
	}
}

// AEADEncrypt encrypts plaintext with AES-256-GCM. The nonce must be exactly
// NonceSize bytes and must never be reused under the same key; callers are
// expected to generate it fresh via RandomBytes for every call.
func AEADEncrypt(key, nonce, plaintext, aad []byte) ([]byte, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(nonce) != NonceSize {
		return nil, fmt.Errorf("invalid nonce length: must be %d bytes", NonceSize)
	}
	return aead.Seal(nil, nonce, plaintext, aad), nil
}

// AEADDecrypt reverses AEADEncrypt. Any modification of the ciphertext or
// aad, or a wrong key, yields ErrDecryptionFailure.
func AEADDecrypt(key, nonce, ciphertext, aad []byte) ([]byte, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(nonce) != NonceSize {
		return nil, ErrDecryptionFailure
	}

	plaintext, err := aead.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, ErrDecryptionFailure
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("invalid key length: must be %d bytes", KeySize)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return aead, nil
}
