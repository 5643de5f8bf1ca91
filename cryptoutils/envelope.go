package cryptoutils

import (
	"crypto/subtle"
	"errors"
	"fmt"
)

// gcmTagSize is the length of the authentication tag appended to the
// ciphertext by AES-GCM.
const gcmTagSize = 16

// Envelope is a self-contained encrypted blob. Decrypting it requires only
// its own bytes plus the external derivation secret. Salt and nonce are
// generated fresh for every envelope and never reused.
type Envelope struct {
	Salt       []byte
	Nonce      []byte
	Ciphertext []byte
}

// Seal encrypts payload under a key derived from secret with the
// memory-hard KDF. Use for human-memorable secrets.
func Seal(secret, payload []byte) (Envelope, error) {
	return seal(secret, payload, DeriveKey)
}

// SealWithKey encrypts payload under already-uniform key material, skipping
// the memory-hard KDF cost. Use for 32-byte random keys (hierarchy links,
// session binding keys), never for passwords.
func SealWithKey(key, payload []byte) (Envelope, error) {
	return seal(key, payload, func(secret, salt []byte) ([]byte, error) {
		return ExpandKey(secret, salt), nil
	})
}

func seal(secret, payload []byte, derive func(secret, salt []byte) ([]byte, error)) (Envelope, error) {
	salt, err := RandomBytes(SaltSize)
	if err != nil {
		return Envelope{}, err
	}

	key, err := derive(secret, salt)
	if err != nil {
		return Envelope{}, err
	}
	defer WipeBytes(key)

	nonce, err := RandomBytes(NonceSize)
	if err != nil {
		return Envelope{}, err
	}

	ciphertext, err := AEADEncrypt(key, nonce, payload, nil)
	if err != nil {
		return Envelope{}, err
	}

	return Envelope{Salt: salt, Nonce: nonce, Ciphertext: ciphertext}, nil
}

// Open decrypts an envelope sealed with Seal. A wrong secret and a tampered
// ciphertext both surface as the same ErrDecryptionFailure.
func Open(secret []byte, env Envelope) ([]byte, error) {
	return open(secret, env, DeriveKey)
}

// OpenWithKey decrypts an envelope sealed with SealWithKey.
func OpenWithKey(key []byte, env Envelope) ([]byte, error) {
	return open(key, env, func(secret, salt []byte) ([]byte, error) {
		return ExpandKey(secret, salt), nil
	})
}

func open(secret []byte, env Envelope, derive func(secret, salt []byte) ([]byte, error)) ([]byte, error) {
	if len(env.Salt) != SaltSize || len(env.Nonce) != NonceSize {
		return nil, ErrDecryptionFailure
	}

	key, err := derive(secret, env.Salt)
	if err != nil {
		return nil, ErrDecryptionFailure
	}
	defer WipeBytes(key)

	return AEADDecrypt(key, env.Nonce, env.Ciphertext, nil)
}

// Bytes serializes the envelope as salt || nonce || ciphertext. The layout
// is a stable wire contract shared with any other implementation reading
// the same records.
func (e Envelope) Bytes() []byte {
	out := make([]byte, 0, len(e.Salt)+len(e.Nonce)+len(e.Ciphertext))
	out = append(out, e.Salt...)
	out = append(out, e.Nonce...)
	out = append(out, e.Ciphertext...)
	return out
}

// ParseEnvelope parses the salt || nonce || ciphertext layout produced by
// Bytes.
func ParseEnvelope(data []byte) (Envelope, error) {
	if len(data) < SaltSize+NonceSize+gcmTagSize {
		return Envelope{}, errors.New("envelope too short")
	}

	env := Envelope{
		Salt:       make([]byte, SaltSize),
		Nonce:      make([]byte, NonceSize),
		Ciphertext: make([]byte, len(data)-SaltSize-NonceSize),
	}
	copy(env.Salt, data[:SaltSize])
	copy(env.Nonce, data[SaltSize:SaltSize+NonceSize])
	copy(env.Ciphertext, data[SaltSize+NonceSize:])
	return env, nil
}

// Wipe overwrites the envelope's buffers. Used for cryptographic erasure:
// once every envelope wrapping a key is overwritten, the key is gone even
// from backups that retain the old bytes.
func (e *Envelope) Wipe() error {
	for _, buf := range [][]byte{e.Salt, e.Nonce, e.Ciphertext} {
		fresh, err := RandomBytes(len(buf))
		if err != nil {
			return err
		}
		copy(buf, fresh)
	}
	return nil
}

// KeyHash is a one-way possession proof for a key: verification re-derives
// the digest and compares, the key itself is never stored.
type KeyHash struct {
	Digest []byte
	Salt   []byte
}

// NewKeyHash creates a verification record for a key.
func NewKeyHash(key []byte) (KeyHash, error) {
	salt, err := RandomBytes(SaltSize)
	if err != nil {
		return KeyHash{}, err
	}
	return KeyHash{Digest: DeriveKeyFast(key, salt), Salt: salt}, nil
}

// Verify reports whether key matches the recorded digest. Comparison is
// constant-time.
func (h KeyHash) Verify(key []byte) bool {
	digest := DeriveKeyFast(key, h.Salt)
	return subtle.ConstantTimeCompare(digest, h.Digest) == 1
}

// XORBytes combines two equal-length components byte-wise. Used to join the
// vault and custodian halves of the platform master key.
func XORBytes(a, b []byte) ([]byte, error) {
	if len(a) != len(b) {
		return nil, fmt.Errorf("component length mismatch: %d vs %d bytes", len(a), len(b))
	}
	out := make([]byte, len(a))
	for i := range a {
		out[i] = a[i] ^ b[i]
	}
	return out, nil
}
