// Package cryptoutils provides the cryptographic primitives for the key
// core: key derivation, authenticated encryption, the envelope blob format,
// key possession proofs and secure memory wiping.
//
// # Key Derivation
//
// Two derivation paths exist and must not be confused:
//
//   - DeriveKey: scrypt (N=2^14, r=8, p=1). Mandatory whenever the input is
//     a human-memorable secret. The memory-hard cost is what makes offline
//     brute force against a stolen envelope expensive.
//   - DeriveKeyFast: PBKDF2-HMAC-SHA256 with 200k iterations. Only for
//     KeyHash possession proofs.
//   - ExpandKey: single-iteration PBKDF2. Only for already-uniform 32-byte
//     keys, where iteration count adds no security.
//
// # Envelopes
//
// An Envelope is salt(16) || nonce(12) || AES-256-GCM ciphertext. It is
// self-contained: the envelope bytes plus the external secret are all that
// is needed to decrypt. Seal/Open pair with the memory-hard KDF,
// SealWithKey/OpenWithKey with the cheap expansion for uniform keys. Every
// failed decryption, regardless of cause, returns ErrDecryptionFailure so
// callers cannot build a wrong-key-vs-tampered oracle.
//
// Nonces and salts are always generated fresh inside Seal. There is no API
// accepting a caller-supplied nonce, which structurally rules out nonce
// reuse across processes.
package cryptoutils
