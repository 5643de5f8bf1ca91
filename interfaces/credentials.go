package interfaces

// UnlockCredential is one of the secrets that can unlock a KEK record
// entry. Implementations are small value types so the payload shape is
// checked at compile time instead of flowing through untyped maps.
type UnlockCredential interface {
	// Method names the KEK record entry this credential unlocks.
	Method() UnlockMethod

	// SecretBytes returns the derivation input for the envelope KDF.
	SecretBytes() []byte
}

// Password is a user-chosen passphrase.
type Password string

func (p Password) Method() UnlockMethod { return MethodPassword }
func (p Password) SecretBytes() []byte  { return []byte(p) }

// RecoveryPhrase is the generated word-list phrase handed to the user at
// entity creation.
type RecoveryPhrase string

func (p RecoveryPhrase) Method() UnlockMethod { return MethodRecovery }
func (p RecoveryPhrase) SecretBytes() []byte  { return []byte(p) }

// OIDCIdentity derives an unlock secret from a stable provider+subject
// identity string and a per-user random salt. The OIDC handshake itself
// happens outside the core; only its output is consumed here.
type OIDCIdentity struct {
	Provider string
	Subject  string
	UserSalt []byte
}

func (c OIDCIdentity) Method() UnlockMethod { return MethodOIDC }

func (c OIDCIdentity) SecretBytes() []byte {
	identity := []byte(OIDCSubject(c.Provider, c.Subject))
	out := make([]byte, 0, len(identity)+len(c.UserSalt))
	out = append(out, identity...)
	out = append(out, c.UserSalt...)
	return out
}

// OrgKey unlocks via the organisation's 32-byte key, letting org admins
// open member surveys without knowing member passwords.
type OrgKey []byte

func (k OrgKey) Method() UnlockMethod { return MethodOrg }
func (k OrgKey) SecretBytes() []byte  { return []byte(k) }
