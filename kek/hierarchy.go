package kek

import (
	"github.com/eatyourpeas/checktick-keycore/cryptoutils"
	"github.com/eatyourpeas/checktick-keycore/interfaces"
)

// WrapChild encrypts a child key under its parent's key, producing the
// envelope stored at the child's hierarchy node. Parent keys are uniform
// random bytes, so the cheap key-expansion path is used rather than the
// memory-hard KDF reserved for human secrets.
func WrapChild(parentKey, childKey []byte) (cryptoutils.Envelope, error) {
	return cryptoutils.SealWithKey(parentKey, childKey)
}

// UnwrapChild decrypts a child key envelope with the parent's key.
func UnwrapChild(parentKey []byte, env cryptoutils.Envelope) ([]byte, error) {
	childKey, err := cryptoutils.OpenWithKey(parentKey, env)
	if err != nil {
		return nil, interfaces.ErrHierarchyUnwrapFailure
	}
	return childKey, nil
}

// WalkDown unwraps a chain of envelopes starting from the root key:
// organisation, then team, then the survey KEK. Intermediate keys are wiped
// as soon as the next link is opened; only the final key is returned. Any
// single failed unwrap aborts the walk with one opaque
// ErrHierarchyUnwrapFailure that does not reveal which level broke, and no
// partial key material escapes.
func WalkDown(rootKey []byte, chain []cryptoutils.Envelope) ([]byte, error) {
	if len(chain) == 0 {
		return nil, interfaces.ErrHierarchyUnwrapFailure
	}

	current := make([]byte, len(rootKey))
	copy(current, rootKey)

	for _, env := range chain {
		next, err := UnwrapChild(current, env)
		cryptoutils.WipeBytes(current)
		if err != nil {
			return nil, interfaces.ErrHierarchyUnwrapFailure
		}
		current = next
	}
	return current, nil
}
