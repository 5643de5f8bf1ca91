// Package interfaces defines the core types and collaborator contracts for
// the key-encryption core. It provides the contract between components
// without implementation details.
package interfaces

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/eatyourpeas/checktick-keycore/cryptoutils"
)

// EntityID identifies a protected entity (a survey, or more generally any
// object with its own KEK record).
type EntityID string

// UnlockMethod names one encrypted copy of a KEK inside a KEKRecord.
type UnlockMethod string

const (
	MethodPassword UnlockMethod = "password"
	MethodRecovery UnlockMethod = "recovery"
	MethodOIDC     UnlockMethod = "oidc"
	MethodOrg      UnlockMethod = "org"
	MethodLegacy   UnlockMethod = "legacy"
)

// HierarchyLevel is one of the levels in the platform key chain. Each
// non-root level holds an envelope encrypting its key under the parent's.
type HierarchyLevel int

const (
	LevelPlatform HierarchyLevel = iota
	LevelOrganisation
	LevelTeam
	LevelSurvey
)

// String returns the level name.
func (l HierarchyLevel) String() string {
	switch l {
	case LevelPlatform:
		return "platform"
	case LevelOrganisation:
		return "organisation"
	case LevelTeam:
		return "team"
	case LevelSurvey:
		return "survey"
	default:
		return fmt.Sprintf("level(%d)", int(l))
	}
}

// KEKRecord is the persisted set of envelopes for one entity. Every entry
// wraps the identical 32-byte KEK under a different unlock credential.
type KEKRecord struct {
	Entries map[UnlockMethod]cryptoutils.Envelope
}

// Clone returns a deep copy so stores can hand out records without sharing
// buffers with their internal state.
func (r KEKRecord) Clone() KEKRecord {
	out := KEKRecord{Entries: make(map[UnlockMethod]cryptoutils.Envelope, len(r.Entries))}
	for method, env := range r.Entries {
		clone, _ := cryptoutils.ParseEnvelope(env.Bytes())
		out.Entries[method] = clone
	}
	return out
}

// OIDCSubject builds the stable identity string consumed as an unlock
// secret: "<provider>:<subject>".
func OIDCSubject(provider, subject string) string {
	return strings.TrimSpace(provider) + ":" + strings.TrimSpace(subject)
}

// AuditEvent is one append-only record written to the audit sink. Events
// describe who did what to which entity and never contain key material,
// shares or credentials.
type AuditEvent struct {
	Type      string            `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	Actor     string            `json:"actor,omitempty"`
	Entity    EntityID          `json:"entity,omitempty"`
	Detail    map[string]string `json:"detail,omitempty"`
}

// RecoveryStatus is the state of a RecoveryRequest.
type RecoveryStatus string

const (
	RecoveryPending        RecoveryStatus = "pending"
	RecoveryAwaitingSecond RecoveryStatus = "awaiting_second_auth"
	RecoveryAwaitingDelay  RecoveryStatus = "awaiting_delay"
	RecoveryCompleted      RecoveryStatus = "completed"
	RecoveryRejected       RecoveryStatus = "rejected"
	RecoveryCancelled      RecoveryStatus = "cancelled"
)

// Terminal reports whether no further transitions are possible.
func (s RecoveryStatus) Terminal() bool {
	return s == RecoveryCompleted || s == RecoveryRejected || s == RecoveryCancelled
}

// RecoveryRequest tracks one emergency key recovery through its state
// machine. Mutated only through the defined transitions.
type RecoveryRequest struct {
	ID                string         `json:"id"`
	TargetUser        string         `json:"target_user"`
	TargetEntity      EntityID       `json:"target_entity"`
	RequestedBy       string         `json:"requested_by"`
	Justification     string         `json:"justification"`
	Status            RecoveryStatus `json:"status"`
	PrimaryApprover   string         `json:"primary_approver,omitempty"`
	SecondaryApprover string         `json:"secondary_approver,omitempty"`
	Resolution        string         `json:"resolution,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	DelayUntil        time.Time      `json:"delay_until,omitempty"`
	CompletedAt       time.Time      `json:"completed_at,omitempty"`
}

// ErrDecryptionFailure aliases the cryptoutils sentinel so callers can match
// it without importing both packages.
var ErrDecryptionFailure = cryptoutils.ErrDecryptionFailure

var (
	// ErrInvalidCredential is returned by KEK unlock for a wrong secret or
	// an absent method. The two are deliberately indistinguishable.
	ErrInvalidCredential = errors.New("invalid unlock credential")

	// ErrLastUnlockMethod guards against silently removing the only
	// remaining unlock path, which would lock the entity forever.
	ErrLastUnlockMethod = errors.New("refusing to remove the last unlock method without confirmation")

	// ErrInsufficientShares is returned when fewer than threshold distinct
	// shares are supplied for reconstruction.
	ErrInsufficientShares = errors.New("insufficient shares for reconstruction")

	// ErrStaleShares is returned when shares from different split
	// generations are mixed.
	ErrStaleShares = errors.New("shares are from different split generations")

	// ErrHierarchyUnwrapFailure is returned for any break in the
	// platform-to-survey chain without revealing which level failed.
	ErrHierarchyUnwrapFailure = errors.New("hierarchy unwrap failed")

	// ErrDelayNotElapsed is returned when recovery execution is attempted
	// before the mandatory waiting period ends.
	ErrDelayNotElapsed = errors.New("recovery delay has not elapsed")

	// ErrSameApprover is returned when dual authorization is attempted
	// with a single identity.
	ErrSameApprover = errors.New("secondary approver must differ from primary approver")

	// ErrInvalidTransition is returned for a state-machine transition not
	// allowed from the request's current status.
	ErrInvalidTransition = errors.New("invalid recovery request transition")

	// ErrRequestNotFound indicates an unknown recovery request ID.
	ErrRequestNotFound = errors.New("recovery request not found")

	// ErrRecordNotFound indicates no KEK record exists for an entity.
	ErrRecordNotFound = errors.New("KEK record not found")

	// ErrComponentNotFound indicates the component store has no value at
	// the requested path.
	ErrComponentNotFound = errors.New("component not found")

	// ErrChainNotFound indicates no hierarchy chain is registered for an
	// entity.
	ErrChainNotFound = errors.New("hierarchy chain not found")

	// ErrBackendUnavailable indicates a storage backend could not be
	// reached.
	ErrBackendUnavailable = errors.New("storage backend unavailable")
)
