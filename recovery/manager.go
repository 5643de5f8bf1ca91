// Package recovery implements the emergency platform-recovery protocol:
// a dual-authorized, time-delayed state machine that reconstructs the
// platform master key from its custodian and vault components, walks the
// key hierarchy down to the target entity's KEK, and re-escrows it under a
// new credential.
//
// The platform master key exists only transiently inside Execute and is
// wiped, along with the custodian component and every intermediate key,
// before the call returns.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/eatyourpeas/checktick-keycore/cryptoutils"
	"github.com/eatyourpeas/checktick-keycore/interfaces"
	"github.com/eatyourpeas/checktick-keycore/kek"
	"github.com/eatyourpeas/checktick-keycore/shamir"
)

// DefaultDelay is the waiting period between second approval and
// execution, the window in which the target user can abort.
const DefaultDelay = 24 * time.Hour

// Config wires a Manager's collaborators.
type Config struct {
	Requests   interfaces.RecoveryRequestStore
	Records    interfaces.KEKRecordStore
	Components interfaces.ComponentStore
	Hierarchy  interfaces.HierarchySource
	Audit      interfaces.AuditSink
	Log        *slog.Logger

	// Delay overrides DefaultDelay. Zero keeps the default; negative is
	// rejected.
	Delay time.Duration

	// VaultComponentPath is where the vault half of the platform master
	// key lives in the component store.
	VaultComponentPath string
}

// Manager drives recovery requests through their state machine.
type Manager struct {
	requests   interfaces.RecoveryRequestStore
	records    interfaces.KEKRecordStore
	components interfaces.ComponentStore
	hierarchy  interfaces.HierarchySource
	audit      interfaces.AuditSink
	log        *slog.Logger
	delay      time.Duration
	vaultPath  string

	// Serializes transitions so each status read-modify-write is atomic.
	mu sync.Mutex

	// now is swappable for delay-gate tests.
	now func() time.Time
}

// NewManager creates a recovery manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Requests == nil || cfg.Records == nil {
		return nil, errors.New("recovery manager requires request and record stores")
	}
	if cfg.Delay < 0 {
		return nil, errors.New("recovery delay must not be negative")
	}

	delay := cfg.Delay
	if delay == 0 {
		delay = DefaultDelay
	}

	return &Manager{
		requests:   cfg.Requests,
		records:    cfg.Records,
		components: cfg.Components,
		hierarchy:  cfg.Hierarchy,
		audit:      cfg.Audit,
		log:        cfg.Log,
		delay:      delay,
		vaultPath:  cfg.VaultComponentPath,
		now:        time.Now,
	}, nil
}

// Create opens a new recovery request in the Pending state.
func (m *Manager) Create(ctx context.Context, targetUser string, targetEntity interfaces.EntityID, requestedBy, justification string) (interfaces.RecoveryRequest, error) {
	request := interfaces.RecoveryRequest{
		ID:            uuid.NewString(),
		TargetUser:    targetUser,
		TargetEntity:  targetEntity,
		RequestedBy:   requestedBy,
		Justification: justification,
		Status:        interfaces.RecoveryPending,
		CreatedAt:     m.now().UTC(),
	}

	if err := m.requests.Put(ctx, request); err != nil {
		return interfaces.RecoveryRequest{}, fmt.Errorf("failed to store recovery request: %w", err)
	}

	m.emit("recovery.created", request, requestedBy, nil)
	return request, nil
}

// Get returns a request by ID.
func (m *Manager) Get(ctx context.Context, id string) (interfaces.RecoveryRequest, error) {
	return m.requests.Get(ctx, id)
}

// List returns all known requests.
func (m *Manager) List(ctx context.Context) ([]interfaces.RecoveryRequest, error) {
	return m.requests.List(ctx)
}

// ApprovePrimary records the first approval, moving Pending to
// AwaitingSecondAuth. Whether the requester may self-approve is a policy
// check for the calling layer.
func (m *Manager) ApprovePrimary(ctx context.Context, id, approver string) (interfaces.RecoveryRequest, error) {
	return m.transition(ctx, id, func(request *interfaces.RecoveryRequest) error {
		if request.Status != interfaces.RecoveryPending {
			return fmt.Errorf("%w: cannot approve request in state %q", interfaces.ErrInvalidTransition, request.Status)
		}
		request.Status = interfaces.RecoveryAwaitingSecond
		request.PrimaryApprover = approver
		m.emit("recovery.primary_approved", *request, approver, nil)
		return nil
	})
}

// ApproveSecondary records the second approval and starts the delay clock.
// Dual control is a hard invariant: the second approver must be a distinct
// identity from the first.
func (m *Manager) ApproveSecondary(ctx context.Context, id, approver string) (interfaces.RecoveryRequest, error) {
	return m.transition(ctx, id, func(request *interfaces.RecoveryRequest) error {
		if request.Status != interfaces.RecoveryAwaitingSecond {
			return fmt.Errorf("%w: cannot second-approve request in state %q", interfaces.ErrInvalidTransition, request.Status)
		}
		if approver == request.PrimaryApprover {
			return interfaces.ErrSameApprover
		}
		request.Status = interfaces.RecoveryAwaitingDelay
		request.SecondaryApprover = approver
		request.DelayUntil = m.now().UTC().Add(m.delay)
		m.emit("recovery.secondary_approved", *request, approver, map[string]string{
			"delay_until": request.DelayUntil.Format(time.RFC3339),
		})
		return nil
	})
}

// Reject terminates a non-terminal request.
func (m *Manager) Reject(ctx context.Context, id, approver, reason string) (interfaces.RecoveryRequest, error) {
	return m.transition(ctx, id, func(request *interfaces.RecoveryRequest) error {
		if request.Status.Terminal() {
			return fmt.Errorf("%w: request already in terminal state %q", interfaces.ErrInvalidTransition, request.Status)
		}
		request.Status = interfaces.RecoveryRejected
		request.Resolution = reason
		m.emit("recovery.rejected", *request, approver, map[string]string{"reason": reason})
		return nil
	})
}

// Cancel terminates a non-terminal request. The target user may cancel at
// any point before completion, which is the safety valve against a
// recovery they did not ask for.
func (m *Manager) Cancel(ctx context.Context, id, actor, reason string) (interfaces.RecoveryRequest, error) {
	return m.transition(ctx, id, func(request *interfaces.RecoveryRequest) error {
		if request.Status.Terminal() {
			return fmt.Errorf("%w: request already in terminal state %q", interfaces.ErrInvalidTransition, request.Status)
		}
		request.Status = interfaces.RecoveryCancelled
		request.Resolution = reason
		m.emit("recovery.cancelled", *request, actor, map[string]string{"reason": reason})
		return nil
	})
}

// Execute reconstructs the platform master key, walks the hierarchy to the
// target entity's KEK and re-escrows it under newCredential, returning the
// fresh envelope. Preconditions: the request is in AwaitingDelay and the
// delay has elapsed. Any failure leaves the request in AwaitingDelay so
// operators can retry with corrected shares; only full success transitions
// to Completed.
func (m *Manager) Execute(ctx context.Context, id string, shares []shamir.Share, vaultComponent []byte, newCredential interfaces.UnlockCredential) (cryptoutils.Envelope, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	request, err := m.requests.Get(ctx, id)
	if err != nil {
		return cryptoutils.Envelope{}, err
	}

	if request.Status != interfaces.RecoveryAwaitingDelay {
		return cryptoutils.Envelope{}, fmt.Errorf("%w: cannot execute request in state %q", interfaces.ErrInvalidTransition, request.Status)
	}
	if m.now().Before(request.DelayUntil) {
		return cryptoutils.Envelope{}, interfaces.ErrDelayNotElapsed
	}

	custodianComponent, err := shamir.Reconstruct(shares)
	if err != nil {
		return cryptoutils.Envelope{}, err
	}
	defer cryptoutils.WipeBytes(custodianComponent)

	platformKey, err := cryptoutils.XORBytes(custodianComponent, vaultComponent)
	if err != nil {
		return cryptoutils.Envelope{}, err
	}
	defer cryptoutils.WipeBytes(platformKey)

	chain, err := m.hierarchy.ChainFor(ctx, request.TargetEntity)
	if err != nil {
		return cryptoutils.Envelope{}, err
	}

	recoveredKEK, err := kek.WalkDown(platformKey, chain)
	if err != nil {
		return cryptoutils.Envelope{}, err
	}
	defer cryptoutils.WipeBytes(recoveredKEK)

	// Re-escrow under the new credential, replacing the failed method.
	store := kek.NewStore(request.TargetEntity, m.records, m.audit, m.log)
	envelope, err := store.Create(ctx, recoveredKEK, newCredential.Method(), newCredential.SecretBytes())
	if err != nil {
		return cryptoutils.Envelope{}, fmt.Errorf("failed to re-escrow recovered KEK: %w", err)
	}

	request.Status = interfaces.RecoveryCompleted
	request.CompletedAt = m.now().UTC()
	if err := m.requests.Put(ctx, request); err != nil {
		return cryptoutils.Envelope{}, fmt.Errorf("failed to store completed request: %w", err)
	}

	m.emit("recovery.completed", request, request.SecondaryApprover, map[string]string{
		"primary_approver":   request.PrimaryApprover,
		"secondary_approver": request.SecondaryApprover,
		"share_count":        fmt.Sprintf("%d", len(shares)),
		"new_method":         string(newCredential.Method()),
	})
	return envelope, nil
}

// ExecuteWithVault is Execute with the vault component fetched from the
// configured component store path.
func (m *Manager) ExecuteWithVault(ctx context.Context, id string, shares []shamir.Share, newCredential interfaces.UnlockCredential) (cryptoutils.Envelope, error) {
	if m.components == nil {
		return cryptoutils.Envelope{}, errors.New("no component store configured")
	}

	vaultComponent, err := m.components.Get(ctx, m.vaultPath)
	if err != nil {
		return cryptoutils.Envelope{}, fmt.Errorf("failed to fetch vault component: %w", err)
	}
	defer cryptoutils.WipeBytes(vaultComponent)

	return m.Execute(ctx, id, shares, vaultComponent, newCredential)
}

// transition applies fn to the request under the manager lock and persists
// the result, making each status read-modify-write atomic.
func (m *Manager) transition(ctx context.Context, id string, fn func(*interfaces.RecoveryRequest) error) (interfaces.RecoveryRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	request, err := m.requests.Get(ctx, id)
	if err != nil {
		return interfaces.RecoveryRequest{}, err
	}

	if err := fn(&request); err != nil {
		return interfaces.RecoveryRequest{}, err
	}

	if err := m.requests.Put(ctx, request); err != nil {
		return interfaces.RecoveryRequest{}, fmt.Errorf("failed to store recovery request: %w", err)
	}
	return request, nil
}

func (m *Manager) emit(eventType string, request interfaces.RecoveryRequest, actor string, detail map[string]string) {
	if m.audit == nil {
		return
	}
	if detail == nil {
		detail = map[string]string{}
	}
	detail["request_id"] = request.ID
	detail["target_user"] = request.TargetUser
	m.audit.Emit(interfaces.AuditEvent{
		Type:      eventType,
		Timestamp: m.now().UTC(),
		Actor:     actor,
		Entity:    request.TargetEntity,
		Detail:    detail,
	})
}
