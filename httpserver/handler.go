package httpserver

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/eatyourpeas/checktick-keycore/interfaces"
	"github.com/eatyourpeas/checktick-keycore/recovery"
	"github.com/eatyourpeas/checktick-keycore/shamir"
)

// maxBodySize is the maximum allowed request body size (1MB).
const maxBodySize = 1024 * 1024

// Handler processes recovery-admin HTTP requests, delegating to the
// recovery manager.
type Handler struct {
	manager *recovery.Manager
	log     *slog.Logger
}

// NewHandler creates a handler around a recovery manager.
func NewHandler(manager *recovery.Manager, log *slog.Logger) *Handler {
	return &Handler{manager: manager, log: log}
}

type createRequestBody struct {
	TargetUser    string `json:"target_user"`
	TargetEntity  string `json:"target_entity"`
	RequestedBy   string `json:"requested_by"`
	Justification string `json:"justification"`
}

type approvalBody struct {
	Approver string `json:"approver"`
	Reason   string `json:"reason,omitempty"`
}

type executeBody struct {
	// Shares in the "<index>-<hex>" wire format.
	Shares []string `json:"shares"`

	// Threshold and SecretSize are the dealer parameters recorded at split
	// time; wire shares do not carry them.
	Threshold  int `json:"threshold"`
	SecretSize int `json:"secret_size"`

	// NewMethod/NewSecret is the credential the recovered KEK is
	// re-escrowed under.
	NewMethod string `json:"new_method"`
	NewSecret string `json:"new_secret"`
}

// HandleCreate opens a new recovery request.
//
// URL format: POST /api/recovery/requests
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var body createRequestBody
	if err := decodeJSON(w, r, &body); err != nil {
		return
	}
	if body.TargetUser == "" || body.TargetEntity == "" {
		http.Error(w, "target_user and target_entity are required", http.StatusBadRequest)
		return
	}

	request, err := h.manager.Create(r.Context(), body.TargetUser, interfaces.EntityID(body.TargetEntity), body.RequestedBy, body.Justification)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, request)
}

// HandleList returns all recovery requests.
//
// URL format: GET /api/recovery/requests
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	requests, err := h.manager.List(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, requests)
}

// HandleGet returns a single recovery request.
//
// URL format: GET /api/recovery/requests/{request_id}
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	request, err := h.manager.Get(r.Context(), chi.URLParam(r, "request_id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, request)
}

// HandleApprovePrimary records the first approval.
//
// URL format: POST /api/recovery/requests/{request_id}/approve-primary
func (h *Handler) HandleApprovePrimary(w http.ResponseWriter, r *http.Request) {
	var body approvalBody
	if err := decodeJSON(w, r, &body); err != nil {
		return
	}

	request, err := h.manager.ApprovePrimary(r.Context(), chi.URLParam(r, "request_id"), body.Approver)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, request)
}

// HandleApproveSecondary records the second approval and starts the delay
// clock.
//
// URL format: POST /api/recovery/requests/{request_id}/approve-secondary
func (h *Handler) HandleApproveSecondary(w http.ResponseWriter, r *http.Request) {
	var body approvalBody
	if err := decodeJSON(w, r, &body); err != nil {
		return
	}

	request, err := h.manager.ApproveSecondary(r.Context(), chi.URLParam(r, "request_id"), body.Approver)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, request)
}

// HandleReject terminates a request.
//
// URL format: POST /api/recovery/requests/{request_id}/reject
func (h *Handler) HandleReject(w http.ResponseWriter, r *http.Request) {
	var body approvalBody
	if err := decodeJSON(w, r, &body); err != nil {
		return
	}

	request, err := h.manager.Reject(r.Context(), chi.URLParam(r, "request_id"), body.Approver, body.Reason)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, request)
}

// HandleCancel terminates a request. Used both by admins and by the target
// user aborting a recovery they did not ask for.
//
// URL format: POST /api/recovery/requests/{request_id}/cancel
func (h *Handler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	var body approvalBody
	if err := decodeJSON(w, r, &body); err != nil {
		return
	}

	request, err := h.manager.Cancel(r.Context(), chi.URLParam(r, "request_id"), body.Approver, body.Reason)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, request)
}

// HandleExecute runs the recovery: reconstructs the custodian component
// from the submitted shares, combines it with the vault half, walks the
// hierarchy and re-escrows the target KEK under the supplied credential.
//
// URL format: POST /api/recovery/requests/{request_id}/execute
//
// Response: JSON containing the new envelope, base64-encoded. Shares and
// keys are never echoed back or logged.
func (h *Handler) HandleExecute(w http.ResponseWriter, r *http.Request) {
	var body executeBody
	if err := decodeJSON(w, r, &body); err != nil {
		return
	}
	if body.NewSecret == "" {
		http.Error(w, "new_secret is required", http.StatusBadRequest)
		return
	}

	shares := make([]shamir.Share, 0, len(body.Shares))
	for _, raw := range body.Shares {
		share, err := shamir.ParseShare(raw)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		share.Threshold = body.Threshold
		share.SecretSize = body.SecretSize
		shares = append(shares, share)
	}

	credential, err := credentialFor(body.NewMethod, body.NewSecret)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	envelope, err := h.manager.ExecuteWithVault(r.Context(), chi.URLParam(r, "request_id"), shares, credential)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"envelope": envelope.Bytes(),
		"method":   string(credential.Method()),
	})
}

func credentialFor(method, secret string) (interfaces.UnlockCredential, error) {
	switch interfaces.UnlockMethod(method) {
	case interfaces.MethodRecovery:
		return interfaces.RecoveryPhrase(secret), nil
	case interfaces.MethodPassword, "":
		return interfaces.Password(secret), nil
	default:
		return nil, errors.New("unsupported re-escrow method")
	}
}

// writeError maps core errors to HTTP status codes. Crypto failures stay
// opaque: the response says only that recovery failed.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, interfaces.ErrRequestNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, interfaces.ErrSameApprover),
		errors.Is(err, interfaces.ErrInvalidTransition):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, interfaces.ErrDelayNotElapsed):
		http.Error(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, interfaces.ErrInsufficientShares),
		errors.Is(err, interfaces.ErrStaleShares):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, interfaces.ErrHierarchyUnwrapFailure),
		errors.Is(err, interfaces.ErrDecryptionFailure):
		http.Error(w, "recovery failed", http.StatusUnprocessableEntity)
	default:
		h.log.Error("Internal error handling recovery request", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err := decoder.Decode(dst); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Headers are already out by the time Encode can fail.
	_ = json.NewEncoder(w).Encode(payload)
}
