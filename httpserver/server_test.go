package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eatyourpeas/checktick-keycore/cryptoutils"
	"github.com/eatyourpeas/checktick-keycore/interfaces"
	"github.com/eatyourpeas/checktick-keycore/kek"
	"github.com/eatyourpeas/checktick-keycore/recovery"
	"github.com/eatyourpeas/checktick-keycore/shamir"
	"github.com/eatyourpeas/checktick-keycore/storage"
)

const testVaultPath = "platform/vault-half"

type testBackend struct {
	srv       *Server
	records   *storage.MemoryKEKRecordStore
	shares    []shamir.Share
	surveyKEK []byte
}

// newTestBackend builds a server over in-memory stores with a real key
// hierarchy for the entity "survey-1" and a short execution delay so tests
// can wait it out.
func newTestBackend(t *testing.T) *testBackend {
	t.Helper()

	platformKey, err := cryptoutils.RandomBytes(64)
	require.NoError(t, err)
	vaultComponent, err := cryptoutils.RandomBytes(64)
	require.NoError(t, err)
	custodianComponent, err := cryptoutils.XORBytes(platformKey, vaultComponent)
	require.NoError(t, err)

	shares, err := shamir.Split(custodianComponent, 3, 5)
	require.NoError(t, err)

	orgKey, err := kek.GenerateKEK()
	require.NoError(t, err)
	surveyKEK, err := kek.GenerateKEK()
	require.NoError(t, err)
	orgEnv, err := kek.WrapChild(platformKey, orgKey)
	require.NoError(t, err)
	surveyEnv, err := kek.WrapChild(orgKey, surveyKEK)
	require.NoError(t, err)

	hierarchy := storage.NewMemoryHierarchyStore()
	hierarchy.SetChain("survey-1", []cryptoutils.Envelope{orgEnv, surveyEnv})

	components := storage.NewMemoryComponentStore()
	require.NoError(t, components.Put(context.Background(), testVaultPath, vaultComponent))

	records := storage.NewMemoryKEKRecordStore()
	manager, err := recovery.NewManager(recovery.Config{
		Requests:           storage.NewMemoryRecoveryRequestStore(),
		Records:            records,
		Components:         components,
		Hierarchy:          hierarchy,
		Audit:              storage.NewMemoryAuditSink(),
		Log:                slog.Default(),
		Delay:              10 * time.Millisecond,
		VaultComponentPath: testVaultPath,
	})
	require.NoError(t, err, "Failed to create recovery manager")

	srv, err := New(&HTTPServerConfig{
		ListenAddr: "127.0.0.1:0",
		Log:        slog.Default(),
	}, NewHandler(manager, slog.Default()))
	require.NoError(t, err, "Failed to create the HTTP server")

	return &testBackend{srv: srv, records: records, shares: shares, surveyKEK: surveyKEK}
}

func (b *testBackend) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	b.srv.getRouter().ServeHTTP(rec, req)
	return rec
}

func (b *testBackend) createRequest(t *testing.T) interfaces.RecoveryRequest {
	t.Helper()
	rec := b.do(t, http.MethodPost, "/api/recovery/requests", map[string]string{
		"target_user":   "dr.jones",
		"target_entity": "survey-1",
		"requested_by":  "admin.smith",
		"justification": "clinician lost access",
	})
	require.Equal(t, http.StatusCreated, rec.Code, "Create should return 201: %s", rec.Body.String())

	var request interfaces.RecoveryRequest
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &request))
	return request
}

func TestServer_HealthEndpoints(t *testing.T) {
	b := newTestBackend(t)

	rec := b.do(t, http.MethodGet, "/livez", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = b.do(t, http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = b.do(t, http.MethodGet, "/drain", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = b.do(t, http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code, "Server should report not ready after drain")

	rec = b.do(t, http.MethodGet, "/undrain", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = b.do(t, http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_RequestLifecycle(t *testing.T) {
	b := newTestBackend(t)
	request := b.createRequest(t)
	base := "/api/recovery/requests/" + request.ID

	rec := b.do(t, http.MethodGet, base, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = b.do(t, http.MethodPost, base+"/approve-primary", map[string]string{"approver": "admin.smith"})
	require.Equal(t, http.StatusOK, rec.Code, "Primary approval failed: %s", rec.Body.String())

	// Dual control: same approver is refused with a conflict.
	rec = b.do(t, http.MethodPost, base+"/approve-secondary", map[string]string{"approver": "admin.smith"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = b.do(t, http.MethodPost, base+"/approve-secondary", map[string]string{"approver": "admin.patel"})
	require.Equal(t, http.StatusOK, rec.Code)

	var approved interfaces.RecoveryRequest
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &approved))
	assert.Equal(t, interfaces.RecoveryAwaitingDelay, approved.Status)

	rec = b.do(t, http.MethodGet, "/api/recovery/requests", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []interfaces.RecoveryRequest
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list, 1)
}

func TestServer_ExecuteRecovery(t *testing.T) {
	b := newTestBackend(t)
	request := b.createRequest(t)
	base := "/api/recovery/requests/" + request.ID

	rec := b.do(t, http.MethodPost, base+"/approve-primary", map[string]string{"approver": "admin.smith"})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = b.do(t, http.MethodPost, base+"/approve-secondary", map[string]string{"approver": "admin.patel"})
	require.Equal(t, http.StatusOK, rec.Code)

	wireShares := []string{b.shares[0].String(), b.shares[2].String(), b.shares[4].String()}
	executePayload := map[string]any{
		"shares":      wireShares,
		"threshold":   3,
		"secret_size": 64,
		"new_method":  "password",
		"new_secret":  "fresh-password-1",
	}

	// Inside the delay window.
	rec = b.do(t, http.MethodPost, base+"/execute", executePayload)
	assert.Equal(t, http.StatusForbidden, rec.Code, "Execution before the delay elapses must be refused")

	time.Sleep(20 * time.Millisecond)

	rec = b.do(t, http.MethodPost, base+"/execute", executePayload)
	require.Equal(t, http.StatusOK, rec.Code, "Execute failed: %s", rec.Body.String())

	var result struct {
		Envelope []byte `json:"envelope"`
		Method   string `json:"method"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, "password", result.Method)

	env, err := cryptoutils.ParseEnvelope(result.Envelope)
	require.NoError(t, err)
	recovered, err := cryptoutils.Open([]byte("fresh-password-1"), env)
	require.NoError(t, err)
	assert.Equal(t, b.surveyKEK, recovered, "The returned envelope must hold the survey KEK under the new password")

	rec = b.do(t, http.MethodGet, base, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var completed interfaces.RecoveryRequest
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &completed))
	assert.Equal(t, interfaces.RecoveryCompleted, completed.Status)
}

func TestServer_ExecuteWithBadShares(t *testing.T) {
	b := newTestBackend(t)
	request := b.createRequest(t)
	base := "/api/recovery/requests/" + request.ID

	rec := b.do(t, http.MethodPost, base+"/approve-primary", map[string]string{"approver": "admin.smith"})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = b.do(t, http.MethodPost, base+"/approve-secondary", map[string]string{"approver": "admin.patel"})
	require.Equal(t, http.StatusOK, rec.Code)
	time.Sleep(20 * time.Millisecond)

	// Malformed share text.
	rec = b.do(t, http.MethodPost, base+"/execute", map[string]any{
		"shares":      []string{"not-a-share"},
		"threshold":   3,
		"secret_size": 64,
		"new_secret":  "fresh-password-1",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Too few shares.
	rec = b.do(t, http.MethodPost, base+"/execute", map[string]any{
		"shares":      []string{b.shares[0].String(), b.shares[1].String()},
		"threshold":   3,
		"secret_size": 64,
		"new_secret":  "fresh-password-1",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	// The request survives failed attempts.
	rec = b.do(t, http.MethodGet, base, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var current interfaces.RecoveryRequest
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &current))
	assert.Equal(t, interfaces.RecoveryAwaitingDelay, current.Status)
}

func TestServer_ValidationErrors(t *testing.T) {
	b := newTestBackend(t)

	rec := b.do(t, http.MethodPost, "/api/recovery/requests", map[string]string{"target_user": "dr.jones"})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "Missing target_entity should be rejected")

	rec = b.do(t, http.MethodGet, "/api/recovery/requests/no-such-id", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	request := b.createRequest(t)
	rec = b.do(t, http.MethodPost, "/api/recovery/requests/"+request.ID+"/approve-secondary", map[string]string{"approver": "admin.patel"})
	assert.Equal(t, http.StatusConflict, rec.Code, "Second approval before the first is an invalid transition")

	req := httptest.NewRequest(http.MethodPost, "/api/recovery/requests", bytes.NewReader([]byte("{not json")))
	recBad := httptest.NewRecorder()
	b.srv.getRouter().ServeHTTP(recBad, req)
	assert.Equal(t, http.StatusBadRequest, recBad.Code)
}
