package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/caseproof/evidence-backend/internal/domain/user"
	"github.com/caseproof/evidence-backend/internal/infrastructure/cache"
	"github.com/caseproof/evidence-backend/internal/infrastructure/config"
	"github.com/caseproof/evidence-backend/internal/infrastructure/contentstore"
	"github.com/caseproof/evidence-backend/internal/infrastructure/events"
	"github.com/caseproof/evidence-backend/internal/infrastructure/queue"
	"github.com/caseproof/evidence-backend/internal/infrastructure/registry"
	"github.com/caseproof/evidence-backend/internal/infrastructure/repository"
	"github.com/caseproof/evidence-backend/internal/service/custody"
	"github.com/caseproof/evidence-backend/internal/service/gate"
	"github.com/caseproof/evidence-backend/internal/service/ocr"
	"github.com/caseproof/evidence-backend/internal/service/processor"
	"github.com/caseproof/evidence-backend/internal/service/transcription"
)

type fixture struct {
	server *httptest.Server
	repos  *repository.Repositories
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)

	root := t.TempDir()
	store, err := contentstore.New(root, logger)
	require.NoError(t, err)

	repos := repository.NewMemoryRepositories()
	backend := cache.NewMemoryCache()
	bus := events.NewBus(logger)
	q := queue.New(2, 16, logger)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = q.Shutdown(ctx)
	})

	cfg := &config.Config{
		Server: config.ServerConfig{Port: 0, ShutdownTimeout: time.Second},
		ContentStore: config.ContentStoreConfig{
			Root:           root,
			MaxUploadBytes: 1 << 20,
		},
		Pipeline: config.PipelineConfig{
			WorkerPoolSize:       2,
			QueueCapacity:        16,
			TranscriptTTLSeconds: 3600,
			OCRTTLSeconds:        3600,
			ResultTTLSeconds:     3600,
		},
		Session:    config.SessionConfig{JWTSecret: "test-secret", TokenExpiry: time.Hour},
		TierLimits: config.DefaultTierLimits(),
	}

	proc := processor.New(
		repos, store, cache.NewLoader(backend),
		transcription.New(transcription.NewBuiltinProvider(), bus, time.Minute, logger),
		ocr.New(ocr.NewBuiltinProvider(), logger),
		bus, nil, nil, cfg, logger,
	)

	auth := gate.NewAuthenticator(repos.User, repos.APIKey, repos.Audit,
		cfg.Session.JWTSecret, cfg.Session.TokenExpiry, logger)
	g := gate.New(repos.Usage, repos.Audit, cfg.TierLimits, nil, nil, logger)

	handlers := NewHandlers(
		auth, g, proc, custody.New(repos.Audit, logger),
		repos, store, backend, bus, q,
		registry.New(), nil, nil, cfg, logger,
	)

	server := httptest.NewServer(handlers.Router())
	t.Cleanup(server.Close)
	return &fixture{server: server, repos: repos}
}

func (f *fixture) do(t *testing.T, method, path, token string, body interface{}) *http.Response {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, f.server.URL+path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, dest interface{}) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(dest))
}

func (f *fixture) signupAndLogin(t *testing.T, email string) string {
	t.Helper()
	resp := f.do(t, http.MethodPost, "/api/auth/signup", "", map[string]string{
		"email": email, "password": "correct horse battery",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = f.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email": email, "password": "correct horse battery",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var login struct {
		Token string `json:"token"`
		Email string `json:"email"`
	}
	decodeBody(t, resp, &login)
	require.NotEmpty(t, login.Token)
	require.Equal(t, email, login.Email)
	return login.Token
}

func (f *fixture) upload(t *testing.T, token, filename, content string) string {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.WriteField("declared_type", "document"))
	require.NoError(t, mw.WriteField("case_number", "2026-CR-00099"))
	require.NoError(t, mw.WriteField("description", "scanned narrative"))
	require.NoError(t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, f.server.URL+"/api/evidence/upload", &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.NotEmpty(t, resp.Header.Get("X-RateLimit-Limit"))
	require.NotEmpty(t, resp.Header.Get("X-RateLimit-Remaining"))

	var ev struct {
		EvidenceID    string `json:"evidence_id"`
		ContentDigest string `json:"content_digest"`
		Bytes         int64  `json:"bytes"`
	}
	decodeBody(t, resp, &ev)
	require.NotEmpty(t, ev.EvidenceID)
	require.NotEmpty(t, ev.ContentDigest)
	require.Equal(t, int64(len(content)), ev.Bytes)
	return ev.EvidenceID
}

// process starts an analysis and polls until it reaches a terminal state.
func (f *fixture) process(t *testing.T, token, evidenceID string) string {
	t.Helper()
	resp := f.do(t, http.MethodPost, "/api/evidence/"+evidenceID+"/process", token, nil)
	require.Contains(t, []int{http.StatusOK, http.StatusAccepted}, resp.StatusCode)

	var started struct {
		AnalysisID string `json:"analysis_id"`
		ID         string `json:"id"`
	}
	decodeBody(t, resp, &started)
	analysisID := started.AnalysisID
	if analysisID == "" {
		analysisID = started.ID
	}
	require.NotEmpty(t, analysisID)

	deadline := time.Now().Add(10 * time.Second)
	for {
		poll := f.do(t, http.MethodGet, "/api/analysis/"+analysisID, token, nil)
		if poll.StatusCode == http.StatusOK {
			var result struct {
				State string `json:"state"`
			}
			decodeBody(t, poll, &result)
			require.Equal(t, "completed", result.State)
			return analysisID
		}
		require.Equal(t, http.StatusAccepted, poll.StatusCode)
		poll.Body.Close()
		require.True(t, time.Now().Before(deadline), "analysis did not complete in time")
		time.Sleep(20 * time.Millisecond)
	}
}

func TestSignupLoginAndRateLimitStatus(t *testing.T) {
	f := newFixture(t)
	token := f.signupAndLogin(t, "counsel@example.com")

	resp := f.do(t, http.MethodGet, "/api/rate-limit/status", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var status struct {
		Tier            string             `json:"tier"`
		RemainingTokens map[string]float64 `json:"remaining_tokens"`
	}
	decodeBody(t, resp, &status)
	assert.Equal(t, "free", status.Tier)
	assert.Contains(t, status.RemainingTokens, "ingest")
	assert.Contains(t, status.RemainingTokens, "process")
}

func TestLoginSetsSessionCookie(t *testing.T) {
	f := newFixture(t)
	f.signupAndLogin(t, "cookie@example.com")

	resp := f.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email": "cookie@example.com", "password": "correct horse battery",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var session *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == "evx_session" {
			session = c
		}
	}
	resp.Body.Close()
	require.NotNil(t, session)
	require.NotEmpty(t, session.Value)
	assert.True(t, session.HttpOnly)

	// The cookie alone authenticates.
	req, err := http.NewRequest(http.MethodGet, f.server.URL+"/api/evidence", nil)
	require.NoError(t, err)
	req.AddCookie(session)
	cookieResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	cookieResp.Body.Close()
	assert.Equal(t, http.StatusOK, cookieResp.StatusCode)
}

func TestLogoutClearsSessionCookie(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodPost, "/api/auth/logout", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var cleared *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == "evx_session" {
			cleared = c
		}
	}
	resp.Body.Close()
	require.NotNil(t, cleared)
	assert.Empty(t, cleared.Value)
	assert.Less(t, cleared.MaxAge, 0)
}

func TestRequestsWithoutCredentialsAreRejected(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodGet, "/api/evidence", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	var body struct {
		Error string `json:"error"`
	}
	decodeBody(t, resp, &body)
	assert.Equal(t, "Unauthenticated", body.Error)
}

func TestLoginFailureShape(t *testing.T) {
	f := newFixture(t)
	f.signupAndLogin(t, "someone@example.com")

	resp := f.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email": "someone@example.com", "password": "wrong password",
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	decodeBody(t, resp, &body)
	assert.Equal(t, "InvalidCredentials", body.Error)
	assert.Equal(t, "invalid credentials", body.Message)
}

func TestDuplicateSignupConflicts(t *testing.T) {
	f := newFixture(t)
	f.signupAndLogin(t, "dup@example.com")

	resp := f.do(t, http.MethodPost, "/api/auth/signup", "", map[string]string{
		"email": "dup@example.com", "password": "correct horse battery",
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestAPIKeyLifecycle(t *testing.T) {
	f := newFixture(t)
	token := f.signupAndLogin(t, "keyed@example.com")

	resp := f.do(t, http.MethodPost, "/api/keys", token, map[string]string{"name": "ci"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created struct {
		Key struct {
			ID string `json:"id"`
		} `json:"key"`
		Plaintext string `json:"plaintext"`
	}
	decodeBody(t, resp, &created)
	require.NotEmpty(t, created.Plaintext)

	keyReq, err := http.NewRequest(http.MethodGet, f.server.URL+"/api/evidence", nil)
	require.NoError(t, err)
	keyReq.Header.Set("X-API-Key", created.Plaintext)

	keyResp, err := http.DefaultClient.Do(keyReq)
	require.NoError(t, err)
	keyResp.Body.Close()
	assert.Equal(t, http.StatusOK, keyResp.StatusCode)

	resp = f.do(t, http.MethodDelete, "/api/keys/"+created.Key.ID, token, nil)
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	revokedResp, err := http.DefaultClient.Do(keyReq.Clone(context.Background()))
	require.NoError(t, err)
	revokedResp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, revokedResp.StatusCode)
}

func TestUploadProcessReportFlow(t *testing.T) {
	f := newFixture(t)
	token := f.signupAndLogin(t, "litigator@example.com")

	evidenceID := f.upload(t, token, "report.txt", "officer narrative text for the end to end flow")
	analysisID := f.process(t, token, evidenceID)

	// A second request for the same evidence serves the completed result
	// synchronously.
	resp := f.do(t, http.MethodPost, "/api/evidence/"+evidenceID+"/process", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var cached struct {
		ID    string `json:"id"`
		State string `json:"state"`
	}
	decodeBody(t, resp, &cached)
	assert.Equal(t, "completed", cached.State)
	assert.Equal(t, analysisID, cached.ID)

	resp = f.do(t, http.MethodGet, "/api/analysis/"+analysisID+"/report?format=markdown", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/markdown; charset=utf-8", resp.Header.Get("Content-Type"))
	resp.Body.Close()

	resp = f.do(t, http.MethodGet, "/api/evidence/"+evidenceID+"/custody", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var chain struct {
		Events []json.RawMessage `json:"events"`
		Report struct {
			Valid bool `json:"valid"`
		} `json:"report"`
	}
	decodeBody(t, resp, &chain)
	assert.True(t, chain.Report.Valid)
	assert.NotEmpty(t, chain.Events)
}

func TestExportRequiresProfessionalTier(t *testing.T) {
	f := newFixture(t)
	token := f.signupAndLogin(t, "freeuser@example.com")
	evidenceID := f.upload(t, token, "report.txt", "narrative for export gating")
	analysisID := f.process(t, token, evidenceID)

	resp := f.do(t, http.MethodPost, "/api/analysis/"+analysisID+"/export", token, nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestEvidenceOwnershipIsEnforced(t *testing.T) {
	f := newFixture(t)
	owner := f.signupAndLogin(t, "owner@example.com")
	other := f.signupAndLogin(t, "other@example.com")

	evidenceID := f.upload(t, owner, "private.txt", "owner only narrative")

	resp := f.do(t, http.MethodGet, "/api/evidence/"+evidenceID, other, nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "foreign evidence reads as not found")

	resp = f.do(t, http.MethodGet, "/api/evidence/"+evidenceID, owner, nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAdminEndpointsRequireAdminTier(t *testing.T) {
	f := newFixture(t)
	token := f.signupAndLogin(t, "mortal@example.com")

	resp := f.do(t, http.MethodGet, "/api/audit/verify", token, nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestAdminAuditVerify(t *testing.T) {
	f := newFixture(t)
	token := f.signupAndLogin(t, "root@example.com")

	// Promote directly in the store; sessions pick up tier changes on the
	// next request because validation re-reads the user.
	u, err := f.repos.User.GetByEmail(context.Background(), "root@example.com")
	require.NoError(t, err)
	u.Tier = user.TierAdmin
	require.NoError(t, f.repos.User.Update(context.Background(), u))

	resp := f.do(t, http.MethodGet, "/api/audit/verify", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var report struct {
		Valid bool `json:"valid"`
	}
	decodeBody(t, resp, &report)
	assert.True(t, report.Valid)
}

func TestHealthEndpoint(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Get(f.server.URL + "/health")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var health struct {
		Status     string                       `json:"status"`
		Components map[string]map[string]string `json:"components"`
	}
	decodeBody(t, resp, &health)
	assert.Equal(t, "healthy", health.Status)
	assert.Contains(t, health.Components, "content_store")
	assert.Contains(t, health.Components, "metadata")
	assert.Contains(t, health.Components, "cache")
}

func TestRequestIDIsEchoed(t *testing.T) {
	f := newFixture(t)

	req, err := http.NewRequest(http.MethodGet, f.server.URL+"/health", nil)
	require.NoError(t, err)
	req.Header.Set("X-Request-ID", "req-12345")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "req-12345", resp.Header.Get("X-Request-ID"))
}

func TestUnknownAnalysisReturnsTaxonomyError(t *testing.T) {
	f := newFixture(t)
	token := f.signupAndLogin(t, "asker@example.com")

	resp := f.do(t, http.MethodGet, "/api/analysis/not-a-uuid", token, nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/api/analysis/11111111-2222-3333-4444-555555555555", token, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	var body struct {
		Error string `json:"error"`
	}
	decodeBody(t, resp, &body)
	assert.Equal(t, "NotFound", body.Error)
}
