package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/gophgate/internal/common"
	"github.com/dmitrijs2005/gophgate/internal/logging"
	"github.com/dmitrijs2005/gophgate/internal/server/config"
	"github.com/dmitrijs2005/gophgate/internal/server/models"
	"github.com/dmitrijs2005/gophgate/internal/server/proxy"
	"github.com/dmitrijs2005/gophgate/internal/server/ratelimit"
	"github.com/dmitrijs2005/gophgate/internal/server/services"
)

type errBoom struct{}

func (errBoom) Error() string { return "boom" }

// --- session service mock ---

type mockSessions struct{ mock.Mock }

func (m *mockSessions) Login(_ context.Context, username, password string, rememberMe bool, client services.ClientInfo) (*services.LoginResult, error) {
	args := m.Called(username, password, rememberMe, client)
	res, _ := args.Get(0).(*services.LoginResult)
	return res, args.Error(1)
}

func (m *mockSessions) Logout(_ context.Context, id *models.Identity, client services.ClientInfo) error {
	return m.Called(id, client).Error(0)
}

func (m *mockSessions) LogoutAll(_ context.Context, id *models.Identity, client services.ClientInfo) (int64, error) {
	args := m.Called(id, client)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockSessions) Refresh(_ context.Context, token string, client services.ClientInfo) (*services.RefreshResult, error) {
	args := m.Called(token, client)
	res, _ := args.Get(0).(*services.RefreshResult)
	return res, args.Error(1)
}

func (m *mockSessions) Profile(_ context.Context, id *models.Identity) (*models.Profile, error) {
	args := m.Called(id)
	res, _ := args.Get(0).(*models.Profile)
	return res, args.Error(1)
}

func (m *mockSessions) ListSessions(_ context.Context, id *models.Identity) ([]models.SessionInfo, error) {
	args := m.Called(id)
	res, _ := args.Get(0).([]models.SessionInfo)
	return res, args.Error(1)
}

// --- audit service mock ---

type mockAudit struct{ mock.Mock }

func (m *mockAudit) List(_ context.Context, caller *models.Identity, filter models.AuditFilter) (*models.AuditPage, error) {
	args := m.Called(caller, filter)
	res, _ := args.Get(0).(*models.AuditPage)
	return res, args.Error(1)
}

func (m *mockAudit) Stats(_ context.Context, days int) (*models.AuditStats, error) {
	args := m.Called(days)
	res, _ := args.Get(0).(*models.AuditStats)
	return res, args.Error(1)
}

// --- authenticator ---

var (
	userIdentity  = &models.Identity{UserID: "u2", Username: "demo", Email: "demo@example.com", Role: common.RoleUser, SessionID: "s2"}
	adminIdentity = &models.Identity{UserID: "u1", Username: "admin", Email: "admin@example.com", Role: common.RoleAdmin, SessionID: "s1"}
)

type fakeAuthn struct {
	tokens map[string]*models.Identity
	errs   map[string]error
}

func (f fakeAuthn) Authenticate(_ context.Context, header string) (*models.Identity, error) {
	token, ok := services.BearerToken(header)
	if !ok {
		return nil, common.ErrNoToken
	}
	if err, ok := f.errs[token]; ok {
		return nil, err
	}
	if id, ok := f.tokens[token]; ok {
		return id, nil
	}
	return nil, common.ErrSessionInvalid
}

// --- completer ---

type fakeAI struct {
	configured bool
	got        *proxy.CompletionRequest
	res        *proxy.Completion
	err        error
}

func (f *fakeAI) Complete(_ context.Context, req proxy.CompletionRequest) (*proxy.Completion, error) {
	f.got = &req
	return f.res, f.err
}

func (f *fakeAI) Configured() bool { return f.configured }

// --- pinger ---

type fakePinger struct{ err error }

func (f fakePinger) PingContext(context.Context) error { return f.err }

// --- policy that always fails ---

type brokenPolicy struct{}

func (brokenPolicy) Allow(context.Context, string) (ratelimit.Decision, error) {
	return ratelimit.Decision{}, errBoom{}
}
func (brokenPolicy) Release(context.Context, string) error { return errBoom{} }
func (brokenPolicy) Name() string                          { return "broken" }

// --- audit sink ---

type captureSink struct {
	mu      sync.Mutex
	entries []services.AuditEntry
}

func (c *captureSink) Record(_ context.Context, e services.AuditEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, e)
}

func (c *captureSink) find(action string) (services.AuditEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.entries {
		if e.Action == action {
			return e, true
		}
	}
	return services.AuditEntry{}, false
}

// --- fixture ---

type testServer struct {
	srv      *HTTPServer
	sessions *mockSessions
	audit    *mockAudit
	ai       *fakeAI
	sink     *captureSink
}

func testConfig() *config.Config {
	c := &config.Config{}
	c.LoadDefaults()
	return c
}

func newTestServer(t *testing.T, mutate ...func(*config.Config, *Dependencies)) *testServer {
	t.Helper()

	ts := &testServer{
		sessions: &mockSessions{},
		audit:    &mockAudit{},
		ai:       &fakeAI{configured: true},
		sink:     &captureSink{},
	}
	cfg := testConfig()
	deps := Dependencies{
		Sessions: ts.sessions,
		Authenticator: fakeAuthn{
			tokens: map[string]*models.Identity{"user-token": userIdentity, "admin-token": adminIdentity},
			errs:   map[string]error{"disabled-token": common.ErrAccountDisabled, "expired-token": common.ErrTokenExpired},
		},
		Audit:     ts.audit,
		AuditSink: ts.sink,
		AI:        ts.ai,
		DB:        fakePinger{},
	}
	for _, m := range mutate {
		m(cfg, &deps)
	}

	ts.srv = NewHTTPServer(cfg, logging.Nop(), deps)
	t.Cleanup(func() {
		ts.sessions.AssertExpectations(t)
		ts.audit.AssertExpectations(t)
	})
	return ts
}

type response struct {
	code   int
	header http.Header
	body   map[string]any
	raw    string
}

func (ts *testServer) do(t *testing.T, method, path, token, body string) response {
	t.Helper()

	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	req.RemoteAddr = "192.0.2.10:5555"
	req.Header.Set("User-Agent", "test-agent")
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rec, req)

	res := response{code: rec.Code, header: rec.Header(), raw: rec.Body.String()}
	if len(bytes.TrimSpace(rec.Body.Bytes())) > 0 && strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res.body), rec.Body.String())
	}
	return res
}

var testClient = services.ClientInfo{IPAddress: "192.0.2.10", UserAgent: "test-agent"}
