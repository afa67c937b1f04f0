package services

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/gophgate/internal/common"
	"github.com/dmitrijs2005/gophgate/internal/dbx"
	"github.com/dmitrijs2005/gophgate/internal/logging"
	"github.com/dmitrijs2005/gophgate/internal/server/auth"
	"github.com/dmitrijs2005/gophgate/internal/server/config"
	"github.com/dmitrijs2005/gophgate/internal/server/models"
	"github.com/dmitrijs2005/gophgate/internal/server/repositories/auditlogs"
	"github.com/dmitrijs2005/gophgate/internal/server/repositories/sessions"
	"github.com/dmitrijs2005/gophgate/internal/server/repositories/users"
)

type errBoom struct{}

func (errBoom) Error() string { return "boom" }

const testSecret = "0123456789abcdef0123456789abcdef"

func testConfig() *config.Config {
	return &config.Config{
		SecretKey:                       testSecret,
		AccessTokenValidityDuration:     time.Hour,
		RememberMeTokenValidityDuration: 7 * 24 * time.Hour,
		RefreshTokenValidityDuration:    7 * 24 * time.Hour,
		MaxFailedAttempts:               5,
		LockoutDuration:                 30 * time.Minute,
		AuditTimeout:                    time.Second,
	}
}

func newSQLMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

// --- users ---

type fakeUsersRepo struct {
	mu      sync.Mutex
	byName  map[string]*models.User
	findErr error
	failErr error
	okErr   error

	successCalls int
}

var _ users.Repository = (*fakeUsersRepo)(nil)

func newFakeUsers(us ...*models.User) *fakeUsersRepo {
	f := &fakeUsersRepo{byName: map[string]*models.User{}}
	for _, u := range us {
		f.byName[u.Username] = u
	}
	return f
}

func (f *fakeUsersRepo) Create(_ context.Context, u *models.User) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.byName[u.Username]; ok {
		return nil, common.ErrorAlreadyExists
	}
	f.byName[u.Username] = u
	return u, nil
}

func (f *fakeUsersRepo) CreateIfNotExists(ctx context.Context, u *models.User) (bool, error) {
	_, err := f.Create(ctx, u)
	return err == nil, nil
}

func (f *fakeUsersRepo) GetByID(_ context.Context, id string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.findErr != nil {
		return nil, f.findErr
	}
	for _, u := range f.byName {
		if u.ID == id {
			c := *u
			return &c, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (f *fakeUsersRepo) FindActiveByUsername(_ context.Context, username string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.findErr != nil {
		return nil, f.findErr
	}
	u, ok := f.byName[username]
	if !ok || !u.Active {
		return nil, common.ErrorNotFound
	}
	c := *u
	return &c, nil
}

func (f *fakeUsersRepo) RecordFailedAttempt(_ context.Context, userID string, attempts int, lockedUntil *time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failErr != nil {
		return f.failErr
	}
	for _, u := range f.byName {
		if u.ID == userID {
			u.FailedLoginAttempts = attempts
			u.LockedUntil = lockedUntil
		}
	}
	return nil
}

func (f *fakeUsersRepo) RecordSuccessfulLogin(_ context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.okErr != nil {
		return f.okErr
	}
	f.successCalls++
	for _, u := range f.byName {
		if u.ID == userID {
			now := time.Now()
			u.FailedLoginAttempts = 0
			u.LockedUntil = nil
			u.LastLogin = &now
		}
	}
	return nil
}

// --- sessions ---

type fakeSessionsRepo struct {
	mu    sync.Mutex
	rows  map[string]*models.Session
	users *fakeUsersRepo
	now   func() time.Time
	seq   int

	createErr  error
	findErr    error
	touchErr   error
	replaceErr error
	deleteErr  error

	touches int
}

var _ sessions.Repository = (*fakeSessionsRepo)(nil)

func newFakeSessions(u *fakeUsersRepo, now func() time.Time) *fakeSessionsRepo {
	return &fakeSessionsRepo{rows: map[string]*models.Session{}, users: u, now: now}
}

func (f *fakeSessionsRepo) withOwner(s *models.Session) *models.Session {
	c := *s
	if u, err := f.users.GetByID(context.Background(), s.UserID); err == nil {
		c.Username, c.Email, c.Role, c.UserActive = u.Username, u.Email, u.Role, u.Active
	}
	return &c
}

func (f *fakeSessionsRepo) Create(_ context.Context, s *models.Session) (*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.seq++
	c := *s
	c.ID = "s" + string(rune('0'+f.seq))
	c.CreatedAt = f.now()
	c.LastActivity = f.now()
	f.rows[c.ID] = &c
	out := c
	return &out, nil
}

func (f *fakeSessionsRepo) FindByAccessToken(_ context.Context, token string) (*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.findErr != nil {
		return nil, f.findErr
	}
	for _, s := range f.rows {
		if s.AccessToken == token && s.ExpiresAt.After(f.now()) {
			return f.withOwner(s), nil
		}
	}
	return nil, common.ErrorNotFound
}

func (f *fakeSessionsRepo) FindByRefreshToken(_ context.Context, token string) (*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.findErr != nil {
		return nil, f.findErr
	}
	for _, s := range f.rows {
		if s.RefreshToken != nil && *s.RefreshToken == token && s.RefreshExpiresAt != nil && s.RefreshExpiresAt.After(f.now()) {
			return f.withOwner(s), nil
		}
	}
	return nil, common.ErrorNotFound
}

func (f *fakeSessionsRepo) TouchActivity(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.touchErr != nil {
		return f.touchErr
	}
	f.touches++
	if s, ok := f.rows[id]; ok {
		s.LastActivity = f.now()
	}
	return nil
}

func (f *fakeSessionsRepo) ReplaceAccessToken(_ context.Context, id, token string, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.replaceErr != nil {
		return f.replaceErr
	}
	s, ok := f.rows[id]
	if !ok {
		return common.ErrorNotFound
	}
	s.AccessToken = token
	s.ExpiresAt = expiresAt
	s.LastActivity = f.now()
	return nil
}

func (f *fakeSessionsRepo) DeleteByID(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	delete(f.rows, id)
	return nil
}

func (f *fakeSessionsRepo) DeleteAllForUser(_ context.Context, userID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return 0, f.deleteErr
	}
	var n int64
	for id, s := range f.rows {
		if s.UserID == userID {
			delete(f.rows, id)
			n++
		}
	}
	return n, nil
}

func (f *fakeSessionsRepo) ListActiveForUser(_ context.Context, userID string) ([]models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.findErr != nil {
		return nil, f.findErr
	}
	out := []models.Session{}
	for _, s := range f.rows {
		if s.UserID == userID && s.ExpiresAt.After(f.now()) {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (f *fakeSessionsRepo) DeleteExpired(context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return 0, f.deleteErr
	}
	var n int64
	for id, s := range f.rows {
		if !s.ExpiresAt.After(f.now()) && (s.RefreshExpiresAt == nil || !s.RefreshExpiresAt.After(f.now())) {
			delete(f.rows, id)
			n++
		}
	}
	return n, nil
}

func (f *fakeSessionsRepo) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows)
}

// --- audit logs ---

type fakeAuditRepo struct {
	mu        sync.Mutex
	inserted  []*models.AuditLog
	insertErr error

	listFilter models.AuditFilter
	listOut    []models.AuditLog
	listTotal  int64
	listErr    error

	statsDays int
	statsOut  *models.AuditStats
	statsErr  error
}

var _ auditlogs.Repository = (*fakeAuditRepo)(nil)

func (f *fakeAuditRepo) Insert(_ context.Context, e *models.AuditLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return f.insertErr
	}
	f.inserted = append(f.inserted, e)
	return nil
}

func (f *fakeAuditRepo) List(_ context.Context, filter models.AuditFilter) ([]models.AuditLog, int64, error) {
	f.listFilter = filter
	return f.listOut, f.listTotal, f.listErr
}

func (f *fakeAuditRepo) Stats(_ context.Context, days int) (*models.AuditStats, error) {
	f.statsDays = days
	return f.statsOut, f.statsErr
}

// --- manager ---

type fakeRepoManager struct {
	users    *fakeUsersRepo
	sessions *fakeSessionsRepo
	audit    *fakeAuditRepo
}

func (m *fakeRepoManager) RunMigrations(context.Context, *sql.DB) error { return nil }
func (m *fakeRepoManager) Users(dbx.DBTX) users.Repository              { return m.users }
func (m *fakeRepoManager) Sessions(dbx.DBTX) sessions.Repository        { return m.sessions }
func (m *fakeRepoManager) AuditLogs(dbx.DBTX) auditlogs.Repository      { return m.audit }

// --- audit sink ---

type captureSink struct {
	mu      sync.Mutex
	entries []AuditEntry
}

func (c *captureSink) Record(_ context.Context, e AuditEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, e)
}

func (c *captureSink) actions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e.Action)
	}
	return out
}

// --- fixture ---

type fixture struct {
	db     *sql.DB
	mock   sqlmock.Sqlmock
	clock  *time.Time
	rm     *fakeRepoManager
	sink   *captureSink
	issuer *auth.Issuer
	svc    *SessionService
	authn  *Authenticator
}

func mustHash(t *testing.T, pw string) string {
	t.Helper()
	h, err := auth.HashPassword(pw)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	return h
}

func newFixture(t *testing.T, us ...*models.User) *fixture {
	t.Helper()
	db, mock := newSQLMockDB(t)

	clock := time.Now()
	fx := &fixture{db: db, mock: mock, clock: &clock, sink: &captureSink{}}
	now := func() time.Time { return *fx.clock }

	fu := newFakeUsers(us...)
	fx.rm = &fakeRepoManager{users: fu, sessions: newFakeSessions(fu, now), audit: &fakeAuditRepo{}}

	issuer, err := auth.NewIssuer(testSecret)
	if err != nil {
		t.Fatalf("issuer: %v", err)
	}
	fx.issuer = issuer

	fx.svc = NewSessionService(db, fx.rm, testConfig(), issuer, fx.sink, logging.Nop())
	fx.svc.now = now
	fx.authn = NewAuthenticator(db, fx.rm, issuer, logging.Nop())
	return fx
}

func (fx *fixture) expectTx() {
	fx.mock.ExpectBegin()
	fx.mock.ExpectCommit()
}
