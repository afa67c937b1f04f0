package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/gophgate/internal/common"
	"github.com/dmitrijs2005/gophgate/internal/dbx"
	"github.com/dmitrijs2005/gophgate/internal/logging"
	"github.com/dmitrijs2005/gophgate/internal/server/auth"
	"github.com/dmitrijs2005/gophgate/internal/server/config"
	"github.com/dmitrijs2005/gophgate/internal/server/models"
	"github.com/dmitrijs2005/gophgate/internal/server/ratelimit"
	"github.com/dmitrijs2005/gophgate/internal/server/repositories/repomanager"
)

// Audit actions emitted by the session lifecycle.
const (
	ActionLoginSuccess = "LOGIN_SUCCESS"
	ActionLoginFailed  = "LOGIN_FAILED"
	ActionLoginLocked  = "LOGIN_LOCKED"
	ActionLogout       = "LOGOUT"
	ActionLogoutAll    = "LOGOUT_ALL"
	ActionTokenRefresh = "TOKEN_REFRESH"

	resourceSession = "session"
)

// ClientInfo is the client metadata captured with a session.
type ClientInfo struct {
	IPAddress string
	UserAgent string
}

// LoginResult is returned by a successful login. RefreshToken is empty
// unless the caller asked to be remembered.
type LoginResult struct {
	AccessToken       string
	RefreshToken      string
	User              models.Profile
	ExpiresIn         int64
	ExpiresAt         time.Time
	AttemptsRemaining int
}

// RefreshResult carries a freshly minted access token.
type RefreshResult struct {
	AccessToken string
	ExpiresIn   int64
	ExpiresAt   time.Time
}

// SessionService implements login, logout, logout-all and refresh.
type SessionService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	issuer      *auth.Issuer
	lockout     auth.LockoutPolicy
	unknown     ratelimit.Policy
	audit       AuditSink
	logger      logging.Logger
	metrics     Recorder

	accessTTL     time.Duration
	rememberMeTTL time.Duration
	refreshTTL    time.Duration

	now func() time.Time
}

func NewSessionService(db *sql.DB, m repomanager.RepositoryManager, cfg *config.Config, issuer *auth.Issuer, sink AuditSink, l logging.Logger) *SessionService {
	s := &SessionService{
		db:          db,
		repomanager: m,
		issuer:      issuer,
		lockout: auth.LockoutPolicy{
			MaxAttempts:  cfg.MaxFailedAttempts,
			LockDuration: cfg.LockoutDuration,
		},
		audit:         sink,
		logger:        l.With("module", "sessions"),
		metrics:       nopRecorder{},
		accessTTL:     cfg.AccessTokenValidityDuration,
		rememberMeTTL: cfg.RememberMeTokenValidityDuration,
		refreshTTL:    cfg.RefreshTokenValidityDuration,
		now:           time.Now,
	}
	s.unknown = ratelimit.NewMemoryLimiter(UnknownUserRule(cfg)).WithClock(func() time.Time { return s.now() })
	return s
}

// UnknownUserRule limits failed logins for usernames with no active account
// the way the lockout policy limits them for real accounts.
func UnknownUserRule(cfg *config.Config) ratelimit.Rule {
	return ratelimit.Rule{Name: "unknown-user", Limit: cfg.MaxFailedAttempts, Window: cfg.LockoutDuration}
}

// WithUnknownUserCounter replaces the counter of failed logins for unknown
// usernames and returns s. p should be built from UnknownUserRule.
func (s *SessionService) WithUnknownUserCounter(p ratelimit.Policy) *SessionService {
	s.unknown = p
	return s
}

// WithRecorder sets the metrics recorder and returns s.
func (s *SessionService) WithRecorder(r Recorder) *SessionService {
	s.metrics = r
	return s
}

// Login verifies credentials and opens a new session.
//
// Errors: *common.ValidationError for missing input, *common.LockedError for
// a locked account, *common.CredentialsError for an unknown user or wrong
// password, and an ErrorInternal-wrapped error for store or signing failures.
func (s *SessionService) Login(ctx context.Context, username, password string, rememberMe bool, client ClientInfo) (*LoginResult, error) {
	if username == "" || password == "" {
		return nil, &common.ValidationError{Message: "username and password required"}
	}

	users := s.repomanager.Users(s.db)

	user, err := users.FindActiveByUsername(ctx, username)
	if errors.Is(err, common.ErrorNotFound) {
		return nil, s.failUnknown(ctx, username, password, client)
	}
	if err != nil {
		s.metrics.LoginAttempt(OutcomeError)
		s.logger.Error(ctx, "find user", "error", err)
		return nil, common.Internal(err)
	}

	now := s.now()

	if locked, until := s.lockout.Locked(user, now); locked {
		s.metrics.LoginAttempt(OutcomeLocked)
		s.recordLogin(ctx, user.ID, ActionLoginLocked, common.StatusError, client, map[string]any{"username": username, "lockedUntil": until})
		return nil, &common.LockedError{Until: until}
	}

	ok, err := auth.ComparePassword(user.PasswordHash, password)
	if err != nil {
		s.metrics.LoginAttempt(OutcomeError)
		s.logger.Error(ctx, "compare password", "user_id", user.ID, "error", err)
		return nil, common.Internal(err)
	}

	if !ok {
		return nil, s.failLogin(ctx, user, now, client)
	}

	return s.openSession(ctx, user, rememberMe, client)
}

func (s *SessionService) failLogin(ctx context.Context, user *models.User, now time.Time, client ClientInfo) error {
	attempts, lockUntil := s.lockout.RegisterFailure(user.FailedLoginAttempts, now)

	if err := s.repomanager.Users(s.db).RecordFailedAttempt(ctx, user.ID, attempts, lockUntil); err != nil {
		s.metrics.LoginAttempt(OutcomeError)
		s.logger.Error(ctx, "record failed attempt", "user_id", user.ID, "error", err)
		return common.Internal(err)
	}

	details := map[string]any{"username": user.Username, "attempts": attempts}
	if lockUntil != nil {
		details["lockedUntil"] = *lockUntil
	}

	s.metrics.LoginAttempt(OutcomeFailure)
	s.recordLogin(ctx, user.ID, ActionLoginFailed, common.StatusError, client, details)

	return &common.CredentialsError{AttemptsRemaining: s.lockout.Remaining(attempts)}
}

// failUnknown counts a failed login for a username with no active account.
// The responses follow the same countdown and lock as a real account.
func (s *SessionService) failUnknown(ctx context.Context, username, password string, client ClientInfo) error {
	d, err := s.unknown.Allow(ctx, "unknown:"+username)
	if err != nil {
		s.logger.Warn(ctx, "count unknown user failure", "error", err)
		d = ratelimit.Decision{Allowed: true, Remaining: s.lockout.Remaining(1)}
	}

	if !d.Allowed {
		s.metrics.LoginAttempt(OutcomeLocked)
		s.recordLogin(ctx, "", ActionLoginLocked, common.StatusError, client, map[string]any{"username": username, "reason": "unknown user", "lockedUntil": d.ResetAt})
		return &common.LockedError{Until: d.ResetAt}
	}

	// burn a comparison so unknown usernames cost the same as wrong passwords
	auth.CompareDummy(password)
	s.metrics.LoginAttempt(OutcomeFailure)
	s.recordLogin(ctx, "", ActionLoginFailed, common.StatusError, client, map[string]any{"username": username, "reason": "unknown user"})
	return &common.CredentialsError{AttemptsRemaining: d.Remaining}
}

func (s *SessionService) openSession(ctx context.Context, user *models.User, rememberMe bool, client ClientInfo) (*LoginResult, error) {
	ttl := s.accessTTL
	if rememberMe {
		ttl = s.rememberMeTTL
	}

	accessToken, expiresAt, err := s.issuer.IssueAccessToken(user.ID, user.Username, user.Role, ttl)
	if err != nil {
		s.metrics.LoginAttempt(OutcomeError)
		return nil, common.Internal(fmt.Errorf("issue access token: %w", err))
	}

	refreshToken, refreshExpiresAt, err := s.issuer.IssueRefreshToken(user.ID, s.refreshTTL)
	if err != nil {
		s.metrics.LoginAttempt(OutcomeError)
		return nil, common.Internal(fmt.Errorf("issue refresh token: %w", err))
	}

	var session *models.Session

	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.repomanager.Users(tx).RecordSuccessfulLogin(ctx, user.ID); err != nil {
			return fmt.Errorf("record successful login: %w", err)
		}

		session, err = s.repomanager.Sessions(tx).Create(ctx, &models.Session{
			UserID:           user.ID,
			AccessToken:      accessToken,
			RefreshToken:     &refreshToken,
			ExpiresAt:        expiresAt,
			RefreshExpiresAt: &refreshExpiresAt,
			IPAddress:        client.IPAddress,
			UserAgent:        client.UserAgent,
		})
		if err != nil {
			return fmt.Errorf("create session: %w", err)
		}
		return nil
	})
	if err != nil {
		s.metrics.LoginAttempt(OutcomeError)
		s.logger.Error(ctx, "open session", "user_id", user.ID, "error", err)
		return nil, common.Internal(err)
	}

	loggedInAt := s.now()

	s.metrics.LoginAttempt(OutcomeSuccess)
	s.audit.Record(ctx, AuditEntry{
		UserID:       user.ID,
		Action:       ActionLoginSuccess,
		ResourceType: resourceSession,
		ResourceID:   session.ID,
		Details:      map[string]any{"username": user.Username, "rememberMe": rememberMe},
		Status:       common.StatusSuccess,
		IPAddress:    client.IPAddress,
		UserAgent:    client.UserAgent,
	})

	res := &LoginResult{
		AccessToken: accessToken,
		User: models.Profile{
			ID:        user.ID,
			Username:  user.Username,
			Email:     user.Email,
			Role:      user.Role,
			CreatedAt: user.CreatedAt,
			LastLogin: &loggedInAt,
		},
		ExpiresIn:         int64(ttl / time.Second),
		ExpiresAt:         expiresAt,
		AttemptsRemaining: s.lockout.MaxAttempts,
	}
	if rememberMe {
		res.RefreshToken = refreshToken
	}
	return res, nil
}

func (s *SessionService) recordLogin(ctx context.Context, userID, action, status string, client ClientInfo, details map[string]any) {
	s.audit.Record(ctx, AuditEntry{
		UserID:       userID,
		Action:       action,
		ResourceType: "user",
		ResourceID:   userID,
		Details:      details,
		Status:       status,
		IPAddress:    client.IPAddress,
		UserAgent:    client.UserAgent,
	})
}

// Logout deletes the caller's current session. Deleting a session that is
// already gone is not an error.
func (s *SessionService) Logout(ctx context.Context, id *models.Identity, client ClientInfo) error {
	err := s.repomanager.Sessions(s.db).DeleteByID(ctx, id.SessionID)
	if err != nil && !errors.Is(err, common.ErrorNotFound) {
		s.logger.Error(ctx, "delete session", "session_id", id.SessionID, "error", err)
		return common.Internal(err)
	}

	s.metrics.SessionsRevoked(1)
	s.audit.Record(ctx, AuditEntry{
		UserID:       id.UserID,
		Action:       ActionLogout,
		ResourceType: resourceSession,
		ResourceID:   id.SessionID,
		Status:       common.StatusSuccess,
		IPAddress:    client.IPAddress,
		UserAgent:    client.UserAgent,
	})
	return nil
}

// LogoutAll deletes every session owned by the caller, the current one
// included, and returns how many were removed.
func (s *SessionService) LogoutAll(ctx context.Context, id *models.Identity, client ClientInfo) (int64, error) {
	n, err := s.repomanager.Sessions(s.db).DeleteAllForUser(ctx, id.UserID)
	if err != nil {
		s.logger.Error(ctx, "delete user sessions", "user_id", id.UserID, "error", err)
		return 0, common.Internal(err)
	}

	s.metrics.SessionsRevoked(n)
	s.audit.Record(ctx, AuditEntry{
		UserID:       id.UserID,
		Action:       ActionLogoutAll,
		ResourceType: resourceSession,
		Details:      map[string]any{"sessionsDeleted": n},
		Status:       common.StatusSuccess,
		IPAddress:    client.IPAddress,
		UserAgent:    client.UserAgent,
	})
	return n, nil
}

// Refresh mints a new access token for the session owning refreshToken.
// The new token lives for the access TTL or for what is left of the
// session's current token, whichever is longer, so a remember-me session
// never shrinks. The refresh token and its expiry are left unchanged. Every verification
// or lookup failure yields common.ErrRefreshInvalid.
func (s *SessionService) Refresh(ctx context.Context, refreshToken string, client ClientInfo) (*RefreshResult, error) {
	if refreshToken == "" {
		return nil, &common.ValidationError{Field: "refreshToken", Message: "refresh token required"}
	}

	claims, err := s.issuer.Verify(refreshToken)
	if err != nil || !claims.IsRefresh() {
		s.metrics.TokenRefreshed(false)
		return nil, common.ErrRefreshInvalid
	}

	sessions := s.repomanager.Sessions(s.db)

	session, err := sessions.FindByRefreshToken(ctx, refreshToken)
	if errors.Is(err, common.ErrorNotFound) {
		s.metrics.TokenRefreshed(false)
		return nil, common.ErrRefreshInvalid
	}
	if err != nil {
		s.logger.Error(ctx, "find session by refresh token", "error", err)
		return nil, common.Internal(err)
	}

	if session.UserID != claims.UserID || !session.UserActive {
		s.metrics.TokenRefreshed(false)
		return nil, common.ErrRefreshInvalid
	}

	ttl := max(s.accessTTL, session.ExpiresAt.Sub(s.now()))

	accessToken, expiresAt, err := s.issuer.IssueAccessToken(session.UserID, session.Username, session.Role, ttl)
	if err != nil {
		return nil, common.Internal(fmt.Errorf("issue access token: %w", err))
	}

	err = sessions.ReplaceAccessToken(ctx, session.ID, accessToken, expiresAt)
	if errors.Is(err, common.ErrorNotFound) {
		// revoked between lookup and update
		s.metrics.TokenRefreshed(false)
		return nil, common.ErrRefreshInvalid
	}
	if err != nil {
		s.logger.Error(ctx, "replace access token", "session_id", session.ID, "error", err)
		return nil, common.Internal(err)
	}

	s.metrics.TokenRefreshed(true)
	s.audit.Record(ctx, AuditEntry{
		UserID:       session.UserID,
		Action:       ActionTokenRefresh,
		ResourceType: resourceSession,
		ResourceID:   session.ID,
		Status:       common.StatusSuccess,
		IPAddress:    client.IPAddress,
		UserAgent:    client.UserAgent,
	})

	return &RefreshResult{
		AccessToken: accessToken,
		ExpiresIn:   int64(ttl / time.Second),
		ExpiresAt:   expiresAt,
	}, nil
}

// Profile returns the current profile of the authenticated user.
func (s *SessionService) Profile(ctx context.Context, id *models.Identity) (*models.Profile, error) {
	user, err := s.repomanager.Users(s.db).GetByID(ctx, id.UserID)
	if errors.Is(err, common.ErrorNotFound) {
		return nil, common.ErrSessionInvalid
	}
	if err != nil {
		s.logger.Error(ctx, "get user", "user_id", id.UserID, "error", err)
		return nil, common.Internal(err)
	}

	return &models.Profile{
		ID:        user.ID,
		Username:  user.Username,
		Email:     user.Email,
		Role:      user.Role,
		CreatedAt: user.CreatedAt,
		LastLogin: user.LastLogin,
	}, nil
}

// ListSessions returns the caller's live sessions, most recently active
// first.
func (s *SessionService) ListSessions(ctx context.Context, id *models.Identity) ([]models.SessionInfo, error) {
	list, err := s.repomanager.Sessions(s.db).ListActiveForUser(ctx, id.UserID)
	if err != nil {
		s.logger.Error(ctx, "list sessions", "user_id", id.UserID, "error", err)
		return nil, common.Internal(err)
	}

	out := make([]models.SessionInfo, 0, len(list))
	for i := range list {
		out = append(out, list[i].Info())
	}
	return out, nil
}

// PurgeExpired deletes sessions whose access and refresh tokens have both
// expired.
func (s *SessionService) PurgeExpired(ctx context.Context) (int64, error) {
	n, err := s.repomanager.Sessions(s.db).DeleteExpired(ctx)
	if err != nil {
		return 0, common.Internal(err)
	}
	return n, nil
}
