package services

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/dmitrijs2005/gophgate/internal/common"
	"github.com/dmitrijs2005/gophgate/internal/logging"
	"github.com/dmitrijs2005/gophgate/internal/server/auth"
	"github.com/dmitrijs2005/gophgate/internal/server/models"
	"github.com/dmitrijs2005/gophgate/internal/server/repositories/repomanager"
)

// Authenticator resolves a bearer token to a live session.
type Authenticator struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	issuer      *auth.Issuer
	logger      logging.Logger
}

func NewAuthenticator(db *sql.DB, m repomanager.RepositoryManager, issuer *auth.Issuer, l logging.Logger) *Authenticator {
	return &Authenticator{
		db:          db,
		repomanager: m,
		issuer:      issuer,
		logger:      l.With("module", "authenticator"),
	}
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, bool) {
	if len(header) < len(common.BearerPrefix) || !strings.EqualFold(header[:len(common.BearerPrefix)], common.BearerPrefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(common.BearerPrefix):])
	return token, token != ""
}

// Authenticate validates the Authorization header and returns the identity
// of the session it belongs to. On success the session's last activity is
// bumped exactly once.
func (a *Authenticator) Authenticate(ctx context.Context, header string) (*models.Identity, error) {
	token, ok := BearerToken(header)
	if !ok {
		return nil, common.ErrNoToken
	}

	claims, err := a.issuer.Verify(token)
	if err != nil {
		return nil, err
	}
	if !claims.IsAccess() {
		return nil, common.ErrInvalidToken
	}

	sessions := a.repomanager.Sessions(a.db)

	session, err := sessions.FindByAccessToken(ctx, token)
	if errors.Is(err, common.ErrorNotFound) {
		return nil, common.ErrSessionInvalid
	}
	if err != nil {
		a.logger.Error(ctx, "find session", "error", err)
		return nil, common.Internal(err)
	}
	if session.UserID != claims.UserID {
		return nil, common.ErrSessionInvalid
	}

	if !session.UserActive {
		return nil, common.ErrAccountDisabled
	}

	if err := sessions.TouchActivity(ctx, session.ID); err != nil {
		a.logger.Error(ctx, "touch session", "session_id", session.ID, "error", err)
		return nil, common.Internal(err)
	}

	return &models.Identity{
		UserID:    session.UserID,
		Username:  session.Username,
		Email:     session.Email,
		Role:      session.Role,
		SessionID: session.ID,
	}, nil
}
