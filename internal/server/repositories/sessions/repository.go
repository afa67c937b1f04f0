// Package sessions provides the PostgreSQL-backed session store. Every
// lookup joins users so callers see the owner's current role and status.
package sessions

import (
	"context"
	"time"

	"github.com/dmitrijs2005/gophgate/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, s *models.Session) (*models.Session, error)
	FindByAccessToken(ctx context.Context, token string) (*models.Session, error)
	FindByRefreshToken(ctx context.Context, token string) (*models.Session, error)
	TouchActivity(ctx context.Context, id string) error
	ReplaceAccessToken(ctx context.Context, id, token string, expiresAt time.Time) error
	DeleteByID(ctx context.Context, id string) error
	DeleteAllForUser(ctx context.Context, userID string) (int64, error)
	ListActiveForUser(ctx context.Context, userID string) ([]models.Session, error)
	DeleteExpired(ctx context.Context) (int64, error)
}
