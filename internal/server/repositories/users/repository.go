// Package users is the credential store: account lookup and the login
// bookkeeping columns (failed attempts, lock expiry, last login).
package users

import (
	"context"
	"time"

	"github.com/dmitrijs2005/gophgate/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, user *models.User) (*models.User, error)
	CreateIfNotExists(ctx context.Context, user *models.User) (bool, error)
	GetByID(ctx context.Context, id string) (*models.User, error)
	FindActiveByUsername(ctx context.Context, username string) (*models.User, error)
	RecordFailedAttempt(ctx context.Context, userID string, attempts int, lockedUntil *time.Time) error
	RecordSuccessfulLogin(ctx context.Context, userID string) error
}
