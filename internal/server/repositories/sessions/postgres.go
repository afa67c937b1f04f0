package sessions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/gophgate/internal/common"
	"github.com/dmitrijs2005/gophgate/internal/dbx"
	"github.com/dmitrijs2005/gophgate/internal/server/models"
)

// PostgresRepository implements the session store over dbx.DBTX
// (satisfied by *sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const sessionSelect = `
		SELECT s.id, s.user_id, s.token, s.refresh_token, s.expires_at, s.refresh_expires_at,
		       s.ip_address, s.user_agent, s.created_at, s.last_activity,
		       u.username, u.email, u.role, u.active
		FROM sessions s
		JOIN users u ON u.id = s.user_id
	`

func scanSession(row interface{ Scan(...any) error }) (*models.Session, error) {
	s := &models.Session{}
	err := row.Scan(&s.ID, &s.UserID, &s.AccessToken, &s.RefreshToken, &s.ExpiresAt, &s.RefreshExpiresAt,
		&s.IPAddress, &s.UserAgent, &s.CreatedAt, &s.LastActivity,
		&s.Username, &s.Email, &s.Role, &s.UserActive)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Create inserts s and fills its generated id and timestamps.
func (r *PostgresRepository) Create(ctx context.Context, s *models.Session) (*models.Session, error) {
	query := `
		INSERT INTO sessions (user_id, token, refresh_token, expires_at, refresh_expires_at, ip_address, user_agent)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, last_activity
	`
	err := r.db.QueryRowContext(ctx, query,
		s.UserID, s.AccessToken, s.RefreshToken, s.ExpiresAt, s.RefreshExpiresAt, s.IPAddress, s.UserAgent,
	).Scan(&s.ID, &s.CreatedAt, &s.LastActivity)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return s, nil
}

func (r *PostgresRepository) findOne(ctx context.Context, where string, arg any) (*models.Session, error) {
	s, err := scanSession(r.db.QueryRowContext(ctx, sessionSelect+where, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return s, nil
}

// FindByAccessToken returns the live session holding token, or
// common.ErrorNotFound when none exists or it has expired.
func (r *PostgresRepository) FindByAccessToken(ctx context.Context, token string) (*models.Session, error) {
	return r.findOne(ctx, `WHERE s.token = $1 AND s.expires_at > NOW()`, token)
}

// FindByRefreshToken returns the session whose refresh token matches and has
// not expired, or common.ErrorNotFound.
func (r *PostgresRepository) FindByRefreshToken(ctx context.Context, token string) (*models.Session, error) {
	return r.findOne(ctx, `WHERE s.refresh_token = $1 AND s.refresh_expires_at > NOW()`, token)
}

func (r *PostgresRepository) TouchActivity(ctx context.Context, id string) error {
	query := `
		UPDATE sessions SET last_activity = NOW()
		WHERE id = $1
	`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// ReplaceAccessToken swaps the access token and its expiry. The refresh
// token columns are left alone.
func (r *PostgresRepository) ReplaceAccessToken(ctx context.Context, id, token string, expiresAt time.Time) error {
	query := `
		UPDATE sessions SET token = $1, expires_at = $2, last_activity = NOW()
		WHERE id = $3
	`
	res, err := r.db.ExecContext(ctx, query, token, expiresAt, id)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}

func (r *PostgresRepository) DeleteByID(ctx context.Context, id string) error {
	query := `
		DELETE FROM sessions
		WHERE id = $1
	`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// DeleteAllForUser removes every session of userID and returns how many
// were removed.
func (r *PostgresRepository) DeleteAllForUser(ctx context.Context, userID string) (int64, error) {
	query := `
		DELETE FROM sessions
		WHERE user_id = $1
	`
	res, err := r.db.ExecContext(ctx, query, userID)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

// ListActiveForUser returns the unexpired sessions of userID, most recently
// active first.
func (r *PostgresRepository) ListActiveForUser(ctx context.Context, userID string) ([]models.Session, error) {
	query := sessionSelect + `WHERE s.user_id = $1 AND s.expires_at > NOW()
		ORDER BY s.last_activity DESC`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	result := make([]models.Session, 0)
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		result = append(result, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return result, nil
}

// DeleteExpired removes sessions that can no longer be used or refreshed.
func (r *PostgresRepository) DeleteExpired(ctx context.Context) (int64, error) {
	query := `
		DELETE FROM sessions
		WHERE expires_at <= NOW()
		  AND (refresh_expires_at IS NULL OR refresh_expires_at <= NOW())
	`
	res, err := r.db.ExecContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}
