package auditlogs

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/gophgate/internal/dbx"
	"github.com/dmitrijs2005/gophgate/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Insert(ctx context.Context, entry *models.AuditLog) error {
	details := []byte("{}")
	if entry.Details != nil {
		b, err := json.Marshal(entry.Details)
		if err != nil {
			return fmt.Errorf("marshal details: %w", err)
		}
		details = b
	}

	query := `
		INSERT INTO audit_logs (user_id, action, resource_type, resource_id, details, ip_address, user_agent, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.db.ExecContext(ctx, query,
		entry.UserID, entry.Action, entry.ResourceType, entry.ResourceID, details,
		entry.IPAddress, entry.UserAgent, entry.Status)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// whereClause renders the filter as a WHERE clause with positional args.
func whereClause(f models.AuditFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if f.UserID != "" {
		add("al.user_id = $%d", f.UserID)
	}
	if f.Action != "" {
		add("al.action ILIKE $%d", "%"+f.Action+"%")
	}
	if f.Status != "" {
		add("al.status = $%d", f.Status)
	}
	if f.StartDate != nil {
		add("al.created_at >= $%d", *f.StartDate)
	}
	if f.EndDate != nil {
		add("al.created_at <= $%d", *f.EndDate)
	}

	if len(conds) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(conds, " AND "), args
}

// List returns one page of logs matching filter, newest first, and the total
// number of matches.
func (r *PostgresRepository) List(ctx context.Context, filter models.AuditFilter) ([]models.AuditLog, int64, error) {
	where, args := whereClause(filter)

	var total int64
	countQuery := `SELECT COUNT(*) FROM audit_logs al ` + where
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("db error: %w", err)
	}

	n := len(args)
	listQuery := fmt.Sprintf(`
		SELECT al.id, al.user_id, u.username, u.email, al.action, al.resource_type, al.resource_id,
		       al.details, al.ip_address, al.user_agent, al.status, al.created_at
		FROM audit_logs al
		LEFT JOIN users u ON al.user_id = u.id
		%s
		ORDER BY al.created_at DESC
		LIMIT $%d OFFSET $%d`, where, n+1, n+2)

	rows, err := r.db.QueryContext(ctx, listQuery, append(args, filter.Limit, filter.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	logs := make([]models.AuditLog, 0)
	for rows.Next() {
		var (
			l       models.AuditLog
			details []byte
		)
		if err := rows.Scan(&l.ID, &l.UserID, &l.Username, &l.Email, &l.Action, &l.ResourceType, &l.ResourceID,
			&details, &l.IPAddress, &l.UserAgent, &l.Status, &l.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("db error: %w", err)
		}
		if len(details) > 0 {
			if err := json.Unmarshal(details, &l.Details); err != nil {
				return nil, 0, fmt.Errorf("decode details of log %d: %w", l.ID, err)
			}
		}
		logs = append(logs, l)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("db error: %w", err)
	}

	return logs, total, nil
}

const periodCond = `created_at >= NOW() - make_interval(days => $1)`

// Stats aggregates the logs of the last days days.
func (r *PostgresRepository) Stats(ctx context.Context, days int) (*models.AuditStats, error) {
	stats := &models.AuditStats{PeriodDays: days}

	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM audit_logs WHERE `+periodCond, days).Scan(&stats.Total); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	var err error
	if stats.ActionTypes, err = r.counts(ctx, `
		SELECT action, COUNT(*) AS count
		FROM audit_logs
		WHERE `+periodCond+`
		GROUP BY action
		ORDER BY count DESC
		LIMIT 10`, days); err != nil {
		return nil, err
	}

	if stats.UserActions, err = r.counts(ctx, `
		SELECT COALESCE(u.username, 'anonymous'), COUNT(*) AS count
		FROM audit_logs al
		LEFT JOIN users u ON al.user_id = u.id
		WHERE al.`+periodCond+`
		GROUP BY u.username
		ORDER BY count DESC
		LIMIT 10`, days); err != nil {
		return nil, err
	}

	if stats.StatusBreakdown, err = r.counts(ctx, `
		SELECT status, COUNT(*) AS count
		FROM audit_logs
		WHERE `+periodCond+`
		GROUP BY status`, days); err != nil {
		return nil, err
	}

	if stats.DailyActivity, err = r.counts(ctx, `
		SELECT TO_CHAR(DATE(created_at), 'YYYY-MM-DD') AS date, COUNT(*) AS count
		FROM audit_logs
		WHERE `+periodCond+`
		GROUP BY DATE(created_at)
		ORDER BY DATE(created_at) DESC`, days); err != nil {
		return nil, err
	}

	return stats, nil
}

func (r *PostgresRepository) counts(ctx context.Context, query string, args ...any) ([]models.CountByKey, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	result := make([]models.CountByKey, 0)
	for rows.Next() {
		var (
			key sql.NullString
			c   models.CountByKey
		)
		if err := rows.Scan(&key, &c.Count); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		c.Key = key.String
		result = append(result, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return result, nil
}
