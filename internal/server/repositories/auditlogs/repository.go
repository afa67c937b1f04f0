// Package auditlogs persists and queries audit records.
package auditlogs

import (
	"context"

	"github.com/dmitrijs2005/gophgate/internal/server/models"
)

type Repository interface {
	Insert(ctx context.Context, entry *models.AuditLog) error
	List(ctx context.Context, filter models.AuditFilter) ([]models.AuditLog, int64, error)
	Stats(ctx context.Context, days int) (*models.AuditStats, error)
}
