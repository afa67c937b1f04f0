package services

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/gophgate/internal/common"
	"github.com/dmitrijs2005/gophgate/internal/logging"
	"github.com/dmitrijs2005/gophgate/internal/server/models"
	"github.com/dmitrijs2005/gophgate/internal/server/repositories/repomanager"
)

// AuditEntry is one security-relevant event. An empty UserID records an
// anonymous actor.
type AuditEntry struct {
	UserID       string
	Action       string
	ResourceType string
	ResourceID   string
	Details      map[string]any
	Status       string
	IPAddress    string
	UserAgent    string
}

// AuditSink accepts audit entries. Implementations must never block the
// caller on persistence nor report failures back to it.
type AuditSink interface {
	Record(ctx context.Context, e AuditEntry)
}

// NopAuditSink drops every entry.
type NopAuditSink struct{}

func (NopAuditSink) Record(context.Context, AuditEntry) {}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (e AuditEntry) toModel() *models.AuditLog {
	status := e.Status
	if status == "" {
		status = common.StatusSuccess
	}
	return &models.AuditLog{
		UserID:       nullable(e.UserID),
		Action:       e.Action,
		ResourceType: nullable(e.ResourceType),
		ResourceID:   nullable(e.ResourceID),
		Details:      e.Details,
		IPAddress:    e.IPAddress,
		UserAgent:    e.UserAgent,
		Status:       status,
	}
}

const (
	defaultAuditLimit = 50
	maxAuditLimit     = 500
	defaultStatsDays  = 7
	maxStatsDays      = 365
)

// AuditService persists audit entries in the background and serves audit
// queries.
type AuditService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	logger      logging.Logger
	metrics     Recorder
	timeout     time.Duration
	wg          sync.WaitGroup
}

// NewAuditService constructs an AuditService. Each background write is
// bounded by timeout.
func NewAuditService(db *sql.DB, m repomanager.RepositoryManager, l logging.Logger, timeout time.Duration) *AuditService {
	return &AuditService{
		db:          db,
		repomanager: m,
		logger:      l.With("module", "audit"),
		metrics:     nopRecorder{},
		timeout:     timeout,
	}
}

// WithRecorder sets the metrics recorder and returns s.
func (s *AuditService) WithRecorder(r Recorder) *AuditService {
	s.metrics = r
	return s
}

// Record stores e asynchronously. The write outlives ctx's cancellation but
// not the service timeout; failures are logged and dropped.
func (s *AuditService) Record(ctx context.Context, e AuditEntry) {
	entry := e.toModel()
	writeCtx := context.WithoutCancel(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ctx, cancel := context.WithTimeout(writeCtx, s.timeout)
		defer cancel()

		if err := s.repomanager.AuditLogs(s.db).Insert(ctx, entry); err != nil {
			s.metrics.AuditWrite(false)
			s.logger.Error(ctx, "failed to write audit log", "action", entry.Action, "error", err)
			return
		}
		s.metrics.AuditWrite(true)
	}()
}

// Wait blocks until every pending write has finished.
func (s *AuditService) Wait() {
	s.wg.Wait()
}

// List returns a page of audit logs visible to caller. Non-admin callers
// only ever see their own entries, whatever the filter says.
func (s *AuditService) List(ctx context.Context, caller *models.Identity, filter models.AuditFilter) (*models.AuditPage, error) {
	if caller.Role != common.RoleAdmin {
		filter.UserID = caller.UserID
	}
	if filter.Limit <= 0 {
		filter.Limit = defaultAuditLimit
	}
	filter.Limit = min(filter.Limit, maxAuditLimit)
	filter.Offset = max(filter.Offset, 0)

	logs, total, err := s.repomanager.AuditLogs(s.db).List(ctx, filter)
	if err != nil {
		s.logger.Error(ctx, "list audit logs", "error", err)
		return nil, common.Internal(err)
	}

	return &models.AuditPage{Logs: logs, Total: total, Limit: filter.Limit, Offset: filter.Offset}, nil
}

// Stats aggregates the last days days of activity; days outside
// [1, 365] fall back to 7.
func (s *AuditService) Stats(ctx context.Context, days int) (*models.AuditStats, error) {
	if days < 1 || days > maxStatsDays {
		days = defaultStatsDays
	}

	stats, err := s.repomanager.AuditLogs(s.db).Stats(ctx, days)
	if err != nil {
		s.logger.Error(ctx, "audit stats", "error", err)
		return nil, fmt.Errorf("audit stats: %w", common.Internal(err))
	}
	return stats, nil
}
