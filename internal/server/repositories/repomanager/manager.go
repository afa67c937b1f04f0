package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/gophgate/internal/dbx"
	"github.com/dmitrijs2005/gophgate/internal/server/repositories/auditlogs"
	"github.com/dmitrijs2005/gophgate/internal/server/repositories/sessions"
	"github.com/dmitrijs2005/gophgate/internal/server/repositories/users"
)

type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Users(db dbx.DBTX) users.Repository
	Sessions(db dbx.DBTX) sessions.Repository
	AuditLogs(db dbx.DBTX) auditlogs.Repository
}
