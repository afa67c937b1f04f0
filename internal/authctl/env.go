package authctl

import (
	"context"

	"github.com/dmitrijs2005/gophgate/internal/dbx"
	"github.com/dmitrijs2005/gophgate/internal/logging"
	"github.com/dmitrijs2005/gophgate/internal/server/auth"
	"github.com/dmitrijs2005/gophgate/internal/server/config"
	"github.com/dmitrijs2005/gophgate/internal/server/models"
	"github.com/dmitrijs2005/gophgate/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/gophgate/internal/server/services"
)

// Accounts provisions users.
type Accounts interface {
	Create(ctx context.Context, a services.NewAccount) (*models.User, error)
	Seed(ctx context.Context, accounts ...services.NewAccount) (int, error)
}

// Purger removes dead sessions.
type Purger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// Env is what the commands operate on.
type Env struct {
	Migrate  func(ctx context.Context) error
	Accounts Accounts
	Sessions Purger
	Close    func() error
}

// Opener builds an Env for cfg.
type Opener func(ctx context.Context, cfg *config.Config, l logging.Logger) (*Env, error)

// OpenPostgres connects to the configured database.
func OpenPostgres(ctx context.Context, cfg *config.Config, l logging.Logger) (*Env, error) {
	opts := dbx.DefaultPoolOptions()
	opts.MaxOpenConns = 2
	opts.MaxIdleConns = 1
	opts.StatementTimeout = cfg.DatabaseStatementTimeout

	db, err := dbx.OpenPostgres(ctx, cfg.DatabaseDSN, opts)
	if err != nil {
		return nil, err
	}

	issuer, err := auth.NewIssuer(cfg.SecretKey)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	rm := repomanager.NewPostgresRepositoryManager()
	return &Env{
		Migrate:  func(ctx context.Context) error { return rm.RunMigrations(ctx, db) },
		Accounts: services.NewAccountService(db, rm, l),
		Sessions: services.NewSessionService(db, rm, cfg, issuer, services.NopAuditSink{}, l),
		Close:    db.Close,
	}, nil
}
