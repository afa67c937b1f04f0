// Package server wires the gateway together: storage, rate limit stores,
// services and the HTTP transport, and runs them until a shutdown signal.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/dmitrijs2005/gophgate/internal/dbx"
	"github.com/dmitrijs2005/gophgate/internal/logging"
	"github.com/dmitrijs2005/gophgate/internal/server/audit"
	"github.com/dmitrijs2005/gophgate/internal/server/auth"
	"github.com/dmitrijs2005/gophgate/internal/server/config"
	"github.com/dmitrijs2005/gophgate/internal/server/httpapi"
	"github.com/dmitrijs2005/gophgate/internal/server/metrics"
	"github.com/dmitrijs2005/gophgate/internal/server/proxy"
	"github.com/dmitrijs2005/gophgate/internal/server/ratelimit"
	"github.com/dmitrijs2005/gophgate/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/gophgate/internal/server/services"
)

// purgeInterval is how often dead sessions are removed.
const purgeInterval = time.Hour

type App struct {
	config   *config.Config
	logger   logging.Logger
	db       *sql.DB
	redis    *redis.Client
	audit    *services.AuditService
	sessions *services.SessionService
	server   *httpapi.HTTPServer
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	logger := logging.New(os.Stdout, c.Environment, c.LogLevel)

	opts := dbx.DefaultPoolOptions()
	opts.MaxOpenConns = c.DatabaseMaxOpenConns
	opts.MaxIdleConns = c.DatabaseMaxIdleConns
	opts.StatementTimeout = c.DatabaseStatementTimeout

	db, err := dbx.OpenPostgres(ctx, c.DatabaseDSN, opts)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	rm := repomanager.NewPostgresRepositoryManager()
	if err := rm.RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}

	issuer, err := auth.NewIssuer(c.SecretKey)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	m := metrics.New(prometheus.NewRegistry())

	var (
		rdb   *redis.Client
		store redis.Cmdable
	)
	if c.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: c.RedisAddr, Password: c.RedisPassword, DB: c.RedisDB})
		if err := rdb.Ping(ctx).Err(); err != nil {
			// counting fails open, so a dead redis only disables limits
			logger.Warn(ctx, "redis unreachable, rate limits will fail open", "addr", c.RedisAddr, "error", err)
		}
		store = rdb
	}

	auditService := services.NewAuditService(db, rm, logger, c.AuditTimeout).WithRecorder(m)
	sessionService := services.NewSessionService(db, rm, c, issuer, auditService, logger).WithRecorder(m)
	if store != nil {
		sessionService.WithUnknownUserCounter(newPolicy(services.UnknownUserRule(c), store))
	}
	authenticator := services.NewAuthenticator(db, rm, issuer, logger)

	ai := proxy.NewClient(proxy.Config{
		URL:     c.AIUpstreamURL,
		APIKey:  c.AIAPIKey,
		Version: c.AIAPIVersion,
		Model:   c.AIModel,
		Timeout: c.AIRequestTimeout,
	})
	if !ai.Configured() {
		logger.Warn(ctx, "AI API key not set, /api/ai/completion will answer 503")
	}

	srv := httpapi.NewHTTPServer(c, logger, httpapi.Dependencies{
		Sessions:       sessionService,
		Authenticator:  authenticator,
		Audit:          auditService,
		AuditSink:      auditService,
		AI:             ai,
		DB:             db,
		Limiters:       newLimiters(c, store),
		Metrics:        m,
		MetricsHandler: m.Handler(),
		Redactor:       audit.NewRedactor(),
	})

	return &App{
		config:   c,
		logger:   logger,
		db:       db,
		redis:    rdb,
		audit:    auditService,
		sessions: sessionService,
		server:   srv,
	}, nil
}

// newLimiters picks the shared redis store when rdb is set and per-process
// counters otherwise.
func newLimiters(c *config.Config, rdb redis.Cmdable) httpapi.Limiters {
	rules := []ratelimit.Rule{
		{Name: "api", Limit: c.APIRateLimit, Window: c.APIRateWindow},
		{Name: "login", Limit: c.LoginRateLimit, Window: c.LoginRateWindow},
		{Name: "ai", Limit: c.AIRateLimit, Window: c.AIRateWindow},
	}

	policies := make([]ratelimit.Policy, len(rules))
	for i, r := range rules {
		if r.Limit > 0 {
			policies[i] = newPolicy(r, rdb)
		}
	}
	return httpapi.Limiters{API: policies[0], Login: policies[1], AI: policies[2]}
}

func newPolicy(r ratelimit.Rule, rdb redis.Cmdable) ratelimit.Policy {
	if rdb != nil {
		return ratelimit.NewRedisLimiter(rdb, r)
	}
	return ratelimit.NewMemoryLimiter(r)
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {
	if err := app.server.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

// purgeSessions removes sessions whose tokens have all expired.
func (app *App) purgeSessions(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := app.sessions.PurgeExpired(ctx)
			if err != nil {
				app.logger.Error(ctx, "purge sessions", "error", err)
				continue
			}
			if n > 0 {
				app.logger.Info(ctx, "purged expired sessions", "count", n)
			}
		}
	}
}

func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...", "environment", app.config.Environment)

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(2)
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()
	go func() {
		defer wg.Done()
		app.purgeSessions(ctx, purgeInterval)
	}()

	wg.Wait()

	// audit writes in flight outlive the request that started them
	app.audit.Wait()

	if app.redis != nil {
		if err := app.redis.Close(); err != nil {
			app.logger.Error(ctx, "close redis", "error", err)
		}
	}
	if err := app.db.Close(); err != nil {
		app.logger.Error(ctx, "close db", "error", err)
	}

	app.logger.Info(ctx, "App stopped")
}
