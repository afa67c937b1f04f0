// Package httpapi is the gateway's HTTP transport: routing, middleware and
// JSON handlers on top of the services package.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"

	"github.com/dmitrijs2005/gophgate/internal/common"
	"github.com/dmitrijs2005/gophgate/internal/logging"
	"github.com/dmitrijs2005/gophgate/internal/server/audit"
	"github.com/dmitrijs2005/gophgate/internal/server/config"
	"github.com/dmitrijs2005/gophgate/internal/server/models"
	"github.com/dmitrijs2005/gophgate/internal/server/proxy"
	"github.com/dmitrijs2005/gophgate/internal/server/ratelimit"
	"github.com/dmitrijs2005/gophgate/internal/server/services"
)

// SessionAPI is the session lifecycle used by the auth routes.
type SessionAPI interface {
	Login(ctx context.Context, username, password string, rememberMe bool, client services.ClientInfo) (*services.LoginResult, error)
	Logout(ctx context.Context, id *models.Identity, client services.ClientInfo) error
	LogoutAll(ctx context.Context, id *models.Identity, client services.ClientInfo) (int64, error)
	Refresh(ctx context.Context, refreshToken string, client services.ClientInfo) (*services.RefreshResult, error)
	Profile(ctx context.Context, id *models.Identity) (*models.Profile, error)
	ListSessions(ctx context.Context, id *models.Identity) ([]models.SessionInfo, error)
}

// Authenticator resolves an Authorization header to an identity.
type Authenticator interface {
	Authenticate(ctx context.Context, header string) (*models.Identity, error)
}

// AuditAPI backs the audit routes.
type AuditAPI interface {
	List(ctx context.Context, caller *models.Identity, filter models.AuditFilter) (*models.AuditPage, error)
	Stats(ctx context.Context, days int) (*models.AuditStats, error)
}

// Completer forwards completion requests to the AI provider.
type Completer interface {
	Complete(ctx context.Context, req proxy.CompletionRequest) (*proxy.Completion, error)
	Configured() bool
}

// Pinger checks the database; *sql.DB satisfies it.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Recorder receives transport metrics.
type Recorder interface {
	ObserveHTTP(method, route string, status int, d time.Duration)
	RateLimited(limiter string)
	UpstreamCall(status int)
}

type nopRecorder struct{}

func (nopRecorder) ObserveHTTP(string, string, int, time.Duration) {}
func (nopRecorder) RateLimited(string)                             {}
func (nopRecorder) UpstreamCall(int)                               {}

// Limiters groups the rate limit policies. A nil policy disables that limit.
type Limiters struct {
	API   ratelimit.Policy
	Login ratelimit.Policy
	AI    ratelimit.Policy
}

// Dependencies are the collaborators of HTTPServer. Metrics,
// MetricsHandler, Redactor and DB are optional.
type Dependencies struct {
	Sessions       SessionAPI
	Authenticator  Authenticator
	Audit          AuditAPI
	AuditSink      services.AuditSink
	AI             Completer
	DB             Pinger
	Limiters       Limiters
	Metrics        Recorder
	MetricsHandler http.Handler
	Redactor       *audit.Redactor
}

type HTTPServer struct {
	address  string
	config   *config.Config
	logger   logging.Logger
	sessions SessionAPI
	authn    Authenticator
	audit    AuditAPI
	sink     services.AuditSink
	ai       Completer
	db       Pinger
	limiters Limiters
	metrics  Recorder
	redactor *audit.Redactor
	validate *validator.Validate
	started  time.Time
	handler  http.Handler
}

func NewHTTPServer(cfg *config.Config, l logging.Logger, d Dependencies) *HTTPServer {
	s := &HTTPServer{
		address:  cfg.ListenAddr,
		config:   cfg,
		logger:   l.With("module", "http_server"),
		sessions: d.Sessions,
		authn:    d.Authenticator,
		audit:    d.Audit,
		sink:     d.AuditSink,
		ai:       d.AI,
		db:       d.DB,
		limiters: d.Limiters,
		metrics:  d.Metrics,
		redactor: d.Redactor,
		validate: newValidator(),
		started:  time.Now(),
	}
	if s.metrics == nil {
		s.metrics = nopRecorder{}
	}
	if s.redactor == nil {
		s.redactor = audit.NewRedactor()
	}
	if s.sink == nil {
		s.sink = services.NopAuditSink{}
	}

	s.handler = s.routes(d.MetricsHandler)
	return s
}

// Handler returns the fully wired router.
func (s *HTTPServer) Handler() http.Handler {
	return s.handler
}

const (
	msgAPILimited   = "Too many requests from this IP, please try again later."
	msgLoginLimited = "Too many login attempts, please try again later."
	msgAILimited    = "AI request limit reached. Please try again in an hour."
)

func (s *HTTPServer) routes(metricsHandler http.Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	if s.config.TrustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{s.config.FrontendURL},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID", "RateLimit-Limit", "RateLimit-Remaining", "RateLimit-Reset", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(s.observe)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, errNotFound)
	})

	r.Get("/", s.index)
	r.Get("/health", s.health)
	if metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", metricsHandler)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(s.auditRequests)
		r.Use(s.rateLimit(s.limiters.API, byClientIP, msgAPILimited, false))

		r.Route("/auth", func(r chi.Router) {
			r.With(s.rateLimit(s.limiters.Login, byClientIP, msgLoginLimited, true)).Post("/login", s.login)
			r.Post("/refresh", s.refresh)

			r.Group(func(r chi.Router) {
				r.Use(s.RequireAuth)
				r.Post("/logout", s.logout)
				r.Post("/logout-all", s.logoutAll)
				r.Get("/me", s.me)
				r.Get("/sessions", s.listSessions)
			})
		})

		r.Route("/audit", func(r chi.Router) {
			r.Use(s.RequireAuth)
			r.Get("/", s.listAudit)
			r.With(s.RequireRole(common.RoleAdmin)).Get("/stats", s.auditStats)
		})

		r.Route("/ai", func(r chi.Router) {
			r.Get("/health", s.aiHealth)
			r.With(s.RequireAuth, s.rateLimit(s.limiters.AI, byUser, msgAILimited, false)).Post("/completion", s.completion)
		})
	})

	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *HTTPServer) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.address,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error(ctx, "shutdown", "error", err)
		}
	}()

	s.logger.Info(ctx, "Starting HTTP server", "address", s.address)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	<-done
	return nil
}
