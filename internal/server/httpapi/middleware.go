package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dmitrijs2005/gophgate/internal/common"
	"github.com/dmitrijs2005/gophgate/internal/server/models"
	"github.com/dmitrijs2005/gophgate/internal/server/ratelimit"
	"github.com/dmitrijs2005/gophgate/internal/server/services"
)

type ctxKey string

const (
	identityKey ctxKey = "identity"
	stateKey    ctxKey = "state"
)

// requestState is shared by outer middleware with RequireAuth, which runs
// deeper in the chain and cannot pass values back through the context.
type requestState struct {
	identity *models.Identity
}

// maxAuditBody bounds how much of a request body is kept for auditing.
const maxAuditBody = 64 << 10

func identityFrom(ctx context.Context) *models.Identity {
	id, _ := ctx.Value(identityKey).(*models.Identity)
	return id
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func clientInfo(r *http.Request) services.ClientInfo {
	return services.ClientInfo{IPAddress: clientIP(r), UserAgent: r.UserAgent()}
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
		return rctx.RoutePattern()
	}
	return "unmatched"
}

func statusOf(ww middleware.WrapResponseWriter) int {
	if ww.Status() == 0 {
		return http.StatusOK
	}
	return ww.Status()
}

// logRequests writes one access log line per request.
func (s *HTTPServer) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.logger.Info(r.Context(), "request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", statusOf(ww),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
			"remote_addr", r.RemoteAddr,
			"user_agent", r.UserAgent(),
		)
	})
}

// observe records request counters and latency by route pattern.
func (s *HTTPServer) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.metrics.ObserveHTTP(r.Method, routePattern(r), statusOf(ww), time.Since(start))
	})
}

// RequireAuth rejects requests without a valid session and attaches the
// caller's identity to the context.
func (s *HTTPServer) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := s.authn.Authenticate(r.Context(), r.Header.Get(common.AuthorizationHeaderName))
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		if st, ok := r.Context().Value(stateKey).(*requestState); ok {
			st.identity = id
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey, id)))
	})
}

// RequireRole admits only authenticated callers holding one of roles.
func (s *HTTPServer) RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := identityFrom(r.Context())
			if id == nil {
				s.writeError(w, r, common.ErrNoToken)
				return
			}
			if !slices.Contains(roles, id.Role) {
				s.writeError(w, r, common.ErrorForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func byClientIP(r *http.Request) string { return clientIP(r) }

func byUser(r *http.Request) string {
	if id := identityFrom(r.Context()); id != nil {
		return "user:" + id.UserID
	}
	return clientIP(r)
}

// rateLimit counts requests with p. With skipSuccessful only responses with
// status >= 400 stay counted. Limiter failures let the request through.
func (s *HTTPServer) rateLimit(p ratelimit.Policy, key func(*http.Request) string, message string, skipSuccessful bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if p == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			k := key(r)

			d, err := p.Allow(ctx, k)
			if err != nil {
				s.logger.Warn(ctx, "rate limiter unavailable", "limiter", p.Name(), "error", err)
				next.ServeHTTP(w, r)
				return
			}

			reset := int(math.Ceil(d.RetryAfter(time.Now()).Seconds()))
			h := w.Header()
			h.Set("RateLimit-Limit", strconv.Itoa(d.Limit))
			h.Set("RateLimit-Remaining", strconv.Itoa(d.Remaining))
			h.Set("RateLimit-Reset", strconv.Itoa(reset))

			if !d.Allowed {
				h.Set("Retry-After", strconv.Itoa(reset))
				s.metrics.RateLimited(p.Name())
				writeJSON(w, http.StatusTooManyRequests, newAPIError(http.StatusTooManyRequests, "rate_limited", message))
				return
			}

			if !skipSuccessful {
				next.ServeHTTP(w, r)
				return
			}

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			if statusOf(ww) < http.StatusBadRequest {
				if err := p.Release(ctx, k); err != nil {
					s.logger.Warn(ctx, "rate limiter release failed", "limiter", p.Name(), "error", err)
				}
			}
		})
	}
}

// auditRequests records every request after its response has been written.
func (s *HTTPServer) auditRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		body := captureBody(r)

		st := &requestState{}
		ctx := context.WithValue(r.Context(), stateKey, st)
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r.WithContext(ctx))

		status := statusOf(ww)
		entry := services.AuditEntry{
			Action: r.Method + " " + r.URL.Path,
			Details: map[string]any{
				"method":     r.Method,
				"path":       r.URL.Path,
				"query":      s.redactor.Redact(flattenQuery(r)),
				"body":       s.redactor.Redact(body),
				"duration":   fmt.Sprintf("%dms", time.Since(start).Milliseconds()),
				"statusCode": status,
			},
			Status:    common.StatusError,
			IPAddress: clientIP(r),
			UserAgent: r.UserAgent(),
		}
		if status >= 200 && status < 300 {
			entry.Status = common.StatusSuccess
		}
		if st.identity != nil {
			entry.UserID = st.identity.UserID
		}

		s.sink.Record(ctx, entry)
	})
}

// captureBody returns the decoded JSON body, if any, and leaves r.Body
// readable for the handler.
func captureBody(r *http.Request) any {
	if r.Body == nil || r.Body == http.NoBody {
		return nil
	}

	buf, err := io.ReadAll(io.LimitReader(r.Body, maxAuditBody+1))
	r.Body = struct {
		io.Reader
		io.Closer
	}{io.MultiReader(bytes.NewReader(buf), r.Body), r.Body}
	if err != nil || len(buf) == 0 || len(buf) > maxAuditBody {
		return nil
	}

	var v any
	if json.Unmarshal(buf, &v) != nil {
		return nil
	}
	return v
}

func flattenQuery(r *http.Request) map[string]any {
	q := r.URL.Query()
	out := make(map[string]any, len(q))
	for k, v := range q {
		if len(v) == 1 {
			out[k] = v[0]
		} else {
			out[k] = v
		}
	}
	return out
}
