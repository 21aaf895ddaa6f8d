package ratelimit

import (
	"log/slog"
	"net/http"

	"github.com/recallhq/recall/internal/api"
	"github.com/recallhq/recall/internal/metrics"
)

// TenantFunc extracts the rate-limit key for a request; injected so this
// package stays free of auth imports.
type TenantFunc func(r *http.Request) string

// Middleware enforces the sliding windows per tenant. On backend errors it
// fails open: an unreachable Redis must not take the write path down with
// it.
func Middleware(limiter Limiter, tenantOf TenantFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tenant := tenantOf(r)
			if tenant == "" {
				next.ServeHTTP(w, r)
				return
			}

			decision, err := limiter.Allow(r.Context(), tenant)
			if err != nil {
				slog.Warn("rate limiter backend error, failing open", "error", err, "tenant", tenant)
				next.ServeHTTP(w, r)
				return
			}

			if !decision.Allowed {
				metrics.AdmissionRejectionsTotal.WithLabelValues(decision.Window).Inc()
				api.HandleError(w, api.NewRateLimitedError(decision.RetryAfter))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
