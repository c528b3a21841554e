package api

import (
	"gatekeep/internal/guard"
	"gatekeep/internal/types"
	"net/http"
)

// RateLimit guards next with the policy of op. identify picks the limited identifier from
// the request; nil means the client IP. Rejected requests get 429 and never reach next.
func RateLimit(policies *guard.PolicyLimiter, op types.Operation, identify func(*http.Request) string) func(http.Handler) http.Handler {
	if identify == nil {
		identify = clientIP
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d, err := policies.Check(r.Context(), op, identify(r))
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			if !d.Allowed {
				writeDecision(w, op, d)
				return
			}
			setRateLimitHeaders(w, d)
			next.ServeHTTP(w, r)
		})
	}
}
