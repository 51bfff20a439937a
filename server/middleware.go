package server

import (
	"net/http"
	"strconv"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/jonwraymond/cachegate/auth"
	"github.com/jonwraymond/cachegate/quota"
)

// authenticate resolves the credential into a Principal. The body is
// buffered for signature verification and restored for the handler.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req, err := auth.NewAuthRequest(r, s.maxBody)
		if err != nil {
			s.writeError(w, r, errorf("%v", err))
			return
		}
		p, err := s.resolver.Resolve(r.Context(), req)
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		logger := hlog.FromRequest(r)
		logger.UpdateContext(func(c zerolog.Context) zerolog.Context {
			return c.Str("principal", p.ID).Str("credential_kind", string(p.CredentialKind))
		})
		next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), p)))
	})
}

// meter counts the request against the principal's quota before the
// handler runs. Counter failures reject the request.
func (s *Server) meter(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := auth.PrincipalFromContext(r.Context())
		usage, err := s.guard.Check(r.Context(), p)
		setUsageHeaders(w.Header(), usage)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// setUsageHeaders omits headers for unlimited dimensions.
func setUsageHeaders(h http.Header, u quota.Usage) {
	if u.RateLimitPerMinute > 0 {
		h.Set("X-RateLimit-Limit", strconv.FormatInt(u.RateLimitPerMinute, 10))
		h.Set("X-RateLimit-Remaining", strconv.FormatInt(u.MinuteRemaining, 10))
	}
	if u.MonthlyQuota > 0 {
		h.Set("X-Quota-Limit", strconv.FormatInt(u.MonthlyQuota, 10))
		h.Set("X-Quota-Remaining", strconv.FormatInt(u.MonthlyRemaining, 10))
	}
}
