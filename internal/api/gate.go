package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/facilityops/inspection-core/internal/auth"
)

// Routes the gate admits while a precondition is still outstanding.
const (
	completeRegistrationPath = "/api/v1/auth/complete-registration"
	changePasswordPath       = "/api/v1/auth/change-password"
)

// Gate outcome labels for metrics and telemetry. Failures use the error code.
const (
	outcomeAdmitted = "ADMITTED"
)

// tokenExtractor pulls a raw session token from one carrier.
// An empty result means the carrier is absent.
type tokenExtractor struct {
	carrier string
	extract func(r *http.Request) string
}

// defaultExtractors returns the carriers in precedence order: session
// cookie, bearer header, then the raw token header.
func defaultExtractors(cookieName, headerName string) []tokenExtractor {
	return []tokenExtractor{
		{carrier: "cookie", extract: cookieToken(cookieName)},
		{carrier: "bearer", extract: bearerToken},
		{carrier: "header", extract: headerToken(headerName)},
	}
}

func cookieToken(name string) func(*http.Request) string {
	return func(r *http.Request) string {
		c, err := r.Cookie(name)
		if err != nil {
			return ""
		}
		return c.Value
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "bearer "
	if len(h) < len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(h[len(prefix):])
}

func headerToken(name string) func(*http.Request) string {
	return func(r *http.Request) string {
		return strings.TrimSpace(r.Header.Get(name))
	}
}

// extractToken returns the first non-empty token and the carrier it came from.
func extractToken(r *http.Request, extractors []tokenExtractor) (token, carrier string) {
	for _, e := range extractors {
		if t := e.extract(r); t != "" {
			return t, e.carrier
		}
	}
	return "", ""
}

// authMiddleware is the auth gate for protected routes.
//
// A request moves through: token present, token verified, principal
// loaded, preconditions met. Any failure short-circuits to the error
// responder. On success the principal and claims are attached to the
// context and, if the token is close to expiry and the request succeeds, a
// refreshed token is attached to the response.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, claims, carrier, err := s.authenticate(r)
		if err != nil {
			_, code, _ := classifyError(err)
			s.recordGate(code, carrier, false)
			s.respondError(w, r, err)
			return
		}

		ctx := context.WithValue(r.Context(), ctxKeyPrincipal, principal)
		ctx = context.WithValue(ctx, ctxKeyClaims, claims)

		rw := &refreshWriter{
			ResponseWriter: w,
			headerKey:      s.session.HeaderName,
			refresh:        func() bool { return s.refreshSession(w, r, claims) },
		}
		next.ServeHTTP(rw, r.WithContext(ctx))
		rw.commit(http.StatusOK)

		s.recordGate(outcomeAdmitted, carrier, rw.refreshed)
	})
}

// refreshWriter holds back the session refresh until the response status is
// known, so only successful requests extend the session. Handlers that issue
// their own session token are left alone.
type refreshWriter struct {
	http.ResponseWriter
	refresh   func() bool
	committed bool
	refreshed bool
	headerKey string
}

func (rw *refreshWriter) commit(status int) {
	if rw.committed {
		return
	}
	rw.committed = true
	if status >= http.StatusBadRequest {
		return
	}
	if rw.headerKey != "" && rw.Header().Get(rw.headerKey) != "" {
		return
	}
	rw.refreshed = rw.refresh()
}

func (rw *refreshWriter) WriteHeader(status int) {
	rw.commit(status)
	rw.ResponseWriter.WriteHeader(status)
}

func (rw *refreshWriter) Write(b []byte) (int, error) {
	rw.commit(http.StatusOK)
	return rw.ResponseWriter.Write(b)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (rw *refreshWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// authenticate runs the gate's checks and returns the admitted principal.
func (s *Server) authenticate(r *http.Request) (*auth.User, *auth.CustomClaims, string, error) {
	token, carrier := extractToken(r, s.extractors)
	if token == "" {
		return nil, nil, "", auth.ErrNoToken
	}

	claims, err := s.tokens.Verify(token)
	if err != nil {
		return nil, nil, carrier, err
	}

	principal, err := s.principals.LoadPrincipal(r.Context(), claims.Subject)
	if err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			return nil, nil, carrier, fmt.Errorf("%w: %s", auth.ErrPrincipalNotFound, claims.Subject)
		}
		return nil, nil, carrier, fmt.Errorf("loading principal: %w", err)
	}

	// An account without a password can only finish registration; setting
	// the first password also clears any forced change.
	if !principal.CredentialSet() {
		if r.URL.Path != completeRegistrationPath {
			return nil, nil, carrier, auth.ErrRegistrationIncomplete
		}
		return principal, claims, carrier, nil
	}
	if principal.PasswordChangeRequired && r.URL.Path != changePasswordPath {
		return nil, nil, carrier, auth.ErrPasswordChangeRequired
	}

	return principal, claims, carrier, nil
}

// refreshSession reissues the token when it is inside the refresh window.
// It never fails the request: errors and panics are logged and counted.
func (s *Server) refreshSession(w http.ResponseWriter, r *http.Request, claims *auth.CustomClaims) (refreshed bool) {
	if !s.tokens.ShouldRefresh(claims) {
		return false
	}

	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error("session refresh panicked",
				"error", rec,
				"user_id", claims.Subject,
				"request_id", requestIDFromContext(r.Context()),
			)
			s.metrics.RecordRefresh(false)
			refreshed = false
		}
	}()

	token, err := s.tokens.Issue(claims.Subject, claims.Role, claims.Permissions, 0)
	if err != nil {
		s.logger.Warn("session refresh failed",
			"error", err,
			"user_id", claims.Subject,
			"request_id", requestIDFromContext(r.Context()),
		)
		s.metrics.RecordRefresh(false)
		return false
	}

	s.setSession(w, token)
	s.metrics.RecordRefresh(true)
	s.logger.Debug("session refreshed", "user_id", claims.Subject)
	return true
}

// setSession attaches a token to the response as the session cookie and
// the session header.
func (s *Server) setSession(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.session.CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(s.session.CookieMaxAge.Seconds()),
		HttpOnly: true,
		Secure:   s.cookieSecure,
		SameSite: http.SameSiteStrictMode,
	})
	w.Header().Set(s.session.HeaderName, token)
}

// clearSession expires the session cookie.
func (s *Server) clearSession(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.session.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.cookieSecure,
		SameSite: http.SameSiteStrictMode,
	})
}

// authorize returns middleware admitting only principals that satisfy req.
// It must run after authMiddleware.
func (s *Server) authorize(req auth.Requirement) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := req.Check(principalFromContext(r.Context())); err != nil {
				_, code, _ := classifyError(err)
				s.metrics.RecordGateOutcome(code)
				s.respondError(w, r, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) recordGate(outcome, carrier string, refreshed bool) {
	s.metrics.RecordGateOutcome(outcome)
	if s.telemetry != nil {
		s.telemetry.WriteGateOutcome(outcome, carrier, refreshed)
	}
}

// principalFromContext returns the admitted principal, or nil outside the gate.
func principalFromContext(ctx context.Context) *auth.User {
	u, _ := ctx.Value(ctxKeyPrincipal).(*auth.User) //nolint:errcheck // nil on miss
	return u
}

// claimsFromContext returns the verified token claims, or nil outside the gate.
func claimsFromContext(ctx context.Context) *auth.CustomClaims {
	c, _ := ctx.Value(ctxKeyClaims).(*auth.CustomClaims) //nolint:errcheck // nil on miss
	return c
}
