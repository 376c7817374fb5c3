package api

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/facilityops/inspection-core/internal/auth"
	"github.com/facilityops/inspection-core/internal/infrastructure/config"
	"github.com/facilityops/inspection-core/internal/infrastructure/metrics"
)

const mePath = "/api/v1/auth/me"

func TestGate_NoToken(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, mePath, nil)
	expectError(t, rec, http.StatusUnauthorized, ErrCodeNoToken)

	if got := counterValue(env.metrics.GateOutcomes, ErrCodeNoToken); got != 1 {
		t.Errorf("NO_TOKEN outcomes = %v, want 1", got)
	}
}

func TestGate_InvalidToken(t *testing.T) {
	env := newTestEnv(t)
	user := env.createUser(t, "inspector@example.com", auth.RoleInspector, testPassword)

	foreignStore, err := auth.NewSecretStore([]byte("some-other-deployment-secret-0123456789"))
	if err != nil {
		t.Fatalf("NewSecretStore: %v", err)
	}
	foreign, err := auth.NewTokenService(foreignStore, auth.TokenConfig{}).IssueFor(user)
	if err != nil {
		t.Fatalf("IssueFor: %v", err)
	}

	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.CustomClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(time.Now().Add(-2 * time.Hour)),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
		Role: user.Role,
	})
	expiredToken, err := expired.SignedString(env.store.Current().Value)
	if err != nil {
		t.Fatalf("signing expired token: %v", err)
	}

	tests := map[string]string{
		"garbage":        "not-a-jwt",
		"foreign secret": foreign,
		"expired":        expiredToken,
	}
	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			rec := env.do(t, http.MethodGet, mePath, nil, bearer(token))
			expectError(t, rec, http.StatusUnauthorized, ErrCodeInvalidToken)
		})
	}
}

func TestGate_PreviousSecretAccepted(t *testing.T) {
	env := newTestEnv(t)
	user := env.createUser(t, "inspector@example.com", auth.RoleInspector, testPassword)
	token := env.tokenFor(t, user)

	if err := env.store.Rotate(); err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if rec := env.do(t, http.MethodGet, mePath, nil, bearer(token)); rec.Code != http.StatusOK {
		t.Fatalf("after one rotation status = %d, want 200", rec.Code)
	}

	if err := env.store.Rotate(); err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	rec := env.do(t, http.MethodGet, mePath, nil, bearer(token))
	expectError(t, rec, http.StatusUnauthorized, ErrCodeInvalidToken)
}

func TestGate_PrincipalNotFound(t *testing.T) {
	env := newTestEnv(t)
	user := env.createUser(t, "gone@example.com", auth.RoleInspector, testPassword)
	token := env.tokenFor(t, user)

	if err := env.users.Delete(t.Context(), user.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	rec := env.do(t, http.MethodGet, mePath, nil, bearer(token))
	expectError(t, rec, http.StatusNotFound, ErrCodePrincipalNotFound)
}

func TestGate_RegistrationIncomplete(t *testing.T) {
	env := newTestEnv(t)
	invited := env.createUser(t, "invited@example.com", auth.RoleInspector, "")
	token := env.tokenFor(t, invited)

	rec := env.do(t, http.MethodGet, mePath, nil, bearer(token))
	expectError(t, rec, http.StatusForbidden, ErrCodeRegistrationIncomplete)

	// The change-password exemption does not cover registration.
	rec = env.do(t, http.MethodPost, changePasswordPath, changePasswordRequest{
		CurrentPassword: "x", NewPassword: "y",
	}, bearer(token))
	expectError(t, rec, http.StatusForbidden, ErrCodeRegistrationIncomplete)

	rec = env.do(t, http.MethodPost, completeRegistrationPath, completeRegistrationRequest{
		Password: testPassword,
	}, bearer(token))
	if rec.Code != http.StatusOK {
		t.Fatalf("complete-registration status = %d, body %s", rec.Code, rec.Body.String())
	}

	if rec := env.do(t, http.MethodGet, mePath, nil, bearer(token)); rec.Code != http.StatusOK {
		t.Errorf("after registration status = %d, want 200", rec.Code)
	}
}

func TestGate_PasswordChangeRequired(t *testing.T) {
	env := newTestEnv(t)
	user := env.createUser(t, "forced@example.com", auth.RoleAdmin, testPassword)
	if err := env.users.SetPasswordChangeRequired(t.Context(), user.ID, true); err != nil {
		t.Fatalf("SetPasswordChangeRequired: %v", err)
	}
	token := env.tokenFor(t, user)

	rec := env.do(t, http.MethodGet, mePath, nil, bearer(token))
	expectError(t, rec, http.StatusForbidden, ErrCodePasswordChangeRequired)

	// Admin role does not bypass the precondition.
	rec = env.do(t, http.MethodGet, "/api/v1/users", nil, bearer(token))
	expectError(t, rec, http.StatusForbidden, ErrCodePasswordChangeRequired)

	// Registration is exempt only at its own path.
	rec = env.do(t, http.MethodPost, completeRegistrationPath, completeRegistrationRequest{Password: "another-password"}, bearer(token))
	expectError(t, rec, http.StatusForbidden, ErrCodePasswordChangeRequired)

	rec = env.do(t, http.MethodPost, changePasswordPath, changePasswordRequest{
		CurrentPassword: testPassword,
		NewPassword:     "a-brand-new-password",
	}, bearer(token))
	if rec.Code != http.StatusOK {
		t.Fatalf("change-password status = %d, body %s", rec.Code, rec.Body.String())
	}

	if rec := env.do(t, http.MethodGet, mePath, nil, bearer(token)); rec.Code != http.StatusOK {
		t.Errorf("after change status = %d, want 200", rec.Code)
	}
}

func TestGate_InvitedAccountWithForcedChange(t *testing.T) {
	env := newTestEnv(t)
	invited := env.createUser(t, "invited@example.com", auth.RoleInspector, "")
	if err := env.users.SetPasswordChangeRequired(t.Context(), invited.ID, true); err != nil {
		t.Fatalf("SetPasswordChangeRequired: %v", err)
	}
	token := env.tokenFor(t, invited)

	rec := env.do(t, http.MethodGet, mePath, nil, bearer(token))
	expectError(t, rec, http.StatusForbidden, ErrCodeRegistrationIncomplete)

	rec = env.do(t, http.MethodPost, changePasswordPath, changePasswordRequest{
		CurrentPassword: "",
		NewPassword:     "a-brand-new-password",
	}, bearer(token))
	expectError(t, rec, http.StatusForbidden, ErrCodeRegistrationIncomplete)

	rec = env.do(t, http.MethodPost, completeRegistrationPath, completeRegistrationRequest{Password: testPassword}, bearer(token))
	if rec.Code != http.StatusOK {
		t.Fatalf("complete-registration status = %d, body %s", rec.Code, rec.Body.String())
	}
	var session sessionResponse
	decodeJSON(t, rec, &session)
	if session.PasswordChangeRequired {
		t.Error("session response should report the forced change as cleared")
	}

	got, err := env.users.GetByID(t.Context(), invited.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if !got.CredentialSet() || got.PasswordChangeRequired {
		t.Errorf("after registration CredentialSet=%v PasswordChangeRequired=%v, want true/false",
			got.CredentialSet(), got.PasswordChangeRequired)
	}
	if rec := env.do(t, http.MethodGet, mePath, nil, bearer(token)); rec.Code != http.StatusOK {
		t.Errorf("after registration status = %d, want 200", rec.Code)
	}
}

func TestExtractToken_Precedence(t *testing.T) {
	extractors := defaultExtractors("inspect_session", "X-Session-Token")

	tests := []struct {
		name        string
		opts        []requestOption
		auth        string
		wantToken   string
		wantCarrier string
	}{
		{"all carriers", []requestOption{sessionCookie("c"), bearer("b"), sessionHeader("h")}, "", "c", "cookie"},
		{"bearer over header", []requestOption{bearer("b"), sessionHeader("h")}, "", "b", "bearer"},
		{"header only", []requestOption{sessionHeader("h")}, "", "h", "header"},
		{"lower-case scheme", nil, "bearer lc", "lc", "bearer"},
		{"basic auth ignored", []requestOption{sessionHeader("h")}, "Basic dXNlcjpwYXNz", "h", "header"},
		{"empty cookie skipped", []requestOption{sessionCookie(""), sessionHeader("h")}, "", "h", "header"},
		{"nothing", nil, "", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, mePath, nil)
			for _, opt := range tt.opts {
				opt(req)
			}
			if tt.auth != "" {
				req.Header.Set("Authorization", tt.auth)
			}

			token, carrier := extractToken(req, extractors)
			if token != tt.wantToken || carrier != tt.wantCarrier {
				t.Errorf("extractToken() = (%q, %q), want (%q, %q)", token, carrier, tt.wantToken, tt.wantCarrier)
			}
		})
	}
}

func TestGate_FirstCarrierWinsWithoutFallback(t *testing.T) {
	env := newTestEnv(t)
	user := env.createUser(t, "inspector@example.com", auth.RoleInspector, testPassword)
	token := env.tokenFor(t, user)

	rec := env.do(t, http.MethodGet, mePath, nil, sessionCookie("stale"), bearer(token))
	expectError(t, rec, http.StatusUnauthorized, ErrCodeInvalidToken)

	rec = env.do(t, http.MethodGet, mePath, nil, sessionHeader(token))
	if rec.Code != http.StatusOK {
		t.Fatalf("header carrier status = %d, want 200", rec.Code)
	}
	if got := env.telemetry.last(); got.outcome != outcomeAdmitted || got.carrier != "header" {
		t.Errorf("telemetry = %+v, want admitted via header", got)
	}
}

func TestGate_TransparentRefresh(t *testing.T) {
	env := newTestEnv(t)
	user := env.createUser(t, "inspector@example.com", auth.RoleInspector, testPassword)

	nearExpiry, err := env.tokens.Issue(user.ID, user.Role, auth.EffectivePermissions(user), 10*time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	rec := env.do(t, http.MethodGet, mePath, nil, bearer(nearExpiry))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	cookie := responseCookie(rec, "inspect_session")
	if cookie == nil {
		t.Fatal("no refreshed session cookie")
	}
	if !cookie.HttpOnly || !cookie.Secure || cookie.SameSite != http.SameSiteStrictMode {
		t.Errorf("cookie flags HttpOnly=%v Secure=%v SameSite=%v", cookie.HttpOnly, cookie.Secure, cookie.SameSite)
	}
	if cookie.MaxAge != int((24 * time.Hour).Seconds()) {
		t.Errorf("cookie MaxAge = %d, want 86400", cookie.MaxAge)
	}
	if header := rec.Header().Get("X-Session-Token"); header != cookie.Value {
		t.Errorf("header token differs from cookie token")
	}

	claims, err := env.tokens.Verify(cookie.Value)
	if err != nil {
		t.Fatalf("refreshed token does not verify: %v", err)
	}
	if claims.Subject != user.ID || claims.Role != user.Role {
		t.Errorf("refreshed claims = %s/%s, want %s/%s", claims.Subject, claims.Role, user.ID, user.Role)
	}
	if remaining := time.Until(claims.ExpiresAt.Time); remaining < 23*time.Hour {
		t.Errorf("refreshed token remaining = %v, want about 24h", remaining)
	}

	if got := counterValue(env.metrics.TokenRefreshes, metrics.ResultSuccess); got != 1 {
		t.Errorf("successful refreshes = %v, want 1", got)
	}
	if got := env.telemetry.last(); !got.refreshed || got.carrier != "bearer" {
		t.Errorf("telemetry = %+v, want refreshed via bearer", got)
	}
}

func TestGate_NoRefreshForFreshToken(t *testing.T) {
	env := newTestEnv(t)
	user := env.createUser(t, "inspector@example.com", auth.RoleInspector, testPassword)

	rec := env.do(t, http.MethodGet, mePath, nil, bearer(env.tokenFor(t, user)))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Header().Get("X-Session-Token") != "" || responseCookie(rec, "inspect_session") != nil {
		t.Error("fresh token should not be refreshed")
	}
}

func TestGate_NoRefreshWhenDenied(t *testing.T) {
	env := newTestEnv(t)
	owner := env.createUser(t, "owner@example.com", auth.RoleEntrepreneur, testPassword)

	nearExpiry, err := env.tokens.Issue(owner.ID, owner.Role, auth.EffectivePermissions(owner), 10*time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	rec := env.do(t, http.MethodGet, "/api/v1/users", nil, bearer(nearExpiry))
	expectError(t, rec, http.StatusForbidden, ErrCodeAccessDenied)

	if rec.Header().Get("X-Session-Token") != "" || responseCookie(rec, "inspect_session") != nil {
		t.Error("denied request must not carry a refreshed session")
	}
	if got := counterValue(env.metrics.TokenRefreshes, metrics.ResultSuccess); got != 0 {
		t.Errorf("successful refreshes = %v, want 0", got)
	}
	if p := env.telemetry.last(); p.refreshed {
		t.Errorf("telemetry point = %+v, want refreshed=false", p)
	}
}

func TestGate_CookieNotSecureOverHTTP(t *testing.T) {
	env := newTestEnv(t, withBaseURL("http://localhost:8080"))
	user := env.createUser(t, "inspector@example.com", auth.RoleInspector, testPassword)

	nearExpiry, err := env.tokens.Issue(user.ID, user.Role, nil, 5*time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	rec := env.do(t, http.MethodGet, mePath, nil, bearer(nearExpiry))

	cookie := responseCookie(rec, "inspect_session")
	if cookie == nil {
		t.Fatal("no refreshed session cookie")
	}
	if cookie.Secure {
		t.Error("cookie should not be Secure for an http base URL")
	}
}

// brokenIssuer verifies with the real service but cannot issue tokens.
type brokenIssuer struct {
	*auth.TokenService
	panics bool
}

func (b brokenIssuer) Issue(string, auth.Role, []auth.Permission, time.Duration) (string, error) {
	if b.panics {
		panic("signer unavailable")
	}
	return "", errors.New("signer unavailable")
}

func TestGate_RefreshFailureDoesNotFailRequest(t *testing.T) {
	for _, panics := range []bool{false, true} {
		name := "error"
		if panics {
			name = "panic"
		}
		t.Run(name, func(t *testing.T) {
			env := newTestEnv(t, func(_ *config.Config, deps *Deps) {
				deps.Tokens = brokenIssuer{TokenService: deps.Tokens.(*auth.TokenService), panics: panics}
			})
			user := env.createUser(t, "inspector@example.com", auth.RoleInspector, testPassword)

			nearExpiry, err := env.tokens.Issue(user.ID, user.Role, nil, 10*time.Minute)
			if err != nil {
				t.Fatalf("Issue: %v", err)
			}

			rec := env.do(t, http.MethodGet, mePath, nil, bearer(nearExpiry))
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200 despite refresh failure", rec.Code)
			}
			if rec.Header().Get("X-Session-Token") != "" {
				t.Error("no token header expected after failed refresh")
			}
			if got := counterValue(env.metrics.TokenRefreshes, metrics.ResultFailure); got != 1 {
				t.Errorf("failed refreshes = %v, want 1", got)
			}
		})
	}
}

func TestAuthorize_RoleRequirement(t *testing.T) {
	env := newTestEnv(t)
	admin := env.createUser(t, "admin@example.com", auth.RoleAdmin, testPassword)
	owner := env.createUser(t, "owner@example.com", auth.RoleEntrepreneur, testPassword)

	rec := env.do(t, http.MethodGet, "/api/v1/users", nil, bearer(env.tokenFor(t, owner)))
	expectError(t, rec, http.StatusForbidden, ErrCodeAccessDenied)

	if rec := env.do(t, http.MethodGet, "/api/v1/users", nil, bearer(env.tokenFor(t, admin))); rec.Code != http.StatusOK {
		t.Errorf("admin status = %d, want 200", rec.Code)
	}
	if got := counterValue(env.metrics.GateOutcomes, ErrCodeAccessDenied); got != 1 {
		t.Errorf("ACCESS_DENIED outcomes = %v, want 1", got)
	}
}

func TestAuthorize_PermissionRequirement(t *testing.T) {
	env := newTestEnv(t)
	inspector := env.createUser(t, "inspector@example.com", auth.RoleInspector, testPassword)
	auditor := &auth.User{
		Email:        "auditor@example.com",
		DisplayName:  "Auditor",
		Role:         auth.RoleInspector,
		Permissions:  []auth.Permission{auth.PermAuditRead},
		PasswordHash: inspector.PasswordHash,
	}
	if err := env.users.Create(t.Context(), auditor); err != nil {
		t.Fatalf("Create: %v", err)
	}

	rec := env.do(t, http.MethodGet, "/api/v1/audit", nil, bearer(env.tokenFor(t, inspector)))
	expectError(t, rec, http.StatusForbidden, ErrCodeAccessDenied)

	if rec := env.do(t, http.MethodGet, "/api/v1/audit", nil, bearer(env.tokenFor(t, auditor))); rec.Code != http.StatusOK {
		t.Errorf("granted inspector status = %d, want 200", rec.Code)
	}
}

func TestAuthorize_NoPrincipal(t *testing.T) {
	env := newTestEnv(t)

	h := env.srv.authorize(auth.RequireRoles(auth.RoleAdmin))(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		t.Error("handler reached without a principal")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/users", nil))
	expectError(t, rec, http.StatusForbidden, ErrCodeNoPrincipal)
}
