package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Token lifetime defaults.
const (
	// DefaultTokenTTL is the lifetime of a freshly issued session token.
	DefaultTokenTTL = 24 * time.Hour

	// DefaultRefreshThreshold is the remaining lifetime below which a token
	// is reissued transparently.
	DefaultRefreshThreshold = 15 * time.Minute
)

// CustomClaims extends JWT standard claims with the principal's role and permissions.
type CustomClaims struct {
	jwt.RegisteredClaims
	Role        Role         `json:"role"`
	Permissions []Permission `json:"perms,omitempty"`
}

// TokenConfig holds TokenService settings. Zero values select the defaults.
type TokenConfig struct {
	TTL              time.Duration
	RefreshThreshold time.Duration
}

// TokenService issues and verifies session tokens against a SecretStore.
type TokenService struct {
	secrets          *SecretStore
	ttl              time.Duration
	refreshThreshold time.Duration
	now              func() time.Time
}

// NewTokenService creates a token service signing with the store's current secret.
func NewTokenService(secrets *SecretStore, cfg TokenConfig) *TokenService {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTokenTTL
	}
	if cfg.RefreshThreshold <= 0 {
		cfg.RefreshThreshold = DefaultRefreshThreshold
	}
	return &TokenService{
		secrets:          secrets,
		ttl:              cfg.TTL,
		refreshThreshold: cfg.RefreshThreshold,
		now:              time.Now,
	}
}

// TTL returns the lifetime given to newly issued session tokens.
func (t *TokenService) TTL() time.Duration {
	return t.ttl
}

// Issue signs a token for the subject with the current secret.
// A non-positive ttl selects the service's configured TTL.
func (t *TokenService) Issue(subjectID string, role Role, permissions []Permission, ttl time.Duration) (string, error) {
	if subjectID == "" {
		return "", fmt.Errorf("issuing token: empty subject")
	}
	if ttl <= 0 {
		ttl = t.ttl
	}

	now := t.now()
	claims := CustomClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subjectID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
		Role:        role,
		Permissions: permissions,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secrets.Current().Value)
	if err != nil {
		return "", fmt.Errorf("signing session token: %w", err)
	}
	return signed, nil
}

// IssueFor signs a full-lifetime token carrying the user's role and
// effective permissions.
func (t *TokenService) IssueFor(user *User) (string, error) {
	return t.Issue(user.ID, user.Role, EffectivePermissions(user), t.ttl)
}

// Verify checks the token against every active secret, newest first, and
// returns the claims from the first secret whose signature matches.
//
// Every failure wraps ErrTokenInvalid: malformed input, an algorithm other
// than HS256, a signature no active secret produces, expiry, or missing
// subject/role claims.
func (t *TokenService) Verify(tokenString string) (*CustomClaims, error) {
	if tokenString == "" {
		return nil, fmt.Errorf("%w: empty token", ErrTokenInvalid)
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)

	var lastErr error
	for _, secret := range t.secrets.Active() {
		key := secret.Value
		claims := &CustomClaims{}
		token, err := parser.ParseWithClaims(tokenString, claims, func(_ *jwt.Token) (any, error) {
			return key, nil
		})
		if err != nil {
			if errors.Is(err, jwt.ErrTokenSignatureInvalid) {
				lastErr = err
				continue
			}
			return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
		}
		if !token.Valid {
			return nil, ErrTokenInvalid
		}
		return validateClaims(claims)
	}

	if lastErr == nil {
		lastErr = errors.New("no active secrets")
	}
	return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, lastErr)
}

// validateClaims checks the application-level fields the JWT library does not.
func validateClaims(claims *CustomClaims) (*CustomClaims, error) {
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrTokenInvalid)
	}
	if !IsValidRole(claims.Role) {
		return nil, fmt.Errorf("%w: unknown role %q", ErrTokenInvalid, claims.Role)
	}
	return claims, nil
}

// ShouldRefresh reports whether the token's remaining lifetime is strictly
// below the refresh threshold.
func (t *TokenService) ShouldRefresh(claims *CustomClaims) bool {
	if claims == nil || claims.ExpiresAt == nil {
		return false
	}
	return claims.ExpiresAt.Sub(t.now()) < t.refreshThreshold
}
