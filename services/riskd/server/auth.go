package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"fluxrisk/crypto"
)

const (
	// ScopeVaultAdmin grants vault creation and authority operations.
	ScopeVaultAdmin = "vault:admin"
	// ScopeComplianceAdmin grants profile flag and role changes plus audit
	// reads.
	ScopeComplianceAdmin = "compliance:admin"
	// ScopeOracleAdmin grants operator price updates.
	ScopeOracleAdmin = "oracle:admin"
	// ScopeCustodyAdmin grants settlement balance top-ups.
	ScopeCustodyAdmin = "custody:admin"
)

// AuthConfig configures HMAC bearer token verification.
type AuthConfig struct {
	HMACSecret string
	Issuer     string
	Audience   string
	ScopeClaim string
	ClockSkew  time.Duration
}

type contextKey string

const (
	contextKeySubject contextKey = "riskd.subject"
	contextKeyScopes  contextKey = "riskd.scopes"
)

// Authenticator validates bearer tokens and enforces scopes. The token
// subject is the bech32 address acting as caller.
type Authenticator struct {
	cfg    AuthConfig
	secret []byte
	logger *slog.Logger
}

// NewAuthenticator constructs an authenticator. A blank secret rejects every
// token.
func NewAuthenticator(cfg AuthConfig, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ScopeClaim == "" {
		cfg.ScopeClaim = "scope"
	}
	if cfg.ClockSkew <= 0 {
		cfg.ClockSkew = 2 * time.Minute
	}
	return &Authenticator{cfg: cfg, secret: []byte(strings.TrimSpace(cfg.HMACSecret)), logger: logger}
}

// Middleware requires a valid token carrying every required scope.
func (a *Authenticator) Middleware(requiredScopes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString := extractBearer(r.Header.Get("Authorization"))
			if tokenString == "" {
				writeProblem(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
				return
			}
			claims, err := a.parseToken(tokenString)
			if err == nil {
				err = validateClaims(claims, a.cfg.Issuer, a.cfg.Audience)
			}
			if err != nil {
				a.logger.Warn("auth: token rejected", slog.String("path", r.URL.Path), slog.Any("error", err))
				writeProblem(w, http.StatusUnauthorized, "unauthorized", "invalid token")
				return
			}
			scopes := extractScopes(claims, a.cfg.ScopeClaim)
			if !hasScopes(scopes, requiredScopes) {
				writeProblem(w, http.StatusForbidden, "unauthorized", "insufficient scope")
				return
			}
			subject, _ := claims["sub"].(string)
			ctx := context.WithValue(r.Context(), contextKeySubject, strings.TrimSpace(subject))
			ctx = context.WithValue(ctx, contextKeyScopes, scopes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// callerFromContext decodes the authenticated subject as an address.
func callerFromContext(ctx context.Context) (crypto.Address, error) {
	subject, _ := ctx.Value(contextKeySubject).(string)
	if subject == "" {
		return crypto.Address{}, errors.New("token subject missing")
	}
	return crypto.DecodeAddress(subject)
}

func (a *Authenticator) parseToken(tokenString string) (jwt.MapClaims, error) {
	if len(a.secret) == 0 {
		return nil, errors.New("auth secret not configured")
	}
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwt.WithLeeway(a.cfg.ClockSkew))
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("token invalid")
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("claims not map")
	}
	return claims, nil
}

func validateClaims(claims jwt.MapClaims, issuer, audience string) error {
	if issuer != "" {
		if value, ok := claims["iss"].(string); !ok || value != issuer {
			return errors.New("issuer mismatch")
		}
	}
	if audience == "" {
		return nil
	}
	switch val := claims["aud"].(type) {
	case string:
		if val == audience {
			return nil
		}
	case []interface{}:
		for _, entry := range val {
			if s, ok := entry.(string); ok && s == audience {
				return nil
			}
		}
	}
	return errors.New("audience mismatch")
}

func extractScopes(claims jwt.MapClaims, scopeClaim string) []string {
	switch v := claims[scopeClaim].(type) {
	case string:
		return strings.Fields(v)
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, entry := range v {
			if s, ok := entry.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func hasScopes(scopes []string, required []string) bool {
	if len(required) == 0 {
		return true
	}
	set := make(map[string]struct{}, len(scopes))
	for _, scope := range scopes {
		set[scope] = struct{}{}
	}
	for _, req := range required {
		if _, ok := set[req]; !ok {
			return false
		}
	}
	return true
}

func extractBearer(header string) string {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
