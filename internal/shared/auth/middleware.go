package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/integrity-line/platform/internal/shared/config"
	"github.com/integrity-line/platform/internal/shared/errors"
	"github.com/integrity-line/platform/internal/shared/types"
)

type contextKey string

const (
	PrincipalContextKey contextKey = "principal"
)

// Claims are the JWT claims staff tokens carry. The subject is the
// principal ID; permissions are never embedded and are resolved per request.
type Claims struct {
	jwt.RegisteredClaims
	SessionID string `json:"session_id,omitempty"`
}

// Checker answers permission questions for a principal.
type Checker interface {
	Authorize(ctx context.Context, principalID types.ID, permission string) error
}

// Middleware creates JWT authentication middleware
func Middleware(cfg config.AuthConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Extract token from Authorization header
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeError(w, errors.Unauthorized("missing authorization header"))
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
				writeError(w, errors.Unauthorized("invalid authorization header format"))
				return
			}

			principalID, err := ParseToken(cfg, parts[1])
			if err != nil {
				writeError(w, err)
				return
			}

			ctx := WithPrincipal(r.Context(), principalID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ParseToken validates a bearer token and returns its principal ID.
func ParseToken(cfg config.AuthConfig, tokenString string) (types.ID, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(cfg.JWTSecret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(cfg.Issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !token.Valid {
		return "", errors.Unauthorized("invalid token")
	}

	id, err := types.ParseID(claims.Subject)
	if err != nil {
		return "", errors.Unauthorized("invalid token subject")
	}
	return id, nil
}

// IssueToken signs a staff token for principalID.
func IssueToken(cfg config.AuthConfig, principalID types.ID, now time.Time) (string, error) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   principalID.String(),
			Issuer:    cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(cfg.TokenTTL)),
		},
		SessionID: types.NewID().String(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(cfg.JWTSecret))
}

// WithPrincipal stores the authenticated principal on ctx.
func WithPrincipal(ctx context.Context, principalID types.ID) context.Context {
	return context.WithValue(ctx, PrincipalContextKey, principalID)
}

// GetPrincipal extracts the principal ID from request context
func GetPrincipal(ctx context.Context) (types.ID, bool) {
	id, ok := ctx.Value(PrincipalContextKey).(types.ID)
	return id, ok && !id.IsZero()
}

// RequirePermission creates middleware that requires a specific permission
func RequirePermission(checker Checker, permission string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principalID, ok := GetPrincipal(r.Context())
			if !ok {
				writeError(w, errors.Unauthorized("authentication required"))
				return
			}

			if err := checker.Authorize(r.Context(), principalID, permission); err != nil {
				writeError(w, err)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func writeError(w http.ResponseWriter, err error) {
	appErr, ok := errors.As(err)
	if !ok {
		appErr = errors.Internal(err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(appErr.HTTPStatus)
	json.NewEncoder(w).Encode(map[string]any{
		"error":   appErr.Message,
		"code":    appErr.Code,
		"details": appErr.Details,
	})
}
