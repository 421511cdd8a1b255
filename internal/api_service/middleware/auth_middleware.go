package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// ContextKey is a custom type for context keys to avoid collisions.
type ContextKey string

// AuthenticatedTenantContextKey holds the AuthenticatedTenant for a request.
const AuthenticatedTenantContextKey = ContextKey("authenticatedTenant")

// AuthenticatedTenant is the caller identity resolved from a bearer token.
type AuthenticatedTenant struct {
	CompanyID int64
	Subject   string
	IsAdmin   bool
}

type tenantClaims struct {
	CompanyID int64 `json:"company_id"`
	IsAdmin   bool  `json:"is_admin"`
	jwt.RegisteredClaims
}

// Auth validates the Authorization bearer JWT and stores the tenant identity
// on the request context.
func Auth(secret string, logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				unauthorized(w, "authorization header required")
				return
			}
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				unauthorized(w, "invalid authorization header format")
				return
			}

			claims := &tenantClaims{}
			token, err := jwt.ParseWithClaims(parts[1], claims, func(t *jwt.Token) (any, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, errors.New("unexpected signing method")
				}
				return []byte(secret), nil
			})
			if err != nil || !token.Valid {
				logger.WarnContext(r.Context(), "token validation failed", "error", err)
				unauthorized(w, "invalid or expired token")
				return
			}

			tenant := AuthenticatedTenant{
				CompanyID: claims.CompanyID,
				Subject:   claims.Subject,
				IsAdmin:   claims.IsAdmin,
			}
			ctx := context.WithValue(r.Context(), AuthenticatedTenantContextKey, tenant)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdmin rejects non-admin callers; must run after Auth.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenant, ok := TenantFrom(r.Context())
		if !ok || !tenant.IsAdmin {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusForbidden)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "admin access required"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// TenantFrom extracts the authenticated tenant from a context.
func TenantFrom(ctx context.Context) (AuthenticatedTenant, bool) {
	tenant, ok := ctx.Value(AuthenticatedTenantContextKey).(AuthenticatedTenant)
	return tenant, ok
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
