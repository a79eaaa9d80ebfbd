package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

type contextKey string

const (
	UserIDKey    contextKey = "user_id"
	UserRolesKey contextKey = "user_roles"
	TenantIDKey  contextKey = "tenant_id"
)

// Roles authorized to run privileged integration operations.
const (
	RoleAdmin              = "ADMIN"
	RoleIntegrationManager = "INTEGRATION_MANAGER"
)

type Claims struct {
	jwt.RegisteredClaims
	TenantID string   `json:"tenant_id"`
	Roles    []string `json:"roles"`
}

type JWTConfig struct {
	Issuer     string
	Audience   string
	SigningKey []byte
}

// JWTMiddleware validates HS256 bearer tokens and stores the caller's
// identity, tenant, and roles on the request context.
func JWTMiddleware(cfg JWTConfig) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization format")
			}

			opts := []jwt.ParserOption{
				jwt.WithValidMethods([]string{"HS256"}),
			}
			if cfg.Issuer != "" {
				opts = append(opts, jwt.WithIssuer(cfg.Issuer))
			}
			if cfg.Audience != "" {
				opts = append(opts, jwt.WithAudience(cfg.Audience))
			}

			claims := &Claims{}
			token, err := jwt.ParseWithClaims(parts[1], claims, func(t *jwt.Token) (interface{}, error) {
				return cfg.SigningKey, nil
			}, opts...)
			if err != nil || !token.Valid {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}

			ctx := c.Request().Context()
			ctx = context.WithValue(ctx, UserIDKey, claims.Subject)
			ctx = context.WithValue(ctx, UserRolesKey, claims.Roles)
			ctx = context.WithValue(ctx, TenantIDKey, claims.TenantID)
			c.SetRequest(c.Request().WithContext(ctx))

			return next(c)
		}
	}
}

// DevAuthMiddleware is a permissive middleware for development that grants
// unauthenticated requests an admin identity.
func DevAuthMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			ctx = context.WithValue(ctx, UserIDKey, "dev-user")
			ctx = context.WithValue(ctx, UserRolesKey, []string{RoleAdmin})
			ctx = context.WithValue(ctx, TenantIDKey, "default")
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

// Principal is the authenticated caller extracted from a request context.
type Principal struct {
	UserID   string
	TenantID string
	Roles    []string
}

// PrincipalFromContext reads the caller identity set by JWTMiddleware.
func PrincipalFromContext(ctx context.Context) Principal {
	p := Principal{}
	if v, ok := ctx.Value(UserIDKey).(string); ok {
		p.UserID = v
	}
	if v, ok := ctx.Value(TenantIDKey).(string); ok {
		p.TenantID = v
	}
	if v, ok := ctx.Value(UserRolesKey).([]string); ok {
		p.Roles = v
	}
	return p
}

// HasRole reports whether the principal carries any of the given roles.
func (p Principal) HasRole(roles ...string) bool {
	for _, role := range roles {
		for _, have := range p.Roles {
			if have == role {
				return true
			}
		}
	}
	return false
}
