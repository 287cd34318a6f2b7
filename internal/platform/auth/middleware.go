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
	UserIDKey     contextKey = "staff_id"
	UserRolesKey  contextKey = "staff_roles"
	DepartmentKey contextKey = "staff_department"
)

// Clinical staff roles.
const (
	RoleDoctor  = "doctor"
	RoleNurse   = "nurse"
	RoleBilling = "billing"
	RoleAdmin   = "admin"
)

type Claims struct {
	jwt.RegisteredClaims
	Department string   `json:"department"`
	Roles      []string `json:"roles"`
}

type JWTConfig struct {
	Issuer     string
	Audience   string
	SigningKey []byte
}

// JWTMiddleware validates an HS256 bearer token and puts the staff identity
// on the request context. The subject claim is the staff id used for
// referral ownership.
func JWTMiddleware(cfg JWTConfig) echo.MiddlewareFunc {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256"})}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	keyFunc := func(*jwt.Token) (interface{}, error) { return cfg.SigningKey, nil }

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
			}
			scheme, tokenStr, ok := strings.Cut(authHeader, " ")
			if !ok || !strings.EqualFold(scheme, "bearer") {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization format")
			}

			claims := &Claims{}
			token, err := jwt.ParseWithClaims(tokenStr, claims, keyFunc, opts...)
			if err != nil || !token.Valid {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}
			if claims.Subject == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "token has no subject")
			}

			c.SetRequest(c.Request().WithContext(WithStaff(c.Request().Context(), claims.Subject, claims.Department, claims.Roles)))
			return next(c)
		}
	}
}

// DevAuthMiddleware trusts the X-Staff-ID header and grants admin. For local
// development only.
func DevAuthMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			staff := c.Request().Header.Get("X-Staff-ID")
			if staff == "" {
				staff = "dev-doctor"
			}
			ctx := WithStaff(c.Request().Context(), staff, c.Request().Header.Get("X-Department"), []string{RoleAdmin})
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

// WithStaff returns ctx carrying the given staff identity.
func WithStaff(ctx context.Context, staffID, department string, roles []string) context.Context {
	ctx = context.WithValue(ctx, UserIDKey, staffID)
	ctx = context.WithValue(ctx, DepartmentKey, department)
	return context.WithValue(ctx, UserRolesKey, roles)
}

func UserIDFromContext(ctx context.Context) string {
	uid, _ := ctx.Value(UserIDKey).(string)
	return uid
}

func DepartmentFromContext(ctx context.Context) string {
	d, _ := ctx.Value(DepartmentKey).(string)
	return d
}

func RolesFromContext(ctx context.Context) []string {
	roles, _ := ctx.Value(UserRolesKey).([]string)
	return roles
}
