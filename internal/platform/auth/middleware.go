package auth

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

type contextKey string

const (
	ActorIDKey   contextKey = "actor_id"
	ActorNameKey contextKey = "actor_name"
	ActorRoleKey contextKey = "actor_role"
)

// Claims is the token payload for laboratory staff. Subject carries the
// user id.
type Claims struct {
	jwt.RegisteredClaims
	Name string `json:"name"`
	Role string `json:"role"`
}

// TokenIssuer signs access tokens for authenticated users.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
}

func NewTokenIssuer(secret []byte, ttl time.Duration) *TokenIssuer {
	return &TokenIssuer{secret: secret, ttl: ttl}
}

// Issue returns a signed HS256 token for the given actor.
func (i *TokenIssuer) Issue(userID, name, role string) (string, error) {
	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
		Name: name,
		Role: role,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(i.secret)
}

func parseBearer(authHeader string, secret []byte) (*Claims, error) {
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return nil, echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization format")
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(parts[1], claims, func(t *jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil || !token.Valid {
		return nil, echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
	}
	return claims, nil
}

func withActorClaims(c echo.Context, claims *Claims) {
	ctx := c.Request().Context()
	ctx = context.WithValue(ctx, ActorIDKey, claims.Subject)
	ctx = context.WithValue(ctx, ActorNameKey, claims.Name)
	ctx = context.WithValue(ctx, ActorRoleKey, claims.Role)
	c.SetRequest(c.Request().WithContext(ctx))
}

// JWTMiddleware validates the Authorization bearer token and places the
// actor's id, name and role on the request context.
func JWTMiddleware(secret []byte) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
			}

			claims, err := parseBearer(authHeader, secret)
			if err != nil {
				return err
			}
			withActorClaims(c, claims)

			return next(c)
		}
	}
}

// OptionalJWTMiddleware resolves the actor when a bearer token is sent but
// lets anonymous requests through. Login and bootstrap registration need no
// credentials, while admin registration of further accounts carries a token
// the service checks the role of.
func OptionalJWTMiddleware(secret []byte) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if authHeader := c.Request().Header.Get("Authorization"); authHeader != "" {
				claims, err := parseBearer(authHeader, secret)
				if err != nil {
					return err
				}
				withActorClaims(c, claims)
			}
			return next(c)
		}
	}
}

// DevAuthMiddleware is a permissive middleware for development that gives
// unauthenticated requests admin access.
func DevAuthMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if c.Request().Header.Get("Authorization") == "" {
				ctx := c.Request().Context()
				ctx = context.WithValue(ctx, ActorIDKey, "dev-user")
				ctx = context.WithValue(ctx, ActorNameKey, "Dev User")
				ctx = context.WithValue(ctx, ActorRoleKey, "admin")
				c.SetRequest(c.Request().WithContext(ctx))
			}
			return next(c)
		}
	}
}

func ActorIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(ActorIDKey).(string)
	return id
}

func ActorNameFromContext(ctx context.Context) string {
	name, _ := ctx.Value(ActorNameKey).(string)
	return name
}

func RoleFromContext(ctx context.Context) string {
	role, _ := ctx.Value(ActorRoleKey).(string)
	return role
}
