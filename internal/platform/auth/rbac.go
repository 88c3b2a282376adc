package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// Staff roles. Admin passes every role check.
const (
	RoleAdmin        = "admin"
	RoleDoctor       = "doctor"
	RoleLabTech      = "lab_tech"
	RoleReceptionist = "receptionist"
)

// ValidRole reports whether r is a known staff role.
func ValidRole(r string) bool {
	switch r {
	case RoleAdmin, RoleDoctor, RoleLabTech, RoleReceptionist:
		return true
	}
	return false
}

// RequireRole returns middleware that checks if the actor has at least one
// of the given roles.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			actorRole := RoleFromContext(c.Request().Context())
			if actorRole == RoleAdmin {
				return next(c)
			}
			for _, required := range roles {
				if actorRole == required {
					return next(c)
				}
			}
			return echo.NewHTTPError(http.StatusForbidden,
				fmt.Sprintf("required role: %s", strings.Join(roles, " or ")))
		}
	}
}
